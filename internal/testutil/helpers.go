package testutil

import (
	"sync"
	"testing"
)

// RunConcurrent starts n goroutines behind a shared barrier so they contend
// for the session table and worker queue at the same moment, then waits for
// all of them. A panic in any worker fails the test instead of the binary.
func RunConcurrent(t *testing.T, n int, fn func(workerID int)) {
	t.Helper()

	var (
		ready sync.WaitGroup
		done  sync.WaitGroup
	)

	start := make(chan struct{})

	ready.Add(n)
	done.Add(n)

	for i := range n {
		go func() {
			defer done.Done()
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("concurrent worker %d panicked: %v", i, r)
				}
			}()

			ready.Done()
			<-start
			fn(i)
		}()
	}

	ready.Wait()
	close(start)
	done.Wait()
}

// AssertNoRaces hammers fn from many goroutines at once. It only finds
// races when the package is tested with -race.
func AssertNoRaces(t *testing.T, fn func(), iterations int) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping concurrency stress in short mode")
	}

	RunConcurrent(t, iterations, func(int) { fn() })
}
