// Package testutil provides common constants and utilities for tests
package testutil

import "time"

const (
	// TestTimeout is the default timeout for test operations
	TestTimeout = 30 * time.Second

	// ShortTestTimeout is a shorter timeout for quick operations
	ShortTestTimeout = 5 * time.Second

	// PollInterval is the tick used with assert.Eventually
	PollInterval = 5 * time.Millisecond
)

// Common test values
const (
	// TestTable is the dataset table used by fixtures
	TestTable = "companies"

	// TestRowCap is a small cap that keeps truncation tests cheap
	TestRowCap = 5

	// TestMessagePath is the post endpoint advertised to test sessions
	TestMessagePath = "/message"
)
