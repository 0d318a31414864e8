package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/nest-mcp/internal/config"
	"github.com/kyleking/nest-mcp/internal/storage"
	"github.com/kyleking/nest-mcp/internal/testutil"
)

// seedDatabase writes a company table to a DuckDB file and returns its path
func seedDatabase(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "companies.duckdb")

	cfg := config.DefaultConfig()
	cfg.Database.Path = path
	cfg.Database.ReadOnly = false

	engine, err := storage.NewEngine(context.Background(), cfg)
	require.NoError(t, err)

	require.NoError(t, engine.CreateCompaniesTable(context.Background()))
	require.NoError(t, engine.InsertCompanies(context.Background(), []storage.Company{
		testutil.NewTestCompany("c1", "Volvo Cars AS", testutil.WithFounded(2019), testutil.WithEmployees(120)),
		testutil.NewTestCompany("c2", "Volvo Maskin AS", testutil.WithFounded(2021)),
		testutil.NewTestCompany("c3", "Nordic Bygg AS", testutil.WithFounded(2023)),
	}))
	require.NoError(t, engine.Close())

	return path
}

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()

	t.Setenv("NEST_MCP_CONFIG", filepath.Join(t.TempDir(), "missing.json"))
	t.Setenv("NEST_MCP_LOG_LEVEL", "error")

	var buf bytes.Buffer

	app := NewApp()
	app.Writer = &buf

	err := app.Run(context.Background(), append([]string{"nest-mcp"}, args...))

	return buf.String(), err
}

func TestToolsCommand(t *testing.T) {
	out, err := runApp(t, "tools", "--format", "json")
	require.NoError(t, err)

	var descriptors []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &descriptors))
	require.Len(t, descriptors, 3)
	assert.Equal(t, "company-search", descriptors[0]["name"])

	out, err = runApp(t, "tools")
	require.NoError(t, err)
	assert.Contains(t, out, "raw-sql")
	assert.Contains(t, out, "query*")

	_, err = runApp(t, "tools", "--format", "xml")
	assert.Error(t, err)
}

func TestCallCommand(t *testing.T) {
	db := seedDatabase(t)

	out, err := runApp(t, "--db-path", db, "call", "--quiet", "--format", "json", "company-search", `{"name":"Volvo"}`)
	require.NoError(t, err)

	var result storage.QueryResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 2, result.RowCount)
	assert.Equal(t, "Volvo Cars AS", result.Records[0]["name"])

	out, err = runApp(t, "--db-path", db, "call", "--quiet", "raw-sql", `{"query":"SELECT name, employees FROM companies WHERE employees IS NOT NULL"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "Volvo Cars AS")
	assert.Contains(t, out, "1 row")
}

func TestCallCommandFailures(t *testing.T) {
	db := seedDatabase(t)

	_, err := runApp(t, "--db-path", db, "call", "--quiet")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool name is required")

	_, err = runApp(t, "--db-path", db, "call", "--quiet", "company-search", `{}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema_violation")

	_, err = runApp(t, "--db-path", db, "call", "--quiet", "raw-sql", `{"query":"SELECT 1; SELECT 2"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation_error")

	_, err = runApp(t, "--db-path", db, "call", "--quiet", "raw-sql", `{"query":"DELETE FROM companies"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execution_error")
	assert.NotContains(t, err.Error(), "DELETE")
}

func TestRunServe(t *testing.T) {
	db := seedDatabase(t)

	cfg := config.DefaultConfig()
	cfg.Database.Path = db
	cfg.Logging.Level = "error"

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- runServe(ctx, cfg, ln)
	}()

	base := "http://" + ln.Addr().String()

	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/healthz")
		if err != nil {
			return false
		}
		defer resp.Body.Close()

		return resp.StatusCode == http.StatusOK
	}, testutil.ShortTestTimeout, 20*time.Millisecond)

	health, err := http.Get(base + "/healthz")
	require.NoError(t, err)

	var status map[string]any
	require.NoError(t, json.NewDecoder(health.Body).Decode(&status))
	health.Body.Close()
	assert.Contains(t, status, "memory")

	resp, err := http.Get(base + "/tools")
	require.NoError(t, err)

	var catalog struct {
		Tools []map[string]any `json:"tools"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&catalog))
	resp.Body.Close()
	assert.Len(t, catalog.Tools, 3)

	streamCtx, streamCancel := context.WithCancel(context.Background())
	defer streamCancel()

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, base+"/sse", nil)
	require.NoError(t, err)

	stream, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer stream.Body.Close()

	assert.Equal(t, "text/event-stream", stream.Header.Get("Content-Type"))

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err, "open streams must not block shutdown")
	case <-time.After(testutil.ShortTestTimeout):
		t.Fatal("server did not shut down")
	}
}
