package formatter

import (
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/nest-mcp/internal/query"
	"github.com/kyleking/nest-mcp/internal/testutil"
	"github.com/kyleking/nest-mcp/internal/tools"
)

func TestMain(m *testing.M) {
	pterm.DisableStyling()
	os.Exit(m.Run())
}

func TestFormatter_FormatResultTable(t *testing.T) {
	formatter := NewFormatter()

	result := testutil.NewTestResult([]string{"name", "founded_year", "nace_codes", "revenue"},
		map[string]any{"name": "Volvo Cars AS", "founded_year": int64(2019), "nace_codes": []any{"29.100", "62.010"}, "revenue": 1250.5},
		map[string]any{"name": "Nordic Bygg AS", "founded_year": nil, "nace_codes": []any{}, "revenue": nil},
	)

	output, err := formatter.FormatResult(result, FormatTable)
	require.NoError(t, err)

	for _, expected := range []string{"name", "founded_year", "Volvo Cars AS", "2019", "29.100, 62.010", "1250.5", "Nordic Bygg AS", "2 rows"} {
		assert.Contains(t, output, expected)
	}

	assert.NotContains(t, output, "truncated")
}

func TestFormatter_FormatResultTruncated(t *testing.T) {
	result := testutil.NewTestResult([]string{"n"}, map[string]any{"n": int64(1)})
	result.Truncated = true

	output, err := NewFormatter().FormatResult(result, FormatTable)
	require.NoError(t, err)

	assert.Contains(t, output, "1 row (truncated at the row cap)")
}

func TestFormatter_FormatResultEmpty(t *testing.T) {
	output, err := NewFormatter().FormatResult(testutil.NewTestResult([]string{"name"}), FormatTable)
	require.NoError(t, err)

	assert.Equal(t, "No rows.", output)
}

func TestFormatter_FormatResultJSON(t *testing.T) {
	result := testutil.NewTestResult([]string{"name"}, map[string]any{"name": "Volvo Cars AS"})

	output, err := NewFormatter().FormatResult(result, FormatJSON)
	require.NoError(t, err)

	assert.JSONEq(t, `{"columns":["name"],"records":[{"name":"Volvo Cars AS"}],"row_count":1,"truncated":false}`, output)
}

func TestFormatter_FormatValue(t *testing.T) {
	formatter := NewFormatter()

	tests := []struct {
		name     string
		value    any
		expected string
	}{
		{"null", nil, "-"},
		{"string", "Oslo", "Oslo"},
		{"integer", int64(42), "42"},
		{"whole float", 3.0, "3"},
		{"fraction", 0.25, "0.25"},
		{"list", []any{"a", nil, int64(3)}, "a, -, 3"},
		{"map", map[string]any{"k": "v"}, `{"k":"v"}`},
		{"newline", "line one\nline two", "line one line two"},
		{"long", strings.Repeat("x", 100), strings.Repeat("x", maxCellWidth-3) + "..."},
		{"bool", true, "true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatter.formatValue(tt.value))
		})
	}
}

func TestFormatter_FormatError(t *testing.T) {
	formatter := NewFormatter()

	assert.Equal(t, "validation_error: query must not be empty",
		formatter.FormatError(&tools.ToolError{Code: tools.CodeValidation, Message: "query must not be empty"}))
	assert.Equal(t, "execution_error: query failed (reference: r-1)",
		formatter.FormatError(&tools.ToolError{Code: tools.CodeExecution, Message: "query failed", Reference: "r-1"}))
}

func TestFormatter_FormatTools(t *testing.T) {
	builder, err := query.NewBuilder(testutil.TestTable, testutil.TestRowCap)
	require.NoError(t, err)

	registry, err := tools.Default(testutil.NewMockExecutor(), builder)
	require.NoError(t, err)

	formatter := NewFormatter()

	output, err := formatter.FormatTools(registry.Descriptors(), FormatTable)
	require.NoError(t, err)

	assert.Contains(t, output, tools.RawSQLName)
	assert.Contains(t, output, "query*")
	assert.Contains(t, output, "founded_after, founded_before")

	output, err = formatter.FormatTools(registry.Descriptors(), FormatJSON)
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal([]byte(output), &decoded))
	assert.Len(t, decoded, 3)
}

func TestParseFormat(t *testing.T) {
	format, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatTable, format)

	format, err = ParseFormat(" JSON ")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, format)

	_, err = ParseFormat("yaml")
	assert.Error(t, err)
}
