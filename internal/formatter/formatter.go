package formatter

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pterm/pterm"

	"github.com/kyleking/nest-mcp/internal/storage"
	"github.com/kyleking/nest-mcp/internal/tools"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
)

// maxCellWidth bounds table cells so wide text columns stay readable
const maxCellWidth = 60

// ParseFormat validates a user-supplied format name
func ParseFormat(name string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(strings.TrimSpace(name))) {
	case FormatTable, "":
		return FormatTable, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want table or json)", name)
	}
}

// Formatter renders tool results and the tool catalog for the terminal
type Formatter struct{}

// NewFormatter creates a new formatter instance
func NewFormatter() *Formatter {
	return &Formatter{}
}

// FormatResult renders a query result in the given format
func (f *Formatter) FormatResult(result *storage.QueryResult, format OutputFormat) (string, error) {
	if format == FormatJSON {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to encode result: %w", err)
		}

		return string(data), nil
	}

	if len(result.Records) == 0 {
		return "No rows.", nil
	}

	data := pterm.TableData{result.Columns}

	for _, record := range result.Records {
		row := make([]string, len(result.Columns))
		for i, column := range result.Columns {
			row[i] = f.formatValue(record[column])
		}

		data = append(data, row)
	}

	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return "", fmt.Errorf("failed to render table: %w", err)
	}

	return table + "\n" + f.summary(result), nil
}

// FormatError renders a tool failure
func (f *Formatter) FormatError(toolErr *tools.ToolError) string {
	line := fmt.Sprintf("%s: %s", toolErr.Code, toolErr.Message)
	if toolErr.Reference != "" {
		line += fmt.Sprintf(" (reference: %s)", toolErr.Reference)
	}

	return line
}

// FormatTools renders the tool catalog
func (f *Formatter) FormatTools(descriptors []tools.Descriptor, format OutputFormat) (string, error) {
	if format == FormatJSON {
		data, err := json.MarshalIndent(descriptors, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to encode tools: %w", err)
		}

		return string(data), nil
	}

	data := pterm.TableData{{"Name", "Title", "Arguments", "Description"}}

	for _, d := range descriptors {
		data = append(data, []string{d.Name, d.Title, f.formatArguments(d), f.truncate(d.Description)})
	}

	return pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
}

func (f *Formatter) summary(result *storage.QueryResult) string {
	rows := "rows"
	if result.RowCount == 1 {
		rows = "row"
	}

	line := fmt.Sprintf("%d %s", result.RowCount, rows)
	if result.Truncated {
		line += " (truncated at the row cap)"
	}

	return line
}

// formatArguments lists schema properties, marking required ones with *
func (f *Formatter) formatArguments(d tools.Descriptor) string {
	if d.InputSchema == nil || len(d.InputSchema.Properties) == 0 {
		return "-"
	}

	required := make(map[string]bool, len(d.InputSchema.Required))
	for _, name := range d.InputSchema.Required {
		required[name] = true
	}

	names := make([]string, 0, len(d.InputSchema.Properties))
	for name := range d.InputSchema.Properties {
		if required[name] {
			name += "*"
		}

		names = append(names, name)
	}

	sort.Strings(names)

	return strings.Join(names, ", ")
}

// formatValue renders one cell, "-" for NULL
func (f *Formatter) formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return "-"
	case string:
		return f.truncate(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, f.formatValue(item))
		}

		return f.truncate(strings.Join(parts, ", "))
	case map[string]any:
		data, err := json.Marshal(v)
		if err != nil {
			return "?"
		}

		return f.truncate(string(data))
	default:
		return f.truncate(fmt.Sprint(v))
	}
}

func (f *Formatter) truncate(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")

	runes := []rune(s)
	if len(runes) <= maxCellWidth {
		return s
	}

	return string(runes[:maxCellWidth-3]) + "..."
}
