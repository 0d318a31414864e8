package storage

import (
	"database/sql"
	"encoding/base64"
	"fmt"
	"math"
	"math/big"
	"slices"
	"strconv"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/marcboeker/go-duckdb"
)

// QueryResult holds the rows returned by one capped statement
type QueryResult struct {
	Columns   []string         `json:"columns"`
	Records   []map[string]any `json:"records"`
	RowCount  int              `json:"row_count"`
	Truncated bool             `json:"truncated"`
}

// Clone returns a deep copy of r
func (r *QueryResult) Clone() *QueryResult {
	if r == nil {
		return nil
	}

	out := &QueryResult{
		Columns:   slices.Clone(r.Columns),
		Records:   make([]map[string]any, len(r.Records)),
		RowCount:  r.RowCount,
		Truncated: r.Truncated,
	}

	for i, record := range r.Records {
		out.Records[i] = cloneRecord(record)
	}

	return out
}

func cloneRecord(record map[string]any) map[string]any {
	if record == nil {
		return nil
	}

	out := make(map[string]any, len(record))
	for k, v := range record {
		out[k] = cloneValue(v)
	}

	return out
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return cloneRecord(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}

		return out
	default:
		return v
	}
}

// approxSize estimates the bytes held by r for cache accounting
func (r *QueryResult) approxSize() int64 {
	var size int64
	for _, column := range r.Columns {
		size += int64(len(column))
	}

	for _, record := range r.Records {
		for k, v := range record {
			size += int64(len(k)) + valueSize(v)
		}
	}

	return size
}

func valueSize(value any) int64 {
	switch v := value.(type) {
	case string:
		return int64(len(v))
	case map[string]any:
		var size int64
		for k, item := range v {
			size += int64(len(k)) + valueSize(item)
		}

		return size
	case []any:
		var size int64
		for _, item := range v {
			size += valueSize(item)
		}

		return size
	default:
		return 8
	}
}

// collectRows reads at most rowCap rows. One extra row is read to decide
// whether the result was truncated.
func collectRows(rows *sql.Rows, rowCap int) (*QueryResult, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	result := &QueryResult{
		Columns: columns,
		Records: make([]map[string]any, 0),
	}

	for rows.Next() {
		if len(result.Records) == rowCap {
			result.Truncated = true
			break
		}

		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))

		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		record := make(map[string]any, len(columns))
		for i, col := range columns {
			record[col] = normalizeValue(values[i])
		}

		result.Records = append(result.Records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	result.RowCount = len(result.Records)

	return result, nil
}

// normalizeValue converts driver values into JSON-friendly Go values.
// Non-finite floats become "NaN", "+Inf" or "-Inf" since JSON has no
// encoding for them.
func normalizeValue(value any) any {
	switch v := value.(type) {
	case []byte:
		return normalizeBytes(v)
	case float64:
		return normalizeFloat(v)
	case float32:
		return normalizeFloat(float64(v))
	case duckdb.Decimal:
		return normalizeFloat(v.Float64())
	case *big.Int:
		if v == nil {
			return nil
		}

		return v.String()
	case duckdb.Map:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[fmt.Sprint(k)] = normalizeValue(item)
		}

		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normalizeValue(item)
		}

		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = normalizeValue(item)
		}

		return out
	default:
		return v
	}
}

func normalizeFloat(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}

	return f
}

// normalizeBytes renders UUID columns in canonical form, text as-is and
// other binary values as base64
func normalizeBytes(b []byte) any {
	if len(b) == 16 {
		if id, err := uuid.FromBytes(b); err == nil {
			return id.String()
		}
	}

	if utf8.Valid(b) {
		return string(b)
	}

	return base64.StdEncoding.EncodeToString(b)
}
