package tools

import (
	"context"
	"encoding/json"

	apperrors "github.com/kyleking/nest-mcp/internal/errors"
	"github.com/kyleking/nest-mcp/internal/query"
	"github.com/kyleking/nest-mcp/internal/storage"
)

// Tool names
const (
	RawSQLName        = "raw-sql"
	CompanySearchName = "company-search"
	DatasetSchemaName = "dataset-schema"
)

const rawSQLSchema = `{
	"type": "object",
	"properties": {
		"query": {
			"type": "string",
			"minLength": 1,
			"description": "A single read-only SQL query. Results are capped; a trailing semicolon is ignored."
		}
	},
	"required": ["query"],
	"additionalProperties": false
}`

const companySearchSchema = `{
	"type": "object",
	"properties": {
		"name": {
			"type": "string",
			"description": "Case-insensitive substring of the company name"
		},
		"founded_after": {
			"type": "integer",
			"description": "Earliest founding year, inclusive"
		},
		"founded_before": {
			"type": "integer",
			"description": "Latest founding year, inclusive"
		},
		"nace_codes": {
			"type": "array",
			"items": {"type": "string"},
			"description": "Industry codes; a company matches if it has any of them"
		},
		"revenue_min": {
			"type": "number",
			"description": "Minimum yearly revenue, inclusive"
		},
		"revenue_max": {
			"type": "number",
			"description": "Maximum yearly revenue, inclusive"
		},
		"employees_min": {
			"type": "integer",
			"description": "Minimum number of employees, inclusive"
		},
		"employees_max": {
			"type": "integer",
			"description": "Maximum number of employees, inclusive"
		}
	},
	"minProperties": 1,
	"additionalProperties": false
}`

const datasetSchemaSchema = `{
	"type": "object",
	"properties": {},
	"additionalProperties": false
}`

// Default registers the built-in tools against exec. Statements are built
// for the builder's table and capped at its row cap.
func Default(exec storage.Executor, builder *query.Builder) (*Registry, error) {
	r := NewRegistry()

	entries := []struct {
		descriptor Descriptor
		schema     string
		handler    Handler
	}{
		{
			descriptor: Descriptor{
				Name:        RawSQLName,
				Title:       "Companies",
				Description: "Execute a SQL query against the company database.",
				ReadOnly:    true,
			},
			schema:  rawSQLSchema,
			handler: rawSQLHandler(exec, builder),
		},
		{
			descriptor: Descriptor{
				Name:  CompanySearchName,
				Title: "Company Search",
				Description: "Search companies by name, founding year, industry codes, revenue and " +
					"employee count. All supplied filters must match.",
				ReadOnly: true,
			},
			schema:  companySearchSchema,
			handler: companySearchHandler(exec, builder),
		},
		{
			descriptor: Descriptor{
				Name:        DatasetSchemaName,
				Title:       "Dataset Schema",
				Description: "List the columns and types of the company table.",
				ReadOnly:    true,
			},
			schema:  datasetSchemaSchema,
			handler: datasetSchemaHandler(exec, builder),
		},
	}

	for _, e := range entries {
		if err := r.Register(e.descriptor, e.schema, e.handler); err != nil {
			return nil, err
		}
	}

	return r, nil
}

type rawSQLArgs struct {
	Query string `json:"query"`
}

func rawSQLHandler(exec storage.Executor, builder *query.Builder) Handler {
	return func(ctx context.Context, raw json.RawMessage) (*storage.QueryResult, error) {
		var args rawSQLArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrTypeSchemaViolation, "arguments do not match the tool schema")
		}

		stmt, err := builder.Raw(args.Query)
		if err != nil {
			return nil, err
		}

		return execute(ctx, exec, stmt)
	}
}

func companySearchHandler(exec storage.Executor, builder *query.Builder) Handler {
	return func(ctx context.Context, raw json.RawMessage) (*storage.QueryResult, error) {
		var req query.SearchRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrTypeSchemaViolation, "arguments do not match the tool schema")
		}

		stmt, err := builder.Build(req)
		if err != nil {
			return nil, err
		}

		return execute(ctx, exec, stmt)
	}
}

func datasetSchemaHandler(exec storage.Executor, builder *query.Builder) Handler {
	return func(ctx context.Context, _ json.RawMessage) (*storage.QueryResult, error) {
		return execute(ctx, exec, query.Statement{
			Text:   storage.SchemaQuery,
			Args:   []any{builder.Table()},
			RowCap: builder.RowCap(),
		})
	}
}

func execute(ctx context.Context, exec storage.Executor, stmt query.Statement) (*storage.QueryResult, error) {
	result, err := exec.Query(ctx, stmt.Text, stmt.RowCap, stmt.Args...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTypeExecution, "query failed")
	}

	return result, nil
}
