package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/marcboeker/go-duckdb"

	"github.com/kyleking/nest-mcp/internal/config"
)

// Executor runs capped, parameterized statements against the dataset
type Executor interface {
	Query(ctx context.Context, text string, rowCap int, args ...any) (*QueryResult, error)
}

// Engine executes statements on a DuckDB database. It is safe for
// concurrent use; every session shares the same connection pool.
type Engine struct {
	db      *sql.DB
	path    string
	table   string
	timeout time.Duration
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// remoteSchemes are dataset locations that need the httpfs settings
var remoteSchemes = []string{"s3://", "s3a://", "s3n://", "gs://", "gcs://", "r2://", "http://", "https://", "az://", "abfss://"}

// NewEngine opens the database described by cfg. When cfg.Dataset.Source is
// set, every connection exposes it as a temporary view named cfg.Dataset.Table.
func NewEngine(ctx context.Context, cfg *config.Config) (*Engine, error) {
	if !identifierPattern.MatchString(cfg.Dataset.Table) {
		return nil, fmt.Errorf("dataset table must be a plain identifier: %q", cfg.Dataset.Table)
	}

	initStatements := connectionInit(cfg)

	connector, err := duckdb.NewConnector(dsn(cfg.Database), func(execer driver.ExecerContext) error {
		for _, stmt := range initStatements {
			if _, err := execer.ExecContext(context.Background(), stmt, nil); err != nil {
				return fmt.Errorf("failed to initialize connection with %q: %w", firstLine(stmt), err)
			}
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := sql.OpenDB(connector)

	db.SetMaxOpenConns(cfg.Database.MaxConnections)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetimeDuration())
	db.SetConnMaxIdleTime(cfg.Database.ConnMaxIdleTimeDuration())

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Engine{
		db:      db,
		path:    cfg.Database.Path,
		table:   cfg.Dataset.Table,
		timeout: cfg.Query.TimeoutDuration(),
	}, nil
}

// dsn builds the connection string; file databases honour ReadOnly
func dsn(cfg config.DatabaseConfig) string {
	if cfg.Path == "" {
		return ""
	}

	if !cfg.ReadOnly {
		return cfg.Path
	}

	params := url.Values{}
	params.Set("access_mode", "read_only")

	return cfg.Path + "?" + params.Encode()
}

// connectionInit returns the statements every new connection runs
func connectionInit(cfg *config.Config) []string {
	var stmts []string

	db := cfg.Database

	if db.TempDirectory != "" {
		stmts = append(stmts, "SET temp_directory = "+quoteLiteral(db.TempDirectory))
	}

	if db.MaxTempDirectorySize != "" {
		stmts = append(stmts, "SET max_temp_directory_size = "+quoteLiteral(db.MaxTempDirectorySize))
	}

	if isRemote(cfg.Dataset.Source) || db.S3CredentialChain {
		stmts = append(stmts,
			"SET http_timeout = "+strconv.FormatInt(db.HTTPTimeoutDuration().Milliseconds(), 10),
			"SET http_retries = "+strconv.Itoa(db.HTTPRetries),
			"SET http_keep_alive = "+strconv.FormatBool(db.HTTPKeepAlive),
			"SET s3_uploader_thread_limit = "+strconv.Itoa(db.S3UploaderThreadLimit),
		)
	}

	if db.S3CredentialChain {
		stmts = append(stmts,
			"CREATE OR REPLACE SECRET nest_s3 (TYPE s3, PROVIDER credential_chain, REFRESH auto)")
	}

	if cfg.Dataset.Source != "" {
		stmts = append(stmts, fmt.Sprintf(
			"CREATE OR REPLACE TEMP VIEW %s AS SELECT * FROM read_parquet(%s)",
			cfg.Dataset.Table, quoteLiteral(cfg.Dataset.Source)))
	}

	return stmts
}

func isRemote(source string) bool {
	lower := strings.ToLower(source)
	for _, scheme := range remoteSchemes {
		if strings.HasPrefix(lower, scheme) {
			return true
		}
	}

	return false
}

// quoteLiteral renders s as a SQL string literal
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

// Query runs text with args and returns at most rowCap records. The
// statement is expected to select rowCap+1 rows so truncation is visible.
func (e *Engine) Query(ctx context.Context, text string, rowCap int, args ...any) (*QueryResult, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)

		defer cancel()
	}

	rows, err := e.db.QueryContext(ctx, text, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	return collectRows(rows, rowCap)
}

// Ping verifies the database is reachable
func (e *Engine) Ping(ctx context.Context) error {
	return e.db.PingContext(ctx)
}

// Table returns the dataset table name
func (e *Engine) Table() string {
	return e.table
}

// Path returns the database file path; empty for in-memory databases
func (e *Engine) Path() string {
	return e.path
}

// Close closes the database connection pool
func (e *Engine) Close() error {
	if e.db != nil {
		return e.db.Close()
	}

	return nil
}
