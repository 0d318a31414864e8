package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

// Company is one row of the dataset table
type Company struct {
	CompanyID          string   `json:"company_id"`
	Name               string   `json:"name"`
	OrganizationNumber string   `json:"organization_number"`
	CompanyType        string   `json:"company_type"`
	FoundedYear        *int     `json:"founded_year,omitempty"`
	NaceCodes          []string `json:"nace_codes"`
	Revenue            *float64 `json:"revenue,omitempty"`
	Employees          *int     `json:"employees,omitempty"`
	Municipality       string   `json:"municipality"`
	Homepage           string   `json:"homepage"`
}

// Column describes one column of the dataset table
type Column struct {
	Name string `json:"column_name"`
	Type string `json:"data_type"`
}

// companiesDDL creates the dataset table; %s is a validated identifier
const companiesDDL = `
	CREATE TABLE IF NOT EXISTS %s (
		company_id VARCHAR PRIMARY KEY,
		name VARCHAR NOT NULL,
		organization_number VARCHAR,
		company_type VARCHAR,
		founded_year INTEGER,
		nace_codes VARCHAR[],
		revenue DOUBLE,
		employees INTEGER,
		municipality VARCHAR,
		homepage VARCHAR
	);`

// SchemaQuery lists the columns of a table in declaration order
const SchemaQuery = `SELECT column_name, data_type
	FROM information_schema.columns
	WHERE table_name = ?
	ORDER BY ordinal_position`

// CreateCompaniesTable creates the dataset table in a writable database
func (e *Engine) CreateCompaniesTable(ctx context.Context) error {
	if _, err := e.db.ExecContext(ctx, fmt.Sprintf(companiesDDL, e.table)); err != nil {
		return fmt.Errorf("failed to create %s table: %w", e.table, err)
	}

	return nil
}

// InsertCompanies stores companies in one transaction
func (e *Engine) InsertCompanies(ctx context.Context, companies []Company) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	insertSQL := fmt.Sprintf(`
	INSERT INTO %s (
		company_id, name, organization_number, company_type, founded_year,
		nace_codes, revenue, employees, municipality, homepage
	) VALUES (?, ?, ?, ?, ?, CAST(CAST(? AS JSON) AS VARCHAR[]), ?, ?, ?, ?)`, e.table)

	for _, c := range companies {
		codes := c.NaceCodes
		if codes == nil {
			codes = []string{}
		}

		codesJSON, err := json.Marshal(codes)
		if err != nil {
			return fmt.Errorf("failed to encode nace codes for %s: %w", c.CompanyID, err)
		}

		if _, err := tx.ExecContext(ctx, insertSQL,
			c.CompanyID, c.Name, c.OrganizationNumber, c.CompanyType, c.FoundedYear,
			string(codesJSON), c.Revenue, c.Employees, c.Municipality, c.Homepage,
		); err != nil {
			return fmt.Errorf("failed to insert company %s: %w", c.CompanyID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Columns describes the dataset table
func (e *Engine) Columns(ctx context.Context) ([]Column, error) {
	rows, err := e.db.QueryContext(ctx, SchemaQuery, e.table)
	if err != nil {
		return nil, fmt.Errorf("failed to describe %s: %w", e.table, err)
	}
	defer rows.Close()

	var columns []Column

	for rows.Next() {
		var col Column
		if err := rows.Scan(&col.Name, &col.Type); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}

		columns = append(columns, col)
	}

	return columns, rows.Err()
}
