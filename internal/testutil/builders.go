package testutil

import (
	"github.com/kyleking/nest-mcp/internal/storage"
)

// Ptr returns a pointer to v
func Ptr[T any](v T) *T {
	return &v
}

// CompanyOption is a functional option for configuring test companies
type CompanyOption func(*storage.Company)

// WithFounded sets the founding year
func WithFounded(year int) CompanyOption {
	return func(c *storage.Company) {
		c.FoundedYear = &year
	}
}

// WithNaceCodes sets the industry codes
func WithNaceCodes(codes ...string) CompanyOption {
	return func(c *storage.Company) {
		c.NaceCodes = codes
	}
}

// WithRevenue sets the yearly revenue
func WithRevenue(revenue float64) CompanyOption {
	return func(c *storage.Company) {
		c.Revenue = &revenue
	}
}

// WithEmployees sets the head count
func WithEmployees(count int) CompanyOption {
	return func(c *storage.Company) {
		c.Employees = &count
	}
}

// WithMunicipality sets the municipality
func WithMunicipality(municipality string) CompanyOption {
	return func(c *storage.Company) {
		c.Municipality = municipality
	}
}

// WithHomepage sets the company homepage
func WithHomepage(url string) CompanyOption {
	return func(c *storage.Company) {
		c.Homepage = url
	}
}

// NewTestCompany creates a test company with sensible defaults
func NewTestCompany(id, name string, opts ...CompanyOption) storage.Company {
	company := storage.Company{
		CompanyID:          id,
		Name:               name,
		OrganizationNumber: "9" + id,
		CompanyType:        "AS",
		NaceCodes:          []string{},
		Municipality:       "Oslo",
	}

	for _, opt := range opts {
		opt(&company)
	}

	return company
}

// NewTestResult creates a query result holding the given records
func NewTestResult(columns []string, records ...map[string]any) *storage.QueryResult {
	if records == nil {
		records = []map[string]any{}
	}

	return &storage.QueryResult{
		Columns:  columns,
		Records:  records,
		RowCount: len(records),
	}
}
