package query

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	apperrors "github.com/kyleking/nest-mcp/internal/errors"
)

// SearchRequest is a partially specified company search. Nil fields and
// empty code lists are absent; at least one field must be present.
type SearchRequest struct {
	Name          *string  `json:"name,omitempty"`
	FoundedAfter  *int     `json:"founded_after,omitempty"`
	FoundedBefore *int     `json:"founded_before,omitempty"`
	NaceCodes     []string `json:"nace_codes,omitempty"`
	RevenueMin    *float64 `json:"revenue_min,omitempty"`
	RevenueMax    *float64 `json:"revenue_max,omitempty"`
	EmployeesMin  *int     `json:"employees_min,omitempty"`
	EmployeesMax  *int     `json:"employees_max,omitempty"`
}

// Statement is a parameterized SQL statement ready for execution. Text
// selects at most RowCap+1 rows so the executor can detect truncation.
type Statement struct {
	Text   string
	Args   []any
	RowCap int
}

// predicate is SQL text with exactly one placeholder. Values of this type
// only ever come from the constants below.
type predicate string

const (
	predName          predicate = `name ILIKE '%' || ? || '%' ESCAPE '\'`
	predFoundedAfter  predicate = `founded_year >= ?`
	predFoundedBefore predicate = `founded_year <= ?`
	predNaceCodes     predicate = `list_has_any(nace_codes, CAST(CAST(? AS JSON) AS VARCHAR[]))`
	predRevenueMin    predicate = `revenue >= ?`
	predRevenueMax    predicate = `revenue <= ?`
	predEmployeesMin  predicate = `employees >= ?`
	predEmployeesMax  predicate = `employees <= ?`
)

// Projection is the fixed column list returned by company searches
const Projection = "company_id, name, organization_number, company_type, founded_year, " +
	"nace_codes, revenue, employees, municipality, homepage"

const orderBy = "ORDER BY name, company_id"

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// likeEscaper escapes LIKE metacharacters for use with ESCAPE '\'
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// fragment accumulates AND-ed conditions with their bound values
type fragment struct {
	predicates []predicate
	args       []any
}

func (f *fragment) add(p predicate, value any) {
	f.predicates = append(f.predicates, p)
	f.args = append(f.args, value)
}

func (f *fragment) empty() bool {
	return len(f.predicates) == 0
}

func (f *fragment) where() string {
	parts := make([]string, len(f.predicates))
	for i, p := range f.predicates {
		parts[i] = string(p)
	}

	return strings.Join(parts, " AND ")
}

// Builder turns search requests into capped statements against one table
type Builder struct {
	table  string
	rowCap int
}

// NewBuilder creates a builder for table. The table must be a plain
// identifier and rowCap must be positive.
func NewBuilder(table string, rowCap int) (*Builder, error) {
	if !identifierPattern.MatchString(table) {
		return nil, apperrors.Newf(apperrors.ErrTypeConfig, "table must be a plain identifier: %q", table)
	}

	if rowCap <= 0 {
		return nil, apperrors.Newf(apperrors.ErrTypeConfig, "row cap must be positive: %d", rowCap)
	}

	return &Builder{table: table, rowCap: rowCap}, nil
}

// Table returns the table the builder queries
func (b *Builder) Table() string {
	return b.table
}

// RowCap returns the maximum number of rows a statement may return
func (b *Builder) RowCap() int {
	return b.rowCap
}

// Build validates req and composes a parameterized statement from the
// fields that are present.
func (b *Builder) Build(req SearchRequest) (Statement, error) {
	var f fragment

	if req.Name != nil {
		if name := strings.TrimSpace(*req.Name); name != "" {
			f.add(predName, likeEscaper.Replace(name))
		}
	}

	if err := checkRange("founded_after", req.FoundedAfter, "founded_before", req.FoundedBefore); err != nil {
		return Statement{}, err
	}

	if req.FoundedAfter != nil {
		f.add(predFoundedAfter, *req.FoundedAfter)
	}

	if req.FoundedBefore != nil {
		f.add(predFoundedBefore, *req.FoundedBefore)
	}

	if codes := normalizeCodes(req.NaceCodes); len(codes) > 0 {
		encoded, err := json.Marshal(codes)
		if err != nil {
			return Statement{}, apperrors.Wrap(err, apperrors.ErrTypeInternal, "failed to encode nace codes")
		}

		f.add(predNaceCodes, string(encoded))
	}

	if err := checkRange("revenue_min", req.RevenueMin, "revenue_max", req.RevenueMax); err != nil {
		return Statement{}, err
	}

	if req.RevenueMin != nil {
		f.add(predRevenueMin, *req.RevenueMin)
	}

	if req.RevenueMax != nil {
		f.add(predRevenueMax, *req.RevenueMax)
	}

	if err := checkRange("employees_min", req.EmployeesMin, "employees_max", req.EmployeesMax); err != nil {
		return Statement{}, err
	}

	if req.EmployeesMin != nil {
		f.add(predEmployeesMin, *req.EmployeesMin)
	}

	if req.EmployeesMax != nil {
		f.add(predEmployeesMax, *req.EmployeesMax)
	}

	if f.empty() {
		return Statement{}, apperrors.NewValidationError("at least one search field must be provided").
			WithSuggestion("Provide name, founded_after, founded_before, nace_codes, revenue or employees bounds")
	}

	text := fmt.Sprintf("SELECT %s FROM %s WHERE %s %s LIMIT %s",
		Projection, b.table, f.where(), orderBy, strconv.Itoa(b.rowCap+1))

	return Statement{Text: text, Args: f.args, RowCap: b.rowCap}, nil
}

// checkRange rejects a range whose lower bound exceeds its upper bound
func checkRange[T int | float64](minName string, lo *T, maxName string, hi *T) error {
	if lo != nil && hi != nil && *lo > *hi {
		return apperrors.NewValidationError("%s must not exceed %s", minName, maxName)
	}

	return nil
}

// normalizeCodes trims codes, drops blanks and removes duplicates while
// keeping first-seen order.
func normalizeCodes(codes []string) []string {
	if len(codes) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))

	for _, code := range codes {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}

		if _, ok := seen[code]; ok {
			continue
		}

		seen[code] = struct{}{}
		out = append(out, code)
	}

	return out
}
