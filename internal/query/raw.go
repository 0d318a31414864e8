package query

import (
	"strconv"
	"strings"

	apperrors "github.com/kyleking/nest-mcp/internal/errors"
)

// Raw caps a caller-supplied statement without rewriting it. Separators
// between statements are rejected; anything else that is not a single
// query becomes a parse error once wrapped in a subquery.
func (b *Builder) Raw(sql string) (Statement, error) {
	sql = strings.TrimRight(sql, "; \t\r\n")
	if strings.TrimSpace(sql) == "" {
		return Statement{}, apperrors.NewValidationError("query must not be empty")
	}

	if hasSeparator(sql) {
		return Statement{}, apperrors.NewValidationError("query must be a single statement").
			WithSuggestion("Remove statement separators from the query")
	}

	var sb strings.Builder
	sb.WriteString("SELECT * FROM (\n")
	sb.WriteString(sql)
	sb.WriteString("\n) AS capped LIMIT ")
	sb.WriteString(strconv.Itoa(b.rowCap + 1))

	return Statement{Text: sb.String(), RowCap: b.rowCap}, nil
}

// hasSeparator reports whether sql holds a ';' outside string literals,
// quoted identifiers and comments. Block comments do not nest, so an
// ambiguous input is rejected rather than accepted.
func hasSeparator(sql string) bool {
	for i := 0; i < len(sql); i++ {
		switch c := sql[i]; {
		case c == ';':
			return true
		case c == '\'' || c == '"':
			// A doubled quote closes and reopens, which skips it correctly.
			end := strings.IndexByte(sql[i+1:], c)
			if end < 0 {
				return false
			}

			i += end + 1
		case strings.HasPrefix(sql[i:], "--"):
			end := strings.IndexByte(sql[i:], '\n')
			if end < 0 {
				return false
			}

			i += end
		case strings.HasPrefix(sql[i:], "/*"):
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				return false
			}

			i += end + 3
		case c == '$':
			tag, ok := dollarTag(sql[i:])
			if !ok {
				continue
			}

			end := strings.Index(sql[i+len(tag):], tag)
			if end < 0 {
				return false
			}

			i += len(tag) + end + len(tag) - 1
		}
	}

	return false
}

// dollarTag returns the opening delimiter of a dollar-quoted literal such
// as $$ or $body$. Positional parameters like $1 are not delimiters.
func dollarTag(s string) (string, bool) {
	for j := 1; j < len(s); j++ {
		c := s[j]

		switch {
		case c == '$':
			return s[:j+1], true
		case c == '_' || c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9' && j > 1:
		default:
			return "", false
		}
	}

	return "", false
}
