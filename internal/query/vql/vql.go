// Package vql implements the restricted, read-only query language spec.md
// §4.5.2 describes: a small SELECT-only grammar over the metrics table,
// with an identifier/function whitelist and parameterized literals so no
// user input is ever concatenated into a query string. Grounded on the
// teacher's hand-written parsers being absent; this is new code written in
// the teacher's plain-struct, explicit-error-return style throughout.
package vql

import (
	"fmt"
	"strconv"
	"strings"
)

// AggExpr is one projected expression: either a bare identifier or an
// aggregate function applied to one.
type AggExpr struct {
	Func  string // "" for a bare identifier
	Ident string
}

func (e AggExpr) String() string {
	if e.Func == "" {
		return e.Ident
	}
	return fmt.Sprintf("%s(%s)", e.Func, e.Ident)
}

// Op is a comparison operator.
type Op string

const (
	OpEq  Op = "="
	OpNeq Op = "!="
	OpLt  Op = "<"
	OpLte Op = "<="
	OpGt  Op = ">"
	OpGte Op = ">="
)

// LiteralKind tags how a literal was written, so Unparse can round-trip it.
type LiteralKind int

const (
	LiteralInt LiteralKind = iota
	LiteralFloat
	LiteralString
)

// Literal is a parameterized value bound into a Cond; it is never
// interpolated into SQL text.
type Literal struct {
	Kind LiteralKind
	Str  string
	Num  float64
}

func (l Literal) String() string {
	switch l.Kind {
	case LiteralString:
		return "'" + strings.ReplaceAll(l.Str, "'", "''") + "'"
	case LiteralFloat:
		// Always keep a decimal point so the literal re-lexes as a float.
		s := strconv.FormatFloat(l.Num, 'f', -1, 64)
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		return s
	default:
		return strconv.FormatFloat(l.Num, 'f', 0, 64)
	}
}

// Cond is one WHERE term.
type Cond struct {
	Ident   string
	Op      Op
	Literal Literal
}

// OrderBy names the sort column and direction.
type OrderBy struct {
	Ident string
	Desc  bool
}

// Query is the parsed AST of a VQL statement. Star is true for "SELECT *",
// in which case Projection is empty.
type Query struct {
	Star       bool
	Projection []AggExpr
	From       string
	Where      []Cond
	GroupBy    []string
	OrderBy    *OrderBy
	Limit      int
}

// identWhitelist is every column the metrics table declares; Parse rejects
// any identifier outside this set.
var identWhitelist = map[string]bool{
	"id": true, "timestamp": true, "service_name": true, "metric_name": true,
	"metric_type": true, "value": true, "endpoint": true, "method": true,
	"status_code": true, "duration_ms": true, "trace_id": true, "span_id": true,
	"environment": true, "aggregated": true, "resolution_minutes": true,
}

var funcWhitelist = map[string]bool{
	"AVG": true, "SUM": true, "MIN": true, "MAX": true, "COUNT": true,
	"P50": true, "P95": true, "P99": true,
}

// forbiddenKeywords triggers a 400 invalid_query regardless of where they
// appear outside a quoted string literal (spec.md §8's injection property).
var forbiddenKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "ALTER", "ATTACH", "DETACH",
	"TRUNCATE", "GRANT", "REVOKE", ";",
}

const maxWhereTerms = 10
const maxLimit = 10000

// ParseError names the offending token, per spec.md §4.5.2's safety
// contract ("400 invalid_query with the offending token").
type ParseError struct {
	Token string
	Msg   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid_query: %s (token=%q)", e.Msg, e.Token)
}

// Parse parses raw into a Query. Forbidden keywords are rejected before any
// structural parsing happens; the identifier and function whitelists are
// enforced while parsing.
func Parse(raw string) (*Query, error) {
	if tok := findForbidden(raw); tok != "" {
		return nil, &ParseError{Token: tok, Msg: "forbidden keyword"}
	}

	toks, err := lex(raw)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	q, err := p.parseQuery()
	if err != nil {
		return nil, err
	}
	if !p.atEnd() {
		return nil, &ParseError{Token: p.peek().text, Msg: "unexpected trailing input"}
	}
	return q, nil
}

// findForbidden scans raw for a forbidden keyword outside any single-quoted
// string literal, returning the one that occurs earliest in raw.
func findForbidden(raw string) string {
	inString := false
	upper := strings.ToUpper(raw)
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		ch := raw[i]
		if ch == '\'' {
			inString = !inString
		}
		if inString {
			sb.WriteByte(' ')
		} else {
			sb.WriteByte(upper[i])
		}
	}
	masked := sb.String()
	found, foundAt := "", -1
	for _, kw := range forbiddenKeywords {
		if idx := strings.Index(masked, kw); idx >= 0 && (foundAt < 0 || idx < foundAt) {
			found, foundAt = kw, idx
		}
	}
	return found
}
