// ABOUTME: Safety gate that parses LLM-proposed queries into a bounded read shape.
// ABOUTME: Candidates that do not parse into the allowed shape are rejected, never executed.

package nlq

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrUnsafeQuery indicates a candidate query was rejected by the safety gate.
// The wrapped reason is always one of the gate's own fixed strings; model
// output is never echoed into it.
var ErrUnsafeQuery = errors.New("unsafe query")

// MaxLimit bounds how many rows a translated query may request.
const MaxLimit = 200

// DefaultLimit applies when the candidate does not request a row limit.
const DefaultLimit = 50

// Columns is the allowlist of queryable columns on the users table.
// The gate rejects any candidate referencing anything else.
var Columns = []string{"id", "username", "email", "first_name", "last_name"}

var columnSet = func() map[string]struct{} {
	s := make(map[string]struct{}, len(Columns))
	for _, c := range Columns {
		s[c] = struct{}{}
	}
	return s
}()

// operators maps the candidate operator vocabulary to SQL.
var operators = map[string]string{
	"eq":       "=",
	"ne":       "<>",
	"lt":       "<",
	"le":       "<=",
	"gt":       ">",
	"ge":       ">=",
	"contains": "ILIKE",
}

// injectionPatterns screen string literals for structure that has no business
// in a bound parameter value. Values are bound, never interpolated, so this is
// a second fence, not the primary defense.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(SELECT|INSERT|UPDATE|DELETE|DROP|ALTER|CREATE|TRUNCATE|UNION|GRANT)\b`),
	regexp.MustCompile(`(--|/\*|\*/)`),
	regexp.MustCompile(`[;'"\\]`),
}

// Predicate is one validated comparison in a SafeQuery.
type Predicate struct {
	Column string
	Op     string
	Value  any
}

// SafeQuery is a candidate that passed the gate and may be executed. It
// compiles to a single parameterized SELECT against the users table.
type SafeQuery struct {
	Columns    []string
	Where      []Predicate
	OrderBy    string
	Descending bool
	Limit      int
}

// candidate is the JSON contract the translator asks the model to produce.
type candidate struct {
	Select     []string        `json:"select"`
	Where      []candidatePred `json:"where"`
	OrderBy    string          `json:"order_by"`
	Descending bool            `json:"descending"`
	Limit      int             `json:"limit"`
	Refuse     string          `json:"refuse"`
}

type candidatePred struct {
	Column string `json:"column"`
	Op     string `json:"op"`
	Value  any    `json:"value"`
}

// unsafe builds an ErrUnsafeQuery with a fixed, non-echoing reason.
func unsafe(reason string) error {
	return fmt.Errorf("%w: %s", ErrUnsafeQuery, reason)
}

// Sanitize parses a raw candidate from the language model into a SafeQuery.
// All rules must pass; a candidate that does not parse into the allowed
// single-entity read shape is rejected, not downgraded.
func Sanitize(raw string) (*SafeQuery, error) {
	body, ok := extractJSONObject(raw)
	if !ok {
		return nil, unsafe("candidate is not a structured query")
	}

	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()
	var c candidate
	if err := dec.Decode(&c); err != nil {
		return nil, unsafe("candidate does not match the allowed query shape")
	}
	// A second JSON value after the object would mean a multi-part candidate
	if dec.More() {
		return nil, unsafe("candidate contains more than one statement")
	}

	if c.Refuse != "" {
		return nil, unsafe("request does not translate to a read-only query")
	}

	q := &SafeQuery{Limit: c.Limit, OrderBy: c.OrderBy, Descending: c.Descending}

	if len(c.Select) == 0 {
		q.Columns = append(q.Columns, Columns...)
	} else {
		for _, col := range c.Select {
			if _, ok := columnSet[col]; !ok {
				return nil, unsafe("candidate selects an unknown column")
			}
			q.Columns = append(q.Columns, col)
		}
	}

	for _, p := range c.Where {
		if _, ok := columnSet[p.Column]; !ok {
			return nil, unsafe("candidate filters on an unknown column")
		}
		if _, ok := operators[p.Op]; !ok {
			return nil, unsafe("candidate uses an unsupported operator")
		}
		switch v := p.Value.(type) {
		case string:
			if err := screenLiteral(v); err != nil {
				return nil, err
			}
		case float64, bool:
		default:
			return nil, unsafe("candidate predicate value is not a scalar")
		}
		q.Where = append(q.Where, Predicate{Column: p.Column, Op: p.Op, Value: p.Value})
	}

	if q.OrderBy != "" {
		if _, ok := columnSet[q.OrderBy]; !ok {
			return nil, unsafe("candidate orders by an unknown column")
		}
	}

	switch {
	case q.Limit == 0:
		q.Limit = DefaultLimit
	case q.Limit < 0 || q.Limit > MaxLimit:
		return nil, unsafe("candidate requests an out-of-bounds row limit")
	}

	return q, nil
}

// screenLiteral rejects string values carrying SQL structure. Literals are
// always bound, so this only catches candidates that were shaped to smuggle
// commands through a parameter.
func screenLiteral(v string) error {
	for _, re := range injectionPatterns {
		if re.MatchString(v) {
			return unsafe("candidate literal contains query structure")
		}
	}
	return nil
}

// extractJSONObject pulls the first JSON object out of the model response,
// tolerating markdown fences and prose around it.
func extractJSONObject(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

// Build compiles the query to a single parameterized SELECT. Only allowlisted
// identifiers reach the SQL text; every literal becomes a bound argument.
func (q *SafeQuery) Build() (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(q.Columns, ", "))
	b.WriteString(" FROM users")

	var args []any
	for i, p := range q.Where {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		val := p.Value
		if p.Op == "contains" {
			val = "%" + fmt.Sprintf("%v", p.Value) + "%"
		}
		args = append(args, val)
		fmt.Fprintf(&b, "%s %s $%d", p.Column, operators[p.Op], len(args))
	}

	if q.OrderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(q.OrderBy)
		if q.Descending {
			b.WriteString(" DESC")
		}
	}

	fmt.Fprintf(&b, " LIMIT %d", q.Limit)

	return b.String(), args
}
