package servicetest

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"gorm.io/gorm"
)

// scope is a SQL condition with its arguments.
type scope struct {
	Condition string
	Args      []any
}

// queryBuilder accumulates the clauses a collection read applies.
type queryBuilder struct {
	wheres    []scope
	orderBys  []string
	limit     *int
	offset    int
	skipToken int
	count     bool
}

func (qb *queryBuilder) where(s scope) *queryBuilder {
	qb.wheres = append(qb.wheres, s)
	return qb
}

// filtered applies the conditions only, for counting.
func (qb *queryBuilder) filtered(db *gorm.DB) *gorm.DB {
	for _, w := range qb.wheres {
		db = db.Where(w.Condition, w.Args...)
	}
	return db
}

func (qb *queryBuilder) apply(db *gorm.DB) *gorm.DB {
	db = qb.filtered(db)
	for _, o := range qb.orderBys {
		db = db.Order(o)
	}
	if qb.limit != nil {
		db = db.Limit(*qb.limit)
	}
	if qb.offset > 0 {
		db = db.Offset(qb.offset)
	}
	return db
}

var comparisons = map[string]string{
	"eq": "=",
	"ne": "<>",
	"gt": ">",
	"ge": ">=",
	"lt": "<",
	"le": "<=",
}

// parseQuery reads the system query options of a collection read.
func parseQuery(set *entitySet, values url.Values) (*queryBuilder, error) {
	qb := &queryBuilder{}
	if text := values.Get("$filter"); text != "" {
		for _, term := range splitAnd(text) {
			s, err := parseTerm(set, term)
			if err != nil {
				return nil, fmt.Errorf("invalid $filter: %w", err)
			}
			qb.where(s)
		}
	}
	if text := values.Get("$orderby"); text != "" {
		for _, item := range strings.Split(text, ",") {
			fields := strings.Fields(item)
			if len(fields) == 0 || len(fields) > 2 {
				return nil, fmt.Errorf("invalid $orderby item %q", item)
			}
			col, err := column(set, fields[0])
			if err != nil {
				return nil, err
			}
			if len(fields) == 2 {
				switch fields[1] {
				case "asc":
				case "desc":
					col += " DESC"
				default:
					return nil, fmt.Errorf("invalid $orderby direction %q", fields[1])
				}
			}
			qb.orderBys = append(qb.orderBys, col)
		}
	}
	// Stable pages need a total order.
	qb.orderBys = append(qb.orderBys, set.columns[set.key])

	var err error
	if qb.limit, err = optionalInt(values, "$top"); err != nil {
		return nil, err
	}
	skip, err := optionalInt(values, "$skip")
	if err != nil {
		return nil, err
	}
	if skip != nil {
		qb.offset = *skip
	}
	token, err := optionalInt(values, "$skiptoken")
	if err != nil {
		return nil, err
	}
	if token != nil {
		qb.skipToken = *token
	}
	switch values.Get("$count") {
	case "", "false":
	case "true":
		qb.count = true
	default:
		return nil, fmt.Errorf("invalid $count value %q", values.Get("$count"))
	}
	return qb, nil
}

func optionalInt(values url.Values, name string) (*int, error) {
	text := values.Get(name)
	if text == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(text)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("invalid %s value %q", name, text)
	}
	return &n, nil
}

func column(set *entitySet, name string) (string, error) {
	col, ok := set.columns[name]
	if !ok {
		return "", fmt.Errorf("'%s' is not a property of %s", name, set.name)
	}
	return col, nil
}

// splitAnd splits text on top-level "and" outside quotes and parentheses.
func splitAnd(text string) []string {
	var terms []string
	depth, start := 0, 0
	quoted := false
	for i := 0; i < len(text); i++ {
		switch c := text[i]; {
		case c == '\'':
			quoted = !quoted
		case quoted:
		case c == '(':
			depth++
		case c == ')':
			depth--
		case depth == 0 && strings.HasPrefix(text[i:], " and "):
			terms = append(terms, text[start:i])
			start = i + len(" and ")
			i = start - 1
		}
	}
	return append(terms, text[start:])
}

func unwrap(term string) string {
	term = strings.TrimSpace(term)
	for strings.HasPrefix(term, "(") && strings.HasSuffix(term, ")") && len(splitAnd(term[1:len(term)-1])) == 1 {
		term = strings.TrimSpace(term[1 : len(term)-1])
	}
	return term
}

func parseTerm(set *entitySet, term string) (scope, error) {
	term = unwrap(term)
	if len(splitAnd(term)) > 1 {
		var parts []string
		var args []any
		for _, t := range splitAnd(term) {
			s, err := parseTerm(set, t)
			if err != nil {
				return scope{}, err
			}
			parts = append(parts, "("+s.Condition+")")
			args = append(args, s.Args...)
		}
		return scope{Condition: strings.Join(parts, " AND "), Args: args}, nil
	}

	for _, fn := range []string{"contains", "startswith", "endswith"} {
		if !strings.HasPrefix(term, fn+"(") || !strings.HasSuffix(term, ")") {
			continue
		}
		prop, lit, ok := strings.Cut(term[len(fn)+1:len(term)-1], ",")
		if !ok {
			return scope{}, fmt.Errorf("%s needs two arguments", fn)
		}
		col, err := column(set, strings.TrimSpace(prop))
		if err != nil {
			return scope{}, err
		}
		v, err := parseLiteral(strings.TrimSpace(lit))
		if err != nil {
			return scope{}, err
		}
		str, ok := v.(string)
		if !ok {
			return scope{}, fmt.Errorf("%s needs a string argument", fn)
		}
		pattern := map[string]string{"contains": "%" + str + "%", "startswith": str + "%", "endswith": "%" + str}[fn]
		return scope{Condition: col + " LIKE ?", Args: []any{pattern}}, nil
	}

	fields := strings.SplitN(term, " ", 3)
	if len(fields) == 1 {
		col, err := column(set, term)
		if err != nil {
			return scope{}, err
		}
		return scope{Condition: col + " = ?", Args: []any{true}}, nil
	}
	if len(fields) != 3 {
		return scope{}, fmt.Errorf("unsupported expression %q", term)
	}
	col, err := column(set, fields[0])
	if err != nil {
		return scope{}, err
	}
	op, ok := comparisons[fields[1]]
	if !ok {
		return scope{}, fmt.Errorf("unsupported operator %q", fields[1])
	}
	v, err := parseLiteral(strings.TrimSpace(fields[2]))
	if err != nil {
		return scope{}, err
	}
	if v == nil {
		switch op {
		case "=":
			return scope{Condition: col + " IS NULL"}, nil
		case "<>":
			return scope{Condition: col + " IS NOT NULL"}, nil
		}
		return scope{}, fmt.Errorf("null cannot be compared with %s", fields[1])
	}
	return scope{Condition: col + " " + op + " ?", Args: []any{v}}, nil
}

// parseLiteral reads a URL literal: a quoted string, null, a boolean or a
// number.
func parseLiteral(text string) (any, error) {
	switch {
	case text == "null":
		return nil, nil
	case text == "true":
		return true, nil
	case text == "false":
		return false, nil
	case len(text) >= 2 && strings.HasPrefix(text, "'") && strings.HasSuffix(text, "'"):
		return strings.ReplaceAll(text[1:len(text)-1], "''", "'"), nil
	}
	trimmed := strings.TrimRight(text, "LlMmDdFf")
	if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return n, nil
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return f, nil
	}
	return nil, fmt.Errorf("unsupported literal %q", text)
}
