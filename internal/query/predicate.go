// Package query compiles user-supplied filter, sort and pagination parameters
// into parameterized SQL fragments for the auction search. Column names only
// ever come from constants in this package; every user value is bound as a
// positional parameter.
package query

import (
	"fmt"
	"strings"
)

type Op string

const (
	OpEq    Op = "="
	OpGte   Op = ">="
	OpLte   Op = "<="
	OpGt    Op = ">"
	OpLt    Op = "<"
	OpILike Op = "ILIKE"
)

// Expr is a node of the predicate tree. Implementations write themselves into
// a builder; values never reach the SQL text.
type Expr interface {
	build(b *builder)
}

// Cmp compares a trusted column expression against one bound value.
type Cmp struct {
	Column string
	Op     Op
	Value  any
}

// And conjoins its children. An empty And compiles to TRUE.
type And []Expr

// Or disjoins its children. An empty Or compiles to FALSE.
type Or []Expr

// Raw is a trusted SQL fragment written by this package, with '?' marking
// each bound argument in order.
type Raw struct {
	SQL  string
	Args []any
}

// Exists compiles to an EXISTS subquery on a table correlated with the
// auction row through its auction_id column.
type Exists struct {
	Table  string
	Cond   Expr // optional extra condition inside the subquery
	Negate bool
}

type builder struct {
	sql  strings.Builder
	args []any
	next int // next positional parameter index
}

func (b *builder) bind(v any) {
	b.args = append(b.args, v)
	fmt.Fprintf(&b.sql, "$%d", b.next)
	b.next++
}

func (c Cmp) build(b *builder) {
	b.sql.WriteString(c.Column)
	b.sql.WriteByte(' ')
	b.sql.WriteString(string(c.Op))
	b.sql.WriteByte(' ')
	b.bind(c.Value)
}

func (a And) build(b *builder) {
	if len(a) == 0 {
		b.sql.WriteString("TRUE")
		return
	}
	buildJoined(b, a, " AND ")
}

func (o Or) build(b *builder) {
	if len(o) == 0 {
		b.sql.WriteString("FALSE")
		return
	}
	buildJoined(b, o, " OR ")
}

func buildJoined(b *builder, exprs []Expr, sep string) {
	for i, e := range exprs {
		if i > 0 {
			b.sql.WriteString(sep)
		}
		b.sql.WriteByte('(')
		e.build(b)
		b.sql.WriteByte(')')
	}
}

func (r Raw) build(b *builder) {
	argIdx := 0
	for _, ch := range r.SQL {
		if ch == '?' {
			b.bind(r.Args[argIdx])
			argIdx++
			continue
		}
		b.sql.WriteRune(ch)
	}
}

func (e Exists) build(b *builder) {
	if e.Negate {
		b.sql.WriteString("NOT ")
	}
	fmt.Fprintf(&b.sql, "EXISTS (SELECT 1 FROM %s WHERE %s.auction_id = auction.auction_id", e.Table, e.Table)
	if e.Cond != nil {
		b.sql.WriteString(" AND (")
		e.Cond.build(b)
		b.sql.WriteByte(')')
	}
	b.sql.WriteByte(')')
}

// Compile renders the predicate tree to a SQL boolean expression with
// positional parameters starting at startIdx, plus the bound values in order.
func Compile(e Expr, startIdx int) (string, []any) {
	b := &builder{next: startIdx}
	e.build(b)
	return b.sql.String(), b.args
}

// anyOf disjoins one column against each supplied value. A single value
// collapses to a plain comparison.
func anyOf(column string, op Op, values []string) Expr {
	if len(values) == 1 {
		return Cmp{Column: column, Op: op, Value: values[0]}
	}
	or := make(Or, 0, len(values))
	for _, v := range values {
		or = append(or, Cmp{Column: column, Op: op, Value: v})
	}
	return or
}
