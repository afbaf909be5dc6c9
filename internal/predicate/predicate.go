// Package predicate implements the predicate tree used to constrain
// collection queries.
//
// Constraints contributed by the fluent query API are kept as typed nodes
// (Comparison, Membership, Exists, Regex, Like) combined with logical nodes
// (And, Or, Not). The tree is rendered to a SQLite WHERE expression over the
// JSON payload column only when a statement is built, so sub-queries can be
// composed structurally and literal escaping stays confined to the leaves.
package predicate

import (
	"strings"
)

// DataColumn is the JSON payload column of every collection table.
const DataColumn = "data"

// Operator represents a comparison operator.
type Operator string

const (
	OpEq    Operator = "="
	OpNe    Operator = "!="
	OpGt    Operator = ">"
	OpGte   Operator = ">="
	OpLt    Operator = "<"
	OpLte   Operator = "<="
	OpIn    Operator = "IN"
	OpNotIn Operator = "NOT IN"
)

// Node is a node of a predicate tree. It is a closed interface: only the
// types of this package implement it.
type Node interface {
	render(b *strings.Builder)
}

// Comparison compares the value extracted at Field with a literal.
type Comparison struct {
	Field    string
	Operator Operator
	Value    interface{}
}

// Membership tests whether the value at Field, or any element of it when it
// is an array, is one of Values.
type Membership struct {
	Field  string
	Values []interface{}
	Negate bool
}

// Exists tests that Field is present and not a JSON null.
type Exists struct {
	Field  string
	Negate bool
}

// Regex tests the value at Field against a regular expression through the
// host regexp function.
type Regex struct {
	Field   string
	Pattern string
	Negate  bool
}

// Like tests whether the value at Field contains Substring.
type Like struct {
	Field     string
	Substring string
}

// And is satisfied when every child is. An empty And is always true.
type And struct {
	Nodes []Node
}

// Or is satisfied when any child is. An empty Or is always false.
type Or struct {
	Nodes []Node
}

// Not negates its child.
type Not struct {
	Node Node
}

// Render returns the SQL expression for n. A nil node renders as the
// always-true predicate.
func Render(n Node) string {
	if n == nil {
		return "1=1"
	}
	var b strings.Builder
	n.render(&b)
	return b.String()
}

// Path returns the JSON path expression for a document field. Dotted names
// address nested objects.
func Path(field string) string {
	path := "$"
	if field != "" {
		path += "." + field
	}
	return "json_extract(" + DataColumn + ", " + Quote(path) + ")"
}

// Conjoin ANDs nodes, flattening nested Ands and dropping nils.
func Conjoin(nodes ...Node) Node {
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		switch t := n.(type) {
		case nil:
		case And:
			out = append(out, t.Nodes...)
		default:
			out = append(out, n)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return And{Nodes: out}
}

// Disjoin ORs nodes, flattening nested Ors and dropping nils.
func Disjoin(nodes ...Node) Node {
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		switch t := n.(type) {
		case nil:
		case Or:
			out = append(out, t.Nodes...)
		default:
			out = append(out, n)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return Or{Nodes: out}
}

func (n Comparison) render(b *strings.Builder) {
	b.WriteString(Path(n.Field))
	if n.Value == nil {
		switch n.Operator {
		case OpEq, OpIn:
			b.WriteString(" IS NULL")
			return
		case OpNe, OpNotIn:
			b.WriteString(" IS NOT NULL")
			return
		}
	}
	b.WriteByte(' ')
	b.WriteString(string(n.Operator))
	b.WriteByte(' ')
	if n.Operator == OpIn || n.Operator == OpNotIn {
		b.WriteByte('(')
		b.WriteString(Literal(n.Value))
		b.WriteByte(')')
		return
	}
	b.WriteString(Literal(n.Value))
}

func (n Membership) render(b *strings.Builder) {
	if n.Negate {
		b.WriteString("NOT ")
	}
	b.WriteString("EXISTS (SELECT 1 FROM json_each(")
	b.WriteString(DataColumn)
	b.WriteString(", ")
	b.WriteString(Quote("$." + n.Field))
	b.WriteString(") WHERE value IN (")
	b.WriteString(Literal(n.Values))
	b.WriteString("))")
}

func (n Exists) render(b *strings.Builder) {
	b.WriteString(Path(n.Field))
	if n.Negate {
		b.WriteString(" IS NULL")
	} else {
		b.WriteString(" IS NOT NULL")
	}
}

func (n Regex) render(b *strings.Builder) {
	b.WriteString(Path(n.Field))
	if n.Negate {
		b.WriteString(" NOT")
	}
	b.WriteString(" REGEXP ")
	b.WriteString(Quote(n.Pattern))
}

func (n Like) render(b *strings.Builder) {
	b.WriteString(Path(n.Field))
	b.WriteString(" LIKE ")
	b.WriteString(Quote("%" + EscapeLike(n.Substring) + "%"))
	b.WriteString(` ESCAPE '\'`)
}

func (n And) render(b *strings.Builder) {
	renderList(b, n.Nodes, " AND ", "1=1")
}

func (n Or) render(b *strings.Builder) {
	renderList(b, n.Nodes, " OR ", "1=0")
}

func (n Not) render(b *strings.Builder) {
	b.WriteString("NOT (")
	b.WriteString(Render(n.Node))
	b.WriteByte(')')
}

func renderList(b *strings.Builder, nodes []Node, sep, empty string) {
	switch len(nodes) {
	case 0:
		b.WriteString(empty)
	case 1:
		nodes[0].render(b)
	default:
		for i, child := range nodes {
			if i > 0 {
				b.WriteString(sep)
			}
			b.WriteByte('(')
			child.render(b)
			b.WriteByte(')')
		}
	}
}

// EscapeLike escapes the LIKE wildcards of s using backslash as the escape
// character.
func EscapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
