// Package statement renders SELECT and COUNT statements for one collection
// table from a predicate tree, sort terms and pagination.
package statement

import (
	"strconv"
	"strings"

	"github.com/aerotoad/neboa/internal/predicate"
)

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

// IDColumn is the primary key column of every collection table.
const IDColumn = "id"

// sortTerm is one ORDER BY term. expr is already rendered SQL.
type sortTerm struct {
	expr string
	dir  Direction
}

// Builder accumulates the pieces of a statement against one table.
// The zero limit/offset state renders as "no limit" and "no offset".
type Builder struct {
	table  string
	where  predicate.Node
	sorts  []sortTerm
	limit  int
	offset int
}

// New creates a builder for the given table with an always-true predicate.
func New(table string) *Builder {
	return &Builder{
		table:  table,
		limit:  -1,
		offset: 0,
	}
}

// Table returns the table the builder renders statements for.
func (b *Builder) Table() string {
	return b.table
}

// Retarget points the builder at another table, for collections that
// were renamed after the builder was created.
func (b *Builder) Retarget(table string) *Builder {
	b.table = table
	return b
}

// Where ANDs n onto the accumulated predicate.
func (b *Builder) Where(n predicate.Node) *Builder {
	return b.And(n)
}

// And ANDs n onto the accumulated predicate.
func (b *Builder) And(n predicate.Node) *Builder {
	if n == nil {
		return b
	}
	if b.where == nil {
		b.where = n
		return b
	}
	b.where = predicate.Conjoin(b.where, n)
	return b
}

// Or ORs n with everything accumulated so far. Constraints added later are
// ANDed onto the combined predicate.
func (b *Builder) Or(n predicate.Node) *Builder {
	if n == nil {
		return b
	}
	if b.where == nil {
		b.where = n
		return b
	}
	b.where = predicate.Disjoin(b.where, n)
	return b
}

// Predicate returns the accumulated predicate, nil when unconstrained.
func (b *Builder) Predicate() predicate.Node {
	return b.where
}

// Sort appends an ORDER BY term on a document field. Repeated calls
// compound.
func (b *Builder) Sort(field string, dir Direction) *Builder {
	b.sorts = append(b.sorts, sortTerm{expr: predicate.Path(field), dir: dir})
	return b
}

// SortByID appends an ORDER BY term on the primary key column.
func (b *Builder) SortByID(dir Direction) *Builder {
	b.sorts = append(b.sorts, sortTerm{expr: IDColumn, dir: dir})
	return b
}

// Limit sets the maximum number of rows. A negative value removes the limit.
func (b *Builder) Limit(n int) *Builder {
	if n < 0 {
		n = -1
	}
	b.limit = n
	return b
}

// Skip sets the number of rows to skip. A negative value is treated as 0.
func (b *Builder) Skip(n int) *Builder {
	if n < 0 {
		n = 0
	}
	b.offset = n
	return b
}

// Statement renders the SELECT statement.
func (b *Builder) Statement() string {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(IDColumn)
	sb.WriteString(", ")
	sb.WriteString(predicate.DataColumn)
	sb.WriteString(" FROM ")
	sb.WriteString(predicate.QuoteIdent(b.table))
	b.writeTail(&sb)
	return sb.String()
}

// Count renders a statement returning the number of rows Statement would
// return.
func (b *Builder) Count() string {
	var sb strings.Builder
	sb.WriteString("SELECT COUNT(*) FROM (SELECT 1 FROM ")
	sb.WriteString(predicate.QuoteIdent(b.table))
	b.writeTail(&sb)
	sb.WriteByte(')')
	return sb.String()
}

// String renders the statement without pagination.
func (b *Builder) String() string {
	return "SELECT " + IDColumn + ", " + predicate.DataColumn +
		" FROM " + predicate.QuoteIdent(b.table) +
		" WHERE " + predicate.Render(b.where)
}

func (b *Builder) writeTail(sb *strings.Builder) {
	sb.WriteString(" WHERE ")
	sb.WriteString(predicate.Render(b.where))
	for i, s := range b.sorts {
		if i == 0 {
			sb.WriteString(" ORDER BY ")
		} else {
			sb.WriteString(", ")
		}
		sb.WriteString(s.expr)
		sb.WriteByte(' ')
		sb.WriteString(string(s.dir))
	}
	sb.WriteString(" LIMIT ")
	sb.WriteString(strconv.Itoa(b.limit))
	sb.WriteString(" OFFSET ")
	sb.WriteString(strconv.Itoa(b.offset))
}

// Clone returns an independent copy. Predicate nodes are immutable values,
// so sharing them is safe; the sort list is copied.
func (b *Builder) Clone() *Builder {
	c := *b
	if b.sorts != nil {
		c.sorts = make([]sortTerm, len(b.sorts))
		copy(c.sorts, b.sorts)
	}
	return &c
}
