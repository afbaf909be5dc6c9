package neboa

import (
	"context"
	"fmt"
	"reflect"
	"regexp"

	"github.com/aerotoad/neboa/internal/predicate"
	"github.com/aerotoad/neboa/internal/statement"
)

// Query is a mutable builder over one collection. Constraint methods add
// to the query and return it for chaining; they never fail. Terminal
// methods (Find, Count, First, Last) run it.
type Query struct {
	collection *Collection
	builder    *statement.Builder
	lookups    []Lookup
}

func newQuery(c *Collection) *Query {
	return &Query{
		collection: c,
		builder:    statement.New(c.Name()),
	}
}

// Collection returns the collection the query runs against.
func (q *Query) Collection() *Collection {
	return q.collection
}

// Clone returns an independent copy of the query.
func (q *Query) Clone() *Query {
	c := &Query{
		collection: q.collection,
		builder:    q.builder.Clone(),
	}
	if q.lookups != nil {
		c.lookups = make([]Lookup, len(q.lookups))
		copy(c.lookups, q.lookups)
	}
	return c
}

func (q *Query) where(n predicate.Node) *Query {
	q.builder.Where(n)
	return q
}

// EqualTo matches documents whose field equals value. A slice value
// matches any of its elements and nil matches a missing or null field.
func (q *Query) EqualTo(field string, value any) *Query {
	if isList(value) {
		return q.where(predicate.Comparison{Field: field, Operator: predicate.OpIn, Value: value})
	}
	return q.where(predicate.Comparison{Field: field, Operator: predicate.OpEq, Value: value})
}

// NotEqualTo is the negation of EqualTo.
func (q *Query) NotEqualTo(field string, value any) *Query {
	if isList(value) {
		return q.where(predicate.Comparison{Field: field, Operator: predicate.OpNotIn, Value: value})
	}
	return q.where(predicate.Comparison{Field: field, Operator: predicate.OpNe, Value: value})
}

func (q *Query) GreaterThan(field string, value any) *Query {
	return q.where(predicate.Comparison{Field: field, Operator: predicate.OpGt, Value: value})
}

func (q *Query) GreaterThanOrEqualTo(field string, value any) *Query {
	return q.where(predicate.Comparison{Field: field, Operator: predicate.OpGte, Value: value})
}

func (q *Query) LessThan(field string, value any) *Query {
	return q.where(predicate.Comparison{Field: field, Operator: predicate.OpLt, Value: value})
}

func (q *Query) LessThanOrEqualTo(field string, value any) *Query {
	return q.where(predicate.Comparison{Field: field, Operator: predicate.OpLte, Value: value})
}

// ContainedIn matches documents whose field, or any element of it when it
// is an array, is one of values. values may be any slice; a single value
// is treated as a one element list.
func (q *Query) ContainedIn(field string, values any) *Query {
	return q.where(predicate.Membership{Field: field, Values: toList(values)})
}

// NotContainedIn is the negation of ContainedIn.
func (q *Query) NotContainedIn(field string, values any) *Query {
	return q.where(predicate.Membership{Field: field, Values: toList(values), Negate: true})
}

// Exists matches documents where field is present and not null.
func (q *Query) Exists(field string) *Query {
	return q.where(predicate.Exists{Field: field})
}

// NotExists matches documents where field is missing or null.
func (q *Query) NotExists(field string) *Query {
	return q.where(predicate.Exists{Field: field, Negate: true})
}

// Matches matches documents whose field matches re. Numbers are matched
// against their decimal text. A nil re matches every present field.
func (q *Query) Matches(field string, re *regexp.Regexp) *Query {
	return q.where(predicate.Regex{Field: field, Pattern: patternOf(re)})
}

// DoesNotMatch matches documents whose field does not match re.
func (q *Query) DoesNotMatch(field string, re *regexp.Regexp) *Query {
	return q.where(predicate.Regex{Field: field, Pattern: patternOf(re), Negate: true})
}

func patternOf(re *regexp.Regexp) string {
	if re == nil {
		return ""
	}
	return re.String()
}

// Like matches documents whose field contains substring. SQLite's LIKE is
// case-insensitive for ASCII.
func (q *Query) Like(field, substring string) *Query {
	return q.where(predicate.Like{Field: field, Substring: substring})
}

// And requires the constraints of sub as well. Only the predicate of sub
// is used; its sort, pagination and lookups are ignored.
func (q *Query) And(sub *Query) *Query {
	if sub == nil {
		return q
	}
	q.builder.And(sub.builder.Predicate())
	return q
}

// Or makes the query match documents that satisfy either everything added
// so far or the constraints of sub. Constraints added afterwards apply to
// the combined result and are not folded into sub:
//
//	q.EqualTo("a", 1).Or(sub).EqualTo("c", 3)
//
// matches (a = 1 OR sub) AND c = 3, never a = 1 OR (sub AND c = 3).
func (q *Query) Or(sub *Query) *Query {
	if sub == nil {
		return q
	}
	p := sub.builder.Predicate()
	if p == nil {
		// An unconstrained sub-query matches everything.
		p = predicate.And{}
	}
	q.builder.Or(p)
	return q
}

// Not negates the constraints of sub.
func (q *Query) Not(sub *Query) *Query {
	if sub == nil {
		return q
	}
	return q.where(predicate.Not{Node: sub.builder.Predicate()})
}

// Lookup attaches related documents from other collections to every
// result. See Lookup.
func (q *Query) Lookup(lookups ...Lookup) *Query {
	q.lookups = append(q.lookups, lookups...)
	return q
}

// Limit caps the number of results. A negative n removes the cap.
func (q *Query) Limit(n int) *Query {
	q.builder.Limit(n)
	return q
}

// Skip skips the first n results.
func (q *Query) Skip(n int) *Query {
	q.builder.Skip(n)
	return q
}

// Ascending sorts by field, after any earlier sort keys.
func (q *Query) Ascending(field string) *Query {
	q.builder.Sort(field, statement.Asc)
	return q
}

// Descending sorts by field in reverse, after any earlier sort keys.
func (q *Query) Descending(field string) *Query {
	q.builder.Sort(field, statement.Desc)
	return q
}

// Statement returns the SELECT the query would run.
func (q *Query) Statement() string {
	return q.target().Statement()
}

// String returns the query without pagination, for logs.
func (q *Query) String() string {
	return q.target().String()
}

// target renders against the collection's current name, which changes
// when it is renamed.
func (q *Query) target() *statement.Builder {
	return q.builder.Clone().Retarget(q.collection.Name())
}

// Find runs the query and returns the matching documents in storage
// order, with lookups resolved.
func (q *Query) Find() ([]Document, error) {
	return q.find(context.Background())
}

func (q *Query) find(ctx context.Context) ([]Document, error) {
	conn, err := q.collection.db.connection()
	if err != nil {
		return nil, err
	}
	rows, err := conn.Query(ctx, q.Statement())
	if err != nil {
		return nil, err
	}

	// All rows are read before lookups run: lookups need the connection
	// the open result set holds.
	docs := make([]Document, 0)
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			rows.Close()
			return nil, err
		}
		doc, err := decode([]byte(data))
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("document %s: %w", id, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(q.lookups) == 0 {
		return docs, nil
	}
	for _, doc := range docs {
		for _, l := range q.lookups {
			if err := l.resolve(ctx, q.collection.db, doc); err != nil {
				return nil, err
			}
		}
	}
	return docs, nil
}

// Count returns the number of documents Find would return.
func (q *Query) Count() (int, error) {
	conn, err := q.collection.db.connection()
	if err != nil {
		return 0, err
	}
	var n int
	if err := conn.QueryRow(context.Background(), q.target().Count()).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// First returns the first matching document, or nil when there is none.
// The query itself is not modified.
func (q *Query) First() (Document, error) {
	docs, err := q.Clone().Limit(1).Find()
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

// Last returns the most recently inserted matching document, or nil when
// there is none. Identifiers are time ordered, so this sorts by id
// descending after any sort keys already set.
func (q *Query) Last() (Document, error) {
	c := q.Clone()
	c.builder.SortByID(statement.Desc)
	docs, err := c.Limit(1).Find()
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

// Subscribe registers a query scoped subscription on the query's
// collection. The query is cloned.
func (q *Query) Subscribe(event Event, cb func(Change)) (*Subscription, error) {
	return NewSubscription(event, ScopeQuery, q, q.collection, cb)
}

// isList reports whether v is a slice or array other than raw bytes.
func isList(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice:
		return rv.Type().Elem().Kind() != reflect.Uint8
	case reflect.Array:
		return true
	}
	return false
}

// toList flattens a slice or array into []any. Any other value becomes a
// one element list.
func toList(v any) []any {
	switch t := v.(type) {
	case nil:
		return []any{nil}
	case []any:
		return t
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	}
	if !isList(v) {
		return []any{v}
	}
	rv := reflect.ValueOf(v)
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}
