package neboa

import (
	"context"
	"fmt"

	"github.com/aerotoad/neboa/internal/statement"
)

// SortDirection orders lookup results.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// SortField is one sort key of a lookup.
type SortField struct {
	Field     string
	Direction SortDirection
}

// Lookup joins documents of another collection into query results after
// they are fetched.
//
// For every result, the value at LocalField is matched against
// ForeignField of the From collection and the matches are stored under
// As. When the local value is an array, every foreign document whose
// ForeignField is any of its elements is attached as a []Document. When
// it is a scalar, the first match is attached as a Document, or nil. A
// missing or null local value attaches nil without querying. Limit, Skip
// and Sort narrow the matches of an array local value and are ignored for
// a scalar one. Lookups are resolved on the matches in turn.
type Lookup struct {
	From         string
	LocalField   string
	ForeignField string
	As           string
	Limit        int // 0 means no limit
	Skip         int
	Sort         []SortField
	Lookups      []Lookup
}

func (l Lookup) resolve(ctx context.Context, db *DB, doc Document) error {
	if l.From == "" || l.LocalField == "" || l.ForeignField == "" || l.As == "" {
		return fmt.Errorf("lookup requires From, LocalField, ForeignField and As: %+v", l)
	}

	local, ok := doc.Get(l.LocalField)
	if !ok || local == nil {
		doc[l.As] = nil
		return nil
	}

	foreign, err := db.Collection(l.From)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", l.As, err)
	}
	q := foreign.Query()
	if len(l.Lookups) > 0 {
		q.Lookup(l.Lookups...)
	}

	if isList(local) {
		values := toList(local)
		if len(values) == 0 {
			doc[l.As] = []Document{}
			return nil
		}
		// Narrowing only shapes the matches of a list-valued local field.
		for _, s := range l.Sort {
			if s.Direction == SortDesc {
				q.builder.Sort(s.Field, statement.Desc)
			} else {
				q.builder.Sort(s.Field, statement.Asc)
			}
		}
		if l.Skip > 0 {
			q.Skip(l.Skip)
		}
		if l.Limit > 0 {
			q.Limit(l.Limit)
		}
		matches, err := q.ContainedIn(l.ForeignField, values).find(ctx)
		if err != nil {
			return fmt.Errorf("lookup %s: %w", l.As, err)
		}
		doc[l.As] = matches
		return nil
	}

	matches, err := q.EqualTo(l.ForeignField, local).Limit(1).find(ctx)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", l.As, err)
	}
	if len(matches) == 0 {
		doc[l.As] = nil
		return nil
	}
	doc[l.As] = matches[0]
	return nil
}
