package neboa

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/aerotoad/neboa/internal/emitter"
)

// Event is the kind of mutation a subscription listens to.
type Event string

const (
	EventCreate Event = "create"
	EventUpdate Event = "update"
	EventDelete Event = "delete"
)

func (e Event) valid() bool {
	switch e {
	case EventCreate, EventUpdate, EventDelete:
		return true
	}
	return false
}

// Scope selects what a subscription filters on.
type Scope string

const (
	// ScopeCollection forwards every change of the collection.
	ScopeCollection Scope = "collection"
	// ScopeQuery forwards only documents matching a query.
	ScopeQuery Scope = "query"
)

// Change is delivered to subscription callbacks. Create and update changes
// carry the affected documents; delete changes carry identifiers only.
type Change struct {
	Event      Event
	Collection string
	Documents  []Document
	IDs        []string
}

// Len returns the number of affected documents.
func (c Change) Len() int {
	if c.Event == EventDelete {
		return len(c.IDs)
	}
	return len(c.Documents)
}

// Identifiers returns the ids of the affected documents for every kind of
// change.
func (c Change) Identifiers() []string {
	if c.IDs != nil {
		return c.IDs
	}
	ids := make([]string, len(c.Documents))
	for i, doc := range c.Documents {
		ids[i] = doc.ID()
	}
	return ids
}

// Subscription binds a callback to one event of a collection. It is
// active from construction until Unsubscribe.
type Subscription struct {
	id         string
	event      Event
	scope      Scope
	query      *Query
	collection *Collection
	callback   func(Change)
	listener   *emitter.Listener[Change]

	mu     sync.Mutex
	active bool
}

// NewSubscription registers callback for event on collection. For
// ScopeQuery, query is cloned so later changes to it do not affect the
// subscription, and the callback receives only documents the query
// matches. Delete events carry identifiers only and are forwarded for
// both scopes, since deleted rows can no longer be matched.
func NewSubscription(event Event, scope Scope, query *Query, collection *Collection, callback func(Change)) (*Subscription, error) {
	if !event.valid() {
		return nil, fmt.Errorf("%w: unknown event %q", ErrInvalidSubscription, event)
	}
	if collection == nil {
		return nil, fmt.Errorf("%w: nil collection", ErrInvalidSubscription)
	}
	if callback == nil {
		return nil, fmt.Errorf("%w: nil callback", ErrInvalidSubscription)
	}

	s := &Subscription{
		id:         uuid.NewString(),
		event:      event,
		scope:      scope,
		collection: collection,
		callback:   callback,
		active:     true,
	}

	switch scope {
	case ScopeCollection:
		s.listener = emitter.NewListener(s.forwardChange)
	case ScopeQuery:
		if query == nil {
			return nil, fmt.Errorf("%w: query scope requires a query", ErrInvalidSubscription)
		}
		if query.collection != collection {
			return nil, fmt.Errorf("%w: query belongs to collection %s", ErrInvalidSubscription, query.collection.Name())
		}
		s.query = query.Clone()
		s.listener = emitter.NewListener(s.matchChange)
	default:
		return nil, fmt.Errorf("%w: unknown scope %q", ErrInvalidSubscription, scope)
	}

	collection.emitter.On(string(event), s.listener)
	collection.db.logger.Debug("subscribed", "collection", collection.Name(), "event", event, "scope", scope, "subscription", s.id)
	return s, nil
}

// ID returns the subscription identifier.
func (s *Subscription) ID() string { return s.id }

// Event returns the event the subscription listens to.
func (s *Subscription) Event() Event { return s.event }

// Scope returns the subscription scope.
func (s *Subscription) Scope() Scope { return s.scope }

// Collection returns the collection the subscription is bound to.
func (s *Subscription) Collection() *Collection { return s.collection }

// Active reports whether the subscription still receives changes.
func (s *Subscription) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Unsubscribe detaches the subscription. Further calls do nothing.
func (s *Subscription) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.active = false
	s.collection.emitter.Off(string(s.event), s.listener)
	s.collection.db.logger.Debug("unsubscribed", "collection", s.collection.Name(), "subscription", s.id)
}

func (s *Subscription) forwardChange(change Change) error {
	s.collection.db.metrics.IncNotification(string(s.scope), string(s.event), true)
	s.callback(change)
	return nil
}

func (s *Subscription) matchChange(change Change) error {
	if change.Event == EventDelete {
		// Deleted rows cannot be re-queried.
		fired := len(change.IDs) > 0
		s.collection.db.metrics.IncNotification(string(s.scope), string(s.event), fired)
		if fired {
			s.callback(change)
		}
		return nil
	}

	q := s.query.Clone().ContainedIn(IDField, change.Identifiers())
	docs, err := q.Find()
	if err != nil {
		return fmt.Errorf("subscription %s: %w", s.id, err)
	}
	fired := len(docs) > 0
	s.collection.db.metrics.IncNotification(string(s.scope), string(s.event), fired)
	if !fired {
		return nil
	}
	s.callback(Change{
		Event:      change.Event,
		Collection: change.Collection,
		Documents:  docs,
	})
	return nil
}
