package neboa

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/xeipuuv/gojsonschema"

	"github.com/aerotoad/neboa/internal/emitter"
	"github.com/aerotoad/neboa/internal/predicate"
	"github.com/aerotoad/neboa/internal/sqlite"
)

// Collection is a named set of documents backed by one table. Mutations
// commit first and then notify the collection's subscribers before
// returning.
type Collection struct {
	db      *DB
	emitter *emitter.Emitter[Change]

	mu     sync.RWMutex // guards name and schema
	name   string
	schema *gojsonschema.Schema
}

func newCollection(db *DB, name string) *Collection {
	return &Collection{
		db:      db,
		name:    name,
		emitter: emitter.New[Change](),
	}
}

// Name returns the collection name.
func (c *Collection) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

func (c *Collection) table() string {
	return predicate.QuoteIdent(c.Name())
}

// Query starts a query over the collection.
func (c *Collection) Query() *Query {
	return newQuery(c)
}

// Subscribe registers a collection scoped subscription.
func (c *Collection) Subscribe(event Event, cb func(Change)) (*Subscription, error) {
	return NewSubscription(event, ScopeCollection, nil, c, cb)
}

// Insert stores doc under a new identifier and returns the stored
// document. Any "_id" in doc is replaced.
func (c *Collection) Insert(doc Document) (Document, error) {
	obj, data, err := c.prepareDocument(doc, NewID())
	if err != nil {
		return nil, err
	}
	conn, err := c.db.connection()
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	if _, err := conn.Exec(ctx, c.insertSQL(), obj.ID(), string(data)); err != nil {
		return nil, fmt.Errorf("failed to insert document: %w", err)
	}
	return obj, c.emit(EventCreate, Change{Documents: []Document{obj}})
}

// InsertMany stores docs in one transaction and emits a single create
// event for the batch.
func (c *Collection) InsertMany(docs []Document) ([]Document, error) {
	objs := make([]Document, len(docs))
	payloads := make([][]byte, len(docs))
	for i, doc := range docs {
		obj, data, err := c.prepareDocument(doc, NewID())
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		objs[i], payloads[i] = obj, data
	}
	if len(objs) == 0 {
		return objs, nil
	}
	conn, err := c.db.connection()
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	stmt := c.insertSQL()
	err = conn.WithTx(ctx, func(tx *sqlite.Tx) error {
		for i, obj := range objs {
			if _, err := tx.Exec(ctx, stmt, obj.ID(), string(payloads[i])); err != nil {
				return fmt.Errorf("failed to insert document %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return objs, c.emit(EventCreate, Change{Documents: objs})
}

// Update replaces the document stored under id with doc. The identifier
// is kept whatever doc contains. A missing id returns ErrDocumentNotFound.
func (c *Collection) Update(id string, doc Document) (Document, error) {
	obj, data, err := c.prepareDocument(doc, id)
	if err != nil {
		return nil, err
	}
	conn, err := c.db.connection()
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	res, err := conn.Exec(ctx, c.updateSQL(), string(data), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update document: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	return obj, c.emit(EventUpdate, Change{Documents: []Document{obj}})
}

// UpdateMany replaces the documents stored under ids with docs, pairwise,
// in one transaction. Ids that do not exist are skipped; the updated
// documents are returned and emitted as a single update event.
func (c *Collection) UpdateMany(ids []string, docs []Document) ([]Document, error) {
	if len(ids) != len(docs) {
		return nil, fmt.Errorf("%w: %d ids, %d documents", ErrLengthMismatch, len(ids), len(docs))
	}
	objs := make([]Document, len(docs))
	payloads := make([][]byte, len(docs))
	for i, doc := range docs {
		obj, data, err := c.prepareDocument(doc, ids[i])
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		objs[i], payloads[i] = obj, data
	}
	if len(objs) == 0 {
		return objs, nil
	}
	conn, err := c.db.connection()
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	stmt := c.updateSQL()
	updated := make([]Document, 0, len(objs))
	err = conn.WithTx(ctx, func(tx *sqlite.Tx) error {
		for i, obj := range objs {
			res, err := tx.Exec(ctx, stmt, string(payloads[i]), ids[i])
			if err != nil {
				return fmt.Errorf("failed to update document %s: %w", ids[i], err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n > 0 {
				updated = append(updated, obj)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(updated) == 0 {
		return updated, nil
	}
	return updated, c.emit(EventUpdate, Change{Documents: updated})
}

// Delete removes the document stored under id. A missing id returns
// ErrDocumentNotFound.
func (c *Collection) Delete(id string) error {
	conn, err := c.db.connection()
	if err != nil {
		return err
	}
	res, err := conn.Exec(context.Background(), c.deleteSQL(), id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	return c.emit(EventDelete, Change{IDs: []string{id}})
}

// DeleteMany removes the documents stored under ids in one transaction
// and returns how many existed. Only identifiers that were actually
// deleted are emitted.
func (c *Collection) DeleteMany(ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	conn, err := c.db.connection()
	if err != nil {
		return 0, err
	}

	ctx := context.Background()
	stmt := c.deleteSQL()
	deleted := make([]string, 0, len(ids))
	err = conn.WithTx(ctx, func(tx *sqlite.Tx) error {
		for _, id := range ids {
			res, err := tx.Exec(ctx, stmt, id)
			if err != nil {
				return fmt.Errorf("failed to delete document %s: %w", id, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n > 0 {
				deleted = append(deleted, id)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(deleted) == 0 {
		return 0, nil
	}
	return len(deleted), c.emit(EventDelete, Change{IDs: deleted})
}

// Get returns the document stored under id.
func (c *Collection) Get(id string) (Document, error) {
	conn, err := c.db.connection()
	if err != nil {
		return nil, err
	}
	var data string
	err = conn.QueryRow(context.Background(), "SELECT data FROM "+c.table()+" WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return decode([]byte(data))
}

// Drop removes the collection table. Subscriptions on it are detached and
// the handle must not be used afterwards.
func (c *Collection) Drop() error {
	conn, err := c.db.connection()
	if err != nil {
		return err
	}
	name := c.Name()
	if _, err := conn.Exec(context.Background(), "DROP TABLE "+predicate.QuoteIdent(name)); err != nil {
		return fmt.Errorf("failed to drop collection %s: %w", name, err)
	}
	c.db.forget(name)
	c.emitter.Clear()
	c.db.logger.Debug("collection dropped", "collection", name)
	return nil
}

// Rename renames the collection table and its id index. Queries and
// subscriptions created from this handle follow the new name.
func (c *Collection) Rename(newName string) error {
	if !collectionName.MatchString(newName) {
		return fmt.Errorf("%w: %q", ErrInvalidCollectionName, newName)
	}
	conn, err := c.db.connection()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	oldName := c.name
	ctx := context.Background()
	err = conn.WithTx(ctx, func(tx *sqlite.Tx) error {
		stmt := "ALTER TABLE " + predicate.QuoteIdent(oldName) + " RENAME TO " + predicate.QuoteIdent(newName)
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to rename collection %s: %w", oldName, err)
		}
		if _, err := tx.Exec(ctx, "DROP INDEX IF EXISTS "+predicate.QuoteIdent(oldName+"_id")); err != nil {
			return err
		}
		return createIDIndex(ctx, tx, newName)
	})
	if err != nil {
		return err
	}
	c.name = newName
	c.db.rename(oldName, newName, c)
	c.db.logger.Debug("collection renamed", "from", oldName, "to", newName)
	return nil
}

// SetSchema installs a JSON schema that every inserted or updated document
// must satisfy. schema may be JSON text (string or []byte) or a Go value
// encoding to a schema object. nil removes the schema.
func (c *Collection) SetSchema(schema any) error {
	var loader gojsonschema.JSONLoader
	switch s := schema.(type) {
	case nil:
		c.mu.Lock()
		c.schema = nil
		c.mu.Unlock()
		return nil
	case string:
		loader = gojsonschema.NewStringLoader(s)
	case []byte:
		loader = gojsonschema.NewBytesLoader(s)
	default:
		loader = gojsonschema.NewGoLoader(s)
	}
	compiled, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return fmt.Errorf("invalid json schema: %w", err)
	}
	c.mu.Lock()
	c.schema = compiled
	c.mu.Unlock()
	return nil
}

func (c *Collection) validate(doc Document) error {
	c.mu.RLock()
	schema := c.schema
	c.mu.RUnlock()
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(map[string]any(doc)))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}
		return fmt.Errorf("%w: %s", ErrSchemaViolation, strings.Join(errs, "; "))
	}
	return nil
}

// prepareDocument copies doc, stamps id on it, validates it and returns
// the owned copy with its stored JSON text.
func (c *Collection) prepareDocument(doc Document, id string) (Document, []byte, error) {
	obj, err := toObject(doc)
	if err != nil {
		return nil, nil, err
	}
	obj[IDField] = id
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode document: %w", err)
	}
	if err := c.validate(obj); err != nil {
		return nil, nil, err
	}
	return obj, data, nil
}

func (c *Collection) insertSQL() string {
	return "INSERT INTO " + c.table() + " (id, data) VALUES (?, ?)"
}

func (c *Collection) updateSQL() string {
	return "UPDATE " + c.table() + " SET data = ? WHERE id = ?"
}

func (c *Collection) deleteSQL() string {
	return "DELETE FROM " + c.table() + " WHERE id = ?"
}

// emit notifies subscribers of a committed change. A subscriber failure is
// reported as a *NotifyError; the change itself stands.
func (c *Collection) emit(event Event, change Change) error {
	change.Event = event
	change.Collection = c.Name()
	c.db.metrics.IncEvent(change.Collection, string(event))
	c.db.logger.Debug("event", "collection", change.Collection, "event", event, "count", change.Len())

	if err := c.emitter.Emit(string(event), change); err != nil {
		c.db.logger.Warn("subscriber failed", "collection", change.Collection, "event", event, "error", err)
		return &NotifyError{Collection: change.Collection, Event: event, Err: err}
	}
	return nil
}
