package neboa

import (
	"errors"
	"strings"
	"testing"

	"github.com/goccy/go-json"
)

func TestInsertAndGet(t *testing.T) {
	db := openTestDB(t)
	users := testCollection(t, db, "users")

	input := Document{"name": "ada", "age": 36, "_id": "caller-chosen"}
	doc, err := users.Insert(input)
	if err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}
	if len(doc.ID()) != 24 {
		t.Errorf("id = %q, want 24 hex characters", doc.ID())
	}
	if doc.ID() == "caller-chosen" {
		t.Error("Insert should assign its own identifier")
	}
	if input["_id"] != "caller-chosen" {
		t.Error("Insert should not modify the caller's document")
	}
	if doc["age"] != float64(36) {
		t.Errorf("age = %#v, want float64(36)", doc["age"])
	}

	got, err := users.Get(doc.ID())
	if err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	if got["name"] != "ada" || got.ID() != doc.ID() {
		t.Errorf("Get() = %v", got)
	}

	if _, err := users.Get("missing"); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrDocumentNotFound", err)
	}
}

func TestInsertInvalidDocument(t *testing.T) {
	db := openTestDB(t)
	users := testCollection(t, db, "users")

	if _, err := users.Insert(nil); !errors.Is(err, ErrInvalidDocument) {
		t.Errorf("Insert(nil) error = %v, want ErrInvalidDocument", err)
	}
	if _, err := users.Insert(Document{"bad": make(chan int)}); !errors.Is(err, ErrInvalidDocument) {
		t.Errorf("Insert(chan) error = %v, want ErrInvalidDocument", err)
	}
	if _, err := users.InsertMany([]Document{{"ok": true}, nil}); !errors.Is(err, ErrInvalidDocument) {
		t.Errorf("InsertMany with nil error = %v, want ErrInvalidDocument", err)
	}
	if n, _ := users.Query().Count(); n != 0 {
		t.Errorf("count = %d, invalid input must not store anything", n)
	}
}

func TestToDocument(t *testing.T) {
	type user struct {
		Name string `json:"name"`
		Age  int    `json:"age"`
	}
	doc, err := ToDocument(user{Name: "ada", Age: 36})
	if err != nil {
		t.Fatalf("ToDocument failed: %v", err)
	}
	if doc["name"] != "ada" || doc["age"] != float64(36) {
		t.Errorf("ToDocument() = %v", doc)
	}

	for _, bad := range []any{nil, []int{1, 2}, "text", 42, (*user)(nil)} {
		if _, err := ToDocument(bad); !errors.Is(err, ErrInvalidDocument) {
			t.Errorf("ToDocument(%#v) error = %v, want ErrInvalidDocument", bad, err)
		}
	}

	var back user
	if err := doc.Decode(&back); err != nil || back.Name != "ada" || back.Age != 36 {
		t.Errorf("Decode() = %+v, %v", back, err)
	}
}

func TestEscapingRoundTrip(t *testing.T) {
	db := openTestDB(t)
	c := testCollection(t, db, "strings")

	values := []string{
		`it's`,
		`"double"`,
		"back`tick",
		`back\slash`,
		`\'`,
		"line\nbreak",
		"tab\there",
		"carriage\rreturn",
		"back\bspace",
		"form\ffeed",
		"bell\a",
		"nul\x00byte",
		"unicode ✓ ñ 日本",
		"<html>&amp;",
		"'; DROP TABLE strings; --",
		"%_wild",
	}

	for _, v := range values {
		doc, err := c.Insert(Document{"value": v})
		if err != nil {
			t.Fatalf("Failed to insert %q: %v", v, err)
		}
		got, err := c.Get(doc.ID())
		if err != nil {
			t.Fatalf("Failed to get %q: %v", v, err)
		}
		if got["value"] != v {
			t.Errorf("round trip %q -> %q", v, got["value"])
		}

		if strings.ContainsRune(v, 0) {
			continue
		}
		found, err := c.Query().EqualTo("value", v).Find()
		if err != nil {
			t.Fatalf("EqualTo(%q) failed: %v", v, err)
		}
		if len(found) != 1 || found[0]["value"] != v {
			t.Errorf("EqualTo(%q) found %v", v, found)
		}
	}

	if n, err := c.Query().Count(); err != nil || n != len(values) {
		t.Errorf("count = %d, %v; want %d", n, err, len(values))
	}
}

func TestInsertMany(t *testing.T) {
	db := openTestDB(t)
	users := testCollection(t, db, "users")

	var events []Change
	if _, err := users.Subscribe(EventCreate, func(c Change) { events = append(events, c) }); err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	docs, err := users.InsertMany([]Document{{"n": 1}, {"n": 2}, {"n": 3}})
	if err != nil {
		t.Fatalf("Failed to insert many: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("got %d documents, want 3", len(docs))
	}
	if len(events) != 1 || len(events[0].Documents) != 3 {
		t.Fatalf("want one create event with 3 documents, got %+v", events)
	}

	empty, err := users.InsertMany(nil)
	if err != nil || len(empty) != 0 || len(events) != 1 {
		t.Errorf("InsertMany(nil) = %v, %v with %d events", empty, err, len(events))
	}
}

func TestInsertManyRollsBack(t *testing.T) {
	db := openTestDB(t)
	users := testCollection(t, db, "users")

	_, err := db.Conn().Exec(`CREATE TRIGGER reject_bad BEFORE INSERT ON users
		WHEN json_extract(NEW.data, '$.bad') = 1
		BEGIN SELECT RAISE(ABORT, 'bad document'); END`)
	if err != nil {
		t.Fatalf("Failed to create trigger: %v", err)
	}

	fired := 0
	users.Subscribe(EventCreate, func(Change) { fired++ })

	if _, err := users.InsertMany([]Document{{"ok": 1}, {"bad": 1}}); err == nil {
		t.Fatal("InsertMany should fail")
	}
	if n, _ := users.Query().Count(); n != 0 {
		t.Errorf("count = %d, a failed batch must leave no rows", n)
	}
	if fired != 0 {
		t.Errorf("failed batch emitted %d events", fired)
	}
}

func TestUpdateManyRollsBack(t *testing.T) {
	db := openTestDB(t)
	users := testCollection(t, db, "users")

	docs, err := users.InsertMany([]Document{{"name": "ada"}, {"name": "alan"}})
	if err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}
	_, err = db.Conn().Exec(`CREATE TRIGGER reject_bad BEFORE UPDATE ON users
		WHEN json_extract(NEW.data, '$.bad') = 1
		BEGIN SELECT RAISE(ABORT, 'bad document'); END`)
	if err != nil {
		t.Fatalf("Failed to create trigger: %v", err)
	}

	fired := 0
	users.Subscribe(EventUpdate, func(Change) { fired++ })

	_, err = users.UpdateMany(
		[]string{docs[0].ID(), docs[1].ID()},
		[]Document{{"name": "ada lovelace"}, {"name": "alan", "bad": 1}},
	)
	if err == nil {
		t.Fatal("UpdateMany should fail")
	}
	got, err := users.Get(docs[0].ID())
	if err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	if got["name"] != "ada" {
		t.Errorf("name = %v, a failed batch must leave earlier rows unchanged", got["name"])
	}
	if n, _ := users.Query().Exists("bad").Count(); n != 0 {
		t.Errorf("%d rows carry the rejected change", n)
	}
	if fired != 0 {
		t.Errorf("failed batch emitted %d events", fired)
	}
}

func TestDeleteManyRollsBack(t *testing.T) {
	db := openTestDB(t)
	users := testCollection(t, db, "users")

	docs, err := users.InsertMany([]Document{{"name": "ada"}, {"name": "alan", "locked": 1}})
	if err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}
	_, err = db.Conn().Exec(`CREATE TRIGGER keep_locked BEFORE DELETE ON users
		WHEN json_extract(OLD.data, '$.locked') = 1
		BEGIN SELECT RAISE(ABORT, 'locked document'); END`)
	if err != nil {
		t.Fatalf("Failed to create trigger: %v", err)
	}

	fired := 0
	users.Subscribe(EventDelete, func(Change) { fired++ })

	if _, err := users.DeleteMany([]string{docs[0].ID(), docs[1].ID()}); err == nil {
		t.Fatal("DeleteMany should fail")
	}
	if n, _ := users.Query().Count(); n != 2 {
		t.Errorf("count = %d, a failed batch must delete nothing", n)
	}
	if fired != 0 {
		t.Errorf("failed batch emitted %d events", fired)
	}
}

func TestLargeIntegersKeepPrecision(t *testing.T) {
	db := openTestDB(t)
	users := testCollection(t, db, "users")

	const big = int64(9007199254740993) // 2^53 + 1
	doc, err := users.Insert(Document{"n": big, "small": 42})
	if err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}
	if doc["n"] != json.Number("9007199254740993") {
		t.Errorf("inserted n = %#v", doc["n"])
	}

	got, err := users.Get(doc.ID())
	if err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	if got["n"] != json.Number("9007199254740993") {
		t.Errorf("n = %#v, want json.Number 9007199254740993", got["n"])
	}
	if got["small"] != float64(42) {
		t.Errorf("small = %#v, want float64 42", got["small"])
	}

	n, err := users.Query().EqualTo("n", big).Count()
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
	if n, _ := users.Query().EqualTo("n", big-1).Count(); n != 0 {
		t.Errorf("neighbouring value matched %d documents", n)
	}
}

func TestUpdate(t *testing.T) {
	db := openTestDB(t)
	users := testCollection(t, db, "users")

	doc, err := users.Insert(Document{"name": "ada", "age": 36})
	if err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}

	updated, err := users.Update(doc.ID(), Document{"name": "ada", "age": 37, "_id": "hijack"})
	if err != nil {
		t.Fatalf("Failed to update: %v", err)
	}
	if updated.ID() != doc.ID() {
		t.Errorf("Update changed the id to %s", updated.ID())
	}

	got, err := users.Get(doc.ID())
	if err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	if got["age"] != float64(37) || got.ID() != doc.ID() {
		t.Errorf("stored document = %v", got)
	}
	if n, _ := users.Query().EqualTo("_id", "hijack").Count(); n != 0 {
		t.Error("no document may carry the id from the update payload")
	}

	if _, err := users.Update("missing", Document{"x": 1}); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("Update(missing) error = %v, want ErrDocumentNotFound", err)
	}
	if _, err := users.Update(doc.ID(), nil); !errors.Is(err, ErrInvalidDocument) {
		t.Errorf("Update(nil) error = %v, want ErrInvalidDocument", err)
	}
}

func TestUpdateMany(t *testing.T) {
	db := openTestDB(t)
	users := testCollection(t, db, "users")

	docs, err := users.InsertMany([]Document{{"n": 1}, {"n": 2}})
	if err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}

	var events []Change
	users.Subscribe(EventUpdate, func(c Change) { events = append(events, c) })

	ids := []string{docs[0].ID(), "missing", docs[1].ID()}
	updated, err := users.UpdateMany(ids, []Document{{"n": 10}, {"n": 99}, {"n": 20}})
	if err != nil {
		t.Fatalf("Failed to update many: %v", err)
	}
	if len(updated) != 2 {
		t.Fatalf("updated %d documents, want 2 (missing id skipped)", len(updated))
	}
	if len(events) != 1 || len(events[0].Documents) != 2 {
		t.Errorf("want one update event with 2 documents, got %+v", events)
	}
	if n, _ := users.Query().Count(); n != 2 {
		t.Errorf("count = %d, UpdateMany must not insert", n)
	}

	if _, err := users.UpdateMany([]string{"a"}, nil); !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("UpdateMany length mismatch error = %v", err)
	}
}

func TestDeleteAndCount(t *testing.T) {
	db := openTestDB(t)
	users := testCollection(t, db, "users")

	var ids []string
	for i := 0; i < 10; i++ {
		doc, err := users.Insert(Document{"i": i})
		if err != nil {
			t.Fatalf("Failed to insert: %v", err)
		}
		ids = append(ids, doc.ID())
	}

	if err := users.Delete(ids[0]); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if err := users.Delete(ids[0]); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("second Delete error = %v, want ErrDocumentNotFound", err)
	}

	n, err := users.DeleteMany([]string{ids[1], ids[2], "missing", ids[1]})
	if err != nil {
		t.Fatalf("Failed to delete many: %v", err)
	}
	if n != 2 {
		t.Errorf("DeleteMany = %d, want 2", n)
	}

	count, err := users.Query().Count()
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if count != 10-3 {
		t.Errorf("count = %d, want 7", count)
	}
}

func TestSchema(t *testing.T) {
	db := openTestDB(t)
	users := testCollection(t, db, "users")

	schema := `{
		"type": "object",
		"required": ["name"],
		"properties": {
			"name": {"type": "string"},
			"age": {"type": "integer", "minimum": 0}
		}
	}`
	if err := users.SetSchema(schema); err != nil {
		t.Fatalf("Failed to set schema: %v", err)
	}

	if _, err := users.Insert(Document{"name": "ada", "age": 36}); err != nil {
		t.Errorf("valid document rejected: %v", err)
	}
	if _, err := users.Insert(Document{"age": 3}); !errors.Is(err, ErrSchemaViolation) {
		t.Errorf("missing name error = %v, want ErrSchemaViolation", err)
	}
	if _, err := users.Insert(Document{"name": "x", "age": -1}); !errors.Is(err, ErrSchemaViolation) {
		t.Errorf("negative age error = %v, want ErrSchemaViolation", err)
	}
	if err := users.SetSchema(`{"type": 12}`); err == nil {
		t.Error("invalid schema should be rejected")
	}

	if err := users.SetSchema(nil); err != nil {
		t.Fatalf("Failed to clear schema: %v", err)
	}
	if _, err := users.Insert(Document{"age": 3}); err != nil {
		t.Errorf("document rejected after clearing schema: %v", err)
	}
}

func TestRenameAndDrop(t *testing.T) {
	db := openTestDB(t)
	users := testCollection(t, db, "users")
	if _, err := users.Insert(Document{"name": "ada"}); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}
	q := users.Query().EqualTo("name", "ada")

	if err := users.Rename("people"); err != nil {
		t.Fatalf("Failed to rename: %v", err)
	}
	if users.Name() != "people" {
		t.Errorf("Name() = %s after rename", users.Name())
	}
	if n, err := q.Count(); err != nil || n != 1 {
		t.Errorf("query after rename = %d, %v", n, err)
	}
	people := testCollection(t, db, "people")
	if people != users {
		t.Error("renamed handle should be returned under the new name")
	}
	if err := users.Rename("no way"); !errors.Is(err, ErrInvalidCollectionName) {
		t.Errorf("Rename(invalid) error = %v", err)
	}

	if err := users.Drop(); err != nil {
		t.Fatalf("Failed to drop: %v", err)
	}
	ok, err := db.HasCollection("people")
	if err != nil || ok {
		t.Errorf("HasCollection after drop = %v, %v", ok, err)
	}
}
