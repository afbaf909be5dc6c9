package neboa

import (
	"reflect"
	"sort"
	"strings"
	"testing"
)

type blog struct {
	users, posts, comments *Collection
	alice, bob             Document
	posts3                 []Document
}

func seedBlog(t *testing.T, db *DB) *blog {
	t.Helper()
	b := &blog{
		users:    testCollection(t, db, "users"),
		posts:    testCollection(t, db, "posts"),
		comments: testCollection(t, db, "comments"),
	}

	var err error
	b.posts3, err = b.posts.InsertMany([]Document{
		{"title": "first", "rank": 3},
		{"title": "second", "rank": 1},
		{"title": "third", "rank": 2},
	})
	if err != nil {
		t.Fatalf("Failed to insert posts: %v", err)
	}
	ids := []any{b.posts3[0].ID(), b.posts3[1].ID(), b.posts3[2].ID()}

	b.alice, err = b.users.Insert(Document{"name": "alice", "postIds": ids})
	if err != nil {
		t.Fatalf("Failed to insert user: %v", err)
	}
	b.bob, err = b.users.Insert(Document{"name": "bob", "postIds": []any{}, "bestFriend": b.alice.ID()})
	if err != nil {
		t.Fatalf("Failed to insert user: %v", err)
	}

	for _, p := range b.posts3 {
		if _, err := b.posts.Update(p.ID(), Document{"title": p["title"], "rank": p["rank"], "authorId": b.alice.ID()}); err != nil {
			t.Fatalf("Failed to update post: %v", err)
		}
	}
	if _, err := b.comments.InsertMany([]Document{
		{"postId": b.posts3[0].ID(), "text": "nice"},
		{"postId": b.posts3[0].ID(), "text": "great"},
		{"postId": b.posts3[1].ID(), "text": "meh"},
	}); err != nil {
		t.Fatalf("Failed to insert comments: %v", err)
	}
	return b
}

func titles(docs []Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i], _ = d["title"].(string)
	}
	return out
}

func TestLookupArray(t *testing.T) {
	db := openTestDB(t)
	b := seedBlog(t, db)

	// An unrelated post must not be attached.
	if _, err := b.posts.Insert(Document{"title": "stray"}); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}

	docs, err := b.users.Query().
		Ascending("name").
		Lookup(Lookup{From: "posts", LocalField: "postIds", ForeignField: "_id", As: "posts"}).
		Find()
	if err != nil {
		t.Fatalf("Failed to find: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d users, want 2", len(docs))
	}

	posts, ok := docs[0]["posts"].([]Document)
	if !ok {
		t.Fatalf("posts = %T, want []Document", docs[0]["posts"])
	}
	got := titles(posts)
	sort.Strings(got)
	if !reflect.DeepEqual(got, []string{"first", "second", "third"}) {
		t.Errorf("alice posts = %v", got)
	}

	empty, ok := docs[1]["posts"].([]Document)
	if !ok || len(empty) != 0 {
		t.Errorf("bob posts = %#v, want an empty list", docs[1]["posts"])
	}
}

func TestLookupScalar(t *testing.T) {
	db := openTestDB(t)
	b := seedBlog(t, db)

	posts, err := b.posts.Query().
		Lookup(Lookup{From: "users", LocalField: "authorId", ForeignField: "_id", As: "author"}).
		Find()
	if err != nil {
		t.Fatalf("Failed to find: %v", err)
	}
	for _, p := range posts {
		author, ok := p["author"].(Document)
		if !ok || author["name"] != "alice" {
			t.Errorf("post %v author = %v", p["title"], p["author"])
		}
	}

	// A value with no match and a missing local field both attach nil.
	users, err := b.users.Query().
		Lookup(
			Lookup{From: "users", LocalField: "bestFriend", ForeignField: "_id", As: "friend"},
			Lookup{From: "posts", LocalField: "name", ForeignField: "title", As: "namesake"},
		).
		Ascending("name").
		Find()
	if err != nil {
		t.Fatalf("Failed to find: %v", err)
	}
	if users[0]["friend"] != nil {
		t.Errorf("alice has no best friend, got %v", users[0]["friend"])
	}
	if friend, ok := users[1]["friend"].(Document); !ok || friend.ID() != b.alice.ID() {
		t.Errorf("bob friend = %v", users[1]["friend"])
	}
	if _, present := users[0]["namesake"]; !present || users[0]["namesake"] != nil {
		t.Errorf("namesake should be attached as nil, got %v", users[0]["namesake"])
	}
}

func TestLookupNarrowing(t *testing.T) {
	db := openTestDB(t)
	b := seedBlog(t, db)

	user, err := b.users.Query().
		EqualTo("name", "alice").
		Lookup(Lookup{
			From:         "posts",
			LocalField:   "postIds",
			ForeignField: "_id",
			As:           "top",
			Sort:         []SortField{{Field: "rank", Direction: SortAsc}},
			Skip:         1,
			Limit:        1,
		}).
		First()
	if err != nil {
		t.Fatalf("Failed to find: %v", err)
	}
	top, _ := user["top"].([]Document)
	if got := titles(top); !reflect.DeepEqual(got, []string{"third"}) {
		t.Errorf("top = %v, want [third]", got)
	}

	user, err = b.users.Query().
		EqualTo("name", "alice").
		Lookup(Lookup{
			From:         "posts",
			LocalField:   "postIds",
			ForeignField: "_id",
			As:           "posts",
			Sort:         []SortField{{Field: "rank", Direction: SortDesc}},
		}).
		First()
	if err != nil {
		t.Fatalf("Failed to find: %v", err)
	}
	posts, _ := user["posts"].([]Document)
	if got := titles(posts); !reflect.DeepEqual(got, []string{"first", "third", "second"}) {
		t.Errorf("posts by rank desc = %v", got)
	}
}

func TestLookupNarrowingIgnoredForScalar(t *testing.T) {
	db := openTestDB(t)
	b := seedBlog(t, db)

	posts, err := b.posts.Query().
		Lookup(Lookup{
			From:         "users",
			LocalField:   "authorId",
			ForeignField: "_id",
			As:           "author",
			Sort:         []SortField{{Field: "name", Direction: SortDesc}},
			Skip:         1,
			Limit:        5,
		}).
		Find()
	if err != nil {
		t.Fatalf("Failed to find: %v", err)
	}
	if len(posts) != 3 {
		t.Fatalf("got %d posts, want 3", len(posts))
	}
	for _, p := range posts {
		author, ok := p["author"].(Document)
		if !ok || author.ID() != b.alice.ID() {
			t.Errorf("post %v author = %v, want alice despite Skip", p["title"], p["author"])
		}
	}
}

func TestLookupNested(t *testing.T) {
	db := openTestDB(t)
	b := seedBlog(t, db)

	// Comments point at posts, so the nested lookup goes from a post id to
	// the comment holding it.
	user, err := b.users.Query().
		EqualTo("name", "alice").
		Lookup(Lookup{
			From:         "posts",
			LocalField:   "postIds",
			ForeignField: "_id",
			As:           "posts",
			Sort:         []SortField{{Field: "rank", Direction: SortDesc}},
			Lookups: []Lookup{
				{From: "comments", LocalField: "_id", ForeignField: "postId", As: "firstComment"},
				{From: "users", LocalField: "authorId", ForeignField: "_id", As: "author"},
			},
		}).
		First()
	if err != nil {
		t.Fatalf("Failed to find: %v", err)
	}
	posts, _ := user["posts"].([]Document)
	if len(posts) != 3 {
		t.Fatalf("got %d posts, want 3", len(posts))
	}
	first, ok := posts[0]["firstComment"].(Document)
	if !ok || !strings.Contains("nice great", first["text"].(string)) {
		t.Errorf("first post comment = %v", posts[0]["firstComment"])
	}
	if posts[2]["firstComment"] == nil {
		t.Errorf("second post should have a comment")
	}
	if posts[1]["firstComment"] != nil {
		t.Errorf("third post has no comments, got %v", posts[1]["firstComment"])
	}
	for _, p := range posts {
		if a, ok := p["author"].(Document); !ok || a["name"] != "alice" {
			t.Errorf("nested author = %v", p["author"])
		}
	}
}

func TestLookupRequiresFields(t *testing.T) {
	db := openTestDB(t)
	b := seedBlog(t, db)

	_, err := b.users.Query().Lookup(Lookup{From: "posts", LocalField: "postIds", As: "posts"}).Find()
	if err == nil {
		t.Fatal("lookup without ForeignField should fail")
	}
}

func TestLookupCreatesForeignCollection(t *testing.T) {
	db := openTestDB(t)
	users := testCollection(t, db, "users")
	if _, err := users.Insert(Document{"groupId": "g1"}); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}

	docs, err := users.Query().Lookup(Lookup{From: "groups", LocalField: "groupId", ForeignField: "_id", As: "group"}).Find()
	if err != nil {
		t.Fatalf("Failed to find: %v", err)
	}
	if docs[0]["group"] != nil {
		t.Errorf("group = %v, want nil", docs[0]["group"])
	}
	if ok, _ := db.HasCollection("groups"); !ok {
		t.Error("the foreign collection should exist after the lookup")
	}
}
