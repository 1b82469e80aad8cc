package remote

import (
	"context"
	"testing"

	"github.com/loamdev/loam/internal/errors"
)

func seedThreads(t *testing.T, g *MemoryGateway) {
	t.Helper()
	ctx := context.Background()
	docs := []Document{
		{"title": "alpha", "pinned": true, "last_message_at": float64(300)},
		{"title": "beta", "pinned": false, "last_message_at": float64(100)},
		{"title": "gamma", "pinned": false, "project_id": "p1", "last_message_at": float64(200)},
	}
	for i, doc := range docs {
		id := string(rune('a' + i))
		if _, err := g.Create(ctx, "threads", id, doc); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}
}

func TestMemoryGateway_ListFiltersAndOrder(t *testing.T) {
	g := NewMemoryGateway()
	seedThreads(t, g)
	ctx := context.Background()

	pinned, err := g.List(ctx, "threads", Query{Filters: []Filter{Eq("pinned", true)}})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(pinned) != 1 || pinned[0]["title"] != "alpha" {
		t.Errorf("pinned filter = %v, want only alpha", pinned)
	}

	scoped, err := g.List(ctx, "threads", Query{Filters: []Filter{NotNull("project_id")}})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(scoped) != 1 || scoped[0]["title"] != "gamma" {
		t.Errorf("not_null filter = %v, want only gamma", scoped)
	}

	ordered, err := g.List(ctx, "threads", Query{OrderBy: "last_message_at", Desc: true})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(ordered) != 3 {
		t.Fatalf("List length = %d, want 3", len(ordered))
	}
	if ordered[0]["title"] != "alpha" || ordered[1]["title"] != "gamma" || ordered[2]["title"] != "beta" {
		t.Errorf("desc order = [%v %v %v], want [alpha gamma beta]",
			ordered[0]["title"], ordered[1]["title"], ordered[2]["title"])
	}
}

func TestMemoryGateway_Pagination(t *testing.T) {
	g := NewMemoryGateway()
	seedThreads(t, g)
	ctx := context.Background()

	q := Query{OrderBy: "last_message_at", Desc: true, Limit: 2}
	page0, err := g.List(ctx, "threads", q)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	q.Offset = 2
	page1, err := g.List(ctx, "threads", q)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	if len(page0) != 2 || len(page1) != 1 {
		t.Fatalf("page sizes = %d, %d; want 2, 1", len(page0), len(page1))
	}
	seen := map[any]bool{}
	for _, doc := range append(page0, page1...) {
		if seen[doc["id"]] {
			t.Errorf("id %v appears on two pages", doc["id"])
		}
		seen[doc["id"]] = true
	}

	q.Offset = 10
	empty, err := g.List(ctx, "threads", q)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("offset past end = %v, want empty", empty)
	}
}

func TestMemoryGateway_PartialUpdate(t *testing.T) {
	g := NewMemoryGateway()
	ctx := context.Background()

	if _, err := g.Create(ctx, "threads", "t1", Document{"title": "old", "pinned": true}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	updated, err := g.Update(ctx, "threads", "t1", Document{"title": "new"})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated["title"] != "new" {
		t.Errorf("title = %v, want new", updated["title"])
	}
	if updated["pinned"] != true {
		t.Error("untouched field clobbered by partial update")
	}

	// A nil field value clears the field.
	cleared, err := g.Update(ctx, "threads", "t1", Document{"project_id": nil})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if _, present := cleared["project_id"]; present {
		t.Error("nil update should remove the field")
	}
}

func TestMemoryGateway_NotFound(t *testing.T) {
	g := NewMemoryGateway()
	ctx := context.Background()

	if _, err := g.Get(ctx, "threads", "nope"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Get missing = %v, want NOT_FOUND", err)
	}
	if _, err := g.Update(ctx, "threads", "nope", Document{"title": "x"}); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Update missing = %v, want NOT_FOUND", err)
	}
	if err := g.Delete(ctx, "threads", "nope"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Delete missing = %v, want NOT_FOUND", err)
	}
}

func TestMemoryGateway_ListCopiesDocuments(t *testing.T) {
	g := NewMemoryGateway()
	ctx := context.Background()

	if _, err := g.Create(ctx, "threads", "t1", Document{"title": "original"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	docs, err := g.List(ctx, "threads", Query{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	docs[0]["title"] = "mutated"

	again, err := g.Get(ctx, "threads", "t1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if again["title"] != "original" {
		t.Error("caller mutation leaked into stored document")
	}
}
