package store

import (
	"testing"

	"github.com/loamdev/loam/internal/entity"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := InitDB(t.TempDir())
	if err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := Open(db)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return s
}

func TestStore_ThreadRoundTrip(t *testing.T) {
	s := openTestStore(t)

	th := entity.Thread{ID: "t1", Title: "hello", LastMessageAt: 100}
	if err := s.UpsertThread(th); err != nil {
		t.Fatalf("UpsertThread failed: %v", err)
	}

	got, ok := s.Thread("t1")
	if !ok {
		t.Fatal("Thread(t1) not found after upsert")
	}
	if got.Title != "hello" {
		t.Errorf("Title = %q, want %q", got.Title, "hello")
	}

	if err := s.RemoveThread("t1"); err != nil {
		t.Fatalf("RemoveThread failed: %v", err)
	}
	if _, ok := s.Thread("t1"); ok {
		t.Error("Thread(t1) still present after remove")
	}
}

func TestStore_ThreadsOrderedByRecency(t *testing.T) {
	s := openTestStore(t)

	for _, th := range []entity.Thread{
		{ID: "old", LastMessageAt: 10},
		{ID: "new", LastMessageAt: 30},
		{ID: "mid", LastMessageAt: 20},
	} {
		if err := s.UpsertThread(th); err != nil {
			t.Fatalf("UpsertThread failed: %v", err)
		}
	}

	got := s.Threads()
	if len(got) != 3 {
		t.Fatalf("Threads() length = %d, want 3", len(got))
	}
	if got[0].ID != "new" || got[1].ID != "mid" || got[2].ID != "old" {
		t.Errorf("order = [%s %s %s], want [new mid old]", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestStore_MessagesByThreadChronological(t *testing.T) {
	s := openTestStore(t)

	for _, m := range []entity.Message{
		{ID: "m2", ThreadID: "t1", CreatedAt: 200},
		{ID: "m1", ThreadID: "t1", CreatedAt: 100},
		{ID: "mx", ThreadID: "t2", CreatedAt: 150},
	} {
		if err := s.UpsertMessage(m); err != nil {
			t.Fatalf("UpsertMessage failed: %v", err)
		}
	}

	got := s.MessagesByThread("t1")
	if len(got) != 2 {
		t.Fatalf("MessagesByThread(t1) length = %d, want 2", len(got))
	}
	if got[0].ID != "m1" || got[1].ID != "m2" {
		t.Errorf("order = [%s %s], want [m1 m2]", got[0].ID, got[1].ID)
	}
}

func TestStore_RemoveMessagesByThread(t *testing.T) {
	s := openTestStore(t)

	for i, threadID := range []string{"t1", "t1", "t1", "t2"} {
		m := entity.Message{ID: entity.MustNewID(), ThreadID: threadID, CreatedAt: int64(i)}
		if err := s.UpsertMessage(m); err != nil {
			t.Fatalf("UpsertMessage failed: %v", err)
		}
	}

	removed, err := s.RemoveMessagesByThread("t1")
	if err != nil {
		t.Fatalf("RemoveMessagesByThread failed: %v", err)
	}
	if removed != 3 {
		t.Errorf("removed = %d, want 3", removed)
	}
	if len(s.MessagesByThread("t1")) != 0 {
		t.Error("t1 messages remain after cascade removal")
	}
	if len(s.MessagesByThread("t2")) != 1 {
		t.Error("t2 messages should be untouched")
	}
}

func TestStore_SummaryLineage(t *testing.T) {
	s := openTestStore(t)

	sum := entity.MessageSummary{ID: "s1", ThreadID: "t1", MessageID: "m1", Content: "short"}
	if err := s.UpsertSummary(sum); err != nil {
		t.Fatalf("UpsertSummary failed: %v", err)
	}

	got, ok := s.SummaryByMessage("m1")
	if !ok || got.ID != "s1" {
		t.Errorf("SummaryByMessage(m1) = %v, %v; want s1, true", got.ID, ok)
	}

	removed, err := s.RemoveSummariesByThread("t1")
	if err != nil {
		t.Fatalf("RemoveSummariesByThread failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
}

func TestStore_ProjectsOrderedByName(t *testing.T) {
	s := openTestStore(t)

	for _, p := range []entity.Project{
		{ID: "p2", Name: "Beta"},
		{ID: "p1", Name: "Alpha"},
	} {
		if err := s.UpsertProject(p); err != nil {
			t.Fatalf("UpsertProject failed: %v", err)
		}
	}

	got := s.Projects()
	if len(got) != 2 || got[0].Name != "Alpha" || got[1].Name != "Beta" {
		t.Errorf("Projects() = %v, want sorted by name", got)
	}
}

func TestStore_HydrateFromMirror(t *testing.T) {
	tmpDir := t.TempDir()

	db, err := InitDB(tmpDir)
	if err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}

	s, err := Open(db)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	projectID := "p1"
	if err := s.UpsertThread(entity.Thread{ID: "t1", Title: "persisted", ProjectID: &projectID}); err != nil {
		t.Fatalf("UpsertThread failed: %v", err)
	}
	if err := s.UpsertMessage(entity.Message{ID: "m1", ThreadID: "t1", Role: entity.RoleUser}); err != nil {
		t.Fatalf("UpsertMessage failed: %v", err)
	}
	db.Close()

	// Reopen: the in-memory tables must be rebuilt from the mirror.
	db2, err := InitDB(tmpDir)
	if err != nil {
		t.Fatalf("InitDB (reopen) failed: %v", err)
	}
	defer db2.Close()

	s2, err := Open(db2)
	if err != nil {
		t.Fatalf("Open (reopen) failed: %v", err)
	}

	th, ok := s2.Thread("t1")
	if !ok {
		t.Fatal("thread lost across restart")
	}
	if th.Title != "persisted" || th.ProjectID == nil || *th.ProjectID != "p1" {
		t.Errorf("rehydrated thread = %+v, want title/projectID preserved", th)
	}
	if len(s2.MessagesByThread("t1")) != 1 {
		t.Error("message lost across restart")
	}
	if !th.Priority() {
		t.Error("project-scoped thread should stay priority after rehydration")
	}
}

func TestStore_Counts(t *testing.T) {
	s := openTestStore(t)

	if err := s.UpsertThread(entity.Thread{ID: "t1"}); err != nil {
		t.Fatalf("UpsertThread failed: %v", err)
	}
	if err := s.UpsertProject(entity.Project{ID: "p1", Name: "x"}); err != nil {
		t.Fatalf("UpsertProject failed: %v", err)
	}

	counts := s.Counts()
	if counts[entity.TypeThread] != 1 || counts[entity.TypeProject] != 1 || counts[entity.TypeMessage] != 0 {
		t.Errorf("Counts() = %v", counts)
	}
}
