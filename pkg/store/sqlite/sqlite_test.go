package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tablepilot/tablepilot/pkg/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := &domain.Session{ID: uuid.New().String(), Name: "quarterly sales", Model: "gemini-2.5-flash-lite"}
	if err := s.Create(ctx, sess); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if sess.CreatedAt.IsZero() {
		t.Error("Create() did not set CreatedAt")
	}

	got, err := s.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Name != "quarterly sales" {
		t.Errorf("Name = %q, want quarterly sales", got.Name)
	}

	got.Name = "renamed"
	if err := s.Update(ctx, got); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	got, err = s.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get() after update error: %v", err)
	}
	if got.Name != "renamed" {
		t.Errorf("Name = %q after update, want renamed", got.Name)
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("List() returned %d sessions, want 1", len(list))
	}

	if err := s.Delete(ctx, sess.ID); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := s.Get(ctx, sess.ID); err == nil {
		t.Error("Get() after delete should fail")
	}
	if err := s.Delete(ctx, sess.ID); err == nil {
		t.Error("Delete() of missing session should fail")
	}
}

func TestSetDataset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := &domain.Session{ID: uuid.New().String()}
	if err := s.Create(ctx, sess); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	if err := s.SetDataset(ctx, sess.ID, "sales.csv", "/data/sales.csv", 120, 6); err != nil {
		t.Fatalf("SetDataset() error: %v", err)
	}
	got, err := s.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.DatasetName != "sales.csv" || got.Rows != 120 || got.Cols != 6 {
		t.Errorf("dataset fields = %q/%d/%d, want sales.csv/120/6", got.DatasetName, got.Rows, got.Cols)
	}

	if err := s.SetDataset(ctx, "missing", "x", "y", 1, 1); err == nil {
		t.Error("SetDataset() on missing session should fail")
	}
}

func TestTranscriptAppendAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := &domain.Session{ID: uuid.New().String()}
	if err := s.Create(ctx, sess); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	for i, content := range []string{"first", "second", "third"} {
		entry := &domain.TranscriptEntry{
			ID:        uuid.New().String(),
			SessionID: sess.ID,
			Role:      domain.RoleUser,
			Content:   content,
		}
		if err := s.Append(ctx, entry); err != nil {
			t.Fatalf("Append(%d) error: %v", i, err)
		}
		if entry.Seq != i+1 {
			t.Errorf("Seq = %d, want %d", entry.Seq, i+1)
		}
	}

	entries, err := s.GetEntries(ctx, sess.ID, 0)
	if err != nil {
		t.Fatalf("GetEntries() error: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if entries[0].Content != "first" || entries[2].Content != "third" {
		t.Errorf("entries out of order: %q %q", entries[0].Content, entries[2].Content)
	}

	limited, err := s.GetEntries(ctx, sess.ID, 2)
	if err != nil {
		t.Fatalf("GetEntries(limit) error: %v", err)
	}
	if len(limited) != 2 || limited[0].Content != "second" {
		t.Errorf("limited entries = %+v, want last two in order", limited)
	}
}

func TestTranscriptGetEntriesAfter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := &domain.Session{ID: uuid.New().String()}
	if err := s.Create(ctx, sess); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	var secondID string
	for i, content := range []string{"a", "b", "c"} {
		entry := &domain.TranscriptEntry{
			ID:        uuid.New().String(),
			SessionID: sess.ID,
			Role:      domain.RoleAssistant,
			Content:   content,
		}
		if err := s.Append(ctx, entry); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
		if i == 1 {
			secondID = entry.ID
		}
	}

	after, err := s.GetEntriesAfter(ctx, sess.ID, secondID)
	if err != nil {
		t.Fatalf("GetEntriesAfter() error: %v", err)
	}
	if len(after) != 1 || after[0].Content != "c" {
		t.Errorf("after = %+v, want just c", after)
	}

	// Unknown afterID falls back to the full transcript.
	all, err := s.GetEntriesAfter(ctx, sess.ID, "no-such-id")
	if err != nil {
		t.Fatalf("GetEntriesAfter(unknown) error: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("got %d entries for unknown afterID, want 3", len(all))
	}
}

func TestSubscribeNotifiesOnAppend(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := &domain.Session{ID: uuid.New().String()}
	if err := s.Create(ctx, sess); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	ch := s.Subscribe()
	err := s.Append(ctx, &domain.TranscriptEntry{
		ID:        uuid.New().String(),
		SessionID: sess.ID,
		Role:      domain.RoleUser,
		Content:   "hello",
	})
	if err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	select {
	case id := <-ch:
		if id != sess.ID {
			t.Errorf("notified %q, want %q", id, sess.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("no notification received")
	}
}
