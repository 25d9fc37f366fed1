package repository

import (
	"context"
	"testing"
	"time"

	v1 "github.com/finsight/finsight/pkg/api/v1"
)

func newEntry(message string) *v1.ProgressLog {
	return &v1.ProgressLog{
		Level:     v1.LogLevelInfo,
		Message:   message,
		Timestamp: v1.NewTimestamp(time.Now()),
	}
}

func TestMemoryRepository_AppendAndList(t *testing.T) {
	repo := NewMemoryRepository()
	defer repo.Close()
	ctx := context.Background()

	for _, msg := range []string{"first", "second", "third"} {
		if err := repo.Append(ctx, "session-1", newEntry(msg)); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	entries, err := repo.List(ctx, "session-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, want := range []string{"first", "second", "third"} {
		if entries[i].Message != want {
			t.Errorf("entry %d: expected %q, got %q", i, want, entries[i].Message)
		}
		if entries[i].ID == "" {
			t.Errorf("entry %d: expected a generated ID", i)
		}
	}
}

func TestMemoryRepository_ListUnknownSession(t *testing.T) {
	repo := NewMemoryRepository()
	defer repo.Close()

	entries, err := repo.List(context.Background(), "missing")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty result, got %d entries", len(entries))
	}
}

func TestMemoryRepository_ListReturnsCopies(t *testing.T) {
	repo := NewMemoryRepository()
	defer repo.Close()
	ctx := context.Background()

	if err := repo.Append(ctx, "session-1", newEntry("original")); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	entries, _ := repo.List(ctx, "session-1")
	entries[0].Message = "mutated"

	fresh, _ := repo.List(ctx, "session-1")
	if fresh[0].Message != "original" {
		t.Error("mutating a listed entry must not affect stored state")
	}
}

func TestMemoryRepository_Clear(t *testing.T) {
	repo := NewMemoryRepository()
	defer repo.Close()
	ctx := context.Background()

	if err := repo.Append(ctx, "session-1", newEntry("x")); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := repo.Append(ctx, "session-2", newEntry("y")); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	if err := repo.Clear(ctx, "session-1"); err != nil {
		t.Fatalf("clear failed: %v", err)
	}

	entries, _ := repo.List(ctx, "session-1")
	if len(entries) != 0 {
		t.Errorf("expected session-1 to be empty, got %d entries", len(entries))
	}
	entries, _ = repo.List(ctx, "session-2")
	if len(entries) != 1 {
		t.Errorf("expected session-2 to be untouched, got %d entries", len(entries))
	}
}

func TestMemoryRepository_Sessions(t *testing.T) {
	repo := NewMemoryRepository()
	defer repo.Close()
	ctx := context.Background()

	sessions, err := repo.Sessions(ctx)
	if err != nil {
		t.Fatalf("sessions failed: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected no sessions, got %d", len(sessions))
	}

	_ = repo.Append(ctx, "session-1", newEntry("x"))
	_ = repo.Append(ctx, "session-2", newEntry("y"))

	sessions, _ = repo.Sessions(ctx)
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	seen := map[string]bool{}
	for _, s := range sessions {
		seen[s] = true
	}
	if !seen["session-1"] || !seen["session-2"] {
		t.Errorf("unexpected session list: %v", sessions)
	}
}
