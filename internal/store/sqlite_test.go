package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/interview-room/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestSQLiteUserRoundTrip(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	got, err := repo.GetUser(ctx, "missing")
	if err != nil || got != nil {
		t.Fatalf("expected nil user for missing id, got %v, %v", got, err)
	}

	now := time.Now().Truncate(time.Second)
	if err := repo.UpsertUser(ctx, &domain.User{
		UserID: "u1", Username: "anon-1", LastSeenAt: now, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}
	if err := repo.UpdateLastSeen(ctx, "u1", now.Add(time.Minute)); err != nil {
		t.Fatalf("UpdateLastSeen failed: %v", err)
	}

	got, err = repo.GetUser(ctx, "u1")
	if err != nil || got == nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if !got.LastSeenAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("expected last seen to be updated, got %v", got.LastSeenAt)
	}
}

func TestSQLiteListMessagesOrderedAndScoped(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	base := time.UnixMilli(1_700_000_000_000).UTC()
	msgs := []domain.Message{
		{ID: "m1", UserID: "u1", SessionID: "s1", Role: domain.RoleUser, Content: "React and Node", Timestamp: base},
		{ID: "m2", UserID: "u1", SessionID: "s1", Role: domain.RoleAssistant, Content: "What is a hook?", Timestamp: base.Add(time.Second),
			Metadata: domain.MessageMetadata{TokensUsed: 42, ResponseTimeMs: 800}},
		{ID: "m3", UserID: "u1", SessionID: "s2", Role: domain.RoleUser, Content: "other session", Timestamp: base},
		{ID: "m4", UserID: "u2", SessionID: "s1", Role: domain.RoleUser, Content: "other user", Timestamp: base},
	}
	// Insert out of order to exercise ORDER BY.
	for _, i := range []int{1, 0, 2, 3} {
		if err := repo.AppendMessage(ctx, &msgs[i]); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
	}

	first, err := repo.ListMessages(ctx, "u1", "s1")
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(first))
	}
	if first[0].ID != "m1" || first[1].ID != "m2" {
		t.Fatalf("unexpected order: %s, %s", first[0].ID, first[1].ID)
	}
	if first[1].Metadata.TokensUsed != 42 || first[1].Metadata.ResponseTimeMs != 800 {
		t.Fatalf("metadata not persisted: %+v", first[1].Metadata)
	}

	second, err := repo.ListMessages(ctx, "u1", "s1")
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if fmt.Sprint(first) != fmt.Sprint(second) {
		t.Fatal("expected repeated reads to be identical")
	}

	empty, err := repo.ListMessages(ctx, "u1", "nope")
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty slice for unknown session, got %v, %v", empty, err)
	}
}

func TestSQLiteEqualTimestampsKeepInsertionOrder(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	ts := time.UnixMilli(1_700_000_000_000)
	for i := 0; i < 5; i++ {
		msg := &domain.Message{
			ID: fmt.Sprintf("m%d", i), UserID: "u", SessionID: "s",
			Role: domain.RoleUser, Content: fmt.Sprint(i), Timestamp: ts,
		}
		if err := repo.AppendMessage(ctx, msg); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
	}
	got, err := repo.ListMessages(ctx, "u", "s")
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	for i, msg := range got {
		if msg.Content != fmt.Sprint(i) {
			t.Fatalf("position %d has content %q", i, msg.Content)
		}
	}
}

func TestSQLiteClientState(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	if _, err := repo.GetClientState(ctx, "u1", "sessionId"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := repo.SetClientState(ctx, "u1", "sessionId", "session_1"); err != nil {
		t.Fatalf("SetClientState failed: %v", err)
	}
	if err := repo.SetClientState(ctx, "u1", "sessionId", "session_2"); err != nil {
		t.Fatalf("SetClientState overwrite failed: %v", err)
	}
	got, err := repo.GetClientState(ctx, "u1", "sessionId")
	if err != nil || got != "session_2" {
		t.Fatalf("expected session_2, got %q, %v", got, err)
	}
	if err := repo.DeleteClientState(ctx, "u1", "sessionId"); err != nil {
		t.Fatalf("DeleteClientState failed: %v", err)
	}
	if _, err := repo.GetClientState(ctx, "u1", "sessionId"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestSQLiteConcurrentAppends(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- repo.AppendMessage(ctx, &domain.Message{
				ID: fmt.Sprintf("c%d", i), UserID: "u", SessionID: "s",
				Role: domain.RoleUser, Content: "x", Timestamp: time.Now(),
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent append failed: %v", err)
		}
	}
	got, err := repo.ListMessages(ctx, "u", "s")
	if err != nil || len(got) != 20 {
		t.Fatalf("expected 20 messages, got %d, %v", len(got), err)
	}
}

func TestSQLitePragmasApplyToEveryConnection(t *testing.T) {
	t.Parallel()
	db := newTestStore(t).(*SQLiteStore).db
	ctx := context.Background()

	conns := make([]*sql.Conn, 3)
	for i := range conns {
		c, err := db.Conn(ctx)
		if err != nil {
			t.Fatalf("conn %d: %v", i, err)
		}
		defer func() { _ = c.Close() }()
		conns[i] = c
	}

	for i, c := range conns {
		var mode string
		if err := c.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
			t.Fatalf("conn %d journal_mode: %v", i, err)
		}
		if mode != "wal" {
			t.Errorf("conn %d journal_mode = %q, want wal", i, mode)
		}
		var timeout int
		if err := c.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&timeout); err != nil {
			t.Fatalf("conn %d busy_timeout: %v", i, err)
		}
		if timeout != 5000 {
			t.Errorf("conn %d busy_timeout = %d, want 5000", i, timeout)
		}
	}
}
