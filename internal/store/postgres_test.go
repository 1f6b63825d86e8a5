package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/ashureev/interview-room/internal/domain"
	"github.com/google/uuid"
)

func TestPostgresMessages(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	repo, err := NewPostgres(ctx, url)
	if err != nil {
		t.Fatalf("NewPostgres failed: %v", err)
	}
	defer func() { _ = repo.Close() }()

	userID := "test-" + uuid.NewString()
	sessionID := "session_" + uuid.NewString()
	base := time.Now().UTC().Truncate(time.Millisecond)
	for i, role := range []domain.Role{domain.RoleUser, domain.RoleAssistant} {
		msg := &domain.Message{
			ID: uuid.NewString(), UserID: userID, SessionID: sessionID,
			Role: role, Content: string(role), Timestamp: base.Add(time.Duration(i) * time.Second),
		}
		if err := repo.AppendMessage(ctx, msg); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
	}

	got, err := repo.ListMessages(ctx, userID, sessionID)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(got) != 2 || got[0].Role != domain.RoleUser || got[1].Role != domain.RoleAssistant {
		t.Fatalf("unexpected messages: %+v", got)
	}

	if err := repo.SetClientState(ctx, userID, "sessionId", sessionID); err != nil {
		t.Fatalf("SetClientState failed: %v", err)
	}
	v, err := repo.GetClientState(ctx, userID, "sessionId")
	if err != nil || v != sessionID {
		t.Fatalf("GetClientState = %q, %v", v, err)
	}
}
