// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/interview-room/internal/domain"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// Repository defines the interface for persisting users, interview messages
// and per-user client state.
type Repository interface {
	// GetUser retrieves a user by their user ID. Returns nil, nil when absent.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// AppendMessage stores one conversation message.
	AppendMessage(ctx context.Context, msg *domain.Message) error

	// ListMessages returns a session's messages ordered by timestamp ascending.
	ListMessages(ctx context.Context, userID, sessionID string) ([]domain.Message, error)

	// GetClientState returns a per-user key/value entry or ErrNotFound.
	GetClientState(ctx context.Context, userID, key string) (string, error)

	// SetClientState creates or replaces a per-user key/value entry.
	SetClientState(ctx context.Context, userID, key, value string) error

	// DeleteClientState removes a per-user key/value entry.
	DeleteClientState(ctx context.Context, userID, key string) error

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

// Open returns the repository for driver: "sqlite" uses dbPath, "postgres"
// uses databaseURL.
func Open(ctx context.Context, driver, dbPath, databaseURL string) (Repository, error) {
	switch driver {
	case "sqlite", "":
		return NewSQLite(dbPath)
	case "postgres":
		return NewPostgres(ctx, databaseURL)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}
