package interview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ashureev/interview-room/internal/store"
)

// SessionKey is the client-state key under which the session ID is kept.
const SessionKey = "sessionId"

// SessionStore persists the current session ID across reloads. Get returns
// an empty string when nothing is stored.
type SessionStore interface {
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, sessionID string) error
	Clear(ctx context.Context) error
}

// MemoryStore keeps the session ID in process memory.
type MemoryStore struct {
	mu sync.Mutex
	id string
}

// Get returns the stored session ID.
func (m *MemoryStore) Get(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id, nil
}

// Set stores a session ID.
func (m *MemoryStore) Set(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.id = sessionID
	return nil
}

// Clear forgets the session ID.
func (m *MemoryStore) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.id = ""
	return nil
}

// FileStore keeps the session ID in a small JSON file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

type fileState struct {
	SessionID string `json:"sessionId"`
}

// Get returns the stored session ID.
func (f *FileStore) Get(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read session file: %w", err)
	}
	var st fileState
	if err := json.Unmarshal(data, &st); err != nil {
		return "", fmt.Errorf("decode session file: %w", err)
	}
	return st.SessionID, nil
}

// Set stores a session ID.
func (f *FileStore) Set(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	data, err := json.Marshal(fileState{SessionID: sessionID})
	if err != nil {
		return fmt.Errorf("encode session file: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}

// Clear removes the session file.
func (f *FileStore) Clear(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

// RepoStore keeps a user's session ID in the repository's client state.
type RepoStore struct {
	repo   store.Repository
	userID string
	key    string
}

// NewRepoStore returns a store for userID. key distinguishes browser tabs;
// an empty key uses SessionKey.
func NewRepoStore(repo store.Repository, userID, key string) *RepoStore {
	if key == "" {
		key = SessionKey
	}
	return &RepoStore{repo: repo, userID: userID, key: key}
}

// Get returns the stored session ID.
func (r *RepoStore) Get(ctx context.Context) (string, error) {
	v, err := r.repo.GetClientState(ctx, r.userID, r.key)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	return v, err
}

// Set stores a session ID.
func (r *RepoStore) Set(ctx context.Context, sessionID string) error {
	return r.repo.SetClientState(ctx, r.userID, r.key, sessionID)
}

// Clear forgets the session ID.
func (r *RepoStore) Clear(ctx context.Context) error {
	return r.repo.DeleteClientState(ctx, r.userID, r.key)
}
