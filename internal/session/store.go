// Package session derives and persists the per-bot conversation session
// identifier that lets a visitor resume a conversation across restarts.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the client-local persistence for session identifiers, keyed by
// bot id. Implementations must be safe for concurrent use.
type Store interface {
	Get(botID string) (string, bool, error)
	Put(botID, sessionID string) error
}

// GetOrCreateSessionID returns the persisted session id for botID, creating
// and persisting a fresh one first if none exists. The id is never rotated:
// ending a conversation keeps it so the next visit resumes the same session.
func GetOrCreateSessionID(store Store, botID string) (string, error) {
	if botID == "" {
		return "", fmt.Errorf("session: botID is required")
	}

	existing, ok, err := store.Get(botID)
	if err != nil {
		return "", fmt.Errorf("session: lookup for bot %s: %w", botID, err)
	}
	if ok && existing != "" {
		return existing, nil
	}

	id := newSessionID()
	if err := store.Put(botID, id); err != nil {
		return "", fmt.Errorf("session: persist for bot %s: %w", botID, err)
	}
	return id, nil
}

// newSessionID builds a time-plus-random identifier. Uniqueness is
// probabilistic; there is no central check.
func newSessionID() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixNano(), uuid.NewString()[:8])
}

// FileStore keeps the botID -> sessionID map in a single JSON file, the
// closest local-storage equivalent for a process on disk.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// DefaultFileStore places the session file under the user config directory.
func DefaultFileStore() (*FileStore, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("session: resolve config dir: %w", err)
	}
	return NewFileStore(filepath.Join(dir, "chat-console", "sessions.json")), nil
}

func (s *FileStore) Get(botID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.load()
	if err != nil {
		return "", false, err
	}
	id, ok := sessions[botID]
	return id, ok, nil
}

func (s *FileStore) Put(botID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.load()
	if err != nil {
		return err
	}
	sessions[botID] = sessionID
	return s.save(sessions)
}

func (s *FileStore) load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read session file: %w", err)
	}

	sessions := map[string]string{}
	if len(data) == 0 {
		return sessions, nil
	}
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, fmt.Errorf("decode session file: %w", err)
	}
	return sessions, nil
}

func (s *FileStore) save(sessions map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	data, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("encode session file: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}

// MemoryStore backs tests and short-lived tooling.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]string)}
}

func (s *MemoryStore) Get(botID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.sessions[botID]
	return id, ok, nil
}

func (s *MemoryStore) Put(botID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[botID] = sessionID
	return nil
}
