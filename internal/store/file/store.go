// Package file persists agent state as a single JSON document on disk,
// the desktop analogue of browser localStorage.
package file

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"blinkd/internal/domain"
	"blinkd/internal/security/secretbox"
	"blinkd/internal/store"
)

type state struct {
	AccessToken    string          `json:"access_token,omitempty"`
	UnsyncedBlinks json.RawMessage `json:"unsynced_blinks,omitempty"`
}

type Store struct {
	mu   sync.Mutex
	path string
	box  *secretbox.Box
}

// NewStore opens the state file at path. When box is non-nil the bearer
// token is encrypted at rest; the queue stays plaintext, it holds no
// secrets.
func NewStore(path string, box *secretbox.Box) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &Store{path: path, box: box}, nil
}

func (s *Store) LoadQueue() ([]domain.BlinkRecord, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.read()
	if err != nil {
		return nil, 0, err
	}
	if len(st.UnsyncedBlinks) == 0 {
		return nil, 0, nil
	}
	records, dropped := domain.DecodeQueue(st.UnsyncedBlinks)
	return records, dropped, nil
}

func (s *Store) SaveQueue(records []domain.BlinkRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.read()
	if err != nil {
		return err
	}
	if records == nil {
		records = []domain.BlinkRecord{}
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return err
	}
	st.UnsyncedBlinks = raw
	return s.write(st)
}

func (s *Store) LoadToken() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.read()
	if err != nil {
		return "", err
	}
	if st.AccessToken == "" {
		return "", store.ErrNotFound
	}
	if s.box == nil {
		return st.AccessToken, nil
	}
	token, err := s.box.Decrypt(st.AccessToken)
	if err != nil {
		// Stale or foreign ciphertext is the same as no token.
		return "", store.ErrNotFound
	}
	return token, nil
}

func (s *Store) SaveToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.read()
	if err != nil {
		return err
	}
	if s.box != nil {
		token, err = s.box.Encrypt(token)
		if err != nil {
			return err
		}
	}
	st.AccessToken = token
	return s.write(st)
}

func (s *Store) DeleteToken() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.read()
	if err != nil {
		return err
	}
	st.AccessToken = ""
	return s.write(st)
}

// read tolerates a missing or corrupt state file: both come back as
// empty state so a bad file never bricks the agent.
func (s *Store) read() (state, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return state{}, nil
		}
		return state{}, err
	}
	var st state
	if err := json.Unmarshal(raw, &st); err != nil {
		return state{}, nil
	}
	return st, nil
}

func (s *Store) write(st state) error {
	raw, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
