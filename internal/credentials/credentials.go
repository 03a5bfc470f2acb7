// Package credentials stores the forge API token on disk.
package credentials

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	credentialsDir  = ".plugtrack"
	credentialsFile = "credentials.json"
)

type credentialsDoc struct {
	Token string `json:"token"`
}

// FileStore keeps the token in a JSON file under the root directory.
// It satisfies the forge client's TokenProvider interface.
type FileStore struct {
	path string

	mu    sync.RWMutex
	token string
}

// Open loads the token store rooted at dir. A missing file is not an
// error; the store starts unauthenticated.
func Open(dir string) (*FileStore, error) {
	s := &FileStore{path: filepath.Join(dir, credentialsDir, credentialsFile)}

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	var doc credentialsDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	s.token = doc.Token
	return s, nil
}

// Token returns the stored token, or "" when unauthenticated.
func (s *FileStore) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// SetToken persists a new token. The file is written with owner-only
// permissions because the token is replayed verbatim on API calls.
func (s *FileStore) SetToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	data, err := json.MarshalIndent(credentialsDoc{Token: token}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	s.token = token
	return nil
}

// Clear removes the stored token and its file.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove credentials: %w", err)
	}
	s.token = ""
	return nil
}
