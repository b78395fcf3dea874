package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// CredentialStore persists the bearer token between process runs.
type CredentialStore interface {
	// Load returns the stored token; ok is false when none is stored.
	Load() (token string, ok bool, err error)
	Save(token string) error
	Clear() error
}

// Theme is the cosmetic UI preference stored next to the token.
type Theme string

const (
	ThemeNordic  Theme = "nordic"
	ThemeVintage Theme = "vintage"
)

type credentialFile struct {
	AccessToken string `json:"access_token,omitempty"`
	Theme       Theme  `json:"theme,omitempty"`
}

// FileCredentialStore keeps the token in a 0600 JSON file. Writes go through
// a temp file and rename so a crash never leaves a torn file.
type FileCredentialStore struct {
	path string
	mu   sync.Mutex
}

// NewFileCredentialStore stores credentials at path. The parent directory
// is created on first write.
func NewFileCredentialStore(path string) *FileCredentialStore {
	return &FileCredentialStore{path: path}
}

func (s *FileCredentialStore) Load() (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.read()
	if err != nil {
		return "", false, err
	}
	return f.AccessToken, f.AccessToken != "", nil
}

func (s *FileCredentialStore) Save(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.read()
	if err != nil {
		return err
	}
	f.AccessToken = token
	return s.write(f)
}

// Clear forgets the token and keeps the theme.
func (s *FileCredentialStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.read()
	if err != nil {
		return err
	}
	if f.AccessToken == "" {
		return nil
	}
	f.AccessToken = ""
	return s.write(f)
}

// Theme returns the stored theme, nordic when unset.
func (s *FileCredentialStore) Theme() (Theme, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.read()
	if err != nil {
		return "", err
	}
	if f.Theme == "" {
		return ThemeNordic, nil
	}
	return f.Theme, nil
}

func (s *FileCredentialStore) SetTheme(theme Theme) error {
	if theme != ThemeNordic && theme != ThemeVintage {
		return fmt.Errorf("unknown theme %q", theme)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.read()
	if err != nil {
		return err
	}
	f.Theme = theme
	return s.write(f)
}

func (s *FileCredentialStore) read() (credentialFile, error) {
	var f credentialFile
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return f, nil
		}
		return f, fmt.Errorf("read credentials: %w", err)
	}
	if len(data) == 0 {
		return f, nil
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return credentialFile{}, fmt.Errorf("parse credentials: %w", err)
	}
	return f, nil
}

func (s *FileCredentialStore) write(f credentialFile) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("write credentials: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

// MemoryCredentialStore is a CredentialStore that does not outlive the process.
type MemoryCredentialStore struct {
	mu    sync.Mutex
	token string
}

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{}
}

func (s *MemoryCredentialStore) Load() (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.token != "", nil
}

func (s *MemoryCredentialStore) Save(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return nil
}

func (s *MemoryCredentialStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	return nil
}
