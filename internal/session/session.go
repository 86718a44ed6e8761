package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ponytojas/sensormap/internal/api"
)

// ErrNoSession is returned by Load when no session file exists.
var ErrNoSession = errors.New("no saved session, run login first")

// Session is the credential object handed to components that make
// authenticated calls.
type Session struct {
	BaseURL      string    `json:"base_url"`
	Username     string    `json:"username"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IssuedAt     time.Time `json:"issued_at"`
}

// New builds a session from a freshly issued token.
func New(baseURL, username string, tok api.Token) *Session {
	return &Session{
		BaseURL:      baseURL,
		Username:     username,
		AccessToken:  tok.Access,
		RefreshToken: tok.Refresh,
		IssuedAt:     time.Now().UTC(),
	}
}

// Token implements api.TokenSource.
func (s *Session) Token() (string, error) {
	if s == nil || s.AccessToken == "" {
		return "", api.ErrAuthExpired
	}
	return s.AccessToken, nil
}

// DefaultPath returns ~/.sensormap/session.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".sensormap", "session.json"), nil
}

// Load reads a session from path.
func Load(path string) (*Session, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("read session: %w", err)
	}

	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", path, err)
	}
	return &s, nil
}

// Save writes the session to path, readable by the owner only.
func (s *Session) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	// Replace the file so a looser mode on an existing one does not survive
	tmp, err := os.CreateTemp(filepath.Dir(path), ".session-*")
	if err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write session: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("write session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// Clear removes the session file. A missing file is not an error.
func Clear(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}
