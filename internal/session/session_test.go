package session

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ponytojas/sensormap/internal/api"
)

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")

	s := New("http://10.0.2.2:8000", "admuser", api.Token{Access: "abc", Refresh: "def"})
	if err := s.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("Expected file mode 0600, got %o", perm)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Username != "admuser" || loaded.AccessToken != "abc" || loaded.RefreshToken != "def" {
		t.Errorf("Unexpected session: %+v", loaded)
	}
	if !loaded.IssuedAt.Equal(s.IssuedAt) {
		t.Errorf("IssuedAt mismatch: %v vs %v", loaded.IssuedAt, s.IssuedAt)
	}

	tok, err := loaded.Token()
	if err != nil || tok != "abc" {
		t.Errorf("Token() = %q, %v", tok, err)
	}
}

func TestSave_TightensExistingPermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.json")
	if err := os.WriteFile(path, []byte(`{"access_token":"old"}`), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, 0644); err != nil {
		t.Fatal(err)
	}

	if err := New("http://api", "admuser", api.Token{Access: "new"}).Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("Expected file mode 0600 after overwrite, got %o", perm)
	}

	loaded, err := Load(path)
	if err != nil || loaded.AccessToken != "new" {
		t.Errorf("Expected new token, got %+v, %v", loaded, err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("Expected no leftover temp files, got %d entries", len(entries))
	}
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if !errors.Is(err, ErrNoSession) {
		t.Errorf("Expected ErrNoSession, got %v", err)
	}
}

func TestLoad_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil || errors.Is(err, ErrNoSession) {
		t.Errorf("Expected decode error, got %v", err)
	}
}

func TestToken_Empty(t *testing.T) {
	var nilSession *Session
	if _, err := nilSession.Token(); !errors.Is(err, api.ErrAuthExpired) {
		t.Errorf("Expected ErrAuthExpired for nil session, got %v", err)
	}

	s := &Session{Username: "x"}
	if _, err := s.Token(); !errors.Is(err, api.ErrAuthExpired) {
		t.Errorf("Expected ErrAuthExpired for empty token, got %v", err)
	}
}

func TestClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	s := New("http://localhost", "u", api.Token{Access: "t"})
	if err := s.Save(path); err != nil {
		t.Fatal(err)
	}

	if err := Clear(path); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Session file still exists after Clear")
	}
	if err := Clear(path); err != nil {
		t.Errorf("Second Clear should be a no-op, got %v", err)
	}
}
