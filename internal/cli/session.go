package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"empirion/internal/auth"
)

var ErrNoSession = errors.New("no saved session")

// expirySkew refreshes a little before GoTrue would reject the token.
const expirySkew = 30 * time.Second

type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	Email        string    `json:"email"`
	UserID       string    `json:"user_id"`
	Name         string    `json:"name,omitempty"`
}

// NewSession converts a GoTrue token response into the on-disk form.
func NewSession(s auth.Session, now time.Time) Session {
	out := Session{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		Email:        s.User.Email,
		UserID:       s.User.ID,
		Name:         s.User.DisplayName(),
	}
	if s.ExpiresIn > 0 {
		out.ExpiresAt = now.Add(time.Duration(s.ExpiresIn) * time.Second).UTC()
	}
	return out
}

// Expired reports whether the access token should be refreshed before use.
// Sessions without an expiry are trusted until the API says otherwise.
func (s Session) Expired(now time.Time) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(expirySkew).Before(s.ExpiresAt)
}

// Apply copies refreshed tokens over the session, keeping the old refresh
// token when GoTrue does not rotate it.
func (s *Session) Apply(fresh auth.Session, now time.Time) {
	next := NewSession(fresh, now)
	s.AccessToken = next.AccessToken
	s.ExpiresAt = next.ExpiresAt
	if next.RefreshToken != "" {
		s.RefreshToken = next.RefreshToken
	}
}

// Dir is where the CLI keeps its session and drafts database. Tests point it
// at a temp dir through EMPIRION_HOME.
func Dir() (string, error) {
	dir := strings.TrimSpace(os.Getenv("EMPIRION_HOME"))
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".empirion")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

func sessionPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "session.json"), nil
}

// SaveSession writes through a temp file so a crash never leaves a torn session.
func SaveSession(s Session) error {
	path, err := sessionPath()
	if err != nil {
		return err
	}
	body, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func LoadSession() (Session, error) {
	path, err := sessionPath()
	if err != nil {
		return Session{}, err
	}
	body, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Session{}, ErrNoSession
	}
	if err != nil {
		return Session{}, err
	}
	var s Session
	if err := json.Unmarshal(body, &s); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}
	if strings.TrimSpace(s.AccessToken) == "" {
		return Session{}, ErrNoSession
	}
	return s, nil
}

func ClearSession() error {
	path, err := sessionPath()
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
