// Package credentials remembers the player's hub login. Logins live in the
// OS keychain; hosts without a keyring service use a JSON file instead.
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/zalando/go-keyring"
)

var (
	// ErrNotFound is returned when no login is stored for a player.
	ErrNotFound = errors.New("credentials: no login stored")
	// ErrExpired is returned, once, for a login past its expiry. The stale
	// record is removed.
	ErrExpired = errors.New("credentials: stored login expired")
)

// Login is a hub login remembered for one player.
type Login struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the token is past its expiry. A login without an
// expiry never expires.
func (l Login) Expired(now time.Time) bool {
	return !l.ExpiresAt.IsZero() && !now.Before(l.ExpiresAt)
}

// vault stores one opaque blob per account.
type vault interface {
	get(account string) (string, error)
	set(account, blob string) error
	remove(account string) error
}

type keychain struct {
	service string
}

func (k keychain) get(account string) (string, error) {
	v, err := keyring.Get(k.service, account)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotFound
	}
	return v, err
}

func (k keychain) set(account, blob string) error {
	return keyring.Set(k.service, account, blob)
}

func (k keychain) remove(account string) error {
	if err := keyring.Delete(k.service, account); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return err
	}
	return nil
}

// keyringUnavailable matches the errors go-keyring returns when the host has
// no secret service, which it does not expose as a typed error.
func keyringUnavailable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"secret service", "dbus", "no keychain", "backend not available"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Store remembers logins per player.
type Store struct {
	keychain vault
	file     vault // nil without a fallback path
	now      func() time.Time
	logger   *log.Logger
}

// NewStore creates a login store under the keychain service (default
// "minigame-hub"). fallbackPath names the JSON file used when the keychain
// is unavailable; empty disables the fallback.
func NewStore(service, fallbackPath string) *Store {
	if strings.TrimSpace(service) == "" {
		service = "minigame-hub"
	}
	s := &Store{
		keychain: keychain{service: service},
		now:      time.Now,
		logger:   log.New(os.Stdout, "[credentials] ", log.LstdFlags),
	}
	if strings.TrimSpace(fallbackPath) != "" {
		s.file = &fileVault{path: fallbackPath}
	}
	return s
}

// Save remembers l for the player, replacing any earlier login.
func (s *Store) Save(playerID string, l Login) error {
	playerID = strings.TrimSpace(playerID)
	if playerID == "" {
		return errors.New("credentials: player id is required")
	}
	if l.Token == "" {
		return errors.New("credentials: login has no token")
	}
	blob, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("credentials: encode login: %w", err)
	}
	err = s.keychain.set(playerID, string(blob))
	switch {
	case err == nil:
		return nil
	case !keyringUnavailable(err):
		return fmt.Errorf("credentials: keyring save: %w", err)
	case s.file == nil:
		return fmt.Errorf("credentials: keyring unavailable and no fallback file: %w", err)
	}
	s.logger.Printf("keyring unavailable; saving login player=%s to file", playerID)
	return s.file.set(playerID, string(blob))
}

// Load returns the player's login. A missing login yields ErrNotFound, an
// expired one ErrExpired.
func (s *Store) Load(playerID string) (Login, error) {
	playerID = strings.TrimSpace(playerID)
	if playerID == "" {
		return Login{}, errors.New("credentials: player id is required")
	}
	blob, err := s.read(playerID)
	if err != nil {
		return Login{}, err
	}
	var l Login
	if err := json.Unmarshal([]byte(blob), &l); err != nil || l.Token == "" {
		s.logger.Printf("discarding unreadable login player=%s", playerID)
		_ = s.Forget(playerID)
		return Login{}, ErrNotFound
	}
	if l.Expired(s.now()) {
		s.logger.Printf("login expired player=%s at=%s", playerID, l.ExpiresAt.Format(time.RFC3339))
		_ = s.Forget(playerID)
		return Login{}, ErrExpired
	}
	return l, nil
}

func (s *Store) read(playerID string) (string, error) {
	blob, err := s.keychain.get(playerID)
	if err == nil {
		return blob, nil
	}
	if !errors.Is(err, ErrNotFound) && !keyringUnavailable(err) {
		return "", fmt.Errorf("credentials: keyring load: %w", err)
	}
	if s.file == nil {
		return "", ErrNotFound
	}
	return s.file.get(playerID)
}

// Forget removes the player's login wherever it is stored.
func (s *Store) Forget(playerID string) error {
	var errs []error
	if err := s.keychain.remove(playerID); err != nil && !keyringUnavailable(err) {
		errs = append(errs, fmt.Errorf("credentials: keyring delete: %w", err))
	}
	if s.file != nil {
		if err := s.file.remove(playerID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// TokenFunc returns a bearer-token getter for the tracking client. Missing
// or expired logins yield an empty token and requests go out anonymous.
func (s *Store) TokenFunc(playerID string) func() string {
	return func() string {
		l, err := s.Load(playerID)
		if err != nil {
			return ""
		}
		return l.Token
	}
}
