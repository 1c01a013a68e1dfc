// Package auth holds the admin credential record and the password reset flow.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/shuklalaw/sitecms/internal/clock"
	"github.com/shuklalaw/sitecms/internal/content"
)

var (
	// ErrInvalidCredentials means the email/password pair did not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrWeakPassword means a new password is shorter than MinPasswordLength.
	ErrWeakPassword = fmt.Errorf("password must be at least %d characters long", MinPasswordLength)
)

// MinPasswordLength is the shortest password accepted by Update.
const MinPasswordLength = 8

// record is the on-disk admin credential file.
type record struct {
	Email        string `json:"email"`
	PasswordHash string `json:"passwordHash,omitempty"`
	// Password is only present in records written before hashing existed.
	Password    string `json:"password,omitempty"`
	LastUpdated string `json:"lastUpdated,omitempty"`
}

// Bootstrap is the configured fallback pair used until a record exists.
type Bootstrap struct {
	Email    string
	Password string
}

// CredentialStore verifies and replaces the single admin credential.
type CredentialStore struct {
	fs        afero.Fs
	path      string
	bootstrap Bootstrap
	clock     clock.Clock
	logger    *zap.Logger
	cost      int

	mu sync.Mutex
}

// CredentialOption configures a CredentialStore.
type CredentialOption func(*CredentialStore)

// WithBcryptCost overrides bcrypt.DefaultCost.
func WithBcryptCost(cost int) CredentialOption {
	return func(c *CredentialStore) { c.cost = cost }
}

// WithClock sets the clock used to stamp lastUpdated.
func WithClock(clk clock.Clock) CredentialOption {
	return func(c *CredentialStore) { c.clock = clk }
}

// NewCredentialStore returns a store for the record at path.
func NewCredentialStore(fs afero.Fs, path string, bootstrap Bootstrap, logger *zap.Logger, opts ...CredentialOption) *CredentialStore {
	c := &CredentialStore{
		fs:        fs,
		path:      path,
		bootstrap: bootstrap,
		clock:     clock.Real{},
		logger:    logger,
		cost:      bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Email returns the registered admin email, or "" if there is none.
func (c *CredentialStore) Email() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := c.load()
	if err != nil {
		return "", err
	}
	if rec == nil {
		return c.bootstrap.Email, nil
	}
	return rec.Email, nil
}

// Verify checks an email/password pair. Any mismatch is ErrInvalidCredentials.
func (c *CredentialStore) Verify(email, password string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := c.load()
	if err != nil {
		return err
	}

	if rec == nil {
		if c.bootstrap.Email == "" || c.bootstrap.Password == "" {
			return ErrInvalidCredentials
		}
		if !sameEmail(email, c.bootstrap.Email) || !equalConstantTime(password, c.bootstrap.Password) {
			return ErrInvalidCredentials
		}
		return nil
	}

	if !sameEmail(email, rec.Email) {
		return ErrInvalidCredentials
	}
	switch {
	case rec.PasswordHash != "":
		if bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(password)) != nil {
			return ErrInvalidCredentials
		}
	case rec.Password != "":
		c.logger.Warn("admin credentials stored in plaintext; reset the password to hash them",
			zap.String("path", c.path))
		if !equalConstantTime(password, rec.Password) {
			return ErrInvalidCredentials
		}
	default:
		return ErrInvalidCredentials
	}
	return nil
}

// Update replaces the credential record with a freshly hashed password.
func (c *CredentialStore) Update(email, newPassword string) error {
	if len(newPassword) < MinPasswordLength {
		return ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), c.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	rec := record{
		Email:        strings.TrimSpace(email),
		PasswordHash: string(hash),
		LastUpdated:  c.clock.Now().UTC().Format(time.RFC3339Nano),
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := content.WriteFile(c.fs, c.path, data); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

// load returns nil, nil when no record exists.
func (c *CredentialStore) load() (*record, error) {
	data, err := afero.ReadFile(c.fs, c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode credentials %s: %w", c.path, err)
	}
	return &rec, nil
}

func sameEmail(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func equalConstantTime(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
