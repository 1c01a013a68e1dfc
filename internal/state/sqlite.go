// Package state keeps the small amount of durable server state that is not
// site content: the journal of mirror/deploy attempts and password reset
// tokens. It is backed by a single SQLite file.
package state

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Mirror outcomes recorded in the journal.
const (
	MirrorOK           = "ok"
	MirrorSkipped      = "skipped"
	MirrorUnauthorized = "unauthorized"
	MirrorConflict     = "conflict"
	MirrorFailed       = "failed"
)

// DeploymentRecord is one attempt to mirror content and notify the host.
type DeploymentRecord struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	Files        []string  `json:"files"`
	CommitSHA    string    `json:"commitSha,omitempty"`
	MirrorStatus string    `json:"mirrorStatus"`
	MirrorError  string    `json:"mirrorError,omitempty"`
	Triggered    bool      `json:"triggered"`
	StartedAt    time.Time `json:"startedAt"`
	FinishedAt   time.Time `json:"finishedAt"`
}

// ResetToken is a stored password reset token. The token itself is never
// stored, only its SHA-256.
type ResetToken struct {
	ID        string
	Email     string
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}

// Store is the SQLite-backed state store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path. Use ":memory:" for
// a throwaway store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection: keeps ":memory:" coherent and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`PRAGMA journal_mode = WAL;`,
		`CREATE TABLE IF NOT EXISTS deployments (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			files TEXT NOT NULL,
			commit_sha TEXT NOT NULL DEFAULT '',
			mirror_status TEXT NOT NULL,
			mirror_error TEXT NOT NULL DEFAULT '',
			triggered INTEGER NOT NULL DEFAULT 0,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS reset_tokens (
			id TEXT PRIMARY KEY,
			token_hash TEXT NOT NULL UNIQUE,
			email TEXT NOT NULL,
			expires_at TEXT NOT NULL,
			used INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// RecordDeployment appends rec to the journal, assigning an ID if empty.
func (s *Store) RecordDeployment(ctx context.Context, rec DeploymentRecord) (DeploymentRecord, error) {
	if rec.ID == "" {
		rec.ID = newULID()
	}
	files, err := json.Marshal(rec.Files)
	if err != nil {
		return DeploymentRecord{}, err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO deployments(id, kind, files, commit_sha, mirror_status, mirror_error, triggered, started_at, finished_at)
		VALUES(?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.Kind, string(files), rec.CommitSHA, rec.MirrorStatus, rec.MirrorError, rec.Triggered,
		formatTime(rec.StartedAt), formatTime(rec.FinishedAt))
	if err != nil {
		return DeploymentRecord{}, fmt.Errorf("record deployment: %w", err)
	}
	return rec, nil
}

// LastDeployment returns the most recent journal entry, or nil if empty.
func (s *Store) LastDeployment(ctx context.Context) (*DeploymentRecord, error) {
	recs, err := s.ListDeployments(ctx, 1)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return &recs[0], nil
}

// ListDeployments returns up to limit journal entries, newest first.
func (s *Store) ListDeployments(ctx context.Context, limit int) ([]DeploymentRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, kind, files, commit_sha, mirror_status, mirror_error, triggered, started_at, finished_at
		FROM deployments ORDER BY rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	defer rows.Close()

	var out []DeploymentRecord
	for rows.Next() {
		var (
			rec               DeploymentRecord
			files             string
			started, finished string
		)
		if err := rows.Scan(&rec.ID, &rec.Kind, &files, &rec.CommitSHA, &rec.MirrorStatus, &rec.MirrorError,
			&rec.Triggered, &started, &finished); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(files), &rec.Files); err != nil {
			return nil, fmt.Errorf("decode files of %s: %w", rec.ID, err)
		}
		rec.StartedAt = parseTime(started)
		rec.FinishedAt = parseTime(finished)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SaveResetToken stores a new token for email.
func (s *Store) SaveResetToken(ctx context.Context, token, email string, expiresAt, createdAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO reset_tokens(id, token_hash, email, expires_at, used, created_at) VALUES(?,?,?,?,0,?)`,
		newULID(), hashToken(token), email, formatTime(expiresAt), formatTime(createdAt))
	if err != nil {
		return fmt.Errorf("save reset token: %w", err)
	}
	return nil
}

// GetResetToken looks a token up by its plaintext value.
func (s *Store) GetResetToken(ctx context.Context, token string) (ResetToken, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, email, expires_at, used, created_at FROM reset_tokens WHERE token_hash=?`, hashToken(token))
	var (
		rt               ResetToken
		expires, created string
	)
	if err := row.Scan(&rt.ID, &rt.Email, &expires, &rt.Used, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ResetToken{}, ErrNotFound
		}
		return ResetToken{}, fmt.Errorf("get reset token: %w", err)
	}
	rt.ExpiresAt = parseTime(expires)
	rt.CreatedAt = parseTime(created)
	return rt, nil
}

// MarkResetTokenUsed flips the token to used. It reports false if the token
// was already used, so two concurrent resets cannot both succeed.
func (s *Store) MarkResetTokenUsed(ctx context.Context, token string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE reset_tokens SET used=1 WHERE token_hash=? AND used=0`, hashToken(token))
	if err != nil {
		return false, fmt.Errorf("mark reset token used: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// UnmarkResetTokenUsed makes a token usable again after a reset that could
// not be completed.
func (s *Store) UnmarkResetTokenUsed(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE reset_tokens SET used=0 WHERE token_hash=?`, hashToken(token)); err != nil {
		return fmt.Errorf("unmark reset token: %w", err)
	}
	return nil
}

// PurgeResetTokens deletes tokens that expired before now.
func (s *Store) PurgeResetTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reset_tokens WHERE expires_at < ?`, formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("purge reset tokens: %w", err)
	}
	return res.RowsAffected()
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Timestamps are stored as fixed-width UTC strings so they sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// newULID returns IDs that sort in creation order, also within one millisecond.
func newULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
