// Package backend mirrors locally saved content into a remote Git repository.
//
// Two implementations exist: GitHubMirror talks to the GitHub Git Data API
// and needs no local checkout, GitMirror keeps a go-git clone and pushes to
// any Git host. Both commit a batch of files as exactly one commit and only
// move the branch by fast-forward.
package backend

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnauthorized means the credential is missing or was rejected.
	// Nothing is written remotely when it is returned.
	ErrUnauthorized = errors.New("remote mirror unauthorized")

	// ErrConflict means the branch moved while the commit was being built, so
	// the ref could not be fast-forwarded. The caller must start over.
	ErrConflict = errors.New("remote mirror conflict")

	// ErrMirrorFailure covers every other failed step. The branch ref is
	// unchanged when it is returned.
	ErrMirrorFailure = errors.New("remote mirror failure")

	// ErrNotConfigured is returned when an operation needs a mirror capability
	// the configured backend does not have.
	ErrNotConfigured = errors.New("remote mirror not configured")
)

// Encodings accepted in FileChange.Encoding.
const (
	EncodingUTF8   = "utf-8"
	EncodingBase64 = "base64"
)

// FileChange is one file to add or replace in the mirror commit.
type FileChange struct {
	// Path is repository-relative, e.g. "content/hero.json" or "uploads/logo.png"
	Path string

	// Content is UTF-8 text or base64 data, as tagged by Encoding
	Content string

	// Encoding is EncodingUTF8 (default when empty) or EncodingBase64
	Encoding string
}

// Bytes returns the decoded file content.
func (f FileChange) Bytes() ([]byte, error) {
	switch f.Encoding {
	case "", EncodingUTF8:
		return []byte(f.Content), nil
	case EncodingBase64:
		data, err := base64.StdEncoding.DecodeString(f.Content)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.Path, err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q for %s", f.Encoding, f.Path)
	}
}

// CommitResult describes the commit that now heads the mirror branch.
type CommitResult struct {
	SHA       string    `json:"sha"`
	TreeSHA   string    `json:"treeSha,omitempty"`
	ParentSHA string    `json:"parentSha,omitempty"`
	Message   string    `json:"message"`
	URL       string    `json:"url,omitempty"`
	Files     []string  `json:"files"`
	Committed time.Time `json:"committedAt"`
}

// Mirror commits batches of files to the remote repository.
type Mirror interface {
	// CommitFiles writes every change in a single commit on the mirror branch.
	// An empty change set is a no-op returning (nil, nil).
	CommitFiles(ctx context.Context, changes []FileChange, message string) (*CommitResult, error)

	// Name returns a short label for logs and status output.
	Name() string
}

// Deployment is the hosting platform's view of the latest deployment, as
// reported through the repository host.
type Deployment struct {
	ID          int64     `json:"id"`
	SHA         string    `json:"sha"`
	Ref         string    `json:"ref"`
	Environment string    `json:"environment"`
	Description string    `json:"description,omitempty"`
	State       string    `json:"state,omitempty"`
	TargetURL   string    `json:"targetUrl,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// DeploymentSource is implemented by mirrors whose host tracks deployments.
type DeploymentSource interface {
	// LatestDeployment returns the most recent deployment, or nil if none exist.
	LatestDeployment(ctx context.Context) (*Deployment, error)
}

// HistorySource is implemented by mirrors that can list recent commits.
type HistorySource interface {
	History(ctx context.Context, limit int) ([]CommitSummary, error)
}

// CommitSummary is one entry of the mirror branch history.
type CommitSummary struct {
	SHA     string    `json:"sha"`
	Message string    `json:"message"`
	Author  string    `json:"author"`
	When    time.Time `json:"when"`
}
