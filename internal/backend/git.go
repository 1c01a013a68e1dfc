package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/shuklalaw/sitecms/internal/config"
	gitpkg "github.com/shuklalaw/sitecms/internal/git"
)

// GitMirror implements Mirror with a local go-git clone.
//
// Each batch pulls the branch, writes the files into the worktree, commits
// once and pushes without force. A rejected push means the remote moved;
// the clone is discarded so the next attempt starts from a fresh checkout.
// Access to the clone is serialized.
type GitMirror struct {
	config *config.GitConfig

	mu     sync.Mutex
	client *gitpkg.Client
	now    func() time.Time
}

// NewGitMirror validates the configuration but does NOT clone yet.
// The first CommitFiles or History call opens or clones the repository.
func NewGitMirror(cfg *config.GitConfig) (*GitMirror, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("git.url is required for git backend")
	}
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	return &GitMirror{config: cfg, now: time.Now}, nil
}

// Name returns the backend label for logs.
func (g *GitMirror) Name() string {
	return fmt.Sprintf("git (%s@%s)", g.config.URL, g.config.Branch)
}

// CommitFiles writes all changes as one commit and pushes it.
func (g *GitMirror) CommitFiles(ctx context.Context, changes []FileChange, message string) (*CommitResult, error) {
	if len(changes) == 0 {
		return nil, nil
	}
	if message == "" {
		message = config.DefaultCommitMessage
	}

	// Decode everything before touching the clone.
	contents := make([][]byte, len(changes))
	for i, change := range changes {
		data, err := change.Bytes()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMirrorFailure, err)
		}
		contents[i] = data
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	client, err := g.clientLocked()
	if err != nil {
		return nil, err
	}

	repo, err := client.OpenOrClone(ctx)
	if err != nil {
		return nil, classifyGitError("open repository", err)
	}

	parent, err := repo.Head()
	if err != nil {
		return nil, classifyGitError("resolve branch", err)
	}

	paths := make([]string, 0, len(changes))
	for i, change := range changes {
		if err := repo.WriteFile(change.Path, contents[i]); err != nil {
			_ = client.Clean()
			return nil, fmt.Errorf("%w: write %s: %v", ErrMirrorFailure, change.Path, err)
		}
		paths = append(paths, change.Path)
	}
	if err := repo.Stage(paths...); err != nil {
		_ = client.Clean()
		return nil, fmt.Errorf("%w: stage: %v", ErrMirrorFailure, err)
	}

	committed := g.now().UTC()
	sha, err := repo.Commit(message, gitpkg.Signature{
		Name:  g.config.AuthorName,
		Email: g.config.AuthorEmail,
		When:  committed,
	})
	if err != nil {
		_ = client.Clean()
		return nil, fmt.Errorf("%w: commit: %v", ErrMirrorFailure, err)
	}
	tree, _ := repo.TreeOf(sha)

	if err := repo.Push(ctx); err != nil {
		// The local branch now has a commit the remote does not; start over next time.
		_ = client.Clean()
		return nil, classifyGitError("push", err)
	}

	return &CommitResult{
		SHA:       sha,
		TreeSHA:   tree,
		ParentSHA: parent,
		Message:   message,
		Files:     paths,
		Committed: committed,
	}, nil
}

// History lists the newest commits on the mirror branch.
func (g *GitMirror) History(ctx context.Context, limit int) ([]CommitSummary, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	client, err := g.clientLocked()
	if err != nil {
		return nil, err
	}
	repo, err := client.OpenOrClone(ctx)
	if err != nil {
		return nil, classifyGitError("open repository", err)
	}

	commits, err := repo.Log(limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMirrorFailure, err)
	}

	out := make([]CommitSummary, 0, len(commits))
	for _, c := range commits {
		out = append(out, CommitSummary{SHA: c.Hash, Message: c.Message, Author: c.Author, When: c.When})
	}
	return out, nil
}

func (g *GitMirror) clientLocked() (*gitpkg.Client, error) {
	if g.client != nil {
		return g.client, nil
	}
	client, err := gitpkg.NewClient(g.config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	g.client = client
	return client, nil
}

// classifyGitError maps go-git transport and push errors onto the mirror
// error kinds.
func classifyGitError(step string, err error) error {
	switch {
	case errors.Is(err, transport.ErrAuthenticationRequired),
		errors.Is(err, transport.ErrAuthorizationFailed):
		return fmt.Errorf("%w: %s: %v", ErrUnauthorized, step, err)
	case errors.Is(err, git.ErrNonFastForwardUpdate),
		errors.Is(err, git.ErrForceNeeded),
		strings.Contains(err.Error(), "non-fast-forward"),
		strings.Contains(err.Error(), "fetch first"):
		return fmt.Errorf("%w: %s: %v", ErrConflict, step, err)
	default:
		return fmt.Errorf("%w: %s: %v", ErrMirrorFailure, step, err)
	}
}
