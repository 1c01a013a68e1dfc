// Package git wraps go-git for the mirror backend that keeps a local clone
// of the site repository, writes content files into it and pushes.
package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/shuklalaw/sitecms/internal/config"
)

// Client manages the local working clone.
type Client struct {
	config  *config.GitConfig
	auth    transport.AuthMethod
	workDir string
}

// NewClient resolves credentials and decides where the clone lives.
// Nothing touches the disk or network until OpenOrClone is called.
func NewClient(cfg *config.GitConfig) (*Client, error) {
	auth, err := ResolveAuth(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve Git authentication: %w", err)
	}

	workDir := cfg.LocalPath
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "sitecms-mirror")
	}

	return &Client{
		config:  cfg,
		auth:    auth,
		workDir: workDir,
	}, nil
}

// OpenOrClone returns an up-to-date clone of the configured branch.
//
// An existing clone is pulled. If it cannot be opened or pulled (corrupt,
// diverged after a rejected push), it is removed and cloned again.
func (c *Client) OpenOrClone(ctx context.Context) (*Repository, error) {
	if _, err := os.Stat(filepath.Join(c.workDir, ".git")); err == nil {
		repo, err := git.PlainOpen(c.workDir)
		if err == nil {
			if err = c.pull(ctx, repo); err == nil {
				return c.wrap(repo), nil
			}
		}
		if err := c.Clean(); err != nil {
			return nil, fmt.Errorf("failed to remove stale clone: %w", err)
		}
	}
	return c.clone(ctx)
}

func (c *Client) clone(ctx context.Context) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(c.workDir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}

	repo, err := git.PlainCloneContext(ctx, c.workDir, false, &git.CloneOptions{
		URL:           c.config.URL,
		Auth:          c.auth,
		ReferenceName: plumbing.NewBranchReferenceName(c.config.Branch),
		SingleBranch:  true,
	})
	if errors.Is(err, transport.ErrEmptyRemoteRepository) {
		_ = c.Clean()
		return c.initEmpty()
	}
	if err != nil {
		_ = c.Clean()
		return nil, fmt.Errorf("failed to clone repository %s: %w", c.config.URL, err)
	}
	return c.wrap(repo), nil
}

// initEmpty prepares a fresh repository whose first push creates the branch.
func (c *Client) initEmpty() (*Repository, error) {
	repo, err := git.PlainInitWithOptions(c.workDir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{
			DefaultBranch: plumbing.NewBranchReferenceName(c.config.Branch),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init repository: %w", err)
	}
	if _, err := repo.CreateRemote(&gitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{c.config.URL},
	}); err != nil {
		return nil, fmt.Errorf("failed to add remote: %w", err)
	}
	return c.wrap(repo), nil
}

func (c *Client) pull(ctx context.Context, repo *git.Repository) error {
	w, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}

	err = w.PullContext(ctx, &git.PullOptions{
		RemoteName:    "origin",
		ReferenceName: plumbing.NewBranchReferenceName(c.config.Branch),
		Auth:          c.auth,
		SingleBranch:  true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("failed to pull latest changes: %w", err)
	}
	return nil
}

func (c *Client) wrap(repo *git.Repository) *Repository {
	return &Repository{
		repo:   repo,
		branch: plumbing.NewBranchReferenceName(c.config.Branch),
		auth:   c.auth,
	}
}

// Clean removes the local clone. The next OpenOrClone clones from scratch.
func (c *Client) Clean() error {
	if c.workDir == "" {
		return nil
	}
	return os.RemoveAll(c.workDir)
}

// WorkDir returns the path of the local clone.
func (c *Client) WorkDir() string {
	return c.workDir
}

// AuthMethod returns a label for the resolved credentials.
func (c *Client) AuthMethod() string {
	return DescribeAuth(c.auth)
}
