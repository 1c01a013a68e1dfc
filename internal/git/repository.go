package git

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
)

// Repository is an opened clone checked out on the mirror branch.
type Repository struct {
	repo   *git.Repository
	branch plumbing.ReferenceName
	auth   transport.AuthMethod
}

// Root returns the worktree root directory.
func (r *Repository) Root() string {
	w, err := r.repo.Worktree()
	if err != nil {
		return ""
	}
	return w.Filesystem.Root()
}

// WriteFile writes content at a repository-relative path, creating parent
// directories. Paths escaping the worktree are rejected.
func (r *Repository) WriteFile(path string, content []byte) error {
	absPath, err := r.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(absPath, content, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// ReadFile reads a repository-relative file from the worktree.
func (r *Repository) ReadFile(path string) ([]byte, error) {
	absPath, err := r.resolve(path)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return content, nil
}

func (r *Repository) resolve(path string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(path))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside the repository", path)
	}
	return filepath.Join(r.Root(), clean), nil
}
