package git

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// Signature identifies the author of mirror commits.
type Signature struct {
	Name  string
	Email string
	When  time.Time
}

// CommitInfo summarizes one commit for history listings.
type CommitInfo struct {
	Hash    string
	Message string
	Author  string
	When    time.Time
}

// Stage adds repository-relative paths to the index.
func (r *Repository) Stage(paths ...string) error {
	w, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	for _, p := range paths {
		if _, err := w.Add(p); err != nil {
			return fmt.Errorf("failed to stage file %s: %w", p, err)
		}
	}
	return nil
}

// Commit records the index as a new commit on the current branch.
// Commits with an unchanged tree are allowed so every save leaves a trace.
func (r *Repository) Commit(message string, sig Signature) (string, error) {
	w, err := r.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree: %w", err)
	}

	hash, err := w.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  sig.Name,
			Email: sig.Email,
			When:  sig.When,
		},
		AllowEmptyCommits: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create commit: %w", err)
	}
	return hash.String(), nil
}

// Push sends the branch to origin. The update is never forced, so a push
// that is not a fast-forward of the remote branch is rejected.
func (r *Repository) Push(ctx context.Context) error {
	spec := gitconfig.RefSpec(fmt.Sprintf("%s:%s", r.branch, r.branch))
	err := r.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: "origin",
		RefSpecs:   []gitconfig.RefSpec{spec},
		Auth:       r.auth,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("failed to push to remote: %w", err)
	}
	return nil
}

// Head returns the hash of the current branch head, or "" for an unborn branch.
func (r *Repository) Head() (string, error) {
	ref, err := r.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get HEAD: %w", err)
	}
	return ref.Hash().String(), nil
}

// TreeOf returns the tree hash of a commit.
func (r *Repository) TreeOf(commit string) (string, error) {
	c, err := r.repo.CommitObject(plumbing.NewHash(commit))
	if err != nil {
		return "", fmt.Errorf("failed to get commit %s: %w", commit, err)
	}
	return c.TreeHash.String(), nil
}

// Log returns up to limit commits reachable from HEAD, newest first.
func (r *Repository) Log(limit int) ([]CommitInfo, error) {
	head, err := r.Head()
	if err != nil || head == "" {
		return nil, err
	}

	iter, err := r.repo.Log(&git.LogOptions{From: plumbing.NewHash(head)})
	if err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}
	defer iter.Close()

	var commits []CommitInfo
	err = iter.ForEach(func(c *object.Commit) error {
		if limit > 0 && len(commits) >= limit {
			return storer.ErrStop
		}
		commits = append(commits, CommitInfo{
			Hash:    c.Hash.String(),
			Message: c.Message,
			Author:  c.Author.Name,
			When:    c.Author.When,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk log: %w", err)
	}
	return commits, nil
}
