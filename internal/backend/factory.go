package backend

import (
	"fmt"

	"github.com/shuklalaw/sitecms/internal/config"
)

// NewMirror creates the mirror selected by cfg.Backend.
//
// Supported backends:
//   - "github-api": GitHub Git Data API, no local clone
//   - "git": local go-git clone pushed to any Git host
//   - "none" or "": no mirror; returns (nil, nil)
//
// Parameters:
//   - cfg: The Git configuration containing backend type and settings
//
// Returns:
//   - Mirror: The mirror, or nil when mirroring is disabled
//   - error: Any error encountered during creation
func NewMirror(cfg *config.GitConfig) (Mirror, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "git":
		return NewGitMirror(cfg)
	case "github-api":
		return NewGitHubMirror(cfg)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s (supported: git, github-api, none)", cfg.Backend)
	}
}
