package git

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/mitchellh/go-homedir"

	"github.com/shuklalaw/sitecms/internal/config"
)

// ResolveAuth picks the transport credentials for the mirror remote.
//
// Supported methods:
//   - "ssh": SSH agent, then the configured key, then ~/.ssh defaults
//   - "token": HTTPS basic auth with the configured token
//   - "auto": SSH first, token as fallback
//   - "none": no credentials (local paths and file:// remotes)
//
// A nil AuthMethod with a nil error means "no authentication".
func ResolveAuth(cfg *config.GitConfig) (transport.AuthMethod, error) {
	switch cfg.AuthMethod {
	case "none":
		return nil, nil

	case "ssh":
		return ResolveSSHAuth(cfg)

	case "token":
		return ResolveTokenAuth(cfg)

	case "", "auto":
		if auth, err := ResolveSSHAuth(cfg); err == nil {
			return auth, nil
		}
		if auth, err := ResolveTokenAuth(cfg); err == nil {
			return auth, nil
		}
		return nil, fmt.Errorf("failed to resolve authentication (tried SSH and token)")

	default:
		return nil, fmt.Errorf("unknown auth method: %s (use 'ssh', 'token', 'auto' or 'none')", cfg.AuthMethod)
	}
}

// ResolveSSHAuth tries the SSH agent first, then a key file.
func ResolveSSHAuth(cfg *config.GitConfig) (transport.AuthMethod, error) {
	if auth, err := ssh.NewSSHAgentAuth("git"); err == nil {
		return auth, nil
	}

	keyPath := cfg.SSHKeyPath
	if keyPath == "" {
		var err error
		keyPath, err = findDefaultSSHKey()
		if err != nil {
			return nil, fmt.Errorf("SSH key not found: %w", err)
		}
	}

	keyPath, err := homedir.Expand(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to expand %s: %w", cfg.SSHKeyPath, err)
	}

	publicKeys, err := ssh.NewPublicKeysFromFile("git", keyPath, "")
	if err != nil {
		return nil, fmt.Errorf("failed to load SSH key from %s: %w", keyPath, err)
	}
	return publicKeys, nil
}

// ResolveTokenAuth uses the configured token as an HTTPS password.
// The username is ignored by GitHub but must be non-empty.
func ResolveTokenAuth(cfg *config.GitConfig) (transport.AuthMethod, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("no token configured (set git.token, GITHUB_TOKEN or GH_TOKEN)")
	}
	return &http.BasicAuth{
		Username: "sitecms",
		Password: cfg.Token,
	}, nil
}

func findDefaultSSHKey() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	keyTypes := []string{"id_ed25519", "id_rsa", "id_ecdsa"}
	for _, keyType := range keyTypes {
		keyPath := filepath.Join(home, ".ssh", keyType)
		if _, err := os.Stat(keyPath); err == nil {
			return keyPath, nil
		}
	}
	return "", fmt.Errorf("no SSH keys found in ~/.ssh/ (tried: %v)", keyTypes)
}

// DescribeAuth returns a short label for logs.
func DescribeAuth(auth transport.AuthMethod) string {
	switch auth.(type) {
	case nil:
		return "none"
	case *ssh.PublicKeys, *ssh.PublicKeysCallback:
		return "SSH key"
	case *http.BasicAuth:
		return "HTTPS token"
	default:
		return "unknown"
	}
}
