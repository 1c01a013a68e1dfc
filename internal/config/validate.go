package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"slices"
	"strings"
)

// Validate checks if the configuration is valid
// It returns an error if any required fields are missing or invalid
// This should be called after loading the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.Content.Validate(); err != nil {
		return fmt.Errorf("content config: %w", err)
	}
	if err := c.Git.Validate(); err != nil {
		return fmt.Errorf("git config: %w", err)
	}
	if err := c.Deploy.Validate(); err != nil {
		return fmt.Errorf("deploy config: %w", err)
	}
	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth config: %w", err)
	}
	return nil
}

// Validate checks the HTTP listener settings
func (s *ServerConfig) Validate() error {
	if s.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if s.SiteURL != "" && !isHTTPURL(s.SiteURL) {
		return fmt.Errorf("invalid site_url: %s", s.SiteURL)
	}
	if s.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown_timeout must not be negative")
	}
	return nil
}

// Validate checks the local storage settings
func (c *ContentConfig) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive")
	}
	return nil
}

// Enabled reports whether a remote mirror is configured.
func (g *GitConfig) Enabled() bool {
	return g.Backend != "" && g.Backend != "none"
}

// Validate checks if the Git configuration is valid
func (g *GitConfig) Validate() error {
	validBackends := []string{"none", "git", "github-api"}
	backend := g.Backend
	if backend == "" {
		backend = "none"
	}
	if !slices.Contains(validBackends, backend) {
		return fmt.Errorf("invalid backend: %s (must be one of: %s)",
			backend, strings.Join(validBackends, ", "))
	}
	if backend == "none" {
		return nil
	}

	switch backend {
	case "git":
		if g.URL == "" {
			return fmt.Errorf("url is required for git backend")
		}
		if !isValidGitURL(g.URL) {
			return fmt.Errorf("invalid git URL: %s (must be SSH, HTTPS, file:// or an absolute path)", g.URL)
		}
		validAuthMethods := []string{"ssh", "token", "auto", "none"}
		if g.AuthMethod != "" && !slices.Contains(validAuthMethods, g.AuthMethod) {
			return fmt.Errorf("invalid auth_method: %s (must be one of: %s)",
				g.AuthMethod, strings.Join(validAuthMethods, ", "))
		}
	case "github-api":
		if g.Owner == "" {
			return fmt.Errorf("owner is required for github-api backend")
		}
		if g.Repo == "" {
			return fmt.Errorf("repo is required for github-api backend")
		}
		if g.Token == "" {
			return fmt.Errorf("token is required for github-api backend (set via GITHUB_TOKEN or GH_TOKEN env var)")
		}
		if g.APIURL != "" && !isHTTPURL(g.APIURL) {
			return fmt.Errorf("invalid api_url: %s", g.APIURL)
		}
	}

	if g.Branch == "" {
		return fmt.Errorf("branch is required")
	}
	if g.AuthorName == "" {
		return fmt.Errorf("author_name is required")
	}
	if g.AuthorEmail == "" {
		return fmt.Errorf("author_email is required")
	}
	if g.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

// Validate checks the deploy notification channels. Only channels that are
// partially configured are errors; an empty DeployConfig is valid.
func (d *DeployConfig) Validate() error {
	if d.RenderWebhookURL != "" && !isHTTPURL(d.RenderWebhookURL) {
		return fmt.Errorf("invalid render_webhook_url: %s", d.RenderWebhookURL)
	}
	if (d.RailwayToken == "") != (d.RailwayServiceID == "") {
		return fmt.Errorf("railway_token and railway_service_id must be set together")
	}
	if (d.VercelToken == "") != (d.VercelProjectID == "") {
		return fmt.Errorf("vercel_token and vercel_project_id must be set together")
	}
	if d.Retries < 0 {
		return fmt.Errorf("retries must not be negative")
	}
	return nil
}

// Validate checks the admin authentication settings
func (a *AuthConfig) Validate() error {
	if a.TokenTTL <= 0 {
		return fmt.Errorf("token_ttl must be positive")
	}
	if (a.BootstrapEmail == "") != (a.BootstrapPassword == "") {
		return fmt.Errorf("bootstrap_email and bootstrap_password must be set together")
	}
	return nil
}

// isValidGitURL checks if a string is a valid Git remote.
// It accepts SSH, HTTPS, file:// and absolute local paths.
func isValidGitURL(gitURL string) bool {
	if strings.HasPrefix(gitURL, "git@") || strings.HasPrefix(gitURL, "ssh://") {
		return true
	}
	if strings.HasPrefix(gitURL, "https://") || strings.HasPrefix(gitURL, "http://") {
		_, err := url.Parse(gitURL)
		return err == nil
	}
	if strings.HasPrefix(gitURL, "file://") {
		return len(gitURL) > len("file://")
	}
	return filepath.IsAbs(gitURL)
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
