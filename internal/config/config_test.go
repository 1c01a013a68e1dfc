package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"GITHUB_TOKEN", "GH_TOKEN", "PORT", "SITE_URL",
		"RENDER_WEBHOOK_URL", "RAILWAY_TOKEN", "RAILWAY_SERVICE_ID",
		"VERCEL_TOKEN", "VERCEL_PROJECT_ID", "ADMIN_EMAIL", "ADMIN_PASSWORD",
		"SITECMS_SERVER_ADDR", "SITECMS_SERVER_SITE_URL",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.Server.Addr)
	assert.Equal(t, "none", cfg.Git.Backend)
	assert.Equal(t, "main", cfg.Git.Branch)
	assert.Equal(t, 30*time.Second, cfg.Git.Timeout)
	assert.Equal(t, DefaultCommitMessage, cfg.Git.CommitMessage)
	assert.Equal(t, 15*time.Minute, cfg.Auth.TokenTTL)
	assert.Equal(t, int64(10<<20), cfg.Content.MaxUploadBytes)
	assert.Equal(t, "shukla-law-firm", cfg.Deploy.ServiceName)
	require.NoError(t, cfg.Validate())
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "sitecms.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
addr = ":8080"

[content]
data_dir = "/srv/site"

[git]
backend = "github-api"
owner = "shuklalaw"
repo = "website"
token = "ghp_file"
timeout = "10s"

[deploy]
render_webhook_url = "https://api.render.com/deploy/srv-123"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "/srv/site/content", cfg.Content.ContentDir())
	assert.Equal(t, "/srv/site/uploads", cfg.Content.UploadsDir())
	assert.Equal(t, "github-api", cfg.Git.Backend)
	assert.Equal(t, 10*time.Second, cfg.Git.Timeout)
	assert.True(t, cfg.Git.Enabled())
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingExplicitFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())
	t.Setenv("GH_TOKEN", "ghp_env")
	t.Setenv("PORT", "9999")
	t.Setenv("RENDER_WEBHOOK_URL", "https://hooks.example.com/deploy")
	t.Setenv("SITECMS_GIT_BRANCH", "content")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "ghp_env", cfg.Git.Token)
	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, "https://hooks.example.com/deploy", cfg.Deploy.RenderWebhookURL)
	assert.Equal(t, "content", cfg.Git.Branch)
}

func TestGitConfigValidate(t *testing.T) {
	base := func() GitConfig {
		return GitConfig{
			Backend:     "git",
			URL:         "git@github.com:shuklalaw/website.git",
			Branch:      "main",
			AuthorName:  "sitecms",
			AuthorEmail: "sitecms@localhost",
			Timeout:     time.Second,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*GitConfig)
		wantErr string
	}{
		{name: "valid ssh", mutate: func(*GitConfig) {}},
		{name: "valid file url", mutate: func(g *GitConfig) { g.URL = "file:///srv/site.git" }},
		{name: "valid absolute path", mutate: func(g *GitConfig) { g.URL = "/srv/site.git"; g.AuthMethod = "none" }},
		{name: "disabled", mutate: func(g *GitConfig) { *g = GitConfig{Backend: "none"} }},
		{name: "unknown backend", mutate: func(g *GitConfig) { g.Backend = "svn" }, wantErr: "invalid backend"},
		{name: "missing url", mutate: func(g *GitConfig) { g.URL = "" }, wantErr: "url is required"},
		{name: "relative path", mutate: func(g *GitConfig) { g.URL = "site.git" }, wantErr: "invalid git URL"},
		{name: "bad auth method", mutate: func(g *GitConfig) { g.AuthMethod = "kerberos" }, wantErr: "invalid auth_method"},
		{name: "zero timeout", mutate: func(g *GitConfig) { g.Timeout = 0 }, wantErr: "timeout must be positive"},
		{
			name:    "github without token",
			mutate:  func(g *GitConfig) { g.Backend = "github-api"; g.Owner = "o"; g.Repo = "r" },
			wantErr: "token is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := base()
			tt.mutate(&g)
			err := g.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDeployConfigValidate(t *testing.T) {
	assert.NoError(t, (&DeployConfig{}).Validate())
	assert.Error(t, (&DeployConfig{RenderWebhookURL: "not a url"}).Validate())
	assert.Error(t, (&DeployConfig{RailwayToken: "tok"}).Validate())
	assert.Error(t, (&DeployConfig{VercelProjectID: "prj"}).Validate())
	assert.NoError(t, (&DeployConfig{VercelToken: "tok", VercelProjectID: "prj"}).Validate())
}

func TestAuthConfigValidate(t *testing.T) {
	assert.NoError(t, (&AuthConfig{TokenTTL: time.Minute}).Validate())
	assert.Error(t, (&AuthConfig{}).Validate())
	assert.Error(t, (&AuthConfig{TokenTTL: time.Minute, BootstrapEmail: "a@b.c"}).Validate())
}
