// Package config handles loading and managing configuration for sitecms.
// It uses Viper to support multiple configuration sources: files, environment variables, and CLI flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// DefaultCommitMessage is used for mirror commits when the caller gives none.
const DefaultCommitMessage = "Update content via admin panel"

// Config is the main configuration structure for sitecms.
// It maps directly to the TOML configuration file structure.
type Config struct {
	// Server contains HTTP listener settings
	Server ServerConfig `mapstructure:"server"`

	// Content contains local storage settings
	Content ContentConfig `mapstructure:"content"`

	// Git contains the remote mirror settings
	Git GitConfig `mapstructure:"git"`

	// Deploy contains hosting platform notification channels
	Deploy DeployConfig `mapstructure:"deploy"`

	// Auth contains admin credential and password reset settings
	Auth AuthConfig `mapstructure:"auth"`

	// Log controls the structured logger
	Log LogConfig `mapstructure:"log"`

	// Insights controls the optional visitor analytics tracker
	Insights InsightsConfig `mapstructure:"insights"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	// Addr is the listen address (default ":3000", or ":$PORT" when PORT is set)
	Addr string `mapstructure:"addr"`

	// SiteURL is the public base URL, used to build password reset links
	SiteURL string `mapstructure:"site_url"`

	// ShutdownTimeout bounds graceful shutdown, including in-flight mirror jobs
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// CORSOrigins lists allowed browser origins. "*" allows any.
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// ContentConfig holds local storage configuration
type ContentConfig struct {
	// DataDir is the root for content/, uploads/, the state DB and credentials
	DataDir string `mapstructure:"data_dir"`

	// Watch enables broadcasting of section files edited outside the server
	Watch bool `mapstructure:"watch"`

	// MaxUploadBytes caps the decoded size of a single upload
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`
}

// ContentDir is where section documents are stored.
func (c ContentConfig) ContentDir() string { return filepath.Join(c.DataDir, "content") }

// UploadsDir is where uploaded images are stored.
func (c ContentConfig) UploadsDir() string { return filepath.Join(c.DataDir, "uploads") }

// StatePath is the SQLite database holding the deployment journal and reset tokens.
func (c ContentConfig) StatePath() string { return filepath.Join(c.DataDir, "state.db") }

// CredentialsPath is the admin credentials record.
func (c ContentConfig) CredentialsPath() string {
	return filepath.Join(c.DataDir, "admin-credentials.json")
}

// InsightsPath is where the analytics tracker persists its state.
func (c ContentConfig) InsightsPath() string { return filepath.Join(c.DataDir, "insights.json") }

// GitConfig holds remote mirror configuration
type GitConfig struct {
	// Backend specifies which mirror to use: "github-api", "git" or "none"
	// "github-api" - commits through the GitHub Git Data API (no local clone)
	// "git" - keeps a local go-git clone and pushes to any Git host
	// "none" - content is only stored locally
	Backend string `mapstructure:"backend"`

	// Branch is the branch content is committed to (default: "main")
	Branch string `mapstructure:"branch"`

	// AuthorName is the name to use in mirror commits
	AuthorName string `mapstructure:"author_name"`

	// AuthorEmail is the email to use in mirror commits
	AuthorEmail string `mapstructure:"author_email"`

	// CommitMessage is the default message for explicit deploys
	CommitMessage string `mapstructure:"commit_message"`

	// Timeout bounds every remote mirror and deploy notification attempt
	Timeout time.Duration `mapstructure:"timeout"`

	// === Git Backend Configuration ===

	// URL is the repository URL (SSH, HTTPS, file:// or an absolute path)
	URL string `mapstructure:"url"`

	// LocalPath is where the working clone lives
	LocalPath string `mapstructure:"local_path"`

	// AuthMethod specifies how to authenticate: "ssh", "token", "auto" or "none"
	AuthMethod string `mapstructure:"auth_method"`

	// SSHKeyPath is the path to the SSH private key (optional)
	SSHKeyPath string `mapstructure:"ssh_key_path"`

	// === GitHub API Backend Configuration ===

	// Owner is the GitHub repository owner (user or organization)
	Owner string `mapstructure:"owner"`

	// Repo is the GitHub repository name
	Repo string `mapstructure:"repo"`

	// Token is the GitHub personal access token.
	// Can also be set via GITHUB_TOKEN or GH_TOKEN environment variables.
	Token string `mapstructure:"token"`

	// APIURL is the GitHub API root (default "https://api.github.com")
	APIURL string `mapstructure:"api_url"`
}

// DeployConfig holds hosting platform notification settings.
// Channels are tried in the order Render, Railway, Vercel.
type DeployConfig struct {
	// ServiceName is reported in webhook payloads
	ServiceName string `mapstructure:"service_name"`

	// RenderWebhookURL is a deploy hook URL (RENDER_WEBHOOK_URL)
	RenderWebhookURL string `mapstructure:"render_webhook_url"`

	// RailwayToken and RailwayServiceID enable the Railway GraphQL channel
	RailwayToken     string `mapstructure:"railway_token"`
	RailwayServiceID string `mapstructure:"railway_service_id"`
	RailwayEndpoint  string `mapstructure:"railway_endpoint"`

	// VercelToken and VercelProjectID enable the Vercel deploy hook channel
	VercelToken     string `mapstructure:"vercel_token"`
	VercelProjectID string `mapstructure:"vercel_project_id"`
	VercelEndpoint  string `mapstructure:"vercel_endpoint"`

	// Retries is how many times a transient channel failure is retried
	Retries int `mapstructure:"retries"`
}

// AuthConfig holds admin authentication settings
type AuthConfig struct {
	// BootstrapEmail and BootstrapPassword are accepted only while no
	// credentials record exists. Set them via environment in production.
	BootstrapEmail    string `mapstructure:"bootstrap_email"`
	BootstrapPassword string `mapstructure:"bootstrap_password"`

	// TokenTTL is how long a password reset token stays valid
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// InsightsConfig holds analytics tracker settings
type InsightsConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// Load reads the configuration from a file and environment variables.
// It follows this precedence order (highest to lowest):
//  1. CLI flags (handled by caller)
//  2. Environment variables (SITECMS_SECTION_KEY, plus the well-known
//     hosting variables handled by applyEnvOverrides)
//  3. Configuration file
//  4. Default values
//
// Parameters:
//   - configPath: Path to the configuration file. If empty, will look for
//     "sitecms.toml" in the current directory
//
// Returns:
//   - *Config: The loaded configuration
//   - error: Any error encountered during loading
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("sitecms")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
	}

	// Example: SITECMS_GIT_BRANCH=content
	v.SetEnvPrefix("SITECMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound):
			// Only the implicit lookup may be absent.
		case configPath != "" && errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("config file not found: %s", configPath)
		default:
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := expandPaths(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults sets default values for configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":3000")
	v.SetDefault("server.site_url", "http://localhost:3000")
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("content.data_dir", ".")
	v.SetDefault("content.watch", false)
	v.SetDefault("content.max_upload_bytes", 10<<20)

	v.SetDefault("git.backend", "none")
	v.SetDefault("git.branch", "main")
	v.SetDefault("git.auth_method", "auto")
	v.SetDefault("git.author_name", "sitecms")
	v.SetDefault("git.author_email", "sitecms@localhost")
	v.SetDefault("git.commit_message", DefaultCommitMessage)
	v.SetDefault("git.timeout", 30*time.Second)
	v.SetDefault("git.local_path", "")
	v.SetDefault("git.url", "")
	v.SetDefault("git.ssh_key_path", "")
	v.SetDefault("git.owner", "")
	v.SetDefault("git.repo", "")
	v.SetDefault("git.token", "")
	v.SetDefault("git.api_url", "https://api.github.com")

	v.SetDefault("deploy.service_name", "shukla-law-firm")
	v.SetDefault("deploy.render_webhook_url", "")
	v.SetDefault("deploy.railway_token", "")
	v.SetDefault("deploy.railway_service_id", "")
	v.SetDefault("deploy.railway_endpoint", "https://backboard.railway.app/graphql/v2")
	v.SetDefault("deploy.vercel_token", "")
	v.SetDefault("deploy.vercel_project_id", "")
	v.SetDefault("deploy.vercel_endpoint", "https://api.vercel.com")
	v.SetDefault("deploy.retries", 2)

	v.SetDefault("auth.bootstrap_email", "")
	v.SetDefault("auth.bootstrap_password", "")
	v.SetDefault("auth.token_ttl", 15*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("insights.enabled", false)
	v.SetDefault("insights.flush_interval", 5*time.Minute)
}

// applyEnvOverrides applies the unprefixed environment variables that
// hosting platforms and CI set, when the config leaves the field empty.
func applyEnvOverrides(cfg *Config) {
	if cfg.Git.Token == "" {
		cfg.Git.Token = firstEnv("GITHUB_TOKEN", "GH_TOKEN")
	}

	if port := os.Getenv("PORT"); port != "" && os.Getenv("SITECMS_SERVER_ADDR") == "" {
		cfg.Server.Addr = ":" + port
	}
	if url := os.Getenv("SITE_URL"); url != "" && os.Getenv("SITECMS_SERVER_SITE_URL") == "" {
		cfg.Server.SiteURL = url
	}

	if cfg.Deploy.RenderWebhookURL == "" {
		cfg.Deploy.RenderWebhookURL = os.Getenv("RENDER_WEBHOOK_URL")
	}
	if cfg.Deploy.RailwayToken == "" {
		cfg.Deploy.RailwayToken = os.Getenv("RAILWAY_TOKEN")
	}
	if cfg.Deploy.RailwayServiceID == "" {
		cfg.Deploy.RailwayServiceID = os.Getenv("RAILWAY_SERVICE_ID")
	}
	if cfg.Deploy.VercelToken == "" {
		cfg.Deploy.VercelToken = os.Getenv("VERCEL_TOKEN")
	}
	if cfg.Deploy.VercelProjectID == "" {
		cfg.Deploy.VercelProjectID = os.Getenv("VERCEL_PROJECT_ID")
	}

	if cfg.Auth.BootstrapEmail == "" {
		cfg.Auth.BootstrapEmail = os.Getenv("ADMIN_EMAIL")
	}
	if cfg.Auth.BootstrapPassword == "" {
		cfg.Auth.BootstrapPassword = os.Getenv("ADMIN_PASSWORD")
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// expandPaths resolves a leading "~" in path settings.
func expandPaths(cfg *Config) error {
	for _, p := range []*string{&cfg.Content.DataDir, &cfg.Git.LocalPath, &cfg.Git.SSHKeyPath} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}
