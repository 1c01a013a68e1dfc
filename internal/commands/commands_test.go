package commands

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/shuklalaw/sitecms/internal/clock"
	"github.com/shuklalaw/sitecms/internal/config"
	"github.com/shuklalaw/sitecms/internal/content"
)

func TestParseValue(t *testing.T) {
	tests := []struct {
		raw  string
		want any
	}{
		{"Trusted Legal Counsel", "Trusted Legal Counsel"},
		{`"quoted"`, "quoted"},
		{"true", true},
		{"42", json.Number("42")},
		{"20+", "20+"},
		{`{"q":"a"}`, map[string]any{"q": "a"}},
		{`[1,2]`, []any{json.Number("1"), json.Number("2")}},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseValue(tt.raw), "raw %q", tt.raw)
	}
}

func TestParseAssignments(t *testing.T) {
	got, err := parseAssignments([]string{"title=Hello", "stats.years=15", "cta=a=b"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, assignment{path: "title", value: "Hello"}, got[0])
	assert.Equal(t, assignment{path: "stats.years", value: json.Number("15")}, got[1])
	assert.Equal(t, assignment{path: "cta", value: "a=b"}, got[2])

	_, err = parseAssignments([]string{"no-equals"})
	assert.Error(t, err)
	_, err = parseAssignments([]string{"=value"})
	assert.Error(t, err)
}

func TestRedact(t *testing.T) {
	var cfg config.Config
	cfg.Git.Token = "ghp_secret"
	cfg.Auth.BootstrapPassword = "hunter22"
	cfg.Auth.BootstrapEmail = "admin@example.com"

	out := redact(cfg)
	assert.Equal(t, redacted, out.Git.Token)
	assert.Equal(t, redacted, out.Auth.BootstrapPassword)
	assert.Equal(t, "admin@example.com", out.Auth.BootstrapEmail)
	assert.Empty(t, out.Deploy.RailwayToken, "unset secrets stay empty")
	assert.Equal(t, "ghp_secret", cfg.Git.Token, "the original is not modified")

	rendered, err := renderConfig(out, true)
	require.NoError(t, err)
	assert.NotContains(t, rendered, "ghp_secret")
}

func TestDeployChannels(t *testing.T) {
	assert.Empty(t, deployChannels(config.DeployConfig{}))
	assert.Equal(t, []string{"render", "vercel"}, deployChannels(config.DeployConfig{
		RenderWebhookURL: "https://api.render.com/deploy/srv-1",
		VercelToken:      "tok",
		VercelProjectID:  "prj",
	}))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Content.DataDir = t.TempDir()
	cfg.Insights.Enabled = true
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestBuildServer(t *testing.T) {
	cfg := testConfig(t)
	srv, cleanup, err := buildServer(cfg, afero.NewOsFs(), clock.Real{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer cleanup()

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/ai/insights")
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	assert.Contains(t, body, "totalEvents", "insights are wired when enabled")
}

func TestEditCommand(t *testing.T) {
	cfg := testConfig(t)
	fs := afero.NewOsFs()
	srv, cleanup, err := buildServer(cfg, fs, clock.Real{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer cleanup()

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	rootCmd.SetArgs([]string{"edit", "--server", ts.URL, "hero", "title=Trusted Legal Counsel", "stats.years=20"})
	require.NoError(t, Execute())

	doc, err := content.NewStore(fs, cfg.Content.ContentDir()).Read("hero")
	require.NoError(t, err)
	assert.Equal(t, "Trusted Legal Counsel", doc["title"])
	assert.Equal(t, "Get Legal Consultation", doc["cta"], "fields of the default document are kept")
	assert.Equal(t, float64(20), doc["stats"].(map[string]any)["years"])
	assert.NotEmpty(t, doc["lastUpdated"])
}
