// Package client talks to a running sitecms server. It is what the admin
// CLI uses to load, edit and save sections and to follow live updates.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-cleanhttp"

	"github.com/shuklalaw/sitecms/internal/auth"
	"github.com/shuklalaw/sitecms/internal/backend"
	"github.com/shuklalaw/sitecms/internal/broadcast"
	"github.com/shuklalaw/sitecms/internal/content"
	"github.com/shuklalaw/sitecms/internal/service"
)

// ErrUnavailable means the server could not be reached or answered with
// something that is not an API response.
var ErrUnavailable = errors.New("server unavailable")

// Client is an HTTP client for the sitecms API.
type Client struct {
	base   *url.URL
	http   *http.Client
	dialer *websocket.Dialer
}

// New creates a client for the server at baseURL, e.g. "http://localhost:3000".
func New(baseURL string) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server URL must be http or https, got %q", baseURL)
	}
	httpClient := cleanhttp.DefaultPooledClient()
	httpClient.Timeout = 60 * time.Second
	return &Client{
		base:   u,
		http:   httpClient,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment},
	}, nil
}

// apiError is the server's failure body.
type apiError struct {
	Success bool   `json:"success"`
	Code    string `json:"error"`
	Message string `json:"message"`
}

// sentinels maps server error codes back to the package errors they came from.
var sentinels = map[string]error{
	"invalid_name":        content.ErrInvalidName,
	"not_found":           content.ErrNotFound,
	"persist_failure":     service.ErrPersistFailure,
	"invalid_upload":      service.ErrInvalidUpload,
	"not_configured":      service.ErrNotConfigured,
	"nothing_to_deploy":   service.ErrNothingToDeploy,
	"unauthorized":        backend.ErrUnauthorized,
	"conflict":            backend.ErrConflict,
	"mirror_failure":      backend.ErrMirrorFailure,
	"invalid_credentials": auth.ErrInvalidCredentials,
	"invalid_token":       auth.ErrTokenInvalid,
	"token_used":          auth.ErrTokenUsed,
	"token_expired":       auth.ErrTokenExpired,
	"weak_password":       auth.ErrWeakPassword,
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode >= 300 {
		var apiErr apiError
		if err := json.Unmarshal(data, &apiErr); err != nil || apiErr.Code == "" {
			return fmt.Errorf("%w: %s %s returned %d", ErrUnavailable, method, path, resp.StatusCode)
		}
		if sentinel, ok := sentinels[apiErr.Code]; ok {
			return fmt.Errorf("%w: %s", sentinel, apiErr.Message)
		}
		return fmt.Errorf("%s %s: %s (%d)", method, path, apiErr.Message, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return nil
}

// Read fetches a section document.
func (c *Client) Read(ctx context.Context, section string) (content.Document, error) {
	if err := content.ValidateName(section); err != nil {
		return nil, err
	}
	var doc content.Document
	if err := c.do(ctx, http.MethodGet, "/api/content/"+section, nil, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = content.Document{}
	}
	return doc, nil
}

// SaveSection stores doc and returns the document as the server stamped it.
func (c *Client) SaveSection(ctx context.Context, section string, doc content.Document) (service.SaveResult, error) {
	if err := content.ValidateName(section); err != nil {
		return service.SaveResult{}, err
	}
	var resp struct {
		LastUpdated string `json:"lastUpdated"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/content/"+section, doc, &resp); err != nil {
		return service.SaveResult{}, err
	}

	ts, err := time.Parse(time.RFC3339Nano, resp.LastUpdated)
	if err != nil {
		return service.SaveResult{}, fmt.Errorf("%w: bad lastUpdated %q", ErrUnavailable, resp.LastUpdated)
	}
	stamped := doc.Clone()
	if stamped == nil {
		stamped = content.Document{}
	}
	stamped["lastUpdated"] = resp.LastUpdated
	return service.SaveResult{
		Sections:    []string{section},
		LastUpdated: ts,
		Documents:   map[string]content.Document{section: stamped},
	}, nil
}

// Deploy asks the server to publish every section in one commit.
func (c *Client) Deploy(ctx context.Context, message string) (*backend.CommitResult, error) {
	var resp struct {
		Commit *backend.CommitResult `json:"commit"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/deploy", map[string]string{"commitMessage": message}, &resp); err != nil {
		return nil, err
	}
	return resp.Commit, nil
}

// DeploymentStatus returns the server's deployment view.
func (c *Client) DeploymentStatus(ctx context.Context) (*service.Status, error) {
	var resp struct {
		Status *service.Status `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/deployment-status", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Status, nil
}

// Login checks admin credentials.
func (c *Client) Login(ctx context.Context, email, password string) error {
	return c.do(ctx, http.MethodPost, "/api/admin/login", map[string]string{"email": email, "password": password}, nil)
}

// Subscribe streams content-updated events to handler until ctx is cancelled
// or the connection drops. It returns nil on cancellation.
func (c *Client) Subscribe(ctx context.Context, handler func(broadcast.Event)) error {
	wsURL := *c.base
	wsURL.Scheme = "ws"
	if c.base.Scheme == "https" {
		wsURL.Scheme = "wss"
	}
	wsURL.Path = strings.TrimRight(wsURL.Path, "/") + "/api/events"

	conn, _, err := c.dialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		var ev broadcast.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: event stream: %v", ErrUnavailable, err)
		}
		handler(ev)
	}
}
