// Package deploy notifies the hosting platform that new content is ready.
//
// Channels are tried in order until one accepts the notification. A failing
// channel is logged and skipped; only malformed configuration is an error.
package deploy

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

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/shuklalaw/sitecms/internal/config"
)

// Metadata describes what is being deployed.
type Metadata struct {
	Reason    string
	CommitSHA string
	Sections  []string
	Timestamp time.Time
}

// Channel is one way of telling a hosting platform to redeploy.
type Channel interface {
	Name() string
	Notify(ctx context.Context, md Metadata) error
}

// Trigger tries its channels in order.
type Trigger struct {
	channels []Channel
	logger   *zap.Logger
}

// Option customizes a Trigger built by New.
type Option func(*options)

type options struct {
	client        *http.Client
	retries       int
	retryInterval time.Duration
}

// WithHTTPClient replaces the pooled default client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// WithRetryInterval sets the first backoff interval between attempts.
func WithRetryInterval(d time.Duration) Option {
	return func(o *options) { o.retryInterval = d }
}

// New builds the configured channels in the order Render, Railway, Vercel.
// A config with no channels yields a Trigger whose Notify always returns false.
func New(cfg config.DeployConfig, logger *zap.Logger, opts ...Option) (*Trigger, error) {
	o := options{
		client:        cleanhttp.DefaultPooledClient(),
		retries:       cfg.Retries,
		retryInterval: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&o)
	}
	post := &poster{client: o.client, retries: o.retries, interval: o.retryInterval}

	var channels []Channel
	if cfg.RenderWebhookURL != "" {
		if err := checkURL(cfg.RenderWebhookURL); err != nil {
			return nil, fmt.Errorf("render webhook: %w", err)
		}
		channels = append(channels, &WebhookChannel{url: cfg.RenderWebhookURL, service: cfg.ServiceName, post: post})
	}

	if cfg.RailwayToken != "" || cfg.RailwayServiceID != "" {
		if cfg.RailwayToken == "" || cfg.RailwayServiceID == "" {
			return nil, errors.New("railway: token and service id must be set together")
		}
		if err := checkURL(cfg.RailwayEndpoint); err != nil {
			return nil, fmt.Errorf("railway endpoint: %w", err)
		}
		channels = append(channels, &RailwayChannel{
			endpoint:  cfg.RailwayEndpoint,
			token:     cfg.RailwayToken,
			serviceID: cfg.RailwayServiceID,
			post:      post,
		})
	}

	if cfg.VercelToken != "" || cfg.VercelProjectID != "" {
		if cfg.VercelToken == "" || cfg.VercelProjectID == "" {
			return nil, errors.New("vercel: token and project id must be set together")
		}
		if err := checkURL(cfg.VercelEndpoint); err != nil {
			return nil, fmt.Errorf("vercel endpoint: %w", err)
		}
		channels = append(channels, &VercelChannel{
			endpoint:  strings.TrimRight(cfg.VercelEndpoint, "/"),
			token:     cfg.VercelToken,
			projectID: cfg.VercelProjectID,
			post:      post,
		})
	}

	return NewWithChannels(logger, channels...), nil
}

// NewWithChannels builds a Trigger from explicit channels.
func NewWithChannels(logger *zap.Logger, channels ...Channel) *Trigger {
	return &Trigger{channels: channels, logger: logger}
}

// Configured reports whether at least one channel exists.
func (t *Trigger) Configured() bool {
	return t != nil && len(t.channels) > 0
}

// Channels returns the channel names in the order they are tried.
func (t *Trigger) Channels() []string {
	names := make([]string, 0, len(t.channels))
	for _, c := range t.channels {
		names = append(names, c.Name())
	}
	return names
}

// Notify returns true as soon as one channel accepts the notification, and
// false if none are configured or all of them failed.
func (t *Trigger) Notify(ctx context.Context, md Metadata) bool {
	if t == nil {
		return false
	}
	if len(t.channels) == 0 {
		t.logger.Debug("no deploy channels configured")
		return false
	}
	if md.Timestamp.IsZero() {
		md.Timestamp = time.Now().UTC()
	}

	var errs *multierror.Error
	for _, ch := range t.channels {
		if err := ch.Notify(ctx, md); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
			continue
		}
		t.logger.Info("deployment triggered",
			zap.String("channel", ch.Name()),
			zap.String("commit", md.CommitSHA),
			zap.String("reason", md.Reason))
		return true
	}

	t.logger.Warn("all deploy channels failed", zap.Error(errs.ErrorOrNil()))
	return false
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("malformed URL %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("malformed URL %q: must be absolute http(s)", raw)
	}
	return nil
}

// statusError is a non-2xx reply from a channel endpoint.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("unexpected status %d", e.status)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.status, e.body)
}

// poster sends JSON requests, retrying network errors and 5xx replies
// with exponential backoff. 4xx replies are not retried.
type poster struct {
	client   *http.Client
	retries  int
	interval time.Duration
}

func (p *poster) postJSON(ctx context.Context, endpoint, bearer string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}

		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if resp.StatusCode >= 500 {
			return &statusError{status: resp.StatusCode, body: strings.TrimSpace(string(respBody))}
		}
		if resp.StatusCode >= 300 {
			return backoff.Permanent(&statusError{status: resp.StatusCode, body: strings.TrimSpace(string(respBody))})
		}
		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return backoff.Permanent(fmt.Errorf("decode response: %w", err))
			}
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.interval
	b.MaxElapsedTime = 0
	retries := p.retries
	if retries < 0 {
		retries = 0
	}
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx))
}
