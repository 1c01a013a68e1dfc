package deploy

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// WebhookChannel posts a deployment event to a deploy hook URL (Render).
type WebhookChannel struct {
	url     string
	service string
	post    *poster
}

func (c *WebhookChannel) Name() string { return "render-webhook" }

func (c *WebhookChannel) Notify(ctx context.Context, md Metadata) error {
	payload := map[string]any{
		"event":     "deployment",
		"timestamp": md.Timestamp.UTC().Format(time.RFC3339Nano),
		"service":   c.service,
	}
	if md.CommitSHA != "" {
		payload["commit"] = md.CommitSHA
	}
	if len(md.Sections) > 0 {
		payload["sections"] = md.Sections
	}
	if md.Reason != "" {
		payload["reason"] = md.Reason
	}
	return c.post.postJSON(ctx, c.url, "", payload, nil)
}

const railwayDeployMutation = `mutation serviceDeploy($serviceId: String!) { serviceDeploy(serviceId: $serviceId) }`

// RailwayChannel redeploys a Railway service through its GraphQL API.
type RailwayChannel struct {
	endpoint  string
	token     string
	serviceID string
	post      *poster
}

func (c *RailwayChannel) Name() string { return "railway" }

func (c *RailwayChannel) Notify(ctx context.Context, _ Metadata) error {
	var resp struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	payload := map[string]any{
		"query":     railwayDeployMutation,
		"variables": map[string]string{"serviceId": c.serviceID},
	}
	if err := c.post.postJSON(ctx, c.endpoint, c.token, payload, &resp); err != nil {
		return err
	}
	// GraphQL reports failures with a 200 status.
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			msgs = append(msgs, e.Message)
		}
		return errors.New(strings.Join(msgs, "; "))
	}
	return nil
}

// VercelChannel calls the Vercel deploy integration for a project.
type VercelChannel struct {
	endpoint  string
	token     string
	projectID string
	post      *poster
}

func (c *VercelChannel) Name() string { return "vercel" }

func (c *VercelChannel) Notify(ctx context.Context, md Metadata) error {
	endpoint := fmt.Sprintf("%s/v1/integrations/deploy/%s", c.endpoint, url.PathEscape(c.projectID))
	payload := map[string]any{}
	if md.CommitSHA != "" {
		payload["ref"] = md.CommitSHA
	}
	return c.post.postJSON(ctx, endpoint, c.token, payload, nil)
}
