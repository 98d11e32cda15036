package n8n

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/nexuswebs/omni-crm-bridge-sub000/pkg/httputil"
)

const serviceName = "n8n"

// Workflow paths. Older n8n builds only serve the internal REST path.
const (
	PublicWorkflowsPath = "/api/v1/workflows"
	LegacyWorkflowsPath = "/rest/workflows"
)

// ID is a workflow or tag id. n8n returns numbers on older builds and
// strings on newer ones.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	if string(b) == "null" {
		*id = ""
		return nil
	}
	*id = ID(b)
	return nil
}

// Workflow is a workflow as listed by n8n.
type Workflow struct {
	ID        ID     `json:"id"`
	Name      string `json:"name"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
	Tags      []Tag  `json:"tags,omitempty"`
}

// Tag is an n8n workflow tag.
type Tag struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

// Client talks to an n8n instance with the X-N8N-API-KEY header.
type Client struct {
	httpClient *resty.Client
	baseURL    string
}

// NewClient creates a new n8n client.
func NewClient(baseURL, apiKey string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("n8n baseURL cannot be empty")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("n8n apiKey cannot be empty")
	}

	baseURL = strings.TrimRight(baseURL, "/")
	client := httputil.NewRestyClient(baseURL, timeout).
		SetHeader("X-N8N-API-KEY", apiKey)

	log.Debug().Str("baseURL", baseURL).Msg("n8n client configured")
	return &Client{httpClient: client, baseURL: baseURL}, nil
}

// ListWorkflows lists workflows from the public API and falls back to the
// legacy REST path when the first request fails for any reason.
func (c *Client) ListWorkflows(ctx context.Context) ([]Workflow, error) {
	list, err := c.listWorkflows(ctx, PublicWorkflowsPath)
	if err == nil {
		return list, nil
	}

	log.Warn().Err(err).Str("fallback", LegacyWorkflowsPath).Msg("n8n API: public workflows endpoint failed, trying fallback")
	list, fallbackErr := c.listWorkflows(ctx, LegacyWorkflowsPath)
	if fallbackErr != nil {
		return nil, fmt.Errorf("n8n API ListWorkflows failed on %s (%v) and %s: %w", PublicWorkflowsPath, err, LegacyWorkflowsPath, fallbackErr)
	}
	return list, nil
}

func (c *Client) listWorkflows(ctx context.Context, path string) ([]Workflow, error) {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		Get(path)
	if err != nil {
		log.Error().Err(err).Str("url", path).Msg("n8n API: ListWorkflows request failed")
		return nil, fmt.Errorf("n8n API ListWorkflows request failed: %w", err)
	}
	if resp.IsError() {
		log.Error().Str("url", path).Int("statusCode", resp.StatusCode()).Str("responseBody", string(resp.Body())).Msg("n8n API: ListWorkflows returned an error")
		return nil, httputil.NewAPIError(serviceName, "ListWorkflows", resp)
	}
	return decodeWorkflows(resp.Body())
}

// decodeWorkflows accepts {"data":[...]} as well as a bare array.
func decodeWorkflows(body []byte) ([]Workflow, error) {
	var envelope struct {
		Data []Workflow `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Data != nil {
		return envelope.Data, nil
	}

	var list []Workflow
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("n8n API ListWorkflows returned an unexpected body: %w", err)
	}
	return list, nil
}

// ActivateWorkflow turns a workflow on.
func (c *Client) ActivateWorkflow(ctx context.Context, id string) error {
	return c.toggle(ctx, id, "activate")
}

// DeactivateWorkflow turns a workflow off.
func (c *Client) DeactivateWorkflow(ctx context.Context, id string) error {
	return c.toggle(ctx, id, "deactivate")
}

func (c *Client) toggle(ctx context.Context, id, action string) error {
	path := fmt.Sprintf("%s/%s/%s", PublicWorkflowsPath, url.PathEscape(id), action)

	resp, err := c.httpClient.R().
		SetContext(ctx).
		Post(path)
	if err != nil {
		log.Error().Err(err).Str("url", path).Msgf("n8n API: %s request failed", action)
		return fmt.Errorf("n8n API %s request failed: %w", action, err)
	}
	if resp.IsError() {
		log.Error().Str("url", path).Int("statusCode", resp.StatusCode()).Str("responseBody", string(resp.Body())).Msgf("n8n API: %s returned an error", action)
		return httputil.NewAPIError(serviceName, action, resp)
	}
	log.Info().Str("workflowID", id).Str("action", action).Msg("n8n workflow toggled")
	return nil
}

// TriggerWebhook posts payload to a workflow webhook URL. The URL is absolute
// and does not need the API key.
func TriggerWebhook(ctx context.Context, httpClient *resty.Client, webhookURL string, payload interface{}) error {
	resp, err := httpClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(webhookURL)
	if err != nil {
		return fmt.Errorf("n8n webhook request failed: %w", err)
	}
	if resp.IsError() {
		return httputil.NewAPIError(serviceName, "TriggerWebhook", resp)
	}
	return nil
}
