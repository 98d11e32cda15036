package evolution

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/nexuswebs/omni-crm-bridge-sub000/pkg/httputil"
)

const serviceName = "Evolution"

// Client talks to an Evolution API (WhatsApp gateway) server.
// Each method is a single request; nothing is retried.
type Client struct {
	httpClient *resty.Client
	baseURL    string
}

// NewClient creates a new Evolution API client authenticated with the
// "apikey" header.
func NewClient(baseURL, apiKey string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("Evolution API baseURL cannot be empty")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("Evolution API apiKey cannot be empty")
	}

	baseURL = strings.TrimRight(baseURL, "/")
	client := httputil.NewRestyClient(baseURL, timeout).
		SetHeader("apikey", apiKey)

	log.Debug().Str("baseURL", baseURL).Msg("Evolution API client configured")

	return &Client{httpClient: client, baseURL: baseURL}, nil
}

func instancePath(format, name string) string {
	return fmt.Sprintf(format, url.PathEscape(name))
}

func (c *Client) fail(op, path string, resp *resty.Response, err error) error {
	if err != nil {
		log.Error().Err(err).Str("url", path).Msgf("Evolution API: %s request failed", op)
		return fmt.Errorf("Evolution API %s request failed: %w", op, err)
	}
	log.Error().Str("url", path).Int("statusCode", resp.StatusCode()).Str("responseBody", string(resp.Body())).Msgf("Evolution API: %s returned an error", op)
	return httputil.NewAPIError(serviceName, op, resp)
}

// CreateInstance creates a remote instance.
func (c *Client) CreateInstance(ctx context.Context, req CreateInstanceRequest) (*CreateInstanceResponse, error) {
	const path = "/instance/create"
	if req.Integration == "" {
		req.Integration = "WHATSAPP-BAILEYS"
	}

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&CreateInstanceResponse{}).
		Post(path)
	if err != nil || resp.IsError() {
		return nil, c.fail("CreateInstance", path, resp, err)
	}

	out := resp.Result().(*CreateInstanceResponse)
	log.Info().Str("instance", req.InstanceName).Str("status", out.Instance.Status).Msg("Evolution instance created")
	return out, nil
}

// Connect asks the gateway to start pairing and returns the pairing artifact.
// An empty QRCode means the instance is already connected.
func (c *Client) Connect(ctx context.Context, name string) (*QRCode, error) {
	path := instancePath("/instance/connect/%s", name)

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&QRCode{}).
		Get(path)
	if err != nil || resp.IsError() {
		return nil, c.fail("Connect", path, resp, err)
	}
	return resp.Result().(*QRCode), nil
}

// QRCode fetches the current QR payload for an instance.
func (c *Client) QRCode(ctx context.Context, name string) (*QRCode, error) {
	path := instancePath("/instance/qrcode/%s", name)

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&QRCode{}).
		Get(path)
	if err != nil || resp.IsError() {
		return nil, c.fail("QRCode", path, resp, err)
	}
	return resp.Result().(*QRCode), nil
}

// ConnectionState returns the gateway's connection state ("open", "close", "connecting").
func (c *Client) ConnectionState(ctx context.Context, name string) (string, error) {
	path := instancePath("/instance/connectionState/%s", name)

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&ConnectionStateResponse{}).
		Get(path)
	if err != nil || resp.IsError() {
		return "", c.fail("ConnectionState", path, resp, err)
	}

	out := resp.Result().(*ConnectionStateResponse)
	state := out.Instance.State
	if state == "" {
		state = out.Instance.Status
	}
	return state, nil
}

// FetchInstances lists every instance known to the gateway.
func (c *Client) FetchInstances(ctx context.Context) ([]InstanceInfo, error) {
	const path = "/instance/fetchInstances"

	var out []InstanceInfo
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&out).
		Get(path)
	if err != nil || resp.IsError() {
		return nil, c.fail("FetchInstances", path, resp, err)
	}
	return out, nil
}

// DeleteInstance removes an instance from the gateway.
func (c *Client) DeleteInstance(ctx context.Context, name string) error {
	path := instancePath("/instance/delete/%s", name)

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&StatusResponse{}).
		Delete(path)
	if err != nil || resp.IsError() {
		return c.fail("DeleteInstance", path, resp, err)
	}
	log.Info().Str("instance", name).Msg("Evolution instance deleted")
	return nil
}

// Logout disconnects the WhatsApp session of an instance.
func (c *Client) Logout(ctx context.Context, name string) error {
	path := instancePath("/instance/logout/%s", name)

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&StatusResponse{}).
		Delete(path)
	if err != nil || resp.IsError() {
		return c.fail("Logout", path, resp, err)
	}
	log.Info().Str("instance", name).Msg("Evolution instance logged out")
	return nil
}

// Restart restarts an instance on the gateway.
func (c *Client) Restart(ctx context.Context, name string) error {
	path := instancePath("/instance/restart/%s", name)

	resp, err := c.httpClient.R().
		SetContext(ctx).
		Put(path)
	if err != nil || resp.IsError() {
		return c.fail("Restart", path, resp, err)
	}
	log.Info().Str("instance", name).Msg("Evolution instance restarted")
	return nil
}

// SendText sends a text message through a connected instance.
func (c *Client) SendText(ctx context.Context, name string, req SendTextRequest) (*SendTextResponse, error) {
	path := instancePath("/message/sendText/%s", name)
	req.Number = NormalizeNumber(req.Number)

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&SendTextResponse{}).
		Post(path)
	if err != nil || resp.IsError() {
		return nil, c.fail("SendText", path, resp, err)
	}

	out := resp.Result().(*SendTextResponse)
	log.Info().Str("instance", name).Str("messageID", out.Key.ID).Msg("Evolution text message sent")
	return out, nil
}

// SetWebhook points the instance's event webhook at webhookURL.
func (c *Client) SetWebhook(ctx context.Context, name, webhookURL string, events []string) error {
	path := instancePath("/webhook/set/%s", name)

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(setWebhookRequest{Webhook: WebhookSetting{
			Enabled: webhookURL != "",
			URL:     webhookURL,
			Events:  events,
		}}).
		Post(path)
	if err != nil || resp.IsError() {
		return c.fail("SetWebhook", path, resp, err)
	}
	return nil
}

// NormalizeNumber keeps only the digits of a phone number.
func NormalizeNumber(number string) string {
	var b strings.Builder
	b.Grow(len(number))
	for _, r := range number {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
