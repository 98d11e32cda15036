package evolution

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuswebs/omni-crm-bridge-sub000/pkg/httputil"
)

type recorded struct {
	method string
	path   string
	apikey string
	body   map[string]interface{}
}

func newGateway(t *testing.T, status int, reply string) (*Client, *[]recorded) {
	t.Helper()
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{method: r.Method, path: r.URL.Path, apikey: r.Header.Get("apikey")}
		_ = json.NewDecoder(r.Body).Decode(&rec.body)
		calls = append(calls, rec)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL+"/", "secret-key", time.Second)
	require.NoError(t, err)
	return c, &calls
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient("", "k", 0)
	assert.Error(t, err)
	_, err = NewClient("http://x", "", 0)
	assert.Error(t, err)
}

func TestEndpoints(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		call   func(c *Client) error
		method string
		path   string
	}{
		{"create", func(c *Client) error {
			_, err := c.CreateInstance(ctx, CreateInstanceRequest{InstanceName: "sales", QRCode: true})
			return err
		}, http.MethodPost, "/instance/create"},
		{"connect", func(c *Client) error { _, err := c.Connect(ctx, "sales"); return err }, http.MethodGet, "/instance/connect/sales"},
		{"qrcode", func(c *Client) error { _, err := c.QRCode(ctx, "sales"); return err }, http.MethodGet, "/instance/qrcode/sales"},
		{"state", func(c *Client) error { _, err := c.ConnectionState(ctx, "sales"); return err }, http.MethodGet, "/instance/connectionState/sales"},
		{"delete", func(c *Client) error { return c.DeleteInstance(ctx, "sales") }, http.MethodDelete, "/instance/delete/sales"},
		{"logout", func(c *Client) error { return c.Logout(ctx, "sales") }, http.MethodDelete, "/instance/logout/sales"},
		{"restart", func(c *Client) error { return c.Restart(ctx, "sales") }, http.MethodPut, "/instance/restart/sales"},
		{"send", func(c *Client) error {
			_, err := c.SendText(ctx, "sales", SendTextRequest{Number: "+55 (11) 99999-0000", Text: "oi"})
			return err
		}, http.MethodPost, "/message/sendText/sales"},
		{"webhook", func(c *Client) error { return c.SetWebhook(ctx, "sales", "https://hooks", nil) }, http.MethodPost, "/webhook/set/sales"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, calls := newGateway(t, http.StatusOK, `{}`)
			require.NoError(t, tt.call(c))
			require.Len(t, *calls, 1)
			got := (*calls)[0]
			assert.Equal(t, tt.method, got.method)
			assert.Equal(t, tt.path, got.path)
			assert.Equal(t, "secret-key", got.apikey)
		})
	}
}

func TestFetchInstances_BothShapes(t *testing.T) {
	c, calls := newGateway(t, http.StatusOK, `[
		{"instance":{"instanceName":"old","status":"open"}},
		{"name":"new","connectionStatus":"close","ownerJid":"5511@s.whatsapp.net"}
	]`)

	list, err := c.FetchInstances(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "/instance/fetchInstances", (*calls)[0].path)

	assert.Equal(t, "old", list[0].InstanceName())
	assert.Equal(t, "open", list[0].State())
	assert.Equal(t, "new", list[1].InstanceName())
	assert.Equal(t, "close", list[1].State())
}

func TestConnectionState(t *testing.T) {
	c, _ := newGateway(t, http.StatusOK, `{"instance":{"instanceName":"sales","state":"open"}}`)

	state, err := c.ConnectionState(context.Background(), "sales")
	require.NoError(t, err)
	assert.Equal(t, StateOpen, state)
}

func TestSendText_NormalizesNumber(t *testing.T) {
	c, calls := newGateway(t, http.StatusCreated, `{"key":{"id":"ABC","remoteJid":"5511999990000@s.whatsapp.net","fromMe":true}}`)

	out, err := c.SendText(context.Background(), "sales", SendTextRequest{Number: "+55 (11) 99999-0000", Text: "oi"})
	require.NoError(t, err)
	assert.Equal(t, "ABC", out.Key.ID)
	assert.Equal(t, "5511999990000", (*calls)[0].body["number"])
	assert.Equal(t, "oi", (*calls)[0].body["text"])
}

func TestNon2xxCarriesStatusAndBody(t *testing.T) {
	c, _ := newGateway(t, http.StatusUnauthorized, `{"error":"Unauthorized"}`)

	_, err := c.FetchInstances(context.Background())
	require.Error(t, err)

	var apiErr *httputil.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "Unauthorized")
	assert.Contains(t, err.Error(), "401")
}

func TestQRCodeEmpty(t *testing.T) {
	var q *QRCode
	assert.True(t, q.Empty())
	assert.True(t, (&QRCode{Count: 1}).Empty())
	assert.False(t, (&QRCode{Base64: "data:image/png;base64,AAA"}).Empty())
}
