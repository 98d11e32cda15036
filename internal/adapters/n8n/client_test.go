package n8n

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuswebs/omni-crm-bridge-sub000/pkg/httputil"
)

func newServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL, "n8n-key", time.Second)
	require.NoError(t, err)
	return c
}

func TestListWorkflows_PublicAPI(t *testing.T) {
	var paths []string
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		assert.Equal(t, "n8n-key", r.Header.Get("X-N8N-API-KEY"))
		_, _ = w.Write([]byte(`{"data":[{"id":"1","name":"Onboarding","active":true}],"nextCursor":null}`))
	})

	list, err := c.ListWorkflows(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Onboarding", list[0].Name)
	assert.True(t, list[0].Active)
	assert.Equal(t, []string{PublicWorkflowsPath}, paths)
}

func TestListWorkflows_FallsBackToLegacyPath(t *testing.T) {
	var paths []string
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == PublicWorkflowsPath {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"not found"}`))
			return
		}
		_, _ = w.Write([]byte(`[{"id":7,"name":"Legacy","active":false}]`))
	})

	list, err := c.ListWorkflows(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, ID("7"), list[0].ID)
	assert.Equal(t, []string{PublicWorkflowsPath, LegacyWorkflowsPath}, paths)
}

func TestListWorkflows_BothFail(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"unauthorized"}`))
	})

	_, err := c.ListWorkflows(context.Background())
	require.Error(t, err)
	assert.True(t, httputil.IsAPIError(err))
	assert.Contains(t, err.Error(), PublicWorkflowsPath)
	assert.Contains(t, err.Error(), LegacyWorkflowsPath)
}

func TestToggleWorkflow(t *testing.T) {
	var got string
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Method + " " + r.URL.Path
		_, _ = w.Write([]byte(`{}`))
	})

	require.NoError(t, c.ActivateWorkflow(context.Background(), "42"))
	assert.Equal(t, "POST /api/v1/workflows/42/activate", got)

	require.NoError(t, c.DeactivateWorkflow(context.Background(), "42"))
	assert.Equal(t, "POST /api/v1/workflows/42/deactivate", got)
}

func TestTriggerWebhook(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	err := TriggerWebhook(context.Background(), resty.New(), srv.URL+"/webhook/abc", map[string]string{"customer": "Ana"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"customer":"Ana"}`, body)
}
