package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuswebs/omni-crm-bridge-sub000/config"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/configstore"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/customers"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/db"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/delivery"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/health"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/instances"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/pairing"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/payments"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/workflows"
	"github.com/nexuswebs/omni-crm-bridge-sub000/pkg/httputil"
)

type envelope struct {
	Code    int             `json:"code"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func newTestServer(t *testing.T, token string) http.Handler {
	t.Helper()
	conn, err := db.OpenMemory()
	require.NoError(t, err)

	acc, err := configstore.NewAccessor(conn, configstore.NewDefaults(&config.Config{AppDomain: "crm.example.com"}), nil, time.Minute)
	require.NoError(t, err)
	rec, err := health.NewReconciler(acc, nil)
	require.NoError(t, err)
	health.RegisterDefaults(rec, time.Second)

	pm := pairing.NewManager(t.Context(), pairing.NewPoller(10*time.Millisecond, time.Second))
	deliveries := delivery.NewManager(delivery.Config{})
	inst, err := instances.NewService(instances.Deps{DB: conn, Configs: acc, Pairing: pm, Delivery: deliveries, Timeout: time.Second})
	require.NoError(t, err)

	return NewServer(Deps{
		DB:         conn,
		APIToken:   token,
		Configs:    acc,
		Reconciler: rec,
		Instances:  inst,
		Workflows:  workflows.NewService(conn, acc, deliveries, nil, time.Second),
		Customers:  customers.NewService(conn),
		Payments:   payments.NewService(conn, acc),
		Delivery:   deliveries,
	}).Router()
}

func call(t *testing.T, h http.Handler, method, path, user string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), rr.Body.String())
	assert.Equal(t, rr.Code, env.Code)
	return rr.Code, env
}

func TestFail_Envelope(t *testing.T) {
	s := NewServer(Deps{})
	tests := []struct {
		name    string
		err     error
		code    int
		message string
	}{
		{"validation", &health.ValidationError{Field: "api_key", Message: "is required"}, http.StatusBadRequest, "api_key"},
		{"not found", fmt.Errorf("loading: %w", instances.ErrNotFound), http.StatusNotFound, "instance not found"},
		{"conflict", instances.ErrInvalidTransition, http.StatusConflict, "invalid instance state transition"},
		{"gateway", &httputil.APIError{Service: "Evolution", Operation: "Connect", Status: "500 Internal Server Error"}, http.StatusBadGateway, "Evolution API Connect error"},
		{"internal", errors.New("database is locked"), http.StatusInternalServerError, "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			s.fail(rr, httptest.NewRequest(http.MethodGet, "/api/x", nil), tt.err)
			assert.Equal(t, tt.code, rr.Code)

			var raw map[string]interface{}
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &raw))
			assert.EqualValues(t, tt.code, raw["code"])
			assert.Equal(t, false, raw["success"])
			msg, ok := raw["error"].(string)
			require.True(t, ok, "error must be a plain message")
			assert.Contains(t, msg, tt.message)
			assert.NotContains(t, raw, "data")
		})
	}
}

func TestRespond_SuccessEnvelope(t *testing.T) {
	rr := httptest.NewRecorder()
	NewServer(Deps{}).Respond(rr, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusCreated, map[string]string{"id": "c1"})

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &raw))
	assert.EqualValues(t, http.StatusCreated, raw["code"])
	assert.Equal(t, true, raw["success"])
	assert.Equal(t, map[string]interface{}{"id": "c1"}, raw["data"])
	assert.NotContains(t, raw, "error")
}

func TestAuthentication(t *testing.T) {
	h := newTestServer(t, "")

	code, env := call(t, h, http.MethodGet, "/api/customers", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "X-User-ID")

	code, _ = call(t, h, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestAuthentication_Token(t *testing.T) {
	h := newTestServer(t, "s3cret")

	code, _ := call(t, h, http.MethodGet, "/api/customers", "u1", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	req := httptest.NewRequest(http.MethodGet, "/api/customers", nil)
	req.Header.Set("X-User-ID", "u1")
	req.Header.Set("Authorization", "Bearer s3cret")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Request-Id"))
}

func TestConfigEndpoints(t *testing.T) {
	h := newTestServer(t, "")

	code, env := call(t, h, http.MethodPut, "/api/config/n8n", "u1", map[string]interface{}{"api_url": "https://n8n.example.com", "api_key": "k1"})
	require.Equal(t, http.StatusOK, code, env.Error)

	code, env = call(t, h, http.MethodGet, "/api/config/n8n", "u1", nil)
	require.Equal(t, http.StatusOK, code)
	var cfg map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &cfg))
	assert.Equal(t, "https://n8n.example.com", cfg["api_url"])

	code, env = call(t, h, http.MethodGet, "/api/config/n8n/history", "u1", nil)
	require.Equal(t, http.StatusOK, code)
	var history []map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &history))
	assert.Len(t, history, 1)

	code, _ = call(t, h, http.MethodGet, "/api/config/fax", "u1", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = call(t, h, http.MethodPut, "/api/config/n8n", "u1", "{not json")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestIntegrationTest_ValidationBeforeProbe(t *testing.T) {
	h := newTestServer(t, "")

	code, env := call(t, h, http.MethodPost, "/api/integrations/evolution_api/test", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Error, "api_key")

	code, _ = call(t, h, http.MethodGet, "/api/integrations/evolution_api/status", "u1", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestCustomerEndpoints(t *testing.T) {
	h := newTestServer(t, "")

	code, env := call(t, h, http.MethodPost, "/api/customers", "u1", customers.Input{Name: "Ana", Phone: "+55 11 91111-1111"})
	require.Equal(t, http.StatusCreated, code, env.Error)
	var created struct {
		ID    string `json:"id"`
		Phone string `json:"phone"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, "5511911111111", created.Phone)

	code, _ = call(t, h, http.MethodPost, "/api/customers", "u1", customers.Input{Name: "Dup", Phone: "5511911111111"})
	assert.Equal(t, http.StatusConflict, code)

	code, env = call(t, h, http.MethodGet, "/api/customers?q=ana", "u1", nil)
	require.Equal(t, http.StatusOK, code)
	var page struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Equal(t, 1, page.Total)

	code, _ = call(t, h, http.MethodGet, "/api/customers/"+created.ID, "u2", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = call(t, h, http.MethodDelete, "/api/customers/"+created.ID, "u1", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestWorkflowEndpoints(t *testing.T) {
	h := newTestServer(t, "")

	code, env := call(t, h, http.MethodPost, "/api/workflows", "u1", workflows.Input{Name: "Onboarding"})
	require.Equal(t, http.StatusCreated, code, env.Error)
	var wf struct {
		ID          string `json:"id"`
		Status      string `json:"status"`
		TriggerType string `json:"trigger_type"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &wf))
	assert.Equal(t, workflows.StatusInactive, wf.Status)
	assert.Equal(t, workflows.TriggerWebhook, wf.TriggerType)

	code, _ = call(t, h, http.MethodPost, "/api/workflows/"+wf.ID+"/execute", "u1", nil)
	assert.Equal(t, http.StatusConflict, code)

	code, env = call(t, h, http.MethodPost, "/api/workflows/"+wf.ID+"/activate", "u1", nil)
	require.Equal(t, http.StatusOK, code, env.Error)

	code, env = call(t, h, http.MethodGet, "/api/workflows?status=active", "u1", nil)
	require.Equal(t, http.StatusOK, code)
	var list []map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list, 1)

	code, _ = call(t, h, http.MethodPost, "/api/workflows/"+wf.ID+"/execute", "u1", map[string]interface{}{"payload": map[string]string{"a": "b"}})
	assert.Equal(t, http.StatusConflict, code, "no webhook target configured")
}

func TestInstanceEndpoints(t *testing.T) {
	h := newTestServer(t, "")

	code, env := call(t, h, http.MethodPost, "/api/instances", "u1", instances.CreateRequest{Name: "sales"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Error, "api_key")

	code, _ = call(t, h, http.MethodGet, "/api/instances/sales", "u1", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, env = call(t, h, http.MethodGet, "/api/instances", "u1", nil)
	require.Equal(t, http.StatusOK, code)
	var list []interface{}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Empty(t, list)
}

func TestPaymentEndpoints(t *testing.T) {
	h := newTestServer(t, "")

	code, _ := call(t, h, http.MethodPost, "/api/payments", "u1", payments.Input{Gateway: "stripe", Amount: 1000})
	assert.Equal(t, http.StatusConflict, code)

	code, _ = call(t, h, http.MethodPut, "/api/config/stripe", "u1", map[string]interface{}{"enabled": true})
	require.Equal(t, http.StatusOK, code)

	code, env := call(t, h, http.MethodPost, "/api/payments", "u1", payments.Input{Gateway: "stripe", Amount: 1000})
	require.Equal(t, http.StatusCreated, code, env.Error)

	code, env = call(t, h, http.MethodGet, "/api/payments?gateway=stripe", "u1", nil)
	require.Equal(t, http.StatusOK, code)
	var list []map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list, 1)
}

func TestDeliveryEndpoints(t *testing.T) {
	h := newTestServer(t, "")

	code, env := call(t, h, http.MethodGet, "/api/deliveries", "u1", nil)
	require.Equal(t, http.StatusOK, code)
	var status struct {
		Status  string        `json:"status"`
		Pending []interface{} `json:"pending"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.Equal(t, "running", status.Status)
	assert.Empty(t, status.Pending)

	code, _ = call(t, h, http.MethodGet, "/api/deliveries/missing", "u1", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = call(t, h, http.MethodPost, "/api/deliveries/missing/retry", "u1", nil)
	assert.Equal(t, http.StatusNotFound, code)
}
