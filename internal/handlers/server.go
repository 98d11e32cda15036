package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/configstore"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/customers"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/delivery"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/health"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/instances"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/pairing"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/payments"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/workflows"
	"github.com/nexuswebs/omni-crm-bridge-sub000/pkg/httputil"
)

// Deps are the services behind the HTTP API.
type Deps struct {
	DB         *gorm.DB
	APIToken   string
	Configs    *configstore.Accessor
	Reconciler *health.Reconciler
	Instances  *instances.Service
	Workflows  *workflows.Service
	Customers  *customers.Service
	Payments   *payments.Service
	Delivery   *delivery.Manager
}

// Server serves the HTTP API.
type Server struct {
	Deps
	started time.Time
}

// NewServer creates a Server.
func NewServer(d Deps) *Server {
	return &Server{Deps: d, started: time.Now()}
}

// Router builds the routes with access logging and, under /api, auth.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.Health()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.authenticate)

	api.HandleFunc("/config", s.ListConfigTypes()).Methods(http.MethodGet)
	api.HandleFunc("/config/{type}", s.GetConfig()).Methods(http.MethodGet)
	api.HandleFunc("/config/{type}", s.UpdateConfig()).Methods(http.MethodPut)
	api.HandleFunc("/config/{type}/history", s.ConfigHistory()).Methods(http.MethodGet)

	api.HandleFunc("/integrations/{type}/test", s.TestIntegration()).Methods(http.MethodPost)
	api.HandleFunc("/integrations/{type}/status", s.IntegrationStatus()).Methods(http.MethodGet)

	api.HandleFunc("/instances", s.ListInstances()).Methods(http.MethodGet)
	api.HandleFunc("/instances", s.CreateInstance()).Methods(http.MethodPost)
	api.HandleFunc("/instances/remote", s.RemoteInstances()).Methods(http.MethodGet)
	api.HandleFunc("/instances/{name}", s.GetInstance()).Methods(http.MethodGet)
	api.HandleFunc("/instances/{name}", s.UpdateInstance()).Methods(http.MethodPatch)
	api.HandleFunc("/instances/{name}", s.DeleteInstance()).Methods(http.MethodDelete)
	api.HandleFunc("/instances/{name}/connect", s.ConnectInstance()).Methods(http.MethodPost)
	api.HandleFunc("/instances/{name}/qrcode", s.InstanceQRCode()).Methods(http.MethodGet)
	api.HandleFunc("/instances/{name}/state", s.InstanceState()).Methods(http.MethodGet)
	api.HandleFunc("/instances/{name}/logout", s.LogoutInstance()).Methods(http.MethodPost)
	api.HandleFunc("/instances/{name}/restart", s.RestartInstance()).Methods(http.MethodPost)
	api.HandleFunc("/instances/{name}/pairing", s.CancelPairing()).Methods(http.MethodDelete)
	api.HandleFunc("/instances/{name}/messages", s.ListMessages()).Methods(http.MethodGet)
	api.HandleFunc("/instances/{name}/messages", s.SendMessage()).Methods(http.MethodPost)

	api.HandleFunc("/workflows", s.ListWorkflows()).Methods(http.MethodGet)
	api.HandleFunc("/workflows", s.CreateWorkflow()).Methods(http.MethodPost)
	api.HandleFunc("/workflows/remote", s.RemoteWorkflows()).Methods(http.MethodGet)
	api.HandleFunc("/workflows/{id}", s.GetWorkflow()).Methods(http.MethodGet)
	api.HandleFunc("/workflows/{id}", s.UpdateWorkflow()).Methods(http.MethodPut)
	api.HandleFunc("/workflows/{id}", s.DeleteWorkflow()).Methods(http.MethodDelete)
	api.HandleFunc("/workflows/{id}/activate", s.SetWorkflowStatus(true)).Methods(http.MethodPost)
	api.HandleFunc("/workflows/{id}/deactivate", s.SetWorkflowStatus(false)).Methods(http.MethodPost)
	api.HandleFunc("/workflows/{id}/execute", s.ExecuteWorkflow()).Methods(http.MethodPost)

	api.HandleFunc("/customers", s.ListCustomers()).Methods(http.MethodGet)
	api.HandleFunc("/customers", s.CreateCustomer()).Methods(http.MethodPost)
	api.HandleFunc("/customers/{id}", s.GetCustomer()).Methods(http.MethodGet)
	api.HandleFunc("/customers/{id}", s.UpdateCustomer()).Methods(http.MethodPut)
	api.HandleFunc("/customers/{id}", s.DeleteCustomer()).Methods(http.MethodDelete)

	api.HandleFunc("/payments", s.ListPayments()).Methods(http.MethodGet)
	api.HandleFunc("/payments", s.CreatePayment()).Methods(http.MethodPost)

	api.HandleFunc("/deliveries", s.DeliveryStatus()).Methods(http.MethodGet)
	api.HandleFunc("/deliveries/{id}", s.EventStatus()).Methods(http.MethodGet)
	api.HandleFunc("/deliveries/{id}/retry", s.ForceRetry()).Methods(http.MethodPost)

	chain := alice.New(
		hlog.NewHandler(log.Logger),
		hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
			hlog.FromRequest(r).Info().
				Str("method", r.Method).
				Stringer("url", r.URL).
				Int("status", status).
				Int("size", size).
				Dur("duration", duration).
				Msg("Request")
		}),
		hlog.RemoteAddrHandler("ip"),
		hlog.UserAgentHandler("user_agent"),
		hlog.RequestIDHandler("req_id", "Request-Id"),
	)
	return chain.Then(r)
}

// Health reports liveness and database reachability.
func (s *Server) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]interface{}{
			"status":  "ok",
			"uptime":  time.Since(s.started).Round(time.Second).String(),
			"version": "1",
		}
		if s.DB != nil {
			sqlDB, err := s.DB.DB()
			if err == nil {
				err = sqlDB.PingContext(r.Context())
			}
			if err != nil {
				status["status"] = "degraded"
				status["database"] = err.Error()
				s.Respond(w, r, http.StatusServiceUnavailable, status)
				return
			}
			status["database"] = "ok"
		}
		s.Respond(w, r, http.StatusOK, status)
	}
}

// Respond writes the standard envelope. An error value becomes
// {"success":false,"error":...}; anything else is returned under "data".
func (s *Server) Respond(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	envelope := map[string]interface{}{"code": status}
	if err, ok := data.(error); ok {
		envelope["success"] = false
		envelope["error"] = err.Error()
	} else {
		envelope["success"] = status < http.StatusBadRequest
		envelope["data"] = data
	}
	if err := json.NewEncoder(w).Encode(envelope); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Failed to encode response")
	}
}

// fail maps a service error to a status code and responds with it.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Msg("Request failed")
	}
	if status == http.StatusInternalServerError {
		err = errors.New("internal error")
	}
	s.Respond(w, r, status, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, configstore.ErrNoUser):
		return http.StatusUnauthorized
	case health.IsValidation(err),
		errors.Is(err, health.ErrNoProber),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, configstore.ErrUnknownType),
		errors.Is(err, instances.ErrNotFound),
		errors.Is(err, workflows.ErrNotFound),
		errors.Is(err, customers.ErrNotFound),
		errors.Is(err, delivery.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, instances.ErrDuplicate),
		errors.Is(err, instances.ErrNotConnected),
		errors.Is(err, instances.ErrInvalidTransition),
		errors.Is(err, customers.ErrDuplicatePhone),
		errors.Is(err, workflows.ErrInactive),
		errors.Is(err, workflows.ErrNoTarget),
		errors.Is(err, payments.ErrGatewayDisabled),
		errors.Is(err, health.ErrTestInProgress),
		errors.Is(err, pairing.ErrNotRunning),
		errors.Is(err, delivery.ErrNotFailed):
		return http.StatusConflict
	case httputil.IsAPIError(err):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

var errBadRequest = errors.New("bad request")

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	return nil
}

func queryInt(r *http.Request, name string, fallback int) int {
	if raw := r.URL.Query().Get(name); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			return n
		}
	}
	return fallback
}
