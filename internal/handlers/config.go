package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// ListConfigTypes returns the config types a user can store.
func (s *Server) ListConfigTypes() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Respond(w, r, http.StatusOK, map[string]interface{}{
			"types":    s.Configs.Types(),
			"testable": s.Reconciler.Types(),
		})
	}
}

// GetConfig returns the active config of a type merged over its defaults.
func (s *Server) GetConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg, err := s.Configs.Load(r.Context(), userFrom(r), mux.Vars(r)["type"])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.Respond(w, r, http.StatusOK, cfg)
	}
}

// UpdateConfig merges the request body into the active config and stores the
// result as the new active version.
func (s *Server) UpdateConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patch map[string]interface{}
		if err := decode(r, &patch); err != nil {
			s.fail(w, r, err)
			return
		}
		cfg, err := s.Configs.Update(r.Context(), userFrom(r), mux.Vars(r)["type"], patch)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.Respond(w, r, http.StatusOK, cfg)
	}
}

// ConfigHistory lists stored versions of a config, newest first.
func (s *Server) ConfigHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := s.Configs.History(r.Context(), userFrom(r), mux.Vars(r)["type"], queryInt(r, "limit", 20))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.Respond(w, r, http.StatusOK, rows)
	}
}

// TestIntegration probes an integration with the stored credentials and
// records the outcome on its config.
func (s *Server) TestIntegration() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := s.Reconciler.Test(r.Context(), userFrom(r), mux.Vars(r)["type"])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.Respond(w, r, http.StatusOK, status)
	}
}

// IntegrationStatus returns the last recorded probe outcome.
func (s *Server) IntegrationStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := s.Reconciler.Current(r.Context(), userFrom(r), mux.Vars(r)["type"])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.Respond(w, r, http.StatusOK, status)
	}
}
