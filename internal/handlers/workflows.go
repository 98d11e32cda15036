package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/workflows"
)

func (s *Server) ListWorkflows() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := s.Workflows.List(r.Context(), userFrom(r), r.URL.Query().Get("status"))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.Respond(w, r, http.StatusOK, list)
	}
}

func (s *Server) CreateWorkflow() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in workflows.Input
		if err := decode(r, &in); err != nil {
			s.fail(w, r, err)
			return
		}
		wf, err := s.Workflows.Create(r.Context(), userFrom(r), in)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.Respond(w, r, http.StatusCreated, wf)
	}
}

// RemoteWorkflows lists the workflows defined in the user's n8n.
func (s *Server) RemoteWorkflows() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := s.Workflows.Remote(r.Context(), userFrom(r))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.Respond(w, r, http.StatusOK, list)
	}
}

func (s *Server) GetWorkflow() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wf, err := s.Workflows.Get(r.Context(), userFrom(r), mux.Vars(r)["id"])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.Respond(w, r, http.StatusOK, wf)
	}
}

func (s *Server) UpdateWorkflow() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in workflows.Input
		if err := decode(r, &in); err != nil {
			s.fail(w, r, err)
			return
		}
		wf, err := s.Workflows.Update(r.Context(), userFrom(r), mux.Vars(r)["id"], in)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.Respond(w, r, http.StatusOK, wf)
	}
}

func (s *Server) DeleteWorkflow() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := s.Workflows.Delete(r.Context(), userFrom(r), id); err != nil {
			s.fail(w, r, err)
			return
		}
		s.Respond(w, r, http.StatusOK, map[string]string{"deleted": id})
	}
}

// SetWorkflowStatus activates or deactivates a workflow.
func (s *Server) SetWorkflowStatus(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wf, err := s.Workflows.SetStatus(r.Context(), userFrom(r), mux.Vars(r)["id"], active)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.Respond(w, r, http.StatusOK, wf)
	}
}

type executeRequest struct {
	Payload map[string]interface{} `json:"payload"`
	Wait    bool                   `json:"wait"`
}

// ExecuteWorkflow fires a workflow. Without wait the run is queued and 202 is
// returned.
func (s *Server) ExecuteWorkflow() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req executeRequest
		if r.ContentLength != 0 {
			if err := decode(r, &req); err != nil {
				s.fail(w, r, err)
				return
			}
		}
		exec, err := s.Workflows.Execute(r.Context(), userFrom(r), mux.Vars(r)["id"], req.Payload, req.Wait)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		status := http.StatusAccepted
		if exec.Delivered {
			status = http.StatusOK
		}
		s.Respond(w, r, status, exec)
	}
}
