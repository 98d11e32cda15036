package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/instances"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/models"
)

type instanceFunc func(r *http.Request, userID, name string) (*models.WhatsAppInstance, error)

// instanceAction adapts a per-instance service call into a handler.
func (s *Server) instanceAction(fn instanceFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		inst, err := fn(r, userFrom(r), mux.Vars(r)["name"])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.Respond(w, r, http.StatusOK, inst)
	}
}

func (s *Server) ListInstances() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := s.Instances.List(r.Context(), userFrom(r))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.Respond(w, r, http.StatusOK, list)
	}
}

func (s *Server) CreateInstance() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req instances.CreateRequest
		if err := decode(r, &req); err != nil {
			s.fail(w, r, err)
			return
		}
		inst, err := s.Instances.Create(r.Context(), userFrom(r), req)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.Respond(w, r, http.StatusCreated, inst)
	}
}

// RemoteInstances lists what the gateway itself reports.
func (s *Server) RemoteInstances() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := s.Instances.Remote(r.Context(), userFrom(r))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.Respond(w, r, http.StatusOK, list)
	}
}

func (s *Server) GetInstance() http.HandlerFunc {
	return s.instanceAction(func(r *http.Request, userID, name string) (*models.WhatsAppInstance, error) {
		return s.Instances.Get(r.Context(), userID, name)
	})
}

func (s *Server) UpdateInstance() http.HandlerFunc {
	return s.instanceAction(func(r *http.Request, userID, name string) (*models.WhatsAppInstance, error) {
		var set instances.Settings
		if err := decode(r, &set); err != nil {
			return nil, err
		}
		return s.Instances.UpdateSettings(r.Context(), userID, name, set)
	})
}

func (s *Server) DeleteInstance() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]
		if err := s.Instances.Delete(r.Context(), userFrom(r), name); err != nil {
			s.fail(w, r, err)
			return
		}
		s.Respond(w, r, http.StatusOK, map[string]string{"deleted": name})
	}
}

// ConnectInstance starts pairing. The response carries the first QR code;
// the poll continues in the background.
func (s *Server) ConnectInstance() http.HandlerFunc {
	return s.instanceAction(func(r *http.Request, userID, name string) (*models.WhatsAppInstance, error) {
		return s.Instances.Connect(r.Context(), userID, name)
	})
}

func (s *Server) InstanceQRCode() http.HandlerFunc {
	return s.instanceAction(func(r *http.Request, userID, name string) (*models.WhatsAppInstance, error) {
		return s.Instances.QRCode(r.Context(), userID, name)
	})
}

func (s *Server) InstanceState() http.HandlerFunc {
	return s.instanceAction(func(r *http.Request, userID, name string) (*models.WhatsAppInstance, error) {
		return s.Instances.RefreshState(r.Context(), userID, name)
	})
}

func (s *Server) LogoutInstance() http.HandlerFunc {
	return s.instanceAction(func(r *http.Request, userID, name string) (*models.WhatsAppInstance, error) {
		return s.Instances.Logout(r.Context(), userID, name)
	})
}

func (s *Server) RestartInstance() http.HandlerFunc {
	return s.instanceAction(func(r *http.Request, userID, name string) (*models.WhatsAppInstance, error) {
		return s.Instances.Restart(r.Context(), userID, name)
	})
}

func (s *Server) CancelPairing() http.HandlerFunc {
	return s.instanceAction(func(r *http.Request, userID, name string) (*models.WhatsAppInstance, error) {
		return s.Instances.CancelPairing(r.Context(), userID, name)
	})
}

func (s *Server) ListMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := s.Instances.Messages(r.Context(), userFrom(r), mux.Vars(r)["name"], queryInt(r, "limit", 50))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.Respond(w, r, http.StatusOK, list)
	}
}

func (s *Server) SendMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req instances.SendRequest
		if err := decode(r, &req); err != nil {
			s.fail(w, r, err)
			return
		}
		msg, err := s.Instances.SendText(r.Context(), userFrom(r), mux.Vars(r)["name"], req)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.Respond(w, r, http.StatusCreated, msg)
	}
}
