package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/hlog"

	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/delivery"
)

// DeliveryStatus reports the delivery queue and the caller's pending events.
func (s *Server) DeliveryStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Delivery == nil {
			s.Respond(w, r, http.StatusServiceUnavailable, errors.New("delivery manager not initialized"))
			return
		}
		pending := s.Delivery.Pending(userFrom(r), queryInt(r, "limit", 50))
		s.Respond(w, r, http.StatusOK, map[string]interface{}{
			"status":  "running",
			"stats":   s.Delivery.Stats(),
			"pending": pending,
		})
	}
}

// EventStatus returns one of the caller's deliveries.
func (s *Server) EventStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := s.ownDelivery(r)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.Respond(w, r, http.StatusOK, d)
	}
}

// ForceRetry restarts a failed delivery.
func (s *Server) ForceRetry() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := s.ownDelivery(r)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if err := s.Delivery.Retry(d.ID); err != nil {
			s.fail(w, r, err)
			return
		}
		hlog.FromRequest(r).Info().Str("deliveryID", d.ID).Msg("Manual retry triggered for delivery")
		s.Respond(w, r, http.StatusAccepted, map[string]string{"retrying": d.ID})
	}
}

func (s *Server) ownDelivery(r *http.Request) (delivery.Delivery, error) {
	id := mux.Vars(r)["id"]
	if s.Delivery == nil {
		return delivery.Delivery{}, fmt.Errorf("%w: %s", delivery.ErrNotFound, id)
	}
	d, err := s.Delivery.Status(id)
	if err != nil {
		return d, err
	}
	if d.UserID != userFrom(r) {
		return delivery.Delivery{}, fmt.Errorf("%w: %s", delivery.ErrNotFound, id)
	}
	return d, nil
}
