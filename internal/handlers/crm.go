package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/customers"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/payments"
)

func (s *Server) ListCustomers() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		list, total, err := s.Customers.List(r.Context(), userFrom(r), customers.Filter{
			Query:  q.Get("q"),
			Status: q.Get("status"),
			Limit:  queryInt(r, "limit", 50),
			Offset: queryInt(r, "offset", 0),
		})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.Respond(w, r, http.StatusOK, map[string]interface{}{
			"customers": list,
			"total":     total,
		})
	}
}

func (s *Server) CreateCustomer() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in customers.Input
		if err := decode(r, &in); err != nil {
			s.fail(w, r, err)
			return
		}
		c, err := s.Customers.Create(r.Context(), userFrom(r), in)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.Respond(w, r, http.StatusCreated, c)
	}
}

func (s *Server) GetCustomer() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := s.Customers.Get(r.Context(), userFrom(r), mux.Vars(r)["id"])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.Respond(w, r, http.StatusOK, c)
	}
}

func (s *Server) UpdateCustomer() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in customers.Input
		if err := decode(r, &in); err != nil {
			s.fail(w, r, err)
			return
		}
		c, err := s.Customers.Update(r.Context(), userFrom(r), mux.Vars(r)["id"], in)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.Respond(w, r, http.StatusOK, c)
	}
}

func (s *Server) DeleteCustomer() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := s.Customers.Delete(r.Context(), userFrom(r), id); err != nil {
			s.fail(w, r, err)
			return
		}
		s.Respond(w, r, http.StatusOK, map[string]string{"deleted": id})
	}
}

func (s *Server) ListPayments() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := s.Payments.List(r.Context(), userFrom(r), r.URL.Query().Get("gateway"), queryInt(r, "limit", 50))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.Respond(w, r, http.StatusOK, list)
	}
}

func (s *Server) CreatePayment() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in payments.Input
		if err := decode(r, &in); err != nil {
			s.fail(w, r, err)
			return
		}
		p, err := s.Payments.Create(r.Context(), userFrom(r), in)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.Respond(w, r, http.StatusCreated, p)
	}
}
