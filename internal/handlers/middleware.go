package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

type contextKey int

const userKey contextKey = iota

// authenticate checks the shared bearer token, when one is configured, and
// requires the caller to name the acting user in X-User-ID.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.APIToken != "" {
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(token), []byte(s.APIToken)) != 1 {
				s.Respond(w, r, http.StatusUnauthorized, errors.New("invalid or missing API token"))
				return
			}
		}

		userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
		if userID == "" {
			s.Respond(w, r, http.StatusUnauthorized, errors.New("X-User-ID header is required"))
			return
		}

		hlog.FromRequest(r).UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Str("userID", userID)
		})
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, userID)))
	})
}

func userFrom(r *http.Request) string {
	v, _ := r.Context().Value(userKey).(string)
	return v
}
