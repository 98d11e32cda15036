package health

import (
	"errors"
	"fmt"
	"time"
)

// State is the last known health of an external integration.
type State string

const (
	StateUnknown   State = "unknown"
	StateTesting   State = "testing"
	StateConnected State = "connected"
	StateError     State = "error"
)

// Status is the health-check value object shared by every integration:
// the state, when it was last checked and why the last check failed.
type Status struct {
	State     State     `json:"status"`
	CheckedAt time.Time `json:"last_checked_at,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// Connected reports whether the last check succeeded.
func (s Status) Connected() bool {
	return s.State == StateConnected
}

// Succeeded builds a connected status checked at t.
func Succeeded(t time.Time) Status {
	return Status{State: StateConnected, CheckedAt: t.UTC()}
}

// Failed builds an error status checked at t.
func Failed(t time.Time, err error) Status {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Status{State: StateError, CheckedAt: t.UTC(), LastError: msg}
}

// Patch is the config patch that records s. "connected" is always written so
// a failed check can never leave a stale true behind.
func (s Status) Patch() map[string]interface{} {
	patch := map[string]interface{}{
		"connected":  s.Connected(),
		"status":     string(s.State),
		"last_error": s.LastError,
	}
	if !s.CheckedAt.IsZero() {
		patch["last_checked_at"] = s.CheckedAt.Format(time.RFC3339)
	}
	return patch
}

// StatusFromConfig reads the status recorded in a config blob. Configs saved
// before any check only carry "connected".
func StatusFromConfig(data map[string]interface{}) Status {
	var s Status

	switch st, _ := data["status"].(string); State(st) {
	case StateConnected, StateError, StateTesting:
		s.State = State(st)
	default:
		if connected, _ := data["connected"].(bool); connected {
			s.State = StateConnected
		} else {
			s.State = StateUnknown
		}
	}
	if raw, ok := data["last_checked_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			s.CheckedAt = t
		}
	}
	s.LastError, _ = data["last_error"].(string)
	return s
}

// ValidationError reports a missing or malformed field. It is raised before
// any request leaves the process.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IsValidation reports whether err wraps a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
