package httputil

import (
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultTimeout applies when a caller passes a zero timeout.
const DefaultTimeout = 10 * time.Second

// NewRestyClient returns a resty client bound to baseURL with JSON defaults.
// Retries stay disabled: every integration call is a single attempt and the
// caller decides what a failure means.
func NewRestyClient(baseURL string, timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetTimeout(timeout)
}
