package httputil

import (
	"errors"
	"fmt"

	"github.com/go-resty/resty/v2"
)

// APIError is returned by integration clients when a remote service answers
// with a non-2xx status.
type APIError struct {
	Service    string
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API %s error: status %s, body: %s", e.Service, e.Operation, e.Status, e.Body)
}

// NewAPIError captures the status and body of resp.
func NewAPIError(service, operation string, resp *resty.Response) *APIError {
	return &APIError{
		Service:    service,
		Operation:  operation,
		StatusCode: resp.StatusCode(),
		Status:     resp.Status(),
		Body:       resp.String(),
	}
}

// IsAPIError reports whether err wraps an *APIError.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}
