package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

// ErrUnauthorized is matched by every 401 response error
var ErrUnauthorized = errors.New("unauthorized")

// APIError is a non-2xx backend response
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("backend returned %d", e.StatusCode)
}

func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

// IsUnauthorized reports whether err came from a 401 response
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// Detail returns the backend's human-readable detail, if any
func Detail(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Detail
	}
	return ""
}

func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}

	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && len(payload.Detail) > 0 {
		// Validation errors carry a list here; only plain strings are shown to users
		var detail string
		if json.Unmarshal(payload.Detail, &detail) == nil {
			apiErr.Detail = detail
		}
	}
	return apiErr
}

// retryable reports whether a failed read may be attempted again: server
// errors and network failures are, malformed responses are not
func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
