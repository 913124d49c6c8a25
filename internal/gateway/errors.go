package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

var (
	// ErrValidation indicates a locally rejected instance name. Fixable by the
	// user before resubmission, never retried.
	ErrValidation = errors.New("gateway validation failed")
	// ErrConflict indicates the instance name is already taken.
	ErrConflict = errors.New("gateway instance name conflict")
	// ErrNotFound indicates the instance vanished server-side.
	ErrNotFound = errors.New("gateway instance not found")
	// ErrAuth indicates a missing or rejected credential. Callers should direct
	// the user to configuration rather than retry.
	ErrAuth = errors.New("gateway invalid credential")
	// ErrTransport indicates a timeout or network failure. Always retryable.
	ErrTransport = errors.New("gateway transport failure")
	// ErrPairingFetch indicates a failed pairing-code fetch. Recoverable and
	// scoped to a single pairing attempt.
	ErrPairingFetch = errors.New("pairing code fetch failed")
	// ErrBackendFatal indicates an explicit error payload from a state-changing call.
	ErrBackendFatal = errors.New("gateway backend error")
)

func classifyHTTPError(endpoint string, status int, body string) error {
	snippet := strings.TrimSpace(body)
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s %s", ErrAuth, endpoint, snippet)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, endpoint)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrConflict, snippet)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", ErrValidation, snippet)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s rate limited", ErrTransport, endpoint)
	}
	if status >= 500 {
		return fmt.Errorf("%w: %s status=%d body=%s", ErrBackendFatal, endpoint, status, snippet)
	}
	return fmt.Errorf("%w: %s status=%d body=%s", ErrBackendFatal, endpoint, status, snippet)
}

func classifyTransportError(endpoint string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %s: %v", ErrTransport, endpoint, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrTransport, endpoint, err)
}

// IsRetryable reports whether an error may be retried without user action.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrPairingFetch)
}
