package xerrors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// FromHTTPStatus maps an engine API status code to the client taxonomy.
func FromHTTPStatus(status int, detail string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: %w", detail, ErrNotFound)
	case status == http.StatusBadRequest:
		return fmt.Errorf("%s: %w", detail, ErrInvalidInput)
	case status == http.StatusConflict:
		return fmt.Errorf("%s: %w", detail, ErrConflict)
	case status >= 500:
		return fmt.Errorf("%s: %w", detail, ErrTransient)
	default:
		return fmt.Errorf("%s (http %d): %w", detail, status, ErrInternal)
	}
}

// MapNetError classifies transport-level errors. Context cancellation
// propagates as-is so callers can distinguish shutdown from failure.
func MapNetError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("request timeout: %w", ErrTransient)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%v: %w", err, ErrTransient)
	}
	return fmt.Errorf("%v: %w", err, ErrTransient)
}

// IsRetryable reports whether the error is worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrConflict)
}
