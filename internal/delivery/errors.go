package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidTarget marks a destination that will never accept delivery.
	ErrInvalidTarget = errors.New("delivery: target permanently invalid")
	// ErrGone is returned when a push service reports the subscription as
	// expired or unknown (HTTP 404/410). The subscription should be pruned.
	ErrGone = fmt.Errorf("%w: subscription gone", ErrInvalidTarget)
	// ErrNotConfigured is returned by a channel whose credentials are absent.
	// Callers skip the channel and never surface this error.
	ErrNotConfigured = errors.New("delivery: channel not configured")
)

// TransientError is a delivery failure that may succeed on retry: network
// errors, timeouts, 5xx and other unexpected statuses, an open breaker.
type TransientError struct {
	Channel    string
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: transient failure (status %d): %v", e.Channel, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: transient failure: %v", e.Channel, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err carries a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err marks the target as permanently invalid.
func IsPermanent(err error) bool { return errors.Is(err, ErrInvalidTarget) }

func transient(channel string, status int, err error) error {
	if err == nil {
		err = errors.New(http.StatusText(status))
	}
	return &TransientError{Channel: channel, StatusCode: status, Err: err}
}

// classifyStatus maps a push service response status onto the taxonomy.
func classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound || status == http.StatusGone:
		return ErrGone
	default:
		return transient("push", status, nil)
	}
}

// Kind names the class of err for logs and metric labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotConfigured):
		return "not_configured"
	case errors.Is(err, ErrGone):
		return "gone"
	case errors.Is(err, ErrInvalidTarget):
		return "invalid_target"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "transient"
	}
}
