// Package transports provides the wire clients used by the herald CLI.
package transports

import (
	"context"
	"fmt"
)

// AdminTransport abstracts the JSON API calls the CLI makes.
type AdminTransport interface {
	// Do sends in (when non-nil) as the JSON body and decodes the response
	// into out (when non-nil).
	Do(ctx context.Context, method, path string, in, out any) error
}

// HealthTransport reports the server's serving status.
type HealthTransport interface {
	Health(ctx context.Context, service string) (string, error)
}

// StatusError is returned for non-2xx API responses.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http error: %d", e.Code)
	}
	return fmt.Sprintf("http error: %d: %s", e.Code, e.Message)
}
