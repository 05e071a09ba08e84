package fanout

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind names a booking lifecycle event.
type Kind string

const (
	KindCreated   Kind = "booking.created"
	KindConfirmed Kind = "booking.confirmed"
)

// ErrUnknownKind is returned for events whose Kind is not handled.
var ErrUnknownKind = errors.New("fanout: unknown event kind")

// Event is a booking change to be announced on every channel.
type Event struct {
	Kind      Kind   `json:"kind"`
	BookingID string `json:"bookingId"`
	// OwnerIdentity identifies the client who owns the booking, usually
	// their contact email.
	OwnerIdentity string `json:"ownerIdentity,omitempty"`
	ContactEmail  string `json:"contactEmail,omitempty"`
	Summary       string `json:"summary,omitempty"`
	// Payload is forwarded verbatim to live connections and push data.
	Payload    json.RawMessage `json:"payload,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// Validate checks the fields every branch relies on.
func (e Event) Validate() error {
	switch e.Kind {
	case KindCreated, KindConfirmed:
	default:
		return fmt.Errorf("%w %q", ErrUnknownKind, e.Kind)
	}
	if strings.TrimSpace(e.BookingID) == "" {
		return errors.New("fanout: bookingId is required")
	}
	if len(e.Payload) > 0 && !json.Valid(e.Payload) {
		return errors.New("fanout: payload is not valid JSON")
	}
	return nil
}

// Body returns the bytes written to live connections: Payload when set,
// otherwise the event itself.
func (e Event) Body() []byte {
	if len(e.Payload) > 0 {
		return e.Payload
	}
	b, _ := json.Marshal(e)
	return b
}

func (e Event) contact() string {
	if e.ContactEmail != "" {
		return e.ContactEmail
	}
	if strings.Contains(e.OwnerIdentity, "@") {
		return e.OwnerIdentity
	}
	return ""
}
