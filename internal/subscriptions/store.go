package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rzbill/herald/internal/delivery"
	"github.com/rzbill/herald/internal/match"
	"github.com/rzbill/herald/internal/recordset"
	pebblestore "github.com/rzbill/herald/internal/storage/pebble"
)

// ErrInvalidSubscription is returned for subscriptions missing an https
// endpoint or either encryption key.
var ErrInvalidSubscription = errors.New("subscriptions: invalid subscription")

// Keys are the browser-generated encryption keys of a subscription.
type Keys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// Subscription is one installed browser push endpoint.
type Subscription struct {
	Endpoint      string    `json:"endpoint"`
	Keys          Keys      `json:"keys"`
	OwnerIdentity string    `json:"ownerIdentity,omitempty"`
	Role          string    `json:"role,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Meta returns the routing metadata matchers see.
func (s Subscription) Meta() match.Meta {
	return match.Meta{Role: s.Role, OwnerIdentity: s.OwnerIdentity}
}

// Target returns the address the push client needs.
func (s Subscription) Target() delivery.PushTarget {
	return delivery.PushTarget{Endpoint: s.Endpoint, P256dh: s.Keys.P256dh, Auth: s.Keys.Auth}
}

// Store is the durable set of push subscriptions, at most one per endpoint.
type Store struct {
	set *recordset.Set[Subscription]
	now func() time.Time
	// allowInsecure permits http endpoints (tests, local push relays).
	allowInsecure bool
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) StoreOption { return func(s *Store) { s.now = now } }

// WithInsecureEndpoints accepts http:// endpoints.
func WithInsecureEndpoints() StoreOption { return func(s *Store) { s.allowInsecure = true } }

// NewStore opens the subscription set kept under the "subs" prefix.
func NewStore(db *pebblestore.DB, opts ...StoreOption) *Store {
	s := &Store{
		set: recordset.New(db, "subs", func(s Subscription) string { return s.Endpoint }),
		now: time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Subscribe records target for ownerIdentity/role. Subscribing an endpoint
// that already exists replaces its keys, owner and role and keeps CreatedAt.
func (s *Store) Subscribe(ctx context.Context, target delivery.PushTarget, ownerIdentity, role string) (Subscription, error) {
	if err := s.validate(target); err != nil {
		return Subscription{}, err
	}
	now := s.now().UTC()
	sub := Subscription{
		Endpoint:      target.Endpoint,
		Keys:          Keys{P256dh: target.P256dh, Auth: target.Auth},
		OwnerIdentity: strings.TrimSpace(ownerIdentity),
		Role:          strings.TrimSpace(role),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err := s.set.Update(ctx, func(cur []Subscription) ([]Subscription, error) {
		for i := range cur {
			if cur[i].Endpoint == sub.Endpoint {
				sub.CreatedAt = cur[i].CreatedAt
				cur[i] = sub
				return cur, nil
			}
		}
		return append(cur, sub), nil
	})
	if err != nil {
		return Subscription{}, fmt.Errorf("subscriptions: subscribe: %w", err)
	}
	return sub, nil
}

// Unsubscribe removes endpoint. It reports whether a record existed.
func (s *Store) Unsubscribe(ctx context.Context, endpoint string) (bool, error) {
	n, err := s.Remove(ctx, []string{endpoint})
	return n > 0, err
}

// Remove deletes every listed endpoint in a single write and returns how
// many records were removed.
func (s *Store) Remove(ctx context.Context, endpoints []string) (int, error) {
	if len(endpoints) == 0 {
		return 0, nil
	}
	drop := make(map[string]struct{}, len(endpoints))
	for _, e := range endpoints {
		drop[e] = struct{}{}
	}
	removed := 0
	err := s.set.Update(ctx, func(cur []Subscription) ([]Subscription, error) {
		kept := cur[:0]
		for _, sub := range cur {
			if _, ok := drop[sub.Endpoint]; ok {
				removed++
				continue
			}
			kept = append(kept, sub)
		}
		if removed == 0 {
			return nil, recordset.ErrUnchanged
		}
		return kept, nil
	})
	if err != nil {
		return 0, fmt.Errorf("subscriptions: remove: %w", err)
	}
	return removed, nil
}

// ClearAll empties the store. Used after the VAPID key pair is rotated,
// since existing subscriptions are bound to the old public key.
func (s *Store) ClearAll(ctx context.Context) error {
	if err := s.set.Clear(ctx); err != nil {
		return fmt.Errorf("subscriptions: clear: %w", err)
	}
	return nil
}

// List returns every subscription in endpoint order.
func (s *Store) List(ctx context.Context) ([]Subscription, error) {
	return s.set.Load(ctx)
}

// Len returns the number of stored subscriptions.
func (s *Store) Len(ctx context.Context) (int, error) {
	return s.set.Len(ctx)
}

func (s *Store) validate(t delivery.PushTarget) error {
	u, err := url.Parse(t.Endpoint)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%w: bad endpoint", ErrInvalidSubscription)
	}
	if u.Scheme != "https" && !(s.allowInsecure && u.Scheme == "http") {
		return fmt.Errorf("%w: endpoint must be https", ErrInvalidSubscription)
	}
	if t.P256dh == "" || t.Auth == "" {
		return fmt.Errorf("%w: missing keys", ErrInvalidSubscription)
	}
	return nil
}
