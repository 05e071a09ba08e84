package retryqueue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/rzbill/herald/internal/delivery"
	"github.com/rzbill/herald/internal/recordset"
	pebblestore "github.com/rzbill/herald/internal/storage/pebble"
)

// State of a queue item.
type State string

const (
	StatePending State = "pending"
	// StateDead items are no longer retried; see Processor MaxAttempts.
	StateDead State = "dead"
)

// ErrNotFound is returned for unknown item ids.
var ErrNotFound = errors.New("retryqueue: item not found")

// Item is one email awaiting delivery.
type Item struct {
	ID            string           `json:"id"`
	Message       delivery.Message `json:"message"`
	State         State            `json:"state"`
	Attempts      int              `json:"attempts"`
	NextAttemptAt time.Time        `json:"nextAttemptAt"`
	LastError     string           `json:"lastError,omitempty"`
	RelatedID     string           `json:"relatedId,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
	AbandonedAt   *time.Time       `json:"abandonedAt,omitempty"`
}

// Stats counts items by state.
type Stats struct {
	Pending int `json:"pending"`
	Due     int `json:"due"`
	Dead    int `json:"dead"`
}

// Queue is the durable set of pending and dead-lettered emails.
type Queue struct {
	set *recordset.Set[Item]
	now func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(q *Queue) { q.now = now } }

// Open returns the queue kept under the "retry" prefix.
func Open(db *pebblestore.DB, opts ...Option) *Queue {
	q := &Queue{
		set: recordset.New(db, "retry", func(it Item) string { return it.ID }),
		now: time.Now,
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Enqueue stores msg with zero attempts, due immediately.
func (q *Queue) Enqueue(ctx context.Context, msg delivery.Message, relatedID string) (Item, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Item{}, err
	}
	now := q.now().UTC()
	it := Item{
		ID:            id.String(),
		Message:       msg,
		State:         StatePending,
		NextAttemptAt: now,
		RelatedID:     relatedID,
		CreatedAt:     now,
	}
	err = q.set.Update(ctx, func(cur []Item) ([]Item, error) {
		return append(cur, it), nil
	})
	if err != nil {
		return Item{}, fmt.Errorf("retryqueue: enqueue: %w", err)
	}
	return it, nil
}

// List returns items in the given state (all states when empty), oldest first.
func (q *Queue) List(ctx context.Context, state State) ([]Item, error) {
	all, err := q.set.Load(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, it := range all {
		if state == "" || it.State == state {
			out = append(out, it)
		}
	}
	sortByCreated(out)
	return out, nil
}

// Due returns up to limit pending items whose next attempt is not in the
// future, ordered by CreatedAt ascending.
func (q *Queue) Due(ctx context.Context, limit int) ([]Item, error) {
	pending, err := q.List(ctx, StatePending)
	if err != nil {
		return nil, err
	}
	now := q.now()
	due := pending[:0]
	for _, it := range pending {
		if !it.NextAttemptAt.After(now) {
			due = append(due, it)
		}
	}
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// Stats counts pending, due and dead items.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	all, err := q.set.Load(ctx)
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	now := q.now()
	for _, it := range all {
		switch it.State {
		case StateDead:
			st.Dead++
		default:
			st.Pending++
			if !it.NextAttemptAt.After(now) {
				st.Due++
			}
		}
	}
	return st, nil
}

// Requeue moves a dead item back to pending with attempts reset.
func (q *Queue) Requeue(ctx context.Context, id string) error {
	now := q.now().UTC()
	return q.set.Update(ctx, func(cur []Item) ([]Item, error) {
		for i := range cur {
			if cur[i].ID != id {
				continue
			}
			if cur[i].State != StateDead {
				return nil, recordset.ErrUnchanged
			}
			cur[i].State = StatePending
			cur[i].Attempts = 0
			cur[i].NextAttemptAt = now
			cur[i].AbandonedAt = nil
			return cur, nil
		}
		return nil, ErrNotFound
	})
}

// Purge deletes every dead item and returns how many were removed.
func (q *Queue) Purge(ctx context.Context) (int, error) {
	removed := 0
	err := q.set.Update(ctx, func(cur []Item) ([]Item, error) {
		kept := cur[:0]
		for _, it := range cur {
			if it.State == StateDead {
				removed++
				continue
			}
			kept = append(kept, it)
		}
		if removed == 0 {
			return nil, recordset.ErrUnchanged
		}
		return kept, nil
	})
	return removed, err
}

// outcome is the processor's verdict for one item.
type outcome struct {
	sent    bool
	err     error
	dead    bool
	attempt time.Time
}

// apply folds a pass's results into the stored set in one write. Items
// enqueued while the pass ran are untouched.
func (q *Queue) apply(ctx context.Context, results map[string]outcome, backoff func(int) time.Duration) error {
	return q.set.Update(ctx, func(cur []Item) ([]Item, error) {
		kept := cur[:0]
		for _, it := range cur {
			res, ok := results[it.ID]
			if !ok {
				kept = append(kept, it)
				continue
			}
			if res.sent {
				continue
			}
			it.Attempts++
			it.LastError = res.err.Error()
			if res.dead {
				at := res.attempt.UTC()
				it.State = StateDead
				it.AbandonedAt = &at
			} else {
				it.NextAttemptAt = res.attempt.Add(backoff(it.Attempts)).UTC()
			}
			kept = append(kept, it)
		}
		return kept, nil
	})
}

func sortByCreated(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}
