package recordset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	pebblestore "github.com/rzbill/herald/internal/storage/pebble"
)

// Set is a durable collection of T persisted under one key prefix. Every
// mutation rewrites the whole prefix in a single Pebble batch, so readers
// never observe a partially written set. Writers are serialized.
type Set[T any] struct {
	db     *pebblestore.DB
	prefix []byte
	keyOf  func(T) string

	mu sync.Mutex
}

// New returns a Set stored under "<name>/". keyOf must be stable and unique
// per logical record; records sharing a key collapse to the last one.
func New[T any](db *pebblestore.DB, name string, keyOf func(T) string) *Set[T] {
	return &Set[T]{db: db, prefix: []byte(name + "/"), keyOf: keyOf}
}

// Load returns every record in key order.
func (s *Set[T]) Load(ctx context.Context) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []T
	err := s.db.ScanPrefix(s.prefix, func(key, value []byte) error {
		var rec T
		if err := json.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("recordset: decode %s: %w", key, err)
		}
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Len returns the number of stored records.
func (s *Set[T]) Len(ctx context.Context) (int, error) {
	n := 0
	err := s.db.ScanPrefix(s.prefix, func(_, _ []byte) error {
		n++
		return ctx.Err()
	})
	return n, err
}

// Replace atomically swaps the stored records for items.
func (s *Set[T]) Replace(ctx context.Context, items []T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(ctx, items)
}

// Update loads the current records, passes them to fn and persists what fn
// returns, all while holding the writer lock. Returning ErrUnchanged from fn
// skips the write; any other error aborts it.
func (s *Set[T]) Update(ctx context.Context, fn func(items []T) ([]T, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.Load(ctx)
	if err != nil {
		return err
	}
	next, err := fn(cur)
	if errors.Is(err, ErrUnchanged) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.write(ctx, next)
}

// Clear removes every record.
func (s *Set[T]) Clear(ctx context.Context) error {
	return s.Replace(ctx, nil)
}

func (s *Set[T]) write(ctx context.Context, items []T) error {
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.DeleteRange(s.prefix, pebblestore.PrefixUpperBound(s.prefix), nil); err != nil {
		return err
	}
	for _, it := range items {
		val, err := json.Marshal(it)
		if err != nil {
			return fmt.Errorf("recordset: encode: %w", err)
		}
		key := s.keyOf(it)
		if key == "" {
			return ErrEmptyKey
		}
		if err := b.Set(append(append([]byte(nil), s.prefix...), key...), val, nil); err != nil {
			return err
		}
	}
	return s.db.CommitBatch(ctx, b)
}

var (
	// ErrUnchanged may be returned from an Update callback to skip the write.
	ErrUnchanged = errors.New("recordset: unchanged")
	// ErrEmptyKey is returned when a record maps to an empty key.
	ErrEmptyKey = errors.New("recordset: empty record key")
)
