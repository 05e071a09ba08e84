package retryqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rzbill/herald/internal/delivery"
	pebblestore "github.com/rzbill/herald/internal/storage/pebble"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func openTestQueue(t *testing.T) (*Queue, *testClock) {
	t.Helper()
	dir := t.TempDir()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return Open(db, WithClock(clock.Now)), clock
}

type fakeMailer struct {
	mu    sync.Mutex
	err   error
	errs  map[string]error
	sent  []string
	block chan struct{}
	hook  func(delivery.Message)
}

func (m *fakeMailer) Send(ctx context.Context, msg delivery.Message) error {
	if m.hook != nil {
		m.hook(msg)
	}
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.errs[msg.To]; ok {
		return err
	}
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg.To)
	return nil
}

var errRelay = &delivery.TransientError{Channel: "mail", Err: errors.New("dial tcp: connection refused")}

func TestBackoff(t *testing.T) {
	base, max := 30*time.Second, time.Hour
	prev := time.Duration(0)
	for n := 0; n < 20; n++ {
		got := Backoff(n, base, max)
		want := base << n
		if n >= 10 || want > max {
			want = max
		}
		if got != want {
			t.Fatalf("Backoff(%d) = %s, want %s", n, got, want)
		}
		if got < prev {
			t.Fatalf("backoff decreased at %d: %s < %s", n, got, prev)
		}
		prev = got
	}
	if got := Backoff(1, 30*time.Second, time.Hour); got != time.Minute {
		t.Fatalf("first failure should wait 2*base, got %s", got)
	}
}

func TestEnqueueDefaults(t *testing.T) {
	q, clock := openTestQueue(t)
	it, err := q.Enqueue(context.Background(), delivery.Message{To: "a@example.com"}, "b-1")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if it.Attempts != 0 || !it.NextAttemptAt.Equal(clock.Now()) || it.State != StatePending {
		t.Fatalf("unexpected item: %+v", it)
	}
	items, err := q.List(context.Background(), "")
	if err != nil || len(items) != 1 || items[0].RelatedID != "b-1" {
		t.Fatalf("list: %v %+v", err, items)
	}
}

func TestProcessSuccessDeletes(t *testing.T) {
	q, _ := openTestQueue(t)
	ctx := context.Background()
	_, _ = q.Enqueue(ctx, delivery.Message{To: "a@example.com"}, "")
	m := &fakeMailer{}
	p := NewProcessor(q, m, Options{})
	n, err := p.ProcessQueue(ctx, 10)
	if err != nil || n != 1 {
		t.Fatalf("process: n=%d err=%v", n, err)
	}
	st, _ := q.Stats(ctx)
	if st.Pending != 0 {
		t.Fatalf("sent item should be deleted, stats %+v", st)
	}
}

func TestRelayUnreachableBackoffSchedule(t *testing.T) {
	q, clock := openTestQueue(t)
	ctx := context.Background()
	_, _ = q.Enqueue(ctx, delivery.Message{To: "a@example.com"}, "b-9")
	m := &fakeMailer{err: errRelay}
	p := NewProcessor(q, m, Options{BaseDelay: 30 * time.Second, MaxDelay: time.Hour})

	if n, err := p.ProcessQueue(ctx, 20); err != nil || n != 0 {
		t.Fatalf("first pass: n=%d err=%v", n, err)
	}
	items, _ := q.List(ctx, StatePending)
	if len(items) != 1 {
		t.Fatalf("item must stay queued")
	}
	first := items[0]
	if first.Attempts != 1 || first.LastError == "" {
		t.Fatalf("after first failure: %+v", first)
	}
	if want := clock.Now().Add(time.Minute); !first.NextAttemptAt.Equal(want) {
		t.Fatalf("nextAttemptAt = %s, want %s", first.NextAttemptAt, want)
	}

	// a tick before the item is due leaves it untouched
	clock.Advance(30 * time.Second)
	_, _ = p.ProcessQueue(ctx, 20)
	items, _ = q.List(ctx, StatePending)
	if items[0].Attempts != 1 || !items[0].NextAttemptAt.Equal(first.NextAttemptAt) {
		t.Fatalf("item processed before due: %+v", items[0])
	}

	clock.Advance(31 * time.Second)
	_, _ = p.ProcessQueue(ctx, 20)
	items, _ = q.List(ctx, StatePending)
	if items[0].Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", items[0].Attempts)
	}
	if !items[0].NextAttemptAt.After(first.NextAttemptAt) {
		t.Fatalf("nextAttemptAt must increase")
	}
	if want := clock.Now().Add(2 * time.Minute); !items[0].NextAttemptAt.Equal(want) {
		t.Fatalf("nextAttemptAt = %s, want %s", items[0].NextAttemptAt, want)
	}

	m.mu.Lock()
	m.err = nil
	m.mu.Unlock()
	clock.Advance(2 * time.Minute)
	if n, err := p.ProcessQueue(ctx, 20); err != nil || n != 1 {
		t.Fatalf("recovery pass: n=%d err=%v", n, err)
	}
	if st, _ := q.Stats(ctx); st.Pending != 0 {
		t.Fatalf("queue should drain after recovery: %+v", st)
	}
}

func TestProcessOldestFirstWithBatchLimit(t *testing.T) {
	q, clock := openTestQueue(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, _ = q.Enqueue(ctx, delivery.Message{To: fmt.Sprintf("r%d@example.com", i)}, "")
		clock.Advance(time.Second)
	}
	m := &fakeMailer{}
	p := NewProcessor(q, m, Options{})
	n, err := p.ProcessQueue(ctx, 3)
	if err != nil || n != 3 {
		t.Fatalf("process: n=%d err=%v", n, err)
	}
	want := []string{"r0@example.com", "r1@example.com", "r2@example.com"}
	for i := range want {
		if m.sent[i] != want[i] {
			t.Fatalf("send order %v, want %v", m.sent, want)
		}
	}
	if st, _ := q.Stats(ctx); st.Pending != 2 {
		t.Fatalf("pending = %d, want 2", st.Pending)
	}
}

func TestMaxAttemptsDeadLetterAndRequeue(t *testing.T) {
	q, clock := openTestQueue(t)
	ctx := context.Background()
	it, _ := q.Enqueue(ctx, delivery.Message{To: "a@example.com"}, "")
	m := &fakeMailer{err: errRelay}
	p := NewProcessor(q, m, Options{BaseDelay: time.Second, MaxDelay: time.Minute, MaxAttempts: 3})

	for i := 0; i < 3; i++ {
		_, _ = p.ProcessQueue(ctx, 20)
		clock.Advance(time.Minute)
	}
	st, _ := q.Stats(ctx)
	if st.Dead != 1 || st.Pending != 0 {
		t.Fatalf("expected dead letter after 3 failures, stats %+v", st)
	}
	dead, _ := q.List(ctx, StateDead)
	if dead[0].Attempts != 3 || dead[0].AbandonedAt == nil {
		t.Fatalf("dead item: %+v", dead[0])
	}
	// dead items are never retried
	_, _ = p.ProcessQueue(ctx, 20)
	if dead2, _ := q.List(ctx, StateDead); dead2[0].Attempts != 3 {
		t.Fatalf("dead item was retried")
	}

	if err := q.Requeue(ctx, it.ID); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	pending, _ := q.List(ctx, StatePending)
	if len(pending) != 1 || pending[0].Attempts != 0 {
		t.Fatalf("requeued item: %+v", pending)
	}
	if err := q.Requeue(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("requeue missing: %v", err)
	}
}

func TestPermanentFailureAbandonsImmediately(t *testing.T) {
	q, _ := openTestQueue(t)
	ctx := context.Background()
	_, _ = q.Enqueue(ctx, delivery.Message{To: "bad"}, "")
	m := &fakeMailer{errs: map[string]error{"bad": fmt.Errorf("%w: recipient", delivery.ErrInvalidTarget)}}
	p := NewProcessor(q, m, Options{})
	_, _ = p.ProcessQueue(ctx, 20)
	st, _ := q.Stats(ctx)
	if st.Dead != 1 {
		t.Fatalf("permanent failures must not be retried: %+v", st)
	}
	if n, err := q.Purge(ctx); err != nil || n != 1 {
		t.Fatalf("purge: n=%d err=%v", n, err)
	}
}

func TestEnqueueDuringPassSurvives(t *testing.T) {
	q, _ := openTestQueue(t)
	ctx := context.Background()
	_, _ = q.Enqueue(ctx, delivery.Message{To: "first@example.com"}, "")
	m := &fakeMailer{}
	once := sync.Once{}
	m.hook = func(delivery.Message) {
		once.Do(func() {
			if _, err := q.Enqueue(ctx, delivery.Message{To: "late@example.com"}, ""); err != nil {
				t.Errorf("enqueue during pass: %v", err)
			}
		})
	}
	p := NewProcessor(q, m, Options{})
	if n, _ := p.ProcessQueue(ctx, 20); n != 1 {
		t.Fatalf("sent %d, want 1", n)
	}
	items, _ := q.List(ctx, StatePending)
	if len(items) != 1 || items[0].Message.To != "late@example.com" {
		t.Fatalf("item enqueued mid-pass lost: %+v", items)
	}
}

func TestTryProcessSkipsOverlappingPass(t *testing.T) {
	q, _ := openTestQueue(t)
	ctx := context.Background()
	_, _ = q.Enqueue(ctx, delivery.Message{To: "a@example.com"}, "")
	started := make(chan struct{})
	m := &fakeMailer{block: make(chan struct{})}
	var startOnce sync.Once
	m.hook = func(delivery.Message) { startOnce.Do(func() { close(started) }) }
	p := NewProcessor(q, m, Options{SendTimeout: 5 * time.Second})

	done := make(chan int)
	go func() {
		n, _ := p.TryProcess(ctx, 20)
		done <- n
	}()
	<-started
	if _, err := p.TryProcess(ctx, 20); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	close(m.block)
	if n := <-done; n != 1 {
		t.Fatalf("first pass sent %d", n)
	}
}

func TestSendTimeoutCountsAsFailure(t *testing.T) {
	q, _ := openTestQueue(t)
	ctx := context.Background()
	_, _ = q.Enqueue(ctx, delivery.Message{To: "slow@example.com"}, "")
	m := &fakeMailer{block: make(chan struct{})}
	p := NewProcessor(q, m, Options{SendTimeout: 20 * time.Millisecond})
	if n, err := p.ProcessQueue(ctx, 20); err != nil || n != 0 {
		t.Fatalf("process: n=%d err=%v", n, err)
	}
	items, _ := q.List(ctx, StatePending)
	if items[0].Attempts != 1 {
		t.Fatalf("timed out send should count as a failure: %+v", items[0])
	}
}

func TestRunProcessesImmediately(t *testing.T) {
	q, _ := openTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, _ = q.Enqueue(ctx, delivery.Message{To: "a@example.com"}, "")
	m := &fakeMailer{}
	p := NewProcessor(q, m, Options{Interval: time.Hour})
	stopped := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(stopped)
	}()
	defer func() {
		cancel()
		<-stopped
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st, _ := q.Stats(context.Background()); st.Pending == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Run did not process on start")
}
