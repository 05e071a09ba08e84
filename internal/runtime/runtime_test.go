package runtime

import (
	"context"
	"testing"

	cfgpkg "github.com/rzbill/herald/internal/config"
	"github.com/rzbill/herald/internal/delivery"
	"github.com/rzbill/herald/internal/retryqueue"
	pebblestore "github.com/rzbill/herald/internal/storage/pebble"
)

func TestOpenCloseHealth(t *testing.T) {
	dir := t.TempDir()
	rt, err := Open(Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways, Config: cfgpkg.Default()})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	if err := rt.CheckHealth(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := rt.CheckHealth(context.Background()); err == nil {
		t.Fatalf("health should fail after close")
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestStoresSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	rt, err := Open(Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	target := delivery.PushTarget{Endpoint: "https://push.example.com/a", P256dh: "k", Auth: "a"}
	if _, err := rt.Subscriptions().Subscribe(ctx, target, "ana@example.com", "client"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := rt.Queue().Enqueue(ctx, delivery.Message{To: "ops@example.com", Subject: "x"}, "b-1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	rt, err = Open(Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer rt.Close()
	if n, err := rt.Subscriptions().Len(ctx); err != nil || n != 1 {
		t.Fatalf("subscriptions after reopen: n=%d err=%v", n, err)
	}
	items, err := rt.Queue().List(ctx, retryqueue.StatePending)
	if err != nil || len(items) != 1 {
		t.Fatalf("queue after reopen: %d items, err=%v", len(items), err)
	}
}
