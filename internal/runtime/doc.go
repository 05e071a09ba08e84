// Package runtime wires storage and config into a single herald instance.
// It opens the Pebble database once and builds the stores that share it:
// the push subscription store and the email retry queue.
//
// Example:
//
//	cfg := config.Default()
//	rt, _ := runtime.Open(runtime.Options{DataDir: "./data", Fsync: pebblestore.FsyncModeAlways, Config: cfg})
//	defer rt.Close()
//	_ = rt.CheckHealth(context.Background())
//	_, _ = rt.Queue().Enqueue(ctx, delivery.Message{To: "ops@example.com"}, "b-1")
package runtime
