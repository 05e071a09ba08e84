// Package httpserver is herald's HTTP surface: push subscription management,
// the live Server-Sent Events stream, booking event intake, stats and the
// retry queue admin endpoints. Handlers live in the controllers subpackage.
//
// Example:
//
//	rt, _ := runtime.Open(runtime.Options{DataDir: "./data", Fsync: pebblestore.FsyncModeAlways, Config: config.Default()})
//	s := httpserver.New(controllers.Deps{Runtime: rt, Hub: hub, Orchestrator: orch}, httpserver.Options{}, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":8080")
package httpserver
