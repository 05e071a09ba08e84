// Package grpcserver hosts herald's gRPC endpoint. It serves the standard
// grpc.health.v1 service, reporting SERVING while the store is readable, so
// orchestrators can probe the process the same way they probe other
// services.
//
// Example:
//
//	rt, _ := runtime.Open(runtime.Options{DataDir: "./data", Fsync: pebblestore.FsyncModeAlways, Config: config.Default()})
//	s := grpcserver.New(rt, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":50051")
package grpcserver
