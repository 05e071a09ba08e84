// Package client provides the `herald` command-line client.
//
// The CLI talks to the herald HTTP API for administration and to the gRPC
// health service for liveness checks.
//
// # Address configuration
//
// The HTTP base URL is discovered by the application that embeds the
// commands via a BaseURLFunc. When using the standalone binary, it
// defaults to http://127.0.0.1:8080 (HERALD_HTTP). The gRPC address is
// read from HERALD_GRPC (default 127.0.0.1:50051). Admin commands send
// --token or HERALD_ADMIN_TOKEN as a bearer token.
//
// Usage
//
//	herald vapid generate
//
//	herald subscriptions list
//	herald subscriptions clear --confirm
//
//	herald events publish --kind booking.created --booking-id b-17 \
//	    --owner rider@example.com --summary "Airport pickup 09:30"
//
//	herald notify --match 'role == "operator"' --title "Heads up"
//
//	herald queue list --state dead
//	herald queue process --limit 50
//	herald queue requeue 0192c4c8-...
//	herald queue purge
//
//	herald stats
//	herald health
package client
