// Package log provides herald's structured logging facade.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// simple Field type for structured context. It is backed by zap; callers
// never import zap directly.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormat("json"),
//	)
//	l = l.With(log.Component("push"), log.Str("endpoint", ep))
//	l.Info("push sent", log.Int("status", 201))
//
// # Configuration
//
// Use ApplyConfig to build a logger from a declarative Config (level and
// text/json format). NewNop returns a discarding logger for tests.
//
// # Interop
//
// RedirectStdLog routes the standard library logger through the facade so
// output from Pebble and Sarama shares the process format. WithContext adds
// OpenTelemetry trace and span ids when the context carries a span.
package log
