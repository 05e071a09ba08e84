// Package config loads herald's runtime configuration. It exposes a
// Default() baseline that Load overlays with an optional YAML/JSON/TOML file
// and HERALD_* environment variables.
//
// Example:
//
//	cfg, err := config.Load("/etc/herald/herald.yaml")
//	if err != nil { /* handle */ }
//	mode, _ := config.ParseFsync(cfg.Store.Fsync)
//	rt, _ := runtime.Open(runtime.Options{DataDir: cfg.DataDir, Fsync: mode, Config: cfg})
//	defer rt.Close()
package config
