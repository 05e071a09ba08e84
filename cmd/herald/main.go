package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	clientcmd "github.com/rzbill/herald/internal/cmd/client"
	serverrun "github.com/rzbill/herald/internal/cmd/server"
	cfgpkg "github.com/rzbill/herald/internal/config"
	logpkg "github.com/rzbill/herald/pkg/log"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// initialize logger for CLI
	// Respect HERALD_LOG_LEVEL for both CLI and server start output
	level := os.Getenv("HERALD_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(logpkg.WithLevel(parsed), logpkg.WithFormat("text"))
	restore := logpkg.RedirectStdLog(logger)
	defer restore()

	rootCmd := clientcmd.NewRoot(apiURL)
	rootCmd.Short = "Herald notification fan-out service"
	rootCmd.Long = "Herald fans booking events out to live connections, web push and email. This CLI runs the server and administers it."
	rootCmd.Version = version

	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverCmd.AddCommand(newServerStartCommand())
	rootCmd.AddCommand(serverCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newServerStartCommand() *cobra.Command {
	startCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start herald server (gRPC and HTTP)",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := cfgpkg.Load(path)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("fsync") {
				cfg.Store.Fsync, _ = flags.GetString("fsync")
			}
			if flags.Changed("fsync-interval-ms") {
				ms, _ := flags.GetInt("fsync-interval-ms")
				cfg.Store.FsyncInterval = time.Duration(ms) * time.Millisecond
			}
			if flags.Changed("log-level") {
				cfg.Log.Level, _ = flags.GetString("log-level")
			}
			if flags.Changed("log-format") {
				cfg.Log.Format, _ = flags.GetString("log-format")
			}
			mode, err := cfgpkg.ParseFsync(cfg.Store.Fsync)
			if err != nil {
				return err
			}
			dataDir, _ := flags.GetString("data-dir")
			grpcAddr, _ := flags.GetString("grpc")
			httpAddr, _ := flags.GetString("http")
			insecurePush, _ := flags.GetBool("allow-insecure-push")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := serverrun.Run(ctx, serverrun.Options{
				DataDir:           dataDir,
				GRPCAddr:          grpcAddr,
				HTTPAddr:          httpAddr,
				Fsync:             mode,
				FsyncInterval:     cfg.Store.FsyncInterval,
				Config:            cfg,
				Version:           version,
				AllowInsecurePush: insecurePush,
			}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			// brief delay to allow logs flush
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	}
	startCmd.Flags().String("config", os.Getenv("HERALD_CONFIG"), "Config file (yaml, json, toml or edn)")
	startCmd.Flags().String("data-dir", "", "Data directory (if not specified, uses config or the OS-specific application data directory)")
	startCmd.Flags().String("grpc", "", "gRPC listen address (default from config, :50051)")
	startCmd.Flags().String("http", "", "HTTP listen address (default from config, :8080)")
	startCmd.Flags().String("fsync", "always", "Fsync mode: always|interval|never")
	startCmd.Flags().Int("fsync-interval-ms", 5, "When --fsync=interval, group-commit window in ms (default 5)")
	startCmd.Flags().String("log-level", "", "Log level: debug|info|warn|error")
	startCmd.Flags().String("log-format", "", "Log format: text|json")
	startCmd.Flags().Bool("allow-insecure-push", false, "Accept http:// push endpoints (local push relays only)")
	return startCmd
}

func apiURL() string {
	if v := os.Getenv("HERALD_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:8080"
}
