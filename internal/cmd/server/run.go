package serverrun

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/IBM/sarama"

	cfgpkg "github.com/rzbill/herald/internal/config"
	"github.com/rzbill/herald/internal/delivery"
	"github.com/rzbill/herald/internal/fanout"
	kafkaintake "github.com/rzbill/herald/internal/intake/kafka"
	"github.com/rzbill/herald/internal/livehub"
	"github.com/rzbill/herald/internal/metrics"
	"github.com/rzbill/herald/internal/retryqueue"
	"github.com/rzbill/herald/internal/runtime"
	grpcserver "github.com/rzbill/herald/internal/server/grpc"
	httpserver "github.com/rzbill/herald/internal/server/http"
	"github.com/rzbill/herald/internal/server/http/controllers"
	pebblestore "github.com/rzbill/herald/internal/storage/pebble"
	"github.com/rzbill/herald/internal/subscriptions"
	"github.com/rzbill/herald/internal/telemetry"
	logpkg "github.com/rzbill/herald/pkg/log"
)

func getenvDefault(key, def string) string {
	if v := func() string { return getenv(key) }(); v != "" {
		return v
	}
	return def
}

// small wrapper to allow testing
var getenv = func(key string) string { return os.Getenv(key) }

type Options struct {
	DataDir       string
	GRPCAddr      string
	HTTPAddr      string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        cfgpkg.Config
	Version       string
	// AllowInsecurePush accepts http:// push endpoints (local push relays).
	AllowInsecurePush bool
}

// Run starts the notification services and the gRPC and HTTP servers and
// blocks until ctx is cancelled or the process is signalled.
func Run(ctx context.Context, opts Options) error {
	// Be robust to callers that don't pass a signal-aware context.
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	cfg := opts.Config
	if opts.DataDir == "" {
		opts.DataDir = cfg.DataDir
	}
	if opts.DataDir == "" {
		opts.DataDir = cfgpkg.DefaultDataDir()
	}
	if opts.HTTPAddr == "" {
		opts.HTTPAddr = cfg.HTTP.Addr
	}
	if opts.GRPCAddr == "" {
		opts.GRPCAddr = cfg.GRPC.Addr
	}

	procLogger := buildLogger(cfg.Log)
	restore := logpkg.RedirectStdLog(procLogger)
	defer restore()
	sarama.Logger = logpkg.ToStdLogger(procLogger.WithComponent("sarama"))

	shutdownTracer, err := telemetry.InitTracer(sctx, telemetry.Config{
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     opts.Version,
	})
	if err != nil {
		return err
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(tctx); err != nil {
			procLogger.Warn("tracer shutdown", logpkg.Err(err))
		}
	}()

	prom := metrics.New()
	storeDir := filepath.Join(opts.DataDir, "store")
	rt, err := runtime.Open(runtime.Options{
		DataDir:           storeDir,
		Fsync:             opts.Fsync,
		FsyncInterval:     opts.FsyncInterval,
		Config:            cfg,
		Metrics:           prom,
		AllowInsecurePush: opts.AllowInsecurePush,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	procLogger.Info("Starting herald server",
		logpkg.Str("grpc", opts.GRPCAddr),
		logpkg.Str("http", opts.HTTPAddr),
		logpkg.Str("data_dir", opts.DataDir),
		logpkg.Str("level", cfg.Log.Level),
		logpkg.Str("format", cfg.Log.Format),
		logpkg.Bool("push", cfg.Push.Enabled()),
		logpkg.Bool("mail", cfg.Mail.Enabled()),
		logpkg.Bool("kafka", len(cfg.Kafka.Brokers) > 0),
		logpkg.Str("sse_heartbeat", getenvDefault("HERALD_LIVE_HEARTBEAT_INTERVAL", cfg.Live.HeartbeatInterval.String())),
	)

	pushClient := delivery.NewWebPushClient(delivery.WebPushConfig{
		VAPIDPublicKey:  cfg.Push.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.Push.VAPIDPrivateKey,
		Subscriber:      cfg.Push.Subscriber,
		TTL:             cfg.Push.TTL,
		SendTimeout:     cfg.Push.SendTimeout,
	})
	mailLogger := procLogger.WithComponent("mail")
	mailClient := delivery.NewSMTPClient(delivery.SMTPConfig{
		Host:        cfg.Mail.Host,
		Port:        cfg.Mail.Port,
		Username:    cfg.Mail.Username,
		Password:    cfg.Mail.Password,
		From:        cfg.Mail.From,
		TLS:         cfg.Mail.TLS,
		SendTimeout: cfg.Mail.SendTimeout,
	}, func(from, to string) {
		prom.BreakerState("smtp", to)
		mailLogger.Warn("smtp breaker state changed", logpkg.Str("from", from), logpkg.Str("to", to))
	})

	hub := livehub.New(livehub.Options{
		HeartbeatInterval: cfg.Live.HeartbeatInterval,
		StaleAfter:        cfg.Live.StaleAfter,
		Logger:            procLogger,
		Metrics:           prom,
	})
	dispatcher := subscriptions.NewDispatcher(rt.Subscriptions(), pushClient, delivery.Notification{
		Icon:    cfg.Push.Icon,
		Badge:   cfg.Push.Badge,
		Vibrate: []int{200, 100, 200},
	}, procLogger, prom)
	processor := retryqueue.NewProcessor(rt.Queue(), mailClient, retryqueue.Options{
		Interval:    cfg.Retry.Interval,
		BatchLimit:  cfg.Retry.BatchLimit,
		SendTimeout: cfg.Mail.SendTimeout,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
		MaxAttempts: cfg.Retry.MaxAttempts,
		Logger:      procLogger,
		Metrics:     prom,
	})
	orch := fanout.New(hub, dispatcher, mailClient, rt.Queue(), fanout.Options{
		OperatorAddress:   cfg.Mail.OperatorAddress,
		MailTimeout:       cfg.Mail.SendTimeout,
		BroadcastFallback: cfg.Live.BroadcastFallback,
		FallbackEvent:     cfg.Live.FallbackEvent,
		Logger:            procLogger,
		Metrics:           prom,
	})

	gsrv := grpcserver.New(rt, procLogger)
	hsrv := httpserver.New(controllers.Deps{
		Runtime:            rt,
		Hub:                hub,
		Dispatcher:         dispatcher,
		Orchestrator:       orch,
		Processor:          processor,
		VAPIDPublicKey:     pushClient.PublicKey(),
		AdminToken:         cfg.Admin.Token,
		BatchLimit:         cfg.Retry.BatchLimit,
		StreamWriteTimeout: cfg.Live.WriteTimeout,
	}, httpserver.Options{AllowedOrigin: cfg.HTTP.AllowedOrigin, Metrics: prom}, procLogger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gsrv.ListenAndServe(sctx, opts.GRPCAddr); err != nil && sctx.Err() == nil {
			procLogger.Error("grpc error", logpkg.Err(err))
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := hsrv.ListenAndServe(sctx, opts.HTTPAddr); err != nil && sctx.Err() == nil {
			procLogger.Error("http error", logpkg.Err(err))
		}
	}()

	wg.Add(2)
	go func() {
		defer wg.Done()
		hub.Run(sctx)
	}()
	go func() {
		defer wg.Done()
		processor.Run(sctx)
	}()

	if len(cfg.Kafka.Brokers) > 0 {
		consumer := kafkaintake.NewConsumer(kafkaintake.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			GroupID: cfg.Kafka.GroupID,
		}, orch, procLogger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Run(sctx); err != nil {
				procLogger.Error("kafka intake error", logpkg.Err(err))
			}
		}()
	}

	<-sctx.Done()
	procLogger.Info("Shutting down herald server")
	// Stop accepting work before closing the runtime/DB to avoid races.
	gsrv.Close()
	hsrv.Close()
	hub.Close()
	wg.Wait()

	octx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := orch.Close(octx); err != nil {
		procLogger.Warn("in-flight notifications abandoned at shutdown", logpkg.Err(err))
	}
	return nil
}

func buildLogger(cfg logpkg.Config) logpkg.Logger {
	l, err := logpkg.ApplyConfig(&cfg)
	if err == nil {
		return l
	}
	// Fallback to a sane default
	lvl := logpkg.InfoLevel
	if parsed, e := logpkg.ParseLevel(cfg.Level); e == nil {
		lvl = parsed
	}
	return logpkg.NewLogger(logpkg.WithLevel(lvl))
}
