package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rzbill/herald/internal/metrics"
	"github.com/rzbill/herald/internal/server/http/controllers"
	logpkg "github.com/rzbill/herald/pkg/log"
)

// Options configure the HTTP server beyond its controllers.
type Options struct {
	// AllowedOrigin is sent as Access-Control-Allow-Origin. Default "*".
	AllowedOrigin string
	// Metrics, when set, instruments requests and serves /metrics.
	Metrics *metrics.Prometheus
}

type Server struct {
	deps   controllers.Deps
	srv    *http.Server
	lis    net.Listener
	logger logpkg.Logger
}

func New(deps controllers.Deps, opts Options, logger logpkg.Logger) *Server {
	if logger == nil {
		logger = logpkg.NewNop()
	}
	deps.Logger = logger
	mux := http.NewServeMux()
	controllers.NewControllerRegistry(deps).RegisterAllRoutes(mux)

	var h http.Handler = mux
	if opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics.Handler())
		h = opts.Metrics.Middleware(h)
	}
	origin := opts.AllowedOrigin
	if origin == "" {
		origin = "*"
	}
	s := &Server{
		deps:   deps,
		logger: logger.WithComponent("http"),
		srv: &http.Server{
			Handler:           cors(origin, h),
			ReadHeaderTimeout: 10 * time.Second,
			ErrorLog:          logpkg.ToStdLogger(logger.WithComponent("http")),
		},
	}
	// open event streams never finish on their own
	if deps.Hub != nil {
		s.srv.RegisterOnShutdown(deps.Hub.Close)
	}
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	s.logger.Info("http listening", logpkg.Str("addr", l.Addr().String()))
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func cors(origin string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
