// Package diag serves storage diagnostics: a gRPC health service driven by
// the backend health probe, and an HTTP listener with /healthz and the
// Prometheus /metrics endpoint.
package diag

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/casestore/internal/logging"
	"github.com/dmitrijs2005/casestore/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// StorageService is the health service name reported next to the overall
// ("") status.
const StorageService = "casestore.storage"

// HealthSource is probed for the serving status.
type HealthSource interface {
	HealthCheck(ctx context.Context) storage.HealthStatus
}

// Options configure the diagnostics listeners.
type Options struct {
	HTTPAddr string
	GRPCAddr string
	// SecretKey, when set, makes gRPC health calls carry a valid access
	// token in the access_token metadata.
	SecretKey string
	// Interval is how often the health source is probed.
	Interval time.Duration
}

type Server struct {
	opts     Options
	source   HealthSource
	gatherer prometheus.Gatherer
	health   *health.Server
	logger   logging.Logger
}

func NewServer(opts Options, source HealthSource, gatherer prometheus.Gatherer, l logging.Logger) *Server {
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		opts:     opts,
		source:   source,
		gatherer: gatherer,
		health:   health.NewServer(),
		logger:   l.With("module", "diag_server"),
	}
}

// Handler serves /healthz and /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", s.healthz)
	return mux
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	st := s.source.HealthCheck(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if !st.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(st)
}

// refresh probes the source and publishes the result to the health service.
func (s *Server) refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	st := s.source.HealthCheck(ctx)
	status := healthpb.HealthCheckResponse_SERVING
	if !st.Healthy {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		s.logger.Warn(ctx, "storage unhealthy", "errors", st.Errors)
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(StorageService, status)
	return status
}

func (s *Server) watch(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh(ctx)
		}
	}
}

// Run listens on the configured addresses and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	gl, err := net.Listen("tcp", s.opts.GRPCAddr)
	if err != nil {
		return err
	}
	hl, err := net.Listen("tcp", s.opts.HTTPAddr)
	if err != nil {
		gl.Close()
		return err
	}
	return s.Serve(ctx, gl, hl)
}

// Serve serves on already open listeners until ctx is done, then stops both
// servers gracefully.
func (s *Server) Serve(ctx context.Context, grpcLis, httpLis net.Listener) error {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.accessTokenInterceptor))
	healthpb.RegisterHealthServer(srv, s.health)
	hs := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}

	s.refresh(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info(ctx, "Starting gRPC health server", "address", grpcLis.Addr().String())
		return srv.Serve(grpcLis)
	})
	g.Go(func() error {
		s.logger.Info(ctx, "Starting HTTP diagnostics server", "address", httpLis.Addr().String())
		if err := hs.Serve(httpLis); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		s.watch(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info(ctx, "Stopping diagnostics servers...")
		s.health.Shutdown()
		srv.GracefulStop()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return hs.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
