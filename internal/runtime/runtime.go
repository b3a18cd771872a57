package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/examecho/examecho-stt/internal/bus"
	"github.com/examecho/examecho-stt/internal/capability"
	"github.com/examecho/examecho-stt/internal/config"
	"github.com/examecho/examecho-stt/internal/jobstore"
	"github.com/examecho/examecho-stt/internal/natsserver"
	"github.com/examecho/examecho-stt/internal/pipeline"
	"github.com/examecho/examecho-stt/internal/stt"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

const pruneInterval = time.Hour

type Runtime struct {
	cfg          config.Config
	logger       *slog.Logger
	httpServer   *http.Server
	tracerClose  func(context.Context) error
	ready        atomic.Bool
	jobs         *jobstore.Store
	nats         *natsserver.EmbeddedServer
	bus          *bus.Client
	pipeline     *pipeline.Pipeline
	service      *stt.Service
	capabilities *capability.Registry
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	gin.SetMode(gin.ReleaseMode)
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start runs the daemon until ctx is cancelled or a listener fails.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(ctx, r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	if err := r.open(ctx); err != nil {
		r.close()
		r.closeTelemetry()
		return err
	}

	routes := &api{
		service:      r.service,
		jobs:         r.jobs,
		capabilities: r.capabilities,
		metrics:      metricsHandler,
		ready:        r.isReady,
		maxUpload:    int64(r.cfg.HTTP.MaxUploadMB) << 20,
		uploadDir:    r.cfg.HTTP.UploadTempDir,
		language:     r.cfg.STT.Language,
		logger:       r.logger.With(slog.String("component", "http")),
	}
	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           routes.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	servers := []*http.Server{r.httpServer}
	if bind := r.cfg.Telemetry.PrometheusBind; bind != "" && metricsHandler != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		servers = append(servers, &http.Server{Addr: bind, Handler: mux, ReadHeaderTimeout: 5 * time.Second})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		r.warm(gctx)
		return nil
	})
	g.Go(func() error {
		r.pruneLoop(gctx)
		return nil
	})
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-gctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	runErr := g.Wait()

	r.close()
	r.closeTelemetry()
	return runErr
}

func (r *Runtime) open(ctx context.Context) error {
	jobs, err := jobstore.Open(ctx, r.cfg.JobStore, r.logger)
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	r.jobs = jobs

	r.nats, err = natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return err
	}
	if r.cfg.Bus.Enabled {
		busCfg := r.cfg.Bus
		if url := r.nats.ClientURL(); url != "" {
			busCfg.Servers = []string{url}
		}
		r.bus, err = bus.Connect(ctx, busCfg, r.cfg.RuntimeName, r.logger)
		if err != nil {
			return err
		}
	}

	r.pipeline, err = pipeline.Build(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	r.service = stt.NewService(ctx, r.pipeline.Orchestrator, r.bus, r.jobs, r.logger)
	if err := r.service.Start(); err != nil {
		return err
	}

	if r.bus != nil {
		r.capabilities, err = capability.NewRegistry(ctx, r.cfg.Node, r.bus, r.logger)
		if err != nil {
			return fmt.Errorf("capability registry: %w", err)
		}
	}
	return nil
}

// warm loads the configured backends before the node reports ready.
func (r *Runtime) warm(ctx context.Context) {
	registry := r.pipeline.Registry
	kinds := pipeline.WarmupKinds(r.cfg.STT, registry, r.logger)
	if err := registry.Warm(ctx, kinds...); err != nil {
		r.logger.Warn("backend warm-up incomplete", slog.String("error", err.Error()))
	}
	if ctx.Err() != nil {
		return
	}
	if r.capabilities != nil {
		if err := r.capabilities.SetBackends(registry.Snapshot()); err != nil {
			r.logger.Warn("failed to announce backends", slog.String("error", err.Error()))
		}
	}
	r.ready.Store(true)
	r.logger.Info("runtime ready", slog.Int("warmed", len(kinds)))
}

func (r *Runtime) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.jobs.Prune(ctx); err != nil {
				r.logger.Warn("job store prune failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Runtime) isReady() bool {
	if !r.ready.Load() || r.service == nil || !r.service.Healthy() {
		return false
	}
	return r.bus == nil || r.bus.Healthy()
}

func (r *Runtime) close() {
	if r.capabilities != nil {
		r.capabilities.Close()
	}
	if r.service != nil {
		r.service.Close()
	}
	if r.pipeline != nil {
		if err := r.pipeline.Registry.Close(); err != nil {
			r.logger.Warn("backend close error", slog.String("error", err.Error()))
		}
	}
	r.bus.Close()
	r.nats.Shutdown()
	if r.jobs != nil {
		if err := r.jobs.Close(); err != nil {
			r.logger.Warn("job store close error", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) closeTelemetry() {
	if r.tracerClose == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.tracerClose(ctx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}
}
