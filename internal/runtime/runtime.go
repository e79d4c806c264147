package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voicegate-labs/voicegate/internal/audio"
	"github.com/voicegate-labs/voicegate/internal/auth"
	"github.com/voicegate-labs/voicegate/internal/bus"
	"github.com/voicegate-labs/voicegate/internal/config"
	"github.com/voicegate-labs/voicegate/internal/engine"
	"github.com/voicegate-labs/voicegate/internal/gate"
	"github.com/voicegate-labs/voicegate/internal/natsserver"
	"github.com/voicegate-labs/voicegate/internal/quota"
	"github.com/voicegate-labs/voicegate/internal/store"
)

// Runtime assembles the service: telemetry, broker, store, gate. Every
// component receives its dependencies at construction; nothing is ambient.
type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return err
	}
	defer embedded.Shutdown()

	busClient, err := bus.Connect(r.cfg.Bus, r.logger)
	if err != nil {
		return err
	}
	defer busClient.Close()

	st, err := store.Open(ctx, r.cfg.Store, r.logger)
	if err != nil {
		return err
	}
	defer st.Close()

	tokens := auth.NewTokenStore(st, r.cfg.Auth, r.logger)
	ledger := quota.NewLedger(st, r.cfg.Quota, r.logger)

	eng, err := r.buildEngine()
	if err != nil {
		return err
	}

	newEncoder := func() (gate.FrameEncoder, error) {
		return audio.NewFrameEncoder(r.cfg.Audio)
	}

	g := gate.New(r.cfg, tokens, ledger, eng, newEncoder, r.logger)
	service := gate.NewService(ctx, g, busClient, r.logger)
	if err := service.Start(); err != nil {
		return fmt.Errorf("start gate service: %w", err)
	}
	defer service.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) buildEngine() (engine.Engine, error) {
	switch r.cfg.Engine.Mode {
	case "exec":
		return engine.NewOpenJTalk(r.cfg.Engine, r.logger)
	default:
		return engine.NewMock(r.cfg.Audio.SampleRate), nil
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
