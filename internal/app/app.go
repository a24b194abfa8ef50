// Package app wires all voxbridge subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates the turn store, circuit
// breakers, session registry and HTTP routes, Run serves until the context is
// cancelled, and Shutdown drains live sessions and tears everything down in
// order.
//
// For testing, inject doubles via functional options (WithTurnStore,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/voxbridge/internal/bridge"
	"github.com/MrWong99/voxbridge/internal/config"
	"github.com/MrWong99/voxbridge/internal/health"
	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/internal/resilience"
	"github.com/MrWong99/voxbridge/pkg/memory"
	"github.com/MrWong99/voxbridge/pkg/memory/postgres"
	"github.com/MrWong99/voxbridge/pkg/provider/realtime"
)

// Providers holds the external collaborators built by main.go via the config
// registry. Upstream is required; a nil Avatar disables the hand-off.
type Providers struct {
	Upstream realtime.Factory
	Avatar   bridge.Speaker
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	store    memory.TurnStore
	metrics  *observe.Metrics
	registry *bridge.Registry
	health   *health.Handler
	server   *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithTurnStore injects a turn store instead of creating one from config.
func WithTurnStore(s memory.TurnStore) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics injects the metric instruments used by every session and the
// HTTP middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. It connects to
// PostgreSQL when persistence.postgres_dsn is set and falls back to an
// in-memory store otherwise.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Upstream == nil {
		return nil, errors.New("app: upstream provider is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		registry:  bridge.NewRegistry(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Turn store ────────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Health ────────────────────────────────────────────────────────
	var checkers []health.Checker
	if p, ok := a.store.(memory.Pinger); ok {
		checkers = append(checkers, health.Store(p))
	}
	a.health = health.New(checkers...).WithSessions(a.registry.Len)

	// ── 3. Routes ────────────────────────────────────────────────────────
	handler, err := a.routes()
	if err != nil {
		return nil, fmt.Errorf("app: routes: %w", err)
	}
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// initStore sets up the PostgreSQL turn store or uses the injected one.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	dsn := a.cfg.Persistence.PostgresDSN
	if dsn == "" {
		slog.Warn("persistence.postgres_dsn is empty; turns are kept in memory only")
		a.store = memory.NewMemStore()
		return nil
	}

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return err
	}
	a.store = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	slog.Info("turn store connected", "backend", "postgres")
	return nil
}

// routes builds the HTTP surface:
//
//	GET  /ws/session/{sessionID}  websocket bridge
//	GET  /admin/sessions          live session statuses
//	POST /admin/sessions/stop     stop every live session
//	GET  /healthz, /readyz        probes
//	GET  /metrics                 Prometheus scrape endpoint
func (a *App) routes() (http.Handler, error) {
	ws, err := bridge.NewWSHandler(bridge.WSHandlerConfig{
		NewLink:  a.providers.Upstream,
		Registry: a.registry,
		Bridge: bridge.Config{
			Options:        a.cfg.Upstream.SessionOptions(),
			ConnectTimeout: a.cfg.Upstream.ConnectTimeout,
			PollInterval:   a.cfg.Upstream.PollInterval,
			DrainTimeout:   a.cfg.Bridge.DrainTimeout,
			SinkQueueSize:  a.cfg.Bridge.SinkQueueSize,
			SinkTimeout:    a.cfg.Bridge.SinkTimeout,
			Metrics:        a.metrics,
		},
		Store:        a.store,
		StoreTimeout: a.cfg.Persistence.WriteTimeout,
		StoreBreaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: "persistence",
		}),
		Avatar: a.providers.Avatar,
		AvatarBreaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:        "avatar",
			MaxFailures: 3,
		}),
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
	})
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("GET /ws/session/{sessionID}", ws)
	mux.HandleFunc("GET /admin/sessions", a.listSessions)
	mux.HandleFunc("POST /admin/sessions/stop", a.stopSessions)
	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(a.metrics)(mux), nil
}

// Handler returns the root HTTP handler. Mainly useful for tests.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// Registry returns the live session registry.
func (a *App) Registry() *bridge.Registry {
	return a.registry
}

// ─── Admin ───────────────────────────────────────────────────────────────────

type sessionsResponse struct {
	Sessions []bridge.Status `json:"sessions"`
}

type stopResponse struct {
	Stopped int    `json:"stopped"`
	Error   string `json:"error,omitempty"`
}

func (a *App) listSessions(w http.ResponseWriter, _ *http.Request) {
	statuses := a.registry.Statuses()
	if statuses == nil {
		statuses = []bridge.Status{}
	}
	writeJSON(w, http.StatusOK, sessionsResponse{Sessions: statuses})
}

func (a *App) stopSessions(w http.ResponseWriter, r *http.Request) {
	n, err := a.registry.StopAll(r.Context())
	if err != nil {
		slog.Warn("admin: stop sessions", "stopped", n, "err", err)
		writeJSON(w, http.StatusInternalServerError, stopResponse{Stopped: n, Error: err.Error()})
		return
	}
	slog.Info("admin: stopped all sessions", "stopped", n)
	writeJSON(w, http.StatusOK, stopResponse{Stopped: n})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("app: write response", "err", err)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens on server.listen_addr and serves until ctx is cancelled or the
// server fails. It returns ctx.Err() on cancellation; call Shutdown
// afterwards.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %q: %w", a.cfg.Server.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is like Run but accepts connections on ln.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	slog.Info("http server listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- a.server.Serve(ln) }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown marks the server as draining, stops every live session, stops the
// HTTP server and runs the closers. Websocket connections are hijacked and
// invisible to http.Server.Shutdown, so sessions are stopped first. If ctx
// expires before all closers finish, remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		a.health.SetDraining(true)

		n, err := a.registry.StopAll(ctx)
		slog.Info("shutting down", "sessions", n, "closers", len(a.closers))
		if err != nil {
			errs = append(errs, fmt.Errorf("app: stop sessions: %w", err))
		}

		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("app: http shutdown: %w", err))
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				errs = append(errs, ctx.Err())
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return errors.Join(errs...)
}
