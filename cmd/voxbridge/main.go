// Command voxbridge is the main entry point for the voxbridge streaming
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MrWong99/voxbridge/internal/app"
	"github.com/MrWong99/voxbridge/internal/avatar"
	"github.com/MrWong99/voxbridge/internal/config"
	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/pkg/provider/realtime"
	"github.com/MrWong99/voxbridge/pkg/provider/realtime/openai"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload the log level when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxbridge: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxbridge: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(cfg.Server.LogLevel.SlogLevel())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("voxbridge starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"upstream", cfg.Upstream.Name,
		"model", cfg.Upstream.Model,
		"persistence", persistenceBackend(cfg),
		"avatar", cfg.Avatar.Enabled(),
	)

	// ── Config watcher ────────────────────────────────────────────────────────
	if *watch {
		w, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			applyReload(&level, config.Diff(old, new))
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	application, err := app.New(ctx, cfg, providers, app.WithMetrics(tel.Metrics))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("shutdown signal received, stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the upstream implementations that ship with
// voxbridge into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterUpstream(config.UpstreamOpenAIRealtime, func(u config.UpstreamConfig) (realtime.Factory, error) {
		opts := []openai.Option{openai.WithModel(u.Model)}
		if u.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(u.BaseURL))
		}
		return func() realtime.Link { return openai.New(u.APIKey, opts...) }, nil
	})
}

// buildProviders instantiates the configured upstream and, when enabled, the
// avatar client.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	upstream, err := reg.CreateUpstream(cfg.Upstream)
	if err != nil {
		return nil, fmt.Errorf("create upstream %q (registered: %v): %w", cfg.Upstream.Name, reg.Upstreams(), err)
	}
	ps := &app.Providers{Upstream: upstream}
	slog.Info("provider created", "kind", "upstream", "name", cfg.Upstream.Name)

	if cfg.Avatar.Enabled() {
		c, err := avatar.New(cfg.Avatar.APIKey,
			avatar.WithBaseURL(cfg.Avatar.BaseURL),
			avatar.WithTaskType(cfg.Avatar.TaskType),
			avatar.WithTimeout(cfg.Avatar.Timeout),
		)
		if err != nil {
			return nil, fmt.Errorf("create avatar client: %w", err)
		}
		ps.Avatar = c
		slog.Info("provider created", "kind", "avatar", "base_url", cfg.Avatar.BaseURL)
	}
	return ps, nil
}

// applyReload applies the live-reloadable parts of a config change and warns
// about the rest.
func applyReload(level *slog.LevelVar, d config.ConfigDiff) {
	if d.LogLevelChanged {
		level.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config change requires a restart to take effect", "sections", d.RestartRequired)
	}
}

func persistenceBackend(cfg *config.Config) string {
	if cfg.Persistence.PostgresDSN != "" {
		return "postgres"
	}
	return "memory"
}
