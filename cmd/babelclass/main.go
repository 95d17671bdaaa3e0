// Command babelclass is the real-time classroom translation relay server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/babelclass/babelclass/internal/classroom"
	"github.com/babelclass/babelclass/internal/config"
	"github.com/babelclass/babelclass/internal/counts"
	"github.com/babelclass/babelclass/internal/gateway"
	"github.com/babelclass/babelclass/internal/health"
	"github.com/babelclass/babelclass/internal/httpapi"
	"github.com/babelclass/babelclass/internal/lifecycle"
	"github.com/babelclass/babelclass/internal/observe"
	"github.com/babelclass/babelclass/internal/provider"
	"github.com/babelclass/babelclass/internal/relay"
	"github.com/babelclass/babelclass/internal/store"
	"github.com/babelclass/babelclass/internal/store/memory"
	"github.com/babelclass/babelclass/internal/store/postgres"
	"github.com/babelclass/babelclass/pkg/provider/translate"
	geminimt "github.com/babelclass/babelclass/pkg/provider/translate/gemini"
	"github.com/babelclass/babelclass/pkg/provider/tts"
	"github.com/babelclass/babelclass/pkg/provider/tts/browser"
	"github.com/babelclass/babelclass/pkg/provider/tts/coqui"
	"github.com/babelclass/babelclass/pkg/provider/tts/elevenlabs"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "babelclass: %v\n", err)
		return 1
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	slog.Info("babelclass starting",
		"version", version,
		"env", string(cfg.Server.Env),
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"log_level", string(cfg.Server.LogLevel),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "babelclass",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Durable store ─────────────────────────────────────────────────────────
	var st store.Store
	if cfg.Database.URL != "" {
		pgStore, err := postgres.New(ctx, cfg.Database.URL)
		if err != nil {
			slog.Error("failed to connect to database", "err", err)
			return 1
		}
		st = pgStore
		slog.Info("database connected")
	} else {
		st = memory.New()
		slog.Warn("DATABASE_URL not set, using in-memory store; records are lost on restart")
	}
	defer st.Close()

	// ── Providers ─────────────────────────────────────────────────────────────
	facade, err := buildProviderFacade(ctx, cfg, metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Core components ───────────────────────────────────────────────────────
	directory := classroom.New(cfg.Scaled(cfg.Classroom.CodeExpiration))
	manager := lifecycle.NewManager(st, directory, cfg, lifecycle.WithMetrics(metrics))
	orchestrator := relay.New(facade, st,
		relay.WithDetailedLogging(cfg.Gateway.DetailedTranslationLogging),
		relay.WithMetrics(metrics),
	)
	gw := gateway.New(st, manager, directory, orchestrator, facade, cfg, gateway.WithMetrics(metrics))
	sessionCounts := counts.New(st)

	go directory.Run(ctx, cfg.Scaled(cfg.Classroom.CleanupInterval))
	go manager.Run(ctx)
	go sessionCounts.Run(ctx)
	go gw.RunHealthCheck(ctx)

	// ── HTTP surface ──────────────────────────────────────────────────────────
	healthHandler := health.New(version,
		func() health.Snapshot {
			return health.Snapshot{
				ActiveSessions: sessionCounts.ActiveSessions(),
				ActiveTeachers: gw.Registry().CountByRole(gateway.RoleTeacher),
				ActiveStudents: gw.Registry().CountByRole(gateway.RoleStudent),
			}
		},
		st.Ping,
		health.Checker{Name: "database", Check: st.Ping},
	)

	apiMux := http.NewServeMux()
	healthHandler.Register(apiMux)
	httpapi.New(st, logger).Register(apiMux)

	root := http.NewServeMux()
	root.Handle("/ws", gw)
	root.Handle("GET /metrics", promhttp.Handler())
	root.Handle("/", observe.Middleware(metrics)(apiMux))

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		slog.Error("server error", "err", err)
		return 1
	case <-ctx.Done():
	}

	slog.Info("shutdown signal received, stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		slog.Warn("server shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}

// buildProviderFacade wires the configured translation and speech backends
// into the degradation facade. A missing translation key means source-text
// passthrough; a missing speech backend means browser-side synthesis.
func buildProviderFacade(ctx context.Context, cfg *config.Config, metrics *observe.Metrics) (*provider.Facade, error) {
	var (
		translator     translate.Provider
		translatorName string
	)
	if key := cfg.Providers.Translate.APIKey; key != "" {
		p, err := geminimt.New(ctx, key, geminimt.WithModel(cfg.Providers.Translate.Model))
		if err != nil {
			return nil, fmt.Errorf("create gemini translator: %w", err)
		}
		translator, translatorName = p, "gemini"
	} else {
		translator, translatorName = translate.Passthrough{}, "passthrough"
		slog.Warn("no translation API key configured, relaying source text")
	}
	slog.Info("translation provider ready", "name", translatorName)

	var (
		synth     tts.Provider
		synthName string
	)
	switch {
	case cfg.Providers.TTS.APIKey != "":
		opts := []elevenlabs.Option{elevenlabs.WithTimeout(cfg.Providers.TTS.Timeout)}
		if cfg.Providers.TTS.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(cfg.Providers.TTS.BaseURL))
		}
		p, err := elevenlabs.New(cfg.Providers.TTS.APIKey, opts...)
		if err != nil {
			return nil, fmt.Errorf("create elevenlabs synthesiser: %w", err)
		}
		synth, synthName = p, "elevenlabs"
	case cfg.Providers.TTS.BaseURL != "":
		p, err := coqui.New(cfg.Providers.TTS.BaseURL, coqui.WithTimeout(cfg.Providers.TTS.Timeout))
		if err != nil {
			return nil, fmt.Errorf("create coqui synthesiser: %w", err)
		}
		synth, synthName = p, "coqui"
	default:
		synth, synthName = browser.New(), "browser"
		slog.Warn("no speech backend configured, using browser-side synthesis")
	}
	slog.Info("speech provider ready", "name", synthName)

	return provider.New(translator, translatorName, synth, synthName,
		provider.WithTranslateTimeout(cfg.Providers.Translate.Timeout),
		provider.WithTTSTimeout(cfg.Providers.TTS.Timeout),
		provider.WithAudioCache(cfg.Providers.TTS.CacheSize),
		provider.WithMetrics(metrics),
	)
}

func newLogger(cfg *config.Config) *slog.Logger {
	var lvl slog.Level
	switch cfg.Server.LogLevel {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if cfg.Server.Env == config.EnvProduction {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
