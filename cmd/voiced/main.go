// Command voiced is the voice conversation engine server.
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

	"github.com/Hakan2211/memdia-sub000/internal/config"
	"github.com/Hakan2211/memdia-sub000/internal/generate"
	"github.com/Hakan2211/memdia-sub000/internal/health"
	"github.com/Hakan2211/memdia-sub000/internal/observe"
	"github.com/Hakan2211/memdia-sub000/internal/providers"
	"github.com/Hakan2211/memdia-sub000/internal/resilience"
	"github.com/Hakan2211/memdia-sub000/internal/store"
	"github.com/Hakan2211/memdia-sub000/internal/stream"
	"github.com/Hakan2211/memdia-sub000/pkg/provider/tts"
	"github.com/Hakan2211/memdia-sub000/pkg/types"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voiced: config file %q not found (copy configs/example.yaml to get started)\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voiced: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, logLevel := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voiced starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "voiced"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	providers.RegisterBuiltins(reg)

	ps, err := providers.Build(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	if ps.LLM == nil || ps.TTS == nil {
		slog.Error("an LLM and a TTS provider are required to serve responses")
		return 1
	}

	// ── Turn store ────────────────────────────────────────────────────────────
	var (
		turns   store.TurnStore
		pgStore *store.PostgresTurnStore
	)
	if dsn := cfg.Store.PostgresDSN; dsn != "" {
		pgStore, err = store.NewPostgresTurnStore(ctx, dsn)
		if err != nil {
			slog.Error("failed to connect turn store", "err", err)
			return 1
		}
		defer pgStore.Close()
		turns = pgStore
		slog.Info("turn store connected", "backend", "postgres")
	} else {
		turns = store.NewMemoryTurnStore()
		slog.Info("turn store running in memory")
	}

	// ── Synthesis chain ───────────────────────────────────────────────────────
	voice := tts.VoiceProfile{
		ID:          cfg.Generation.Voice.VoiceID,
		Provider:    cfg.Providers.TTS.Name,
		SpeedFactor: cfg.Generation.Voice.SpeedFactor,
	}
	synthProvider := ps.TTS
	if len(cfg.Providers.TTSFallbacks) > 0 {
		fb := resilience.NewTTSFallback(ps.TTS, cfg.Providers.TTS.Name, resilience.FallbackConfig{})
		for _, entry := range cfg.Providers.TTSFallbacks {
			p, err := reg.CreateTTS(entry)
			if err != nil {
				slog.Warn("skipping tts fallback", "name", entry.Name, "err", err)
				continue
			}
			fb.AddFallback(entry.Name, p)
			slog.Info("tts fallback registered", "name", entry.Name)
		}
		synthProvider = fb
	}
	synth, err := resilience.NewSynthesisChain(synthProvider, voice, types.EngineSampleRate)
	if err != nil {
		slog.Error("failed to build synthesis chain", "err", err)
		return 1
	}

	// ── Orchestrator + stream server ──────────────────────────────────────────
	orch, err := generate.NewOrchestrator(ps.LLM, synth, turns, store.AllowAll{}, logger, generate.Config{
		SystemPrompt:     cfg.Generation.SystemPrompt,
		Temperature:      cfg.Generation.Temperature,
		MaxTokens:        cfg.Generation.MaxTokens,
		SynthConcurrency: cfg.Generation.SynthConcurrency,
		SampleRate:       types.EngineSampleRate,
	})
	if err != nil {
		slog.Error("failed to build orchestrator", "err", err)
		return 1
	}

	tokens := generate.NewRegistry()
	srv, err := stream.NewServer(tokens, orch, turns, logger)
	if err != nil {
		slog.Error("failed to build stream server", "err", err)
		return 1
	}

	// ── HTTP wiring ───────────────────────────────────────────────────────────
	// The websocket upgrade needs the raw ResponseWriter, so the stream routes
	// bypass the observability middleware.
	observed := http.NewServeMux()
	healthHandler(pgStore, ps).Register(observed)
	if cfg.Server.MetricsAddr == "" {
		observed.Handle("GET /metrics", promhttp.Handler())
	}

	root := http.NewServeMux()
	srv.Register(root)
	root.Handle("/", observe.Middleware(observe.DefaultMetrics())(observed))

	httpSrv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var metricsSrv *http.Server
	if cfg.Server.MetricsAddr != "" {
		mmux := http.NewServeMux()
		mmux.Handle("GET /metrics", promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:              cfg.Server.MetricsAddr,
			Handler:           mmux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics listener error", "err", err)
			}
		}()
		slog.Info("metrics listener started", "addr", cfg.Server.MetricsAddr)
	}

	// ── Config watcher ────────────────────────────────────────────────────────
	// Tunable changes are logged and applied where safe; transport and provider
	// changes require a restart.
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if !d.Any() {
			slog.Info("configuration reloaded; no hot-applicable changes")
			return
		}
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.GenerationChanged || d.FusionChanged || d.VADChanged || d.PlaybackChanged {
			slog.Info("pipeline tunables changed; they apply to new sessions",
				"generation", d.GenerationChanged,
				"fusion", d.FusionChanged,
				"vad", d.VADChanged,
				"playback", d.PlaybackChanged,
			)
		}
	})
	if err != nil {
		slog.Warn("config watcher unavailable", "err", err)
	} else {
		defer watcher.Stop()
	}

	printStartupSummary(cfg)

	// ── Serve ─────────────────────────────────────────────────────────────────
	errCh := make(chan error, 1)
	go func() {
		if cfg.Server.TLS != nil {
			errCh <- httpSrv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			errCh <- httpSrv.ListenAndServe()
		}
	}()

	slog.Info("server ready, press Ctrl+C to shut down")

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("listener error", "err", err)
			return 1
		}
	case <-ctx.Done():
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("metrics listener shutdown error", "err", err)
		}
	}
	slog.Info("goodbye")
	return 0
}

// healthHandler assembles the readiness checkers for the configured backends.
func healthHandler(pg *store.PostgresTurnStore, ps *providers.Set) *health.Handler {
	var checkers []health.Checker
	if pg != nil {
		checkers = append(checkers, health.Checker{
			Name:  "turn_store",
			Check: pg.Ping,
		})
	}
	checkers = append(checkers, health.Checker{
		Name: "providers",
		Check: func(context.Context) error {
			if ps.LLM == nil || ps.TTS == nil {
				return errors.New("llm or tts provider missing")
			}
			return nil
		},
	})
	return health.New(checkers...)
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         voiced — startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("VAD", cfg.Providers.VAD.Name, "")
	fallbacks := fmt.Sprintf("llm:%d stt:%d tts:%d",
		len(cfg.Providers.LLMFallbacks),
		len(cfg.Providers.STTFallbacks),
		len(cfg.Providers.TTSFallbacks))
	fmt.Printf("║  Fallbacks       : %-19s ║\n", fallbacks)
	if cfg.Store.PostgresDSN != "" {
		fmt.Printf("║  Turn store      : %-19s ║\n", "postgres")
	} else {
		fmt.Printf("║  Turn store      : %-19s ║\n", "memory")
	}
	fmt.Printf("║  Fusion strategy : %-19s ║\n", string(cfg.Fusion.Strategy))
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lvl := &slog.LevelVar{}
	lvl.Set(slogLevel(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), lvl
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
