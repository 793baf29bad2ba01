// Command voicecli runs the device side of a voice conversation against a
// voiced server: a WAV recording is streamed through the capture pipeline as
// microphone input, assistant responses are printed as they arrive, and the
// audio that was played is written to a WAV file on exit.
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

	"github.com/google/uuid"

	"github.com/Hakan2211/memdia-sub000/internal/client"
	"github.com/Hakan2211/memdia-sub000/internal/config"
	"github.com/Hakan2211/memdia-sub000/internal/providers"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	serverURL := flag.String("server", "http://localhost:8080", "voiced server base URL")
	sessionID := flag.String("session", "", "conversation session id (random when empty)")
	inPath := flag.String("in", "", "WAV recording streamed as microphone input")
	outPath := flag.String("out", "response.wav", "WAV file the played response audio is written to")
	flag.Parse()

	if *inPath == "" {
		fmt.Fprintln(os.Stderr, "voicecli: -in is required")
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voicecli: config file %q not found (copy configs/example.yaml to get started)\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voicecli: %v\n", err)
		}
		return 1
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)

	session := *sessionID
	if session == "" {
		session = uuid.NewString()
	}

	reg := config.NewRegistry()
	providers.RegisterBuiltins(reg)
	ps, err := providers.Build(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	if ps.STT == nil || ps.VAD == nil {
		slog.Error("an STT provider and a VAD engine are required on the client")
		return 1
	}

	source, err := newFileSource(*inPath)
	if err != nil {
		slog.Error("failed to open input recording", "path", *inPath, "err", err)
		return 1
	}
	output := newFileOutput(*outPath)

	agent, err := client.New(client.Options{
		ServerURL:       *serverURL,
		SessionID:       session,
		Source:          source,
		Output:          output,
		STT:             ps.STT,
		VAD:             ps.VAD,
		Config:          cfg,
		OnAssistantText: func(tok string) { fmt.Print(tok) },
		OnAssistantDone: func(string) { fmt.Println() },
		Logger:          logger,
	})
	if err != nil {
		slog.Error("failed to assemble session", "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("session starting", "server", *serverURL, "session", session, "input", *inPath)
	if err := agent.Run(ctx); err != nil {
		slog.Error("session failed", "err", err)
		return 1
	}

	if err := output.WriteFile(); err != nil {
		slog.Error("failed to write response audio", "path", *outPath, "err", err)
		return 1
	}
	slog.Info("session ended",
		"barge_ins", agent.BargeIns(),
		"stale_chunks_discarded", agent.Discarded(),
		"response_audio", *outPath,
	)
	return 0
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
