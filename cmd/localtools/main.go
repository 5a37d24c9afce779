// Command localtools serves the banking tool fixtures and, when configured,
// the pgvector-backed knowledge base behind the /tools/execute contract.
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

	"github.com/voicemesh/voicemesh/internal/config"
	"github.com/voicemesh/voicemesh/internal/health"
	"github.com/voicemesh/voicemesh/internal/localtools"
	"github.com/voicemesh/voicemesh/internal/observe"
)

const defaultListenAddr = ":8100"

// Exit codes: 0 clean shutdown, 1 fatal startup failure, 2 unrecoverable
// runtime error.
const (
	exitOK             = 0
	exitStartupFailure = 1
	exitRuntimeError   = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("localtools", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return exitStartupFailure
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "localtools: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "localtools: %v\n", err)
		}
		return exitStartupFailure
	}

	slog.SetDefault(newLogger(cfg.Server.LogLevel))

	listenAddr := cfg.Server.ListenAddr
	if listenAddr == "" {
		listenAddr = defaultListenAddr
	}
	slog.Info("localtools starting", "config", *configPath, "listen_addr", listenAddr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "voicemesh-localtools",
	})
	if err != nil {
		slog.Error("telemetry init failed", "err", err)
		return exitStartupFailure
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOtel(shCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// The vector knowledge base needs both Postgres and an embeddings key;
	// without them search falls back to the built-in FAQ snippets.
	var svcOpts []localtools.Option
	checkers := []health.Checker{}
	if cfg.Archive.PostgresDSN != "" && cfg.Model.APIKey != "" {
		embedder, err := localtools.NewOpenAIEmbedder(cfg.Model.APIKey, "")
		if err != nil {
			slog.Error("embedder init failed", "err", err)
			return exitStartupFailure
		}
		kb, err := localtools.NewPGKnowledgeBase(ctx, cfg.Archive.PostgresDSN, embedder)
		if err != nil {
			slog.Error("knowledge base init failed", "err", err)
			return exitStartupFailure
		}
		defer kb.Close()
		svcOpts = append(svcOpts, localtools.WithKnowledgeBase(kb))
		checkers = append(checkers, health.PingChecker("knowledgebase", kb))
		slog.Info("vector knowledge base enabled")
	} else {
		slog.Info("vector knowledge base disabled, serving FAQ snippets")
	}

	mux := http.NewServeMux()
	localtools.NewService(svcOpts...).Register(mux)
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	slog.Info("localtools ready — press Ctrl+C to shut down")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		slog.Error("serve error", "err", err)
		return exitRuntimeError
	}

	slog.Info("shutdown signal received, stopping…")
	shCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return exitRuntimeError
	}
	slog.Info("goodbye")
	return exitOK
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
