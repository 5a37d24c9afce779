// Command gateway is the VoiceMesh session router: it terminates client
// WebSockets, owns the agent registry and session memory, and proxies each
// conversation to its specialist agent.
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
	"github.com/redis/go-redis/v9"

	"github.com/voicemesh/voicemesh/internal/archive"
	"github.com/voicemesh/voicemesh/internal/config"
	"github.com/voicemesh/voicemesh/internal/gateway"
	"github.com/voicemesh/voicemesh/internal/health"
	redismem "github.com/voicemesh/voicemesh/internal/memory/redis"
	"github.com/voicemesh/voicemesh/internal/observe"
	"github.com/voicemesh/voicemesh/internal/registry"
)

const defaultListenAddr = ":8080"

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
	fs := flag.NewFlagSet("gateway", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return exitStartupFailure
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "gateway: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		}
		return exitStartupFailure
	}

	slog.SetDefault(newLogger(cfg.Server.LogLevel))

	listenAddr := cfg.Server.ListenAddr
	if listenAddr == "" {
		listenAddr = defaultListenAddr
	}
	slog.Info("gateway starting",
		"config", *configPath,
		"listen_addr", listenAddr,
		"default_workflow", cfg.Gateway.DefaultWorkflowID,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "voicemesh-gateway",
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

	// Session memory. An unreachable Redis degrades sessions at runtime
	// rather than failing startup.
	redisURL := cfg.Memory.RedisURL
	if redisURL == "" {
		redisURL = "redis://127.0.0.1:6379/0"
	}
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gateway: invalid memory.redis_url: %v\n", err)
		return exitStartupFailure
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	store := redismem.New(redisClient,
		redismem.WithTTL(time.Duration(cfg.Memory.TTLSeconds)*time.Second))

	reg := registry.New()
	go reg.RunPinger(ctx)

	gwOpts := []gateway.Option{}
	checkers := []health.Checker{health.PingChecker("memory", store)}

	var arch *archive.Store
	if cfg.Archive.PostgresDSN != "" {
		arch, err = archive.New(ctx, cfg.Archive.PostgresDSN)
		if err != nil {
			slog.Error("archive init failed", "err", err)
			return exitStartupFailure
		}
		defer arch.Close()
		gwOpts = append(gwOpts, gateway.WithArchiver(arch))
		checkers = append(checkers, health.PingChecker("archive", arch))
		slog.Info("conversation archive enabled")
	}

	gw := gateway.New(reg, store, gateway.Config{
		DefaultWorkflowID: cfg.Gateway.DefaultWorkflowID,
		KeepaliveIdle:     time.Duration(cfg.Gateway.KeepaliveIdleSeconds) * time.Second,
		KeepaliveGrace:    time.Duration(cfg.Gateway.KeepaliveGraceSeconds) * time.Second,
		DrainTimeout:      time.Duration(cfg.Gateway.DrainTimeoutSeconds) * time.Second,
	}, gwOpts...)

	// The WebSocket endpoint is mounted outside the HTTP middleware so the
	// connection can be hijacked.
	api := http.NewServeMux()
	reg.RegisterRoutes(api)
	health.New(checkers...).Register(api)
	api.Handle("GET /metrics", promhttp.Handler())

	mux := http.NewServeMux()
	mux.Handle("/session", gw)
	mux.Handle("/", observe.Middleware(observe.DefaultMetrics())(api))

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	slog.Info("gateway ready — press Ctrl+C to shut down")

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
