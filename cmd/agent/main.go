// Command agent hosts one VoiceMesh specialist agent: it serves gateway
// session WebSockets, drives the voice model bridge, executes tools, and
// registers itself with the gateway on startup.
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
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voicemesh/voicemesh/internal/agentruntime"
	"github.com/voicemesh/voicemesh/internal/config"
	"github.com/voicemesh/voicemesh/internal/health"
	"github.com/voicemesh/voicemesh/internal/observe"
	"github.com/voicemesh/voicemesh/internal/registry"
	"github.com/voicemesh/voicemesh/internal/tools"
	"github.com/voicemesh/voicemesh/internal/workflow"
	"github.com/voicemesh/voicemesh/pkg/voice"
	"github.com/voicemesh/voicemesh/pkg/voice/realtime"
)

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

// lateNotifier bridges the executor's memory-update hook to the runtime,
// which can only be constructed after the executor exists.
type lateNotifier struct {
	rt atomic.Pointer[agentruntime.Runtime]
}

func (l *lateNotifier) NotifyMemoryUpdate(sessionID string, fields map[string]any) {
	if rt := l.rt.Load(); rt != nil {
		rt.NotifyMemoryUpdate(sessionID, fields)
	}
}

func run(args []string) int {
	fs := flag.NewFlagSet("agent", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return exitStartupFailure
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "agent: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "agent: %v\n", err)
		}
		return exitStartupFailure
	}
	if cfg.Agent.ID == "" {
		fmt.Fprintln(os.Stderr, "agent: agent.id is required (or set AGENT_ID)")
		return exitStartupFailure
	}
	if cfg.Agent.WorkflowFile == "" {
		fmt.Fprintln(os.Stderr, "agent: agent.workflow_file is required (or set WORKFLOW_FILE)")
		return exitStartupFailure
	}
	if cfg.Model.Endpoint == "" {
		fmt.Fprintln(os.Stderr, "agent: model.endpoint is required (or set MODEL_ENDPOINT)")
		return exitStartupFailure
	}

	slog.SetDefault(newLogger(cfg.Server.LogLevel))

	listenAddr := cfg.Server.ListenAddr
	if listenAddr == "" && cfg.Agent.Port > 0 {
		listenAddr = fmt.Sprintf(":%d", cfg.Agent.Port)
	}
	if listenAddr == "" {
		listenAddr = ":8090"
	}
	slog.Info("agent starting",
		"agent_id", cfg.Agent.ID,
		"listen_addr", listenAddr,
		"mode", cfg.Agent.Mode,
		"workflow_file", cfg.Agent.WorkflowFile,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "voicemesh-agent-" + cfg.Agent.ID,
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

	wf, err := workflow.Load(cfg.Agent.WorkflowFile)
	if err != nil {
		slog.Error("workflow load failed", "err", err)
		return exitStartupFailure
	}

	var defs []tools.Definition
	if cfg.Agent.ToolsDir != "" {
		defs, err = tools.LoadDir(cfg.Agent.ToolsDir)
		if err != nil {
			slog.Error("tool definitions load failed", "err", err)
			return exitStartupFailure
		}
		slog.Info("tool definitions loaded", "count", len(defs))
	}

	patterns, err := agentruntime.LoadPhantomPatterns(cfg.Agent.PhantomPatternsFile)
	if err != nil {
		slog.Error("phantom pattern load failed", "err", err)
		return exitStartupFailure
	}

	notifier := &lateNotifier{}
	executor := tools.NewExecutor(cfg.Agent.ID, cfg.Tools.LocalToolsURL, defs,
		tools.WithTimeout(time.Duration(cfg.Tools.TimeoutSeconds)*time.Second),
		tools.WithMemoryNotifier(notifier),
	)

	bridgeOpts := []realtime.Option{realtime.WithModelRate(cfg.Model.SampleRate)}
	if cfg.Model.Model != "" {
		bridgeOpts = append(bridgeOpts, realtime.WithModel(cfg.Model.Model))
	}
	newBridge := func() voice.Bridge {
		return realtime.New(cfg.Model.Endpoint, cfg.Model.APIKey, bridgeOpts...)
	}

	rt, err := agentruntime.New(agentruntime.RuntimeConfig{
		AgentID:         cfg.Agent.ID,
		Mode:            cfg.Agent.Mode,
		RuntimeARN:      cfg.Model.RuntimeARN,
		Workflow:        wf,
		ToolDefs:        defs,
		Executor:        executor,
		NewBridge:       newBridge,
		PhantomPatterns: patterns,
	})
	if err != nil {
		slog.Error("runtime init failed", "err", err)
		return exitStartupFailure
	}
	notifier.rt.Store(rt)

	mux := http.NewServeMux()
	mux.Handle("/session", rt)
	health.New().Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	// Announce to the gateway once the listener is up. Registration is
	// retried briefly; the gateway may still be starting.
	var regClient *registry.Client
	if cfg.Agent.GatewayURL != "" {
		regClient = registry.NewClient(cfg.Agent.GatewayURL)
		info := registry.AgentInfo{
			ID:             cfg.Agent.ID,
			Addr:           advertiseAddr(listenAddr),
			Capabilities:   toolNames(defs),
			Modes:          []registry.Mode{registry.Mode(cfg.Agent.Mode)},
			VoiceID:        wf.VoiceID,
			Persona:        wf.Metadata.Persona,
			HandoffAliases: cfg.Agent.HandoffAliases,
		}
		if err := registerWithRetry(ctx, regClient, info); err != nil {
			slog.Error("gateway registration failed", "err", err)
			return exitStartupFailure
		}
		slog.Info("registered with gateway", "gateway_url", cfg.Agent.GatewayURL, "addr", info.Addr)
	}

	slog.Info("agent ready — press Ctrl+C to shut down")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		slog.Error("serve error", "err", err)
		return exitRuntimeError
	}

	slog.Info("shutdown signal received, stopping…")
	shCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if regClient != nil {
		if err := regClient.Deregister(shCtx, cfg.Agent.ID); err != nil {
			slog.Warn("gateway deregistration failed", "err", err)
		}
	}
	if err := srv.Shutdown(shCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return exitRuntimeError
	}
	slog.Info("goodbye")
	return exitOK
}

// advertiseAddr turns a listen address into something the gateway can dial.
// A bare ":port" advertises the loopback host.
func advertiseAddr(listenAddr string) string {
	if strings.HasPrefix(listenAddr, ":") {
		return "127.0.0.1" + listenAddr
	}
	return listenAddr
}

func toolNames(defs []tools.Definition) []string {
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return names
}

func registerWithRetry(ctx context.Context, client *registry.Client, info registry.AgentInfo) error {
	var err error
	for attempt := 1; attempt <= 5; attempt++ {
		if err = client.Register(ctx, info); err == nil {
			return nil
		}
		slog.Warn("gateway registration attempt failed", "attempt", attempt, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return err
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
