// Command orchestratord runs the sprint orchestrator: it loads its
// config, opens the locked JSON store and the sqlite audit ledger, wires
// the board, bus, agent runner and scheduler together, and serves the
// HTTP surface until told to stop.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/basket/sprintd/internal/audit"
	"github.com/basket/sprintd/internal/board"
	"github.com/basket/sprintd/internal/bus"
	"github.com/basket/sprintd/internal/config"
	"github.com/basket/sprintd/internal/httpapi"
	"github.com/basket/sprintd/internal/obs"
	"github.com/basket/sprintd/internal/runner"
	"github.com/basket/sprintd/internal/scheduler"
	"github.com/basket/sprintd/internal/store"
	"github.com/basket/sprintd/internal/sweeper"
	"github.com/basket/sprintd/internal/telemetry"
	"github.com/mattn/go-isatty"
)

const shutdownDrainTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	interactive := isatty.IsTerminal(os.Stderr.Fd())
	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, false, interactive)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "home", cfg.HomeDir)

	if host, _, err := net.SplitHostPort(cfg.BindAddr); err == nil {
		h := strings.TrimSpace(strings.ToLower(host))
		loopback := h == "127.0.0.1" || h == "localhost" || h == "::1"
		if !loopback && !cfg.Auth.Enabled {
			logger.Warn("binding to a non-loopback address with auth disabled; the HTTP surface is unauthenticated", "bind_addr", cfg.BindAddr)
		}
	}

	ledger, err := audit.Open(cfg.HomeDir)
	if err != nil {
		fatalStartup(logger, "E_AUDIT_OPEN", err)
	}
	defer ledger.Close()
	logger.Info("startup phase", "phase", "audit_opened")

	recorder, err := obs.Init(ctx, obs.Config{
		Enabled:  cfg.Observability.Enabled,
		Exporter: observabilityExporter(cfg.Observability.OTLPEndpoint),
		Endpoint: cfg.Observability.OTLPEndpoint,
	})
	if err != nil {
		fatalStartup(logger, "E_OBS_INIT", err)
	}
	defer recorder.Shutdown(context.Background())

	s, err := store.New(cfg.HomeDir)
	if err != nil {
		fatalStartup(logger, "E_STORE_OPEN", err)
	}
	logger.Info("startup phase", "phase", "store_opened")

	eventBus := bus.NewWithLogger(logger)
	bd := board.New(s, eventBus, logger)
	ledger.SubscribeBoardChanges(ctx, eventBus)

	r := &runner.Runner{
		Gateway:   &runner.GatewayRunner{BaseURL: cfg.Gateway.BaseURL, Client: &http.Client{}},
		Alternate: &runner.AlternateRunner{Binary: "codex"},
		Bus:       eventBus,
		History:   runner.NewChatHistory(s),
		Memory:    runner.NewMemory(s),
		Logger:    logger,
	}

	sched := scheduler.New(bd, eventBus, s, r, logger)
	sched.MaxAttempts = cfg.MaxAttempts
	sched.AgentTimeout = cfg.AgentTimeout()
	sched.RetryBaseDelay = cfg.RetryBaseDelay()
	sched.RetryMaxDelay = cfg.RetryMaxDelay()
	sched.SetMaxConcurrent(cfg.MaxConcurrentRuns)
	sched.SetAudit(ledger)
	sched.SetObs(recorder)

	sw := sweeper.New(sweeper.Config{
		Board:     bd,
		Scheduler: sched,
		Logger:    logger,
		Interval:  cfg.SweepInterval(),
	})
	sw.Start(ctx)
	defer sw.Stop()
	logger.Info("startup phase", "phase", "sweeper_started", "interval", cfg.SweepInterval())

	srv := httpapi.New(bd, eventBus, sched, httpapi.Options{
		Logger: logger,
		Audit:  ledger,
		Auth:   httpapi.AuthConfig{Enabled: cfg.Auth.Enabled, Key: cfg.Auth.Key},
		CORS:   httpapi.CORSConfig{Enabled: cfg.CORS.Enabled, AllowedOrigins: cfg.CORS.AllowedOrigins},
	})

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: srv,
	}
	serverErr := make(chan error, 1)
	ln, err := net.Listen("tcp", cfg.BindAddr)
	if err != nil {
		if isAddrInUse(err) {
			fatalStartup(logger, "E_LISTENER_BIND", fmt.Errorf("%w\n\n  %s", err, portOccupantHint(cfg.BindAddr)))
		}
		fatalStartup(logger, "E_LISTENER_BIND", err)
	}
	go func() {
		logger.Info("orchestrator listening", "addr", cfg.BindAddr)
		if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("http server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownDrainTimeout)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	logger.Info("shutdown complete")
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(os.Stderr, "startup failure: reason=%s error=%s\n", reasonCode, message)
	}
	os.Exit(1)
}

func isAddrInUse(err error) bool {
	if opErr, ok := err.(*net.OpError); ok {
		if sysErr, ok := opErr.Err.(*os.SyscallError); ok {
			return sysErr.Err == syscall.EADDRINUSE
		}
	}
	return strings.Contains(err.Error(), "address already in use")
}

// observabilityExporter picks otlp-http when an endpoint is configured,
// falling back to obs's own stdout default otherwise.
func observabilityExporter(endpoint string) string {
	if strings.TrimSpace(endpoint) != "" {
		return "otlp-http"
	}
	return ""
}

func portOccupantHint(addr string) string {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Sprintf("Another process is using %s. Stop it first or change bind_addr in config.yaml.", addr)
	}
	return fmt.Sprintf("Port %s is already in use. Stop the existing process or change bind_addr in config.yaml.", port)
}
