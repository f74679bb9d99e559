// Package main implements the dataports daemon. It builds the port graph
// declared in the configuration, binds exported and imported ports to NATS
// and serves Prometheus metrics and health.
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	ossignal "os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/dataports/config"
	"github.com/c360/dataports/health"
	"github.com/c360/dataports/metric"
	"github.com/c360/dataports/natsclient"
	"github.com/c360/dataports/network"
	"github.com/c360/dataports/pkg/retry"
	"github.com/c360/dataports/port"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "dataports"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	ctx, stop := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

// app holds everything run starts and has to stop again
type app struct {
	cli      *CLIConfig
	logger   *slog.Logger
	level    *slog.LevelVar
	manager  *config.Manager
	registry *metric.MetricsRegistry
	rt       *port.Runtime
	client   *natsclient.Client
	tr       network.Transport
	graph    *portGraph
	monitor  *health.Monitor
	server   *metric.Server
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	cliCfg, err := parseFlags(flag.NewFlagSet(appName, flag.ContinueOnError), args)
	if err != nil {
		if stderrors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("invalid flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cliCfg.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s (%s)\n", appName, Version, BuildTime)
		return nil
	}
	if cliCfg.ShowHelp {
		fs := flag.NewFlagSet(appName, flag.ContinueOnError)
		fs.SetOutput(stdout)
		_, _ = parseFlags(fs, nil)
		printDetailedHelp(fs)
		return nil
	}

	a := &app{cli: cliCfg}
	cfg, loader, err := loadConfiguration(cliCfg)
	if err != nil {
		return err
	}
	a.initializeLogging(cfg, stdout)
	if a.manager, err = config.NewManager(cfg, loader, a.logger); err != nil {
		return fmt.Errorf("create config manager: %w", err)
	}

	if cliCfg.Validate {
		a.logger.Info("Configuration is valid", "ports", len(cfg.Ports))
		return nil
	}

	a.logger.Info("Starting dataports",
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath,
		"transport", cfg.Network.Transport)

	defer a.shutdown()
	if err := a.initializeInfrastructure(ctx, cfg); err != nil {
		return err
	}
	if err := a.initializeGraph(ctx, cfg); err != nil {
		return err
	}
	if err := a.initializeMetrics(cfg); err != nil {
		return err
	}

	return a.runUntilSignal(ctx)
}

// loadConfiguration loads the configuration file, or the defaults when none
// is given, and validates the result. The loader is kept for reloads.
func loadConfiguration(cliCfg *CLIConfig) (*config.Config, *config.Loader, error) {
	loader := config.NewLoader()
	if cliCfg.ConfigPath != "" {
		loader.AddLayer(cliCfg.ConfigPath)
	}
	loader.EnableValidation(true)

	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, loader, nil
}

func (a *app) initializeLogging(cfg *config.Config, w io.Writer) {
	level, format := cfg.Log.Level, cfg.Log.Format
	if a.cli.LogLevel != "" {
		level = a.cli.LogLevel
	}
	if a.cli.LogFormat != "" {
		format = a.cli.LogFormat
	}
	a.logger, a.level = setupLogger(w, level, format)
	slog.SetDefault(a.logger)
}

// initializeInfrastructure creates the metrics registry, the port runtime and
// the transport
func (a *app) initializeInfrastructure(ctx context.Context, cfg *config.Config) error {
	if cfg.Metrics.Enabled {
		a.registry = metric.NewMetricsRegistry()
	}

	a.rt = port.NewRuntime(
		port.WithLogger(a.logger),
		port.WithMetrics(a.registry),
		port.WithRegistryCapacity(cfg.Runtime.RegistryCapacity),
		port.WithMaxPropagationDepth(cfg.Runtime.MaxPropagationDepth),
	)
	a.monitor = health.NewMonitor()

	if cfg.Network.Transport == config.TransportLoopback {
		a.logger.Info("Using in-process loopback transport")
		a.tr = network.NewLoopbackTransport()
		return nil
	}

	client, err := connectToNATS(ctx, cfg, a.registry, a.logger)
	if err != nil {
		return err
	}
	a.client = client
	a.tr = network.NewNATSTransport(client)
	a.monitor.Register("nats", health.CheckerFunc(func() health.Status {
		if client.IsHealthy() {
			return health.NewHealthy("nats", client.Status().String())
		}
		return health.NewUnhealthy("nats", client.Status().String())
	}))
	return nil
}

// connectToNATS establishes the NATS connection and waits for it to be ready
func connectToNATS(ctx context.Context, cfg *config.Config, registry *metric.MetricsRegistry,
	logger *slog.Logger,
) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(logger),
		natsclient.FromConfig(cfg.NATS),
	}
	if registry != nil {
		opts = append(opts, natsclient.WithMetrics(registry))
	}

	client, err := natsclient.NewClient(strings.Join(cfg.NATS.URLs, ","), opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	logger.Info("Connecting to NATS", "urls", cfg.NATS.URLs)
	policy := retry.Startup()
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		logger.Warn("NATS not reachable, retrying", "attempt", attempt, "delay", delay, "error", err)
	}
	if err := retry.Do(ctx, policy, client.Connect); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		_ = client.Close(context.Background())
		return nil, fmt.Errorf("NATS connection timeout: %w", err)
	}
	return client, nil
}

func (a *app) initializeGraph(ctx context.Context, cfg *config.Config) error {
	g, err := buildGraph(a.rt, cfg, a.tr, a.logger)
	if err != nil {
		return fmt.Errorf("build port graph: %w", err)
	}
	a.graph = g
	if err := g.start(ctx); err != nil {
		return err
	}
	g.register(a.monitor)
	return nil
}

func (a *app) initializeMetrics(cfg *config.Config) error {
	if a.registry == nil {
		a.logger.Info("Metrics disabled")
		return nil
	}
	a.server = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, a.registry)
	a.server.SetHealthCheck(health.CheckerFunc(func() health.Status {
		return a.monitor.AggregateHealth(appName)
	}))
	if err := a.server.Start(); err != nil {
		return fmt.Errorf("start metrics server: %w", err)
	}
	a.logger.Info("Metrics server started", "address", a.server.Address())
	return nil
}

// runUntilSignal serves until ctx is done. SIGHUP reloads the configuration.
func (a *app) runUntilSignal(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.watchReload(gctx)
	})
	g.Go(func() error {
		return a.watchLogLevel(gctx)
	})
	if a.cli.Demo {
		g.Go(func() error {
			return a.runDemo(gctx)
		})
	}

	a.logger.Info("dataports running", "pid", os.Getpid())
	<-gctx.Done()
	a.logger.Info("Received shutdown signal, initiating graceful shutdown")

	if err := g.Wait(); err != nil && !stderrors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *app) watchReload(ctx context.Context) error {
	hup := make(chan os.Signal, 1)
	ossignal.Notify(hup, syscall.SIGHUP)
	defer ossignal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			if err := a.manager.Reload(); err != nil {
				a.logger.Error("Configuration reload failed", "error", err)
				continue
			}
			a.logger.Info("Configuration reloaded")
		}
	}
}

// watchLogLevel applies log level changes. Other sections are fixed once
// the graph is built.
func (a *app) watchLogLevel(ctx context.Context) error {
	updates := a.manager.OnChange("log")
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			if a.cli.LogLevel != "" {
				continue
			}
			level := parseLevel(u.Config.Get().Log.Level)
			if level != a.level.Level() {
				a.level.Set(level)
				a.logger.Info("Log level changed", "level", level.String())
			}
		}
	}
}

// runDemo publishes a test signal into every source port on its own thread
func (a *app) runDemo(ctx context.Context) error {
	th := a.rt.NewThread("demo")
	defer th.Close()

	ticker := time.NewTicker(a.cli.DemoInterval)
	defer ticker.Stop()

	a.logger.Info("Demo signal started", "interval", a.cli.DemoInterval)
	var tick float64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			tick++
			a.graph.emit(th, tick/10)
		}
	}
}

// shutdown stops everything run started, in reverse order
func (a *app) shutdown() {
	timeout := 10 * time.Second
	if a.cli != nil && a.cli.ShutdownTimeout > 0 {
		timeout = a.cli.ShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if a.graph != nil {
		if err := a.graph.stop(ctx); err != nil {
			a.logger.Warn("Adapters did not stop cleanly", "error", err)
		}
	}
	if a.server != nil {
		if err := a.server.Stop(ctx); err != nil {
			a.logger.Warn("Metrics server stop failed", "error", err)
		}
	}
	if a.tr != nil {
		_ = a.tr.Close(ctx)
	}
	if a.client != nil {
		if err := a.client.Close(ctx); err != nil {
			a.logger.Warn("NATS client close failed", "error", err)
		}
	}
	if a.rt != nil {
		a.rt.Close()
	}
	if a.manager != nil {
		a.manager.Stop()
	}
	if a.logger != nil {
		a.logger.Info("Shutdown complete")
	}
}
