package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	httpadapter "github.com/arena-labs/arena-gateway/internal/adapter/inbound/http"
	"github.com/arena-labs/arena-gateway/internal/adapter/outbound/state"
	"github.com/arena-labs/arena-gateway/internal/config"
	"github.com/arena-labs/arena-gateway/internal/domain/routing"
	"github.com/arena-labs/arena-gateway/internal/domain/session"
	"github.com/arena-labs/arena-gateway/internal/domain/traffic"
	"github.com/arena-labs/arena-gateway/internal/observability"
	"github.com/arena-labs/arena-gateway/internal/service"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway server",
	Long: `Start the arena gateway server.

The gateway listens for MCP clients on server.http_addr and forwards their
messages to whichever challenge backend is currently registered.

Examples:
  # Start with config file settings
  arena-gateway start

  # Start with a specific config file
  arena-gateway --config /path/to/config.yaml start

  # Start in development mode (debug logging)
  arena-gateway start --dev`,
	RunE: runStart,
}

var devMode bool

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (verbose logging)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	// Load configuration without validation, so CLI flags can override first.
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if devMode {
		cfg.DevMode = true
	}
	if stateFilePath != "" {
		cfg.State.File = stateFilePath
	}

	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// Signal context for graceful shutdown. stop() restores default signal
	// handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	logger.Debug("log level configured", "level", cfg.Server.LogLevel, "effective", logLevel.String())

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	// Write PID file so "arena-gateway stop" can find us.
	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("arena-gateway stopped")
	return nil
}

// run wires all components together and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.GatewayConfig, logger *slog.Logger) error {
	shutdownTracing, err := observability.SetupTracing(cfg.Tracing.Enabled)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	// Extra detection rules on top of the built-in set.
	var extraRules []traffic.Rule
	if cfg.Traffic.RulesFile != "" {
		extraRules, err = traffic.LoadRulesFile(cfg.Traffic.RulesFile)
		if err != nil {
			return fmt.Errorf("failed to load detection rules: %w", err)
		}
		logger.Info("loaded extra detection rules",
			"file", cfg.Traffic.RulesFile, "count", len(extraRules))
	}

	trafficLog := traffic.NewLogger(traffic.Config{
		Capacity:     cfg.Traffic.Capacity,
		ExcerptLimit: cfg.Traffic.ExcerptLimit,
		ExtraRules:   extraRules,
	})

	sessions := session.NewManager(session.Config{
		Timeout: cfg.Server.SessionTimeout,
	})

	routerOpts := []routing.Option{
		routing.WithLogger(logger),
		routing.WithMessagePath(cfg.Backend.MessagePath),
		routing.WithHealthPath(cfg.Backend.HealthPath),
		routing.WithTimeout(cfg.Backend.Timeout),
		routing.WithHealthTimeout(cfg.Backend.HealthTimeout),
	}
	if cfg.State.File != "" {
		store := state.NewFileStateStore(cfg.State.File, logger)
		routerOpts = append(routerOpts, routing.WithStore(store))
		logger.Info("registration persistence enabled", "path", store.Path())
	}
	router := routing.NewRouter(routerOpts...)

	gateway := service.NewGatewayService(sessions, router, trafficLog, logger)

	transport := httpadapter.NewHTTPTransport(gateway,
		httpadapter.WithAddr(cfg.Server.HTTPAddr),
		httpadapter.WithKeepaliveInterval(cfg.Server.KeepaliveInterval),
		httpadapter.WithLogger(logger),
	)

	printBanner(Version, cfg.Server.HTTPAddr, cfg.DevMode, router)

	return transport.Start(ctx)
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// printBanner prints a formatted startup banner to stderr.
func printBanner(version, httpAddr string, devMode bool, router *routing.Router) {
	const (
		reset  = "\033[0m"
		bold   = "\033[1m"
		cyan   = "\033[36m"
		green  = "\033[32m"
		yellow = "\033[33m"
		dim    = "\033[2m"
	)

	host := httpAddr
	if strings.HasPrefix(httpAddr, ":") {
		host = "localhost" + httpAddr
	}

	modeStr := green + "production" + reset
	if devMode {
		modeStr = yellow + "development" + reset
	}

	backendStr := dim + "none (register one with /admin/register)" + reset
	if addr, ok := router.ActiveBackend(); ok {
		backendStr = addr
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  %s%s Arena Gateway %s%s\n", bold, cyan, version, reset)
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(os.Stderr, "  %-12s http://%s/message\n", "Messages:", host)
	fmt.Fprintf(os.Stderr, "  %-12s http://%s/status\n", "Status:", host)
	fmt.Fprintf(os.Stderr, "  %-12s %s\n", "Mode:", modeStr)
	fmt.Fprintf(os.Stderr, "  %-12s %s\n", "Backend:", backendStr)
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(os.Stderr, "\n")
}
