// Command leadflow runs the outreach orchestration service.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/leadflow/config"
	"github.com/BaSui01/leadflow/internal/tlsutil"
)

// Build-time variables, set via -ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "serve":
		runServe(args)
	case "migrate":
		runMigrate(args)
	case "version":
		fmt.Printf("leadflow %s (built %s, commit %s)\n", Version, BuildTime, GitCommit)
	case "health":
		runHealthCheck(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`leadflow - outreach orchestration engine

Usage:
  leadflow <command> [options]

Commands:
  serve     Start the HTTP server and scheduler
  migrate   Run database migrations
  version   Print version information
  health    Probe a running server
  help      Show this help message

Options for serve:
  --config <path>   Path to configuration file (YAML)

Environment:
  LEADFLOW_*        Override any config value, e.g. LEADFLOW_SERVER_HTTP_PORT`)
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting leadflow",
		zap.String("version", Version),
		zap.String("git_commit", GitCommit),
		zap.Int("http_port", cfg.Server.HTTPPort),
		zap.Int("metrics_port", cfg.Server.MetricsPort),
	)

	srv := NewServer(cfg, logger)
	if err := srv.Start(context.Background()); err != nil {
		logger.Error("startup failed", zap.Error(err))
		srv.Shutdown()
		os.Exit(1)
	}

	srv.WaitForShutdown()
}

// initLogger builds the zap logger from the log configuration.
func initLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zapCfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(level),
		Development: false,
		Sampling: &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		},
		Encoding:         cfg.Format,
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      cfg.OutputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}
	if cfg.Format == "console" {
		zapCfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	if len(zapCfg.OutputPaths) == 0 {
		zapCfg.OutputPaths = []string{"stdout"}
	}

	opts := []zap.Option{}
	if cfg.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}
	if cfg.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	return zapCfg.Build(opts...)
}

// runHealthCheck probes a running server and exits non-zero when it is
// unhealthy, for use as a container health command.
func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server base URL")
	timeout := fs.Duration("timeout", 5*time.Second, "Request timeout")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	client := tlsutil.SecureHTTPClient(*timeout)
	resp, err := client.Get(*addr + "/ready")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Unhealthy (%d): %s\n", resp.StatusCode, body)
		os.Exit(1)
	}
	fmt.Printf("Healthy: %s\n", body)
}
