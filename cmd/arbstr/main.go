// Command arbstr is a local reverse proxy that speaks an OpenAI-compatible
// chat-completion API and routes each request to the cheapest eligible
// upstream provider, with retry, fallback, circuit-breaking, streaming
// observation, cost accounting, and request logging.
//
// Usage:
//
//	arbstr serve --config path.toml     # start the proxy
//	arbstr check --config path.toml     # validate config, report key availability
//	arbstr providers --config path.toml # list configured providers (keys masked)
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/arbstr/arbstr/internal/config"
	"github.com/arbstr/arbstr/internal/migration"
	"github.com/arbstr/arbstr/internal/secret"
	"github.com/arbstr/arbstr/internal/store"
	"github.com/arbstr/arbstr/internal/telemetry"
)

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

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "check":
		runCheck(os.Args[2:])
	case "providers":
		runProviders(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func loadConfig(args []string, fsName string) (*config.Config, *flag.FlagSet) {
	fs := flag.NewFlagSet(fsName, flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg, fs
}

func runServe(args []string) {
	cfg, _ := loadConfig(args, "serve")

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting arbstr",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	migrator, err := migration.NewMigratorFromConfig(cfg)
	if err != nil {
		logger.Fatal("failed to build migrator", zap.Error(err))
	}
	if err := migrator.Up(context.Background()); err != nil {
		logger.Fatal("failed to apply migrations", zap.Error(err))
	}
	_ = migrator.Close()

	st, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}

	srv := NewServer(cfg, logger, otelProviders, st)
	if err := srv.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	srv.WaitForShutdown()
	logger.Info("arbstr stopped")
}

// runCheck validates the configuration and reports, per provider, whether
// an API key is present — never the key itself.
func runCheck(args []string) {
	cfg, _ := loadConfig(args, "check")

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("config OK")
	for _, p := range cfg.Providers {
		status := "missing"
		if !p.APIKey.IsEmpty() {
			status = "present"
		}
		fmt.Printf("  %-20s api_key=%s models=%v\n", p.Name, status, p.Models)
	}
}

// runProviders lists configured providers with masked-prefix keys.
func runProviders(args []string) {
	cfg, _ := loadConfig(args, "providers")

	for _, p := range cfg.Providers {
		fmt.Printf("%-20s %-40s key=%s\n", p.Name, p.URL, maskedPrefix(p.APIKey))
	}
}

func maskedPrefix(s secret.Secret) string {
	if s.IsEmpty() {
		return "(none)"
	}
	return s.MaskedPrefix()
}

func printVersion() {
	fmt.Printf("arbstr %s\n", Version)
	fmt.Printf("  build time: %s\n", BuildTime)
	fmt.Printf("  git commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`arbstr - cost-aware LLM reverse proxy

Usage:
  arbstr <command> [options]

Commands:
  serve      Start the proxy and metrics servers
  check      Validate config and report provider key availability
  providers  List configured providers with masked keys
  version    Show version information
  help       Show this help message

Options:
  --config <path>   Path to the TOML config file

Examples:
  arbstr serve --config /etc/arbstr/config.toml
  arbstr check --config /etc/arbstr/config.toml
  arbstr providers --config /etc/arbstr/config.toml`)
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := cfg.Format
	if encoding == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	} else {
		encoding = "json"
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      encoding == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	opts := []zap.Option{zap.AddCaller()}
	if cfg.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	logger, err := zapConfig.Build(opts...)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
