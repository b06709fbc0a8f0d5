// Package main is the entry point for the mail merge campaign runner.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/shineum/mailmerge-lite/internal/config"
	"github.com/shineum/mailmerge-lite/internal/oauth"
	"github.com/shineum/mailmerge-lite/internal/transport"
)

const usage = `usage: mailmerge [-config file] [-env file] <command> [flags]

commands:
  send       deliver a campaign to every recipient of a CSV file
  preview    render the template for one recipient without sending
  check      verify the configured transport connects and authenticates
  auth       authorize the provider API identity in the browser
  revoke     revoke and delete the provider API token
  configure  save transport settings to the env file
  history    list recorded campaigns and their deliveries

Run "mailmerge <command> -h" for the flags of a command.
`

// errUsage marks command line mistakes, reported with exit status 2.
var errUsage = errors.New("usage error")

// app carries what every command needs.
type app struct {
	cfg     *config.Config
	envPath string
	logger  *slog.Logger
	out     io.Writer
	// stop is raised by the first interrupt. Only send honors it; the other
	// commands are cancelled through their context instead.
	stop     *transport.StopFlag
	graceful bool
	// manager is built on first use and shared by every consumer of the
	// provider API identity.
	manager *oauth.Manager
}

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	envPath := flag.String("env", ".env", "path to the .env file with saved settings")
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage) }
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	if err := config.LoadEnvFile(*envPath); err != nil {
		slog.Error("failed to load env file", "error", err)
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)

	cmd, args := flag.Arg(0), flag.Args()[1:]
	a := &app{
		cfg:      cfg,
		envPath:  *envPath,
		logger:   logger,
		out:      os.Stdout,
		stop:     transport.NewStopFlag(),
		graceful: cmd == "send",
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.handleSignals(cancel)

	if err := a.run(ctx, cmd, args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		logger.Error("command failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "send":
		return a.send(ctx, args)
	case "preview":
		return a.preview(args)
	case "check":
		return a.check(ctx, args)
	case "auth":
		return a.auth(ctx, args)
	case "revoke":
		return a.revoke(ctx, args)
	case "configure":
		return a.configure(args)
	case "history":
		return a.history(ctx, args)
	default:
		return fmt.Errorf("%w: unknown command %q\n\n%s", errUsage, cmd, usage)
	}
}

// handleSignals stops a running campaign after the current recipient on the
// first interrupt and cancels everything on the second.
func (a *app) handleSignals(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigCh
		if !a.graceful {
			a.logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			return
		}
		a.logger.Info("received signal, stopping after the current recipient", "signal", sig)
		a.stop.Stop()

		sig = <-sigCh
		a.logger.Warn("received second signal, aborting", "signal", sig)
		cancel()
	}()
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger builds the process logger with the configured level and
// format. It is also installed as the slog default.
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
