// Command meshd is the process entrypoint: it loads configuration,
// bootstraps first-run secrets, and runs the daemon until an interrupt
// or unrecoverable error (§4.8, §6). Grounded on the teacher's
// cmd/thane/main.go flag parsing, config loading, and signal-driven
// shutdown sequence.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/meshd/meshd/internal/config"
	"github.com/meshd/meshd/internal/core"
	"github.com/meshd/meshd/internal/identity"

	_ "github.com/meshd/meshd/internal/device/logger"
	_ "github.com/meshd/meshd/internal/device/timer"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to config file (default: searches ./config.json, ~/.config/meshd/config.json, /config/config.json, /etc/meshd/config.json)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	path, err := config.FindConfig(*configPath)
	if err != nil {
		logger.Error("config not found", "error", err)
		return 1
	}

	cfg, err := config.Load(path)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return 1
	}

	if cfg.Secrets.Empty() {
		return firstRun(path, cfg, logger)
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			logger.Error("invalid log_level in config", "error", err)
			return 1
		}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: config.ReplaceLogLevelNames,
		}))
	}

	c, err := core.New(cfg, logger)
	if err != nil {
		logger.Error("failed to build daemon", "error", err)
		return 1
	}

	logger.Info("meshd starting", "peer_id", c.LocalPeerID(), "addrs", c.Addrs())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	if err := c.Run(ctx); err != nil {
		// core.Run prefixes its wrapped error with the failing
		// component's name so main can tell a swarm failure (exit
		// code 2) from a gateway bind failure (exit code 3) apart
		// without core importing an exit-code scheme of its own.
		switch {
		case strings.HasPrefix(err.Error(), "swarm: "):
			logger.Error("unrecoverable swarm error", "error", err)
			return 2
		case strings.HasPrefix(err.Error(), "web: "):
			logger.Error("web gateway failed to start", "error", err)
			return 3
		default:
			logger.Error("meshd exited with error", "error", err)
			return 1
		}
	}

	return 0
}

// firstRun generates this node's long-term keypair and the swarm's
// pre-shared key, writes them back to the config file, and reports
// success so the operator can propagate the PSK to every other node
// before starting any of them for real (§6).
func firstRun(path string, cfg *config.Config, logger *slog.Logger) int {
	secrets, err := identity.Generate()
	if err != nil {
		logger.Error("failed to generate secrets", "error", err)
		return 1
	}
	cfg.Secrets = config.SecretsConfig{Keypair: secrets.KeypairB64, PSK: secrets.PSKB64}

	if err := config.Save(path, cfg); err != nil {
		logger.Error("failed to save generated secrets", "error", err)
		return 1
	}

	logger.Info("generated secrets on first run, propagate secrets.psk to every peer before starting the swarm", "config", path)
	return 0
}
