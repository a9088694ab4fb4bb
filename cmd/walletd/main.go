// Package main provides walletd - the wallet background daemon.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/klingon-exchange/walletd/internal/app"
	"github.com/klingon-exchange/walletd/internal/config"
	"github.com/klingon-exchange/walletd/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir     = flag.String("data-dir", "~/.walletd", "Data directory")
		configDir   = flag.String("config-dir", "", "Directory holding config.yaml (default: <data-dir>)")
		listenAddr  = flag.String("listen", "", "Port listen address, overrides config")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error), overrides config")
		noPrice     = flag.Bool("no-price", false, "Disable the price feed")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.New(&logging.Config{
		Level:      *logLevel,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("walletd %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	dir := *configDir
	if dir == "" {
		dir = *dataDir
	}
	cfg, err := config.LoadConfig(dir)
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	// CLI flags take precedence over the config file
	cfg.Storage.DataDir = *dataDir
	if *listenAddr != "" {
		cfg.API.ListenAddr = *listenAddr
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *noPrice {
		cfg.Price.Enabled = false
	}

	log = logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)
	log.Info("Config loaded", "path", config.ConfigPath(dir))

	a, err := app.New(cfg, app.Options{})
	if err != nil {
		log.Fatal("Failed to initialize", "error", err)
	}
	if err := a.Start(); err != nil {
		log.Fatal("Failed to start", "error", err)
	}

	printBanner(log, cfg, a.Server.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	log.Info("Shutting down...")
	a.Stop()
	log.Info("Goodbye!")
}

func printBanner(log *logging.Logger, cfg *config.Config, addr string) {
	log.Info("")
	log.Info("=================================================")
	log.Infof("  walletd %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  Port:    ws://%s/port", addr)
	log.Infof("  Health:  http://%s/health", addr)
	log.Infof("  Metrics: http://%s/metrics", addr)
	log.Info("")
	log.Infof("  Networks: %d | Price feed: %v", len(cfg.Networks), cfg.Price.Enabled)
	log.Infof("  Data dir: %s", config.ExpandPath(cfg.Storage.DataDir))
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}
