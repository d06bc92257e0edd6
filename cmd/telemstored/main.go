// telemstored runs the sensor storage engine as a standalone daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xtxerr/telemstore/internal/logging"
	"github.com/xtxerr/telemstore/internal/storage"
	"github.com/xtxerr/telemstore/internal/storage/config"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfgPath := flag.String("config", "config.yaml", "config file path")
	dataDir := flag.String("data-dir", "", "data directory (overrides config)")
	tier := flag.String("tier", "", "platform tier: micro or gateway (overrides config)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	logJSON := flag.Bool("log-json", false, "log in JSON format")
	statsEvery := flag.Duration("stats-every", time.Minute, "periodic stats log interval (0 disables)")
	flag.Parse()

	logging.Init(parseLevel(*logLevel), *logJSON)
	log := logging.Component("main")
	log.Info("telemstored starting", "version", Version)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Info("no config file found, using defaults", "path", *cfgPath)
			cfg = config.DefaultConfig()
		} else {
			log.Error("load config", "error", err)
			os.Exit(1)
		}
	}

	// CLI overrides
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *tier != "" {
		cfg.Platform.Tier = *tier
	}
	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", "error", err)
		os.Exit(1)
	}

	eng, err := storage.New(cfg)
	if err != nil {
		log.Error("create engine", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := eng.Start(ctx); err != nil {
		log.Error("start engine", "error", err)
		os.Exit(1)
	}
	log.Info("engine running",
		"data_dir", cfg.DataDir,
		"tier", cfg.Platform.Tier,
		"pool_sectors", cfg.RAM.PoolSectors,
		"sector_size", cfg.RAM.SectorSize)

	if *statsEvery > 0 {
		go statsLoop(ctx, eng, *statsEvery)
	}

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Manager.ShutdownFlushBudget+5*time.Second)
	defer cancel()
	if err := eng.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown", "error", err)
		os.Exit(1)
	}
	log.Info("stopped")
}

// statsLoop periodically logs engine counters for operator visibility.
func statsLoop(ctx context.Context, eng *storage.Engine, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	log := logging.Component("stats")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := eng.Stats()
			log.Info("engine stats",
				"sensors", len(s.Sensors),
				"ram_usage_pct", s.UsagePercent,
				"writes", s.Counters.Writes,
				"writes_rejected", s.Counters.WritesRejected,
				"flushes", s.Counters.Flushes,
				"flushed_sectors", s.Counters.FlushedSectors,
				"disk_bytes", s.DiskUsage)
		}
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
