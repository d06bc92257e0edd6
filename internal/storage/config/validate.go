package config

import (
	"github.com/xtxerr/telemstore/internal/errors"
	"github.com/xtxerr/telemstore/internal/storage/types"
)

// Validate checks the configuration for consistency.
// All errors are collected so a bad config file reports every problem
// in one pass.
func (c *Config) Validate() error {
	v := errors.NewValidationErrors()

	if c.DataDir == "" {
		v.AddMissing("data_dir")
	}

	switch c.Platform.Tier {
	case "micro", "gateway":
	case "":
		v.AddMissing("platform.tier")
	default:
		v.AddField("platform.tier", "must be micro or gateway")
	}

	if c.RAM.SectorSize < types.EventRecordSize {
		v.AddField("ram.sector_size", "must hold at least one event record")
	}
	if c.RAM.PoolSectors <= 0 {
		v.AddField("ram.pool_sectors", "must be positive")
	}
	if c.RAM.SectorsPerSensor <= 0 {
		v.AddField("ram.sectors_per_sensor", "must be positive")
	}

	if c.Disk.SectorSize < c.RAM.SectorSize {
		v.AddField("disk.sector_size", "must be at least ram.sector_size")
	}
	if c.Disk.QuotaBytes <= 0 {
		v.AddField("disk.quota_bytes", "must be positive")
	}

	if c.Manager.HighWaterPercent <= 0 || c.Manager.HighWaterPercent > 100 {
		v.AddField("manager.high_water_percent", "must be in 1..100")
	}
	if c.Manager.TickInterval <= 0 {
		v.AddField("manager.tick_interval", "must be positive")
	}
	if c.Manager.ShutdownFlushBudget <= 0 {
		v.AddField("manager.shutdown_flush_budget", "must be positive")
	}

	if c.Features.Stats.Enabled {
		if c.Features.Stats.Accuracy <= 0 || c.Features.Stats.Accuracy >= 1 {
			v.AddField("features.stats.accuracy", "must be in (0, 1)")
		}
	}
	if c.Features.Archive.Enabled {
		switch c.Features.Archive.Compression {
		case "snappy", "zstd", "lz4", "gzip", "none", "":
		default:
			v.AddField("features.archive.compression", "unknown algorithm")
		}
		if c.Features.Archive.MaxBytes <= 0 {
			v.AddField("features.archive.max_bytes", "must be positive")
		}
	}
	if c.Features.Query.Enabled && !c.Features.Archive.Enabled {
		v.AddField("features.query.enabled", "requires features.archive.enabled")
	}

	return v.Err()
}
