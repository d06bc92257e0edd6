// Package config provides configuration defaults and utilities
// for the telemstore engine.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml.
package config

import "time"

// =============================================================================
// Platform Tier Defaults
// =============================================================================

const (
	// DefaultTier selects the platform profile when none is configured.
	// "micro" targets kilobyte-budget microcontrollers, "gateway" targets
	// Linux gateways with tens of megabytes of RAM.
	// Override via config: platform.tier
	DefaultTier = "gateway"
)

// =============================================================================
// RAM Sector Defaults
// =============================================================================

const (
	// DefaultRAMSectorSize is the payload capacity of one RAM sector in bytes.
	// Gateway profile. The micro profile uses MicroRAMSectorSize.
	// Override via config: ram.sector_size
	DefaultRAMSectorSize = 4096

	// MicroRAMSectorSize is the RAM sector payload size on the micro tier.
	MicroRAMSectorSize = 512

	// DefaultRAMPoolSectors is the number of sectors in the shared pool.
	// Gateway profile. The micro profile uses MicroRAMPoolSectors.
	// Override via config: ram.pool_sectors
	DefaultRAMPoolSectors = 1024

	// MicroRAMPoolSectors is the pool size on the micro tier.
	MicroRAMPoolSectors = 32

	// DefaultSectorsPerSensor is the per-sensor RAM sector ceiling used
	// when computing aggregate RAM occupancy.
	// Override via config: ram.sectors_per_sensor
	DefaultSectorsPerSensor = 64
)

// =============================================================================
// Disk Defaults
// =============================================================================

const (
	// DefaultDiskSectorSize is the payload capacity of one disk sector file.
	// Sealed RAM sectors are batched up to this size at flush time.
	// Override via config: disk.sector_size
	DefaultDiskSectorSize = 64 * 1024

	// DefaultDiskQuotaBytes caps total disk usage per source-type directory.
	// When exceeded, the oldest unsent sector files are evicted first.
	// Override via config: disk.quota_bytes
	DefaultDiskQuotaBytes = 256 * 1024 * 1024
)

// =============================================================================
// Mode Manager Defaults
// =============================================================================

const (
	// DefaultHighWaterPercent is the aggregate RAM occupancy that triggers
	// a flush of sealed sectors to disk.
	// Override via config: manager.high_water_percent
	DefaultHighWaterPercent = 80

	// DefaultTickInterval is how often the mode manager samples RAM
	// occupancy and force-seals idle sectors.
	// Override via config: manager.tick_interval
	DefaultTickInterval = 100 * time.Millisecond

	// DefaultForceSealAfter force-seals an open sector that has not been
	// appended to for this long, so records are not trapped indefinitely.
	// Override via config: manager.force_seal_after
	DefaultForceSealAfter = 30 * time.Second

	// DefaultShutdownFlushBudget bounds the best-effort flush performed by
	// the shutdown hook. Sectors not fully written and checksum-valid when
	// the budget expires are simply absent on next boot, never half-valid.
	// Override via config: manager.shutdown_flush_budget
	DefaultShutdownFlushBudget = 60 * time.Second
)

// =============================================================================
// Archive / Statistics Defaults
// =============================================================================

const (
	// DefaultArchiveMaxBytes caps the Parquet archive directory size.
	// Override via config: features.archive.max_bytes
	DefaultArchiveMaxBytes = 1024 * 1024 * 1024

	// DefaultArchiveCompression is the Parquet compression algorithm.
	// Override via config: features.archive.compression
	DefaultArchiveCompression = "zstd"

	// DefaultSketchAccuracy is the DDSketch relative accuracy for
	// per-sensor value and flush-latency percentiles (0.01 = 1% error).
	// Override via config: features.stats.accuracy
	DefaultSketchAccuracy = 0.01

	// DefaultQueryMemoryLimit is the DuckDB memory limit for archive queries.
	// Override via config: features.query.memory_limit
	DefaultQueryMemoryLimit = "512MB"

	// DefaultQueryTimeout is the archive query timeout.
	// Override via config: features.query.timeout
	DefaultQueryTimeout = 30 * time.Second

	// DefaultQueryMaxRows caps rows returned by one archive query.
	// Override via config: features.query.max_rows
	DefaultQueryMaxRows = 1000000
)
