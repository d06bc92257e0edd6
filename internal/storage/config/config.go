package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xtxerr/telemstore/config"
)

// Config represents the complete storage engine configuration.
// The engine's algorithms are tier-agnostic; the tier only resolves
// sector sizes and pool capacity once at init.
type Config struct {
	// DataDir is the root directory for all storage files.
	DataDir string `yaml:"data_dir"`

	// Platform selects the tier profile.
	Platform PlatformConfig `yaml:"platform"`

	// RAM configures the shared RAM sector pool.
	RAM RAMConfig `yaml:"ram"`

	// Disk configures sector persistence and the disk quota.
	Disk DiskConfig `yaml:"disk"`

	// Manager configures the mode manager.
	Manager ManagerConfig `yaml:"manager"`

	// Features configures optional features.
	Features FeaturesConfig `yaml:"features"`
}

// PlatformConfig selects the platform tier.
type PlatformConfig struct {
	// Tier is "micro" or "gateway". The tier decides the pool-exhaustion
	// backpressure policy: micro drops new writes, gateway triggers an
	// immediate flush and evicts oldest sectors at quota.
	Tier string `yaml:"tier"`
}

// IsMicro returns true for the microcontroller tier.
func (p PlatformConfig) IsMicro() bool {
	return p.Tier == "micro"
}

// RAMConfig configures the shared RAM sector pool.
type RAMConfig struct {
	// SectorSize is the payload capacity of one RAM sector in bytes.
	SectorSize int `yaml:"sector_size"`

	// PoolSectors is the number of sectors in the fixed pool.
	PoolSectors int `yaml:"pool_sectors"`

	// SectorsPerSensor is the per-sensor ceiling used when computing
	// aggregate RAM occupancy.
	SectorsPerSensor int `yaml:"sectors_per_sensor"`
}

// DiskConfig configures sector persistence.
type DiskConfig struct {
	// SectorSize is the payload capacity of one disk sector file.
	SectorSize int `yaml:"sector_size"`

	// QuotaBytes caps total usage per source-type directory. When
	// exceeded, the oldest sector files are evicted first.
	QuotaBytes int64 `yaml:"quota_bytes"`
}

// ManagerConfig configures the mode manager.
type ManagerConfig struct {
	// HighWaterPercent is the aggregate RAM occupancy (0-100) that
	// triggers a flush to disk.
	HighWaterPercent int `yaml:"high_water_percent"`

	// TickInterval is the period of the management routine.
	TickInterval time.Duration `yaml:"tick_interval"`

	// ForceSealAfter force-seals an open sector idle for this long.
	ForceSealAfter time.Duration `yaml:"force_seal_after"`

	// ShutdownFlushBudget bounds the best-effort flush at shutdown.
	ShutdownFlushBudget time.Duration `yaml:"shutdown_flush_budget"`
}

// FeaturesConfig configures optional features.
type FeaturesConfig struct {
	// Archive configures Parquet export of flushed records.
	Archive ArchiveConfig `yaml:"archive"`

	// Stats configures DDSketch per-sensor statistics.
	Stats StatsConfig `yaml:"stats"`

	// Query configures the archive query service.
	Query QueryConfig `yaml:"query"`
}

// ArchiveConfig configures Parquet export of flushed records.
type ArchiveConfig struct {
	// Enabled enables the archive exporter.
	Enabled bool `yaml:"enabled"`

	// Compression is the Parquet compression algorithm:
	// snappy, zstd, lz4, gzip, none.
	Compression string `yaml:"compression"`

	// MaxBytes caps the archive directory size; oldest files are
	// evicted first when exceeded.
	MaxBytes int64 `yaml:"max_bytes"`
}

// StatsConfig configures DDSketch per-sensor statistics.
type StatsConfig struct {
	// Enabled enables percentile sketches.
	Enabled bool `yaml:"enabled"`

	// Accuracy is the relative accuracy (0.01 = 1% error).
	Accuracy float64 `yaml:"accuracy"`
}

// QueryConfig configures the archive query service.
type QueryConfig struct {
	// Enabled enables SQL queries over the Parquet archive.
	Enabled bool `yaml:"enabled"`

	// MemoryLimit is the DuckDB memory limit.
	MemoryLimit string `yaml:"memory_limit"`

	// Timeout is the query timeout.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRows is the maximum number of rows returned.
	MaxRows int `yaml:"max_rows"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.applyTierDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a gateway-tier configuration with documented defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "/var/lib/telemstore",
		Platform: PlatformConfig{
			Tier: config.DefaultTier,
		},
		RAM: RAMConfig{
			SectorSize:       config.DefaultRAMSectorSize,
			PoolSectors:      config.DefaultRAMPoolSectors,
			SectorsPerSensor: config.DefaultSectorsPerSensor,
		},
		Disk: DiskConfig{
			SectorSize: config.DefaultDiskSectorSize,
			QuotaBytes: config.DefaultDiskQuotaBytes,
		},
		Manager: ManagerConfig{
			HighWaterPercent:    config.DefaultHighWaterPercent,
			TickInterval:        config.DefaultTickInterval,
			ForceSealAfter:      config.DefaultForceSealAfter,
			ShutdownFlushBudget: config.DefaultShutdownFlushBudget,
		},
		Features: FeaturesConfig{
			Archive: ArchiveConfig{
				Enabled:     false,
				Compression: config.DefaultArchiveCompression,
				MaxBytes:    config.DefaultArchiveMaxBytes,
			},
			Stats: StatsConfig{
				Enabled:  true,
				Accuracy: config.DefaultSketchAccuracy,
			},
			Query: QueryConfig{
				Enabled:     false,
				MemoryLimit: config.DefaultQueryMemoryLimit,
				Timeout:     config.DefaultQueryTimeout,
				MaxRows:     config.DefaultQueryMaxRows,
			},
		},
	}
}

// MicroConfig returns a microcontroller-tier configuration.
func MicroConfig() *Config {
	cfg := DefaultConfig()
	cfg.Platform.Tier = "micro"
	cfg.applyTierDefaults()
	return cfg
}

// applyTierDefaults overrides pool sizing for the micro tier when the
// user did not set explicit values.
func (c *Config) applyTierDefaults() {
	if !c.Platform.IsMicro() {
		return
	}
	if c.RAM.SectorSize == config.DefaultRAMSectorSize {
		c.RAM.SectorSize = config.MicroRAMSectorSize
	}
	if c.RAM.PoolSectors == config.DefaultRAMPoolSectors {
		c.RAM.PoolSectors = config.MicroRAMPoolSectors
	}
	// Archive and SQL query are not meaningful on a microcontroller.
	c.Features.Archive.Enabled = false
	c.Features.Query.Enabled = false
}

// SourceDir returns the per-source-type sector directory.
func (c *Config) SourceDir(source string) string {
	return filepath.Join(c.DataDir, "sectors", source)
}

// ArchiveDir returns the Parquet archive directory.
func (c *Config) ArchiveDir() string {
	return filepath.Join(c.DataDir, "archive")
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		filepath.Join(c.DataDir, "sectors"),
	}
	for _, source := range []string{"host", "app", "can"} {
		dirs = append(dirs, c.SourceDir(source))
	}
	if c.Features.Archive.Enabled {
		dirs = append(dirs, c.ArchiveDir())
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
