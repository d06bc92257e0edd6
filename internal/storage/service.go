package storage

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/xtxerr/telemstore/internal/errors"
	"github.com/xtxerr/telemstore/internal/logging"
	"github.com/xtxerr/telemstore/internal/storage/archive"
	"github.com/xtxerr/telemstore/internal/storage/config"
	"github.com/xtxerr/telemstore/internal/storage/disk"
	"github.com/xtxerr/telemstore/internal/storage/legacy"
	"github.com/xtxerr/telemstore/internal/storage/modemgr"
	"github.com/xtxerr/telemstore/internal/storage/query"
	"github.com/xtxerr/telemstore/internal/storage/recovery"
	"github.com/xtxerr/telemstore/internal/storage/sector"
	"github.com/xtxerr/telemstore/internal/storage/sensor"
	"github.com/xtxerr/telemstore/internal/storage/stats"
	"github.com/xtxerr/telemstore/internal/storage/types"
)

var log = logging.Component("engine")

// Engine wires the sector pool, sensor states, tiering manager, disk
// store and the optional archive, stats and query features into one
// storage service.
type Engine struct {
	cfg *config.Config

	pool  *sector.Pool
	store *disk.Store
	mgr   *modemgr.Manager
	shim  *legacy.Shim

	collector *stats.Collector
	archiver  *archive.Exporter
	queries   *query.Service

	mu      sync.Mutex
	running bool
}

// New builds an engine from configuration. No disk is touched until
// Start; sensors discovered on disk are recovered there, before any
// write is admitted.
func New(cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:  cfg,
		pool: sector.NewPool(cfg.RAM.PoolSectors, cfg.RAM.SectorSize),
	}

	if !cfg.Platform.IsMicro() {
		if err := cfg.EnsureDirectories(); err != nil {
			return nil, err
		}
		store, err := disk.NewStore(filepath.Join(cfg.DataDir, "sectors"))
		if err != nil {
			return nil, err
		}
		e.store = store
	}

	e.mgr = modemgr.New(modemgr.Config{
		HighWaterPercent:    cfg.Manager.HighWaterPercent,
		TickInterval:        cfg.Manager.TickInterval,
		ForceSealAfter:      cfg.Manager.ForceSealAfter,
		SectorsPerSensor:    cfg.RAM.SectorsPerSensor,
		ShutdownFlushBudget: cfg.Manager.ShutdownFlushBudget,
		DiskQuotaBytes:      cfg.Disk.QuotaBytes,
	}, e.pool, e.store)

	var diskTier sensor.DiskStore
	if e.store != nil {
		diskTier = e.store
	}
	e.shim = legacy.New(e.pool, diskTier, e.mgr)

	if cfg.Features.Stats.Enabled {
		e.collector = stats.NewCollector(cfg.Features.Stats.Accuracy)
	}
	if cfg.Features.Archive.Enabled {
		exp, err := archive.NewExporter(cfg.ArchiveDir(), archive.Options{
			Compression: archive.ParseCompressionType(cfg.Features.Archive.Compression),
			MaxBytes:    cfg.Features.Archive.MaxBytes,
			RotateRows:  archive.DefaultOptions().RotateRows,
		})
		if err != nil {
			return nil, err
		}
		e.archiver = exp
	}
	if cfg.Features.Query.Enabled {
		svc, err := query.New(cfg.ArchiveDir(), query.Options{
			MemoryLimit: cfg.Features.Query.MemoryLimit,
			Timeout:     cfg.Features.Query.Timeout,
			MaxRows:     cfg.Features.Query.MaxRows,
		})
		if err != nil {
			return nil, err
		}
		e.queries = svc
	}

	if e.collector != nil || e.archiver != nil {
		e.mgr.SetObserver(e)
	}
	return e, nil
}

// Start recovers every sensor found on disk, then launches the tiering
// loop. Writers are only admitted once recovery completes.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.ErrAlreadyRunning
	}
	e.mu.Unlock()

	if e.store != nil {
		discovered, err := recovery.DiscoverSensors(e.store)
		if err != nil {
			return err
		}
		var states []*sensor.State
		for _, d := range discovered {
			st, err := sensor.New(d.Key, d.Kind, e.pool, e.store)
			if err != nil {
				return err
			}
			states = append(states, st)
		}
		if _, err := recovery.RecoverAll(ctx, e.store, states); err != nil {
			return err
		}
		for _, st := range states {
			if err := e.mgr.Register(st); err != nil {
				return err
			}
			if e.collector != nil {
				e.collector.RecordRecovery()
			}
		}
		log.Info("boot recovery complete", "sensors", len(states))
	}

	if err := e.mgr.Start(ctx); err != nil {
		return err
	}

	e.mu.Lock()
	e.running = true
	e.mu.Unlock()

	log.Info("engine started",
		"tier", e.cfg.Platform.Tier,
		"pool_sectors", e.pool.Capacity(),
		"sector_bytes", e.pool.SectorSize(),
		"disk", e.store != nil)
	return nil
}

// Shutdown force-seals open sectors, runs the final bounded flush,
// persists cursors, and closes the feature services.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return errors.ErrNotRunning
	}
	e.running = false
	e.mu.Unlock()

	err := e.mgr.Shutdown(ctx)

	if e.archiver != nil {
		if cerr := e.archiver.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if e.queries != nil {
		if cerr := e.queries.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}

	log.Info("engine stopped")
	return err
}

// IsRunning reports whether Start succeeded and Shutdown has not run.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// RegisterSensor creates and registers a sensor stream ahead of its
// first write. Registration after Start skips recovery; disk leftovers
// for unknown sensors were already handled at boot.
func (e *Engine) RegisterSensor(key types.SensorKey, kind types.RecordKind) (*sensor.State, error) {
	if st, ok := e.mgr.Lookup(key); ok {
		return st, errors.Wrapf(errors.ErrAlreadyRegistered, "sensor %s", key)
	}

	var diskTier sensor.DiskStore
	if e.store != nil {
		diskTier = e.store
	}
	st, err := sensor.New(key, kind, e.pool, diskTier)
	if err != nil {
		return nil, err
	}
	if err := e.mgr.Register(st); err != nil {
		return nil, err
	}
	return st, nil
}

func (e *Engine) stateFor(key types.SensorKey, kind types.RecordKind) (*sensor.State, error) {
	if st, ok := e.mgr.Lookup(key); ok {
		return st, nil
	}
	st, err := e.RegisterSensor(key, kind)
	if errors.Is(err, errors.ErrAlreadyRegistered) {
		if existing, ok := e.mgr.Lookup(key); ok {
			return existing, nil
		}
	}
	return st, err
}

// WriteTSD appends a time-series value for a sensor, creating the
// stream on first use.
func (e *Engine) WriteTSD(key types.SensorKey, value uint32) error {
	return e.write(key, types.KindTSD, types.Record{Value: value})
}

// WriteEvent appends an event record. The timestamp is stored raw; its
// domain is the producer/consumer contract.
func (e *Engine) WriteEvent(key types.SensorKey, value uint32, timestamp uint64) error {
	return e.write(key, types.KindEvent, types.Record{Value: value, Timestamp: timestamp})
}

func (e *Engine) write(key types.SensorKey, kind types.RecordKind, rec types.Record) error {
	st, err := e.stateFor(key, kind)
	if err != nil {
		return err
	}

	err = st.Write(rec)
	if errors.Is(err, errors.ErrPoolExhausted) {
		err = e.writeUnderPressure(st, rec)
	}

	if e.collector != nil {
		if err != nil {
			e.collector.RecordWriteRejected()
		} else {
			e.collector.RecordWrite(key, rec.Value)
		}
	}
	return err
}

// writeUnderPressure applies the tier backpressure policy on pool
// exhaustion. The micro tier drops the new write. The gateway tier
// flushes this sensor's sealed sectors to disk immediately and retries
// once; the manager's quota pass drops oldest unsent data if the disk
// is saturated too, always favoring the newest samples.
func (e *Engine) writeUnderPressure(st *sensor.State, rec types.Record) error {
	if e.store == nil {
		return errors.Wrapf(errors.ErrPoolExhausted, "sensor %s", st.Key())
	}

	e.mgr.RequestFlush()
	if err := e.mgr.FlushState(context.Background(), st); err != nil {
		return errors.Wrapf(errors.ErrPoolExhausted, "sensor %s (flush failed)", st.Key())
	}
	return st.Write(rec)
}

// ReadNext returns the oldest unconsumed record of a sensor without
// consuming it.
func (e *Engine) ReadNext(key types.SensorKey) (types.Record, error) {
	st, ok := e.mgr.Lookup(key)
	if !ok {
		return types.Record{}, errors.Wrapf(errors.ErrSensorNotFound, "sensor %s", key)
	}
	if e.collector != nil {
		e.collector.RecordRead()
	}
	return st.ReadNext()
}

// Erase permanently consumes the n oldest records of a sensor, called
// by the uploader after a transport-level acknowledgment.
func (e *Engine) Erase(key types.SensorKey, n uint32) error {
	st, ok := e.mgr.Lookup(key)
	if !ok {
		return errors.Wrapf(errors.ErrSensorNotFound, "sensor %s", key)
	}
	if e.collector != nil {
		e.collector.RecordErase()
	}
	return st.Erase(n)
}

// Sensor returns the state for direct batched consumer use.
func (e *Engine) Sensor(key types.SensorKey) (*sensor.State, bool) {
	return e.mgr.Lookup(key)
}

// Legacy returns the compatibility shim sharing this engine's pool and
// registry.
func (e *Engine) Legacy() *legacy.Shim { return e.shim }

// Query returns the SQL service over the archive, or nil when the
// query feature is disabled.
func (e *Engine) Query() *query.Service { return e.queries }

// ForceFlush triggers an immediate flush sweep of all sensors.
func (e *Engine) ForceFlush(ctx context.Context) error {
	if e.store == nil {
		return errors.Wrap(errors.ErrInvalidTransition, "no disk tier configured")
	}
	return e.mgr.FlushAll(ctx)
}

// DryRunQuota reports what quota enforcement would delete right now
// without deleting anything.
func (e *Engine) DryRunQuota() (files int, bytes int64, err error) {
	if e.store == nil || e.cfg.Disk.QuotaBytes <= 0 {
		return 0, 0, nil
	}
	return e.store.DryRunSizeLimit(e.store.Root(), e.cfg.Disk.QuotaBytes)
}

// FlushCommitted implements modemgr.FlushObserver: it feeds flush
// latency to the stats collector and spools the flushed records into
// the archive.
func (e *Engine) FlushCommitted(key types.SensorKey, kind types.RecordKind, sectors []sensor.FlushSector, took time.Duration) {
	if e.collector != nil {
		e.collector.RecordFlush(took, len(sectors))
	}
	if e.archiver == nil {
		return
	}

	for _, fs := range sectors {
		records := make([]types.Record, 0, fs.RecordCount)
		for i := uint32(0); i < fs.RecordCount; i++ {
			rec, err := sector.DecodeRecord(kind, fs.Payload, i)
			if err != nil {
				log.Warn("archive decode failed", "sensor", key.String(), "seq", fs.Seq, "error", err)
				break
			}
			records = append(records, rec)
		}
		if err := e.archiver.Append(key, kind, fs.FirstID, records); err != nil {
			log.Warn("archive append failed", "sensor", key.String(), "seq", fs.Seq, "error", err)
		}
	}
}

// EngineStats is a point-in-time view across all components.
type EngineStats struct {
	Running      bool
	UsagePercent int
	Pool         sector.PoolStats
	Sensors      []sensor.Snapshot
	Counters     stats.Counters
	FlushP50Ms   float64
	FlushP95Ms   float64
	FlushP99Ms   float64
	DiskUsage    int64
}

// Stats assembles the engine-wide statistics snapshot.
func (e *Engine) Stats() EngineStats {
	out := EngineStats{
		Running:      e.IsRunning(),
		UsagePercent: e.mgr.UsagePercent(),
		Pool:         e.pool.Stats(),
	}
	for _, st := range e.mgr.States() {
		out.Sensors = append(out.Sensors, st.Snapshot())
	}
	if e.collector != nil {
		out.Counters = e.collector.Counters()
		out.FlushP50Ms, out.FlushP95Ms, out.FlushP99Ms = e.collector.FlushLatency()
	}
	if e.store != nil {
		if usage, err := disk.TotalUsage(e.store.Root()); err == nil {
			out.DiskUsage = usage
		}
	}
	return out
}

// Config returns the engine configuration.
func (e *Engine) Config() *config.Config { return e.cfg }
