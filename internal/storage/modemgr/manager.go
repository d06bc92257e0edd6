// Package modemgr runs the RAM/disk tiering policy: it watches pool
// occupancy, triggers flushes at the high-water mark, seals idle
// sectors, persists cursors, and enforces the disk quota.
//
// Flush policy: disk is a spill area, not a steady-state tier. When RAM
// occupancy crosses the high-water mark every sensor's sealed sectors
// are flushed in one sweep (concurrently across sensors, oldest-first
// within each) and each sensor returns to RAM-only operation the moment
// its flush commits. Batching whole sweeps this way keeps flash write
// amplification down on eMMC parts.
package modemgr

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/telemstore/internal/errors"
	"github.com/xtxerr/telemstore/internal/logging"
	"github.com/xtxerr/telemstore/internal/storage/disk"
	"github.com/xtxerr/telemstore/internal/storage/sector"
	"github.com/xtxerr/telemstore/internal/storage/sensor"
	"github.com/xtxerr/telemstore/internal/storage/types"
)

var log = logging.Component("modemgr")

// Config carries the tiering policy knobs.
type Config struct {
	// HighWaterPercent is the pool occupancy that triggers a flush sweep.
	HighWaterPercent int

	// TickInterval is the policy evaluation period.
	TickInterval time.Duration

	// ForceSealAfter seals an open sector that has not been appended to
	// for this long. Zero disables idle sealing.
	ForceSealAfter time.Duration

	// SectorsPerSensor is the per-sensor RAM sector ceiling. Occupancy is
	// measured against the aggregate ceiling of registered sensors,
	// capped at pool capacity. Zero measures against pool capacity alone.
	SectorsPerSensor int

	// ShutdownFlushBudget bounds the final flush during Shutdown.
	ShutdownFlushBudget time.Duration

	// DiskQuotaBytes caps total disk usage under the store root. Zero
	// disables quota enforcement.
	DiskQuotaBytes int64
}

// FlushObserver is notified after a sensor's flush commits. The sector
// payloads passed are the flushed copies and remain valid after the
// call.
type FlushObserver interface {
	FlushCommitted(key types.SensorKey, kind types.RecordKind, sectors []sensor.FlushSector, took time.Duration)
}

// Manager owns the registered sensor states and drives mode
// transitions. A nil disk store (micro tier) disables flushing
// entirely; pool exhaustion then surfaces to writers.
type Manager struct {
	cfg   Config
	pool  *sector.Pool
	store *disk.Store

	obsMu    sync.RWMutex
	observer FlushObserver

	mu     sync.Mutex
	states map[types.SensorKey]*sensor.State
	order  []types.SensorKey

	flushReq chan struct{}

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a manager over the given pool and disk store. store may
// be nil for RAM-only tiers.
func New(cfg Config, pool *sector.Pool, store *disk.Store) *Manager {
	return &Manager{
		cfg:      cfg,
		pool:     pool,
		store:    store,
		states:   make(map[types.SensorKey]*sensor.State),
		flushReq: make(chan struct{}, 1),
	}
}

// SetObserver installs the flush observer. Pass nil to remove.
func (m *Manager) SetObserver(obs FlushObserver) {
	m.obsMu.Lock()
	m.observer = obs
	m.obsMu.Unlock()
}

// Register adds a sensor state to the manager's sweep set.
func (m *Manager) Register(st *sensor.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := st.Key()
	if _, ok := m.states[key]; ok {
		return errors.Wrapf(errors.ErrAlreadyRegistered, "sensor %s", key)
	}
	m.states[key] = st
	m.order = append(m.order, key)
	return nil
}

// Lookup returns the state for a sensor key.
func (m *Manager) Lookup(key types.SensorKey) (*sensor.State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[key]
	return st, ok
}

// States returns the registered states in registration order.
func (m *Manager) States() []*sensor.State {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*sensor.State, 0, len(m.order))
	for _, key := range m.order {
		out = append(out, m.states[key])
	}
	return out
}

// UsagePercent returns RAM occupancy as a percentage. The denominator
// is the aggregate per-sensor ceiling (registered sensors times
// SectorsPerSensor) capped at pool capacity, so a small fleet crosses
// the high-water mark before it can monopolize a large pool.
func (m *Manager) UsagePercent() int {
	capacity := m.pool.Capacity()
	if m.cfg.SectorsPerSensor > 0 {
		m.mu.Lock()
		n := len(m.states)
		m.mu.Unlock()
		if n > 0 {
			if ceil := n * m.cfg.SectorsPerSensor; ceil < capacity {
				capacity = ceil
			}
		}
	}
	if capacity <= 0 {
		return 0
	}
	pct := m.pool.InUse() * 100 / capacity
	if pct > 100 {
		pct = 100
	}
	return pct
}

// ShouldFlush reports whether occupancy has crossed the high-water mark
// and a disk tier exists to flush to.
func (m *Manager) ShouldFlush() bool {
	return m.store != nil && m.UsagePercent() >= m.cfg.HighWaterPercent
}

// RequestFlush asks the run loop to evaluate a flush outside the normal
// tick. Non-blocking; coalesces with a pending request.
func (m *Manager) RequestFlush() {
	select {
	case m.flushReq <- struct{}{}:
	default:
	}
}

// FlushAll sweeps every registered sensor, flushing sealed RAM sectors
// to disk concurrently across sensors. Per-sensor failures abort that
// sensor's flush only; the first error is returned after the sweep
// completes.
func (m *Manager) FlushAll(ctx context.Context) error {
	if m.store == nil {
		return errors.Wrap(errors.ErrInvalidTransition, "no disk tier configured")
	}

	states := m.States()
	g, ctx := errgroup.WithContext(ctx)
	for _, st := range states {
		st := st
		g.Go(func() error {
			return m.FlushState(ctx, st)
		})
	}
	return g.Wait()
}

// FlushState flushes one sensor's sealed RAM sectors to disk and
// persists its cursor. On a write failure the flush is aborted with the
// RAM chain intact; the next sweep retries. The context is checked
// between sector writes so a shutdown budget bounds even a single
// sensor with a long sealed chain on a slow disk; cancellation aborts
// with the same retry semantics as a write failure.
func (m *Manager) FlushState(ctx context.Context, st *sensor.State) error {
	if m.store == nil {
		return errors.Wrap(errors.ErrInvalidTransition, "no disk tier configured")
	}

	set := st.PrepareFlush()
	if len(set) == 0 {
		return nil
	}

	started := time.Now()
	key := st.Key()
	for _, w := range set {
		if err := ctx.Err(); err != nil {
			st.AbortFlush()
			log.Warn("flush aborted by deadline", "sensor", key.String(), "sectors_pending", len(set))
			return err
		}
		hdr := disk.Header{
			Kind:        w.Kind,
			RecordCount: w.RecordCount,
			FirstID:     w.FirstID,
			LastID:      w.LastID,
			CreatedMs:   w.CreatedMs,
		}
		if err := m.store.WriteSector(key, w.Seq, hdr, w.Payload); err != nil {
			st.AbortFlush()
			log.Error("flush aborted", "sensor", key.String(), "seq", w.Seq, "error", err)
			return err
		}
	}

	deletions := st.CommitFlush(set)
	for _, seq := range deletions {
		if err := m.store.Delete(key, seq); err != nil {
			log.Warn("post-flush deletion deferred", "sensor", key.String(), "seq", seq, "error", err)
		}
	}

	if err := m.persistCursor(st); err != nil {
		log.Warn("cursor persist failed", "sensor", key.String(), "error", err)
	}

	m.obsMu.RLock()
	obs := m.observer
	m.obsMu.RUnlock()
	if obs != nil {
		obs.FlushCommitted(key, st.Kind(), set, time.Since(started))
	}

	log.Debug("sensor flushed", "sensor", key.String(), "sectors", len(set))
	return nil
}

// persistCursor writes the sensor's cursor file and clears the dirty
// flag. Cursor loss is recoverable (the boot scan rebuilds counters),
// so failures are reported but never escalate.
func (m *Manager) persistCursor(st *sensor.State) error {
	if m.store == nil {
		return nil
	}

	total, consumed, headSeq, headOffset, sectors, nextSeq := st.Cursor()
	err := m.store.WriteCursor(st.Key(), disk.Cursor{
		Total:      total,
		Consumed:   consumed,
		HeadSeq:    headSeq,
		HeadOffset: headOffset,
		Sectors:    sectors,
		NextSeq:    nextSeq,
	})
	if err != nil {
		return err
	}
	st.ClearCursorDirty()
	return nil
}

// PersistDirtyCursors writes cursor files for every state whose
// counters moved since the last persist.
func (m *Manager) PersistDirtyCursors() {
	if m.store == nil {
		return
	}
	for _, st := range m.States() {
		if !st.CursorDirty() {
			continue
		}
		if err := m.persistCursor(st); err != nil {
			log.Warn("cursor persist failed", "sensor", st.Key().String(), "error", err)
		}
	}
}

// EnforceQuota deletes oldest sector files until total disk usage fits
// the quota. Evicted records are lost; the consumer observes a missing
// sector and resynchronizes. Last-resort policy for a consumer that
// stopped draining.
func (m *Manager) EnforceQuota() {
	if m.store == nil || m.cfg.DiskQuotaBytes <= 0 {
		return
	}
	evicted, freed, err := m.store.EnforceSizeLimit(m.store.Root(), m.cfg.DiskQuotaBytes)
	if err != nil {
		log.Warn("quota enforcement failed", "error", err)
		return
	}
	if evicted > 0 {
		log.Warn("quota exceeded, evicted oldest sectors",
			"evicted", evicted, "freed_bytes", freed, "quota_bytes", m.cfg.DiskQuotaBytes)
	}
}

// Start launches the policy loop. Returns ErrAlreadyRunning if started
// twice without Stop.
func (m *Manager) Start(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.cancel != nil {
		return errors.ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(ctx)
	return nil
}

// Stop halts the policy loop without a final flush. Use Shutdown for an
// orderly stop.
func (m *Manager) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
	m.done = nil
}

// Shutdown seals every open sector, performs a final bounded flush, and
// persists all cursors. The flush budget caps how long a slow disk can
// hold up process exit; whatever does not make it out in time is
// recovered from RAM loss semantics at next boot.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.Stop()

	for _, st := range m.States() {
		st.ForceSeal()
	}

	var flushErr error
	if m.store != nil {
		fctx := ctx
		if m.cfg.ShutdownFlushBudget > 0 {
			var cancel context.CancelFunc
			fctx, cancel = context.WithTimeout(ctx, m.cfg.ShutdownFlushBudget)
			defer cancel()
		}
		flushErr = m.FlushAll(fctx)
		if flushErr != nil {
			log.Error("shutdown flush incomplete", "error", flushErr)
		}
	}

	m.PersistDirtyCursors()
	return flushErr
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		case <-m.flushReq:
			m.flush(ctx)
		}
	}
}

func (m *Manager) tick(ctx context.Context) {
	if m.cfg.ForceSealAfter > 0 {
		for _, st := range m.States() {
			st.SealIdle(m.cfg.ForceSealAfter)
		}
	}

	if m.ShouldFlush() {
		m.flush(ctx)
	}

	m.PersistDirtyCursors()
}

func (m *Manager) flush(ctx context.Context) {
	if m.store == nil {
		return
	}
	if err := m.FlushAll(ctx); err != nil {
		log.Warn("flush sweep incomplete", "error", err)
	}
	m.EnforceQuota()
}
