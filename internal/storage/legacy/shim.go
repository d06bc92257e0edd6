// Package legacy adapts the pre-redesign call surface onto the
// invariant-checked sensor state model.
//
// Old callers address a stream by (block, sensor id, entry index) and
// observe two counters: sample_count, the records currently held, and
// pending_count, the running total of records erased. The shim
// preserves that exact arithmetic — a write increments sample_count, an
// erase of n decrements sample_count and increments pending_count by
// n — while every operation internally runs through the checked state,
// so the impossible legacy corruption (samples gone but pending stuck)
// cannot be reproduced through this surface.
//
// Results are reported as numeric codes, matching the old convention.
package legacy

import (
	"sync"

	"github.com/xtxerr/telemstore/internal/errors"
	"github.com/xtxerr/telemstore/internal/logging"
	"github.com/xtxerr/telemstore/internal/storage/sector"
	"github.com/xtxerr/telemstore/internal/storage/sensor"
	"github.com/xtxerr/telemstore/internal/storage/types"
)

var log = logging.Component("legacy")

// Block selects the originating subsystem in the old addressing scheme.
// Blocks map one-to-one onto source-type directories.
const (
	BlockHost = 0
	BlockApp  = 1
	BlockCAN  = 2
)

// Triple is the legacy stream address.
type Triple struct {
	Block      uint8
	SensorID   uint16
	EntryIndex uint16
}

// sensorKey folds the triple into the new keying scheme: the block
// picks the source directory, sensor id and entry index pack into the
// 32-bit sensor id.
func (t Triple) sensorKey() (types.SensorKey, error) {
	var src types.SourceType
	switch t.Block {
	case BlockHost:
		src = types.SourceHost
	case BlockApp:
		src = types.SourceApp
	case BlockCAN:
		src = types.SourceCAN
	default:
		return types.SensorKey{}, errors.Wrapf(errors.ErrInvalidParameter, "unknown block %d", t.Block)
	}
	return types.SensorKey{
		ID:     uint32(t.SensorID)<<16 | uint32(t.EntryIndex),
		Source: src,
	}, nil
}

// Registry is where the shim creates and finds sensor states. The mode
// manager satisfies it, so shim-created streams participate in flush
// sweeps like native ones.
type Registry interface {
	Register(st *sensor.State) error
	Lookup(key types.SensorKey) (*sensor.State, bool)
}

// Shim is the legacy surface over a pool, disk store and registry.
// Streams are created lazily on first write, matching the old
// behavior where any triple was immediately writable.
type Shim struct {
	pool *sector.Pool
	disk sensor.DiskStore
	reg  Registry

	mu      sync.Mutex
	isEvent map[Triple]bool
}

// New creates the shim. disk may be nil on RAM-only tiers.
func New(pool *sector.Pool, disk sensor.DiskStore, reg Registry) *Shim {
	return &Shim{
		pool:    pool,
		disk:    disk,
		reg:     reg,
		isEvent: make(map[Triple]bool),
	}
}

func (s *Shim) state(t Triple, kind types.RecordKind, create bool) (*sensor.State, int32) {
	key, err := t.sensorKey()
	if err != nil {
		return nil, errors.ErrorToCode(err)
	}

	if st, ok := s.reg.Lookup(key); ok {
		return st, errors.CodeSuccess
	}
	if !create {
		return nil, errors.ErrorToCode(errors.ErrSensorNotFound)
	}

	st, err := sensor.New(key, kind, s.pool, s.disk)
	if err != nil {
		return nil, errors.ErrorToCode(err)
	}
	if err := s.reg.Register(st); err != nil {
		// Lost a create race; the registered one wins.
		if errors.Is(err, errors.ErrAlreadyRegistered) {
			if existing, ok := s.reg.Lookup(key); ok {
				return existing, errors.CodeSuccess
			}
		}
		return nil, errors.ErrorToCode(err)
	}

	s.mu.Lock()
	s.isEvent[t] = kind == types.KindEvent
	s.mu.Unlock()

	log.Debug("legacy stream created", "sensor", key.String())
	return st, errors.CodeSuccess
}

// WriteTSD appends one time-series value. sample_count increments on
// success.
func (s *Shim) WriteTSD(t Triple, value uint32) int32 {
	st, code := s.state(t, types.KindTSD, true)
	if code != errors.CodeSuccess {
		return code
	}
	return errors.ErrorToCode(st.Write(types.Record{Value: value}))
}

// WriteEvent appends one event record. The timestamp is stored raw;
// wall-clock versus monotonic is the caller's convention.
func (s *Shim) WriteEvent(t Triple, value uint32, timestamp uint64) int32 {
	st, code := s.state(t, types.KindEvent, true)
	if code != errors.CodeSuccess {
		return code
	}
	return errors.ErrorToCode(st.Write(types.Record{Value: value, Timestamp: timestamp}))
}

// Read returns the oldest unerased record without consuming it.
func (s *Shim) Read(t Triple) (types.Record, int32) {
	st, code := s.state(t, types.KindTSD, false)
	if code != errors.CodeSuccess {
		return types.Record{}, code
	}
	rec, err := st.ReadNext()
	return rec, errors.ErrorToCode(err)
}

// Erase consumes the n oldest records: sample_count drops by n,
// pending_count rises by n. Over-erase is rejected with a bounds code,
// never clamped.
func (s *Shim) Erase(t Triple, n uint32) int32 {
	st, code := s.state(t, types.KindTSD, false)
	if code != errors.CodeSuccess {
		return code
	}
	return errors.ErrorToCode(st.Erase(n))
}

// SampleCount returns the legacy sample counter: records written and
// not yet erased.
func (s *Shim) SampleCount(t Triple) uint32 {
	st, code := s.state(t, types.KindTSD, false)
	if code != errors.CodeSuccess {
		return 0
	}
	return st.Available()
}

// PendingCount returns the legacy pending counter: the running total of
// erased records.
func (s *Shim) PendingCount(t Triple) uint32 {
	st, code := s.state(t, types.KindTSD, false)
	if code != errors.CodeSuccess {
		return 0
	}
	return st.Consumed()
}

// Validate runs the state integrity check for a triple. Unknown triples
// report false.
func (s *Shim) Validate(t Triple) bool {
	st, code := s.state(t, types.KindTSD, false)
	if code != errors.CodeSuccess {
		return false
	}
	return st.Validate()
}
