package sensor

import (
	"math"

	"github.com/xtxerr/telemstore/internal/errors"
	"github.com/xtxerr/telemstore/internal/storage/sector"
	"github.com/xtxerr/telemstore/internal/storage/types"
)

// Write appends one record to the stream. The record's logical ID is the
// total counter at the time of the append. On any failure the counters
// and chain are left exactly as they were.
//
// Possible failures: ErrCounterSaturated once total reaches the 32-bit
// ceiling, ErrPoolExhausted when no RAM sector can be allocated, and
// mode errors while uninitialized or recovering.
func (s *State) Write(rec types.Record) error {
	if s == nil {
		return errors.ErrNilState
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writableLocked(); err != nil {
		return err
	}
	if s.total == math.MaxUint32 {
		return errors.Wrapf(errors.ErrCounterSaturated, "sensor %s", s.key)
	}

	sec, err := s.openSectorLocked()
	if err != nil {
		return err
	}
	if err := sec.Append(rec, s.total); err != nil {
		return err
	}

	s.total++
	s.updateSumLocked()
	return nil
}

func (s *State) writableLocked() error {
	switch s.mode {
	case types.ModeUninitialized:
		return errors.ErrUninitialized
	case types.ModeRecovering:
		return errors.ErrRecovering
	}
	return nil
}

// openSectorLocked returns the current open sector, allocating a fresh
// one when the chain is empty or its tail is sealed or full.
func (s *State) openSectorLocked() (*sector.Sector, error) {
	if n := len(s.chain); n > 0 {
		sec, err := s.pool.Get(s.chain[n-1])
		if err != nil {
			return nil, err
		}
		if !sec.Sealed() && !sec.Full() {
			return sec, nil
		}
	}

	h, err := s.pool.Allocate(s.key, s.kind)
	if err != nil {
		return nil, err
	}
	sec, err := s.pool.Get(h)
	if err != nil {
		s.pool.Free(h)
		return nil, err
	}
	s.chain = append(s.chain, h)
	return sec, nil
}

// ReadNext returns the oldest unconsumed record without consuming it.
// Repeated calls return the same record until Erase advances the read
// position. Returns ErrNoRecords when available is zero.
//
// Disk-resident records are read outside the state lock; RAM reads are
// pure memory access and stay under it.
func (s *State) ReadNext() (types.Record, error) {
	if s == nil {
		return types.Record{}, errors.ErrNilState
	}

	s.mu.Lock()

	if err := s.writableLocked(); err != nil {
		s.mu.Unlock()
		return types.Record{}, err
	}
	if s.total == s.consumed {
		s.mu.Unlock()
		return types.Record{}, errors.ErrNoRecords
	}

	// Oldest data lives on disk whenever any disk records remain.
	if s.diskRecords > 0 {
		key, kind := s.key, s.kind
		seq := s.diskChain[0].Seq
		off := s.diskHeadOffset
		store := s.disk
		s.mu.Unlock()

		if store == nil {
			return types.Record{}, errors.Wrap(errors.ErrCorruptionDetected, "disk records without a disk store")
		}
		payload, count, err := store.ReadPayload(key, seq)
		if err != nil {
			return types.Record{}, err
		}
		if off >= count {
			return types.Record{}, errors.Wrapf(errors.ErrCorruptionDetected,
				"head offset %d beyond sector count %d", off, count)
		}
		return sector.DecodeRecord(kind, payload, off)
	}

	defer s.mu.Unlock()

	// RAM path: walk the chain to the sector holding the read position.
	idx := s.chainConsumed
	for _, h := range s.chain {
		sec, err := s.pool.Get(h)
		if err != nil {
			return types.Record{}, err
		}
		if idx < sec.RecordCount() {
			return sec.RecordAt(idx)
		}
		idx -= sec.RecordCount()
	}
	return types.Record{}, errors.Wrap(errors.ErrCorruptionDetected, "counters report available records but chain holds none")
}

// Erase permanently consumes the n oldest records. If n exceeds the
// available count the call fails with ErrBoundsViolation and the state
// is unchanged; partial erase is never performed.
//
// Consumption is strictly oldest-first: the disk tier drains before the
// RAM chain. Fully consumed disk sectors are deleted after the lock is
// dropped; a failed file deletion is not fatal, the counters have
// already advanced and the orphan is reclaimed by quota enforcement.
func (s *State) Erase(n uint32) error {
	if s == nil {
		return errors.ErrNilState
	}
	if n == 0 {
		return nil
	}

	s.mu.Lock()

	if err := s.writableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if n > s.total-s.consumed {
		avail := s.total - s.consumed
		s.mu.Unlock()
		return errors.Wrapf(errors.ErrBoundsViolation, "erase %d of %d available", n, avail)
	}

	remaining := n
	var deletions []uint64

	for remaining > 0 && s.diskRecords > 0 {
		head := s.diskChain[0]
		avail := head.Count - s.diskHeadOffset
		take := avail
		if remaining < take {
			take = remaining
		}
		s.diskHeadOffset += take
		s.diskRecords -= take
		s.consumed += take
		remaining -= take

		if s.diskHeadOffset == head.Count {
			deletions = append(deletions, head.Seq)
			s.diskChain = s.diskChain[1:]
			s.diskHeadOffset = 0
		}
	}

	if remaining > 0 {
		s.chainConsumed += remaining
		s.consumed += remaining
	}

	frees := s.normalizeLocked()
	s.cursorDirty = true
	s.updateSumLocked()
	store := s.disk
	key := s.key
	s.mu.Unlock()

	for _, h := range frees {
		s.pool.Free(h)
	}
	if store != nil {
		for _, seq := range deletions {
			if err := store.Delete(key, seq); err != nil {
				log.Warn("disk sector deletion deferred",
					"sensor", key.String(), "seq", seq, "error", err)
			}
		}
	}
	return nil
}
