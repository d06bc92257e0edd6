// Package sensor implements the Unified Sensor State: the per-sensor,
// per-source ring-buffer descriptor and its record operations.
//
// The state tracks two saturating 32-bit counters, total and consumed,
// with the invariants
//
//	consumed ≤ total
//	available == total − consumed
//
// enforced after every mutation. Any operation that would violate them
// fails with an error rather than silently clamping. The state also
// carries its own checksum so corruption of the descriptor is detected
// independently of sector integrity.
//
// Locking: each State has its own mutex, held for the duration of a
// mutation only. No disk I/O is performed while holding it; the flush
// path snapshots sealed sector payloads under the lock and writes them
// outside it, and erase collects file deletions to apply after unlock.
package sensor

import (
	"sync"

	"github.com/xtxerr/telemstore/internal/errors"
	"github.com/xtxerr/telemstore/internal/logging"
	"github.com/xtxerr/telemstore/internal/storage/checksum"
	"github.com/xtxerr/telemstore/internal/storage/sector"
	"github.com/xtxerr/telemstore/internal/storage/types"
)

var log = logging.Component("sensor")

// DiskStore is the disk-tier access the state needs for reads and
// consumption of disk-resident records. *disk.Store satisfies it; tests
// may substitute an in-memory fake.
type DiskStore interface {
	// ReadPayload returns the verified payload and record count of a
	// sector file.
	ReadPayload(key types.SensorKey, seq uint64) ([]byte, uint32, error)

	// Delete removes a sector file.
	Delete(key types.SensorKey, seq uint64) error
}

// DiskSeg describes one disk-resident sector: its file sequence number
// and record count.
type DiskSeg struct {
	Seq   uint64
	Count uint32
}

// State is the Unified Sensor State for one sensor stream.
type State struct {
	mu sync.Mutex

	key  types.SensorKey
	kind types.RecordKind
	pool *sector.Pool
	disk DiskStore

	// Counters. total is monotonic and saturating; consumed only ever
	// advances from the head of the stream. The read position equals
	// consumed.
	total    uint32
	consumed uint32

	// RAM chain, oldest to newest. Only the last sector may be open.
	// chainConsumed counts consumed records still inside the chain;
	// normally it stays within the head sector, but it may span sealed
	// sectors while a flush is in progress (frees are deferred until
	// commit so the flush set stays intact).
	chain         []sector.Handle
	chainConsumed uint32

	mode types.Mode

	// Disk tier, oldest to newest. diskHeadOffset counts consumed
	// records within diskChain[0]; diskRecords is the unconsumed total
	// across the chain.
	diskChain      []DiskSeg
	diskHeadOffset uint32
	diskRecords    uint32
	diskNextSeq    uint64

	flushing    bool
	cursorDirty bool

	sum uint32
}

// New initializes a sensor state: zeroed counters, mode RAMOnly, no
// sectors allocated yet. disk may be nil for RAM-only deployments.
func New(key types.SensorKey, kind types.RecordKind, pool *sector.Pool, disk DiskStore) (*State, error) {
	if pool == nil {
		return nil, errors.Wrap(errors.ErrInvalidParameter, "nil sector pool")
	}

	s := &State{
		key:  key,
		kind: kind,
		pool: pool,
		disk: disk,
		mode: types.ModeRAMOnly,
	}
	s.updateSumLocked()
	return s, nil
}

// Key returns the sensor key.
func (s *State) Key() types.SensorKey { return s.key }

// Kind returns the record kind of this stream.
func (s *State) Kind() types.RecordKind { return s.kind }

// Mode returns the current operating mode.
func (s *State) Mode() types.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Total returns the monotonic count of records ever written.
func (s *State) Total() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Consumed returns the count of records permanently erased.
func (s *State) Consumed() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consumed
}

// Available returns total − consumed.
func (s *State) Available() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total - s.consumed
}

// SectorCount returns the number of RAM sectors currently in the chain.
func (s *State) SectorCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chain)
}

// DiskFilesExist reports whether any disk sectors exist for this sensor.
func (s *State) DiskFilesExist() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.diskChain) > 0
}

// DiskSectorCount returns the number of disk-resident sectors.
func (s *State) DiskSectorCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.diskChain)
}

// Validate recomputes the state checksum and re-checks the counter
// invariant. Used defensively after mutations and offensively by the
// recovery scan to reject corrupt candidates.
func (s *State) Validate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validateLocked()
}

func (s *State) validateLocked() bool {
	if s.consumed > s.total {
		return false
	}
	if s.mode == types.ModeUninitialized {
		return false
	}
	return s.sum == s.computeSumLocked()
}

// computeSumLocked derives the integrity code over the descriptor
// fields. The RAM chain contributes only its shape (length and consumed
// offset); sector payload integrity is the pool's concern.
func (s *State) computeSumLocked() uint32 {
	headSeq := s.diskNextSeq
	if len(s.diskChain) > 0 {
		headSeq = s.diskChain[0].Seq
	}

	var flags uint64
	if s.flushing {
		flags |= 1
	}

	return checksum.Fields(
		uint64(s.key.ID),
		uint64(s.key.Source),
		uint64(s.kind),
		uint64(s.total),
		uint64(s.consumed),
		uint64(len(s.chain)),
		uint64(s.chainConsumed),
		uint64(s.mode),
		uint64(len(s.diskChain)),
		uint64(s.diskRecords),
		headSeq,
		uint64(s.diskHeadOffset),
		s.diskNextSeq,
		flags,
	)
}

func (s *State) updateSumLocked() {
	s.sum = s.computeSumLocked()
}

// SwitchToDisk sets the mode to DiskActive. Valid from any mode.
func (s *State) SwitchToDisk() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = types.ModeDiskActive
	s.updateSumLocked()
}

// SwitchToRAM sets the mode back to RAMOnly. It fails with ErrNotEmpty
// while RAM sectors remain: a state with RAM data pending cannot claim
// to be back in RAM-only operation.
func (s *State) SwitchToRAM() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.chain) > 0 {
		return errors.ErrNotEmpty
	}
	s.mode = types.ModeRAMOnly
	s.updateSumLocked()
	return nil
}

// BeginRecovery transitions the state to Recovering. Only valid before
// any write was admitted.
func (s *State) BeginRecovery() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.total != 0 || len(s.chain) != 0 {
		return errors.Wrap(errors.ErrInvalidTransition, "recovery after writes were admitted")
	}
	s.mode = types.ModeRecovering
	s.updateSumLocked()
	return nil
}

// CompleteRecovery installs counters and disk-side cursors rebuilt by
// the recovery subsystem, then exits Recovering: to DiskActive if disk
// data remains, else to RAMOnly.
func (s *State) CompleteRecovery(total, consumed uint32, segs []DiskSeg, headOffset uint32, nextSeq uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode != types.ModeRecovering {
		return errors.Wrap(errors.ErrInvalidTransition, "not recovering")
	}
	if consumed > total {
		return errors.Wrap(errors.ErrCorruptionDetected, "recovered consumed exceeds total")
	}

	var diskRecords uint32
	for _, seg := range segs {
		diskRecords += seg.Count
	}
	if headOffset > 0 {
		if len(segs) == 0 || headOffset >= segs[0].Count {
			return errors.Wrap(errors.ErrCorruptionDetected, "recovered head offset out of range")
		}
		diskRecords -= headOffset
	}
	if diskRecords > total-consumed {
		return errors.Wrap(errors.ErrCorruptionDetected, "recovered disk records exceed available")
	}

	s.total = total
	s.consumed = consumed
	s.diskChain = append([]DiskSeg(nil), segs...)
	s.diskHeadOffset = headOffset
	s.diskRecords = diskRecords
	s.diskNextSeq = nextSeq

	if diskRecords > 0 {
		s.mode = types.ModeDiskActive
	} else {
		s.mode = types.ModeRAMOnly
	}
	s.cursorDirty = true
	s.updateSumLocked()
	return nil
}

// Snapshot is a point-in-time copy of the state's counters and cursors.
type Snapshot struct {
	Key         types.SensorKey
	Kind        types.RecordKind
	Mode        types.Mode
	Total       uint32
	Consumed    uint32
	Available   uint32
	RAMSectors  int
	DiskSectors int
	DiskRecords uint32
	HeadSeq     uint64
	HeadOffset  uint32
	NextSeq     uint64
}

// Snapshot returns a consistent copy of the state's observable fields.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	headSeq := s.diskNextSeq
	if len(s.diskChain) > 0 {
		headSeq = s.diskChain[0].Seq
	}

	return Snapshot{
		Key:         s.key,
		Kind:        s.kind,
		Mode:        s.mode,
		Total:       s.total,
		Consumed:    s.consumed,
		Available:   s.total - s.consumed,
		RAMSectors:  len(s.chain),
		DiskSectors: len(s.diskChain),
		DiskRecords: s.diskRecords,
		HeadSeq:     headSeq,
		HeadOffset:  s.diskHeadOffset,
		NextSeq:     s.diskNextSeq,
	}
}

// CursorDirty reports whether the persisted cursor file is stale.
func (s *State) CursorDirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursorDirty
}

// ClearCursorDirty marks the cursor as persisted.
func (s *State) ClearCursorDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursorDirty = false
}

// normalizeLocked frees fully consumed head sectors back to the pool.
// A head sector is freeable once every record in it is consumed and it
// can no longer accept appends, whether sealed or simply full: a full
// tail sector is never sealed on the RAM-only tier, and it must still
// be freed whole or it leaks until the pool is exhausted. Deferred
// while a flush is in progress so the flush set stays intact;
// CommitFlush and AbortFlush re-run it.
//
// Returns the handles to free; the caller releases them to the pool
// after dropping the state lock.
func (s *State) normalizeLocked() []sector.Handle {
	if s.flushing {
		return nil
	}

	var frees []sector.Handle
	for len(s.chain) > 0 {
		sec, err := s.pool.Get(s.chain[0])
		if err != nil {
			break
		}
		if !sec.Sealed() && !sec.Full() {
			break
		}
		if s.chainConsumed < sec.RecordCount() {
			break
		}
		s.chainConsumed -= sec.RecordCount()
		frees = append(frees, s.chain[0])
		s.chain = s.chain[1:]
	}
	return frees
}
