package sensor

import (
	"time"

	"github.com/xtxerr/telemstore/internal/storage/sector"
	"github.com/xtxerr/telemstore/internal/storage/types"
)

// FlushSector is one sealed sector snapshotted for persistence. The
// payload is a copy; it stays valid after the state lock is released.
type FlushSector struct {
	Seq         uint64
	Kind        types.RecordKind
	RecordCount uint32
	FirstID     uint32
	LastID      uint32
	CreatedMs   int64
	Payload     []byte

	handle sector.Handle
}

// SealIdle seals the open tail sector if it holds records and has not
// been appended to within idleFor. Returns true if a sector was sealed.
// Sealing caps a trickle-rate stream's exposure window without forcing
// a disk write.
func (s *State) SealIdle(idleFor time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.chain)
	if n == 0 {
		return false
	}
	sec, err := s.pool.Get(s.chain[n-1])
	if err != nil || sec.Sealed() || sec.Empty() {
		return false
	}
	cutoff := time.Now().Add(-idleFor).UnixMilli()
	if sec.LastAppendMs() > cutoff {
		return false
	}
	sec.Seal()
	return true
}

// PrepareFlush seals every RAM sector (including a non-empty open tail)
// and returns copies of their payloads for persistence, assigning each
// a disk sequence number. It marks the state flushing and enters
// DiskActive; record operations continue concurrently, with head-sector
// frees deferred until the flush resolves.
//
// Returns nil when there is nothing to flush or a flush is already in
// progress.
func (s *State) PrepareFlush() []FlushSector {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.flushing || len(s.chain) == 0 {
		return nil
	}

	var set []FlushSector
	seq := s.diskNextSeq
	for _, h := range s.chain {
		sec, err := s.pool.Get(h)
		if err != nil {
			break
		}
		if sec.Empty() {
			break
		}
		sec.Seal()

		payload := make([]byte, len(sec.Payload()))
		copy(payload, sec.Payload())
		set = append(set, FlushSector{
			Seq:         seq,
			Kind:        sec.Kind(),
			RecordCount: sec.RecordCount(),
			FirstID:     sec.FirstID(),
			LastID:      sec.LastID(),
			CreatedMs:   sec.CreatedMs(),
			Payload:     payload,
			handle:      h,
		})
		seq++
	}
	if len(set) == 0 {
		return nil
	}

	s.flushing = true
	s.mode = types.ModeDiskActive
	s.updateSumLocked()
	return set
}

// CommitFlush moves the written sectors from the RAM chain to the disk
// chain and returns the state to RAMOnly immediately: disk is a spill
// area under pressure, not the steady-state tier, so writes resume
// filling RAM right away and the next flush batches them again.
//
// Records consumed from the flush set while its sectors were being
// written carry over as the disk head offset. The flushed RAM handles
// are released to the pool before returning; the returned sequence
// numbers are disk sectors that ended up fully consumed and must be
// deleted by the caller.
func (s *State) CommitFlush(written []FlushSector) (deletions []uint64) {
	if len(written) == 0 {
		return nil
	}

	s.mu.Lock()

	var flushed uint32
	for _, w := range written {
		flushed += w.RecordCount
	}

	s.chain = s.chain[len(written):]

	consumedInFlushed := s.chainConsumed
	if consumedInFlushed > flushed {
		consumedInFlushed = flushed
	}
	s.chainConsumed -= consumedInFlushed

	// Consumption is oldest-first, so consumed flush records imply the
	// disk chain was empty; the carry-over becomes the new head offset.
	for _, w := range written {
		s.diskChain = append(s.diskChain, DiskSeg{Seq: w.Seq, Count: w.RecordCount})
	}
	s.diskNextSeq = written[len(written)-1].Seq + 1
	s.diskHeadOffset += consumedInFlushed
	s.diskRecords += flushed - consumedInFlushed

	for len(s.diskChain) > 0 && s.diskHeadOffset >= s.diskChain[0].Count {
		s.diskHeadOffset -= s.diskChain[0].Count
		deletions = append(deletions, s.diskChain[0].Seq)
		s.diskChain = s.diskChain[1:]
	}

	s.flushing = false
	s.mode = types.ModeRAMOnly
	frees := s.normalizeLocked()
	s.cursorDirty = true
	s.updateSumLocked()
	s.mu.Unlock()

	for _, w := range written {
		s.pool.Free(w.handle)
	}
	for _, h := range frees {
		s.pool.Free(h)
	}
	return deletions
}

// AbortFlush abandons a failed flush attempt. The RAM chain is kept
// intact and the state stays DiskActive so the next manager tick
// retries; only frees deferred during the attempt are released.
func (s *State) AbortFlush() {
	s.mu.Lock()
	if !s.flushing {
		s.mu.Unlock()
		return
	}
	s.flushing = false
	frees := s.normalizeLocked()
	s.updateSumLocked()
	s.mu.Unlock()

	for _, h := range frees {
		s.pool.Free(h)
	}
}

// Flushing reports whether a flush is currently in progress.
func (s *State) Flushing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushing
}

// ForceSeal seals the open tail sector if it holds any records,
// regardless of idle time. Used during shutdown so the final flush
// captures everything.
func (s *State) ForceSeal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.chain)
	if n == 0 {
		return false
	}
	sec, err := s.pool.Get(s.chain[n-1])
	if err != nil || sec.Sealed() || sec.Empty() {
		return false
	}
	sec.Seal()
	return true
}

// Cursor assembles the persistable cursor values for this state.
func (s *State) Cursor() (total, consumed uint32, headSeq uint64, headOffset uint32, sectors uint32, nextSeq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	headSeq = s.diskNextSeq
	if len(s.diskChain) > 0 {
		headSeq = s.diskChain[0].Seq
	}
	return s.total, s.consumed, headSeq, s.diskHeadOffset, uint32(len(s.diskChain)), s.diskNextSeq
}
