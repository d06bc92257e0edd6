package sector

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/telemstore/internal/errors"
	"github.com/xtxerr/telemstore/internal/storage/checksum"
	"github.com/xtxerr/telemstore/internal/storage/types"
)

// Pool manages a fixed set of equally-sized RAM sectors addressed by
// stable handles. The pool is the only resource shared across all
// sensors; one pool-wide lock guards allocate and free.
//
// Exhaustion policy is the caller's responsibility: the pool itself
// simply reports ErrPoolExhausted.
type Pool struct {
	mu      sync.Mutex
	sectors []Sector
	free    []Handle

	sectorSize int

	// Statistics
	allocCount atomic.Int64
	freeCount  atomic.Int64
	failCount  atomic.Int64
}

// NewPool creates a pool of count sectors of sectorSize payload bytes.
// Capacity is fixed for the pool's lifetime.
func NewPool(count, sectorSize int) *Pool {
	if count <= 0 {
		count = 1
	}
	if sectorSize < types.EventRecordSize {
		sectorSize = types.EventRecordSize
	}

	p := &Pool{
		sectors:    make([]Sector, count),
		free:       make([]Handle, 0, count),
		sectorSize: sectorSize,
	}

	// Populate in reverse so low handles allocate first.
	for i := count - 1; i >= 0; i-- {
		p.sectors[i].buf = make([]byte, sectorSize)
		p.free = append(p.free, Handle(i))
	}

	return p
}

// Allocate hands out an empty sector stamped for the given sensor and
// record kind. Returns ErrPoolExhausted when no sector is free.
func (p *Pool) Allocate(key types.SensorKey, kind types.RecordKind) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) == 0 {
		p.failCount.Add(1)
		return InvalidHandle, errors.ErrPoolExhausted
	}

	h := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]

	s := &p.sectors[h]
	now := time.Now().UnixMilli()
	s.key = key
	s.kind = kind
	s.createdMs = now
	s.lastAppendMs = now
	s.inUse = true

	p.allocCount.Add(1)
	return h, nil
}

// Free returns a sector to the pool, zeroing its header and payload so
// stale reads are detectable. Returns ErrInvalidHandle for handles out
// of range or not currently allocated.
func (p *Pool) Free(h Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if int(h) < 0 || int(h) >= len(p.sectors) {
		return errors.ErrInvalidHandle
	}

	s := &p.sectors[h]
	if !s.inUse {
		return errors.ErrInvalidHandle
	}

	s.reset()
	p.free = append(p.free, h)
	p.freeCount.Add(1)
	return nil
}

// Get returns the sector for a handle. The returned pointer is valid
// until the handle is freed.
func (p *Pool) Get(h Handle) (*Sector, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if int(h) < 0 || int(h) >= len(p.sectors) {
		return nil, errors.ErrInvalidHandle
	}

	s := &p.sectors[h]
	if !s.inUse {
		return nil, errors.ErrInvalidHandle
	}
	return s, nil
}

// ValidateIntegrity recomputes the payload checksum of an allocated
// sector and compares it to the incrementally maintained one.
func (p *Pool) ValidateIntegrity(h Handle) bool {
	s, err := p.Get(h)
	if err != nil {
		return false
	}
	return checksum.Verify(s.Payload(), s.Checksum())
}

// Capacity returns the fixed number of sectors in the pool.
func (p *Pool) Capacity() int {
	return len(p.sectors)
}

// SectorSize returns the payload capacity of each sector.
func (p *Pool) SectorSize() int {
	return p.sectorSize
}

// InUse returns the number of currently allocated sectors.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sectors) - len(p.free)
}

// UsageRatio returns pool occupancy as a ratio (0.0 - 1.0).
func (p *Pool) UsageRatio() float64 {
	return float64(p.InUse()) / float64(len(p.sectors))
}

// Stats returns pool statistics.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Capacity:   len(p.sectors),
		InUse:      p.InUse(),
		SectorSize: p.sectorSize,
		AllocCount: p.allocCount.Load(),
		FreeCount:  p.freeCount.Load(),
		FailCount:  p.failCount.Load(),
	}
}

// PoolStats holds pool statistics.
type PoolStats struct {
	Capacity   int
	InUse      int
	SectorSize int
	AllocCount int64
	FreeCount  int64
	FailCount  int64
}
