// Package sector implements the fixed-size RAM storage unit and the
// pool that owns all of them.
//
// A sector holds a packed sequence of fixed-width records plus a small
// header. Lifecycle: allocated empty → appended-to while open → sealed
// when full or force-sealed on shutdown/timeout → freed whole once every
// record in it has been consumed. Sectors are never partially compacted.
package sector

import (
	"encoding/binary"
	"time"

	"github.com/xtxerr/telemstore/internal/errors"
	"github.com/xtxerr/telemstore/internal/storage/checksum"
	"github.com/xtxerr/telemstore/internal/storage/types"
)

// Handle is a stable, opaque reference to a pooled sector. Handles are
// valid for the process lifetime; a freed handle is eligible for
// immediate reuse.
type Handle int32

// InvalidHandle is the zero-value-adjacent sentinel for "no sector".
const InvalidHandle Handle = -1

// Sector is one fixed-size RAM storage unit.
//
// Sector contents are mutated only by the owning sensor state under that
// state's lock; the pool touches only allocation bookkeeping under its
// own lock. Sealed sectors are immutable until freed.
type Sector struct {
	key  types.SensorKey
	kind types.RecordKind

	buf  []byte
	used int

	count   uint32
	firstID uint32
	lastID  uint32

	createdMs    int64
	lastAppendMs int64

	sealed bool
	inUse  bool

	sum uint32
}

// Key returns the owning sensor key.
func (s *Sector) Key() types.SensorKey { return s.key }

// Kind returns the record kind stored in this sector.
func (s *Sector) Kind() types.RecordKind { return s.kind }

// RecordCount returns the number of records appended so far.
func (s *Sector) RecordCount() uint32 { return s.count }

// FirstID returns the logical id of the first record, valid when
// RecordCount > 0.
func (s *Sector) FirstID() uint32 { return s.firstID }

// LastID returns the logical id of the last record, valid when
// RecordCount > 0.
func (s *Sector) LastID() uint32 { return s.lastID }

// CreatedMs returns the allocation timestamp in Unix milliseconds.
func (s *Sector) CreatedMs() int64 { return s.createdMs }

// LastAppendMs returns the Unix milliseconds of the last append, or the
// allocation time if nothing was appended yet.
func (s *Sector) LastAppendMs() int64 { return s.lastAppendMs }

// Sealed returns true once the sector no longer accepts appends.
func (s *Sector) Sealed() bool { return s.sealed }

// Full returns true if another record of this sector's kind cannot fit.
func (s *Sector) Full() bool {
	return s.used+s.kind.Size() > len(s.buf)
}

// Empty returns true if no records have been appended.
func (s *Sector) Empty() bool { return s.count == 0 }

// Payload returns the packed record bytes written so far. The slice
// aliases the sector buffer; callers must copy before releasing the
// owning state's lock.
func (s *Sector) Payload() []byte { return s.buf[:s.used] }

// Checksum returns the integrity code over the current payload. It is
// maintained incrementally on every append.
func (s *Sector) Checksum() uint32 { return s.sum }

// Append packs one record with the given logical id into the sector.
// Returns ErrSectorFull when the record does not fit and ErrSectorFull
// is also returned for sealed sectors.
func (s *Sector) Append(rec types.Record, id uint32) error {
	if s.sealed || s.Full() {
		return errors.ErrSectorFull
	}

	width := s.kind.Size()
	dst := s.buf[s.used : s.used+width]
	EncodeRecord(s.kind, rec, dst)

	if s.count == 0 {
		s.firstID = id
	}
	s.lastID = id
	s.count++
	s.used += width
	s.lastAppendMs = time.Now().UnixMilli()
	s.sum = checksum.Update(s.sum, dst)

	return nil
}

// RecordAt returns the record at index i within the sector.
func (s *Sector) RecordAt(i uint32) (types.Record, error) {
	if i >= s.count {
		return types.Record{}, errors.ErrBoundsViolation
	}
	return DecodeRecord(s.kind, s.buf[:s.used], i)
}

// Seal marks the sector immutable. Sealing an already-sealed sector is
// a no-op.
func (s *Sector) Seal() { s.sealed = true }

// reset zeroes the header and payload so stale reads of a freed sector
// are detectable.
func (s *Sector) reset() {
	for i := range s.buf[:s.used] {
		s.buf[i] = 0
	}
	s.key = types.SensorKey{}
	s.kind = types.KindTSD
	s.used = 0
	s.count = 0
	s.firstID = 0
	s.lastID = 0
	s.createdMs = 0
	s.lastAppendMs = 0
	s.sealed = false
	s.inUse = false
	s.sum = 0
}

// EncodeRecord packs one record into dst, which must be at least
// kind.Size() bytes. Layout is little-endian: a 4-byte value for
// time-series records, followed by the raw 8-byte timestamp for events.
func EncodeRecord(kind types.RecordKind, rec types.Record, dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:4], rec.Value)
	if kind == types.KindEvent {
		binary.LittleEndian.PutUint64(dst[4:12], rec.Timestamp)
	}
}

// DecodeRecord unpacks record i from a packed payload.
func DecodeRecord(kind types.RecordKind, payload []byte, i uint32) (types.Record, error) {
	width := kind.Size()
	off := int(i) * width
	if off+width > len(payload) {
		return types.Record{}, errors.ErrBoundsViolation
	}

	rec := types.Record{
		Value: binary.LittleEndian.Uint32(payload[off : off+4]),
	}
	if kind == types.KindEvent {
		rec.Timestamp = binary.LittleEndian.Uint64(payload[off+4 : off+12])
	}
	return rec, nil
}

// RecordCountFor returns how many records of the given kind a packed
// payload of n bytes holds.
func RecordCountFor(kind types.RecordKind, n int) uint32 {
	return uint32(n / kind.Size())
}
