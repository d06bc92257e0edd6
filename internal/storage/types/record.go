package types

import "math"

// RecordKind indicates the wire width of a sensor's records.
type RecordKind uint8

const (
	// KindTSD is a time-series record: a single unsigned 32-bit value.
	KindTSD RecordKind = iota
	// KindEvent is an event record: a 32-bit value plus a raw 64-bit
	// timestamp. The timestamp domain (wall-clock vs monotonic) is not
	// tagged; consumers infer it from value range or policy.
	KindEvent
)

// String returns a human-readable representation of the kind.
func (k RecordKind) String() string {
	switch k {
	case KindTSD:
		return "tsd"
	case KindEvent:
		return "event"
	default:
		return "unknown"
	}
}

// Size returns the packed byte width of one record of this kind.
func (k RecordKind) Size() int {
	if k == KindEvent {
		return EventRecordSize
	}
	return TSDRecordSize
}

const (
	// TSDRecordSize is the packed width of a time-series record.
	TSDRecordSize = 4
	// EventRecordSize is the packed width of an event record.
	EventRecordSize = 12
)

// MaxRecordID is the saturation point of the per-sensor record counters.
// A write at this count must fail cleanly rather than wrap.
const MaxRecordID = math.MaxUint32

// Record is one stored sample. Records are immutable once written; they
// are only ever consumed from the head of the stream.
//
// For KindTSD records the Timestamp field is zero and not persisted.
type Record struct {
	// Value is the sample payload.
	Value uint32

	// Timestamp is the raw 64-bit event timestamp. It is stored and
	// returned verbatim, never interpreted.
	Timestamp uint64
}
