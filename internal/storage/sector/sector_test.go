package sector

import (
	"testing"

	"github.com/xtxerr/telemstore/internal/errors"
	"github.com/xtxerr/telemstore/internal/storage/types"
)

var testKey = types.SensorKey{ID: 0x42, Source: types.SourceHost}

func TestAppendAndRecordAt(t *testing.T) {
	p := NewPool(4, 64)
	h, err := p.Allocate(testKey, types.KindTSD)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	s, err := p.Get(h)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	for i := uint32(0); i < 8; i++ {
		if err := s.Append(types.Record{Value: 0x1000 + i}, 100+i); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	if s.RecordCount() != 8 {
		t.Errorf("RecordCount = %d, want 8", s.RecordCount())
	}
	if s.FirstID() != 100 || s.LastID() != 107 {
		t.Errorf("id range = [%d, %d], want [100, 107]", s.FirstID(), s.LastID())
	}

	rec, err := s.RecordAt(3)
	if err != nil {
		t.Fatalf("RecordAt(3): %v", err)
	}
	if rec.Value != 0x1003 {
		t.Errorf("record 3 value = %#x, want 0x1003", rec.Value)
	}
	if _, err := s.RecordAt(8); !errors.Is(err, errors.ErrBoundsViolation) {
		t.Errorf("RecordAt past end = %v, want ErrBoundsViolation", err)
	}
}

func TestAppendFullSector(t *testing.T) {
	// 16 bytes holds exactly four 4-byte time-series records.
	p := NewPool(1, 16)
	h, _ := p.Allocate(testKey, types.KindTSD)
	s, _ := p.Get(h)

	for i := uint32(0); i < 4; i++ {
		if err := s.Append(types.Record{Value: i}, i); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	if !s.Full() {
		t.Error("sector should be full after 4 records")
	}
	if err := s.Append(types.Record{Value: 4}, 4); !errors.Is(err, errors.ErrSectorFull) {
		t.Errorf("append to full sector = %v, want ErrSectorFull", err)
	}
}

func TestSealRejectsAppend(t *testing.T) {
	p := NewPool(1, 64)
	h, _ := p.Allocate(testKey, types.KindTSD)
	s, _ := p.Get(h)

	s.Append(types.Record{Value: 1}, 0)
	s.Seal()
	if !s.Sealed() {
		t.Fatal("sector should report sealed")
	}
	if err := s.Append(types.Record{Value: 2}, 1); !errors.Is(err, errors.ErrSectorFull) {
		t.Errorf("append to sealed sector = %v, want ErrSectorFull", err)
	}
}

func TestEventRecordEncoding(t *testing.T) {
	p := NewPool(1, 64)
	h, _ := p.Allocate(testKey, types.KindEvent)
	s, _ := p.Get(h)

	want := types.Record{Value: 0xCAFE, Timestamp: 0x1122334455667788}
	if err := s.Append(want, 0); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := s.RecordAt(0)
	if err != nil {
		t.Fatalf("RecordAt: %v", err)
	}
	if got != want {
		t.Errorf("event record = %+v, want %+v", got, want)
	}
}

func TestPoolExhaustion(t *testing.T) {
	p := NewPool(2, 64)

	h1, err := p.Allocate(testKey, types.KindTSD)
	if err != nil {
		t.Fatalf("Allocate 1: %v", err)
	}
	if _, err := p.Allocate(testKey, types.KindTSD); err != nil {
		t.Fatalf("Allocate 2: %v", err)
	}
	if _, err := p.Allocate(testKey, types.KindTSD); !errors.Is(err, errors.ErrPoolExhausted) {
		t.Fatalf("Allocate on empty pool = %v, want ErrPoolExhausted", err)
	}

	if err := p.Free(h1); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if _, err := p.Allocate(testKey, types.KindTSD); err != nil {
		t.Errorf("Allocate after free: %v", err)
	}

	st := p.Stats()
	if st.FailCount != 1 {
		t.Errorf("FailCount = %d, want 1", st.FailCount)
	}
}

func TestFreeZeroesSector(t *testing.T) {
	p := NewPool(1, 64)
	h, _ := p.Allocate(testKey, types.KindTSD)
	s, _ := p.Get(h)
	s.Append(types.Record{Value: 0xDEADBEEF}, 7)

	if err := p.Free(h); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if _, err := p.Get(h); !errors.Is(err, errors.ErrInvalidHandle) {
		t.Errorf("Get on freed handle = %v, want ErrInvalidHandle", err)
	}

	// The same handle comes back on reallocation; the payload must not
	// leak the previous sensor's data.
	h2, _ := p.Allocate(types.SensorKey{ID: 0x99, Source: types.SourceCAN}, types.KindTSD)
	if h2 != h {
		t.Fatalf("expected handle reuse, got %d and %d", h, h2)
	}
	s2, _ := p.Get(h2)
	if s2.RecordCount() != 0 || s2.Checksum() != 0 {
		t.Errorf("reused sector not reset: count=%d sum=%08x", s2.RecordCount(), s2.Checksum())
	}
	for i, b := range s2.buf {
		if b != 0 {
			t.Fatalf("byte %d of reused payload is %#x, want 0", i, b)
		}
	}
}

func TestFreeInvalidHandles(t *testing.T) {
	p := NewPool(2, 64)
	if err := p.Free(InvalidHandle); !errors.Is(err, errors.ErrInvalidHandle) {
		t.Errorf("Free(InvalidHandle) = %v", err)
	}
	if err := p.Free(Handle(5)); !errors.Is(err, errors.ErrInvalidHandle) {
		t.Errorf("Free out of range = %v", err)
	}
	if err := p.Free(Handle(0)); !errors.Is(err, errors.ErrInvalidHandle) {
		t.Errorf("Free of unallocated handle = %v", err)
	}
}

func TestValidateIntegrity(t *testing.T) {
	p := NewPool(1, 64)
	h, _ := p.Allocate(testKey, types.KindTSD)
	s, _ := p.Get(h)

	for i := uint32(0); i < 5; i++ {
		s.Append(types.Record{Value: i * 11}, i)
	}
	if !p.ValidateIntegrity(h) {
		t.Error("checksum should validate after appends")
	}

	s.buf[2] ^= 0x01
	if p.ValidateIntegrity(h) {
		t.Error("flipped payload byte must fail integrity validation")
	}
}

func TestUsageRatio(t *testing.T) {
	p := NewPool(10, 64)
	for i := 0; i < 8; i++ {
		if _, err := p.Allocate(testKey, types.KindTSD); err != nil {
			t.Fatalf("Allocate %d: %v", i, err)
		}
	}
	if got := p.UsageRatio(); got != 0.8 {
		t.Errorf("UsageRatio = %v, want 0.8", got)
	}
	if p.InUse() != 8 {
		t.Errorf("InUse = %d, want 8", p.InUse())
	}
}

func TestRecordCountFor(t *testing.T) {
	if got := RecordCountFor(types.KindTSD, 64); got != 16 {
		t.Errorf("KindTSD in 64 bytes = %d, want 16", got)
	}
	if got := RecordCountFor(types.KindEvent, 64); got != 5 {
		t.Errorf("KindEvent in 64 bytes = %d, want 5", got)
	}
}
