package legacy

import (
	"testing"
	"time"

	"github.com/xtxerr/telemstore/internal/errors"
	"github.com/xtxerr/telemstore/internal/storage/modemgr"
	"github.com/xtxerr/telemstore/internal/storage/sector"
)

func testShim(t *testing.T) *Shim {
	t.Helper()
	pool := sector.NewPool(16, 64)
	reg := modemgr.New(modemgr.Config{
		HighWaterPercent: 80,
		TickInterval:     100 * time.Millisecond,
	}, pool, nil)
	return New(pool, nil, reg)
}

func TestShim_CounterArithmetic(t *testing.T) {
	s := testShim(t)
	tr := Triple{Block: BlockCAN, SensorID: 0x12, EntryIndex: 3}

	for i := 0; i < 5; i++ {
		if code := s.WriteTSD(tr, uint32(i)); code != errors.CodeSuccess {
			t.Fatalf("write %d: code %d", i, code)
		}
	}
	if got := s.SampleCount(tr); got != 5 {
		t.Errorf("expected sample_count=5, got %d", got)
	}
	if got := s.PendingCount(tr); got != 0 {
		t.Errorf("expected pending_count=0, got %d", got)
	}

	if code := s.Erase(tr, 2); code != errors.CodeSuccess {
		t.Fatalf("erase: code %d", code)
	}
	if got := s.SampleCount(tr); got != 3 {
		t.Errorf("expected sample_count=3 after erase, got %d", got)
	}
	if got := s.PendingCount(tr); got != 2 {
		t.Errorf("expected pending_count=2 after erase, got %d", got)
	}
}

func TestShim_OverEraseRejected(t *testing.T) {
	s := testShim(t)
	tr := Triple{Block: BlockHost, SensorID: 1, EntryIndex: 0}

	s.WriteTSD(tr, 10)
	s.WriteTSD(tr, 20)

	code := s.Erase(tr, 3)
	if code != errors.CodeBoundsViolation {
		t.Errorf("expected bounds code %d, got %d", errors.CodeBoundsViolation, code)
	}
	// Rejection, not clamping: both counters untouched.
	if got := s.SampleCount(tr); got != 2 {
		t.Errorf("expected sample_count=2 unchanged, got %d", got)
	}
	if got := s.PendingCount(tr); got != 0 {
		t.Errorf("expected pending_count=0 unchanged, got %d", got)
	}
}

func TestShim_ReadDoesNotConsume(t *testing.T) {
	s := testShim(t)
	tr := Triple{Block: BlockApp, SensorID: 2, EntryIndex: 7}

	s.WriteTSD(tr, 42)

	for i := 0; i < 3; i++ {
		rec, code := s.Read(tr)
		if code != errors.CodeSuccess {
			t.Fatalf("read %d: code %d", i, code)
		}
		if rec.Value != 42 {
			t.Errorf("expected 42, got %d", rec.Value)
		}
	}
	if got := s.SampleCount(tr); got != 1 {
		t.Errorf("read must not consume, sample_count=%d", got)
	}
}

func TestShim_UnknownTriple(t *testing.T) {
	s := testShim(t)
	tr := Triple{Block: BlockCAN, SensorID: 9, EntryIndex: 9}

	if _, code := s.Read(tr); code == errors.CodeSuccess {
		t.Error("read of never-written triple should fail")
	}
	if code := s.Erase(tr, 1); code == errors.CodeSuccess {
		t.Error("erase of never-written triple should fail")
	}
	if s.Validate(tr) {
		t.Error("never-written triple should not validate")
	}

	if code := s.WriteTSD(tr, 1); code != errors.CodeSuccess {
		t.Fatalf("first write should create the stream, code %d", code)
	}
	if !s.Validate(tr) {
		t.Error("stream should validate after creation")
	}
}

func TestShim_InvalidBlock(t *testing.T) {
	s := testShim(t)
	tr := Triple{Block: 9, SensorID: 1, EntryIndex: 1}

	if code := s.WriteTSD(tr, 1); code != errors.CodeInvalidParameter {
		t.Errorf("expected invalid-parameter code %d, got %d", errors.CodeInvalidParameter, code)
	}
}

func TestShim_EventTimestampRaw(t *testing.T) {
	s := testShim(t)
	tr := Triple{Block: BlockApp, SensorID: 3, EntryIndex: 1}

	ts := uint64(0xFFFFFFFF00000001)
	if code := s.WriteEvent(tr, 7, ts); code != errors.CodeSuccess {
		t.Fatalf("write event: code %d", code)
	}
	rec, code := s.Read(tr)
	if code != errors.CodeSuccess {
		t.Fatalf("read: code %d", code)
	}
	if rec.Timestamp != ts {
		t.Errorf("timestamp must round-trip untouched, got %x", rec.Timestamp)
	}
}

func TestShim_BlocksAreIndependent(t *testing.T) {
	// The same sensor/entry pair under different blocks is two streams.
	s := testShim(t)
	a := Triple{Block: BlockHost, SensorID: 5, EntryIndex: 0}
	b := Triple{Block: BlockCAN, SensorID: 5, EntryIndex: 0}

	s.WriteTSD(a, 1)
	s.WriteTSD(a, 2)
	s.WriteTSD(b, 3)

	if got := s.SampleCount(a); got != 2 {
		t.Errorf("block host: expected 2, got %d", got)
	}
	if got := s.SampleCount(b); got != 1 {
		t.Errorf("block can: expected 1, got %d", got)
	}
}
