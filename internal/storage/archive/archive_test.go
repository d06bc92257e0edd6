package archive

import (
	"testing"

	"github.com/xtxerr/telemstore/internal/storage/types"
)

func TestExporter_AppendAndReadBack(t *testing.T) {
	exp, err := NewExporter(t.TempDir(), Options{Compression: CompressionZstd, RotateRows: 1000})
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}

	key := types.SensorKey{ID: 0x2a, Source: types.SourceCAN}
	records := []types.Record{
		{Value: 0x11111111},
		{Value: 0x22222222},
		{Value: 0x33333333},
	}
	if err := exp.Append(key, types.KindTSD, 100, records); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := exp.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	files, err := exp.Files()
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected 1 archive file, got %d", len(files))
	}

	rows, err := ReadAll(files[0].Path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	for i, row := range rows {
		if row.SensorID != 0x2a || row.Source != "can" {
			t.Errorf("row %d: wrong identity %s/%d", i, row.Source, row.SensorID)
		}
		if row.RecordID != int64(100+i) {
			t.Errorf("row %d: expected record id %d, got %d", i, 100+i, row.RecordID)
		}
		if row.Value != int64(records[i].Value) {
			t.Errorf("row %d: expected value %#x, got %#x", i, records[i].Value, row.Value)
		}
	}
}

func TestExporter_RotateByRows(t *testing.T) {
	exp, err := NewExporter(t.TempDir(), Options{RotateRows: 2})
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}
	defer exp.Close()

	key := types.SensorKey{ID: 1, Source: types.SourceHost}
	for i := 0; i < 3; i++ {
		batch := []types.Record{{Value: uint32(i * 2)}, {Value: uint32(i*2 + 1)}}
		if err := exp.Append(key, types.KindTSD, uint32(i*2), batch); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	files, err := exp.Files()
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	// Each 2-row batch hits the rotation threshold.
	if len(files) != 3 {
		t.Errorf("expected 3 rotated files, got %d", len(files))
	}
}

func TestExporter_EventTimestampPreserved(t *testing.T) {
	exp, err := NewExporter(t.TempDir(), DefaultOptions())
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}

	key := types.SensorKey{ID: 5, Source: types.SourceApp}
	ts := uint64(1756500000000)
	if err := exp.Append(key, types.KindEvent, 0, []types.Record{{Value: 9, Timestamp: ts}}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := exp.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	files, _ := exp.Files()
	if len(files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(files))
	}
	rows, err := ReadAll(files[0].Path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(rows) != 1 || rows[0].Timestamp != int64(ts) || rows[0].Kind != "event" {
		t.Errorf("event row mismatch: %+v", rows[0])
	}
}

func TestExporter_ClosedRejectsAppend(t *testing.T) {
	exp, err := NewExporter(t.TempDir(), DefaultOptions())
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}
	exp.Close()

	key := types.SensorKey{ID: 1, Source: types.SourceCAN}
	if err := exp.Append(key, types.KindTSD, 0, []types.Record{{Value: 1}}); err == nil {
		t.Error("append after close should fail")
	}
}
