package query

import (
	"context"
	"testing"
	"time"

	"github.com/xtxerr/telemstore/internal/storage/archive"
	"github.com/xtxerr/telemstore/internal/storage/types"
)

func archiveDir(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	exp, err := archive.NewExporter(dir, archive.DefaultOptions())
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}

	key := types.SensorKey{ID: 0x2a, Source: types.SourceCAN}
	var records []types.Record
	for i := 0; i < 10; i++ {
		records = append(records, types.Record{Value: uint32(i * 10)})
	}
	if err := exp.Append(key, types.KindTSD, 0, records); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := exp.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return dir
}

func TestService_QuerySensor(t *testing.T) {
	svc, err := New(archiveDir(t), Options{Timeout: 10 * time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Close()

	rows, err := svc.QuerySensor(context.Background(), SensorQuery{
		Source:   types.SourceCAN,
		SensorID: 0x2a,
		FromID:   3,
		ToID:     7,
	})
	if err != nil {
		t.Fatalf("QuerySensor: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected 4 rows for id range [3,7), got %d", len(rows))
	}
	for i, row := range rows {
		wantID := uint32(3 + i)
		if row.RecordID != wantID || row.Value != wantID*10 {
			t.Errorf("row %d: expected id=%d value=%d, got id=%d value=%d",
				i, wantID, wantID*10, row.RecordID, row.Value)
		}
	}
}

func TestService_QuerySensorLimit(t *testing.T) {
	svc, err := New(archiveDir(t), Options{MaxRows: 5})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Close()

	rows, err := svc.QuerySensor(context.Background(), SensorQuery{
		Source:   types.SourceCAN,
		SensorID: 0x2a,
	})
	if err != nil {
		t.Fatalf("QuerySensor: %v", err)
	}
	if len(rows) != 5 {
		t.Errorf("expected MaxRows cap of 5, got %d", len(rows))
	}
}

func TestService_SummarizeSensor(t *testing.T) {
	svc, err := New(archiveDir(t), Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Close()

	sum, err := svc.SummarizeSensor(context.Background(), types.SourceCAN, 0x2a)
	if err != nil {
		t.Fatalf("SummarizeSensor: %v", err)
	}
	if sum.Count != 10 {
		t.Errorf("expected count=10, got %d", sum.Count)
	}
	if sum.Min != 0 || sum.Max != 90 || sum.Avg != 45 {
		t.Errorf("expected min=0 max=90 avg=45, got %+v", sum)
	}
}

func TestService_EmptyArchive(t *testing.T) {
	svc, err := New(t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Close()

	rows, err := svc.QuerySensor(context.Background(), SensorQuery{
		Source:   types.SourceHost,
		SensorID: 1,
	})
	if err != nil {
		t.Fatalf("QuerySensor on empty archive: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected no rows, got %d", len(rows))
	}
}
