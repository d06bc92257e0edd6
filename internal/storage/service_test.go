package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/xtxerr/telemstore/internal/errors"
	"github.com/xtxerr/telemstore/internal/storage/config"
	"github.com/xtxerr/telemstore/internal/storage/types"
	testutil "github.com/xtxerr/telemstore/internal/testing"
)

func testConfig(dir string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.RAM.SectorSize = 64
	cfg.RAM.PoolSectors = 32
	cfg.Manager.TickInterval = 10 * time.Millisecond
	cfg.Manager.ShutdownFlushBudget = 5 * time.Second
	cfg.Features.Archive.Enabled = false
	cfg.Features.Query.Enabled = false
	return cfg
}

func startEngine(t *testing.T, cfg *config.Config) *Engine {
	t.Helper()

	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return e
}

func TestEngine_WriteReadErase(t *testing.T) {
	e := startEngine(t, testConfig(t.TempDir()))
	defer e.Shutdown(context.Background())

	key := types.SensorKey{ID: 1, Source: types.SourceCAN}
	for i := 0; i < 5; i++ {
		if err := e.WriteTSD(key, uint32(i)); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	for want := uint32(0); want < 5; want++ {
		rec, err := e.ReadNext(key)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if rec.Value != want {
			t.Fatalf("expected %d, got %d", want, rec.Value)
		}
		if err := e.Erase(key, 1); err != nil {
			t.Fatalf("erase: %v", err)
		}
	}

	if _, err := e.ReadNext(key); !errors.Is(err, errors.ErrNoRecords) {
		t.Errorf("expected ErrNoRecords after drain, got %v", err)
	}
}

func TestEngine_RoundTripAcrossRestart(t *testing.T) {
	// The canonical persistence check: a known pattern, a forced flush,
	// and a fresh engine over the same directory must replay the exact
	// sequence.
	dir := t.TempDir()
	pattern := []uint32{0x11111111, 0x22222222, 0x33333333, 0x44444444}
	key := types.SensorKey{ID: 0x77, Source: types.SourceCAN}

	e1 := startEngine(t, testConfig(dir))
	for _, v := range pattern {
		if err := e1.WriteTSD(key, v); err != nil {
			t.Fatalf("write %#x: %v", v, err)
		}
	}
	if err := e1.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	e2 := startEngine(t, testConfig(dir))
	defer e2.Shutdown(context.Background())

	for i, want := range pattern {
		rec, err := e2.ReadNext(key)
		if err != nil {
			t.Fatalf("read %d after restart: %v", i, err)
		}
		if rec.Value != want {
			t.Fatalf("record %d: expected %#x, got %#x", i, want, rec.Value)
		}
		if err := e2.Erase(key, 1); err != nil {
			t.Fatalf("erase %d: %v", i, err)
		}
	}
	if _, err := e2.ReadNext(key); !errors.Is(err, errors.ErrNoRecords) {
		t.Errorf("expected exact sequence, but more records remain: %v", err)
	}
}

func TestEngine_RestartWithoutCursor(t *testing.T) {
	// Deleting the cursor file simulates a crash before metadata
	// persistence; the scan path must recover the same records.
	dir := t.TempDir()
	key := types.SensorKey{ID: 0x88, Source: types.SourceHost}

	e1 := startEngine(t, testConfig(dir))
	for i := 0; i < 20; i++ {
		if err := e1.WriteTSD(key, uint32(i)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := e1.ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}
	e1.Shutdown(context.Background())

	// Drop the cursor so only sector files remain.
	store := e1.store
	if err := store.DeleteCursor(key); err != nil {
		t.Fatalf("DeleteCursor: %v", err)
	}

	e2 := startEngine(t, testConfig(dir))
	defer e2.Shutdown(context.Background())

	st, ok := e2.Sensor(key)
	if !ok {
		t.Fatal("sensor not discovered after restart")
	}
	if st.Available() != 20 {
		t.Fatalf("expected 20 recovered records, got %d", st.Available())
	}
	rec, err := e2.ReadNext(key)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if rec.Value != 0 {
		t.Errorf("expected replay from 0, got %d", rec.Value)
	}
}

func TestEngine_ConcurrentSensorIndependence(t *testing.T) {
	// Three sensors driven in interleaved rounds each end with exactly
	// the count their own operations imply.
	e := startEngine(t, testConfig(t.TempDir()))
	defer e.Shutdown(context.Background())

	keys := []types.SensorKey{
		{ID: 1, Source: types.SourceCAN},
		{ID: 2, Source: types.SourceApp},
		{ID: 3, Source: types.SourceHost},
	}
	writes := []int{30, 20, 10}
	erases := []uint32{5, 0, 10}

	g := testutil.NewGroup(t)
	for i := range keys {
		i := i
		g.Go(func() error {
			key := keys[i]
			for n := 0; n < writes[i]; n++ {
				if err := e.WriteTSD(key, uint32(n)); err != nil {
					return fmt.Errorf("sensor %d write: %w", i, err)
				}
			}
			if erases[i] > 0 {
				if err := e.Erase(key, erases[i]); err != nil {
					return fmt.Errorf("sensor %d erase: %w", i, err)
				}
			}
			return nil
		})
	}
	g.Wait()

	for i, key := range keys {
		st, ok := e.Sensor(key)
		if !ok {
			t.Fatalf("sensor %d missing", i)
		}
		want := uint32(writes[i]) - erases[i]
		if st.Available() != want {
			t.Errorf("sensor %d: expected available=%d, got %d", i, want, st.Available())
		}
		if !st.Validate() {
			t.Errorf("sensor %d failed validation", i)
		}
	}
}

func TestEngine_MicroTierDropsOnExhaustion(t *testing.T) {
	cfg := config.MicroConfig()
	cfg.RAM.SectorSize = 16
	cfg.RAM.PoolSectors = 2

	e := startEngine(t, cfg)
	defer e.Shutdown(context.Background())

	key := types.SensorKey{ID: 1, Source: types.SourceApp}
	var rejected bool
	for i := 0; i < 10; i++ {
		if err := e.WriteTSD(key, uint32(i)); err != nil {
			if !errors.IsInsufficientSpace(err) {
				t.Fatalf("expected insufficient-space rejection, got %v", err)
			}
			rejected = true
			break
		}
	}
	if !rejected {
		t.Fatal("micro tier should reject writes once the pool is exhausted")
	}

	// Earlier records are intact; only the new write was dropped.
	st, _ := e.Sensor(key)
	if st.Available() != 8 {
		t.Errorf("expected 8 preserved records, got %d", st.Available())
	}
}

func TestEngine_GatewayTierFlushesOnExhaustion(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.RAM.SectorSize = 16
	cfg.RAM.PoolSectors = 4

	e := startEngine(t, cfg)
	defer e.Shutdown(context.Background())

	key := types.SensorKey{ID: 2, Source: types.SourceCAN}
	// 4 sectors x 4 records: the 17th write exhausts the pool and must
	// succeed via an inline flush instead of being dropped.
	for i := 0; i < 30; i++ {
		if err := e.WriteTSD(key, uint32(i)); err != nil {
			t.Fatalf("gateway write %d should not fail: %v", i, err)
		}
	}

	st, _ := e.Sensor(key)
	if st.Available() != 30 {
		t.Errorf("expected all 30 records preserved, got %d", st.Available())
	}
	if !st.DiskFilesExist() {
		t.Error("expected backpressure flush to have spilled to disk")
	}
}

func TestEngine_StatsCounters(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Features.Stats.Enabled = true

	e := startEngine(t, cfg)
	defer e.Shutdown(context.Background())

	key := types.SensorKey{ID: 9, Source: types.SourceCAN}
	for i := 0; i < 10; i++ {
		if err := e.WriteTSD(key, uint32(i)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	e.ReadNext(key)
	e.Erase(key, 3)

	s := e.Stats()
	if s.Counters.Writes != 10 {
		t.Errorf("expected 10 writes counted, got %d", s.Counters.Writes)
	}
	if s.Counters.Reads != 1 || s.Counters.Erases != 1 {
		t.Errorf("expected 1 read / 1 erase, got %d/%d", s.Counters.Reads, s.Counters.Erases)
	}
	if len(s.Sensors) != 1 || s.Sensors[0].Available != 7 {
		t.Errorf("sensor snapshot wrong: %+v", s.Sensors)
	}
}

func TestEngine_ArchiveReceivesFlushedRecords(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Features.Archive.Enabled = true
	cfg.Features.Archive.Compression = "zstd"

	e := startEngine(t, cfg)

	key := types.SensorKey{ID: 0x2a, Source: types.SourceCAN}
	for i := 0; i < 16; i++ {
		if err := e.WriteTSD(key, uint32(i)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := e.ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}
	if err := e.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	files, err := e.archiver.Files()
	if err != nil {
		t.Fatalf("archive files: %v", err)
	}
	if len(files) == 0 {
		t.Fatal("expected archive output after flush")
	}
}
