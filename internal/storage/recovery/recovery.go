// Package recovery rebuilds sensor state from disk at boot.
//
// RAM contents do not survive a crash, so the records that survive are
// exactly the unconsumed disk records. Recovery reconstructs the
// counter pair from two sources: the per-sensor cursor file when its
// checksum verifies (fast path, preserves the exact total across the
// crash), and otherwise a directory scan that derives the total from
// the newest valid sector's last record ID. Sectors that fail their
// checksum are skipped and logged, never surfaced as data.
package recovery

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/telemstore/internal/errors"
	"github.com/xtxerr/telemstore/internal/logging"
	"github.com/xtxerr/telemstore/internal/storage/disk"
	"github.com/xtxerr/telemstore/internal/storage/sensor"
	"github.com/xtxerr/telemstore/internal/storage/types"
)

var log = logging.Component("recovery")

// Result summarizes one sensor's recovery for logging and stats.
type Result struct {
	Key          types.SensorKey
	UsedCursor   bool
	Total        uint32
	Consumed     uint32
	DiskSectors  int
	SkippedFiles int
}

// Recover rebuilds one sensor's state from its disk directory. The
// state must be freshly initialized; it transitions through Recovering
// and exits to DiskActive or RAMOnly depending on what survived.
func Recover(store *disk.Store, st *sensor.State) (Result, error) {
	res := Result{Key: st.Key()}

	if err := st.BeginRecovery(); err != nil {
		return res, err
	}

	infos, err := store.ListSectors(st.Key())
	if err != nil {
		return res, err
	}

	cur, curErr := store.ReadCursor(st.Key())
	haveCursor := curErr == nil
	if curErr != nil && !errors.Is(curErr, errors.ErrCursorNotFound) {
		log.Warn("cursor unreadable, falling back to scan",
			"sensor", st.Key().String(), "error", curErr)
	}

	// Partition the listing: files older than the cursor head are fully
	// consumed leftovers, corrupt files are skipped outright.
	var (
		segs      []sensor.DiskSeg
		stale     []uint64
		maxSeq    uint64
		haveSeq   bool
		newestEnd uint32
	)
	for _, info := range infos {
		if !info.Valid {
			res.SkippedFiles++
			log.Warn("corrupt sector skipped",
				"sensor", st.Key().String(), "path", info.Path)
			continue
		}
		if haveCursor && info.Seq < cur.HeadSeq {
			stale = append(stale, info.Seq)
			continue
		}
		segs = append(segs, sensor.DiskSeg{Seq: info.Seq, Count: info.Header.RecordCount})
		if !haveSeq || info.Seq > maxSeq {
			maxSeq = info.Seq
			haveSeq = true
			newestEnd = info.Header.LastID + 1
		}
	}

	var headOffset uint32
	if haveCursor && len(segs) > 0 && segs[0].Seq == cur.HeadSeq && cur.HeadOffset < segs[0].Count {
		headOffset = cur.HeadOffset
	}

	var diskAvail uint32
	for _, seg := range segs {
		diskAvail += seg.Count
	}
	diskAvail -= headOffset

	// The cursor can lag the newest flushed sector; the scan can miss
	// records that only ever lived in RAM. Take the larger total.
	var total uint32
	if haveCursor {
		total = cur.Total
	}
	if haveSeq && newestEnd > total {
		total = newestEnd
	}
	consumed := total - diskAvail

	var nextSeq uint64
	if haveSeq {
		nextSeq = maxSeq + 1
	}
	if haveCursor && cur.NextSeq > nextSeq {
		nextSeq = cur.NextSeq
	}

	if err := st.CompleteRecovery(total, consumed, segs, headOffset, nextSeq); err != nil {
		return res, err
	}

	for _, seq := range stale {
		if err := store.Delete(st.Key(), seq); err != nil {
			log.Warn("stale sector cleanup deferred",
				"sensor", st.Key().String(), "seq", seq, "error", err)
		}
	}

	res.UsedCursor = haveCursor
	res.Total = total
	res.Consumed = consumed
	res.DiskSectors = len(segs)

	log.Info("sensor recovered",
		"sensor", st.Key().String(),
		"cursor", haveCursor,
		"total", total,
		"consumed", consumed,
		"disk_sectors", len(segs),
		"skipped", res.SkippedFiles)
	return res, nil
}

// DiscoveredSensor identifies one sensor found on disk before any
// state exists for it.
type DiscoveredSensor struct {
	Key  types.SensorKey
	Kind types.RecordKind
}

// DiscoverSensors walks every source directory and returns the sensors
// that left sector or cursor files behind. The record kind comes from
// the newest valid sector header; a sensor known only by its cursor
// file defaults to the time-series kind.
func DiscoverSensors(store *disk.Store) ([]DiscoveredSensor, error) {
	seen := make(map[types.SensorKey]bool)
	var out []DiscoveredSensor

	for _, src := range types.AllSourceTypes() {
		dir := store.SourceDir(src)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.Wrapf(errors.ErrDirectoryNotFound, "read %s", dir)
		}

		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			name := entry.Name()
			if !strings.HasSuffix(name, ".sec") && !strings.HasSuffix(name, ".cursor") {
				continue
			}

			var id uint32
			if _, err := fmt.Sscanf(name, "%08x", &id); err != nil {
				continue
			}
			key := types.SensorKey{ID: id, Source: src}
			if seen[key] {
				continue
			}
			seen[key] = true

			kind := types.KindTSD
			infos, err := store.ListSectors(key)
			if err == nil {
				for i := len(infos) - 1; i >= 0; i-- {
					if infos[i].Valid {
						kind = infos[i].Header.Kind
						break
					}
				}
			}
			out = append(out, DiscoveredSensor{Key: key, Kind: kind})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.Source != out[j].Key.Source {
			return out[i].Key.Source < out[j].Key.Source
		}
		return out[i].Key.ID < out[j].Key.ID
	})
	return out, nil
}

// RecoverAll recovers every state concurrently. The first error aborts
// remaining work and is returned; states already recovered keep their
// rebuilt counters.
func RecoverAll(ctx context.Context, store *disk.Store, states []*sensor.State) ([]Result, error) {
	results := make([]Result, len(states))

	g, ctx := errgroup.WithContext(ctx)
	for i, st := range states {
		i, st := i, st
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := Recover(store, st)
			results[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
