package disk

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/xtxerr/telemstore/internal/errors"
	"github.com/xtxerr/telemstore/internal/storage/checksum"
	"github.com/xtxerr/telemstore/internal/storage/types"
)

const (
	cursorMagic   = 0x54435231 // "TCR1"
	cursorVersion = 1

	// magic(4) version(2) pad(2) total(4) consumed(4) headSeq(8)
	// headOffset(4) sectors(4) nextSeq(8) checksum(4)
	cursorSize = 44

	cursorSuffix = ".cursor"
)

// Cursor is the persisted per-sensor cursor triple plus disk-side
// sequence state. It lets recovery restore exact counters without
// rescanning every sector file; when absent or invalid, recovery falls
// back to a full directory scan.
type Cursor struct {
	Total      uint32
	Consumed   uint32
	HeadSeq    uint64
	HeadOffset uint32
	Sectors    uint32
	NextSeq    uint64
}

// cursorPath returns the cursor file path for a sensor.
func (s *Store) cursorPath(key types.SensorKey) string {
	name := fmt.Sprintf("%08x%s", key.ID, cursorSuffix)
	return filepath.Join(s.SourceDir(key.Source), name)
}

// WriteCursor atomically persists a sensor's cursor file using the same
// temp-write-then-rename discipline as sector payloads.
func (s *Store) WriteCursor(key types.SensorKey, cur Cursor) error {
	if cur.Consumed > cur.Total {
		return errors.Wrap(errors.ErrInvalidParameter, "cursor consumed exceeds total")
	}

	var buf [cursorSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], cursorMagic)
	binary.LittleEndian.PutUint16(buf[4:6], cursorVersion)
	binary.LittleEndian.PutUint32(buf[8:12], cur.Total)
	binary.LittleEndian.PutUint32(buf[12:16], cur.Consumed)
	binary.LittleEndian.PutUint64(buf[16:24], cur.HeadSeq)
	binary.LittleEndian.PutUint32(buf[24:28], cur.HeadOffset)
	binary.LittleEndian.PutUint32(buf[28:32], cur.Sectors)
	binary.LittleEndian.PutUint64(buf[32:40], cur.NextSeq)
	binary.LittleEndian.PutUint32(buf[40:44], checksum.Sum(buf[:40]))

	path := s.cursorPath(key)
	tmp := path + tmpSuffix

	if err := os.WriteFile(tmp, buf[:], 0644); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(errors.ErrDiskIOFailed, "write cursor temp %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(errors.ErrDiskIOFailed, "rename cursor %s", path)
	}

	return nil
}

// ReadCursor reads and verifies a sensor's cursor file. A missing file
// is ErrCursorNotFound; a corrupt file is ErrChecksumMismatch. Either
// way the caller falls back to the scan path.
func (s *Store) ReadCursor(key types.SensorKey) (Cursor, error) {
	path := s.cursorPath(key)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Cursor{}, errors.Wrapf(errors.ErrCursorNotFound, "%s", path)
		}
		return Cursor{}, errors.Wrapf(errors.ErrDiskIOFailed, "open cursor %s", path)
	}
	defer f.Close()

	var buf [cursorSize]byte
	if _, err := io.ReadFull(f, buf[:]); err != nil {
		return Cursor{}, errors.Wrapf(errors.ErrDiskIOFailed, "read cursor %s", path)
	}

	if binary.LittleEndian.Uint32(buf[0:4]) != cursorMagic {
		return Cursor{}, errors.Wrapf(errors.ErrChecksumMismatch, "cursor magic %s", path)
	}
	if binary.LittleEndian.Uint16(buf[4:6]) != cursorVersion {
		return Cursor{}, errors.Wrapf(errors.ErrChecksumMismatch, "cursor version %s", path)
	}
	if !checksum.Verify(buf[:40], binary.LittleEndian.Uint32(buf[40:44])) {
		return Cursor{}, errors.Wrapf(errors.ErrChecksumMismatch, "cursor %s", path)
	}

	cur := Cursor{
		Total:      binary.LittleEndian.Uint32(buf[8:12]),
		Consumed:   binary.LittleEndian.Uint32(buf[12:16]),
		HeadSeq:    binary.LittleEndian.Uint64(buf[16:24]),
		HeadOffset: binary.LittleEndian.Uint32(buf[24:28]),
		Sectors:    binary.LittleEndian.Uint32(buf[28:32]),
		NextSeq:    binary.LittleEndian.Uint64(buf[32:40]),
	}

	if cur.Consumed > cur.Total {
		return Cursor{}, errors.Wrapf(errors.ErrChecksumMismatch, "cursor invariant %s", path)
	}

	return cur, nil
}

// DeleteCursor removes a sensor's cursor file if present.
func (s *Store) DeleteCursor(key types.SensorKey) error {
	path := s.cursorPath(key)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(errors.ErrDiskIOFailed, "remove cursor %s", path)
	}
	return nil
}
