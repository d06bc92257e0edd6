// Package disk persists sealed sectors as checksummed files under
// per-source-type directories and enforces the disk quota.
//
// Atomicity guarantee: a sector file is valid if and only if its
// checksum verifies. Writes go to a temp file that is renamed into
// place, so a crash mid-write leaves either the old state or nothing,
// never a half-written file recognized as valid.
package disk

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xtxerr/telemstore/internal/errors"
	"github.com/xtxerr/telemstore/internal/logging"
	"github.com/xtxerr/telemstore/internal/storage/checksum"
	"github.com/xtxerr/telemstore/internal/storage/types"
)

const (
	sectorMagic   = 0x54534331 // "TSC1"
	sectorVersion = 1

	// Fixed header: magic(4) version(2) source(1) kind(1) count(4)
	// firstID(4) lastID(4) createdMs(8) payloadSize(4) checksum(4)
	headerSize = 36

	sectorSuffix = ".sec"
	tmpSuffix    = ".tmp"
)

// Header is the fixed metadata block at the start of every sector file.
// The checksum covers the payload only; the header itself is validated
// structurally (magic, version, size consistency).
type Header struct {
	Source      types.SourceType
	Kind        types.RecordKind
	RecordCount uint32
	FirstID     uint32
	LastID      uint32
	CreatedMs   int64
	PayloadSize uint32
	Checksum    uint32
}

// Store performs atomic sector persistence under a root directory with
// one subdirectory per source type.
type Store struct {
	root string
	log  interface {
		Debug(msg string, args ...any)
		Warn(msg string, args ...any)
	}
}

// NewStore creates a store rooted at dir. A trailing path separator is
// accepted and ignored.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.Wrap(errors.ErrInvalidParameter, "empty store root")
	}
	root := filepath.Clean(dir)
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, errors.Wrapf(errors.ErrDiskIOFailed, "create store root %s", root)
	}
	for _, source := range types.AllSourceTypes() {
		if err := os.MkdirAll(filepath.Join(root, source.Dir()), 0755); err != nil {
			return nil, errors.Wrapf(errors.ErrDiskIOFailed, "create source dir %s", source)
		}
	}
	return &Store{
		root: root,
		log:  logging.Component("disk"),
	}, nil
}

// Root returns the cleaned store root.
func (s *Store) Root() string { return s.root }

// SourceDir returns the directory for a source type.
func (s *Store) SourceDir(source types.SourceType) string {
	return filepath.Join(s.root, source.Dir())
}

// SectorPath returns the file path for a sensor's sector with the given
// sequence number. The name encodes the sensor id and a zero-padded
// sequence so lexicographic order matches chronological order.
func (s *Store) SectorPath(key types.SensorKey, seq uint64) string {
	name := fmt.Sprintf("%08x_%016d%s", key.ID, seq, sectorSuffix)
	return filepath.Join(s.SourceDir(key.Source), name)
}

// WriteSector atomically persists a sector payload plus metadata header.
// The header checksum is computed here over the payload.
func (s *Store) WriteSector(key types.SensorKey, seq uint64, hdr Header, payload []byte) error {
	if len(payload) == 0 {
		return errors.Wrap(errors.ErrInvalidParameter, "empty sector payload")
	}

	hdr.Source = key.Source
	hdr.PayloadSize = uint32(len(payload))
	hdr.Checksum = checksum.Sum(payload)

	path := s.SectorPath(key, seq)
	tmp := path + tmpSuffix

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrapf(errors.ErrDiskIOFailed, "create temp %s", tmp)
	}

	var buf [headerSize]byte
	encodeHeader(hdr, buf[:])

	if _, err := f.Write(buf[:]); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(errors.ErrDiskIOFailed, "write header")
	}
	if _, err := f.Write(payload); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(errors.ErrDiskIOFailed, "write payload")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(errors.ErrDiskIOFailed, "sync sector")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrap(errors.ErrDiskIOFailed, "close sector")
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(errors.ErrDiskIOFailed, "rename %s", path)
	}

	s.log.Debug("sector written", "path", path, "records", hdr.RecordCount)
	return nil
}

// ReadSector reads and verifies a sector file. A missing file, short
// file or checksum mismatch is reported as a disk error, never as data.
func (s *Store) ReadSector(key types.SensorKey, seq uint64) (Header, []byte, error) {
	return ReadSectorFile(s.SectorPath(key, seq))
}

// ReadSectorFile reads and verifies a sector file by path.
func ReadSectorFile(path string) (Header, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Header{}, nil, errors.Wrapf(errors.ErrSectorNotFound, "%s", path)
		}
		return Header{}, nil, errors.Wrapf(errors.ErrDiskIOFailed, "open %s", path)
	}
	defer f.Close()

	var buf [headerSize]byte
	if _, err := io.ReadFull(f, buf[:]); err != nil {
		return Header{}, nil, errors.Wrapf(errors.ErrDiskIOFailed, "read header %s", path)
	}

	hdr, err := decodeHeader(buf[:])
	if err != nil {
		return Header{}, nil, errors.Wrapf(err, "%s", path)
	}

	// The header checksum covers the payload only, so PayloadSize is not
	// yet authenticated here. Bound it by the actual file size before
	// allocating, or a corrupt header could demand gigabytes.
	fi, err := f.Stat()
	if err != nil {
		return Header{}, nil, errors.Wrapf(errors.ErrDiskIOFailed, "stat %s", path)
	}
	if int64(hdr.PayloadSize) != fi.Size()-headerSize {
		return Header{}, nil, errors.Wrapf(errors.ErrDiskIOFailed,
			"payload size %d disagrees with file size %d: %s", hdr.PayloadSize, fi.Size(), path)
	}

	payload := make([]byte, hdr.PayloadSize)
	if _, err := io.ReadFull(f, payload); err != nil {
		return Header{}, nil, errors.Wrapf(errors.ErrDiskIOFailed, "read payload %s", path)
	}

	if !checksum.Verify(payload, hdr.Checksum) {
		return Header{}, nil, errors.Wrapf(errors.ErrChecksumMismatch, "%s", path)
	}

	return hdr, payload, nil
}

// ReadPayload returns the payload and record count of a sector.
// It satisfies the sensor package's disk interface.
func (s *Store) ReadPayload(key types.SensorKey, seq uint64) ([]byte, uint32, error) {
	hdr, payload, err := s.ReadSector(key, seq)
	if err != nil {
		return nil, 0, err
	}
	return payload, hdr.RecordCount, nil
}

// DeleteSector removes a sector file. Deleting an already-absent file
// is not an error; consumption and eviction may race benignly.
func (s *Store) DeleteSector(key types.SensorKey, seq uint64) error {
	path := s.SectorPath(key, seq)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(errors.ErrDiskIOFailed, "remove %s", path)
	}
	return nil
}

// Delete satisfies the sensor package's disk interface.
func (s *Store) Delete(key types.SensorKey, seq uint64) error {
	return s.DeleteSector(key, seq)
}

// SectorInfo describes one on-disk sector file.
type SectorInfo struct {
	Path   string
	Seq    uint64
	Size   int64
	Header Header
	Valid  bool
}

// ListSectors returns a sensor's sector files ordered by sequence
// number. Files whose checksum fails verification are included with
// Valid=false so recovery can count and log them.
func (s *Store) ListSectors(key types.SensorKey) ([]SectorInfo, error) {
	dir := s.SourceDir(key.Source)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(errors.ErrDiskIOFailed, "read dir %s", dir)
	}

	prefix := fmt.Sprintf("%08x_", key.ID)

	var infos []SectorInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, sectorSuffix) {
			continue
		}

		var id uint32
		var seq uint64
		if _, err := fmt.Sscanf(name, "%08x_%016d.sec", &id, &seq); err != nil {
			continue
		}

		path := filepath.Join(dir, name)
		info := SectorInfo{Path: path, Seq: seq}

		if fi, err := entry.Info(); err == nil {
			info.Size = fi.Size()
		}

		hdr, _, err := ReadSectorFile(path)
		if err == nil {
			info.Header = hdr
			info.Valid = true
		}

		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Seq < infos[j].Seq
	})

	return infos, nil
}

// encodeHeader packs a header into a headerSize byte buffer.
func encodeHeader(h Header, buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], sectorMagic)
	binary.LittleEndian.PutUint16(buf[4:6], sectorVersion)
	buf[6] = byte(h.Source)
	buf[7] = byte(h.Kind)
	binary.LittleEndian.PutUint32(buf[8:12], h.RecordCount)
	binary.LittleEndian.PutUint32(buf[12:16], h.FirstID)
	binary.LittleEndian.PutUint32(buf[16:20], h.LastID)
	binary.LittleEndian.PutUint64(buf[20:28], uint64(h.CreatedMs))
	binary.LittleEndian.PutUint32(buf[28:32], h.PayloadSize)
	binary.LittleEndian.PutUint32(buf[32:36], h.Checksum)
}

// decodeHeader unpacks and structurally validates a header.
func decodeHeader(buf []byte) (Header, error) {
	if binary.LittleEndian.Uint32(buf[0:4]) != sectorMagic {
		return Header{}, errors.ErrDiskIOFailed
	}
	if binary.LittleEndian.Uint16(buf[4:6]) != sectorVersion {
		return Header{}, errors.ErrDiskIOFailed
	}

	h := Header{
		Source:      types.SourceType(buf[6]),
		Kind:        types.RecordKind(buf[7]),
		RecordCount: binary.LittleEndian.Uint32(buf[8:12]),
		FirstID:     binary.LittleEndian.Uint32(buf[12:16]),
		LastID:      binary.LittleEndian.Uint32(buf[16:20]),
		CreatedMs:   int64(binary.LittleEndian.Uint64(buf[20:28])),
		PayloadSize: binary.LittleEndian.Uint32(buf[28:32]),
		Checksum:    binary.LittleEndian.Uint32(buf[32:36]),
	}

	if h.PayloadSize == 0 || h.RecordCount == 0 {
		return Header{}, errors.ErrDiskIOFailed
	}
	if int(h.Kind.Size())*int(h.RecordCount) != int(h.PayloadSize) {
		return Header{}, errors.ErrDiskIOFailed
	}

	return h, nil
}
