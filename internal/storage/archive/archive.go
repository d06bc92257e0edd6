// Package archive exports flushed records to Parquet files for offline
// analytics.
//
// The live sector files exist to survive a crash until the uploader
// acknowledges; they are deleted as soon as records are consumed. The
// archive is the opposite: an append-only columnar trail of everything
// that passed through the engine, rotated by row count and pruned
// oldest-first against a byte budget.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/xtxerr/telemstore/internal/errors"
	"github.com/xtxerr/telemstore/internal/logging"
	"github.com/xtxerr/telemstore/internal/storage/types"
)

var log = logging.Component("archive")

const fileSuffix = ".parquet"

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	case "none", "":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// Options configures the archive exporter.
type Options struct {
	// Compression algorithm for archive files.
	Compression CompressionType

	// MaxBytes caps total archive size; oldest files are pruned first.
	// Zero disables pruning.
	MaxBytes int64

	// RotateRows closes the current file once it holds this many rows.
	RotateRows int
}

// DefaultOptions returns the default archive configuration.
func DefaultOptions() Options {
	return Options{
		Compression: CompressionZstd,
		RotateRows:  100000,
	}
}

// RecordRow is one archived record in Parquet format.
type RecordRow struct {
	Source     string `parquet:"source,zstd"`
	SensorID   int64  `parquet:"sensor_id"`
	RecordID   int64  `parquet:"record_id"`
	Kind       string `parquet:"kind,zstd"`
	Value      int64  `parquet:"value"`
	Timestamp  int64  `parquet:"timestamp"`
	ArchivedMs int64  `parquet:"archived_ms"`
}

// Exporter appends archived records to rotating Parquet files under one
// directory.
type Exporter struct {
	dir  string
	opts Options

	mu       sync.Mutex
	file     *os.File
	writer   *parquet.GenericWriter[RecordRow]
	path     string
	rowCount int
	closed   bool
}

// NewExporter creates the exporter, creating dir if needed.
func NewExporter(dir string, opts Options) (*Exporter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(errors.ErrDiskIOFailed, "create archive dir %s", dir)
	}
	if opts.RotateRows <= 0 {
		opts.RotateRows = DefaultOptions().RotateRows
	}
	return &Exporter{dir: dir, opts: opts}, nil
}

// Append archives a batch of records for one sensor. firstID is the
// logical id of records[0]; subsequent records follow consecutively.
func (e *Exporter) Append(key types.SensorKey, kind types.RecordKind, firstID uint32, records []types.Record) error {
	if len(records) == 0 {
		return nil
	}

	now := time.Now().UnixMilli()
	rows := make([]RecordRow, len(records))
	for i, rec := range records {
		rows[i] = RecordRow{
			Source:     key.Source.String(),
			SensorID:   int64(key.ID),
			RecordID:   int64(firstID) + int64(i),
			Kind:       kind.String(),
			Value:      int64(rec.Value),
			Timestamp:  int64(rec.Timestamp),
			ArchivedMs: now,
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return errors.ErrWriterClosed
	}
	if e.writer == nil {
		if err := e.openLocked(); err != nil {
			return err
		}
	}

	n, err := e.writer.Write(rows)
	if err != nil {
		return errors.Wrap(errors.ErrDiskIOFailed, "write archive rows")
	}
	e.rowCount += n

	if e.rowCount >= e.opts.RotateRows {
		if err := e.rotateLocked(); err != nil {
			return err
		}
	}
	return nil
}

func (e *Exporter) openLocked() error {
	path := filepath.Join(e.dir, fmt.Sprintf("records_%016d%s", time.Now().UnixNano(), fileSuffix))
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(errors.ErrDiskIOFailed, "create archive file %s", path)
	}

	e.file = f
	e.path = path
	e.rowCount = 0
	e.writer = parquet.NewGenericWriter[RecordRow](f,
		parquet.Compression(getCompression(e.opts.Compression)))
	return nil
}

func (e *Exporter) closeCurrentLocked() error {
	if e.writer == nil {
		return nil
	}
	werr := e.writer.Close()
	cerr := e.file.Close()
	e.writer = nil
	e.file = nil
	if werr != nil {
		return errors.Wrap(errors.ErrDiskIOFailed, "close archive writer")
	}
	if cerr != nil {
		return errors.Wrap(errors.ErrDiskIOFailed, "close archive file")
	}
	log.Debug("archive file sealed", "path", e.path, "rows", e.rowCount)
	return nil
}

func (e *Exporter) rotateLocked() error {
	if err := e.closeCurrentLocked(); err != nil {
		return err
	}
	e.pruneLocked()
	return nil
}

// pruneLocked deletes oldest archive files until total size fits the
// budget. The open file is never pruned.
func (e *Exporter) pruneLocked() {
	if e.opts.MaxBytes <= 0 {
		return
	}

	files, err := listArchiveFiles(e.dir)
	if err != nil {
		log.Warn("archive prune listing failed", "error", err)
		return
	}

	var total int64
	for _, f := range files {
		total += f.Size
	}
	for _, f := range files {
		if total <= e.opts.MaxBytes {
			break
		}
		if f.Path == e.path {
			break
		}
		if err := os.Remove(f.Path); err != nil {
			log.Warn("archive prune failed", "path", f.Path, "error", err)
			continue
		}
		total -= f.Size
		log.Info("archive file pruned", "path", f.Path, "size", f.Size)
	}
}

// Flush seals the current file so its rows become visible to readers,
// then applies the size budget.
func (e *Exporter) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return errors.ErrWriterClosed
	}
	return e.rotateLocked()
}

// Close seals the current file and stops the exporter.
func (e *Exporter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	err := e.closeCurrentLocked()
	e.pruneLocked()
	return err
}

// Dir returns the archive directory.
func (e *Exporter) Dir() string { return e.dir }

// FileInfo describes one sealed archive file.
type FileInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// Files returns the archive files oldest-first.
func (e *Exporter) Files() ([]FileInfo, error) {
	return listArchiveFiles(e.dir)
}

func listArchiveFiles(dir string) ([]FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrDiskIOFailed, "read archive dir %s", dir)
	}

	var files []FileInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{
			Path:    filepath.Join(dir, entry.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})
	return files, nil
}

// ReadAll reads every row of one archive file.
func ReadAll(path string) ([]RecordRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrDiskIOFailed, "open archive file %s", path)
	}
	defer f.Close()

	reader := parquet.NewGenericReader[RecordRow](f)
	defer reader.Close()

	rows := make([]RecordRow, reader.NumRows())
	n, err := reader.Read(rows)
	if err != nil && n != len(rows) {
		return nil, errors.Wrap(errors.ErrDiskIOFailed, "read archive rows")
	}
	return rows[:n], nil
}
