package disk

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xtxerr/telemstore/internal/errors"
)

// Disk saturation policy: when a directory exceeds its quota, the
// oldest unsent data is dropped. This is deliberate lossy backpressure
// preferring the most recent samples.

// TotalUsage returns the total size in bytes of all files under dir.
// A trailing path separator on dir is accepted.
func TotalUsage(dir string) (int64, error) {
	dir = filepath.Clean(dir)

	var total int64
	err := filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.Wrapf(errors.ErrDiskIOFailed, "walk %s", dir)
	}
	return total, nil
}

// fileInfo holds one candidate file for eviction.
type fileInfo struct {
	path    string
	size    int64
	modUnix int64
}

// listEvictable returns all sector files under dir ordered oldest first
// (by modification time, path as tiebreak). Temp files are included so
// leftovers from interrupted writes get cleaned up too.
func listEvictable(dir string) ([]fileInfo, error) {
	dir = filepath.Clean(dir)

	var files []fileInfo
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		name := info.Name()
		if !strings.HasSuffix(name, sectorSuffix) && !strings.HasSuffix(name, tmpSuffix) {
			return nil
		}
		files = append(files, fileInfo{
			path:    path,
			size:    info.Size(),
			modUnix: info.ModTime().UnixNano(),
		})
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(errors.ErrDiskIOFailed, "walk %s", dir)
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].modUnix != files[j].modUnix {
			return files[i].modUnix < files[j].modUnix
		}
		return files[i].path < files[j].path
	})

	return files, nil
}

// DeleteOldestSector identifies the chronologically oldest sector file
// under dir and removes it.
func (s *Store) DeleteOldestSector(dir string) error {
	files, err := listEvictable(dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.Wrapf(errors.ErrSectorNotFound, "no sector files in %s", dir)
	}

	oldest := files[0]
	if err := os.Remove(oldest.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(errors.ErrDiskIOFailed, "remove %s", oldest.path)
	}

	s.log.Warn("evicted oldest sector", "path", oldest.path, "bytes", oldest.size)
	return nil
}

// EnforceSizeLimit deletes the oldest sector files under dir until
// total usage is at or below maxBytes. Returns the number of files
// deleted and bytes freed.
func (s *Store) EnforceSizeLimit(dir string, maxBytes int64) (int, int64, error) {
	return s.enforceSizeLimit(dir, maxBytes, false)
}

// DryRunSizeLimit reports what EnforceSizeLimit would delete without
// removing anything.
func (s *Store) DryRunSizeLimit(dir string, maxBytes int64) (int, int64, error) {
	return s.enforceSizeLimit(dir, maxBytes, true)
}

func (s *Store) enforceSizeLimit(dir string, maxBytes int64, dryRun bool) (int, int64, error) {
	usage, err := TotalUsage(dir)
	if err != nil {
		return 0, 0, err
	}
	if usage <= maxBytes {
		return 0, 0, nil
	}

	files, err := listEvictable(dir)
	if err != nil {
		return 0, 0, err
	}

	deleted := 0
	var freed int64

	for _, f := range files {
		if usage <= maxBytes {
			break
		}
		if !dryRun {
			if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
				s.log.Warn("eviction failed", "path", f.path, "error", err)
				continue
			}
		}
		usage -= f.size
		freed += f.size
		deleted++
	}

	if !dryRun && deleted > 0 {
		s.log.Warn("disk quota enforced", "dir", dir, "deleted", deleted, "freed_bytes", freed)
	}

	return deleted, freed, nil
}
