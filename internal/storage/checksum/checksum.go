// Package checksum computes the integrity code used by every disk write
// and read, and by the per-sensor state self-check.
//
// A sector file is valid if and only if its checksum verifies; any other
// state (partial write, truncated file) is treated as absent.
package checksum

import (
	"encoding/binary"
	"hash/crc32"
)

// Sum computes the integrity code over a byte range.
func Sum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// Verify recomputes the code over data and compares it to want.
func Verify(data []byte, want uint32) bool {
	return crc32.ChecksumIEEE(data) == want
}

// Update extends a running code with more bytes. Appending to an open
// sector updates its checksum incrementally instead of rescanning the
// whole payload.
func Update(sum uint32, data []byte) uint32 {
	return crc32.Update(sum, crc32.IEEETable, data)
}

// Fields computes the integrity code over a sequence of numeric fields.
// Used for self-checksumming fixed-layout structures (sensor state,
// cursor files) without allocating per field.
func Fields(fields ...uint64) uint32 {
	var buf [8]byte
	crc := crc32.NewIEEE()
	for _, f := range fields {
		binary.LittleEndian.PutUint64(buf[:], f)
		crc.Write(buf[:])
	}
	return crc.Sum32()
}
