package types

import "fmt"

// Mode is the operating mode of a sensor state.
//
// Transitions: Uninitialized → RAMOnly ⇄ DiskActive → Recovering →
// (RAMOnly | DiskActive). Recovering is entered only at startup, when
// on-disk sectors are discovered before any write is admitted.
type Mode uint8

const (
	// ModeUninitialized is the zero value; no operation is valid.
	ModeUninitialized Mode = iota

	// ModeRAMOnly means all unsent data is in RAM sectors.
	ModeRAMOnly

	// ModeDiskActive means disk-resident sectors exist or a flush is
	// in progress.
	ModeDiskActive

	// ModeRecovering means a boot-time disk scan is rebuilding the state.
	ModeRecovering
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModeUninitialized:
		return "uninitialized"
	case ModeRAMOnly:
		return "ram_only"
	case ModeDiskActive:
		return "disk_active"
	case ModeRecovering:
		return "recovering"
	default:
		return fmt.Sprintf("unknown(%d)", m)
	}
}
