package types

import "fmt"

// SourceType identifies the originating subsystem of a sensor's data.
// Each source type is persisted under an independent disk subdirectory,
// because the same sensor id may exist independently under each source.
type SourceType uint8

const (
	// SourceHost is data sampled by the host platform itself.
	SourceHost SourceType = iota
	// SourceApp is data produced by application logic.
	SourceApp
	// SourceCAN is data decoded from the vehicle CAN bus.
	SourceCAN
)

// String returns the string representation of the source type.
func (s SourceType) String() string {
	switch s {
	case SourceHost:
		return "host"
	case SourceApp:
		return "app"
	case SourceCAN:
		return "can"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Dir returns the on-disk subdirectory name for this source type.
func (s SourceType) Dir() string {
	return s.String()
}

// ParseSourceType parses a string into a SourceType.
func ParseSourceType(v string) (SourceType, error) {
	switch v {
	case "host":
		return SourceHost, nil
	case "app":
		return SourceApp, nil
	case "can":
		return SourceCAN, nil
	default:
		return SourceHost, fmt.Errorf("unknown source type: %s", v)
	}
}

// AllSourceTypes returns all source types in order.
func AllSourceTypes() []SourceType {
	return []SourceType{SourceHost, SourceApp, SourceCAN}
}

// SensorKey uniquely identifies a sensor stream: the same sensor id under
// two source types is two independent streams.
type SensorKey struct {
	ID     uint32
	Source SourceType
}

// String returns "source/sensorid" with the id in zero-padded hex,
// matching on-disk directory and file naming.
func (k SensorKey) String() string {
	return fmt.Sprintf("%s/%08x", k.Source, k.ID)
}
