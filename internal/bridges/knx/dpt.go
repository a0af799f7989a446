package knx

import (
	"fmt"
	"math"
)

// dpt5MaxValue is the maximum raw value for DPT5 (1-byte unsigned).
const dpt5MaxValue = 255

// DPT represents a KNX Datapoint Type identifier.
//
// Format: "major.minor" (e.g., "1.001", "5.001")
type DPT string

// Datapoint types the audio bridge maps. Wall switches and room
// controllers speak exactly two shapes here: a 1-bit toggle and a
// scaled percentage.
const (
	// DPTSwitch is 1-bit on/off (0=Off, 1=On). Used for play and mute.
	DPTSwitch DPT = "1.001"

	// DPTPercentage is 1-byte scaled 0-100%. Used for volume.
	DPTPercentage DPT = "5.001"
)

// IsValid reports whether the DPT is one the bridge can encode.
func (d DPT) IsValid() bool {
	return d == DPTSwitch || d == DPTPercentage
}

// EncodeDPT1 encodes a boolean value to 1-bit KNX format.
func EncodeDPT1(value bool) []byte {
	if value {
		return []byte{0x01}
	}
	return []byte{0x00}
}

// DecodeDPT1 decodes a 1-bit KNX value to boolean.
func DecodeDPT1(data []byte) (bool, error) {
	if len(data) < 1 {
		return false, fmt.Errorf("%w: DPT1 requires 1 byte, got %d", ErrDecodingFailed, len(data))
	}
	return (data[0] & 0x01) != 0, nil
}

// EncodeDPT5 encodes a percentage (0-100) to 1-byte KNX format.
//
// DPT 5.001: Scales 0-100% to 0-255. Out-of-range input is clamped.
func EncodeDPT5(percent float64) []byte {
	if percent < 0 {
		percent = 0
	} else if percent > 100 {
		percent = 100
	}
	value := uint8(math.Round(percent * dpt5MaxValue / 100))
	return []byte{value}
}

// DecodeDPT5 decodes a 1-byte KNX value to percentage.
//
// DPT 5.001: Scales 0-255 to 0-100%.
func DecodeDPT5(data []byte) (float64, error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("%w: DPT5 requires 1 byte, got %d", ErrDecodingFailed, len(data))
	}
	return float64(data[0]) * 100 / dpt5MaxValue, nil
}
