// Package integrity implements the IGFS per-section integrity pipeline:
// CRC32 checksums, the BLAKE2b hash chain with byte-range exclusions, and
// RSA-signed hash manifests.
package integrity

import (
	"hash/crc32"

	"github.com/igelfs/go-igfs/internal/types"
)

// SectionCRC computes the CRC32 of raw section bytes past the crc field,
// using the IEEE polynomial with the standard initial value and final XOR.
func SectionCRC(data []byte) uint32 {
	return crc32.ChecksumIEEE(data[types.SectionCRCStart:])
}

// VerifySectionCRC checks the stored crc of section n against the
// recomputed value.
func VerifySectionCRC(n uint32, data []byte) error {
	stored := uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24
	if SectionCRC(data) != stored {
		return &types.ChecksumError{Section: n}
	}
	return nil
}
