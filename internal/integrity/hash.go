package integrity

import (
	"bytes"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/igelfs/go-igfs/internal/models"
	"github.com/igelfs/go-igfs/internal/types"
)

// ApplyExcludeMask copies the raw section bytes and zeroes every byte an
// exclude record covers. Exclude addresses are absolute image offsets; the
// section's own image position translates them. A non-zero repeat re-applies
// the range every repeat bytes up to the record's end address.
func ApplyExcludeMask(data []byte, sectionIndex uint32, sectionSize int64, excludes []*models.HashExclude) []byte {
	masked := append([]byte(nil), data...)
	secStart := types.StartOfSection(sectionIndex, sectionSize)
	secEnd := secStart + int64(len(masked))

	zero := func(start, size int64) {
		end := start + size
		if end <= secStart || start >= secEnd {
			return
		}
		if start < secStart {
			start = secStart
		}
		if end > secEnd {
			end = secEnd
		}
		for i := start - secStart; i < end-secStart; i++ {
			masked[i] = 0
		}
	}

	for _, exclude := range excludes {
		if exclude.Repeat == 0 {
			zero(int64(exclude.Start), int64(exclude.Size))
			continue
		}
		repeat := int64(exclude.Repeat)
		// Skip straight to the first occurrence that can touch this section.
		pos := int64(exclude.Start)
		if secStart > pos {
			pos += (secStart - pos) / repeat * repeat
		}
		for ; pos <= int64(exclude.End) && pos < secEnd; pos += repeat {
			zero(pos, int64(exclude.Size))
		}
	}
	return masked
}

// SectionDigest hashes masked section bytes with BLAKE2b at the given digest
// size.
func SectionDigest(masked []byte, hashBytes int) ([]byte, error) {
	h, err := blake2b.New(hashBytes, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create BLAKE2b digest: %w", err)
	}
	h.Write(masked)
	return h.Sum(nil), nil
}

// VerifySectionHash recomputes the digest of one chained section and
// compares it against its slot in the hash value block.
func VerifySectionHash(sectionIndex uint32, chainPosition int, data []byte, sectionSize int64, hash *models.HashHeader, excludes []*models.HashExclude, hashValues []byte) error {
	if chainPosition < 0 || uint64(chainPosition) >= hash.CountHash {
		return fmt.Errorf("section %d: chain position %d beyond hash count %d",
			sectionIndex, chainPosition, hash.CountHash)
	}
	masked := ApplyExcludeMask(data, sectionIndex, sectionSize, excludes)
	digest, err := SectionDigest(masked, int(hash.HashBytes))
	if err != nil {
		return err
	}
	offset := chainPosition * int(hash.HashBytes)
	if offset+int(hash.HashBytes) > len(hashValues) {
		return fmt.Errorf("section %d: hash value block of %d bytes too small for slot %d: %w",
			sectionIndex, len(hashValues), chainPosition, types.ErrHashMismatch)
	}
	if !bytes.Equal(digest, hashValues[offset:offset+int(hash.HashBytes)]) {
		return &types.HashMismatchError{Section: sectionIndex}
	}
	return nil
}

// DefaultExcludes builds the standard exclude set for a signed partition:
// the crc, generation and next_section fields of every section header,
// repeated across the whole image, plus the signature and hash value regions
// of the partition's first section.
func DefaultExcludes(imageSize, sectionSize int64, firstSection uint32, first *models.Section) []*models.HashExclude {
	repeat := func(offset int64, size uint32) *models.HashExclude {
		return &models.HashExclude{
			Start:  uint64(offset),
			Size:   size,
			Repeat: uint32(sectionSize),
			End:    uint64(imageSize),
		}
	}

	// The exclude table itself sits between the hash header and the hash
	// values, so the values offset accounts for the five records built
	// here.
	const countExcludes = 5

	secStart := types.StartOfSection(firstSection, sectionSize)
	hdrOverhead := int64(types.SectionHeaderSize)
	if first.Partition != nil {
		hdrOverhead += int64(first.Partition.HdrLen)
	}
	signatureStart := secStart + hdrOverhead + models.SignatureOffset
	valuesStart := secStart + hdrOverhead + int64(models.HashHeaderSize) +
		countExcludes*models.HashExcludeSize
	valuesSize := uint32(first.Hash.CountHash) * uint32(first.Hash.HashBytes)

	return []*models.HashExclude{
		repeat(models.SectionCRCOffset, 4),
		repeat(models.SectionGenerationOffset, 2),
		repeat(models.SectionNextOffset, 4),
		{Start: uint64(signatureStart), Size: types.SignatureSize},
		{Start: uint64(valuesStart), Size: valuesSize},
	}
}
