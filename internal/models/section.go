package models

import (
	"fmt"
	"hash/crc32"

	"github.com/igelfs/go-igfs/internal/codec"
	"github.com/igelfs/go-igfs/internal/types"
)

// SectionHeader is the 32-byte header at the start of every section.
type SectionHeader struct {
	CRC            uint32 // CRC32 of the rest of the section
	Magic          uint32 // erase count long ago, unused today
	SectionType    uint16
	SectionSize    uint16 // log2((section size in bytes) / 65536)
	PartitionMinor uint32 // partition number (driver minor number)
	Generation     uint16 // update generation count
	SectionInMinor uint32 // index of the section within its partition
	NextSection    uint32 // next section number, or 0xFFFFFFFF at end of chain
	Reserved       [6]byte
}

// Field offsets within the section header, used by the default hash
// exclude ranges.
const (
	SectionCRCOffset        = 0
	SectionGenerationOffset = 16
	SectionNextOffset       = 22
)

// ParseSectionHeader decodes a section header from the start of data.
func ParseSectionHeader(data []byte) (*SectionHeader, error) {
	r := codec.NewReader(data)
	h := &SectionHeader{}
	var err error
	if h.CRC, err = r.ReadU32(); err != nil {
		return nil, fmt.Errorf("failed to parse section header: %w", err)
	}
	if h.Magic, err = r.ReadU32(); err != nil {
		return nil, fmt.Errorf("failed to parse section header: %w", err)
	}
	if h.SectionType, err = r.ReadU16(); err != nil {
		return nil, fmt.Errorf("failed to parse section header: %w", err)
	}
	if h.SectionSize, err = r.ReadU16(); err != nil {
		return nil, fmt.Errorf("failed to parse section header: %w", err)
	}
	if h.PartitionMinor, err = r.ReadU32(); err != nil {
		return nil, fmt.Errorf("failed to parse section header: %w", err)
	}
	if h.Generation, err = r.ReadU16(); err != nil {
		return nil, fmt.Errorf("failed to parse section header: %w", err)
	}
	if h.SectionInMinor, err = r.ReadU32(); err != nil {
		return nil, fmt.Errorf("failed to parse section header: %w", err)
	}
	if h.NextSection, err = r.ReadU32(); err != nil {
		return nil, fmt.Errorf("failed to parse section header: %w", err)
	}
	reserved, err := r.ReadBytes(6)
	if err != nil {
		return nil, fmt.Errorf("failed to parse section header: %w", err)
	}
	copy(h.Reserved[:], reserved)
	return h, nil
}

// Serialize encodes the section header back to its on-disk form.
func (h *SectionHeader) Serialize() []byte {
	w := codec.NewWriter(types.SectionHeaderSize)
	w.WriteU32(h.CRC)
	w.WriteU32(h.Magic)
	w.WriteU16(h.SectionType)
	w.WriteU16(h.SectionSize)
	w.WriteU32(h.PartitionMinor)
	w.WriteU16(h.Generation)
	w.WriteU32(h.SectionInMinor)
	w.WriteU32(h.NextSection)
	w.WriteBytes(h.Reserved[:])
	return w.Bytes()
}

// EndOfChain reports whether this section terminates its partition chain.
func (h *SectionHeader) EndOfChain() bool {
	return h.NextSection == types.EndOfChain
}

// Section is one fixed-size chunk of the image: a section header followed by
// optional partition and hash blocks, then payload.
//
// Only the first section of a partition carries a partition header, and only
// signed partitions carry a hash block. Derive separates those groups from
// the raw data; on every other section Data is pure payload.
type Section struct {
	Header *SectionHeader

	// Derived groups, present on the first section of a partition.
	Partition    *PartitionHeader
	Extents      []*PartitionExtent
	Hash         *HashHeader
	HashExcludes []*HashExclude
	HashValues   []byte

	// Data is the payload after any derived groups.
	Data []byte

	size int
}

// ParseSection decodes a full section and derives its optional groups.
func ParseSection(data []byte) (*Section, error) {
	if len(data) < types.SectionHeaderSize {
		return nil, &codec.ErrTruncated{Wanted: types.SectionHeaderSize, Remaining: len(data)}
	}
	header, err := ParseSectionHeader(data)
	if err != nil {
		return nil, err
	}
	s := &Section{
		Header: header,
		Data:   append([]byte(nil), data[types.SectionHeaderSize:]...),
		size:   len(data),
	}
	s.derive()
	return s, nil
}

// derive re-parses the data prefix into partition header, extent descriptors
// and hash block. Derivation is best-effort: a prefix that does not satisfy
// the structural checks leaves the bytes in Data untouched.
func (s *Section) derive() {
	data := s.Data

	partition, err := ParsePartitionHeader(data)
	if err != nil || !partition.ValidateHdrLen() {
		return
	}
	data = data[PartitionHeaderSize:]

	extents := make([]*PartitionExtent, 0, partition.NExtents)
	for i := 0; i < int(partition.NExtents); i++ {
		extent, err := ParsePartitionExtent(data)
		if err != nil {
			return
		}
		extents = append(extents, extent)
		data = data[PartitionExtentSize:]
	}
	s.Partition = partition
	s.Extents = extents
	s.Data = data

	hash, err := ParseHashHeader(data)
	if err != nil {
		return
	}
	data = data[HashHeaderSize:]

	excludes := make([]*HashExclude, 0, hash.CountExcludes)
	for i := 0; i < int(hash.CountExcludes); i++ {
		exclude, err := ParseHashExclude(data)
		if err != nil {
			return
		}
		excludes = append(excludes, exclude)
		data = data[HashExcludeSize:]
	}
	if int(hash.HashBlockSize) > len(data) {
		return
	}
	s.Hash = hash
	s.HashExcludes = excludes
	s.HashValues = append([]byte(nil), data[:hash.HashBlockSize]...)
	s.Data = data[hash.HashBlockSize:]
}

// Size returns the section size in bytes.
func (s *Section) Size() int {
	if s.size > 0 {
		return s.size
	}
	return types.SectionSize
}

// Serialize concatenates the header, derived groups and payload back into the
// full on-disk section. The stored CRC field is written as-is; use
// SerializeWithCRC on the write path.
func (s *Section) Serialize() []byte {
	w := codec.NewWriter(s.Size())
	w.WriteBytes(s.Header.Serialize())
	if s.Partition != nil {
		w.WriteBytes(s.Partition.Serialize())
		for _, extent := range s.Extents {
			w.WriteBytes(extent.Serialize())
		}
	}
	if s.Hash != nil {
		w.WriteBytes(s.Hash.Serialize())
		w.WriteBytes(SerializeHashExcludes(s.HashExcludes))
		w.WriteBytes(s.HashValues)
	}
	w.WriteBytes(s.Data)
	w.WritePadding(s.Size() - w.Len())
	return w.Bytes()
}

// ComputeCRC returns the CRC32 of the serialized section past the crc field.
func (s *Section) ComputeCRC() uint32 {
	return crc32.ChecksumIEEE(s.Serialize()[types.SectionCRCStart:])
}

// SerializeWithCRC recomputes the CRC over the serialized section and returns
// the bytes with the fresh value patched in. The header's CRC field is
// updated in place. Hash values and the signature must already be final: the
// CRC is always written last.
func (s *Section) SerializeWithCRC() []byte {
	s.Header.CRC = s.ComputeCRC()
	return s.Serialize()
}

// HeaderOverhead returns the number of bytes occupied by the section header
// and any derived groups before the payload.
func (s *Section) HeaderOverhead() int {
	overhead := types.SectionHeaderSize
	if s.Partition != nil {
		overhead += PartitionHeaderSize + len(s.Extents)*PartitionExtentSize
	}
	if s.Hash != nil {
		overhead += HashHeaderSize + len(s.HashExcludes)*HashExcludeSize + len(s.HashValues)
	}
	return overhead
}
