package models

import (
	"fmt"
	"hash/crc32"

	"github.com/igelfs/go-igfs/internal/codec"
	"github.com/igelfs/go-igfs/internal/types"
)

// PartitionDescriptorSize is the size of one partition descriptor.
const PartitionDescriptorSize = 10

// FragmentDescriptorSize is the size of one fragment descriptor.
const FragmentDescriptorSize = 8

// DirectoryHeaderSize is the fixed prefix of the directory before the
// descriptor tables.
const DirectoryHeaderSize = 32

// DirectorySize is the total serialized size of the directory model.
const DirectorySize = DirectoryHeaderSize +
	types.DirMaxMinors*PartitionDescriptorSize +
	types.MaxFragments*FragmentDescriptorSize

// DirectoryCRCOffset is where the directory CRC coverage begins; the magic
// and crc fields are excluded.
const DirectoryCRCOffset = 8

// PartitionDescriptor maps a partition minor to its fragment range.
type PartitionDescriptor struct {
	Minor         uint32 // replicates igf_sect_hdr.partition_minor
	Type          uint16 // replicates igf_part_hdr.type
	FirstFragment uint16 // index of the first fragment
	NFragments    uint16 // number of fragments
}

// GetType returns the partition type of the descriptor.
func (d *PartitionDescriptor) GetType() types.PartitionType {
	return types.PartitionType(d.Type & 0xFF)
}

// FragmentDescriptor is a contiguous run of sections.
type FragmentDescriptor struct {
	FirstSection uint32
	Length       uint32 // number of sections
}

// Directory is the partition lookup table in section #0, after the boot
// registry.
type Directory struct {
	Magic        [4]byte // "PDIR"
	CRC          uint32
	DirType      uint16
	MaxMinors    uint16
	Version      uint16
	Dummy        uint16
	NFragments   uint32
	MaxFragments uint32
	Extension    [8]byte
	Partitions   [types.DirMaxMinors]PartitionDescriptor
	Fragments    [types.MaxFragments]FragmentDescriptor
}

// NewDirectory returns an empty directory with the default header values.
func NewDirectory() *Directory {
	d := &Directory{
		Version:      1,
		MaxMinors:    types.DirMaxMinors,
		MaxFragments: types.MaxFragments,
	}
	copy(d.Magic[:], types.DirectoryMagic)
	return d
}

// ParseDirectory decodes the directory from the start of data.
func ParseDirectory(data []byte) (*Directory, error) {
	r := codec.NewReader(data)
	d := &Directory{}

	magic, err := r.ReadBytes(4)
	if err != nil {
		return nil, fmt.Errorf("failed to parse directory: %w", err)
	}
	copy(d.Magic[:], magic)
	if string(d.Magic[:]) != types.DirectoryMagic {
		return nil, &types.InvalidMagicError{
			Where: "directory",
			Got:   string(d.Magic[:]),
			Want:  types.DirectoryMagic,
		}
	}

	if d.CRC, err = r.ReadU32(); err != nil {
		return nil, fmt.Errorf("failed to parse directory: %w", err)
	}
	if d.DirType, err = r.ReadU16(); err != nil {
		return nil, fmt.Errorf("failed to parse directory: %w", err)
	}
	if d.MaxMinors, err = r.ReadU16(); err != nil {
		return nil, fmt.Errorf("failed to parse directory: %w", err)
	}
	if d.Version, err = r.ReadU16(); err != nil {
		return nil, fmt.Errorf("failed to parse directory: %w", err)
	}
	if d.Dummy, err = r.ReadU16(); err != nil {
		return nil, fmt.Errorf("failed to parse directory: %w", err)
	}
	if d.NFragments, err = r.ReadU32(); err != nil {
		return nil, fmt.Errorf("failed to parse directory: %w", err)
	}
	if d.MaxFragments, err = r.ReadU32(); err != nil {
		return nil, fmt.Errorf("failed to parse directory: %w", err)
	}
	extension, err := r.ReadBytes(8)
	if err != nil {
		return nil, fmt.Errorf("failed to parse directory: %w", err)
	}
	copy(d.Extension[:], extension)

	for i := range d.Partitions {
		p := &d.Partitions[i]
		if p.Minor, err = r.ReadU32(); err != nil {
			return nil, fmt.Errorf("failed to parse partition descriptor %d: %w", i, err)
		}
		if p.Type, err = r.ReadU16(); err != nil {
			return nil, fmt.Errorf("failed to parse partition descriptor %d: %w", i, err)
		}
		if p.FirstFragment, err = r.ReadU16(); err != nil {
			return nil, fmt.Errorf("failed to parse partition descriptor %d: %w", i, err)
		}
		if p.NFragments, err = r.ReadU16(); err != nil {
			return nil, fmt.Errorf("failed to parse partition descriptor %d: %w", i, err)
		}
	}
	for i := range d.Fragments {
		f := &d.Fragments[i]
		if f.FirstSection, err = r.ReadU32(); err != nil {
			return nil, fmt.Errorf("failed to parse fragment descriptor %d: %w", i, err)
		}
		if f.Length, err = r.ReadU32(); err != nil {
			return nil, fmt.Errorf("failed to parse fragment descriptor %d: %w", i, err)
		}
	}

	return d, nil
}

// Serialize encodes the directory back to its on-disk form. The stored CRC
// field is written as-is; use SerializeWithCRC on the write path.
func (d *Directory) Serialize() []byte {
	w := codec.NewWriter(DirectorySize)
	w.WriteBytes(d.Magic[:])
	w.WriteU32(d.CRC)
	w.WriteU16(d.DirType)
	w.WriteU16(d.MaxMinors)
	w.WriteU16(d.Version)
	w.WriteU16(d.Dummy)
	w.WriteU32(d.NFragments)
	w.WriteU32(d.MaxFragments)
	w.WriteBytes(d.Extension[:])
	for i := range d.Partitions {
		p := &d.Partitions[i]
		w.WriteU32(p.Minor)
		w.WriteU16(p.Type)
		w.WriteU16(p.FirstFragment)
		w.WriteU16(p.NFragments)
	}
	for i := range d.Fragments {
		f := &d.Fragments[i]
		w.WriteU32(f.FirstSection)
		w.WriteU32(f.Length)
	}
	return w.Bytes()
}

// ComputeCRC returns the CRC32 of the serialized directory past the crc
// field.
func (d *Directory) ComputeCRC() uint32 {
	return crc32.ChecksumIEEE(d.Serialize()[DirectoryCRCOffset:])
}

// SerializeWithCRC recomputes the directory CRC and returns the serialized
// bytes with the fresh value patched in.
func (d *Directory) SerializeWithCRC() []byte {
	d.CRC = d.ComputeCRC()
	return d.Serialize()
}

// FindPartitionByMinor returns the descriptor for the given partition minor,
// or nil when the partition does not exist. Descriptors with no fragments are
// free slots and are skipped.
func (d *Directory) FindPartitionByMinor(minor uint32) *PartitionDescriptor {
	for i := range d.Partitions {
		p := &d.Partitions[i]
		if p.NFragments == 0 {
			continue
		}
		if p.Minor == minor {
			return p
		}
	}
	return nil
}

// FirstSectionOf follows the descriptor's first fragment into the fragment
// table and returns its first section number.
func (d *Directory) FirstSectionOf(desc *PartitionDescriptor) (uint32, error) {
	if int(desc.FirstFragment) >= len(d.Fragments) {
		return 0, fmt.Errorf("partition %d: fragment index %d beyond table: %w",
			desc.Minor, desc.FirstFragment, types.ErrCorruptDirectory)
	}
	return d.Fragments[desc.FirstFragment].FirstSection, nil
}

// PartitionMinors returns the sorted set of partition minors present in the
// directory. Minor 0 is the directory itself and is not listed.
func (d *Directory) PartitionMinors() []uint32 {
	var minors []uint32
	for i := range d.Partitions {
		p := &d.Partitions[i]
		if p.NFragments == 0 || p.Minor == 0 {
			continue
		}
		minors = append(minors, p.Minor)
	}
	for i := 1; i < len(minors); i++ {
		for j := i; j > 0 && minors[j-1] > minors[j]; j-- {
			minors[j-1], minors[j] = minors[j], minors[j-1]
		}
	}
	return minors
}

// CreateEntry registers a new partition's fragment range in the first free
// descriptor slots.
func (d *Directory) CreateEntry(minor uint32, firstSection, length uint32) error {
	if d.FindPartitionByMinor(minor) != nil {
		return fmt.Errorf("partition %d already has a directory entry", minor)
	}
	var partition *PartitionDescriptor
	for i := range d.Partitions {
		if d.Partitions[i].GetType() == types.PartTypeEmpty && d.Partitions[i].NFragments == 0 {
			partition = &d.Partitions[i]
			break
		}
	}
	if partition == nil {
		return fmt.Errorf("no free partition descriptors: %w", types.ErrCorruptDirectory)
	}
	var fragment *FragmentDescriptor
	var fragmentIndex int
	for i := range d.Fragments {
		if d.Fragments[i].FirstSection == 0 && d.Fragments[i].Length == 0 {
			fragment = &d.Fragments[i]
			fragmentIndex = i
			break
		}
	}
	if fragment == nil {
		return fmt.Errorf("no free fragment descriptors: %w", types.ErrCorruptDirectory)
	}

	partition.Minor = minor
	partition.Type = uint16(types.PartTypeIGELCompress)
	partition.FirstFragment = uint16(fragmentIndex)
	partition.NFragments = 1
	fragment.FirstSection = firstSection
	fragment.Length = length
	d.NFragments++
	return nil
}

// UpdateEntry rewrites the fragment range of an existing partition entry.
func (d *Directory) UpdateEntry(minor uint32, firstSection, length uint32) error {
	desc := d.FindPartitionByMinor(minor)
	if desc == nil {
		return fmt.Errorf("partition %d has no directory entry", minor)
	}
	if int(desc.FirstFragment) >= len(d.Fragments) {
		return fmt.Errorf("partition %d: fragment index %d beyond table: %w",
			minor, desc.FirstFragment, types.ErrCorruptDirectory)
	}
	fragment := &d.Fragments[desc.FirstFragment]
	fragment.FirstSection = firstSection
	fragment.Length = length
	return nil
}
