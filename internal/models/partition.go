package models

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/igelfs/go-igfs/internal/codec"
	"github.com/igelfs/go-igfs/internal/types"
)

// PartitionHeaderSize is the fixed size of a partition header, excluding the
// extent descriptors counted by hdrlen.
const PartitionHeaderSize = 124

// PartitionExtentSize is the size of one extent descriptor.
const PartitionExtentSize = 26

// PartitionHeader is the header stored at the start of the first section of a
// partition, directly after the section header.
//
// The type field carries the partition type in its low byte and the partition
// flag bits above it. Unlike every other integer of the format it is stored
// big-endian on disk; the flash driver inherited the layout from an earlier
// network byte order revision and never changed it.
type PartitionHeader struct {
	Type             uint16 // partition type and flags, big-endian on disk
	HdrLen           uint16 // length of the header including extent descriptors
	PartLen          uint64 // length of this partition including the header
	NBlocks          uint64 // number of uncompressed 1k blocks
	OffsetBlocktable uint64 // block table offset, compressed partitions only
	OffsetBlocks     uint64 // start of the compressed block clusters
	NClusters        uint32 // number of clusters
	ClusterShift     uint16 // 2^x blocks make up a cluster
	NExtents         uint16 // number of extent descriptors following
	Name             [16]byte
	UpdateHash       [64]byte // high level hash used to detect needed updates
}

// ParsePartitionHeader decodes a partition header from the start of data.
func ParsePartitionHeader(data []byte) (*PartitionHeader, error) {
	r := codec.NewReader(data)
	h := &PartitionHeader{}

	typeBytes, err := r.ReadBytes(2)
	if err != nil {
		return nil, fmt.Errorf("failed to parse partition header: %w", err)
	}
	h.Type = binary.BigEndian.Uint16(typeBytes)

	if h.HdrLen, err = r.ReadU16(); err != nil {
		return nil, fmt.Errorf("failed to parse partition header: %w", err)
	}
	if h.PartLen, err = r.ReadU64(); err != nil {
		return nil, fmt.Errorf("failed to parse partition header: %w", err)
	}
	if h.NBlocks, err = r.ReadU64(); err != nil {
		return nil, fmt.Errorf("failed to parse partition header: %w", err)
	}
	if h.OffsetBlocktable, err = r.ReadU64(); err != nil {
		return nil, fmt.Errorf("failed to parse partition header: %w", err)
	}
	if h.OffsetBlocks, err = r.ReadU64(); err != nil {
		return nil, fmt.Errorf("failed to parse partition header: %w", err)
	}
	if h.NClusters, err = r.ReadU32(); err != nil {
		return nil, fmt.Errorf("failed to parse partition header: %w", err)
	}
	if h.ClusterShift, err = r.ReadU16(); err != nil {
		return nil, fmt.Errorf("failed to parse partition header: %w", err)
	}
	if h.NExtents, err = r.ReadU16(); err != nil {
		return nil, fmt.Errorf("failed to parse partition header: %w", err)
	}
	name, err := r.ReadBytes(16)
	if err != nil {
		return nil, fmt.Errorf("failed to parse partition header: %w", err)
	}
	copy(h.Name[:], name)
	updateHash, err := r.ReadBytes(64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse partition header: %w", err)
	}
	copy(h.UpdateHash[:], updateHash)

	return h, nil
}

// Serialize encodes the header back to its on-disk form, without the extent
// descriptors.
func (h *PartitionHeader) Serialize() []byte {
	w := codec.NewWriter(PartitionHeaderSize)
	var typeBytes [2]byte
	binary.BigEndian.PutUint16(typeBytes[:], h.Type)
	w.WriteBytes(typeBytes[:])
	w.WriteU16(h.HdrLen)
	w.WriteU64(h.PartLen)
	w.WriteU64(h.NBlocks)
	w.WriteU64(h.OffsetBlocktable)
	w.WriteU64(h.OffsetBlocks)
	w.WriteU32(h.NClusters)
	w.WriteU16(h.ClusterShift)
	w.WriteU16(h.NExtents)
	w.WriteBytes(h.Name[:])
	w.WriteBytes(h.UpdateHash[:])
	return w.Bytes()
}

// GetType returns the partition type from the low byte of the type field.
func (h *PartitionHeader) GetType() types.PartitionType {
	return types.PartitionType(h.Type & 0xFF)
}

// Flags returns the flag bits carried above the type byte.
func (h *PartitionHeader) Flags() types.PartitionFlag {
	return types.PartitionFlag(h.Type &^ 0xFF)
}

// HasHash reports whether the partition declares a hash block.
func (h *PartitionHeader) HasHash() bool {
	return h.Flags()&types.PartFlagHasIGELHash != 0
}

// IsEncrypted reports whether the partition payload is encrypted.
func (h *PartitionHeader) IsEncrypted() bool {
	return h.Flags()&types.PartFlagHasCrypt != 0
}

// ValidateHdrLen checks that hdrlen is consistent with the extent count. A
// first section whose bytes do not satisfy this was written without a
// partition header.
func (h *PartitionHeader) ValidateHdrLen() bool {
	return int(h.HdrLen) == PartitionHeaderSize+int(h.NExtents)*PartitionExtentSize
}

// PartitionExtent is one extent descriptor: a named byte range within the
// partition's concatenated payload.
type PartitionExtent struct {
	Type   uint16
	Offset uint64
	Length uint64
	Name   [8]byte
}

// ParsePartitionExtent decodes a single extent descriptor.
func ParsePartitionExtent(data []byte) (*PartitionExtent, error) {
	r := codec.NewReader(data)
	e := &PartitionExtent{}
	var err error
	if e.Type, err = r.ReadU16(); err != nil {
		return nil, fmt.Errorf("failed to parse extent descriptor: %w", err)
	}
	if e.Offset, err = r.ReadU64(); err != nil {
		return nil, fmt.Errorf("failed to parse extent descriptor: %w", err)
	}
	if e.Length, err = r.ReadU64(); err != nil {
		return nil, fmt.Errorf("failed to parse extent descriptor: %w", err)
	}
	name, err := r.ReadBytes(8)
	if err != nil {
		return nil, fmt.Errorf("failed to parse extent descriptor: %w", err)
	}
	copy(e.Name[:], name)
	return e, nil
}

// Serialize encodes the extent descriptor back to its on-disk form.
func (e *PartitionExtent) Serialize() []byte {
	w := codec.NewWriter(PartitionExtentSize)
	w.WriteU16(e.Type)
	w.WriteU64(e.Offset)
	w.WriteU64(e.Length)
	w.WriteBytes(e.Name[:])
	return w.Bytes()
}

// GetType returns the extent type.
func (e *PartitionExtent) GetType() types.ExtentType {
	return types.ExtentType(e.Type)
}

// NameString returns the extent name with trailing NUL padding stripped.
func (e *PartitionExtent) NameString() string {
	return strings.TrimRight(string(e.Name[:]), "\x00")
}
