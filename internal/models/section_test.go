package models

import (
	"bytes"
	"errors"
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/igelfs/go-igfs/internal/types"
)

func TestParseSectionHeader(t *testing.T) {
	data := createSectionHeaderBytes(0x11223344, 1, 7, 3, 42)

	header, err := ParseSectionHeader(data)
	require.NoError(t, err)

	assert.Equal(t, uint32(0x11223344), header.CRC)
	assert.Equal(t, uint32(1), header.PartitionMinor)
	assert.Equal(t, uint16(7), header.Generation)
	assert.Equal(t, uint32(3), header.SectionInMinor)
	assert.Equal(t, uint32(42), header.NextSection)
	assert.False(t, header.EndOfChain())
	assert.Equal(t, int64(types.SectionSize), types.SectionSizeFromExponent(header.SectionSize))
}

func TestParseSectionHeaderTruncated(t *testing.T) {
	_, err := ParseSectionHeader(make([]byte, 16))
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrTruncated))
}

func TestSectionHeaderRoundTrip(t *testing.T) {
	data := createSectionHeaderBytes(0xAABBCCDD, 250, 1, 0, types.EndOfChain)
	copy(data[26:32], []byte{1, 2, 3, 4, 5, 6})

	header, err := ParseSectionHeader(data)
	require.NoError(t, err)
	assert.True(t, header.EndOfChain())
	assert.Equal(t, data, header.Serialize())
}

func TestParseSectionPlainPayload(t *testing.T) {
	data := make([]byte, types.SectionSize)
	copy(data, createSectionHeaderBytes(0, 1, 0, 1, types.EndOfChain))
	payload := []byte("squashfs bytes continue here")
	copy(data[types.SectionHeaderSize:], payload)

	section, err := ParseSection(data)
	require.NoError(t, err)

	// Non-first sections derive nothing.
	assert.Nil(t, section.Partition)
	assert.Nil(t, section.Hash)
	assert.Equal(t, types.SectionDataSize, len(section.Data))
	assert.Equal(t, payload, section.Data[:len(payload)])
	assert.Equal(t, types.SectionHeaderSize, section.HeaderOverhead())
}

func TestParseSectionDerivesPartitionAndHash(t *testing.T) {
	nExtents := uint16(2)
	countHash := uint64(3)
	hashBytes := uint16(types.HashByteLen)

	data := make([]byte, types.SectionSize)
	copy(data, createSectionHeaderBytes(0, 1, 0, 0, 1))
	offset := types.SectionHeaderSize
	partType := uint16(types.PartTypeIGELCompress) | uint16(types.PartFlagHasIGELHash)
	copy(data[offset:], createPartitionHeaderBytes(partType, nExtents, 4*types.SectionSize, "sys"))
	offset += PartitionHeaderSize
	copy(data[offset:], createExtentBytes(uint16(types.ExtentTypeKernel), 0, 0x1000, "kernel"))
	offset += PartitionExtentSize
	copy(data[offset:], createExtentBytes(uint16(types.ExtentTypeSplash), 0x1000, 0x800, "splash"))
	offset += PartitionExtentSize
	copy(data[offset:], createHashHeaderBytes(countHash, hashBytes, 1, uint32(offset-types.SectionHeaderSize)))
	offset += HashHeaderSize
	copy(data[offset:], createHashExcludeBytes(0, 4, types.SectionSize, 4*types.SectionSize))
	offset += HashExcludeSize
	hashValues := bytes.Repeat([]byte{0x5A}, int(countHash)*int(hashBytes))
	copy(data[offset:], hashValues)
	offset += len(hashValues)
	copy(data[offset:], "payload starts here")

	section, err := ParseSection(data)
	require.NoError(t, err)

	require.NotNil(t, section.Partition)
	assert.Equal(t, types.PartTypeIGELCompress, section.Partition.GetType())
	assert.True(t, section.Partition.HasHash())
	assert.False(t, section.Partition.IsEncrypted())
	require.Len(t, section.Extents, 2)
	assert.Equal(t, "kernel", section.Extents[0].NameString())
	assert.Equal(t, types.ExtentTypeSplash, section.Extents[1].GetType())

	require.NotNil(t, section.Hash)
	assert.Equal(t, countHash, section.Hash.CountHash)
	require.Len(t, section.HashExcludes, 1)
	assert.Equal(t, uint32(types.SectionSize), section.HashExcludes[0].Repeat)
	assert.Equal(t, hashValues, section.HashValues)

	assert.Equal(t, []byte("payload starts here"), section.Data[:19])
	assert.Equal(t, offset, section.HeaderOverhead())
}

func TestSectionRoundTrip(t *testing.T) {
	data := make([]byte, types.SectionSize)
	copy(data, createSectionHeaderBytes(0x01020304, 5, 2, 0, types.EndOfChain))
	offset := types.SectionHeaderSize
	copy(data[offset:], createPartitionHeaderBytes(uint16(types.PartTypeIGELRaw), 1, types.SectionSize, "wfs"))
	offset += PartitionHeaderSize
	copy(data[offset:], createExtentBytes(uint16(types.ExtentTypeWriteable), 0, 2048, "wfs"))
	for i := offset + PartitionExtentSize; i < len(data); i++ {
		data[i] = byte(i)
	}

	section, err := ParseSection(data)
	require.NoError(t, err)
	assert.Equal(t, data, section.Serialize())
}

func TestSerializeWithCRC(t *testing.T) {
	data := make([]byte, types.SectionSize)
	copy(data, createSectionHeaderBytes(0, 9, 0, 0, types.EndOfChain))
	data[types.SectionSize-1] = 0x77

	section, err := ParseSection(data)
	require.NoError(t, err)

	out := section.SerializeWithCRC()
	want := crc32.ChecksumIEEE(out[types.SectionCRCStart:])
	assert.Equal(t, want, section.Header.CRC)

	// Round-trips once the crc is in place.
	reparsed, err := ParseSection(out)
	require.NoError(t, err)
	assert.Equal(t, want, reparsed.Header.CRC)
	assert.Equal(t, out, reparsed.Serialize())
}
