package models

import (
	"encoding/binary"

	"github.com/igelfs/go-igfs/internal/types"
)

// createSectionHeaderBytes builds a raw 32-byte section header.
func createSectionHeaderBytes(crc uint32, minor uint32, generation uint16, inMinor, next uint32) []byte {
	data := make([]byte, types.SectionHeaderSize)
	binary.LittleEndian.PutUint32(data[0:4], crc)
	binary.LittleEndian.PutUint32(data[4:8], 0xDEADC0DE) // magic, unused
	binary.LittleEndian.PutUint16(data[8:10], 1)         // section_type
	binary.LittleEndian.PutUint16(data[10:12], types.SectionSizeExponent)
	binary.LittleEndian.PutUint32(data[12:16], minor)
	binary.LittleEndian.PutUint16(data[16:18], generation)
	binary.LittleEndian.PutUint32(data[18:22], inMinor)
	binary.LittleEndian.PutUint32(data[22:26], next)
	return data
}

// createPartitionHeaderBytes builds a raw 124-byte partition header with the
// given extent count. The type field is big-endian on disk.
func createPartitionHeaderBytes(partType uint16, nExtents uint16, partLen uint64, name string) []byte {
	data := make([]byte, PartitionHeaderSize)
	binary.BigEndian.PutUint16(data[0:2], partType)
	hdrlen := uint16(PartitionHeaderSize + int(nExtents)*PartitionExtentSize)
	binary.LittleEndian.PutUint16(data[2:4], hdrlen)
	binary.LittleEndian.PutUint64(data[4:12], partLen)
	binary.LittleEndian.PutUint64(data[12:20], partLen/1024) // n_blocks
	binary.LittleEndian.PutUint32(data[36:40], 0)            // n_clusters
	binary.LittleEndian.PutUint16(data[40:42], 0)            // cluster_shift
	binary.LittleEndian.PutUint16(data[42:44], nExtents)
	copy(data[44:60], name)
	return data
}

// createExtentBytes builds one raw 26-byte extent descriptor.
func createExtentBytes(extType uint16, offset, length uint64, name string) []byte {
	data := make([]byte, PartitionExtentSize)
	binary.LittleEndian.PutUint16(data[0:2], extType)
	binary.LittleEndian.PutUint64(data[2:10], offset)
	binary.LittleEndian.PutUint64(data[10:18], length)
	copy(data[18:26], name)
	return data
}

// createHashHeaderBytes builds a raw 560-byte hash header.
func createHashHeaderBytes(countHash uint64, hashBytes uint16, countExcludes uint16, offsetHash uint32) []byte {
	data := make([]byte, HashHeaderSize)
	copy(data[0:6], types.HashHeaderIdent)
	binary.LittleEndian.PutUint16(data[6:8], 1) // version
	// signature region data[8:520] left zero
	binary.LittleEndian.PutUint64(data[520:528], countHash)
	data[528] = 1 // signature_algo
	data[529] = 1 // hash_algo
	binary.LittleEndian.PutUint16(data[530:532], hashBytes)
	binary.LittleEndian.PutUint32(data[532:536], types.SectionSize) // blocksize
	headerSize := uint32(HashHeaderSize + int(countExcludes)*HashExcludeSize)
	binary.LittleEndian.PutUint32(data[536:540], headerSize)
	binary.LittleEndian.PutUint32(data[540:544], uint32(countHash)*uint32(hashBytes))
	binary.LittleEndian.PutUint16(data[544:546], countExcludes)
	binary.LittleEndian.PutUint16(data[546:548], countExcludes*HashExcludeSize)
	binary.LittleEndian.PutUint32(data[548:552], offsetHash)
	binary.LittleEndian.PutUint32(data[552:556], HashHeaderSize)
	return data
}

// createHashExcludeBytes builds one raw 24-byte exclude record.
func createHashExcludeBytes(start uint64, size, repeat uint32, end uint64) []byte {
	data := make([]byte, HashExcludeSize)
	binary.LittleEndian.PutUint64(data[0:8], start)
	binary.LittleEndian.PutUint32(data[8:12], size)
	binary.LittleEndian.PutUint32(data[12:16], repeat)
	binary.LittleEndian.PutUint64(data[16:24], end)
	return data
}
