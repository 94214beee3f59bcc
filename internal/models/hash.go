package models

import (
	"fmt"
	"strings"

	"github.com/igelfs/go-igfs/internal/codec"
	"github.com/igelfs/go-igfs/internal/types"
)

// HashHeaderSize is the fixed size of a hash header, excluding the exclude
// records that hash_header_size also counts and the hash value block that
// hash_block_size counts.
const HashHeaderSize = 560

// HashExcludeSize is the size of one hash exclude record.
const HashExcludeSize = 24

// SignatureOffset is the offset of the signature field within the hash
// header.
const SignatureOffset = 8

// HashHeader describes the per-partition integrity block stored after the
// partition header on the first section of a signed partition.
type HashHeader struct {
	Ident              [6]byte // "chksum"
	Version            uint16
	Signature          [types.SignatureSize]byte // RSA-4096 over hashes and excludes
	CountHash          uint64                    // number of hash values
	SignatureAlgo      uint8
	HashAlgo           uint8
	HashBytes          uint16 // digest size: 32 for sha256-class, 64 for blake2b-512
	Blocksize          uint32 // size of data covered by each hash
	HashHeaderSize     uint32 // header size including excludes
	HashBlockSize      uint32 // size of the hash values block
	CountExcludes      uint16
	ExcludesSize       uint16 // total size of the exclude records in bytes
	OffsetHash         uint32 // offset of hash block from section header
	OffsetHashExcludes uint32 // offset of excludes from start of hash header
	Reserved           [4]byte
}

// ParseHashHeader decodes a hash header from the start of data. The identity
// string is validated; first sections of unsigned partitions fail here and
// the caller treats the bytes as plain payload.
func ParseHashHeader(data []byte) (*HashHeader, error) {
	r := codec.NewReader(data)
	h := &HashHeader{}

	ident, err := r.ReadBytes(6)
	if err != nil {
		return nil, fmt.Errorf("failed to parse hash header: %w", err)
	}
	copy(h.Ident[:], ident)
	if h.IdentString() != types.HashHeaderIdent {
		return nil, &types.InvalidMagicError{
			Where: "hash header",
			Got:   h.IdentString(),
			Want:  types.HashHeaderIdent,
		}
	}

	if h.Version, err = r.ReadU16(); err != nil {
		return nil, fmt.Errorf("failed to parse hash header: %w", err)
	}
	sig, err := r.ReadBytes(types.SignatureSize)
	if err != nil {
		return nil, fmt.Errorf("failed to parse hash header: %w", err)
	}
	copy(h.Signature[:], sig)
	if h.CountHash, err = r.ReadU64(); err != nil {
		return nil, fmt.Errorf("failed to parse hash header: %w", err)
	}
	if h.SignatureAlgo, err = r.ReadU8(); err != nil {
		return nil, fmt.Errorf("failed to parse hash header: %w", err)
	}
	if h.HashAlgo, err = r.ReadU8(); err != nil {
		return nil, fmt.Errorf("failed to parse hash header: %w", err)
	}
	if h.HashBytes, err = r.ReadU16(); err != nil {
		return nil, fmt.Errorf("failed to parse hash header: %w", err)
	}
	if h.Blocksize, err = r.ReadU32(); err != nil {
		return nil, fmt.Errorf("failed to parse hash header: %w", err)
	}
	if h.HashHeaderSize, err = r.ReadU32(); err != nil {
		return nil, fmt.Errorf("failed to parse hash header: %w", err)
	}
	if h.HashBlockSize, err = r.ReadU32(); err != nil {
		return nil, fmt.Errorf("failed to parse hash header: %w", err)
	}
	if h.CountExcludes, err = r.ReadU16(); err != nil {
		return nil, fmt.Errorf("failed to parse hash header: %w", err)
	}
	if h.ExcludesSize, err = r.ReadU16(); err != nil {
		return nil, fmt.Errorf("failed to parse hash header: %w", err)
	}
	if h.OffsetHash, err = r.ReadU32(); err != nil {
		return nil, fmt.Errorf("failed to parse hash header: %w", err)
	}
	if h.OffsetHashExcludes, err = r.ReadU32(); err != nil {
		return nil, fmt.Errorf("failed to parse hash header: %w", err)
	}
	reserved, err := r.ReadBytes(4)
	if err != nil {
		return nil, fmt.Errorf("failed to parse hash header: %w", err)
	}
	copy(h.Reserved[:], reserved)

	return h, nil
}

// Serialize encodes the hash header back to its on-disk form.
func (h *HashHeader) Serialize() []byte {
	w := codec.NewWriter(HashHeaderSize)
	w.WriteBytes(h.Ident[:])
	w.WriteU16(h.Version)
	w.WriteBytes(h.Signature[:])
	w.WriteU64(h.CountHash)
	w.WriteU8(h.SignatureAlgo)
	w.WriteU8(h.HashAlgo)
	w.WriteU16(h.HashBytes)
	w.WriteU32(h.Blocksize)
	w.WriteU32(h.HashHeaderSize)
	w.WriteU32(h.HashBlockSize)
	w.WriteU16(h.CountExcludes)
	w.WriteU16(h.ExcludesSize)
	w.WriteU32(h.OffsetHash)
	w.WriteU32(h.OffsetHashExcludes)
	w.WriteBytes(h.Reserved[:])
	return w.Bytes()
}

// IdentString returns the identity string with trailing NULs stripped.
func (h *HashHeader) IdentString() string {
	return strings.TrimRight(string(h.Ident[:]), "\x00")
}

// HashAlgorithmName names the digest algorithm by its output size.
func (h *HashHeader) HashAlgorithmName() string {
	switch h.HashBytes {
	case 32:
		return "blake2b-256"
	case 64:
		return "blake2b-512"
	default:
		return "unknown"
	}
}

// HashExclude marks a byte range excluded from hashing. Addresses are
// absolute image offsets, not relative to a section or partition. A non-zero
// repeat re-applies the range every repeat bytes up to end.
type HashExclude struct {
	Start  uint64
	Size   uint32
	Repeat uint32
	End    uint64
}

// ParseHashExclude decodes a single exclude record.
func ParseHashExclude(data []byte) (*HashExclude, error) {
	r := codec.NewReader(data)
	e := &HashExclude{}
	var err error
	if e.Start, err = r.ReadU64(); err != nil {
		return nil, fmt.Errorf("failed to parse hash exclude: %w", err)
	}
	if e.Size, err = r.ReadU32(); err != nil {
		return nil, fmt.Errorf("failed to parse hash exclude: %w", err)
	}
	if e.Repeat, err = r.ReadU32(); err != nil {
		return nil, fmt.Errorf("failed to parse hash exclude: %w", err)
	}
	if e.End, err = r.ReadU64(); err != nil {
		return nil, fmt.Errorf("failed to parse hash exclude: %w", err)
	}
	return e, nil
}

// Serialize encodes the exclude record back to its on-disk form.
func (e *HashExclude) Serialize() []byte {
	w := codec.NewWriter(HashExcludeSize)
	w.WriteU64(e.Start)
	w.WriteU32(e.Size)
	w.WriteU32(e.Repeat)
	w.WriteU64(e.End)
	return w.Bytes()
}

// SerializeHashExcludes concatenates the on-disk form of all excludes, in
// order. This is also the byte string covered by the hash block signature
// together with the hash values.
func SerializeHashExcludes(excludes []*HashExclude) []byte {
	out := make([]byte, 0, len(excludes)*HashExcludeSize)
	for _, e := range excludes {
		out = append(out, e.Serialize()...)
	}
	return out
}
