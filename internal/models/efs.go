package models

import (
	"crypto/sha256"
	"fmt"

	"github.com/igelfs/go-igfs/internal/codec"
	"github.com/igelfs/go-igfs/internal/types"
)

// ExtentFilesystem is the encrypted container stored in a WRITEABLE extent:
// a 48-byte header followed by the AEAD ciphertext region.
type ExtentFilesystem struct {
	Magic         [4]byte
	Reserved1     [4]byte
	Nonce1        [8]byte
	Nonce2        [1]byte
	Reserved2     [7]byte
	Size          uint64  // ciphertext length within Data
	Authenticated [8]byte // AEAD associated data
	Reserved3     [8]byte
	Data          []byte
}

// ParseExtentFilesystem decodes an extent filesystem container.
func ParseExtentFilesystem(data []byte) (*ExtentFilesystem, error) {
	r := codec.NewReader(data)
	e := &ExtentFilesystem{}

	magic, err := r.ReadBytes(4)
	if err != nil {
		return nil, fmt.Errorf("failed to parse extent filesystem: %w", err)
	}
	copy(e.Magic[:], magic)
	if string(e.Magic[:]) != types.ExtentFSMagic {
		return nil, &types.InvalidMagicError{
			Where: "extent filesystem",
			Got:   string(e.Magic[:]),
			Want:  types.ExtentFSMagic,
		}
	}

	for _, dst := range [][]byte{e.Reserved1[:], e.Nonce1[:], e.Nonce2[:], e.Reserved2[:]} {
		b, err := r.ReadBytes(len(dst))
		if err != nil {
			return nil, fmt.Errorf("failed to parse extent filesystem: %w", err)
		}
		copy(dst, b)
	}
	if e.Size, err = r.ReadU64(); err != nil {
		return nil, fmt.Errorf("failed to parse extent filesystem: %w", err)
	}
	for _, dst := range [][]byte{e.Authenticated[:], e.Reserved3[:]} {
		b, err := r.ReadBytes(len(dst))
		if err != nil {
			return nil, fmt.Errorf("failed to parse extent filesystem: %w", err)
		}
		copy(dst, b)
	}

	if e.Data, err = r.ReadBytes(types.ExtentFSDataSize); err != nil {
		return nil, fmt.Errorf("failed to parse extent filesystem: %w", err)
	}
	if e.Size > uint64(len(e.Data)) {
		return nil, fmt.Errorf("extent filesystem payload length %d exceeds data region: %w",
			e.Size, types.ErrTruncated)
	}
	return e, nil
}

// Serialize encodes the container back to its on-disk form.
func (e *ExtentFilesystem) Serialize() []byte {
	w := codec.NewWriter(types.ExtentFSHeaderSize + types.ExtentFSDataSize)
	w.WriteBytes(e.Magic[:])
	w.WriteBytes(e.Reserved1[:])
	w.WriteBytes(e.Nonce1[:])
	w.WriteBytes(e.Nonce2[:])
	w.WriteBytes(e.Reserved2[:])
	w.WriteU64(e.Size)
	w.WriteBytes(e.Authenticated[:])
	w.WriteBytes(e.Reserved3[:])
	w.WriteBytes(e.Data)
	w.WritePadding(types.ExtentFSDataSize - len(e.Data))
	return w.Bytes()
}

// Nonce derives the AEAD nonce: the XOR of the SHA-256 digests of the two
// header nonce fields, truncated by the cipher to its nonce size.
func (e *ExtentFilesystem) Nonce() []byte {
	a := sha256.Sum256(e.Nonce1[:])
	b := sha256.Sum256(e.Nonce2[:])
	nonce := make([]byte, sha256.Size)
	for i := range nonce {
		nonce[i] = a[i] ^ b[i]
	}
	return nonce
}

// Payload returns the ciphertext region of Data.
func (e *ExtentFilesystem) Payload() []byte {
	return e.Data[:e.Size]
}
