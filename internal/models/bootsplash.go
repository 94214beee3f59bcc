package models

import (
	"fmt"

	"github.com/igelfs/go-igfs/internal/codec"
	"github.com/igelfs/go-igfs/internal/types"
)

// Bootsplash container geometry.
const (
	BootsplashHeaderSize = 15
	BootsplashRecordSize = 24
)

// BootsplashHeader prefixes the splash extent payload.
type BootsplashHeader struct {
	Magic      [14]byte // "IGELBootSplash"
	NumSplashs uint8
}

// Bootsplash is one splash record: the byte range of an image payload within
// the splash extent. Decoding the image itself is left to the caller.
type Bootsplash struct {
	Offset uint64
	Length uint64
	Ident  [8]byte
}

// ParseBootsplashHeader decodes the splash header from the start of data.
func ParseBootsplashHeader(data []byte) (*BootsplashHeader, error) {
	r := codec.NewReader(data)
	h := &BootsplashHeader{}

	magic, err := r.ReadBytes(14)
	if err != nil {
		return nil, fmt.Errorf("failed to parse bootsplash header: %w", err)
	}
	copy(h.Magic[:], magic)
	if string(h.Magic[:]) != types.BootsplashMagic {
		return nil, &types.InvalidMagicError{
			Where: "bootsplash",
			Got:   string(h.Magic[:]),
			Want:  types.BootsplashMagic,
		}
	}
	if h.NumSplashs, err = r.ReadU8(); err != nil {
		return nil, fmt.Errorf("failed to parse bootsplash header: %w", err)
	}
	return h, nil
}

// Serialize encodes the splash header back to its on-disk form.
func (h *BootsplashHeader) Serialize() []byte {
	w := codec.NewWriter(BootsplashHeaderSize)
	w.WriteBytes(h.Magic[:])
	w.WriteU8(h.NumSplashs)
	return w.Bytes()
}

// ParseBootsplash decodes one splash record.
func ParseBootsplash(data []byte) (*Bootsplash, error) {
	r := codec.NewReader(data)
	b := &Bootsplash{}
	var err error
	if b.Offset, err = r.ReadU64(); err != nil {
		return nil, fmt.Errorf("failed to parse bootsplash record: %w", err)
	}
	if b.Length, err = r.ReadU64(); err != nil {
		return nil, fmt.Errorf("failed to parse bootsplash record: %w", err)
	}
	ident, err := r.ReadBytes(8)
	if err != nil {
		return nil, fmt.Errorf("failed to parse bootsplash record: %w", err)
	}
	copy(b.Ident[:], ident)
	return b, nil
}

// Serialize encodes the splash record back to its on-disk form.
func (b *Bootsplash) Serialize() []byte {
	w := codec.NewWriter(BootsplashRecordSize)
	w.WriteU64(b.Offset)
	w.WriteU64(b.Length)
	w.WriteBytes(b.Ident[:])
	return w.Bytes()
}

// SplashExtent is the fully parsed splash extent: the header, all records and
// the raw image payloads they address.
type SplashExtent struct {
	Header   *BootsplashHeader
	Splashes []*Bootsplash
	data     []byte
}

// ParseSplashExtent decodes the whole splash extent payload.
func ParseSplashExtent(data []byte) (*SplashExtent, error) {
	header, err := ParseBootsplashHeader(data)
	if err != nil {
		return nil, err
	}
	s := &SplashExtent{
		Header: header,
		data:   append([]byte(nil), data...),
	}
	offset := BootsplashHeaderSize
	for i := 0; i < int(header.NumSplashs); i++ {
		if offset+BootsplashRecordSize > len(data) {
			return nil, &codec.ErrTruncated{
				Wanted:    BootsplashRecordSize,
				Remaining: len(data) - offset,
			}
		}
		splash, err := ParseBootsplash(data[offset:])
		if err != nil {
			return nil, err
		}
		s.Splashes = append(s.Splashes, splash)
		offset += BootsplashRecordSize
	}
	return s, nil
}

// ImageBytes returns the raw image payload of splash record i. Offsets are
// relative to the start of the splash extent.
func (s *SplashExtent) ImageBytes(i int) ([]byte, error) {
	if i < 0 || i >= len(s.Splashes) {
		return nil, fmt.Errorf("splash index %d out of range (%d records)", i, len(s.Splashes))
	}
	splash := s.Splashes[i]
	start := int64(splash.Offset)
	end := start + int64(splash.Length)
	if start < 0 || end > int64(len(s.data)) {
		return nil, fmt.Errorf("splash %d range [%d,%d) beyond extent of %d bytes: %w",
			i, start, end, len(s.data), types.ErrTruncated)
	}
	return append([]byte(nil), s.data[start:end]...), nil
}
