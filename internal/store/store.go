// Package store provides random-access read/write of fixed-size sections
// over a seekable backing store.
package store

import (
	"fmt"
	"io"

	"github.com/igelfs/go-igfs/internal/models"
	"github.com/igelfs/go-igfs/internal/types"
)

// Backing is the minimal surface a section store needs from its image file
// or block device.
type Backing interface {
	io.ReaderAt
	Size() int64
}

// WritableBacking additionally supports in-place writes at section
// boundaries.
type WritableBacking interface {
	Backing
	io.WriterAt
}

// SectionStore reads and writes whole sections at their byte offsets.
type SectionStore struct {
	backing     Backing
	sectionSize int64
}

// NewSectionStore validates the backing length against the section size and
// returns a store. The length must be a positive multiple of the section
// size.
func NewSectionStore(backing Backing, sectionSize int64) (*SectionStore, error) {
	if sectionSize <= 0 {
		return nil, fmt.Errorf("section size %d: %w", sectionSize, types.ErrInvalidImage)
	}
	size := backing.Size()
	if size <= 0 || size%sectionSize != 0 {
		return nil, fmt.Errorf("image length %d is not a positive multiple of section size %d: %w",
			size, sectionSize, types.ErrInvalidImage)
	}
	return &SectionStore{backing: backing, sectionSize: sectionSize}, nil
}

// SectionSize returns the section size in bytes.
func (s *SectionStore) SectionSize() int64 {
	return s.sectionSize
}

// SectionCount returns the number of sections in the image.
func (s *SectionStore) SectionCount() uint32 {
	return uint32(s.backing.Size() / s.sectionSize)
}

// ReadRaw reads the raw bytes of section n.
func (s *SectionStore) ReadRaw(n uint32) ([]byte, error) {
	if n >= s.SectionCount() {
		return nil, &types.OutOfRangeError{Section: n, Max: s.SectionCount()}
	}
	data := make([]byte, s.sectionSize)
	if _, err := s.backing.ReadAt(data, types.StartOfSection(n, s.sectionSize)); err != nil {
		return nil, fmt.Errorf("failed to read section %d: %w", n, err)
	}
	return data, nil
}

// ReadSection reads and parses section n.
func (s *SectionStore) ReadSection(n uint32) (*models.Section, error) {
	data, err := s.ReadRaw(n)
	if err != nil {
		return nil, err
	}
	section, err := models.ParseSection(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse section %d: %w", n, err)
	}
	return section, nil
}

// WriteSection serializes section and writes it in place at index n. The
// stored CRC field is written as-is: callers run the integrity pipeline
// first so the CRC is already final.
func (s *SectionStore) WriteSection(n uint32, section *models.Section) error {
	return s.WriteRaw(n, section.Serialize())
}

// WriteRaw writes raw section bytes in place at index n.
func (s *SectionStore) WriteRaw(n uint32, data []byte) error {
	if n >= s.SectionCount() {
		return &types.OutOfRangeError{Section: n, Max: s.SectionCount()}
	}
	if int64(len(data)) != s.sectionSize {
		return fmt.Errorf("section %d: serialized length %d does not match section size %d",
			n, len(data), s.sectionSize)
	}
	w, ok := s.backing.(WritableBacking)
	if !ok {
		return fmt.Errorf("backing store is read-only")
	}
	if _, err := w.WriteAt(data, types.StartOfSection(n, s.sectionSize)); err != nil {
		return fmt.Errorf("failed to write section %d: %w", n, err)
	}
	return nil
}

// ReadAt exposes bounded raw reads for callers that address the image by
// absolute offset, such as the directory region of section zero.
func (s *SectionStore) ReadAt(p []byte, off int64) (int, error) {
	return s.backing.ReadAt(p, off)
}
