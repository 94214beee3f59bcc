package store

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/igelfs/go-igfs/internal/types"
)

// memBacking is an in-memory WritableBacking for tests.
type memBacking struct {
	data []byte
}

func (m *memBacking) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(m.data)) {
		return 0, errors.New("read beyond backing")
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, errors.New("short read")
	}
	return n, nil
}

func (m *memBacking) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(m.data)) {
		return 0, errors.New("write beyond backing")
	}
	return copy(m.data[off:], p), nil
}

func (m *memBacking) Size() int64 { return int64(len(m.data)) }

func newTestImage(sections int) *memBacking {
	data := make([]byte, sections*types.SectionSize)
	for i := 0; i < sections; i++ {
		off := i * types.SectionSize
		binary.LittleEndian.PutUint16(data[off+10:off+12], types.SectionSizeExponent)
		binary.LittleEndian.PutUint32(data[off+12:off+16], uint32(1)) // minor
		binary.LittleEndian.PutUint32(data[off+18:off+22], uint32(i)) // section_in_minor
		binary.LittleEndian.PutUint32(data[off+22:off+26], types.EndOfChain)
	}
	return &memBacking{data: data}
}

func TestNewSectionStoreValidatesLength(t *testing.T) {
	tests := []struct {
		name        string
		size        int
		expectError bool
	}{
		{name: "empty image", size: 0, expectError: true},
		{name: "unaligned image", size: types.SectionSize + 1, expectError: true},
		{name: "single section", size: types.SectionSize, expectError: false},
		{name: "many sections", size: 4 * types.SectionSize, expectError: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backing := &memBacking{data: make([]byte, tt.size)}
			_, err := NewSectionStore(backing, types.SectionSize)
			if tt.expectError {
				require.Error(t, err)
				assert.True(t, errors.Is(err, types.ErrInvalidImage))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestSectionCount(t *testing.T) {
	s, err := NewSectionStore(newTestImage(64), types.SectionSize)
	require.NoError(t, err)
	assert.Equal(t, uint32(64), s.SectionCount())
}

func TestReadSectionOutOfRange(t *testing.T) {
	s, err := NewSectionStore(newTestImage(4), types.SectionSize)
	require.NoError(t, err)

	_, err = s.ReadSection(4)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrOutOfRange))

	var outOfRange *types.OutOfRangeError
	require.True(t, errors.As(err, &outOfRange))
	assert.Equal(t, uint32(4), outOfRange.Section)
	assert.Equal(t, uint32(4), outOfRange.Max)
}

func TestReadWriteSectionRoundTrip(t *testing.T) {
	backing := newTestImage(4)
	s, err := NewSectionStore(backing, types.SectionSize)
	require.NoError(t, err)

	section, err := s.ReadSection(2)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), section.Header.SectionInMinor)

	section.Header.Generation++
	copy(section.Data, "mutated payload")
	require.NoError(t, s.WriteSection(2, section))

	reread, err := s.ReadSection(2)
	require.NoError(t, err)
	assert.Equal(t, section.Header.Generation, reread.Header.Generation)
	assert.True(t, bytes.HasPrefix(reread.Data, []byte("mutated payload")))

	// Neighbours are untouched.
	other, err := s.ReadSection(1)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), other.Header.Generation)
}

func TestWriteSectionReadOnlyBacking(t *testing.T) {
	backing := newTestImage(2)
	readOnly := struct{ Backing }{backing}
	s, err := NewSectionStore(readOnly, types.SectionSize)
	require.NoError(t, err)

	section, err := s.ReadSection(0)
	require.NoError(t, err)
	require.Error(t, s.WriteSection(0, section))
}
