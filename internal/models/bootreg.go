package models

import (
	"fmt"
	"strings"

	"github.com/igelfs/go-igfs/internal/codec"
	"github.com/igelfs/go-igfs/internal/types"
)

// Boot registry entry geometry.
const (
	BootRegEntrySize     = 64
	BootRegEntryDataSize = 62
	BootRegEntryCount    = 504
)

// BootRegistry is the parsed key/value store at the start of section #0,
// in either its legacy or structured on-disk variant.
type BootRegistry interface {
	// Entries returns all boot registry entries, continuation blocks
	// already joined.
	Entries() map[string]string

	// Get returns the value for key.
	Get(key string) (string, bool)

	// Serialize encodes the registry back to its on-disk form.
	Serialize() []byte
}

// BootRegistryEntry is one fixed-size block of the structured registry.
//
// The 16-bit flag packs, from most to least significant: a 9-bit next block
// index, a 1-bit continuation marker and a 6-bit key length.
type BootRegistryEntry struct {
	Flag uint16
	Data [BootRegEntryDataSize]byte
}

// NextBlockIndex returns the index of the entry continuing this value.
func (e *BootRegistryEntry) NextBlockIndex() int {
	return int(e.Flag >> 7)
}

// NextBlockPresent reports whether a continuation entry follows.
func (e *BootRegistryEntry) NextBlockPresent() bool {
	return e.Flag&0x40 != 0
}

// KeyLength returns the number of key bytes at the start of Data.
func (e *BootRegistryEntry) KeyLength() int {
	return int(e.Flag & 0x3F)
}

// Key returns the entry key.
func (e *BootRegistryEntry) Key() string {
	return string(e.Data[:e.KeyLength()])
}

// Value returns the value bytes after the key, NUL padding stripped.
func (e *BootRegistryEntry) Value() string {
	return strings.TrimRight(string(e.Data[e.KeyLength():]), "\x00")
}

func packBootRegFlag(nextIndex int, nextPresent bool, keyLength int) uint16 {
	flag := uint16(nextIndex&0x1FF) << 7
	if nextPresent {
		flag |= 0x40
	}
	flag |= uint16(keyLength & 0x3F)
	return flag
}

// BootRegistryHeader is the structured boot registry variant.
type BootRegistryHeader struct {
	IdentLegacy [17]byte // "IGEL BOOTREGISTRY"
	Magic       [4]byte  // "163L"
	HdrVersion  uint8
	BootID      [21]byte
	EncAlg      uint8
	Flags       uint16
	Empty       [82]byte
	Free        [64]byte  // bitmap of free 64-byte blocks
	Used        [64]byte  // bitmap of used 64-byte blocks
	Dir         [252]byte // directory bitmap, 4 bits per block
	Reserve     [4]byte
	Entry       [BootRegEntryCount]BootRegistryEntry
}

// ParseBootRegistryHeader decodes the structured registry variant.
func ParseBootRegistryHeader(data []byte) (*BootRegistryHeader, error) {
	r := codec.NewReader(data)
	h := &BootRegistryHeader{}

	ident, err := r.ReadBytes(17)
	if err != nil {
		return nil, fmt.Errorf("failed to parse boot registry: %w", err)
	}
	copy(h.IdentLegacy[:], ident)
	if string(h.IdentLegacy[:]) != types.BootRegIdent {
		return nil, &types.InvalidMagicError{
			Where: "boot registry",
			Got:   string(h.IdentLegacy[:]),
			Want:  types.BootRegIdent,
		}
	}

	magic, err := r.ReadBytes(4)
	if err != nil {
		return nil, fmt.Errorf("failed to parse boot registry: %w", err)
	}
	copy(h.Magic[:], magic)
	if string(h.Magic[:]) != types.BootRegMagic {
		return nil, &types.InvalidMagicError{
			Where: "boot registry",
			Got:   string(h.Magic[:]),
			Want:  types.BootRegMagic,
		}
	}

	if h.HdrVersion, err = r.ReadU8(); err != nil {
		return nil, fmt.Errorf("failed to parse boot registry: %w", err)
	}
	bootID, err := r.ReadBytes(21)
	if err != nil {
		return nil, fmt.Errorf("failed to parse boot registry: %w", err)
	}
	copy(h.BootID[:], bootID)
	if h.EncAlg, err = r.ReadU8(); err != nil {
		return nil, fmt.Errorf("failed to parse boot registry: %w", err)
	}
	if h.Flags, err = r.ReadU16(); err != nil {
		return nil, fmt.Errorf("failed to parse boot registry: %w", err)
	}
	for _, dst := range [][]byte{h.Empty[:], h.Free[:], h.Used[:], h.Dir[:], h.Reserve[:]} {
		b, err := r.ReadBytes(len(dst))
		if err != nil {
			return nil, fmt.Errorf("failed to parse boot registry: %w", err)
		}
		copy(dst, b)
	}
	for i := range h.Entry {
		e := &h.Entry[i]
		if e.Flag, err = r.ReadU16(); err != nil {
			return nil, fmt.Errorf("failed to parse boot registry entry %d: %w", i, err)
		}
		data, err := r.ReadBytes(BootRegEntryDataSize)
		if err != nil {
			return nil, fmt.Errorf("failed to parse boot registry entry %d: %w", i, err)
		}
		copy(e.Data[:], data)
	}

	return h, nil
}

// Serialize encodes the structured registry back to its on-disk form.
func (h *BootRegistryHeader) Serialize() []byte {
	w := codec.NewWriter(types.BootRegSize)
	w.WriteBytes(h.IdentLegacy[:])
	w.WriteBytes(h.Magic[:])
	w.WriteU8(h.HdrVersion)
	w.WriteBytes(h.BootID[:])
	w.WriteU8(h.EncAlg)
	w.WriteU16(h.Flags)
	w.WriteBytes(h.Empty[:])
	w.WriteBytes(h.Free[:])
	w.WriteBytes(h.Used[:])
	w.WriteBytes(h.Dir[:])
	w.WriteBytes(h.Reserve[:])
	for i := range h.Entry {
		w.WriteU16(h.Entry[i].Flag)
		w.WriteBytes(h.Entry[i].Data[:])
	}
	return w.Bytes()
}

// BootIDString returns the boot identifier with NUL padding stripped.
func (h *BootRegistryHeader) BootIDString() string {
	return strings.TrimRight(string(h.BootID[:]), "\x00")
}

// Entries returns all boot registry entries. An entry whose continuation bit
// is set keeps its key live; subsequent blocks append their value bytes to
// it.
func (h *BootRegistryHeader) Entries() map[string]string {
	entries := make(map[string]string)
	key := ""
	for i := range h.Entry {
		entry := &h.Entry[i]
		value := entry.Value()
		if value == "" {
			continue
		}
		if key != "" {
			entries[key] += value
		} else {
			entries[entry.Key()] = value
		}
		if entry.NextBlockPresent() {
			if key == "" {
				key = entry.Key()
			}
		} else {
			key = ""
		}
	}
	return entries
}

// Get returns the value for key.
func (h *BootRegistryHeader) Get(key string) (string, bool) {
	value, ok := h.Entries()[key]
	return value, ok
}

// DeleteEntry removes key and all its continuation blocks. It reports
// whether the key was present.
func (h *BootRegistryHeader) DeleteEntry(key string) bool {
	deleted := false
	chain := false
	for i := range h.Entry {
		entry := &h.Entry[i]
		if entry.Value() == "" {
			continue
		}
		if !chain && (entry.KeyLength() == 0 || entry.Key() != key) {
			continue
		}
		chain = entry.NextBlockPresent()
		entry.Flag = 0
		entry.Data = [BootRegEntryDataSize]byte{}
		deleted = true
	}
	return deleted
}

// SetEntry writes key=value, splitting long values over continuation blocks.
// An existing entry for key is replaced.
func (h *BootRegistryHeader) SetEntry(key, value string) error {
	if len(key) == 0 || len(key) > 0x3F {
		return fmt.Errorf("boot registry key length %d out of range", len(key))
	}
	if len(key) >= BootRegEntryDataSize {
		return fmt.Errorf("boot registry key %q does not fit an entry block", key)
	}
	h.DeleteEntry(key)

	// First block carries the key; continuations carry value bytes only.
	first := BootRegEntryDataSize - len(key)
	chunks := []string{}
	if len(value) <= first {
		chunks = append(chunks, value)
	} else {
		chunks = append(chunks, value[:first])
		rest := value[first:]
		for len(rest) > 0 {
			n := len(rest)
			if n > BootRegEntryDataSize {
				n = BootRegEntryDataSize
			}
			chunks = append(chunks, rest[:n])
			rest = rest[n:]
		}
	}

	free := make([]int, 0, len(chunks))
	for i := range h.Entry {
		if h.Entry[i].Flag == 0 && h.Entry[i].Value() == "" {
			free = append(free, i)
			if len(free) == len(chunks) {
				break
			}
		}
	}
	if len(free) < len(chunks) {
		return fmt.Errorf("boot registry full: %d free blocks, need %d", len(free), len(chunks))
	}

	for n, chunk := range chunks {
		entry := &h.Entry[free[n]]
		entry.Data = [BootRegEntryDataSize]byte{}
		keyLength := 0
		if n == 0 {
			copy(entry.Data[:], key)
			copy(entry.Data[len(key):], chunk)
			keyLength = len(key)
		} else {
			copy(entry.Data[:], chunk)
		}
		next := 0
		present := n+1 < len(chunks)
		if present {
			next = free[n+1]
		}
		entry.Flag = packBootRegFlag(next, present, keyLength)
	}
	return nil
}

// BootRegistryHeaderLegacy is the newline-separated legacy registry variant.
type BootRegistryHeaderLegacy struct {
	IdentLegacy [17]byte
	Entry       [types.BootRegSize - 17]byte
}

// ParseBootRegistryHeaderLegacy decodes the legacy registry variant.
func ParseBootRegistryHeaderLegacy(data []byte) (*BootRegistryHeaderLegacy, error) {
	r := codec.NewReader(data)
	h := &BootRegistryHeaderLegacy{}

	ident, err := r.ReadBytes(17)
	if err != nil {
		return nil, fmt.Errorf("failed to parse legacy boot registry: %w", err)
	}
	copy(h.IdentLegacy[:], ident)
	if string(h.IdentLegacy[:]) != types.BootRegIdent {
		return nil, &types.InvalidMagicError{
			Where: "boot registry",
			Got:   string(h.IdentLegacy[:]),
			Want:  types.BootRegIdent,
		}
	}
	entry, err := r.ReadBytes(len(h.Entry))
	if err != nil {
		return nil, fmt.Errorf("failed to parse legacy boot registry: %w", err)
	}
	copy(h.Entry[:], entry)
	return h, nil
}

// Serialize encodes the legacy registry back to its on-disk form.
func (h *BootRegistryHeaderLegacy) Serialize() []byte {
	w := codec.NewWriter(types.BootRegSize)
	w.WriteBytes(h.IdentLegacy[:])
	w.WriteBytes(h.Entry[:])
	return w.Bytes()
}

// Entries returns all key=value lines up to the EOF terminator.
func (h *BootRegistryHeaderLegacy) Entries() map[string]string {
	entries := make(map[string]string)
	for _, line := range strings.Split(string(h.Entry[:]), "\n") {
		line = strings.TrimRight(line, "\x00")
		if line == "" {
			continue
		}
		if line == "EOF" {
			break
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		entries[key] = value
	}
	return entries
}

// Get returns the value for key.
func (h *BootRegistryHeaderLegacy) Get(key string) (string, bool) {
	value, ok := h.Entries()[key]
	return value, ok
}

// IsLegacyBootRegistry reports whether data holds the legacy registry
// variant, discriminated by the magic following the identity string.
func IsLegacyBootRegistry(data []byte) bool {
	if len(data) < 21 {
		return true
	}
	return string(data[17:21]) != types.BootRegMagic
}

// ParseBootRegistry decodes whichever registry variant data holds.
func ParseBootRegistry(data []byte) (BootRegistry, error) {
	if IsLegacyBootRegistry(data) {
		return ParseBootRegistryHeaderLegacy(data)
	}
	return ParseBootRegistryHeader(data)
}
