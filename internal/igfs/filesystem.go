// Package igfs is the filesystem facade: it opens an image, resolves
// partitions through the section-zero directory, walks section chains,
// aggregates extents and routes mutations through the integrity pipeline.
//
// A Filesystem handle is not safe for concurrent use; operations on one
// handle are sequential. Multiple read-only handles on the same file are
// fine. Sections and partitions returned by a handle hold copies of the
// image bytes, never references into the handle's file.
package igfs

import (
	"fmt"

	"github.com/igelfs/go-igfs/internal/device"
	"github.com/igelfs/go-igfs/internal/integrity"
	"github.com/igelfs/go-igfs/internal/interfaces"
	"github.com/igelfs/go-igfs/internal/models"
	"github.com/igelfs/go-igfs/internal/store"
	"github.com/igelfs/go-igfs/internal/types"
)

// Options configure an open filesystem handle.
type Options struct {
	// ReadWrite opens the backing store writable.
	ReadWrite bool

	// SectionSize overrides the standard 256 KiB section size. Zero means
	// the default.
	SectionSize int64

	// Verifier checks hash block signatures, once per partition. Nil skips
	// signature verification.
	Verifier interfaces.Verifier

	// DisableCRCCheck turns off the per-section CRC check on read. The
	// check is on by default.
	DisableCRCCheck bool

	// Progress, when set, is called by the chain walker after every
	// section; returning false cancels the walk.
	Progress interfaces.ProgressFunc
}

// Filesystem is an open IGFS image.
type Filesystem struct {
	image *device.Image
	store *store.SectionStore
	opts  Options

	// pending overlays raw section bytes staged by WriteBytes, keyed by
	// section index, until Flush routes them through the pipeline.
	pending map[uint32][]byte
	// dirty tracks partition minors whose integrity data must be
	// recomputed before flushing.
	dirty map[uint32]bool
}

// Open opens the image at path.
func Open(path string, opts Options) (*Filesystem, error) {
	image, err := device.Open(path, opts.ReadWrite)
	if err != nil {
		return nil, err
	}
	sectionSize := opts.SectionSize
	if sectionSize == 0 {
		sectionSize = types.SectionSize
	}
	sectionStore, err := store.NewSectionStore(image, sectionSize)
	if err != nil {
		image.Close()
		return nil, err
	}
	return &Filesystem{
		image:   image,
		store:   sectionStore,
		opts:    opts,
		pending: make(map[uint32][]byte),
		dirty:   make(map[uint32]bool),
	}, nil
}

// Close releases the backing store. Views derived from this handle stay
// valid: they hold copies.
func (fs *Filesystem) Close() error {
	return fs.image.Close()
}

// SectionCount returns the number of sections in the image.
func (fs *Filesystem) SectionCount() uint32 {
	return fs.store.SectionCount()
}

// SectionSize returns the section size in bytes.
func (fs *Filesystem) SectionSize() int64 {
	return fs.store.SectionSize()
}

// readRaw returns the raw bytes of section n, preferring staged writes.
func (fs *Filesystem) readRaw(n uint32) ([]byte, error) {
	if staged, ok := fs.pending[n]; ok {
		return append([]byte(nil), staged...), nil
	}
	return fs.store.ReadRaw(n)
}

// readSection parses section n, checking its CRC unless disabled. Staged
// sections carry stale CRCs until Flush recomputes them and are exempt.
func (fs *Filesystem) readSection(n uint32) (*models.Section, error) {
	data, err := fs.readRaw(n)
	if err != nil {
		return nil, err
	}
	_, staged := fs.pending[n]
	if !fs.opts.DisableCRCCheck && !staged {
		if err := integrity.VerifySectionCRC(n, data); err != nil {
			return nil, err
		}
	}
	section, err := models.ParseSection(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse section %d: %w", n, err)
	}
	return section, nil
}

// BootRegistry reads and parses the boot registry region of section #0.
func (fs *Filesystem) BootRegistry() (models.BootRegistry, error) {
	data := make([]byte, types.BootRegSize)
	if _, err := fs.image.ReadAt(data, types.BootRegOffset); err != nil {
		return nil, fmt.Errorf("failed to read boot registry: %w", err)
	}
	return models.ParseBootRegistry(data)
}

// Directory reads and parses the partition directory of section #0.
func (fs *Filesystem) Directory() (*models.Directory, error) {
	data := make([]byte, models.DirectorySize)
	if _, err := fs.image.ReadAt(data, types.DirOffset); err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}
	return models.ParseDirectory(data)
}

// Partition is a fully walked partition: its chained sections in order.
type Partition struct {
	Minor uint32
	Chain []integrity.ChainedSection
}

// Header returns the partition header from the first section.
func (p *Partition) Header() *models.PartitionHeader {
	return p.Chain[0].Section.Partition
}

// Extents returns the extent descriptors from the first section.
func (p *Partition) Extents() []*models.PartitionExtent {
	return p.Chain[0].Section.Extents
}

// Payload concatenates the payload bytes of all chained sections. Extent
// data lives at the front of the payload; offsets in extent descriptors are
// relative to this byte string.
func (p *Partition) Payload() []byte {
	total := 0
	for _, cs := range p.Chain {
		total += len(cs.Section.Data)
	}
	payload := make([]byte, 0, total)
	for _, cs := range p.Chain {
		payload = append(payload, cs.Section.Data...)
	}
	return payload
}

// FindExtent returns the extent descriptor with the given name, matching
// either the descriptor name or the conventional type name.
func (p *Partition) FindExtent(name string) *models.PartitionExtent {
	for _, extent := range p.Extents() {
		if extent.NameString() == name || extent.GetType().String() == name {
			return extent
		}
	}
	return nil
}

// ExtentPayload slices the extent's byte range out of the partition payload.
func (p *Partition) ExtentPayload(extent *models.PartitionExtent) ([]byte, error) {
	payload := p.Payload()
	start := int64(extent.Offset)
	end := start + int64(extent.Length)
	if start < 0 || end > int64(len(payload)) {
		return nil, fmt.Errorf("extent %q range [%d,%d) beyond payload of %d bytes: %w",
			extent.NameString(), start, end, len(payload), types.ErrTruncated)
	}
	return payload[start:end:end], nil
}

// ReadExtent reads a bounded byte range from an extent. Reads beyond the
// single-operation ceiling fail rather than truncate.
func (p *Partition) ReadExtent(extent *models.PartitionExtent, pos, size int64) ([]byte, error) {
	if size > types.ExtentMaxReadWriteSize {
		return nil, fmt.Errorf("extent read of %d bytes: %w", size, types.ErrExtentTooLarge)
	}
	if pos < 0 || size < 0 || pos+size > int64(extent.Length) {
		return nil, fmt.Errorf("extent read [%d,%d) beyond extent of %d bytes: %w",
			pos, pos+size, extent.Length, types.ErrTruncated)
	}
	payload, err := p.ExtentPayload(extent)
	if err != nil {
		return nil, err
	}
	return payload[pos : pos+size], nil
}

// GetPartition resolves minor through the directory and walks its section
// chain.
func (fs *Filesystem) GetPartition(minor uint32) (*Partition, error) {
	if minor == 0 {
		return nil, fmt.Errorf("partition minor 0 is the directory: %w", types.ErrCorruptDirectory)
	}
	directory, err := fs.Directory()
	if err != nil {
		return nil, err
	}
	desc := directory.FindPartitionByMinor(minor)
	if desc == nil {
		return nil, fmt.Errorf("partition %d not found in directory", minor)
	}
	first, err := directory.FirstSectionOf(desc)
	if err != nil {
		return nil, err
	}
	chain, err := fs.WalkChain(first, minor)
	if err != nil {
		return nil, err
	}
	return &Partition{Minor: minor, Chain: chain}, nil
}

// WalkChain follows next_section pointers from first, collecting every
// section of the partition until the end-of-chain marker.
//
// Invariants checked along the way: every section belongs to minor,
// section_in_minor never decreases, and no section repeats.
func (fs *Filesystem) WalkChain(first uint32, minor uint32) ([]integrity.ChainedSection, error) {
	var chain []integrity.ChainedSection
	visited := make(map[uint32]bool)
	lastInMinor := int64(-1)

	for current := first; current != types.EndOfChain; {
		if visited[current] {
			return nil, fmt.Errorf("section %d already visited: %w", current, types.ErrCycleDetected)
		}
		visited[current] = true

		section, err := fs.readSection(current)
		if err != nil {
			return nil, err
		}
		if section.Header.PartitionMinor != minor {
			return nil, fmt.Errorf("section %d belongs to partition %d, walking %d: %w",
				current, section.Header.PartitionMinor, minor, types.ErrCorruptDirectory)
		}
		if int64(section.Header.SectionInMinor) < lastInMinor {
			return nil, fmt.Errorf("section %d: section_in_minor %d decreases: %w",
				current, section.Header.SectionInMinor, types.ErrCorruptDirectory)
		}
		lastInMinor = int64(section.Header.SectionInMinor)

		chain = append(chain, integrity.ChainedSection{Index: current, Section: section})
		if fs.opts.Progress != nil && !fs.opts.Progress(len(chain)) {
			return nil, types.ErrCancelled
		}
		current = section.Header.NextSection
	}

	if len(chain) == 0 {
		return nil, fmt.Errorf("partition %d has an empty chain: %w", minor, types.ErrCorruptDirectory)
	}
	return chain, nil
}

// GetExtent returns the full payload of the named extent of a partition.
func (fs *Filesystem) GetExtent(minor uint32, name string) ([]byte, error) {
	partition, err := fs.GetPartition(minor)
	if err != nil {
		return nil, err
	}
	extent := partition.FindExtent(name)
	if extent == nil {
		return nil, fmt.Errorf("partition %d has no extent %q", minor, name)
	}
	return partition.ExtentPayload(extent)
}

// VerifySection checks section n: the CRC always, and with deep set also its
// hash value in the owning partition's hash block.
func (fs *Filesystem) VerifySection(n uint32, deep bool) error {
	data, err := fs.readRaw(n)
	if err != nil {
		return err
	}
	if err := integrity.VerifySectionCRC(n, data); err != nil {
		return err
	}
	if !deep {
		return nil
	}

	section, err := models.ParseSection(data)
	if err != nil {
		return fmt.Errorf("failed to parse section %d: %w", n, err)
	}
	minor := section.Header.PartitionMinor
	if minor == 0 {
		return nil
	}
	partition, err := fs.GetPartition(minor)
	if err != nil {
		return err
	}
	first := partition.Chain[0].Section
	if first.Hash == nil {
		return nil
	}
	return integrity.VerifySectionHash(n, int(section.Header.SectionInMinor), data,
		fs.store.SectionSize(), first.Hash, first.HashExcludes, first.HashValues)
}

// VerifyPartition walks the partition and runs the read-time verification
// policy over it: CRCs, the signature once, and with deep set the full hash
// chain.
func (fs *Filesystem) VerifyPartition(minor uint32, deep bool) error {
	partition, err := fs.GetPartition(minor)
	if err != nil {
		return err
	}
	return integrity.VerifyChain(partition.Chain, fs.store.SectionSize(), fs.opts.Verifier, deep)
}

// VerifyImage verifies every partition the directory lists.
func (fs *Filesystem) VerifyImage(deep bool) error {
	directory, err := fs.Directory()
	if err != nil {
		return err
	}
	for _, minor := range directory.PartitionMinors() {
		if err := fs.VerifyPartition(minor, deep); err != nil {
			return fmt.Errorf("partition %d: %w", minor, err)
		}
	}
	return nil
}

// WriteBytes stages data at an absolute image offset. The touched sections'
// partitions are marked dirty; the integrity pipeline reruns on Flush, and
// nothing reaches the backing store before then.
func (fs *Filesystem) WriteBytes(offset int64, data []byte) error {
	if offset < 0 || offset+int64(len(data)) > int64(fs.SectionCount())*fs.store.SectionSize() {
		return fmt.Errorf("write [%d,%d) beyond image: %w", offset, offset+int64(len(data)), types.ErrInvalidImage)
	}
	sectionSize := fs.store.SectionSize()

	for len(data) > 0 {
		n := types.SectionOf(offset, sectionSize)
		inSection := types.OffsetOf(offset, sectionSize)

		raw, ok := fs.pending[n]
		if !ok {
			fresh, err := fs.store.ReadRaw(n)
			if err != nil {
				return err
			}
			raw = fresh
			fs.pending[n] = raw
		}

		chunk := sectionSize - inSection
		if chunk > int64(len(data)) {
			chunk = int64(len(data))
		}
		copy(raw[inSection:], data[:chunk])

		// Section zero is the boot registry and directory, not a chained
		// section; it has no regular header to take a minor from.
		if n == 0 {
			fs.dirty[0] = true
		} else {
			header, err := models.ParseSectionHeader(raw)
			if err != nil {
				return fmt.Errorf("failed to parse section %d header: %w", n, err)
			}
			fs.dirty[header.PartitionMinor] = true
		}

		data = data[chunk:]
		offset += chunk
	}
	return nil
}

// Flush reruns the integrity pipeline over every dirty partition and writes
// the staged sections in place. A nil signer leaves existing signatures
// untouched, which signature verification will then reject for hashed partitions;
// callers that own signing material pass a signer capability.
func (fs *Filesystem) Flush(signer interfaces.Signer) error {
	for minor := range fs.dirty {
		if minor == 0 {
			if err := fs.flushSectionZero(); err != nil {
				return err
			}
			continue
		}
		if err := fs.RewritePartition(minor, signer); err != nil {
			return err
		}
	}
	// Anything staged for sections outside a walked partition chain is
	// written out with a fresh CRC. Section zero has no section header;
	// its directory CRC was already recomputed above.
	for n, raw := range fs.pending {
		out := raw
		if n != 0 {
			section, err := models.ParseSection(raw)
			if err != nil {
				return fmt.Errorf("failed to parse staged section %d: %w", n, err)
			}
			out = section.SerializeWithCRC()
		}
		if err := fs.store.WriteRaw(n, out); err != nil {
			return err
		}
		delete(fs.pending, n)
	}
	fs.dirty = make(map[uint32]bool)
	return nil
}

// flushSectionZero recomputes the directory CRC within the staged section
// zero before it is written out with the generic path.
func (fs *Filesystem) flushSectionZero() error {
	raw, ok := fs.pending[0]
	if !ok {
		return nil
	}
	directory, err := models.ParseDirectory(raw[types.DirOffset:])
	if err != nil {
		return err
	}
	copy(raw[types.DirOffset:], directory.SerializeWithCRC())
	return nil
}

// RewritePartition routes the partition through the full write pipeline:
// hashes first, then the signature, then CRCs, then the sections hit the
// store. With no staged changes this is the identity mutation.
func (fs *Filesystem) RewritePartition(minor uint32, signer interfaces.Signer) error {
	partition, err := fs.GetPartition(minor)
	if err != nil {
		return err
	}
	imageSize := int64(fs.SectionCount()) * fs.store.SectionSize()
	serialized, err := integrity.Rewrite(partition.Chain, fs.store.SectionSize(), imageSize, signer)
	if err != nil {
		return err
	}
	for i, cs := range partition.Chain {
		if err := fs.store.WriteRaw(cs.Index, serialized[i]); err != nil {
			return err
		}
		delete(fs.pending, cs.Index)
	}
	return nil
}
