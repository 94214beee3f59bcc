package igfs

import (
	"fmt"

	"github.com/igelfs/go-igfs/internal/interfaces"
	"github.com/igelfs/go-igfs/internal/kml"
	"github.com/igelfs/go-igfs/internal/models"
	"github.com/igelfs/go-igfs/internal/types"
)

// PayloadWithoutExtents returns the partition payload past the extent
// region: the encrypted filesystem container of an encrypted partition.
func (p *Partition) PayloadWithoutExtents() []byte {
	payload := p.Payload()
	var end uint64
	for _, extent := range p.Extents() {
		if extent.Offset+extent.Length > end {
			end = extent.Offset + extent.Length
		}
	}
	if end > uint64(len(payload)) {
		end = uint64(len(payload))
	}
	return payload[end:]
}

// ExtentKey derives the extent filesystem key, from the caller's boot
// identifier or, when empty, the one recorded in the boot registry.
func (fs *Filesystem) ExtentKey(bootID, secondaryKey string) ([]byte, error) {
	if bootID == "" {
		registry, err := fs.BootRegistry()
		if err != nil {
			return nil, err
		}
		if structured, ok := registry.(*models.BootRegistryHeader); ok {
			bootID = structured.BootIDString()
		} else if value, ok := registry.Get("boot_id"); ok {
			bootID = value
		}
	}
	return kml.DeriveExtentKey(bootID, secondaryKey)
}

// Keyring opens the WRITEABLE extent of partition minor, decrypts and
// inflates the extent filesystem it holds, and unwraps every filesystem key
// in its kmlconfig through key slot 0.
func (fs *Filesystem) Keyring(minor uint32, bootID, secondaryKey string, aead interfaces.Aead, decompressor interfaces.Decompressor) (*kml.Keyring, error) {
	partition, err := fs.GetPartition(minor)
	if err != nil {
		return nil, err
	}
	extent := partition.FindExtent(types.ExtentTypeWriteable.String())
	if extent == nil {
		return nil, fmt.Errorf("partition %d has no writeable extent", minor)
	}
	efsBytes, err := partition.ExtentPayload(extent)
	if err != nil {
		return nil, err
	}
	efs, err := models.ParseExtentFilesystem(efsBytes)
	if err != nil {
		return nil, err
	}

	extentKey, err := fs.ExtentKey(bootID, secondaryKey)
	if err != nil {
		return nil, err
	}
	plaintext, err := kml.DecryptExtentFilesystem(efs, extentKey, aead)
	if err != nil {
		return nil, err
	}
	tarBytes, err := kml.InflateExtentFilesystem(plaintext, decompressor)
	if err != nil {
		return nil, err
	}
	cfg, err := kml.ReadKMLConfig(tarBytes)
	if err != nil {
		return nil, err
	}
	return kml.KeyringFromConfig(cfg, extentKey, 0)
}

// DecryptPartition unwraps the filesystem key for minor and, for a plain
// container, decrypts the partition's filesystem data offline. LUKS
// containers return the mode and the key; opening them stays with external
// tooling.
func (fs *Filesystem) DecryptPartition(minor uint32, bootID, secondaryKey string, aead interfaces.Aead, decompressor interfaces.Decompressor) ([]byte, kml.ContainerMode, error) {
	ring, err := fs.Keyring(minor, bootID, secondaryKey, aead, decompressor)
	if err != nil {
		return nil, 0, err
	}
	defer ring.Wipe()

	key, ok := ring.Get(minor)
	if !ok {
		return nil, 0, fmt.Errorf("kmlconfig has no key for partition %d: %w",
			minor, types.ErrUnwrapFailure)
	}

	partition, err := fs.GetPartition(minor)
	if err != nil {
		return nil, 0, err
	}
	container := partition.PayloadWithoutExtents()
	mode := kml.DetectContainerMode(container)
	if mode == kml.ContainerModeLUKS {
		out := append([]byte(nil), key...)
		return out, mode, nil
	}

	aligned := len(container) / kml.PlainSectorSize * kml.PlainSectorSize
	if aligned == 0 {
		return nil, mode, fmt.Errorf("partition %d container too small to decrypt: %w",
			minor, types.ErrInvalidImage)
	}
	plaintext, err := kml.DecryptPlainContainer(container[:aligned], key)
	if err != nil {
		return nil, mode, err
	}
	return plaintext, mode, nil
}
