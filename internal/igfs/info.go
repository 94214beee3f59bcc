package igfs

import (
	"strings"

	"github.com/igelfs/go-igfs/internal/models"
	"github.com/igelfs/go-igfs/internal/types"
)

// ExtentInfo summarizes one extent descriptor.
type ExtentInfo struct {
	Name   string
	Type   types.ExtentType
	Offset uint64
	Length uint64
}

// PartitionInfo summarizes one partition for the info surface.
type PartitionInfo struct {
	Minor     uint32
	Type      types.PartitionType
	Name      string
	Sections  int
	Size      uint64
	HasHash   bool
	Encrypted bool
	Extents   []ExtentInfo
}

// ImageInfo summarizes the image: geometry, boot identifier and the
// partition table.
type ImageInfo struct {
	SectionSize  int64
	SectionCount uint32
	BootID       string
	Partitions   []PartitionInfo
}

// Info walks every partition and assembles the image summary.
func (fs *Filesystem) Info() (*ImageInfo, error) {
	info := &ImageInfo{
		SectionSize:  fs.SectionSize(),
		SectionCount: fs.SectionCount(),
	}

	if registry, err := fs.BootRegistry(); err == nil {
		if structured, ok := registry.(*models.BootRegistryHeader); ok {
			info.BootID = structured.BootIDString()
		} else if value, ok := registry.Get("boot_id"); ok {
			info.BootID = value
		}
	}

	directory, err := fs.Directory()
	if err != nil {
		return nil, err
	}
	for _, minor := range directory.PartitionMinors() {
		partition, err := fs.GetPartition(minor)
		if err != nil {
			return nil, err
		}
		entry := PartitionInfo{
			Minor:    minor,
			Sections: len(partition.Chain),
		}
		if header := partition.Header(); header != nil {
			entry.Type = header.GetType()
			entry.Name = strings.TrimRight(string(header.Name[:]), "\x00")
			entry.Size = header.PartLen
			entry.HasHash = header.HasHash()
			entry.Encrypted = header.IsEncrypted()
		}
		for _, extent := range partition.Extents() {
			entry.Extents = append(entry.Extents, ExtentInfo{
				Name:   extent.NameString(),
				Type:   extent.GetType(),
				Offset: extent.Offset,
				Length: extent.Length,
			})
		}
		info.Partitions = append(info.Partitions, entry)
	}
	return info, nil
}
