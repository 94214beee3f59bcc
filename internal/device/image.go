// Package device opens IGFS image files and block devices as backing stores
// and loads the tool configuration.
package device

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/viper"

	"github.com/igelfs/go-igfs/internal/types"
)

// Image is an opened image file or block device. It exclusively owns its
// file handle; closing it invalidates every view derived from it.
type Image struct {
	file     *os.File
	size     int64
	readOnly bool
}

// Open opens the image at path, read-only by default.
func Open(path string, readWrite bool) (*Image, error) {
	flags := os.O_RDONLY
	if readWrite {
		flags = os.O_RDWR
	}
	file, err := os.OpenFile(path, flags, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}

	size, err := imageSize(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to size image: %w", err)
	}
	if size <= 0 {
		file.Close()
		return nil, fmt.Errorf("image %s is empty: %w", path, types.ErrInvalidImage)
	}

	return &Image{file: file, size: size, readOnly: !readWrite}, nil
}

// imageSize stats the file; block devices report zero there, so fall back to
// seeking the end.
func imageSize(file *os.File) (int64, error) {
	stat, err := file.Stat()
	if err != nil {
		return 0, err
	}
	if stat.Mode().IsRegular() {
		return stat.Size(), nil
	}
	size, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	return size, nil
}

// ReadAt implements io.ReaderAt.
func (i *Image) ReadAt(p []byte, off int64) (int, error) {
	return i.file.ReadAt(p, off)
}

// WriteAt implements io.WriterAt. Writes on a read-only image fail fast.
func (i *Image) WriteAt(p []byte, off int64) (int, error) {
	if i.readOnly {
		return 0, fmt.Errorf("image opened read-only")
	}
	return i.file.WriteAt(p, off)
}

// Size returns the image length in bytes.
func (i *Image) Size() int64 {
	return i.size
}

// ReadOnly reports whether the image was opened without the write flag.
func (i *Image) ReadOnly() bool {
	return i.readOnly
}

// Close releases the file handle.
func (i *Image) Close() error {
	if i.file != nil {
		return i.file.Close()
	}
	return nil
}

// Config holds tool configuration loaded from igfs-config.yaml.
type Config struct {
	SectionSize     int64  `mapstructure:"section_size"`
	TrustedKeysPath string `mapstructure:"trusted_keys_path"`
	DefaultKDFLevel int    `mapstructure:"default_kdf_level"`
	VerifyCRC       bool   `mapstructure:"verify_crc"`
}

// LoadConfig loads configuration using Viper.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("igfs-config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("$HOME/.igfs")
	viper.AddConfigPath("/etc/igfs")

	viper.SetDefault("section_size", int64(types.SectionSize))
	viper.SetDefault("trusted_keys_path", "")
	viper.SetDefault("default_kdf_level", 0)
	viper.SetDefault("verify_crc", true)

	viper.SetEnvPrefix("IGFS")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}
