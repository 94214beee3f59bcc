package kml

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"

	lzf "github.com/zhuyie/golzf"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/igelfs/go-igfs/internal/interfaces"
	"github.com/igelfs/go-igfs/internal/models"
	"github.com/igelfs/go-igfs/internal/types"
)

// LZFDecompressSize is the default output ceiling for LZF inflation of an
// extent filesystem payload.
const LZFDecompressSize = 4096

// xchachaAead opens XChaCha20-Poly1305 ciphertexts. Oversized keys and
// nonces are truncated to the cipher's sizes, matching the on-disk
// convention of handing the 44-byte base64 extent key text straight to the
// cipher.
type xchachaAead struct{}

// NewAead returns the default AEAD capability.
func NewAead() interfaces.Aead {
	return xchachaAead{}
}

func (xchachaAead) Open(key, nonce, aad, ciphertext []byte) ([]byte, error) {
	if len(key) < chacha20poly1305.KeySize {
		return nil, fmt.Errorf("AEAD key is %d bytes, want at least %d: %w",
			len(key), chacha20poly1305.KeySize, types.ErrAeadFailure)
	}
	if len(nonce) < chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("AEAD nonce is %d bytes, want at least %d: %w",
			len(nonce), chacha20poly1305.NonceSizeX, types.ErrAeadFailure)
	}
	aead, err := chacha20poly1305.NewX(key[:chacha20poly1305.KeySize])
	if err != nil {
		return nil, fmt.Errorf("failed to create AEAD cipher: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce[:chacha20poly1305.NonceSizeX], ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("extent payload authentication failed: %w", types.ErrAeadFailure)
	}
	return plaintext, nil
}

// lzfDecompressor inflates liblzf block streams.
type lzfDecompressor struct{}

// NewDecompressor returns the default LZF capability.
func NewDecompressor() interfaces.Decompressor {
	return lzfDecompressor{}
}

func (lzfDecompressor) Decompress(data []byte, maxSize int) ([]byte, error) {
	out := make([]byte, maxSize)
	n, err := lzf.Decompress(data, out)
	if err != nil {
		return nil, fmt.Errorf("LZF decompression failed: %w", err)
	}
	return out[:n], nil
}

// DecryptExtentFilesystem opens the AEAD payload of an extent filesystem
// container with the derived extent key.
func DecryptExtentFilesystem(efs *models.ExtentFilesystem, extentKey []byte, aead interfaces.Aead) ([]byte, error) {
	if aead == nil {
		return nil, fmt.Errorf("no AEAD capability: %w", types.ErrFeatureNotEnabled)
	}
	return aead.Open(extentKey, efs.Nonce(), efs.Authenticated[:], efs.Payload())
}

// InflateExtentFilesystem LZF-decompresses a decrypted extent payload into
// the tar archive it carries.
func InflateExtentFilesystem(plaintext []byte, decompressor interfaces.Decompressor) ([]byte, error) {
	if decompressor == nil {
		return nil, fmt.Errorf("no decompressor capability: %w", types.ErrFeatureNotEnabled)
	}
	return decompressor.Decompress(plaintext, LZFDecompressSize)
}

// ExtractFile returns the named member of a tar archive.
func ExtractFile(tarBytes []byte, name string) ([]byte, error) {
	reader := tar.NewReader(bytes.NewReader(tarBytes))
	for {
		header, err := reader.Next()
		if err == io.EOF {
			return nil, fmt.Errorf("tar member %q does not exist", name)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read tar archive: %w", err)
		}
		if header.Name != name && header.Name != "./"+name {
			continue
		}
		data, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("failed to read tar member %q: %w", name, err)
		}
		return data, nil
	}
}

// ReadKMLConfig extracts and parses kmlconfig.json from the decrypted,
// inflated extent filesystem tar.
func ReadKMLConfig(tarBytes []byte) (*KMLConfig, error) {
	data, err := ExtractFile(tarBytes, KMLConfigFilename)
	if err != nil {
		return nil, err
	}
	return ParseKMLConfig(data)
}
