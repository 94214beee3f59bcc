package kml

import (
	"crypto/aes"
	"fmt"

	"golang.org/x/crypto/xts"

	"github.com/igelfs/go-igfs/internal/types"
)

// PlainSectorSize is the dm-crypt sector size of a plain aes-xts-plain64
// container.
const PlainSectorSize = 512

// DecryptPlainContainer decrypts a headerless aes-xts-plain64 container with
// a 512-bit key, sector numbers counting up from zero. This is the offline
// dual of the device-mapper table the firmware sets up at boot; LUKS
// containers stay with external tooling.
func DecryptPlainContainer(data, key []byte) ([]byte, error) {
	if len(key) != 64 {
		return nil, fmt.Errorf("plain container key is %d bytes, want 64: %w",
			len(key), types.ErrUnwrapFailure)
	}
	if len(data) == 0 || len(data)%PlainSectorSize != 0 {
		return nil, fmt.Errorf("plain container length %d is not a positive multiple of %d: %w",
			len(data), PlainSectorSize, types.ErrUnwrapFailure)
	}

	cipher, err := xts.NewCipher(aes.NewCipher, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create XTS cipher: %w", err)
	}

	plaintext := make([]byte, len(data))
	for sector := 0; sector*PlainSectorSize < len(data); sector++ {
		offset := sector * PlainSectorSize
		cipher.Decrypt(plaintext[offset:offset+PlainSectorSize],
			data[offset:offset+PlainSectorSize], uint64(sector))
	}
	return plaintext, nil
}

// EncryptPlainContainer is the inverse of DecryptPlainContainer, for fixture
// construction.
func EncryptPlainContainer(data, key []byte) ([]byte, error) {
	if len(key) != 64 {
		return nil, fmt.Errorf("plain container key is %d bytes, want 64: %w",
			len(key), types.ErrUnwrapFailure)
	}
	if len(data) == 0 || len(data)%PlainSectorSize != 0 {
		return nil, fmt.Errorf("plain container length %d is not a positive multiple of %d: %w",
			len(data), PlainSectorSize, types.ErrUnwrapFailure)
	}

	cipher, err := xts.NewCipher(aes.NewCipher, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create XTS cipher: %w", err)
	}

	ciphertext := make([]byte, len(data))
	for sector := 0; sector*PlainSectorSize < len(data); sector++ {
		offset := sector * PlainSectorSize
		cipher.Encrypt(ciphertext[offset:offset+PlainSectorSize],
			data[offset:offset+PlainSectorSize], uint64(sector))
	}
	return ciphertext, nil
}
