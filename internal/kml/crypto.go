// Package kml implements the IGEL Key Management Layer: extent key
// derivation from the boot identifier, Argon2id-based master key unwrap,
// AES-XTS slot key decryption and AEAD extent filesystem decryption.
package kml

import (
	"crypto/aes"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/argon2"

	"github.com/igelfs/go-igfs/internal/types"
)

// ExtentKeySize is the raw size of a derived extent key before base64
// encoding.
const ExtentKeySize = 32

// The two obfuscation constants baked into the flash driver. The effective
// keystream is reconstructed from them at derivation time.
var staticKey1 = [32]byte{
	0x6f, 0x86, 0x89, 0xe7, 0x8a, 0xc0, 0x4d, 0x75,
	0xf1, 0x50, 0xf1, 0x3b, 0xf1, 0xf2, 0xf7, 0x86,
	0x93, 0xf2, 0x99, 0xc5, 0x11, 0x68, 0x6b, 0x39,
	0xad, 0xc2, 0x51, 0xe6, 0x5c, 0x56, 0xf8, 0x4b,
}

var staticKey2 = [32]byte{
	0x65, 0x35, 0xd4, 0x19, 0xd6, 0x2c, 0x39, 0x80,
	0xe9, 0xe9, 0x87, 0x4c, 0x6b, 0x88, 0x23, 0x00,
	0x94, 0x29, 0xe4, 0xef, 0x48, 0xfb, 0xd2, 0xdf,
	0x6f, 0xb3, 0x61, 0x41, 0xbe, 0x6b, 0xd4, 0xf7,
}

// KDFParams are the Argon2id cost parameters for one hardening level.
type KDFParams struct {
	OpsLimit uint32
	MemLimit uint32 // bytes
}

// kdfConfig maps system.level to Argon2id parameters; levels outside the
// table fall back to index 0.
var kdfConfig = [6]KDFParams{
	{OpsLimit: 3, MemLimit: 128000000},
	{OpsLimit: 7, MemLimit: 8000000},
	{OpsLimit: 2, MemLimit: 1024000000},
	{OpsLimit: 3, MemLimit: 256000000},
	{OpsLimit: 3, MemLimit: 512000000},
	{OpsLimit: 4, MemLimit: 128000000},
}

// KDFParamsForLevel returns the cost parameters for a hardening level.
func KDFParamsForLevel(level int) KDFParams {
	if level < 0 || level >= len(kdfConfig) {
		return kdfConfig[0]
	}
	return kdfConfig[level]
}

// DeriveExtentKey derives the extent filesystem key from the boot
// identifier. The returned key is the base64 text form; that text, not its
// decoding, is what the AEAD and KDF steps consume downstream.
//
// A secondary base64 key is folded in on multi-key KML boots and is normally
// empty.
func DeriveExtentKey(bootID string, secondaryKey string) ([]byte, error) {
	if bootID == "" {
		return nil, fmt.Errorf("empty boot identifier: %w", types.ErrKdfFailure)
	}
	bootIDHash := sha256.Sum256([]byte(bootID))

	// Undo the driver's keystream obfuscation, then mix in the boot id.
	result := make([]byte, ExtentKeySize)
	for i := 0; i < ExtentKeySize; i++ {
		keystream := 0xFF - (staticKey2[i] ^ (staticKey1[i] ^ 0x57))
		result[i] = bootIDHash[i] ^ keystream
	}

	// Stretch by re-hashing a data-dependent number of times (10..41).
	iterations := 0
	for _, b := range result {
		iterations += int(b)
	}
	iterations = (iterations & 0x1F) + 0xA
	for i := 0; i < iterations; i++ {
		digest := sha256.Sum256(result)
		result = digest[:]
	}

	if secondaryKey != "" {
		binKey, err := base64.StdEncoding.DecodeString(secondaryKey)
		if err != nil {
			return nil, fmt.Errorf("failed to decode secondary key: %w", types.ErrKdfFailure)
		}
		for i := 0; i <= iterations; i++ {
			digest := sha256.Sum256(binKey)
			binKey = digest[:]
		}
		for i := 0; i < ExtentKeySize; i++ {
			result[i] ^= binKey[i]
		}
	}

	return []byte(base64.StdEncoding.EncodeToString(result)), nil
}

// UnwrapSlotKey derives the master key from a key slot:
//
//	password = base64(base64_decode(extent_key)[:20])
//	k1       = Argon2id(password, salt, level params, 32 bytes)
//	master   = AES-XTS-decrypt(priv, key = SHA-512(k1 || pub))
//
// where AES-XTS splits the 64-byte digest into the cipher key pair and takes
// the first half of the tweak key as IV.
func UnwrapSlotKey(extentKey, salt, pub, priv []byte, level int) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(string(extentKey))
	if err != nil {
		return nil, fmt.Errorf("failed to decode extent key: %w", types.ErrKdfFailure)
	}
	if len(raw) < 20 {
		return nil, fmt.Errorf("extent key too short: %w", types.ErrKdfFailure)
	}
	password := []byte(base64.StdEncoding.EncodeToString(raw[:20]))

	params := KDFParamsForLevel(level)
	derived := argon2.IDKey(password, salt, params.OpsLimit, params.MemLimit/1024, 1, 32)
	derived = append(derived, pub...)
	derivedHash := sha512.Sum512(derived)

	master, err := DecryptXTSSliced(priv, derivedHash[:])
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap slot key: %w", err)
	}
	return master, nil
}

// UnwrapKey decrypts one wrapped filesystem key with the master key, the
// same XTS construction as the slot unwrap.
func UnwrapKey(wrapped, master []byte) ([]byte, error) {
	key, err := DecryptXTSSliced(wrapped, master)
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap filesystem key: %w", err)
	}
	return key, nil
}

// DecryptXTSSliced decrypts data with a 64-byte XTS key whose IV is sliced
// from the key itself: the first 16 bytes of the tweak half.
func DecryptXTSSliced(data, key []byte) ([]byte, error) {
	if len(key) != 64 {
		return nil, fmt.Errorf("XTS key is %d bytes, want 64: %w", len(key), types.ErrUnwrapFailure)
	}
	return DecryptXTS(data, key, key[32:48])
}

// DecryptXTS decrypts data in AES-256-XTS mode with an arbitrary 16-byte IV.
//
// The standard library's XTS support only takes sector numbers as tweaks, so
// the IEEE 1619 construction is spelled out here: the IV is encrypted with
// the tweak key, each block is XOR-decrypt-XOR'd against it, and the tweak is
// multiplied by alpha in GF(2^128) between blocks.
func DecryptXTS(data, key, iv []byte) ([]byte, error) {
	if len(key) != 64 {
		return nil, fmt.Errorf("XTS key is %d bytes, want 64: %w", len(key), types.ErrUnwrapFailure)
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("XTS IV is %d bytes, want %d: %w", len(iv), aes.BlockSize, types.ErrUnwrapFailure)
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("XTS data length %d is not a positive multiple of the block size: %w",
			len(data), types.ErrUnwrapFailure)
	}

	dataCipher, err := aes.NewCipher(key[:32])
	if err != nil {
		return nil, fmt.Errorf("failed to create data cipher: %w", err)
	}
	tweakCipher, err := aes.NewCipher(key[32:64])
	if err != nil {
		return nil, fmt.Errorf("failed to create tweak cipher: %w", err)
	}

	tweak := make([]byte, aes.BlockSize)
	tweakCipher.Encrypt(tweak, iv)

	plaintext := make([]byte, len(data))
	block := make([]byte, aes.BlockSize)
	for offset := 0; offset < len(data); offset += aes.BlockSize {
		for i := 0; i < aes.BlockSize; i++ {
			block[i] = data[offset+i] ^ tweak[i]
		}
		dataCipher.Decrypt(block, block)
		for i := 0; i < aes.BlockSize; i++ {
			plaintext[offset+i] = block[i] ^ tweak[i]
		}
		mulAlpha(tweak)
	}
	return plaintext, nil
}

// EncryptXTS is the inverse of DecryptXTS. The read path never needs it; it
// exists so key wrapping fixtures and round-trip tests can be produced.
func EncryptXTS(data, key, iv []byte) ([]byte, error) {
	if len(key) != 64 {
		return nil, fmt.Errorf("XTS key is %d bytes, want 64: %w", len(key), types.ErrUnwrapFailure)
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("XTS IV is %d bytes, want %d: %w", len(iv), aes.BlockSize, types.ErrUnwrapFailure)
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("XTS data length %d is not a positive multiple of the block size: %w",
			len(data), types.ErrUnwrapFailure)
	}

	dataCipher, err := aes.NewCipher(key[:32])
	if err != nil {
		return nil, fmt.Errorf("failed to create data cipher: %w", err)
	}
	tweakCipher, err := aes.NewCipher(key[32:64])
	if err != nil {
		return nil, fmt.Errorf("failed to create tweak cipher: %w", err)
	}

	tweak := make([]byte, aes.BlockSize)
	tweakCipher.Encrypt(tweak, iv)

	ciphertext := make([]byte, len(data))
	block := make([]byte, aes.BlockSize)
	for offset := 0; offset < len(data); offset += aes.BlockSize {
		for i := 0; i < aes.BlockSize; i++ {
			block[i] = data[offset+i] ^ tweak[i]
		}
		dataCipher.Encrypt(block, block)
		for i := 0; i < aes.BlockSize; i++ {
			ciphertext[offset+i] = block[i] ^ tweak[i]
		}
		mulAlpha(tweak)
	}
	return ciphertext, nil
}

// mulAlpha multiplies the tweak by alpha in GF(2^128), little-endian bit
// order per IEEE 1619.
func mulAlpha(tweak []byte) {
	var carry byte
	for i := 0; i < len(tweak); i++ {
		next := tweak[i] >> 7
		tweak[i] = tweak[i]<<1 | carry
		carry = next
	}
	if carry != 0 {
		tweak[0] ^= 0x87
	}
}
