package kml

import (
	"bytes"
	"crypto/aes"
	"crypto/sha512"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/xts"

	"github.com/igelfs/go-igfs/internal/types"
)

// Known-good extent keys produced by the reference derivation.
func TestDeriveExtentKeyVectors(t *testing.T) {
	tests := []struct {
		name         string
		bootID       string
		secondaryKey string
		want         string
	}{
		{
			name:   "structured registry boot id",
			bootID: "0123456789abcdef0123",
			want:   "Hbfhu8nBnZJsuneyL61c1nD8l8RlRN97Et45ZeEDWYs=",
		},
		{
			name:   "short boot id",
			bootID: "deadbeef",
			want:   "0M81GgFnMcwgd7+2D+sbDxvY/j+tA7oEkbrvf9MCL/8=",
		},
		{
			name:         "with secondary key",
			bootID:       "deadbeef",
			secondaryKey: "bDF0Ib7m+zCS9Fu0Z9hdJ5MnfPsbu8y+7cH75TFHf+Q=",
			want:         "FkeSQOPUKIIQ+mdmVyDoZbFB/yAqAvlv8f3ETeBfkpQ=",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := DeriveExtentKey(tt.bootID, tt.secondaryKey)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(key))

			// The text form is valid base64 of a 32-byte key.
			raw, err := base64.StdEncoding.DecodeString(string(key))
			require.NoError(t, err)
			assert.Len(t, raw, ExtentKeySize)
		})
	}
}

func TestDeriveExtentKeyEmptyBootID(t *testing.T) {
	_, err := DeriveExtentKey("", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrKdfFailure))
}

func TestKDFParamsForLevel(t *testing.T) {
	assert.Equal(t, KDFParams{OpsLimit: 3, MemLimit: 128000000}, KDFParamsForLevel(0))
	assert.Equal(t, KDFParams{OpsLimit: 7, MemLimit: 8000000}, KDFParamsForLevel(1))
	assert.Equal(t, KDFParams{OpsLimit: 2, MemLimit: 1024000000}, KDFParamsForLevel(2))
	// Levels beyond the table fall back to the defaults.
	assert.Equal(t, KDFParamsForLevel(0), KDFParamsForLevel(17))
	assert.Equal(t, KDFParamsForLevel(0), KDFParamsForLevel(-1))
}

// DecryptXTS with a sector-number IV must agree with the standard library's
// XTS, which is the same IEEE 1619 construction restricted to sector tweaks.
func TestDecryptXTSMatchesXCryptoXTS(t *testing.T) {
	key := make([]byte, 64)
	for i := range key {
		key[i] = byte(i*3 + 1)
	}
	plaintext := make([]byte, 64)
	for i := range plaintext {
		plaintext[i] = byte(0xA0 ^ i)
	}

	cipher, err := xts.NewCipher(aes.NewCipher, key)
	require.NoError(t, err)

	for _, sector := range []uint64{0, 1, 5, 0x1000} {
		ciphertext := make([]byte, len(plaintext))
		cipher.Encrypt(ciphertext, plaintext, sector)

		iv := make([]byte, 16)
		binary.LittleEndian.PutUint64(iv, sector)
		got, err := DecryptXTS(ciphertext, key, iv)
		require.NoError(t, err)
		assert.Equal(t, plaintext, got, "sector %d", sector)
	}
}

func TestXTSRoundTripArbitraryIV(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 64)
	iv := []byte("0123456789abcdef")
	data := []byte("an exact multiple of sixteen by.")
	require.Equal(t, 32, len(data))

	ciphertext, err := EncryptXTS(data, key, iv)
	require.NoError(t, err)
	assert.NotEqual(t, data, ciphertext)

	plaintext, err := DecryptXTS(ciphertext, key, iv)
	require.NoError(t, err)
	assert.Equal(t, data, plaintext)
}

func TestDecryptXTSRejectsBadInput(t *testing.T) {
	key := make([]byte, 64)
	iv := make([]byte, 16)

	_, err := DecryptXTS(make([]byte, 15), key, iv)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrUnwrapFailure))

	_, err = DecryptXTS(make([]byte, 16), key[:32], iv)
	require.Error(t, err)

	_, err = DecryptXTS(make([]byte, 16), key, iv[:8])
	require.Error(t, err)
}

// wrapSlotKey builds the priv blob UnwrapSlotKey will open: the encryption
// dual of the unwrap chain, usable only in tests that own all inputs.
func wrapSlotKey(t *testing.T, extentKey, salt, pub, master []byte, level int) []byte {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(string(extentKey))
	require.NoError(t, err)
	password := []byte(base64.StdEncoding.EncodeToString(raw[:20]))
	params := KDFParamsForLevel(level)
	derived := argon2.IDKey(password, salt, params.OpsLimit, params.MemLimit/1024, 1, 32)
	derived = append(derived, pub...)
	derivedHash := sha512.Sum512(derived)
	priv, err := EncryptXTS(master, derivedHash[:], derivedHash[32:48])
	require.NoError(t, err)
	return priv
}

func TestUnwrapSlotKeyRoundTrip(t *testing.T) {
	// Level 1 keeps the Argon2id memory cost test-sized.
	const level = 1
	extentKey, err := DeriveExtentKey("0123456789abcdef0123", "")
	require.NoError(t, err)
	salt := []byte("0123456789abcdef")
	pub := bytes.Repeat([]byte{0x11}, 32)
	master := make([]byte, 64)
	for i := range master {
		master[i] = byte(0x80 | i)
	}

	priv := wrapSlotKey(t, extentKey, salt, pub, master, level)
	got, err := UnwrapSlotKey(extentKey, salt, pub, priv, level)
	require.NoError(t, err)
	assert.Equal(t, master, got)
}

func TestUnwrapKeyRoundTrip(t *testing.T) {
	master := make([]byte, 64)
	for i := range master {
		master[i] = byte(i ^ 0x5A)
	}
	fsKey := bytes.Repeat([]byte{0xC3}, 64)

	wrapped, err := EncryptXTS(fsKey, master, master[32:48])
	require.NoError(t, err)

	got, err := UnwrapKey(wrapped, master)
	require.NoError(t, err)
	assert.Equal(t, fsKey, got)
}

func TestUnwrapSlotKeyBadExtentKey(t *testing.T) {
	_, err := UnwrapSlotKey([]byte("!!not base64!!"), []byte("salt"), nil, make([]byte, 64), 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrKdfFailure))
}
