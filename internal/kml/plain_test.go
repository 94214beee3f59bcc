package kml

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlainContainerRoundTrip(t *testing.T) {
	key := make([]byte, 64)
	for i := range key {
		key[i] = byte(i * 5)
	}
	data := bytes.Repeat([]byte("sector content 0"), 2*PlainSectorSize/16)

	ciphertext, err := EncryptPlainContainer(data, key)
	require.NoError(t, err)
	assert.NotEqual(t, data, ciphertext)

	// Identical sectors encrypt differently under per-sector tweaks.
	assert.NotEqual(t, ciphertext[:PlainSectorSize], ciphertext[PlainSectorSize:2*PlainSectorSize])

	plaintext, err := DecryptPlainContainer(ciphertext, key)
	require.NoError(t, err)
	assert.Equal(t, data, plaintext)
}

func TestPlainContainerRejectsBadInput(t *testing.T) {
	key := make([]byte, 64)

	_, err := DecryptPlainContainer(make([]byte, 100), key)
	require.Error(t, err)

	_, err = DecryptPlainContainer(make([]byte, PlainSectorSize), key[:32])
	require.Error(t, err)

	_, err = DecryptPlainContainer(nil, key)
	require.Error(t, err)
}
