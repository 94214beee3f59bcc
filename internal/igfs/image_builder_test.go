package igfs

import (
	"archive/tar"
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	lzf "github.com/zhuyie/golzf"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/igelfs/go-igfs/internal/integrity"
	"github.com/igelfs/go-igfs/internal/kml"
	"github.com/igelfs/go-igfs/internal/models"
	"github.com/igelfs/go-igfs/internal/types"
)

// Test image geometry: 64 sections of 256 KiB, a 16 MiB image.
const testSectionCount = 64

const testBootID = "0123456789abcdef0123"

// testSigningKey signs the hash blocks of fixture images.
var testSigningKey = mustGenerateKey()

func mustGenerateKey() *rsa.PrivateKey {
	key, err := rsa.GenerateKey(rand.Reader, 4096)
	if err != nil {
		panic(err)
	}
	return key
}

// testFSKey is the unwrapped filesystem key of the encrypted fixture
// partition.
var testFSKey = func() []byte {
	key := make([]byte, 64)
	for i := range key {
		key[i] = byte(i*7 + 3)
	}
	return key
}()

// kernelPayload and squashfsPayload are the extent contents of the signed
// fixture partition.
var (
	kernelPayload   = bytes.Repeat([]byte("KERNELIMAGE!"), 4096/12)
	squashfsPayload = bytes.Repeat([]byte("hsqs-content"), 8192/12)
)

// plainContainerPlaintext is the cleartext of the encrypted partition's
// filesystem container.
var plainContainerPlaintext = bytes.Repeat([]byte("writable fs data"), 2*kml.PlainSectorSize/16)

// buildChainSections splits payload over a chain of sections with the given
// image indices and routes the chain through the write pipeline.
func buildChainSections(t *testing.T, image []byte, minor uint32, indices []uint32, partType uint16, extents []*models.PartitionExtent, payload []byte, withHash bool) {
	t.Helper()

	hdrLen := uint16(models.PartitionHeaderSize + len(extents)*models.PartitionExtentSize)
	partition := &models.PartitionHeader{
		Type:     partType,
		HdrLen:   hdrLen,
		PartLen:  uint64(len(indices)) * types.SectionSize,
		NExtents: uint16(len(extents)),
	}
	copy(partition.Name[:], "p")

	var hash *models.HashHeader
	if withHash {
		hash = &models.HashHeader{Version: 1, HashBytes: types.HashByteLen}
		copy(hash.Ident[:], types.HashHeaderIdent)
	}

	chain := make([]integrity.ChainedSection, len(indices))
	remaining := payload
	for i, index := range indices {
		header := &models.SectionHeader{
			SectionSize:    types.SectionSizeExponent,
			PartitionMinor: minor,
			SectionInMinor: uint32(i),
			NextSection:    types.EndOfChain,
		}
		if i+1 < len(indices) {
			header.NextSection = indices[i+1]
		}
		section := &models.Section{Header: header}
		if i == 0 {
			section.Partition = partition
			section.Extents = extents
			if withHash {
				section.Hash = hash
			}
		}
		capacity := types.SectionSize - section.HeaderOverhead()
		if withHash && i == 0 {
			// Room for the exclude table and hash values the pipeline adds.
			capacity -= 5*models.HashExcludeSize + len(indices)*types.HashByteLen
		}
		n := capacity
		if n > len(remaining) {
			n = len(remaining)
		}
		section.Data = remaining[:n]
		remaining = remaining[n:]
		chain[i] = integrity.ChainedSection{Index: index, Section: section}
	}
	require.Empty(t, remaining, "payload does not fit the chain")

	serialized, err := integrity.Rewrite(chain, types.SectionSize,
		int64(len(image)), integrity.NewSigner(testSigningKey))
	require.NoError(t, err)
	for i, index := range indices {
		copy(image[int(index)*types.SectionSize:], serialized[i])
	}
}

// buildEFSContainer seals a kmlconfig keyring for partition 254 into an
// extent filesystem container, keyed off the test boot id.
func buildEFSContainer(t *testing.T) []byte {
	t.Helper()

	extentKey, err := kml.DeriveExtentKey(testBootID, "")
	require.NoError(t, err)

	const level = 1
	salt := []byte("fixture-salt-16b")
	pub := bytes.Repeat([]byte{0x44}, 32)
	master := make([]byte, 64)
	for i := range master {
		master[i] = byte(0x10 + i)
	}

	raw, err := base64.StdEncoding.DecodeString(string(extentKey))
	require.NoError(t, err)
	password := []byte(base64.StdEncoding.EncodeToString(raw[:20]))
	params := kml.KDFParamsForLevel(level)
	derived := argon2.IDKey(password, salt, params.OpsLimit, params.MemLimit/1024, 1, 32)
	derived = append(derived, pub...)
	derivedHash := sha512.Sum512(derived)
	priv, err := kml.EncryptXTS(master, derivedHash[:], derivedHash[32:48])
	require.NoError(t, err)
	wrappedFS, err := kml.EncryptXTS(testFSKey, master, master[32:48])
	require.NoError(t, err)

	kmlJSON := []byte(`{
		"system": {"salt": "` + base64.StdEncoding.EncodeToString(salt) + `", "level": 1},
		"slots": [{"pub": "` + base64.StdEncoding.EncodeToString(pub) + `", "priv": "` + base64.StdEncoding.EncodeToString(priv) + `"}],
		"keys": {"254": "` + base64.StdEncoding.EncodeToString(wrappedFS) + `"}
	}`)

	var tarBuf bytes.Buffer
	w := tar.NewWriter(&tarBuf)
	require.NoError(t, w.WriteHeader(&tar.Header{
		Name: kml.KMLConfigFilename,
		Mode: 0o600,
		Size: int64(len(kmlJSON)),
	}))
	_, err = w.Write(kmlJSON)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	compressed := make([]byte, tarBuf.Len()*2+64)
	n, err := lzf.Compress(tarBuf.Bytes(), compressed)
	require.NoError(t, err)

	efs := &models.ExtentFilesystem{Data: make([]byte, types.ExtentFSDataSize)}
	copy(efs.Magic[:], types.ExtentFSMagic)
	copy(efs.Nonce1[:], "fixtureN")
	efs.Nonce2[0] = 0x17
	copy(efs.Authenticated[:], "igelauth")

	aead, err := chacha20poly1305.NewX(extentKey[:chacha20poly1305.KeySize])
	require.NoError(t, err)
	a := sha256.Sum256(efs.Nonce1[:])
	b := sha256.Sum256(efs.Nonce2[:])
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	for i := range nonce {
		nonce[i] = a[i] ^ b[i]
	}
	ciphertext := aead.Seal(nil, nonce, compressed[:n], efs.Authenticated[:])
	copy(efs.Data, ciphertext)
	efs.Size = uint64(len(ciphertext))

	return efs.Serialize()
}

// buildTestImage assembles the full fixture image and writes it to a temp
// file:
//
//	section 0      boot registry + directory
//	sections 1-3   partition 1, signed, kernel + squashfs extents
//	sections 4-8   partition 254, encrypted, writeable extent (EFS) + plain container
//	section 9      partition 255, raw, no hash
func buildTestImage(t *testing.T) string {
	t.Helper()
	image := make([]byte, testSectionCount*types.SectionSize)

	// Partition 1: signed, three sections.
	extents1 := []*models.PartitionExtent{
		{Type: uint16(types.ExtentTypeKernel), Offset: 0, Length: uint64(len(kernelPayload))},
		{Type: uint16(types.ExtentTypeSquashFS), Offset: uint64(len(kernelPayload)), Length: uint64(len(squashfsPayload))},
	}
	copy(extents1[0].Name[:], "kernel")
	copy(extents1[1].Name[:], "sys")
	payload1 := append(append([]byte{}, kernelPayload...), squashfsPayload...)
	payload1 = append(payload1, bytes.Repeat([]byte{0xEE}, 400000)...)
	buildChainSections(t, image, 1, []uint32{1, 2, 3},
		uint16(types.PartTypeIGELCompress)|uint16(types.PartFlagHasIGELHash),
		extents1, payload1, true)

	// Partition 254: encrypted, writeable extent holding the EFS container,
	// followed by the plain dm-crypt container.
	efsBytes := buildEFSContainer(t)
	container, err := kml.EncryptPlainContainer(plainContainerPlaintext, testFSKey)
	require.NoError(t, err)
	extents254 := []*models.PartitionExtent{
		{Type: uint16(types.ExtentTypeWriteable), Offset: 0, Length: uint64(len(efsBytes))},
	}
	copy(extents254[0].Name[:], "wfs")
	payload254 := append(append([]byte{}, efsBytes...), container...)
	buildChainSections(t, image, 254, []uint32{4, 5, 6, 7, 8},
		uint16(types.PartTypeIGELRaw)|uint16(types.PartFlagHasCrypt),
		extents254, payload254, false)

	// Partition 255: raw single section.
	buildChainSections(t, image, 255, []uint32{9},
		uint16(types.PartTypeIGELRaw), nil, []byte("raw writable partition"), false)

	// Section 0: structured boot registry, then the directory.
	bootreg := &models.BootRegistryHeader{HdrVersion: 1}
	copy(bootreg.IdentLegacy[:], types.BootRegIdent)
	copy(bootreg.Magic[:], types.BootRegMagic)
	copy(bootreg.BootID[:], testBootID)
	require.NoError(t, bootreg.SetEntry("boot_mode", "normal"))
	copy(image[types.BootRegOffset:], bootreg.Serialize())

	directory := models.NewDirectory()
	require.NoError(t, directory.CreateEntry(1, 1, 3))
	require.NoError(t, directory.CreateEntry(254, 4, 5))
	require.NoError(t, directory.CreateEntry(255, 9, 1))
	copy(image[types.DirOffset:], directory.SerializeWithCRC())

	path := filepath.Join(t.TempDir(), "fixture.igf")
	require.NoError(t, os.WriteFile(path, image, 0o600))
	return path
}

// patchSection edits raw bytes of one section in the image file and repairs
// the section CRC afterwards.
func patchSection(t *testing.T, path string, section uint32, offset int64, data []byte) {
	t.Helper()
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	defer file.Close()

	raw := make([]byte, types.SectionSize)
	start := int64(section) * types.SectionSize
	_, err = file.ReadAt(raw, start)
	require.NoError(t, err)

	copy(raw[offset:], data)
	crc := integrity.SectionCRC(raw)
	raw[0] = byte(crc)
	raw[1] = byte(crc >> 8)
	raw[2] = byte(crc >> 16)
	raw[3] = byte(crc >> 24)

	_, err = file.WriteAt(raw, start)
	require.NoError(t, err)
}

// flipByte XORs one byte in the image file without repairing anything.
func flipByte(t *testing.T, path string, absoluteOffset int64, mask byte) {
	t.Helper()
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	defer file.Close()

	b := make([]byte, 1)
	_, err = file.ReadAt(b, absoluteOffset)
	require.NoError(t, err)
	b[0] ^= mask
	_, err = file.WriteAt(b, absoluteOffset)
	require.NoError(t, err)
}
