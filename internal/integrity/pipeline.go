package integrity

import (
	"fmt"

	"github.com/igelfs/go-igfs/internal/interfaces"
	"github.com/igelfs/go-igfs/internal/models"
	"github.com/igelfs/go-igfs/internal/types"
)

// ChainedSection pairs a parsed section with its image index.
type ChainedSection struct {
	Index   uint32
	Section *models.Section
}

// Rewrite runs the mandatory write ordering over a partition chain and
// returns the serialized bytes per section, ready to write in place:
//
//  1. BLAKE2b hash of every section with the exclude mask applied.
//  2. RSA signature over hash values and exclude table, when a signer is
//     provided.
//  3. CRC32 of every section, always last.
//
// Every header field except crc, generation, next_section, the signature and
// the hash values is covered by the digests, so the caller mutates the models
// first and calls Rewrite once.
func Rewrite(chain []ChainedSection, sectionSize, imageSize int64, signer interfaces.Signer) ([][]byte, error) {
	if len(chain) == 0 {
		return nil, fmt.Errorf("empty section chain")
	}
	first := chain[0].Section

	if first.Hash != nil {
		hash := first.Hash
		hash.CountHash = uint64(len(chain))
		hash.HashBlockSize = uint32(len(chain)) * uint32(hash.HashBytes)
		if len(first.HashValues) != int(hash.HashBlockSize) {
			first.HashValues = make([]byte, hash.HashBlockSize)
		}

		if len(first.HashExcludes) == 0 {
			first.HashExcludes = DefaultExcludes(imageSize, sectionSize, chain[0].Index, first)
			hash.CountExcludes = uint16(len(first.HashExcludes))
			hash.ExcludesSize = uint16(len(first.HashExcludes) * models.HashExcludeSize)
			hash.HashHeaderSize = uint32(models.HashHeaderSize) + uint32(hash.ExcludesSize)
			hash.OffsetHashExcludes = uint32(models.HashHeaderSize)
			hdrOverhead := uint32(types.SectionHeaderSize)
			if first.Partition != nil {
				hdrOverhead += uint32(first.Partition.HdrLen)
			}
			hash.OffsetHash = hdrOverhead + hash.HashHeaderSize
		}

		for i, cs := range chain {
			masked := ApplyExcludeMask(cs.Section.Serialize(), cs.Index, sectionSize, first.HashExcludes)
			digest, err := SectionDigest(masked, int(hash.HashBytes))
			if err != nil {
				return nil, err
			}
			copy(first.HashValues[i*int(hash.HashBytes):], digest)
		}

		if signer != nil {
			signature, err := signer.Sign(SignedManifest(first.HashValues, first.HashExcludes))
			if err != nil {
				return nil, err
			}
			if len(signature) != types.SignatureSize {
				return nil, fmt.Errorf("signer produced %d byte signature, want %d",
					len(signature), types.SignatureSize)
			}
			copy(hash.Signature[:], signature)
		}
	}

	out := make([][]byte, len(chain))
	for i, cs := range chain {
		out[i] = cs.Section.SerializeWithCRC()
	}
	return out, nil
}

// VerifyChain runs read-time verification over a partition chain. The CRC of
// every section is always checked; the signature is checked once per
// partition when a verifier is provided; with deep set, every section is
// re-hashed against the hash value block.
func VerifyChain(chain []ChainedSection, sectionSize int64, verifier interfaces.Verifier, deep bool) error {
	for _, cs := range chain {
		if err := VerifySectionCRC(cs.Index, cs.Section.Serialize()); err != nil {
			return err
		}
	}

	first := chain[0].Section
	if first.Hash == nil {
		return nil
	}

	if verifier != nil {
		manifest := SignedManifest(first.HashValues, first.HashExcludes)
		if err := verifier.Verify(manifest, first.Hash.Signature[:]); err != nil {
			return err
		}
	}

	if deep {
		if first.Hash.CountHash != uint64(len(chain)) {
			return fmt.Errorf("hash block covers %d sections, chain has %d: %w",
				first.Hash.CountHash, len(chain), types.ErrHashMismatch)
		}
		for i, cs := range chain {
			err := VerifySectionHash(cs.Index, i, cs.Section.Serialize(), sectionSize,
				first.Hash, first.HashExcludes, first.HashValues)
			if err != nil {
				return err
			}
		}
	}
	return nil
}
