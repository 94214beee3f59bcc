package integrity

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"

	"github.com/igelfs/go-igfs/internal/interfaces"
	"github.com/igelfs/go-igfs/internal/models"
	"github.com/igelfs/go-igfs/internal/types"
)

// SignedManifest returns the byte string a hash block signature covers: the
// hash values followed by the serialized exclude table.
func SignedManifest(hashValues []byte, excludes []*models.HashExclude) []byte {
	manifest := make([]byte, 0, len(hashValues)+len(excludes)*models.HashExcludeSize)
	manifest = append(manifest, hashValues...)
	manifest = append(manifest, models.SerializeHashExcludes(excludes)...)
	return manifest
}

// rsaVerifier verifies PKCS#1 v1.5 / SHA-256 signatures against a set of
// trusted public keys.
type rsaVerifier struct {
	keys []*rsa.PublicKey
}

// NewVerifier returns a Verifier over the given trusted keys. With no
// arguments the bundled trusted key set is used.
func NewVerifier(keys ...*rsa.PublicKey) interfaces.Verifier {
	if len(keys) == 0 {
		keys = TrustedKeys()
	}
	return &rsaVerifier{keys: keys}
}

// Verify hashes the message with SHA-256 and tries each trusted key in turn.
// A signature no trusted key accepts is reported as invalid; with an empty
// key set nothing can vouch for the signer at all.
func (v *rsaVerifier) Verify(message, signature []byte) error {
	if len(v.keys) == 0 {
		return types.ErrUntrustedSigner
	}
	digest := sha256.Sum256(message)
	for _, key := range v.keys {
		if err := rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], signature); err == nil {
			return nil
		}
	}
	return types.ErrSignatureInvalid
}

// rsaSigner signs manifests with a caller-provided private key. The library
// bundles no private keys; this exists for callers that own signing material
// and for the write pipeline's tests.
type rsaSigner struct {
	key *rsa.PrivateKey
}

// NewSigner returns a Signer over the given private key.
func NewSigner(key *rsa.PrivateKey) interfaces.Signer {
	return &rsaSigner{key: key}
}

// Sign produces a PKCS#1 v1.5 / SHA-256 signature over the message.
func (s *rsaSigner) Sign(message []byte) ([]byte, error) {
	digest := sha256.Sum256(message)
	signature, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("failed to sign hash manifest: %w", err)
	}
	return signature, nil
}
