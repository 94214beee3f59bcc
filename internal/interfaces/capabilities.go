// Package interfaces defines the capability surfaces injected into the IGFS
// core: optional crypto, compression and signing providers, and the progress
// callback of the chain walker.
package interfaces

// Decompressor inflates a compressed payload. Implementations cap the output
// at maxSize and fail rather than truncate.
type Decompressor interface {
	Decompress(data []byte, maxSize int) ([]byte, error)
}

// Aead opens an authenticated ciphertext.
type Aead interface {
	// Open decrypts ciphertext with the given key and nonce, verifying the
	// associated data.
	Open(key, nonce, aad, ciphertext []byte) ([]byte, error)
}

// Signer produces a signature over a hash manifest. The private key never
// enters the library; callers hand in a signer capability or signing is
// skipped.
type Signer interface {
	Sign(message []byte) ([]byte, error)
}

// Verifier checks a hash manifest signature against a trusted key set.
type Verifier interface {
	Verify(message, signature []byte) error
}

// ProgressFunc is invoked by the chain walker after each section. Returning
// false aborts the walk.
type ProgressFunc func(sectionsWalked int) bool
