package integrity

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"sync"
)

// The firmware vendor's signing keys, as distributed with the flash driver.
// Additional keys can be supplied through NewVerifier or loaded from a
// configured bundle with ParsePublicKeyPEM.
var trustedKeyPEMs = []string{
	`-----BEGIN PUBLIC KEY-----
MIICIjANBgkqhkiG9w0BAQEFAAOCAg8AMIICCgKCAgEAs5MiEhhoMLP9FN1nc0ge
Kb4jek5xwvDUZpretu0yIoFwTkbFY7XmZcEnyFuhYS3qM2gAgb1gkQN8SdmljmDL
SUFeZyMeE6+zKm4kUuBh6NQhTt63hgpRGxo7ZbOZE8cbI/Vs1t16Sm+Opn6vfW47
5eRi/s0V70mMw1ot1cCtaTFNPYnnSB9kUvb+hgOgRTE2IxtcgQeYH+SqA+YzIuW5
koqRCtljy/B7YccHMhcawq9aN0l5uabEW8dVwNggdHiuKv4Gn2LKVZg3h6Kt/dR/
96/f7pVR5bhSE7l+0BSCWt3un8Ul0tqoLxMa4ZNwkgciAsUSL65gvOmQW0gDieN1
xJM7e95KXo7W/+MPN3WzYvOKa3zr9WsG3f08lmunJXJGqeA7yG3xnrdNtqXbFyYz
n/fnNr2cPyntgVdd/7xDiZwm30dj3CHTrxE2tUSFJmiC13I9ZN9EQGuaNDEntpwA
CZ2HSJ3OSKhgPo0TytoIf8toHvXbNn8SmmYUQhHmtSfvrgKz4vnZ7r5Hyopp8gFp
DEhPmG56i13XE35JgvG/eRU3k2qc66/+4NZMuooRta2tUQT+VPJejXWGz22aQ/n0
uHGp6OZfJp3OQPhCqzbzVILfbVmDFRFh18PTZ+LxNfCZeUHPLC4EQkmBGm6vlC1r
KsBVyTWL/49qdW+ic5eNVH0CAwEAAQ==
-----END PUBLIC KEY-----`,
}

var (
	trustedKeysOnce sync.Once
	trustedKeys     []*rsa.PublicKey
)

// TrustedKeys returns the bundled trusted public key set. The keys are
// immutable static data; parsing happens once.
func TrustedKeys() []*rsa.PublicKey {
	trustedKeysOnce.Do(func() {
		for _, pemText := range trustedKeyPEMs {
			key, err := ParsePublicKeyPEM([]byte(pemText))
			if err != nil {
				continue
			}
			trustedKeys = append(trustedKeys, key)
		}
	})
	return trustedKeys
}

// ParsePublicKeyPEM parses a PEM-encoded PKIX RSA public key.
func ParsePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in public key data")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, want RSA", parsed)
	}
	return key, nil
}
