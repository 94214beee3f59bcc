package kml

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/igelfs/go-igfs/internal/types"
)

// KMLConfigFilename is the key material manifest inside the decrypted extent
// filesystem tar.
const KMLConfigFilename = "kmlconfig.json"

// KMLConfig is the parsed kmlconfig.json: the KDF system parameters, the key
// slots and the wrapped per-partition filesystem keys. All key material in
// the file is base64 text.
type KMLConfig struct {
	System SystemConfig      `json:"system"`
	Slots  []SlotConfig      `json:"slots"`
	Keys   map[string]string `json:"keys"`
	TPM    json.RawMessage   `json:"tpm,omitempty"`
}

// SystemConfig carries the Argon2id salt and hardening level.
type SystemConfig struct {
	Salt  string `json:"salt"`
	Level int    `json:"level"`
}

// SlotConfig is one key slot: a public mixin value and the wrapped private
// half.
type SlotConfig struct {
	Pub  string `json:"pub"`
	Priv string `json:"priv"`
}

// ParseKMLConfig decodes kmlconfig.json bytes.
func ParseKMLConfig(data []byte) (*KMLConfig, error) {
	cfg := &KMLConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", KMLConfigFilename, err)
	}
	if cfg.System.Salt == "" {
		return nil, fmt.Errorf("%s has no system salt: %w", KMLConfigFilename, types.ErrKdfFailure)
	}
	return cfg, nil
}

// SaltBytes decodes the system salt.
func (c *KMLConfig) SaltBytes() ([]byte, error) {
	salt, err := base64.StdEncoding.DecodeString(c.System.Salt)
	if err != nil {
		return nil, fmt.Errorf("failed to decode system salt: %w", types.ErrKdfFailure)
	}
	return salt, nil
}

// MasterKey unwraps the master key from slot n with the extent key.
func (c *KMLConfig) MasterKey(extentKey []byte, slot int) ([]byte, error) {
	if slot < 0 || slot >= len(c.Slots) {
		return nil, fmt.Errorf("key slot %d out of range (%d slots): %w",
			slot, len(c.Slots), types.ErrUnwrapFailure)
	}
	salt, err := c.SaltBytes()
	if err != nil {
		return nil, err
	}
	pub, err := base64.StdEncoding.DecodeString(c.Slots[slot].Pub)
	if err != nil {
		return nil, fmt.Errorf("failed to decode slot %d pub: %w", slot, types.ErrUnwrapFailure)
	}
	priv, err := base64.StdEncoding.DecodeString(c.Slots[slot].Priv)
	if err != nil {
		return nil, fmt.Errorf("failed to decode slot %d priv: %w", slot, types.ErrUnwrapFailure)
	}
	return UnwrapSlotKey(extentKey, salt, pub, priv, c.System.Level)
}

// KeyForName unwraps the named filesystem key with the master key.
func (c *KMLConfig) KeyForName(name string, master []byte) ([]byte, error) {
	wrapped, ok := c.Keys[name]
	if !ok {
		return nil, fmt.Errorf("no key named %q: %w", name, types.ErrUnwrapFailure)
	}
	raw, err := base64.StdEncoding.DecodeString(wrapped)
	if err != nil {
		return nil, fmt.Errorf("failed to decode key %q: %w", name, types.ErrUnwrapFailure)
	}
	return UnwrapKey(raw, master)
}

// KeyForMinor unwraps the filesystem key for a partition minor. Keys are
// stored under their minor rendered as decimal text.
func (c *KMLConfig) KeyForMinor(minor uint32, master []byte) ([]byte, error) {
	return c.KeyForName(strconv.FormatUint(uint64(minor), 10), master)
}
