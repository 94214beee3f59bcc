package kml

import (
	"fmt"
	"strconv"
)

// Keyring holds unwrapped per-partition filesystem keys. The material is
// sensitive: callers Wipe the ring when done, and the ring zeroizes every
// key it owns.
type Keyring struct {
	keys map[uint32][]byte
}

// NewKeyring returns an empty keyring.
func NewKeyring() *Keyring {
	return &Keyring{keys: make(map[uint32][]byte)}
}

// KeyringFromConfig unwraps every filesystem key in the config through slot
// n's master key. The intermediate master key is zeroized before returning.
func KeyringFromConfig(cfg *KMLConfig, extentKey []byte, slot int) (*Keyring, error) {
	master, err := cfg.MasterKey(extentKey, slot)
	if err != nil {
		return nil, err
	}
	defer zeroize(master)

	ring := NewKeyring()
	for name := range cfg.Keys {
		minor, err := strconv.ParseUint(name, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("key name %q is not a partition minor", name)
		}
		key, err := cfg.KeyForName(name, master)
		if err != nil {
			ring.Wipe()
			return nil, err
		}
		ring.Add(uint32(minor), key)
	}
	return ring, nil
}

// Add stores the key for a partition minor. The ring takes ownership of the
// slice.
func (r *Keyring) Add(minor uint32, key []byte) {
	r.keys[minor] = key
}

// Get returns the key for a partition minor.
func (r *Keyring) Get(minor uint32) ([]byte, bool) {
	key, ok := r.keys[minor]
	return key, ok
}

// Minors returns the partition minors with keys in the ring.
func (r *Keyring) Minors() []uint32 {
	minors := make([]uint32, 0, len(r.keys))
	for minor := range r.keys {
		minors = append(minors, minor)
	}
	return minors
}

// Wipe zeroizes and drops all key material.
func (r *Keyring) Wipe() {
	for minor, key := range r.keys {
		zeroize(key)
		delete(r.keys, minor)
	}
}

func zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
