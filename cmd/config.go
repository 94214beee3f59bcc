package cmd

import (
	"crypto/rsa"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/igelfs/go-igfs/internal/device"
	"github.com/igelfs/go-igfs/internal/igfs"
	"github.com/igelfs/go-igfs/internal/integrity"
)

// openOptions builds filesystem open options from the loaded tool
// configuration: section size override, CRC policy and the trusted key set.
func openOptions(readWrite bool) (igfs.Options, error) {
	config, err := device.LoadConfig()
	if err != nil {
		return igfs.Options{}, err
	}

	keys := integrity.TrustedKeys()
	if config.TrustedKeysPath != "" {
		extra, err := loadKeyBundle(config.TrustedKeysPath)
		if err != nil {
			return igfs.Options{}, err
		}
		keys = append(append([]*rsa.PublicKey{}, keys...), extra...)
	}

	opts := igfs.Options{
		ReadWrite:       readWrite,
		SectionSize:     config.SectionSize,
		DisableCRCCheck: !config.VerifyCRC,
		Verifier:        integrity.NewVerifier(keys...),
	}
	if verbose {
		opts.Progress = progressPrinter()
	}
	return opts, nil
}

// loadKeyBundle reads additional trusted public keys from a PEM file.
func loadKeyBundle(path string) ([]*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trusted key bundle: %w", err)
	}
	var keys []*rsa.PublicKey
	for rest := data; ; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		key, err := integrity.ParsePublicKeyPEM(pem.EncodeToMemory(block))
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		_, err := integrity.ParsePublicKeyPEM(data)
		return nil, err
	}
	return keys, nil
}

// progressPrinter tags a long-running walk with an operation id so verbose
// runs over large devices can be correlated in logs.
func progressPrinter() func(int) bool {
	operationID := uuid.NewString()
	return func(sectionsWalked int) bool {
		if sectionsWalked%256 == 0 {
			fmt.Fprintf(os.Stderr, "[%s] walked %d sections\n", operationID, sectionsWalked)
		}
		return true
	}
}
