// Package cmd implements the go-igfs command-line interface: info, extract,
// verify and decrypt over IGEL filesystem images.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/igelfs/go-igfs/internal/types"
)

// Exit codes of the CLI surface.
const (
	exitOK               = 0
	exitOther            = 1
	exitInvalidArguments = 2
	exitCorruptImage     = 3
	exitSignatureInvalid = 4
	exitDecryptionFailed = 5
)

// errInvalidArgs marks argument validation failures so Execute can map them
// to their own exit code.
var errInvalidArgs = errors.New("invalid arguments")

var (
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "go-igfs",
	Short: "Read, verify and decrypt IGEL filesystem (IGFS) images",
	Long: `go-igfs is an offline structural reader and writer for the IGEL
filesystem image format used by IGEL OS firmware.

It opens image files or block devices, enumerates partitions through the
section-zero directory, extracts extent payloads (kernel, bootsplash,
squashfs, writable overlays), verifies per-section integrity (CRC32, BLAKE2b
hash chains, RSA signatures) and decrypts encrypted extent filesystems.

Commands:
  info        Print the partition table and section statistics
  extract     Write partition or extent bytes to a file
  verify      Verify image integrity
  decrypt     Decrypt an encrypted partition`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI and exits with the documented code for the failure
// class.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error to the CLI exit code contract.
func exitCode(err error) int {
	switch {
	case errors.Is(err, errInvalidArgs):
		return exitInvalidArguments
	case errors.Is(err, types.ErrSignatureInvalid),
		errors.Is(err, types.ErrUntrustedSigner):
		return exitSignatureInvalid
	case errors.Is(err, types.ErrAeadFailure),
		errors.Is(err, types.ErrKdfFailure),
		errors.Is(err, types.ErrUnwrapFailure):
		return exitDecryptionFailed
	case errors.Is(err, types.ErrInvalidImage),
		errors.Is(err, types.ErrInvalidMagic),
		errors.Is(err, types.ErrTruncated),
		errors.Is(err, types.ErrOutOfRange),
		errors.Is(err, types.ErrCorruptDirectory),
		errors.Is(err, types.ErrCycleDetected),
		errors.Is(err, types.ErrChecksumFailed),
		errors.Is(err, types.ErrHashMismatch):
		return exitCorruptImage
	default:
		return exitOther
	}
}

// exactArgs is cobra.ExactArgs with the error tagged for the invalid
// arguments exit code.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return fmt.Errorf("%w: accepts %d arg(s), received %d", errInvalidArgs, n, len(args))
		}
		return nil
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}
