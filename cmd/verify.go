package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/igelfs/go-igfs/internal/igfs"
)

var verifyDeep bool

var verifyCmd = &cobra.Command{
	Use:   "verify [image]",
	Short: "Verify image integrity",
	Long: `Verify every partition of the image: section CRCs always, hash
block signatures against the trusted key set, and with --deep the full
BLAKE2b hash chain of every signed partition.

Exits 0 on success and nonzero with a diagnostic on the first failure.

Examples:
  go-igfs verify lxos.igf
  go-igfs verify --deep /dev/sda`,
	Args: exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVerify(args[0])
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().BoolVar(&verifyDeep, "deep", false, "re-hash every section against the hash chain")
}

func runVerify(path string) error {
	opts, err := openOptions(false)
	if err != nil {
		return err
	}
	fs, err := igfs.Open(path, opts)
	if err != nil {
		return err
	}
	defer fs.Close()

	if err := fs.VerifyImage(verifyDeep); err != nil {
		return err
	}
	fmt.Printf("OK: %s verifies\n", path)
	return nil
}
