package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/igelfs/go-igfs/internal/igfs"
)

var extractExtent string

var extractCmd = &cobra.Command{
	Use:   "extract [image] [minor] [out]",
	Short: "Write partition or extent bytes to a file",
	Long: `Extract the payload of a partition, or of one named extent within
it, to a file.

Examples:
  # Whole partition payload
  go-igfs extract lxos.igf 1 sys.bin

  # Just the kernel extent
  go-igfs extract lxos.igf 1 --extent kernel bzImage`,
	Args: exactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		minor, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("%w: partition minor %q is not a number", errInvalidArgs, args[1])
		}
		return runExtract(args[0], uint32(minor), args[2])
	},
}

func init() {
	rootCmd.AddCommand(extractCmd)
	extractCmd.Flags().StringVar(&extractExtent, "extent", "", "extent name to extract (default: whole payload)")
}

func runExtract(path string, minor uint32, out string) error {
	opts, err := openOptions(false)
	if err != nil {
		return err
	}
	fs, err := igfs.Open(path, opts)
	if err != nil {
		return err
	}
	defer fs.Close()

	var data []byte
	if extractExtent != "" {
		data, err = fs.GetExtent(minor, extractExtent)
	} else {
		var partition *igfs.Partition
		partition, err = fs.GetPartition(minor)
		if err == nil {
			data = partition.Payload()
		}
	}
	if err != nil {
		return err
	}

	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}
	fmt.Printf("Wrote %d bytes to %s\n", len(data), out)
	return nil
}
