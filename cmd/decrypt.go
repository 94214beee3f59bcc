package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/igelfs/go-igfs/internal/igfs"
	"github.com/igelfs/go-igfs/internal/kml"
)

var (
	decryptBootID    string
	decryptSecondary string
)

var decryptCmd = &cobra.Command{
	Use:   "decrypt [image] [minor] [out]",
	Short: "Decrypt an encrypted partition",
	Long: `Decrypt the encrypted filesystem container of a partition.

The boot identifier unlocks the partition's extent filesystem; the key
material inside unwraps the filesystem key. Plain containers are decrypted
offline and written to the output file. For LUKS containers the unwrapped
master key is written instead, ready for cryptsetup --master-key-file.

Examples:
  go-igfs decrypt lxos.igf 255 wfs.bin --boot-id 0123456789abcdef0123
  go-igfs decrypt lxos.igf 255 wfs.bin   # boot id from the boot registry`,
	Args: exactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		minor, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("%w: partition minor %q is not a number", errInvalidArgs, args[1])
		}
		return runDecrypt(args[0], uint32(minor), args[2])
	},
}

func init() {
	rootCmd.AddCommand(decryptCmd)
	decryptCmd.Flags().StringVar(&decryptBootID, "boot-id", "", "boot identifier (default: from the boot registry)")
	decryptCmd.Flags().StringVar(&decryptSecondary, "secondary-key", "", "secondary base64 key for multi-key boots")
}

func runDecrypt(path string, minor uint32, out string) error {
	opts, err := openOptions(false)
	if err != nil {
		return err
	}
	fs, err := igfs.Open(path, opts)
	if err != nil {
		return err
	}
	defer fs.Close()

	data, mode, err := fs.DecryptPartition(minor, decryptBootID, decryptSecondary,
		kml.NewAead(), kml.NewDecompressor())
	if err != nil {
		return err
	}

	if err := os.WriteFile(out, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}
	switch mode {
	case kml.ContainerModeLUKS:
		fmt.Printf("Partition %d is a LUKS container; wrote its master key to %s\n", minor, out)
		fmt.Printf("Open it with: cryptsetup --master-key-file=%s open <device> <name>\n", out)
	default:
		fmt.Printf("Wrote %d decrypted bytes to %s\n", len(data), out)
	}
	return nil
}
