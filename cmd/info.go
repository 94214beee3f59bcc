package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/igelfs/go-igfs/internal/igfs"
)

var infoCmd = &cobra.Command{
	Use:   "info [image]",
	Short: "Print the partition table and section statistics",
	Long: `Print image geometry, the boot identifier and every partition the
directory lists, with its extents.

Examples:
  go-igfs info /dev/sda
  go-igfs info lxos.igf`,
	Args: exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInfo(args[0])
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(path string) error {
	opts, err := openOptions(false)
	if err != nil {
		return err
	}
	fs, err := igfs.Open(path, opts)
	if err != nil {
		return err
	}
	defer fs.Close()

	info, err := fs.Info()
	if err != nil {
		return err
	}

	fmt.Printf("Image: %s\n", path)
	fmt.Printf("  Section size:  %d bytes\n", info.SectionSize)
	fmt.Printf("  Sections:      %d\n", info.SectionCount)
	if info.BootID != "" {
		fmt.Printf("  Boot id:       %s\n", info.BootID)
	}
	fmt.Printf("Partitions: %d\n", len(info.Partitions))
	for _, partition := range info.Partitions {
		flags := ""
		if partition.HasHash {
			flags += " signed"
		}
		if partition.Encrypted {
			flags += " encrypted"
		}
		fmt.Printf("  minor %-4d %-16s %3d sections  %10d bytes%s\n",
			partition.Minor, partition.Type, partition.Sections, partition.Size, flags)
		for _, extent := range partition.Extents {
			name := extent.Name
			if name == "" {
				name = extent.Type.String()
			}
			fmt.Printf("    extent %-10s %-10s offset %10d  length %10d\n",
				name, extent.Type, extent.Offset, extent.Length)
		}
	}
	return nil
}
