package app

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JonathanBrouwer/lightbringer/internal/device"
	"github.com/JonathanBrouwer/lightbringer/internal/flash"
	"github.com/JonathanBrouwer/lightbringer/internal/ota"
	"github.com/JonathanBrouwer/lightbringer/internal/partition"
)

func newMkimageCommand() *cobra.Command {
	var (
		layoutPath string
		appImage   string
		label      string
	)
	cmd := &cobra.Command{
		Use:   "mkimage FILE",
		Short: "Create an erased flash image with a partition table and factory descriptor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			layout := partition.DefaultLayout()
			if layoutPath != "" {
				var err error
				if layout, err = partition.LoadLayout(layoutPath); err != nil {
					return err
				}
			}
			if len(label) > ota.LabelSize {
				return fmt.Errorf("--label is longer than %d bytes", ota.LabelSize)
			}
			lbl := ota.DefaultLabel
			if label != "" {
				lbl = [ota.LabelSize]byte{}
				copy(lbl[:], label)
			}

			f, err := flash.CreateFile(args[0], layout.FlashSize)
			if err != nil {
				return err
			}
			defer f.Close()
			if err := device.Provision(f, layout, lbl); err != nil {
				return err
			}

			if appImage != "" {
				if err := writeFactoryImage(f, partition.NewDirectoryAt(f, layout.TableOffset), appImage); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (0x%x bytes)\n", args[0], layout.FlashSize)
			return nil
		},
	}
	cmd.Flags().StringVar(&layoutPath, "layout", "", "YAML partition layout. Empty uses the built-in layout.")
	cmd.Flags().StringVar(&appImage, "app", "", "Factory application image written to slot 0.")
	cmd.Flags().StringVar(&label, "label", "", "Label of the factory descriptor.")
	return cmd
}

// writeFactoryImage places an image straight into slot 0; the factory
// descriptor (sequence 0) already selects it.
func writeFactoryImage(f flash.Storage, dir *partition.Directory, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	slot, err := dir.Slot(0)
	if err != nil {
		return err
	}
	if !slot.Contains(0, uint32(len(data))) {
		return fmt.Errorf("%s: %w", path, ota.ErrOutOfSpace)
	}
	return f.Write(slot.Offset, data)
}

func newPartitionsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "partitions FILE",
		Short: "List the partition table of an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := opts.open(args[0])
			if err != nil {
				return err
			}
			defer img.Close()

			entries, err := img.dir.List()
			if err != nil {
				return err
			}
			t := newTable()
			t.AddRow("NAME", "TYPE", "SUBTYPE", "OFFSET", "SIZE", "FLAGS")
			for _, e := range entries {
				t.AddRow(e.Name, e.Type, partition.SubTypeName(e.Type, e.SubType),
					fmt.Sprintf("0x%06x", e.Offset), fmt.Sprintf("0x%06x", e.Size), fmt.Sprintf("0x%x", e.Flags))
			}
			printTable(cmd, t)
			return nil
		},
	}
}
