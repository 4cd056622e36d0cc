// Package app implements lightctl, the offline tool for lightbringer flash
// images: it builds images, inspects their partitions and descriptor, and
// drives the update cycle without a running device.
package app

import (
	"fmt"
	"os"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/JonathanBrouwer/lightbringer/internal/flash"
	"github.com/JonathanBrouwer/lightbringer/internal/ota"
	"github.com/JonathanBrouwer/lightbringer/internal/partition"
	"github.com/JonathanBrouwer/lightbringer/pkg/log"
)

type rootOptions struct {
	Log         *log.Options
	TableOffset uint32
}

func NewLightctlCommand() *cobra.Command {
	opts := &rootOptions{Log: log.NewOptions(), TableOffset: partition.TableOffset}
	opts.Log.Level = "warn"
	opts.Log.RingSize = 0

	cmd := &cobra.Command{
		Use:           "lightctl",
		Short:         "Build and inspect lightbringer flash images",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := utilerrors.NewAggregate(opts.Log.Validate()); err != nil {
				return err
			}
			log.Init(opts.Log)
			return nil
		},
	}
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	pfs := cmd.PersistentFlags()
	opts.Log.AddFlags(pfs)
	pfs.Uint32Var(&opts.TableOffset, "table-offset", opts.TableOffset, "Offset of the partition table in the image.")

	cmd.AddCommand(
		newMkimageCommand(),
		newPartitionsCommand(opts),
		newDescriptorCommand(opts),
		newFlashCommand(opts),
		newConfirmCommand(opts, "accept", "Mark the running image as verified", (*ota.Manager).Accept),
		newConfirmCommand(opts, "reject", "Mark the running image as broken", (*ota.Manager).Reject),
		newBootCommand(opts),
		newPushCommand(),
		newRemoteCommand(),
	)
	return cmd
}

// image is an opened flash image and its partition directory.
type image struct {
	file *flash.File
	dir  *partition.Directory
}

func (o *rootOptions) open(path string) (*image, error) {
	f, err := flash.OpenFile(path)
	if err != nil {
		return nil, err
	}
	return &image{file: f, dir: partition.NewDirectoryAt(f, o.TableOffset)}, nil
}

func (i *image) Close() error { return i.file.Close() }

func (i *image) manager(opts ...ota.Option) (*ota.Manager, error) {
	return ota.NewManager(i.file, i.dir, opts...)
}

func newTable() *uitable.Table {
	t := uitable.New()
	t.MaxColWidth = 60
	t.Separator = "  "
	return t
}

func printTable(cmd *cobra.Command, t *uitable.Table) {
	fmt.Fprintln(cmd.OutOrStdout(), t)
}

func printStatus(cmd *cobra.Command, st ota.Status) {
	t := newTable()
	t.AddRow("SEQUENCE", "SLOT", "STATE", "ACCEPTED")
	t.AddRow(st.Sequence, st.Slot, st.State, st.Accepted)
	printTable(cmd, t)
}
