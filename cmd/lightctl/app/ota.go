package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JonathanBrouwer/lightbringer/internal/bootloader"
	"github.com/JonathanBrouwer/lightbringer/internal/firmware"
	"github.com/JonathanBrouwer/lightbringer/internal/ota"
	"github.com/JonathanBrouwer/lightbringer/pkg/log"
	"github.com/JonathanBrouwer/lightbringer/pkg/options"
)

func newDescriptorCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "descriptor FILE",
		Short: "Show both descriptor copies and which one wins",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := opts.open(args[0])
			if err != nil {
				return err
			}
			defer img.Close()

			copies, err := ota.NewStore(img.file, img.dir).ReadBoth()
			if err != nil {
				return err
			}
			cur := copies.Current()

			t := newTable()
			t.AddRow("COPY", "CURRENT", "SEQUENCE", "SLOT", "STATE", "LABEL")
			for i, d := range copies {
				if d == nil {
					t.AddRow(i, false, "-", "-", "corrupt", "-")
					continue
				}
				t.AddRow(i, i == cur, d.Sequence, d.Slot(), d.State, label(d.Label))
			}
			printTable(cmd, t)
			if cur < 0 {
				return ota.ErrDescriptorCorrupt
			}
			return nil
		},
	}
}

// label renders printable labels as text and anything else as hex.
func label(l [ota.LabelSize]byte) string {
	s := strings.TrimRight(string(l[:]), "\x00")
	for _, r := range s {
		if r < 0x20 || r > 0x7e {
			return fmt.Sprintf("%x", l)
		}
	}
	return s
}

func newFlashCommand(opts *rootOptions) *cobra.Command {
	otaOpts := options.NewOtaOptions()
	s3 := options.NewS3Options()
	var object string

	cmd := &cobra.Command{
		Use:   "flash FILE [IMAGE|-]",
		Short: "Write an update image into the inactive slot, as a device would",
		Long: `flash streams IMAGE (or stdin for "-") through the update manager of
the flash image FILE. With --object the image is pulled from the firmware
bucket instead. The new image is left in state New; run "lightctl boot"
to emulate the next start.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := openSource(cmd.Context(), args[1:], object, s3)
			if err != nil {
				return err
			}
			defer src.Close()

			img, err := opts.open(args[0])
			if err != nil {
				return err
			}
			defer img.Close()

			mopts := append(otaOpts.ManagerOptions(), otaProgress())
			m, err := img.manager(mopts...)
			if err != nil {
				return err
			}
			if err := m.BeginUpdate(cmd.Context(), src); err != nil {
				return err
			}
			st, err := m.Status()
			if err != nil {
				return err
			}
			printStatus(cmd, st)
			return nil
		},
	}
	cmd.Flags().StringVar(&object, "object", "", "Pull the image from this key of the firmware bucket.")
	cmd.Flags().IntVar(&otaOpts.ChunkSize, "chunk-size", otaOpts.ChunkSize, "Bytes written per chunk.")
	cmd.Flags().StringVar(&otaOpts.Label, "label", otaOpts.Label, "Label stored in the new descriptor.")
	s3.AddFlags(cmd.Flags())
	return cmd
}

func otaProgress() ota.Option {
	return ota.WithProgress(func(written uint32) {
		log.Debug("Update progress", "written", written)
	})
}

func openSource(ctx context.Context, args []string, object string, s3 *options.S3Options) (io.ReadCloser, error) {
	switch {
	case object != "" && len(args) > 0:
		return nil, fmt.Errorf("give either IMAGE or --object, not both")
	case object != "":
		if !s3.Enabled() {
			return nil, fmt.Errorf("--object needs --s3.endpoint")
		}
		repo, err := firmware.NewRepository(s3)
		if err != nil {
			return nil, err
		}
		return repo.Open(ctx, object)
	case len(args) == 0:
		return nil, fmt.Errorf("no image given")
	case args[0] == "-":
		return io.NopCloser(os.Stdin), nil
	default:
		return os.Open(args[0])
	}
}

func newConfirmCommand(opts *rootOptions, use, short string, apply func(*ota.Manager, context.Context) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " FILE",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := opts.open(args[0])
			if err != nil {
				return err
			}
			defer img.Close()

			m, err := img.manager()
			if err != nil {
				return err
			}
			if err := apply(m, cmd.Context()); err != nil {
				return err
			}
			st, err := m.Status()
			if err != nil {
				return err
			}
			printStatus(cmd, st)
			return nil
		},
	}
}

func newBootCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "boot FILE",
		Short: "Run the bootloader step and print the slot it starts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := opts.open(args[0])
			if err != nil {
				return err
			}
			defer img.Close()

			res, err := bootloader.New(ota.NewStore(img.file, img.dir), img.dir).Boot(cmd.Context())
			if err != nil {
				return err
			}
			refused := "-"
			if res.FellBack {
				refused = fmt.Sprintf("%d (%s)", res.Refused.Sequence, res.Refused.State)
			}
			t := newTable()
			t.AddRow("SLOT", "PARTITION", "SEQUENCE", "STATE", "FELL BACK", "REFUSED")
			t.AddRow(res.Slot, res.Partition.Name, res.Descriptor.Sequence, res.Descriptor.State, res.FellBack, refused)
			printTable(cmd, t)
			return nil
		},
	}
}
