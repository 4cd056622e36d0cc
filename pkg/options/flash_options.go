package options

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/JonathanBrouwer/lightbringer/internal/flash"
	"github.com/JonathanBrouwer/lightbringer/internal/partition"
)

var _ IOptions = (*FlashOptions)(nil)

// FlashOptions locates the flash device or image the device runs from.
type FlashOptions struct {
	// Path is a raw flash image file or an MTD character device.
	Path string `json:"path" mapstructure:"path"`

	// Create provisions Path from Layout when it does not exist yet.
	Create bool `json:"create" mapstructure:"create"`

	// Layout is a YAML partition layout; empty selects the built-in one.
	Layout string `json:"layout" mapstructure:"layout"`

	// TableOffset is where the partition table lives.
	TableOffset uint32 `json:"table-offset" mapstructure:"table-offset"`
}

// NewFlashOptions returns defaults for a simulated device in the working
// directory.
func NewFlashOptions() *FlashOptions {
	return &FlashOptions{
		Path:        "lightbringer.flash",
		Create:      true,
		TableOffset: partition.TableOffset,
	}
}

func (o *FlashOptions) Validate() []error {
	errors := []error{}
	if o.Path == "" {
		errors = append(errors, fmt.Errorf("--flash.path is required"))
	}
	if o.TableOffset%flash.SectorSize != 0 {
		errors = append(errors, fmt.Errorf("--flash.table-offset 0x%x is not sector aligned", o.TableOffset))
	}
	return errors
}

func (o *FlashOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Path, "flash.path", o.Path, "Flash image file or MTD device holding partitions.")
	fs.BoolVar(&o.Create, "flash.create", o.Create, "Provision the flash image from the layout if it does not exist.")
	fs.StringVar(&o.Layout, "flash.layout", o.Layout, "YAML partition layout used when provisioning. Empty uses the built-in 4 MiB layout.")
	fs.Uint32Var(&o.TableOffset, "flash.table-offset", o.TableOffset, "Offset of the partition table.")
}

// LoadLayout returns the configured layout.
func (o *FlashOptions) LoadLayout() (*partition.Layout, error) {
	if o.Layout == "" {
		return partition.DefaultLayout(), nil
	}
	return partition.LoadLayout(o.Layout)
}
