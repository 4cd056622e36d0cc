package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/JonathanBrouwer/lightbringer/internal/ota"
)

var _ IOptions = (*OtaOptions)(nil)

// OtaOptions tunes the update manager and the boot-time behaviour.
type OtaOptions struct {
	ChunkSize int    `json:"chunk-size" mapstructure:"chunk-size"`
	Label     string `json:"label" mapstructure:"label"`

	// Bootloader runs the boot step on start-up, as the ROM would.
	Bootloader bool `json:"bootloader" mapstructure:"bootloader"`

	// AutoAccept confirms the running image once the device has been up for
	// AutoAcceptDelay.
	AutoAccept      bool          `json:"auto-accept" mapstructure:"auto-accept"`
	AutoAcceptDelay time.Duration `json:"auto-accept-delay" mapstructure:"auto-accept-delay"`

	// RebootDelay lets the HTTP or MQTT response reach the client before
	// the device goes down.
	RebootDelay time.Duration `json:"reboot-delay" mapstructure:"reboot-delay"`
}

func NewOtaOptions() *OtaOptions {
	return &OtaOptions{
		ChunkSize:       ota.DefaultChunkSize,
		Bootloader:      true,
		AutoAccept:      true,
		AutoAcceptDelay: 10 * time.Second,
		RebootDelay:     time.Second,
	}
}

func (o *OtaOptions) Validate() []error {
	errors := []error{}
	if o.ChunkSize <= 0 || o.ChunkSize%4 != 0 {
		errors = append(errors, fmt.Errorf("--ota.chunk-size %d must be a positive multiple of 4", o.ChunkSize))
	}
	if len(o.Label) > ota.LabelSize {
		errors = append(errors, fmt.Errorf("--ota.label is longer than %d bytes", ota.LabelSize))
	}
	if o.AutoAcceptDelay < 0 || o.RebootDelay < 0 {
		errors = append(errors, fmt.Errorf("ota delays must not be negative"))
	}
	return errors
}

func (o *OtaOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.IntVar(&o.ChunkSize, "ota.chunk-size", o.ChunkSize, "Bytes written to flash per chunk while receiving an image.")
	fs.StringVar(&o.Label, "ota.label", o.Label, "Label stored in published descriptors. Empty uses the factory label.")
	fs.BoolVar(&o.Bootloader, "ota.bootloader", o.Bootloader, "Run the bootloader step at start-up.")
	fs.BoolVar(&o.AutoAccept, "ota.auto-accept", o.AutoAccept, "Confirm the running image automatically after start-up.")
	fs.DurationVar(&o.AutoAcceptDelay, "ota.auto-accept-delay", o.AutoAcceptDelay, "Uptime before the running image is confirmed automatically.")
	fs.DurationVar(&o.RebootDelay, "ota.reboot-delay", o.RebootDelay, "Delay between a finished update and the reboot.")
}

// ManagerOptions converts the group into update manager options.
func (o *OtaOptions) ManagerOptions() []ota.Option {
	opts := []ota.Option{ota.WithChunkSize(o.ChunkSize)}
	if o.Label != "" {
		var label [ota.LabelSize]byte
		copy(label[:], o.Label)
		opts = append(opts, ota.WithLabel(label))
	}
	return opts
}
