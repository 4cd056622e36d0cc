package options

import (
	"fmt"

	"github.com/spf13/pflag"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/JonathanBrouwer/lightbringer/internal/device"
	"github.com/JonathanBrouwer/lightbringer/pkg/app"
	"github.com/JonathanBrouwer/lightbringer/pkg/log"
	"github.com/JonathanBrouwer/lightbringer/pkg/options"
)

// DaemonOptions is the complete configuration of the device daemon.
type DaemonOptions struct {
	DeviceID     string                `json:"device-id" mapstructure:"device-id"`
	FlashOptions *options.FlashOptions `json:"flash" mapstructure:"flash"`
	OtaOptions   *options.OtaOptions   `json:"ota" mapstructure:"ota"`
	LightOptions *options.LightOptions `json:"light" mapstructure:"light"`
	HalOptions   *options.HalOptions   `json:"hal" mapstructure:"hal"`
	HttpOptions  *options.HttpOptions  `json:"http" mapstructure:"http"`
	MqttOptions  *options.MqttOptions  `json:"mqtt" mapstructure:"mqtt"`
	S3Options    *options.S3Options    `json:"s3" mapstructure:"s3"`
	Log          *log.Options          `json:"log" mapstructure:"log"`
}

var _ app.NamedFlagSetOptions = (*DaemonOptions)(nil)

func NewDaemonOptions() *DaemonOptions {
	return &DaemonOptions{
		FlashOptions: options.NewFlashOptions(),
		OtaOptions:   options.NewOtaOptions(),
		LightOptions: options.NewLightOptions(),
		HalOptions:   options.NewHalOptions(),
		HttpOptions:  options.NewHttpOptions(),
		MqttOptions:  options.NewMqttOptions(),
		S3Options:    options.NewS3Options(),
		Log:          log.NewOptions(),
	}
}

func (o *DaemonOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.addDeviceFlags(fss.FlagSet("device"))
	o.FlashOptions.AddFlags(fss.FlagSet("flash"))
	o.OtaOptions.AddFlags(fss.FlagSet("ota"))
	o.LightOptions.AddFlags(fss.FlagSet("light"))
	o.HalOptions.AddFlags(fss.FlagSet("hal"))
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.S3Options.AddFlags(fss.FlagSet("s3"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *DaemonOptions) addDeviceFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.DeviceID, "device-id", o.DeviceID,
		fmt.Sprintf("ID used in MQTT topics and client IDs. Defaults to $%s, then a hash of the machine id.", device.EnvDeviceID))
}

// Complete discovers the device ID when none was configured.
func (o *DaemonOptions) Complete() error {
	if o.DeviceID != "" {
		return nil
	}
	id, err := device.DiscoverDeviceID()
	if err != nil {
		return fmt.Errorf("no --device-id given and discovery failed: %w", err)
	}
	o.DeviceID = id
	return nil
}

func (o *DaemonOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.FlashOptions.Validate()...)
	errs = append(errs, o.OtaOptions.Validate()...)
	errs = append(errs, o.LightOptions.Validate()...)
	errs = append(errs, o.HalOptions.Validate()...)
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.S3Options.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}

func (o *DaemonOptions) Config() (*device.Config, error) {
	return &device.Config{
		DeviceID:     o.DeviceID,
		FlashOptions: o.FlashOptions,
		OtaOptions:   o.OtaOptions,
		LightOptions: o.LightOptions,
		HalOptions:   o.HalOptions,
		HttpOptions:  o.HttpOptions,
		MqttOptions:  o.MqttOptions,
		S3Options:    o.S3Options,
	}, nil
}
