package options

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/JonathanBrouwer/lightbringer/internal/hal"
)

var _ IOptions = (*HalOptions)(nil)

// HalOptions selects the hardware backend.
type HalOptions struct {
	// Kind is "mock" or "sysfs".
	Kind       string `json:"kind" mapstructure:"kind"`
	PWMChip    string `json:"pwm-chip" mapstructure:"pwm-chip"`
	PWMRed     int    `json:"pwm-red" mapstructure:"pwm-red"`
	PWMBlue    int    `json:"pwm-blue" mapstructure:"pwm-blue"`
	PeriodNS   uint32 `json:"pwm-period-ns" mapstructure:"pwm-period-ns"`
	Resolution uint   `json:"resolution" mapstructure:"resolution"`
}

func NewHalOptions() *HalOptions {
	return &HalOptions{
		Kind:       "mock",
		PWMChip:    "/sys/class/pwm/pwmchip0",
		PWMRed:     0,
		PWMBlue:    1,
		PeriodNS:   50000,
		Resolution: hal.DefaultResolution,
	}
}

func (o *HalOptions) Validate() []error {
	errors := []error{}
	switch o.Kind {
	case "mock":
	case "sysfs":
		if o.PWMChip == "" {
			errors = append(errors, fmt.Errorf("--hal.pwm-chip must not be empty"))
		}
		if o.PWMRed == o.PWMBlue {
			errors = append(errors, fmt.Errorf("--hal.pwm-red and --hal.pwm-blue must differ"))
		}
		if o.PeriodNS == 0 {
			errors = append(errors, fmt.Errorf("--hal.pwm-period-ns must be positive"))
		}
	default:
		errors = append(errors, fmt.Errorf("--hal.kind must be mock or sysfs, got %q", o.Kind))
	}
	if o.Resolution == 0 || o.Resolution > 16 {
		errors = append(errors, fmt.Errorf("--hal.resolution must be between 1 and 16 bits"))
	}
	return errors
}

func (o *HalOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Kind, "hal.kind", o.Kind, "Hardware backend: mock or sysfs.")
	fs.StringVar(&o.PWMChip, "hal.pwm-chip", o.PWMChip, "sysfs pwmchip directory used by the sysfs backend.")
	fs.IntVar(&o.PWMRed, "hal.pwm-red", o.PWMRed, "PWM channel of the warm (red) LEDs.")
	fs.IntVar(&o.PWMBlue, "hal.pwm-blue", o.PWMBlue, "PWM channel of the cold (blue) LEDs.")
	fs.Uint32Var(&o.PeriodNS, "hal.pwm-period-ns", o.PeriodNS, "PWM period in nanoseconds.")
	fs.UintVar(&o.Resolution, "hal.resolution", o.Resolution, "Duty resolution in bits.")
}

// New builds the configured HAL.
func (o *HalOptions) New() (hal.HAL, error) {
	if o.Kind == "mock" {
		return hal.NewMock(o.Resolution), nil
	}
	return hal.New(o.Kind, hal.SysfsConfig{
		Chip:       o.PWMChip,
		Red:        o.PWMRed,
		Blue:       o.PWMBlue,
		PeriodNS:   o.PeriodNS,
		Resolution: o.Resolution,
	})
}
