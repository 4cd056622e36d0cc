package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/JonathanBrouwer/lightbringer/internal/output"
	"github.com/JonathanBrouwer/lightbringer/internal/persist"
)

var _ IOptions = (*LightOptions)(nil)

// LightOptions tunes persistence and the LED output.
type LightOptions struct {
	WriteDelay time.Duration `json:"write-delay" mapstructure:"write-delay"`
	FadeIn     time.Duration `json:"fade-in" mapstructure:"fade-in"`
	FadeSteps  int           `json:"fade-steps" mapstructure:"fade-steps"`
}

func NewLightOptions() *LightOptions {
	return &LightOptions{
		WriteDelay: persist.DefaultWriteDelay,
		FadeIn:     output.DefaultFadeIn,
		FadeSteps:  output.DefaultSteps,
	}
}

func (o *LightOptions) Validate() []error {
	errors := []error{}
	if o.WriteDelay <= 0 {
		errors = append(errors, fmt.Errorf("--light.write-delay must be positive"))
	}
	if o.FadeIn <= 0 || o.FadeSteps <= 0 {
		errors = append(errors, fmt.Errorf("--light.fade-in and --light.fade-steps must be positive"))
	}
	return errors
}

func (o *LightOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.DurationVar(&o.WriteDelay, "light.write-delay", o.WriteDelay, "Quiet time after a change before the light state is written to flash.")
	fs.DurationVar(&o.FadeIn, "light.fade-in", o.FadeIn, "Duration of the fade-in at start-up.")
	fs.IntVar(&o.FadeSteps, "light.fade-steps", o.FadeSteps, "Number of steps of the fade-in.")
}
