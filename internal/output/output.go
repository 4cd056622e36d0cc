// Package output drives the LED channels from the shared light state.
package output

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JonathanBrouwer/lightbringer/internal/hal"
	"github.com/JonathanBrouwer/lightbringer/internal/light"
	"github.com/JonathanBrouwer/lightbringer/pkg/log"
	"github.com/JonathanBrouwer/lightbringer/pkg/valuesync"
)

const (
	DefaultFadeIn = 2 * time.Second
	DefaultSteps  = 100
)

// Duties converts a light state into red and blue duty values for a
// controller with the given resolution. Warm light is on the red channel,
// cold light on the blue channel.
func Duties(s light.State, resolution uint) (red, blue uint32) {
	red = uint32(s.Warm) << resolution >> 16
	blue = uint32(s.Cold) << resolution >> 16
	return red, blue
}

// Driver applies every light state change to the PWM channels.
type Driver struct {
	pwm     hal.PWM
	state   *valuesync.Synchronizer[light.State]
	watcher *valuesync.Watcher[light.State]
	fadeIn  time.Duration
	steps   int
	log     log.Logger
}

// NewDriver registers a watcher on state. A zero fadeIn or steps selects the
// defaults.
func NewDriver(pwm hal.PWM, state *valuesync.Synchronizer[light.State], fadeIn time.Duration, steps int) (*Driver, error) {
	w, err := state.Watch()
	if err != nil {
		return nil, err
	}
	if fadeIn <= 0 {
		fadeIn = DefaultFadeIn
	}
	if steps <= 0 {
		steps = DefaultSteps
	}
	return &Driver{
		pwm:     pwm,
		state:   state,
		watcher: w,
		fadeIn:  fadeIn,
		steps:   steps,
		log:     log.WithName("output"),
	}, nil
}

// Run fades in to the current state and then follows changes until ctx is
// done. A change during the fade-in is applied once the fade completes.
func (d *Driver) Run(ctx context.Context) error {
	defer d.watcher.Close()

	if err := d.fade(ctx, d.state.Snapshot()); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	for {
		s, err := d.watcher.Read(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		red, blue := Duties(s, d.pwm.Resolution())
		if err := d.apply(red, blue); err != nil {
			d.log.Error(err, "Failed to set colour", "state", s)
			continue
		}
		d.log.Debug("Colour set", "red", red, "blue", blue)
	}
}

func (d *Driver) fade(ctx context.Context, s light.State) error {
	red, blue := Duties(s, d.pwm.Resolution())
	d.log.Info("Fading in", "red", red, "blue", blue, "duration", d.fadeIn)

	step := d.fadeIn / time.Duration(d.steps)
	ticker := time.NewTicker(step)
	defer ticker.Stop()

	n := uint32(d.steps)
	for i := uint32(1); i <= n; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := d.apply(red*i/n, blue*i/n); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) apply(red, blue uint32) error {
	if err := d.pwm.SetDuty(hal.ChannelRed, red); err != nil {
		return fmt.Errorf("set red duty: %w", err)
	}
	if err := d.pwm.SetDuty(hal.ChannelBlue, blue); err != nil {
		return fmt.Errorf("set blue duty: %w", err)
	}
	return nil
}
