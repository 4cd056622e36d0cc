// Package hal abstracts the hardware the dimmer drives: two PWM channels and
// the reset line.
package hal

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrRebootRequested is returned by the mock HAL in place of a reset. The
// daemon reacts by tearing the device down and starting it again, which
// runs the boot step on the freshly published image.
var ErrRebootRequested = errors.New("reboot requested")

// Channel names a PWM output.
type Channel int

const (
	// ChannelRed drives the warm-white LEDs.
	ChannelRed Channel = iota
	// ChannelBlue drives the cold-white LEDs.
	ChannelBlue
)

func (c Channel) String() string {
	switch c {
	case ChannelRed:
		return "red"
	case ChannelBlue:
		return "blue"
	default:
		return fmt.Sprintf("channel(%d)", int(c))
	}
}

// PWM sets channel duty cycles. Duty ranges over [0, 1<<Resolution()].
type PWM interface {
	SetDuty(ch Channel, duty uint32) error
	Resolution() uint
}

// HAL is the full hardware surface.
type HAL interface {
	PWM
	// Reboot restarts the device. On real hardware it does not return.
	Reboot(ctx context.Context) error
}

// New returns the HAL named by kind: "mock" or "sysfs".
func New(kind string, cfg SysfsConfig) (HAL, error) {
	switch kind {
	case "", "mock":
		return NewMock(DefaultResolution), nil
	case "sysfs":
		return NewSysfs(cfg)
	default:
		return nil, fmt.Errorf("unknown hal %q", kind)
	}
}

// DefaultResolution is the duty resolution in bits of the LED controller.
const DefaultResolution = 12

// Mock records duty cycles in memory and turns reboots into
// ErrRebootRequested.
type Mock struct {
	mu         sync.Mutex
	resolution uint
	duty       map[Channel]uint32
	history    map[Channel][]uint32
	reboots    int
}

var _ HAL = (*Mock)(nil)

// NewMock returns a mock with the given duty resolution.
func NewMock(resolution uint) *Mock {
	return &Mock{
		resolution: resolution,
		duty:       map[Channel]uint32{},
		history:    map[Channel][]uint32{},
	}
}

func (m *Mock) SetDuty(ch Channel, duty uint32) error {
	if limit := uint32(1) << m.resolution; duty > limit {
		return fmt.Errorf("duty %d exceeds %d on %s", duty, limit, ch)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.duty[ch] = duty
	m.history[ch] = append(m.history[ch], duty)
	return nil
}

func (m *Mock) Resolution() uint { return m.resolution }

func (m *Mock) Reboot(context.Context) error {
	m.mu.Lock()
	m.reboots++
	m.mu.Unlock()
	return ErrRebootRequested
}

// Duty returns the last duty set on ch.
func (m *Mock) Duty(ch Channel) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.duty[ch]
}

// History returns every duty set on ch, oldest first.
func (m *Mock) History(ch Channel) []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uint32(nil), m.history[ch]...)
}

// Reboots returns how often Reboot was called.
func (m *Mock) Reboots() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reboots
}
