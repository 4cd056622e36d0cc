//go:build linux

package hal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/JonathanBrouwer/lightbringer/pkg/log"
)

// Sysfs drives PWM channels through /sys/class/pwm and reboots the host.
type Sysfs struct {
	cfg      SysfsConfig
	channels map[Channel]string
}

var _ HAL = (*Sysfs)(nil)

// NewSysfs exports and enables both channels.
func NewSysfs(cfg SysfsConfig) (HAL, error) {
	if cfg.Resolution == 0 {
		cfg.Resolution = DefaultResolution
	}
	h := &Sysfs{
		cfg: cfg,
		channels: map[Channel]string{
			ChannelRed:  filepath.Join(cfg.Chip, fmt.Sprintf("pwm%d", cfg.Red)),
			ChannelBlue: filepath.Join(cfg.Chip, fmt.Sprintf("pwm%d", cfg.Blue)),
		},
	}

	for ch, dir := range h.channels {
		if err := h.export(ch, dir); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func (h *Sysfs) export(ch Channel, dir string) error {
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		n := h.cfg.Red
		if ch == ChannelBlue {
			n = h.cfg.Blue
		}
		if err := writeAttr(filepath.Join(h.cfg.Chip, "export"), strconv.Itoa(n)); err != nil {
			return fmt.Errorf("export %s channel: %w", ch, err)
		}
		// udev needs a moment to fix up permissions on the new directory.
		time.Sleep(100 * time.Millisecond)
	}
	if err := writeAttr(filepath.Join(dir, "period"), strconv.FormatUint(uint64(h.cfg.PeriodNS), 10)); err != nil {
		return fmt.Errorf("set %s period: %w", ch, err)
	}
	if err := writeAttr(filepath.Join(dir, "duty_cycle"), "0"); err != nil {
		return fmt.Errorf("reset %s duty: %w", ch, err)
	}
	if err := writeAttr(filepath.Join(dir, "enable"), "1"); err != nil {
		return fmt.Errorf("enable %s: %w", ch, err)
	}
	return nil
}

func (h *Sysfs) SetDuty(ch Channel, duty uint32) error {
	dir, ok := h.channels[ch]
	if !ok {
		return fmt.Errorf("unknown pwm channel %s", ch)
	}
	ns := uint64(duty) * uint64(h.cfg.PeriodNS) >> h.cfg.Resolution
	return writeAttr(filepath.Join(dir, "duty_cycle"), strconv.FormatUint(ns, 10))
}

func (h *Sysfs) Resolution() uint { return h.cfg.Resolution }

func (h *Sysfs) Reboot(context.Context) error {
	log.Warn("System is rebooting now")
	syscall.Sync()
	return syscall.Reboot(syscall.LINUX_REBOOT_CMD_RESTART)
}

func writeAttr(path, value string) error {
	return os.WriteFile(path, []byte(value), 0o644)
}
