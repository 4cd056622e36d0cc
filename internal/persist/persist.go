// Package persist keeps the light state in the userdata partition so it
// survives a reboot.
package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JonathanBrouwer/lightbringer/internal/flash"
	"github.com/JonathanBrouwer/lightbringer/internal/light"
	"github.com/JonathanBrouwer/lightbringer/internal/partition"
	"github.com/JonathanBrouwer/lightbringer/internal/pkg/metrics"
	"github.com/JonathanBrouwer/lightbringer/pkg/log"
	"github.com/JonathanBrouwer/lightbringer/pkg/valuesync"
)

// DefaultWriteDelay bounds flash wear while a slider is being dragged.
const DefaultWriteDelay = 5 * time.Second

// Load reads the stored state. A blank partition yields light.Default.
func Load(dir *partition.Directory, f flash.Storage) (light.State, error) {
	p, err := dir.UserData()
	if err != nil {
		return light.State{}, err
	}

	buf := make([]byte, light.StateLen)
	if err := f.Read(p.Offset, buf); err != nil {
		return light.State{}, fmt.Errorf("read light state: %w", err)
	}
	if flash.IsErased(buf) {
		log.Info("No stored light state, using default")
		return light.Default(), nil
	}
	return light.Decode(buf)
}

// Store writes s to the userdata partition.
func Store(dir *partition.Directory, f flash.Storage, s light.State) error {
	p, err := dir.UserData()
	if err != nil {
		return err
	}
	if p.Size < light.StateLen {
		return fmt.Errorf("userdata partition too small: 0x%x", p.Size)
	}
	b := s.Encode()
	if err := f.Write(p.Offset, b[:]); err != nil {
		return fmt.Errorf("write light state: %w", err)
	}
	return nil
}

// Task flushes the light state to flash some time after it changes.
type Task struct {
	dir     *partition.Directory
	flash   flash.Storage
	state   *valuesync.Synchronizer[light.State]
	watcher *valuesync.Watcher[light.State]
	delay   time.Duration
	log     log.Logger
}

// NewTask registers a watcher on state. delay of zero selects
// DefaultWriteDelay.
func NewTask(dir *partition.Directory, f flash.Storage, state *valuesync.Synchronizer[light.State], delay time.Duration) (*Task, error) {
	w, err := state.Watch()
	if err != nil {
		return nil, err
	}
	if delay <= 0 {
		delay = DefaultWriteDelay
	}
	return &Task{
		dir:     dir,
		flash:   f,
		state:   state,
		watcher: w,
		delay:   delay,
		log:     log.WithName("persist"),
	}, nil
}

// Run blocks until ctx is done. Every change waits out the write delay;
// changes arriving during the delay are folded into the same write.
func (t *Task) Run(ctx context.Context) error {
	defer t.watcher.Close()

	for {
		if _, err := t.watcher.Read(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		timer := time.NewTimer(t.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return t.flush()
		case <-timer.C:
		}

		t.watcher.Skip()
		if err := t.flush(); err != nil {
			t.log.Error(err, "Failed to store light state")
		}
	}
}

func (t *Task) flush() error {
	s := t.state.Snapshot()
	if err := Store(t.dir, t.flash, s); err != nil {
		metrics.PersistFlushesTotal.WithLabelValues("error").Inc()
		return err
	}
	metrics.PersistFlushesTotal.WithLabelValues("success").Inc()
	t.log.Debug("Stored light state", "state", s)
	return nil
}
