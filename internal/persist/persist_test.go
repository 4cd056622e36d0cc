package persist

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonathanBrouwer/lightbringer/internal/light"
	"github.com/JonathanBrouwer/lightbringer/internal/ota/otatest"
	"github.com/JonathanBrouwer/lightbringer/pkg/valuesync"
)

func TestLoadBlankPartition(t *testing.T) {
	dev := otatest.NewAccepted(t, 0)

	s, err := Load(dev.Dir, dev.Flash)
	require.NoError(t, err)
	assert.Equal(t, light.Default(), s)
}

func TestStoreLoad(t *testing.T) {
	dev := otatest.NewAccepted(t, 0)
	want := light.State{Cold: 1, Warm: 2, X: 3, Y: 4}

	require.NoError(t, Store(dev.Dir, dev.Flash, want))
	got, err := Load(dev.Dir, dev.Flash)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestTaskDebouncesWrites(t *testing.T) {
	dev := otatest.NewAccepted(t, 0)
	state := valuesync.New(light.Default(), 2)
	task, err := NewTask(dev.Dir, dev.Flash, state, 100*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- task.Run(ctx) }()

	for i := uint16(1); i <= 5; i++ {
		state.Write(light.State{Cold: i})
	}

	require.Eventually(t, func() bool {
		s, err := Load(dev.Dir, dev.Flash)
		return err == nil && s.Cold == 5
	}, 5*time.Second, 10*time.Millisecond)
	assert.Len(t, dev.Flash.Writes(), 1)

	cancel()
	require.NoError(t, <-done)
}

func TestTaskFlushesOnShutdown(t *testing.T) {
	dev := otatest.NewAccepted(t, 0)
	state := valuesync.New(light.Default(), 1)
	task, err := NewTask(dev.Dir, dev.Flash, state, time.Hour)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- task.Run(ctx) }()

	state.Write(light.State{Warm: 77})
	require.Eventually(t, func() bool {
		select {
		case <-task.watcher.Changed():
			return false
		default:
			return true
		}
	}, 5*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	s, err := Load(dev.Dir, dev.Flash)
	require.NoError(t, err)
	assert.Equal(t, uint16(77), s.Warm)
}

func TestTaskKeepsRunningAfterWriteFailure(t *testing.T) {
	dev := otatest.NewAccepted(t, 0)
	state := valuesync.New(light.Default(), 1)
	task, err := NewTask(dev.Dir, dev.Flash, state, 10*time.Millisecond)
	require.NoError(t, err)

	fail := make(chan struct{}, 1)
	fail <- struct{}{}
	dev.Flash.FailWrite = func(uint32, int) error {
		select {
		case <-fail:
			return errors.New("worn out")
		default:
			return nil
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = task.Run(ctx) }()

	state.Write(light.State{Cold: 1})
	require.Eventually(t, func() bool { return len(fail) == 0 }, 5*time.Second, time.Millisecond)
	state.Write(light.State{Cold: 2})

	require.Eventually(t, func() bool {
		s, err := Load(dev.Dir, dev.Flash)
		return err == nil && s.Cold == 2
	}, 5*time.Second, 10*time.Millisecond)
}

func TestNewTaskCapacity(t *testing.T) {
	dev := otatest.NewAccepted(t, 0)
	state := valuesync.New(light.Default(), 1)
	state.MustWatch()

	_, err := NewTask(dev.Dir, dev.Flash, state, 0)
	assert.ErrorIs(t, err, valuesync.ErrTooManyWatchers)
}
