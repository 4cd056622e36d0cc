package device

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonathanBrouwer/lightbringer/internal/flash"
	"github.com/JonathanBrouwer/lightbringer/internal/hal"
	"github.com/JonathanBrouwer/lightbringer/internal/light"
	"github.com/JonathanBrouwer/lightbringer/internal/ota"
	"github.com/JonathanBrouwer/lightbringer/internal/partition"
	"github.com/JonathanBrouwer/lightbringer/internal/persist"
	"github.com/JonathanBrouwer/lightbringer/pkg/options"
)

func testConfig(t *testing.T) *Config {
	t.Helper()

	cfg := &Config{
		DeviceID:     "test-dimmer",
		FlashOptions: options.NewFlashOptions(),
		OtaOptions:   options.NewOtaOptions(),
		LightOptions: options.NewLightOptions(),
		HalOptions:   options.NewHalOptions(),
		HttpOptions:  options.NewHttpOptions(),
		MqttOptions:  options.NewMqttOptions(),
		S3Options:    options.NewS3Options(),
	}
	cfg.FlashOptions.Path = filepath.Join(t.TempDir(), "dimmer.flash")
	cfg.HttpOptions.Addr = "127.0.0.1:0"
	cfg.OtaOptions.AutoAccept = false
	cfg.OtaOptions.RebootDelay = 0
	cfg.LightOptions.FadeIn = time.Millisecond
	cfg.LightOptions.FadeSteps = 1
	cfg.LightOptions.WriteDelay = time.Hour
	return cfg
}

func run(t *testing.T, d *Device) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	return cancel, done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("device did not stop")
		return nil
	}
}

func TestNewProvisionsFlash(t *testing.T) {
	cfg := testConfig(t)
	d, err := cfg.New()
	require.NoError(t, err)
	defer d.Close()

	assert.Equal(t, "test-dimmer", d.ID())
	desc, err := d.Manager().Descriptor()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), desc.Sequence)
	assert.Equal(t, ota.StateUndefined, desc.State)
	assert.Equal(t, light.Default(), d.State().Snapshot())
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.DeviceID = ""
	_, err := cfg.New()
	assert.Error(t, err)

	cfg = testConfig(t)
	cfg.HttpOptions.MaxConnections = MaxListeners
	_, err = cfg.New()
	assert.ErrorContains(t, err, "max-connections")

	cfg = testConfig(t)
	cfg.FlashOptions.Create = false
	_, err = cfg.New()
	assert.Error(t, err)
}

func TestNewLoadsStoredLightState(t *testing.T) {
	cfg := testConfig(t)
	f, err := OpenFlash(cfg.FlashOptions.Path, true, partition.DefaultLayout())
	require.NoError(t, err)
	stored := light.State{Cold: 1, Warm: 2, X: 3, Y: 4}
	require.NoError(t, persist.Store(partition.NewDirectory(f), f, stored))
	require.NoError(t, f.Close())

	d, err := cfg.New()
	require.NoError(t, err)
	defer d.Close()
	assert.Equal(t, stored, d.State().Snapshot())
}

func TestRunStopsOnCancelAndFlushes(t *testing.T) {
	cfg := testConfig(t)
	d, err := cfg.New()
	require.NoError(t, err)
	defer d.Close()

	cancel, done := run(t, d)
	want := light.State{Cold: 100, Warm: 200}
	d.State().Write(want)

	mock := d.HAL().(*hal.Mock)
	require.Eventually(t, func() bool { return mock.Duty(hal.ChannelRed) == 200<<12>>16 }, 5*time.Second, time.Millisecond)

	cancel()
	require.NoError(t, wait(t, done))

	got, err := persist.Load(partition.NewDirectory(d.flash), d.flash)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestUpdateRebootCycle(t *testing.T) {
	cfg := testConfig(t)
	d, err := cfg.New()
	require.NoError(t, err)

	_, done := run(t, d)

	img := bytes.Repeat([]byte{0xC3}, 4*flash.SectorSize+7)
	require.Eventually(t, func() bool {
		st, err := d.Manager().Status()
		return err == nil && st.Accepted
	}, 5*time.Second, time.Millisecond)
	require.NoError(t, d.Manager().BeginUpdate(context.Background(), bytes.NewReader(img)))
	d.onUpdated()

	assert.ErrorIs(t, wait(t, done), hal.ErrRebootRequested)
	require.NoError(t, d.Close())

	// Second boot: the bootloader starts the new image pending verification.
	cfg.OtaOptions.AutoAccept = true
	cfg.OtaOptions.AutoAcceptDelay = 10 * time.Millisecond
	d, err = cfg.New()
	require.NoError(t, err)
	defer d.Close()

	cancel, done := run(t, d)
	require.Eventually(t, func() bool {
		desc, err := d.Manager().Descriptor()
		return err == nil && desc.State == ota.StateValid
	}, 5*time.Second, time.Millisecond)

	desc, err := d.Manager().Descriptor()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), desc.Sequence)

	cancel()
	require.NoError(t, wait(t, done))
}

func TestUnconfirmedImageFallsBack(t *testing.T) {
	cfg := testConfig(t)
	f, err := OpenFlash(cfg.FlashOptions.Path, true, partition.DefaultLayout())
	require.NoError(t, err)
	store := ota.NewStore(f, partition.NewDirectory(f))
	require.NoError(t, store.Write(ota.NewDescriptor(1, ota.DefaultLabel, ota.StatePendingVerify)))
	require.NoError(t, f.Close())

	d, err := cfg.New()
	require.NoError(t, err)
	defer d.Close()

	cancel, done := run(t, d)
	require.Eventually(t, func() bool {
		desc, err := d.Manager().Descriptor()
		return err == nil && desc.Sequence == 2
	}, 5*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, wait(t, done))

	// The fallback image is recorded under the next sequence and keeps the
	// accepted standing of the provisioned image, so updates work again.
	desc, err := d.Manager().Descriptor()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), desc.Slot())
	assert.Equal(t, ota.StateValid, desc.State)

	require.NoError(t, d.Manager().BeginUpdate(context.Background(), bytes.NewReader([]byte{1, 2, 3, 4})))
	desc, err = d.Manager().Descriptor()
	require.NoError(t, err)
	assert.Equal(t, uint32(3), desc.Sequence)
	assert.Equal(t, ota.StateNew, desc.State)
}
