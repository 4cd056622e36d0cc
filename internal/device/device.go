// Package device assembles a running dimmer from its parts and drives them
// for one boot cycle.
package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JonathanBrouwer/lightbringer/internal/bootloader"
	"github.com/JonathanBrouwer/lightbringer/internal/bridge"
	"github.com/JonathanBrouwer/lightbringer/internal/firmware"
	"github.com/JonathanBrouwer/lightbringer/internal/flash"
	"github.com/JonathanBrouwer/lightbringer/internal/hal"
	"github.com/JonathanBrouwer/lightbringer/internal/light"
	"github.com/JonathanBrouwer/lightbringer/internal/ota"
	"github.com/JonathanBrouwer/lightbringer/internal/output"
	"github.com/JonathanBrouwer/lightbringer/internal/partition"
	"github.com/JonathanBrouwer/lightbringer/internal/persist"
	"github.com/JonathanBrouwer/lightbringer/internal/webapp"
	"github.com/JonathanBrouwer/lightbringer/pkg/log"
	pkgmqtt "github.com/JonathanBrouwer/lightbringer/pkg/mqtt"
	"github.com/JonathanBrouwer/lightbringer/pkg/mqtt/topic"
	"github.com/JonathanBrouwer/lightbringer/pkg/options"
	"github.com/JonathanBrouwer/lightbringer/pkg/valuesync"
)

// MaxListeners bounds the watchers of the light state: persistence, output,
// the MQTT bridge and one per WebSocket session.
const MaxListeners = 12

// fixedListeners are the watchers registered regardless of traffic.
const fixedListeners = 3

// Config collects the option groups a device is built from.
type Config struct {
	DeviceID string

	FlashOptions *options.FlashOptions
	OtaOptions   *options.OtaOptions
	LightOptions *options.LightOptions
	HalOptions   *options.HalOptions
	HttpOptions  *options.HttpOptions
	MqttOptions  *options.MqttOptions
	S3Options    *options.S3Options
}

// Device is the application context of one boot cycle. Build it with
// Config.New, call Run once and Close it afterwards.
type Device struct {
	id  string
	cfg *Config

	flash   *flash.File
	dir     *partition.Directory
	manager *ota.Manager
	boot    *bootloader.Bootloader
	hal     hal.HAL
	state   *valuesync.Synchronizer[light.State]

	persist *persist.Task
	output  *output.Driver
	web     *webapp.Server
	bridge  *bridge.Bridge

	updated chan struct{}
	log     log.Logger
}

// New opens the flash, loads the stored light state and builds every task.
// Nothing runs until Run.
func (cfg *Config) New() (*Device, error) {
	if cfg.DeviceID == "" {
		return nil, errors.New("device id is required")
	}
	if fixedListeners+cfg.HttpOptions.MaxConnections > MaxListeners {
		return nil, fmt.Errorf("--http.max-connections %d exceeds the %d light state listeners",
			cfg.HttpOptions.MaxConnections, MaxListeners-fixedListeners)
	}

	layout, err := cfg.FlashOptions.LoadLayout()
	if err != nil {
		return nil, err
	}
	f, err := OpenFlash(cfg.FlashOptions.Path, cfg.FlashOptions.Create, layout)
	if err != nil {
		return nil, err
	}

	d, err := cfg.build(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return d, nil
}

func (cfg *Config) build(f *flash.File) (*Device, error) {
	d := &Device{
		id:      cfg.DeviceID,
		cfg:     cfg,
		flash:   f,
		dir:     partition.NewDirectoryAt(f, cfg.FlashOptions.TableOffset),
		updated: make(chan struct{}, 1),
		log:     log.WithName("device").WithValues("id", cfg.DeviceID),
	}

	var err error
	d.manager, err = ota.NewManager(f, d.dir, cfg.OtaOptions.ManagerOptions()...)
	if err != nil {
		return nil, err
	}
	if cfg.OtaOptions.Bootloader {
		d.boot = bootloader.New(d.manager.Store(), d.dir)
	}
	if d.hal, err = cfg.HalOptions.New(); err != nil {
		return nil, fmt.Errorf("init hal: %w", err)
	}

	initial, err := persist.Load(d.dir, f)
	if err != nil {
		return nil, fmt.Errorf("load light state: %w", err)
	}
	d.log.Info("Loaded light state", "state", initial)
	d.state = valuesync.New(initial, MaxListeners)

	if d.persist, err = persist.NewTask(d.dir, f, d.state, cfg.LightOptions.WriteDelay); err != nil {
		return nil, err
	}
	if d.output, err = output.NewDriver(d.hal, d.state, cfg.LightOptions.FadeIn, cfg.LightOptions.FadeSteps); err != nil {
		return nil, err
	}
	d.web = webapp.NewServer(webapp.Config{
		Options:   cfg.HttpOptions,
		OTA:       d.manager,
		State:     d.state,
		OnUpdated: d.onUpdated,
	})

	if cfg.MqttOptions.Enabled() {
		if d.bridge, err = cfg.newBridge(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (cfg *Config) newBridge(d *Device) (*bridge.Bridge, error) {
	topics := topic.NewTopicBuilder(cfg.MqttOptions.TopicRoot)

	mqttConfig := cfg.MqttOptions.ToClientConfig()
	if mqttConfig.ClientID == "" {
		mqttConfig.ClientID = "lightbringer-" + d.id
	}
	mqttConfig.WillTopic = topics.Availability(d.id)
	mqttConfig.WillPayload = []byte(bridge.PayloadOffline)
	mqttConfig.WillQoS = 1
	mqttConfig.WillRetain = true

	client, err := pkgmqtt.NewClient(mqttConfig)
	if err != nil {
		return nil, fmt.Errorf("init mqtt client: %w", err)
	}

	bcfg := bridge.Config{
		Client:    client,
		Topics:    topics,
		DeviceID:  d.id,
		OTA:       d.manager,
		State:     d.state,
		URLs:      firmware.NewHTTPSource(nil, cfg.S3Options.InsecureSkipVerify),
		OnUpdated: d.onUpdated,
	}
	if cfg.S3Options.Enabled() {
		repo, err := firmware.NewRepository(cfg.S3Options)
		if err != nil {
			return nil, fmt.Errorf("init firmware repository: %w", err)
		}
		bcfg.Objects = repo
	}
	return bridge.New(bcfg)
}

// ID returns the device ID.
func (d *Device) ID() string { return d.id }

// Manager returns the update manager.
func (d *Device) Manager() *ota.Manager { return d.manager }

// State returns the shared light state.
func (d *Device) State() *valuesync.Synchronizer[light.State] { return d.state }

// HAL returns the hardware the device drives.
func (d *Device) HAL() hal.HAL { return d.hal }

// Close releases the flash.
func (d *Device) Close() error {
	return d.flash.Close()
}

// Run performs the boot step and runs every task until ctx is done or a
// finished update asks for a reboot. In the latter case it returns
// hal.ErrRebootRequested once all tasks have stopped.
func (d *Device) Run(ctx context.Context) error {
	if d.boot != nil {
		res, err := d.boot.Boot(ctx)
		if err != nil {
			return fmt.Errorf("boot: %w", err)
		}
		d.log.Info("Booted", "partition", res.Partition.Name, "sequence", res.Descriptor.Sequence,
			"state", res.Descriptor.State, "fellBack", res.FellBack)
	}
	if st, err := d.manager.Status(); err != nil {
		d.log.Error(err, "Update manager unavailable; updates are refused")
	} else {
		d.log.Info("Image status", "sequence", st.Sequence, "slot", st.Slot, "state", st.State)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.persist.Run(ctx) })
	g.Go(func() error { return d.output.Run(ctx) })
	g.Go(func() error { return d.web.Start(ctx) })
	if d.bridge != nil {
		g.Go(func() error { return d.bridge.Run(ctx) })
	}
	if d.cfg.OtaOptions.AutoAccept {
		g.Go(func() error { return d.autoAccept(ctx) })
	}
	g.Go(func() error { return d.awaitReboot(ctx) })

	return g.Wait()
}

// onUpdated is called by the transports after BeginUpdate succeeded.
func (d *Device) onUpdated() {
	select {
	case d.updated <- struct{}{}:
	default:
	}
}

func (d *Device) awaitReboot(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-d.updated:
	}

	d.log.Info("Update installed, rebooting", "delay", d.cfg.OtaOptions.RebootDelay)
	if err := sleep(ctx, d.cfg.OtaOptions.RebootDelay); err != nil {
		return nil
	}
	if err := d.hal.Reboot(ctx); err != nil {
		return err
	}
	return hal.ErrRebootRequested
}

// autoAccept confirms the running image once the device stayed up for the
// configured delay.
func (d *Device) autoAccept(ctx context.Context) error {
	if err := sleep(ctx, d.cfg.OtaOptions.AutoAcceptDelay); err != nil {
		return nil
	}

	accepted, err := d.manager.IsAccepted()
	if err != nil {
		d.log.Error(err, "Cannot read image state for auto-accept")
		return nil
	}
	if accepted {
		return nil
	}
	if err := d.manager.Accept(ctx); err != nil {
		d.log.Error(err, "Auto-accept failed")
		return nil
	}
	d.log.Info("Running image accepted automatically")
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
