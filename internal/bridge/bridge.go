// Package bridge connects a device to an MQTT broker: it mirrors the light
// state, accepts light and update commands, and reports command progress.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JonathanBrouwer/lightbringer/internal/firmware"
	"github.com/JonathanBrouwer/lightbringer/internal/light"
	"github.com/JonathanBrouwer/lightbringer/internal/ota"
	"github.com/JonathanBrouwer/lightbringer/internal/pkg/metrics"
	"github.com/JonathanBrouwer/lightbringer/internal/pkg/mqtt/adapter"
	"github.com/JonathanBrouwer/lightbringer/pkg/log"
	pkgmqtt "github.com/JonathanBrouwer/lightbringer/pkg/mqtt"
	"github.com/JonathanBrouwer/lightbringer/pkg/mqtt/topic"
	"github.com/JonathanBrouwer/lightbringer/pkg/valuesync"
)

const (
	qos = 1

	// Availability payloads. PayloadOffline doubles as the connection will.
	PayloadOnline  = "online"
	PayloadOffline = "offline"

	disconnectTimeout = 5 * time.Second
)

// Config wires a Bridge to the rest of the device.
type Config struct {
	Client   pkgmqtt.Client
	Topics   *topic.TopicBuilder
	DeviceID string

	OTA   *ota.Manager
	State *valuesync.Synchronizer[light.State]

	// Objects resolves "object" commands; nil when no repository is configured.
	Objects firmware.Source
	// URLs resolves "url" commands.
	URLs firmware.Source

	// OnUpdated runs after an update command installed a new image.
	OnUpdated func()
}

// Bridge implements the MQTT side of the device.
type Bridge struct {
	cfg     Config
	watcher *valuesync.Watcher[light.State]
	log     log.Logger

	// ctx is the Run context; update commands outlive the message handler.
	ctx context.Context

	mu       sync.Mutex
	stopped  bool
	commands sync.WaitGroup
}

// New registers a state watcher and returns the bridge.
func New(cfg Config) (*Bridge, error) {
	if cfg.Client == nil || cfg.Topics == nil || cfg.DeviceID == "" {
		return nil, errors.New("bridge: client, topics and device id are required")
	}
	w, err := cfg.State.Watch()
	if err != nil {
		return nil, fmt.Errorf("bridge: watch light state: %w", err)
	}
	return &Bridge{
		cfg:     cfg,
		watcher: w,
		log:     log.WithName("bridge").WithValues("device", cfg.DeviceID),
	}, nil
}

// Run connects, subscribes and mirrors the light state until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	defer b.watcher.Close()

	if err := b.cfg.Client.Start(ctx); err != nil {
		return fmt.Errorf("start mqtt client: %w", err)
	}
	b.ctx = ctx
	defer func() {
		b.mu.Lock()
		b.stopped = true
		b.mu.Unlock()
		b.commands.Wait()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer cancel()
		b.publish(shutdownCtx, b.cfg.Topics.Availability(b.cfg.DeviceID), true, []byte(PayloadOffline))
		b.cfg.Client.Disconnect(shutdownCtx)
		b.log.Info("MQTT client disconnected")
	}()

	b.log.Info("Waiting for MQTT connection...")
	if err := b.cfg.Client.AwaitConnection(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	b.log.Info("MQTT connected")

	if err := b.subscribe(ctx); err != nil {
		return err
	}
	b.publish(ctx, b.cfg.Topics.Availability(b.cfg.DeviceID), true, []byte(PayloadOnline))
	b.watcher.Skip()
	b.publishState(ctx, b.cfg.State.Snapshot())

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.watcher.Changed():
			st, ok := b.watcher.TryRead()
			if !ok {
				continue
			}
			b.publishState(ctx, st)
		}
	}
}

func (b *Bridge) subscribe(ctx context.Context) error {
	id := b.cfg.DeviceID
	subscriptions := map[string]adapter.HandlerFunc{
		b.cfg.Topics.LightSet(id):   adapter.JSONHandler(b.handleSet),
		b.cfg.Topics.OTACommand(id): adapter.JSONHandler(b.handleCommand),
		b.cfg.Topics.OTAAccept(id):  adapter.RawHandler(b.handleAccept),
		b.cfg.Topics.OTAReject(id):  adapter.RawHandler(b.handleReject),
	}

	for fullTopic, handler := range subscriptions {
		if err := b.cfg.Client.Subscribe(ctx, fullTopic, qos, func(c context.Context, _ string, p []byte) {
			if err := handler(c, p); err != nil {
				b.log.Error(err, "Handler execution failed", "topic", fullTopic)
			}
		}); err != nil {
			return fmt.Errorf("failed to subscribe to topic: %s, err: %w", fullTopic, err)
		}
	}
	return nil
}

// handleSet overwrites the light state. The write is not published with the
// watcher on purpose: the retained state topic must follow it.
func (b *Bridge) handleSet(_ context.Context, st *light.State) error {
	b.cfg.State.Write(*st)
	metrics.LightWritesTotal.WithLabelValues("mqtt").Inc()
	return nil
}

func (b *Bridge) handleAccept(ctx context.Context) error {
	err := b.cfg.OTA.Accept(ctx)
	b.ackResult(ctx, "accept", err, "Running image accepted")
	return err
}

func (b *Bridge) handleReject(ctx context.Context) error {
	err := b.cfg.OTA.Reject(ctx)
	b.ackResult(ctx, "reject", err, "Running image rejected")
	return err
}

func (b *Bridge) ackResult(ctx context.Context, name string, err error, ok string) {
	if err != nil {
		b.Ack(ctx, name, PhaseFailed, err.Error())
		return
	}
	b.Ack(ctx, name, PhaseSucceeded, ok)
}

func (b *Bridge) publishState(ctx context.Context, st light.State) {
	payload, err := encodeJSON(st)
	if err != nil {
		b.log.Error(err, "Failed to encode light state")
		return
	}
	b.publish(ctx, b.cfg.Topics.LightState(b.cfg.DeviceID), true, payload)
}

func (b *Bridge) publish(ctx context.Context, topic string, retain bool, payload []byte) {
	if err := b.cfg.Client.Publish(ctx, topic, qos, retain, payload); err != nil {
		metrics.MQTTPublishTotal.WithLabelValues("error").Inc()
		b.log.Error(err, "Failed to publish", "topic", topic)
		return
	}
	metrics.MQTTPublishTotal.WithLabelValues("ok").Inc()
}
