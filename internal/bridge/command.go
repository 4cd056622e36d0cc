package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JonathanBrouwer/lightbringer/internal/firmware"
)

// Phase is the progress of a command as reported on the status topic.
type Phase string

const (
	PhaseReceived  Phase = "Received"
	PhaseRunning   Phase = "Running"
	PhaseFailed    Phase = "Failed"
	PhaseSucceeded Phase = "Succeeded"
)

// Command asks the device to install an image. Exactly one of Object and URL
// is set.
type Command struct {
	Name   string `json:"name"`
	Object string `json:"object,omitempty"`
	URL    string `json:"url,omitempty"`
}

// CommandStatus is published on the status topic for every phase change.
type CommandStatus struct {
	Name      string    `json:"name"`
	Status    Phase     `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

var errBusy = errors.New("bridge is shutting down")

// handleCommand validates cmd and installs it in the background so the MQTT
// router is not blocked while the image streams.
func (b *Bridge) handleCommand(ctx context.Context, cmd *Command) error {
	if cmd.Name == "" {
		return errors.New("command without name")
	}
	b.Ack(ctx, cmd.Name, PhaseReceived, "Command accepted")

	src, ref, err := b.resolve(cmd)
	if err != nil {
		b.Ack(ctx, cmd.Name, PhaseFailed, err.Error())
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		b.Ack(ctx, cmd.Name, PhaseFailed, errBusy.Error())
		return errBusy
	}
	b.commands.Add(1)
	go func() {
		defer b.commands.Done()
		b.execute(b.ctx, cmd.Name, src, ref)
	}()
	return nil
}

func (b *Bridge) resolve(cmd *Command) (firmware.Source, string, error) {
	switch {
	case cmd.Object != "" && cmd.URL != "":
		return nil, "", errors.New("command sets both object and url")
	case cmd.Object != "":
		if b.cfg.Objects == nil {
			return nil, "", errors.New("no firmware repository configured")
		}
		return b.cfg.Objects, cmd.Object, nil
	case cmd.URL != "":
		if b.cfg.URLs == nil {
			return nil, "", errors.New("url downloads are disabled")
		}
		return b.cfg.URLs, cmd.URL, nil
	default:
		return nil, "", errors.New("command sets neither object nor url")
	}
}

func (b *Bridge) execute(ctx context.Context, name string, src firmware.Source, ref string) {
	b.Ack(ctx, name, PhaseRunning, "Downloading firmware image")

	rc, err := src.Open(ctx, ref)
	if err != nil {
		b.log.Error(err, "Failed to open firmware image", "ref", ref)
		b.Ack(ctx, name, PhaseFailed, fmt.Sprintf("Download failed: %v", err))
		return
	}
	defer rc.Close()

	if err := b.cfg.OTA.BeginUpdate(ctx, rc); err != nil {
		b.log.Error(err, "Update failed", "ref", ref)
		b.Ack(ctx, name, PhaseFailed, fmt.Sprintf("Update failed: %v", err))
		return
	}

	b.log.Info("Update installed", "ref", ref)
	b.Ack(ctx, name, PhaseSucceeded, "Update installed")
	if b.cfg.OnUpdated != nil {
		b.cfg.OnUpdated()
	}
}

// Ack publishes the status of command name.
func (b *Bridge) Ack(ctx context.Context, name string, phase Phase, message string) {
	payload, err := encodeJSON(CommandStatus{
		Name:      name,
		Status:    phase,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		b.log.Error(err, "Failed to encode command status", "name", name)
		return
	}
	b.publish(ctx, b.cfg.Topics.OTAStatus(b.cfg.DeviceID), false, payload)
}

func encodeJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}
