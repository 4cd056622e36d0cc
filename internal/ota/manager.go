// Package ota writes new firmware images into the inactive slot and
// publishes them through a redundant descriptor, keeping the running image
// bootable until the new one is confirmed.
package ota

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/JonathanBrouwer/lightbringer/internal/flash"
	"github.com/JonathanBrouwer/lightbringer/internal/partition"
	"github.com/JonathanBrouwer/lightbringer/internal/pkg/metrics"
	"github.com/JonathanBrouwer/lightbringer/pkg/log"
)

// SlotCount is the number of firmware slots; slot = sequence mod SlotCount.
const SlotCount = 2

// DefaultChunkSize matches the flash erase/program granularity.
const DefaultChunkSize = flash.SectorSize

// DefaultLabel is stamped into descriptors published by BeginUpdate.
var DefaultLabel = [LabelSize]byte{
	0xED, 0xED, 0xED, 0xED, 0xED, 0xED, 0xED, 0xED, 0xED, 0xED,
	0xED, 0xED, 0xED, 0xED, 0xED, 0xED, 0xED, 0xED, 0xED, 0xED,
}

// Accepted reports whether an image in state s may seed another update.
func Accepted(s State) bool {
	return s == StateValid || s == StateUndefined
}

// Status is a point-in-time view of the OTA subsystem.
type Status struct {
	Sequence uint32 `json:"sequence"`
	Slot     uint32 `json:"slot"`
	State    string `json:"state"`
	Accepted bool   `json:"accepted"`
	Updating bool   `json:"updating"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithChunkSize sets the write chunk size.
func WithChunkSize(n int) Option {
	return func(m *Manager) { m.chunkSize = n }
}

// WithLabel sets the label of published descriptors.
func WithLabel(label [LabelSize]byte) Option {
	return func(m *Manager) { m.label = label }
}

// WithProgress registers a callback invoked after every chunk with the total
// number of bytes written so far.
func WithProgress(fn func(written uint32)) Option {
	return func(m *Manager) { m.progress = fn }
}

// WithLogger overrides the logger.
func WithLogger(l log.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// Manager orchestrates updates and confirmation of the running image.
type Manager struct {
	flash flash.Storage
	dir   *partition.Directory
	store *Store

	chunkSize int
	label     [LabelSize]byte
	progress  func(written uint32)
	log       log.Logger

	// updating is held for the whole of BeginUpdate.
	updating atomic.Bool
}

// NewManager builds a manager over the given flash and partition table.
func NewManager(f flash.Storage, dir *partition.Directory, opts ...Option) (*Manager, error) {
	m := &Manager{
		flash:     f,
		dir:       dir,
		store:     NewStore(f, dir),
		chunkSize: DefaultChunkSize,
		label:     DefaultLabel,
		log:       log.WithName("ota"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.chunkSize <= 0 || m.chunkSize%4 != 0 {
		return nil, fmt.Errorf("chunk size %d must be a positive multiple of 4", m.chunkSize)
	}
	return m, nil
}

// Store exposes the descriptor store.
func (m *Manager) Store() *Store {
	return m.store
}

// Descriptor returns the current descriptor.
func (m *Manager) Descriptor() (Descriptor, error) {
	d, err := m.store.Read()
	if err != nil {
		return Descriptor{}, internal("read descriptor", err)
	}
	return d, nil
}

// IsAccepted reports whether the running image is Valid or Undefined.
func (m *Manager) IsAccepted() (bool, error) {
	d, err := m.Descriptor()
	if err != nil {
		return false, err
	}
	return Accepted(d.State), nil
}

// Status summarises the descriptor and the in-flight flag.
func (m *Manager) Status() (Status, error) {
	d, err := m.Descriptor()
	if err != nil {
		return Status{Updating: m.updating.Load()}, err
	}
	return Status{
		Sequence: d.Sequence,
		Slot:     d.Slot(),
		State:    d.State.String(),
		Accepted: Accepted(d.State),
		Updating: m.updating.Load(),
	}, nil
}

// Accept marks the running image Valid. Calling it again changes nothing.
func (m *Manager) Accept(ctx context.Context) error {
	return m.apply(ctx, EventAccept)
}

// Reject marks the running image Invalid.
func (m *Manager) Reject(ctx context.Context) error {
	return m.apply(ctx, EventReject)
}

func (m *Manager) apply(ctx context.Context, event string) error {
	d, err := m.Descriptor()
	if err != nil {
		return err
	}

	to, err := Transition(ctx, d.State, event, func(_ context.Context, to State) error {
		next := d
		next.State = to
		return m.store.Update(next)
	})
	if err != nil {
		return internal(event, err)
	}

	if to == d.State {
		m.log.Debug("Image state unchanged", "event", event, "state", to)
	} else {
		m.log.Info("Image state changed", "event", event, "from", d.State, "to", to, "sequence", d.Sequence)
	}
	metrics.SetImageState(to.String(), allStates)
	return nil
}

// BeginUpdate streams src into the inactive slot and, once the whole image
// is written, publishes a descriptor pointing at it. The next reboot starts
// the new image; nothing before the final publish changes the boot target.
//
// src is read in chunks of the configured size. A short read is retried
// until the chunk is full; io.EOF or a read of zero bytes ends the image.
// No timeout is imposed; bound it through ctx or the reader.
func (m *Manager) BeginUpdate(ctx context.Context, src io.Reader) (err error) {
	if !m.updating.CompareAndSwap(false, true) {
		metrics.OTAUpdatesTotal.WithLabelValues(resultLabel(ErrAlreadyUpdating)).Inc()
		return ErrAlreadyUpdating
	}
	defer m.updating.Store(false)

	start := time.Now()
	metrics.OTAInProgress.Set(1)
	defer func() {
		metrics.OTAInProgress.Set(0)
		metrics.OTAUpdatesTotal.WithLabelValues(resultLabel(err)).Inc()
		metrics.OTAUpdateDuration.Observe(time.Since(start).Seconds())
	}()

	cur, err := m.Descriptor()
	if err != nil {
		return err
	}
	if !Accepted(cur.State) {
		return ErrPendingVerify
	}

	seq, err := NextSequence(cur.Sequence)
	if err != nil {
		return internal("allocate sequence", err)
	}
	slot, err := m.dir.Slot(seq % SlotCount)
	if err != nil {
		return internal("resolve destination slot", err)
	}

	m.log.Info("Starting update", "running", cur.Sequence, "sequence", seq, "slot", slot.Name, "capacity", slot.Size)

	written, err := m.stream(ctx, src, slot)
	if err != nil {
		m.log.Error(err, "Update aborted", "slot", slot.Name, "written", written)
		return err
	}

	next := NewDescriptor(seq, m.label, StateNew)
	if err := m.store.Write(next); err != nil {
		return internal("publish descriptor", err)
	}
	m.log.Info("Update written", "sequence", seq, "slot", slot.Name, "bytes", written, "duration", time.Since(start))
	return nil
}

func (m *Manager) stream(ctx context.Context, src io.Reader, slot partition.Entry) (uint32, error) {
	buf := make([]byte, m.chunkSize)
	var written uint32

	for {
		if err := ctx.Err(); err != nil {
			return written, &ReadError{Err: err}
		}

		n, end, err := fill(src, buf)
		if err != nil {
			return written, &ReadError{Err: err}
		}

		if n > 0 {
			if !slot.Contains(written, uint32(n)) {
				return written, ErrOutOfSpace
			}
			if err := m.flash.Write(slot.Offset+written, buf[:n]); err != nil {
				return written, internal("write image", err)
			}
			written += uint32(n)
			metrics.OTABytesWritten.Add(float64(n))
			if m.progress != nil {
				m.progress(written)
			}
		}

		if end {
			return written, nil
		}
	}
}

// fill reads until buf is full or the source ends. end is true when the
// source is exhausted; a partially filled buf is still returned.
func fill(src io.Reader, buf []byte) (n int, end bool, err error) {
	for n < len(buf) {
		r, err := src.Read(buf[n:])
		n += r
		switch {
		case errors.Is(err, io.EOF):
			return n, true, nil
		case err != nil:
			return n, false, err
		case r == 0:
			return n, true, nil
		}
	}
	return n, false, nil
}

func resultLabel(err error) string {
	var (
		re *ReadError
		ie *InternalError
	)
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrPendingVerify):
		return "pending_verify"
	case errors.Is(err, ErrAlreadyUpdating):
		return "already_updating"
	case errors.Is(err, ErrOutOfSpace):
		return "out_of_space"
	case errors.As(err, &re):
		return "read_error"
	case errors.As(err, &ie):
		return "internal"
	default:
		return "unknown"
	}
}
