package ota_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonathanBrouwer/lightbringer/internal/ota"
	"github.com/JonathanBrouwer/lightbringer/internal/ota/otatest"
)

func newManager(t *testing.T, dev *otatest.Device, opts ...ota.Option) *ota.Manager {
	t.Helper()
	m, err := ota.NewManager(dev.Flash, dev.Dir, opts...)
	require.NoError(t, err)
	return m
}

func image(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + 3)
	}
	return b
}

func TestNewManagerValidatesChunkSize(t *testing.T) {
	dev := otatest.NewAccepted(t, 0)
	for _, n := range []int{0, -4, 6} {
		_, err := ota.NewManager(dev.Flash, dev.Dir, ota.WithChunkSize(n))
		assert.Error(t, err, "chunk size %d", n)
	}
}

func TestBeginUpdateWritesInactiveSlot(t *testing.T) {
	dev := otatest.NewAccepted(t, 0)
	var progress []uint32
	m := newManager(t, dev, ota.WithChunkSize(0x400), ota.WithProgress(func(n uint32) {
		progress = append(progress, n)
	}))

	img := image(0x900)
	require.NoError(t, m.BeginUpdate(context.Background(), bytes.NewReader(img)))

	assert.Equal(t, img, dev.ReadSlot(t, 1, len(img)))
	assert.Equal(t, []uint32{0x400, 0x800, 0x900}, progress)

	d, err := dev.Store.Read()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), d.Sequence)
	assert.Equal(t, ota.StateNew, d.State)
	assert.Equal(t, ota.DefaultLabel, d.Label)

	accepted, err := m.IsAccepted()
	require.NoError(t, err)
	assert.False(t, accepted)
}

func TestBeginUpdatePendingVerify(t *testing.T) {
	for _, state := range []ota.State{ota.StateNew, ota.StatePendingVerify, ota.StateInvalid, ota.StateAborted} {
		t.Run(state.String(), func(t *testing.T) {
			dev := otatest.NewDevice(t, ota.NewDescriptor(3, ota.DefaultLabel, state))
			m := newManager(t, dev)

			err := m.BeginUpdate(context.Background(), bytes.NewReader(image(16)))
			assert.ErrorIs(t, err, ota.ErrPendingVerify)
			assert.Empty(t, dev.Flash.Writes())
		})
	}
}

func TestBeginUpdateFromUndefined(t *testing.T) {
	dev := otatest.NewDevice(t, ota.NewDescriptor(0, ota.DefaultLabel, ota.StateUndefined))
	m := newManager(t, dev)

	require.NoError(t, m.BeginUpdate(context.Background(), bytes.NewReader(image(64))))
	assert.Equal(t, image(64), dev.ReadSlot(t, 1, 64))
}

func TestBeginUpdateOutOfSpace(t *testing.T) {
	dev := otatest.NewAccepted(t, 1)
	m := newManager(t, dev, ota.WithChunkSize(0x1000))

	err := m.BeginUpdate(context.Background(), bytes.NewReader(image(otatest.SlotSize+1)))
	assert.ErrorIs(t, err, ota.ErrOutOfSpace)

	slot, err := dev.Dir.Slot(0)
	require.NoError(t, err)
	writes := dev.Flash.Writes()
	require.Len(t, writes, 2)
	for _, w := range writes {
		assert.True(t, slot.Contains(w.Offset-slot.Offset, uint32(w.Len)))
	}

	d, err := dev.Store.Read()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), d.Sequence)
}

func TestBeginUpdateExactFit(t *testing.T) {
	dev := otatest.NewAccepted(t, 1)
	m := newManager(t, dev)

	require.NoError(t, m.BeginUpdate(context.Background(), bytes.NewReader(image(otatest.SlotSize))))
	d, err := dev.Store.Read()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), d.Sequence)
	assert.Equal(t, uint32(0), d.Slot())
}

func TestBeginUpdateShortReads(t *testing.T) {
	dev := otatest.NewAccepted(t, 0)
	m := newManager(t, dev, ota.WithChunkSize(0x100))

	img := image(0x3F1)
	require.NoError(t, m.BeginUpdate(context.Background(), &trickleReader{data: img, max: 7}))
	assert.Equal(t, img, dev.ReadSlot(t, 1, len(img)))

	var chunks []int
	for _, w := range dev.Flash.Writes() {
		chunks = append(chunks, w.Len)
	}
	assert.Equal(t, []int{0x100, 0x100, 0x100, 0xF1, ota.DescriptorSize}, chunks)
}

func TestBeginUpdateReadError(t *testing.T) {
	dev := otatest.NewAccepted(t, 0)
	m := newManager(t, dev)

	boom := errors.New("connection reset")
	err := m.BeginUpdate(context.Background(), io.MultiReader(bytes.NewReader(image(10)), &failingReader{err: boom}))

	var re *ota.ReadError
	require.ErrorAs(t, err, &re)
	assert.ErrorIs(t, err, boom)

	d, err := dev.Store.Read()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), d.Sequence)

	// The in-flight flag is released after a failure.
	require.NoError(t, m.BeginUpdate(context.Background(), bytes.NewReader(image(10))))
}

func TestBeginUpdateStorageFailure(t *testing.T) {
	dev := otatest.NewAccepted(t, 0)
	m := newManager(t, dev)
	dev.Flash.FailWrite = func(uint32, int) error { return errors.New("program failed") }

	err := m.BeginUpdate(context.Background(), bytes.NewReader(image(10)))
	var ie *ota.InternalError
	assert.ErrorAs(t, err, &ie)
}

func TestBeginUpdateCanceled(t *testing.T) {
	dev := otatest.NewAccepted(t, 0)
	m := newManager(t, dev)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := m.BeginUpdate(ctx, bytes.NewReader(image(10)))
	assert.ErrorIs(t, err, context.Canceled)

	status, err := m.Status()
	require.NoError(t, err)
	assert.False(t, status.Updating)
}

func TestBeginUpdateAlreadyUpdating(t *testing.T) {
	dev := otatest.NewAccepted(t, 0)
	m := newManager(t, dev)

	src := &blockingReader{started: make(chan struct{}), release: make(chan struct{})}
	var (
		wg       sync.WaitGroup
		firstErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		firstErr = m.BeginUpdate(context.Background(), src)
	}()

	select {
	case <-src.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first update never started reading")
	}

	status, err := m.Status()
	require.NoError(t, err)
	assert.True(t, status.Updating)

	err = m.BeginUpdate(context.Background(), bytes.NewReader(image(10)))
	assert.ErrorIs(t, err, ota.ErrAlreadyUpdating)

	close(src.release)
	wg.Wait()
	require.NoError(t, firstErr)
}

func TestAcceptReject(t *testing.T) {
	ctx := context.Background()
	dev := otatest.NewDevice(t, ota.NewDescriptor(5, ota.DefaultLabel, ota.StatePendingVerify))
	m := newManager(t, dev)

	require.NoError(t, m.Accept(ctx))
	accepted, err := m.IsAccepted()
	require.NoError(t, err)
	assert.True(t, accepted)

	dev.Flash.ResetWrites()
	require.NoError(t, m.Accept(ctx))
	assert.Empty(t, dev.Flash.Writes(), "accepting twice must not touch flash")

	require.NoError(t, m.Reject(ctx))
	d, err := dev.Store.Read()
	require.NoError(t, err)
	assert.Equal(t, ota.StateInvalid, d.State)
	assert.Equal(t, uint32(5), d.Sequence)

	// Only the current copy changes; the other keeps its earlier record.
	copies, err := dev.Store.ReadBoth()
	require.NoError(t, err)
	assert.Equal(t, d, *copies[1])
	assert.Equal(t, ota.StatePendingVerify, copies[0].State)
}

func TestBeginUpdateSequenceExhausted(t *testing.T) {
	dev := otatest.NewAccepted(t, ^uint32(0))
	m := newManager(t, dev)

	err := m.BeginUpdate(context.Background(), bytes.NewReader(image(64)))
	assert.ErrorIs(t, err, ota.ErrSequenceExhausted)
	var ie *ota.InternalError
	assert.ErrorAs(t, err, &ie)
	assert.Empty(t, dev.Flash.Writes())

	status, err := m.Status()
	require.NoError(t, err)
	assert.False(t, status.Updating)
}

func TestAcceptCorruptDescriptor(t *testing.T) {
	dev := otatest.NewAccepted(t, 1)
	junk := make([]byte, ota.DescriptorSize)
	dev.WriteCopy(t, 0, junk)
	dev.WriteCopy(t, 1, junk)
	m := newManager(t, dev)

	err := m.Accept(context.Background())
	assert.True(t, ota.IsFatal(err))
	var ie *ota.InternalError
	assert.ErrorAs(t, err, &ie)

	err = m.BeginUpdate(context.Background(), bytes.NewReader(image(4)))
	assert.True(t, ota.IsFatal(err))
}

type trickleReader struct {
	data []byte
	max  int
}

func (r *trickleReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := min(len(p), r.max, len(r.data))
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

type failingReader struct{ err error }

func (r *failingReader) Read([]byte) (int, error) { return 0, r.err }

type blockingReader struct {
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (r *blockingReader) Read(p []byte) (int, error) {
	r.once.Do(func() { close(r.started) })
	<-r.release
	return 0, io.EOF
}
