// Package bootloader emulates the boot-time step that picks the image to
// start from the OTA descriptor and advances its verification state.
package bootloader

import (
	"context"
	"fmt"

	"github.com/JonathanBrouwer/lightbringer/internal/ota"
	"github.com/JonathanBrouwer/lightbringer/internal/partition"
	"github.com/JonathanBrouwer/lightbringer/pkg/log"
)

// Result describes the boot decision.
type Result struct {
	// Slot is the index of the started slot.
	Slot uint32
	// Partition is the app partition of Slot.
	Partition partition.Entry
	// Descriptor is the current descriptor once the boot step was persisted.
	// After a fallback it is the record published for the started image.
	Descriptor ota.Descriptor
	// FellBack is set when the descriptor's own slot was refused and the
	// other slot is started instead.
	FellBack bool
	// Refused is the descriptor of the image that was refused; only set
	// together with FellBack.
	Refused ota.Descriptor
}

// Bootloader runs the boot step against a descriptor store.
type Bootloader struct {
	store *ota.Store
	dir   *partition.Directory
	log   log.Logger
}

// New returns a bootloader for the given store and partition directory.
func New(store *ota.Store, dir *partition.Directory) *Bootloader {
	return &Bootloader{store: store, dir: dir, log: log.WithName("bootloader")}
}

// Boot reads the descriptor, persists the boot transition and chooses the
// slot to start. A New image moves to PendingVerify and is started; an image
// still PendingVerify failed to confirm itself during its last run, so it is
// marked Aborted. Aborted and Invalid images are refused: the other slot is
// started and a descriptor with the next sequence is published for it, so
// the running image is always the one the descriptor names.
func (b *Bootloader) Boot(ctx context.Context) (Result, error) {
	d, err := b.store.Read()
	if err != nil {
		return Result{}, fmt.Errorf("read descriptor: %w", err)
	}

	to, err := ota.Transition(ctx, d.State, ota.EventBoot, func(_ context.Context, to ota.State) error {
		next := d
		next.State = to
		return b.store.Update(next)
	})
	if err != nil {
		return Result{}, err
	}
	if to != d.State {
		b.log.Info("Advanced image state", "sequence", d.Sequence, "from", d.State, "to", to)
	}
	d.State = to

	res := Result{Slot: d.Slot(), Descriptor: d}
	if !to.Bootable() {
		if res.Descriptor, err = b.fallback(d); err != nil {
			return Result{}, err
		}
		res.Slot = res.Descriptor.Slot()
		res.FellBack = true
		res.Refused = d
	}

	res.Partition, err = b.dir.Slot(res.Slot)
	if err != nil {
		return Result{}, fmt.Errorf("resolve boot slot: %w", err)
	}

	if res.FellBack {
		b.log.Warn("Refused image, falling back", "refused", d.Sequence, "state", to,
			"sequence", res.Descriptor.Sequence, "fallbackState", res.Descriptor.State, "slot", res.Partition.Name)
	} else {
		b.log.Info("Booting", "sequence", d.Sequence, "state", to, "slot", res.Partition.Name)
	}
	return res, nil
}

// fallback publishes the record of the other slot under the next sequence.
// The image keeps its Valid standing when the other descriptor copy still
// records it as accepted; otherwise nothing vouches for it and it boots
// pending verification like a fresh image.
func (b *Bootloader) fallback(refused ota.Descriptor) (ota.Descriptor, error) {
	seq, err := ota.NextSequence(refused.Sequence)
	if err != nil {
		return ota.Descriptor{}, fmt.Errorf("publish fallback descriptor: %w", err)
	}
	copies, err := b.store.ReadBoth()
	if err != nil {
		return ota.Descriptor{}, fmt.Errorf("read descriptor copies: %w", err)
	}

	cur := copies.Current()
	if cur < 0 {
		return ota.Descriptor{}, ota.ErrDescriptorCorrupt
	}

	next := ota.NewDescriptor(seq, ota.DefaultLabel, ota.StatePendingVerify)
	if prev := copies[1-cur]; prev != nil && knownGood(*prev, refused) {
		next.Label = prev.Label
		next.State = ota.StateValid
	}
	if err := b.store.Write(next); err != nil {
		return ota.Descriptor{}, fmt.Errorf("publish fallback descriptor: %w", err)
	}
	return next, nil
}

// knownGood reports whether prev is an accepted record of the slot that
// refused is falling back to.
func knownGood(prev, refused ota.Descriptor) bool {
	return prev.Sequence < refused.Sequence &&
		prev.Slot() != refused.Slot() &&
		ota.Accepted(prev.State)
}
