package ota

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/JonathanBrouwer/lightbringer/internal/pkg/crc"
)

// DescriptorSize is the persisted size of a Descriptor.
const DescriptorSize = 32

// LabelSize is the size of the opaque label field.
const LabelSize = 20

// ErrInvalidDescriptor is returned by Decode for records that must not be trusted.
var ErrInvalidDescriptor = errors.New("invalid ota descriptor")

// State is the verification state of the image a descriptor points at.
type State uint32

const (
	// StateNew marks a freshly written image that has never booted.
	StateNew State = 0
	// StatePendingVerify marks an image that booted once and awaits confirmation.
	StatePendingVerify State = 1
	// StateValid marks an image confirmed working.
	StateValid State = 2
	// StateInvalid marks an image confirmed broken.
	StateInvalid State = 3
	// StateAborted marks an image that rebooted before being confirmed.
	StateAborted State = 4
	// StateUndefined marks a legacy or untracked image.
	StateUndefined State = 0xFFFFFFFF
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "New"
	case StatePendingVerify:
		return "PendingVerify"
	case StateValid:
		return "Valid"
	case StateInvalid:
		return "Invalid"
	case StateAborted:
		return "Aborted"
	case StateUndefined:
		return "Undefined"
	default:
		return fmt.Sprintf("State(0x%08x)", uint32(s))
	}
}

// Known reports whether s is one of the defined states.
func (s State) Known() bool {
	switch s {
	case StateNew, StatePendingVerify, StateValid, StateInvalid, StateAborted, StateUndefined:
		return true
	}
	return false
}

// Bootable reports whether the bootloader may start an image in state s.
func (s State) Bootable() bool {
	return s != StateInvalid && s != StateAborted
}

// ParseState accepts the names returned by State.String.
func ParseState(name string) (State, error) {
	for _, s := range []State{StateNew, StatePendingVerify, StateValid, StateInvalid, StateAborted, StateUndefined} {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown ota state %q", name)
}

// Descriptor records which slot is active and its verification state.
type Descriptor struct {
	Sequence uint32
	Label    [LabelSize]byte
	State    State
	// CRC is the checksum of Sequence. Encode always recomputes it.
	CRC uint32
}

// NewDescriptor returns a descriptor for sequence seq with a valid CRC.
func NewDescriptor(seq uint32, label [LabelSize]byte, state State) Descriptor {
	return Descriptor{
		Sequence: seq,
		Label:    label,
		State:    state,
		CRC:      crc.Sequence(seq),
	}
}

// Slot returns the firmware slot the descriptor selects.
func (d Descriptor) Slot() uint32 {
	return d.Sequence % SlotCount
}

func (d Descriptor) String() string {
	return fmt.Sprintf("Descriptor{seq: %d, slot: %d, label: %x, state: %s, crc: 0x%08x}",
		d.Sequence, d.Slot(), d.Label, d.State, d.CRC)
}

// Encode renders the 32-byte little-endian record.
func (d Descriptor) Encode() [DescriptorSize]byte {
	var b [DescriptorSize]byte
	binary.LittleEndian.PutUint32(b[0:4], d.Sequence)
	copy(b[4:24], d.Label[:])
	binary.LittleEndian.PutUint32(b[24:28], uint32(d.State))
	binary.LittleEndian.PutUint32(b[28:32], crc.Sequence(d.Sequence))
	return b
}

// Decode parses a record. The CRC only covers the sequence, so the label is
// never validated; an unknown state value is rejected.
func Decode(b []byte) (Descriptor, error) {
	if len(b) != DescriptorSize {
		return Descriptor{}, fmt.Errorf("%w: %d bytes", ErrInvalidDescriptor, len(b))
	}
	d := Descriptor{
		Sequence: binary.LittleEndian.Uint32(b[0:4]),
		State:    State(binary.LittleEndian.Uint32(b[24:28])),
		CRC:      binary.LittleEndian.Uint32(b[28:32]),
	}
	copy(d.Label[:], b[4:24])

	if want := crc.Sequence(d.Sequence); d.CRC != want {
		return Descriptor{}, fmt.Errorf("%w: crc 0x%08x, want 0x%08x", ErrInvalidDescriptor, d.CRC, want)
	}
	if !d.State.Known() {
		return Descriptor{}, fmt.Errorf("%w: state 0x%08x", ErrInvalidDescriptor, uint32(d.State))
	}
	return d, nil
}
