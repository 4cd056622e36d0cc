package ota

import (
	"fmt"

	"github.com/JonathanBrouwer/lightbringer/internal/flash"
	"github.com/JonathanBrouwer/lightbringer/internal/partition"
)

// Copies holds the decoded descriptor copies; an entry is nil when that copy
// failed to decode.
type Copies [2]*Descriptor

// Current returns the index of the copy that wins the dual read: the valid
// copy with the higher sequence, copy 1 on a tie, or -1 when none is valid.
func (c Copies) Current() int {
	switch {
	case c[0] != nil && c[1] != nil:
		if c[0].Sequence > c[1].Sequence {
			return 0
		}
		return 1
	case c[0] != nil:
		return 0
	case c[1] != nil:
		return 1
	default:
		return -1
	}
}

// Store persists the descriptor as two copies one sector apart at the start
// of the otadata partition. Write and Update each touch a single copy, so a
// power loss mid-write leaves the other copy intact.
type Store struct {
	flash flash.Storage
	dir   *partition.Directory
}

// NewStore returns a store on the otadata partition listed in dir.
func NewStore(f flash.Storage, dir *partition.Directory) *Store {
	return &Store{flash: f, dir: dir}
}

// base resolves the otadata partition anew on every call.
func (s *Store) base() (uint32, error) {
	p, err := s.dir.OTAData()
	if err != nil {
		return 0, err
	}
	if p.Size < 2*flash.SectorSize {
		return 0, fmt.Errorf("otadata partition too small for two copies: 0x%x", p.Size)
	}
	return p.Offset, nil
}

// ReadBoth decodes both copies independently.
func (s *Store) ReadBoth() (Copies, error) {
	base, err := s.base()
	if err != nil {
		return Copies{}, err
	}

	var c Copies
	buf := make([]byte, DescriptorSize)
	for i := range c {
		if err := s.flash.Read(base+uint32(i)*flash.SectorSize, buf); err != nil {
			return Copies{}, fmt.Errorf("read descriptor copy %d: %w", i, err)
		}
		if d, err := Decode(buf); err == nil {
			c[i] = &d
		}
	}
	return c, nil
}

// Read returns the winning descriptor or ErrDescriptorCorrupt.
func (s *Store) Read() (Descriptor, error) {
	c, err := s.ReadBoth()
	if err != nil {
		return Descriptor{}, err
	}
	i := c.Current()
	if i < 0 {
		return Descriptor{}, ErrDescriptorCorrupt
	}
	return *c[i], nil
}

// Write publishes d over the stale copy. d must carry a sequence higher than
// the current one; sequence numbers are never reused.
func (s *Store) Write(d Descriptor) error {
	c, err := s.ReadBoth()
	if err != nil {
		return err
	}
	cur := c.Current()
	if cur < 0 {
		return ErrDescriptorCorrupt
	}
	if d.Sequence <= c[cur].Sequence {
		return fmt.Errorf("%w: %d after %d", ErrSequenceReused, d.Sequence, c[cur].Sequence)
	}
	return s.writeCopy(1-cur, d)
}

// Update rewrites the state of the current sequence in place. The other
// copy keeps the previous sequence's record, so a power loss mid-write falls
// back to that image instead of losing both.
func (s *Store) Update(d Descriptor) error {
	c, err := s.ReadBoth()
	if err != nil {
		return err
	}
	cur := c.Current()
	if cur < 0 {
		return ErrDescriptorCorrupt
	}
	if d.Sequence != c[cur].Sequence {
		return fmt.Errorf("update must keep sequence %d, got %d", c[cur].Sequence, d.Sequence)
	}
	return s.writeCopy(cur, d)
}

// Format writes d to both copies regardless of their contents. It is meant
// for provisioning a blank device only.
func (s *Store) Format(d Descriptor) error {
	for i := 0; i < 2; i++ {
		if err := s.writeCopy(i, d); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) writeCopy(i int, d Descriptor) error {
	base, err := s.base()
	if err != nil {
		return err
	}
	rec := d.Encode()
	if err := s.flash.Write(base+uint32(i)*flash.SectorSize, rec[:]); err != nil {
		return fmt.Errorf("write descriptor copy %d: %w", i, err)
	}
	return nil
}
