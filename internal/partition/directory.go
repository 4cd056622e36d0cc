package partition

import (
	"fmt"

	"github.com/JonathanBrouwer/lightbringer/internal/flash"
)

// UserDataName is the partition holding the persisted light state.
const UserDataName = "userdata"

// Directory looks partitions up in the table stored on a flash device.
type Directory struct {
	flash  flash.Storage
	offset uint32
}

// NewDirectory reads the table at TableOffset of s.
func NewDirectory(s flash.Storage) *Directory {
	return NewDirectoryAt(s, TableOffset)
}

// NewDirectoryAt reads the table at a non-default offset.
func NewDirectoryAt(s flash.Storage, offset uint32) *Directory {
	return &Directory{flash: s, offset: offset}
}

// List reads and decodes the whole table.
func (d *Directory) List() ([]Entry, error) {
	raw := make([]byte, TableMaxLen)
	if err := d.flash.Read(d.offset, raw); err != nil {
		return nil, fmt.Errorf("read partition table: %w", err)
	}
	return Parse(raw)
}

// FindByName returns the single partition labelled name.
func (d *Directory) FindByName(name string) (Entry, error) {
	return d.find(fmt.Sprintf("name %q", name), func(e Entry) bool {
		return e.Name == name
	})
}

// FindByType returns the single partition of the given type and subtype.
func (d *Directory) FindByType(t Type, sub SubType) (Entry, error) {
	return d.find(fmt.Sprintf("type %s/%s", t, SubTypeName(t, sub)), func(e Entry) bool {
		return e.Type == t && e.SubType == sub
	})
}

// OTAData returns the partition holding the two descriptor copies.
func (d *Directory) OTAData() (Entry, error) {
	return d.FindByType(TypeData, SubTypeOTA)
}

// Slot returns the app partition of OTA slot i.
func (d *Directory) Slot(i uint32) (Entry, error) {
	if i > uint32(SubTypeOTAMax-SubTypeOTAMin) {
		return Entry{}, fmt.Errorf("%w: ota slot %d", ErrNotFound, i)
	}
	return d.FindByType(TypeApp, SubTypeOTASlot(i))
}

// UserData returns the light-state partition.
func (d *Directory) UserData() (Entry, error) {
	return d.FindByName(UserDataName)
}

// find scans every record; ambiguity is an error, never "first match wins".
func (d *Directory) find(desc string, match func(Entry) bool) (Entry, error) {
	entries, err := d.List()
	if err != nil {
		return Entry{}, err
	}

	var (
		found Entry
		n     int
	)
	for _, e := range entries {
		if !match(e) {
			continue
		}
		n++
		if n > 1 {
			return Entry{}, fmt.Errorf("%w: %s", ErrFoundTwice, desc)
		}
		found = e
	}
	if n == 0 {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, desc)
	}
	return found, nil
}
