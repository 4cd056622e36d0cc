// Package otatest provisions small in-memory flash devices for tests of the
// OTA core and the packages built on it.
package otatest

import (
	"testing"

	"github.com/JonathanBrouwer/lightbringer/internal/flash"
	"github.com/JonathanBrouwer/lightbringer/internal/ota"
	"github.com/JonathanBrouwer/lightbringer/internal/partition"
)

// SlotSize is the size of each app slot in Layout.
const SlotSize = 0x2000

// Layout is a compact layout with two 8 KiB slots.
func Layout() *partition.Layout {
	return &partition.Layout{
		FlashSize:   0x40000,
		TableOffset: partition.TableOffset,
		Partitions: []partition.LayoutEntry{
			{Name: "otadata", Type: "data", SubType: "ota", Offset: 0x9000, Size: 0x2000},
			{Name: partition.UserDataName, Type: "data", SubType: "undefined", Offset: 0xb000, Size: 0x1000},
			{Name: "ota_0", Type: "app", SubType: "ota_0", Offset: 0x10000, Size: SlotSize},
			{Name: "ota_1", Type: "app", SubType: "ota_1", Offset: 0x20000, Size: SlotSize},
		},
	}
}

// Device is a provisioned in-memory flash.
type Device struct {
	Flash *flash.Memory
	Dir   *partition.Directory
	Store *ota.Store
}

// NewDevice installs Layout on an erased device and formats both descriptor
// copies with d. The write log is reset afterwards.
func NewDevice(t testing.TB, d ota.Descriptor) *Device {
	t.Helper()

	l := Layout()
	mem := flash.NewMemory(l.FlashSize)
	if err := l.Install(mem); err != nil {
		t.Fatalf("install layout: %v", err)
	}
	dir := partition.NewDirectory(mem)
	store := ota.NewStore(mem, dir)
	if err := store.Format(d); err != nil {
		t.Fatalf("format descriptor: %v", err)
	}
	mem.ResetWrites()

	return &Device{Flash: mem, Dir: dir, Store: store}
}

// NewAccepted returns a device running sequence seq in state Valid.
func NewAccepted(t testing.TB, seq uint32) *Device {
	return NewDevice(t, ota.NewDescriptor(seq, ota.DefaultLabel, ota.StateValid))
}

// WriteCopy overwrites descriptor copy i with raw bytes.
func (d *Device) WriteCopy(t testing.TB, i int, raw []byte) {
	t.Helper()
	p, err := d.Dir.OTAData()
	if err != nil {
		t.Fatalf("find otadata: %v", err)
	}
	if err := d.Flash.Write(p.Offset+uint32(i)*flash.SectorSize, raw); err != nil {
		t.Fatalf("write copy %d: %v", i, err)
	}
}

// ReadSlot returns the first n bytes of slot i.
func (d *Device) ReadSlot(t testing.TB, i uint32, n int) []byte {
	t.Helper()
	p, err := d.Dir.Slot(i)
	if err != nil {
		t.Fatalf("find slot %d: %v", i, err)
	}
	buf := make([]byte, n)
	if err := d.Flash.Read(p.Offset, buf); err != nil {
		t.Fatalf("read slot %d: %v", i, err)
	}
	return buf
}
