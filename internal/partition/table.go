// Package partition resolves flash regions from the partition table stored
// on the device. Lookups always re-read the table; nothing is cached.
package partition

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/JonathanBrouwer/lightbringer/internal/flash"
)

const (
	// TableOffset is where the bootloader expects the table.
	TableOffset = 0x8000
	// TableMaxLen bounds the table region; the rest of the sector is unused.
	TableMaxLen = 0xC00
	// EntrySize is the size of one table record.
	EntrySize = 32

	nameLen = 16
)

var (
	entryMagic = [2]byte{0xAA, 0x50}
	md5Magic   = [2]byte{0xEB, 0xEB}
)

var (
	ErrNotFound     = errors.New("partition not found")
	ErrFoundTwice   = errors.New("partition found more than once")
	ErrTableCorrupt = errors.New("partition table corrupt")
)

// Entry describes one flash region.
type Entry struct {
	Type    Type
	SubType SubType
	Offset  uint32
	Size    uint32
	Name    string
	Flags   uint32
}

func (e Entry) String() string {
	return fmt.Sprintf("%s %s/%s @0x%x+0x%x", e.Name, e.Type, SubTypeName(e.Type, e.SubType), e.Offset, e.Size)
}

// Contains reports whether [off, off+n) lies inside the partition.
func (e Entry) Contains(off, n uint32) bool {
	return uint64(off)+uint64(n) <= uint64(e.Size)
}

func decodeEntry(rec []byte) Entry {
	name := rec[12 : 12+nameLen]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return Entry{
		Type:    Type(rec[2]),
		SubType: SubType(rec[3]),
		Offset:  binary.LittleEndian.Uint32(rec[4:8]),
		Size:    binary.LittleEndian.Uint32(rec[8:12]),
		Name:    string(name),
		Flags:   binary.LittleEndian.Uint32(rec[28:32]),
	}
}

func encodeEntry(e Entry) ([]byte, error) {
	if len(e.Name) == 0 || len(e.Name) > nameLen {
		return nil, fmt.Errorf("partition name %q must be 1..%d bytes", e.Name, nameLen)
	}
	rec := make([]byte, EntrySize)
	copy(rec[0:2], entryMagic[:])
	rec[2] = byte(e.Type)
	rec[3] = byte(e.SubType)
	binary.LittleEndian.PutUint32(rec[4:8], e.Offset)
	binary.LittleEndian.PutUint32(rec[8:12], e.Size)
	copy(rec[12:12+nameLen], e.Name)
	binary.LittleEndian.PutUint32(rec[28:32], e.Flags)
	return rec, nil
}

// Encode renders entries in the on-device binary format, terminated by an
// erased record.
func Encode(entries []Entry) ([]byte, error) {
	if (len(entries)+1)*EntrySize > TableMaxLen {
		return nil, fmt.Errorf("too many partitions: %d", len(entries))
	}
	var buf bytes.Buffer
	for _, e := range entries {
		rec, err := encodeEntry(e)
		if err != nil {
			return nil, err
		}
		buf.Write(rec)
	}
	buf.Write(bytes.Repeat([]byte{flash.Erased}, EntrySize))
	return buf.Bytes(), nil
}

// Parse decodes a raw table region.
func Parse(raw []byte) ([]Entry, error) {
	var entries []Entry
	for off := 0; off+EntrySize <= len(raw); off += EntrySize {
		rec := raw[off : off+EntrySize]
		switch {
		case flash.IsErased(rec):
			return entries, nil
		case rec[0] == md5Magic[0] && rec[1] == md5Magic[1]:
			continue
		case rec[0] != entryMagic[0] || rec[1] != entryMagic[1]:
			return nil, fmt.Errorf("%w: bad magic %02x%02x at record %d", ErrTableCorrupt, rec[0], rec[1], off/EntrySize)
		}
		entries = append(entries, decodeEntry(rec))
	}
	return entries, nil
}
