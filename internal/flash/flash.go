// Package flash defines the flash-like storage capability the OTA core and
// the persistence task write through, with an in-memory double and a
// file-backed implementation (raw image file or MTD character device).
package flash

import (
	"errors"
	"fmt"
)

// SectorSize is the erase granularity of the dimmer's SPI flash.
const SectorSize = 0x1000

// Erased is the value of every byte of an erased sector.
const Erased = 0xFF

// ErrOutOfRange is returned for accesses that extend past the end of the device.
var ErrOutOfRange = errors.New("flash: access out of range")

// Storage is a flash-like store addressed by absolute byte offset.
//
// Write programs len(p) bytes at offset; implementations take care of erasing
// whatever sectors the write touches.
type Storage interface {
	Read(offset uint32, p []byte) error
	Write(offset uint32, p []byte) error
	Capacity() uint32
}

func checkRange(s Storage, offset uint32, n int) error {
	end := uint64(offset) + uint64(n)
	if end > uint64(s.Capacity()) {
		return fmt.Errorf("%w: [0x%x, 0x%x) exceeds capacity 0x%x", ErrOutOfRange, offset, end, s.Capacity())
	}
	return nil
}

// IsErased reports whether every byte of p reads as erased flash.
func IsErased(p []byte) bool {
	for _, b := range p {
		if b != Erased {
			return false
		}
	}
	return true
}
