// Package crc implements the CRC-32 variant the ESP32 ROM exposes as
// esp_rom_crc32_le. It guards the OTA descriptor against corruption and is
// not an integrity check in the cryptographic sense.
package crc

import (
	"encoding/binary"

	"github.com/klauspost/crc32"
)

// Checksum computes CRC-32 (poly 0x04C11DB7, reflected, init 0xFFFFFFFF, no
// final xor) over the complemented input bytes and complements the result.
//
// With init and final xor both all-ones, the IEEE routine already complements
// the register on the way in and out, so the variant reduces to the IEEE
// checksum of the complemented input.
func Checksum(b []byte) uint32 {
	inv := make([]byte, len(b))
	for i, v := range b {
		inv[i] = ^v
	}
	return crc32.ChecksumIEEE(inv)
}

// Sequence returns the checksum of seq encoded as 4 little-endian bytes, the
// value stored in the last word of an OTA descriptor.
func Sequence(seq uint32) uint32 {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], seq)
	return Checksum(buf[:])
}
