// Package light defines the dimmer's light state and its wire and flash
// encoding.
package light

import (
	"encoding/binary"
	"fmt"
)

// StateLen is the encoded size of a State.
const StateLen = 8

// State is the colour the dimmer outputs. Cold and Warm are channel
// intensities on a 16-bit scale; X and Y are the colour-picker coordinates
// kept for the web UI.
type State struct {
	Cold uint16 `json:"cold"`
	Warm uint16 `json:"warm"`
	X    uint16 `json:"x"`
	Y    uint16 `json:"y"`
}

// Default is the state of a device that has never stored one.
func Default() State {
	return State{Cold: 16000, Warm: 16000, X: 197, Y: 164}
}

// Encode returns the little-endian encoding: cold, warm, x, y.
func (s State) Encode() [StateLen]byte {
	var b [StateLen]byte
	binary.LittleEndian.PutUint16(b[0:2], s.Cold)
	binary.LittleEndian.PutUint16(b[2:4], s.Warm)
	binary.LittleEndian.PutUint16(b[4:6], s.X)
	binary.LittleEndian.PutUint16(b[6:8], s.Y)
	return b
}

// Decode parses an encoded state.
func Decode(b []byte) (State, error) {
	if len(b) != StateLen {
		return State{}, fmt.Errorf("light state must be %d bytes, got %d", StateLen, len(b))
	}
	return State{
		Cold: binary.LittleEndian.Uint16(b[0:2]),
		Warm: binary.LittleEndian.Uint16(b[2:4]),
		X:    binary.LittleEndian.Uint16(b[4:6]),
		Y:    binary.LittleEndian.Uint16(b[6:8]),
	}, nil
}

func (s State) String() string {
	return fmt.Sprintf("cold=%d warm=%d xy=(%d,%d)", s.Cold, s.Warm, s.X, s.Y)
}
