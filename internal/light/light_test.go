package light

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeLayout(t *testing.T) {
	b := State{Cold: 0x0102, Warm: 0x0304, X: 0x0506, Y: 0x0708}.Encode()
	assert.Equal(t, [StateLen]byte{2, 1, 4, 3, 6, 5, 8, 7}, b)

	got, err := Decode(b[:])
	require.NoError(t, err)
	assert.Equal(t, State{Cold: 0x0102, Warm: 0x0304, X: 0x0506, Y: 0x0708}, got)
}

func TestDecodeLength(t *testing.T) {
	for _, n := range []int{0, 7, 9} {
		_, err := Decode(make([]byte, n))
		assert.Error(t, err, "length %d", n)
	}
}

func TestJSON(t *testing.T) {
	raw, err := json.Marshal(Default())
	require.NoError(t, err)
	assert.JSONEq(t, `{"cold":16000,"warm":16000,"x":197,"y":164}`, string(raw))
}
