package hal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMock(t *testing.T) {
	m := NewMock(12)

	require.NoError(t, m.SetDuty(ChannelRed, 100))
	require.NoError(t, m.SetDuty(ChannelRed, 4096))
	assert.Error(t, m.SetDuty(ChannelBlue, 4097))

	assert.Equal(t, uint32(4096), m.Duty(ChannelRed))
	assert.Equal(t, []uint32{100, 4096}, m.History(ChannelRed))
	assert.Empty(t, m.History(ChannelBlue))

	assert.ErrorIs(t, m.Reboot(context.Background()), ErrRebootRequested)
	assert.Equal(t, 1, m.Reboots())
}

func TestNew(t *testing.T) {
	h, err := New("mock", SysfsConfig{})
	require.NoError(t, err)
	assert.Equal(t, uint(DefaultResolution), h.Resolution())

	_, err = New("gpio", SysfsConfig{})
	assert.Error(t, err)
}
