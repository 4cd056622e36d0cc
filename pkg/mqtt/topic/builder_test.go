package topic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopicBuilder(t *testing.T) {
	b := NewTopicBuilder("lightbringer/")

	tests := []struct {
		got, want string
	}{
		{b.LightState("desk"), "lightbringer/desk/light/state"},
		{b.LightStateWildcard(), "lightbringer/+/light/state"},
		{b.LightSet("desk"), "lightbringer/desk/light/set"},
		{b.OTACommand("desk"), "lightbringer/desk/ota/command"},
		{b.OTAStatus("desk"), "lightbringer/desk/ota/status"},
		{b.OTAStatusWildcard(), "lightbringer/+/ota/status"},
		{b.OTAAccept("desk"), "lightbringer/desk/ota/accept"},
		{b.OTAReject("desk"), "lightbringer/desk/ota/reject"},
		{b.Availability("desk"), "lightbringer/desk/availability"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.got)
	}
}

func TestDeviceID(t *testing.T) {
	b := NewTopicBuilder("lightbringer")

	id, ok := b.DeviceID("lightbringer/desk/ota/status")
	assert.True(t, ok)
	assert.Equal(t, "desk", id)

	_, ok = b.DeviceID("other/desk/ota/status")
	assert.False(t, ok)
	_, ok = b.DeviceID("lightbringer/desk")
	assert.False(t, ok)
}
