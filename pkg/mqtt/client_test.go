package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicsMatch(t *testing.T) {
	tests := []struct {
		filter, topic string
		want          bool
	}{
		{"a/b/c", "a/b/c", true},
		{"a/b/c", "a/b/d", false},
		{"a/+/c", "a/b/c", true},
		{"a/+/c", "a/b/c/d", false},
		{"a/#", "a/b/c/d", true},
		{"a/+", "a", false},
		{"lightbringer/+/ota/status", "lightbringer/desk/ota/status", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, topicsMatch(tt.filter, tt.topic), "%s vs %s", tt.filter, tt.topic)
	}
}

func TestTopicFilterStripsSharedGroup(t *testing.T) {
	assert.Equal(t, "a/b", topicFilter("$share/group/a/b"))
	assert.Equal(t, "a/b", topicFilter("a/b"))
}

func TestNewClientValidates(t *testing.T) {
	_, err := NewClient(nil)
	assert.Error(t, err)

	_, err = NewClient(&ClientConfig{})
	assert.Error(t, err)

	_, err = NewClient(&ClientConfig{BrokerURL: "gopher://x"})
	assert.Error(t, err)

	cfg := &ClientConfig{BrokerURL: "tcp://localhost:1883", WillTopic: "x/availability"}
	c, err := NewClient(cfg)
	require.NoError(t, err)
	assert.False(t, c.IsConnected())
	assert.Equal(t, uint16(60), cfg.KeepAlive)

	will := c.(*pahoClient).willMessage()
	require.NotNil(t, will)
	assert.Equal(t, "x/availability", will.Topic)
}
