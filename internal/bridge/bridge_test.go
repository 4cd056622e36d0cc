package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonathanBrouwer/lightbringer/internal/firmware"
	"github.com/JonathanBrouwer/lightbringer/internal/light"
	"github.com/JonathanBrouwer/lightbringer/internal/ota"
	"github.com/JonathanBrouwer/lightbringer/internal/ota/otatest"
	pkgmqtt "github.com/JonathanBrouwer/lightbringer/pkg/mqtt"
	"github.com/JonathanBrouwer/lightbringer/pkg/mqtt/topic"
	"github.com/JonathanBrouwer/lightbringer/pkg/valuesync"
)

type message struct {
	Topic   string
	Retain  bool
	Payload string
}

type fakeClient struct {
	mu           sync.Mutex
	handlers     map[string]pkgmqtt.MessageHandler
	published    []message
	disconnected bool
	connectErr   error
}

var _ pkgmqtt.Client = (*fakeClient)(nil)

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: map[string]pkgmqtt.MessageHandler{}}
}

func (c *fakeClient) Start(context.Context) error { return nil }

func (c *fakeClient) Disconnect(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func (c *fakeClient) Publish(_ context.Context, topic string, _ int, retain bool, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, message{Topic: topic, Retain: retain, Payload: string(payload)})
	return nil
}

func (c *fakeClient) Subscribe(_ context.Context, topic string, _ int, handler pkgmqtt.MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = handler
	return nil
}

func (c *fakeClient) Unsubscribe(_ context.Context, topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, topic)
	return nil
}

func (c *fakeClient) AwaitConnection(ctx context.Context) error {
	if c.connectErr != nil {
		return c.connectErr
	}
	return nil
}

func (c *fakeClient) IsConnected() bool { return true }

func (c *fakeClient) deliver(t *testing.T, topic, payload string) {
	t.Helper()
	c.mu.Lock()
	h, ok := c.handlers[topic]
	c.mu.Unlock()
	require.True(t, ok, "no subscription for %s", topic)
	h(context.Background(), topic, []byte(payload))
}

func (c *fakeClient) on(topic string) []message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []message
	for _, m := range c.published {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

type fakeSource map[string][]byte

func (s fakeSource) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	b, ok := s[ref]
	if !ok {
		return nil, firmware.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

type fixture struct {
	client  *fakeClient
	topics  *topic.TopicBuilder
	state   *valuesync.Synchronizer[light.State]
	dev     *otatest.Device
	updated chan struct{}
	cancel  context.CancelFunc
	done    chan error
}

const deviceID = "dimmer-1"

func start(t *testing.T, d ota.Descriptor, objects fakeSource) *fixture {
	t.Helper()

	dev := otatest.NewDevice(t, d)
	m, err := ota.NewManager(dev.Flash, dev.Dir)
	require.NoError(t, err)

	f := &fixture{
		client:  newFakeClient(),
		topics:  topic.NewTopicBuilder("lightbringer"),
		state:   valuesync.New(light.Default(), 4),
		dev:     dev,
		updated: make(chan struct{}, 1),
		done:    make(chan error, 1),
	}
	cfg := Config{
		Client:    f.client,
		Topics:    f.topics,
		DeviceID:  deviceID,
		OTA:       m,
		State:     f.state,
		OnUpdated: func() { f.updated <- struct{}{} },
	}
	if objects != nil {
		cfg.Objects = objects
	}
	b, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go func() { f.done <- b.Run(ctx) }()
	t.Cleanup(f.stop)

	require.Eventually(t, func() bool {
		return len(f.client.on(f.topics.LightState(deviceID))) == 1
	}, 5*time.Second, time.Millisecond)
	return f
}

func (f *fixture) stop() {
	f.cancel()
	<-f.done
	f.done <- nil
}

func (f *fixture) statuses(t *testing.T) []CommandStatus {
	t.Helper()
	var out []CommandStatus
	for _, m := range f.client.on(f.topics.OTAStatus(deviceID)) {
		var st CommandStatus
		require.NoError(t, json.Unmarshal([]byte(m.Payload), &st))
		out = append(out, st)
	}
	return out
}

func phases(sts []CommandStatus) []Phase {
	out := make([]Phase, 0, len(sts))
	for _, st := range sts {
		out = append(out, st.Status)
	}
	return out
}

func TestNewValidates(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	state := valuesync.New(light.Default(), 1)
	state.MustWatch()
	_, err = New(Config{Client: newFakeClient(), Topics: topic.NewTopicBuilder("x"), DeviceID: "d", State: state})
	assert.ErrorIs(t, err, valuesync.ErrTooManyWatchers)
}

func TestRunPublishesAvailabilityAndState(t *testing.T) {
	f := start(t, ota.NewDescriptor(0, ota.DefaultLabel, ota.StateValid), nil)

	avail := f.client.on(f.topics.Availability(deviceID))
	require.Len(t, avail, 1)
	assert.Equal(t, message{Topic: f.topics.Availability(deviceID), Retain: true, Payload: PayloadOnline}, avail[0])

	state := f.client.on(f.topics.LightState(deviceID))
	assert.True(t, state[0].Retain)
	assert.JSONEq(t, `{"cold":16000,"warm":16000,"x":197,"y":164}`, state[0].Payload)

	f.state.Write(light.State{Cold: 1})
	require.Eventually(t, func() bool {
		return len(f.client.on(f.topics.LightState(deviceID))) == 2
	}, 5*time.Second, time.Millisecond)

	f.stop()
	avail = f.client.on(f.topics.Availability(deviceID))
	assert.Equal(t, PayloadOffline, avail[len(avail)-1].Payload)
	assert.True(t, f.client.disconnected)
}

func TestLightSetUpdatesStateAndRetainedTopic(t *testing.T) {
	f := start(t, ota.NewDescriptor(0, ota.DefaultLabel, ota.StateValid), nil)

	f.client.deliver(t, f.topics.LightSet(deviceID), `{"cold":5,"warm":6,"x":7,"y":8}`)
	assert.Equal(t, light.State{Cold: 5, Warm: 6, X: 7, Y: 8}, f.state.Snapshot())

	require.Eventually(t, func() bool {
		msgs := f.client.on(f.topics.LightState(deviceID))
		return len(msgs) == 2 && strings.Contains(msgs[1].Payload, `"cold":5`)
	}, 5*time.Second, time.Millisecond)

	// Garbage is logged and dropped.
	f.client.deliver(t, f.topics.LightSet(deviceID), `not json`)
	assert.Equal(t, light.State{Cold: 5, Warm: 6, X: 7, Y: 8}, f.state.Snapshot())
}

func TestOTACommandInstallsObject(t *testing.T) {
	img := bytes.Repeat([]byte{0x5A}, 1500)
	f := start(t, ota.NewDescriptor(2, ota.DefaultLabel, ota.StateValid), fakeSource{"v2/light.bin": img})

	f.client.deliver(t, f.topics.OTACommand(deviceID), `{"name":"upgrade-1","object":"v2/light.bin"}`)

	select {
	case <-f.updated:
	case <-time.After(5 * time.Second):
		t.Fatal("update hook not called")
	}
	require.Eventually(t, func() bool { return len(f.statuses(t)) == 3 }, 5*time.Second, time.Millisecond)

	sts := f.statuses(t)
	assert.Equal(t, []Phase{PhaseReceived, PhaseRunning, PhaseSucceeded}, phases(sts))
	assert.Equal(t, "upgrade-1", sts[2].Name)
	assert.Equal(t, img, f.dev.ReadSlot(t, 1, len(img)))

	d, err := f.dev.Store.Read()
	require.NoError(t, err)
	assert.Equal(t, uint32(3), d.Sequence)
	assert.Equal(t, ota.StateNew, d.State)
}

func TestOTACommandFailures(t *testing.T) {
	tests := []struct {
		name    string
		desc    ota.Descriptor
		objects fakeSource
		payload string
		message string
	}{
		{
			name:    "no repository",
			desc:    ota.NewDescriptor(0, ota.DefaultLabel, ota.StateValid),
			payload: `{"name":"c","object":"a.bin"}`,
			message: "no firmware repository",
		},
		{
			name:    "both refs",
			desc:    ota.NewDescriptor(0, ota.DefaultLabel, ota.StateValid),
			objects: fakeSource{},
			payload: `{"name":"c","object":"a.bin","url":"http://x/a.bin"}`,
			message: "both",
		},
		{
			name:    "missing object",
			desc:    ota.NewDescriptor(0, ota.DefaultLabel, ota.StateValid),
			objects: fakeSource{},
			payload: `{"name":"c","object":"a.bin"}`,
			message: "Download failed",
		},
		{
			name:    "pending verify",
			desc:    ota.NewDescriptor(3, ota.DefaultLabel, ota.StatePendingVerify),
			objects: fakeSource{"a.bin": {1, 2, 3}},
			payload: `{"name":"c","object":"a.bin"}`,
			message: ota.ErrPendingVerify.Error(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := start(t, tt.desc, tt.objects)
			f.client.deliver(t, f.topics.OTACommand(deviceID), tt.payload)

			require.Eventually(t, func() bool {
				sts := f.statuses(t)
				return len(sts) > 0 && sts[len(sts)-1].Status == PhaseFailed
			}, 5*time.Second, time.Millisecond)
			sts := f.statuses(t)
			assert.Contains(t, sts[len(sts)-1].Message, tt.message)
			assert.Empty(t, f.updated)
		})
	}
}

func TestAcceptAndReject(t *testing.T) {
	f := start(t, ota.NewDescriptor(4, ota.DefaultLabel, ota.StatePendingVerify), nil)

	f.client.deliver(t, f.topics.OTAAccept(deviceID), "")
	d, err := f.dev.Store.Read()
	require.NoError(t, err)
	assert.Equal(t, ota.StateValid, d.State)

	f.client.deliver(t, f.topics.OTAReject(deviceID), "")
	d, err = f.dev.Store.Read()
	require.NoError(t, err)
	assert.Equal(t, ota.StateInvalid, d.State)

	sts := f.statuses(t)
	require.Len(t, sts, 2)
	assert.Equal(t, "accept", sts[0].Name)
	assert.Equal(t, PhaseSucceeded, sts[0].Status)
	assert.Equal(t, "reject", sts[1].Name)
}

func TestRunReturnsConnectError(t *testing.T) {
	client := newFakeClient()
	client.connectErr = errors.New("refused")
	b, err := New(Config{
		Client:   client,
		Topics:   topic.NewTopicBuilder("lightbringer"),
		DeviceID: deviceID,
		State:    valuesync.New(light.Default(), 1),
	})
	require.NoError(t, err)

	assert.EqualError(t, b.Run(context.Background()), "refused")
	assert.True(t, client.disconnected)
}
