package topic

import (
	"strings"
)

// Topic segments shared by every device and the tools that talk to it.
// Changing them breaks existing dashboards and automations.
const (
	// SuffixLightState carries the retained light state (device -> broker).
	SuffixLightState = "light/state"

	// SuffixLightSet sets the light state (broker -> device).
	SuffixLightSet = "light/set"

	// SuffixOTACommand requests an update (broker -> device).
	SuffixOTACommand = "ota/command"

	// SuffixOTAStatus reports command progress (device -> broker).
	SuffixOTAStatus = "ota/status"

	// SuffixOTAAccept confirms the running image (broker -> device).
	SuffixOTAAccept = "ota/accept"

	// SuffixOTAReject marks the running image broken (broker -> device).
	SuffixOTAReject = "ota/reject"

	// SuffixAvailability carries "online" or the "offline" will (device -> broker).
	SuffixAvailability = "availability"
)

// Wildcard is the MQTT single-level wildcard; it stands in for the device
// segment when a tool follows every device.
const Wildcard = "+"

// TopicBuilder constructs topic strings of the form {root}/{deviceID}/{suffix}.
type TopicBuilder struct {
	// root is the base namespace for all topics (e.g. "lightbringer").
	root string
}

// NewTopicBuilder creates a builder under the given root namespace.
func NewTopicBuilder(root string) *TopicBuilder {
	return &TopicBuilder{root: strings.TrimSuffix(root, "/")}
}

// LightState is the retained state topic of a device.
func (b *TopicBuilder) LightState(deviceID string) string {
	return b.build(deviceID, SuffixLightState)
}

// LightStateWildcard matches the state topic of every device.
func (b *TopicBuilder) LightStateWildcard() string {
	return b.build(Wildcard, SuffixLightState)
}

// LightSet is the topic a device takes new light states from.
func (b *TopicBuilder) LightSet(deviceID string) string {
	return b.build(deviceID, SuffixLightSet)
}

// OTACommand is the topic a device takes update commands from.
func (b *TopicBuilder) OTACommand(deviceID string) string {
	return b.build(deviceID, SuffixOTACommand)
}

// OTAStatus is the topic a device reports command progress on.
func (b *TopicBuilder) OTAStatus(deviceID string) string {
	return b.build(deviceID, SuffixOTAStatus)
}

// OTAStatusWildcard matches the status topic of every device.
func (b *TopicBuilder) OTAStatusWildcard() string {
	return b.build(Wildcard, SuffixOTAStatus)
}

// OTAAccept is the topic that confirms a device's running image.
func (b *TopicBuilder) OTAAccept(deviceID string) string {
	return b.build(deviceID, SuffixOTAAccept)
}

// OTAReject is the topic that marks a device's running image broken.
func (b *TopicBuilder) OTAReject(deviceID string) string {
	return b.build(deviceID, SuffixOTAReject)
}

// Availability is the online/offline topic of a device.
func (b *TopicBuilder) Availability(deviceID string) string {
	return b.build(deviceID, SuffixAvailability)
}

// DeviceID extracts the device segment from a topic built by b. It returns
// false for topics outside the root.
func (b *TopicBuilder) DeviceID(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, b.root+"/")
	if !ok {
		return "", false
	}
	id, _, ok := strings.Cut(rest, "/")
	return id, ok && id != ""
}

func (b *TopicBuilder) build(deviceID, suffix string) string {
	return b.root + "/" + deviceID + "/" + suffix
}
