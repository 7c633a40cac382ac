package mqtt

import "fmt"

// Topic prefixes for the device topic hierarchy.
//
//	/up/device/id/{deviceId}                 device → broker telemetry
//	/down/device/id/{deviceId}/commands      broker → device commands
//	/down/device/id/{deviceId}/config        broker → device configuration
const (
	// TopicPrefixUp is the base for all uplink topics.
	TopicPrefixUp = "/up/device/id"

	// TopicPrefixDown is the base for all downlink topics.
	TopicPrefixDown = "/down/device/id"
)

// Topics provides builders for device MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	topics.Uplink("dev-1")   // "/up/device/id/dev-1"
//	topics.Commands("dev-1") // "/down/device/id/dev-1/commands"
type Topics struct{}

// Uplink returns the telemetry topic a device publishes to.
//
// Example: /up/device/id/dev-1
func (Topics) Uplink(deviceID string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixUp, deviceID)
}

// Commands returns the topic a device receives commands on.
//
// Example: /down/device/id/dev-1/commands
func (Topics) Commands(deviceID string) string {
	return fmt.Sprintf("%s/%s/commands", TopicPrefixDown, deviceID)
}

// Config returns the topic a device receives configuration on.
//
// Example: /down/device/id/dev-1/config
func (Topics) Config(deviceID string) string {
	return fmt.Sprintf("%s/%s/config", TopicPrefixDown, deviceID)
}

// Downlinks returns every downlink topic in subscription order
// (config first, then commands).
func (t Topics) Downlinks(deviceID string) []string {
	return []string{t.Config(deviceID), t.Commands(deviceID)}
}
