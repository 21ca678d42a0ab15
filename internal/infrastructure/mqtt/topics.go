package mqtt

import (
	"fmt"
	"strings"
	"unicode"
)

// Device topic suffixes. Dispensers publish and subscribe on the flat
// scheme {deviceId}/{suffix}.
const (
	SuffixDoor          = "door"
	SuffixEmergency     = "emergency"
	SuffixEnvironmental = "environmental_data"
	SuffixAssoc         = "assoc"
	SuffixTaken         = "taken"
	SuffixNotification  = "notification"
	SuffixMessage       = "message"
)

const (
	// TopicPrefixSystem is the base for medtwin system topics.
	TopicPrefixSystem = "medtwin/system"

	// TopicPrefixOperator is the base for operator notification topics.
	TopicPrefixOperator = "medtwin/operator"

	// TopicAllDevices is the fleet-wide broadcast namespace the firmware listens on.
	TopicAllDevices = "all_devices"

	maxDeviceIDLength = 64
)

// Topics provides builders for medtwin MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.DeviceNotification("disp1") // "disp1/notification"
type Topics struct{}

// =============================================================================
// Device Topics
// =============================================================================

// Device returns {deviceID}/{suffix}.
func (Topics) Device(deviceID, suffix string) string {
	return deviceID + "/" + suffix
}

// DeviceWildcard returns the single-level wildcard for a suffix.
//
// Example: +/door
func (Topics) DeviceWildcard(suffix string) string {
	return "+/" + suffix
}

// DeviceAssoc returns the pairing button topic for a device.
func (t Topics) DeviceAssoc(deviceID string) string {
	return t.Device(deviceID, SuffixAssoc)
}

// DeviceNotification returns the wake/reminder command topic for a device.
func (t Topics) DeviceNotification(deviceID string) string {
	return t.Device(deviceID, SuffixNotification)
}

// DeviceMessage returns the display text topic for a device.
func (t Topics) DeviceMessage(deviceID string) string {
	return t.Device(deviceID, SuffixMessage)
}

// =============================================================================
// Broadcast Topics
// =============================================================================

// LEDStates returns the fleet-wide LED state broadcast topic.
//
// Example: all_devices/led_states
func (Topics) LEDStates() string {
	return TopicAllDevices + "/led_states"
}

// =============================================================================
// Operator Topics
// =============================================================================

// OperatorMessage returns the notification topic for one operator channel.
//
// Example: medtwin/operator/157933243/message
func (Topics) OperatorMessage(operatorID string) string {
	return fmt.Sprintf("%s/%s/message", TopicPrefixOperator, operatorID)
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the retained online/offline status topic.
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// =============================================================================
// Parsing
// =============================================================================

// ParseDeviceTopic splits "{deviceId}/{suffix}" at the first slash.
// ok is false when either part is empty.
func ParseDeviceTopic(topic string) (deviceID, suffix string, ok bool) {
	deviceID, suffix, found := strings.Cut(topic, "/")
	if !found || deviceID == "" || suffix == "" {
		return "", "", false
	}
	return deviceID, suffix, true
}

// ValidDeviceID reports whether id can be used as the first level of a
// device topic: non-empty, bounded, printable and free of MQTT
// separators and wildcards.
func ValidDeviceID(id string) bool {
	if id == "" || len(id) > maxDeviceIDLength {
		return false
	}
	for _, r := range id {
		if r == '/' || r == '+' || r == '#' || unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}
