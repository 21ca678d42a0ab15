// Package devicecmd sends commands to dispensers over MQTT.
//
// Commands use the flat device topic scheme the firmware subscribes to:
//
//	{deviceId}/notification   "1" wakes the dispenser (medication reminder)
//	{deviceId}/message        free text shown on the display
//	all_devices/led_states    fleet-wide LED state broadcast
package devicecmd

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/nerrad567/medtwin-core/internal/infrastructure/mqtt"
)

// wakePayload is the reminder command understood by the firmware.
const wakePayload = "1"

// maxDisplayLength bounds display text in characters.
const maxDisplayLength = 256

var (
	// ErrInvalidDevice is returned for an ID that is not a valid topic level.
	ErrInvalidDevice = errors.New("devicecmd: invalid device id")

	// ErrInvalidText is returned for empty or oversized display text.
	ErrInvalidText = errors.New("devicecmd: invalid text")
)

// Publisher is the part of the MQTT client the commander needs.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Commander publishes device commands.
type Commander struct {
	pub    Publisher
	qos    byte
	topics mqtt.Topics
}

// New creates a Commander publishing at qos.
func New(pub Publisher, qos byte) *Commander {
	return &Commander{pub: pub, qos: qos}
}

func (c *Commander) publish(ctx context.Context, topic, payload string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.pub.Publish(topic, []byte(payload), c.qos, false); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

// Wake publishes the reminder command to a dispenser.
func (c *Commander) Wake(ctx context.Context, deviceID string) error {
	if !mqtt.ValidDeviceID(deviceID) {
		return fmt.Errorf("%w: %q", ErrInvalidDevice, deviceID)
	}
	return c.publish(ctx, c.topics.DeviceNotification(deviceID), wakePayload)
}

// Display shows text on a dispenser.
func (c *Commander) Display(ctx context.Context, deviceID, text string) error {
	if !mqtt.ValidDeviceID(deviceID) {
		return fmt.Errorf("%w: %q", ErrInvalidDevice, deviceID)
	}
	if text == "" || utf8.RuneCountInString(text) > maxDisplayLength {
		return fmt.Errorf("%w: must be 1-%d characters", ErrInvalidText, maxDisplayLength)
	}
	return c.publish(ctx, c.topics.DeviceMessage(deviceID), text)
}

// BroadcastLEDStates publishes an LED state string to every dispenser.
func (c *Commander) BroadcastLEDStates(ctx context.Context, states string) error {
	if states == "" || len(states) > maxDisplayLength {
		return fmt.Errorf("%w: led states must be 1-%d bytes", ErrInvalidText, maxDisplayLength)
	}
	return c.publish(ctx, c.topics.LEDStates(), states)
}
