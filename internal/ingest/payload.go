package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/medtwin-core/internal/replica"
)

// ErrMalformed is returned for payloads that cannot be interpreted.
var ErrMalformed = errors.New("ingest: malformed payload")

// pulsePayload is the single-character payload of button topics.
const pulsePayload = "1"

// doorPayload is published on {id}/door.
type doorPayload struct {
	Door *int   `json:"door"`
	Time string `json:"time"`
}

// environmentalPayload is published on {id}/environmental_data.
type environmentalPayload struct {
	Temperature *float64 `json:"avg_temperature"`
	Humidity    *float64 `json:"avg_humidity"`
	Time        string   `json:"time"`
}

func parseDoor(payload []byte) (replica.DoorState, string, error) {
	var p doorPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if p.Door == nil {
		return "", "", fmt.Errorf("%w: door value missing", ErrMalformed)
	}
	switch *p.Door {
	case 1:
		return replica.DoorOpen, p.Time, nil
	case 0:
		return replica.DoorClosed, p.Time, nil
	default:
		return "", "", fmt.Errorf("%w: door value %d", ErrMalformed, *p.Door)
	}
}

func parseEnvironmental(payload []byte) (environmentalPayload, error) {
	var p environmentalPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return p, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return p, nil
}

func isPulse(payload []byte) bool {
	return strings.TrimSpace(string(payload)) == pulsePayload
}

// eventTime combines a device "HH:MM:SS" with the receipt day in loc.
// An empty or unparsable clock falls back to the receipt time.
func eventTime(clock string, received time.Time, loc *time.Location) time.Time {
	received = received.In(loc)
	if clock == "" {
		return received
	}
	tod, err := time.Parse(replica.TimeOfDayLayout, strings.TrimSpace(clock))
	if err != nil {
		return received
	}
	y, m, d := received.Date()
	return time.Date(y, m, d, tod.Hour(), tod.Minute(), tod.Second(), 0, loc)
}
