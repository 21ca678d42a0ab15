package service

import (
	"fmt"
	"time"

	"github.com/nerrad567/medtwin-core/internal/replica"
)

// Severity ranks an alert.
type Severity string

const (
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// AlertType names the condition an alert reports.
type AlertType string

const (
	AlertMissedMedication AlertType = "missed_medication"
	AlertTodayMissedDose  AlertType = "today_missed_dose"
	AlertDoorOpenTooLong  AlertType = "door_open_too_long"
	AlertLowTemperature   AlertType = "low_temperature"
	AlertHighTemperature  AlertType = "high_temperature"
	AlertLowHumidity      AlertType = "low_humidity"
	AlertHighHumidity     AlertType = "high_humidity"
)

// Alert is one detected irregularity.
type Alert struct {
	Type        AlertType `json:"type"`
	Severity    Severity  `json:"severity"`
	ReplicaID   string    `json:"replicaId"`
	ReplicaName string    `json:"replicaName"`
	Timestamp   time.Time `json:"timestamp"`

	// MissingDays is set on missed_medication.
	MissingDays int `json:"missingDays,omitempty"`

	// ScheduledTime is "HH:MM - HH:MM" on today_missed_dose.
	ScheduledTime string `json:"scheduledTime,omitempty"`

	// MinutesOpen and Location are set on door_open_too_long.
	MinutesOpen int    `json:"minutesOpen,omitempty"`
	Location    string `json:"location,omitempty"`

	// Value, Unit and Limits are set on environmental alerts.
	Value  float64         `json:"value,omitempty"`
	Unit   string          `json:"unit,omitempty"`
	Limits *replica.Limits `json:"limits,omitempty"`

	// Notify marks the alert for exactly one notification.
	Notify bool `json:"notify,omitempty"`
}

// Message renders the operator notification text.
func (a Alert) Message() string {
	name := a.ReplicaName
	if name == "" {
		name = a.ReplicaID
	}
	switch a.Type {
	case AlertMissedMedication:
		return fmt.Sprintf("Missed medication: %s has no recorded dose on %d of the last 3 days.", name, a.MissingDays)
	case AlertTodayMissedDose:
		return fmt.Sprintf("Missed dose: %s was not opened and closed during today's window %s.", name, a.ScheduledTime)
	case AlertDoorOpenTooLong:
		return fmt.Sprintf("Door open: %s (%s) has been open for %d minutes.", name, a.Location, a.MinutesOpen)
	case AlertLowTemperature, AlertHighTemperature, AlertLowHumidity, AlertHighHumidity:
		return fmt.Sprintf("Environment: %s reads %.1f%s, outside %.1f-%.1f%s.",
			name, a.Value, a.Unit, a.Limits.Min, a.Limits.Max, a.Unit)
	default:
		return fmt.Sprintf("Alert %s on %s.", a.Type, name)
	}
}

func displayName(r *replica.Replica) string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID
}
