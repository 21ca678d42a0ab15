package replica

import (
	"time"
)

// Type is the replica type string stored on twins' replica links.
const Type = "dispenser_medicine"

// Collection is the document store collection holding replicas.
const Collection = "replicas"

// Log caps and retention.
const (
	MaxDoorEvents        = 1000
	MaxEnvironmentalData = 1000
	MaxEmergencyRequests = 1000
	MaxDosesPerDay       = 96

	// RegularityRetentionDays is how long per-day dose records are kept.
	RegularityRetentionDays = 90
)

// Time layouts used in stored documents and MQTT payloads.
const (
	DateLayout      = "2006-01-02"
	ClockLayout     = "15:04"
	TimeOfDayLayout = "15:04:05"
)

// Status values.
const (
	StatusActive = "active"

	EmergencyStatusActive   = "active"
	EmergencyStatusResolved = "resolved"
)

// Creation defaults.
const (
	defaultWindowStart  = "08:00"
	defaultWindowEnd    = "20:00"
	defaultDosesPerDay  = 1
	defaultBatteryLevel = 100
	defaultLocation     = "Home"
)

// DoorState is the physical state of the dispenser door.
type DoorState string

const (
	DoorOpen   DoorState = "open"
	DoorClosed DoorState = "closed"
)

// DoorReason explains how a door event was classified.
type DoorReason string

const (
	ReasonWithinSchedule  DoorReason = "within_schedule"
	ReasonOutsideSchedule DoorReason = "outside_schedule"
	ReasonUnknown         DoorReason = "unknown"
)

// ReadingKind identifies an environmental measurement.
type ReadingKind string

const (
	KindTemperature ReadingKind = "temperature"
	KindHumidity    ReadingKind = "humidity"
)

// Unit returns the display unit for the kind.
func (k ReadingKind) Unit() string {
	switch k {
	case KindTemperature:
		return "°C"
	case KindHumidity:
		return "%"
	default:
		return ""
	}
}

// Valid reports whether k is a known kind.
func (k ReadingKind) Valid() bool {
	return k == KindTemperature || k == KindHumidity
}

// Window is the daily medication window as same-day HH:MM bounds.
type Window struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// IsSet reports whether both bounds are present.
func (w Window) IsSet() bool {
	return w.Start != "" && w.End != ""
}

// Key is the dedup suffix used for missed-dose notification keys.
func (w Window) Key() string {
	return w.Start + "_" + w.End
}

// Bounds returns the window's start and end on the calendar day of day,
// in day's location.
func (w Window) Bounds(day time.Time) (start, end time.Time, err error) {
	start, err = AtClock(day, w.Start)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err = AtClock(day, w.End)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

// Limits is an inclusive acceptable range.
type Limits struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether v lies within the limits.
func (l Limits) Contains(v float64) bool {
	return v >= l.Min && v <= l.Max
}

// DoorEvent is one entry of the door log.
type DoorEvent struct {
	State     DoorState  `json:"state"`
	Timestamp time.Time  `json:"timestamp"`
	Regular   bool       `json:"regular"`
	Reason    DoorReason `json:"reason"`
}

// Reading is one entry of the environmental log.
type Reading struct {
	Kind      ReadingKind `json:"kind"`
	Value     float64     `json:"value"`
	Unit      string      `json:"unit"`
	Timestamp time.Time   `json:"timestamp"`
}

// EmergencyRequest is one entry of the emergency log.
type EmergencyRequest struct {
	Timestamp  time.Time  `json:"timestamp"`
	Status     string     `json:"status"`
	ResolvedAt *time.Time `json:"resolvedAt"`
}

// Replica is the stored record of a medicine dispenser.
type Replica struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	OwnerUserID string `json:"ownerUserId"`
	Name        string `json:"name"`

	// Medication
	MedicineName   string `json:"medicineName"`
	Dosage         string `json:"dosage"`
	MedicineWindow Window `json:"medicineWindow"`
	DosesPerDay    int    `json:"dosesPerDay"`

	// Device
	Status       string `json:"status"`
	BatteryLevel int    `json:"batteryLevel"`
	Location     string `json:"location"`

	// Door
	DoorStatus       DoorState   `json:"doorStatus"`
	LastDoorEventAt  *time.Time  `json:"lastDoorEventAt,omitempty"`
	LastEventRegular *bool       `json:"lastEventRegular,omitempty"`
	DoorEvents       []DoorEvent `json:"doorEvents"`

	// Environment
	EnvironmentalData []Reading `json:"environmentalData"`
	TemperatureLimits *Limits   `json:"temperatureLimits,omitempty"`
	HumidityLimits    *Limits   `json:"humidityLimits,omitempty"`

	// Adherence
	Regularity                 map[string][]string `json:"regularity"`
	MissedDoseNotificationKeys []string            `json:"missedDoseNotificationKeys"`

	// Emergency
	EmergencyActive   bool               `json:"emergencyActive"`
	LastEmergencyAt   *time.Time         `json:"lastEmergencyAt,omitempty"`
	EmergencyRequests []EmergencyRequest `json:"emergencyRequests"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// New returns a replica with the dispenser defaults: an 08:00-20:00
// window, one dose a day, full battery and a closed door. Log fields are
// empty rather than nil so stores can append to them.
func New(id, ownerUserID string, now time.Time) *Replica {
	return &Replica{
		ID:                         id,
		Type:                       Type,
		OwnerUserID:                ownerUserID,
		Name:                       id,
		MedicineWindow:             Window{Start: defaultWindowStart, End: defaultWindowEnd},
		DosesPerDay:                defaultDosesPerDay,
		Status:                     StatusActive,
		BatteryLevel:               defaultBatteryLevel,
		Location:                   defaultLocation,
		DoorStatus:                 DoorClosed,
		DoorEvents:                 []DoorEvent{},
		EnvironmentalData:          []Reading{},
		Regularity:                 map[string][]string{},
		MissedDoseNotificationKeys: []string{},
		EmergencyRequests:          []EmergencyRequest{},
		CreatedAt:                  now,
		UpdatedAt:                  now,
	}
}

// LimitsFor returns the configured limits for kind, or def when unset.
func (r *Replica) LimitsFor(kind ReadingKind, def Limits) Limits {
	var l *Limits
	switch kind {
	case KindTemperature:
		l = r.TemperatureLimits
	case KindHumidity:
		l = r.HumidityLimits
	}
	if l == nil {
		return def
	}
	return *l
}

// TakenOn reports whether a dose was recorded on the given date key.
func (r *Replica) TakenOn(date string) bool {
	_, ok := r.Regularity[date]
	return ok
}

// LatestReading returns the most recent reading of kind.
func (r *Replica) LatestReading(kind ReadingKind) (Reading, bool) {
	for i := len(r.EnvironmentalData) - 1; i >= 0; i-- {
		if r.EnvironmentalData[i].Kind == kind {
			return r.EnvironmentalData[i], true
		}
	}
	return Reading{}, false
}

// HasMissedDoseKey reports whether the dedup key is already recorded.
func (r *Replica) HasMissedDoseKey(key string) bool {
	for _, k := range r.MissedDoseNotificationKeys {
		if k == key {
			return true
		}
	}
	return false
}

// DateKey formats t as a regularity date key in t's location.
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}

// MissedDoseKey returns "{date}_{start}_{end}" for the window on day.
func MissedDoseKey(day time.Time, w Window) string {
	return DateKey(day) + "_" + w.Key()
}

// AtClock returns day's calendar date at the HH:MM clock in day's location.
func AtClock(day time.Time, clock string) (time.Time, error) {
	c, err := time.Parse(ClockLayout, clock)
	if err != nil {
		return time.Time{}, ErrInvalidWindow
	}
	y, m, d := day.Date()
	return time.Date(y, m, d, c.Hour(), c.Minute(), 0, 0, day.Location()), nil
}
