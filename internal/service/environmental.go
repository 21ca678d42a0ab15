package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/medtwin-core/internal/replica"
)

// Accepted limit bounds.
var (
	temperatureBounds = replica.Limits{Min: -10, Max: 50}
	humidityBounds    = replica.Limits{Min: 0, Max: 100}
)

// Direction is which side of the limits a reading fell on.
type Direction string

const (
	DirectionLow  Direction = "low"
	DirectionHigh Direction = "high"
)

// EnvironmentalAlert reports one out-of-range reading.
type EnvironmentalAlert struct {
	ReplicaID string              `json:"replicaId"`
	Direction Direction           `json:"direction"`
	Kind      replica.ReadingKind `json:"kind"`
	Value     float64             `json:"value"`
	Unit      string              `json:"unit"`
	Limits    replica.Limits      `json:"limits"`
	Timestamp time.Time           `json:"timestamp"`
}

// Alert converts to the generic alert form.
func (e EnvironmentalAlert) Alert(name string) Alert {
	limits := e.Limits
	return Alert{
		Type:        environmentalAlertType(e.Kind, e.Direction),
		Severity:    SeverityMedium,
		ReplicaID:   e.ReplicaID,
		ReplicaName: name,
		Value:       e.Value,
		Unit:        e.Unit,
		Limits:      &limits,
		Timestamp:   e.Timestamp,
	}
}

func environmentalAlertType(kind replica.ReadingKind, dir Direction) AlertType {
	switch {
	case kind == replica.KindTemperature && dir == DirectionLow:
		return AlertLowTemperature
	case kind == replica.KindTemperature:
		return AlertHighTemperature
	case dir == DirectionLow:
		return AlertLowHumidity
	default:
		return AlertHighHumidity
	}
}

// EnvironmentalMonitoring stores readings and checks them against
// per-replica or default limits.
type EnvironmentalMonitoring struct {
	replicas *replica.Store
	logger   Logger

	mu       sync.RWMutex
	defaults EnvironmentalSettings
}

// NewEnvironmentalMonitoring creates the service with default limits.
func NewEnvironmentalMonitoring(deps Deps) *EnvironmentalMonitoring {
	e := &EnvironmentalMonitoring{
		replicas: deps.Replicas,
		logger:   deps.Logger,
		defaults: DefaultSettings().Environmental,
	}
	if e.logger == nil {
		e.logger = noopLogger{}
	}
	return e
}

// Kind implements Service.
func (e *EnvironmentalMonitoring) Kind() Kind { return KindEnvironmentalMonitoring }

// Configure implements Service.
func (e *EnvironmentalMonitoring) Configure(s Settings) error {
	if err := ValidateLimits(replica.KindTemperature, s.Environmental.Temperature); err != nil {
		return err
	}
	if err := ValidateLimits(replica.KindHumidity, s.Environmental.Humidity); err != nil {
		return err
	}
	e.mu.Lock()
	e.defaults = s.Environmental
	e.mu.Unlock()
	return nil
}

// ValidateLimits checks min < max and that both lie within the kind's
// accepted bounds.
func ValidateLimits(kind replica.ReadingKind, l replica.Limits) error {
	var bounds replica.Limits
	switch kind {
	case replica.KindTemperature:
		bounds = temperatureBounds
	case replica.KindHumidity:
		bounds = humidityBounds
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidLimits, kind)
	}
	if l.Min >= l.Max {
		return fmt.Errorf("%w: min %.1f must be below max %.1f", ErrInvalidLimits, l.Min, l.Max)
	}
	if !bounds.Contains(l.Min) || !bounds.Contains(l.Max) {
		return fmt.Errorf("%w: %s limits must lie within [%.0f, %.0f]", ErrInvalidLimits, kind, bounds.Min, bounds.Max)
	}
	return nil
}

func (e *EnvironmentalMonitoring) defaultFor(kind replica.ReadingKind) replica.Limits {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if kind == replica.KindHumidity {
		return e.defaults.Humidity
	}
	return e.defaults.Temperature
}

// check returns an alert if value is outside limits.
func (e *EnvironmentalMonitoring) check(r *replica.Replica, kind replica.ReadingKind, value float64, ts time.Time) *EnvironmentalAlert {
	limits := r.LimitsFor(kind, e.defaultFor(kind))
	var dir Direction
	switch {
	case value < limits.Min:
		dir = DirectionLow
	case value > limits.Max:
		dir = DirectionHigh
	default:
		return nil
	}
	return &EnvironmentalAlert{
		ReplicaID: r.ID,
		Direction: dir,
		Kind:      kind,
		Value:     value,
		Unit:      kind.Unit(),
		Limits:    limits,
		Timestamp: ts,
	}
}

// ProcessReading appends the reading to r's capped log and returns an
// alert if it is out of range.
func (e *EnvironmentalMonitoring) ProcessReading(ctx context.Context, r *replica.Replica, kind replica.ReadingKind, value float64, ts time.Time) (*EnvironmentalAlert, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", replica.ErrInvalidKind, kind)
	}
	reading := replica.Reading{Kind: kind, Value: value, Unit: kind.Unit(), Timestamp: ts}
	if err := e.replicas.AppendReading(ctx, r.ID, reading); err != nil {
		return nil, fmt.Errorf("storing %s reading for %s: %w", kind, r.ID, err)
	}
	return e.check(r, kind, value, ts), nil
}

// LimitsView is the effective limits of a replica.
type LimitsView struct {
	Temperature replica.Limits `json:"temperature"`
	Humidity    replica.Limits `json:"humidity"`
}

// GetLimits returns the effective limits for a replica.
func (e *EnvironmentalMonitoring) GetLimits(ctx context.Context, replicaID string) (LimitsView, error) {
	r, err := e.replicas.Get(ctx, replicaID)
	if err != nil {
		return LimitsView{}, err
	}
	return LimitsView{
		Temperature: r.LimitsFor(replica.KindTemperature, e.defaultFor(replica.KindTemperature)),
		Humidity:    r.LimitsFor(replica.KindHumidity, e.defaultFor(replica.KindHumidity)),
	}, nil
}

// SetLimits validates and stores per-replica limits.
func (e *EnvironmentalMonitoring) SetLimits(ctx context.Context, replicaID string, kind replica.ReadingKind, min, max float64) error {
	l := replica.Limits{Min: min, Max: max}
	if err := ValidateLimits(kind, l); err != nil {
		return err
	}
	return e.replicas.SetLimits(ctx, replicaID, kind, l)
}

// LatestAlerts checks the latest reading of each kind without side effects.
func (e *EnvironmentalMonitoring) LatestAlerts(r *replica.Replica) []EnvironmentalAlert {
	var alerts []EnvironmentalAlert
	for _, kind := range []replica.ReadingKind{replica.KindTemperature, replica.KindHumidity} {
		reading, ok := r.LatestReading(kind)
		if !ok {
			continue
		}
		if a := e.check(r, kind, reading.Value, reading.Timestamp); a != nil {
			alerts = append(alerts, *a)
		}
	}
	return alerts
}
