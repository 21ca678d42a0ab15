package service

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/medtwin-core/internal/infrastructure/config"
	"github.com/nerrad567/medtwin-core/internal/replica"
)

// Kind identifies a service in the catalog.
type Kind string

const (
	KindMedicationReminder      Kind = "MedicationReminder"
	KindDoorEvent               Kind = "DoorEvent"
	KindEnvironmentalMonitoring Kind = "EnvironmentalMonitoring"
	KindEmergencyRequest        Kind = "EmergencyRequest"
	KindIrregularityAlert       Kind = "IrregularityAlert"
)

// Catalog returns every kind in the order they are attached to new twins.
func Catalog() []Kind {
	return []Kind{
		KindMedicationReminder,
		KindDoorEvent,
		KindEnvironmentalMonitoring,
		KindEmergencyRequest,
		KindIrregularityAlert,
	}
}

// Valid reports whether k is in the catalog.
func (k Kind) Valid() bool {
	for _, c := range Catalog() {
		if c == k {
			return true
		}
	}
	return false
}

// Service is the common surface of every kind.
type Service interface {
	Kind() Kind
	Configure(Settings) error
}

// Executor is implemented by kinds with periodic behaviour.
type Executor interface {
	Execute(ctx context.Context, in Input) (any, error)
}

// Input is the data a periodic execution works on.
type Input struct {
	Replicas []replica.Replica
	Now      time.Time
}

// Logger defines the logging interface used by services.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// DeviceCommander sends commands to a dispenser.
type DeviceCommander interface {
	Wake(ctx context.Context, replicaID string) error
}

// Deps are the collaborators services are built with.
type Deps struct {
	Replicas *replica.Store
	Devices  DeviceCommander
	Logger   Logger
}

// Settings tunes every kind. Each kind reads its own section.
type Settings struct {
	Reminder      ReminderSettings
	Door          DoorSettings
	Environmental EnvironmentalSettings
	Irregularity  IrregularitySettings
}

// ReminderSettings tunes MedicationReminder.
type ReminderSettings struct {
	Cooldown            time.Duration
	FiringWindow        time.Duration
	MissedDaysThreshold int
}

// DoorSettings tunes DoorEvent.
type DoorSettings struct {
	OpenThreshold time.Duration
}

// EnvironmentalSettings holds the default limits.
type EnvironmentalSettings struct {
	Temperature replica.Limits
	Humidity    replica.Limits
}

// IrregularitySettings tunes IrregularityAlert.
type IrregularitySettings struct {
	MissedDaysThreshold int
	DoorOpenThreshold   time.Duration
	Environmental       EnvironmentalSettings
}

// DefaultSettings returns the built-in tuning.
func DefaultSettings() Settings {
	env := EnvironmentalSettings{
		Temperature: replica.Limits{Min: 18, Max: 30},
		Humidity:    replica.Limits{Min: 30, Max: 70},
	}
	return Settings{
		Reminder: ReminderSettings{
			Cooldown:            time.Hour,
			FiringWindow:        time.Minute,
			MissedDaysThreshold: 1,
		},
		Door:          DoorSettings{OpenThreshold: time.Minute},
		Environmental: env,
		Irregularity: IrregularitySettings{
			MissedDaysThreshold: 2,
			DoorOpenThreshold:   time.Minute,
			Environmental:       env,
		},
	}
}

// SettingsFrom converts the services configuration section.
func SettingsFrom(cfg config.ServicesConfig) Settings {
	env := EnvironmentalSettings{
		Temperature: replica.Limits{Min: cfg.Environmental.TemperatureMin, Max: cfg.Environmental.TemperatureMax},
		Humidity:    replica.Limits{Min: cfg.Environmental.HumidityMin, Max: cfg.Environmental.HumidityMax},
	}
	return Settings{
		Reminder: ReminderSettings{
			Cooldown:            time.Duration(cfg.Reminder.Cooldown) * time.Second,
			FiringWindow:        time.Duration(cfg.Reminder.FiringWindow) * time.Second,
			MissedDaysThreshold: cfg.Reminder.MissedDaysThreshold,
		},
		Door:          DoorSettings{OpenThreshold: time.Duration(cfg.Door.OpenThreshold) * time.Minute},
		Environmental: env,
		Irregularity: IrregularitySettings{
			MissedDaysThreshold: cfg.Irregularity.MissedDaysThreshold,
			DoorOpenThreshold:   time.Duration(cfg.Irregularity.DoorOpenThreshold) * time.Minute,
			Environmental:       env,
		},
	}
}

// New builds and configures a service of the given kind.
func New(kind Kind, deps Deps, settings Settings) (Service, error) {
	if deps.Logger == nil {
		deps.Logger = noopLogger{}
	}

	var svc Service
	switch kind {
	case KindMedicationReminder:
		svc = NewMedicationReminder(deps)
	case KindDoorEvent:
		svc = NewDoorEvent(deps)
	case KindEnvironmentalMonitoring:
		svc = NewEnvironmentalMonitoring(deps)
	case KindEmergencyRequest:
		svc = NewEmergencyRequest(deps)
	case KindIrregularityAlert:
		svc = NewIrregularityAlert()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	if err := svc.Configure(settings); err != nil {
		return nil, fmt.Errorf("configuring %s: %w", kind, err)
	}
	return svc, nil
}
