package service

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/medtwin-core/internal/replica"
)

// Report groups the alerts found by one irregularity check.
type Report struct {
	MedicationAlerts    []Alert `json:"medicationAlerts"`
	DoorAlerts          []Alert `json:"doorAlerts"`
	EnvironmentalAlerts []Alert `json:"environmentalAlerts"`
}

// Empty reports whether no alert was found.
func (r Report) Empty() bool {
	return len(r.MedicationAlerts) == 0 && len(r.DoorAlerts) == 0 && len(r.EnvironmentalAlerts) == 0
}

// All returns every alert in report order.
func (r Report) All() []Alert {
	out := make([]Alert, 0, len(r.MedicationAlerts)+len(r.DoorAlerts)+len(r.EnvironmentalAlerts))
	out = append(out, r.MedicationAlerts...)
	out = append(out, r.DoorAlerts...)
	return append(out, r.EnvironmentalAlerts...)
}

// IrregularityAlert aggregates adherence, door and environmental
// conditions into one report. It has no side effects.
type IrregularityAlert struct {
	settings IrregularitySettings
	env      *EnvironmentalMonitoring
}

// NewIrregularityAlert creates the service with default settings.
func NewIrregularityAlert() *IrregularityAlert {
	d := DefaultSettings()
	ia := &IrregularityAlert{
		settings: d.Irregularity,
		env:      NewEnvironmentalMonitoring(Deps{}),
	}
	return ia
}

// Kind implements Service.
func (ia *IrregularityAlert) Kind() Kind { return KindIrregularityAlert }

// Configure implements Service.
func (ia *IrregularityAlert) Configure(s Settings) error {
	irr := s.Irregularity
	if irr.MissedDaysThreshold < 1 || irr.DoorOpenThreshold <= 0 {
		return fmt.Errorf("%w: irregularity threshold=%d door=%v", ErrInvalidSettings, irr.MissedDaysThreshold, irr.DoorOpenThreshold)
	}
	if err := ia.env.Configure(Settings{Environmental: irr.Environmental}); err != nil {
		return err
	}
	ia.settings = irr
	return nil
}

// Check evaluates every replica. Only missed_medication is reported
// among adherence alerts; today's missed dose is owned by the reminder.
func (ia *IrregularityAlert) Check(replicas []replica.Replica, now time.Time) Report {
	var report Report
	for i := range replicas {
		r := &replicas[i]
		if r.Type != "" && r.Type != replica.Type {
			continue
		}

		for _, a := range evaluateAdherence(r, now, ia.settings.MissedDaysThreshold) {
			if a.Type == AlertMissedMedication {
				report.MedicationAlerts = append(report.MedicationAlerts, a)
			}
		}
		if a := checkStuckOpen(r, now, ia.settings.DoorOpenThreshold); a != nil {
			report.DoorAlerts = append(report.DoorAlerts, *a)
		}
		for _, e := range ia.env.LatestAlerts(r) {
			report.EnvironmentalAlerts = append(report.EnvironmentalAlerts, e.Alert(displayName(r)))
		}
	}
	return report
}

// Execute implements Executor.
func (ia *IrregularityAlert) Execute(_ context.Context, in Input) (any, error) {
	return ia.Check(in.Replicas, in.Now), nil
}
