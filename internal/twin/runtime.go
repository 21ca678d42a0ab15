package twin

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/medtwin-core/internal/infrastructure/metrics"
	"github.com/nerrad567/medtwin-core/internal/replica"
	"github.com/nerrad567/medtwin-core/internal/service"
)

// Runtime evaluates one twin's services. A detached runtime serves a
// single replica that belongs to no twin.
//
// Runtimes are cheap views; the service instances they use are shared
// through the Registry cache.
type Runtime struct {
	twin       *Twin
	detachedID string
	services   serviceSet
	replicas   *replica.Store
	notifier   Notifier
	logger     Logger
}

// Twin returns the twin, or nil for a detached runtime.
func (rt *Runtime) Twin() *Twin {
	return rt.twin
}

// Detached reports whether the runtime serves a replica in no twin.
func (rt *Runtime) Detached() bool {
	return rt.twin == nil
}

func (rt *Runtime) twinName() string {
	if rt.twin == nil {
		return ""
	}
	return rt.twin.Name
}

// ListServices returns the attached service names in catalog order.
func (rt *Runtime) ListServices() []string {
	names := make([]string, 0, len(rt.services))
	for _, kind := range service.Catalog() {
		if _, ok := rt.services[kind]; ok {
			names = append(names, string(kind))
		}
	}
	return names
}

// HasService reports whether kind is attached.
func (rt *Runtime) HasService(kind service.Kind) bool {
	_, ok := rt.services[kind]
	return ok
}

// ContainsReplica reports whether the pair is served by this runtime.
func (rt *Runtime) ContainsReplica(replicaType, replicaID string) bool {
	if rt.twin == nil {
		return replicaType == replica.Type && replicaID == rt.detachedID
	}
	return rt.twin.ContainsReplica(replicaType, replicaID)
}

func (rt *Runtime) replicaIDs() []string {
	if rt.twin == nil {
		return []string{rt.detachedID}
	}
	return rt.twin.ReplicaIDs(replica.Type)
}

// Replicas loads the dispensers served by the runtime.
func (rt *Runtime) Replicas(ctx context.Context) ([]replica.Replica, error) {
	return rt.replicas.GetMany(ctx, rt.replicaIDs())
}

func serviceAs[T service.Service](rt *Runtime, kind service.Kind) (T, error) {
	var zero T
	svc, ok := rt.services[kind]
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrServiceNotFound, kind)
	}
	typed, ok := svc.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s has unexpected type %T", ErrServiceNotFound, kind, svc)
	}
	return typed, nil
}

// ExecuteService runs the periodic behaviour of an attached service
// over the runtime's replicas.
func (rt *Runtime) ExecuteService(ctx context.Context, name string, now time.Time) (any, error) {
	svc, ok := rt.services[service.Kind(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	exec, ok := svc.(service.Executor)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotExecutable, name)
	}
	reps, err := rt.Replicas(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading replicas: %w", err)
	}
	return exec.Execute(ctx, service.Input{Replicas: reps, Now: now})
}

// notify delivers msg for replicaID. Delivery problems are logged; the
// event that caused them is already persisted.
func (rt *Runtime) notify(ctx context.Context, replicaID string, alertType string, msg string) {
	metrics.AlertsTotal.WithLabelValues(alertType).Inc()
	if rt.notifier == nil {
		rt.logger.Debug("no notifier configured", "replica_id", replicaID, "alert", alertType)
		return
	}

	var (
		n   int
		err error
	)
	if rt.twin != nil {
		n, err = rt.notifier.NotifyTwin(ctx, rt.twin.ID, msg)
	} else {
		n, err = rt.notifier.NotifyReplicaOwner(ctx, replicaID, msg)
	}
	if err != nil {
		rt.logger.Warn("notification failed", "replica_id", replicaID, "alert", alertType, "error", err)
		return
	}
	rt.logger.Debug("notification sent", "replica_id", replicaID, "alert", alertType, "recipients", n)
}

// =============================================================================
// Device events
// =============================================================================

// Alert type labels for events that are not service alerts.
const (
	alertDoorIrregular = "door_irregular"
	alertEmergency     = "emergency"
)

// HandleDoorEvent classifies and records a door transition and notifies
// when it falls outside the medication window.
func (rt *Runtime) HandleDoorEvent(ctx context.Context, replicaID string, state replica.DoorState, ts time.Time) (service.Classification, error) {
	door, err := serviceAs[*service.DoorEvent](rt, service.KindDoorEvent)
	if err != nil {
		return service.Classification{}, err
	}
	r, err := rt.replicas.Get(ctx, replicaID)
	if err != nil {
		return service.Classification{}, err
	}

	cls := door.Classify(r, state, ts)
	if err := door.RecordEvent(ctx, r, state, ts, cls); err != nil {
		return cls, err
	}
	if !cls.Regular {
		rt.notify(ctx, replicaID, alertDoorIrregular, doorMessage(r, state, ts))
	}
	return cls, nil
}

func doorMessage(r *replica.Replica, state replica.DoorState, ts time.Time) string {
	name := r.Name
	if name == "" {
		name = r.ID
	}
	action := "opened"
	if state == replica.DoorClosed {
		action = "closed"
	}
	if !r.MedicineWindow.IsSet() {
		return fmt.Sprintf("Door %s on %s at %s with no medication window configured.",
			action, name, ts.Format(replica.TimeOfDayLayout))
	}
	return fmt.Sprintf("Door %s on %s at %s outside the medication window %s-%s.",
		action, name, ts.Format(replica.TimeOfDayLayout), r.MedicineWindow.Start, r.MedicineWindow.End)
}

// HandleEmergency records an emergency request and always notifies.
func (rt *Runtime) HandleEmergency(ctx context.Context, replicaID string, ts time.Time) error {
	em, err := serviceAs[*service.EmergencyRequest](rt, service.KindEmergencyRequest)
	if err != nil {
		return err
	}
	r, err := rt.replicas.Get(ctx, replicaID)
	if err != nil {
		return err
	}
	if _, err := em.Trigger(ctx, replicaID, ts); err != nil {
		return err
	}
	rt.notify(ctx, replicaID, alertEmergency, em.Message(r, rt.twinName(), ts))
	return nil
}

// ResolveEmergency clears an active emergency and returns the number of
// requests resolved.
func (rt *Runtime) ResolveEmergency(ctx context.Context, replicaID string, ts time.Time) (int, error) {
	em, err := serviceAs[*service.EmergencyRequest](rt, service.KindEmergencyRequest)
	if err != nil {
		return 0, err
	}
	return em.Resolve(ctx, replicaID, ts)
}

// HandleEnvironmental records a reading and notifies when it is out of
// limits.
func (rt *Runtime) HandleEnvironmental(ctx context.Context, replicaID string, kind replica.ReadingKind, value float64, ts time.Time) (*service.EnvironmentalAlert, error) {
	env, err := serviceAs[*service.EnvironmentalMonitoring](rt, service.KindEnvironmentalMonitoring)
	if err != nil {
		return nil, err
	}
	r, err := rt.replicas.Get(ctx, replicaID)
	if err != nil {
		return nil, err
	}
	alert, err := env.ProcessReading(ctx, r, kind, value, ts)
	if err != nil {
		return nil, err
	}
	if alert != nil {
		a := alert.Alert(r.Name)
		rt.notify(ctx, replicaID, string(a.Type), a.Message())
	}
	return alert, nil
}

// HandleDoseTaken appends the time of day to today's regularity entry.
func (rt *Runtime) HandleDoseTaken(ctx context.Context, replicaID string, ts time.Time) error {
	return rt.replicas.RecordDoseTaken(ctx, replicaID, ts)
}

// Limits returns the effective environmental limits of a replica.
func (rt *Runtime) Limits(ctx context.Context, replicaID string) (service.LimitsView, error) {
	env, err := serviceAs[*service.EnvironmentalMonitoring](rt, service.KindEnvironmentalMonitoring)
	if err != nil {
		return service.LimitsView{}, err
	}
	return env.GetLimits(ctx, replicaID)
}

// SetLimits validates and stores limits for a replica.
func (rt *Runtime) SetLimits(ctx context.Context, replicaID string, kind replica.ReadingKind, min, max float64) error {
	env, err := serviceAs[*service.EnvironmentalMonitoring](rt, service.KindEnvironmentalMonitoring)
	if err != nil {
		return err
	}
	return env.SetLimits(ctx, replicaID, kind, min, max)
}

// UpdateWindow replaces a replica's medication window and resets its
// reminder state.
func (rt *Runtime) UpdateWindow(ctx context.Context, replicaID string, w replica.Window) error {
	if err := rt.replicas.UpdateWindow(ctx, replicaID, w); err != nil {
		return err
	}
	if m, err := serviceAs[*service.MedicationReminder](rt, service.KindMedicationReminder); err == nil {
		m.Reset(replicaID)
	}
	return nil
}

// =============================================================================
// Periodic steps
// =============================================================================

// RunReminders wakes dispensers whose medication window just opened.
func (rt *Runtime) RunReminders(ctx context.Context, now time.Time) ([]service.ReminderResult, error) {
	m, err := serviceAs[*service.MedicationReminder](rt, service.KindMedicationReminder)
	if err != nil {
		return nil, err
	}
	reps, err := rt.Replicas(ctx)
	if err != nil {
		return nil, err
	}
	results := m.RunReminders(ctx, reps, now)
	for _, res := range results {
		outcome := metrics.OutcomeSuccess
		if !res.Sent {
			outcome = metrics.OutcomeFailure
		}
		metrics.RemindersTotal.WithLabelValues(outcome).Inc()
	}
	return results, nil
}

// CheckAdherence raises missed-dose alerts and notifies each new one once.
func (rt *Runtime) CheckAdherence(ctx context.Context, now time.Time) ([]service.Alert, error) {
	m, err := serviceAs[*service.MedicationReminder](rt, service.KindMedicationReminder)
	if err != nil {
		return nil, err
	}
	reps, err := rt.Replicas(ctx)
	if err != nil {
		return nil, err
	}
	alerts, err := m.CheckAdherenceIrregularities(ctx, reps, now)
	rt.notifyMarked(ctx, alerts)
	return alerts, err
}

// CheckStuckDoors reports doors left open and notifies each open
// episode once.
func (rt *Runtime) CheckStuckDoors(ctx context.Context, now time.Time) ([]service.Alert, error) {
	out, err := rt.ExecuteService(ctx, string(service.KindDoorEvent), now)
	if err != nil {
		return nil, err
	}
	alerts, _ := out.([]service.Alert)
	rt.notifyMarked(ctx, alerts)
	return alerts, nil
}

func (rt *Runtime) notifyMarked(ctx context.Context, alerts []service.Alert) {
	for _, a := range alerts {
		if a.Notify {
			rt.notify(ctx, a.ReplicaID, string(a.Type), a.Message())
		}
	}
}

// CheckIrregularities returns the aggregated report without side effects.
func (rt *Runtime) CheckIrregularities(ctx context.Context, now time.Time) (service.Report, error) {
	ia, err := serviceAs[*service.IrregularityAlert](rt, service.KindIrregularityAlert)
	if err != nil {
		return service.Report{}, err
	}
	reps, err := rt.Replicas(ctx)
	if err != nil {
		return service.Report{}, err
	}
	return ia.Check(reps, now), nil
}
