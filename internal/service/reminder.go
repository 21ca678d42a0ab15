package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/medtwin-core/internal/replica"
)

// adherenceLookbackDays is the number of days before today checked for doses.
const adherenceLookbackDays = 3

// MedicationReminder wakes dispensers at the start of their medication
// window and detects missed doses.
//
// Reminder state per replica:
//   - lastSent: time of the last successful reminder
//   - pending: a slot reserved by ShouldRemind and not yet committed
//
// Both are evicted once older than the cooldown, and by Reset.
type MedicationReminder struct {
	replicas *replica.Store
	devices  DeviceCommander
	logger   Logger

	cooldown            time.Duration
	firingWindow        time.Duration
	missedDaysThreshold int

	mu       sync.Mutex
	lastSent map[string]time.Time
	pending  map[string]time.Time
}

// NewMedicationReminder creates the service with default settings.
func NewMedicationReminder(deps Deps) *MedicationReminder {
	d := DefaultSettings().Reminder
	m := &MedicationReminder{
		replicas:            deps.Replicas,
		devices:             deps.Devices,
		logger:              deps.Logger,
		cooldown:            d.Cooldown,
		firingWindow:        d.FiringWindow,
		missedDaysThreshold: d.MissedDaysThreshold,
		lastSent:            make(map[string]time.Time),
		pending:             make(map[string]time.Time),
	}
	if m.logger == nil {
		m.logger = noopLogger{}
	}
	return m
}

// Kind implements Service.
func (m *MedicationReminder) Kind() Kind { return KindMedicationReminder }

// Configure implements Service.
func (m *MedicationReminder) Configure(s Settings) error {
	r := s.Reminder
	if r.Cooldown < 0 || r.FiringWindow <= 0 || r.MissedDaysThreshold < 1 {
		return fmt.Errorf("%w: reminder cooldown=%v firingWindow=%v threshold=%d",
			ErrInvalidSettings, r.Cooldown, r.FiringWindow, r.MissedDaysThreshold)
	}
	m.mu.Lock()
	m.cooldown = r.Cooldown
	m.firingWindow = r.FiringWindow
	m.missedDaysThreshold = r.MissedDaysThreshold
	m.mu.Unlock()
	return nil
}

// ShouldRemind reports whether a reminder is due: now lies within the
// firing window after today's window start and nothing was sent or
// reserved within the cooldown. A true result reserves the slot until
// SendReminder commits or releases it.
func (m *MedicationReminder) ShouldRemind(r *replica.Replica, now time.Time) bool {
	if !r.MedicineWindow.IsSet() {
		return false
	}
	start, err := replica.AtClock(now, r.MedicineWindow.Start)
	if err != nil {
		return false
	}
	since := now.Sub(start)
	if since < 0 || since > m.firingWindow {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if last, ok := m.lastSent[r.ID]; ok && now.Sub(last) < m.cooldown {
		return false
	}
	if reserved, ok := m.pending[r.ID]; ok && now.Sub(reserved) < m.cooldown {
		return false
	}
	m.pending[r.ID] = now
	return true
}

// SendReminder publishes the wake command. lastSent is recorded only on
// success; on failure the reservation is released so the next tick
// inside the firing window retries.
func (m *MedicationReminder) SendReminder(ctx context.Context, r *replica.Replica, now time.Time) error {
	err := m.devices.Wake(ctx, r.ID)

	m.mu.Lock()
	delete(m.pending, r.ID)
	if err == nil {
		m.lastSent[r.ID] = now
	}
	m.mu.Unlock()

	if err != nil {
		return fmt.Errorf("sending reminder to %s: %w", r.ID, err)
	}
	m.logger.Info("medication reminder sent", "replica_id", r.ID)
	return nil
}

// ReminderResult reports one reminder attempt.
type ReminderResult struct {
	ReplicaID string `json:"replicaId"`
	Sent      bool   `json:"sent"`
	Error     string `json:"error,omitempty"`
}

// RunReminders evaluates every replica and sends the due reminders.
// A failed send does not stop the others.
func (m *MedicationReminder) RunReminders(ctx context.Context, replicas []replica.Replica, now time.Time) []ReminderResult {
	m.evict(now)

	var results []ReminderResult
	for i := range replicas {
		r := &replicas[i]
		if !m.ShouldRemind(r, now) {
			continue
		}
		res := ReminderResult{ReplicaID: r.ID, Sent: true}
		if err := m.SendReminder(ctx, r, now); err != nil {
			m.logger.Warn("medication reminder failed", "replica_id", r.ID, "error", err)
			res.Sent = false
			res.Error = err.Error()
		}
		results = append(results, res)
	}
	return results
}

// Execute implements Executor by running reminders.
func (m *MedicationReminder) Execute(ctx context.Context, in Input) (any, error) {
	return m.RunReminders(ctx, in.Replicas, in.Now), nil
}

// Reset forgets reminder state for a replica, used when its window changes.
func (m *MedicationReminder) Reset(replicaID string) {
	m.mu.Lock()
	delete(m.lastSent, replicaID)
	delete(m.pending, replicaID)
	m.mu.Unlock()
}

// LastSent returns the last successful reminder time for a replica.
func (m *MedicationReminder) LastSent(replicaID string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.lastSent[replicaID]
	return t, ok
}

// Restore records a reminder sent elsewhere for a replica, keeping the
// later time when one is already held.
func (m *MedicationReminder) Restore(replicaID string, sent time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if last, ok := m.lastSent[replicaID]; !ok || sent.After(last) {
		m.lastSent[replicaID] = sent
	}
}

func (m *MedicationReminder) evict(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.lastSent {
		if now.Sub(t) >= m.cooldown {
			delete(m.lastSent, id)
		}
	}
	for id, t := range m.pending {
		if now.Sub(t) >= m.cooldown {
			delete(m.pending, id)
		}
	}
}

// EvaluateAdherence returns the adherence alerts for r without side
// effects. today_missed_dose is reported whenever today's window has
// passed without a complete open/close cycle.
func (m *MedicationReminder) EvaluateAdherence(r *replica.Replica, now time.Time) []Alert {
	m.mu.Lock()
	threshold := m.missedDaysThreshold
	m.mu.Unlock()
	return evaluateAdherence(r, now, threshold)
}

func evaluateAdherence(r *replica.Replica, now time.Time, threshold int) []Alert {
	var alerts []Alert

	if missing := missingDays(r, now); missing >= threshold {
		sev := SeverityMedium
		if missing >= adherenceLookbackDays {
			sev = SeverityHigh
		}
		alerts = append(alerts, Alert{
			Type:        AlertMissedMedication,
			Severity:    sev,
			ReplicaID:   r.ID,
			ReplicaName: displayName(r),
			MissingDays: missing,
			Timestamp:   now,
		})
	}

	if missedToday(r, now) {
		alerts = append(alerts, Alert{
			Type:          AlertTodayMissedDose,
			Severity:      SeverityHigh,
			ReplicaID:     r.ID,
			ReplicaName:   displayName(r),
			ScheduledTime: r.MedicineWindow.Start + " - " + r.MedicineWindow.End,
			Timestamp:     now,
		})
	}
	return alerts
}

// missingDays counts the days among the last three before today with no
// regularity entry.
func missingDays(r *replica.Replica, now time.Time) int {
	missing := 0
	for i := 1; i <= adherenceLookbackDays; i++ {
		if !r.TakenOn(replica.DateKey(now.AddDate(0, 0, -i))) {
			missing++
		}
	}
	return missing
}

// missedToday reports whether today's window has ended without both an
// open and a closed door event inside it. Events are compared at minute
// resolution so the whole end minute counts.
func missedToday(r *replica.Replica, now time.Time) bool {
	if !r.MedicineWindow.IsSet() {
		return false
	}
	start, end, err := r.MedicineWindow.Bounds(now)
	if err != nil || !now.After(end) {
		return false
	}

	var opened, closed bool
	for _, ev := range r.DoorEvents {
		ts := ev.Timestamp.In(now.Location()).Truncate(time.Minute)
		if ts.Before(start) || ts.After(end) {
			continue
		}
		switch ev.State {
		case replica.DoorOpen:
			opened = true
		case replica.DoorClosed:
			closed = true
		}
	}
	return !(opened && closed)
}

// CheckAdherenceIrregularities evaluates every replica. For a missed
// dose today it first records the dedup key atomically; only a newly
// added key yields a today_missed_dose alert, marked for notification,
// so concurrent or repeated checks notify exactly once per day and
// window. A store failure on one replica does not stop the others; the
// failures are joined into the returned error.
func (m *MedicationReminder) CheckAdherenceIrregularities(ctx context.Context, replicas []replica.Replica, now time.Time) ([]Alert, error) {
	var (
		alerts []Alert
		errs   []error
	)
	for i := range replicas {
		r := &replicas[i]
		for _, a := range m.EvaluateAdherence(r, now) {
			if a.Type != AlertTodayMissedDose {
				alerts = append(alerts, a)
				continue
			}

			key := replica.MissedDoseKey(now, r.MedicineWindow)
			if r.HasMissedDoseKey(key) {
				continue
			}
			added, err := m.replicas.AddMissedDoseKey(ctx, r.ID, key)
			if err != nil {
				errs = append(errs, fmt.Errorf("recording missed dose for %s: %w", r.ID, err))
				continue
			}
			if !added {
				continue
			}
			a.Notify = true
			alerts = append(alerts, a)
		}
	}
	return alerts, errors.Join(errs...)
}
