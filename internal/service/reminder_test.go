package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/medtwin-core/internal/replica"
)

// ===== ShouldRemind =====

func TestShouldRemind_FiringWindow(t *testing.T) {
	tests := []struct {
		name   string
		window replica.Window
		now    time.Time
		want   bool
	}{
		{"at start", replica.Window{Start: "08:00", End: "20:00"}, at(8, 0, 0), true},
		{"60s after start", replica.Window{Start: "08:00", End: "20:00"}, at(8, 1, 0), true},
		{"61s after start", replica.Window{Start: "08:00", End: "20:00"}, at(8, 1, 1), false},
		{"before start", replica.Window{Start: "08:00", End: "20:00"}, at(7, 59, 59), false},
		{"no window", replica.Window{}, at(8, 0, 0), false},
		{"bad window", replica.Window{Start: "8am", End: "20:00"}, at(8, 0, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps, _, _ := newTestDeps(t)
			m := NewMedicationReminder(deps)
			r := replica.New("disp1", "user-1", day)
			r.MedicineWindow = tt.window
			if got := m.ShouldRemind(r, tt.now); got != tt.want {
				t.Errorf("ShouldRemind() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestShouldRemind_Cooldown(t *testing.T) {
	deps, _, devices := newTestDeps(t)
	m := NewMedicationReminder(deps)
	r := replica.New("disp1", "user-1", day)
	ctx := context.Background()

	if !m.ShouldRemind(r, at(8, 0, 0)) {
		t.Fatal("ShouldRemind(first) = false, want true")
	}
	if m.ShouldRemind(r, at(8, 0, 10)) {
		t.Error("ShouldRemind(while reserved) = true, want false")
	}
	if err := m.SendReminder(ctx, r, at(8, 0, 0)); err != nil {
		t.Fatalf("SendReminder() error = %v", err)
	}
	if m.ShouldRemind(r, at(8, 0, 30)) {
		t.Error("ShouldRemind(after send) = true, want false")
	}
	if devices.count() != 1 {
		t.Errorf("wake count = %d, want 1", devices.count())
	}
	if last, ok := m.LastSent("disp1"); !ok || !last.Equal(at(8, 0, 0)) {
		t.Errorf("LastSent() = %v, %v", last, ok)
	}

	// Next day the window opens again and the cooldown has passed.
	if !m.ShouldRemind(r, at(8, 0, 0).AddDate(0, 0, 1)) {
		t.Error("ShouldRemind(next day) = false, want true")
	}
}

func TestSendReminder_FailureAllowsRetry(t *testing.T) {
	deps, _, devices := newTestDeps(t)
	devices.err = errWakeFailed
	m := NewMedicationReminder(deps)
	r := replica.New("disp1", "user-1", day)
	ctx := context.Background()

	if !m.ShouldRemind(r, at(8, 0, 0)) {
		t.Fatal("ShouldRemind() = false, want true")
	}
	if err := m.SendReminder(ctx, r, at(8, 0, 0)); err == nil {
		t.Fatal("SendReminder() error = nil, want failure")
	}
	if _, ok := m.LastSent("disp1"); ok {
		t.Error("LastSent recorded after failed send")
	}

	devices.err = nil
	if !m.ShouldRemind(r, at(8, 0, 30)) {
		t.Fatal("ShouldRemind(retry) = false, want true")
	}
	if err := m.SendReminder(ctx, r, at(8, 0, 30)); err != nil {
		t.Errorf("SendReminder(retry) error = %v", err)
	}
}

func TestRunReminders(t *testing.T) {
	deps, _, devices := newTestDeps(t)
	m := NewMedicationReminder(deps)

	due := *replica.New("due", "user-1", day)
	later := *replica.New("later", "user-1", day)
	later.MedicineWindow = replica.Window{Start: "09:00", End: "10:00"}

	results := m.RunReminders(context.Background(), []replica.Replica{due, later}, at(8, 0, 20))
	if len(results) != 1 || results[0].ReplicaID != "due" || !results[0].Sent {
		t.Errorf("RunReminders() = %+v, want one sent for due", results)
	}
	if devices.count() != 1 {
		t.Errorf("wake count = %d, want 1", devices.count())
	}

	out, err := m.Execute(context.Background(), Input{Replicas: []replica.Replica{due}, Now: at(8, 0, 40)})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := out.([]ReminderResult); len(got) != 0 {
		t.Errorf("Execute() within cooldown = %+v, want none", got)
	}
}

func TestReset(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	m := NewMedicationReminder(deps)
	r := replica.New("disp1", "user-1", day)

	m.ShouldRemind(r, at(8, 0, 0))
	if err := m.SendReminder(context.Background(), r, at(8, 0, 0)); err != nil {
		t.Fatalf("SendReminder() error = %v", err)
	}
	m.Reset("disp1")
	if !m.ShouldRemind(r, at(8, 0, 30)) {
		t.Error("ShouldRemind(after Reset) = false, want true")
	}
}

func TestEvict(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	m := NewMedicationReminder(deps)
	r := replica.New("disp1", "user-1", day)

	m.ShouldRemind(r, at(8, 0, 0))
	m.SendReminder(context.Background(), r, at(8, 0, 0)) //nolint:errcheck // fake never fails here
	m.evict(at(9, 0, 0))

	if _, ok := m.LastSent("disp1"); ok {
		t.Error("lastSent entry kept past the cooldown")
	}
}

// ===== Adherence =====

func TestEvaluateAdherence_MissingDays(t *testing.T) {
	tests := []struct {
		name     string
		doses    []int
		wantDays int
		wantSev  Severity
	}{
		{"all present", []int{1, 2, 3}, 0, ""},
		{"one missing", []int{1, 2}, 1, SeverityMedium},
		{"two missing", []int{3}, 2, SeverityMedium},
		{"all missing", nil, 3, SeverityHigh},
		{"dose four days ago ignored", []int{4}, 3, SeverityHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps, _, _ := newTestDeps(t)
			m := NewMedicationReminder(deps)
			r := replica.New("disp1", "user-1", day)
			withDoses(tt.doses...)(r)

			var found *Alert
			for _, a := range m.EvaluateAdherence(r, at(7, 0, 0)) {
				if a.Type == AlertMissedMedication {
					found = &a
				}
			}
			if tt.wantDays == 0 {
				if found != nil {
					t.Errorf("unexpected alert %+v", found)
				}
				return
			}
			if found == nil {
				t.Fatal("missed_medication alert missing")
			}
			if found.MissingDays != tt.wantDays || found.Severity != tt.wantSev {
				t.Errorf("alert = days %d severity %s, want %d %s", found.MissingDays, found.Severity, tt.wantDays, tt.wantSev)
			}
		})
	}
}

func TestEvaluateAdherence_TodayMissedDose(t *testing.T) {
	window := replica.Window{Start: "08:00", End: "09:00"}
	ev := func(state replica.DoorState, ts time.Time) replica.DoorEvent {
		return replica.DoorEvent{State: state, Timestamp: ts}
	}

	tests := []struct {
		name   string
		events []replica.DoorEvent
		now    time.Time
		want   bool
	}{
		{"window still open", nil, at(8, 30, 0), false},
		{"no events after end", nil, at(9, 0, 1), true},
		{"open and close inside", []replica.DoorEvent{ev(replica.DoorOpen, at(8, 10, 0)), ev(replica.DoorClosed, at(8, 11, 0))}, at(10, 0, 0), false},
		{"close in end minute", []replica.DoorEvent{ev(replica.DoorOpen, at(8, 59, 0)), ev(replica.DoorClosed, at(9, 0, 45))}, at(10, 0, 0), false},
		{"open only", []replica.DoorEvent{ev(replica.DoorOpen, at(8, 10, 0))}, at(10, 0, 0), true},
		{"events outside window", []replica.DoorEvent{ev(replica.DoorOpen, at(7, 0, 0)), ev(replica.DoorClosed, at(9, 30, 0))}, at(10, 0, 0), true},
		{"yesterday's events", []replica.DoorEvent{ev(replica.DoorOpen, at(8, 10, 0).AddDate(0, 0, -1)), ev(replica.DoorClosed, at(8, 11, 0).AddDate(0, 0, -1))}, at(10, 0, 0), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps, _, _ := newTestDeps(t)
			m := NewMedicationReminder(deps)
			r := replica.New("disp1", "user-1", day)
			r.MedicineWindow = window
			r.DoorEvents = tt.events

			got := false
			for _, a := range m.EvaluateAdherence(r, tt.now) {
				if a.Type == AlertTodayMissedDose {
					got = true
					if a.Severity != SeverityHigh || a.ScheduledTime != "08:00 - 09:00" {
						t.Errorf("alert = %+v", a)
					}
				}
			}
			if got != tt.want {
				t.Errorf("today_missed_dose = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCheckAdherenceIrregularities_NotifiesOnce(t *testing.T) {
	deps, store, _ := newTestDeps(t)
	m := NewMedicationReminder(deps)
	ctx := context.Background()
	seedReplica(t, store, "disp1", func(r *replica.Replica) {
		r.MedicineWindow = replica.Window{Start: "08:00", End: "09:00"}
		withDoses(1, 2, 3)(r)
	})

	now := at(10, 0, 0)
	first, err := m.CheckAdherenceIrregularities(ctx, []replica.Replica{*reload(t, store, "disp1")}, now)
	if err != nil {
		t.Fatalf("CheckAdherenceIrregularities() error = %v", err)
	}
	if len(first) != 1 || first[0].Type != AlertTodayMissedDose || !first[0].Notify {
		t.Fatalf("first check = %+v, want one notify-marked today_missed_dose", first)
	}

	// A stale snapshot still lacks the key; the store dedup wins.
	stale := replica.New("disp1", "user-1", day)
	stale.MedicineWindow = replica.Window{Start: "08:00", End: "09:00"}
	withDoses(1, 2, 3)(stale)
	second, err := m.CheckAdherenceIrregularities(ctx, []replica.Replica{*stale}, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("CheckAdherenceIrregularities(repeat) error = %v", err)
	}
	if len(second) != 0 {
		t.Errorf("second check = %+v, want none", second)
	}

	r := reload(t, store, "disp1")
	if !r.HasMissedDoseKey("2026-03-10_08:00_09:00") {
		t.Errorf("dedup keys = %v", r.MissedDoseNotificationKeys)
	}
}

func TestCheckAdherenceIrregularities_ContinuesAfterStoreError(t *testing.T) {
	deps, store, _ := newTestDeps(t)
	m := NewMedicationReminder(deps)
	setup := func(r *replica.Replica) {
		r.MedicineWindow = replica.Window{Start: "08:00", End: "09:00"}
		withDoses(1, 2, 3)(r)
	}
	seedReplica(t, store, "disp1", setup)

	// ghost was never stored, so recording its dedup key fails.
	ghost := replica.New("ghost", "user-1", day)
	setup(ghost)

	alerts, err := m.CheckAdherenceIrregularities(context.Background(),
		[]replica.Replica{*ghost, *reload(t, store, "disp1")}, at(10, 0, 0))
	if !errors.Is(err, replica.ErrNotFound) {
		t.Fatalf("CheckAdherenceIrregularities() error = %v, want ErrNotFound", err)
	}
	if len(alerts) != 1 || alerts[0].ReplicaID != "disp1" || !alerts[0].Notify {
		t.Errorf("alerts = %+v, want one notify-marked alert for disp1", alerts)
	}
}

func TestCheckAdherenceIrregularities_KeepsMissedMedication(t *testing.T) {
	deps, store, _ := newTestDeps(t)
	m := NewMedicationReminder(deps)
	r := seedReplica(t, store, "disp1", func(r *replica.Replica) {
		r.MissedDoseNotificationKeys = []string{"2026-03-10_08:00_20:00"}
	})

	alerts, err := m.CheckAdherenceIrregularities(context.Background(), []replica.Replica{*r}, at(21, 0, 0))
	if err != nil {
		t.Fatalf("CheckAdherenceIrregularities() error = %v", err)
	}
	if len(alerts) != 1 || alerts[0].Type != AlertMissedMedication || alerts[0].Notify {
		t.Errorf("alerts = %+v, want only missed_medication", alerts)
	}
}

func TestMedicationReminder_Configure(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	m := NewMedicationReminder(deps)

	s := DefaultSettings()
	s.Reminder.MissedDaysThreshold = 0
	if err := m.Configure(s); err == nil {
		t.Error("Configure(threshold 0) error = nil, want error")
	}

	s = DefaultSettings()
	s.Reminder.MissedDaysThreshold = 3
	if err := m.Configure(s); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	r := replica.New("disp1", "user-1", day)
	withDoses(1)(r)
	for _, a := range m.EvaluateAdherence(r, at(7, 0, 0)) {
		if a.Type == AlertMissedMedication {
			t.Errorf("alert with 2 missing days under threshold 3: %+v", a)
		}
	}
}
