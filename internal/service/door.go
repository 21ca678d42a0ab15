package service

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/nerrad567/medtwin-core/internal/replica"
)

// Classification is the regularity verdict for a door event.
type Classification struct {
	Regular bool               `json:"regular"`
	Reason  replica.DoorReason `json:"reason"`
}

// DoorEvent classifies and records door events and detects doors left
// open. notifiedOpenSince maps a replica to the start of the open
// episode already notified; the entry is evicted when the door is seen
// closed.
type DoorEvent struct {
	replicas *replica.Store
	logger   Logger

	openThreshold time.Duration

	mu                sync.Mutex
	notifiedOpenSince map[string]time.Time
}

// NewDoorEvent creates the service with default settings.
func NewDoorEvent(deps Deps) *DoorEvent {
	d := &DoorEvent{
		replicas:          deps.Replicas,
		logger:            deps.Logger,
		openThreshold:     DefaultSettings().Door.OpenThreshold,
		notifiedOpenSince: make(map[string]time.Time),
	}
	if d.logger == nil {
		d.logger = noopLogger{}
	}
	return d
}

// Kind implements Service.
func (d *DoorEvent) Kind() Kind { return KindDoorEvent }

// Configure implements Service.
func (d *DoorEvent) Configure(s Settings) error {
	if s.Door.OpenThreshold <= 0 {
		return fmt.Errorf("%w: door open threshold %v", ErrInvalidSettings, s.Door.OpenThreshold)
	}
	d.mu.Lock()
	d.openThreshold = s.Door.OpenThreshold
	d.mu.Unlock()
	return nil
}

// Classify decides whether an event at ts falls inside r's medication
// window on ts's day. Without a window the reason is unknown; a
// malformed window yields outside_schedule.
func (d *DoorEvent) Classify(r *replica.Replica, _ replica.DoorState, ts time.Time) Classification {
	if r == nil || !r.MedicineWindow.IsSet() {
		return Classification{Regular: false, Reason: replica.ReasonUnknown}
	}
	start, end, err := r.MedicineWindow.Bounds(ts)
	if err != nil || ts.Before(start) || ts.After(end) {
		return Classification{Regular: false, Reason: replica.ReasonOutsideSchedule}
	}
	return Classification{Regular: true, Reason: replica.ReasonWithinSchedule}
}

// RecordEvent appends the event to the replica's capped log and updates
// its door status. Seeing the door closed ends the notified episode.
func (d *DoorEvent) RecordEvent(ctx context.Context, r *replica.Replica, state replica.DoorState, ts time.Time, cls Classification) error {
	ev := replica.DoorEvent{
		State:     state,
		Timestamp: ts,
		Regular:   cls.Regular,
		Reason:    cls.Reason,
	}
	if err := d.replicas.RecordDoorEvent(ctx, r.ID, ev); err != nil {
		return fmt.Errorf("recording door event for %s: %w", r.ID, err)
	}

	if state == replica.DoorClosed {
		d.forget(r.ID)
	}
	d.logger.Debug("door event recorded", "replica_id", r.ID, "state", state, "regular", cls.Regular)
	return nil
}

// CheckStuckOpen returns a door_open_too_long alert when r's door has
// been open longer than the threshold.
func (d *DoorEvent) CheckStuckOpen(r *replica.Replica, now time.Time) *Alert {
	d.mu.Lock()
	threshold := d.openThreshold
	d.mu.Unlock()
	return checkStuckOpen(r, now, threshold)
}

func checkStuckOpen(r *replica.Replica, now time.Time, threshold time.Duration) *Alert {
	if r.DoorStatus != replica.DoorOpen || r.LastDoorEventAt == nil {
		return nil
	}
	open := now.Sub(*r.LastDoorEventAt)
	if open <= threshold {
		return nil
	}
	return &Alert{
		Type:        AlertDoorOpenTooLong,
		Severity:    SeverityMedium,
		ReplicaID:   r.ID,
		ReplicaName: displayName(r),
		Location:    r.Location,
		MinutesOpen: int(math.Round(open.Minutes())),
		Timestamp:   now,
	}
}

// ShouldNotifyStuck reports whether the current open episode of r has
// not been notified yet, and marks it notified. A closed door clears
// the episode.
func (d *DoorEvent) ShouldNotifyStuck(r *replica.Replica) bool {
	if r.DoorStatus != replica.DoorOpen || r.LastDoorEventAt == nil {
		d.forget(r.ID)
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if since, ok := d.notifiedOpenSince[r.ID]; ok && since.Equal(*r.LastDoorEventAt) {
		return false
	}
	d.notifiedOpenSince[r.ID] = *r.LastDoorEventAt
	return true
}

func (d *DoorEvent) forget(replicaID string) {
	d.mu.Lock()
	delete(d.notifiedOpenSince, replicaID)
	d.mu.Unlock()
}

// Execute implements Executor, returning stuck-open alerts. Alerts for
// episodes not yet notified are marked Notify.
func (d *DoorEvent) Execute(_ context.Context, in Input) (any, error) {
	var alerts []Alert
	for i := range in.Replicas {
		r := &in.Replicas[i]
		a := d.CheckStuckOpen(r, in.Now)
		if a == nil {
			if r.DoorStatus != replica.DoorOpen {
				d.forget(r.ID)
			}
			continue
		}
		a.Notify = d.ShouldNotifyStuck(r)
		alerts = append(alerts, *a)
	}
	return alerts, nil
}
