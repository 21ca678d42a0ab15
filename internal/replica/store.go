package replica

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/medtwin-core/internal/docstore"
)

// Store persists replicas in a docstore.Store. Log appends and dedup
// keys use the store's atomic array operations; scalar fields use merge
// patches.
type Store struct {
	docs docstore.Store
	now  func() time.Time
}

// NewStore creates a replica store.
func NewStore(docs docstore.Store) *Store {
	return &Store{docs: docs, now: time.Now}
}

func mapErr(err error) error {
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, docstore.ErrConflict):
		return ErrExists
	default:
		return err
	}
}

// Create stores a new replica. Returns ErrExists if the ID is taken.
func (s *Store) Create(ctx context.Context, r *Replica) error {
	if err := ValidateReplica(r); err != nil {
		return err
	}
	if err := s.docs.Save(ctx, Collection, r.ID, r); err != nil {
		return mapErr(err)
	}
	return nil
}

// Exists reports whether a replica with id is stored.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	_, err := s.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Get returns a replica. Returns ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Replica, error) {
	var r Replica
	if err := s.docs.Get(ctx, Collection, id, &r); err != nil {
		return nil, mapErr(err)
	}
	return &r, nil
}

// List returns all replicas ordered by ID.
func (s *Store) List(ctx context.Context) ([]Replica, error) {
	var out []Replica
	if err := s.docs.Query(ctx, Collection, docstore.Filter{}, &out); err != nil {
		return nil, fmt.Errorf("listing replicas: %w", err)
	}
	return out, nil
}

// ListByOwner returns the replicas owned by a user.
func (s *Store) ListByOwner(ctx context.Context, ownerUserID string) ([]Replica, error) {
	var out []Replica
	filter := docstore.Filter{Eq: map[string]any{"ownerUserId": ownerUserID}}
	if err := s.docs.Query(ctx, Collection, filter, &out); err != nil {
		return nil, fmt.Errorf("listing replicas for owner: %w", err)
	}
	return out, nil
}

// GetMany loads the given replicas, skipping IDs that no longer exist.
func (s *Store) GetMany(ctx context.Context, ids []string) ([]Replica, error) {
	out := make([]Replica, 0, len(ids))
	for _, id := range ids {
		r, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, nil
}

// Delete removes a replica. Callers unlink it from twins first.
func (s *Store) Delete(ctx context.Context, id string) error {
	return mapErr(s.docs.Delete(ctx, Collection, id))
}

func (s *Store) patch(ctx context.Context, id string, fields map[string]any) error {
	fields["updatedAt"] = s.now()
	return mapErr(s.docs.Update(ctx, Collection, id, fields))
}

// UpdateWindow replaces the medication window.
func (s *Store) UpdateWindow(ctx context.Context, id string, w Window) error {
	if err := ValidateWindow(w); err != nil {
		return err
	}
	return s.patch(ctx, id, map[string]any{"medicineWindow": w})
}

// SetLimits stores per-replica limits for an environmental kind. Range
// checks belong to the environmental service.
func (s *Store) SetLimits(ctx context.Context, id string, kind ReadingKind, l Limits) error {
	var field string
	switch kind {
	case KindTemperature:
		field = "temperatureLimits"
	case KindHumidity:
		field = "humidityLimits"
	default:
		return fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	return s.patch(ctx, id, map[string]any{field: l})
}

// RecordDoorEvent appends to the door log and updates the door status
// fields.
func (s *Store) RecordDoorEvent(ctx context.Context, id string, ev DoorEvent) error {
	if err := s.docs.PushCapped(ctx, Collection, id, "doorEvents", ev, MaxDoorEvents); err != nil {
		return mapErr(err)
	}
	return s.patch(ctx, id, map[string]any{
		"doorStatus":       ev.State,
		"lastDoorEventAt":  ev.Timestamp,
		"lastEventRegular": ev.Regular,
	})
}

// AppendReading appends to the shared environmental log.
func (s *Store) AppendReading(ctx context.Context, id string, reading Reading) error {
	if !reading.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, reading.Kind)
	}
	if reading.Unit == "" {
		reading.Unit = reading.Kind.Unit()
	}
	return mapErr(s.docs.PushCapped(ctx, Collection, id, "environmentalData", reading, MaxEnvironmentalData))
}

// RecordEmergency appends an active request and raises the emergency flag.
func (s *Store) RecordEmergency(ctx context.Context, id string, ts time.Time) (EmergencyRequest, error) {
	req := EmergencyRequest{Timestamp: ts, Status: EmergencyStatusActive}
	if err := s.docs.PushCapped(ctx, Collection, id, "emergencyRequests", req, MaxEmergencyRequests); err != nil {
		return EmergencyRequest{}, mapErr(err)
	}
	if err := s.patch(ctx, id, map[string]any{
		"emergencyActive": true,
		"lastEmergencyAt": ts,
	}); err != nil {
		return EmergencyRequest{}, err
	}
	return req, nil
}

// ResolveEmergency stamps resolvedAt on every active request and clears
// the emergency flag. Each request is moved with an atomic pull and
// push, so requests arriving meanwhile are not lost. It returns the
// number of requests resolved.
func (s *Store) ResolveEmergency(ctx context.Context, id string, ts time.Time) (int, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, req := range r.EmergencyRequests {
		if req.Status != EmergencyStatusActive {
			continue
		}
		removed, err := s.docs.Pull(ctx, Collection, id, "emergencyRequests", map[string]any{
			"timestamp": req.Timestamp,
			"status":    EmergencyStatusActive,
		})
		if err != nil {
			return resolved, mapErr(err)
		}
		if !removed {
			continue
		}
		req.Status = EmergencyStatusResolved
		req.ResolvedAt = &ts
		if err := s.docs.PushCapped(ctx, Collection, id, "emergencyRequests", req, MaxEmergencyRequests); err != nil {
			return resolved, mapErr(err)
		}
		resolved++
	}

	if err := s.patch(ctx, id, map[string]any{"emergencyActive": false}); err != nil {
		return resolved, err
	}
	return resolved, nil
}

// RecordDoseTaken appends the time of day to ts's regularity entry and
// prunes entries older than the retention window.
func (s *Store) RecordDoseTaken(ctx context.Context, id string, ts time.Time) error {
	field := "regularity." + DateKey(ts)
	if err := s.docs.PushCapped(ctx, Collection, id, field, ts.Format(TimeOfDayLayout), MaxDosesPerDay); err != nil {
		return mapErr(err)
	}

	r, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	cutoff := DateKey(ts.AddDate(0, 0, -RegularityRetentionDays))
	stale := make(map[string]any)
	for date := range r.Regularity {
		if date < cutoff {
			stale[date] = nil
		}
	}
	if len(stale) == 0 {
		return nil
	}
	return s.patch(ctx, id, map[string]any{"regularity": stale})
}

// AddMissedDoseKey records a dedup key. It reports whether the key was
// new, which callers use to notify exactly once per day and window.
// Keys dated more than RegularityRetentionDays before key are dropped
// first, matching the regularity retention.
func (s *Store) AddMissedDoseKey(ctx context.Context, id, key string) (bool, error) {
	if err := s.pruneMissedDoseKeys(ctx, id, key); err != nil {
		return false, err
	}
	added, err := s.docs.AddToSet(ctx, Collection, id, "missedDoseNotificationKeys", key)
	if err != nil {
		return false, mapErr(err)
	}
	return added, nil
}

func (s *Store) pruneMissedDoseKeys(ctx context.Context, id, key string) error {
	day, ok := missedDoseKeyDate(key)
	if !ok {
		return nil
	}
	r, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	cutoff := DateKey(day.AddDate(0, 0, -RegularityRetentionDays))
	for _, k := range r.MissedDoseNotificationKeys {
		if d, ok := missedDoseKeyDate(k); ok && DateKey(d) < cutoff {
			if _, err := s.docs.Pull(ctx, Collection, id, "missedDoseNotificationKeys", k); err != nil {
				return mapErr(err)
			}
		}
	}
	return nil
}

// missedDoseKeyDate parses the date prefix of a MissedDoseKey.
func missedDoseKeyDate(key string) (time.Time, bool) {
	if len(key) < len(DateLayout) {
		return time.Time{}, false
	}
	d, err := time.Parse(DateLayout, key[:len(DateLayout)])
	return d, err == nil
}
