package replica

import (
	"fmt"
	"time"

	"github.com/nerrad567/medtwin-core/internal/infrastructure/mqtt"
)

const maxNameLength = 100

// ValidateID checks that id can be used as the first level of the
// device's MQTT topics.
func ValidateID(id string) error {
	if !mqtt.ValidDeviceID(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// ValidateWindow checks both bounds parse as HH:MM and start < end on
// the same day.
func ValidateWindow(w Window) error {
	start, err := time.Parse(ClockLayout, w.Start)
	if err != nil {
		return fmt.Errorf("%w: start %q", ErrInvalidWindow, w.Start)
	}
	end, err := time.Parse(ClockLayout, w.End)
	if err != nil {
		return fmt.Errorf("%w: end %q", ErrInvalidWindow, w.End)
	}
	if !start.Before(end) {
		return fmt.Errorf("%w: start %s must be before end %s", ErrInvalidWindow, w.Start, w.End)
	}
	return nil
}

// ValidateReplica checks a replica before it is first stored.
func ValidateReplica(r *Replica) error {
	if r == nil {
		return ErrInvalidReplica
	}
	if err := ValidateID(r.ID); err != nil {
		return err
	}
	if r.OwnerUserID == "" {
		return fmt.Errorf("%w: owner is required", ErrInvalidReplica)
	}
	if len(r.Name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidReplica, maxNameLength)
	}
	if r.DosesPerDay < 1 || r.DosesPerDay > MaxDosesPerDay {
		return fmt.Errorf("%w: dosesPerDay must be between 1 and %d", ErrInvalidReplica, MaxDosesPerDay)
	}
	return ValidateWindow(r.MedicineWindow)
}
