// Package replica provides the Device Replica model for medtwin-core.
//
// A replica is the server-side record of one physical medicine
// dispenser: its medication window, door history, environmental
// readings, dose regularity and emergency log. Replicas are created by
// the pairing handshake, linked to at most one twin, and updated by the
// ingestion router and the domain services.
//
// # Bounded Logs
//
// The door, environmental and emergency logs are FIFO arrays capped at
// 1000 entries. Every append goes through docstore.Store.PushCapped, so
// appends and trims happen as one atomic store operation and concurrent
// writers never lose entries.
//
// # Regularity
//
// Doses reported by the legacy "taken" pulse are recorded per calendar
// day (fleet timezone) as a map of "2006-01-02" to times of day. Days
// older than 90 days are pruned on write.
//
// # Usage
//
//	store := replica.NewStore(docs)
//	r, err := store.Get(ctx, "disp1")
//	if errors.Is(err, replica.ErrNotFound) {
//	    // unknown dispenser
//	}
//	err = store.AppendDoorEvent(ctx, r.ID, replica.DoorEvent{
//	    State:     replica.DoorOpen,
//	    Timestamp: now,
//	    Regular:   true,
//	    Reason:    replica.ReasonWithinSchedule,
//	})
package replica
