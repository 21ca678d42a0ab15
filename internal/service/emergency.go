package service

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/medtwin-core/internal/replica"
)

// EmergencyRequest records help requests from the dispenser button.
// Every press is stored and notified; there is no deduplication.
type EmergencyRequest struct {
	replicas *replica.Store
	logger   Logger
}

// NewEmergencyRequest creates the service.
func NewEmergencyRequest(deps Deps) *EmergencyRequest {
	e := &EmergencyRequest{replicas: deps.Replicas, logger: deps.Logger}
	if e.logger == nil {
		e.logger = noopLogger{}
	}
	return e
}

// Kind implements Service.
func (e *EmergencyRequest) Kind() Kind { return KindEmergencyRequest }

// Configure implements Service. The emergency service has no settings.
func (e *EmergencyRequest) Configure(Settings) error { return nil }

// Trigger marks the replica's emergency active and appends the request.
func (e *EmergencyRequest) Trigger(ctx context.Context, replicaID string, ts time.Time) (replica.EmergencyRequest, error) {
	req, err := e.replicas.RecordEmergency(ctx, replicaID, ts)
	if err != nil {
		return replica.EmergencyRequest{}, fmt.Errorf("recording emergency for %s: %w", replicaID, err)
	}
	e.logger.Warn("emergency request", "replica_id", replicaID, "at", ts)
	return req, nil
}

// Resolve clears the emergency and stamps every active request.
func (e *EmergencyRequest) Resolve(ctx context.Context, replicaID string, ts time.Time) (int, error) {
	n, err := e.replicas.ResolveEmergency(ctx, replicaID, ts)
	if err != nil {
		return n, fmt.Errorf("resolving emergency for %s: %w", replicaID, err)
	}
	e.logger.Info("emergency resolved", "replica_id", replicaID, "requests", n)
	return n, nil
}

// Message renders the operator notification for a request.
func (e *EmergencyRequest) Message(r *replica.Replica, twinName string, ts time.Time) string {
	home := twinName
	if home == "" {
		home = "no home"
	}
	return fmt.Sprintf("EMERGENCY: help requested from dispenser %s (%s) at %s. Immediate intervention required.",
		displayName(r), home, ts.Format(replica.TimeOfDayLayout))
}
