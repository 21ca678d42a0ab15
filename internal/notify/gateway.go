package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/medtwin-core/internal/infrastructure/metrics"
)

// Path records which resolution step produced the recipients.
type Path string

const (
	PathActive   Path = "active"
	PathOwner    Path = "owner"
	PathFallback Path = "fallback"
)

// Transport sends a text message to one operator channel.
type Transport interface {
	SendMessage(ctx context.Context, operatorID, text string) error
}

// Audience is what the Gateway needs to know about a twin.
type Audience struct {
	OwnerUserID     string
	ActiveOperators []string
}

// Directory answers recipient lookups. The twin registry implements it.
type Directory interface {
	// TwinAudience returns the twin's owner and active operators.
	TwinAudience(ctx context.Context, twinID string) (Audience, error)

	// OwnerAudience returns the sorted union of active operators across
	// the owner's twins other than excludeTwinID.
	OwnerAudience(ctx context.Context, ownerUserID, excludeTwinID string) ([]string, error)

	// ReplicaOwner returns the owner user id of a replica.
	ReplicaOwner(ctx context.Context, replicaID string) (string, error)
}

// Logger defines the logging interface used by the Gateway.
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

// Gateway resolves recipients and delivers notifications.
type Gateway struct {
	dir        Directory
	transport  Transport
	fallbackID string
	logger     Logger
}

// NewGateway creates a Gateway. fallbackOperatorID may be empty.
func NewGateway(dir Directory, transport Transport, fallbackOperatorID string) *Gateway {
	return &Gateway{
		dir:        dir,
		transport:  transport,
		fallbackID: fallbackOperatorID,
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger.
func (g *Gateway) SetLogger(logger Logger) {
	g.logger = logger
}

// ResolveTwinRecipients applies the fallback chain for a twin.
func (g *Gateway) ResolveTwinRecipients(ctx context.Context, twinID string) ([]string, Path, error) {
	aud, err := g.dir.TwinAudience(ctx, twinID)
	if err != nil {
		return nil, "", fmt.Errorf("resolving twin %s: %w", twinID, err)
	}
	if len(aud.ActiveOperators) > 0 {
		return aud.ActiveOperators, PathActive, nil
	}
	return g.resolveOwner(ctx, aud.OwnerUserID, twinID)
}

// ResolveReplicaRecipients applies the owner and fallback steps for a
// replica that belongs to no twin.
func (g *Gateway) ResolveReplicaRecipients(ctx context.Context, replicaID string) ([]string, Path, error) {
	owner, err := g.dir.ReplicaOwner(ctx, replicaID)
	if err != nil {
		return nil, "", fmt.Errorf("resolving replica %s: %w", replicaID, err)
	}
	return g.resolveOwner(ctx, owner, "")
}

func (g *Gateway) resolveOwner(ctx context.Context, ownerUserID, excludeTwinID string) ([]string, Path, error) {
	if ownerUserID != "" {
		ops, err := g.dir.OwnerAudience(ctx, ownerUserID, excludeTwinID)
		if err != nil {
			return nil, "", fmt.Errorf("resolving owner %s: %w", ownerUserID, err)
		}
		if len(ops) > 0 {
			return ops, PathOwner, nil
		}
	}
	if g.fallbackID == "" {
		return nil, "", ErrNoRecipients
	}
	return []string{g.fallbackID}, PathFallback, nil
}

// NotifyTwin sends msg to the twin's resolved recipients and returns
// the number reached.
func (g *Gateway) NotifyTwin(ctx context.Context, twinID, msg string) (int, error) {
	recipients, path, err := g.ResolveTwinRecipients(ctx, twinID)
	if err != nil {
		return 0, err
	}
	return g.deliver(ctx, recipients, path, msg)
}

// NotifyReplicaOwner sends msg on behalf of a replica with no twin.
func (g *Gateway) NotifyReplicaOwner(ctx context.Context, replicaID, msg string) (int, error) {
	recipients, path, err := g.ResolveReplicaRecipients(ctx, replicaID)
	if err != nil {
		return 0, err
	}
	return g.deliver(ctx, recipients, path, msg)
}

// NotifyOperator sends msg to a single operator.
func (g *Gateway) NotifyOperator(ctx context.Context, operatorID, msg string) error {
	_, err := g.deliver(ctx, []string{operatorID}, PathActive, msg)
	return err
}

func (g *Gateway) deliver(ctx context.Context, recipients []string, path Path, msg string) (int, error) {
	var (
		sent int
		errs []error
	)
	for _, id := range recipients {
		if err := g.transport.SendMessage(ctx, id, msg); err != nil {
			metrics.NotificationsTotal.WithLabelValues(string(path), metrics.OutcomeFailure).Inc()
			g.logger.Warn("notification delivery failed", "operator_id", id, "path", path, "error", err)
			errs = append(errs, err)
			continue
		}
		metrics.NotificationsTotal.WithLabelValues(string(path), metrics.OutcomeSuccess).Inc()
		sent++
	}

	if sent == 0 && len(errs) > 0 {
		return 0, fmt.Errorf("%w: %w", ErrDelivery, errors.Join(errs...))
	}
	g.logger.Debug("notification delivered", "recipients", sent, "path", path)
	return sent, nil
}
