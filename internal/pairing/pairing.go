// Package pairing binds a new dispenser ID to an owner.
//
// The handshake is a single-shot challenge/response over MQTT: the
// operator chooses an ID, the service subscribes to {id}/assoc and the
// device confirms by publishing "1" when its button is pressed. The
// replica record is created only after confirmation. The transient
// subscription is removed on every exit path.
package pairing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/medtwin-core/internal/infrastructure/metrics"
	"github.com/nerrad567/medtwin-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/medtwin-core/internal/replica"
)

// DefaultTimeout is how long a handshake waits for the button press.
const DefaultTimeout = 30 * time.Second

// confirmPayload is the device's button-press confirmation.
const confirmPayload = "1"

var (
	// ErrConflict is returned when the ID already exists as a replica or a
	// pairing for it is already in flight.
	ErrConflict = errors.New("pairing: device id already in use")

	// ErrTimeout is returned when the device does not confirm in time.
	ErrTimeout = errors.New("pairing: timed out waiting for device")

	// ErrInvalidRequest is returned for a malformed request.
	ErrInvalidRequest = errors.New("pairing: invalid request")
)

// Subscriber is the part of the MQTT client the handshake needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Logger defines the logging interface used by the handshake.
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

// Request asks to pair a device.
type Request struct {
	DeviceID    string `json:"deviceId"`
	Name        string `json:"name"`
	OwnerUserID string `json:"-"`
}

// Handshake runs pairing handshakes. It is safe for concurrent use;
// at most one handshake per device ID runs at a time.
type Handshake struct {
	sub      Subscriber
	replicas *replica.Store
	qos      byte
	timeout  time.Duration
	topics   mqtt.Topics
	logger   Logger
	now      func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New creates a Handshake. A non-positive timeout uses DefaultTimeout.
func New(sub Subscriber, replicas *replica.Store, qos byte, timeout time.Duration) *Handshake {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Handshake{
		sub:      sub,
		replicas: replicas,
		qos:      qos,
		timeout:  timeout,
		logger:   noopLogger{},
		now:      time.Now,
		inFlight: make(map[string]struct{}),
	}
}

// SetLogger sets the logger.
func (h *Handshake) SetLogger(logger Logger) {
	h.logger = logger
}

// InFlight returns the number of running handshakes.
func (h *Handshake) InFlight() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.inFlight)
}

func (h *Handshake) reserve(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, busy := h.inFlight[id]; busy {
		return false
	}
	h.inFlight[id] = struct{}{}
	return true
}

func (h *Handshake) release(id string) {
	h.mu.Lock()
	delete(h.inFlight, id)
	h.mu.Unlock()
}

// Pair waits for the device to confirm and creates its replica owned by
// the requester. Other payloads on the assoc topic are ignored.
func (h *Handshake) Pair(ctx context.Context, req Request) (*replica.Replica, error) {
	r, err := h.pair(ctx, req)
	metrics.PairingsTotal.WithLabelValues(outcome(err)).Inc()
	return r, err
}

func (h *Handshake) pair(ctx context.Context, req Request) (*replica.Replica, error) {
	id := strings.TrimSpace(req.DeviceID)
	name := strings.TrimSpace(req.Name)
	if err := replica.ValidateID(id); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidRequest)
	}
	if req.OwnerUserID == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidRequest)
	}

	if !h.reserve(id) {
		return nil, fmt.Errorf("%w: pairing for %s in progress", ErrConflict, id)
	}
	defer h.release(id)

	exists, err := h.replicas.Exists(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("checking replica %s: %w", id, err)
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrConflict, id)
	}

	pressed := make(chan struct{}, 1)
	topic := h.topics.DeviceAssoc(id)
	handler := func(_ string, payload []byte) error {
		if strings.TrimSpace(string(payload)) != confirmPayload {
			h.logger.Debug("ignoring pairing payload", "device_id", id, "payload", string(payload))
			return nil
		}
		select {
		case pressed <- struct{}{}:
		default:
		}
		return nil
	}

	if err := h.sub.Subscribe(topic, h.qos, handler); err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	var unsubOnce sync.Once
	unsubscribe := func() {
		unsubOnce.Do(func() {
			if err := h.sub.Unsubscribe(topic); err != nil {
				h.logger.Warn("pairing unsubscribe failed", "topic", topic, "error", err)
			}
		})
	}
	defer unsubscribe()

	h.logger.Info("waiting for device confirmation", "device_id", id, "timeout", h.timeout)

	timer := time.NewTimer(h.timeout)
	defer timer.Stop()

	select {
	case <-pressed:
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s after %v", ErrTimeout, id, h.timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	unsubscribe()

	r := replica.New(id, req.OwnerUserID, h.now())
	r.Name = name
	if err := h.replicas.Create(ctx, r); err != nil {
		if errors.Is(err, replica.ErrExists) {
			return nil, fmt.Errorf("%w: %s", ErrConflict, id)
		}
		return nil, fmt.Errorf("creating replica %s: %w", id, err)
	}

	h.logger.Info("device paired", "device_id", id, "owner", req.OwnerUserID)
	return r, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, ErrTimeout):
		return metrics.OutcomeTimeout
	case errors.Is(err, ErrConflict):
		return metrics.OutcomeConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return metrics.OutcomeCancelled
	default:
		return metrics.OutcomeFailure
	}
}
