// Package ingest routes inbound dispenser MQTT messages to twin runtimes.
//
// Each topic class (door, emergency, environmental_data, assoc, taken)
// has its own wildcard subscription feeding a bounded mqtt.Inbox, and
// one worker goroutine per class drains it. Messages of a class are
// therefore handled one at a time in arrival order, and a slow class
// never stalls the others.
//
// Malformed payloads and messages for unknown devices are logged,
// counted and dropped.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/medtwin-core/internal/infrastructure/metrics"
	"github.com/nerrad567/medtwin-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/medtwin-core/internal/replica"
	"github.com/nerrad567/medtwin-core/internal/twin"
)

// Subscriber is the part of the MQTT client the router needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Resolver finds the runtime serving a dispenser.
type Resolver interface {
	RuntimeForReplica(ctx context.Context, replicaID string) (*twin.Runtime, error)
}

// Telemetry mirrors device data to a time-series store.
// *influxdb.Client implements it.
type Telemetry interface {
	WriteReading(deviceID, kind string, value float64, unit string, ts time.Time)
	WriteDoorEvent(deviceID, state string, regular bool, ts time.Time)
	WriteEmergency(deviceID string, ts time.Time)
}

// Logger defines the logging interface used by the router.
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

// Suffixes lists the topic classes the router subscribes to.
func Suffixes() []string {
	return []string{
		mqtt.SuffixDoor,
		mqtt.SuffixEmergency,
		mqtt.SuffixEnvironmental,
		mqtt.SuffixAssoc,
		mqtt.SuffixTaken,
	}
}

// Config tunes the router.
type Config struct {
	QoS       byte
	InboxSize int
	// Location is the fleet timezone used to date device clock times.
	Location *time.Location
	// HandlerTimeout bounds the handling of one message.
	HandlerTimeout time.Duration
}

const defaultHandlerTimeout = 30 * time.Second

type handlerFunc func(ctx context.Context, deviceID string, msg mqtt.Message) error

// Router subscribes to device topics and dispatches messages.
type Router struct {
	sub       Subscriber
	resolver  Resolver
	telemetry Telemetry
	cfg       Config
	topics    mqtt.Topics
	logger    Logger

	handlers map[string]handlerFunc

	mu      sync.Mutex
	inboxes map[string]*mqtt.Inbox
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRouter creates a Router.
func NewRouter(sub Subscriber, resolver Resolver, cfg Config) *Router {
	if cfg.InboxSize < 1 {
		cfg.InboxSize = 1
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = defaultHandlerTimeout
	}
	r := &Router{
		sub:      sub,
		resolver: resolver,
		cfg:      cfg,
		logger:   noopLogger{},
		inboxes:  make(map[string]*mqtt.Inbox),
	}
	r.handlers = map[string]handlerFunc{
		mqtt.SuffixDoor:          r.handleDoor,
		mqtt.SuffixEmergency:     r.handleEmergency,
		mqtt.SuffixEnvironmental: r.handleEnvironmental,
		mqtt.SuffixAssoc:         r.handleAssoc,
		mqtt.SuffixTaken:         r.handleTaken,
	}
	return r
}

// SetLogger sets the logger.
func (r *Router) SetLogger(logger Logger) {
	r.logger = logger
}

// SetTelemetry enables mirroring of readings and door events.
func (r *Router) SetTelemetry(t Telemetry) {
	r.telemetry = t
}

// Start subscribes to every topic class and starts one worker per class.
// Workers stop when ctx is cancelled or Stop is called.
func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		return errors.New("ingest: router already started")
	}
	ctx, cancel := context.WithCancel(ctx)

	for _, suffix := range Suffixes() {
		inbox := mqtt.NewInbox(r.cfg.InboxSize)
		topic := r.topics.DeviceWildcard(suffix)
		if err := r.sub.Subscribe(topic, r.cfg.QoS, inbox.Handler()); err != nil {
			inbox.Close()
			cancel()
			r.stopLocked()
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
		r.inboxes[suffix] = inbox

		r.wg.Add(1)
		go r.worker(ctx, suffix, inbox)
	}
	r.cancel = cancel

	r.logger.Info("ingestion router started", "classes", len(r.inboxes))
	return nil
}

// Stop unsubscribes, closes the inboxes and waits for the workers.
func (r *Router) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
	r.logger.Info("ingestion router stopped")
}

func (r *Router) stopLocked() {
	for suffix, inbox := range r.inboxes {
		if err := r.sub.Unsubscribe(r.topics.DeviceWildcard(suffix)); err != nil {
			r.logger.Debug("unsubscribe failed", "suffix", suffix, "error", err)
		}
		inbox.Close()
	}
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.wg.Wait()
	r.inboxes = make(map[string]*mqtt.Inbox)
}

// QueueDepth returns the number of queued messages per class.
func (r *Router) QueueDepth() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	depth := make(map[string]int, len(r.inboxes))
	for suffix, inbox := range r.inboxes {
		depth[suffix] = inbox.Len()
	}
	return depth
}

func (r *Router) worker(ctx context.Context, suffix string, inbox *mqtt.Inbox) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-inbox.Done():
			return
		case msg := <-inbox.Messages():
			r.Dispatch(ctx, msg)
		}
	}
}

// Dispatch handles one message synchronously. It never panics on bad
// input; failures are logged and counted.
func (r *Router) Dispatch(ctx context.Context, msg mqtt.Message) {
	deviceID, suffix, ok := mqtt.ParseDeviceTopic(msg.Topic)
	if !ok {
		r.logger.Warn("unroutable topic", "topic", msg.Topic)
		metrics.IngestMessagesTotal.WithLabelValues("unknown", metrics.OutcomeDropped).Inc()
		return
	}
	handler, ok := r.handlers[suffix]
	if !ok {
		r.logger.Debug("unhandled topic class", "topic", msg.Topic)
		metrics.IngestMessagesTotal.WithLabelValues("unknown", metrics.OutcomeDropped).Inc()
		return
	}

	hctx, cancel := context.WithTimeout(ctx, r.cfg.HandlerTimeout)
	defer cancel()

	err := r.safeHandle(hctx, handler, deviceID, msg)
	metrics.IngestMessagesTotal.WithLabelValues(suffix, outcome(err)).Inc()
	switch {
	case err == nil:
	case errors.Is(err, ErrMalformed), errors.Is(err, errSkipped):
		r.logger.Warn("dropping device message", "topic", msg.Topic, "payload", string(msg.Payload), "error", err)
	case errors.Is(err, twin.ErrReplicaNotFound), errors.Is(err, replica.ErrNotFound):
		r.logger.Debug("message for unknown device", "device_id", deviceID, "suffix", suffix)
	default:
		r.logger.Error("handling device message failed", "topic", msg.Topic, "error", err)
	}
}

func (r *Router) safeHandle(ctx context.Context, h handlerFunc, deviceID string, msg mqtt.Message) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic handling %s: %v", msg.Topic, rec)
		}
	}()
	return h(ctx, deviceID, msg)
}

// errSkipped marks well-formed messages carrying nothing to process.
var errSkipped = errors.New("ingest: nothing to process")

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, errSkipped):
		return metrics.OutcomeSkipped
	case errors.Is(err, ErrMalformed), errors.Is(err, twin.ErrReplicaNotFound), errors.Is(err, replica.ErrNotFound):
		return metrics.OutcomeDropped
	default:
		return metrics.OutcomeFailure
	}
}

// =============================================================================
// Handlers
// =============================================================================

func (r *Router) handleDoor(ctx context.Context, deviceID string, msg mqtt.Message) error {
	state, clock, err := parseDoor(msg.Payload)
	if err != nil {
		return err
	}
	rt, err := r.resolver.RuntimeForReplica(ctx, deviceID)
	if err != nil {
		return err
	}
	ts := eventTime(clock, msg.ReceivedAt, r.cfg.Location)
	cls, err := rt.HandleDoorEvent(ctx, deviceID, state, ts)
	if err != nil {
		return err
	}
	if r.telemetry != nil {
		r.telemetry.WriteDoorEvent(deviceID, string(state), cls.Regular, ts)
	}
	return nil
}

func (r *Router) handleEmergency(ctx context.Context, deviceID string, msg mqtt.Message) error {
	if !isPulse(msg.Payload) {
		return fmt.Errorf("%w: emergency payload %q", ErrMalformed, msg.Payload)
	}
	rt, err := r.resolver.RuntimeForReplica(ctx, deviceID)
	if err != nil {
		return err
	}
	ts := msg.ReceivedAt.In(r.cfg.Location)
	if err := rt.HandleEmergency(ctx, deviceID, ts); err != nil {
		return err
	}
	if r.telemetry != nil {
		r.telemetry.WriteEmergency(deviceID, ts)
	}
	return nil
}

func (r *Router) handleEnvironmental(ctx context.Context, deviceID string, msg mqtt.Message) error {
	p, err := parseEnvironmental(msg.Payload)
	if err != nil {
		return err
	}
	if p.Temperature == nil && p.Humidity == nil {
		return fmt.Errorf("%w: no readings", errSkipped)
	}
	rt, err := r.resolver.RuntimeForReplica(ctx, deviceID)
	if err != nil {
		return err
	}
	ts := eventTime(p.Time, msg.ReceivedAt, r.cfg.Location)

	var errs []error
	for _, reading := range []struct {
		kind  replica.ReadingKind
		value *float64
	}{
		{replica.KindTemperature, p.Temperature},
		{replica.KindHumidity, p.Humidity},
	} {
		if reading.value == nil {
			continue
		}
		if _, err := rt.HandleEnvironmental(ctx, deviceID, reading.kind, *reading.value, ts); err != nil {
			errs = append(errs, err)
			continue
		}
		if r.telemetry != nil {
			r.telemetry.WriteReading(deviceID, string(reading.kind), *reading.value, reading.kind.Unit(), ts)
		}
	}
	return errors.Join(errs...)
}

// handleAssoc only records the press; the pairing handshake consumes
// it through its own subscription.
func (r *Router) handleAssoc(_ context.Context, deviceID string, msg mqtt.Message) error {
	r.logger.Debug("association press", "device_id", deviceID, "payload", string(msg.Payload))
	return nil
}

func (r *Router) handleTaken(ctx context.Context, deviceID string, msg mqtt.Message) error {
	if !isPulse(msg.Payload) {
		return fmt.Errorf("%w: taken payload %q", ErrMalformed, msg.Payload)
	}
	rt, err := r.resolver.RuntimeForReplica(ctx, deviceID)
	if err != nil {
		return err
	}
	return rt.HandleDoseTaken(ctx, deviceID, msg.ReceivedAt.In(r.cfg.Location))
}
