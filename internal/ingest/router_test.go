package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/medtwin-core/internal/docstore"
	"github.com/nerrad567/medtwin-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/medtwin-core/internal/replica"
	"github.com/nerrad567/medtwin-core/internal/service"
	"github.com/nerrad567/medtwin-core/internal/twin"
)

// received is a fixed receipt time inside the default medication window.
var received = time.Date(2026, 3, 10, 9, 15, 0, 0, time.UTC)

type fakeSubscriber struct {
	mu       sync.Mutex
	handlers map[string]mqtt.MessageHandler
	failOn   string
}

func (f *fakeSubscriber) Subscribe(topic string, _ byte, h mqtt.MessageHandler) error {
	if topic == f.failOn {
		return mqtt.ErrSubscribeFailed
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = h
	return nil
}

func (f *fakeSubscriber) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, topic)
	return nil
}

func (f *fakeSubscriber) publish(t *testing.T, wildcard, topic, payload string) {
	t.Helper()
	f.mu.Lock()
	h := f.handlers[wildcard]
	f.mu.Unlock()
	if h == nil {
		t.Fatalf("no subscription for %s", wildcard)
	}
	if err := h(topic, []byte(payload)); err != nil {
		t.Fatalf("handler(%s) error = %v", topic, err)
	}
}

type noopDevices struct{}

func (noopDevices) Wake(context.Context, string) error { return nil }

type countingNotifier struct {
	mu    sync.Mutex
	count int
}

func (n *countingNotifier) NotifyTwin(context.Context, string, string) (int, error) {
	n.mu.Lock()
	n.count++
	n.mu.Unlock()
	return 1, nil
}

func (n *countingNotifier) NotifyReplicaOwner(context.Context, string, string) (int, error) {
	return n.NotifyTwin(context.Background(), "", "")
}

func (n *countingNotifier) sent() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.count
}

type telemetryRecord struct {
	kind  string
	value float64
	state string
}

type fakeTelemetry struct {
	mu      sync.Mutex
	records []telemetryRecord
}

func (f *fakeTelemetry) WriteReading(_, kind string, value float64, _ string, _ time.Time) {
	f.mu.Lock()
	f.records = append(f.records, telemetryRecord{kind: kind, value: value})
	f.mu.Unlock()
}

func (f *fakeTelemetry) WriteDoorEvent(_, state string, _ bool, _ time.Time) {
	f.mu.Lock()
	f.records = append(f.records, telemetryRecord{state: state})
	f.mu.Unlock()
}

func (f *fakeTelemetry) WriteEmergency(string, time.Time) {
	f.mu.Lock()
	f.records = append(f.records, telemetryRecord{kind: "emergency"})
	f.mu.Unlock()
}

type fixture struct {
	router    *Router
	sub       *fakeSubscriber
	replicas  *replica.Store
	notifier  *countingNotifier
	telemetry *fakeTelemetry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	docs := docstore.NewMemoryStore()
	replicas := replica.NewStore(docs)
	reg := twin.NewRegistry(docs, service.Deps{Replicas: replicas, Devices: noopDevices{}}, service.DefaultSettings())
	n := &countingNotifier{}
	reg.SetNotifier(n)

	ctx := context.Background()
	res, err := reg.CreateTwin(ctx, "user-1", "Home", "")
	if err != nil {
		t.Fatalf("CreateTwin() error = %v", err)
	}
	for _, id := range []string{"disp1", "alone"} {
		if err := replicas.Create(ctx, replica.New(id, "user-1", received.Add(-24*time.Hour))); err != nil {
			t.Fatalf("Create(%s) error = %v", id, err)
		}
	}
	if _, err := reg.LinkReplica(ctx, res.Twin.ID, replica.Type, "disp1"); err != nil {
		t.Fatalf("LinkReplica() error = %v", err)
	}

	sub := &fakeSubscriber{handlers: make(map[string]mqtt.MessageHandler)}
	tel := &fakeTelemetry{}
	r := NewRouter(sub, reg, Config{QoS: 1, InboxSize: 8, Location: time.UTC})
	r.SetTelemetry(tel)
	return &fixture{router: r, sub: sub, replicas: replicas, notifier: n, telemetry: tel}
}

func message(topic, payload string) mqtt.Message {
	return mqtt.Message{Topic: topic, Payload: []byte(payload), ReceivedAt: received}
}

func (f *fixture) get(t *testing.T, id string) *replica.Replica {
	t.Helper()
	r, err := f.replicas.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%s) error = %v", id, err)
	}
	return r
}

// ===== Payload parsing =====

func TestParseDoor(t *testing.T) {
	tests := []struct {
		payload   string
		wantState replica.DoorState
		wantErr   bool
	}{
		{`{"door":1,"time":"09:00:00"}`, replica.DoorOpen, false},
		{`{"door":0}`, replica.DoorClosed, false},
		{`{"door":2}`, "", true},
		{`{"time":"09:00:00"}`, "", true},
		{`{"door":"1"}`, "", true},
		{`not json`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			state, _, err := parseDoor([]byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseDoor() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrMalformed) {
				t.Errorf("parseDoor() error = %v, want ErrMalformed", err)
			}
			if state != tt.wantState {
				t.Errorf("parseDoor() state = %q, want %q", state, tt.wantState)
			}
		})
	}
}

func TestEventTime(t *testing.T) {
	rome, err := time.LoadLocation("Europe/Rome")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	tests := []struct {
		name  string
		clock string
		loc   *time.Location
		want  time.Time
	}{
		{"clock today", "07:30:05", time.UTC, time.Date(2026, 3, 10, 7, 30, 5, 0, time.UTC)},
		{"empty falls back", "", time.UTC, received},
		{"bad falls back", "7h30", time.UTC, received},
		{"fleet zone", "07:30:00", rome, time.Date(2026, 3, 10, 7, 30, 0, 0, rome)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := eventTime(tt.clock, received, tt.loc); !got.Equal(tt.want) {
				t.Errorf("eventTime() = %v, want %v", got, tt.want)
			}
		})
	}
}

// ===== Dispatch =====

func TestDispatch_Door(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.router.Dispatch(ctx, message("disp1/door", `{"door":1,"time":"09:10:00"}`))
	f.router.Dispatch(ctx, message("disp1/door", `{"door":0,"time":"23:00:00"}`))
	f.router.Dispatch(ctx, message("disp1/door", `{"door":7}`))

	r := f.get(t, "disp1")
	if len(r.DoorEvents) != 2 {
		t.Fatalf("DoorEvents = %d, want 2", len(r.DoorEvents))
	}
	if !r.DoorEvents[0].Regular || r.DoorEvents[1].Regular {
		t.Errorf("regular flags = %v, %v; want true, false", r.DoorEvents[0].Regular, r.DoorEvents[1].Regular)
	}
	if r.DoorStatus != replica.DoorClosed {
		t.Errorf("DoorStatus = %s, want closed", r.DoorStatus)
	}
	if f.notifier.sent() != 1 {
		t.Errorf("notifications = %d, want 1 for the irregular close", f.notifier.sent())
	}
	if len(f.telemetry.records) != 2 {
		t.Errorf("telemetry records = %d, want 2", len(f.telemetry.records))
	}
}

func TestDispatch_DetachedAndUnknown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.router.Dispatch(ctx, message("alone/door", `{"door":1,"time":"22:00:00"}`))
	if got := f.get(t, "alone"); len(got.DoorEvents) != 1 {
		t.Errorf("detached DoorEvents = %d, want 1", len(got.DoorEvents))
	}
	if f.notifier.sent() != 1 {
		t.Errorf("notifications = %d, want 1 via owner", f.notifier.sent())
	}

	// Unknown devices are dropped without side effects.
	f.router.Dispatch(ctx, message("ghost/door", `{"door":1}`))
	f.router.Dispatch(ctx, message("ghost/emergency", "1"))
	if f.notifier.sent() != 1 {
		t.Errorf("notifications = %d after unknown device, want 1", f.notifier.sent())
	}
}

func TestDispatch_Emergency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.router.Dispatch(ctx, message("disp1/emergency", "0"))
	f.router.Dispatch(ctx, message("disp1/emergency", "1"))
	f.router.Dispatch(ctx, message("disp1/emergency", "1"))

	r := f.get(t, "disp1")
	if !r.EmergencyActive || len(r.EmergencyRequests) != 2 {
		t.Errorf("EmergencyActive = %v requests = %d, want true and 2", r.EmergencyActive, len(r.EmergencyRequests))
	}
	if f.notifier.sent() != 2 {
		t.Errorf("notifications = %d, want every press", f.notifier.sent())
	}
}

func TestDispatch_Environmental(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		wantStored int
		wantNotify int
	}{
		{"both in range", `{"avg_temperature":22.5,"avg_humidity":45}`, 2, 0},
		{"temperature only high", `{"avg_temperature":35}`, 1, 1},
		{"humidity only low", `{"avg_humidity":10,"time":"09:00:00"}`, 1, 1},
		{"both out", `{"avg_temperature":5,"avg_humidity":95}`, 2, 2},
		{"neither", `{"time":"09:00:00"}`, 0, 0},
		{"malformed", `{"avg_temperature":`, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.router.Dispatch(context.Background(), message("disp1/environmental_data", tt.payload))

			if got := len(f.get(t, "disp1").EnvironmentalData); got != tt.wantStored {
				t.Errorf("stored readings = %d, want %d", got, tt.wantStored)
			}
			if f.notifier.sent() != tt.wantNotify {
				t.Errorf("notifications = %d, want %d", f.notifier.sent(), tt.wantNotify)
			}
		})
	}
}

func TestDispatch_Taken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.router.Dispatch(ctx, message("disp1/taken", "1"))
	f.router.Dispatch(ctx, message("disp1/taken", "yes"))

	r := f.get(t, "disp1")
	times := r.Regularity[replica.DateKey(received)]
	if len(times) != 1 || times[0] != "09:15:00" {
		t.Errorf("regularity today = %v, want [09:15:00]", times)
	}
}

func TestDispatch_BadTopics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, topic := range []string{"nodevice", "/door", "disp1/", "disp1/unknown", "disp1/assoc"} {
		f.router.Dispatch(ctx, message(topic, "1"))
	}
	if f.notifier.sent() != 0 {
		t.Errorf("notifications = %d, want 0", f.notifier.sent())
	}
}

// ===== Workers =====

func TestRouter_StartStop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.router.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := f.router.Start(ctx); err == nil {
		t.Error("Start() twice error = nil, want error")
	}
	if len(f.sub.handlers) != len(Suffixes()) {
		t.Fatalf("subscriptions = %d, want %d", len(f.sub.handlers), len(Suffixes()))
	}

	f.sub.publish(t, "+/door", "disp1/door", `{"door":1,"time":"09:00:00"}`)
	f.sub.publish(t, "+/door", "disp1/door", `{"door":0,"time":"09:01:00"}`)
	f.sub.publish(t, "+/emergency", "disp1/emergency", "1")

	deadline := time.Now().Add(2 * time.Second)
	for {
		r := f.get(t, "disp1")
		if len(r.DoorEvents) == 2 && r.EmergencyActive {
			if r.DoorEvents[0].State != replica.DoorOpen || r.DoorEvents[1].State != replica.DoorClosed {
				t.Errorf("door events out of order: %+v", r.DoorEvents)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("workers did not process messages: events=%d emergency=%v", len(r.DoorEvents), r.EmergencyActive)
		}
		time.Sleep(5 * time.Millisecond)
	}

	f.router.Stop()
	if len(f.sub.handlers) != 0 {
		t.Errorf("subscriptions after Stop = %d, want 0", len(f.sub.handlers))
	}
}

func TestRouter_StartSubscribeFailure(t *testing.T) {
	f := newFixture(t)
	f.sub.failOn = "+/environmental_data"

	if err := f.router.Start(context.Background()); !errors.Is(err, mqtt.ErrSubscribeFailed) {
		t.Fatalf("Start() error = %v, want ErrSubscribeFailed", err)
	}
	if len(f.sub.handlers) != 0 {
		t.Errorf("subscriptions after failed Start = %d, want 0", len(f.sub.handlers))
	}
}
