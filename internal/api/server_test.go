package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/medtwin-core/internal/audit"
	"github.com/nerrad567/medtwin-core/internal/auth"
	"github.com/nerrad567/medtwin-core/internal/devicecmd"
	"github.com/nerrad567/medtwin-core/internal/docstore"
	"github.com/nerrad567/medtwin-core/internal/infrastructure/config"
	"github.com/nerrad567/medtwin-core/internal/infrastructure/database"
	"github.com/nerrad567/medtwin-core/internal/infrastructure/logging"
	"github.com/nerrad567/medtwin-core/internal/infrastructure/metrics"
	"github.com/nerrad567/medtwin-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/medtwin-core/internal/notify"
	"github.com/nerrad567/medtwin-core/internal/pairing"
	"github.com/nerrad567/medtwin-core/internal/replica"
	"github.com/nerrad567/medtwin-core/internal/service"
	"github.com/nerrad567/medtwin-core/internal/twin"
	_ "github.com/nerrad567/medtwin-core/migrations" // registers embedded migrations
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// fakeBus stands in for the MQTT client. When autoPress is set every
// subscription immediately receives the pairing confirmation.
type fakeBus struct {
	mu        sync.Mutex
	autoPress bool
	published map[string]string
}

func (b *fakeBus) Publish(topic string, payload []byte, _ byte, _ bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[topic] = string(payload)
	return nil
}

func (b *fakeBus) Subscribe(topic string, _ byte, h mqtt.MessageHandler) error {
	if b.autoPress {
		return h(topic, []byte("1"))
	}
	return nil
}

func (b *fakeBus) Unsubscribe(string) error { return nil }

func (b *fakeBus) last(topic string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.published[topic]
	return v, ok
}

type fakeCheck struct{ err error }

func (f fakeCheck) HealthCheck(context.Context) error { return f.err }

type testEnv struct {
	srv      *Server
	handler  http.Handler
	twins    *twin.Registry
	replicas *replica.Store
	bus      *fakeBus
	audit    *audit.SQLiteRepository
	health   map[string]HealthChecker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "api.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	bus := &fakeBus{autoPress: true, published: make(map[string]string)}
	docs := docstore.NewMemoryStore()
	replicas := replica.NewStore(docs)
	devices := devicecmd.New(bus, 1)
	registry := twin.NewRegistry(docs, service.Deps{Replicas: replicas, Devices: devices}, service.DefaultSettings())
	auditRepo := audit.NewSQLiteRepository(db.DB)
	health := map[string]HealthChecker{"database": db}

	log := logging.NewWithWriter(config.LoggingConfig{Level: "error", Format: "text"}, "test", io.Discard)
	srv, err := New(Deps{
		Config: config.APIConfig{Host: "127.0.0.1"},
		WS:     config.WebSocketConfig{Path: "/ws", MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{Secret: testSecret, AccessTokenTTL: 15},
		},
		Logger:   log,
		Twins:    registry,
		Replicas: replicas,
		Pairing:  pairing.New(bus, replicas, 1, 200*time.Millisecond),
		Devices:  devices,
		Audit:    auditRepo,
		Health:   health,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &testEnv{
		srv:      srv,
		handler:  srv.Handler(),
		twins:    registry,
		replicas: replicas,
		bus:      bus,
		audit:    auditRepo,
		health:   health,
	}
}

func token(t *testing.T, userID, operatorID string) string {
	t.Helper()
	tok, err := auth.IssueToken(userID, operatorID, testSecret, time.Minute)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, tok string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("json.Marshal() error = %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, "/api/v1"+path, reader)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
	return v
}

func wantStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, want, rec.Body.String())
	}
}

func wantErrorCode(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	wantStatus(t, rec, status)
	body := decode[ErrorBody](t, rec)
	if body.Error.Code != code {
		t.Errorf("error code = %q, want %q", body.Error.Code, code)
	}
}

func (e *testEnv) createTwin(t *testing.T, tok, name string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/twins", tok, CreateTwinRequest{Name: name})
	wantStatus(t, rec, http.StatusCreated)
	return decode[twin.CreateResult](t, rec).Twin.ID
}

func (e *testEnv) pair(t *testing.T, tok, deviceID string) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/replicas/pair", tok, PairRequest{DeviceID: deviceID, Name: "Kitchen"})
	wantStatus(t, rec, http.StatusCreated)
}

// ===== Construction =====

func TestNew_RequiresDeps(t *testing.T) {
	log := logging.NewWithWriter(config.LoggingConfig{}, "test", io.Discard)
	docs := docstore.NewMemoryStore()
	reps := replica.NewStore(docs)
	reg := twin.NewRegistry(docs, service.Deps{Replicas: reps}, service.DefaultSettings())
	sec := config.SecurityConfig{JWT: config.JWTConfig{Secret: testSecret}}

	tests := []struct {
		name string
		deps Deps
	}{
		{"no logger", Deps{Twins: reg, Replicas: reps, Security: sec}},
		{"no registry", Deps{Logger: log, Replicas: reps, Security: sec}},
		{"no secret", Deps{Logger: log, Twins: reg, Replicas: reps}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() error = nil, want error")
			}
		})
	}
}

// ===== Public routes =====

func TestHealth(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/health", "", nil)
	wantStatus(t, rec, http.StatusOK)
	body := decode[map[string]any](t, rec)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("health body = %v", body)
	}

	e.health["mqtt"] = fakeCheck{err: mqtt.ErrNotConnected}
	rec = e.do(t, http.MethodGet, "/health", "", nil)
	wantStatus(t, rec, http.StatusServiceUnavailable)
}

func TestMetricsEndpoint(t *testing.T) {
	metrics.MustRegister()
	e := newTestEnv(t)
	e.do(t, http.MethodGet, "/health", "", nil)

	rec := e.do(t, http.MethodGet, "/metrics", "", nil)
	wantStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), "medtwin_http_requests_total") {
		t.Error("metrics output missing medtwin_http_requests_total")
	}
}

func TestAuthRequired(t *testing.T) {
	e := newTestEnv(t)
	wrongSecret, err := auth.IssueToken("user-1", "", "other-secret", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	for _, tok := range []string{"", "garbage", wrongSecret} {
		rec := e.do(t, http.MethodGet, "/twins", tok, nil)
		wantErrorCode(t, rec, http.StatusUnauthorized, ErrCodeUnauthorized)
	}
}

// ===== Twins =====

func TestTwinLifecycle(t *testing.T) {
	e := newTestEnv(t)
	alice := token(t, "alice", "op-a")
	bob := token(t, "bob", "op-b")

	id := e.createTwin(t, alice, "Home")

	wantErrorCode(t, e.do(t, http.MethodPost, "/twins", bob, CreateTwinRequest{Name: "Home"}), http.StatusConflict, ErrCodeConflict)
	wantErrorCode(t, e.do(t, http.MethodPost, "/twins", alice, CreateTwinRequest{Name: "  "}), http.StatusBadRequest, ErrCodeValidation)
	wantErrorCode(t, e.do(t, http.MethodPost, "/twins", alice, map[string]any{"bogus": 1}), http.StatusBadRequest, ErrCodeBadRequest)

	rec := e.do(t, http.MethodGet, "/twins", alice, nil)
	wantStatus(t, rec, http.StatusOK)
	if got := decode[map[string]any](t, rec)["count"]; got != float64(1) {
		t.Errorf("alice twins = %v, want 1", got)
	}
	rec = e.do(t, http.MethodGet, "/twins", bob, nil)
	if got := decode[map[string]any](t, rec)["count"]; got != float64(0) {
		t.Errorf("bob twins = %v, want 0", got)
	}

	wantErrorCode(t, e.do(t, http.MethodGet, "/twins/"+id, bob, nil), http.StatusForbidden, ErrCodeForbidden)
	wantErrorCode(t, e.do(t, http.MethodGet, "/twins/twin-missing", alice, nil), http.StatusNotFound, ErrCodeNotFound)

	rec = e.do(t, http.MethodGet, "/twins/"+id+"/services", alice, nil)
	wantStatus(t, rec, http.StatusOK)
	services := decode[map[string]any](t, rec)["services"].([]any)
	if len(services) != len(service.Catalog()) {
		t.Errorf("services = %v, want full catalog", services)
	}

	wantStatus(t, e.do(t, http.MethodDelete, "/twins/"+id, bob, nil), http.StatusForbidden)
	wantStatus(t, e.do(t, http.MethodDelete, "/twins/"+id, alice, nil), http.StatusNoContent)
	wantStatus(t, e.do(t, http.MethodGet, "/twins/"+id, alice, nil), http.StatusNotFound)
}

func TestTwinOperators(t *testing.T) {
	e := newTestEnv(t)
	alice := token(t, "alice", "op-a")
	id := e.createTwin(t, alice, "Home")

	rec := e.do(t, http.MethodPost, "/twins/"+id+"/login", alice, nil)
	wantStatus(t, rec, http.StatusOK)
	if decode[map[string]any](t, rec)["added"] != true {
		t.Error("first login added = false")
	}
	rec = e.do(t, http.MethodPost, "/twins/"+id+"/login", alice, nil)
	if decode[map[string]any](t, rec)["added"] != false {
		t.Error("second login added = true")
	}

	tw, err := e.twins.GetTwin(context.Background(), id)
	if err != nil {
		t.Fatalf("GetTwin() error = %v", err)
	}
	if len(tw.ActiveOperatorIDs) != 1 || tw.ActiveOperatorIDs[0] != "op-a" {
		t.Errorf("ActiveOperatorIDs = %v, want [op-a]", tw.ActiveOperatorIDs)
	}

	rec = e.do(t, http.MethodPost, "/twins/"+id+"/logout", alice, nil)
	wantStatus(t, rec, http.StatusOK)
	if decode[map[string]any](t, rec)["removed"] != true {
		t.Error("logout removed = false")
	}
}

// ===== Replicas =====

func TestPairAndLink(t *testing.T) {
	e := newTestEnv(t)
	alice := token(t, "alice", "op-a")
	bob := token(t, "bob", "op-b")
	home := e.createTwin(t, alice, "Home")
	cabin := e.createTwin(t, alice, "Cabin")

	e.pair(t, alice, "disp1")
	wantErrorCode(t, e.do(t, http.MethodPost, "/replicas/pair", alice, PairRequest{DeviceID: "disp1", Name: "Again"}), http.StatusConflict, ErrCodeConflict)
	wantErrorCode(t, e.do(t, http.MethodPost, "/replicas/pair", alice, PairRequest{DeviceID: "bad/id", Name: "x"}), http.StatusBadRequest, ErrCodeValidation)

	// Bob cannot see or link alice's replica.
	wantStatus(t, e.do(t, http.MethodGet, "/replicas/disp1", bob, nil), http.StatusForbidden)

	rec := e.do(t, http.MethodPost, "/twins/"+home+"/replicas", alice, LinkReplicaRequest{ReplicaID: "disp1"})
	wantStatus(t, rec, http.StatusOK)

	rec = e.do(t, http.MethodPost, "/twins/"+cabin+"/replicas", alice, LinkReplicaRequest{ReplicaID: "disp1"})
	wantStatus(t, rec, http.StatusOK)
	if got := decode[map[string]any](t, rec)["movedFrom"]; got != home {
		t.Errorf("movedFrom = %v, want %s", got, home)
	}

	rec = e.do(t, http.MethodGet, "/replicas/disp1", alice, nil)
	wantStatus(t, rec, http.StatusOK)
	if got := decode[map[string]any](t, rec)["twinId"]; got != cabin {
		t.Errorf("twinId = %v, want %s", got, cabin)
	}

	wantErrorCode(t, e.do(t, http.MethodPost, "/twins/"+home+"/replicas", alice, LinkReplicaRequest{ReplicaID: "ghost"}), http.StatusNotFound, ErrCodeNotFound)
	wantStatus(t, e.do(t, http.MethodDelete, "/twins/"+home+"/replicas/disp1", alice, nil), http.StatusNotFound)
	wantStatus(t, e.do(t, http.MethodDelete, "/twins/"+cabin+"/replicas/disp1", alice, nil), http.StatusNoContent)

	rec = e.do(t, http.MethodGet, "/replicas", alice, nil)
	if got := decode[map[string]any](t, rec)["count"]; got != float64(1) {
		t.Errorf("replica count = %v, want 1", got)
	}
	wantStatus(t, e.do(t, http.MethodDelete, "/replicas/disp1", alice, nil), http.StatusNoContent)
	wantStatus(t, e.do(t, http.MethodGet, "/replicas/disp1", alice, nil), http.StatusNotFound)
}

func TestPairTimeout(t *testing.T) {
	e := newTestEnv(t)
	e.bus.autoPress = false
	alice := token(t, "alice", "")

	rec := e.do(t, http.MethodPost, "/replicas/pair", alice, PairRequest{DeviceID: "slow", Name: "Slow"})
	wantErrorCode(t, rec, http.StatusRequestTimeout, ErrCodeTimeout)
	if ok, _ := e.replicas.Exists(context.Background(), "slow"); ok {
		t.Error("replica created after timeout")
	}
}

func TestReplicaSettings(t *testing.T) {
	e := newTestEnv(t)
	alice := token(t, "alice", "")
	e.pair(t, alice, "disp1")

	lo, hi := 15.0, 25.0
	inverted := 40.0
	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"window ok", http.MethodPut, "/replicas/disp1/window", replica.Window{Start: "07:00", End: "09:00"}, http.StatusOK},
		{"window inverted", http.MethodPut, "/replicas/disp1/window", replica.Window{Start: "10:00", End: "09:00"}, http.StatusBadRequest},
		{"window garbage", http.MethodPut, "/replicas/disp1/window", replica.Window{Start: "7am", End: "09:00"}, http.StatusBadRequest},
		{"limits ok", http.MethodPut, "/replicas/disp1/limits", LimitsRequest{Kind: replica.KindTemperature, Min: &lo, Max: &hi}, http.StatusOK},
		{"limits inverted", http.MethodPut, "/replicas/disp1/limits", LimitsRequest{Kind: replica.KindTemperature, Min: &inverted, Max: &hi}, http.StatusBadRequest},
		{"limits kind", http.MethodPut, "/replicas/disp1/limits", LimitsRequest{Kind: "pressure", Min: &lo, Max: &hi}, http.StatusBadRequest},
		{"limits missing", http.MethodPut, "/replicas/disp1/limits", LimitsRequest{Kind: replica.KindHumidity}, http.StatusBadRequest},
		{"unknown replica", http.MethodPut, "/replicas/ghost/window", replica.Window{Start: "07:00", End: "09:00"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wantStatus(t, e.do(t, tt.method, tt.path, alice, tt.body), tt.want)
		})
	}

	rec := e.do(t, http.MethodGet, "/replicas/disp1/limits", alice, nil)
	wantStatus(t, rec, http.StatusOK)
	view := decode[service.LimitsView](t, rec)
	if view.Temperature.Min != 15 || view.Temperature.Max != 25 {
		t.Errorf("temperature limits = %+v, want 15-25", view.Temperature)
	}

	r, err := e.replicas.Get(context.Background(), "disp1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if r.MedicineWindow.Start != "07:00" {
		t.Errorf("window start = %q, want 07:00", r.MedicineWindow.Start)
	}
}

func TestDeviceCommands(t *testing.T) {
	e := newTestEnv(t)
	alice := token(t, "alice", "")
	e.pair(t, alice, "disp1")

	wantStatus(t, e.do(t, http.MethodPost, "/replicas/disp1/message", alice, MessageRequest{Text: "Take one tablet"}), http.StatusAccepted)
	if got, _ := e.bus.last("disp1/message"); got != "Take one tablet" {
		t.Errorf("published message = %q", got)
	}
	wantStatus(t, e.do(t, http.MethodPost, "/replicas/disp1/message", alice, MessageRequest{}), http.StatusBadRequest)

	wantStatus(t, e.do(t, http.MethodPost, "/devices/leds", alice, LEDRequest{States: "101"}), http.StatusAccepted)
	if got, _ := e.bus.last("all_devices/led_states"); got != "101" {
		t.Errorf("published led states = %q", got)
	}
}

func TestResolveEmergency(t *testing.T) {
	e := newTestEnv(t)
	alice := token(t, "alice", "")
	e.pair(t, alice, "disp1")

	rt, err := e.twins.RuntimeForReplica(context.Background(), "disp1")
	if err != nil {
		t.Fatalf("RuntimeForReplica() error = %v", err)
	}
	if err := rt.HandleEmergency(context.Background(), "disp1", time.Now()); err != nil {
		t.Fatalf("HandleEmergency() error = %v", err)
	}

	rec := e.do(t, http.MethodPost, "/replicas/disp1/emergency/resolve", alice, nil)
	wantStatus(t, rec, http.StatusOK)
	if got := decode[map[string]any](t, rec)["resolved"]; got != float64(1) {
		t.Errorf("resolved = %v, want 1", got)
	}
}

func TestCheckTwin(t *testing.T) {
	e := newTestEnv(t)
	alice := token(t, "alice", "")
	id := e.createTwin(t, alice, "Home")
	e.pair(t, alice, "disp1")
	wantStatus(t, e.do(t, http.MethodPost, "/twins/"+id+"/replicas", alice, LinkReplicaRequest{ReplicaID: "disp1"}), http.StatusOK)

	rec := e.do(t, http.MethodPost, "/twins/"+id+"/check", alice, nil)
	wantStatus(t, rec, http.StatusOK)
	decode[service.Report](t, rec)
}

// ===== Audit =====

func TestAuditTrail(t *testing.T) {
	e := newTestEnv(t)
	alice := token(t, "alice", "")
	bob := token(t, "bob", "")
	e.createTwin(t, alice, "Home")
	e.createTwin(t, bob, "Other")
	e.pair(t, alice, "disp1")

	rec := e.do(t, http.MethodGet, "/audit", alice, nil)
	wantStatus(t, rec, http.StatusOK)
	res := decode[audit.ListResult](t, rec)
	if res.Total != 2 {
		t.Fatalf("alice audit total = %d, want 2", res.Total)
	}
	for _, l := range res.Logs {
		if l.UserID != "alice" {
			t.Errorf("entry for %q leaked to alice", l.UserID)
		}
	}

	rec = e.do(t, http.MethodGet, "/audit?action=pair", alice, nil)
	if got := decode[audit.ListResult](t, rec).Total; got != 1 {
		t.Errorf("pair entries = %d, want 1", got)
	}
	wantStatus(t, e.do(t, http.MethodGet, "/audit?limit=abc", alice, nil), http.StatusBadRequest)
}

// ===== Errors =====

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{twin.ErrTwinNotFound, http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", replica.ErrNotFound), http.StatusNotFound},
		{twin.ErrUnauthorized, http.StatusForbidden},
		{pairing.ErrConflict, http.StatusConflict},
		{replica.ErrExists, http.StatusConflict},
		{pairing.ErrTimeout, http.StatusRequestTimeout},
		{service.ErrInvalidLimits, http.StatusBadRequest},
		{notify.ErrDelivery, http.StatusBadGateway},
		{mqtt.ErrPublishFailed, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got, _ := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

// ===== WebSocket =====

func TestWebSocketNotification(t *testing.T) {
	e := newTestEnv(t)
	ts := httptest.NewServer(e.handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws?token=" + token(t, "alice", "op-a")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer resp.Body.Close()
	defer conn.Close()

	hub := e.srv.Hub()
	deadline := time.Now().Add(2 * time.Second)
	for !hub.Connected("op-a") {
		if time.Now().After(deadline) {
			t.Fatal("operator never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := hub.SendMessage(context.Background(), "op-b", "nobody"); !errors.Is(err, ErrOperatorOffline) {
		t.Errorf("SendMessage(offline) error = %v, want ErrOperatorOffline", err)
	}
	if err := hub.SendMessage(context.Background(), "op-a", "Door opened"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test deadline
	var msg struct {
		Type    string              `json:"type"`
		Payload NotificationPayload `json:"payload"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if msg.Type != WSTypeNotification || msg.Payload.Text != "Door opened" || msg.Payload.OperatorID != "op-a" {
		t.Errorf("message = %+v", msg)
	}
}

func TestWebSocket_RequiresToken(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/ws", "", nil)
	wantStatus(t, rec, http.StatusUnauthorized)
}
