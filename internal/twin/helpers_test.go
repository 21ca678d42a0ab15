package twin

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/medtwin-core/internal/docstore"
	"github.com/nerrad567/medtwin-core/internal/replica"
	"github.com/nerrad567/medtwin-core/internal/service"
)

// day is a fixed Tuesday used across tests.
var day = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

func at(hh, mm int) time.Time {
	return day.Add(time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute)
}

type sent struct {
	twinID    string
	replicaID string
	msg       string
}

// recordingNotifier captures notifications instead of delivering them.
type recordingNotifier struct {
	mu   sync.Mutex
	msgs []sent
}

func (n *recordingNotifier) NotifyTwin(_ context.Context, twinID, msg string) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, sent{twinID: twinID, msg: msg})
	return 1, nil
}

func (n *recordingNotifier) NotifyReplicaOwner(_ context.Context, replicaID, msg string) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, sent{replicaID: replicaID, msg: msg})
	return 1, nil
}

func (n *recordingNotifier) all() []sent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sent(nil), n.msgs...)
}

type fakeDevices struct {
	mu    sync.Mutex
	woken []string
}

func (f *fakeDevices) Wake(_ context.Context, id string) error {
	f.mu.Lock()
	f.woken = append(f.woken, id)
	f.mu.Unlock()
	return nil
}

type fixture struct {
	docs     docstore.Store
	replicas *replica.Store
	registry *Registry
	notifier *recordingNotifier
	devices  *fakeDevices
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithSettings(t, service.DefaultSettings())
}

func newFixtureWithSettings(t *testing.T, settings service.Settings) *fixture {
	t.Helper()
	docs := docstore.NewMemoryStore()
	replicas := replica.NewStore(docs)
	devices := &fakeDevices{}
	reg := NewRegistry(docs, service.Deps{Replicas: replicas, Devices: devices}, settings)
	reg.now = func() time.Time { return day }
	n := &recordingNotifier{}
	reg.SetNotifier(n)
	return &fixture{docs: docs, replicas: replicas, registry: reg, notifier: n, devices: devices}
}

func (f *fixture) createTwin(t *testing.T, owner, name string) *Twin {
	t.Helper()
	res, err := f.registry.CreateTwin(context.Background(), owner, name, "")
	if err != nil {
		t.Fatalf("CreateTwin(%q) error = %v", name, err)
	}
	return res.Twin
}

func (f *fixture) createReplica(t *testing.T, owner, id string) *replica.Replica {
	t.Helper()
	r := replica.New(id, owner, day)
	if err := f.replicas.Create(context.Background(), r); err != nil {
		t.Fatalf("Create(%s) error = %v", id, err)
	}
	return r
}

func (f *fixture) link(t *testing.T, twinID, replicaID string) {
	t.Helper()
	if _, err := f.registry.LinkReplica(context.Background(), twinID, replica.Type, replicaID); err != nil {
		t.Fatalf("LinkReplica(%s, %s) error = %v", twinID, replicaID, err)
	}
}

func (f *fixture) runtime(t *testing.T, twinID string) *Runtime {
	t.Helper()
	rt, err := f.registry.Runtime(context.Background(), twinID)
	if err != nil {
		t.Fatalf("Runtime(%s) error = %v", twinID, err)
	}
	return rt
}
