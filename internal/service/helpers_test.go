package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/medtwin-core/internal/docstore"
	"github.com/nerrad567/medtwin-core/internal/replica"
)

// fakeDevices records wake commands and can be told to fail.
type fakeDevices struct {
	mu    sync.Mutex
	woken []string
	err   error
}

func (f *fakeDevices) Wake(_ context.Context, replicaID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.woken = append(f.woken, replicaID)
	return nil
}

func (f *fakeDevices) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.woken)
}

var errWakeFailed = errors.New("broker down")

// day is a fixed Tuesday used across tests.
var day = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

func at(hh, mm, ss int) time.Time {
	return day.Add(time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute + time.Duration(ss)*time.Second)
}

func newTestDeps(t *testing.T) (Deps, *replica.Store, *fakeDevices) {
	t.Helper()
	store := replica.NewStore(docstore.NewMemoryStore())
	devices := &fakeDevices{}
	return Deps{Replicas: store, Devices: devices}, store, devices
}

func seedReplica(t *testing.T, store *replica.Store, id string, mutate func(r *replica.Replica)) *replica.Replica {
	t.Helper()
	r := replica.New(id, "user-1", day)
	if mutate != nil {
		mutate(r)
	}
	if err := store.Create(context.Background(), r); err != nil {
		t.Fatalf("Create(%s) error = %v", id, err)
	}
	return r
}

func reload(t *testing.T, store *replica.Store, id string) *replica.Replica {
	t.Helper()
	r, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%s) error = %v", id, err)
	}
	return r
}

// withDoses records a dose on each of the given days before day.
func withDoses(daysAgo ...int) func(r *replica.Replica) {
	return func(r *replica.Replica) {
		for _, d := range daysAgo {
			r.Regularity[replica.DateKey(day.AddDate(0, 0, -d))] = []string{"09:00:00"}
		}
	}
}
