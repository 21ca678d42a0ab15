package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nerrad567/medtwin-core/internal/replica"
)

func TestEmergencyRequest_TriggerResolve(t *testing.T) {
	deps, store, _ := newTestDeps(t)
	e := NewEmergencyRequest(deps)
	ctx := context.Background()
	seedReplica(t, store, "disp1", nil)

	for i := range 3 {
		req, err := e.Trigger(ctx, "disp1", at(12, i, 0))
		if err != nil {
			t.Fatalf("Trigger() error = %v", err)
		}
		if req.Status != replica.EmergencyStatusActive || req.ResolvedAt != nil {
			t.Errorf("Trigger() = %+v, want active unresolved", req)
		}
	}

	r := reload(t, store, "disp1")
	if !r.EmergencyActive || len(r.EmergencyRequests) != 3 {
		t.Fatalf("active=%v requests=%d, want true 3 (no dedup)", r.EmergencyActive, len(r.EmergencyRequests))
	}

	n, err := e.Resolve(ctx, "disp1", at(13, 0, 0))
	if err != nil || n != 3 {
		t.Fatalf("Resolve() = %d, %v, want 3, nil", n, err)
	}
	if reload(t, store, "disp1").EmergencyActive {
		t.Error("EmergencyActive after Resolve")
	}

	if _, err := e.Trigger(ctx, "missing", at(12, 0, 0)); !errors.Is(err, replica.ErrNotFound) {
		t.Errorf("Trigger(missing) error = %v, want replica.ErrNotFound", err)
	}
}

func TestEmergencyRequest_Message(t *testing.T) {
	e := NewEmergencyRequest(Deps{})
	r := replica.New("disp1", "u", day)
	r.Name = "Grandma's pills"

	msg := e.Message(r, "Via Roma", at(12, 30, 5))
	for _, want := range []string{"Grandma's pills", "Via Roma", "12:30:05"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Message() = %q, missing %q", msg, want)
		}
	}
	if !strings.Contains(e.Message(r, "", at(12, 0, 0)), "no home") {
		t.Error("Message() without twin should say no home")
	}
}
