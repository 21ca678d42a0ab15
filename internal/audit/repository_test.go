package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/medtwin-core/internal/infrastructure/database"
	_ "github.com/nerrad567/medtwin-core/migrations" // registers embedded migrations
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "audit.db"),
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
	return NewSQLiteRepository(db.DB)
}

// ===== Create =====

func TestCreate_GeneratesIDAndTime(t *testing.T) {
	repo := newTestRepo(t)
	e := &Entry{Action: ActionCreate, EntityType: EntityTwin, EntityID: "twin-1", UserID: "user-1", Source: "api"}

	if err := repo.Create(context.Background(), e); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if len(e.ID) != len("aud-")+8 || e.ID[:4] != "aud-" {
		t.Errorf("ID = %q, want aud-xxxxxxxx", e.ID)
	}
	if e.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

// ===== List =====

func TestList_FiltersAndOrder(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	entries := []Entry{
		{Action: ActionCreate, EntityType: EntityTwin, EntityID: "twin-1", UserID: "user-1", Source: "api"},
		{Action: ActionLink, EntityType: EntityTwin, EntityID: "twin-1", UserID: "user-1", Source: "api",
			Details: map[string]any{"replica_id": "disp1"}},
		{Action: ActionPair, EntityType: EntityReplica, EntityID: "disp2", UserID: "user-2", Source: "api"},
	}
	for i := range entries {
		entries[i].CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := repo.Create(ctx, &entries[i]); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	tests := []struct {
		name      string
		filter    Filter
		wantTotal int
		wantFirst string
	}{
		{"all newest first", Filter{}, 3, ActionPair},
		{"by user", Filter{UserID: "user-1"}, 2, ActionLink},
		{"by action", Filter{Action: ActionCreate}, 1, ActionCreate},
		{"by entity", Filter{EntityType: EntityReplica, EntityID: "disp2"}, 1, ActionPair},
		{"no match", Filter{UserID: "nobody"}, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if res.Total != tt.wantTotal || len(res.Logs) != tt.wantTotal {
				t.Fatalf("List() total = %d logs = %d, want %d", res.Total, len(res.Logs), tt.wantTotal)
			}
			if tt.wantFirst != "" && res.Logs[0].Action != tt.wantFirst {
				t.Errorf("first action = %q, want %q", res.Logs[0].Action, tt.wantFirst)
			}
		})
	}

	res, err := repo.List(ctx, Filter{Action: ActionLink})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Logs[0].Details["replica_id"] != "disp1" {
		t.Errorf("Details = %v, want replica_id disp1", res.Logs[0].Details)
	}
}

func TestList_Pagination(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := repo.Create(ctx, &Entry{Action: ActionCommand, EntityType: EntityFleet, Source: "api"}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	tests := []struct {
		name      string
		filter    Filter
		wantLen   int
		wantLimit int
	}{
		{"default limit", Filter{}, 5, 50},
		{"page", Filter{Limit: 2, Offset: 4}, 1, 2},
		{"clamped", Filter{Limit: 1000, Offset: -3}, 5, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(res.Logs) != tt.wantLen || res.Limit != tt.wantLimit || res.Total != 5 {
				t.Errorf("List() = len %d limit %d total %d, want len %d limit %d total 5",
					len(res.Logs), res.Limit, res.Total, tt.wantLen, tt.wantLimit)
			}
		})
	}
}
