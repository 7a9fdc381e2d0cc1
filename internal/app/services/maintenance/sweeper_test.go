package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/storyloft/studio_layer/internal/app/domain/project"
	"github.com/storyloft/studio_layer/internal/app/storage/memory"
)

func TestSweepPurgesExpiredRows(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	p, err := store.CreateProject(ctx, project.Project{OwnerID: "u1", Title: "old", Status: project.StatusDraft})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	if err := store.SoftDeleteProject(ctx, p.ID, time.Now().Add(-48*time.Hour)); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	sweeper := NewSweeper(store, "@hourly", 24*time.Hour, nil)
	sweeper.Sweep(ctx)

	removed, err := store.PurgeSoftDeleted(ctx, time.Now())
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if removed != 0 {
		t.Fatalf("sweep left %d expired rows behind", removed)
	}
}

func TestSweepKeepsRowsInsideRetention(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	p, err := store.CreateProject(ctx, project.Project{OwnerID: "u1", Title: "recent", Status: project.StatusDraft})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	if err := store.SoftDeleteProject(ctx, p.ID, time.Now()); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	sweeper := NewSweeper(store, "@hourly", 24*time.Hour, nil)
	sweeper.Sweep(ctx)

	removed, err := store.PurgeSoftDeleted(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected recent row to survive the sweep, purge removed %d", removed)
	}
}
