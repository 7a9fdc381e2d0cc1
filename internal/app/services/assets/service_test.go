package assets

import (
	"context"
	"errors"
	"testing"

	"github.com/storyloft/studio_layer/internal/app/domain/asset"
	"github.com/storyloft/studio_layer/internal/app/domain/project"
	"github.com/storyloft/studio_layer/internal/app/services/projects"
	"github.com/storyloft/studio_layer/internal/app/storage/memory"
)

func newFixture(t *testing.T) (*Service, project.Project) {
	t.Helper()
	store := memory.New()
	projectSvc := projects.New(store, nil)
	svc := New(projectSvc, store, nil, nil)

	p, err := projectSvc.Create(context.Background(), "u1", project.Project{Title: "Pilot"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return svc, p
}

func TestCreateValidatesInput(t *testing.T) {
	svc, p := newFixture(t)

	if _, err := svc.Create(context.Background(), "u1", p.ID, "gif", "portrait", ""); err == nil {
		t.Fatal("expected error for unknown kind")
	}
	if _, err := svc.Create(context.Background(), "u1", p.ID, asset.KindImage, "  ", ""); err == nil {
		t.Fatal("expected error for blank label")
	}
	if _, err := svc.Create(context.Background(), "u2", p.ID, asset.KindImage, "portrait", ""); err == nil {
		t.Fatal("expected ownership error")
	}
}

func TestVersionLifecycleAutoSelectsFirstReady(t *testing.T) {
	svc, p := newFixture(t)

	a, err := svc.Create(context.Background(), "u1", p.ID, asset.KindImage, "portrait", "")
	if err != nil {
		t.Fatalf("create asset: %v", err)
	}
	v, err := svc.AddPendingVersion(context.Background(), a.ID, "job-1", "openai", "dall-e-3", "a portrait")
	if err != nil {
		t.Fatalf("add version: %v", err)
	}
	if v.Seq != 1 || v.Status != asset.StatusPending {
		t.Fatalf("expected pending version at seq 1, got %d/%s", v.Seq, v.Status)
	}

	if _, err := svc.MarkVersionGenerating(context.Background(), v.ID); err != nil {
		t.Fatalf("mark generating: %v", err)
	}
	done, err := svc.CompleteVersion(context.Background(), v.ID, "https://cdn/img.png")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != asset.StatusReady || done.OutputURL != "https://cdn/img.png" {
		t.Fatalf("expected ready version with output, got %+v", done)
	}

	current, err := svc.CurrentVersion(context.Background(), "u1", a.ID)
	if err != nil {
		t.Fatalf("current version: %v", err)
	}
	if current.ID != v.ID {
		t.Fatalf("expected first ready version auto-selected, got %s", current.ID)
	}
}

func TestCompleteVersionRejectsTerminal(t *testing.T) {
	svc, p := newFixture(t)

	a, err := svc.Create(context.Background(), "u1", p.ID, asset.KindImage, "portrait", "")
	if err != nil {
		t.Fatalf("create asset: %v", err)
	}
	v, err := svc.AddPendingVersion(context.Background(), a.ID, "job-1", "openai", "dall-e-3", "a portrait")
	if err != nil {
		t.Fatalf("add version: %v", err)
	}
	if _, err := svc.FailVersion(context.Background(), v.ID, "provider error"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if _, err := svc.CompleteVersion(context.Background(), v.ID, "https://cdn/img.png"); err == nil {
		t.Fatal("expected error completing a failed version")
	}
}

func TestMarkVersionGeneratingRequiresPending(t *testing.T) {
	svc, p := newFixture(t)

	a, err := svc.Create(context.Background(), "u1", p.ID, asset.KindImage, "portrait", "")
	if err != nil {
		t.Fatalf("create asset: %v", err)
	}
	v, err := svc.AddPendingVersion(context.Background(), a.ID, "job-1", "openai", "dall-e-3", "a portrait")
	if err != nil {
		t.Fatalf("add version: %v", err)
	}
	if _, err := svc.MarkVersionGenerating(context.Background(), v.ID); err != nil {
		t.Fatalf("mark generating: %v", err)
	}
	if _, err := svc.MarkVersionGenerating(context.Background(), v.ID); err == nil {
		t.Fatal("expected error marking a generating version again")
	}
}

func TestSetCurrentVersionRequiresReady(t *testing.T) {
	svc, p := newFixture(t)

	a, err := svc.Create(context.Background(), "u1", p.ID, asset.KindImage, "portrait", "")
	if err != nil {
		t.Fatalf("create asset: %v", err)
	}
	pending, err := svc.AddPendingVersion(context.Background(), a.ID, "job-1", "openai", "dall-e-3", "a portrait")
	if err != nil {
		t.Fatalf("add version: %v", err)
	}
	if _, err := svc.SetCurrentVersion(context.Background(), "u1", a.ID, pending.ID); !errors.Is(err, ErrVersionNotReady) {
		t.Fatalf("expected ErrVersionNotReady, got %v", err)
	}
}

func TestSetCurrentVersionRejectsForeignVersion(t *testing.T) {
	svc, p := newFixture(t)

	a, err := svc.Create(context.Background(), "u1", p.ID, asset.KindImage, "portrait", "")
	if err != nil {
		t.Fatalf("create asset: %v", err)
	}
	b, err := svc.Create(context.Background(), "u1", p.ID, asset.KindImage, "landscape", "")
	if err != nil {
		t.Fatalf("create asset: %v", err)
	}
	v, err := svc.AddPendingVersion(context.Background(), b.ID, "job-1", "openai", "dall-e-3", "a landscape")
	if err != nil {
		t.Fatalf("add version: %v", err)
	}
	if _, err := svc.CompleteVersion(context.Background(), v.ID, "https://cdn/img.png"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if _, err := svc.SetCurrentVersion(context.Background(), "u1", a.ID, v.ID); err == nil {
		t.Fatal("expected error selecting another asset's version")
	}
}

func TestSetCurrentVersionSwitchesSelection(t *testing.T) {
	svc, p := newFixture(t)

	a, err := svc.Create(context.Background(), "u1", p.ID, asset.KindImage, "portrait", "")
	if err != nil {
		t.Fatalf("create asset: %v", err)
	}
	first, err := svc.AddPendingVersion(context.Background(), a.ID, "job-1", "openai", "dall-e-3", "take one")
	if err != nil {
		t.Fatalf("add version: %v", err)
	}
	if _, err := svc.CompleteVersion(context.Background(), first.ID, "https://cdn/1.png"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	second, err := svc.AddPendingVersion(context.Background(), a.ID, "job-2", "openai", "dall-e-3", "take two")
	if err != nil {
		t.Fatalf("add version: %v", err)
	}
	if _, err := svc.CompleteVersion(context.Background(), second.ID, "https://cdn/2.png"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// First ready version stays current until the user switches.
	updated, err := svc.SetCurrentVersion(context.Background(), "u1", a.ID, second.ID)
	if err != nil {
		t.Fatalf("set current: %v", err)
	}
	if updated.CurrentVersionID != second.ID {
		t.Fatalf("expected current %s, got %s", second.ID, updated.CurrentVersionID)
	}

	versions, err := svc.ListVersions(context.Background(), "u1", a.ID)
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	if len(versions) != 2 || versions[0].Seq != 1 || versions[1].Seq != 2 {
		t.Fatalf("expected two versions in sequence order, got %+v", versions)
	}
}
