package references

import (
	"context"
	"errors"
	"testing"

	"github.com/storyloft/studio_layer/internal/app/domain/library"
	"github.com/storyloft/studio_layer/internal/app/domain/project"
	"github.com/storyloft/studio_layer/internal/app/domain/script"
	librarysvc "github.com/storyloft/studio_layer/internal/app/services/library"
	"github.com/storyloft/studio_layer/internal/app/services/projects"
	"github.com/storyloft/studio_layer/internal/app/storage/memory"
)

type fixture struct {
	svc     *Service
	store   *memory.Store
	project project.Project
	mira    library.Entity
	nova    library.Entity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	projectSvc := projects.New(store, nil)
	librarySvc := librarysvc.New(store, store, nil)
	svc := New(projectSvc, librarySvc, store, store, nil)

	p, err := projectSvc.Create(context.Background(), "u1", project.Project{Title: "Pilot"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	mira, err := librarySvc.Create(context.Background(), "u1", library.Entity{Name: "Mira", Kind: library.KindCharacter})
	if err != nil {
		t.Fatalf("create entity: %v", err)
	}
	nova, err := librarySvc.Create(context.Background(), "u1", library.Entity{Name: "Nova", Kind: library.KindCharacter})
	if err != nil {
		t.Fatalf("create entity: %v", err)
	}
	return &fixture{svc: svc, store: store, project: p, mira: mira, nova: nova}
}

// bindToShot creates a script, a shot and a binding pointing at referenceID.
func (f *fixture) bindToShot(t *testing.T, referenceID string) script.Binding {
	t.Helper()
	sc, err := f.store.CreateScript(context.Background(), script.Script{ProjectID: f.project.ID, Title: "Ep 1"})
	if err != nil {
		t.Fatalf("create script: %v", err)
	}
	sh, err := f.store.CreateShot(context.Background(), script.Shot{ScriptID: sc.ID})
	if err != nil {
		t.Fatalf("create shot: %v", err)
	}
	b, err := f.store.CreateBinding(context.Background(), script.Binding{ShotID: sh.ID, ReferenceID: referenceID, Role: "lead"})
	if err != nil {
		t.Fatalf("create binding: %v", err)
	}
	return b
}

func TestAddCopiesKindAndDefaultsAlias(t *testing.T) {
	f := newFixture(t)

	ref, err := f.svc.Add(context.Background(), "u1", f.project.ID, f.mira.ID, "", "")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if ref.Kind != library.KindCharacter {
		t.Fatalf("expected character kind, got %s", ref.Kind)
	}
	if ref.Alias != "Mira" {
		t.Fatalf("expected alias to default to entity name, got %q", ref.Alias)
	}
}

func TestAddRejectsSecondReferenceToSameEntity(t *testing.T) {
	f := newFixture(t)

	if _, err := f.svc.Add(context.Background(), "u1", f.project.ID, f.mira.ID, "", ""); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := f.svc.Add(context.Background(), "u1", f.project.ID, f.mira.ID, "again", ""); !errors.Is(err, ErrDuplicateReference) {
		t.Fatalf("expected ErrDuplicateReference, got %v", err)
	}
}

func TestAddEnforcesOwnership(t *testing.T) {
	f := newFixture(t)

	if _, err := f.svc.Add(context.Background(), "u2", f.project.ID, f.mira.ID, "", ""); err == nil {
		t.Fatal("expected ownership error")
	}
}

func TestDeleteBlockedWhileBound(t *testing.T) {
	f := newFixture(t)

	ref, err := f.svc.Add(context.Background(), "u1", f.project.ID, f.mira.ID, "", "")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	b := f.bindToShot(t, ref.ID)

	if err := f.svc.Delete(context.Background(), "u1", ref.ID); !errors.Is(err, ErrReferenceBusy) {
		t.Fatalf("expected ErrReferenceBusy, got %v", err)
	}

	if err := f.store.DeleteBinding(context.Background(), b.ID); err != nil {
		t.Fatalf("delete binding: %v", err)
	}
	if err := f.svc.Delete(context.Background(), "u1", ref.ID); err != nil {
		t.Fatalf("delete after unbinding: %v", err)
	}
}

func TestReplaceRepointsBindings(t *testing.T) {
	f := newFixture(t)

	old, err := f.svc.Add(context.Background(), "u1", f.project.ID, f.mira.ID, "Lead", "blue cloak")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	b := f.bindToShot(t, old.ID)

	created, err := f.svc.Replace(context.Background(), "u1", old.ID, f.nova.ID, nil, nil)
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if created.EntityID != f.nova.ID {
		t.Fatalf("expected new reference to point at %s, got %s", f.nova.ID, created.EntityID)
	}
	if created.Alias != "Lead" || created.PromptOverride != "blue cloak" {
		t.Fatalf("expected alias and override to carry over, got %q / %q", created.Alias, created.PromptOverride)
	}

	moved, err := f.store.GetBinding(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("get binding: %v", err)
	}
	if moved.ReferenceID != created.ID {
		t.Fatalf("expected binding repointed to %s, got %s", created.ID, moved.ReferenceID)
	}
	if _, err := f.store.GetReference(context.Background(), old.ID); err == nil {
		t.Fatal("expected old reference to be deleted")
	}
}

func TestReplaceAcceptsNewAlias(t *testing.T) {
	f := newFixture(t)

	old, err := f.svc.Add(context.Background(), "u1", f.project.ID, f.mira.ID, "Lead", "")
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	alias := "Understudy"
	created, err := f.svc.Replace(context.Background(), "u1", old.ID, f.nova.ID, &alias, nil)
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if created.Alias != "Understudy" {
		t.Fatalf("expected supplied alias, got %q", created.Alias)
	}
}

func TestReplaceRejectsKindMismatch(t *testing.T) {
	f := newFixture(t)

	harbor, err := f.store.CreateEntity(context.Background(), library.Entity{OwnerID: "u1", Name: "Harbor", Kind: library.KindScene})
	if err != nil {
		t.Fatalf("create entity: %v", err)
	}
	old, err := f.svc.Add(context.Background(), "u1", f.project.ID, f.mira.ID, "", "")
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	if _, err := f.svc.Replace(context.Background(), "u1", old.ID, harbor.ID, nil, nil); err == nil {
		t.Fatal("expected error replacing character with scene")
	}
}

func TestReplaceRejectsSameEntity(t *testing.T) {
	f := newFixture(t)

	old, err := f.svc.Add(context.Background(), "u1", f.project.ID, f.mira.ID, "", "")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := f.svc.Replace(context.Background(), "u1", old.ID, f.mira.ID, nil, nil); err == nil {
		t.Fatal("expected error replacing with the same entity")
	}
}

func TestReplaceRejectsAlreadyReferencedEntity(t *testing.T) {
	f := newFixture(t)

	old, err := f.svc.Add(context.Background(), "u1", f.project.ID, f.mira.ID, "", "")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	other, err := f.svc.Add(context.Background(), "u1", f.project.ID, f.nova.ID, "", "")
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	if _, err := f.svc.Replace(context.Background(), "u1", old.ID, f.nova.ID, nil, nil); !errors.Is(err, ErrDuplicateReference) {
		t.Fatalf("expected ErrDuplicateReference, got %v", err)
	}

	// The failed replace must leave both references untouched.
	if _, err := f.store.GetReference(context.Background(), old.ID); err != nil {
		t.Fatalf("old reference must survive failed replace: %v", err)
	}
	if _, err := f.store.GetReference(context.Background(), other.ID); err != nil {
		t.Fatalf("other reference must survive failed replace: %v", err)
	}
}

func TestUpdateRejectsEmptyAlias(t *testing.T) {
	f := newFixture(t)

	ref, err := f.svc.Add(context.Background(), "u1", f.project.ID, f.mira.ID, "", "")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	empty := "  "
	if _, err := f.svc.Update(context.Background(), "u1", ref.ID, &empty, nil); err == nil {
		t.Fatal("expected error for blank alias")
	}
}
