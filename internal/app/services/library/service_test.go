package library

import (
	"context"
	"errors"
	"testing"

	"github.com/storyloft/studio_layer/internal/app/domain/library"
	"github.com/storyloft/studio_layer/internal/app/domain/reference"
	"github.com/storyloft/studio_layer/internal/app/storage/memory"
)

func TestCreateValidatesKind(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil)

	if _, err := svc.Create(context.Background(), "u1", library.Entity{Name: "Mira", Kind: "villain"}); err == nil {
		t.Fatal("expected error for unknown kind")
	}

	created, err := svc.Create(context.Background(), "u1", library.Entity{Name: "Mira", Kind: library.KindCharacter})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.OwnerID != "u1" {
		t.Fatalf("expected owner u1, got %q", created.OwnerID)
	}
}

func TestGetOwnedEnforcesOwnership(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil)

	created, err := svc.Create(context.Background(), "u1", library.Entity{Name: "Mira", Kind: library.KindCharacter})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.GetOwned(context.Background(), "u2", created.ID); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
}

func TestListFiltersByKind(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil)

	if _, err := svc.Create(context.Background(), "u1", library.Entity{Name: "Mira", Kind: library.KindCharacter}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Create(context.Background(), "u1", library.Entity{Name: "Harbor", Kind: library.KindScene}); err != nil {
		t.Fatalf("create: %v", err)
	}

	scenes, err := svc.List(context.Background(), "u1", library.KindScene)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(scenes) != 1 || scenes[0].Name != "Harbor" {
		t.Fatalf("expected only the scene, got %+v", scenes)
	}
	if _, err := svc.List(context.Background(), "u1", "villain"); err == nil {
		t.Fatal("expected error for unknown kind filter")
	}
}

func TestDeleteBlockedWhileReferenced(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil)

	created, err := svc.Create(context.Background(), "u1", library.Entity{Name: "Mira", Kind: library.KindCharacter})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ref, err := store.CreateReference(context.Background(), reference.Reference{
		ProjectID: "p1",
		EntityID:  created.ID,
		Kind:      library.KindCharacter,
		Alias:     "Mira",
	})
	if err != nil {
		t.Fatalf("create reference: %v", err)
	}

	if err := svc.Delete(context.Background(), "u1", created.ID); !errors.Is(err, ErrEntityInUse) {
		t.Fatalf("expected ErrEntityInUse, got %v", err)
	}

	if err := store.DeleteReference(context.Background(), ref.ID); err != nil {
		t.Fatalf("delete reference: %v", err)
	}
	if err := svc.Delete(context.Background(), "u1", created.ID); err != nil {
		t.Fatalf("delete after freeing: %v", err)
	}
	if _, err := svc.GetOwned(context.Background(), "u1", created.ID); err == nil {
		t.Fatal("expected deleted entity to be gone")
	}
}
