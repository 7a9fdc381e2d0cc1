// Package library manages the reusable character/scene/prop library.
package library

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/storyloft/studio_layer/internal/app/domain/library"
	"github.com/storyloft/studio_layer/internal/app/storage"
	"github.com/storyloft/studio_layer/pkg/logger"
)

var (
	// ErrNotOwner is returned when the acting user does not own the entity.
	ErrNotOwner = errors.New("library entity not owned by user")
	// ErrEntityInUse is returned when deleting an entity still referenced by a
	// project.
	ErrEntityInUse = errors.New("library entity is referenced by a project")
)

// Service manages library entities.
type Service struct {
	store      storage.LibraryStore
	references storage.ReferenceStore
	log        *logger.Logger
}

// New constructs a library service. references is consulted for the delete
// reference count; it may be nil in tests that do not exercise deletion.
func New(store storage.LibraryStore, references storage.ReferenceStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("library")
	}
	return &Service{store: store, references: references, log: log}
}

// Create adds an entity to the owner's library.
func (s *Service) Create(ctx context.Context, ownerID string, e library.Entity) (library.Entity, error) {
	if strings.TrimSpace(ownerID) == "" {
		return library.Entity{}, fmt.Errorf("owner_id is required")
	}
	e.Name = strings.TrimSpace(e.Name)
	if e.Name == "" {
		return library.Entity{}, fmt.Errorf("name is required")
	}
	if !e.Kind.Valid() {
		return library.Entity{}, fmt.Errorf("unknown entity kind %q", e.Kind)
	}
	e.OwnerID = ownerID

	created, err := s.store.CreateEntity(ctx, e)
	if err != nil {
		return library.Entity{}, err
	}
	s.log.WithField("entity_id", created.ID).WithField("kind", string(created.Kind)).Info("library entity created")
	return created, nil
}

// GetOwned returns the entity after verifying ownership.
func (s *Service) GetOwned(ctx context.Context, ownerID, id string) (library.Entity, error) {
	e, err := s.store.GetEntity(ctx, id)
	if err != nil {
		return library.Entity{}, err
	}
	if e.OwnerID != ownerID {
		return library.Entity{}, ErrNotOwner
	}
	return e, nil
}

// List lists the owner's entities, optionally filtered by kind.
func (s *Service) List(ctx context.Context, ownerID string, kind library.Kind) ([]library.Entity, error) {
	if kind != "" && !kind.Valid() {
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
	return s.store.ListEntities(ctx, ownerID, kind)
}

// Update applies optional field changes after an ownership check.
func (s *Service) Update(ctx context.Context, ownerID, id string, name, description, prompt, portraitAssetID *string, tags []string) (library.Entity, error) {
	e, err := s.GetOwned(ctx, ownerID, id)
	if err != nil {
		return library.Entity{}, err
	}
	if name != nil {
		trimmed := strings.TrimSpace(*name)
		if trimmed == "" {
			return library.Entity{}, fmt.Errorf("name cannot be empty")
		}
		e.Name = trimmed
	}
	if description != nil {
		e.Description = *description
	}
	if prompt != nil {
		e.Prompt = *prompt
	}
	if portraitAssetID != nil {
		e.PortraitAssetID = *portraitAssetID
	}
	if tags != nil {
		e.Tags = tags
	}
	return s.store.UpdateEntity(ctx, e)
}

// Delete soft-deletes an entity. Deletion is blocked while any project still
// references the entity.
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	if _, err := s.GetOwned(ctx, ownerID, id); err != nil {
		return err
	}
	if s.references != nil {
		count, err := s.references.CountReferencesByEntity(ctx, id)
		if err != nil {
			return fmt.Errorf("count references: %w", err)
		}
		if count > 0 {
			return ErrEntityInUse
		}
	}
	if err := s.store.SoftDeleteEntity(ctx, id, time.Now().UTC()); err != nil {
		return err
	}
	s.log.WithField("entity_id", id).Info("library entity soft-deleted")
	return nil
}
