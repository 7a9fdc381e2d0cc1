// Package references manages project-level references to library entities and
// the replace-and-rebind flow.
//
// Invariants enforced here and in the stores:
//   - within one project a library entity is referenced by at most one row,
//   - a reference cannot be deleted while any shot binding points to it,
//   - Replace is atomic: create new row, repoint bindings, delete old row.
package references

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/storyloft/studio_layer/internal/app/domain/reference"
	librarysvc "github.com/storyloft/studio_layer/internal/app/services/library"
	"github.com/storyloft/studio_layer/internal/app/services/projects"
	"github.com/storyloft/studio_layer/internal/app/storage"
	"github.com/storyloft/studio_layer/pkg/logger"
)

var (
	// ErrReferenceBusy is returned when deleting a reference that shot
	// bindings still point to.
	ErrReferenceBusy = errors.New("reference has shot bindings")
	// ErrDuplicateReference re-exports the storage sentinel for callers.
	ErrDuplicateReference = storage.ErrDuplicateReference
)

// Service manages project references.
type Service struct {
	projects *projects.Service
	library  *librarysvc.Service
	store    storage.ReferenceStore
	scripts  storage.ScriptStore
	log      *logger.Logger
}

// New constructs a reference service. scripts is consulted for binding counts
// on delete.
func New(projectSvc *projects.Service, librarySvc *librarysvc.Service, store storage.ReferenceStore, scripts storage.ScriptStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("references")
	}
	return &Service{projects: projectSvc, library: librarySvc, store: store, scripts: scripts, log: log}
}

// Add references a library entity from a project. The acting user must own
// both the project and the entity; the entity's kind is copied onto the row.
func (s *Service) Add(ctx context.Context, userID, projectID, entityID, alias, promptOverride string) (reference.Reference, error) {
	if strings.TrimSpace(entityID) == "" {
		return reference.Reference{}, fmt.Errorf("entity_id is required")
	}
	if _, err := s.projects.GetOwned(ctx, userID, projectID); err != nil {
		return reference.Reference{}, err
	}
	entity, err := s.library.GetOwned(ctx, userID, entityID)
	if err != nil {
		return reference.Reference{}, err
	}
	if alias == "" {
		alias = entity.Name
	}

	created, err := s.store.CreateReference(ctx, reference.Reference{
		ProjectID:      projectID,
		EntityID:       entityID,
		Kind:           entity.Kind,
		Alias:          alias,
		PromptOverride: promptOverride,
	})
	if err != nil {
		return reference.Reference{}, err
	}
	s.log.WithField("reference_id", created.ID).
		WithField("project_id", projectID).
		WithField("entity_id", entityID).
		Info("reference added")
	return created, nil
}

// GetOwned returns a reference after verifying the user owns its project.
func (s *Service) GetOwned(ctx context.Context, userID, id string) (reference.Reference, error) {
	ref, err := s.store.GetReference(ctx, id)
	if err != nil {
		return reference.Reference{}, err
	}
	if _, err := s.projects.GetOwned(ctx, userID, ref.ProjectID); err != nil {
		return reference.Reference{}, err
	}
	return ref, nil
}

// List lists the references of a project the user owns.
func (s *Service) List(ctx context.Context, userID, projectID string) ([]reference.Reference, error) {
	if _, err := s.projects.GetOwned(ctx, userID, projectID); err != nil {
		return nil, err
	}
	return s.store.ListReferences(ctx, projectID)
}

// Update changes a reference's alias and/or prompt override.
func (s *Service) Update(ctx context.Context, userID, id string, alias, promptOverride *string) (reference.Reference, error) {
	ref, err := s.GetOwned(ctx, userID, id)
	if err != nil {
		return reference.Reference{}, err
	}
	if alias != nil {
		trimmed := strings.TrimSpace(*alias)
		if trimmed == "" {
			return reference.Reference{}, fmt.Errorf("alias cannot be empty")
		}
		ref.Alias = trimmed
	}
	if promptOverride != nil {
		ref.PromptOverride = *promptOverride
	}
	return s.store.UpdateReference(ctx, ref)
}

// Delete removes a reference. It fails with ErrReferenceBusy while any shot
// binding still points to the reference.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	ref, err := s.GetOwned(ctx, userID, id)
	if err != nil {
		return err
	}
	count, err := s.scripts.CountBindingsByReference(ctx, ref.ID)
	if err != nil {
		return fmt.Errorf("count bindings: %w", err)
	}
	if count > 0 {
		return ErrReferenceBusy
	}
	if err := s.store.DeleteReference(ctx, id); err != nil {
		return err
	}
	s.log.WithField("reference_id", id).Info("reference deleted")
	return nil
}

// Replace swaps a project reference for a different library entity in one
// atomic step: the new entity must not already be referenced in the project,
// a new reference row is created, every shot binding is repointed to it and
// the old row is deleted. The old alias and prompt override carry over unless
// new values are supplied.
func (s *Service) Replace(ctx context.Context, userID, oldID, newEntityID string, alias, promptOverride *string) (reference.Reference, error) {
	old, err := s.GetOwned(ctx, userID, oldID)
	if err != nil {
		return reference.Reference{}, err
	}
	entity, err := s.library.GetOwned(ctx, userID, newEntityID)
	if err != nil {
		return reference.Reference{}, err
	}
	if entity.ID == old.EntityID {
		return reference.Reference{}, fmt.Errorf("reference already points at entity %s", newEntityID)
	}
	if entity.Kind != old.Kind {
		return reference.Reference{}, fmt.Errorf("cannot replace %s reference with %s entity", old.Kind, entity.Kind)
	}

	newRef := reference.Reference{
		ProjectID:      old.ProjectID,
		EntityID:       entity.ID,
		Kind:           entity.Kind,
		Alias:          old.Alias,
		PromptOverride: old.PromptOverride,
	}
	if alias != nil && strings.TrimSpace(*alias) != "" {
		newRef.Alias = strings.TrimSpace(*alias)
	}
	if promptOverride != nil {
		newRef.PromptOverride = *promptOverride
	}

	created, err := s.store.ReplaceReference(ctx, oldID, newRef)
	if err != nil {
		return reference.Reference{}, err
	}
	s.log.WithField("old_reference_id", oldID).
		WithField("reference_id", created.ID).
		WithField("entity_id", entity.ID).
		Info("reference replaced")
	return created, nil
}
