// Package scripts manages scripts, shots and shot bindings.
package scripts

import (
	"context"
	"fmt"
	"strings"

	"github.com/storyloft/studio_layer/internal/app/domain/script"
	"github.com/storyloft/studio_layer/internal/app/services/projects"
	"github.com/storyloft/studio_layer/internal/app/storage"
	"github.com/storyloft/studio_layer/pkg/logger"
)

// Service manages scripts and their shots.
type Service struct {
	projects   *projects.Service
	store      storage.ScriptStore
	references storage.ReferenceStore
	log        *logger.Logger
}

// New constructs a script service. references is used to validate that shot
// bindings stay within the shot's project.
func New(projectSvc *projects.Service, store storage.ScriptStore, references storage.ReferenceStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("scripts")
	}
	return &Service{projects: projectSvc, store: store, references: references, log: log}
}

// CreateScript creates a script in a project the user owns.
func (s *Service) CreateScript(ctx context.Context, userID, projectID string, sc script.Script) (script.Script, error) {
	if _, err := s.projects.GetOwned(ctx, userID, projectID); err != nil {
		return script.Script{}, err
	}
	sc.Title = strings.TrimSpace(sc.Title)
	if sc.Title == "" {
		return script.Script{}, fmt.Errorf("title is required")
	}
	sc.ProjectID = projectID
	if sc.EpisodeOrder == 0 {
		existing, err := s.store.ListScripts(ctx, projectID)
		if err != nil {
			return script.Script{}, err
		}
		sc.EpisodeOrder = len(existing) + 1
	}
	created, err := s.store.CreateScript(ctx, sc)
	if err != nil {
		return script.Script{}, err
	}
	s.log.WithField("script_id", created.ID).WithField("project_id", projectID).Info("script created")
	return created, nil
}

// GetScript returns a script after verifying project ownership.
func (s *Service) GetScript(ctx context.Context, userID, id string) (script.Script, error) {
	sc, err := s.store.GetScript(ctx, id)
	if err != nil {
		return script.Script{}, err
	}
	if _, err := s.projects.GetOwned(ctx, userID, sc.ProjectID); err != nil {
		return script.Script{}, err
	}
	return sc, nil
}

// ListScripts lists scripts of an owned project in episode order.
func (s *Service) ListScripts(ctx context.Context, userID, projectID string) ([]script.Script, error) {
	if _, err := s.projects.GetOwned(ctx, userID, projectID); err != nil {
		return nil, err
	}
	return s.store.ListScripts(ctx, projectID)
}

// UpdateScript applies optional field changes.
func (s *Service) UpdateScript(ctx context.Context, userID, id string, title, synopsis, content *string) (script.Script, error) {
	sc, err := s.GetScript(ctx, userID, id)
	if err != nil {
		return script.Script{}, err
	}
	if title != nil {
		trimmed := strings.TrimSpace(*title)
		if trimmed == "" {
			return script.Script{}, fmt.Errorf("title cannot be empty")
		}
		sc.Title = trimmed
	}
	if synopsis != nil {
		sc.Synopsis = *synopsis
	}
	if content != nil {
		sc.Content = *content
	}
	return s.store.UpdateScript(ctx, sc)
}

// DeleteScript removes a script, its shots and their bindings.
func (s *Service) DeleteScript(ctx context.Context, userID, id string) error {
	if _, err := s.GetScript(ctx, userID, id); err != nil {
		return err
	}
	if err := s.store.DeleteScript(ctx, id); err != nil {
		return err
	}
	s.log.WithField("script_id", id).Info("script deleted")
	return nil
}

// CreateShot appends a shot to a script. Seq is assigned as the next number
// unless a position is requested, in which case siblings are renumbered.
func (s *Service) CreateShot(ctx context.Context, userID, scriptID string, sh script.Shot) (script.Shot, error) {
	sc, err := s.GetScript(ctx, userID, scriptID)
	if err != nil {
		return script.Shot{}, err
	}
	sh.ScriptID = sc.ID
	requested := sh.Seq
	sh.Seq = 0
	created, err := s.store.CreateShot(ctx, sh)
	if err != nil {
		return script.Shot{}, err
	}
	if requested > 0 && requested != created.Seq {
		return s.moveShot(ctx, sc.ID, created, requested)
	}
	return created, nil
}

// GetShot returns a shot after verifying ownership through its script.
func (s *Service) GetShot(ctx context.Context, userID, id string) (script.Shot, error) {
	sh, err := s.store.GetShot(ctx, id)
	if err != nil {
		return script.Shot{}, err
	}
	if _, err := s.GetScript(ctx, userID, sh.ScriptID); err != nil {
		return script.Shot{}, err
	}
	return sh, nil
}

// ListShots lists a script's shots in sequence order.
func (s *Service) ListShots(ctx context.Context, userID, scriptID string) ([]script.Shot, error) {
	if _, err := s.GetScript(ctx, userID, scriptID); err != nil {
		return nil, err
	}
	return s.store.ListShots(ctx, scriptID)
}

// UpdateShot applies optional field changes.
func (s *Service) UpdateShot(ctx context.Context, userID, id string, description, cameraNotes, dialogue *string, durationSecs *float64) (script.Shot, error) {
	sh, err := s.GetShot(ctx, userID, id)
	if err != nil {
		return script.Shot{}, err
	}
	if description != nil {
		sh.Description = *description
	}
	if cameraNotes != nil {
		sh.CameraNotes = *cameraNotes
	}
	if dialogue != nil {
		sh.Dialogue = *dialogue
	}
	if durationSecs != nil {
		if *durationSecs < 0 {
			return script.Shot{}, fmt.Errorf("duration_secs cannot be negative")
		}
		sh.DurationSecs = *durationSecs
	}
	return s.store.UpdateShot(ctx, sh)
}

// ReorderShot moves a shot to position seq (1-based) and renumbers siblings
// contiguously.
func (s *Service) ReorderShot(ctx context.Context, userID, id string, seq int) (script.Shot, error) {
	if seq < 1 {
		return script.Shot{}, fmt.Errorf("seq must be >= 1")
	}
	sh, err := s.GetShot(ctx, userID, id)
	if err != nil {
		return script.Shot{}, err
	}
	return s.moveShot(ctx, sh.ScriptID, sh, seq)
}

func (s *Service) moveShot(ctx context.Context, scriptID string, sh script.Shot, seq int) (script.Shot, error) {
	shots, err := s.store.ListShots(ctx, scriptID)
	if err != nil {
		return script.Shot{}, err
	}

	ordered := make([]script.Shot, 0, len(shots))
	for _, other := range shots {
		if other.ID != sh.ID {
			ordered = append(ordered, other)
		}
	}
	if seq > len(ordered)+1 {
		seq = len(ordered) + 1
	}
	ordered = append(ordered[:seq-1], append([]script.Shot{sh}, ordered[seq-1:]...)...)

	var moved script.Shot
	for i := range ordered {
		ordered[i].Seq = i + 1
		if ordered[i].ID == sh.ID {
			moved = ordered[i]
		}
	}
	if err := s.store.ResequenceShots(ctx, scriptID, ordered); err != nil {
		return script.Shot{}, err
	}
	return moved, nil
}

// DeleteShot removes a shot, its bindings, and renumbers siblings.
func (s *Service) DeleteShot(ctx context.Context, userID, id string) error {
	sh, err := s.GetShot(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteShot(ctx, id); err != nil {
		return err
	}
	shots, err := s.store.ListShots(ctx, sh.ScriptID)
	if err != nil {
		return err
	}
	for i := range shots {
		shots[i].Seq = i + 1
	}
	if err := s.store.ResequenceShots(ctx, sh.ScriptID, shots); err != nil {
		return err
	}
	s.log.WithField("shot_id", id).Info("shot deleted")
	return nil
}

// BindReference attaches a project reference to a shot in a role. The
// reference must belong to the same project as the shot's script.
func (s *Service) BindReference(ctx context.Context, userID, shotID, referenceID, role string) (script.Binding, error) {
	sh, err := s.GetShot(ctx, userID, shotID)
	if err != nil {
		return script.Binding{}, err
	}
	sc, err := s.store.GetScript(ctx, sh.ScriptID)
	if err != nil {
		return script.Binding{}, err
	}
	ref, err := s.references.GetReference(ctx, referenceID)
	if err != nil {
		return script.Binding{}, err
	}
	if ref.ProjectID != sc.ProjectID {
		return script.Binding{}, fmt.Errorf("reference %s belongs to a different project", referenceID)
	}

	existing, err := s.store.ListBindingsByShot(ctx, shotID)
	if err != nil {
		return script.Binding{}, err
	}
	for _, b := range existing {
		if b.ReferenceID == referenceID {
			return script.Binding{}, fmt.Errorf("reference %s already bound to shot", referenceID)
		}
	}

	created, err := s.store.CreateBinding(ctx, script.Binding{
		ShotID:      shotID,
		ReferenceID: referenceID,
		Role:        strings.TrimSpace(role),
	})
	if err != nil {
		return script.Binding{}, err
	}
	s.log.WithField("shot_id", shotID).WithField("reference_id", referenceID).Info("reference bound to shot")
	return created, nil
}

// ListBindings lists a shot's bindings.
func (s *Service) ListBindings(ctx context.Context, userID, shotID string) ([]script.Binding, error) {
	if _, err := s.GetShot(ctx, userID, shotID); err != nil {
		return nil, err
	}
	return s.store.ListBindingsByShot(ctx, shotID)
}

// UnbindReference removes a binding.
func (s *Service) UnbindReference(ctx context.Context, userID, bindingID string) error {
	b, err := s.store.GetBinding(ctx, bindingID)
	if err != nil {
		return err
	}
	if _, err := s.GetShot(ctx, userID, b.ShotID); err != nil {
		return err
	}
	return s.store.DeleteBinding(ctx, bindingID)
}
