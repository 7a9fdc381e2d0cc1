// Package projects manages project records and ownership.
package projects

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/storyloft/studio_layer/internal/app/domain/project"
	"github.com/storyloft/studio_layer/internal/app/storage"
	"github.com/storyloft/studio_layer/pkg/logger"
)

// ErrNotOwner is returned when the acting user does not own the project.
var ErrNotOwner = errors.New("project not owned by user")

// Service manages projects.
type Service struct {
	store storage.ProjectStore
	log   *logger.Logger
}

// New constructs a project service.
func New(store storage.ProjectStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("projects")
	}
	return &Service{store: store, log: log}
}

// Create creates a project for the owner.
func (s *Service) Create(ctx context.Context, ownerID string, p project.Project) (project.Project, error) {
	if strings.TrimSpace(ownerID) == "" {
		return project.Project{}, fmt.Errorf("owner_id is required")
	}
	p.Title = strings.TrimSpace(p.Title)
	if p.Title == "" {
		return project.Project{}, fmt.Errorf("title is required")
	}
	p.OwnerID = ownerID
	if p.Status == "" {
		p.Status = project.StatusDraft
	}
	if p.AspectRatio == "" {
		p.AspectRatio = "16:9"
	}

	created, err := s.store.CreateProject(ctx, p)
	if err != nil {
		return project.Project{}, err
	}
	s.log.WithField("project_id", created.ID).WithField("owner_id", ownerID).Info("project created")
	return created, nil
}

// GetOwned returns the project after verifying ownership.
func (s *Service) GetOwned(ctx context.Context, ownerID, id string) (project.Project, error) {
	p, err := s.store.GetProject(ctx, id)
	if err != nil {
		return project.Project{}, err
	}
	if p.OwnerID != ownerID {
		return project.Project{}, ErrNotOwner
	}
	return p, nil
}

// List lists the owner's live projects.
func (s *Service) List(ctx context.Context, ownerID string) ([]project.Project, error) {
	return s.store.ListProjects(ctx, ownerID)
}

// Update applies optional field changes after an ownership check.
func (s *Service) Update(ctx context.Context, ownerID, id string, title, description, style, aspectRatio *string, status *project.Status) (project.Project, error) {
	p, err := s.GetOwned(ctx, ownerID, id)
	if err != nil {
		return project.Project{}, err
	}
	if title != nil {
		trimmed := strings.TrimSpace(*title)
		if trimmed == "" {
			return project.Project{}, fmt.Errorf("title cannot be empty")
		}
		p.Title = trimmed
	}
	if description != nil {
		p.Description = *description
	}
	if style != nil {
		p.Style = *style
	}
	if aspectRatio != nil {
		p.AspectRatio = *aspectRatio
	}
	if status != nil {
		switch *status {
		case project.StatusDraft, project.StatusInProgress, project.StatusCompleted:
			p.Status = *status
		default:
			return project.Project{}, fmt.Errorf("unknown status %s", *status)
		}
	}
	return s.store.UpdateProject(ctx, p)
}

// Delete soft-deletes a project after an ownership check.
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	if _, err := s.GetOwned(ctx, ownerID, id); err != nil {
		return err
	}
	if err := s.store.SoftDeleteProject(ctx, id, time.Now().UTC()); err != nil {
		return err
	}
	s.log.WithField("project_id", id).Info("project soft-deleted")
	return nil
}
