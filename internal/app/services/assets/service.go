// Package assets manages asset slots, their append-only versions and the
// current-version selection rule.
package assets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/storyloft/studio_layer/internal/app/domain/asset"
	"github.com/storyloft/studio_layer/internal/app/services/projects"
	"github.com/storyloft/studio_layer/internal/app/storage"
	"github.com/storyloft/studio_layer/internal/cache"
	"github.com/storyloft/studio_layer/pkg/logger"
)

// ErrVersionNotReady is returned when selecting a version that is not READY.
var ErrVersionNotReady = errors.New("only a READY version can be made current")

// Service manages assets and versions.
type Service struct {
	projects *projects.Service
	store    storage.AssetStore
	cache    *cache.Cache
	log      *logger.Logger
}

// New constructs an asset service. cache may be nil.
func New(projectSvc *projects.Service, store storage.AssetStore, c *cache.Cache, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("assets")
	}
	return &Service{projects: projectSvc, store: store, cache: c, log: log}
}

// Create creates an asset slot in a project the user owns.
func (s *Service) Create(ctx context.Context, userID, projectID string, kind asset.Kind, label, shotID string) (asset.Asset, error) {
	if _, err := s.projects.GetOwned(ctx, userID, projectID); err != nil {
		return asset.Asset{}, err
	}
	if !kind.Valid() {
		return asset.Asset{}, fmt.Errorf("unknown asset kind %q", kind)
	}
	label = strings.TrimSpace(label)
	if label == "" {
		return asset.Asset{}, fmt.Errorf("label is required")
	}

	created, err := s.store.CreateAsset(ctx, asset.Asset{
		ProjectID: projectID,
		ShotID:    shotID,
		Kind:      kind,
		Label:     label,
	})
	if err != nil {
		return asset.Asset{}, err
	}
	s.log.WithField("asset_id", created.ID).WithField("kind", string(kind)).Info("asset created")
	return created, nil
}

// GetOwned returns an asset after verifying project ownership.
func (s *Service) GetOwned(ctx context.Context, userID, id string) (asset.Asset, error) {
	a, err := s.store.GetAsset(ctx, id)
	if err != nil {
		return asset.Asset{}, err
	}
	if _, err := s.projects.GetOwned(ctx, userID, a.ProjectID); err != nil {
		return asset.Asset{}, err
	}
	return a, nil
}

// List lists an owned project's assets.
func (s *Service) List(ctx context.Context, userID, projectID string) ([]asset.Asset, error) {
	if _, err := s.projects.GetOwned(ctx, userID, projectID); err != nil {
		return nil, err
	}
	return s.store.ListAssets(ctx, projectID)
}

// ListVersions lists an asset's versions in sequence order.
func (s *Service) ListVersions(ctx context.Context, userID, assetID string) ([]asset.Version, error) {
	if _, err := s.GetOwned(ctx, userID, assetID); err != nil {
		return nil, err
	}
	return s.store.ListVersions(ctx, assetID)
}

// CurrentVersion returns the asset's current version, going through the cache
// when one is configured.
func (s *Service) CurrentVersion(ctx context.Context, userID, assetID string) (asset.Version, error) {
	a, err := s.GetOwned(ctx, userID, assetID)
	if err != nil {
		return asset.Version{}, err
	}
	if a.CurrentVersionID == "" {
		return asset.Version{}, fmt.Errorf("asset %s has no current version", assetID)
	}

	key := cache.KeyCurrentVersion(assetID)
	var cached asset.Version
	if s.cache.GetJSON(ctx, key, &cached) {
		return cached, nil
	}
	v, err := s.store.GetVersion(ctx, a.CurrentVersionID)
	if err != nil {
		return asset.Version{}, err
	}
	s.cache.SetJSON(ctx, key, v, time.Minute)
	return v, nil
}

// SetCurrentVersion selects a READY version as the asset's current version.
func (s *Service) SetCurrentVersion(ctx context.Context, userID, assetID, versionID string) (asset.Asset, error) {
	a, err := s.GetOwned(ctx, userID, assetID)
	if err != nil {
		return asset.Asset{}, err
	}
	v, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		return asset.Asset{}, err
	}
	if v.AssetID != a.ID {
		return asset.Asset{}, fmt.Errorf("version %s does not belong to asset %s", versionID, assetID)
	}
	if v.Status != asset.StatusReady {
		return asset.Asset{}, ErrVersionNotReady
	}
	a.CurrentVersionID = v.ID
	updated, err := s.store.UpdateAsset(ctx, a)
	if err != nil {
		return asset.Asset{}, err
	}
	s.cache.Delete(ctx, cache.KeyCurrentVersion(assetID))
	s.log.WithField("asset_id", assetID).WithField("version_id", versionID).Info("current version selected")
	return updated, nil
}

// AddPendingVersion appends a PENDING version for a generation job. Called by
// the generation service, not the HTTP surface.
func (s *Service) AddPendingVersion(ctx context.Context, assetID, jobID, provider, model, prompt string) (asset.Version, error) {
	return s.store.CreateVersion(ctx, asset.Version{
		AssetID:  assetID,
		Status:   asset.StatusPending,
		JobID:    jobID,
		Provider: provider,
		Model:    model,
		Prompt:   prompt,
	})
}

// MarkVersionGenerating transitions a version to GENERATING.
func (s *Service) MarkVersionGenerating(ctx context.Context, versionID string) (asset.Version, error) {
	v, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		return asset.Version{}, err
	}
	if v.Status != asset.StatusPending {
		return asset.Version{}, fmt.Errorf("version %s is %s, expected %s", versionID, v.Status, asset.StatusPending)
	}
	v.Status = asset.StatusGenerating
	return s.store.UpdateVersion(ctx, v)
}

// CompleteVersion marks a version READY with its output. If the asset has no
// current version yet the newly ready version is auto-selected.
func (s *Service) CompleteVersion(ctx context.Context, versionID, outputURL string) (asset.Version, error) {
	v, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		return asset.Version{}, err
	}
	if v.Status.Terminal() {
		return asset.Version{}, fmt.Errorf("version %s already %s", versionID, v.Status)
	}
	v.Status = asset.StatusReady
	v.OutputURL = outputURL
	v.FailureReason = ""
	updated, err := s.store.UpdateVersion(ctx, v)
	if err != nil {
		return asset.Version{}, err
	}

	a, err := s.store.GetAsset(ctx, v.AssetID)
	if err != nil {
		return asset.Version{}, err
	}
	if a.CurrentVersionID == "" {
		a.CurrentVersionID = updated.ID
		if _, err := s.store.UpdateAsset(ctx, a); err != nil {
			return asset.Version{}, err
		}
	}
	s.cache.Delete(ctx, cache.KeyCurrentVersion(v.AssetID))
	return updated, nil
}

// FailVersion marks a version FAILED with a reason.
func (s *Service) FailVersion(ctx context.Context, versionID, reason string) (asset.Version, error) {
	v, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		return asset.Version{}, err
	}
	if v.Status.Terminal() {
		return asset.Version{}, fmt.Errorf("version %s already %s", versionID, v.Status)
	}
	v.Status = asset.StatusFailed
	v.FailureReason = reason
	return s.store.UpdateVersion(ctx, v)
}
