// Package generation manages AI generation jobs: submission with a points
// hold, provider invocation through the dispatcher, and terminal settlement
// of both the asset version and the wallet hold.
package generation

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/storyloft/studio_layer/internal/app/domain/asset"
	"github.com/storyloft/studio_layer/internal/app/domain/job"
	"github.com/storyloft/studio_layer/internal/app/metrics"
	assetsvc "github.com/storyloft/studio_layer/internal/app/services/assets"
	"github.com/storyloft/studio_layer/internal/app/services/projects"
	walletsvc "github.com/storyloft/studio_layer/internal/app/services/wallet"
	"github.com/storyloft/studio_layer/internal/app/storage"
	"github.com/storyloft/studio_layer/pkg/logger"
)

var (
	// ErrAsync is returned by providers that accept work and deliver the
	// result later through the callback endpoint.
	ErrAsync = errors.New("provider operates asynchronously")
	// ErrUnsupportedKind is returned when no provider handles the job kind.
	ErrUnsupportedKind = errors.New("no provider for job kind")
	// ErrBadSignature is returned when a callback payload fails HMAC
	// verification.
	ErrBadSignature = errors.New("callback signature mismatch")
)

// Provider produces output for one job kind.
type Provider interface {
	Kind() job.Kind
	// Generate returns the output (URL or text) for the job, or ErrAsync when
	// the provider will deliver via callback.
	Generate(ctx context.Context, j job.Job) (string, error)
}

// Publisher receives job transitions, e.g. the websocket event hub.
type Publisher interface {
	PublishJob(j job.Job)
}

// Pricing maps job kinds to their price in points.
type Pricing map[job.Kind]int64

// SubmitRequest describes a generation request.
type SubmitRequest struct {
	ProjectID string
	AssetID   string
	Kind      job.Kind
	Prompt    string
	Model     string
	Params    map[string]string
}

// Service manages generation jobs.
type Service struct {
	projects  *projects.Service
	assets    *assetsvc.Service
	wallet    *walletsvc.Service
	store     storage.JobStore
	pricing   Pricing
	providers map[job.Kind]Provider
	publisher Publisher
	secret    string
	log       *logger.Logger
}

// New constructs a generation service.
func New(projectSvc *projects.Service, assetSvc *assetsvc.Service, walletSvc *walletsvc.Service, store storage.JobStore, pricing Pricing, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("generation")
	}
	return &Service{
		projects:  projectSvc,
		assets:    assetSvc,
		wallet:    walletSvc,
		store:     store,
		pricing:   pricing,
		providers: make(map[job.Kind]Provider),
		log:       log,
	}
}

// RegisterProvider wires a provider for its job kind.
func (s *Service) RegisterProvider(p Provider) {
	s.providers[p.Kind()] = p
}

// AttachPublisher wires the job event publisher. Call before Start.
func (s *Service) AttachPublisher(pub Publisher) {
	s.publisher = pub
}

// SetCallbackSecret enables HMAC verification of provider callbacks. Empty
// disables it.
func (s *Service) SetCallbackSecret(secret string) {
	s.secret = secret
}

// Submit validates ownership, places the points hold and creates the job plus
// its PENDING asset version.
func (s *Service) Submit(ctx context.Context, userID string, req SubmitRequest) (job.Job, error) {
	if !req.Kind.Valid() {
		return job.Job{}, fmt.Errorf("unknown job kind %q", req.Kind)
	}
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		return job.Job{}, fmt.Errorf("prompt is required")
	}
	price, ok := s.pricing[req.Kind]
	if !ok || price <= 0 {
		return job.Job{}, fmt.Errorf("no price configured for %s jobs", req.Kind)
	}
	if _, ok := s.providers[req.Kind]; !ok {
		return job.Job{}, ErrUnsupportedKind
	}

	if _, err := s.projects.GetOwned(ctx, userID, req.ProjectID); err != nil {
		return job.Job{}, err
	}
	a, err := s.assets.GetOwned(ctx, userID, req.AssetID)
	if err != nil {
		return job.Job{}, err
	}
	if a.ProjectID != req.ProjectID {
		return job.Job{}, fmt.Errorf("asset %s does not belong to project %s", req.AssetID, req.ProjectID)
	}
	if string(a.Kind) != string(req.Kind) {
		return job.Job{}, fmt.Errorf("asset kind %s does not accept %s jobs", a.Kind, req.Kind)
	}

	provider := s.providers[req.Kind]
	created, err := s.store.CreateJob(ctx, job.Job{
		OwnerID:   userID,
		ProjectID: req.ProjectID,
		AssetID:   req.AssetID,
		Kind:      req.Kind,
		Status:    asset.StatusPending,
		Provider:  providerName(provider),
		Model:     req.Model,
		Prompt:    req.Prompt,
		Params:    req.Params,
	})
	if err != nil {
		return job.Job{}, err
	}

	hold, err := s.wallet.Hold(ctx, userID, created.ID, price)
	if err != nil {
		created.Status = asset.StatusFailed
		created.Error = "points hold failed"
		created.CompletedAt = time.Now().UTC()
		if _, updateErr := s.store.UpdateJob(ctx, created); updateErr != nil {
			s.log.WithError(updateErr).WithField("job_id", created.ID).Warn("mark unfunded job failed")
		}
		return job.Job{}, err
	}

	version, err := s.assets.AddPendingVersion(ctx, req.AssetID, created.ID, created.Provider, req.Model, req.Prompt)
	if err != nil {
		if releaseErr := s.wallet.Release(ctx, hold.ID); releaseErr != nil {
			s.log.WithError(releaseErr).WithField("job_id", created.ID).Warn("release hold for failed submission")
		}
		created.Status = asset.StatusFailed
		created.Error = "pending version create failed"
		created.CompletedAt = time.Now().UTC()
		if _, updateErr := s.store.UpdateJob(ctx, created); updateErr != nil {
			s.log.WithError(updateErr).WithField("job_id", created.ID).Warn("mark versionless job failed")
		}
		return job.Job{}, fmt.Errorf("create pending version: %w", err)
	}

	created.HoldID = hold.ID
	created.VersionID = version.ID
	updated, err := s.store.UpdateJob(ctx, created)
	if err != nil {
		return job.Job{}, err
	}

	metrics.RecordJobSubmitted(string(req.Kind))
	s.publish(updated)
	s.log.WithField("job_id", updated.ID).
		WithField("kind", string(req.Kind)).
		WithField("price", price).
		Info("generation job submitted")
	return updated, nil
}

// Get returns a job after an ownership check.
func (s *Service) Get(ctx context.Context, userID, id string) (job.Job, error) {
	j, err := s.store.GetJob(ctx, id)
	if err != nil {
		return job.Job{}, err
	}
	if j.OwnerID != userID {
		return job.Job{}, projects.ErrNotOwner
	}
	return j, nil
}

// List lists the user's jobs, oldest first.
func (s *Service) List(ctx context.Context, userID string) ([]job.Job, error) {
	return s.store.ListJobs(ctx, userID)
}

// process runs one pending job to a terminal state, or leaves it GENERATING
// when the provider is asynchronous. Called by the dispatcher.
func (s *Service) process(ctx context.Context, j job.Job) {
	provider, ok := s.providers[j.Kind]
	if !ok {
		s.fail(ctx, j, ErrUnsupportedKind.Error())
		return
	}

	j.Status = asset.StatusGenerating
	j.StartedAt = time.Now().UTC()
	j, err := s.store.UpdateJob(ctx, j)
	if err != nil {
		s.log.WithError(err).WithField("job_id", j.ID).Error("mark job generating")
		return
	}
	if _, err := s.assets.MarkVersionGenerating(ctx, j.VersionID); err != nil {
		s.log.WithError(err).WithField("job_id", j.ID).Error("mark version generating")
	}
	s.publish(j)

	started := time.Now()
	output, err := provider.Generate(ctx, j)
	switch {
	case err == nil:
		metrics.ObserveJobDuration(string(j.Kind), "ready", time.Since(started))
		s.complete(ctx, j, output)
	case errors.Is(err, ErrAsync):
		s.log.WithField("job_id", j.ID).Info("provider accepted job; awaiting callback")
	default:
		metrics.ObserveJobDuration(string(j.Kind), "failed", time.Since(started))
		s.fail(ctx, j, err.Error())
	}
}

// HandleCallback completes or fails an asynchronous job from a provider
// callback payload. Expected fields: status ("succeeded"|"failed"),
// output_url, error. When a callback secret is configured, signature must be
// the hex HMAC-SHA256 of the payload.
func (s *Service) HandleCallback(ctx context.Context, jobID, signature string, payload []byte) (job.Job, error) {
	if s.secret != "" && !validSignature(s.secret, signature, payload) {
		return job.Job{}, ErrBadSignature
	}
	j, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return job.Job{}, err
	}
	if j.Status != asset.StatusGenerating {
		return job.Job{}, fmt.Errorf("job %s is %s, not awaiting callback", jobID, j.Status)
	}
	if !gjson.ValidBytes(payload) {
		return job.Job{}, fmt.Errorf("callback payload is not valid JSON")
	}

	status := gjson.GetBytes(payload, "status").String()
	switch status {
	case "succeeded":
		outputURL := gjson.GetBytes(payload, "output_url").String()
		if outputURL == "" {
			return job.Job{}, fmt.Errorf("callback missing output_url")
		}
		return s.complete(ctx, j, outputURL), nil
	case "failed":
		reason := gjson.GetBytes(payload, "error").String()
		if reason == "" {
			reason = "provider reported failure"
		}
		return s.fail(ctx, j, reason), nil
	default:
		return job.Job{}, fmt.Errorf("unsupported callback status %q", status)
	}
}

func (s *Service) complete(ctx context.Context, j job.Job, output string) job.Job {
	if _, err := s.assets.CompleteVersion(ctx, j.VersionID, output); err != nil {
		s.log.WithError(err).WithField("job_id", j.ID).Error("complete version")
	}
	if err := s.wallet.Capture(ctx, j.HoldID); err != nil && !errors.Is(err, walletsvc.ErrHoldSettled) {
		s.log.WithError(err).WithField("job_id", j.ID).Error("capture hold")
	}

	j.Status = asset.StatusReady
	j.Output = output
	j.CompletedAt = time.Now().UTC()
	updated, err := s.store.UpdateJob(ctx, j)
	if err != nil {
		s.log.WithError(err).WithField("job_id", j.ID).Error("mark job ready")
		return j
	}
	metrics.RecordJobFinished(string(j.Kind), "ready")
	s.publish(updated)
	s.log.WithField("job_id", j.ID).Info("generation job ready")
	return updated
}

func (s *Service) fail(ctx context.Context, j job.Job, reason string) job.Job {
	if j.VersionID != "" {
		if _, err := s.assets.FailVersion(ctx, j.VersionID, reason); err != nil {
			s.log.WithError(err).WithField("job_id", j.ID).Error("fail version")
		}
	}
	if j.HoldID != "" {
		if err := s.wallet.Release(ctx, j.HoldID); err != nil && !errors.Is(err, walletsvc.ErrHoldSettled) {
			s.log.WithError(err).WithField("job_id", j.ID).Error("release hold")
		}
	}

	j.Status = asset.StatusFailed
	j.Error = reason
	j.CompletedAt = time.Now().UTC()
	updated, err := s.store.UpdateJob(ctx, j)
	if err != nil {
		s.log.WithError(err).WithField("job_id", j.ID).Error("mark job failed")
		return j
	}
	metrics.RecordJobFinished(string(j.Kind), "failed")
	s.publish(updated)
	s.log.WithField("job_id", j.ID).WithField("reason", reason).Warn("generation job failed")
	return updated
}

func (s *Service) publish(j job.Job) {
	if s.publisher != nil {
		s.publisher.PublishJob(j)
	}
}

func validSignature(secret, signature string, payload []byte) bool {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

func providerName(p Provider) string {
	if named, ok := p.(interface{ Name() string }); ok {
		return named.Name()
	}
	return string(p.Kind())
}
