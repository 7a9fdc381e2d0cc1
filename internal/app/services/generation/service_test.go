package generation

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/storyloft/studio_layer/internal/app/domain/asset"
	"github.com/storyloft/studio_layer/internal/app/domain/job"
	"github.com/storyloft/studio_layer/internal/app/domain/project"
	assetsvc "github.com/storyloft/studio_layer/internal/app/services/assets"
	"github.com/storyloft/studio_layer/internal/app/services/projects"
	walletsvc "github.com/storyloft/studio_layer/internal/app/services/wallet"
	"github.com/storyloft/studio_layer/internal/app/storage/memory"
)

type stubProvider struct {
	kind   job.Kind
	output string
	err    error
	calls  int
}

func (p *stubProvider) Kind() job.Kind { return p.kind }

func (p *stubProvider) Generate(_ context.Context, _ job.Job) (string, error) {
	p.calls++
	return p.output, p.err
}

type fixture struct {
	svc     *Service
	wallet  *walletsvc.Service
	assets  *assetsvc.Service
	store   *memory.Store
	project project.Project
	asset   asset.Asset
}

func newFixture(t *testing.T, balance int64, providers ...Provider) *fixture {
	t.Helper()
	store := memory.New()
	projectSvc := projects.New(store, nil)
	assetSvc := assetsvc.New(projectSvc, store, nil, nil)
	walletSvc := walletsvc.New(store, nil, 0, nil)
	svc := New(projectSvc, assetSvc, walletSvc, store, Pricing{
		job.KindText:  5,
		job.KindImage: 10,
		job.KindVideo: 20,
	}, nil)
	for _, p := range providers {
		svc.RegisterProvider(p)
	}

	p, err := projectSvc.Create(context.Background(), "u1", project.Project{Title: "Pilot"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	a, err := assetSvc.Create(context.Background(), "u1", p.ID, asset.KindImage, "portrait", "")
	if err != nil {
		t.Fatalf("create asset: %v", err)
	}
	if balance > 0 {
		if _, err := walletSvc.Deposit(context.Background(), "u1", balance, "test funds"); err != nil {
			t.Fatalf("deposit: %v", err)
		}
	}
	return &fixture{svc: svc, wallet: walletSvc, assets: assetSvc, store: store, project: p, asset: a}
}

func (f *fixture) submit(t *testing.T) job.Job {
	t.Helper()
	j, err := f.svc.Submit(context.Background(), "u1", SubmitRequest{
		ProjectID: f.project.ID,
		AssetID:   f.asset.ID,
		Kind:      job.KindImage,
		Prompt:    "a portrait",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return j
}

func TestSubmitPlacesHoldAndPendingVersion(t *testing.T) {
	f := newFixture(t, 100, &stubProvider{kind: job.KindImage, output: "https://cdn/img.png"})

	j := f.submit(t)
	if j.Status != asset.StatusPending {
		t.Fatalf("expected PENDING job, got %s", j.Status)
	}
	if j.HoldID == "" || j.VersionID == "" {
		t.Fatalf("expected hold and version wired, got %+v", j)
	}

	acct, err := f.wallet.Balance(context.Background(), "u1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if acct.Held != 10 || acct.Available() != 90 {
		t.Fatalf("expected held 10 available 90, got %d/%d", acct.Held, acct.Available())
	}

	v, err := f.store.GetVersion(context.Background(), j.VersionID)
	if err != nil {
		t.Fatalf("get version: %v", err)
	}
	if v.Status != asset.StatusPending || v.JobID != j.ID {
		t.Fatalf("expected pending version for job, got %+v", v)
	}
}

func TestSubmitRejectsInsufficientPoints(t *testing.T) {
	f := newFixture(t, 5, &stubProvider{kind: job.KindImage})

	_, err := f.svc.Submit(context.Background(), "u1", SubmitRequest{
		ProjectID: f.project.ID,
		AssetID:   f.asset.ID,
		Kind:      job.KindImage,
		Prompt:    "a portrait",
	})
	if !errors.Is(err, walletsvc.ErrInsufficientPoints) {
		t.Fatalf("expected ErrInsufficientPoints, got %v", err)
	}

	jobs, err := f.svc.List(context.Background(), "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Status != asset.StatusFailed {
		t.Fatalf("expected unfunded job marked FAILED, got %+v", jobs)
	}
}

// versionFailStore passes everything through to the memory store except
// version creation.
type versionFailStore struct {
	*memory.Store
}

func (s *versionFailStore) CreateVersion(context.Context, asset.Version) (asset.Version, error) {
	return asset.Version{}, errors.New("version store unavailable")
}

func TestSubmitReleasesHoldWhenVersionCreateFails(t *testing.T) {
	store := memory.New()
	projectSvc := projects.New(store, nil)
	assetSvc := assetsvc.New(projectSvc, &versionFailStore{Store: store}, nil, nil)
	walletSvc := walletsvc.New(store, nil, 0, nil)
	svc := New(projectSvc, assetSvc, walletSvc, store, Pricing{job.KindImage: 10}, nil)
	svc.RegisterProvider(&stubProvider{kind: job.KindImage})

	p, err := projectSvc.Create(context.Background(), "u1", project.Project{Title: "Pilot"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	a, err := store.CreateAsset(context.Background(), asset.Asset{ProjectID: p.ID, Kind: asset.KindImage, Label: "portrait"})
	if err != nil {
		t.Fatalf("create asset: %v", err)
	}
	if _, err := walletSvc.Deposit(context.Background(), "u1", 100, "test funds"); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	_, err = svc.Submit(context.Background(), "u1", SubmitRequest{
		ProjectID: p.ID,
		AssetID:   a.ID,
		Kind:      job.KindImage,
		Prompt:    "a portrait",
	})
	if err == nil {
		t.Fatal("expected error when version creation fails")
	}

	acct, err := walletSvc.Balance(context.Background(), "u1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if acct.Balance != 100 || acct.Held != 0 {
		t.Fatalf("expected hold released, got balance %d held %d", acct.Balance, acct.Held)
	}

	jobs, err := svc.List(context.Background(), "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Status != asset.StatusFailed {
		t.Fatalf("expected versionless job marked FAILED, got %+v", jobs)
	}

	// The dispatcher must never claim it.
	pending, err := store.ListPendingJobs(context.Background())
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending jobs, got %+v", pending)
	}
}

func TestSubmitRejectsUnregisteredKind(t *testing.T) {
	f := newFixture(t, 100, &stubProvider{kind: job.KindImage})

	_, err := f.svc.Submit(context.Background(), "u1", SubmitRequest{
		ProjectID: f.project.ID,
		AssetID:   f.asset.ID,
		Kind:      job.KindVideo,
		Prompt:    "a clip",
	})
	if !errors.Is(err, ErrUnsupportedKind) {
		t.Fatalf("expected ErrUnsupportedKind, got %v", err)
	}
}

func TestSubmitRejectsAssetKindMismatch(t *testing.T) {
	f := newFixture(t, 100,
		&stubProvider{kind: job.KindImage},
		&stubProvider{kind: job.KindText},
	)

	_, err := f.svc.Submit(context.Background(), "u1", SubmitRequest{
		ProjectID: f.project.ID,
		AssetID:   f.asset.ID,
		Kind:      job.KindText,
		Prompt:    "a synopsis",
	})
	if err == nil {
		t.Fatal("expected error submitting text job against image asset")
	}
}

func TestSubmitEnforcesOwnership(t *testing.T) {
	f := newFixture(t, 100, &stubProvider{kind: job.KindImage})

	_, err := f.svc.Submit(context.Background(), "u2", SubmitRequest{
		ProjectID: f.project.ID,
		AssetID:   f.asset.ID,
		Kind:      job.KindImage,
		Prompt:    "a portrait",
	})
	if !errors.Is(err, projects.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
}

func TestProcessCompletesJobAndCapturesHold(t *testing.T) {
	provider := &stubProvider{kind: job.KindImage, output: "https://cdn/img.png"}
	f := newFixture(t, 100, provider)

	j := f.submit(t)
	f.svc.process(context.Background(), j)

	done, err := f.svc.Get(context.Background(), "u1", j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if done.Status != asset.StatusReady || done.Output != "https://cdn/img.png" {
		t.Fatalf("expected READY job with output, got %+v", done)
	}
	if provider.calls != 1 {
		t.Fatalf("expected one provider call, got %d", provider.calls)
	}

	acct, err := f.wallet.Balance(context.Background(), "u1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if acct.Balance != 90 || acct.Held != 0 {
		t.Fatalf("expected balance 90 held 0 after capture, got %d/%d", acct.Balance, acct.Held)
	}

	current, err := f.assets.CurrentVersion(context.Background(), "u1", f.asset.ID)
	if err != nil {
		t.Fatalf("current version: %v", err)
	}
	if current.Status != asset.StatusReady || current.OutputURL != "https://cdn/img.png" {
		t.Fatalf("expected ready current version, got %+v", current)
	}
}

func TestProcessFailureReleasesHold(t *testing.T) {
	f := newFixture(t, 100, &stubProvider{kind: job.KindImage, err: errors.New("rate limited")})

	j := f.submit(t)
	f.svc.process(context.Background(), j)

	done, err := f.svc.Get(context.Background(), "u1", j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if done.Status != asset.StatusFailed || done.Error == "" {
		t.Fatalf("expected FAILED job with reason, got %+v", done)
	}

	acct, err := f.wallet.Balance(context.Background(), "u1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if acct.Balance != 100 || acct.Held != 0 {
		t.Fatalf("expected full refund, got %d/%d", acct.Balance, acct.Held)
	}

	v, err := f.store.GetVersion(context.Background(), j.VersionID)
	if err != nil {
		t.Fatalf("get version: %v", err)
	}
	if v.Status != asset.StatusFailed || v.FailureReason == "" {
		t.Fatalf("expected failed version with reason, got %+v", v)
	}
}

func TestDispatcherTickProcessesPendingJobs(t *testing.T) {
	f := newFixture(t, 100, &stubProvider{kind: job.KindImage, output: "https://cdn/img.png"})
	d := NewDispatcher(f.svc, nil)

	j := f.submit(t)
	d.Tick(context.Background())

	done, err := f.svc.Get(context.Background(), "u1", j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if done.Status != asset.StatusReady {
		t.Fatalf("expected READY after tick, got %s", done.Status)
	}
}

func TestAsyncProviderAwaitsCallback(t *testing.T) {
	f := newFixture(t, 100, &stubProvider{kind: job.KindImage, err: ErrAsync})

	j := f.submit(t)
	f.svc.process(context.Background(), j)

	waiting, err := f.svc.Get(context.Background(), "u1", j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if waiting.Status != asset.StatusGenerating {
		t.Fatalf("expected GENERATING while awaiting callback, got %s", waiting.Status)
	}
	acct, err := f.wallet.Balance(context.Background(), "u1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if acct.Held != 10 {
		t.Fatalf("hold must stay active until callback, got held %d", acct.Held)
	}

	done, err := f.svc.HandleCallback(context.Background(), j.ID, "", []byte(`{"status":"succeeded","output_url":"https://cdn/clip.mp4"}`))
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if done.Status != asset.StatusReady || done.Output != "https://cdn/clip.mp4" {
		t.Fatalf("expected READY job, got %+v", done)
	}
	acct, err = f.wallet.Balance(context.Background(), "u1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if acct.Balance != 90 || acct.Held != 0 {
		t.Fatalf("expected captured hold, got %d/%d", acct.Balance, acct.Held)
	}
}

func TestHandleCallbackFailureReleasesHold(t *testing.T) {
	f := newFixture(t, 100, &stubProvider{kind: job.KindImage, err: ErrAsync})

	j := f.submit(t)
	f.svc.process(context.Background(), j)

	done, err := f.svc.HandleCallback(context.Background(), j.ID, "", []byte(`{"status":"failed","error":"render crashed"}`))
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if done.Status != asset.StatusFailed || done.Error != "render crashed" {
		t.Fatalf("expected FAILED job, got %+v", done)
	}
	acct, err := f.wallet.Balance(context.Background(), "u1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if acct.Balance != 100 || acct.Held != 0 {
		t.Fatalf("expected released hold, got %d/%d", acct.Balance, acct.Held)
	}
}

func TestHandleCallbackValidatesStateAndPayload(t *testing.T) {
	f := newFixture(t, 100, &stubProvider{kind: job.KindImage, err: ErrAsync})

	j := f.submit(t)
	// Still PENDING: not awaiting a callback yet.
	if _, err := f.svc.HandleCallback(context.Background(), j.ID, "", []byte(`{"status":"succeeded","output_url":"x"}`)); err == nil {
		t.Fatal("expected error for job not in GENERATING")
	}

	f.svc.process(context.Background(), j)
	if _, err := f.svc.HandleCallback(context.Background(), j.ID, "", []byte(`not json`)); err == nil {
		t.Fatal("expected error for invalid payload")
	}
	if _, err := f.svc.HandleCallback(context.Background(), j.ID, "", []byte(`{"status":"succeeded"}`)); err == nil {
		t.Fatal("expected error for missing output_url")
	}
	if _, err := f.svc.HandleCallback(context.Background(), j.ID, "", []byte(`{"status":"maybe"}`)); err == nil {
		t.Fatal("expected error for unsupported status")
	}
}

func TestHandleCallbackVerifiesSignature(t *testing.T) {
	f := newFixture(t, 100, &stubProvider{kind: job.KindImage, err: ErrAsync})
	f.svc.SetCallbackSecret("render-secret")

	j := f.submit(t)
	f.svc.process(context.Background(), j)

	payload := []byte(`{"status":"succeeded","output_url":"https://cdn/clip.mp4"}`)
	if _, err := f.svc.HandleCallback(context.Background(), j.ID, "", payload); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature without signature, got %v", err)
	}
	if _, err := f.svc.HandleCallback(context.Background(), j.ID, "deadbeef", payload); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature for wrong signature, got %v", err)
	}

	mac := hmac.New(sha256.New, []byte("render-secret"))
	mac.Write(payload)
	signature := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	done, err := f.svc.HandleCallback(context.Background(), j.ID, signature, payload)
	if err != nil {
		t.Fatalf("signed callback: %v", err)
	}
	if done.Status != asset.StatusReady {
		t.Fatalf("expected READY job, got %+v", done)
	}
}
