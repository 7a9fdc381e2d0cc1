package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	app "github.com/storyloft/studio_layer/internal/app"
	"github.com/storyloft/studio_layer/internal/app/domain/job"
	"github.com/storyloft/studio_layer/internal/app/services/generation"
	"github.com/storyloft/studio_layer/internal/middleware"
)

type echoProvider struct {
	kind job.Kind
}

func (p echoProvider) Kind() job.Kind { return p.kind }
func (p echoProvider) Generate(_ context.Context, j job.Job) (string, error) {
	return "https://cdn.example.com/" + j.ID, nil
}

type apiClient struct {
	t       *testing.T
	handler http.Handler
	token   string
}

func (c *apiClient) do(method, path string, payload interface{}) *httptest.ResponseRecorder {
	c.t.Helper()
	var body *bytes.Buffer
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			c.t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewBuffer(raw)
	} else {
		body = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, body)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	return rec
}

func (c *apiClient) decode(rec *httptest.ResponseRecorder, dst interface{}) {
	c.t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		c.t.Fatalf("unmarshal response %s: %v", rec.Body.String(), err)
	}
}

func newTestAPI(t *testing.T) (*apiClient, *app.Application) {
	t.Helper()

	application, err := app.New(app.Stores{}, app.Options{
		SignupGrant: 100,
		Pricing:     generation.Pricing{job.KindImage: 10, job.KindText: 5, job.KindVideo: 20},
		Providers:   []generation.Provider{echoProvider{kind: job.KindImage}, echoProvider{kind: job.KindText}},
	}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}

	tokens, err := middleware.NewTokenManager("handler-test-secret", time.Hour)
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}

	client := &apiClient{t: t, handler: NewHandler(application, tokens, nil, nil)}

	rec := client.do(http.MethodPost, "/auth/register", map[string]interface{}{
		"email":        "alice@example.com",
		"display_name": "Alice",
		"password":     "correct horse",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var auth struct {
		Token string `json:"token"`
	}
	client.decode(rec, &auth)
	client.token = auth.Token

	return client, application
}

func TestAuthFlow(t *testing.T) {
	client, _ := newTestAPI(t)

	rec := client.do(http.MethodGet, "/me", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d", rec.Code)
	}

	// Wrong password is rejected.
	unauthed := &apiClient{t: t, handler: client.handler}
	rec = unauthed.do(http.MethodPost, "/auth/login", map[string]interface{}{
		"email":    "alice@example.com",
		"password": "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad login: expected 401, got %d", rec.Code)
	}

	rec = unauthed.do(http.MethodGet, "/projects", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: expected 401, got %d", rec.Code)
	}
}

func TestProjectAndReferenceLifecycle(t *testing.T) {
	client, _ := newTestAPI(t)

	rec := client.do(http.MethodPost, "/projects", map[string]interface{}{"title": "Pilot"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create project: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var proj struct{ ID string }
	client.decode(rec, &proj)

	rec = client.do(http.MethodPost, "/library", map[string]interface{}{
		"kind": "character", "name": "Mira", "prompt": "girl in a red coat",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create entity: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var entity struct{ ID string }
	client.decode(rec, &entity)

	rec = client.do(http.MethodPost, "/projects/"+proj.ID+"/references", map[string]interface{}{"entity_id": entity.ID})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add reference: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var ref struct{ ID string }
	client.decode(rec, &ref)

	// Second reference to the same entity in the same project is rejected.
	rec = client.do(http.MethodPost, "/projects/"+proj.ID+"/references", map[string]interface{}{"entity_id": entity.ID})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate reference: expected 409, got %d", rec.Code)
	}

	// Entity with a live reference cannot be deleted.
	rec = client.do(http.MethodDelete, "/library/"+entity.ID, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("delete referenced entity: expected 409, got %d", rec.Code)
	}

	// Bind the reference to a shot; the reference then refuses deletion.
	rec = client.do(http.MethodPost, "/projects/"+proj.ID+"/scripts", map[string]interface{}{"title": "Episode 1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create script: expected 201, got %d", rec.Code)
	}
	var sc struct{ ID string }
	client.decode(rec, &sc)

	rec = client.do(http.MethodPost, "/scripts/"+sc.ID+"/shots", map[string]interface{}{"description": "opening"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create shot: expected 201, got %d", rec.Code)
	}
	var shot struct{ ID string }
	client.decode(rec, &shot)

	rec = client.do(http.MethodPost, "/shots/"+shot.ID+"/bindings", map[string]interface{}{
		"reference_id": ref.ID, "role": "lead",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("bind reference: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = client.do(http.MethodDelete, "/references/"+ref.ID, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("delete bound reference: expected 409, got %d", rec.Code)
	}

	// Replace swaps the entity behind the bindings.
	rec = client.do(http.MethodPost, "/library", map[string]interface{}{
		"kind": "character", "name": "Mira v2", "prompt": "girl in a blue coat",
	})
	var entity2 struct{ ID string }
	client.decode(rec, &entity2)

	rec = client.do(http.MethodPost, "/references/"+ref.ID+"/replace", map[string]interface{}{"entity_id": entity2.ID})
	if rec.Code != http.StatusOK {
		t.Fatalf("replace reference: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var newRef struct{ ID, EntityID string }
	client.decode(rec, &newRef)
	if newRef.EntityID != entity2.ID {
		t.Fatalf("replacement points at %s, want %s", newRef.EntityID, entity2.ID)
	}

	rec = client.do(http.MethodGet, "/shots/"+shot.ID+"/bindings", nil)
	var bindings []struct{ ReferenceID string }
	client.decode(rec, &bindings)
	if len(bindings) != 1 || bindings[0].ReferenceID != newRef.ID {
		t.Fatalf("bindings not repointed: %+v", bindings)
	}

	// The old entity is free now.
	rec = client.do(http.MethodDelete, "/library/"+entity.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete freed entity: expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestMissingResourcesReturn404(t *testing.T) {
	client, _ := newTestAPI(t)

	rec := client.do(http.MethodGet, "/projects/999", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing project: expected 404, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = client.do(http.MethodGet, "/jobs/999", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing job: expected 404, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = client.do(http.MethodDelete, "/library/999", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing entity: expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestOwnershipIsEnforced(t *testing.T) {
	client, _ := newTestAPI(t)

	rec := client.do(http.MethodPost, "/projects", map[string]interface{}{"title": "Private"})
	var proj struct{ ID string }
	client.decode(rec, &proj)

	other := &apiClient{t: t, handler: client.handler}
	rec = other.do(http.MethodPost, "/auth/register", map[string]interface{}{
		"email": "bob@example.com", "password": "hunter2hunter2",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register bob: expected 201, got %d", rec.Code)
	}
	var auth struct {
		Token string `json:"token"`
	}
	other.decode(rec, &auth)
	other.token = auth.Token

	rec = other.do(http.MethodGet, "/projects/"+proj.ID, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("foreign project read: expected 403, got %d", rec.Code)
	}

	rec = other.do(http.MethodPatch, "/projects/"+proj.ID, map[string]interface{}{"title": "Stolen"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("foreign project write: expected 403, got %d", rec.Code)
	}
}

func TestGenerationFlowOverAPI(t *testing.T) {
	client, application := newTestAPI(t)

	rec := client.do(http.MethodPost, "/projects", map[string]interface{}{"title": "Pilot"})
	var proj struct{ ID string }
	client.decode(rec, &proj)

	rec = client.do(http.MethodPost, "/projects/"+proj.ID+"/assets", map[string]interface{}{
		"kind": "image", "label": "keyframe",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create asset: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var a struct{ ID string }
	client.decode(rec, &a)

	rec = client.do(http.MethodPost, "/generate", map[string]interface{}{
		"project_id": proj.ID,
		"asset_id":   a.ID,
		"kind":       "image",
		"prompt":     "Mira at dawn",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit job: expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var j struct{ ID string }
	client.decode(rec, &j)

	// Balance reflects the hold.
	rec = client.do(http.MethodGet, "/wallet", nil)
	var bal struct {
		Balance   int64 `json:"balance"`
		Held      int64 `json:"held"`
		Available int64 `json:"available"`
	}
	client.decode(rec, &bal)
	if bal.Held != 10 || bal.Available != 90 {
		t.Fatalf("expected held=10 available=90, got %+v", bal)
	}

	// Run the dispatcher by hand.
	dispatcher := generation.NewDispatcher(application.Generation, nil)
	dispatcher.Tick(context.Background())

	rec = client.do(http.MethodGet, "/jobs/"+j.ID, nil)
	var done struct{ Status, Output string }
	client.decode(rec, &done)
	if done.Status != "READY" {
		t.Fatalf("expected READY job, got %+v", done)
	}

	// Hold was captured.
	rec = client.do(http.MethodGet, "/wallet", nil)
	client.decode(rec, &bal)
	if bal.Balance != 90 || bal.Held != 0 {
		t.Fatalf("expected balance=90 held=0 after capture, got %+v", bal)
	}

	// First READY version became current.
	rec = client.do(http.MethodGet, "/assets/"+a.ID+"/current", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("current version: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var v struct{ Status, OutputURL string }
	client.decode(rec, &v)
	if v.Status != "READY" || v.OutputURL == "" {
		t.Fatalf("unexpected current version %+v", v)
	}
}

func TestInsufficientPointsRejectsSubmit(t *testing.T) {
	client, _ := newTestAPI(t)

	rec := client.do(http.MethodPost, "/projects", map[string]interface{}{"title": "Pilot"})
	var proj struct{ ID string }
	client.decode(rec, &proj)

	rec = client.do(http.MethodPost, "/projects/"+proj.ID+"/assets", map[string]interface{}{
		"kind": "text", "label": "synopsis",
	})
	var a struct{ ID string }
	client.decode(rec, &a)

	// Drain the signup grant with 20 five-point text jobs, then one more.
	for i := 0; i < 20; i++ {
		rec = client.do(http.MethodPost, "/generate", map[string]interface{}{
			"project_id": proj.ID,
			"asset_id":   a.ID,
			"kind":       "text",
			"prompt":     fmt.Sprintf("beat %d", i),
		})
		if rec.Code != http.StatusAccepted {
			t.Fatalf("submit %d: expected 202, got %d: %s", i, rec.Code, rec.Body.String())
		}
	}

	rec = client.do(http.MethodPost, "/generate", map[string]interface{}{
		"project_id": proj.ID,
		"asset_id":   a.ID,
		"kind":       "text",
		"prompt":     "one too many",
	})
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402 when points run out, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAsyncCallbackCompletesJob(t *testing.T) {
	client, application := newTestAPI(t)

	// Register a provider that defers to the callback endpoint.
	application.Generation.RegisterProvider(asyncProvider{})

	rec := client.do(http.MethodPost, "/projects", map[string]interface{}{"title": "Pilot"})
	var proj struct{ ID string }
	client.decode(rec, &proj)

	rec = client.do(http.MethodPost, "/projects/"+proj.ID+"/assets", map[string]interface{}{
		"kind": "video", "label": "teaser",
	})
	var a struct{ ID string }
	client.decode(rec, &a)

	rec = client.do(http.MethodPost, "/generate", map[string]interface{}{
		"project_id": proj.ID,
		"asset_id":   a.ID,
		"kind":       "video",
		"prompt":     "teaser cut",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit video job: expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var j struct{ ID string }
	client.decode(rec, &j)

	dispatcher := generation.NewDispatcher(application.Generation, nil)
	dispatcher.Tick(context.Background())

	rec = client.do(http.MethodGet, "/jobs/"+j.ID, nil)
	var pending struct{ Status string }
	client.decode(rec, &pending)
	if pending.Status != "GENERATING" {
		t.Fatalf("expected GENERATING while awaiting callback, got %s", pending.Status)
	}

	// Provider calls back without a user token.
	unauthed := &apiClient{t: t, handler: client.handler}
	rec = unauthed.do(http.MethodPost, "/jobs/"+j.ID+"/callback", map[string]interface{}{
		"status":     "succeeded",
		"output_url": "https://render.example.com/out.mp4",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("callback: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = client.do(http.MethodGet, "/jobs/"+j.ID, nil)
	var done struct{ Status, Output string }
	client.decode(rec, &done)
	if done.Status != "READY" || done.Output != "https://render.example.com/out.mp4" {
		t.Fatalf("unexpected job after callback: %+v", done)
	}
}

type asyncProvider struct{}

func (asyncProvider) Kind() job.Kind { return job.KindVideo }
func (asyncProvider) Generate(context.Context, job.Job) (string, error) {
	return "", generation.ErrAsync
}
