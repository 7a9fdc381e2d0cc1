// Package httpapi exposes the application services over REST plus a
// websocket event stream for generation job updates.
package httpapi

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/mux"

	app "github.com/storyloft/studio_layer/internal/app"
	"github.com/storyloft/studio_layer/internal/app/domain/asset"
	"github.com/storyloft/studio_layer/internal/app/domain/job"
	"github.com/storyloft/studio_layer/internal/app/domain/library"
	"github.com/storyloft/studio_layer/internal/app/domain/project"
	"github.com/storyloft/studio_layer/internal/app/domain/script"
	"github.com/storyloft/studio_layer/internal/app/services/generation"
	librarysvc "github.com/storyloft/studio_layer/internal/app/services/library"
	projectsvc "github.com/storyloft/studio_layer/internal/app/services/projects"
	referencesvc "github.com/storyloft/studio_layer/internal/app/services/references"
	usersvc "github.com/storyloft/studio_layer/internal/app/services/users"
	walletsvc "github.com/storyloft/studio_layer/internal/app/services/wallet"
	"github.com/storyloft/studio_layer/internal/app/storage"
	"github.com/storyloft/studio_layer/internal/middleware"
	"github.com/storyloft/studio_layer/pkg/logger"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app    *app.Application
	tokens *middleware.TokenManager
	events *EventHub
	audit  *auditLog
	log    *logger.Logger
}

// NewHandler returns a router exposing the REST API. events may be nil when
// the websocket stream is disabled.
func NewHandler(application *app.Application, tokens *middleware.TokenManager, events *EventHub, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	var sink auditSink
	if path := os.Getenv("AUDIT_LOG_PATH"); path != "" {
		fileSink, err := newFileAuditSink(path)
		if err != nil {
			log.WithError(err).Warn("open audit log file")
		} else {
			sink = fileSink
		}
	}
	h := &handler{
		app:    application,
		tokens: tokens,
		events: events,
		audit:  newAuditLog(200, sink),
		log:    log,
	}

	r := mux.NewRouter()

	// Public surface: signup, login and provider callbacks.
	r.HandleFunc("/auth/register", h.register).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", h.login).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{id}/callback", h.jobCallback).Methods(http.MethodPost)

	authed := r.PathPrefix("/").Subrouter()
	authMW := middleware.NewAuthMiddleware(tokens, log, nil)
	authed.Use(authMW.Handler, h.auditMiddleware)

	authed.HandleFunc("/me", h.me).Methods(http.MethodGet)

	authed.HandleFunc("/projects", h.createProject).Methods(http.MethodPost)
	authed.HandleFunc("/projects", h.listProjects).Methods(http.MethodGet)
	authed.HandleFunc("/projects/{id}", h.getProject).Methods(http.MethodGet)
	authed.HandleFunc("/projects/{id}", h.updateProject).Methods(http.MethodPatch)
	authed.HandleFunc("/projects/{id}", h.deleteProject).Methods(http.MethodDelete)

	authed.HandleFunc("/projects/{id}/scripts", h.createScript).Methods(http.MethodPost)
	authed.HandleFunc("/projects/{id}/scripts", h.listScripts).Methods(http.MethodGet)
	authed.HandleFunc("/scripts/{id}", h.getScript).Methods(http.MethodGet)
	authed.HandleFunc("/scripts/{id}", h.updateScript).Methods(http.MethodPatch)
	authed.HandleFunc("/scripts/{id}", h.deleteScript).Methods(http.MethodDelete)

	authed.HandleFunc("/scripts/{id}/shots", h.createShot).Methods(http.MethodPost)
	authed.HandleFunc("/scripts/{id}/shots", h.listShots).Methods(http.MethodGet)
	authed.HandleFunc("/shots/{id}", h.getShot).Methods(http.MethodGet)
	authed.HandleFunc("/shots/{id}", h.updateShot).Methods(http.MethodPatch)
	authed.HandleFunc("/shots/{id}", h.deleteShot).Methods(http.MethodDelete)
	authed.HandleFunc("/shots/{id}/reorder", h.reorderShot).Methods(http.MethodPost)

	authed.HandleFunc("/shots/{id}/bindings", h.bindReference).Methods(http.MethodPost)
	authed.HandleFunc("/shots/{id}/bindings", h.listBindings).Methods(http.MethodGet)
	authed.HandleFunc("/bindings/{id}", h.unbindReference).Methods(http.MethodDelete)

	authed.HandleFunc("/library", h.createEntity).Methods(http.MethodPost)
	authed.HandleFunc("/library", h.listEntities).Methods(http.MethodGet)
	authed.HandleFunc("/library/{id}", h.getEntity).Methods(http.MethodGet)
	authed.HandleFunc("/library/{id}", h.updateEntity).Methods(http.MethodPatch)
	authed.HandleFunc("/library/{id}", h.deleteEntity).Methods(http.MethodDelete)

	authed.HandleFunc("/projects/{id}/references", h.addReference).Methods(http.MethodPost)
	authed.HandleFunc("/projects/{id}/references", h.listReferences).Methods(http.MethodGet)
	authed.HandleFunc("/references/{id}", h.getReference).Methods(http.MethodGet)
	authed.HandleFunc("/references/{id}", h.updateReference).Methods(http.MethodPatch)
	authed.HandleFunc("/references/{id}", h.deleteReference).Methods(http.MethodDelete)
	authed.HandleFunc("/references/{id}/replace", h.replaceReference).Methods(http.MethodPost)

	authed.HandleFunc("/projects/{id}/assets", h.createAsset).Methods(http.MethodPost)
	authed.HandleFunc("/projects/{id}/assets", h.listAssets).Methods(http.MethodGet)
	authed.HandleFunc("/assets/{id}", h.getAsset).Methods(http.MethodGet)
	authed.HandleFunc("/assets/{id}/versions", h.listVersions).Methods(http.MethodGet)
	authed.HandleFunc("/assets/{id}/current", h.currentVersion).Methods(http.MethodGet)
	authed.HandleFunc("/assets/{id}/current", h.setCurrentVersion).Methods(http.MethodPut)

	authed.HandleFunc("/generate", h.submitJob).Methods(http.MethodPost)
	authed.HandleFunc("/jobs", h.listJobs).Methods(http.MethodGet)
	authed.HandleFunc("/jobs/{id}", h.getJob).Methods(http.MethodGet)

	authed.HandleFunc("/wallet", h.walletBalance).Methods(http.MethodGet)
	authed.HandleFunc("/wallet/ledger", h.walletLedger).Methods(http.MethodGet)
	authed.HandleFunc("/wallet/deposit", h.walletDeposit).Methods(http.MethodPost)

	authed.HandleFunc("/audit", h.listAudit).Methods(http.MethodGet)

	if events != nil {
		authed.Handle("/ws", events)
	}

	return r
}

// --- auth -------------------------------------------------------------------

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email       string `json:"email"`
		DisplayName string `json:"display_name"`
		Password    string `json:"password"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	u, err := h.app.Users.Register(r.Context(), payload.Email, payload.DisplayName, payload.Password)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	token, expiry, err := h.tokens.Issue(u.ID, u.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"user":       u,
		"token":      token,
		"expires_at": expiry,
	})
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	u, err := h.app.Users.Authenticate(r.Context(), payload.Email, payload.Password)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	token, expiry, err := h.tokens.Issue(u.ID, u.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":       u,
		"token":      token,
		"expires_at": expiry,
	})
}

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	u, err := h.app.Users.Get(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// --- projects ---------------------------------------------------------------

func (h *handler) createProject(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Style       string `json:"style"`
		AspectRatio string `json:"aspect_ratio"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	p, err := h.app.Projects.Create(r.Context(), middleware.GetUserID(r.Context()), project.Project{
		Title:       payload.Title,
		Description: payload.Description,
		Style:       payload.Style,
		AspectRatio: payload.AspectRatio,
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *handler) listProjects(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Projects.List(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) getProject(w http.ResponseWriter, r *http.Request) {
	p, err := h.app.Projects.GetOwned(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) updateProject(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Title       *string `json:"title"`
		Description *string `json:"description"`
		Style       *string `json:"style"`
		AspectRatio *string `json:"aspect_ratio"`
		Status      *string `json:"status"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var status *project.Status
	if payload.Status != nil {
		st := project.Status(*payload.Status)
		status = &st
	}
	p, err := h.app.Projects.Update(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"],
		payload.Title, payload.Description, payload.Style, payload.AspectRatio, status)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) deleteProject(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Projects.Delete(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"]); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- scripts and shots ------------------------------------------------------

func (h *handler) createScript(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Title    string `json:"title"`
		Synopsis string `json:"synopsis"`
		Content  string `json:"content"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sc, err := h.app.Scripts.CreateScript(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"], script.Script{
		Title:    payload.Title,
		Synopsis: payload.Synopsis,
		Content:  payload.Content,
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, sc)
}

func (h *handler) listScripts(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Scripts.ListScripts(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) getScript(w http.ResponseWriter, r *http.Request) {
	sc, err := h.app.Scripts.GetScript(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (h *handler) updateScript(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Title    *string `json:"title"`
		Synopsis *string `json:"synopsis"`
		Content  *string `json:"content"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sc, err := h.app.Scripts.UpdateScript(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"],
		payload.Title, payload.Synopsis, payload.Content)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (h *handler) deleteScript(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Scripts.DeleteScript(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"]); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) createShot(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Description  string  `json:"description"`
		CameraNotes  string  `json:"camera_notes"`
		Dialogue     string  `json:"dialogue"`
		DurationSecs float64 `json:"duration_secs"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sh, err := h.app.Scripts.CreateShot(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"], script.Shot{
		Description:  payload.Description,
		CameraNotes:  payload.CameraNotes,
		Dialogue:     payload.Dialogue,
		DurationSecs: payload.DurationSecs,
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, sh)
}

func (h *handler) listShots(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Scripts.ListShots(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) getShot(w http.ResponseWriter, r *http.Request) {
	sh, err := h.app.Scripts.GetShot(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, sh)
}

func (h *handler) updateShot(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Description  *string  `json:"description"`
		CameraNotes  *string  `json:"camera_notes"`
		Dialogue     *string  `json:"dialogue"`
		DurationSecs *float64 `json:"duration_secs"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sh, err := h.app.Scripts.UpdateShot(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"],
		payload.Description, payload.CameraNotes, payload.Dialogue, payload.DurationSecs)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, sh)
}

func (h *handler) deleteShot(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Scripts.DeleteShot(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"]); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) reorderShot(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Seq int `json:"seq"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sh, err := h.app.Scripts.ReorderShot(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"], payload.Seq)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, sh)
}

func (h *handler) bindReference(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ReferenceID string `json:"reference_id"`
		Role        string `json:"role"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	b, err := h.app.Scripts.BindReference(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"], payload.ReferenceID, payload.Role)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (h *handler) listBindings(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Scripts.ListBindings(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) unbindReference(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Scripts.UnbindReference(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"]); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- library ----------------------------------------------------------------

func (h *handler) createEntity(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Kind        string   `json:"kind"`
		Name        string   `json:"name"`
		Description string   `json:"description"`
		Prompt      string   `json:"prompt"`
		Tags        []string `json:"tags"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	e, err := h.app.Library.Create(r.Context(), middleware.GetUserID(r.Context()), library.Entity{
		Kind:        library.Kind(payload.Kind),
		Name:        payload.Name,
		Description: payload.Description,
		Prompt:      payload.Prompt,
		Tags:        payload.Tags,
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (h *handler) listEntities(w http.ResponseWriter, r *http.Request) {
	kind := library.Kind(r.URL.Query().Get("kind"))
	list, err := h.app.Library.List(r.Context(), middleware.GetUserID(r.Context()), kind)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) getEntity(w http.ResponseWriter, r *http.Request) {
	e, err := h.app.Library.GetOwned(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *handler) updateEntity(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name            *string  `json:"name"`
		Description     *string  `json:"description"`
		Prompt          *string  `json:"prompt"`
		PortraitAssetID *string  `json:"portrait_asset_id"`
		Tags            []string `json:"tags"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	e, err := h.app.Library.Update(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"],
		payload.Name, payload.Description, payload.Prompt, payload.PortraitAssetID, payload.Tags)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *handler) deleteEntity(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Library.Delete(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"]); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- references -------------------------------------------------------------

func (h *handler) addReference(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		EntityID       string `json:"entity_id"`
		Alias          string `json:"alias"`
		PromptOverride string `json:"prompt_override"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ref, err := h.app.References.Add(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"],
		payload.EntityID, payload.Alias, payload.PromptOverride)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, ref)
}

func (h *handler) listReferences(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.References.List(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) getReference(w http.ResponseWriter, r *http.Request) {
	ref, err := h.app.References.GetOwned(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, ref)
}

func (h *handler) updateReference(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Alias          *string `json:"alias"`
		PromptOverride *string `json:"prompt_override"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ref, err := h.app.References.Update(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"],
		payload.Alias, payload.PromptOverride)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, ref)
}

func (h *handler) deleteReference(w http.ResponseWriter, r *http.Request) {
	if err := h.app.References.Delete(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"]); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) replaceReference(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		EntityID       string  `json:"entity_id"`
		Alias          *string `json:"alias"`
		PromptOverride *string `json:"prompt_override"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ref, err := h.app.References.Replace(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"],
		payload.EntityID, payload.Alias, payload.PromptOverride)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, ref)
}

// --- assets -----------------------------------------------------------------

func (h *handler) createAsset(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Kind   string `json:"kind"`
		Label  string `json:"label"`
		ShotID string `json:"shot_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	a, err := h.app.Assets.Create(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"],
		asset.Kind(payload.Kind), payload.Label, payload.ShotID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (h *handler) listAssets(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Assets.List(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) getAsset(w http.ResponseWriter, r *http.Request) {
	a, err := h.app.Assets.GetOwned(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *handler) listVersions(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Assets.ListVersions(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) currentVersion(w http.ResponseWriter, r *http.Request) {
	v, err := h.app.Assets.CurrentVersion(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *handler) setCurrentVersion(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		VersionID string `json:"version_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	a, err := h.app.Assets.SetCurrentVersion(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"], payload.VersionID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// --- generation -------------------------------------------------------------

func (h *handler) submitJob(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ProjectID string            `json:"project_id"`
		AssetID   string            `json:"asset_id"`
		Kind      string            `json:"kind"`
		Prompt    string            `json:"prompt"`
		Model     string            `json:"model"`
		Params    map[string]string `json:"params"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	j, err := h.app.Generation.Submit(r.Context(), middleware.GetUserID(r.Context()), generation.SubmitRequest{
		ProjectID: payload.ProjectID,
		AssetID:   payload.AssetID,
		Kind:      job.Kind(payload.Kind),
		Prompt:    payload.Prompt,
		Model:     payload.Model,
		Params:    payload.Params,
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, j)
}

func (h *handler) listJobs(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Generation.List(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) getJob(w http.ResponseWriter, r *http.Request) {
	j, err := h.app.Generation.Get(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (h *handler) jobCallback(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	defer r.Body.Close()

	j, err := h.app.Generation.HandleCallback(r.Context(), mux.Vars(r)["id"], r.Header.Get("X-Signature"), payload)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// --- wallet -----------------------------------------------------------------

func (h *handler) walletBalance(w http.ResponseWriter, r *http.Request) {
	acct, err := h.app.Wallet.Balance(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"balance":   acct.Balance,
		"held":      acct.Held,
		"available": acct.Available(),
	})
}

func (h *handler) walletLedger(w http.ResponseWriter, r *http.Request) {
	entries, err := h.app.Wallet.Ledger(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *handler) walletDeposit(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Amount int64  `json:"amount"`
		Note   string `json:"note"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	acct, err := h.app.Wallet.Deposit(r.Context(), middleware.GetUserID(r.Context()), payload.Amount, payload.Note)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// --- helpers ----------------------------------------------------------------

func statusFor(err error) int {
	switch {
	case errors.Is(err, projectsvc.ErrNotOwner), errors.Is(err, librarysvc.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, sql.ErrNoRows), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrDuplicateReference),
		errors.Is(err, librarysvc.ErrEntityInUse),
		errors.Is(err, referencesvc.ErrReferenceBusy):
		return http.StatusConflict
	case errors.Is(err, walletsvc.ErrInsufficientPoints):
		return http.StatusPaymentRequired
	case errors.Is(err, usersvc.ErrInvalidCredentials), errors.Is(err, generation.ErrBadSignature):
		return http.StatusUnauthorized
	default:
		return http.StatusBadRequest
	}
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func (h *handler) auditMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if r.Method == http.MethodGet || strings.HasPrefix(r.URL.Path, "/auth/") {
			return
		}
		h.audit.add(auditEntry{
			Time:       nowUTC(),
			User:       middleware.GetUserID(r.Context()),
			Path:       r.URL.Path,
			Method:     r.Method,
			Status:     rec.status,
			RemoteAddr: r.RemoteAddr,
			UserAgent:  r.UserAgent(),
		})
	})
}

func (h *handler) listAudit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.audit.listLimit(0))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
