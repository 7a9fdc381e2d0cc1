// Package memory provides a thread-safe in-memory implementation of the
// storage interfaces. It is intended for tests and prototyping and
// deliberately keeps the implementation simple.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/storyloft/studio_layer/internal/app/domain/asset"
	"github.com/storyloft/studio_layer/internal/app/domain/job"
	"github.com/storyloft/studio_layer/internal/app/domain/library"
	"github.com/storyloft/studio_layer/internal/app/domain/project"
	"github.com/storyloft/studio_layer/internal/app/domain/reference"
	"github.com/storyloft/studio_layer/internal/app/domain/script"
	"github.com/storyloft/studio_layer/internal/app/domain/user"
	"github.com/storyloft/studio_layer/internal/app/domain/wallet"
	"github.com/storyloft/studio_layer/internal/app/storage"
)

// Store holds every record in process memory behind one RWMutex.
type Store struct {
	mu     sync.RWMutex
	nextID int64

	users      map[string]user.User
	projects   map[string]project.Project
	scripts    map[string]script.Script
	shots      map[string]script.Shot
	bindings   map[string]script.Binding
	entities   map[string]library.Entity
	references map[string]reference.Reference
	assets     map[string]asset.Asset
	versions   map[string]asset.Version
	jobs       map[string]job.Job
	wallets    map[string]wallet.Account
	entries    map[string]wallet.Entry
}

var (
	_ storage.UserStore        = (*Store)(nil)
	_ storage.ProjectStore     = (*Store)(nil)
	_ storage.ScriptStore      = (*Store)(nil)
	_ storage.LibraryStore     = (*Store)(nil)
	_ storage.ReferenceStore   = (*Store)(nil)
	_ storage.AssetStore       = (*Store)(nil)
	_ storage.JobStore         = (*Store)(nil)
	_ storage.WalletStore      = (*Store)(nil)
	_ storage.MaintenanceStore = (*Store)(nil)
)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		nextID:     1,
		users:      make(map[string]user.User),
		projects:   make(map[string]project.Project),
		scripts:    make(map[string]script.Script),
		shots:      make(map[string]script.Shot),
		bindings:   make(map[string]script.Binding),
		entities:   make(map[string]library.Entity),
		references: make(map[string]reference.Reference),
		assets:     make(map[string]asset.Asset),
		versions:   make(map[string]asset.Version),
		jobs:       make(map[string]job.Job),
		wallets:    make(map[string]wallet.Account),
		entries:    make(map[string]wallet.Entry),
	}
}

func (m *Store) nextIDLocked() string {
	id := m.nextID
	m.nextID++
	return fmt.Sprintf("%d", id)
}

func copyStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func copyMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// UserStore implementation ----------------------------------------------------

func (m *Store) CreateUser(_ context.Context, u user.User) (user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return user.User{}, fmt.Errorf("email %s already registered", u.Email)
		}
	}

	if u.ID == "" {
		u.ID = m.nextIDLocked()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	m.users[u.ID] = u
	return u, nil
}

func (m *Store) UpdateUser(_ context.Context, u user.User) (user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	original, ok := m.users[u.ID]
	if !ok {
		return user.User{}, fmt.Errorf("user %s: %w", u.ID, storage.ErrNotFound)
	}
	u.CreatedAt = original.CreatedAt
	u.UpdatedAt = time.Now().UTC()
	m.users[u.ID] = u
	return u, nil
}

func (m *Store) GetUser(_ context.Context, id string) (user.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return user.User{}, fmt.Errorf("user %s: %w", id, storage.ErrNotFound)
	}
	return u, nil
}

func (m *Store) GetUserByEmail(_ context.Context, email string) (user.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return user.User{}, fmt.Errorf("user with email %s: %w", email, storage.ErrNotFound)
}

// ProjectStore implementation -------------------------------------------------

func (m *Store) CreateProject(_ context.Context, p project.Project) (project.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.ID == "" {
		p.ID = m.nextIDLocked()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	m.projects[p.ID] = p
	return p, nil
}

func (m *Store) UpdateProject(_ context.Context, p project.Project) (project.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	original, ok := m.projects[p.ID]
	if !ok || original.Deleted() {
		return project.Project{}, fmt.Errorf("project %s: %w", p.ID, storage.ErrNotFound)
	}
	p.CreatedAt = original.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	m.projects[p.ID] = p
	return p, nil
}

func (m *Store) GetProject(_ context.Context, id string) (project.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.projects[id]
	if !ok || p.Deleted() {
		return project.Project{}, fmt.Errorf("project %s: %w", id, storage.ErrNotFound)
	}
	return p, nil
}

func (m *Store) ListProjects(_ context.Context, ownerID string) ([]project.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []project.Project
	for _, p := range m.projects {
		if p.Deleted() {
			continue
		}
		if ownerID == "" || p.OwnerID == ownerID {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *Store) SoftDeleteProject(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.projects[id]
	if !ok || p.Deleted() {
		return fmt.Errorf("project %s: %w", id, storage.ErrNotFound)
	}
	p.DeletedAt = at.UTC()
	p.UpdatedAt = at.UTC()
	m.projects[id] = p
	return nil
}

// ScriptStore implementation --------------------------------------------------

func (m *Store) CreateScript(_ context.Context, s script.Script) (script.Script, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.ID == "" {
		s.ID = m.nextIDLocked()
	}
	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now
	m.scripts[s.ID] = s
	return s, nil
}

func (m *Store) UpdateScript(_ context.Context, s script.Script) (script.Script, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	original, ok := m.scripts[s.ID]
	if !ok {
		return script.Script{}, fmt.Errorf("script %s: %w", s.ID, storage.ErrNotFound)
	}
	s.ProjectID = original.ProjectID
	s.CreatedAt = original.CreatedAt
	s.UpdatedAt = time.Now().UTC()
	m.scripts[s.ID] = s
	return s, nil
}

func (m *Store) GetScript(_ context.Context, id string) (script.Script, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.scripts[id]
	if !ok {
		return script.Script{}, fmt.Errorf("script %s: %w", id, storage.ErrNotFound)
	}
	return s, nil
}

func (m *Store) ListScripts(_ context.Context, projectID string) ([]script.Script, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []script.Script
	for _, s := range m.scripts {
		if projectID == "" || s.ProjectID == projectID {
			result = append(result, s)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].EpisodeOrder < result[j].EpisodeOrder })
	return result, nil
}

func (m *Store) DeleteScript(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.scripts[id]; !ok {
		return fmt.Errorf("script %s: %w", id, storage.ErrNotFound)
	}
	for shotID, sh := range m.shots {
		if sh.ScriptID != id {
			continue
		}
		for bindingID, b := range m.bindings {
			if b.ShotID == shotID {
				delete(m.bindings, bindingID)
			}
		}
		delete(m.shots, shotID)
	}
	delete(m.scripts, id)
	return nil
}

func (m *Store) CreateShot(_ context.Context, sh script.Shot) (script.Shot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sh.ID == "" {
		sh.ID = m.nextIDLocked()
	}
	if sh.Seq == 0 {
		max := 0
		for _, other := range m.shots {
			if other.ScriptID == sh.ScriptID && other.Seq > max {
				max = other.Seq
			}
		}
		sh.Seq = max + 1
	}
	now := time.Now().UTC()
	sh.CreatedAt = now
	sh.UpdatedAt = now
	m.shots[sh.ID] = sh
	return sh, nil
}

func (m *Store) UpdateShot(_ context.Context, sh script.Shot) (script.Shot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	original, ok := m.shots[sh.ID]
	if !ok {
		return script.Shot{}, fmt.Errorf("shot %s: %w", sh.ID, storage.ErrNotFound)
	}
	sh.ScriptID = original.ScriptID
	sh.CreatedAt = original.CreatedAt
	sh.UpdatedAt = time.Now().UTC()
	m.shots[sh.ID] = sh
	return sh, nil
}

func (m *Store) GetShot(_ context.Context, id string) (script.Shot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sh, ok := m.shots[id]
	if !ok {
		return script.Shot{}, fmt.Errorf("shot %s: %w", id, storage.ErrNotFound)
	}
	return sh, nil
}

func (m *Store) ListShots(_ context.Context, scriptID string) ([]script.Shot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []script.Shot
	for _, sh := range m.shots {
		if sh.ScriptID == scriptID {
			result = append(result, sh)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Seq < result[j].Seq })
	return result, nil
}

func (m *Store) DeleteShot(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.shots[id]; !ok {
		return fmt.Errorf("shot %s: %w", id, storage.ErrNotFound)
	}
	for bindingID, b := range m.bindings {
		if b.ShotID == id {
			delete(m.bindings, bindingID)
		}
	}
	delete(m.shots, id)
	return nil
}

func (m *Store) ResequenceShots(_ context.Context, scriptID string, shots []script.Shot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	for _, sh := range shots {
		existing, ok := m.shots[sh.ID]
		if !ok || existing.ScriptID != scriptID {
			return fmt.Errorf("shot %s not in script %s: %w", sh.ID, scriptID, storage.ErrNotFound)
		}
		existing.Seq = sh.Seq
		existing.UpdatedAt = now
		m.shots[sh.ID] = existing
	}
	return nil
}

func (m *Store) CreateBinding(_ context.Context, b script.Binding) (script.Binding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b.ID == "" {
		b.ID = m.nextIDLocked()
	}
	b.CreatedAt = time.Now().UTC()
	m.bindings[b.ID] = b
	return b, nil
}

func (m *Store) GetBinding(_ context.Context, id string) (script.Binding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.bindings[id]
	if !ok {
		return script.Binding{}, fmt.Errorf("binding %s: %w", id, storage.ErrNotFound)
	}
	return b, nil
}

func (m *Store) ListBindingsByShot(_ context.Context, shotID string) ([]script.Binding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []script.Binding
	for _, b := range m.bindings {
		if b.ShotID == shotID {
			result = append(result, b)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *Store) DeleteBinding(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.bindings[id]; !ok {
		return fmt.Errorf("binding %s: %w", id, storage.ErrNotFound)
	}
	delete(m.bindings, id)
	return nil
}

func (m *Store) CountBindingsByReference(_ context.Context, referenceID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, b := range m.bindings {
		if b.ReferenceID == referenceID {
			count++
		}
	}
	return count, nil
}

// LibraryStore implementation -------------------------------------------------

func (m *Store) CreateEntity(_ context.Context, e library.Entity) (library.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.ID == "" {
		e.ID = m.nextIDLocked()
	}
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now
	e.Tags = copyStrings(e.Tags)
	m.entities[e.ID] = e
	return e, nil
}

func (m *Store) UpdateEntity(_ context.Context, e library.Entity) (library.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	original, ok := m.entities[e.ID]
	if !ok || original.Deleted() {
		return library.Entity{}, fmt.Errorf("entity %s: %w", e.ID, storage.ErrNotFound)
	}
	e.OwnerID = original.OwnerID
	e.Kind = original.Kind
	e.CreatedAt = original.CreatedAt
	e.UpdatedAt = time.Now().UTC()
	e.Tags = copyStrings(e.Tags)
	m.entities[e.ID] = e
	return e, nil
}

func (m *Store) GetEntity(_ context.Context, id string) (library.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entities[id]
	if !ok || e.Deleted() {
		return library.Entity{}, fmt.Errorf("entity %s: %w", id, storage.ErrNotFound)
	}
	return e, nil
}

func (m *Store) ListEntities(_ context.Context, ownerID string, kind library.Kind) ([]library.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []library.Entity
	for _, e := range m.entities {
		if e.Deleted() {
			continue
		}
		if ownerID != "" && e.OwnerID != ownerID {
			continue
		}
		if kind != "" && e.Kind != kind {
			continue
		}
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *Store) SoftDeleteEntity(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entities[id]
	if !ok || e.Deleted() {
		return fmt.Errorf("entity %s: %w", id, storage.ErrNotFound)
	}
	e.DeletedAt = at.UTC()
	e.UpdatedAt = at.UTC()
	m.entities[id] = e
	return nil
}

// ReferenceStore implementation -----------------------------------------------

func (m *Store) CreateReference(_ context.Context, r reference.Reference) (reference.Reference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createReferenceLocked(r)
}

func (m *Store) createReferenceLocked(r reference.Reference) (reference.Reference, error) {
	for _, existing := range m.references {
		if existing.ProjectID == r.ProjectID && existing.EntityID == r.EntityID {
			return reference.Reference{}, storage.ErrDuplicateReference
		}
	}
	if r.ID == "" {
		r.ID = m.nextIDLocked()
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	m.references[r.ID] = r
	return r, nil
}

func (m *Store) UpdateReference(_ context.Context, r reference.Reference) (reference.Reference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	original, ok := m.references[r.ID]
	if !ok {
		return reference.Reference{}, fmt.Errorf("reference %s: %w", r.ID, storage.ErrNotFound)
	}
	r.ProjectID = original.ProjectID
	r.EntityID = original.EntityID
	r.Kind = original.Kind
	r.CreatedAt = original.CreatedAt
	r.UpdatedAt = time.Now().UTC()
	m.references[r.ID] = r
	return r, nil
}

func (m *Store) GetReference(_ context.Context, id string) (reference.Reference, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.references[id]
	if !ok {
		return reference.Reference{}, fmt.Errorf("reference %s: %w", id, storage.ErrNotFound)
	}
	return r, nil
}

func (m *Store) GetReferenceByEntity(_ context.Context, projectID, entityID string) (reference.Reference, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.references {
		if r.ProjectID == projectID && r.EntityID == entityID {
			return r, nil
		}
	}
	return reference.Reference{}, fmt.Errorf("entity %s not referenced in project %s: %w", entityID, projectID, storage.ErrNotFound)
}

func (m *Store) ListReferences(_ context.Context, projectID string) ([]reference.Reference, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []reference.Reference
	for _, r := range m.references {
		if projectID == "" || r.ProjectID == projectID {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *Store) DeleteReference(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.references[id]; !ok {
		return fmt.Errorf("reference %s: %w", id, storage.ErrNotFound)
	}
	delete(m.references, id)
	return nil
}

func (m *Store) CountReferencesByEntity(_ context.Context, entityID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, r := range m.references {
		if r.EntityID == entityID {
			count++
		}
	}
	return count, nil
}

func (m *Store) ReplaceReference(_ context.Context, oldID string, newRef reference.Reference) (reference.Reference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.references[oldID]
	if !ok {
		return reference.Reference{}, fmt.Errorf("reference %s: %w", oldID, storage.ErrNotFound)
	}
	newRef.ProjectID = old.ProjectID

	created, err := m.createReferenceLocked(newRef)
	if err != nil {
		return reference.Reference{}, err
	}

	for id, b := range m.bindings {
		if b.ReferenceID == oldID {
			b.ReferenceID = created.ID
			m.bindings[id] = b
		}
	}
	delete(m.references, oldID)
	return created, nil
}

// AssetStore implementation ---------------------------------------------------

func (m *Store) CreateAsset(_ context.Context, a asset.Asset) (asset.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a.ID == "" {
		a.ID = m.nextIDLocked()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	m.assets[a.ID] = a
	return a, nil
}

func (m *Store) UpdateAsset(_ context.Context, a asset.Asset) (asset.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	original, ok := m.assets[a.ID]
	if !ok {
		return asset.Asset{}, fmt.Errorf("asset %s: %w", a.ID, storage.ErrNotFound)
	}
	a.ProjectID = original.ProjectID
	a.Kind = original.Kind
	a.CreatedAt = original.CreatedAt
	a.UpdatedAt = time.Now().UTC()
	m.assets[a.ID] = a
	return a, nil
}

func (m *Store) GetAsset(_ context.Context, id string) (asset.Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.assets[id]
	if !ok {
		return asset.Asset{}, fmt.Errorf("asset %s: %w", id, storage.ErrNotFound)
	}
	return a, nil
}

func (m *Store) ListAssets(_ context.Context, projectID string) ([]asset.Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []asset.Asset
	for _, a := range m.assets {
		if projectID == "" || a.ProjectID == projectID {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *Store) CreateVersion(_ context.Context, v asset.Version) (asset.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.assets[v.AssetID]; !ok {
		return asset.Version{}, fmt.Errorf("asset %s: %w", v.AssetID, storage.ErrNotFound)
	}
	if v.ID == "" {
		v.ID = m.nextIDLocked()
	}
	max := 0
	for _, other := range m.versions {
		if other.AssetID == v.AssetID && other.Seq > max {
			max = other.Seq
		}
	}
	v.Seq = max + 1
	now := time.Now().UTC()
	v.CreatedAt = now
	v.UpdatedAt = now
	m.versions[v.ID] = v
	return v, nil
}

func (m *Store) UpdateVersion(_ context.Context, v asset.Version) (asset.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	original, ok := m.versions[v.ID]
	if !ok {
		return asset.Version{}, fmt.Errorf("version %s: %w", v.ID, storage.ErrNotFound)
	}
	v.AssetID = original.AssetID
	v.Seq = original.Seq
	v.CreatedAt = original.CreatedAt
	v.UpdatedAt = time.Now().UTC()
	m.versions[v.ID] = v
	return v, nil
}

func (m *Store) GetVersion(_ context.Context, id string) (asset.Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.versions[id]
	if !ok {
		return asset.Version{}, fmt.Errorf("version %s: %w", id, storage.ErrNotFound)
	}
	return v, nil
}

func (m *Store) ListVersions(_ context.Context, assetID string) ([]asset.Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []asset.Version
	for _, v := range m.versions {
		if v.AssetID == assetID {
			result = append(result, v)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Seq < result[j].Seq })
	return result, nil
}

// JobStore implementation -----------------------------------------------------

func (m *Store) CreateJob(_ context.Context, j job.Job) (job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if j.ID == "" {
		j.ID = m.nextIDLocked()
	}
	now := time.Now().UTC()
	j.CreatedAt = now
	j.UpdatedAt = now
	j.Params = copyMap(j.Params)
	m.jobs[j.ID] = j
	return j, nil
}

func (m *Store) UpdateJob(_ context.Context, j job.Job) (job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	original, ok := m.jobs[j.ID]
	if !ok {
		return job.Job{}, fmt.Errorf("job %s: %w", j.ID, storage.ErrNotFound)
	}
	j.OwnerID = original.OwnerID
	j.ProjectID = original.ProjectID
	j.CreatedAt = original.CreatedAt
	j.UpdatedAt = time.Now().UTC()
	j.Params = copyMap(j.Params)
	m.jobs[j.ID] = j
	return j, nil
}

func (m *Store) GetJob(_ context.Context, id string) (job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[id]
	if !ok {
		return job.Job{}, fmt.Errorf("job %s: %w", id, storage.ErrNotFound)
	}
	return j, nil
}

func (m *Store) ListJobs(_ context.Context, ownerID string) ([]job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []job.Job
	for _, j := range m.jobs {
		if ownerID == "" || j.OwnerID == ownerID {
			result = append(result, j)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *Store) ListPendingJobs(_ context.Context) ([]job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []job.Job
	for _, j := range m.jobs {
		if j.Status == asset.StatusPending {
			result = append(result, j)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// WalletStore implementation --------------------------------------------------

func (m *Store) CreateWalletAccount(_ context.Context, acct wallet.Account) (wallet.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.wallets {
		if existing.UserID == acct.UserID {
			return wallet.Account{}, fmt.Errorf("wallet for user %s already exists", acct.UserID)
		}
	}
	if acct.ID == "" {
		acct.ID = m.nextIDLocked()
	}
	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now
	m.wallets[acct.ID] = acct
	return acct, nil
}

func (m *Store) UpdateWalletAccount(_ context.Context, acct wallet.Account) (wallet.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	original, ok := m.wallets[acct.ID]
	if !ok {
		return wallet.Account{}, fmt.Errorf("wallet %s: %w", acct.ID, storage.ErrNotFound)
	}
	acct.UserID = original.UserID
	acct.CreatedAt = original.CreatedAt
	acct.UpdatedAt = time.Now().UTC()
	m.wallets[acct.ID] = acct
	return acct, nil
}

func (m *Store) GetWalletAccountByUser(_ context.Context, userID string) (wallet.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, acct := range m.wallets {
		if acct.UserID == userID {
			return acct, nil
		}
	}
	return wallet.Account{}, fmt.Errorf("wallet for user %s: %w", userID, storage.ErrNotFound)
}

func (m *Store) CreateWalletEntry(_ context.Context, e wallet.Entry) (wallet.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.ID == "" {
		e.ID = m.nextIDLocked()
	}
	e.CreatedAt = time.Now().UTC()
	m.entries[e.ID] = e
	return e, nil
}

func (m *Store) GetWalletEntry(_ context.Context, id string) (wallet.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[id]
	if !ok {
		return wallet.Entry{}, fmt.Errorf("wallet entry %s: %w", id, storage.ErrNotFound)
	}
	return e, nil
}

func (m *Store) ListWalletEntries(_ context.Context, userID string) ([]wallet.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []wallet.Entry
	for _, e := range m.entries {
		if userID == "" || e.UserID == userID {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *Store) PlaceHold(_ context.Context, e wallet.Entry) (wallet.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, err := m.walletByUserLocked(e.UserID)
	if err != nil {
		return wallet.Entry{}, err
	}
	if acct.Balance-acct.Held < e.Amount {
		return wallet.Entry{}, storage.ErrInsufficientFunds
	}
	acct.Held += e.Amount
	acct.UpdatedAt = time.Now().UTC()
	m.wallets[acct.ID] = acct

	if e.ID == "" {
		e.ID = m.nextIDLocked()
	}
	e.Kind = wallet.EntryHold
	e.CreatedAt = time.Now().UTC()
	m.entries[e.ID] = e
	return e, nil
}

func (m *Store) SettleHold(_ context.Context, hold wallet.Entry, kind wallet.EntryKind) (wallet.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.entries {
		if existing.JobID == hold.JobID && (existing.Kind == wallet.EntryCapture || existing.Kind == wallet.EntryRelease) {
			return wallet.Entry{}, storage.ErrHoldSettled
		}
	}

	acct, err := m.walletByUserLocked(hold.UserID)
	if err != nil {
		return wallet.Entry{}, err
	}
	acct.Held -= hold.Amount
	if acct.Held < 0 {
		acct.Held = 0
	}
	if kind == wallet.EntryCapture {
		acct.Balance -= hold.Amount
	}
	acct.UpdatedAt = time.Now().UTC()
	m.wallets[acct.ID] = acct

	e := wallet.Entry{
		ID:        m.nextIDLocked(),
		UserID:    hold.UserID,
		JobID:     hold.JobID,
		Kind:      kind,
		Amount:    hold.Amount,
		CreatedAt: time.Now().UTC(),
	}
	m.entries[e.ID] = e
	return e, nil
}

func (m *Store) walletByUserLocked(userID string) (wallet.Account, error) {
	for _, acct := range m.wallets {
		if acct.UserID == userID {
			return acct, nil
		}
	}
	return wallet.Account{}, fmt.Errorf("wallet for user %s: %w", userID, storage.ErrNotFound)
}

// MaintenanceStore implementation ---------------------------------------------

func (m *Store) PurgeSoftDeleted(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var purged int64
	for id, p := range m.projects {
		if p.Deleted() && p.DeletedAt.Before(before) {
			delete(m.projects, id)
			purged++
		}
	}
	for id, e := range m.entities {
		if e.Deleted() && e.DeletedAt.Before(before) {
			delete(m.entities, id)
			purged++
		}
	}
	return purged, nil
}
