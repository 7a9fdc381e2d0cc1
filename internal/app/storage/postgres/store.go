package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

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

// uniqueViolation is the PostgreSQL error code for unique constraint failures.
const uniqueViolation = "23505"

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.ProjectStore = (*Store)(nil)
var _ storage.ScriptStore = (*Store)(nil)
var _ storage.LibraryStore = (*Store)(nil)
var _ storage.ReferenceStore = (*Store)(nil)
var _ storage.AssetStore = (*Store)(nil)
var _ storage.JobStore = (*Store)(nil)
var _ storage.WalletStore = (*Store)(nil)
var _ storage.MaintenanceStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// --- UserStore --------------------------------------------------------------

func (s *Store) CreateUser(ctx context.Context, u user.User) (user.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (id, email, display_name, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, u.ID, u.Email, u.DisplayName, u.PasswordHash, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return user.User{}, err
	}
	return u, nil
}

func (s *Store) UpdateUser(ctx context.Context, u user.User) (user.User, error) {
	existing, err := s.GetUser(ctx, u.ID)
	if err != nil {
		return user.User{}, err
	}
	u.CreatedAt = existing.CreatedAt
	u.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET email = $2, display_name = $3, password_hash = $4, updated_at = $5
		WHERE id = $1
	`, u.ID, u.Email, u.DisplayName, u.PasswordHash, u.UpdatedAt)
	if err != nil {
		return user.User{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return user.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (user.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, created_at, updated_at
		FROM app_users
		WHERE id = $1
	`, id))
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, created_at, updated_at
		FROM app_users
		WHERE email = $1
	`, email))
}

func (s *Store) scanUser(row *sql.Row) (user.User, error) {
	var u user.User
	if err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return user.User{}, err
	}
	return u, nil
}

// --- ProjectStore -----------------------------------------------------------

func (s *Store) CreateProject(ctx context.Context, p project.Project) (project.Project, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_projects (id, owner_id, title, description, style, aspect_ratio, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, p.ID, p.OwnerID, p.Title, p.Description, p.Style, p.AspectRatio, string(p.Status), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return project.Project{}, err
	}
	return p, nil
}

func (s *Store) UpdateProject(ctx context.Context, p project.Project) (project.Project, error) {
	existing, err := s.GetProject(ctx, p.ID)
	if err != nil {
		return project.Project{}, err
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE app_projects
		SET title = $2, description = $3, style = $4, aspect_ratio = $5, status = $6, updated_at = $7
		WHERE id = $1 AND deleted_at IS NULL
	`, p.ID, p.Title, p.Description, p.Style, p.AspectRatio, string(p.Status), p.UpdatedAt)
	if err != nil {
		return project.Project{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return project.Project{}, sql.ErrNoRows
	}
	return p, nil
}

func (s *Store) GetProject(ctx context.Context, id string) (project.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, title, description, style, aspect_ratio, status, created_at, updated_at
		FROM app_projects
		WHERE id = $1 AND deleted_at IS NULL
	`, id)

	var (
		p      project.Project
		status string
	)
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Title, &p.Description, &p.Style, &p.AspectRatio, &status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return project.Project{}, err
	}
	p.Status = project.Status(status)
	return p, nil
}

func (s *Store) ListProjects(ctx context.Context, ownerID string) ([]project.Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, title, description, style, aspect_ratio, status, created_at, updated_at
		FROM app_projects
		WHERE owner_id = $1 AND deleted_at IS NULL
		ORDER BY created_at
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []project.Project
	for rows.Next() {
		var (
			p      project.Project
			status string
		)
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Title, &p.Description, &p.Style, &p.AspectRatio, &status, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Status = project.Status(status)
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *Store) SoftDeleteProject(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE app_projects
		SET deleted_at = $2, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`, id, at.UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// --- ScriptStore ------------------------------------------------------------

func (s *Store) CreateScript(ctx context.Context, sc script.Script) (script.Script, error) {
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	sc.CreatedAt = now
	sc.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_scripts (id, project_id, title, synopsis, content, episode_order, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, sc.ID, sc.ProjectID, sc.Title, sc.Synopsis, sc.Content, sc.EpisodeOrder, sc.CreatedAt, sc.UpdatedAt)
	if err != nil {
		return script.Script{}, err
	}
	return sc, nil
}

func (s *Store) UpdateScript(ctx context.Context, sc script.Script) (script.Script, error) {
	existing, err := s.GetScript(ctx, sc.ID)
	if err != nil {
		return script.Script{}, err
	}
	sc.CreatedAt = existing.CreatedAt
	sc.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE app_scripts
		SET title = $2, synopsis = $3, content = $4, episode_order = $5, updated_at = $6
		WHERE id = $1
	`, sc.ID, sc.Title, sc.Synopsis, sc.Content, sc.EpisodeOrder, sc.UpdatedAt)
	if err != nil {
		return script.Script{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return script.Script{}, sql.ErrNoRows
	}
	return sc, nil
}

func (s *Store) GetScript(ctx context.Context, id string) (script.Script, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, title, synopsis, content, episode_order, created_at, updated_at
		FROM app_scripts
		WHERE id = $1
	`, id)

	var sc script.Script
	if err := row.Scan(&sc.ID, &sc.ProjectID, &sc.Title, &sc.Synopsis, &sc.Content, &sc.EpisodeOrder, &sc.CreatedAt, &sc.UpdatedAt); err != nil {
		return script.Script{}, err
	}
	return sc, nil
}

func (s *Store) ListScripts(ctx context.Context, projectID string) ([]script.Script, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, title, synopsis, content, episode_order, created_at, updated_at
		FROM app_scripts
		WHERE project_id = $1
		ORDER BY episode_order, created_at
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []script.Script
	for rows.Next() {
		var sc script.Script
		if err := rows.Scan(&sc.ID, &sc.ProjectID, &sc.Title, &sc.Synopsis, &sc.Content, &sc.EpisodeOrder, &sc.CreatedAt, &sc.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, sc)
	}
	return result, rows.Err()
}

func (s *Store) DeleteScript(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM app_scripts WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) CreateShot(ctx context.Context, sh script.Shot) (script.Shot, error) {
	if sh.ID == "" {
		sh.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	sh.CreatedAt = now
	sh.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_shots (id, script_id, seq, description, camera_notes, dialogue, duration_secs, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, sh.ID, sh.ScriptID, sh.Seq, sh.Description, sh.CameraNotes, sh.Dialogue, sh.DurationSecs, sh.CreatedAt, sh.UpdatedAt)
	if err != nil {
		return script.Shot{}, err
	}
	return sh, nil
}

func (s *Store) UpdateShot(ctx context.Context, sh script.Shot) (script.Shot, error) {
	existing, err := s.GetShot(ctx, sh.ID)
	if err != nil {
		return script.Shot{}, err
	}
	sh.CreatedAt = existing.CreatedAt
	sh.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE app_shots
		SET seq = $2, description = $3, camera_notes = $4, dialogue = $5, duration_secs = $6, updated_at = $7
		WHERE id = $1
	`, sh.ID, sh.Seq, sh.Description, sh.CameraNotes, sh.Dialogue, sh.DurationSecs, sh.UpdatedAt)
	if err != nil {
		return script.Shot{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return script.Shot{}, sql.ErrNoRows
	}
	return sh, nil
}

func (s *Store) GetShot(ctx context.Context, id string) (script.Shot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, script_id, seq, description, camera_notes, dialogue, duration_secs, created_at, updated_at
		FROM app_shots
		WHERE id = $1
	`, id)

	var sh script.Shot
	if err := row.Scan(&sh.ID, &sh.ScriptID, &sh.Seq, &sh.Description, &sh.CameraNotes, &sh.Dialogue, &sh.DurationSecs, &sh.CreatedAt, &sh.UpdatedAt); err != nil {
		return script.Shot{}, err
	}
	return sh, nil
}

func (s *Store) ListShots(ctx context.Context, scriptID string) ([]script.Shot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, script_id, seq, description, camera_notes, dialogue, duration_secs, created_at, updated_at
		FROM app_shots
		WHERE script_id = $1
		ORDER BY seq
	`, scriptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []script.Shot
	for rows.Next() {
		var sh script.Shot
		if err := rows.Scan(&sh.ID, &sh.ScriptID, &sh.Seq, &sh.Description, &sh.CameraNotes, &sh.Dialogue, &sh.DurationSecs, &sh.CreatedAt, &sh.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, sh)
	}
	return result, rows.Err()
}

func (s *Store) DeleteShot(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM app_shot_bindings WHERE shot_id = $1`, id); err != nil {
		return err
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM app_shots WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return tx.Commit()
}

func (s *Store) ResequenceShots(ctx context.Context, scriptID string, shots []script.Shot) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, sh := range shots {
		result, err := tx.ExecContext(ctx, `
			UPDATE app_shots
			SET seq = $3, updated_at = $4
			WHERE id = $1 AND script_id = $2
		`, sh.ID, scriptID, sh.Seq, now)
		if err != nil {
			return err
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return sql.ErrNoRows
		}
	}
	return tx.Commit()
}

func (s *Store) CreateBinding(ctx context.Context, b script.Binding) (script.Binding, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	b.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_shot_bindings (id, shot_id, reference_id, role, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, b.ID, b.ShotID, b.ReferenceID, b.Role, b.CreatedAt)
	if err != nil {
		return script.Binding{}, err
	}
	return b, nil
}

func (s *Store) GetBinding(ctx context.Context, id string) (script.Binding, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, shot_id, reference_id, role, created_at
		FROM app_shot_bindings
		WHERE id = $1
	`, id)

	var b script.Binding
	if err := row.Scan(&b.ID, &b.ShotID, &b.ReferenceID, &b.Role, &b.CreatedAt); err != nil {
		return script.Binding{}, err
	}
	return b, nil
}

func (s *Store) ListBindingsByShot(ctx context.Context, shotID string) ([]script.Binding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shot_id, reference_id, role, created_at
		FROM app_shot_bindings
		WHERE shot_id = $1
		ORDER BY created_at
	`, shotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []script.Binding
	for rows.Next() {
		var b script.Binding
		if err := rows.Scan(&b.ID, &b.ShotID, &b.ReferenceID, &b.Role, &b.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

func (s *Store) DeleteBinding(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM app_shot_bindings WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) CountBindingsByReference(ctx context.Context, referenceID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM app_shot_bindings WHERE reference_id = $1
	`, referenceID).Scan(&count)
	return count, err
}

// --- LibraryStore -----------------------------------------------------------

func (s *Store) CreateEntity(ctx context.Context, e library.Entity) (library.Entity, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now

	tagsJSON, err := json.Marshal(e.Tags)
	if err != nil {
		return library.Entity{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO app_library_entities (id, owner_id, kind, name, description, prompt, portrait_asset_id, tags, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.ID, e.OwnerID, string(e.Kind), e.Name, e.Description, e.Prompt, e.PortraitAssetID, tagsJSON, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return library.Entity{}, err
	}
	return e, nil
}

func (s *Store) UpdateEntity(ctx context.Context, e library.Entity) (library.Entity, error) {
	existing, err := s.GetEntity(ctx, e.ID)
	if err != nil {
		return library.Entity{}, err
	}
	e.CreatedAt = existing.CreatedAt
	e.UpdatedAt = time.Now().UTC()

	tagsJSON, err := json.Marshal(e.Tags)
	if err != nil {
		return library.Entity{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE app_library_entities
		SET name = $2, description = $3, prompt = $4, portrait_asset_id = $5, tags = $6, updated_at = $7
		WHERE id = $1 AND deleted_at IS NULL
	`, e.ID, e.Name, e.Description, e.Prompt, e.PortraitAssetID, tagsJSON, e.UpdatedAt)
	if err != nil {
		return library.Entity{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return library.Entity{}, sql.ErrNoRows
	}
	return e, nil
}

func (s *Store) GetEntity(ctx context.Context, id string) (library.Entity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, kind, name, description, prompt, portrait_asset_id, tags, created_at, updated_at
		FROM app_library_entities
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	return scanEntity(row)
}

func (s *Store) ListEntities(ctx context.Context, ownerID string, kind library.Kind) ([]library.Entity, error) {
	query := `
		SELECT id, owner_id, kind, name, description, prompt, portrait_asset_id, tags, created_at, updated_at
		FROM app_library_entities
		WHERE owner_id = $1 AND deleted_at IS NULL
	`
	args := []interface{}{ownerID}
	if kind != "" {
		query += ` AND kind = $2`
		args = append(args, string(kind))
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []library.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntity(row rowScanner) (library.Entity, error) {
	var (
		e       library.Entity
		kind    string
		tagsRaw []byte
	)
	if err := row.Scan(&e.ID, &e.OwnerID, &kind, &e.Name, &e.Description, &e.Prompt, &e.PortraitAssetID, &tagsRaw, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return library.Entity{}, err
	}
	e.Kind = library.Kind(kind)
	if len(tagsRaw) > 0 {
		_ = json.Unmarshal(tagsRaw, &e.Tags)
	}
	return e, nil
}

func (s *Store) SoftDeleteEntity(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE app_library_entities
		SET deleted_at = $2, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`, id, at.UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// --- ReferenceStore ---------------------------------------------------------

func (s *Store) CreateReference(ctx context.Context, r reference.Reference) (reference.Reference, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_references (id, project_id, entity_id, kind, alias, prompt_override, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, r.ID, r.ProjectID, r.EntityID, string(r.Kind), r.Alias, r.PromptOverride, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return reference.Reference{}, mapDuplicateReference(err)
	}
	return r, nil
}

func (s *Store) UpdateReference(ctx context.Context, r reference.Reference) (reference.Reference, error) {
	existing, err := s.GetReference(ctx, r.ID)
	if err != nil {
		return reference.Reference{}, err
	}
	r.CreatedAt = existing.CreatedAt
	r.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE app_references
		SET alias = $2, prompt_override = $3, updated_at = $4
		WHERE id = $1
	`, r.ID, r.Alias, r.PromptOverride, r.UpdatedAt)
	if err != nil {
		return reference.Reference{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return reference.Reference{}, sql.ErrNoRows
	}
	return r, nil
}

func (s *Store) GetReference(ctx context.Context, id string) (reference.Reference, error) {
	return s.scanReference(s.db.QueryRowContext(ctx, `
		SELECT id, project_id, entity_id, kind, alias, prompt_override, created_at, updated_at
		FROM app_references
		WHERE id = $1
	`, id))
}

func (s *Store) GetReferenceByEntity(ctx context.Context, projectID, entityID string) (reference.Reference, error) {
	return s.scanReference(s.db.QueryRowContext(ctx, `
		SELECT id, project_id, entity_id, kind, alias, prompt_override, created_at, updated_at
		FROM app_references
		WHERE project_id = $1 AND entity_id = $2
	`, projectID, entityID))
}

func (s *Store) scanReference(row *sql.Row) (reference.Reference, error) {
	var (
		r    reference.Reference
		kind string
	)
	if err := row.Scan(&r.ID, &r.ProjectID, &r.EntityID, &kind, &r.Alias, &r.PromptOverride, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return reference.Reference{}, err
	}
	r.Kind = library.Kind(kind)
	return r, nil
}

func (s *Store) ListReferences(ctx context.Context, projectID string) ([]reference.Reference, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, entity_id, kind, alias, prompt_override, created_at, updated_at
		FROM app_references
		WHERE project_id = $1
		ORDER BY created_at
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []reference.Reference
	for rows.Next() {
		var (
			r    reference.Reference
			kind string
		)
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.EntityID, &kind, &r.Alias, &r.PromptOverride, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.Kind = library.Kind(kind)
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *Store) DeleteReference(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM app_references WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) CountReferencesByEntity(ctx context.Context, entityID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM app_references WHERE entity_id = $1
	`, entityID).Scan(&count)
	return count, err
}

// ReplaceReference swaps oldID for a reference to newRef.EntityID in one
// transaction: insert the new row, repoint every shot binding, delete the old
// row. The unique index on (project_id, entity_id) rejects a replacement
// whose entity is already referenced, rolling the whole swap back.
func (s *Store) ReplaceReference(ctx context.Context, oldID string, newRef reference.Reference) (reference.Reference, error) {
	if newRef.ID == "" {
		newRef.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	newRef.CreatedAt = now
	newRef.UpdatedAt = now

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return reference.Reference{}, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO app_references (id, project_id, entity_id, kind, alias, prompt_override, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, newRef.ID, newRef.ProjectID, newRef.EntityID, string(newRef.Kind), newRef.Alias, newRef.PromptOverride, newRef.CreatedAt, newRef.UpdatedAt)
	if err != nil {
		return reference.Reference{}, mapDuplicateReference(err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE app_shot_bindings
		SET reference_id = $2
		WHERE reference_id = $1
	`, oldID, newRef.ID); err != nil {
		return reference.Reference{}, err
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM app_references WHERE id = $1`, oldID)
	if err != nil {
		return reference.Reference{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return reference.Reference{}, sql.ErrNoRows
	}

	if err := tx.Commit(); err != nil {
		return reference.Reference{}, err
	}
	return newRef, nil
}

func mapDuplicateReference(err error) error {
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueViolation {
		return storage.ErrDuplicateReference
	}
	return err
}

// --- AssetStore -------------------------------------------------------------

func (s *Store) CreateAsset(ctx context.Context, a asset.Asset) (asset.Asset, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_assets (id, project_id, shot_id, kind, label, current_version_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, a.ID, a.ProjectID, a.ShotID, string(a.Kind), a.Label, a.CurrentVersionID, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return asset.Asset{}, err
	}
	return a, nil
}

func (s *Store) UpdateAsset(ctx context.Context, a asset.Asset) (asset.Asset, error) {
	existing, err := s.GetAsset(ctx, a.ID)
	if err != nil {
		return asset.Asset{}, err
	}
	a.CreatedAt = existing.CreatedAt
	a.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE app_assets
		SET shot_id = $2, label = $3, current_version_id = $4, updated_at = $5
		WHERE id = $1
	`, a.ID, a.ShotID, a.Label, a.CurrentVersionID, a.UpdatedAt)
	if err != nil {
		return asset.Asset{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return asset.Asset{}, sql.ErrNoRows
	}
	return a, nil
}

func (s *Store) GetAsset(ctx context.Context, id string) (asset.Asset, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, shot_id, kind, label, current_version_id, created_at, updated_at
		FROM app_assets
		WHERE id = $1
	`, id)

	var (
		a    asset.Asset
		kind string
	)
	if err := row.Scan(&a.ID, &a.ProjectID, &a.ShotID, &kind, &a.Label, &a.CurrentVersionID, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return asset.Asset{}, err
	}
	a.Kind = asset.Kind(kind)
	return a, nil
}

func (s *Store) ListAssets(ctx context.Context, projectID string) ([]asset.Asset, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, shot_id, kind, label, current_version_id, created_at, updated_at
		FROM app_assets
		WHERE project_id = $1
		ORDER BY created_at
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []asset.Asset
	for rows.Next() {
		var (
			a    asset.Asset
			kind string
		)
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.ShotID, &kind, &a.Label, &a.CurrentVersionID, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		a.Kind = asset.Kind(kind)
		result = append(result, a)
	}
	return result, rows.Err()
}

func (s *Store) CreateVersion(ctx context.Context, v asset.Version) (asset.Version, error) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	v.CreatedAt = now
	v.UpdatedAt = now

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return asset.Version{}, err
	}
	defer tx.Rollback()

	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) + 1 FROM app_asset_versions WHERE asset_id = $1
	`, v.AssetID).Scan(&v.Seq); err != nil {
		return asset.Version{}, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO app_asset_versions (id, asset_id, seq, status, job_id, provider, model, prompt, output_url, failure_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, v.ID, v.AssetID, v.Seq, string(v.Status), v.JobID, v.Provider, v.Model, v.Prompt, v.OutputURL, v.FailureReason, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return asset.Version{}, err
	}
	if err := tx.Commit(); err != nil {
		return asset.Version{}, err
	}
	return v, nil
}

func (s *Store) UpdateVersion(ctx context.Context, v asset.Version) (asset.Version, error) {
	existing, err := s.GetVersion(ctx, v.ID)
	if err != nil {
		return asset.Version{}, err
	}
	v.CreatedAt = existing.CreatedAt
	v.Seq = existing.Seq
	v.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE app_asset_versions
		SET status = $2, output_url = $3, failure_reason = $4, updated_at = $5
		WHERE id = $1
	`, v.ID, string(v.Status), v.OutputURL, v.FailureReason, v.UpdatedAt)
	if err != nil {
		return asset.Version{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return asset.Version{}, sql.ErrNoRows
	}
	return v, nil
}

func (s *Store) GetVersion(ctx context.Context, id string) (asset.Version, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, asset_id, seq, status, job_id, provider, model, prompt, output_url, failure_reason, created_at, updated_at
		FROM app_asset_versions
		WHERE id = $1
	`, id)

	var (
		v      asset.Version
		status string
	)
	if err := row.Scan(&v.ID, &v.AssetID, &v.Seq, &status, &v.JobID, &v.Provider, &v.Model, &v.Prompt, &v.OutputURL, &v.FailureReason, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return asset.Version{}, err
	}
	v.Status = asset.Status(status)
	return v, nil
}

func (s *Store) ListVersions(ctx context.Context, assetID string) ([]asset.Version, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, asset_id, seq, status, job_id, provider, model, prompt, output_url, failure_reason, created_at, updated_at
		FROM app_asset_versions
		WHERE asset_id = $1
		ORDER BY seq
	`, assetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []asset.Version
	for rows.Next() {
		var (
			v      asset.Version
			status string
		)
		if err := rows.Scan(&v.ID, &v.AssetID, &v.Seq, &status, &v.JobID, &v.Provider, &v.Model, &v.Prompt, &v.OutputURL, &v.FailureReason, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, err
		}
		v.Status = asset.Status(status)
		result = append(result, v)
	}
	return result, rows.Err()
}

// --- JobStore ---------------------------------------------------------------

func (s *Store) CreateJob(ctx context.Context, j job.Job) (job.Job, error) {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	j.CreatedAt = now
	j.UpdatedAt = now

	paramsJSON, err := json.Marshal(j.Params)
	if err != nil {
		return job.Job{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO app_jobs (id, owner_id, project_id, asset_id, version_id, kind, status, provider, model, prompt, params, hold_id, output, error, created_at, updated_at, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`, j.ID, j.OwnerID, j.ProjectID, j.AssetID, j.VersionID, string(j.Kind), string(j.Status), j.Provider, j.Model, j.Prompt, paramsJSON, j.HoldID, j.Output, j.Error, j.CreatedAt, j.UpdatedAt, toNullTime(j.StartedAt), toNullTime(j.CompletedAt))
	if err != nil {
		return job.Job{}, err
	}
	return j, nil
}

func (s *Store) UpdateJob(ctx context.Context, j job.Job) (job.Job, error) {
	existing, err := s.GetJob(ctx, j.ID)
	if err != nil {
		return job.Job{}, err
	}
	j.CreatedAt = existing.CreatedAt
	j.UpdatedAt = time.Now().UTC()

	paramsJSON, err := json.Marshal(j.Params)
	if err != nil {
		return job.Job{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE app_jobs
		SET version_id = $2, status = $3, provider = $4, model = $5, prompt = $6, params = $7, hold_id = $8, output = $9, error = $10, updated_at = $11, started_at = $12, completed_at = $13
		WHERE id = $1
	`, j.ID, j.VersionID, string(j.Status), j.Provider, j.Model, j.Prompt, paramsJSON, j.HoldID, j.Output, j.Error, j.UpdatedAt, toNullTime(j.StartedAt), toNullTime(j.CompletedAt))
	if err != nil {
		return job.Job{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return job.Job{}, sql.ErrNoRows
	}
	return j, nil
}

func (s *Store) GetJob(ctx context.Context, id string) (job.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, project_id, asset_id, version_id, kind, status, provider, model, prompt, params, hold_id, output, error, created_at, updated_at, started_at, completed_at
		FROM app_jobs
		WHERE id = $1
	`, id)
	return scanJob(row)
}

func (s *Store) ListJobs(ctx context.Context, ownerID string) ([]job.Job, error) {
	return s.queryJobs(ctx, `
		SELECT id, owner_id, project_id, asset_id, version_id, kind, status, provider, model, prompt, params, hold_id, output, error, created_at, updated_at, started_at, completed_at
		FROM app_jobs
		WHERE owner_id = $1
		ORDER BY created_at
	`, ownerID)
}

func (s *Store) ListPendingJobs(ctx context.Context) ([]job.Job, error) {
	return s.queryJobs(ctx, `
		SELECT id, owner_id, project_id, asset_id, version_id, kind, status, provider, model, prompt, params, hold_id, output, error, created_at, updated_at, started_at, completed_at
		FROM app_jobs
		WHERE status = $1
		ORDER BY created_at
	`, string(asset.StatusPending))
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...interface{}) ([]job.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, j)
	}
	return result, rows.Err()
}

func scanJob(row rowScanner) (job.Job, error) {
	var (
		j           job.Job
		kind        string
		status      string
		paramsRaw   []byte
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)
	if err := row.Scan(&j.ID, &j.OwnerID, &j.ProjectID, &j.AssetID, &j.VersionID, &kind, &status, &j.Provider, &j.Model, &j.Prompt, &paramsRaw, &j.HoldID, &j.Output, &j.Error, &j.CreatedAt, &j.UpdatedAt, &startedAt, &completedAt); err != nil {
		return job.Job{}, err
	}
	j.Kind = job.Kind(kind)
	j.Status = asset.Status(status)
	if len(paramsRaw) > 0 {
		_ = json.Unmarshal(paramsRaw, &j.Params)
	}
	if startedAt.Valid {
		j.StartedAt = startedAt.Time.UTC()
	}
	if completedAt.Valid {
		j.CompletedAt = completedAt.Time.UTC()
	}
	return j, nil
}

// --- WalletStore ------------------------------------------------------------

func (s *Store) CreateWalletAccount(ctx context.Context, acct wallet.Account) (wallet.Account, error) {
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_wallet_accounts (id, user_id, balance, held, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, acct.ID, acct.UserID, acct.Balance, acct.Held, acct.CreatedAt, acct.UpdatedAt)
	if err != nil {
		return wallet.Account{}, err
	}
	return acct, nil
}

func (s *Store) UpdateWalletAccount(ctx context.Context, acct wallet.Account) (wallet.Account, error) {
	acct.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE app_wallet_accounts
		SET balance = $2, held = $3, updated_at = $4
		WHERE id = $1
	`, acct.ID, acct.Balance, acct.Held, acct.UpdatedAt)
	if err != nil {
		return wallet.Account{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return wallet.Account{}, sql.ErrNoRows
	}
	return acct, nil
}

func (s *Store) GetWalletAccountByUser(ctx context.Context, userID string) (wallet.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, balance, held, created_at, updated_at
		FROM app_wallet_accounts
		WHERE user_id = $1
	`, userID)

	var acct wallet.Account
	if err := row.Scan(&acct.ID, &acct.UserID, &acct.Balance, &acct.Held, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
		return wallet.Account{}, err
	}
	return acct, nil
}

func (s *Store) CreateWalletEntry(ctx context.Context, e wallet.Entry) (wallet.Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_wallet_entries (id, user_id, job_id, kind, amount, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, e.UserID, e.JobID, string(e.Kind), e.Amount, e.Note, e.CreatedAt)
	if err != nil {
		return wallet.Entry{}, err
	}
	return e, nil
}

func (s *Store) GetWalletEntry(ctx context.Context, id string) (wallet.Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, job_id, kind, amount, note, created_at
		FROM app_wallet_entries
		WHERE id = $1
	`, id)

	var (
		e    wallet.Entry
		kind string
	)
	if err := row.Scan(&e.ID, &e.UserID, &e.JobID, &kind, &e.Amount, &e.Note, &e.CreatedAt); err != nil {
		return wallet.Entry{}, err
	}
	e.Kind = wallet.EntryKind(kind)
	return e, nil
}

func (s *Store) ListWalletEntries(ctx context.Context, userID string) ([]wallet.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, job_id, kind, amount, note, created_at
		FROM app_wallet_entries
		WHERE user_id = $1
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []wallet.Entry
	for rows.Next() {
		var (
			e    wallet.Entry
			kind string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.JobID, &kind, &e.Amount, &e.Note, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Kind = wallet.EntryKind(kind)
		result = append(result, e)
	}
	return result, rows.Err()
}

// PlaceHold gates the hold on available balance with a conditional UPDATE so
// concurrent holds against one account serialize at the row and cannot
// overspend.
func (s *Store) PlaceHold(ctx context.Context, e wallet.Entry) (wallet.Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.Kind = wallet.EntryHold
	e.CreatedAt = time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return wallet.Entry{}, err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE app_wallet_accounts
		SET held = held + $2, updated_at = $3
		WHERE user_id = $1 AND balance - held >= $2
	`, e.UserID, e.Amount, e.CreatedAt)
	if err != nil {
		return wallet.Entry{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return wallet.Entry{}, storage.ErrInsufficientFunds
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO app_wallet_entries (id, user_id, job_id, kind, amount, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, e.UserID, e.JobID, string(e.Kind), e.Amount, e.Note, e.CreatedAt); err != nil {
		return wallet.Entry{}, err
	}
	if err := tx.Commit(); err != nil {
		return wallet.Entry{}, err
	}
	return e, nil
}

// SettleHold locks the account row, rejects a second settle for the hold's
// job and applies the capture or release plus its ledger entry in one
// transaction.
func (s *Store) SettleHold(ctx context.Context, hold wallet.Entry, kind wallet.EntryKind) (wallet.Entry, error) {
	e := wallet.Entry{
		ID:        uuid.NewString(),
		UserID:    hold.UserID,
		JobID:     hold.JobID,
		Kind:      kind,
		Amount:    hold.Amount,
		CreatedAt: time.Now().UTC(),
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return wallet.Entry{}, err
	}
	defer tx.Rollback()

	var acct wallet.Account
	if err := tx.QueryRowContext(ctx, `
		SELECT id, balance, held
		FROM app_wallet_accounts
		WHERE user_id = $1
		FOR UPDATE
	`, hold.UserID).Scan(&acct.ID, &acct.Balance, &acct.Held); err != nil {
		return wallet.Entry{}, err
	}

	var settled int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM app_wallet_entries
		WHERE job_id = $1 AND kind IN ($2, $3)
	`, hold.JobID, string(wallet.EntryCapture), string(wallet.EntryRelease)).Scan(&settled); err != nil {
		return wallet.Entry{}, err
	}
	if settled > 0 {
		return wallet.Entry{}, storage.ErrHoldSettled
	}

	acct.Held -= hold.Amount
	if acct.Held < 0 {
		acct.Held = 0
	}
	if kind == wallet.EntryCapture {
		acct.Balance -= hold.Amount
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE app_wallet_accounts
		SET balance = $2, held = $3, updated_at = $4
		WHERE id = $1
	`, acct.ID, acct.Balance, acct.Held, e.CreatedAt); err != nil {
		return wallet.Entry{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO app_wallet_entries (id, user_id, job_id, kind, amount, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, e.UserID, e.JobID, string(e.Kind), e.Amount, e.Note, e.CreatedAt); err != nil {
		return wallet.Entry{}, err
	}
	if err := tx.Commit(); err != nil {
		return wallet.Entry{}, err
	}
	return e, nil
}

// --- MaintenanceStore -------------------------------------------------------

func (s *Store) PurgeSoftDeleted(ctx context.Context, before time.Time) (int64, error) {
	var total int64

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM app_library_entities
		WHERE deleted_at IS NOT NULL AND deleted_at < $1
	`, before.UTC())
	if err != nil {
		return total, err
	}
	if rows, err := result.RowsAffected(); err == nil {
		total += rows
	}

	result, err = s.db.ExecContext(ctx, `
		DELETE FROM app_projects
		WHERE deleted_at IS NOT NULL AND deleted_at < $1
	`, before.UTC())
	if err != nil {
		return total, err
	}
	if rows, err := result.RowsAffected(); err == nil {
		total += rows
	}
	return total, nil
}

func toNullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
