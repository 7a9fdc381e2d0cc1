// Package storage defines the persistence interfaces the application services
// depend on. Implementations live in the memory and postgres subpackages.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/storyloft/studio_layer/internal/app/domain/asset"
	"github.com/storyloft/studio_layer/internal/app/domain/job"
	"github.com/storyloft/studio_layer/internal/app/domain/library"
	"github.com/storyloft/studio_layer/internal/app/domain/project"
	"github.com/storyloft/studio_layer/internal/app/domain/reference"
	"github.com/storyloft/studio_layer/internal/app/domain/script"
	"github.com/storyloft/studio_layer/internal/app/domain/user"
	"github.com/storyloft/studio_layer/internal/app/domain/wallet"
)

var (
	// ErrNotFound is returned by the memory store when a record does not
	// exist. The postgres store surfaces sql.ErrNoRows instead; the HTTP
	// layer maps both to 404.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateReference is returned when a project already references the
	// library entity being added.
	ErrDuplicateReference = errors.New("entity already referenced in project")
	// ErrInsufficientFunds is returned by PlaceHold when the hold exceeds the
	// account's available balance.
	ErrInsufficientFunds = errors.New("insufficient available balance")
	// ErrHoldSettled is returned by SettleHold when the hold already has a
	// capture or release entry.
	ErrHoldSettled = errors.New("hold already settled")
)

// UserStore persists user records.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) (user.User, error)
	UpdateUser(ctx context.Context, u user.User) (user.User, error)
	GetUser(ctx context.Context, id string) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
}

// ProjectStore persists projects. Reads exclude soft-deleted rows.
type ProjectStore interface {
	CreateProject(ctx context.Context, p project.Project) (project.Project, error)
	UpdateProject(ctx context.Context, p project.Project) (project.Project, error)
	GetProject(ctx context.Context, id string) (project.Project, error)
	ListProjects(ctx context.Context, ownerID string) ([]project.Project, error)
	SoftDeleteProject(ctx context.Context, id string, at time.Time) error
}

// ScriptStore persists scripts, shots and shot bindings.
type ScriptStore interface {
	CreateScript(ctx context.Context, s script.Script) (script.Script, error)
	UpdateScript(ctx context.Context, s script.Script) (script.Script, error)
	GetScript(ctx context.Context, id string) (script.Script, error)
	ListScripts(ctx context.Context, projectID string) ([]script.Script, error)
	DeleteScript(ctx context.Context, id string) error

	CreateShot(ctx context.Context, sh script.Shot) (script.Shot, error)
	UpdateShot(ctx context.Context, sh script.Shot) (script.Shot, error)
	GetShot(ctx context.Context, id string) (script.Shot, error)
	ListShots(ctx context.Context, scriptID string) ([]script.Shot, error)
	// DeleteShot removes a shot and its bindings.
	DeleteShot(ctx context.Context, id string) error
	// ResequenceShots persists new Seq values for all shots of a script in one
	// operation.
	ResequenceShots(ctx context.Context, scriptID string, shots []script.Shot) error

	CreateBinding(ctx context.Context, b script.Binding) (script.Binding, error)
	GetBinding(ctx context.Context, id string) (script.Binding, error)
	ListBindingsByShot(ctx context.Context, shotID string) ([]script.Binding, error)
	DeleteBinding(ctx context.Context, id string) error
	CountBindingsByReference(ctx context.Context, referenceID string) (int, error)
}

// LibraryStore persists reusable library entities. Reads exclude soft-deleted
// rows.
type LibraryStore interface {
	CreateEntity(ctx context.Context, e library.Entity) (library.Entity, error)
	UpdateEntity(ctx context.Context, e library.Entity) (library.Entity, error)
	GetEntity(ctx context.Context, id string) (library.Entity, error)
	ListEntities(ctx context.Context, ownerID string, kind library.Kind) ([]library.Entity, error)
	SoftDeleteEntity(ctx context.Context, id string, at time.Time) error
}

// ReferenceStore persists project-level references to library entities.
// Implementations must enforce the one-reference-per-entity-per-project
// invariant and make ReplaceReference atomic.
type ReferenceStore interface {
	CreateReference(ctx context.Context, r reference.Reference) (reference.Reference, error)
	UpdateReference(ctx context.Context, r reference.Reference) (reference.Reference, error)
	GetReference(ctx context.Context, id string) (reference.Reference, error)
	GetReferenceByEntity(ctx context.Context, projectID, entityID string) (reference.Reference, error)
	ListReferences(ctx context.Context, projectID string) ([]reference.Reference, error)
	DeleteReference(ctx context.Context, id string) error
	CountReferencesByEntity(ctx context.Context, entityID string) (int, error)

	// ReplaceReference atomically creates newRef, repoints every shot binding
	// from oldID to the new reference and deletes the old row. It fails with
	// ErrDuplicateReference if newRef.EntityID is already referenced in the
	// project, rolling back all prior steps.
	ReplaceReference(ctx context.Context, oldID string, newRef reference.Reference) (reference.Reference, error)
}

// AssetStore persists assets and their versions.
type AssetStore interface {
	CreateAsset(ctx context.Context, a asset.Asset) (asset.Asset, error)
	UpdateAsset(ctx context.Context, a asset.Asset) (asset.Asset, error)
	GetAsset(ctx context.Context, id string) (asset.Asset, error)
	ListAssets(ctx context.Context, projectID string) ([]asset.Asset, error)

	// CreateVersion assigns the next Seq for the asset.
	CreateVersion(ctx context.Context, v asset.Version) (asset.Version, error)
	UpdateVersion(ctx context.Context, v asset.Version) (asset.Version, error)
	GetVersion(ctx context.Context, id string) (asset.Version, error)
	ListVersions(ctx context.Context, assetID string) ([]asset.Version, error)
}

// JobStore persists generation jobs.
type JobStore interface {
	CreateJob(ctx context.Context, j job.Job) (job.Job, error)
	UpdateJob(ctx context.Context, j job.Job) (job.Job, error)
	GetJob(ctx context.Context, id string) (job.Job, error)
	ListJobs(ctx context.Context, ownerID string) ([]job.Job, error)
	ListPendingJobs(ctx context.Context) ([]job.Job, error)
}

// WalletStore persists wallet accounts and ledger entries. PlaceHold and
// SettleHold must be atomic: concurrent holds against one account may not
// overspend the available balance, and a hold settles at most once.
type WalletStore interface {
	CreateWalletAccount(ctx context.Context, acct wallet.Account) (wallet.Account, error)
	UpdateWalletAccount(ctx context.Context, acct wallet.Account) (wallet.Account, error)
	GetWalletAccountByUser(ctx context.Context, userID string) (wallet.Account, error)

	CreateWalletEntry(ctx context.Context, e wallet.Entry) (wallet.Entry, error)
	GetWalletEntry(ctx context.Context, id string) (wallet.Entry, error)
	ListWalletEntries(ctx context.Context, userID string) ([]wallet.Entry, error)

	// PlaceHold checks available balance (balance minus held), increments
	// held and records the hold ledger entry in one atomic step. Fails with
	// ErrInsufficientFunds when the balance does not cover e.Amount.
	PlaceHold(ctx context.Context, e wallet.Entry) (wallet.Entry, error)
	// SettleHold records a capture or release for the hold and adjusts the
	// account in one atomic step. Fails with ErrHoldSettled when the hold's
	// job already has a capture or release entry.
	SettleHold(ctx context.Context, hold wallet.Entry, kind wallet.EntryKind) (wallet.Entry, error)
}

// MaintenanceStore exposes housekeeping operations used by the retention
// sweeper.
type MaintenanceStore interface {
	// PurgeSoftDeleted permanently removes projects and library entities whose
	// soft-delete timestamp is older than before. Returns rows removed.
	PurgeSoftDeleted(ctx context.Context, before time.Time) (int64, error)
}
