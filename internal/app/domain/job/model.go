package job

import (
	"time"

	"github.com/storyloft/studio_layer/internal/app/domain/asset"
)

// Kind enumerates the generation job kinds.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// Valid reports whether k is a known job kind.
func (k Kind) Valid() bool {
	switch k {
	case KindText, KindImage, KindVideo:
		return true
	}
	return false
}

// Job records one generation request. Status mirrors the asset version's
// status. HoldID points at the wallet ledger entry holding the job's points
// until the job reaches a terminal state.
type Job struct {
	ID          string
	OwnerID     string
	ProjectID   string
	AssetID     string
	VersionID   string
	Kind        Kind
	Status      asset.Status
	Provider    string
	Model       string
	Prompt      string
	Params      map[string]string
	HoldID      string
	Output      string
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}
