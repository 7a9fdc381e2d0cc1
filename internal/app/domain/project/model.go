package project

import "time"

// Status describes where a project sits in the production flow.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Project is the top-level container for scripts, references and assets.
// DeletedAt is the soft-delete marker; a zero value means the project is live.
type Project struct {
	ID          string
	OwnerID     string
	Title       string
	Description string
	Style       string
	AspectRatio string
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   time.Time
}

// Deleted reports whether the project has been soft-deleted.
func (p Project) Deleted() bool { return !p.DeletedAt.IsZero() }
