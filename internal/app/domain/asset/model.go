package asset

import "time"

// Kind enumerates the media kinds an asset slot can hold.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
	KindText  Kind = "text"
)

// Valid reports whether k is a known asset kind.
func (k Kind) Valid() bool {
	switch k {
	case KindImage, KindVideo, KindText:
		return true
	}
	return false
}

// Status tracks a version (and its generation job) through its lifecycle.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusGenerating Status = "GENERATING"
	StatusReady      Status = "READY"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool { return s == StatusReady || s == StatusFailed }

// Asset is a project-scoped logical slot for generated media. ShotID is set
// when the asset belongs to a specific shot. CurrentVersionID names the
// version presented to the user; empty until a version is READY.
type Asset struct {
	ID               string
	ProjectID        string
	ShotID           string
	Kind             Kind
	Label            string
	CurrentVersionID string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Version is an append-only generation attempt for an asset. Seq starts at 1
// and increases per asset.
type Version struct {
	ID            string
	AssetID       string
	Seq           int
	Status        Status
	JobID         string
	Provider      string
	Model         string
	Prompt        string
	OutputURL     string
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
