package library

import "time"

// Kind enumerates the reusable entity kinds a user can keep in their library.
type Kind string

const (
	KindCharacter Kind = "character"
	KindScene     Kind = "scene"
	KindProp      Kind = "prop"
)

// Valid reports whether k is a known library kind.
func (k Kind) Valid() bool {
	switch k {
	case KindCharacter, KindScene, KindProp:
		return true
	}
	return false
}

// Entity is a reusable character, scene or prop owned by a user. Prompt is
// the appearance prompt handed to generation providers; projects may override
// it per reference without touching the library row. DeletedAt is the
// soft-delete marker.
type Entity struct {
	ID              string
	OwnerID         string
	Kind            Kind
	Name            string
	Description     string
	Prompt          string
	PortraitAssetID string
	Tags            []string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeletedAt       time.Time
}

// Deleted reports whether the entity has been soft-deleted.
func (e Entity) Deleted() bool { return !e.DeletedAt.IsZero() }
