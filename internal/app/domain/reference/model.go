package reference

import (
	"time"

	"github.com/storyloft/studio_layer/internal/app/domain/library"
)

// Reference is a project-level row pointing at a library entity. Within one
// project a library entity may be referenced by at most one Reference at a
// time. Alias and PromptOverride localise the entity to the project without
// mutating the library row.
type Reference struct {
	ID             string
	ProjectID      string
	EntityID       string
	Kind           library.Kind
	Alias          string
	PromptOverride string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// EffectivePrompt returns the project override when set, otherwise the
// library entity's own prompt.
func (r Reference) EffectivePrompt(entityPrompt string) string {
	if r.PromptOverride != "" {
		return r.PromptOverride
	}
	return entityPrompt
}
