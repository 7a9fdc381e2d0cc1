package script

import "time"

// Script is an episode-level text document inside a project.
type Script struct {
	ID           string
	ProjectID    string
	Title        string
	Synopsis     string
	Content      string
	EpisodeOrder int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Shot is a storyboard unit within a script. Seq orders shots within their
// script and is kept contiguous starting at 1.
type Shot struct {
	ID           string
	ScriptID     string
	Seq          int
	Description  string
	CameraNotes  string
	Dialogue     string
	DurationSecs float64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Binding attaches a project-level reference (character or scene) to a shot
// in a named role.
type Binding struct {
	ID          string
	ShotID      string
	ReferenceID string
	Role        string
	CreatedAt   time.Time
}
