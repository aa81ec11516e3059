package model

import "time"

// TaskView is the read-only shape of one task handed to the web API and the
// CLI. It is built from the tracker's in-memory tree; it is never persisted.
type TaskView struct {
	UID         string `json:"uid"`
	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`

	// Role is "top", "child" or "time-slice".
	Role   string `json:"role"`
	Parent string `json:"parent,omitempty"`

	Categories []string `json:"categories,omitempty"`

	// Start / Due are zero when unset.
	Start time.Time `json:"start,omitempty"`
	Due   time.Time `json:"due,omitempty"`

	Running bool `json:"running"`
	// ElapsedMs is the recursive tracked time in milliseconds.
	ElapsedMs int64 `json:"elapsed_ms"`

	Children   []TaskView `json:"children,omitempty"`
	TimeSlices []TaskView `json:"time_slices,omitempty"`
}

// Settings are the user-facing tracker settings persisted in the config
// file.
type Settings struct {
	// PollFrequencyMs is the autosave interval; -1 disables autosave.
	PollFrequencyMs int    `json:"poll_frequency_ms"`
	Container       string `json:"container"`
}
