package model

import (
	"time"

	"github.com/google/uuid"
)

// Job statuses.
const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// Job represents one batch run over an input tree: every discovered source
// under InputRoot is rendered with every recipe, mirrored under OutputRoot.
// Either Group names a configured recipe group or Recipes carries them
// inline.
type Job struct {
	ID         uuid.UUID `json:"id"`
	InputRoot  string    `json:"input_root"`
	OutputRoot string    `json:"output_root"`
	Group      string    `json:"group,omitempty"`
	Recipes    []Recipe  `json:"recipes,omitempty"`
	Status     string    `json:"status"` // pending / running / done / failed
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Rendition represents one artifact produced (or failed) by a job.
type Rendition struct {
	ID         uuid.UUID `json:"id"`
	JobID      uuid.UUID `json:"job_id"`
	SourcePath string    `json:"source_path"`
	DestPath   string    `json:"dest_path,omitempty"`
	Extension  string    `json:"extension,omitempty"`
	SizeBytes  int64     `json:"size_bytes"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Status     string    `json:"status"` // done / failed
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// BatchSummary is the outcome of one executed job.
type BatchSummary struct {
	Inputs   int `json:"inputs"`
	Rendered int `json:"rendered"`
	Failed   int `json:"failed"`
}
