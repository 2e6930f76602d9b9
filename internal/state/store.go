// Package state keeps a local ledger of publishes and validation runs in
// SQLite. The registry stays the source of truth; the ledger only answers
// "what did this machine do" for the history and runs commands.
package state

import "time"

// RunStatus is the lifecycle status of a validation run.
type RunStatus string

// Run statuses.
const (
	RunStatusRunning RunStatus = "running"
	RunStatusPassed  RunStatus = "passed"
	RunStatusFailed  RunStatus = "failed"
)

// Publish records one manifest copied into the registry.
type Publish struct {
	ID          string    `json:"id"`
	Project     string    `json:"project"`
	Env         string    `json:"env"`
	LatestKey   string    `json:"latest_key"`
	HistoryKey  string    `json:"history_key"`
	Timestamp   string    `json:"timestamp"`
	Size        int64     `json:"size"`
	Location    string    `json:"location"`
	SourcePath  string    `json:"source_path"`
	PublishedAt time.Time `json:"published_at"`
}

// ValidationRun groups the results of one validate invocation.
type ValidationRun struct {
	ID          string     `json:"id"`
	Env         string     `json:"env"`
	Status      RunStatus  `json:"status"`
	Targets     int        `json:"targets"`
	Failed      int        `json:"failed"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// EdgeRecord is a cross-project edge as stored with a result.
type EdgeRecord struct {
	Child  string `json:"child"`
	Parent string `json:"parent"`
}

// ValidationResult is the outcome for a single target.
type ValidationResult struct {
	ID        string       `json:"id"`
	RunID     string       `json:"run_id"`
	Target    string       `json:"target"`
	Project   string       `json:"project"`
	Status    string       `json:"status"`
	Reason    string       `json:"reason"`
	Edges     []EdgeRecord `json:"edges"`
	CheckedAt time.Time    `json:"checked_at"`
}
