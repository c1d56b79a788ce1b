package joblog

import "time"

type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// Run is the durable record of one scheduled or manual pipeline job run.
type Run struct {
	RunID        string
	JobName      string
	Status       RunStatus
	Stats        map[string]any
	ErrorMessage string
	StartedAt    time.Time
	FinishedAt   *time.Time
	TraceID      string
	SpanID       string
}
