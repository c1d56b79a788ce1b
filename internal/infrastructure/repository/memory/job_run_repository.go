package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/touchlinehq/touchline/internal/domain/joblog"
)

// JobRunRepository keeps pipeline run records in memory.
type JobRunRepository struct {
	mu   sync.RWMutex
	runs map[string]joblog.Run
	now  func() time.Time
}

func NewJobRunRepository() *JobRunRepository {
	return &JobRunRepository{
		runs: make(map[string]joblog.Run),
		now:  time.Now,
	}
}

func (r *JobRunRepository) UpsertRun(_ context.Context, run joblog.Run) error {
	runID := strings.TrimSpace(run.RunID)
	if runID == "" {
		return fmt.Errorf("run id is required")
	}

	jobName := strings.TrimSpace(run.JobName)
	if jobName == "" {
		jobName = "unknown"
	}

	startedAt := run.StartedAt.UTC()
	if startedAt.IsZero() {
		startedAt = r.now().UTC()
	}

	incoming := joblog.Run{
		RunID:     runID,
		JobName:   jobName,
		Status:    run.Status,
		Stats:     copyStats(run.Stats),
		StartedAt: startedAt,
		TraceID:   run.TraceID,
		SpanID:    run.SpanID,
	}
	if run.Status == joblog.StatusFailed {
		incoming.ErrorMessage = run.ErrorMessage
	}
	if run.Status != joblog.StatusRunning {
		finishedAt := startedAt
		if run.FinishedAt != nil {
			finishedAt = run.FinishedAt.UTC()
		}
		incoming.FinishedAt = &finishedAt
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.runs[runID]
	if !ok {
		r.runs[runID] = incoming

		return nil
	}

	// The first write owns the job name and start time; later writes only
	// move the status forward.
	existing.Status = incoming.Status
	existing.Stats = incoming.Stats
	if incoming.Status != joblog.StatusRunning {
		existing.FinishedAt = incoming.FinishedAt
	}
	existing.ErrorMessage = incoming.ErrorMessage
	if existing.TraceID == "" {
		existing.TraceID = incoming.TraceID
	}
	if existing.SpanID == "" {
		existing.SpanID = incoming.SpanID
	}
	r.runs[runID] = existing

	return nil
}

func (r *JobRunRepository) ListRecent(_ context.Context, jobName string, limit int) ([]joblog.Run, error) {
	if limit <= 0 {
		limit = 20
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []joblog.Run
	for _, run := range r.runs {
		if jobName != "" && run.JobName != jobName {
			continue
		}
		run.Stats = copyStats(run.Stats)
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}

		return out[i].RunID > out[j].RunID
	})
	if len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

func copyStats(stats map[string]any) map[string]any {
	if stats == nil {
		return nil
	}

	out := make(map[string]any, len(stats))
	for k, v := range stats {
		out[k] = v
	}

	return out
}
