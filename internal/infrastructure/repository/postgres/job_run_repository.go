package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/touchlinehq/touchline/internal/domain/joblog"
	qb "github.com/touchlinehq/touchline/internal/platform/querybuilder"
)

const pipelineRunsTable = "pipeline_runs"

// JobRunRepository records pipeline job runs. Run rows are operational
// telemetry, not canonical data, so writes bypass the production gate and
// survive even when the job itself fails before any gated transaction.
type JobRunRepository struct {
	db *sqlx.DB
}

func NewJobRunRepository(db *sqlx.DB) *JobRunRepository {
	return &JobRunRepository{db: db}
}

func (r *JobRunRepository) UpsertRun(ctx context.Context, run joblog.Run) error {
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
		startedAt = time.Now().UTC()
	}

	statsJSON, err := marshalRunStats(run.Stats)
	if err != nil {
		return fmt.Errorf("marshal run stats: %w", err)
	}

	model := jobRunInsertModel{
		RunID:     runID,
		JobName:   jobName,
		Status:    string(run.Status),
		Stats:     statsJSON,
		StartedAt: startedAt,
		TraceID:   nullableString(run.TraceID),
		SpanID:    nullableString(run.SpanID),
	}
	if run.Status == joblog.StatusFailed {
		model.ErrorMessage = nullableString(run.ErrorMessage)
	}
	if run.Status != joblog.StatusRunning {
		finishedAt := startedAt
		if run.FinishedAt != nil {
			finishedAt = run.FinishedAt.UTC()
		}
		model.FinishedAt = &finishedAt
	}

	query, args, err := qb.InsertModel(pipelineRunsTable, model, `ON CONFLICT (run_id)
DO UPDATE SET
    status = EXCLUDED.status,
    stats = EXCLUDED.stats,
    finished_at = CASE
        WHEN EXCLUDED.status IN ('completed', 'failed') THEN EXCLUDED.finished_at
        ELSE pipeline_runs.finished_at
    END,
    error_message = CASE
        WHEN EXCLUDED.status = 'failed' THEN EXCLUDED.error_message
        ELSE NULL
    END,
    trace_id = COALESCE(pipeline_runs.trace_id, EXCLUDED.trace_id),
    span_id = COALESCE(pipeline_runs.span_id, EXCLUDED.span_id)`)
	if err != nil {
		return fmt.Errorf("build upsert pipeline run query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert pipeline run run_id=%s status=%s: %w", runID, run.Status, err)
	}

	return nil
}

func (r *JobRunRepository) ListRecent(ctx context.Context, jobName string, limit int) ([]joblog.Run, error) {
	if limit <= 0 {
		limit = 20
	}

	builder := qb.Select("*").From(pipelineRunsTable)
	if jobName != "" {
		builder = builder.Where(qb.Eq("job_name", jobName))
	}
	query, args, err := builder.
		OrderBy("started_at DESC", "run_id DESC").
		Limit(limit).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list pipeline runs query: %w", err)
	}

	var rows []jobRunTableModel
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list pipeline runs: %w", err)
	}

	out := make([]joblog.Run, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}

	return out, nil
}
