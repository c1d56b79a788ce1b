package postgres

import (
	"database/sql"
	"time"

	"github.com/bytedance/sonic"

	"github.com/touchlinehq/touchline/internal/domain/joblog"
)

type jobRunTableModel struct {
	RunID        string         `db:"run_id"`
	JobName      string         `db:"job_name"`
	Status       string         `db:"status"`
	Stats        string         `db:"stats"`
	ErrorMessage sql.NullString `db:"error_message"`
	StartedAt    time.Time      `db:"started_at"`
	FinishedAt   sql.NullTime   `db:"finished_at"`
	TraceID      sql.NullString `db:"trace_id"`
	SpanID       sql.NullString `db:"span_id"`
}

func (m jobRunTableModel) toDomain() joblog.Run {
	out := joblog.Run{
		RunID:     m.RunID,
		JobName:   m.JobName,
		Status:    joblog.RunStatus(m.Status),
		StartedAt: m.StartedAt,
	}

	out.FinishedAt = nullTimeToPtr(m.FinishedAt)
	if m.ErrorMessage.Valid {
		out.ErrorMessage = m.ErrorMessage.String
	}
	if m.TraceID.Valid {
		out.TraceID = m.TraceID.String
	}
	if m.SpanID.Valid {
		out.SpanID = m.SpanID.String
	}
	if m.Stats != "" {
		var stats map[string]any
		if err := sonic.UnmarshalString(m.Stats, &stats); err == nil {
			out.Stats = stats
		}
	}

	return out
}

type jobRunInsertModel struct {
	RunID        string     `db:"run_id"`
	JobName      string     `db:"job_name"`
	Status       string     `db:"status"`
	Stats        string     `db:"stats"`
	ErrorMessage *string    `db:"error_message"`
	StartedAt    time.Time  `db:"started_at"`
	FinishedAt   *time.Time `db:"finished_at"`
	TraceID      *string    `db:"trace_id"`
	SpanID       *string    `db:"span_id"`
}

func marshalRunStats(stats map[string]any) (string, error) {
	if len(stats) == 0 {
		return "{}", nil
	}

	raw, err := sonic.Marshal(stats)
	if err != nil {
		return "", err
	}

	return string(raw), nil
}
