package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/touchlinehq/touchline/internal/domain/staging"
	qb "github.com/touchlinehq/touchline/internal/platform/querybuilder"
)

const stagingEventsTable = "staging_events"

type StagingEventRepository struct {
	db *sqlx.DB
}

func NewStagingEventRepository(db *sqlx.DB) *StagingEventRepository {
	return &StagingEventRepository{db: db}
}

func (r *StagingEventRepository) InsertMany(ctx context.Context, events []staging.Event) (int64, error) {
	if len(events) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx insert staging events: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var written int64
	for _, evt := range events {
		if err := evt.Validate(); err != nil {
			return 0, fmt.Errorf("validate staging event id=%s: %w", evt.SourceEventID, err)
		}

		insertModel := stagingEventInsertModel{
			EventName:      evt.EventName,
			EventType:      evt.EventType,
			SourcePlatform: evt.SourcePlatform,
			SourceEventID:  evt.SourceEventID,
			State:          evt.State,
			RawData:        rawDataOrEmpty(evt.RawData),
		}

		query, args, err := qb.InsertModel(stagingEventsTable, insertModel, "ON CONFLICT (source_platform, source_event_id) DO NOTHING")
		if err != nil {
			return 0, fmt.Errorf("build insert staging event query: %w", err)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("insert staging event id=%s: %w", evt.SourceEventID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("count inserted staging events: %w", err)
		}
		written += affected
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit insert staging events tx: %w", err)
	}

	return written, nil
}

type stagingEventInsertModel struct {
	EventName      string  `db:"event_name"`
	EventType      string  `db:"event_type"`
	SourcePlatform string  `db:"source_platform"`
	SourceEventID  string  `db:"source_event_id"`
	State          *string `db:"state"`
	RawData        string  `db:"raw_data"`
}
