package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/touchlinehq/touchline/internal/domain/staging"
	qb "github.com/touchlinehq/touchline/internal/platform/querybuilder"
)

const stagingStandingsTable = "staging_standings"

type StagingStandingRepository struct {
	db *sqlx.DB
}

func NewStagingStandingRepository(db *sqlx.DB) *StagingStandingRepository {
	return &StagingStandingRepository{db: db}
}

func (r *StagingStandingRepository) InsertMany(ctx context.Context, standings []staging.Standing) (int64, error) {
	if len(standings) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx insert staging standings: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var written int64
	for _, standing := range standings {
		if err := standing.Validate(); err != nil {
			return 0, fmt.Errorf("validate staging standing team=%s: %w", standing.TeamName, err)
		}

		insertModel := stagingStandingInsertModel{
			TeamName:       standing.TeamName,
			TeamSourceID:   standing.TeamSourceID,
			Division:       standing.Division,
			AgeGroup:       standing.AgeGroup,
			Gender:         standing.Gender,
			Wins:           standing.Wins,
			Losses:         standing.Losses,
			Ties:           standing.Ties,
			GoalsFor:       standing.GoalsFor,
			GoalsAgainst:   standing.GoalsAgainst,
			Points:         standing.Points,
			Position:       standing.Position,
			EventName:      standing.EventName,
			EventID:        standing.EventID,
			SourcePlatform: standing.SourcePlatform,
			RawData:        rawDataOrEmpty(standing.RawData),
		}

		query, args, err := qb.InsertModel(stagingStandingsTable, insertModel, "ON CONFLICT (source_platform, event_id, division, team_name) WHERE NOT processed DO NOTHING")
		if err != nil {
			return 0, fmt.Errorf("build insert staging standing query: %w", err)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("insert staging standing team=%s: %w", standing.TeamName, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("count inserted staging standings: %w", err)
		}
		written += affected
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit insert staging standings tx: %w", err)
	}

	return written, nil
}

func (r *StagingStandingRepository) ListUnprocessed(ctx context.Context, limit int) ([]staging.Standing, error) {
	if limit <= 0 {
		limit = 1000
	}

	query, args, err := qb.Select("*").From(stagingStandingsTable).
		Where(qb.Eq("processed", false)).
		OrderBy("scraped_at ASC", "id ASC").
		Limit(limit).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build select unprocessed staging standings query: %w", err)
	}

	var rows []stagingStandingTableModel
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select unprocessed staging standings: %w", err)
	}

	out := make([]staging.Standing, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}

	return out, nil
}

func (r *StagingStandingRepository) MarkProcessed(ctx context.Context, outcomes []staging.ProcessOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx mark staging standings processed: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, outcome := range outcomes {
		query, args, err := qb.Update(stagingStandingsTable).
			Set("processed", true).
			SetExpr("processed_at", "NOW()").
			SetExpr("error_message", "NULLIF(?, '')", outcome.ErrorMessage).
			Where(qb.Eq("id", outcome.ID)).
			ToSQL()
		if err != nil {
			return fmt.Errorf("build mark staging standing processed query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("mark staging standing id=%d processed: %w", outcome.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mark staging standings processed tx: %w", err)
	}

	return nil
}

func (r *StagingStandingRepository) CountUnprocessed(ctx context.Context) (int64, error) {
	query, args, err := qb.Select("COUNT(*)").From(stagingStandingsTable).
		Where(qb.Eq("processed", false)).
		ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build count unprocessed staging standings query: %w", err)
	}

	var count int64
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("count unprocessed staging standings: %w", err)
	}

	return count, nil
}

type stagingStandingTableModel struct {
	ID             int64          `db:"id"`
	TeamName       string         `db:"team_name"`
	TeamSourceID   string         `db:"team_source_id"`
	Division       string         `db:"division"`
	AgeGroup       string         `db:"age_group"`
	Gender         string         `db:"gender"`
	Wins           int            `db:"wins"`
	Losses         int            `db:"losses"`
	Ties           int            `db:"ties"`
	GoalsFor       int            `db:"goals_for"`
	GoalsAgainst   int            `db:"goals_against"`
	Points         int            `db:"points"`
	Position       int            `db:"position"`
	EventName      string         `db:"event_name"`
	EventID        string         `db:"event_id"`
	SourcePlatform string         `db:"source_platform"`
	RawData        string         `db:"raw_data"`
	Processed      bool           `db:"processed"`
	ProcessedAt    sql.NullTime   `db:"processed_at"`
	ErrorMessage   sql.NullString `db:"error_message"`
	ScrapedAt      time.Time      `db:"scraped_at"`
}

func (m stagingStandingTableModel) toDomain() staging.Standing {
	out := staging.Standing{
		ID:             m.ID,
		TeamName:       m.TeamName,
		TeamSourceID:   m.TeamSourceID,
		Division:       m.Division,
		AgeGroup:       m.AgeGroup,
		Gender:         m.Gender,
		Wins:           m.Wins,
		Losses:         m.Losses,
		Ties:           m.Ties,
		GoalsFor:       m.GoalsFor,
		GoalsAgainst:   m.GoalsAgainst,
		Points:         m.Points,
		Position:       m.Position,
		EventName:      m.EventName,
		EventID:        m.EventID,
		SourcePlatform: m.SourcePlatform,
		RawData:        m.RawData,
		Processed:      m.Processed,
		ScrapedAt:      m.ScrapedAt,
	}

	out.ProcessedAt = nullTimeToPtr(m.ProcessedAt)
	out.ErrorMessage = nullStringToPtr(m.ErrorMessage)

	return out
}

type stagingStandingInsertModel struct {
	TeamName       string `db:"team_name"`
	TeamSourceID   string `db:"team_source_id"`
	Division       string `db:"division"`
	AgeGroup       string `db:"age_group"`
	Gender         string `db:"gender"`
	Wins           int    `db:"wins"`
	Losses         int    `db:"losses"`
	Ties           int    `db:"ties"`
	GoalsFor       int    `db:"goals_for"`
	GoalsAgainst   int    `db:"goals_against"`
	Points         int    `db:"points"`
	Position       int    `db:"position"`
	EventName      string `db:"event_name"`
	EventID        string `db:"event_id"`
	SourcePlatform string `db:"source_platform"`
	RawData        string `db:"raw_data"`
}
