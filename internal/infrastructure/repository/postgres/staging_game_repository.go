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

const stagingGamesTable = "staging_games"

// stagingGameInsertSuffix drops duplicates of a key that is still waiting
// for promotion. Once a row is processed a re-scrape may append a fresh
// row, which is how score corrections reach production.
const stagingGameInsertSuffix = "ON CONFLICT (source_match_key) WHERE NOT processed DO NOTHING"

type StagingGameRepository struct {
	db *sqlx.DB
}

func NewStagingGameRepository(db *sqlx.DB) *StagingGameRepository {
	return &StagingGameRepository{db: db}
}

func (r *StagingGameRepository) InsertMany(ctx context.Context, games []staging.Game) (int64, error) {
	if len(games) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx insert staging games: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var written int64
	for _, game := range games {
		if err := game.Validate(); err != nil {
			return 0, fmt.Errorf("validate staging game key=%s: %w", game.SourceMatchKey, err)
		}

		insertModel := stagingGameInsertModel{
			MatchDate:      game.MatchDate,
			MatchTime:      nullableString(game.MatchTime),
			HomeTeamName:   game.HomeTeamName,
			AwayTeamName:   game.AwayTeamName,
			HomeScore:      game.HomeScore,
			AwayScore:      game.AwayScore,
			EventName:      game.EventName,
			EventID:        game.EventID,
			VenueName:      game.VenueName,
			FieldName:      game.FieldName,
			Division:       game.Division,
			SourcePlatform: game.SourcePlatform,
			SourceMatchKey: game.SourceMatchKey,
			RawData:        rawDataOrEmpty(game.RawData),
		}

		query, args, err := qb.InsertModel(stagingGamesTable, insertModel, stagingGameInsertSuffix)
		if err != nil {
			return 0, fmt.Errorf("build insert staging game query: %w", err)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("insert staging game key=%s: %w", game.SourceMatchKey, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("count inserted staging games: %w", err)
		}
		written += affected
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit insert staging games tx: %w", err)
	}

	return written, nil
}

func (r *StagingGameRepository) ListUnprocessed(ctx context.Context, limit int) ([]staging.Game, error) {
	if limit <= 0 {
		limit = 1000
	}

	query, args, err := qb.Select("*").From(stagingGamesTable).
		Where(qb.Eq("processed", false)).
		OrderBy("scraped_at ASC", "id ASC").
		Limit(limit).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build select unprocessed staging games query: %w", err)
	}

	var rows []stagingGameTableModel
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select unprocessed staging games: %w", err)
	}

	return stagingGamesToDomain(rows), nil
}

func (r *StagingGameRepository) MarkProcessed(ctx context.Context, outcomes []staging.ProcessOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx mark staging games processed: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, outcome := range outcomes {
		query, args, err := qb.Update(stagingGamesTable).
			Set("processed", true).
			SetExpr("processed_at", "NOW()").
			SetExpr("error_message", "NULLIF(?, '')", outcome.ErrorMessage).
			Where(qb.Eq("id", outcome.ID)).
			ToSQL()
		if err != nil {
			return fmt.Errorf("build mark staging game processed query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("mark staging game id=%d processed: %w", outcome.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mark staging games processed tx: %w", err)
	}

	return nil
}

func (r *StagingGameRepository) CountUnprocessed(ctx context.Context) (int64, error) {
	query, args, err := qb.Select("COUNT(*)").From(stagingGamesTable).
		Where(qb.Eq("processed", false)).
		ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build count unprocessed staging games query: %w", err)
	}

	var count int64
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("count unprocessed staging games: %w", err)
	}

	return count, nil
}

func (r *StagingGameRepository) StreamAll(ctx context.Context, batchSize int, fn func(games []staging.Game) error) error {
	if batchSize <= 0 {
		batchSize = 1000
	}

	var afterID int64
	for {
		query, args, err := qb.Select("*").From(stagingGamesTable).
			Where(qb.Expr("id > ?", afterID)).
			OrderBy("id ASC").
			Limit(batchSize).
			ToSQL()
		if err != nil {
			return fmt.Errorf("build stream staging games query: %w", err)
		}

		var rows []stagingGameTableModel
		if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
			return fmt.Errorf("stream staging games after id=%d: %w", afterID, err)
		}
		if len(rows) == 0 {
			return nil
		}

		if err := fn(stagingGamesToDomain(rows)); err != nil {
			return err
		}
		afterID = rows[len(rows)-1].ID
	}
}

func (r *StagingGameRepository) DistinctSourceKeys(ctx context.Context) (map[string]struct{}, error) {
	query, args, err := qb.Select("DISTINCT source_match_key").From(stagingGamesTable).
		Where(qb.Expr("source_match_key <> ''")).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build select staging game keys query: %w", err)
	}

	var keys []string
	if err := r.db.SelectContext(ctx, &keys, query, args...); err != nil {
		return nil, fmt.Errorf("select staging game keys: %w", err)
	}

	out := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		out[key] = struct{}{}
	}

	return out, nil
}

// rawDataOrEmpty keeps the jsonb column non-null for rows scraped before a
// raw payload was captured.
func rawDataOrEmpty(raw string) string {
	if raw == "" {
		return "{}"
	}

	return raw
}

type stagingGameTableModel struct {
	ID             int64          `db:"id"`
	MatchDate      sql.NullTime   `db:"match_date"`
	MatchTime      sql.NullString `db:"match_time"`
	HomeTeamName   string         `db:"home_team_name"`
	AwayTeamName   string         `db:"away_team_name"`
	HomeScore      sql.NullInt64  `db:"home_score"`
	AwayScore      sql.NullInt64  `db:"away_score"`
	EventName      string         `db:"event_name"`
	EventID        string         `db:"event_id"`
	VenueName      string         `db:"venue_name"`
	FieldName      string         `db:"field_name"`
	Division       string         `db:"division"`
	SourcePlatform string         `db:"source_platform"`
	SourceMatchKey string         `db:"source_match_key"`
	RawData        string         `db:"raw_data"`
	Processed      bool           `db:"processed"`
	ProcessedAt    sql.NullTime   `db:"processed_at"`
	ErrorMessage   sql.NullString `db:"error_message"`
	ScrapedAt      time.Time      `db:"scraped_at"`
}

func (m stagingGameTableModel) toDomain() staging.Game {
	out := staging.Game{
		ID:             m.ID,
		HomeTeamName:   m.HomeTeamName,
		AwayTeamName:   m.AwayTeamName,
		EventName:      m.EventName,
		EventID:        m.EventID,
		VenueName:      m.VenueName,
		FieldName:      m.FieldName,
		Division:       m.Division,
		SourcePlatform: m.SourcePlatform,
		SourceMatchKey: m.SourceMatchKey,
		RawData:        m.RawData,
		Processed:      m.Processed,
		ScrapedAt:      m.ScrapedAt,
	}

	out.MatchDate = nullTimeToPtr(m.MatchDate)
	out.HomeScore = nullInt64ToIntPtr(m.HomeScore)
	out.AwayScore = nullInt64ToIntPtr(m.AwayScore)
	out.ProcessedAt = nullTimeToPtr(m.ProcessedAt)
	out.ErrorMessage = nullStringToPtr(m.ErrorMessage)
	if m.MatchTime.Valid {
		out.MatchTime = m.MatchTime.String
	}

	return out
}

func stagingGamesToDomain(rows []stagingGameTableModel) []staging.Game {
	out := make([]staging.Game, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}

	return out
}

type stagingGameInsertModel struct {
	MatchDate      *time.Time `db:"match_date"`
	MatchTime      *string    `db:"match_time"`
	HomeTeamName   string     `db:"home_team_name"`
	AwayTeamName   string     `db:"away_team_name"`
	HomeScore      *int       `db:"home_score"`
	AwayScore      *int       `db:"away_score"`
	EventName      string     `db:"event_name"`
	EventID        string     `db:"event_id"`
	VenueName      string     `db:"venue_name"`
	FieldName      string     `db:"field_name"`
	Division       string     `db:"division"`
	SourcePlatform string     `db:"source_platform"`
	SourceMatchKey string     `db:"source_match_key"`
	RawData        string     `db:"raw_data"`
}
