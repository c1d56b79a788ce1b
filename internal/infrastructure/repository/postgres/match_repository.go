package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/touchlinehq/touchline/internal/domain/match"
	qb "github.com/touchlinehq/touchline/internal/platform/querybuilder"
)

type MatchRepository struct {
	db            *sqlx.DB
	matchesTable  string
	denylistTable string
	gate          writeGate
}

func NewMatchRepository(db *sqlx.DB) *MatchRepository {
	return &MatchRepository{
		db:            db,
		matchesTable:  "matches_v2",
		denylistTable: "match_denylist",
		gate:          gatePipeline,
	}
}

// NewRebuildMatchRepository targets the shadow match table. The denylist
// stays shared: invalidated keys must stay dead across rebuilds.
func NewRebuildMatchRepository(db *sqlx.DB) *MatchRepository {
	return &MatchRepository{
		db:            db,
		matchesTable:  "matches_v2_rebuild",
		denylistTable: "match_denylist",
		gate:          gateRebuild,
	}
}

func (r *MatchRepository) upsertSuffix() string {
	return fmt.Sprintf(`ON CONFLICT (source_match_key) WHERE deleted_at IS NULL DO UPDATE SET
match_date = EXCLUDED.match_date,
match_time = COALESCE(EXCLUDED.match_time, %[1]s.match_time),
home_score = EXCLUDED.home_score,
away_score = EXCLUDED.away_score,
venue = COALESCE(EXCLUDED.venue, %[1]s.venue),
league_id = COALESCE(EXCLUDED.league_id, %[1]s.league_id),
tournament_id = COALESCE(EXCLUDED.tournament_id, %[1]s.tournament_id),
updated_at = NOW()
RETURNING (xmax = 0)`, r.matchesTable)
}

func (r *MatchRepository) UpsertMany(ctx context.Context, matches []match.Match) (match.UpsertStats, error) {
	var stats match.UpsertStats
	if len(matches) == 0 {
		return stats, nil
	}

	suffix := r.upsertSuffix()
	err := withGatedTx(ctx, r.db, r.gate, func(tx *sqlx.Tx) error {
		for _, m := range matches {
			if err := m.Validate(); err != nil {
				return fmt.Errorf("validate match key=%s: %w", m.SourceMatchKey, err)
			}

			query, args, err := qb.InsertModel(r.matchesTable, matchInsertModelFrom(m), suffix)
			if err != nil {
				return fmt.Errorf("build upsert match query: %w", err)
			}

			var inserted bool
			if err := tx.QueryRowxContext(ctx, query, args...).Scan(&inserted); err != nil {
				return fmt.Errorf("upsert match key=%s: %w", m.SourceMatchKey, err)
			}
			if inserted {
				stats.Inserted++
			} else {
				stats.Updated++
			}
		}

		return nil
	})
	if err != nil {
		return match.UpsertStats{}, err
	}

	return stats, nil
}

func (r *MatchRepository) ListUnlinked(ctx context.Context, limit int) ([]match.Match, error) {
	if limit <= 0 {
		limit = 1000
	}

	query, args, err := qb.Select("*").From(r.matchesTable).
		Where(
			qb.IsNull("league_id"),
			qb.IsNull("tournament_id"),
			qb.IsNull("deleted_at"),
		).
		OrderBy("match_date ASC", "id ASC").
		Limit(limit).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build select unlinked matches query: %w", err)
	}

	var rows []matchTableModel
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select unlinked matches: %w", err)
	}

	return matchesToDomain(rows), nil
}

func (r *MatchRepository) ListLinkedByTeamIDs(ctx context.Context, teamIDs []int64) ([]match.Match, error) {
	if len(teamIDs) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`SELECT * FROM %s
WHERE deleted_at IS NULL
  AND (league_id IS NOT NULL OR tournament_id IS NOT NULL)
  AND (home_team_id = ANY($1) OR away_team_id = ANY($1))
ORDER BY match_date ASC, id ASC`, r.matchesTable)

	var rows []matchTableModel
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(teamIDs)); err != nil {
		return nil, fmt.Errorf("select linked matches by teams: %w", err)
	}

	return matchesToDomain(rows), nil
}

func (r *MatchRepository) AssignEvents(ctx context.Context, assignments []match.EventAssignment) (int64, error) {
	if len(assignments) == 0 {
		return 0, nil
	}

	var linked int64
	err := withGatedTx(ctx, r.db, r.gate, func(tx *sqlx.Tx) error {
		for _, a := range assignments {
			if (a.LeagueID == nil) == (a.TournamentID == nil) {
				return fmt.Errorf("assignment for match id=%d must set exactly one event", a.MatchID)
			}

			// Guard on unlinked so a later promotion that already
			// linked the row is not overwritten.
			query, args, err := qb.Update(r.matchesTable).
				Set("league_id", a.LeagueID).
				Set("tournament_id", a.TournamentID).
				SetExpr("updated_at", "NOW()").
				Where(
					qb.Eq("id", a.MatchID),
					qb.IsNull("league_id"),
					qb.IsNull("tournament_id"),
					qb.IsNull("deleted_at"),
				).
				ToSQL()
			if err != nil {
				return fmt.Errorf("build assign event query: %w", err)
			}

			res, err := tx.ExecContext(ctx, query, args...)
			if err != nil {
				return fmt.Errorf("assign event to match id=%d: %w", a.MatchID, err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("count assigned rows for match id=%d: %w", a.MatchID, err)
			}
			linked += affected
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return linked, nil
}

func (r *MatchRepository) ListActiveSourceEvents(ctx context.Context, from, to time.Time) ([]match.SourceEventRef, error) {
	// source_match_key is "<platform>-<event id>-<match id>"; the event id
	// is whatever sits between the platform prefix and the last segment.
	query := fmt.Sprintf(`SELECT DISTINCT source_platform,
       regexp_replace(substring(source_match_key from char_length(source_platform) + 2), '-[^-]*$', '') AS source_event_id
FROM %s
WHERE deleted_at IS NULL AND match_date BETWEEN $1 AND $2
ORDER BY source_platform, source_event_id`, r.matchesTable)

	var rows []struct {
		SourcePlatform string `db:"source_platform"`
		SourceEventID  string `db:"source_event_id"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, from, to); err != nil {
		return nil, fmt.Errorf("select active source events: %w", err)
	}

	out := make([]match.SourceEventRef, 0, len(rows))
	for _, row := range rows {
		if row.SourceEventID == "" {
			continue
		}
		out = append(out, match.SourceEventRef{
			SourcePlatform: row.SourcePlatform,
			SourceEventID:  row.SourceEventID,
		})
	}

	return out, nil
}

func (r *MatchRepository) Denylist(ctx context.Context, keys []string, reason string) error {
	if len(keys) == 0 {
		return nil
	}

	return withGatedTx(ctx, r.db, r.gate, func(tx *sqlx.Tx) error {
		record := fmt.Sprintf(`INSERT INTO %s (source_match_key, reason)
SELECT unnest($1::text[]), $2
ON CONFLICT (source_match_key) DO NOTHING`, r.denylistTable)
		if _, err := tx.ExecContext(ctx, record, pq.Array(keys), reason); err != nil {
			return fmt.Errorf("record denylisted keys: %w", err)
		}

		remove := fmt.Sprintf(`UPDATE %s SET deleted_at = NOW(), updated_at = NOW()
WHERE source_match_key = ANY($1) AND deleted_at IS NULL`, r.matchesTable)
		if _, err := tx.ExecContext(ctx, remove, pq.Array(keys)); err != nil {
			return fmt.Errorf("soft delete denylisted matches: %w", err)
		}

		return nil
	})
}

func (r *MatchRepository) ListDenylistedKeys(ctx context.Context) (map[string]struct{}, error) {
	query, args, err := qb.Select("source_match_key").From(r.denylistTable).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build select denylist query: %w", err)
	}

	var keys []string
	if err := r.db.SelectContext(ctx, &keys, query, args...); err != nil {
		return nil, fmt.Errorf("select denylisted keys: %w", err)
	}

	out := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		out[key] = struct{}{}
	}

	return out, nil
}

func (r *MatchRepository) Stats(ctx context.Context) (match.Stats, error) {
	query := fmt.Sprintf(`SELECT
  COUNT(*) FILTER (WHERE deleted_at IS NULL) AS total,
  COUNT(DISTINCT source_match_key) FILTER (WHERE deleted_at IS NULL) AS distinct_keys,
  COALESCE((SELECT COUNT(*) FROM (
    SELECT 1 FROM %[1]s WHERE deleted_at IS NULL GROUP BY source_match_key HAVING COUNT(*) > 1
  ) AS dup), 0) AS duplicate_key_groups
FROM %[1]s`, r.matchesTable)

	var row struct {
		Total              int64 `db:"total"`
		DistinctKeys       int64 `db:"distinct_keys"`
		DuplicateKeyGroups int64 `db:"duplicate_key_groups"`
	}
	if err := r.db.GetContext(ctx, &row, query); err != nil {
		return match.Stats{}, fmt.Errorf("count match stats: %w", err)
	}

	return match.Stats{
		Total:              row.Total,
		DistinctKeys:       row.DistinctKeys,
		DuplicateKeyGroups: row.DuplicateKeyGroups,
	}, nil
}

func matchesToDomain(rows []matchTableModel) []match.Match {
	out := make([]match.Match, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}

	return out
}
