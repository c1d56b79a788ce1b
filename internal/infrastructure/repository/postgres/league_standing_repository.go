package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/touchlinehq/touchline/internal/domain/standings"
	qb "github.com/touchlinehq/touchline/internal/platform/querybuilder"
)

const leagueStandingsTable = "league_standings"

type LeagueStandingRepository struct {
	db   *sqlx.DB
	gate writeGate
}

func NewLeagueStandingRepository(db *sqlx.DB) *LeagueStandingRepository {
	return &LeagueStandingRepository{db: db, gate: gatePipeline}
}

func (r *LeagueStandingRepository) ListByLeague(ctx context.Context, leagueID int64) ([]standings.Row, error) {
	query, args, err := qb.Select("*").From(leagueStandingsTable).
		Where(qb.Eq("league_id", leagueID)).
		OrderBy("division", "position", "points DESC", "id").
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list league standings query: %w", err)
	}

	var rows []leagueStandingTableModel
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list league standings: %w", err)
	}

	out := make([]standings.Row, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}

	return out, nil
}

func (r *LeagueStandingRepository) ReplaceDivision(ctx context.Context, leagueID int64, division string, rows []standings.Row) error {
	return withGatedTx(ctx, r.db, r.gate, func(tx *sqlx.Tx) error {
		clearQuery := fmt.Sprintf("DELETE FROM %s WHERE league_id = $1 AND division = $2", leagueStandingsTable)
		if _, err := tx.ExecContext(ctx, clearQuery, leagueID, division); err != nil {
			return fmt.Errorf("clear league standings league_id=%d division=%s: %w", leagueID, division, err)
		}

		for _, row := range rows {
			if err := row.Validate(); err != nil {
				return fmt.Errorf("validate standings row team_id=%d: %w", row.TeamID, err)
			}

			insertModel := leagueStandingInsertModel{
				LeagueID:       leagueID,
				TeamID:         row.TeamID,
				Division:       division,
				Position:       row.Position,
				Played:         row.Played,
				Wins:           row.Wins,
				Losses:         row.Losses,
				Draws:          row.Draws,
				GoalsFor:       row.GoalsFor,
				GoalsAgainst:   row.GoalsAgainst,
				GoalDifference: row.GoalDifference(),
				Points:         row.Points,
			}
			query, args, err := qb.InsertModel(leagueStandingsTable, insertModel, "ON CONFLICT (league_id, division, team_id) DO UPDATE SET position = EXCLUDED.position, played = EXCLUDED.played, wins = EXCLUDED.wins, losses = EXCLUDED.losses, draws = EXCLUDED.draws, goals_for = EXCLUDED.goals_for, goals_against = EXCLUDED.goals_against, goal_difference = EXCLUDED.goal_difference, points = EXCLUDED.points, updated_at = NOW()")
			if err != nil {
				return fmt.Errorf("build upsert league standing query: %w", err)
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("upsert league standing team_id=%d: %w", row.TeamID, err)
			}
		}

		return nil
	})
}
