package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// appViews are the read-side materialized views the pipeline refreshes
// after production writes. The serving layer owns their definitions.
var appViews = []string{
	"app_rankings",
	"app_team_profile",
	"app_matches_feed",
	"app_league_standings",
	"app_upcoming_schedule",
}

type ViewRefresher struct {
	db *sqlx.DB
}

func NewViewRefresher(db *sqlx.DB) *ViewRefresher {
	return &ViewRefresher{db: db}
}

func (r *ViewRefresher) Views() []string {
	out := make([]string, len(appViews))
	copy(out, appViews)

	return out
}

// Refresh refreshes one materialized view, concurrently when possible so
// readers are not blocked. A concurrent refresh fails on an unpopulated
// view or a view without a unique index; those fall back to a plain
// refresh. Reports whether the fallback path ran.
func (r *ViewRefresher) Refresh(ctx context.Context, view string) (bool, error) {
	concurrent := fmt.Sprintf("REFRESH MATERIALIZED VIEW CONCURRENTLY %s", view)
	if _, err := r.db.ExecContext(ctx, concurrent); err == nil {
		return false, nil
	}

	plain := fmt.Sprintf("REFRESH MATERIALIZED VIEW %s", view)
	if _, err := r.db.ExecContext(ctx, plain); err != nil {
		return true, fmt.Errorf("refresh view %s: %w", view, err)
	}

	return true, nil
}
