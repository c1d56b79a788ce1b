package memory

import "context"

// appViews mirrors the read-side view list in the postgres refresher so
// refresh runs report the same names in either mode.
var appViews = []string{
	"app_rankings",
	"app_team_profile",
	"app_matches_feed",
	"app_league_standings",
	"app_upcoming_schedule",
}

// ViewRefresher satisfies the view refresh port without a database. There
// is nothing to materialize in memory, so every refresh succeeds.
type ViewRefresher struct{}

func NewViewRefresher() *ViewRefresher {
	return &ViewRefresher{}
}

func (r *ViewRefresher) Views() []string {
	out := make([]string, len(appViews))
	copy(out, appViews)

	return out
}

func (r *ViewRefresher) Refresh(_ context.Context, _ string) (bool, error) {
	return false, nil
}
