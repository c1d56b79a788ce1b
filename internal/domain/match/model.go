package match

import (
	"fmt"
	"time"
)

// Match is one persisted game between two canonical teams. It references
// teams and events by id only; team aggregate counters react to match
// writes through database triggers.
type Match struct {
	ID             int64
	MatchDate      time.Time
	MatchTime      *string
	HomeTeamID     int64
	AwayTeamID     int64
	HomeScore      *int
	AwayScore      *int
	LeagueID       *int64
	TournamentID   *int64
	Venue          string
	SourcePlatform string
	SourceMatchKey string
	DeletedAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (m Match) Validate() error {
	if m.HomeTeamID == 0 || m.AwayTeamID == 0 {
		return fmt.Errorf("match requires both team ids")
	}
	if m.HomeTeamID == m.AwayTeamID {
		return fmt.Errorf("match home and away team must differ")
	}
	if m.MatchDate.IsZero() {
		return fmt.Errorf("match date is required")
	}
	if m.HomeScore != nil && *m.HomeScore < 0 {
		return fmt.Errorf("match home score must not be negative")
	}
	if m.AwayScore != nil && *m.AwayScore < 0 {
		return fmt.Errorf("match away score must not be negative")
	}
	if m.LeagueID != nil && m.TournamentID != nil {
		return fmt.Errorf("match may belong to a league or a tournament, not both")
	}
	if m.SourcePlatform == "" {
		return fmt.Errorf("match source platform is required")
	}
	if m.SourceMatchKey == "" {
		return fmt.Errorf("match source key is required")
	}

	return nil
}

// Linked reports whether the match is assigned to an event.
func (m Match) Linked() bool {
	return m.LeagueID != nil || m.TournamentID != nil
}

// Played reports whether both scores are present.
func (m Match) Played() bool {
	return m.HomeScore != nil && m.AwayScore != nil
}
