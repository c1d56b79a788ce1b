package standings

import "fmt"

// Row represents a league table row for one canonical team in one division.
type Row struct {
	LeagueID     int64
	TeamID       int64
	Division     string
	Position     int
	Played       int
	Wins         int
	Losses       int
	Draws        int
	GoalsFor     int
	GoalsAgainst int
	Points       int
}

func (r Row) Validate() error {
	if r.LeagueID == 0 {
		return fmt.Errorf("standings league id is required")
	}
	if r.TeamID == 0 {
		return fmt.Errorf("standings team id is required")
	}
	if r.Position <= 0 {
		return fmt.Errorf("standings position must be positive")
	}

	return nil
}

// GoalDifference is goals for minus goals against.
func (r Row) GoalDifference() int {
	return r.GoalsFor - r.GoalsAgainst
}
