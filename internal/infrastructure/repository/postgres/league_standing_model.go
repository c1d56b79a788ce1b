package postgres

import (
	"time"

	"github.com/touchlinehq/touchline/internal/domain/standings"
)

type leagueStandingTableModel struct {
	ID             int64     `db:"id"`
	LeagueID       int64     `db:"league_id"`
	TeamID         int64     `db:"team_id"`
	Division       string    `db:"division"`
	Position       int       `db:"position"`
	Played         int       `db:"played"`
	Wins           int       `db:"wins"`
	Losses         int       `db:"losses"`
	Draws          int       `db:"draws"`
	GoalsFor       int       `db:"goals_for"`
	GoalsAgainst   int       `db:"goals_against"`
	GoalDifference int       `db:"goal_difference"`
	Points         int       `db:"points"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (m leagueStandingTableModel) toDomain() standings.Row {
	return standings.Row{
		LeagueID:     m.LeagueID,
		TeamID:       m.TeamID,
		Division:     m.Division,
		Position:     m.Position,
		Played:       m.Played,
		Wins:         m.Wins,
		Losses:       m.Losses,
		Draws:        m.Draws,
		GoalsFor:     m.GoalsFor,
		GoalsAgainst: m.GoalsAgainst,
		Points:       m.Points,
	}
}

type leagueStandingInsertModel struct {
	LeagueID       int64  `db:"league_id"`
	TeamID         int64  `db:"team_id"`
	Division       string `db:"division"`
	Position       int    `db:"position"`
	Played         int    `db:"played"`
	Wins           int    `db:"wins"`
	Losses         int    `db:"losses"`
	Draws          int    `db:"draws"`
	GoalsFor       int    `db:"goals_for"`
	GoalsAgainst   int    `db:"goals_against"`
	GoalDifference int    `db:"goal_difference"`
	Points         int    `db:"points"`
}
