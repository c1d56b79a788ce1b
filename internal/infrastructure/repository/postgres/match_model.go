package postgres

import (
	"database/sql"
	"time"

	"github.com/touchlinehq/touchline/internal/domain/match"
)

type matchTableModel struct {
	ID             int64          `db:"id"`
	MatchDate      time.Time      `db:"match_date"`
	MatchTime      sql.NullString `db:"match_time"`
	HomeTeamID     int64          `db:"home_team_id"`
	AwayTeamID     int64          `db:"away_team_id"`
	HomeScore      sql.NullInt64  `db:"home_score"`
	AwayScore      sql.NullInt64  `db:"away_score"`
	LeagueID       sql.NullInt64  `db:"league_id"`
	TournamentID   sql.NullInt64  `db:"tournament_id"`
	Venue          sql.NullString `db:"venue"`
	SourcePlatform string         `db:"source_platform"`
	SourceMatchKey string         `db:"source_match_key"`
	DeletedAt      sql.NullTime   `db:"deleted_at"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func (m matchTableModel) toDomain() match.Match {
	out := match.Match{
		ID:             m.ID,
		MatchDate:      m.MatchDate,
		HomeTeamID:     m.HomeTeamID,
		AwayTeamID:     m.AwayTeamID,
		SourcePlatform: m.SourcePlatform,
		SourceMatchKey: m.SourceMatchKey,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}

	out.MatchTime = nullStringToPtr(m.MatchTime)
	out.HomeScore = nullInt64ToIntPtr(m.HomeScore)
	out.AwayScore = nullInt64ToIntPtr(m.AwayScore)
	out.LeagueID = nullInt64ToInt64Ptr(m.LeagueID)
	out.TournamentID = nullInt64ToInt64Ptr(m.TournamentID)
	out.DeletedAt = nullTimeToPtr(m.DeletedAt)
	if m.Venue.Valid {
		out.Venue = m.Venue.String
	}

	return out
}

type matchInsertModel struct {
	MatchDate      time.Time `db:"match_date"`
	MatchTime      *string   `db:"match_time"`
	HomeTeamID     int64     `db:"home_team_id"`
	AwayTeamID     int64     `db:"away_team_id"`
	HomeScore      *int      `db:"home_score"`
	AwayScore      *int      `db:"away_score"`
	LeagueID       *int64    `db:"league_id"`
	TournamentID   *int64    `db:"tournament_id"`
	Venue          *string   `db:"venue"`
	SourcePlatform string    `db:"source_platform"`
	SourceMatchKey string    `db:"source_match_key"`
}

func matchInsertModelFrom(m match.Match) matchInsertModel {
	return matchInsertModel{
		MatchDate:      m.MatchDate,
		MatchTime:      m.MatchTime,
		HomeTeamID:     m.HomeTeamID,
		AwayTeamID:     m.AwayTeamID,
		HomeScore:      m.HomeScore,
		AwayScore:      m.AwayScore,
		LeagueID:       m.LeagueID,
		TournamentID:   m.TournamentID,
		Venue:          nullableString(m.Venue),
		SourcePlatform: m.SourcePlatform,
		SourceMatchKey: m.SourceMatchKey,
	}
}
