package postgres

import (
	"database/sql"
	"time"

	"github.com/touchlinehq/touchline/internal/domain/team"
)

type teamTableModel struct {
	ID               int64          `db:"id"`
	CanonicalName    string         `db:"canonical_name"`
	DisplayName      string         `db:"display_name"`
	BirthYear        sql.NullInt64  `db:"birth_year"`
	BirthYearSource  sql.NullString `db:"birth_year_source"`
	Gender           sql.NullString `db:"gender"`
	GenderSource     sql.NullString `db:"gender_source"`
	State            sql.NullString `db:"state"`
	EloRating        float64        `db:"elo_rating"`
	MatchesPlayed    int            `db:"matches_played"`
	Wins             int            `db:"wins"`
	Losses           int            `db:"losses"`
	Draws            int            `db:"draws"`
	GoalsFor         int            `db:"goals_for"`
	GoalsAgainst     int            `db:"goals_against"`
	NationalRank     sql.NullInt64  `db:"national_rank"`
	DataQualityScore int            `db:"data_quality_score"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

func (m teamTableModel) toDomain() team.Team {
	gender := team.GenderUnknown
	if m.Gender.Valid {
		gender = team.ParseGender(m.Gender.String)
	}

	return team.Team{
		ID:               m.ID,
		CanonicalName:    m.CanonicalName,
		DisplayName:      m.DisplayName,
		BirthYear:        nullInt64ToIntPtr(m.BirthYear),
		BirthYearSource:  metaSourceOrUnknown(m.BirthYearSource),
		Gender:           gender,
		GenderSource:     metaSourceOrUnknown(m.GenderSource),
		State:            nullStringToPtr(m.State),
		EloRating:        m.EloRating,
		MatchesPlayed:    m.MatchesPlayed,
		Wins:             m.Wins,
		Losses:           m.Losses,
		Draws:            m.Draws,
		GoalsFor:         m.GoalsFor,
		GoalsAgainst:     m.GoalsAgainst,
		NationalRank:     nullInt64ToIntPtr(m.NationalRank),
		DataQualityScore: m.DataQualityScore,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func metaSourceOrUnknown(value sql.NullString) team.MetaSource {
	if !value.Valid || value.String == "" {
		return team.MetaSourceUnknown
	}

	return team.MetaSource(value.String)
}

type scoredTeamModel struct {
	teamTableModel
	Similarity float64 `db:"sim"`
}

type teamInsertModel struct {
	CanonicalName    string  `db:"canonical_name"`
	DisplayName      string  `db:"display_name"`
	BirthYear        *int    `db:"birth_year"`
	BirthYearSource  string  `db:"birth_year_source"`
	Gender           *string `db:"gender"`
	GenderSource     string  `db:"gender_source"`
	State            *string `db:"state"`
	EloRating        float64 `db:"elo_rating"`
	DataQualityScore int     `db:"data_quality_score"`
}

func teamInsertModelFrom(t team.Team) teamInsertModel {
	elo := t.EloRating
	if elo == 0 {
		elo = team.DefaultEloRating
	}

	var gender *string
	if t.Gender == team.GenderMale || t.Gender == team.GenderFemale {
		value := string(t.Gender)
		gender = &value
	}

	display := t.DisplayName
	if display == "" {
		display = t.CanonicalName
	}

	return teamInsertModel{
		CanonicalName:    t.CanonicalName,
		DisplayName:      display,
		BirthYear:        t.BirthYear,
		BirthYearSource:  string(t.BirthYearSource),
		Gender:           gender,
		GenderSource:     string(t.GenderSource),
		State:            t.State,
		EloRating:        elo,
		DataQualityScore: t.DataQualityScore,
	}
}

type aliasTableModel struct {
	AliasName string    `db:"alias_name"`
	TeamID    int64     `db:"team_id"`
	Source    string    `db:"source"`
	CreatedAt time.Time `db:"created_at"`
}

func (m aliasTableModel) toDomain() team.Alias {
	return team.Alias{
		AliasName: m.AliasName,
		TeamID:    m.TeamID,
		Source:    team.AliasSource(m.Source),
		CreatedAt: m.CreatedAt,
	}
}

type aliasInsertModel struct {
	AliasName string `db:"alias_name"`
	TeamID    int64  `db:"team_id"`
	Source    string `db:"source"`
}
