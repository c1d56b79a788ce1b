package memory

import (
	"time"

	"github.com/touchlinehq/touchline/internal/domain/event"
	"github.com/touchlinehq/touchline/internal/domain/team"
)

const (
	SeedPlatformGotSport   = "gotsport"
	SeedPlatformPlaymetric = "playmetrics"
)

// SeedTeams returns a small canonical roster for database-free runs. The
// mix covers the resolver's hard cases: ranked teams without matches,
// missing birth years, and near-duplicate club names.
func SeedTeams() []team.Team {
	return []team.Team{
		{
			CanonicalName:   "sporting blue valley 2012b",
			DisplayName:     "Sporting Blue Valley 2012B",
			BirthYear:       intPtr(2012),
			BirthYearSource: team.MetaSourceParsed,
			Gender:          team.GenderMale,
			GenderSource:    team.MetaSourceParsed,
			State:           strPtr("KS"),
			EloRating:       team.DefaultEloRating,
			MatchesPlayed:   14,
			Wins:            9,
			Losses:          3,
			Draws:           2,
			GoalsFor:        31,
			GoalsAgainst:    17,
		},
		{
			CanonicalName:   "kc fusion 2013g academy",
			DisplayName:     "KC Fusion 2013G Academy",
			BirthYear:       intPtr(2013),
			BirthYearSource: team.MetaSourceParsed,
			Gender:          team.GenderFemale,
			GenderSource:    team.MetaSourceParsed,
			State:           strPtr("KS"),
			EloRating:       team.DefaultEloRating,
			MatchesPlayed:   11,
			Wins:            6,
			Losses:          4,
			Draws:           1,
			GoalsFor:        22,
			GoalsAgainst:    19,
		},
		{
			CanonicalName:   "lou fusz athletic 2012b",
			DisplayName:     "Lou Fusz Athletic 2012B",
			BirthYear:       intPtr(2012),
			BirthYearSource: team.MetaSourceParsed,
			Gender:          team.GenderMale,
			GenderSource:    team.MetaSourceParsed,
			State:           strPtr("MO"),
			EloRating:       team.DefaultEloRating,
			MatchesPlayed:   16,
			Wins:            10,
			Losses:          5,
			Draws:           1,
			GoalsFor:        38,
			GoalsAgainst:    24,
			NationalRank:    intPtr(87),
		},
		{
			CanonicalName:   "derby united 15b",
			DisplayName:     "Derby United 15B",
			BirthYear:       intPtr(2015),
			BirthYearSource: team.MetaSourceParsed,
			Gender:          team.GenderMale,
			GenderSource:    team.MetaSourceParsed,
			State:           strPtr("KS"),
			EloRating:       team.DefaultEloRating,
			MatchesPlayed:   8,
			Wins:            3,
			Losses:          4,
			Draws:           1,
			GoalsFor:        12,
			GoalsAgainst:    16,
		},
		{
			// Ranked import with no local match history yet; the weekly
			// reconciliation job exists for rows like this one.
			CanonicalName:   "kansas rush academy 2012b",
			DisplayName:     "Kansas Rush Academy 2012B",
			BirthYear:       intPtr(2012),
			BirthYearSource: team.MetaSourceParsed,
			Gender:          team.GenderMale,
			GenderSource:    team.MetaSourceParsed,
			State:           strPtr("KS"),
			EloRating:       team.DefaultEloRating,
			NationalRank:    intPtr(142),
		},
		{
			// No year evidence in the source name; birth year stays open
			// until a better sighting fills it.
			CanonicalName: "tonganoxie chiefs soccer club",
			DisplayName:   "Tonganoxie Chiefs Soccer Club",
			Gender:        team.GenderUnknown,
			State:         strPtr("KS"),
			EloRating:     team.DefaultEloRating,
			MatchesPlayed: 5,
			Wins:          2,
			Losses:        3,
			GoalsFor:      9,
			GoalsAgainst:  11,
		},
	}
}

// SeedEvents returns one league and one tournament so promoted matches
// have events to link against.
func SeedEvents() []event.Event {
	return []event.Event{
		{
			Kind:           event.KindLeague,
			Name:           "Heartland Premier League",
			SourceEventID:  "hpl-2026",
			SourcePlatform: SeedPlatformGotSport,
			State:          strPtr("KS"),
			Season:         "2025-26",
			StartDate:      timePtr(time.Date(2025, time.August, 9, 0, 0, 0, 0, time.UTC)),
			EndDate:        timePtr(time.Date(2026, time.June, 7, 0, 0, 0, 0, time.UTC)),
		},
		{
			Kind:           event.KindTournament,
			Name:           "Midwest Champions Cup",
			SourceEventID:  "mcc-2026",
			SourcePlatform: SeedPlatformPlaymetric,
			State:          strPtr("MO"),
			Season:         "2025-26",
			StartDate:      timePtr(time.Date(2026, time.May, 22, 0, 0, 0, 0, time.UTC)),
			EndDate:        timePtr(time.Date(2026, time.May, 25, 0, 0, 0, 0, time.UTC)),
		},
	}
}

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func timePtr(v time.Time) *time.Time { return &v }
