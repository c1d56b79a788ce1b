package team

import (
	"fmt"
	"time"
)

// Gender is the roster gender parsed from source names and divisions.
type Gender string

const (
	GenderMale    Gender = "M"
	GenderFemale  Gender = "F"
	GenderUnknown Gender = "unknown"
)

// ParseGender maps a raw marker to a Gender, defaulting to unknown.
func ParseGender(raw string) Gender {
	switch raw {
	case "M", "m":
		return GenderMale
	case "F", "f":
		return GenderFemale
	default:
		return GenderUnknown
	}
}

// MetaSource records where an attribute value came from.
type MetaSource string

const (
	MetaSourceParsed   MetaSource = "parsed"
	MetaSourceInferred MetaSource = "inferred"
	MetaSourceOfficial MetaSource = "official"
	MetaSourceUnknown  MetaSource = "unknown"
)

// AliasSource records how an alias mapping was learned.
type AliasSource string

const (
	AliasSourceSeeded       AliasSource = "seeded"
	AliasSourceFuzzyLearned AliasSource = "fuzzy_learned"
	AliasSourceOperator     AliasSource = "operator"
)

const (
	DefaultEloRating = 1500.0

	minBirthYear = 2000
	maxBirthYear = 2020
)

// Team is a canonical team: the single entity a real-world roster maps to
// across every data source. Aggregate counters are maintained by database
// triggers on match writes, never by application code.
type Team struct {
	ID               int64
	CanonicalName    string
	DisplayName      string
	BirthYear        *int
	BirthYearSource  MetaSource
	Gender           Gender
	GenderSource     MetaSource
	State            *string
	EloRating        float64
	MatchesPlayed    int
	Wins             int
	Losses           int
	Draws            int
	GoalsFor         int
	GoalsAgainst     int
	NationalRank     *int
	DataQualityScore int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (t Team) Validate() error {
	if t.CanonicalName == "" {
		return fmt.Errorf("team canonical name is required")
	}
	if t.BirthYear != nil && (*t.BirthYear < minBirthYear || *t.BirthYear > maxBirthYear) {
		return fmt.Errorf("team birth year %d out of range", *t.BirthYear)
	}
	if t.Gender != GenderMale && t.Gender != GenderFemale && t.Gender != GenderUnknown {
		return fmt.Errorf("team gender %q is invalid", t.Gender)
	}
	if t.State != nil && len(*t.State) != 2 {
		return fmt.Errorf("team state %q must be a two letter code", *t.State)
	}
	if t.DataQualityScore < 0 || t.DataQualityScore > 100 {
		return fmt.Errorf("team data quality score %d out of range", t.DataQualityScore)
	}

	return nil
}

// StatsConsistent reports whether the trigger-maintained counters agree.
func (t Team) StatsConsistent() bool {
	return t.Wins+t.Losses+t.Draws == t.MatchesPlayed
}

// Alias is a previously seen source name known to map to a canonical team.
type Alias struct {
	AliasName string
	TeamID    int64
	Source    AliasSource
	CreatedAt time.Time
}

func (a Alias) Validate() error {
	if a.AliasName == "" {
		return fmt.Errorf("alias name is required")
	}
	if a.TeamID == 0 {
		return fmt.Errorf("alias team id is required")
	}

	return nil
}

// Key is the uniqueness tuple for canonical teams. NULL birth year, gender
// unknown, and NULL state are distinct sentinel values, so two teams that
// differ only in missing metadata stay separate.
type Key struct {
	CanonicalName string
	BirthYear     *int
	Gender        Gender
	State         *string
}

// KeyOf builds the uniqueness tuple for a team.
func KeyOf(t Team) Key {
	return Key{
		CanonicalName: t.CanonicalName,
		BirthYear:     t.BirthYear,
		Gender:        t.Gender,
		State:         t.State,
	}
}

// Comparable flattens a Key for use as a map key.
func (k Key) Comparable() string {
	year := "-"
	if k.BirthYear != nil {
		year = fmt.Sprintf("%d", *k.BirthYear)
	}
	state := "-"
	if k.State != nil {
		state = *k.State
	}

	return k.CanonicalName + "|" + year + "|" + string(k.Gender) + "|" + state
}
