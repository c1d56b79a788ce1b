package staging

import (
	"fmt"
	"time"
)

// Game is one raw scraped match row. Rows are immutable once written; only
// the processed flag, timestamp, and error message ever change. Staging is
// the source of truth for rebuilds, so rows are retained indefinitely.
type Game struct {
	ID             int64
	MatchDate      *time.Time
	MatchTime      string
	HomeTeamName   string
	AwayTeamName   string
	HomeScore      *int
	AwayScore      *int
	EventName      string
	EventID        string
	VenueName      string
	FieldName      string
	Division       string
	SourcePlatform string
	SourceMatchKey string
	RawData        string
	Processed      bool
	ProcessedAt    *time.Time
	ErrorMessage   *string
	ScrapedAt      time.Time
}

func (g Game) Validate() error {
	if g.SourcePlatform == "" {
		return fmt.Errorf("staging game source platform is required")
	}
	if g.SourceMatchKey == "" {
		return fmt.Errorf("staging game source match key is required")
	}

	return nil
}

// Standing is one raw scraped standings row, per team per division per
// event.
type Standing struct {
	ID             int64
	TeamName       string
	TeamSourceID   string
	Division       string
	AgeGroup       string
	Gender         string
	Wins           int
	Losses         int
	Ties           int
	GoalsFor       int
	GoalsAgainst   int
	Points         int
	Position       int
	EventName      string
	EventID        string
	SourcePlatform string
	RawData        string
	Processed      bool
	ProcessedAt    *time.Time
	ErrorMessage   *string
	ScrapedAt      time.Time
}

func (s Standing) Validate() error {
	if s.TeamName == "" {
		return fmt.Errorf("staging standing team name is required")
	}
	if s.SourcePlatform == "" {
		return fmt.Errorf("staging standing source platform is required")
	}

	return nil
}

// Event is one raw scraped event sighting. Duplicate sightings of the same
// (source_platform, source_event_id) are ignored at insert.
type Event struct {
	ID             int64
	EventName      string
	EventType      string
	SourcePlatform string
	SourceEventID  string
	State          *string
	RawData        string
	Processed      bool
	ScrapedAt      time.Time
}

func (e Event) Validate() error {
	if e.SourceEventID == "" {
		return fmt.Errorf("staging event source id is required")
	}
	if e.SourcePlatform == "" {
		return fmt.Errorf("staging event source platform is required")
	}

	return nil
}

// ProcessOutcome marks one staging row processed, with the quarantine
// reason when promotion rejected it.
type ProcessOutcome struct {
	ID           int64
	ErrorMessage string
}
