package sources

import (
	"context"
	"strings"
	"time"

	"github.com/touchlinehq/touchline/internal/platform/fetch"
	"github.com/touchlinehq/touchline/internal/platform/logging"
)

// Technology selects how the engine fetches pages for an adapter.
type Technology string

const (
	TechHTTP     Technology = "http"
	TechHeadless Technology = "headless-browser"
)

// EventRef identifies one scrapeable event on a source platform.
type EventRef struct {
	ID         string
	Name       string
	State      string
	Season     string
	LeagueHint bool
}

// StagedMatch is the adapter output for one game, already parsed into
// typed fields. The engine converts it to a staging row unchanged.
type StagedMatch struct {
	MatchKey  string
	Date      *time.Time
	Time      string
	HomeName  string
	AwayName  string
	HomeScore *int
	AwayScore *int
	EventID   string
	EventName string
	Venue     string
	Field     string
	Division  string
	Raw       map[string]any
}

// DataPolicy bounds what an adapter run may emit.
type DataPolicy struct {
	MinDate         time.Time
	MaxFutureDays   int
	MaxEventsPerRun int
	ValidMatch      func(m StagedMatch) bool
}

// Allows applies the date window and the adapter's own predicate. Matches
// without a date pass here; promotion quarantines them later.
func (p DataPolicy) Allows(m StagedMatch, now time.Time) bool {
	if m.Date != nil {
		if !p.MinDate.IsZero() && m.Date.Before(p.MinDate) {
			return false
		}
		if p.MaxFutureDays > 0 && m.Date.After(now.AddDate(0, 0, p.MaxFutureDays)) {
			return false
		}
	}
	if p.ValidMatch != nil && !p.ValidMatch(m) {
		return false
	}

	return true
}

// Discovery supplies the event list for a run: a static list, a discovery
// callback, or both (discovered events are appended).
type Discovery struct {
	Static   []EventRef
	Discover func(ctx context.Context, rt Runtime) ([]EventRef, error)
}

// Runtime is the engine surface handed to adapter callbacks. Fetch and
// Render pace through the run's shared rate controller; Parallel bounds
// sub-request fan-out per event.
type Runtime interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
	Render(ctx context.Context, pageURL string) ([]byte, error)
	Parallel(ctx context.Context, tasks []func(ctx context.Context) error) error
	Logger() *logging.Logger
}

// Adapter is a pure per-source descriptor: typed fields plus functions, no
// shared mutable state. The registry validates every field on Register.
type Adapter struct {
	ID         string     `validate:"required,lowercase,alphanum"`
	Name       string     `validate:"required"`
	BaseURL    string     `validate:"required,url"`
	Technology Technology `validate:"required,oneof=http headless-browser"`

	RateLimits fetch.Limits
	UserAgents []string          `validate:"required,min=1,dive,required"`
	Endpoints  map[string]string `validate:"required,min=1"`

	Policy    DataPolicy
	Discovery Discovery

	// Parsing callbacks, shared by the adapter's own scrape code and by
	// anything replaying its raw rows.
	ParseDate         func(raw string) (time.Time, error)        `validate:"required"`
	ParseTime         func(raw string) string                    `validate:"required"`
	ParseScore        func(raw string) (home, away *int)         `validate:"required"`
	ParseDivision     func(raw string) (gender, ageGroup string) `validate:"required"`
	NormalizeTeamName func(raw string) string                    `validate:"required"`

	// ScrapeEvent is the only adapter-specific behavior the engine invokes
	// per event.
	ScrapeEvent func(ctx context.Context, rt Runtime, event EventRef) ([]StagedMatch, error) `validate:"required"`
}

// BuildMatchKey renders the wire-level match key contract shared by every
// adapter: "<platform>-<event_id>-<match_id>", lowercased.
func BuildMatchKey(platform, eventID, matchID string) string {
	return strings.ToLower(platform + "-" + eventID + "-" + matchID)
}
