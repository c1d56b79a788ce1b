package event

import (
	"fmt"
	"strings"
	"time"
)

// Kind tags the two event variants.
type Kind string

const (
	KindLeague     Kind = "league"
	KindTournament Kind = "tournament"
)

// Event is a league season or a tournament. Matches belong to at most one.
type Event struct {
	ID             int64
	Kind           Kind
	Name           string
	SourceEventID  string
	SourcePlatform string
	State          *string
	Season         string
	StartDate      *time.Time
	EndDate        *time.Time
	CreatedAt      time.Time
}

func (e Event) Validate() error {
	if e.Kind != KindLeague && e.Kind != KindTournament {
		return fmt.Errorf("event kind %q is invalid", e.Kind)
	}
	if e.Name == "" {
		return fmt.Errorf("event name is required")
	}
	if e.SourceEventID == "" {
		return fmt.Errorf("event source id is required")
	}
	if e.SourcePlatform == "" {
		return fmt.Errorf("event source platform is required")
	}

	return nil
}

// SourceKey is the per-variant uniqueness tuple.
type SourceKey struct {
	SourceEventID  string
	SourcePlatform string
}

// KeyOf builds the source key for an event.
func KeyOf(e Event) SourceKey {
	return SourceKey{SourceEventID: e.SourceEventID, SourcePlatform: e.SourcePlatform}
}

// ClassifyKind decides league vs tournament from the event name and an
// adapter hint. Names mentioning "league" and hinted events become leagues;
// everything else is a tournament.
func ClassifyKind(name string, leagueHint bool) Kind {
	if leagueHint || strings.Contains(strings.ToLower(name), "league") {
		return KindLeague
	}

	return KindTournament
}
