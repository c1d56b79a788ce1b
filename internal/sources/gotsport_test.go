package sources

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/touchlinehq/touchline/internal/domain/teamname"
)

func TestScrapeGotSportEventPaginates(t *testing.T) {
	t.Parallel()

	event := EventRef{ID: "771", Name: "Heartland Invitational"}

	page1 := `{
		"total_pages": 2,
		"matches": [
			{"match_id": 9001, "date": "2026-01-15", "time": "14:30",
			 "home_team": "FC Blue 2015", "away_team": "FC Red 2015",
			 "home_score": 2, "away_score": 1,
			 "venue": "Swope Park", "field": "3", "division": "U11 Boys"}
		]
	}`
	page2 := `{
		"total_pages": 2,
		"matches": [
			{"match_id": 9002, "date": "2026-01-16", "time": "9:00 AM",
			 "home_team": "Kansas  Rush Kansas Rush 14B", "away_team": "Sporting BV 14B",
			 "venue": "Compass Minerals", "field": "1", "division": "U12 Boys"}
		]
	}`

	rt := &stubRuntime{pages: map[string][]byte{
		fmt.Sprintf(gotsportMatchesEndpoint, "771", 1): []byte(page1),
		fmt.Sprintf(gotsportMatchesEndpoint, "771", 2): []byte(page2),
	}}

	matches, err := scrapeGotSportEvent(context.Background(), rt, event)
	if err != nil {
		t.Fatalf("scrape gotsport event: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches across pages, got %d", len(matches))
	}

	first := matches[0]
	if first.MatchKey != "gotsport-771-9001" {
		t.Fatalf("match key = %q, want gotsport-771-9001", first.MatchKey)
	}
	if first.Date == nil || first.Date.Format("2006-01-02") != "2026-01-15" {
		t.Fatalf("unexpected date: %v", first.Date)
	}
	if first.Time != "14:30" {
		t.Fatalf("time = %q, want 14:30", first.Time)
	}
	if first.HomeScore == nil || *first.HomeScore != 2 || first.AwayScore == nil || *first.AwayScore != 1 {
		t.Fatalf("unexpected scores: %v %v", first.HomeScore, first.AwayScore)
	}

	second := matches[1]
	if second.HomeName != "Kansas Rush 14B" {
		t.Fatalf("home name should be collapsed and prefix-fixed, got %q", second.HomeName)
	}
	if second.Time != "09:00" {
		t.Fatalf("am/pm time should normalize, got %q", second.Time)
	}
	if second.HomeScore != nil {
		t.Fatalf("missing score should stay nil")
	}
}

func TestDiscoverGotSportEvents(t *testing.T) {
	t.Parallel()

	adapter := NewGotSportAdapter()
	if adapter.Discovery.Discover == nil {
		t.Fatalf("gotsport should discover events dynamically")
	}
	if adapter.Technology != TechHTTP {
		t.Fatalf("gotsport is a plain http source")
	}

	season := strconv.Itoa(teamname.SeasonYear(time.Now()))
	body := `{
		"total_pages": 1,
		"events": [
			{"event_id": 771, "name": "Heartland Invitational", "state": "KS", "season": "2026", "event_type": "tournament"},
			{"event_id": 780, "name": "Plains Premier League", "state": "NE", "season": "2026", "event_type": "League"}
		]
	}`
	rt := &stubRuntime{pages: map[string][]byte{
		fmt.Sprintf(gotsportEventsEndpoint, season, 1): []byte(body),
	}}

	events, err := adapter.Discovery.Discover(context.Background(), rt)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].ID != "771" || events[0].LeagueHint {
		t.Fatalf("tournament misclassified: %+v", events[0])
	}
	if !events[1].LeagueHint {
		t.Fatalf("league hint missing on event_type=League")
	}
}

func TestGotSportEventFailureSurfaces(t *testing.T) {
	t.Parallel()

	rt := &stubRuntime{pages: map[string][]byte{}}

	_, err := scrapeGotSportEvent(context.Background(), rt, EventRef{ID: "404"})
	if err == nil {
		t.Fatalf("missing page must surface an error")
	}
}
