package sources

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"github.com/touchlinehq/touchline/internal/domain/teamname"
	"github.com/touchlinehq/touchline/internal/platform/fetch"
)

const (
	gotsportID      = "gotsport"
	gotsportBaseURL = "https://system.gotsport.com"

	gotsportEventsEndpoint  = gotsportBaseURL + "/api/v1/events?season=%s&page=%d"
	gotsportMatchesEndpoint = gotsportBaseURL + "/api/v1/events/%s/matches?page=%d"

	gotsportDateLayout = "2006-01-02"
)

var sharedUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:126.0) Gecko/20100101 Firefox/126.0",
}

type gotsportEventsPage struct {
	Events []struct {
		ID     int64  `json:"event_id"`
		Name   string `json:"name"`
		State  string `json:"state"`
		Season string `json:"season"`
		Type   string `json:"event_type"`
	} `json:"events"`
	TotalPages int `json:"total_pages"`
}

type gotsportMatchesPage struct {
	Matches    []gotsportMatch `json:"matches"`
	TotalPages int             `json:"total_pages"`
}

type gotsportMatch struct {
	MatchID   int64  `json:"match_id"`
	Date      string `json:"date"`
	Time      string `json:"time"`
	HomeTeam  string `json:"home_team"`
	AwayTeam  string `json:"away_team"`
	HomeScore *int   `json:"home_score"`
	AwayScore *int   `json:"away_score"`
	Venue     string `json:"venue"`
	Field     string `json:"field"`
	Division  string `json:"division"`
	Status    string `json:"status"`
}

// NewGotSportAdapter describes the GotSport tournament platform: a plain
// JSON API, paginated per event, discovered per season.
func NewGotSportAdapter() Adapter {
	return Adapter{
		ID:         gotsportID,
		Name:       "GotSport",
		BaseURL:    gotsportBaseURL,
		Technology: TechHTTP,
		RateLimits: fetch.Limits{
			MinDelay:      500 * time.Millisecond,
			MaxDelay:      30 * time.Second,
			BetweenEvents: 2 * time.Second,
			MaxRetries:    3,
			RetryLadder:   []time.Duration{time.Second, 3 * time.Second, 10 * time.Second},
			CooldownOn429: 30 * time.Second,
			CooldownOn5xx: 5 * time.Second,
		},
		UserAgents: sharedUserAgents,
		Endpoints: map[string]string{
			"events":  gotsportEventsEndpoint,
			"matches": gotsportMatchesEndpoint,
		},
		Policy: DataPolicy{
			MinDate:         time.Date(2023, time.August, 1, 0, 0, 0, 0, time.UTC),
			MaxFutureDays:   30,
			MaxEventsPerRun: 25,
			ValidMatch: func(m StagedMatch) bool {
				return m.HomeName != "" && m.AwayName != ""
			},
		},
		Discovery: Discovery{
			Discover: discoverGotSportEvents,
		},
		ParseDate:         parseGotSportDate,
		ParseTime:         parseClockTime,
		ParseScore:        parseScorePair,
		ParseDivision:     parseDivision,
		NormalizeTeamName: normalizeSourceTeamName,
		ScrapeEvent:       scrapeGotSportEvent,
	}
}

func discoverGotSportEvents(ctx context.Context, rt Runtime) ([]EventRef, error) {
	season := strconv.Itoa(teamname.SeasonYear(time.Now()))

	var refs []EventRef
	for page := 1; ; page++ {
		body, err := rt.Fetch(ctx, fmt.Sprintf(gotsportEventsEndpoint, season, page))
		if err != nil {
			return nil, fmt.Errorf("discover gotsport events page %d: %w", page, err)
		}

		var parsed gotsportEventsPage
		if err := sonic.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("decode gotsport events page %d: %w", page, err)
		}

		for _, ev := range parsed.Events {
			refs = append(refs, EventRef{
				ID:         strconv.FormatInt(ev.ID, 10),
				Name:       ev.Name,
				State:      ev.State,
				Season:     ev.Season,
				LeagueHint: strings.EqualFold(ev.Type, "league"),
			})
		}

		if page >= parsed.TotalPages || len(parsed.Events) == 0 {
			break
		}
	}

	return refs, nil
}

func scrapeGotSportEvent(ctx context.Context, rt Runtime, event EventRef) ([]StagedMatch, error) {
	first, err := fetchGotSportMatchesPage(ctx, rt, event.ID, 1)
	if err != nil {
		return nil, err
	}

	pages := make([][]StagedMatch, first.TotalPages)
	pages[0] = convertGotSportMatches(event, first.Matches)

	if first.TotalPages > 1 {
		var mu sync.Mutex
		tasks := make([]func(ctx context.Context) error, 0, first.TotalPages-1)
		for page := 2; page <= first.TotalPages; page++ {
			page := page
			tasks = append(tasks, func(ctx context.Context) error {
				parsed, err := fetchGotSportMatchesPage(ctx, rt, event.ID, page)
				if err != nil {
					return err
				}
				mu.Lock()
				pages[page-1] = convertGotSportMatches(event, parsed.Matches)
				mu.Unlock()

				return nil
			})
		}
		if err := rt.Parallel(ctx, tasks); err != nil {
			return nil, err
		}
	}

	var matches []StagedMatch
	for _, page := range pages {
		matches = append(matches, page...)
	}

	return matches, nil
}

func fetchGotSportMatchesPage(ctx context.Context, rt Runtime, eventID string, page int) (gotsportMatchesPage, error) {
	body, err := rt.Fetch(ctx, fmt.Sprintf(gotsportMatchesEndpoint, eventID, page))
	if err != nil {
		return gotsportMatchesPage{}, fmt.Errorf("fetch gotsport event %s page %d: %w", eventID, page, err)
	}

	var parsed gotsportMatchesPage
	if err := sonic.Unmarshal(body, &parsed); err != nil {
		return gotsportMatchesPage{}, fmt.Errorf("decode gotsport event %s page %d: %w", eventID, page, err)
	}
	if parsed.TotalPages < 1 {
		parsed.TotalPages = 1
	}

	return parsed, nil
}

func convertGotSportMatches(event EventRef, rows []gotsportMatch) []StagedMatch {
	matches := make([]StagedMatch, 0, len(rows))
	for _, row := range rows {
		matchID := strconv.FormatInt(row.MatchID, 10)

		staged := StagedMatch{
			MatchKey:  BuildMatchKey(gotsportID, event.ID, matchID),
			Time:      parseClockTime(row.Time),
			HomeName:  normalizeSourceTeamName(row.HomeTeam),
			AwayName:  normalizeSourceTeamName(row.AwayTeam),
			HomeScore: row.HomeScore,
			AwayScore: row.AwayScore,
			EventID:   event.ID,
			EventName: event.Name,
			Venue:     strings.TrimSpace(row.Venue),
			Field:     strings.TrimSpace(row.Field),
			Division:  strings.TrimSpace(row.Division),
			Raw: map[string]any{
				"match_id":  row.MatchID,
				"date":      row.Date,
				"time":      row.Time,
				"home_team": row.HomeTeam,
				"away_team": row.AwayTeam,
				"venue":     row.Venue,
				"field":     row.Field,
				"division":  row.Division,
				"status":    row.Status,
			},
		}

		if parsed, err := parseGotSportDate(row.Date); err == nil {
			staged.Date = &parsed
		}

		matches = append(matches, staged)
	}

	return matches
}

func parseGotSportDate(raw string) (time.Time, error) {
	parsed, err := time.Parse(gotsportDateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse gotsport date %q: %w", raw, err)
	}

	return parsed, nil
}
