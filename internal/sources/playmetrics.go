package sources

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/touchlinehq/touchline/internal/platform/fetch"
)

const (
	playmetricsID      = "playmetrics"
	playmetricsBaseURL = "https://playmetrics.com"

	playmetricsScheduleEndpoint = playmetricsBaseURL + "/leagues/%s/schedule"

	// playmetricsStateMarker precedes the JSON blob the schedule page
	// embeds for its own frontend.
	playmetricsStateMarker = "window.__PM_STATE__ ="
)

type playmetricsState struct {
	League struct {
		ID     int64  `json:"id"`
		Name   string `json:"name"`
		State  string `json:"state"`
		Season string `json:"season"`
	} `json:"league"`
	Games []playmetricsGame `json:"games"`
}

type playmetricsGame struct {
	ID       int64  `json:"id"`
	StartsAt string `json:"starts_at"`
	HomeTeam struct {
		Name string `json:"name"`
	} `json:"home_team"`
	AwayTeam struct {
		Name string `json:"name"`
	} `json:"away_team"`
	HomeScore *int   `json:"home_score"`
	AwayScore *int   `json:"away_score"`
	Location  string `json:"location"`
	Field     string `json:"field"`
	Division  string `json:"division"`
	Status    string `json:"status"`
}

// NewPlayMetricsAdapter describes the PlayMetrics league platform. The
// schedule pages are client-rendered, so this adapter needs the headless
// renderer; game data rides in an embedded JSON state blob.
func NewPlayMetricsAdapter() Adapter {
	return Adapter{
		ID:         playmetricsID,
		Name:       "PlayMetrics",
		BaseURL:    playmetricsBaseURL,
		Technology: TechHeadless,
		RateLimits: fetch.Limits{
			MinDelay:      time.Second,
			MaxDelay:      60 * time.Second,
			BetweenEvents: 3 * time.Second,
			MaxRetries:    2,
			RetryLadder:   []time.Duration{2 * time.Second, 8 * time.Second},
			CooldownOn429: 60 * time.Second,
			CooldownOn5xx: 10 * time.Second,
		},
		UserAgents: sharedUserAgents,
		Endpoints: map[string]string{
			"schedule": playmetricsScheduleEndpoint,
		},
		Policy: DataPolicy{
			MinDate:         time.Date(2023, time.August, 1, 0, 0, 0, 0, time.UTC),
			MaxFutureDays:   45,
			MaxEventsPerRun: 40,
			ValidMatch: func(m StagedMatch) bool {
				if m.HomeName == "" || m.AwayName == "" {
					return false
				}
				status, _ := m.Raw["status"].(string)

				return !strings.EqualFold(status, "cancelled")
			},
		},
		Discovery: Discovery{
			Static: []EventRef{
				{ID: "4821", Name: "Heartland Premier League", State: "KS", LeagueHint: true},
				{ID: "4876", Name: "Sporting Kaw Valley League", State: "KS", LeagueHint: true},
				{ID: "5102", Name: "Missouri Rush Fall League", State: "MO", LeagueHint: true},
				{ID: "5347", Name: "Nebraska Metro League", State: "NE", LeagueHint: true},
			},
		},
		ParseDate:         parsePlayMetricsDate,
		ParseTime:         parseClockTime,
		ParseScore:        parseScorePair,
		ParseDivision:     parseDivision,
		NormalizeTeamName: normalizeSourceTeamName,
		ScrapeEvent:       scrapePlayMetricsEvent,
	}
}

func scrapePlayMetricsEvent(ctx context.Context, rt Runtime, event EventRef) ([]StagedMatch, error) {
	body, err := rt.Render(ctx, fmt.Sprintf(playmetricsScheduleEndpoint, event.ID))
	if err != nil {
		return nil, fmt.Errorf("render playmetrics league %s: %w", event.ID, err)
	}

	blob, err := extractEmbeddedJSON(body, playmetricsStateMarker)
	if err != nil {
		return nil, fmt.Errorf("playmetrics league %s: %w", event.ID, err)
	}

	var state playmetricsState
	if err := sonic.Unmarshal(blob, &state); err != nil {
		return nil, fmt.Errorf("decode playmetrics league %s state: %w", event.ID, err)
	}

	matches := make([]StagedMatch, 0, len(state.Games))
	for _, game := range state.Games {
		gameID := strconv.FormatInt(game.ID, 10)

		staged := StagedMatch{
			MatchKey:  BuildMatchKey(playmetricsID, event.ID, gameID),
			HomeName:  normalizeSourceTeamName(game.HomeTeam.Name),
			AwayName:  normalizeSourceTeamName(game.AwayTeam.Name),
			HomeScore: game.HomeScore,
			AwayScore: game.AwayScore,
			EventID:   event.ID,
			EventName: eventNameOr(event.Name, state.League.Name),
			Venue:     strings.TrimSpace(game.Location),
			Field:     strings.TrimSpace(game.Field),
			Division:  strings.TrimSpace(game.Division),
			Raw: map[string]any{
				"game_id":   game.ID,
				"starts_at": game.StartsAt,
				"home_team": game.HomeTeam.Name,
				"away_team": game.AwayTeam.Name,
				"location":  game.Location,
				"field":     game.Field,
				"division":  game.Division,
				"status":    game.Status,
			},
		}

		if parsed, err := parsePlayMetricsDate(game.StartsAt); err == nil {
			day := parsed.UTC().Truncate(24 * time.Hour)
			staged.Date = &day
			staged.Time = parsed.UTC().Format("15:04")
		}

		matches = append(matches, staged)
	}

	return matches, nil
}

func parsePlayMetricsDate(raw string) (time.Time, error) {
	cleaned := strings.TrimSpace(raw)
	parsed, err := time.Parse(time.RFC3339, cleaned)
	if err == nil {
		return parsed, nil
	}

	parsed, err = time.Parse("2006-01-02", cleaned)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse playmetrics date %q: %w", raw, err)
	}

	return parsed, nil
}

func eventNameOr(primary, fallback string) string {
	if strings.TrimSpace(primary) != "" {
		return primary
	}

	return fallback
}

// extractEmbeddedJSON pulls the first balanced JSON object following a
// marker out of a rendered page.
func extractEmbeddedJSON(body []byte, marker string) ([]byte, error) {
	page := string(body)
	at := strings.Index(page, marker)
	if at < 0 {
		return nil, fmt.Errorf("state marker not found")
	}

	rest := page[at+len(marker):]
	start := strings.IndexByte(rest, '{')
	if start < 0 {
		return nil, fmt.Errorf("state object not found after marker")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(rest); i++ {
		ch := rest[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return []byte(rest[start : i+1]), nil
			}
		}
	}

	return nil, fmt.Errorf("state object is unterminated")
}
