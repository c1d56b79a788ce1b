package sources

import (
	"strings"
	"time"

	"github.com/touchlinehq/touchline/internal/domain/teamname"
)

var clockLayouts = []string{"15:04", "15:04:05", "3:04 PM", "3:04PM"}

// parseClockTime normalizes assorted source clock formats to "15:04".
// Unparseable or absent times collapse to the empty string.
func parseClockTime(raw string) string {
	cleaned := strings.ToUpper(strings.TrimSpace(raw))
	if cleaned == "" || cleaned == "TBD" {
		return ""
	}

	for _, layout := range clockLayouts {
		if parsed, err := time.Parse(layout, cleaned); err == nil {
			return parsed.Format("15:04")
		}
	}

	return ""
}

func parseScorePair(raw string) (home, away *int) {
	h, a, ok := teamname.ParseScore(raw)
	if !ok {
		return nil, nil
	}

	return &h, &a
}

func parseDivision(raw string) (gender, ageGroup string) {
	season := teamname.SeasonYear(time.Now())
	gender, _ = teamname.ExtractGender(raw)
	ageGroup, _ = teamname.ExtractAgeGroup(raw, season)

	return gender, ageGroup
}

// normalizeSourceTeamName keeps the as-seen casing for display but trims
// whitespace noise and duplicated prefixes the sources are known to emit.
func normalizeSourceTeamName(raw string) string {
	collapsed := strings.Join(strings.Fields(raw), " ")

	return teamname.FixDoublePrefix(collapsed)
}
