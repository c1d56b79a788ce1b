package rankhub

import (
	"strings"
	"testing"

	"github.com/touchlinehq/touchline/internal/domain/team"
)

func TestParseRankings_JoinsClubAndTeamName(t *testing.T) {
	t.Parallel()

	parsed := parseRankings([]rankingItem{
		{Club: "Kansas Rush", Team: "Premier 2012B", State: "ks", Rank: 4},
		{Club: "KC Fusion", Team: "KC Fusion 2012B", State: "MO", Rank: 2},
	})
	if len(parsed) != 2 {
		t.Fatalf("expected two rows, got=%d", len(parsed))
	}

	if parsed[0].TeamName != "KC Fusion 2012B" {
		t.Fatalf("club already in name should not duplicate, got=%q", parsed[0].TeamName)
	}
	if parsed[1].TeamName != "Kansas Rush Premier 2012B" {
		t.Fatalf("expected joined club+team name, got=%q", parsed[1].TeamName)
	}
	if parsed[0].State != "MO" || parsed[1].State != "KS" {
		t.Fatalf("states should be upper-cased, got=%q %q", parsed[0].State, parsed[1].State)
	}
}

func TestParseRankings_DropsUnusableRows(t *testing.T) {
	t.Parallel()

	parsed := parseRankings([]rankingItem{
		{Team: "   ", Rank: 1},
		{Team: "Sporting Blue Valley 2012B", Rank: 0},
		{Name: "Derby United 15B", Rank: 9},
	})
	if len(parsed) != 1 {
		t.Fatalf("expected one usable row, got=%d", len(parsed))
	}
	if parsed[0].TeamName != "Derby United 15B" || parsed[0].NationalRank != 9 {
		t.Fatalf("unexpected row: %+v", parsed[0])
	}
}

func TestParseRankings_SortsByRank(t *testing.T) {
	t.Parallel()

	parsed := parseRankings([]rankingItem{
		{Team: "Derby United 15B", Rank: 30},
		{Team: "Kansas Rush Premier 14B", Rank: 3},
		{Team: "KC Athletics 14B", Rank: 3},
	})
	if len(parsed) != 3 {
		t.Fatalf("expected three rows, got=%d", len(parsed))
	}
	if parsed[0].NationalRank != 3 || parsed[2].NationalRank != 30 {
		t.Fatalf("rows not sorted by rank: %+v", parsed)
	}
	if parsed[0].TeamName != "KC Athletics 14B" {
		t.Fatalf("equal ranks should sort by name, got=%q", parsed[0].TeamName)
	}
}

func TestSanitizeSensitiveText_RedactsToken(t *testing.T) {
	t.Parallel()

	out := sanitizeSensitiveText(`Get "https://api.rankhub.io/v1/rankings?age=u14&api_token=secret123": dial tcp: timeout`, "secret123")
	if strings.Contains(out, "secret123") {
		t.Fatalf("token leaked: %s", out)
	}
	if !strings.Contains(out, "api_token=REDACTED") {
		t.Fatalf("token param not redacted: %s", out)
	}
}

func TestGenderParam_RejectsUnknown(t *testing.T) {
	t.Parallel()

	if _, err := genderParam(team.GenderUnknown); err == nil {
		t.Fatalf("unknown gender should be rejected")
	}
	boys, err := genderParam(team.GenderMale)
	if err != nil || boys != "boys" {
		t.Fatalf("unexpected mapping: %q %v", boys, err)
	}
	girls, err := genderParam(team.GenderFemale)
	if err != nil || girls != "girls" {
		t.Fatalf("unexpected mapping: %q %v", girls, err)
	}
}
