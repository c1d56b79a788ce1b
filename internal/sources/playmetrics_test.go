package sources

import (
	"context"
	"fmt"
	"testing"
)

const playmetricsPage = `<!doctype html>
<html><head><script>
window.__PM_STATE__ = {
	"league": {"id": 4821, "name": "Heartland Premier League", "state": "KS", "season": "2025-26"},
	"games": [
		{"id": 31337, "starts_at": "2026-03-07T15:30:00Z",
		 "home_team": {"name": "Tonka United G08"}, "away_team": {"name": "Eclipse Select Girls U14"},
		 "home_score": 3, "away_score": 3,
		 "location": "Heritage Park", "field": "7B", "division": "G08 Premier", "status": "final"},
		{"id": 31338, "starts_at": "2026-03-08T13:00:00Z",
		 "home_team": {"name": "KC Athletics 2012B"}, "away_team": {"name": "Union KC 2012B"},
		 "location": "Swope Park", "field": "2", "division": "2012 Boys", "status": "cancelled"}
	]
};
</script></head><body></body></html>`

func TestScrapePlayMetricsEvent(t *testing.T) {
	t.Parallel()

	event := EventRef{ID: "4821", Name: "Heartland Premier League", LeagueHint: true}
	rt := &stubRuntime{rendered: map[string][]byte{
		fmt.Sprintf(playmetricsScheduleEndpoint, "4821"): []byte(playmetricsPage),
	}}

	matches, err := scrapePlayMetricsEvent(context.Background(), rt, event)
	if err != nil {
		t.Fatalf("scrape playmetrics event: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 games, got %d", len(matches))
	}

	first := matches[0]
	if first.MatchKey != "playmetrics-4821-31337" {
		t.Fatalf("match key = %q", first.MatchKey)
	}
	if first.Date == nil || first.Date.Format("2006-01-02") != "2026-03-07" {
		t.Fatalf("unexpected date: %v", first.Date)
	}
	if first.Time != "15:30" {
		t.Fatalf("time = %q, want 15:30", first.Time)
	}
	if first.HomeScore == nil || *first.HomeScore != 3 {
		t.Fatalf("unexpected home score: %v", first.HomeScore)
	}

	// The engine applies the policy; the cancelled game must fail it.
	adapter := NewPlayMetricsAdapter()
	if adapter.Policy.ValidMatch(matches[1]) {
		t.Fatalf("cancelled game should fail the adapter policy")
	}
	if !adapter.Policy.ValidMatch(first) {
		t.Fatalf("final game should pass the adapter policy")
	}
}

func TestExtractEmbeddedJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{
			name: "simple object",
			body: `before window.__PM_STATE__ = {"a": 1}; after`,
			want: `{"a": 1}`,
		},
		{
			name: "nested braces and strings",
			body: `window.__PM_STATE__ = {"a": {"b": "close } brace"}, "c": [1, 2]};`,
			want: `{"a": {"b": "close } brace"}, "c": [1, 2]}`,
		},
		{
			name:    "marker missing",
			body:    `<html></html>`,
			wantErr: true,
		},
		{
			name:    "unterminated object",
			body:    `window.__PM_STATE__ = {"a": 1`,
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := extractEmbeddedJSON([]byte(tc.body), playmetricsStateMarker)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected an error")
				}

				return
			}
			if err != nil {
				t.Fatalf("extract: %v", err)
			}
			if string(got) != tc.want {
				t.Fatalf("extracted %q, want %q", got, tc.want)
			}
		})
	}
}
