package sources

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/touchlinehq/touchline/internal/platform/fetch"
	"github.com/touchlinehq/touchline/internal/platform/logging"
)

// stubRuntime serves canned bodies keyed by URL and records access order.
type stubRuntime struct {
	pages    map[string][]byte
	rendered map[string][]byte
	fetched  []string
}

func (s *stubRuntime) Fetch(_ context.Context, url string) ([]byte, error) {
	body, ok := s.pages[url]
	if !ok {
		return nil, fmt.Errorf("unexpected fetch %s", url)
	}
	s.fetched = append(s.fetched, url)

	return body, nil
}

func (s *stubRuntime) Render(_ context.Context, pageURL string) ([]byte, error) {
	body, ok := s.rendered[pageURL]
	if !ok {
		return nil, fmt.Errorf("unexpected render %s", pageURL)
	}

	return body, nil
}

func (s *stubRuntime) Parallel(ctx context.Context, tasks []func(ctx context.Context) error) error {
	for _, task := range tasks {
		if err := task(ctx); err != nil {
			return err
		}
	}

	return nil
}

func (s *stubRuntime) Logger() *logging.Logger {
	return logging.NewNop()
}

func validAdapter() Adapter {
	return Adapter{
		ID:         "stubsource",
		Name:       "Stub Source",
		BaseURL:    "https://stub.example.com",
		Technology: TechHTTP,
		RateLimits: fetch.Limits{
			MinDelay:    100 * time.Millisecond,
			MaxDelay:    time.Second,
			MaxRetries:  1,
			RetryLadder: []time.Duration{time.Second},
		},
		UserAgents: []string{"test-agent"},
		Endpoints:  map[string]string{"matches": "https://stub.example.com/%s"},
		Discovery: Discovery{
			Static: []EventRef{{ID: "ev1", Name: "Stub Cup"}},
		},
		ParseDate: func(raw string) (time.Time, error) {
			return time.Parse("2006-01-02", raw)
		},
		ParseTime:         parseClockTime,
		ParseScore:        parseScorePair,
		ParseDivision:     parseDivision,
		NormalizeTeamName: normalizeSourceTeamName,
		ScrapeEvent: func(context.Context, Runtime, EventRef) ([]StagedMatch, error) {
			return nil, nil
		},
	}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	if err := registry.Register(context.Background(), validAdapter()); err != nil {
		t.Fatalf("register valid adapter: %v", err)
	}

	if _, ok := registry.Get("stubsource"); !ok {
		t.Fatalf("registered adapter not found")
	}
	if _, ok := registry.Get("  StubSource "); !ok {
		t.Fatalf("lookup should trim and lowercase")
	}
	if _, ok := registry.Get("unknown"); ok {
		t.Fatalf("unknown adapter should not resolve")
	}

	if err := registry.Register(context.Background(), validAdapter()); err == nil {
		t.Fatalf("duplicate registration must fail")
	}
}

func TestRegistryRejectsBadDescriptors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(a *Adapter)
	}{
		{name: "empty id", mutate: func(a *Adapter) { a.ID = "" }},
		{name: "uppercase id", mutate: func(a *Adapter) { a.ID = "StubSource" }},
		{name: "bad base url", mutate: func(a *Adapter) { a.BaseURL = "not-a-url" }},
		{name: "bad technology", mutate: func(a *Adapter) { a.Technology = "ftp" }},
		{name: "no user agents", mutate: func(a *Adapter) { a.UserAgents = nil }},
		{name: "no endpoints", mutate: func(a *Adapter) { a.Endpoints = nil }},
		{name: "relative endpoint", mutate: func(a *Adapter) { a.Endpoints = map[string]string{"matches": "/games"} }},
		{name: "no scrape callback", mutate: func(a *Adapter) { a.ScrapeEvent = nil }},
		{name: "no parse date", mutate: func(a *Adapter) { a.ParseDate = nil }},
		{name: "no discovery", mutate: func(a *Adapter) { a.Discovery = Discovery{} }},
		{name: "static event without id", mutate: func(a *Adapter) { a.Discovery.Static = []EventRef{{Name: "x"}} }},
		{name: "decreasing ladder", mutate: func(a *Adapter) {
			a.RateLimits.RetryLadder = []time.Duration{3 * time.Second, time.Second}
		}},
		{name: "retries without ladder", mutate: func(a *Adapter) { a.RateLimits.RetryLadder = nil }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			adapter := validAdapter()
			tc.mutate(&adapter)

			if err := NewRegistry().Register(context.Background(), adapter); err == nil {
				t.Fatalf("descriptor should have been rejected")
			}
		})
	}
}

func TestDefaultRegistryShipsKnownAdapters(t *testing.T) {
	t.Parallel()

	registry, err := DefaultRegistry(context.Background())
	if err != nil {
		t.Fatalf("default registry: %v", err)
	}

	ids := registry.IDs()
	if len(ids) != 2 || ids[0] != "gotsport" || ids[1] != "playmetrics" {
		t.Fatalf("unexpected adapter ids: %v", ids)
	}
}

func TestBuildMatchKey(t *testing.T) {
	t.Parallel()

	if got := BuildMatchKey("A", "EV1", "M1"); got != "a-ev1-m1" {
		t.Fatalf("BuildMatchKey = %q, want a-ev1-m1", got)
	}
}

func TestDataPolicyAllows(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.January, 20, 0, 0, 0, 0, time.UTC)
	policy := DataPolicy{
		MinDate:       time.Date(2023, time.August, 1, 0, 0, 0, 0, time.UTC),
		MaxFutureDays: 30,
	}

	old := time.Date(2022, time.May, 1, 0, 0, 0, 0, time.UTC)
	if policy.Allows(StagedMatch{Date: &old}, now) {
		t.Fatalf("date before min date should be rejected")
	}

	far := now.AddDate(0, 0, 45)
	if policy.Allows(StagedMatch{Date: &far}, now) {
		t.Fatalf("date past the future window should be rejected")
	}

	ok := now.AddDate(0, 0, 3)
	if !policy.Allows(StagedMatch{Date: &ok}, now) {
		t.Fatalf("in-window date should pass")
	}
	if !policy.Allows(StagedMatch{}, now) {
		t.Fatalf("dateless rows pass the policy and quarantine later")
	}
}
