package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/touchlinehq/touchline/internal/domain/team"
)

func TestRankingIngestionService_Run_AppliesRanksThroughResolver(t *testing.T) {
	t.Parallel()

	repo := newStubTeamRepository()
	existing := repo.seedTeam(team.Team{
		CanonicalName: "sporting blue valley 2012b",
		DisplayName:   "Sporting Blue Valley 2012B",
		BirthYear:     intPtr(2012),
		Gender:        team.GenderMale,
		MatchesPlayed: 10,
	})

	provider := newStubRankingProvider()
	provider.seedPage(RankingQuery{AgeGroup: 14, Gender: team.GenderMale}, []ExternalRanking{
		{TeamName: "Sporting Blue Valley 2012B", State: "KS", NationalRank: 3},
		{TeamName: "KC Fusion 2012B", State: "", NationalRank: 8},
	})

	svc := newRankingIngestionService(provider, repo, RankingIngestionConfig{
		AgeGroups: []int{14},
		Genders:   []team.Gender{team.GenderMale},
	})

	result, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Pages != 1 || result.Fetched != 2 || result.Applied != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Created != 1 || result.Skipped != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}

	ranked, _ := repo.teamByID(existing.ID)
	if ranked.NationalRank == nil || *ranked.NationalRank != 3 {
		t.Fatalf("existing team rank = %v, want 3", ranked.NationalRank)
	}
	if ranked.DataQualityScore != 100 {
		t.Fatalf("existing team quality = %d, want 100", ranked.DataQualityScore)
	}

	createdList, err := repo.ListByCanonicalNames(context.Background(), []string{"kc fusion 2012b"})
	if err != nil {
		t.Fatalf("ListByCanonicalNames: %v", err)
	}
	if len(createdList) != 1 {
		t.Fatalf("created %d teams named kc fusion 2012b, want 1", len(createdList))
	}
	created := createdList[0]
	if created.BirthYear == nil || *created.BirthYear != 2012 {
		t.Fatalf("created birth year = %v, want 2012 (U14 in season 2026)", created.BirthYear)
	}
	if created.Gender != team.GenderMale {
		t.Fatalf("created gender = %q", created.Gender)
	}
	if created.State != nil {
		t.Fatalf("blank state should stay null, got %q", *created.State)
	}
	if created.NationalRank == nil || *created.NationalRank != 8 {
		t.Fatalf("created rank = %v, want 8", created.NationalRank)
	}
	if created.DataQualityScore != 80 {
		t.Fatalf("created quality = %d, want 80", created.DataQualityScore)
	}
}

func TestRankingIngestionService_Run_CollapsesSpellingsToBestRank(t *testing.T) {
	t.Parallel()

	repo := newStubTeamRepository()
	provider := newStubRankingProvider()
	provider.seedPage(RankingQuery{AgeGroup: 14, Gender: team.GenderMale}, []ExternalRanking{
		{TeamName: "Kansas Rush 2012B", State: "KS", NationalRank: 5},
		{TeamName: "Kansas  Rush 2012B", State: "KS", NationalRank: 2},
	})

	svc := newRankingIngestionService(provider, repo, RankingIngestionConfig{
		AgeGroups: []int{14},
		Genders:   []team.Gender{team.GenderMale},
	})

	result, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Fetched != 2 || result.Applied != 1 || result.Created != 1 {
		t.Fatalf("spelling variants should collapse: %+v", result)
	}

	teams, err := repo.ListByCanonicalNames(context.Background(), []string{"kansas rush 2012b"})
	if err != nil || len(teams) != 1 {
		t.Fatalf("want exactly one canonical team, got %d (err %v)", len(teams), err)
	}
	if teams[0].NationalRank == nil || *teams[0].NationalRank != 2 {
		t.Fatalf("rank = %v, want the better rank 2", teams[0].NationalRank)
	}
}

func TestRankingIngestionService_Run_SkipsNamesThatNormalizeToNothing(t *testing.T) {
	t.Parallel()

	repo := newStubTeamRepository()
	provider := newStubRankingProvider()
	provider.seedPage(RankingQuery{AgeGroup: 12, Gender: team.GenderFemale}, []ExternalRanking{
		{TeamName: "   ", State: "KS", NationalRank: 1},
	})

	svc := newRankingIngestionService(provider, repo, RankingIngestionConfig{
		AgeGroups: []int{12},
		Genders:   []team.Gender{team.GenderFemale},
	})

	result, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Fetched != 1 || result.Skipped != 1 || result.Applied != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if repo.teamCount() != 0 {
		t.Fatalf("no team should be created, got %d", repo.teamCount())
	}
}

func TestRankingIngestionService_Run_SurfacesProviderFailure(t *testing.T) {
	t.Parallel()

	repo := newStubTeamRepository()
	provider := newStubRankingProvider()
	provider.err = errors.New("rankings endpoint returned 503")

	svc := newRankingIngestionService(provider, repo, RankingIngestionConfig{
		AgeGroups: []int{14},
		Genders:   []team.Gender{team.GenderMale},
	})

	result, err := svc.Run(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "fetch rankings") {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Pages != 0 || result.Fetched != 0 {
		t.Fatalf("failed page should not count: %+v", result)
	}
}

func TestRankingIngestionService_Run_CoversConfiguredPages(t *testing.T) {
	t.Parallel()

	repo := newStubTeamRepository()
	provider := newStubRankingProvider()

	svc := newRankingIngestionService(provider, repo, RankingIngestionConfig{
		AgeGroups: []int{13, 14},
		Genders:   []team.Gender{team.GenderMale, team.GenderFemale},
	})

	result, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Pages != 4 {
		t.Fatalf("pages = %d, want 4", result.Pages)
	}

	seen := make(map[string]struct{})
	for _, q := range provider.seenQueries() {
		seen[rankingPageKey(q)] = struct{}{}
	}
	for _, want := range []RankingQuery{
		{AgeGroup: 13, Gender: team.GenderMale},
		{AgeGroup: 14, Gender: team.GenderMale},
		{AgeGroup: 13, Gender: team.GenderFemale},
		{AgeGroup: 14, Gender: team.GenderFemale},
	} {
		if _, ok := seen[rankingPageKey(want)]; !ok {
			t.Fatalf("page %+v never fetched", want)
		}
	}
}

func newRankingIngestionService(provider RankingProvider, repo *stubTeamRepository, cfg RankingIngestionConfig) *RankingIngestionService {
	resolver := NewTeamResolverService(repo, 0.75, nil)
	svc := NewRankingIngestionService(provider, resolver, repo, cfg, nil)
	// Pin the clock mid-season so U14 always means birth year 2012.
	svc.now = func() time.Time { return time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC) }

	return svc
}

type stubRankingProvider struct {
	mu      sync.Mutex
	pages   map[string][]ExternalRanking
	queries []RankingQuery
	err     error
}

func newStubRankingProvider() *stubRankingProvider {
	return &stubRankingProvider{pages: make(map[string][]ExternalRanking)}
}

func (p *stubRankingProvider) seedPage(query RankingQuery, rankings []ExternalRanking) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pages[rankingPageKey(query)] = rankings
}

func (p *stubRankingProvider) seenQueries() []RankingQuery {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]RankingQuery, len(p.queries))
	copy(out, p.queries)

	return out
}

func (p *stubRankingProvider) FetchRankings(_ context.Context, query RankingQuery) ([]ExternalRanking, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return nil, p.err
	}
	p.queries = append(p.queries, query)

	return p.pages[rankingPageKey(query)], nil
}

func rankingPageKey(query RankingQuery) string {
	return fmt.Sprintf("%d|%s", query.AgeGroup, query.Gender)
}
