package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/touchlinehq/touchline/internal/domain/event"
	"github.com/touchlinehq/touchline/internal/domain/match"
	"github.com/touchlinehq/touchline/internal/domain/team"
)

func TestRebuildService_Rebuild_ReplaysFullStagingHistory(t *testing.T) {
	t.Parallel()

	games := newStubStagingGameRepository()
	events := newStubEventRepository()
	shadowTeams := newStubTeamRepository()
	shadowMatches := newStubMatchRepository()
	liveTeams := newStubTeamRepository()
	liveMatches := newStubMatchRepository()
	store := &stubRebuildStore{}

	league := events.seed(event.Event{
		Kind:           event.KindLeague,
		Name:           "Heartland Youth League",
		SourceEventID:  "e100",
		SourcePlatform: "gotsport",
	})

	if err := liveMatches.Denylist(context.Background(), []string{"gotsport-e100-m9"}, "operator invalidated"); err != nil {
		t.Fatalf("seed denylist: %v", err)
	}

	date := time.Now().UTC().AddDate(0, 0, -7)

	// The original scrape, promoted long ago.
	first := stagedGame("gotsport-e100-m1", "FC Blue 2015", "FC Red 2015", &date)
	first.HomeScore, first.AwayScore = intPtr(2), intPtr(1)
	first.EventID, first.EventName = "e100", "Heartland Youth League"
	first.Processed = true
	games.seed(first)

	// A later re-scrape of the same key carrying a score correction.
	rescrape := stagedGame("gotsport-e100-m1", "FC Blue 2015", "FC Red 2015", &date)
	rescrape.HomeScore, rescrape.AwayScore = intPtr(3), intPtr(1)
	rescrape.EventID, rescrape.EventName = "e100", "Heartland Youth League"
	games.seed(rescrape)

	second := stagedGame("gotsport-e100-m2", "FC Blue 2015", "FC Green 2015", &date)
	second.EventID, second.EventName = "e100", "Heartland Youth League"
	games.seed(second)

	// Its source event never made production; the match lands unlinked.
	orphan := stagedGame("gotsport-zz1-m3", "FC Blue 2015", "FC Red 2015", &date)
	orphan.EventID, orphan.EventName = "zz1", "Vanished Cup"
	games.seed(orphan)

	dead := stagedGame("gotsport-e100-m9", "FC Blue 2015", "FC Red 2015", &date)
	dead.EventID = "e100"
	games.seed(dead)

	undated := stagedGame("gotsport-e100-m4", "FC Blue 2015", "FC Red 2015", nil)
	undated.EventID = "e100"
	games.seed(undated)

	service := newRebuildService(store, games, events, shadowTeams, shadowMatches, liveTeams, liveMatches, nil)
	result, err := service.Rebuild(context.Background(), RebuildOptions{})
	if err != nil {
		t.Fatalf("Rebuild error: %v", err)
	}

	if !result.Prepared || store.preparedCount() != 1 {
		t.Fatalf("shadow tables not prepared: %+v", result)
	}
	if result.Scanned != 6 || result.Denylisted != 1 || result.Rejected != 1 {
		t.Fatalf("unexpected run shape: %+v", result)
	}
	if result.Inserted != 3 || result.Updated != 1 {
		t.Fatalf("unexpected write counts: %+v", result)
	}
	if result.TeamsCreated != 3 || result.EventsMissing != 1 {
		t.Fatalf("unexpected creation counts: %+v", result)
	}

	rebuilt, ok := shadowMatches.byKey("gotsport-e100-m1")
	if !ok {
		t.Fatalf("re-scraped match missing from shadow")
	}
	if rebuilt.HomeScore == nil || *rebuilt.HomeScore != 3 {
		t.Fatalf("re-scrape should win: %+v", rebuilt)
	}
	if rebuilt.LeagueID == nil || *rebuilt.LeagueID != league.ID || rebuilt.TournamentID != nil {
		t.Fatalf("league link missing: %+v", rebuilt)
	}

	unlinked, ok := shadowMatches.byKey("gotsport-zz1-m3")
	if !ok || unlinked.LeagueID != nil || unlinked.TournamentID != nil {
		t.Fatalf("orphan event row should stay unlinked: %+v", unlinked)
	}
	if _, ok := shadowMatches.byKey("gotsport-e100-m9"); ok {
		t.Fatalf("denylisted key must stay dead")
	}

	if shadowTeams.teamCount() != 3 || liveTeams.teamCount() != 0 {
		t.Fatalf("teams must land in the shadow only: shadow=%d live=%d",
			shadowTeams.teamCount(), liveTeams.teamCount())
	}
	if liveMatches.count() != 0 {
		t.Fatalf("production matches must stay untouched")
	}
	if events.count() != 1 {
		t.Fatalf("rebuild must not create events, have %d", events.count())
	}

	left, err := games.CountUnprocessed(context.Background())
	if err != nil || left != 5 {
		t.Fatalf("staging flags must not change, unprocessed=%d err=%v", left, err)
	}
}

func TestRebuildService_Rebuild_PhasesAreSelectable(t *testing.T) {
	t.Parallel()

	games := newStubStagingGameRepository()
	date := time.Now().UTC().AddDate(0, 0, -3)
	games.seed(stagedGame("gotsport-e1-m1", "FC Blue 2015", "FC Red 2015", &date))

	store := &stubRebuildStore{}
	service := newRebuildService(store, games, newStubEventRepository(),
		newStubTeamRepository(), newStubMatchRepository(),
		newStubTeamRepository(), newStubMatchRepository(), nil)

	tablesOnly, err := service.Rebuild(context.Background(), RebuildOptions{CreateTables: true})
	if err != nil {
		t.Fatalf("create-tables error: %v", err)
	}
	if !tablesOnly.Prepared || tablesOnly.Scanned != 0 {
		t.Fatalf("create-tables phase should not stream: %+v", tablesOnly)
	}

	processOnly, err := service.Rebuild(context.Background(), RebuildOptions{Process: true})
	if err != nil {
		t.Fatalf("process error: %v", err)
	}
	if processOnly.Prepared || processOnly.Scanned != 1 {
		t.Fatalf("process phase should stream without re-preparing: %+v", processOnly)
	}
	if store.preparedCount() != 1 {
		t.Fatalf("expected a single prepare, got %d", store.preparedCount())
	}
}

func TestRebuildService_Validate_PassesMatchingShadow(t *testing.T) {
	t.Parallel()

	shadowTeams, liveTeams := newStubTeamRepository(), newStubTeamRepository()
	shadowMatches, liveMatches := newStubMatchRepository(), newStubMatchRepository()
	seedCanonicalTeams(shadowTeams, 10, 2, 1)
	seedCanonicalTeams(liveTeams, 10, 2, 1)
	seedMatchRows(shadowMatches, 20)
	seedMatchRows(liveMatches, 20)

	service := newRebuildService(&stubRebuildStore{}, newStubStagingGameRepository(),
		newStubEventRepository(), shadowTeams, shadowMatches, liveTeams, liveMatches, nil)

	validation, err := service.Validate(context.Background())
	if err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if !validation.Pass || !validation.StrictPass {
		t.Fatalf("expected full pass: %+v", validation)
	}
	if len(validation.Checks) != 6 {
		t.Fatalf("expected six checks, got %d", len(validation.Checks))
	}
	for _, check := range validation.Checks {
		if !check.Pass {
			t.Fatalf("check %s failed: %s", check.Name, check.Detail)
		}
	}
}

func TestRebuildService_Validate_FlagsCoverageAndRegressions(t *testing.T) {
	t.Parallel()

	shadowTeams, liveTeams := newStubTeamRepository(), newStubTeamRepository()
	shadowMatches, liveMatches := newStubMatchRepository(), newStubMatchRepository()

	// 8 of 10 teams (80%), with the null birth-year rate doubling and the
	// null gender rate improving.
	seedCanonicalTeams(shadowTeams, 8, 2, 0)
	seedCanonicalTeams(liveTeams, 10, 1, 1)

	// Full row coverage, but one key shows up twice so distinct-key
	// coverage drops and a duplicate group appears.
	seedMatchRows(shadowMatches, 19)
	shadowMatches.seed(match.Match{
		MatchDate:      time.Now().UTC().AddDate(0, 0, -30),
		HomeTeamID:     901,
		AwayTeamID:     902,
		SourcePlatform: "gotsport",
		SourceMatchKey: "gotsport-e7-m0000",
	})
	seedMatchRows(liveMatches, 20)

	service := newRebuildService(&stubRebuildStore{}, newStubStagingGameRepository(),
		newStubEventRepository(), shadowTeams, shadowMatches, liveTeams, liveMatches, nil)

	validation, err := service.Validate(context.Background())
	if err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if validation.Pass || validation.StrictPass {
		t.Fatalf("expected failure: %+v", validation)
	}

	wantPass := map[string]bool{
		"team_coverage":         false,
		"match_coverage":        true,
		"source_key_coverage":   false,
		"duplicate_source_keys": false,
		"null_birth_year_rate":  false,
		"null_gender_rate":      true,
	}
	wantStrict := map[string]bool{
		"null_birth_year_rate": true,
		"null_gender_rate":     true,
	}
	seen := make(map[string]bool, len(validation.Checks))
	for _, check := range validation.Checks {
		want, known := wantPass[check.Name]
		if !known {
			t.Fatalf("unexpected check %s", check.Name)
		}
		if check.Pass != want {
			t.Fatalf("check %s: pass=%v, want %v (%s)", check.Name, check.Pass, want, check.Detail)
		}
		if check.Strict != wantStrict[check.Name] {
			t.Fatalf("check %s: strict=%v", check.Name, check.Strict)
		}
		seen[check.Name] = true
	}
	if len(seen) != len(wantPass) {
		t.Fatalf("missing checks: %v", seen)
	}
}

func TestRebuildService_Swap_RefusesFailedValidation(t *testing.T) {
	t.Parallel()

	shadowTeams, liveTeams := newStubTeamRepository(), newStubTeamRepository()
	shadowMatches, liveMatches := newStubMatchRepository(), newStubMatchRepository()
	seedCanonicalTeams(shadowTeams, 8, 0, 0)
	seedCanonicalTeams(liveTeams, 10, 0, 0)
	seedMatchRows(shadowMatches, 20)
	seedMatchRows(liveMatches, 20)

	store := &stubRebuildStore{}
	views := newStubViewStore("app_rankings")
	service := newRebuildService(store, newStubStagingGameRepository(),
		newStubEventRepository(), shadowTeams, shadowMatches, liveTeams, liveMatches, views)

	result, err := service.Swap(context.Background())
	if err == nil || !errors.Is(err, ErrValidationReject) {
		t.Fatalf("expected validation reject, got %v", err)
	}
	if !strings.Contains(err.Error(), "team_coverage") {
		t.Fatalf("error should name the failed gate: %v", err)
	}
	if result.Swapped || store.swapCount() != 0 {
		t.Fatalf("production must stay untouched: %+v", result)
	}
	if views.refreshCount() != 0 {
		t.Fatalf("views must not refresh on a refused swap")
	}
}

func TestRebuildService_Swap_PromotesValidatedShadow(t *testing.T) {
	t.Parallel()

	shadowTeams, liveTeams := newStubTeamRepository(), newStubTeamRepository()
	shadowMatches, liveMatches := newStubMatchRepository(), newStubMatchRepository()
	seedCanonicalTeams(shadowTeams, 10, 0, 0)
	seedCanonicalTeams(liveTeams, 10, 0, 0)
	seedMatchRows(shadowMatches, 20)
	seedMatchRows(liveMatches, 20)

	store := &stubRebuildStore{}
	views := newStubViewStore("app_rankings", "app_matches_feed")
	service := newRebuildService(store, newStubStagingGameRepository(),
		newStubEventRepository(), shadowTeams, shadowMatches, liveTeams, liveMatches, views)

	result, err := service.Swap(context.Background())
	if err != nil {
		t.Fatalf("Swap error: %v", err)
	}
	if !result.Swapped || !result.Validation.Pass || store.swapCount() != 1 {
		t.Fatalf("unexpected swap result: %+v", result)
	}
	if result.Views.Refreshed != 2 || views.refreshCount() != 2 {
		t.Fatalf("views not refreshed after swap: %+v", result.Views)
	}

	if len(service.SwapPlan()) == 0 || len(service.RollbackPlan()) == 0 {
		t.Fatalf("plans must surface for dry runs")
	}
}

func TestRebuildService_Swap_SurfacesStoreFailure(t *testing.T) {
	t.Parallel()

	shadowTeams, liveTeams := newStubTeamRepository(), newStubTeamRepository()
	shadowMatches, liveMatches := newStubMatchRepository(), newStubMatchRepository()
	seedCanonicalTeams(shadowTeams, 10, 0, 0)
	seedCanonicalTeams(liveTeams, 10, 0, 0)
	seedMatchRows(shadowMatches, 20)
	seedMatchRows(liveMatches, 20)

	store := &stubRebuildStore{swapErr: errors.New("backup tables already exist")}
	views := newStubViewStore("app_rankings")
	service := newRebuildService(store, newStubStagingGameRepository(),
		newStubEventRepository(), shadowTeams, shadowMatches, liveTeams, liveMatches, views)

	result, err := service.Swap(context.Background())
	if err == nil || !strings.Contains(err.Error(), "execute swap") {
		t.Fatalf("expected swap failure, got %v", err)
	}
	if errors.Is(err, ErrValidationReject) {
		t.Fatalf("store failure is not a validation reject: %v", err)
	}
	if result.Swapped || views.refreshCount() != 0 {
		t.Fatalf("failed swap must not refresh views: %+v", result)
	}
}

func TestRebuildService_Rollback_RestoresBackup(t *testing.T) {
	t.Parallel()

	store := &stubRebuildStore{}
	views := newStubViewStore("app_rankings")
	service := newRebuildService(store, newStubStagingGameRepository(),
		newStubEventRepository(), newStubTeamRepository(), newStubMatchRepository(),
		newStubTeamRepository(), newStubMatchRepository(), views)

	if err := service.Rollback(context.Background()); err != nil {
		t.Fatalf("Rollback error: %v", err)
	}
	if store.rollbackCount() != 1 {
		t.Fatalf("rollback not executed")
	}
	if views.refreshCount() != 1 {
		t.Fatalf("views not refreshed after rollback")
	}
}

func newRebuildService(
	store RebuildStore,
	games *stubStagingGameRepository,
	events *stubEventRepository,
	shadowTeams *stubTeamRepository,
	shadowMatches *stubMatchRepository,
	liveTeams *stubTeamRepository,
	liveMatches *stubMatchRepository,
	views *stubViewStore,
) *RebuildService {
	var refresh *ViewRefreshService
	if views != nil {
		refresh = NewViewRefreshService(views, nil)
	}

	return NewRebuildService(
		store,
		games,
		events,
		shadowTeams,
		shadowMatches,
		NewTeamResolverService(shadowTeams, 0.75, nil),
		liveTeams,
		liveMatches,
		refresh,
		nil,
		RebuildConfig{},
		nil,
	)
}

func seedCanonicalTeams(repo *stubTeamRepository, total, nullBirthYear, nullGender int) {
	for i := 0; i < total; i++ {
		candidate := team.Team{
			CanonicalName: fmt.Sprintf("rebuilt team %03d", i),
			DisplayName:   fmt.Sprintf("Rebuilt Team %03d", i),
			Gender:        team.GenderMale,
		}
		if i >= nullBirthYear {
			year := 2012
			candidate.BirthYear = &year
		}
		if i < nullGender {
			candidate.Gender = team.GenderUnknown
		}
		repo.seedTeam(candidate)
	}
}

func seedMatchRows(repo *stubMatchRepository, n int) {
	date := time.Now().UTC().AddDate(0, 0, -30)
	for i := 0; i < n; i++ {
		repo.seed(match.Match{
			MatchDate:      date,
			HomeTeamID:     int64(100 + i),
			AwayTeamID:     int64(500 + i),
			SourcePlatform: "gotsport",
			SourceMatchKey: fmt.Sprintf("gotsport-e7-m%04d", i),
		})
	}
}

// stubRebuildStore records shadow lifecycle calls without any DDL.
type stubRebuildStore struct {
	mu        sync.Mutex
	prepared  int
	swaps     int
	rollbacks int
	swapErr   error
}

func (s *stubRebuildStore) PrepareShadow(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prepared++

	return nil
}

func (s *stubRebuildStore) SwapPlan() []string {
	return []string{
		"ALTER TABLE teams_v2 RENAME TO teams_v2_backup",
		"ALTER TABLE teams_v2_rebuild RENAME TO teams_v2",
	}
}

func (s *stubRebuildStore) ExecuteSwap(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.swapErr != nil {
		return s.swapErr
	}
	s.swaps++

	return nil
}

func (s *stubRebuildStore) RollbackPlan() []string {
	return []string{"ALTER TABLE teams_v2_backup RENAME TO teams_v2"}
}

func (s *stubRebuildStore) ExecuteRollback(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollbacks++

	return nil
}

func (s *stubRebuildStore) preparedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.prepared
}

func (s *stubRebuildStore) swapCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.swaps
}

func (s *stubRebuildStore) rollbackCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.rollbacks
}
