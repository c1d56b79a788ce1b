package usecase

import (
	"context"
	"testing"

	"github.com/touchlinehq/touchline/internal/domain/team"
)

func TestNameRepairService_Run_RenamesDoublePrefixedTeam(t *testing.T) {
	t.Parallel()

	repo := newStubTeamRepository()
	dirty := repo.seedTeam(team.Team{
		CanonicalName: "kansas rush kansas rush pre-ecnl 14b",
		DisplayName:   "Kansas Rush Kansas Rush Pre-ECNL 14B",
		BirthYear:     intPtr(2011),
		Gender:        team.GenderMale,
		MatchesPlayed: 4,
	})
	clean := repo.seedTeam(team.Team{
		CanonicalName: "sporting blue valley 2012 boys",
		DisplayName:   "Sporting Blue Valley 2012 Boys",
		BirthYear:     intPtr(2012),
		Gender:        team.GenderMale,
	})

	svc := NewNameRepairService(repo, NameRepairConfig{}, nil)

	result, err := svc.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Scanned != 1 || result.Renamed != 1 || result.Merged != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(result.Planned) != 0 {
		t.Fatalf("wet run should not report plans, got %d", len(result.Planned))
	}

	repaired, ok := repo.teamByID(dirty.ID)
	if !ok {
		t.Fatalf("repaired team missing")
	}
	if repaired.CanonicalName != "kansas rush pre-ecnl 14b" {
		t.Fatalf("canonical name = %q", repaired.CanonicalName)
	}
	if repaired.DisplayName != "Kansas Rush Pre-ECNL 14B" {
		t.Fatalf("display name = %q", repaired.DisplayName)
	}

	untouched, _ := repo.teamByID(clean.ID)
	if untouched.CanonicalName != clean.CanonicalName {
		t.Fatalf("clean team renamed to %q", untouched.CanonicalName)
	}
	if _, ok := repo.aliasByName("kansas rush kansas rush pre-ecnl 14b"); ok {
		t.Fatalf("plain rename should not learn an alias")
	}
}

func TestNameRepairService_Run_MergesIntoCleanTeamWithMoreMatches(t *testing.T) {
	t.Parallel()

	repo := newStubTeamRepository()
	winner := repo.seedTeam(team.Team{
		CanonicalName: "kansas rush pre-ecnl 14b",
		DisplayName:   "Kansas Rush Pre-ECNL 14B",
		BirthYear:     intPtr(2011),
		Gender:        team.GenderMale,
		MatchesPlayed: 12,
	})
	dirty := repo.seedTeam(team.Team{
		CanonicalName: "kansas rush kansas rush pre-ecnl 14b",
		DisplayName:   "Kansas Rush Kansas Rush Pre-ECNL 14B",
		BirthYear:     intPtr(2011),
		Gender:        team.GenderMale,
		MatchesPlayed: 3,
	})

	svc := NewNameRepairService(repo, NameRepairConfig{}, nil)

	result, err := svc.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Scanned != 1 || result.Renamed != 0 || result.Merged != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}

	loser, _ := repo.teamByID(dirty.ID)
	if loser.CanonicalName != dirty.CanonicalName {
		t.Fatalf("loser canonical should stay put, got %q", loser.CanonicalName)
	}
	if loser.DisplayName != "Kansas Rush Pre-ECNL 14B" {
		t.Fatalf("loser display = %q", loser.DisplayName)
	}

	alias, ok := repo.aliasByName("kansas rush kansas rush pre-ecnl 14b")
	if !ok {
		t.Fatalf("loser name should be learned as alias")
	}
	if alias.TeamID != winner.ID {
		t.Fatalf("alias routes to team %d, want %d", alias.TeamID, winner.ID)
	}
	if alias.Source != team.AliasSourceFuzzyLearned {
		t.Fatalf("alias source = %q", alias.Source)
	}

	kept, _ := repo.teamByID(winner.ID)
	if kept.CanonicalName != winner.CanonicalName || kept.DisplayName != winner.DisplayName {
		t.Fatalf("winner should be untouched, got %+v", kept)
	}
}

func TestNameRepairService_Run_MergesIntoPrefixedTeamWithMoreMatches(t *testing.T) {
	t.Parallel()

	repo := newStubTeamRepository()
	holder := repo.seedTeam(team.Team{
		CanonicalName: "kansas rush pre-ecnl 14b",
		DisplayName:   "Kansas Rush Pre-ECNL 14B",
		BirthYear:     intPtr(2011),
		Gender:        team.GenderMale,
		MatchesPlayed: 2,
	})
	dirty := repo.seedTeam(team.Team{
		CanonicalName: "kansas rush kansas rush pre-ecnl 14b",
		DisplayName:   "Kansas Rush Kansas Rush Pre-ECNL 14B",
		BirthYear:     intPtr(2011),
		Gender:        team.GenderMale,
		MatchesPlayed: 20,
	})

	svc := NewNameRepairService(repo, NameRepairConfig{}, nil)

	result, err := svc.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Merged != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}

	// The prefixed team played more, so the clean name routes to it.
	alias, ok := repo.aliasByName("kansas rush pre-ecnl 14b")
	if !ok {
		t.Fatalf("holder name should be learned as alias")
	}
	if alias.TeamID != dirty.ID {
		t.Fatalf("alias routes to team %d, want %d", alias.TeamID, dirty.ID)
	}
	if _, ok := repo.aliasByName("kansas rush kansas rush pre-ecnl 14b"); ok {
		t.Fatalf("winner name should not become an alias")
	}

	kept, _ := repo.teamByID(dirty.ID)
	if kept.CanonicalName != dirty.CanonicalName {
		t.Fatalf("winner keeps its canonical until rebuild, got %q", kept.CanonicalName)
	}
	if kept.DisplayName != "Kansas Rush Pre-ECNL 14B" {
		t.Fatalf("winner display = %q", kept.DisplayName)
	}

	still, _ := repo.teamByID(holder.ID)
	if still.CanonicalName != holder.CanonicalName {
		t.Fatalf("holder canonical changed to %q", still.CanonicalName)
	}
}

func TestNameRepairService_Run_RenamesWhenIdentityDiffers(t *testing.T) {
	t.Parallel()

	repo := newStubTeamRepository()
	other := repo.seedTeam(team.Team{
		CanonicalName: "kansas rush pre-ecnl 14b",
		DisplayName:   "Kansas Rush Pre-ECNL 14B",
		BirthYear:     intPtr(2012),
		Gender:        team.GenderMale,
		MatchesPlayed: 9,
	})
	dirty := repo.seedTeam(team.Team{
		CanonicalName: "kansas rush kansas rush pre-ecnl 14b",
		DisplayName:   "Kansas Rush Kansas Rush Pre-ECNL 14B",
		BirthYear:     intPtr(2011),
		Gender:        team.GenderMale,
		MatchesPlayed: 3,
	})

	svc := NewNameRepairService(repo, NameRepairConfig{}, nil)

	result, err := svc.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Renamed != 1 || result.Merged != 0 {
		t.Fatalf("different birth years are different teams: %+v", result)
	}

	repaired, _ := repo.teamByID(dirty.ID)
	if repaired.CanonicalName != "kansas rush pre-ecnl 14b" {
		t.Fatalf("canonical name = %q", repaired.CanonicalName)
	}
	if _, ok := repo.aliasByName(dirty.CanonicalName); ok {
		t.Fatalf("no alias expected")
	}

	still, _ := repo.teamByID(other.ID)
	if still.BirthYear == nil || *still.BirthYear != 2012 {
		t.Fatalf("other team should be untouched")
	}
}

func TestNameRepairService_Run_DryRunPlansWithoutWriting(t *testing.T) {
	t.Parallel()

	repo := newStubTeamRepository()
	winner := repo.seedTeam(team.Team{
		CanonicalName: "kansas rush pre-ecnl 14b",
		DisplayName:   "Kansas Rush Pre-ECNL 14B",
		BirthYear:     intPtr(2011),
		Gender:        team.GenderMale,
		MatchesPlayed: 12,
	})
	conflicted := repo.seedTeam(team.Team{
		CanonicalName: "kansas rush kansas rush pre-ecnl 14b",
		DisplayName:   "Kansas Rush Kansas Rush Pre-ECNL 14B",
		BirthYear:     intPtr(2011),
		Gender:        team.GenderMale,
		MatchesPlayed: 3,
	})
	lone := repo.seedTeam(team.Team{
		CanonicalName: "derby united derby united 15b",
		DisplayName:   "Derby United Derby United 15B",
		BirthYear:     intPtr(2010),
		Gender:        team.GenderMale,
		MatchesPlayed: 7,
	})

	svc := NewNameRepairService(repo, NameRepairConfig{}, nil)

	result, err := svc.Run(context.Background(), true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.DryRun {
		t.Fatalf("dry run flag not set")
	}
	if result.Scanned != 2 || result.Renamed != 1 || result.Merged != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(result.Planned) != 2 {
		t.Fatalf("planned %d repairs, want 2", len(result.Planned))
	}

	merge := result.Planned[0]
	if merge.TeamID != conflicted.ID || merge.Action != repairActionMerge || merge.WinnerID != winner.ID {
		t.Fatalf("unexpected merge plan: %+v", merge)
	}
	rename := result.Planned[1]
	if rename.TeamID != lone.ID || rename.Action != repairActionRename || rename.To != "Derby United 15B" {
		t.Fatalf("unexpected rename plan: %+v", rename)
	}

	untouched, _ := repo.teamByID(conflicted.ID)
	if untouched.DisplayName != conflicted.DisplayName {
		t.Fatalf("dry run wrote display name %q", untouched.DisplayName)
	}
	stillDirty, _ := repo.teamByID(lone.ID)
	if stillDirty.CanonicalName != lone.CanonicalName {
		t.Fatalf("dry run wrote canonical name %q", stillDirty.CanonicalName)
	}
	if _, ok := repo.aliasByName(conflicted.CanonicalName); ok {
		t.Fatalf("dry run learned an alias")
	}
}

func TestNameRepairService_Run_CollapsesTwinsWithinOneRun(t *testing.T) {
	t.Parallel()

	repo := newStubTeamRepository()
	first := repo.seedTeam(team.Team{
		CanonicalName: "kansas rush kansas rush pre-ecnl 14b",
		DisplayName:   "Kansas Rush Kansas Rush Pre-ECNL 14B",
		BirthYear:     intPtr(2011),
		Gender:        team.GenderMale,
		MatchesPlayed: 5,
	})
	second := repo.seedTeam(team.Team{
		CanonicalName: "kansas rush kansas rush kansas rush pre-ecnl 14b",
		DisplayName:   "Kansas Rush Kansas Rush Kansas Rush Pre-ECNL 14B",
		BirthYear:     intPtr(2011),
		Gender:        team.GenderMale,
		MatchesPlayed: 1,
	})

	svc := NewNameRepairService(repo, NameRepairConfig{}, nil)

	result, err := svc.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Scanned != 2 || result.Renamed != 1 || result.Merged != 1 {
		t.Fatalf("twins should collapse to one rename and one merge: %+v", result)
	}

	kept, _ := repo.teamByID(first.ID)
	if kept.CanonicalName != "kansas rush pre-ecnl 14b" {
		t.Fatalf("first twin canonical = %q", kept.CanonicalName)
	}

	// The second twin would collide with the first one's fixed name, so it
	// only gets its display fixed and its name routed to the first.
	leftover, _ := repo.teamByID(second.ID)
	if leftover.CanonicalName != second.CanonicalName {
		t.Fatalf("second twin canonical = %q", leftover.CanonicalName)
	}
	if leftover.DisplayName != "Kansas Rush Pre-ECNL 14B" {
		t.Fatalf("second twin display = %q", leftover.DisplayName)
	}

	alias, ok := repo.aliasByName(second.CanonicalName)
	if !ok {
		t.Fatalf("second twin name should route to the first")
	}
	if alias.TeamID != first.ID {
		t.Fatalf("alias routes to team %d, want %d", alias.TeamID, first.ID)
	}
}
