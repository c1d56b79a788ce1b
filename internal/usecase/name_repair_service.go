package usecase

import (
	"context"
	"fmt"

	"github.com/touchlinehq/touchline/internal/domain/team"
	"github.com/touchlinehq/touchline/internal/domain/teamname"
	"github.com/touchlinehq/touchline/internal/platform/logging"
)

const (
	defaultRepairScanLimit = 500

	repairActionRename = "rename"
	repairActionMerge  = "alias_to_winner"
)

// NameRepairConfig bounds one repair pass.
type NameRepairConfig struct {
	ScanLimit int
}

func (c NameRepairConfig) normalized() NameRepairConfig {
	if c.ScanLimit <= 0 {
		c.ScanLimit = defaultRepairScanLimit
	}

	return c
}

// PlannedRepair is one intended fix, reported on dry runs.
type PlannedRepair struct {
	TeamID   int64  `json:"team_id"`
	From     string `json:"from"`
	To       string `json:"to"`
	Action   string `json:"action"`
	WinnerID int64  `json:"winner_id,omitempty"`
}

// NameRepairResult summarizes one repair pass.
type NameRepairResult struct {
	Scanned int             `json:"scanned"`
	Renamed int             `json:"renamed"`
	Merged  int             `json:"merged"`
	DryRun  bool            `json:"dry_run,omitempty"`
	Planned []PlannedRepair `json:"planned,omitempty"`
}

// NameRepairService fixes canonical teams whose names still carry a
// duplicated leading prefix ("Kansas Rush Kansas Rush Pre-ECNL 14B"), an
// artifact of sources that concatenate club and team names. Each candidate
// is renamed to its fixed form unless another team already holds the fixed
// name with the same birth year, gender, and state; in that case the row
// with more matches played wins and the loser's canonical name is learned
// as an alias to the winner, so future resolutions route there. Losing rows
// are never deleted; the next rebuild replays staging through the resolver,
// which normalizes the prefix away and collapses them.
type NameRepairService struct {
	teams  team.Repository
	cfg    NameRepairConfig
	logger *logging.Logger
}

func NewNameRepairService(
	teams team.Repository,
	cfg NameRepairConfig,
	logger *logging.Logger,
) *NameRepairService {
	if logger == nil {
		logger = logging.Default()
	}

	return &NameRepairService{
		teams:  teams,
		cfg:    cfg.normalized(),
		logger: logger,
	}
}

// Run performs one repair pass. Dry runs report the planned renames and
// merges without writing anything.
func (s *NameRepairService) Run(ctx context.Context, dryRun bool) (NameRepairResult, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.NameRepair.Run")
	defer span.End()

	result := NameRepairResult{DryRun: dryRun}

	candidates, err := s.teams.ListDoublePrefixNamed(ctx, s.cfg.ScanLimit)
	if err != nil {
		return result, fmt.Errorf("list double-prefix teams: %w", err)
	}
	result.Scanned = len(candidates)
	if len(candidates) == 0 {
		return result, nil
	}

	holders, err := s.loadFixedNameHolders(ctx, candidates)
	if err != nil {
		return result, err
	}

	for _, candidate := range candidates {
		fixedCanonical := teamname.Normalize(candidate.CanonicalName)
		fixedDisplay := teamname.FixDoublePrefix(candidate.DisplayName)

		holder, conflicted := findRepairConflict(holders, candidate, fixedCanonical)
		if !conflicted {
			if !dryRun {
				if err := s.teams.Rename(ctx, candidate.ID, fixedCanonical, fixedDisplay); err != nil {
					return result, fmt.Errorf("rename team id=%d: %w", candidate.ID, err)
				}
			}
			result.Renamed++
			if dryRun {
				result.Planned = append(result.Planned, PlannedRepair{
					TeamID: candidate.ID,
					From:   candidate.DisplayName,
					To:     fixedDisplay,
					Action: repairActionRename,
				})
			}

			// Later candidates fixing to the same name merge against
			// this one instead of colliding on the uniqueness tuple.
			renamed := candidate
			renamed.CanonicalName = fixedCanonical
			renamed.DisplayName = fixedDisplay
			holders[fixedCanonical] = append(holders[fixedCanonical], renamed)

			continue
		}

		// The fixed name is taken. The candidate keeps its canonical name
		// (the tuple stays unique) but its display name is still fixed, and
		// the loser's name routes to the winner through an alias, which the
		// resolver probes ahead of exact canonical matches.
		winner, loser := pickRepairWinner(holder, candidate)
		if !dryRun {
			if err := s.teams.Rename(ctx, candidate.ID, candidate.CanonicalName, fixedDisplay); err != nil {
				return result, fmt.Errorf("fix display name team id=%d: %w", candidate.ID, err)
			}
			alias := team.Alias{
				AliasName: loser.CanonicalName,
				TeamID:    winner.ID,
				Source:    team.AliasSourceFuzzyLearned,
			}
			if err := s.teams.UpsertAliases(ctx, []team.Alias{alias}); err != nil {
				return result, fmt.Errorf("learn repair alias team id=%d: %w", winner.ID, err)
			}
		}
		result.Merged++
		if dryRun {
			result.Planned = append(result.Planned, PlannedRepair{
				TeamID:   candidate.ID,
				From:     candidate.DisplayName,
				To:       fixedDisplay,
				Action:   repairActionMerge,
				WinnerID: winner.ID,
			})
		}
	}

	s.logger.InfoContext(ctx, "name repair finished",
		"scanned", result.Scanned,
		"renamed", result.Renamed,
		"merged", result.Merged,
		"dry_run", dryRun,
	)

	return result, nil
}

// loadFixedNameHolders fetches every team already holding one of the fixed
// canonical names, keyed by canonical name.
func (s *NameRepairService) loadFixedNameHolders(ctx context.Context, candidates []team.Team) (map[string][]team.Team, error) {
	seen := make(map[string]struct{}, len(candidates))
	names := make([]string, 0, len(candidates))
	for _, t := range candidates {
		fixed := teamname.Normalize(t.CanonicalName)
		if _, ok := seen[fixed]; ok {
			continue
		}
		seen[fixed] = struct{}{}
		names = append(names, fixed)
	}

	existing, err := s.teams.ListByCanonicalNames(ctx, names)
	if err != nil {
		return nil, fmt.Errorf("load fixed-name holders: %w", err)
	}

	holders := make(map[string][]team.Team, len(existing))
	for _, t := range existing {
		holders[t.CanonicalName] = append(holders[t.CanonicalName], t)
	}

	return holders, nil
}

// findRepairConflict reports the team, if any, that already occupies the
// candidate's uniqueness tuple under the fixed canonical name.
func findRepairConflict(holders map[string][]team.Team, candidate team.Team, fixedCanonical string) (team.Team, bool) {
	target := team.Key{
		CanonicalName: fixedCanonical,
		BirthYear:     candidate.BirthYear,
		Gender:        candidate.Gender,
		State:         candidate.State,
	}.Comparable()

	for _, h := range holders[fixedCanonical] {
		if h.ID != candidate.ID && team.KeyOf(h).Comparable() == target {
			return h, true
		}
	}

	return team.Team{}, false
}

// pickRepairWinner keeps the team with more matches played; ties keep the
// older row.
func pickRepairWinner(a, b team.Team) (winner, loser team.Team) {
	if a.MatchesPlayed > b.MatchesPlayed {
		return a, b
	}
	if b.MatchesPlayed > a.MatchesPlayed {
		return b, a
	}
	if a.ID < b.ID {
		return a, b
	}

	return b, a
}
