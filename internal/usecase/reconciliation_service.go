package usecase

import (
	"context"
	"fmt"

	edlib "github.com/hbollon/go-edlib"

	"github.com/touchlinehq/touchline/internal/domain/team"
	"github.com/touchlinehq/touchline/internal/platform/logging"
)

const (
	// DefaultReconcileThreshold is the Jaro-Winkler floor for merging a
	// ranked orphan into a matched team. Higher than the resolver's fuzzy
	// floor: a merge moves a national rank, a resolution only links a game.
	DefaultReconcileThreshold = 0.9

	reconcileCandidateFloor = 0.55
	reconcileCandidateCap   = 10
)

// ReconciliationConfig tunes the weekly ranked-team reconciliation.
type ReconciliationConfig struct {
	Threshold float64
}

func (c ReconciliationConfig) normalized() ReconciliationConfig {
	if c.Threshold <= 0 || c.Threshold > 1 {
		c.Threshold = DefaultReconcileThreshold
	}

	return c
}

// PlannedMerge is one intended rank transfer, reported on dry runs.
type PlannedMerge struct {
	OrphanID   int64   `json:"orphan_id"`
	OrphanName string  `json:"orphan_name"`
	TargetID   int64   `json:"target_id"`
	TargetName string  `json:"target_name"`
	Similarity float64 `json:"similarity"`
}

// ReconciliationResult summarizes one reconciliation pass.
type ReconciliationResult struct {
	Scanned   int            `json:"scanned"`
	Merged    int            `json:"merged"`
	Unmatched int            `json:"unmatched"`
	DryRun    bool           `json:"dry_run,omitempty"`
	Planned   []PlannedMerge `json:"planned,omitempty"`
}

// ReconciliationService merges nationally ranked teams that never got a
// match against the canonical teams that actually play. Ranking ingestion
// creates teams on miss, so a spelling drift between the ranking source and
// the match sources leaves a ranked orphan next to its real counterpart.
// Candidates come from the repository's trigram search constrained to the
// orphan's birth year, gender, and state; the winner must also clear a
// Jaro-Winkler floor. On a hit the rank transfers (the target keeps its own
// rank if it already has one) and the orphan's name is learned as an alias,
// so the next ranking run resolves straight to the target.
type ReconciliationService struct {
	teams  team.Repository
	cfg    ReconciliationConfig
	logger *logging.Logger
}

func NewReconciliationService(
	teams team.Repository,
	cfg ReconciliationConfig,
	logger *logging.Logger,
) *ReconciliationService {
	if logger == nil {
		logger = logging.Default()
	}

	return &ReconciliationService{
		teams:  teams,
		cfg:    cfg.normalized(),
		logger: logger,
	}
}

// Run performs one reconciliation pass. Dry runs report the planned merges
// without transferring anything.
func (s *ReconciliationService) Run(ctx context.Context, dryRun bool) (ReconciliationResult, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.Reconciliation.Run")
	defer span.End()

	result := ReconciliationResult{DryRun: dryRun}

	orphans, err := s.teams.ListRankedWithoutMatches(ctx)
	if err != nil {
		return result, fmt.Errorf("list ranked teams without matches: %w", err)
	}
	result.Scanned = len(orphans)
	if len(orphans) == 0 {
		return result, nil
	}

	for _, orphan := range orphans {
		target, similarity, ok, err := s.bestMatch(ctx, orphan)
		if err != nil {
			return result, err
		}
		if !ok {
			result.Unmatched++
			continue
		}

		if !dryRun {
			if err := s.teams.TransferRank(ctx, orphan.ID, target.ID); err != nil {
				return result, fmt.Errorf("transfer rank team id=%d: %w", orphan.ID, err)
			}
			alias := team.Alias{
				AliasName: orphan.CanonicalName,
				TeamID:    target.ID,
				Source:    team.AliasSourceFuzzyLearned,
			}
			if err := s.teams.UpsertAliases(ctx, []team.Alias{alias}); err != nil {
				return result, fmt.Errorf("learn reconciliation alias team id=%d: %w", target.ID, err)
			}
		}
		result.Merged++
		if dryRun {
			result.Planned = append(result.Planned, PlannedMerge{
				OrphanID:   orphan.ID,
				OrphanName: orphan.CanonicalName,
				TargetID:   target.ID,
				TargetName: target.CanonicalName,
				Similarity: similarity,
			})
		}
	}

	s.logger.InfoContext(ctx, "ranked-team reconciliation finished",
		"scanned", result.Scanned,
		"merged", result.Merged,
		"unmatched", result.Unmatched,
		"dry_run", dryRun,
	)

	return result, nil
}

// bestMatch picks the matched team most similar to the orphan. Trigram
// search narrows the field cheaply; Jaro-Winkler makes the final call
// because it weighs the shared prefix that club names lead with.
func (s *ReconciliationService) bestMatch(ctx context.Context, orphan team.Team) (team.Team, float64, bool, error) {
	filter := team.SimilarityFilter{
		BirthYear:   orphan.BirthYear,
		State:       orphan.State,
		MatchedOnly: true,
		Threshold:   reconcileCandidateFloor,
		Limit:       reconcileCandidateCap,
	}
	if orphan.Gender != team.GenderUnknown {
		filter.Gender = orphan.Gender
	}

	scored, err := s.teams.ListSimilar(ctx, orphan.CanonicalName, filter)
	if err != nil {
		return team.Team{}, 0, false, fmt.Errorf("list merge candidates for %q: %w", orphan.CanonicalName, err)
	}

	var (
		best     team.Team
		bestSim  float64
		bestSeen bool
	)
	for _, candidate := range scored {
		raw, err := edlib.StringsSimilarity(orphan.CanonicalName, candidate.Team.CanonicalName, edlib.JaroWinkler)
		if err != nil {
			return team.Team{}, 0, false, fmt.Errorf("score merge candidate %q: %w", candidate.Team.CanonicalName, err)
		}
		similarity := float64(raw)
		if similarity < s.cfg.Threshold {
			continue
		}
		if !bestSeen || similarity > bestSim ||
			(similarity == bestSim && candidate.Team.MatchesPlayed > best.MatchesPlayed) {
			best = candidate.Team
			bestSim = similarity
			bestSeen = true
		}
	}

	return best, bestSim, bestSeen, nil
}
