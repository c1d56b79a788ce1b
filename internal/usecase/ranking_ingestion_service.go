package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/touchlinehq/touchline/internal/domain/team"
	"github.com/touchlinehq/touchline/internal/domain/teamname"
	"github.com/touchlinehq/touchline/internal/platform/logging"
)

// RankingProvider is the slice of the national-rankings API the ingestion
// needs. Implemented by external/rankhub.Client.
type RankingProvider interface {
	FetchRankings(ctx context.Context, query RankingQuery) ([]ExternalRanking, error)
}

// RankingQuery selects one rankings page: an age group and a gender.
type RankingQuery struct {
	AgeGroup int
	Gender   team.Gender
}

// ExternalRanking is one ranked team as the rankings source reports it.
type ExternalRanking struct {
	TeamName     string
	State        string
	NationalRank int
}

// DefaultRankingAgeGroups covers the age groups the rankings source
// publishes. U9 and below are too thin to rank.
var DefaultRankingAgeGroups = []int{10, 11, 12, 13, 14, 15, 16, 17, 18, 19}

// RankingIngestionConfig selects the pages one ingestion run pulls.
type RankingIngestionConfig struct {
	AgeGroups []int
	Genders   []team.Gender
}

func (c RankingIngestionConfig) normalized() RankingIngestionConfig {
	if len(c.AgeGroups) == 0 {
		c.AgeGroups = DefaultRankingAgeGroups
	}
	if len(c.Genders) == 0 {
		c.Genders = []team.Gender{team.GenderMale, team.GenderFemale}
	}

	return c
}

// RankingIngestionResult summarizes one ingestion run.
type RankingIngestionResult struct {
	Pages   int `json:"pages"`
	Fetched int `json:"fetched"`
	Applied int `json:"applied"`
	Created int `json:"created"`
	Skipped int `json:"skipped"`
}

// RankingIngestionService pulls national rankings and lands them on
// canonical teams. Each ranked row goes through the team resolver with the
// birth year implied by its age group and the current season, creating the
// team on a miss, and then receives its national rank and a data quality
// score in bulk. Ranked teams that never match a played game are picked up
// later by the weekly reconciliation.
type RankingIngestionService struct {
	provider RankingProvider
	resolver *TeamResolverService
	teams    team.Repository
	cfg      RankingIngestionConfig
	logger   *logging.Logger
	now      func() time.Time
}

func NewRankingIngestionService(
	provider RankingProvider,
	resolver *TeamResolverService,
	teams team.Repository,
	cfg RankingIngestionConfig,
	logger *logging.Logger,
) *RankingIngestionService {
	if logger == nil {
		logger = logging.Default()
	}

	return &RankingIngestionService{
		provider: provider,
		resolver: resolver,
		teams:    teams,
		cfg:      cfg.normalized(),
		logger:   logger,
		now:      time.Now,
	}
}

// Run pulls every configured rankings page and applies the ranks. A failed
// page fails the run; rankings are refreshed as a whole or not at all.
func (s *RankingIngestionService) Run(ctx context.Context) (RankingIngestionResult, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.RankingIngestion.Run")
	defer span.End()

	var result RankingIngestionResult
	seasonYear := teamname.SeasonYear(s.now())

	for _, gender := range s.cfg.Genders {
		for _, ageGroup := range s.cfg.AgeGroups {
			query := RankingQuery{AgeGroup: ageGroup, Gender: gender}
			if err := s.ingestPage(ctx, query, seasonYear, &result); err != nil {
				return result, err
			}
			result.Pages++
		}
	}

	s.logger.InfoContext(ctx, "ranking ingestion finished",
		"pages", result.Pages,
		"fetched", result.Fetched,
		"applied", result.Applied,
		"created", result.Created,
		"skipped", result.Skipped,
	)

	return result, nil
}

func (s *RankingIngestionService) ingestPage(ctx context.Context, query RankingQuery, seasonYear int, result *RankingIngestionResult) error {
	rankings, err := s.provider.FetchRankings(ctx, query)
	if err != nil {
		return fmt.Errorf("fetch rankings age=%d gender=%s: %w", query.AgeGroup, query.Gender, err)
	}
	result.Fetched += len(rankings)
	if len(rankings) == 0 {
		return nil
	}

	birthYear := seasonYear - query.AgeGroup

	requests := make([]TeamResolveRequest, 0, len(rankings))
	keyed := make(map[string]ExternalRanking, len(rankings))
	for _, ranking := range rankings {
		req := TeamResolveRequest{
			RawName:   ranking.TeamName,
			BirthYear: &birthYear,
			Gender:    query.Gender,
			State:     statePtr(ranking.State),
		}
		key := req.Key()
		if prior, ok := keyed[key]; !ok || ranking.NationalRank < prior.NationalRank {
			keyed[key] = ranking
		}
		requests = append(requests, req)
	}

	resolutions, err := s.resolver.ResolveBulk(ctx, requests)
	if err != nil {
		return fmt.Errorf("resolve ranked teams age=%d gender=%s: %w", query.AgeGroup, query.Gender, err)
	}

	// One update per team: when spellings collapse onto one canonical team,
	// the best (lowest) rank wins.
	rankByTeam := make(map[int64]ExternalRanking, len(keyed))
	for key, ranking := range keyed {
		resolution, ok := resolutions[key]
		if !ok {
			result.Skipped++
			continue
		}
		if resolution.Created {
			result.Created++
		}
		if prior, ok := rankByTeam[resolution.TeamID]; !ok || ranking.NationalRank < prior.NationalRank {
			rankByTeam[resolution.TeamID] = ranking
		}
	}
	if len(rankByTeam) == 0 {
		return nil
	}

	updates := make([]team.RankUpdate, 0, len(rankByTeam))
	for teamID, ranking := range rankByTeam {
		updates = append(updates, team.RankUpdate{
			TeamID:       teamID,
			NationalRank: ranking.NationalRank,
			QualityScore: rankQualityScore(ranking),
		})
	}
	if err := s.teams.ApplyRankings(ctx, updates); err != nil {
		return fmt.Errorf("apply rankings age=%d gender=%s: %w", query.AgeGroup, query.Gender, err)
	}
	result.Applied += len(updates)

	s.logger.DebugContext(ctx, "ingested rankings page",
		"age_group", query.AgeGroup,
		"gender", query.Gender,
		"fetched", len(rankings),
		"applied", len(updates),
	)

	return nil
}

// rankQualityScore grades how complete a ranked row is: every ranked team
// starts above the unranked baseline, and a usable state code fills out the
// identity tuple.
func rankQualityScore(ranking ExternalRanking) int {
	score := 70
	if statePtr(ranking.State) != nil {
		score += 20
	}
	if ranking.NationalRank > 0 && ranking.NationalRank <= 100 {
		score += 10
	}

	return score
}

func statePtr(raw string) *string {
	cleaned := strings.ToUpper(strings.TrimSpace(raw))
	if len(cleaned) != 2 {
		return nil
	}

	return &cleaned
}
