package usecase

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/touchlinehq/touchline/internal/domain/team"
	"github.com/touchlinehq/touchline/internal/domain/teamname"
	"github.com/touchlinehq/touchline/internal/platform/logging"
)

// TeamResolveStrategy names the ladder rung that produced a resolution.
type TeamResolveStrategy string

const (
	StrategyAlias          TeamResolveStrategy = "alias"
	StrategyExactCanonical TeamResolveStrategy = "exact_canonical"
	StrategySuffixStripped TeamResolveStrategy = "suffix_stripped"
	StrategyPrefix30       TeamResolveStrategy = "prefix_30"
	StrategyPrefix20       TeamResolveStrategy = "prefix_20"
	StrategyFuzzy          TeamResolveStrategy = "fuzzy"
	StrategyCreated        TeamResolveStrategy = "created"
)

const (
	DefaultSimilarityThreshold = 0.75

	prefixLongLength  = 30
	prefixShortLength = 20
	fuzzyCandidateCap = 5
)

// TeamResolveRequest asks for the canonical team behind one source name.
// Explicit metadata comes from division parsing and wins over anything the
// resolver can read out of the name itself.
type TeamResolveRequest struct {
	RawName   string
	BirthYear *int
	Gender    team.Gender
	State     *string
}

// Key identifies a request after name normalization. Requests with equal
// keys always resolve to the same team within a run, so callers dedupe and
// join results on it.
func (r TeamResolveRequest) Key() string {
	year := "-"
	if r.BirthYear != nil {
		year = strconv.Itoa(*r.BirthYear)
	}
	state := "-"
	if r.State != nil {
		state = strings.ToUpper(strings.TrimSpace(*r.State))
	}
	gender := r.Gender
	if gender == "" {
		gender = team.GenderUnknown
	}

	return teamname.Normalize(r.RawName) + "|" + year + "|" + string(gender) + "|" + state
}

// TeamResolution is the outcome for one request key.
type TeamResolution struct {
	TeamID   int64               `json:"team_id"`
	Strategy TeamResolveStrategy `json:"strategy"`
	Created  bool                `json:"created"`
}

// TeamResolverService maps raw source team names to canonical team ids,
// creating canonical records on miss. Resolution never fails per name; only
// structural repository errors surface.
type TeamResolverService struct {
	teams               team.Repository
	similarityThreshold float64
	logger              *logging.Logger
	now                 func() time.Time
}

func NewTeamResolverService(teams team.Repository, similarityThreshold float64, logger *logging.Logger) *TeamResolverService {
	if similarityThreshold <= 0 || similarityThreshold > 1 {
		similarityThreshold = DefaultSimilarityThreshold
	}
	if logger == nil {
		logger = logging.Default()
	}

	return &TeamResolverService{
		teams:               teams,
		similarityThreshold: similarityThreshold,
		logger:              logger,
		now:                 time.Now,
	}
}

// Resolve handles a single name. Batch callers should prefer ResolveBulk.
func (s *TeamResolverService) Resolve(ctx context.Context, req TeamResolveRequest) (TeamResolution, error) {
	results, err := s.ResolveBulk(ctx, []TeamResolveRequest{req})
	if err != nil {
		return TeamResolution{}, err
	}

	resolution, ok := results[req.Key()]
	if !ok {
		return TeamResolution{}, fmt.Errorf("%w: team name %q is empty after normalization", ErrInvalidInput, req.RawName)
	}

	return resolution, nil
}

// ResolveBulk resolves a batch of requests in as few round trips as the
// ladder allows: one alias lookup and one canonical lookup cover the whole
// batch, the remaining rungs run per miss, and all creations land in a
// single insert. The result is keyed by TeamResolveRequest.Key; requests
// whose names normalize to nothing are absent from it.
func (s *TeamResolverService) ResolveBulk(ctx context.Context, requests []TeamResolveRequest) (map[string]TeamResolution, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.TeamResolverService.ResolveBulk")
	defer span.End()

	seasonYear := teamname.SeasonYear(s.now())

	probes := make(map[string]teamProbe, len(requests))
	order := make([]string, 0, len(requests))
	for _, req := range requests {
		probe, ok := buildTeamProbe(req, seasonYear)
		if !ok {
			continue
		}
		key := req.Key()
		if _, seen := probes[key]; seen {
			continue
		}
		probes[key] = probe
		order = append(order, key)
	}

	out := make(map[string]TeamResolution, len(probes))
	if len(probes) == 0 {
		return out, nil
	}

	names := make([]string, 0, len(order))
	seenNames := make(map[string]struct{}, len(order))
	for _, key := range order {
		name := probes[key].normalized
		if _, ok := seenNames[name]; ok {
			continue
		}
		seenNames[name] = struct{}{}
		names = append(names, name)
	}

	aliases, err := s.teams.ListAliases(ctx, names)
	if err != nil {
		return nil, fmt.Errorf("list team aliases: %w", err)
	}
	aliasTeamByName := make(map[string]int64, len(aliases))
	for _, alias := range aliases {
		if _, ok := aliasTeamByName[alias.AliasName]; !ok {
			aliasTeamByName[alias.AliasName] = alias.TeamID
		}
	}

	remaining := make([]string, 0, len(order))
	for _, key := range order {
		probe := probes[key]
		if teamID, ok := aliasTeamByName[probe.normalized]; ok {
			out[key] = TeamResolution{TeamID: teamID, Strategy: StrategyAlias}
			continue
		}
		remaining = append(remaining, key)
	}
	if len(remaining) == 0 {
		return out, nil
	}

	remainingNames := make([]string, 0, len(remaining))
	seenNames = make(map[string]struct{}, len(remaining))
	for _, key := range remaining {
		name := probes[key].normalized
		if _, ok := seenNames[name]; ok {
			continue
		}
		seenNames[name] = struct{}{}
		remainingNames = append(remainingNames, name)
	}

	canonical, err := s.teams.ListByCanonicalNames(ctx, remainingNames)
	if err != nil {
		return nil, fmt.Errorf("list teams by canonical name: %w", err)
	}
	canonicalByName := make(map[string][]team.Team, len(canonical))
	for _, t := range canonical {
		canonicalByName[t.CanonicalName] = append(canonicalByName[t.CanonicalName], t)
	}

	var (
		missed         []string
		learnedAliases []team.Alias
	)
	for _, key := range remaining {
		probe := probes[key]

		if hit, ok := pickCandidate(probe, canonicalByName[probe.normalized], false); ok {
			out[key] = TeamResolution{TeamID: hit.ID, Strategy: StrategyExactCanonical}
			continue
		}

		resolution, alias, ok, err := s.resolveLadder(ctx, probe)
		if err != nil {
			return nil, err
		}
		if ok {
			out[key] = resolution
			if alias != nil {
				learnedAliases = append(learnedAliases, *alias)
			}
			continue
		}

		missed = append(missed, key)
	}

	if len(missed) > 0 {
		created, err := s.createMissing(ctx, probes, missed)
		if err != nil {
			return nil, err
		}
		for key, resolution := range created {
			out[key] = resolution
		}
	}

	if len(learnedAliases) > 0 {
		if err := s.teams.UpsertAliases(ctx, learnedAliases); err != nil {
			return nil, fmt.Errorf("learn fuzzy aliases: %w", err)
		}
		s.logger.InfoContext(ctx, "learned fuzzy team aliases", "count", len(learnedAliases))
	}

	return out, nil
}

// resolveLadder runs rungs 3-6 for one probe. The returned alias is non-nil
// only on a fuzzy hit, where the probe name becomes a learned alias of the
// winning team.
func (s *TeamResolverService) resolveLadder(ctx context.Context, probe teamProbe) (TeamResolution, *team.Alias, bool, error) {
	stripped, err := s.teams.ListBySuffixStripped(ctx, probe.normalized)
	if err != nil {
		return TeamResolution{}, nil, false, fmt.Errorf("list teams by stripped name %q: %w", probe.normalized, err)
	}
	if hit, ok := pickCandidate(probe, stripped, false); ok {
		return TeamResolution{TeamID: hit.ID, Strategy: StrategySuffixStripped}, nil, true, nil
	}

	for _, rung := range []struct {
		length   int
		strategy TeamResolveStrategy
	}{
		{length: prefixLongLength, strategy: StrategyPrefix30},
		{length: prefixShortLength, strategy: StrategyPrefix20},
	} {
		candidates, err := s.teams.ListByPrefix(ctx, probe.normalized, rung.length)
		if err != nil {
			return TeamResolution{}, nil, false, fmt.Errorf("list teams by prefix %d of %q: %w", rung.length, probe.normalized, err)
		}
		if hit, ok := pickCandidate(probe, candidates, true); ok {
			return TeamResolution{TeamID: hit.ID, Strategy: rung.strategy}, nil, true, nil
		}
	}

	filter := team.SimilarityFilter{
		BirthYear: probe.birthYear,
		State:     probe.state,
		Threshold: s.similarityThreshold,
		Limit:     fuzzyCandidateCap,
	}
	if probe.gender != team.GenderUnknown {
		filter.Gender = probe.gender
	}
	scored, err := s.teams.ListSimilar(ctx, probe.normalized, filter)
	if err != nil {
		return TeamResolution{}, nil, false, fmt.Errorf("list similar teams for %q: %w", probe.normalized, err)
	}
	if len(scored) > 0 {
		winner := scored[0].Team
		alias := &team.Alias{
			AliasName: probe.normalized,
			TeamID:    winner.ID,
			Source:    team.AliasSourceFuzzyLearned,
		}

		return TeamResolution{TeamID: winner.ID, Strategy: StrategyFuzzy}, alias, true, nil
	}

	return TeamResolution{}, nil, false, nil
}

func (s *TeamResolverService) createMissing(ctx context.Context, probes map[string]teamProbe, missed []string) (map[string]TeamResolution, error) {
	byTeamKey := make(map[string][]string, len(missed))
	teams := make([]team.Team, 0, len(missed))
	for _, key := range missed {
		probe := probes[key]
		candidate := probe.newTeam()
		comparable := team.KeyOf(candidate).Comparable()
		if _, ok := byTeamKey[comparable]; !ok {
			teams = append(teams, candidate)
		}
		byTeamKey[comparable] = append(byTeamKey[comparable], key)
	}

	stored, err := s.teams.InsertMany(ctx, teams)
	if err != nil {
		return nil, fmt.Errorf("create canonical teams: %w", err)
	}

	out := make(map[string]TeamResolution, len(missed))
	for _, t := range stored {
		for _, key := range byTeamKey[team.KeyOf(t).Comparable()] {
			out[key] = TeamResolution{TeamID: t.ID, Strategy: StrategyCreated, Created: true}
		}
	}
	if len(out) != len(missed) {
		return nil, fmt.Errorf("create canonical teams: %d of %d keys missing after insert", len(missed)-len(out), len(missed))
	}
	s.logger.InfoContext(ctx, "created canonical teams", "count", len(stored))

	return out, nil
}

// teamProbe is one request after normalization and metadata derivation.
type teamProbe struct {
	rawName         string
	normalized      string
	birthYear       *int
	birthYearSource team.MetaSource
	gender          team.Gender
	genderSource    team.MetaSource
	state           *string
}

func buildTeamProbe(req TeamResolveRequest, seasonYear int) (teamProbe, bool) {
	normalized := teamname.Normalize(req.RawName)
	if normalized == "" {
		return teamProbe{}, false
	}

	probe := teamProbe{
		rawName:         req.RawName,
		normalized:      normalized,
		birthYearSource: team.MetaSourceUnknown,
		gender:          team.GenderUnknown,
		genderSource:    team.MetaSourceUnknown,
	}

	switch {
	case req.BirthYear != nil && validBirthYear(*req.BirthYear):
		probe.birthYear = req.BirthYear
		probe.birthYearSource = team.MetaSourceParsed
	default:
		if year, ok := teamname.ExtractBirthYear(req.RawName, seasonYear); ok && validBirthYear(year) {
			probe.birthYear = &year
			if teamname.HasExplicitYear(req.RawName) {
				probe.birthYearSource = team.MetaSourceParsed
			} else {
				probe.birthYearSource = team.MetaSourceInferred
			}
		}
	}

	switch {
	case req.Gender == team.GenderMale || req.Gender == team.GenderFemale:
		probe.gender = req.Gender
		probe.genderSource = team.MetaSourceParsed
	default:
		if marker, ok := teamname.ExtractGender(req.RawName); ok {
			probe.gender = team.ParseGender(marker)
			probe.genderSource = team.MetaSourceParsed
		}
	}

	if req.State != nil {
		state := strings.ToUpper(strings.TrimSpace(*req.State))
		if len(state) == 2 {
			probe.state = &state
		}
	}

	return probe, true
}

func (p teamProbe) newTeam() team.Team {
	display := teamname.FixDoublePrefix(strings.Join(strings.Fields(p.rawName), " "))
	if display == "" {
		display = p.normalized
	}

	return team.Team{
		CanonicalName:    p.normalized,
		DisplayName:      display,
		BirthYear:        p.birthYear,
		BirthYearSource:  p.birthYearSource,
		Gender:           p.gender,
		GenderSource:     p.genderSource,
		State:            p.state,
		EloRating:        team.DefaultEloRating,
		DataQualityScore: qualityScore(p),
	}
}

func qualityScore(p teamProbe) int {
	score := 0
	if p.birthYear != nil {
		score += 35
	}
	if p.gender != team.GenderUnknown {
		score += 35
	}
	if p.state != nil {
		score += 30
	}

	return score
}

func validBirthYear(year int) bool {
	return year >= 2000 && year <= 2020
}

// pickCandidate selects the best compatible candidate. With strictYears the
// probe and candidate must both lack a year or agree on it; otherwise a
// mismatch only disqualifies when both carry one. Ties go to the candidate
// with the most recorded matches, then the earliest creation.
func pickCandidate(probe teamProbe, candidates []team.Team, strictYears bool) (team.Team, bool) {
	var (
		best  team.Team
		found bool
	)
	for _, candidate := range candidates {
		if !yearsCompatible(probe.birthYear, candidate.BirthYear, strictYears) {
			continue
		}
		if probe.gender != team.GenderUnknown && candidate.Gender != team.GenderUnknown && probe.gender != candidate.Gender {
			continue
		}
		if !found || betterCandidate(candidate, best) {
			best = candidate
			found = true
		}
	}

	return best, found
}

func yearsCompatible(probe, candidate *int, strict bool) bool {
	if probe == nil && candidate == nil {
		return true
	}
	if probe != nil && candidate != nil {
		return *probe == *candidate
	}

	return !strict
}

func betterCandidate(a, b team.Team) bool {
	if a.MatchesPlayed != b.MatchesPlayed {
		return a.MatchesPlayed > b.MatchesPlayed
	}

	return a.CreatedAt.Before(b.CreatedAt)
}
