package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/touchlinehq/touchline/internal/domain/staging"
)

// StagingStandingRepository keeps raw scraped standings rows in memory.
type StagingStandingRepository struct {
	mu        sync.RWMutex
	nextID    int64
	standings map[int64]staging.Standing
	now       func() time.Time
}

func NewStagingStandingRepository() *StagingStandingRepository {
	return &StagingStandingRepository{
		standings: make(map[int64]staging.Standing),
		now:       time.Now,
	}
}

func (r *StagingStandingRepository) unprocessedRowTakenLocked(s staging.Standing) bool {
	for _, existing := range r.standings {
		if existing.Processed {
			continue
		}
		if existing.SourcePlatform == s.SourcePlatform &&
			existing.EventID == s.EventID &&
			existing.Division == s.Division &&
			existing.TeamName == s.TeamName {
			return true
		}
	}

	return false
}

func (r *StagingStandingRepository) InsertMany(_ context.Context, standings []staging.Standing) (int64, error) {
	for _, standing := range standings {
		if err := standing.Validate(); err != nil {
			return 0, fmt.Errorf("validate staging standing team=%s: %w", standing.TeamName, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var written int64
	for _, standing := range standings {
		if r.unprocessedRowTakenLocked(standing) {
			continue
		}

		r.nextID++
		standing.ID = r.nextID
		standing.Processed = false
		standing.ProcessedAt = nil
		standing.ErrorMessage = nil
		if standing.RawData == "" {
			standing.RawData = "{}"
		}
		if standing.ScrapedAt.IsZero() {
			standing.ScrapedAt = r.now().UTC()
		}
		r.standings[standing.ID] = standing
		written++
	}

	return written, nil
}

func (r *StagingStandingRepository) ListUnprocessed(_ context.Context, limit int) ([]staging.Standing, error) {
	if limit <= 0 {
		limit = 1000
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []staging.Standing
	for _, s := range r.standings {
		if !s.Processed {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScrapedAt.Equal(out[j].ScrapedAt) {
			return out[i].ScrapedAt.Before(out[j].ScrapedAt)
		}

		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

func (r *StagingStandingRepository) MarkProcessed(_ context.Context, outcomes []staging.ProcessOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	for _, outcome := range outcomes {
		s, ok := r.standings[outcome.ID]
		if !ok {
			continue
		}
		s.Processed = true
		processedAt := now
		s.ProcessedAt = &processedAt
		s.ErrorMessage = nil
		if outcome.ErrorMessage != "" {
			msg := outcome.ErrorMessage
			s.ErrorMessage = &msg
		}
		r.standings[s.ID] = s
	}

	return nil
}

func (r *StagingStandingRepository) CountUnprocessed(_ context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var count int64
	for _, s := range r.standings {
		if !s.Processed {
			count++
		}
	}

	return count, nil
}
