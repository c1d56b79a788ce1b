package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/touchlinehq/touchline/internal/domain/staging"
)

// StagingGameRepository keeps raw scraped game rows in memory. Rows are
// append-only; only the processed flag and its companions ever change.
type StagingGameRepository struct {
	mu     sync.RWMutex
	nextID int64
	games  map[int64]staging.Game
	now    func() time.Time
}

func NewStagingGameRepository() *StagingGameRepository {
	return &StagingGameRepository{
		games: make(map[int64]staging.Game),
		now:   time.Now,
	}
}

func (r *StagingGameRepository) unprocessedKeyTakenLocked(key string) bool {
	for _, g := range r.games {
		if !g.Processed && g.SourceMatchKey == key {
			return true
		}
	}

	return false
}

func (r *StagingGameRepository) InsertMany(_ context.Context, games []staging.Game) (int64, error) {
	for _, game := range games {
		if err := game.Validate(); err != nil {
			return 0, fmt.Errorf("validate staging game key=%s: %w", game.SourceMatchKey, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var written int64
	for _, game := range games {
		// A key already waiting for promotion blocks the duplicate; a
		// processed key admits a fresh row, which is how score
		// corrections reach production.
		if r.unprocessedKeyTakenLocked(game.SourceMatchKey) {
			continue
		}

		r.nextID++
		game.ID = r.nextID
		game.Processed = false
		game.ProcessedAt = nil
		game.ErrorMessage = nil
		if game.RawData == "" {
			game.RawData = "{}"
		}
		if game.ScrapedAt.IsZero() {
			game.ScrapedAt = r.now().UTC()
		}
		r.games[game.ID] = game
		written++
	}

	return written, nil
}

func (r *StagingGameRepository) ListUnprocessed(_ context.Context, limit int) ([]staging.Game, error) {
	if limit <= 0 {
		limit = 1000
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []staging.Game
	for _, g := range r.games {
		if !g.Processed {
			out = append(out, g)
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

func (r *StagingGameRepository) MarkProcessed(_ context.Context, outcomes []staging.ProcessOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	for _, outcome := range outcomes {
		g, ok := r.games[outcome.ID]
		if !ok {
			continue
		}
		g.Processed = true
		processedAt := now
		g.ProcessedAt = &processedAt
		g.ErrorMessage = nil
		if outcome.ErrorMessage != "" {
			msg := outcome.ErrorMessage
			g.ErrorMessage = &msg
		}
		r.games[g.ID] = g
	}

	return nil
}

func (r *StagingGameRepository) CountUnprocessed(_ context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var count int64
	for _, g := range r.games {
		if !g.Processed {
			count++
		}
	}

	return count, nil
}

func (r *StagingGameRepository) StreamAll(_ context.Context, batchSize int, fn func(games []staging.Game) error) error {
	if batchSize <= 0 {
		batchSize = 1000
	}

	r.mu.RLock()
	all := make([]staging.Game, 0, len(r.games))
	for _, g := range r.games {
		all = append(all, g)
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	for start := 0; start < len(all); start += batchSize {
		end := start + batchSize
		if end > len(all) {
			end = len(all)
		}
		if err := fn(all[start:end]); err != nil {
			return err
		}
	}

	return nil
}

func (r *StagingGameRepository) DistinctSourceKeys(_ context.Context) (map[string]struct{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]struct{})
	for _, g := range r.games {
		if g.SourceMatchKey != "" {
			out[g.SourceMatchKey] = struct{}{}
		}
	}

	return out, nil
}
