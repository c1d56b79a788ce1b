package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/touchlinehq/touchline/internal/domain/staging"
)

// StagingEventRepository keeps raw scraped event sightings in memory.
type StagingEventRepository struct {
	mu     sync.RWMutex
	nextID int64
	events map[int64]staging.Event
	now    func() time.Time
}

func NewStagingEventRepository() *StagingEventRepository {
	return &StagingEventRepository{
		events: make(map[int64]staging.Event),
		now:    time.Now,
	}
}

func (r *StagingEventRepository) sightedLocked(platform, sourceEventID string) bool {
	for _, e := range r.events {
		if e.SourcePlatform == platform && e.SourceEventID == sourceEventID {
			return true
		}
	}

	return false
}

func (r *StagingEventRepository) InsertMany(_ context.Context, events []staging.Event) (int64, error) {
	for _, evt := range events {
		if err := evt.Validate(); err != nil {
			return 0, fmt.Errorf("validate staging event id=%s: %w", evt.SourceEventID, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var written int64
	for _, evt := range events {
		if r.sightedLocked(evt.SourcePlatform, evt.SourceEventID) {
			continue
		}

		r.nextID++
		evt.ID = r.nextID
		if evt.RawData == "" {
			evt.RawData = "{}"
		}
		if evt.ScrapedAt.IsZero() {
			evt.ScrapedAt = r.now().UTC()
		}
		r.events[evt.ID] = evt
		written++
	}

	return written, nil
}
