package sources

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Registry holds the known source adapters keyed by id. Registration is
// done once at startup; lookups afterwards are read-only.
type Registry struct {
	validate *validator.Validate
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{
		validate: validator.New(),
		adapters: make(map[string]Adapter),
	}
}

// Register validates and stores an adapter descriptor.
func (r *Registry) Register(ctx context.Context, adapter Adapter) error {
	if err := r.validate.StructCtx(ctx, adapter); err != nil {
		return fmt.Errorf("validate adapter %q: %w", adapter.ID, err)
	}
	if err := checkDescriptor(adapter); err != nil {
		return fmt.Errorf("validate adapter %q: %w", adapter.ID, err)
	}
	if _, exists := r.adapters[adapter.ID]; exists {
		return fmt.Errorf("adapter %q already registered", adapter.ID)
	}

	r.adapters[adapter.ID] = adapter

	return nil
}

// DefaultRegistry registers every adapter this binary ships.
func DefaultRegistry(ctx context.Context) (*Registry, error) {
	registry := NewRegistry()
	for _, adapter := range []Adapter{NewGotSportAdapter(), NewPlayMetricsAdapter()} {
		if err := registry.Register(ctx, adapter); err != nil {
			return nil, err
		}
	}

	return registry, nil
}

// Get returns the adapter registered under id.
func (r *Registry) Get(id string) (Adapter, bool) {
	adapter, ok := r.adapters[strings.ToLower(strings.TrimSpace(id))]

	return adapter, ok
}

// IDs returns the registered adapter ids, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}

// checkDescriptor covers the adapter rules struct tags cannot express.
func checkDescriptor(adapter Adapter) error {
	limits := adapter.RateLimits
	if limits.MaxDelay > 0 && limits.MaxDelay < limits.MinDelay {
		return fmt.Errorf("max delay below min delay")
	}
	for i := 1; i < len(limits.RetryLadder); i++ {
		if limits.RetryLadder[i] < limits.RetryLadder[i-1] {
			return fmt.Errorf("retry ladder must not decrease")
		}
	}
	if limits.MaxRetries > 0 && len(limits.RetryLadder) == 0 {
		return fmt.Errorf("retry ladder required when max retries is set")
	}

	if len(adapter.Discovery.Static) == 0 && adapter.Discovery.Discover == nil {
		return fmt.Errorf("adapter needs a static event list or a discovery callback")
	}
	for _, ev := range adapter.Discovery.Static {
		if strings.TrimSpace(ev.ID) == "" {
			return fmt.Errorf("static event with empty id")
		}
	}

	for name, pattern := range adapter.Endpoints {
		if !strings.HasPrefix(pattern, "http://") && !strings.HasPrefix(pattern, "https://") {
			return fmt.Errorf("endpoint %q must be an absolute url", name)
		}
	}

	if adapter.Policy.MaxEventsPerRun < 0 {
		return fmt.Errorf("max events per run must not be negative")
	}

	return nil
}
