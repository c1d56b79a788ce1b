package fetch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultMinDelay   = 250 * time.Millisecond
	defaultMaxBackoff = 60 * time.Second

	// successes required before the controller relaxes the backoff
	successesBeforeRelax = 10
)

// Limits carries the per-source pacing contract. MaxDelay caps the reactive
// backoff; MinDelay is its floor and the initial value.
type Limits struct {
	MinDelay      time.Duration
	MaxDelay      time.Duration
	BetweenEvents time.Duration
	MaxRetries    int
	RetryLadder   []time.Duration
	CooldownOn429 time.Duration
	CooldownOn5xx time.Duration
}

func NormalizeLimits(l Limits) Limits {
	if l.MinDelay <= 0 {
		l.MinDelay = defaultMinDelay
	}
	if l.MaxDelay <= 0 {
		l.MaxDelay = defaultMaxBackoff
	}
	if l.MaxDelay < l.MinDelay {
		l.MaxDelay = l.MinDelay
	}
	if l.MaxRetries < 0 {
		l.MaxRetries = 0
	}
	if l.CooldownOn429 <= 0 {
		l.CooldownOn429 = l.MinDelay
	}
	if l.CooldownOn5xx <= 0 {
		l.CooldownOn5xx = l.MinDelay
	}
	return l
}

// RateController holds the shared reactive backoff of one scrape run. All
// workers pace through the same controller; updates are short and guarded
// by a mutex, the waiting itself happens on the embedded token bucket.
type RateController struct {
	mu      sync.Mutex
	limits  Limits
	limiter *rate.Limiter

	backoff       time.Duration
	consecutiveOK int
	rateLimitHits int
	serverErrors  int
}

func NewRateController(limits Limits) *RateController {
	limits = NormalizeLimits(limits)
	return &RateController{
		limits:  limits,
		limiter: rate.NewLimiter(rate.Every(limits.MinDelay), 1),
		backoff: limits.MinDelay,
	}
}

// Wait blocks until the next request slot opens or ctx is done.
func (c *RateController) Wait(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}

// OnRateLimited doubles the backoff (capped) and returns the cooldown the
// caller must sleep before retrying.
func (c *RateController) OnRateLimited() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rateLimitHits++
	c.consecutiveOK = 0

	next := c.backoff * 2
	if next > c.limits.MaxDelay {
		next = c.limits.MaxDelay
	}
	c.setBackoffLocked(next)

	return c.limits.CooldownOn429
}

// OnServerError resets the success streak and returns the 5xx cooldown.
func (c *RateController) OnServerError() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.serverErrors++
	c.consecutiveOK = 0
	return c.limits.CooldownOn5xx
}

// OnSuccess relaxes the backoff once enough consecutive requests succeed.
func (c *RateController) OnSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveOK++
	if c.consecutiveOK < successesBeforeRelax {
		return
	}
	c.consecutiveOK = 0

	next := c.backoff / 2
	if next < c.limits.MinDelay {
		next = c.limits.MinDelay
	}
	c.setBackoffLocked(next)
}

func (c *RateController) setBackoffLocked(next time.Duration) {
	if next == c.backoff {
		return
	}
	c.backoff = next
	c.limiter.SetLimit(rate.Every(next))
}

func (c *RateController) Backoff() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backoff
}

func (c *RateController) Limits() Limits {
	return c.limits
}

// Stats is a point-in-time snapshot for run summaries.
type Stats struct {
	Backoff       time.Duration
	RateLimitHits int
	ServerErrors  int
}

func (c *RateController) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Backoff:       c.backoff,
		RateLimitHits: c.rateLimitHits,
		ServerErrors:  c.serverErrors,
	}
}
