package engine

import (
	"context"
	"log"
	"math/rand"
	"os"
	"sync"
	"time"
)

// GovernorConfig configures a Governor. Zero values pick defaults.
type GovernorConfig struct {
	// MaxWritesPerMinute caps write calls within any rolling 60s window.
	MaxWritesPerMinute int
	// MinInterval is the minimum spacing between consecutive write calls.
	MinInterval time.Duration
	// MaxRetries bounds retries of quota-rejected writes.
	MaxRetries int
	// BaseDelay seeds the exponential backoff after a quota rejection.
	BaseDelay time.Duration
	// MaxDelay caps a single backoff sleep.
	MaxDelay time.Duration
	// BatchSize is the chunk size used by ExecuteBatch.
	BatchSize int

	Logger *log.Logger

	// Now and Sleep are injectable for tests. Sleep must honor ctx.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultGovernorConfig returns the production throttling parameters.
func DefaultGovernorConfig() GovernorConfig {
	return GovernorConfig{
		MaxWritesPerMinute: 55,
		MinInterval:        1100 * time.Millisecond,
		MaxRetries:         5,
		BaseDelay:          time.Second,
		MaxDelay:           30 * time.Second,
		BatchSize:          10,
	}
}

// GovernorStats are cumulative counters for one Governor instance.
type GovernorStats struct {
	Writes        int           `json:"writes"`
	Retries       int           `json:"retries"`
	QuotaHits     int           `json:"quota_hits"`
	ThrottleWaits int           `json:"throttle_waits"`
	TotalWaited   time.Duration `json:"total_waited"`
}

// Governor throttles and retries individual write calls against the remote
// store. It enforces the rolling per-minute cap and the minimum inter-write
// spacing, classifies quota rejections and retries them with exponential
// backoff plus jitter.
//
// A Governor is an explicit instance injected into the orchestrator; tests
// construct a fresh one per case. It is safe for concurrent use, though the
// engine issues writes sequentially to keep the single quota counter honest.
type Governor struct {
	cfg GovernorConfig

	mu       sync.Mutex
	issued   []time.Time // write calls issued in the rolling window
	lastCall time.Time
	stats    GovernorStats
}

// NewGovernor creates a Governor from cfg, filling unset fields with the
// defaults from DefaultGovernorConfig.
func NewGovernor(cfg GovernorConfig) *Governor {
	def := DefaultGovernorConfig()
	if cfg.MaxWritesPerMinute <= 0 {
		cfg.MaxWritesPerMinute = def.MaxWritesPerMinute
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = def.MinInterval
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[governor] ", log.LstdFlags)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	return &Governor{cfg: cfg}
}

// Stats returns a snapshot of the cumulative counters.
func (g *Governor) Stats() GovernorStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

// Execute runs one write operation under the throttling contract.
//
// Before each attempt (retries included) the rolling window and minimum
// spacing are enforced. Quota rejections are retried up to MaxRetries with
// exponential backoff and ±20% jitter capped at MaxDelay; the terminal
// failure is a *QuotaExhaustedError. Any other error propagates immediately.
func (g *Governor) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		if err := g.throttle(ctx); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			g.mu.Lock()
			g.stats.Writes++
			g.mu.Unlock()
			return nil
		}
		if !IsQuotaError(err) {
			return err
		}

		g.mu.Lock()
		g.stats.QuotaHits++
		exhausted := attempt >= g.cfg.MaxRetries
		if !exhausted {
			g.stats.Retries++
		}
		g.mu.Unlock()

		if exhausted {
			g.cfg.Logger.Printf("Quota retry budget exhausted after %d attempts: %v", attempt+1, err)
			return &QuotaExhaustedError{Attempts: attempt + 1, Err: err}
		}

		delay := g.backoff(attempt)
		g.cfg.Logger.Printf("Quota hit (attempt %d/%d), backing off %v", attempt+1, g.cfg.MaxRetries+1, delay)
		if err := g.wait(ctx, delay); err != nil {
			return err
		}
	}
}

// BatchError records a failed item of an ExecuteBatch run.
type BatchError struct {
	Index int
	Err   error
}

// BatchResult summarizes an ExecuteBatch run.
type BatchResult struct {
	Succeeded []int
	Errors    []BatchError
	// Halted is true when the remaining chunks were abandoned because one
	// item exhausted its quota-retry budget.
	Halted bool
}

// ExecuteBatch runs total items through Execute in fixed-size chunks,
// invoking progress after each chunk. A quota-exhausted item halts the
// remaining chunks (fail-fast: further attempts would burn quota for
// nothing); other per-item errors are recorded and the batch continues.
func (g *Governor) ExecuteBatch(ctx context.Context, total int, op func(ctx context.Context, i int) error, progress func(done, total int)) *BatchResult {
	result := &BatchResult{}
	size := g.cfg.BatchSize

	for start := 0; start < total; start += size {
		end := start + size
		if end > total {
			end = total
		}
		for i := start; i < end; i++ {
			err := g.Execute(ctx, func(ctx context.Context) error { return op(ctx, i) })
			if err == nil {
				result.Succeeded = append(result.Succeeded, i)
				continue
			}
			result.Errors = append(result.Errors, BatchError{Index: i, Err: err})
			if IsQuotaExhausted(err) || ctx.Err() != nil {
				result.Halted = true
				if progress != nil {
					progress(i+1, total)
				}
				return result
			}
		}
		if progress != nil {
			progress(end, total)
		}
	}
	return result
}

// throttle blocks until the next write call is allowed under the rolling
// cap and the minimum spacing. Waits are bounded: the window rolls over
// within 60s and spacing is at most MinInterval.
func (g *Governor) throttle(ctx context.Context) error {
	for {
		g.mu.Lock()
		now := g.cfg.Now()
		g.prune(now)

		var wait time.Duration
		if len(g.issued) >= g.cfg.MaxWritesPerMinute {
			wait = g.issued[0].Add(time.Minute).Sub(now)
		} else if !g.lastCall.IsZero() {
			if since := now.Sub(g.lastCall); since < g.cfg.MinInterval {
				wait = g.cfg.MinInterval - since
			}
		}

		if wait <= 0 {
			g.issued = append(g.issued, now)
			g.lastCall = now
			g.mu.Unlock()
			return nil
		}

		g.stats.ThrottleWaits++
		g.stats.TotalWaited += wait
		g.mu.Unlock()

		if err := g.cfg.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// prune drops issued-call timestamps older than the rolling window.
// Caller holds g.mu.
func (g *Governor) prune(now time.Time) {
	cutoff := now.Add(-time.Minute)
	keep := 0
	for _, t := range g.issued {
		if t.After(cutoff) {
			break
		}
		keep++
	}
	if keep > 0 {
		g.issued = g.issued[keep:]
	}
}

// backoff returns the sleep before retry attempt+1: BaseDelay doubled per
// attempt, ±20% jitter, capped at MaxDelay.
func (g *Governor) backoff(attempt int) time.Duration {
	delay := g.cfg.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= g.cfg.MaxDelay {
			delay = g.cfg.MaxDelay
			break
		}
	}
	jitter := 0.8 + 0.4*rand.Float64()
	delay = time.Duration(float64(delay) * jitter)
	if delay > g.cfg.MaxDelay {
		delay = g.cfg.MaxDelay
	}
	return delay
}

func (g *Governor) wait(ctx context.Context, d time.Duration) error {
	g.mu.Lock()
	g.stats.TotalWaited += d
	g.mu.Unlock()
	return g.cfg.Sleep(ctx, d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
