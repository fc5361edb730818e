package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/smallbiznis/railpost/internal/clock"
	obsmetrics "github.com/smallbiznis/railpost/internal/observability/metrics"
	"go.uber.org/zap"
)

type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// Breakers is the circuit breaker surface. The in-process registry is the
// default; the interface exists so state can be externalized to a shared
// store without changing transition semantics.
type Breakers interface {
	Allow(ctx context.Context, provider, scope string) bool
	OnSuccess(ctx context.Context, provider, scope string)
	OnFailure(ctx context.Context, provider, scope string, category Category)
}

type breakerKey struct {
	provider string
	scope    string
}

type breaker struct {
	state        BreakerState
	failureCount int
	openedAt     time.Time
	probing      bool
}

// BreakerRegistry tracks breaker state per (provider, scope). Scope is
// typically the tenant, so one tenant's outage cannot block another
// tenant's calls to the same provider.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[breakerKey]*breaker

	threshold int
	cooldown  time.Duration
	clk       clock.Clock
	log       *zap.Logger
	metrics   *obsmetrics.Metrics
}

func NewBreakerRegistry(threshold int, cooldown time.Duration, clk clock.Clock, log *zap.Logger, metrics *obsmetrics.Metrics) *BreakerRegistry {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &BreakerRegistry{
		breakers:  make(map[breakerKey]*breaker),
		threshold: threshold,
		cooldown:  cooldown,
		clk:       clk,
		log:       log.Named("resilience.breaker"),
		metrics:   metrics,
	}
}

func (r *BreakerRegistry) get(provider, scope string) *breaker {
	key := breakerKey{provider: provider, scope: scope}
	b, ok := r.breakers[key]
	if !ok {
		b = &breaker{state: BreakerClosed}
		r.breakers[key] = b
	}
	return b
}

// Allow reports whether a call may proceed. An open breaker admits a single
// half-open probe once the cooldown has elapsed.
func (r *BreakerRegistry) Allow(ctx context.Context, provider, scope string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.get(provider, scope)
	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if r.clk.Now().Sub(b.openedAt) < r.cooldown {
			return false
		}
		b.state = BreakerHalfOpen
		b.probing = true
		r.recordTransition(ctx, provider, BreakerHalfOpen)
		return true
	case BreakerHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return true
	}
}

func (r *BreakerRegistry) OnSuccess(ctx context.Context, provider, scope string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.get(provider, scope)
	if b.state != BreakerClosed {
		r.recordTransition(ctx, provider, BreakerClosed)
	}
	b.state = BreakerClosed
	b.failureCount = 0
	b.probing = false
}

func (r *BreakerRegistry) OnFailure(ctx context.Context, provider, scope string, category Category) {
	if !category.CountsTowardBreaker() {
		// Caller mistakes do not open the circuit, but a failed half-open
		// probe slot must be handed back so the next probe can run.
		r.mu.Lock()
		b := r.get(provider, scope)
		b.probing = false
		r.mu.Unlock()
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.get(provider, scope)
	switch b.state {
	case BreakerHalfOpen:
		b.state = BreakerOpen
		b.openedAt = r.clk.Now()
		b.probing = false
		r.recordTransition(ctx, provider, BreakerOpen)
		r.log.Warn("half-open probe failed, reopening breaker",
			zap.String("provider", provider), zap.String("scope", scope))
	case BreakerClosed:
		b.failureCount++
		if b.failureCount >= r.threshold {
			b.state = BreakerOpen
			b.openedAt = r.clk.Now()
			r.recordTransition(ctx, provider, BreakerOpen)
			r.log.Warn("breaker opened",
				zap.String("provider", provider),
				zap.String("scope", scope),
				zap.Int("failures", b.failureCount))
		}
	}
}

// State returns the current state and failure count, for operational
// tooling and tests.
func (r *BreakerRegistry) State(provider, scope string) (BreakerState, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.get(provider, scope)
	return b.state, b.failureCount
}

func (r *BreakerRegistry) recordTransition(ctx context.Context, provider string, state BreakerState) {
	if r.metrics != nil {
		r.metrics.RecordBreakerTransition(ctx, provider, string(state))
	}
}
