package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/railpost/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) (*BreakerRegistry, *clock.FakeClock) {
	t.Helper()
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	return NewBreakerRegistry(5, 30*time.Second, clk, nil, nil), clk
}

func TestBreakerOpensAfterFiveConsecutiveFailures(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		registry.OnFailure(ctx, ProviderCardRail, "tenant-1", CategoryNetwork)
		assert.True(t, registry.Allow(ctx, ProviderCardRail, "tenant-1"))
	}

	registry.OnFailure(ctx, ProviderCardRail, "tenant-1", CategoryNetwork)

	state, count := registry.State(ProviderCardRail, "tenant-1")
	assert.Equal(t, BreakerOpen, state)
	assert.Equal(t, 5, count)
	assert.False(t, registry.Allow(ctx, ProviderCardRail, "tenant-1"))
}

func TestBreakerValidationFailuresNotCounted(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		registry.OnFailure(ctx, ProviderCardRail, "tenant-1", CategoryValidation)
	}

	state, count := registry.State(ProviderCardRail, "tenant-1")
	assert.Equal(t, BreakerClosed, state)
	assert.Zero(t, count)
	assert.True(t, registry.Allow(ctx, ProviderCardRail, "tenant-1"))
}

func TestBreakerSuccessResets(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	registry.OnFailure(ctx, ProviderCardRail, "tenant-1", CategoryNetwork)
	registry.OnFailure(ctx, ProviderCardRail, "tenant-1", CategoryTimeout)
	registry.OnSuccess(ctx, ProviderCardRail, "tenant-1")

	state, count := registry.State(ProviderCardRail, "tenant-1")
	assert.Equal(t, BreakerClosed, state)
	assert.Zero(t, count)
}

func TestBreakerScopesAreIndependent(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		registry.OnFailure(ctx, ProviderCardRail, "tenant-1", CategoryNetwork)
	}

	assert.False(t, registry.Allow(ctx, ProviderCardRail, "tenant-1"))
	assert.True(t, registry.Allow(ctx, ProviderCardRail, "tenant-2"),
		"a second tenant's breaker for the same provider must stay closed")
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	registry, clk := newTestRegistry(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		registry.OnFailure(ctx, ProviderLedgerRail, "tenant-1", CategoryServerError)
	}
	require.False(t, registry.Allow(ctx, ProviderLedgerRail, "tenant-1"))

	clk.Advance(31 * time.Second)

	// One probe is admitted; a concurrent caller is not.
	assert.True(t, registry.Allow(ctx, ProviderLedgerRail, "tenant-1"))
	assert.False(t, registry.Allow(ctx, ProviderLedgerRail, "tenant-1"))

	registry.OnSuccess(ctx, ProviderLedgerRail, "tenant-1")

	state, count := registry.State(ProviderLedgerRail, "tenant-1")
	assert.Equal(t, BreakerClosed, state)
	assert.Zero(t, count)
	assert.True(t, registry.Allow(ctx, ProviderLedgerRail, "tenant-1"))
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	registry, clk := newTestRegistry(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		registry.OnFailure(ctx, ProviderLedgerRail, "tenant-1", CategoryNetwork)
	}

	clk.Advance(31 * time.Second)
	require.True(t, registry.Allow(ctx, ProviderLedgerRail, "tenant-1"))

	registry.OnFailure(ctx, ProviderLedgerRail, "tenant-1", CategoryNetwork)

	state, _ := registry.State(ProviderLedgerRail, "tenant-1")
	assert.Equal(t, BreakerOpen, state)
	assert.False(t, registry.Allow(ctx, ProviderLedgerRail, "tenant-1"),
		"reopened breaker must block until the next cooldown")

	clk.Advance(31 * time.Second)
	assert.True(t, registry.Allow(ctx, ProviderLedgerRail, "tenant-1"))
}
