package rates

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubSource struct {
	rate  decimal.Decimal
	err   error
	calls int
}

func (s *stubSource) Rate(_ context.Context, _, _ string) (decimal.Decimal, error) {
	s.calls++
	if s.err != nil {
		return decimal.Decimal{}, s.err
	}
	return s.rate, nil
}

func TestChainUsesPrimaryFirst(t *testing.T) {
	primary := &stubSource{rate: decimal.RequireFromString("1.25")}
	fallback := &stubSource{rate: decimal.RequireFromString("1.30")}
	chain := NewChain(zap.NewNop(), primary, fallback)

	rate, err := chain.Rate(context.Background(), "EUR", "USD")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("1.25")))
	assert.Equal(t, 1, primary.calls)
	assert.Zero(t, fallback.calls)
}

func TestChainFallsBack(t *testing.T) {
	primary := &stubSource{err: errors.New("primary down")}
	fallback := &stubSource{rate: decimal.RequireFromString("1.30")}
	chain := NewChain(zap.NewNop(), primary, fallback)

	rate, err := chain.Rate(context.Background(), "EUR", "USD")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("1.30")))
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, fallback.calls)
}

func TestChainSurfacesLastError(t *testing.T) {
	down := errors.New("down")
	chain := NewChain(zap.NewNop(), &stubSource{err: errors.New("first")}, &stubSource{err: down})

	_, err := chain.Rate(context.Background(), "EUR", "USD")
	assert.ErrorIs(t, err, down)

	_, err = NewChain(zap.NewNop()).Rate(context.Background(), "EUR", "USD")
	assert.Error(t, err)
}
