package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/railpost/internal/clock"
	eventdomain "github.com/smallbiznis/railpost/internal/paymentevent/domain"
	eventrepo "github.com/smallbiznis/railpost/internal/paymentevent/repository"
	"github.com/smallbiznis/railpost/internal/paymentlink/domain"
	"github.com/smallbiznis/railpost/internal/paymentlink/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&domain.PaymentLink{},
		&eventdomain.PaymentEvent{},
	))
	return db
}

func newTestService(t *testing.T, db *gorm.DB, clk clock.Clock) domain.Service {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewService(Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     clk,
		Repo:      repository.Provide(),
		EventRepo: eventrepo.Provide(),
	})
}

func openLink(t *testing.T, svc domain.Service, clk *clock.FakeClock, ttl time.Duration) *domain.PaymentLink {
	t.Helper()
	link, err := svc.Create(context.Background(), domain.CreateInput{
		OrgID:       1,
		Amount:      decimal.RequireFromString("100"),
		Currency:    "usd",
		Description: "consulting invoice",
		ExpiresAt:   clk.Now().Add(ttl),
	})
	require.NoError(t, err)
	link, err = svc.Activate(context.Background(), link.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusOpen, link.Status)
	return link
}

func TestCreateValidation(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	svc := newTestService(t, db, clk)
	ctx := context.Background()

	_, err := svc.Create(ctx, domain.CreateInput{
		OrgID: 1, Amount: decimal.Zero, Currency: "USD", ExpiresAt: clk.Now().Add(time.Hour),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = svc.Create(ctx, domain.CreateInput{
		OrgID: 1, Amount: decimal.NewFromInt(10), Currency: " ", ExpiresAt: clk.Now().Add(time.Hour),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidCurrency)

	_, err = svc.Create(ctx, domain.CreateInput{
		OrgID: 1, Amount: decimal.NewFromInt(10), Currency: "USD", ExpiresAt: clk.Now().Add(-time.Hour),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidExpiry)

	link, err := svc.Create(ctx, domain.CreateInput{
		OrgID: 1, Amount: decimal.NewFromInt(10), Currency: "usd", ExpiresAt: clk.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, link.Status)
	assert.Equal(t, "USD", link.Currency)
}

func TestTransitionGuards(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	svc := newTestService(t, db, clk)
	ctx := context.Background()

	link, err := svc.Create(ctx, domain.CreateInput{
		OrgID: 1, Amount: decimal.NewFromInt(10), Currency: "USD", ExpiresAt: clk.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	// DRAFT cannot be canceled, only activated.
	_, err = svc.Cancel(ctx, link.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	link, err = svc.Activate(ctx, link.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOpen, link.Status)

	_, err = svc.Activate(ctx, link.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	link, err = svc.Cancel(ctx, link.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCanceled, link.Status)

	// CANCELED is terminal.
	_, err = svc.Cancel(ctx, link.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = svc.Get(ctx, 424242)
	assert.ErrorIs(t, err, domain.ErrLinkNotFound)
}

func TestExpireIfDueExactlyOnce(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	svc := newTestService(t, db, clk)
	ctx := context.Background()

	link := openLink(t, svc, clk, time.Hour)

	// Not due yet.
	expired, err := svc.ExpireIfDue(ctx, link.ID)
	require.NoError(t, err)
	assert.False(t, expired)

	clk.Advance(2 * time.Hour)

	expired, err = svc.ExpireIfDue(ctx, link.ID)
	require.NoError(t, err)
	assert.True(t, expired)

	got, err := svc.Get(ctx, link.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, got.Status)

	// Re-reading never expires twice or creates a second event.
	expired, err = svc.ExpireIfDue(ctx, link.ID)
	require.NoError(t, err)
	assert.False(t, expired)

	count, err := svc.ExpireDueBatch(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, count, "sweep after lazy expire must be a no-op")

	var events int64
	require.NoError(t, db.Model(&eventdomain.PaymentEvent{}).
		Where("payment_link_id = ? AND event_type = ?", link.ID, eventdomain.EventTypeExpired).
		Count(&events).Error)
	assert.EqualValues(t, 1, events)
}

func TestExpireDueBatch(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	svc := newTestService(t, db, clk)
	ctx := context.Background()

	due1 := openLink(t, svc, clk, time.Minute)
	due2 := openLink(t, svc, clk, 2*time.Minute)
	notDue := openLink(t, svc, clk, 24*time.Hour)

	clk.Advance(time.Hour)

	count, err := svc.ExpireDueBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	for _, id := range []snowflake.ID{due1.ID, due2.ID} {
		got, err := svc.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusExpired, got.Status)
	}

	got, err := svc.Get(ctx, notDue.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOpen, got.Status)

	// Lazy check after the sweep finds nothing left to do.
	expired, err := svc.ExpireIfDue(ctx, due1.ID)
	require.NoError(t, err)
	assert.False(t, expired)
}

func TestMarkPaidTxGuarded(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	svc := newTestService(t, db, clk)
	ctx := context.Background()

	link := openLink(t, svc, clk, time.Hour)

	paid, err := svc.MarkPaidTx(ctx, db, link.ID)
	require.NoError(t, err)
	assert.True(t, paid)

	// A second confirmation loses the guarded update.
	paid, err = svc.MarkPaidTx(ctx, db, link.ID)
	require.NoError(t, err)
	assert.False(t, paid)
}
