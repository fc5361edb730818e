package sweeper

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/railpost/internal/clock"
	"github.com/smallbiznis/railpost/internal/config"
	eventdomain "github.com/smallbiznis/railpost/internal/paymentevent/domain"
	eventrepo "github.com/smallbiznis/railpost/internal/paymentevent/repository"
	linkdomain "github.com/smallbiznis/railpost/internal/paymentlink/domain"
	linkrepo "github.com/smallbiznis/railpost/internal/paymentlink/repository"
	linkservice "github.com/smallbiznis/railpost/internal/paymentlink/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newWorkerFixture(t *testing.T, batchSize int) (*Worker, linkdomain.Service, *clock.FakeClock, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&linkdomain.PaymentLink{}, &eventdomain.PaymentEvent{}))

	node, err := snowflake.NewNode(5)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	linkSvc := linkservice.NewService(linkservice.Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     clk,
		Repo:      linkrepo.Provide(),
		EventRepo: eventrepo.Provide(),
	})
	worker := NewWorker(Params{
		Log:     zap.NewNop(),
		Cfg:     config.Config{SweepInterval: time.Minute, SweepBatchSize: batchSize},
		LinkSvc: linkSvc,
	})
	return worker, linkSvc, clk, db
}

func TestRunOnceDrainsBacklog(t *testing.T) {
	worker, linkSvc, clk, db := newWorkerFixture(t, 2)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		link, err := linkSvc.Create(ctx, linkdomain.CreateInput{
			OrgID:     1,
			Amount:    decimal.RequireFromString("10"),
			Currency:  "USD",
			ExpiresAt: clk.Now().Add(time.Minute),
		})
		require.NoError(t, err)
		_, err = linkSvc.Activate(ctx, link.ID)
		require.NoError(t, err)
	}
	// One link is still fresh and must survive the sweep.
	fresh, err := linkSvc.Create(ctx, linkdomain.CreateInput{
		OrgID:     1,
		Amount:    decimal.RequireFromString("10"),
		Currency:  "USD",
		ExpiresAt: clk.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	_, err = linkSvc.Activate(ctx, fresh.ID)
	require.NoError(t, err)

	clk.Advance(2 * time.Minute)
	require.NoError(t, worker.RunOnce(ctx))

	var expired int64
	require.NoError(t, db.Model(&linkdomain.PaymentLink{}).
		Where("status = ?", linkdomain.StatusExpired).Count(&expired).Error)
	assert.EqualValues(t, 5, expired, "a batch smaller than the backlog still drains it")

	link, err := linkSvc.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, linkdomain.StatusOpen, link.Status)

	// Sweep again: nothing left, and no duplicate EXPIRED events appear.
	require.NoError(t, worker.RunOnce(ctx))
	var events int64
	require.NoError(t, db.Model(&eventdomain.PaymentEvent{}).
		Where("event_type = ?", eventdomain.EventTypeExpired).Count(&events).Error)
	assert.EqualValues(t, 5, events)
}
