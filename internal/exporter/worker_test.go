package exporter

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/railpost/internal/clock"
	"github.com/smallbiznis/railpost/internal/config"
	ledgerdomain "github.com/smallbiznis/railpost/internal/ledger/domain"
	ledgerservice "github.com/smallbiznis/railpost/internal/ledger/service"
	"github.com/smallbiznis/railpost/internal/providers/acctsync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubPusher struct {
	pushes []acctsync.JournalPush
	err    error
}

func (s *stubPusher) PushJournal(_ context.Context, _ string, push acctsync.JournalPush) error {
	if s.err != nil {
		return s.err
	}
	s.pushes = append(s.pushes, push)
	return nil
}

func newExporterFixture(t *testing.T, pusher Pusher) (*Worker, ledgerdomain.Service, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&ledgerdomain.LedgerAccount{},
		&ledgerdomain.JournalEntry{},
		&ledgerdomain.JournalLine{},
	))

	node, err := snowflake.NewNode(6)
	require.NoError(t, err)
	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)),
	})
	worker := NewWorker(Params{
		Log:    zap.NewNop(),
		Cfg:    config.Config{SweepInterval: time.Minute, SweepBatchSize: 10},
		Ledger: ledgerSvc,
		Pusher: pusher,
	})
	return worker, ledgerSvc, db
}

func post(t *testing.T, svc ledgerdomain.Service, key string) {
	t.Helper()
	_, err := svc.PostJournalEntries(context.Background(), ledgerdomain.PostInput{
		Entries: []ledgerdomain.EntryInput{
			{AccountCode: ledgerdomain.AccountCodeCash, Direction: ledgerdomain.DirectionDebit, Amount: decimal.RequireFromString("10"), Currency: "USD"},
			{AccountCode: ledgerdomain.AccountCodeAccountsReceivable, Direction: ledgerdomain.DirectionCredit, Amount: decimal.RequireFromString("10"), Currency: "USD"},
		},
		OrgID:          1,
		IdempotencyKey: key,
	})
	require.NoError(t, err)
}

func TestRunOnceExportsPostedEntries(t *testing.T) {
	pusher := &stubPusher{}
	worker, ledgerSvc, db := newExporterFixture(t, pusher)
	ctx := context.Background()

	post(t, ledgerSvc, "confirm:1:ref-1")
	post(t, ledgerSvc, "confirm:2:ref-1")

	exported, err := worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, exported)
	require.Len(t, pusher.pushes, 2)
	assert.Equal(t, "confirm:1:ref-1", pusher.pushes[0].ExternalID)
	require.Len(t, pusher.pushes[0].Lines, 2)
	assert.Equal(t, ledgerdomain.AccountCodeCash, pusher.pushes[0].Lines[0].AccountCode)

	var remaining int64
	require.NoError(t, db.Model(&ledgerdomain.JournalEntry{}).
		Where("exported_at IS NULL").Count(&remaining).Error)
	assert.Zero(t, remaining)

	// Nothing left to export.
	exported, err = worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, exported)
}

func TestRunOnceRetriesFailedPushes(t *testing.T) {
	pusher := &stubPusher{err: errors.New("provider down")}
	worker, ledgerSvc, _ := newExporterFixture(t, pusher)
	ctx := context.Background()

	post(t, ledgerSvc, "confirm:1:ref-1")

	exported, err := worker.RunOnce(ctx)
	require.NoError(t, err, "a failing entry is skipped, not fatal")
	assert.Zero(t, exported)

	// Provider recovers: the entry is still pending and goes out.
	pusher.err = nil
	exported, err = worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, exported)
}
