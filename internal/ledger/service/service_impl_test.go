package service

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/railpost/internal/clock"
	ledgerdomain "github.com/smallbiznis/railpost/internal/ledger/domain"
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
		&ledgerdomain.LedgerAccount{},
		&ledgerdomain.JournalEntry{},
		&ledgerdomain.JournalLine{},
	))
	return db
}

func newTestService(t *testing.T, db *gorm.DB) ledgerdomain.Service {
	t.Helper()
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	return NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)),
	})
}

func paymentEntries(amount string) []ledgerdomain.EntryInput {
	return []ledgerdomain.EntryInput{
		{AccountCode: ledgerdomain.AccountCodeCash, Direction: ledgerdomain.DirectionDebit, Amount: decimal.RequireFromString(amount), Currency: "USD", Description: "settlement"},
		{AccountCode: ledgerdomain.AccountCodeAccountsReceivable, Direction: ledgerdomain.DirectionCredit, Amount: decimal.RequireFromString(amount), Currency: "USD", Description: "settlement"},
	}
}

func TestPostJournalEntriesWritesBalancedSet(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	result, err := svc.PostJournalEntries(ctx, ledgerdomain.PostInput{
		Entries:        paymentEntries("100.25"),
		PaymentLinkID:  7,
		OrgID:          1,
		IdempotencyKey: "confirm:7:ref-1",
		CorrelationID:  "corr-1",
	})
	require.NoError(t, err)
	assert.False(t, result.AlreadyPosted)
	require.Len(t, result.Lines, 2)
	assert.Equal(t, "confirm:7:ref-1-0", result.Lines[0].IdempotencyKey)
	assert.Equal(t, "confirm:7:ref-1-1", result.Lines[1].IdempotencyKey)

	// Accounts were provisioned lazily for the tenant.
	var accounts []ledgerdomain.LedgerAccount
	require.NoError(t, db.Find(&accounts).Error)
	require.Len(t, accounts, 2)
	byCode := map[string]ledgerdomain.LedgerAccount{}
	for _, account := range accounts {
		byCode[account.Code] = account
	}
	assert.Equal(t, ledgerdomain.AccountTypeAsset, byCode[ledgerdomain.AccountCodeCash].AccountType)
	assert.Equal(t, ledgerdomain.AccountTypeAsset, byCode[ledgerdomain.AccountCodeAccountsReceivable].AccountType)
}

func TestPostJournalEntriesIdempotentReplay(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	input := ledgerdomain.PostInput{
		Entries:        paymentEntries("50"),
		PaymentLinkID:  8,
		OrgID:          1,
		IdempotencyKey: "confirm:8:ref-1",
	}

	first, err := svc.PostJournalEntries(ctx, input)
	require.NoError(t, err)
	require.False(t, first.AlreadyPosted)

	second, err := svc.PostJournalEntries(ctx, input)
	require.NoError(t, err)
	assert.True(t, second.AlreadyPosted, "replay is a no-op success, not an error")
	assert.Equal(t, first.EntryID, second.EntryID)
	require.Len(t, second.Lines, 2)

	var lineCount int64
	require.NoError(t, db.Model(&ledgerdomain.JournalLine{}).Count(&lineCount).Error)
	assert.EqualValues(t, 2, lineCount, "replay must not write additional lines")

	// The same key under another tenant is a distinct posting.
	input.OrgID = 2
	other, err := svc.PostJournalEntries(ctx, input)
	require.NoError(t, err)
	assert.False(t, other.AlreadyPosted)
}

func TestPostJournalEntriesRejectsUnbalancedBeforeWrite(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	_, err := svc.PostJournalEntries(ctx, ledgerdomain.PostInput{
		Entries: []ledgerdomain.EntryInput{
			{AccountCode: "cash", Direction: ledgerdomain.DirectionDebit, Amount: decimal.RequireFromString("100"), Currency: "USD"},
			{AccountCode: "accounts_receivable", Direction: ledgerdomain.DirectionCredit, Amount: decimal.RequireFromString("99.99"), Currency: "USD"},
		},
		OrgID:          1,
		IdempotencyKey: "confirm:9:ref-1",
	})
	require.ErrorIs(t, err, ledgerdomain.ErrUnbalancedEntries)

	var entryCount, lineCount int64
	require.NoError(t, db.Model(&ledgerdomain.JournalEntry{}).Count(&entryCount).Error)
	require.NoError(t, db.Model(&ledgerdomain.JournalLine{}).Count(&lineCount).Error)
	assert.Zero(t, entryCount, "no header row on a fatal balance violation")
	assert.Zero(t, lineCount, "no line rows on a fatal balance violation")
}

func TestPostJournalEntriesRejectsRandomUnbalancedSets(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 50; i++ {
		amount := decimal.NewFromInt(rng.Int63n(100000) + 1).Div(decimal.NewFromInt(100))
		// Skew one side so the set can never balance.
		skew := decimal.NewFromInt(rng.Int63n(9999) + 1).Div(decimal.NewFromInt(10000))
		entries := []ledgerdomain.EntryInput{
			{AccountCode: "cash", Direction: ledgerdomain.DirectionDebit, Amount: amount.Add(skew), Currency: "USD"},
			{AccountCode: "accounts_receivable", Direction: ledgerdomain.DirectionCredit, Amount: amount, Currency: "USD"},
		}
		_, err := svc.PostJournalEntries(ctx, ledgerdomain.PostInput{
			Entries:        entries,
			OrgID:          1,
			IdempotencyKey: fmt.Sprintf("unbalanced-%d", i),
		})
		require.ErrorIs(t, err, ledgerdomain.ErrUnbalancedEntries, "iteration %d", i)
	}

	var entryCount int64
	require.NoError(t, db.Model(&ledgerdomain.JournalEntry{}).Count(&entryCount).Error)
	assert.Zero(t, entryCount)
}

func TestPostJournalEntriesBalancesPerCurrency(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	// Balanced in aggregate but not per currency.
	_, err := svc.PostJournalEntries(ctx, ledgerdomain.PostInput{
		Entries: []ledgerdomain.EntryInput{
			{AccountCode: "cash", Direction: ledgerdomain.DirectionDebit, Amount: decimal.RequireFromString("100"), Currency: "USD"},
			{AccountCode: "accounts_receivable", Direction: ledgerdomain.DirectionCredit, Amount: decimal.RequireFromString("100"), Currency: "EUR"},
		},
		OrgID:          1,
		IdempotencyKey: "cross-currency",
	})
	require.ErrorIs(t, err, ledgerdomain.ErrUnbalancedEntries)

	// Two independently balanced currencies in one set are fine.
	result, err := svc.PostJournalEntries(ctx, ledgerdomain.PostInput{
		Entries: []ledgerdomain.EntryInput{
			{AccountCode: "cash", Direction: ledgerdomain.DirectionDebit, Amount: decimal.RequireFromString("100"), Currency: "USD"},
			{AccountCode: "accounts_receivable", Direction: ledgerdomain.DirectionCredit, Amount: decimal.RequireFromString("100"), Currency: "USD"},
			{AccountCode: "cash", Direction: ledgerdomain.DirectionDebit, Amount: decimal.RequireFromString("20"), Currency: "EUR"},
			{AccountCode: "accounts_receivable", Direction: ledgerdomain.DirectionCredit, Amount: decimal.RequireFromString("20"), Currency: "EUR"},
		},
		OrgID:          1,
		IdempotencyKey: "multi-currency",
	})
	require.NoError(t, err)
	assert.Len(t, result.Lines, 4)
}

func TestPostJournalEntriesValidation(t *testing.T) {
	svc := newTestService(t, newTestDB(t))
	ctx := context.Background()

	_, err := svc.PostJournalEntries(ctx, ledgerdomain.PostInput{
		Entries:        paymentEntries("10"),
		IdempotencyKey: "k",
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidOrganization)

	_, err = svc.PostJournalEntries(ctx, ledgerdomain.PostInput{
		Entries: paymentEntries("10"),
		OrgID:   1,
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidIdempotencyKey)

	_, err = svc.PostJournalEntries(ctx, ledgerdomain.PostInput{
		Entries:        paymentEntries("10")[:1],
		OrgID:          1,
		IdempotencyKey: "k",
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidEntryLines)

	bad := paymentEntries("10")
	bad[0].Direction = "SIDEWAYS"
	_, err = svc.PostJournalEntries(ctx, ledgerdomain.PostInput{
		Entries:        bad,
		OrgID:          1,
		IdempotencyKey: "k",
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidLineDirection)

	bad = paymentEntries("10")
	bad[0].Amount = decimal.RequireFromString("-10")
	_, err = svc.PostJournalEntries(ctx, ledgerdomain.PostInput{
		Entries:        bad,
		OrgID:          1,
		IdempotencyKey: "k",
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidLineAmount)
}
