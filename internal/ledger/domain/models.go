package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Direction represents debit or credit postings.
type Direction string

const (
	DirectionDebit  Direction = "DEBIT"
	DirectionCredit Direction = "CREDIT"
)

type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
	AccountTypeEquity    AccountType = "EQUITY"
)

// Chart-of-accounts codes used by the confirmation flow. Accounts are
// provisioned lazily per tenant on first posting.
const (
	AccountCodeCash               = "cash"
	AccountCodeAccountsReceivable = "accounts_receivable"
	AccountCodeRevenue            = "revenue"
	AccountCodePaymentFeeExpense  = "payment_fee_expense"
	AccountCodeCustomerCredit     = "customer_credit"
	AccountCodeAdjustment         = "adjustment"
)

var accountTypes = map[string]AccountType{
	AccountCodeCash:               AccountTypeAsset,
	AccountCodeAccountsReceivable: AccountTypeAsset,
	AccountCodeRevenue:            AccountTypeRevenue,
	AccountCodePaymentFeeExpense:  AccountTypeExpense,
	AccountCodeCustomerCredit:     AccountTypeLiability,
	AccountCodeAdjustment:         AccountTypeEquity,
}

// AccountTypeForCode resolves the account type for a chart code. Codes
// outside the standard chart default to ASSET.
func AccountTypeForCode(code string) AccountType {
	if t, ok := accountTypes[code]; ok {
		return t
	}
	return AccountTypeAsset
}

// LedgerAccount is a tenant-scoped chart-of-accounts entry.
type LedgerAccount struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	OrgID       snowflake.ID `json:"org_id" gorm:"not null;uniqueIndex:ux_ledger_accounts_org_code,priority:1"`
	Code        string       `json:"code" gorm:"type:text;not null;uniqueIndex:ux_ledger_accounts_org_code,priority:2"`
	Name        string       `json:"name" gorm:"type:text;not null"`
	AccountType AccountType  `json:"account_type" gorm:"type:text;not null"`
	CreatedAt   time.Time    `json:"created_at" gorm:"not null"`
}

func (LedgerAccount) TableName() string { return "ledger_accounts" }

// JournalEntry is the immutable header for one balanced posting set.
// ExportedAt marks delivery to the accounting-sync provider.
type JournalEntry struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	OrgID          snowflake.ID `json:"org_id" gorm:"not null;uniqueIndex:ux_journal_entries_org_key,priority:1"`
	PaymentLinkID  snowflake.ID `json:"payment_link_id" gorm:"not null;index"`
	IdempotencyKey string       `json:"idempotency_key" gorm:"type:text;not null;uniqueIndex:ux_journal_entries_org_key,priority:2"`
	CorrelationID  string       `json:"correlation_id" gorm:"type:text"`
	PostedAt       time.Time    `json:"posted_at" gorm:"not null"`
	ExportedAt     *time.Time   `json:"exported_at" gorm:"index"`
	CreatedAt      time.Time    `json:"created_at" gorm:"not null"`
}

func (JournalEntry) TableName() string { return "journal_entries" }

// JournalLine is a single double-entry posting line.
type JournalLine struct {
	ID             snowflake.ID    `json:"id" gorm:"primaryKey"`
	JournalEntryID snowflake.ID    `json:"journal_entry_id" gorm:"not null;index"`
	AccountID      snowflake.ID    `json:"account_id" gorm:"not null;index"`
	Direction      Direction       `json:"direction" gorm:"type:text;not null"`
	Amount         decimal.Decimal `json:"amount" gorm:"type:decimal(20,8);not null"`
	Currency       string          `json:"currency" gorm:"type:text;not null"`
	Description    string          `json:"description" gorm:"type:text"`
	IdempotencyKey string          `json:"idempotency_key" gorm:"type:text;not null;uniqueIndex:ux_journal_lines_key"`
	CreatedAt      time.Time       `json:"created_at" gorm:"not null"`
}

func (JournalLine) TableName() string { return "journal_lines" }

// EntryInput is one requested posting line, addressed by account code.
type EntryInput struct {
	AccountCode string
	Direction   Direction
	Amount      decimal.Decimal
	Currency    string
	Description string
}

type PostInput struct {
	Entries        []EntryInput
	PaymentLinkID  snowflake.ID
	OrgID          snowflake.ID
	IdempotencyKey string
	CorrelationID  string
}

// PostResult reports the posted (or previously posted) entry set.
type PostResult struct {
	EntryID       snowflake.ID
	Lines         []JournalLine
	AlreadyPosted bool
}

// ExportLine is one posting line resolved back to its account code, shaped
// for the accounting-sync provider.
type ExportLine struct {
	AccountCode string
	Direction   Direction
	Amount      decimal.Decimal
	Currency    string
	Description string
}

// ExportCandidate is a posted entry set not yet delivered to the
// accounting-sync provider.
type ExportCandidate struct {
	EntryID        snowflake.ID
	OrgID          snowflake.ID
	IdempotencyKey string
	CorrelationID  string
	PostedAt       time.Time
	Lines          []ExportLine
}

type Service interface {
	// PostJournalEntries writes one balanced entry set atomically. Replays
	// of an already-used idempotency key are a no-op success returning the
	// prior entries, never an error.
	PostJournalEntries(ctx context.Context, input PostInput) (*PostResult, error)

	// PostJournalEntriesTx is PostJournalEntries inside the caller's
	// transaction, for callers that must commit the posting together with
	// other writes.
	PostJournalEntriesTx(ctx context.Context, tx *gorm.DB, input PostInput) (*PostResult, error)

	// FindUnexported returns posted entry sets awaiting delivery to the
	// accounting-sync provider, oldest first.
	FindUnexported(ctx context.Context, limit int) ([]ExportCandidate, error)

	// MarkExported stamps the entry as delivered. False means another
	// instance exported it first.
	MarkExported(ctx context.Context, entryID snowflake.ID) (bool, error)
}
