package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Failure reasons returned on the normal control-flow path. Providers
// reinterpret non-success responses as redelivery requests, so none of these
// surface as transport errors.
const (
	ReasonInvalidInput     = "INVALID_INPUT"
	ReasonUnderpayment     = "UNDERPAYMENT"
	ReasonCurrencyMismatch = "CURRENCY_MISMATCH"
	ReasonLockContention   = "LOCK_CONTENTION"
	ReasonConcurrentUpdate = "CONCURRENT_UPDATE"
)

// ConfirmInput is one provider notification that a link was settled.
type ConfirmInput struct {
	PaymentLinkID  snowflake.ID
	Provider       string
	ProviderRef    string
	AmountReceived decimal.Decimal
	Currency       string
	CorrelationID  string
	Metadata       datatypes.JSON
}

// ConfirmResult is the discriminated outcome of a confirmation attempt:
// success+posted, success+already-processed, or failure+reason.
type ConfirmResult struct {
	Success          bool
	AlreadyProcessed bool
	PaymentEventID   snowflake.ID
	JournalEntryID   snowflake.ID
	Reason           string
	Message          string
	CanRetry         bool

	// RequiresReview is set when an accepted overpayment crossed the review
	// threshold.
	RequiresReview bool

	// CanRenew and renewal terms accompany a LINK_EXPIRED rejection.
	CanRenew    bool
	RenewAmount decimal.Decimal
	RenewNotes  string
}

type Service interface {
	// Confirm derives at most one CONFIRMED event, one ledger posting, and
	// one PAID transition per (link, providerRef), no matter how many times
	// the provider redelivers the notification.
	Confirm(ctx context.Context, input ConfirmInput) (*ConfirmResult, error)
}
