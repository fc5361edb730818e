package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	linkdomain "github.com/smallbiznis/railpost/internal/paymentlink/domain"
)

// Variance actions for underpaid attempts.
const (
	ActionManualReview   = "manual_review"
	ActionRetry          = "retry"
	ActionContactSupport = "contact_support"
)

// Rejection reasons for payment attempts against non-payable links.
const (
	ReasonNotFound = "link_not_found"
	ReasonPaid     = "link_already_paid"
	ReasonExpired  = "link_expired"
	ReasonCanceled = "link_canceled"
	ReasonNotOpen  = "link_not_open"
)

// renewWindow bounds how long after issuance an expired link may still be
// renewed with its original terms.
const renewWindow = 30 * 24 * time.Hour

// AttemptInfo carries the provider-side identity of one settlement attempt,
// used when the resolver records an event about it.
type AttemptInfo struct {
	Provider       string
	ProviderRef    string
	AmountReceived decimal.Decimal
	Currency       string
	CorrelationID  string
}

// AttemptValidation is the gate decision for a settlement attempt. Allowed is
// true only for an OPEN, unexpired link.
type AttemptValidation struct {
	Allowed bool
	Reason  string
	Status  linkdomain.Status
	Link    *linkdomain.PaymentLink
}

type UnderpaymentResult struct {
	Shortfall        decimal.Decimal
	ShortfallPercent decimal.Decimal
	Action           string
	CanRetry         bool
	Message          string
}

// OverpaymentResult classifies an excess payment. Overpayment never blocks
// settlement; past the review threshold it is flagged for a human.
type OverpaymentResult struct {
	Excess         decimal.Decimal
	ExcessPercent  decimal.Decimal
	IsAcceptable   bool
	RequiresReview bool
	Unusual        bool
	Message        string
}

type DuplicateCheck struct {
	IsDuplicate bool
	EventID     snowflake.ID
	ConfirmedAt time.Time
	Message     string
}

// ExpiredLinkResult reports whether an expired link can be reissued and the
// original economic terms needed to reconstruct it.
type ExpiredLinkResult struct {
	CanRenew    bool
	Amount      decimal.Decimal
	Currency    string
	Description string
}

// RenewableAt reports whether a link expiring at expiresAt, created at
// createdAt, is still within the renewal window.
func RenewableAt(createdAt, expiresAt time.Time) bool {
	return expiresAt.Sub(createdAt) < renewWindow
}

type Service interface {
	// ValidatePaymentAttempt gates a settlement attempt. An OPEN link whose
	// deadline has passed is expired as a side effect before rejection, so
	// the observed status is always current.
	ValidatePaymentAttempt(ctx context.Context, linkID snowflake.ID) (*AttemptValidation, error)

	// HandleUnderpayment classifies the shortfall and records a FAILED event
	// for the attempt. Every tier is retryable; the action tells the payer
	// what to do next.
	HandleUnderpayment(ctx context.Context, link *linkdomain.PaymentLink, attempt AttemptInfo) (*UnderpaymentResult, error)

	// HandleOverpayment classifies the excess. Pure policy, no writes; the
	// caller tags its confirmation event with the variance.
	HandleOverpayment(required, received decimal.Decimal) *OverpaymentResult

	// CheckDuplicatePayment reports whether a CONFIRMED event already exists
	// for the exact (link, providerRef) pair.
	CheckDuplicatePayment(ctx context.Context, linkID snowflake.ID, providerRef string) (*DuplicateCheck, error)

	// AcquirePaymentLock tries to take the advisory per-link lock. ok=false
	// means a concurrent settlement holds it; callers retry later. Errors
	// from the lock primitive fail closed.
	AcquirePaymentLock(ctx context.Context, linkID snowflake.ID) (token string, ok bool)
	ReleasePaymentLock(ctx context.Context, linkID snowflake.ID, token string)

	// HandleExpiredLinkPayment records the failed attempt against an expired
	// link and returns renewal terms when the link is young enough.
	HandleExpiredLinkPayment(ctx context.Context, linkID snowflake.ID, attempt AttemptInfo) (*ExpiredLinkResult, error)
}
