package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type EventType string

const (
	EventTypeConfirmed EventType = "CONFIRMED"
	EventTypeFailed    EventType = "FAILED"
	EventTypeExpired   EventType = "EXPIRED"
)

// Failure reasons and variance tags recorded on events.
const (
	ReasonUnderpayment = "UNDERPAYMENT"
	ReasonOverpayment  = "OVERPAYMENT"
	ReasonLinkExpired  = "LINK_EXPIRED"
)

// Settlement rails.
const (
	ProviderCardRail   = "card_rail"
	ProviderLedgerRail = "ledger_rail"
)

// PaymentEvent is the append-only record of everything a provider told us
// about a link. At most one CONFIRMED event exists per
// (payment_link_id, provider_ref); this is the idempotency anchor for the
// whole confirmation path.
type PaymentEvent struct {
	ID             snowflake.ID    `json:"id" gorm:"primaryKey"`
	OrgID          snowflake.ID    `json:"org_id" gorm:"not null;index"`
	PaymentLinkID  snowflake.ID    `json:"payment_link_id" gorm:"not null;uniqueIndex:ux_payment_events_link_ref_type,priority:1"`
	EventType      EventType       `json:"event_type" gorm:"type:text;not null;uniqueIndex:ux_payment_events_link_ref_type,priority:3"`
	Provider       string          `json:"provider" gorm:"type:text;not null"`
	ProviderRef    string          `json:"provider_ref" gorm:"type:text;not null;uniqueIndex:ux_payment_events_link_ref_type,priority:2"`
	AmountReceived decimal.Decimal `json:"amount_received" gorm:"type:decimal(20,8);not null"`
	Currency       string          `json:"currency" gorm:"type:text"`
	CorrelationID  string          `json:"correlation_id" gorm:"type:text;index"`
	Reason         string          `json:"reason" gorm:"type:text"`
	Metadata       datatypes.JSON  `json:"metadata" gorm:"type:jsonb"`
	CreatedAt      time.Time       `json:"created_at" gorm:"not null"`
}

func (PaymentEvent) TableName() string { return "payment_events" }

type Repository interface {
	// Insert appends the event, reporting false when an identical
	// (link, provider_ref, event_type) row already exists.
	Insert(ctx context.Context, db *gorm.DB, event *PaymentEvent) (bool, error)
	FindConfirmed(ctx context.Context, db *gorm.DB, linkID snowflake.ID, providerRef string) (*PaymentEvent, error)
	FindConfirmedByCorrelation(ctx context.Context, db *gorm.DB, correlationID string) (*PaymentEvent, error)
}
