package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Status string

const (
	StatusDraft    Status = "DRAFT"
	StatusOpen     Status = "OPEN"
	StatusPaid     Status = "PAID"
	StatusExpired  Status = "EXPIRED"
	StatusCanceled Status = "CANCELED"
)

// Terminal states accept no further writes.
func (s Status) Terminal() bool {
	switch s {
	case StatusPaid, StatusExpired, StatusCanceled:
		return true
	default:
		return false
	}
}

// PaymentLink is a merchant-issued request for a fixed amount in a fixed
// currency, payable over either settlement rail until it expires.
type PaymentLink struct {
	ID          snowflake.ID    `json:"id" gorm:"primaryKey"`
	OrgID       snowflake.ID    `json:"org_id" gorm:"not null;index"`
	Amount      decimal.Decimal `json:"amount" gorm:"type:decimal(20,8);not null"`
	Currency    string          `json:"currency" gorm:"type:text;not null"`
	Description string          `json:"description" gorm:"type:text"`
	Status      Status          `json:"status" gorm:"type:text;not null;index:ix_payment_links_status_expiry,priority:1"`
	ExpiresAt   time.Time       `json:"expires_at" gorm:"not null;index:ix_payment_links_status_expiry,priority:2"`
	CreatedAt   time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time       `json:"updated_at" gorm:"not null"`
}

func (PaymentLink) TableName() string { return "payment_links" }

// ExpiredBy reports whether the link's deadline has passed at the given
// instant. Status is not consulted; callers pair this with the status guard.
func (l *PaymentLink) ExpiredBy(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

type CreateInput struct {
	OrgID       snowflake.ID
	Amount      decimal.Decimal
	Currency    string
	Description string
	ExpiresAt   time.Time
}

type Service interface {
	Create(ctx context.Context, input CreateInput) (*PaymentLink, error)
	Activate(ctx context.Context, id snowflake.ID) (*PaymentLink, error)
	Cancel(ctx context.Context, id snowflake.ID) (*PaymentLink, error)
	Get(ctx context.Context, id snowflake.ID) (*PaymentLink, error)

	// ExpireIfDue lazily expires an OPEN link whose deadline has passed,
	// reporting whether this call performed the transition. Converges with
	// the periodic sweep on exactly one EXPIRED event per link.
	ExpireIfDue(ctx context.Context, id snowflake.ID) (bool, error)
	ExpireDueBatch(ctx context.Context, limit int) (int, error)

	// MarkPaidTx performs the guarded OPEN->PAID transition inside the
	// caller's transaction. Zero rows affected means a concurrent
	// confirmation won the race.
	MarkPaidTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) (bool, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, link *PaymentLink) error
	Find(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PaymentLink, error)
	// UpdateStatus transitions from->to with a guarded UPDATE, reporting
	// whether a row changed.
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to Status, now time.Time) (bool, error)
	// ExpireDue transitions an OPEN link to EXPIRED only when its deadline
	// has actually passed.
	ExpireDue(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	FindDueForExpiry(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]PaymentLink, error)
}
