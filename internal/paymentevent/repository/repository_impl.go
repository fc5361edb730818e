package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/railpost/internal/paymentevent/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, event *domain.PaymentEvent) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payment_events (
			id, org_id, payment_link_id, event_type, provider, provider_ref,
			amount_received, currency, correlation_id, reason, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (payment_link_id, provider_ref, event_type) DO NOTHING`,
		event.ID,
		event.OrgID,
		event.PaymentLinkID,
		event.EventType,
		event.Provider,
		event.ProviderRef,
		event.AmountReceived,
		event.Currency,
		event.CorrelationID,
		event.Reason,
		event.Metadata,
		event.CreatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindConfirmed(ctx context.Context, db *gorm.DB, linkID snowflake.ID, providerRef string) (*domain.PaymentEvent, error) {
	var item domain.PaymentEvent
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, payment_link_id, event_type, provider, provider_ref,
			amount_received, currency, correlation_id, reason, metadata, created_at
		 FROM payment_events
		 WHERE payment_link_id = ? AND provider_ref = ? AND event_type = ?
		 LIMIT 1`,
		linkID,
		providerRef,
		domain.EventTypeConfirmed,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindConfirmedByCorrelation(ctx context.Context, db *gorm.DB, correlationID string) (*domain.PaymentEvent, error) {
	if correlationID == "" {
		return nil, nil
	}
	var item domain.PaymentEvent
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, payment_link_id, event_type, provider, provider_ref,
			amount_received, currency, correlation_id, reason, metadata, created_at
		 FROM payment_events
		 WHERE correlation_id = ? AND event_type = ?
		 LIMIT 1`,
		correlationID,
		domain.EventTypeConfirmed,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}
