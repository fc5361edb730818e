package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/railpost/internal/paymentlink/domain"
	"github.com/smallbiznis/railpost/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, gdb *gorm.DB, link *domain.PaymentLink) error {
	return gdb.WithContext(ctx).Exec(
		`INSERT INTO payment_links (
			id, org_id, amount, currency, description, status,
			expires_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		link.ID,
		link.OrgID,
		link.Amount,
		link.Currency,
		link.Description,
		link.Status,
		link.ExpiresAt,
		link.CreatedAt,
		link.UpdatedAt,
	).Error
}

func (r *repo) Find(ctx context.Context, gdb *gorm.DB, id snowflake.ID) (*domain.PaymentLink, error) {
	var item domain.PaymentLink
	err := gdb.WithContext(ctx).Raw(
		`SELECT id, org_id, amount, currency, description, status,
			expires_at, created_at, updated_at
		 FROM payment_links
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) UpdateStatus(ctx context.Context, gdb *gorm.DB, id snowflake.ID, from, to domain.Status, now time.Time) (bool, error) {
	res := gdb.WithContext(ctx).Exec(
		`UPDATE payment_links
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		to,
		now,
		id,
		from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ExpireDue(ctx context.Context, gdb *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := gdb.WithContext(ctx).Exec(
		`UPDATE payment_links
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND expires_at <= ?`,
		domain.StatusExpired,
		now,
		id,
		domain.StatusOpen,
		now,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindDueForExpiry(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]domain.PaymentLink, error) {
	query := `SELECT id, org_id, amount, currency, description, status,
			expires_at, created_at, updated_at
		 FROM payment_links
		 WHERE status = ? AND expires_at <= ?
		 ORDER BY expires_at ASC, id ASC
		 LIMIT ?`
	if db.SupportsSkipLocked(tx) {
		query += ` FOR UPDATE SKIP LOCKED`
	}

	var links []domain.PaymentLink
	if err := tx.WithContext(ctx).Raw(query, domain.StatusOpen, now, limit).Scan(&links).Error; err != nil {
		return nil, err
	}
	return links, nil
}
