package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/railpost/internal/clock"
	ledgerdomain "github.com/smallbiznis/railpost/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/railpost/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) PostJournalEntries(ctx context.Context, input ledgerdomain.PostInput) (*ledgerdomain.PostResult, error) {
	key, normalized, err := s.normalize(input)
	if err != nil {
		return nil, err
	}

	var result *ledgerdomain.PostResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		result, txErr = s.postTx(ctx, tx, input.OrgID, input.PaymentLinkID, key, input.CorrelationID, normalized)
		return txErr
	})
	if err != nil {
		return nil, err
	}

	if !result.AlreadyPosted && s.obsMetrics != nil {
		s.obsMetrics.RecordLedgerPosting(ctx)
	}
	return result, nil
}

func (s *Service) PostJournalEntriesTx(ctx context.Context, tx *gorm.DB, input ledgerdomain.PostInput) (*ledgerdomain.PostResult, error) {
	key, normalized, err := s.normalize(input)
	if err != nil {
		return nil, err
	}

	result, err := s.postTx(ctx, tx, input.OrgID, input.PaymentLinkID, key, input.CorrelationID, normalized)
	if err != nil {
		return nil, err
	}
	if !result.AlreadyPosted && s.obsMetrics != nil {
		s.obsMetrics.RecordLedgerPosting(ctx)
	}
	return result, nil
}

func (s *Service) normalize(input ledgerdomain.PostInput) (string, []ledgerdomain.EntryInput, error) {
	if input.OrgID == 0 {
		return "", nil, ledgerdomain.ErrInvalidOrganization
	}
	key := strings.TrimSpace(input.IdempotencyKey)
	if key == "" {
		return "", nil, ledgerdomain.ErrInvalidIdempotencyKey
	}
	if len(input.Entries) < 2 {
		return "", nil, ledgerdomain.ErrInvalidEntryLines
	}

	normalized := make([]ledgerdomain.EntryInput, 0, len(input.Entries))
	for _, entry := range input.Entries {
		code := strings.TrimSpace(entry.AccountCode)
		if code == "" {
			return "", nil, ledgerdomain.ErrInvalidAccountCode
		}
		if entry.Direction != ledgerdomain.DirectionDebit && entry.Direction != ledgerdomain.DirectionCredit {
			return "", nil, ledgerdomain.ErrInvalidLineDirection
		}
		if !entry.Amount.IsPositive() {
			return "", nil, ledgerdomain.ErrInvalidLineAmount
		}
		currency := strings.ToUpper(strings.TrimSpace(entry.Currency))
		if currency == "" {
			return "", nil, ledgerdomain.ErrInvalidCurrency
		}
		normalized = append(normalized, ledgerdomain.EntryInput{
			AccountCode: code,
			Direction:   entry.Direction,
			Amount:      entry.Amount,
			Currency:    currency,
			Description: strings.TrimSpace(entry.Description),
		})
	}

	// Fatal by design: an unbalanced set is a caller bug and must abort
	// before any row is written.
	if err := ledgerdomain.ValidateBalanced(normalized); err != nil {
		return "", nil, err
	}
	return key, normalized, nil
}

func (s *Service) postTx(
	ctx context.Context,
	tx *gorm.DB,
	orgID, paymentLinkID snowflake.ID,
	key, correlationID string,
	entries []ledgerdomain.EntryInput,
) (*ledgerdomain.PostResult, error) {

	now := s.clock.Now()
	entryID := s.genID.Generate()

	res := tx.WithContext(ctx).Exec(
		`INSERT INTO journal_entries (
			id, org_id, payment_link_id, idempotency_key, correlation_id, posted_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (org_id, idempotency_key) DO NOTHING`,
		entryID,
		orgID,
		paymentLinkID,
		key,
		correlationID,
		now,
		now,
	)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// Replayed notification: return the prior entries, not an error.
		return s.loadPrior(ctx, tx, orgID, key)
	}

	lines := make([]ledgerdomain.JournalLine, 0, len(entries))
	for i, entry := range entries {
		accountID, err := s.ensureAccount(ctx, tx, orgID, entry.AccountCode, now)
		if err != nil {
			return nil, err
		}
		line := ledgerdomain.JournalLine{
			ID:             s.genID.Generate(),
			JournalEntryID: entryID,
			AccountID:      accountID,
			Direction:      entry.Direction,
			Amount:         entry.Amount,
			Currency:       entry.Currency,
			Description:    entry.Description,
			IdempotencyKey: fmt.Sprintf("%s-%d", key, i),
			CreatedAt:      now,
		}
		if err := tx.WithContext(ctx).Exec(
			`INSERT INTO journal_lines (
				id, journal_entry_id, account_id, direction, amount,
				currency, description, idempotency_key, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			line.ID,
			line.JournalEntryID,
			line.AccountID,
			line.Direction,
			line.Amount,
			line.Currency,
			line.Description,
			line.IdempotencyKey,
			line.CreatedAt,
		).Error; err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}

	return &ledgerdomain.PostResult{EntryID: entryID, Lines: lines}, nil
}

func (s *Service) loadPrior(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, key string) (*ledgerdomain.PostResult, error) {
	var entry ledgerdomain.JournalEntry
	if err := tx.WithContext(ctx).Raw(
		`SELECT id, org_id, payment_link_id, idempotency_key, correlation_id, posted_at, created_at
		 FROM journal_entries
		 WHERE org_id = ? AND idempotency_key = ?
		 LIMIT 1`,
		orgID,
		key,
	).Scan(&entry).Error; err != nil {
		return nil, err
	}
	if entry.ID == 0 {
		return nil, ledgerdomain.ErrInvalidIdempotencyKey
	}

	var lines []ledgerdomain.JournalLine
	if err := tx.WithContext(ctx).Raw(
		`SELECT id, journal_entry_id, account_id, direction, amount,
			currency, description, idempotency_key, created_at
		 FROM journal_lines
		 WHERE journal_entry_id = ?
		 ORDER BY idempotency_key ASC`,
		entry.ID,
	).Scan(&lines).Error; err != nil {
		return nil, err
	}

	return &ledgerdomain.PostResult{EntryID: entry.ID, Lines: lines, AlreadyPosted: true}, nil
}

func (s *Service) FindUnexported(ctx context.Context, limit int) ([]ledgerdomain.ExportCandidate, error) {
	if limit <= 0 {
		limit = 100
	}

	var entries []ledgerdomain.JournalEntry
	if err := s.db.WithContext(ctx).Raw(
		`SELECT id, org_id, payment_link_id, idempotency_key, correlation_id, posted_at, created_at
		 FROM journal_entries
		 WHERE exported_at IS NULL
		 ORDER BY id ASC
		 LIMIT ?`,
		limit,
	).Scan(&entries).Error; err != nil {
		return nil, err
	}

	candidates := make([]ledgerdomain.ExportCandidate, 0, len(entries))
	for _, entry := range entries {
		var lines []ledgerdomain.ExportLine
		if err := s.db.WithContext(ctx).Raw(
			`SELECT a.code AS account_code, l.direction, l.amount, l.currency, l.description
			 FROM journal_lines l
			 JOIN ledger_accounts a ON a.id = l.account_id
			 WHERE l.journal_entry_id = ?
			 ORDER BY l.idempotency_key ASC`,
			entry.ID,
		).Scan(&lines).Error; err != nil {
			return nil, err
		}
		candidates = append(candidates, ledgerdomain.ExportCandidate{
			EntryID:        entry.ID,
			OrgID:          entry.OrgID,
			IdempotencyKey: entry.IdempotencyKey,
			CorrelationID:  entry.CorrelationID,
			PostedAt:       entry.PostedAt,
			Lines:          lines,
		})
	}
	return candidates, nil
}

func (s *Service) MarkExported(ctx context.Context, entryID snowflake.ID) (bool, error) {
	res := s.db.WithContext(ctx).Exec(
		`UPDATE journal_entries SET exported_at = ? WHERE id = ? AND exported_at IS NULL`,
		s.clock.Now(),
		entryID,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ensureAccount provisions the tenant-scoped account on first use.
// Idempotent upsert by (org, code).
func (s *Service) ensureAccount(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, code string, now time.Time) (snowflake.ID, error) {
	if err := tx.WithContext(ctx).Exec(
		`INSERT INTO ledger_accounts (id, org_id, code, name, account_type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (org_id, code) DO NOTHING`,
		s.genID.Generate(),
		orgID,
		code,
		code,
		ledgerdomain.AccountTypeForCode(code),
		now,
	).Error; err != nil {
		return 0, err
	}

	var account ledgerdomain.LedgerAccount
	if err := tx.WithContext(ctx).Raw(
		`SELECT id, org_id, code, name, account_type, created_at
		 FROM ledger_accounts
		 WHERE org_id = ? AND code = ?
		 LIMIT 1`,
		orgID,
		code,
	).Scan(&account).Error; err != nil {
		return 0, err
	}
	if account.ID == 0 {
		return 0, ledgerdomain.ErrInvalidAccountCode
	}
	return account.ID, nil
}
