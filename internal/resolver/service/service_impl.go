package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/railpost/internal/clock"
	"github.com/smallbiznis/railpost/internal/config"
	"github.com/smallbiznis/railpost/internal/locks"
	obsmetrics "github.com/smallbiznis/railpost/internal/observability/metrics"
	eventdomain "github.com/smallbiznis/railpost/internal/paymentevent/domain"
	linkdomain "github.com/smallbiznis/railpost/internal/paymentlink/domain"
	"github.com/smallbiznis/railpost/internal/resolver/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var hundred = decimal.NewFromInt(100)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Cfg        config.Config
	GenID      *snowflake.Node
	Clock      clock.Clock
	LinkSvc    linkdomain.Service
	EventRepo  eventdomain.Repository
	Locker     locks.Locker
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	linkSvc    linkdomain.Service
	eventRepo  eventdomain.Repository
	locker     locks.Locker
	lockTTL    time.Duration
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("resolver.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		linkSvc:    p.LinkSvc,
		eventRepo:  p.EventRepo,
		locker:     p.Locker,
		lockTTL:    p.Cfg.PaymentLockTTL,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) ValidatePaymentAttempt(ctx context.Context, linkID snowflake.ID) (*domain.AttemptValidation, error) {
	link, err := s.linkSvc.Get(ctx, linkID)
	if errors.Is(err, linkdomain.ErrLinkNotFound) {
		return &domain.AttemptValidation{Allowed: false, Reason: domain.ReasonNotFound}, nil
	}
	if err != nil {
		return nil, err
	}

	switch link.Status {
	case linkdomain.StatusOpen:
		if link.ExpiredBy(s.clock.Now()) {
			// Lazy auto-expire. Losing the race to the sweep (or another
			// request) lands on the same terminal state.
			if _, err := s.linkSvc.ExpireIfDue(ctx, linkID); err != nil {
				return nil, err
			}
			link.Status = linkdomain.StatusExpired
			return &domain.AttemptValidation{Reason: domain.ReasonExpired, Status: link.Status, Link: link}, nil
		}
		return &domain.AttemptValidation{Allowed: true, Status: link.Status, Link: link}, nil
	case linkdomain.StatusPaid:
		return &domain.AttemptValidation{Reason: domain.ReasonPaid, Status: link.Status, Link: link}, nil
	case linkdomain.StatusCanceled:
		return &domain.AttemptValidation{Reason: domain.ReasonCanceled, Status: link.Status, Link: link}, nil
	case linkdomain.StatusExpired:
		return &domain.AttemptValidation{Reason: domain.ReasonExpired, Status: link.Status, Link: link}, nil
	default:
		return &domain.AttemptValidation{Reason: domain.ReasonNotOpen, Status: link.Status, Link: link}, nil
	}
}

func (s *Service) HandleUnderpayment(ctx context.Context, link *linkdomain.PaymentLink, attempt domain.AttemptInfo) (*domain.UnderpaymentResult, error) {
	shortfall := link.Amount.Sub(attempt.AmountReceived)
	percent := shortfall.Div(link.Amount).Mul(hundred)

	result := &domain.UnderpaymentResult{
		Shortfall:        shortfall,
		ShortfallPercent: percent,
		CanRetry:         true,
	}
	switch {
	case percent.LessThan(decimal.NewFromInt(1)):
		result.Action = domain.ActionManualReview
		result.Message = fmt.Sprintf("payment short by %s %s (under 1%%), queued for manual review", shortfall, link.Currency)
	case percent.LessThanOrEqual(decimal.NewFromInt(10)):
		result.Action = domain.ActionRetry
		result.Message = fmt.Sprintf("payment short by %s %s, please retry with the full amount", shortfall, link.Currency)
	default:
		result.Action = domain.ActionContactSupport
		result.Message = fmt.Sprintf("payment short by %s %s, please contact support", shortfall, link.Currency)
	}

	event := &eventdomain.PaymentEvent{
		ID:             s.genID.Generate(),
		OrgID:          link.OrgID,
		PaymentLinkID:  link.ID,
		EventType:      eventdomain.EventTypeFailed,
		Provider:       attempt.Provider,
		ProviderRef:    attempt.ProviderRef,
		AmountReceived: attempt.AmountReceived,
		Currency:       attempt.Currency,
		CorrelationID:  attempt.CorrelationID,
		Reason:         eventdomain.ReasonUnderpayment,
		CreatedAt:      s.clock.Now(),
	}
	if _, err := s.eventRepo.Insert(ctx, s.db, event); err != nil {
		return nil, err
	}
	if s.obsMetrics != nil {
		s.obsMetrics.RecordPaymentEvent(ctx, attempt.Provider, "underpayment")
	}

	s.log.Info("underpayment recorded",
		zap.Int64("payment_link_id", int64(link.ID)),
		zap.String("provider_ref", attempt.ProviderRef),
		zap.String("shortfall_percent", percent.StringFixed(4)),
		zap.String("action", result.Action),
	)
	return result, nil
}

func (s *Service) HandleOverpayment(required, received decimal.Decimal) *domain.OverpaymentResult {
	excess := received.Sub(required)
	percent := excess.Div(required).Mul(hundred)

	result := &domain.OverpaymentResult{
		Excess:        excess,
		ExcessPercent: percent,
		IsAcceptable:  true,
	}
	switch {
	case percent.GreaterThan(decimal.NewFromInt(20)):
		result.RequiresReview = true
		result.Unusual = true
		result.Message = fmt.Sprintf("unusual overpayment of %s (%s%%), accepted and flagged for review", excess, percent.StringFixed(2))
	case percent.GreaterThan(decimal.NewFromInt(10)):
		result.RequiresReview = true
		result.Message = fmt.Sprintf("overpayment of %s (%s%%), accepted and flagged for review", excess, percent.StringFixed(2))
	default:
		result.Message = fmt.Sprintf("overpayment of %s accepted", excess)
	}
	return result
}

func (s *Service) CheckDuplicatePayment(ctx context.Context, linkID snowflake.ID, providerRef string) (*domain.DuplicateCheck, error) {
	existing, err := s.eventRepo.FindConfirmed(ctx, s.db, linkID, providerRef)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return &domain.DuplicateCheck{}, nil
	}
	return &domain.DuplicateCheck{
		IsDuplicate: true,
		EventID:     existing.ID,
		ConfirmedAt: existing.CreatedAt,
		Message:     fmt.Sprintf("payment already processed at %s", existing.CreatedAt.UTC().Format(time.RFC3339)),
	}, nil
}

func (s *Service) AcquirePaymentLock(ctx context.Context, linkID snowflake.ID) (string, bool) {
	token, ok, err := s.locker.TryLock(ctx, paymentLockKey(linkID), s.lockTTL)
	if err != nil {
		// Fail closed: without the lock we cannot rule out a concurrent
		// settlement on this link.
		s.log.Warn("payment lock acquire failed",
			zap.Int64("payment_link_id", int64(linkID)),
			zap.Error(err),
		)
		return "", false
	}
	return token, ok
}

func (s *Service) ReleasePaymentLock(ctx context.Context, linkID snowflake.ID, token string) {
	if token == "" {
		return
	}
	if err := s.locker.Release(ctx, paymentLockKey(linkID), token); err != nil {
		// The TTL reclaims an unreleased lock.
		s.log.Warn("payment lock release failed",
			zap.Int64("payment_link_id", int64(linkID)),
			zap.Error(err),
		)
	}
}

func (s *Service) HandleExpiredLinkPayment(ctx context.Context, linkID snowflake.ID, attempt domain.AttemptInfo) (*domain.ExpiredLinkResult, error) {
	link, err := s.linkSvc.Get(ctx, linkID)
	if err != nil {
		return nil, err
	}

	event := &eventdomain.PaymentEvent{
		ID:             s.genID.Generate(),
		OrgID:          link.OrgID,
		PaymentLinkID:  link.ID,
		EventType:      eventdomain.EventTypeFailed,
		Provider:       attempt.Provider,
		ProviderRef:    attempt.ProviderRef,
		AmountReceived: attempt.AmountReceived,
		Currency:       attempt.Currency,
		CorrelationID:  attempt.CorrelationID,
		Reason:         eventdomain.ReasonLinkExpired,
		CreatedAt:      s.clock.Now(),
	}
	if _, err := s.eventRepo.Insert(ctx, s.db, event); err != nil {
		return nil, err
	}
	if s.obsMetrics != nil {
		s.obsMetrics.RecordPaymentEvent(ctx, attempt.Provider, "link_expired")
	}

	return &domain.ExpiredLinkResult{
		CanRenew:    domain.RenewableAt(link.CreatedAt, link.ExpiresAt),
		Amount:      link.Amount,
		Currency:    link.Currency,
		Description: link.Description,
	}, nil
}

func paymentLockKey(linkID snowflake.ID) string {
	return fmt.Sprintf("payment_link:%d:lock", linkID)
}
