package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/railpost/internal/clock"
	obsmetrics "github.com/smallbiznis/railpost/internal/observability/metrics"
	eventdomain "github.com/smallbiznis/railpost/internal/paymentevent/domain"
	"github.com/smallbiznis/railpost/internal/paymentlink/domain"
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
	Repo       domain.Repository
	EventRepo  eventdomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	eventRepo  eventdomain.Repository
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("paymentlink.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		eventRepo:  p.EventRepo,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Create(ctx context.Context, input domain.CreateInput) (*domain.PaymentLink, error) {
	if input.OrgID == 0 {
		return nil, domain.ErrInvalidOrg
	}
	if !input.Amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if currency == "" {
		return nil, domain.ErrInvalidCurrency
	}
	now := s.clock.Now()
	if !input.ExpiresAt.After(now) {
		return nil, domain.ErrInvalidExpiry
	}

	link := &domain.PaymentLink{
		ID:          s.genID.Generate(),
		OrgID:       input.OrgID,
		Amount:      input.Amount,
		Currency:    currency,
		Description: strings.TrimSpace(input.Description),
		Status:      domain.StatusDraft,
		ExpiresAt:   input.ExpiresAt.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Insert(ctx, s.db, link); err != nil {
		return nil, err
	}
	return link, nil
}

func (s *Service) Activate(ctx context.Context, id snowflake.ID) (*domain.PaymentLink, error) {
	return s.transition(ctx, id, domain.StatusDraft, domain.StatusOpen, domain.EnsureCanActivate)
}

func (s *Service) Cancel(ctx context.Context, id snowflake.ID) (*domain.PaymentLink, error) {
	return s.transition(ctx, id, domain.StatusOpen, domain.StatusCanceled, domain.EnsureCanCancel)
}

func (s *Service) transition(
	ctx context.Context,
	id snowflake.ID,
	from, to domain.Status,
	guard func(domain.Status) error,
) (*domain.PaymentLink, error) {
	link, err := s.repo.Find(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if link == nil {
		return nil, domain.ErrLinkNotFound
	}
	if err := guard(link.Status); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	updated, err := s.repo.UpdateStatus(ctx, s.db, id, from, to, now)
	if err != nil {
		return nil, err
	}
	if !updated {
		// Lost a race with a concurrent transition.
		return nil, domain.ErrInvalidTransition
	}
	link.Status = to
	link.UpdatedAt = now
	return link, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.PaymentLink, error) {
	link, err := s.repo.Find(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if link == nil {
		return nil, domain.ErrLinkNotFound
	}
	return link, nil
}

func (s *Service) MarkPaidTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) (bool, error) {
	return s.repo.UpdateStatus(ctx, tx, id, domain.StatusOpen, domain.StatusPaid, s.clock.Now())
}

func (s *Service) ExpireIfDue(ctx context.Context, id snowflake.ID) (bool, error) {
	link, err := s.repo.Find(ctx, s.db, id)
	if err != nil {
		return false, err
	}
	if link == nil {
		return false, domain.ErrLinkNotFound
	}

	now := s.clock.Now()
	if link.Status != domain.StatusOpen || !link.ExpiredBy(now) {
		return false, nil
	}

	expired := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		expired, txErr = s.expireLink(ctx, tx, link, now)
		return txErr
	})
	if err != nil {
		return false, err
	}
	if expired && s.obsMetrics != nil {
		s.obsMetrics.RecordLinkExpired(ctx, "lazy")
	}
	return expired, nil
}

func (s *Service) ExpireDueBatch(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}

	now := s.clock.Now()
	count := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		links, err := s.repo.FindDueForExpiry(ctx, tx, now, limit)
		if err != nil {
			return err
		}
		for i := range links {
			expired, err := s.expireLink(ctx, tx, &links[i], now)
			if err != nil {
				return err
			}
			if expired {
				count++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if count > 0 && s.obsMetrics != nil {
		for i := 0; i < count; i++ {
			s.obsMetrics.RecordLinkExpired(ctx, "sweep")
		}
	}
	return count, nil
}

// expireLink performs the guarded OPEN->EXPIRED transition and, only for the
// winner, appends the EXPIRED event. The event insert is itself idempotent,
// so lazy check and sweep converge on a single event.
func (s *Service) expireLink(ctx context.Context, tx *gorm.DB, link *domain.PaymentLink, now time.Time) (bool, error) {
	expired, err := s.repo.ExpireDue(ctx, tx, link.ID, now)
	if err != nil {
		return false, err
	}
	if !expired {
		return false, nil
	}

	event := &eventdomain.PaymentEvent{
		ID:             s.genID.Generate(),
		OrgID:          link.OrgID,
		PaymentLinkID:  link.ID,
		EventType:      eventdomain.EventTypeExpired,
		AmountReceived: decimal.Zero,
		Currency:       link.Currency,
		Reason:         eventdomain.ReasonLinkExpired,
		CreatedAt:      now,
	}
	if _, err := s.eventRepo.Insert(ctx, tx, event); err != nil {
		return false, err
	}
	return true, nil
}
