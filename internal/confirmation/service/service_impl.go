package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/railpost/internal/clock"
	"github.com/smallbiznis/railpost/internal/confirmation/domain"
	ledgerdomain "github.com/smallbiznis/railpost/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/railpost/internal/observability/metrics"
	eventdomain "github.com/smallbiznis/railpost/internal/paymentevent/domain"
	linkdomain "github.com/smallbiznis/railpost/internal/paymentlink/domain"
	"github.com/smallbiznis/railpost/internal/rates"
	resolverdomain "github.com/smallbiznis/railpost/internal/resolver/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Transaction-scoped sentinels. Both roll the posting back; the caller maps
// them onto the result type.
var (
	errAlreadyConfirmed = errors.New("confirmation_already_recorded")
	errConcurrentUpdate = errors.New("confirmation_concurrent_update")
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	LinkSvc    linkdomain.Service
	Resolver   resolverdomain.Service
	Ledger     ledgerdomain.Service
	EventRepo  eventdomain.Repository
	Rates      rates.Provider      `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	linkSvc    linkdomain.Service
	resolver   resolverdomain.Service
	ledger     ledgerdomain.Service
	eventRepo  eventdomain.Repository
	rates      rates.Provider
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("confirmation.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		linkSvc:    p.LinkSvc,
		resolver:   p.Resolver,
		ledger:     p.Ledger,
		eventRepo:  p.EventRepo,
		rates:      p.Rates,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Confirm(ctx context.Context, input domain.ConfirmInput) (*domain.ConfirmResult, error) {
	input.ProviderRef = strings.TrimSpace(input.ProviderRef)
	input.Currency = strings.ToUpper(strings.TrimSpace(input.Currency))
	if input.PaymentLinkID == 0 || input.ProviderRef == "" || !input.AmountReceived.IsPositive() {
		return &domain.ConfirmResult{Reason: domain.ReasonInvalidInput, Message: "missing or invalid confirmation fields"}, nil
	}
	if input.Provider != eventdomain.ProviderCardRail && input.Provider != eventdomain.ProviderLedgerRail {
		return &domain.ConfirmResult{Reason: domain.ReasonInvalidInput, Message: fmt.Sprintf("unknown provider %q", input.Provider)}, nil
	}

	// Cheap idempotency pre-check before taking the lock. Redeliveries of a
	// settled payment are the common case, not the exception.
	if result, err := s.findProcessed(ctx, input); result != nil || err != nil {
		return result, err
	}

	validation, err := s.resolver.ValidatePaymentAttempt(ctx, input.PaymentLinkID)
	if err != nil {
		return nil, err
	}
	if !validation.Allowed {
		return s.reject(ctx, validation, input)
	}
	link := validation.Link

	if input.Currency != "" && input.Currency != link.Currency {
		// Ledger-rail settlements arrive in the rail's asset; price them
		// into the link currency before variance classification. This is a
		// network call, so it happens before the lock is taken.
		if input.Provider != eventdomain.ProviderLedgerRail || s.rates == nil {
			return &domain.ConfirmResult{
				Reason:  domain.ReasonCurrencyMismatch,
				Message: fmt.Sprintf("link is denominated in %s, received %s", link.Currency, input.Currency),
			}, nil
		}
		rate, err := s.rates.Rate(ctx, input.Currency, link.Currency)
		if err != nil {
			s.log.Warn("rate lookup failed",
				zap.Int64("payment_link_id", int64(link.ID)),
				zap.String("base", input.Currency),
				zap.String("quote", link.Currency),
				zap.Error(err),
			)
			return &domain.ConfirmResult{
				Reason:   domain.ReasonCurrencyMismatch,
				CanRetry: true,
				Message:  fmt.Sprintf("could not price %s into %s", input.Currency, link.Currency),
			}, nil
		}
		input.AmountReceived = input.AmountReceived.Mul(rate)
		input.Currency = link.Currency
	}

	token, ok := s.resolver.AcquirePaymentLock(ctx, link.ID)
	if !ok {
		// A concurrent settlement holds the link; it is converging to the
		// same idempotent outcome, so the provider just retries later.
		return &domain.ConfirmResult{
			Reason:   domain.ReasonLockContention,
			CanRetry: true,
			Message:  "payment link is being settled by a concurrent request",
		}, nil
	}
	defer s.resolver.ReleasePaymentLock(ctx, link.ID, token)

	// Re-check under the lock: the pre-check races with in-flight winners.
	dup, err := s.resolver.CheckDuplicatePayment(ctx, link.ID, input.ProviderRef)
	if err != nil {
		return nil, err
	}
	if dup.IsDuplicate {
		return &domain.ConfirmResult{
			Success:          true,
			AlreadyProcessed: true,
			PaymentEventID:   dup.EventID,
			Message:          dup.Message,
		}, nil
	}

	var overpayment *resolverdomain.OverpaymentResult
	switch input.AmountReceived.Cmp(link.Amount) {
	case -1:
		under, err := s.resolver.HandleUnderpayment(ctx, link, attemptInfo(input))
		if err != nil {
			return nil, err
		}
		return &domain.ConfirmResult{
			Reason:   domain.ReasonUnderpayment,
			CanRetry: under.CanRetry,
			Message:  under.Message,
		}, nil
	case 1:
		overpayment = s.resolver.HandleOverpayment(link.Amount, input.AmountReceived)
	}

	result, err := s.settle(ctx, link, input, overpayment)
	if errors.Is(err, errAlreadyConfirmed) {
		if replay, ferr := s.findProcessed(ctx, input); replay != nil || ferr != nil {
			return replay, ferr
		}
		return nil, err
	}
	if errors.Is(err, errConcurrentUpdate) {
		return &domain.ConfirmResult{
			Reason:   domain.ReasonConcurrentUpdate,
			CanRetry: true,
			Message:  "payment link changed state during settlement",
		}, nil
	}
	if err != nil {
		return nil, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordPaymentEvent(ctx, input.Provider, "confirmed")
	}
	s.log.Info("payment confirmed",
		zap.Int64("payment_link_id", int64(link.ID)),
		zap.String("provider", input.Provider),
		zap.String("provider_ref", input.ProviderRef),
		zap.String("correlation_id", input.CorrelationID),
	)
	return result, nil
}

// findProcessed resolves an existing CONFIRMED event for the notification,
// first by (link, providerRef) and then by correlation id.
func (s *Service) findProcessed(ctx context.Context, input domain.ConfirmInput) (*domain.ConfirmResult, error) {
	existing, err := s.eventRepo.FindConfirmed(ctx, s.db, input.PaymentLinkID, input.ProviderRef)
	if err != nil {
		return nil, err
	}
	if existing == nil && input.CorrelationID != "" {
		existing, err = s.eventRepo.FindConfirmedByCorrelation(ctx, s.db, input.CorrelationID)
		if err != nil {
			return nil, err
		}
	}
	if existing == nil {
		return nil, nil
	}
	return &domain.ConfirmResult{
		Success:          true,
		AlreadyProcessed: true,
		PaymentEventID:   existing.ID,
		Message:          "payment already processed",
	}, nil
}

func (s *Service) reject(ctx context.Context, validation *resolverdomain.AttemptValidation, input domain.ConfirmInput) (*domain.ConfirmResult, error) {
	result := &domain.ConfirmResult{
		Reason:  validation.Reason,
		Message: fmt.Sprintf("payment link is not payable (status %s)", validation.Status),
	}
	if validation.Reason == resolverdomain.ReasonNotFound {
		result.Message = "payment link not found"
		return result, nil
	}
	if validation.Reason != resolverdomain.ReasonExpired {
		return result, nil
	}

	expired, err := s.resolver.HandleExpiredLinkPayment(ctx, input.PaymentLinkID, attemptInfo(input))
	if err != nil {
		return nil, err
	}
	result.CanRenew = expired.CanRenew
	result.RenewAmount = expired.Amount
	result.RenewNotes = expired.Description
	if expired.CanRenew {
		result.Message = fmt.Sprintf("payment link expired; a replacement for %s %s can be issued", expired.Amount, expired.Currency)
	} else {
		result.Message = "payment link expired"
	}
	return result, nil
}

// settle writes the ledger posting, the CONFIRMED event, and the PAID
// transition in one transaction. Any sentinel rolls all three back.
func (s *Service) settle(ctx context.Context, link *linkdomain.PaymentLink, input domain.ConfirmInput, overpayment *resolverdomain.OverpaymentResult) (*domain.ConfirmResult, error) {
	result := &domain.ConfirmResult{Success: true}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		posting, err := s.ledger.PostJournalEntriesTx(ctx, tx, ledgerdomain.PostInput{
			Entries:        settlementEntries(link, input, overpayment),
			PaymentLinkID:  link.ID,
			OrgID:          link.OrgID,
			IdempotencyKey: fmt.Sprintf("confirm:%d:%s", link.ID, input.ProviderRef),
			CorrelationID:  input.CorrelationID,
		})
		if err != nil {
			return err
		}
		result.JournalEntryID = posting.EntryID

		event := &eventdomain.PaymentEvent{
			ID:             s.genID.Generate(),
			OrgID:          link.OrgID,
			PaymentLinkID:  link.ID,
			EventType:      eventdomain.EventTypeConfirmed,
			Provider:       input.Provider,
			ProviderRef:    input.ProviderRef,
			AmountReceived: input.AmountReceived,
			Currency:       link.Currency,
			CorrelationID:  input.CorrelationID,
			Metadata:       input.Metadata,
			CreatedAt:      s.clock.Now(),
		}
		if overpayment != nil {
			event.Reason = eventdomain.ReasonOverpayment
			result.RequiresReview = overpayment.RequiresReview
			result.Message = overpayment.Message
		}
		inserted, err := s.eventRepo.Insert(ctx, tx, event)
		if err != nil {
			return err
		}
		if !inserted {
			return errAlreadyConfirmed
		}
		result.PaymentEventID = event.ID

		paid, err := s.linkSvc.MarkPaidTx(ctx, tx, link.ID)
		if err != nil {
			return err
		}
		if !paid {
			return errConcurrentUpdate
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// settlementEntries builds the balanced double entry for the received funds.
// An overpayment splits the credit side between the receivable and a customer
// credit liability so the books carry the excess explicitly.
func settlementEntries(link *linkdomain.PaymentLink, input domain.ConfirmInput, overpayment *resolverdomain.OverpaymentResult) []ledgerdomain.EntryInput {
	description := fmt.Sprintf("settlement of link %d via %s (%s)", link.ID, input.Provider, input.ProviderRef)
	entries := []ledgerdomain.EntryInput{
		{
			AccountCode: ledgerdomain.AccountCodeCash,
			Direction:   ledgerdomain.DirectionDebit,
			Amount:      input.AmountReceived,
			Currency:    link.Currency,
			Description: description,
		},
		{
			AccountCode: ledgerdomain.AccountCodeAccountsReceivable,
			Direction:   ledgerdomain.DirectionCredit,
			Amount:      link.Amount,
			Currency:    link.Currency,
			Description: description,
		},
	}
	if overpayment != nil {
		entries = append(entries, ledgerdomain.EntryInput{
			AccountCode: ledgerdomain.AccountCodeCustomerCredit,
			Direction:   ledgerdomain.DirectionCredit,
			Amount:      overpayment.Excess,
			Currency:    link.Currency,
			Description: fmt.Sprintf("overpayment on link %d (%s)", link.ID, input.ProviderRef),
		})
	}
	return entries
}

func attemptInfo(input domain.ConfirmInput) resolverdomain.AttemptInfo {
	return resolverdomain.AttemptInfo{
		Provider:       input.Provider,
		ProviderRef:    input.ProviderRef,
		AmountReceived: input.AmountReceived,
		Currency:       input.Currency,
		CorrelationID:  input.CorrelationID,
	}
}
