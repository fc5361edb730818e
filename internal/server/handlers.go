package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	confirmationdomain "github.com/smallbiznis/railpost/internal/confirmation/domain"
	eventdomain "github.com/smallbiznis/railpost/internal/paymentevent/domain"
	linkdomain "github.com/smallbiznis/railpost/internal/paymentlink/domain"
	"github.com/smallbiznis/railpost/internal/resilience"
	"github.com/smallbiznis/railpost/pkg/log/ctxlogger"
	"github.com/smallbiznis/railpost/pkg/tenantctx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type createLinkRequest struct {
	OrgID       int64           `json:"org_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description"`
	ExpiresAt   time.Time       `json:"expires_at"`
}

type linkResponse struct {
	ID          string          `json:"id"`
	OrgID       string          `json:"org_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description"`
	Status      string          `json:"status"`
	ExpiresAt   time.Time       `json:"expires_at"`
	CreatedAt   time.Time       `json:"created_at"`
}

func toLinkResponse(link *linkdomain.PaymentLink) linkResponse {
	return linkResponse{
		ID:          link.ID.String(),
		OrgID:       link.OrgID.String(),
		Amount:      link.Amount,
		Currency:    link.Currency,
		Description: link.Description,
		Status:      string(link.Status),
		ExpiresAt:   link.ExpiresAt,
		CreatedAt:   link.CreatedAt,
	}
}

func (s *Server) createPaymentLink(c *gin.Context) {
	var req createLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.OrgID == 0 {
		if orgID, ok := tenantctx.TenantID(c.Request.Context()); ok {
			req.OrgID = orgID
		}
	}

	link, err := s.linkSvc.Create(c.Request.Context(), linkdomain.CreateInput{
		OrgID:       snowflake.ID(req.OrgID),
		Amount:      req.Amount,
		Currency:    req.Currency,
		Description: req.Description,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, toLinkResponse(link))
}

func (s *Server) getPaymentLink(c *gin.Context) {
	id, ok := parseLinkID(c)
	if !ok {
		return
	}

	// Read-time lazy expiry keeps the observed status current even between
	// sweeps.
	if _, err := s.linkSvc.ExpireIfDue(c.Request.Context(), id); err != nil && !errors.Is(err, linkdomain.ErrLinkNotFound) {
		s.serverError(c, err)
		return
	}

	link, err := s.linkSvc.Get(c.Request.Context(), id)
	if errors.Is(err, linkdomain.ErrLinkNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "payment link not found"})
		return
	}
	if err != nil {
		s.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, toLinkResponse(link))
}

func (s *Server) activatePaymentLink(c *gin.Context) {
	s.transition(c, s.linkSvc.Activate)
}

func (s *Server) cancelPaymentLink(c *gin.Context) {
	s.transition(c, s.linkSvc.Cancel)
}

func (s *Server) transition(c *gin.Context, fn func(context.Context, snowflake.ID) (*linkdomain.PaymentLink, error)) {
	id, ok := parseLinkID(c)
	if !ok {
		return
	}

	link, err := fn(c.Request.Context(), id)
	switch {
	case errors.Is(err, linkdomain.ErrLinkNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "payment link not found"})
	case errors.Is(err, linkdomain.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		s.serverError(c, err)
	default:
		c.JSON(http.StatusOK, toLinkResponse(link))
	}
}

type webhookRequest struct {
	PaymentLinkID  int64           `json:"payment_link_id,string"`
	ProviderRef    string          `json:"provider_ref"`
	AmountReceived decimal.Decimal `json:"amount_received"`
	Currency       string          `json:"currency"`
	CorrelationID  string          `json:"correlation_id"`
	Metadata       datatypes.JSON  `json:"metadata"`
}

// webhookConfirm handles provider delivery. Business rejections return 200 so
// the provider stops redelivering; only genuinely retryable outcomes return a
// non-success status.
func (s *Server) webhookConfirm(c *gin.Context) {
	provider := c.Param("provider")
	if provider != eventdomain.ProviderCardRail && provider != eventdomain.ProviderLedgerRail {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
		return
	}

	var req webhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.WebhookCallTimeout)
	defer cancel()

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = ctxlogger.CorrelationID(ctx)
	}

	result, err := s.confirmSvc.Confirm(ctx, confirmationdomain.ConfirmInput{
		PaymentLinkID:  snowflake.ID(req.PaymentLinkID),
		Provider:       provider,
		ProviderRef:    req.ProviderRef,
		AmountReceived: req.AmountReceived,
		Currency:       req.Currency,
		CorrelationID:  correlationID,
		Metadata:       req.Metadata,
	})
	if err != nil {
		s.serverError(c, err)
		return
	}
	s.writeConfirmResult(c, result)
}

type verifyRequest struct {
	Provider    string `json:"provider"`
	ProviderRef string `json:"provider_ref"`
}

// verifyPayment re-queries the settlement rail for a reference the merchant
// believes has settled, then runs the normal confirmation path on the rail's
// answer.
func (s *Server) verifyPayment(c *gin.Context) {
	id, ok := parseLinkID(c)
	if !ok {
		return
	}

	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ProviderRef == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	link, err := s.linkSvc.Get(c.Request.Context(), id)
	if errors.Is(err, linkdomain.ErrLinkNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "payment link not found"})
		return
	}
	if err != nil {
		s.serverError(c, err)
		return
	}
	scope := strconv.FormatInt(int64(link.OrgID), 10)

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.VerifyCallBudget)
	defer cancel()

	var (
		amount   decimal.Decimal
		currency string
	)
	switch req.Provider {
	case eventdomain.ProviderCardRail:
		charge, err := s.cardRail.GetCharge(ctx, scope, req.ProviderRef)
		if err != nil {
			s.railError(c, err)
			return
		}
		if !charge.Captured {
			c.JSON(http.StatusConflict, gin.H{"error": "charge is not captured yet"})
			return
		}
		amount, currency = charge.Amount, charge.Currency
	case eventdomain.ProviderLedgerRail:
		tx, err := s.ledgerRail.GetTransaction(ctx, scope, req.ProviderRef)
		if err != nil {
			s.railError(c, err)
			return
		}
		if !tx.Finalized {
			c.JSON(http.StatusConflict, gin.H{"error": "transaction is not finalized yet"})
			return
		}
		amount, currency = tx.Amount, tx.AssetCode
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown provider"})
		return
	}

	result, err := s.confirmSvc.Confirm(ctx, confirmationdomain.ConfirmInput{
		PaymentLinkID:  id,
		Provider:       req.Provider,
		ProviderRef:    req.ProviderRef,
		AmountReceived: amount,
		Currency:       currency,
		CorrelationID:  ctxlogger.CorrelationID(ctx),
	})
	if err != nil {
		s.serverError(c, err)
		return
	}
	s.writeConfirmResult(c, result)
}

func (s *Server) writeConfirmResult(c *gin.Context, result *confirmationdomain.ConfirmResult) {
	body := gin.H{
		"success":           result.Success,
		"already_processed": result.AlreadyProcessed,
	}
	if result.PaymentEventID != 0 {
		body["payment_event_id"] = result.PaymentEventID.String()
	}
	if result.Message != "" {
		body["message"] = result.Message
	}
	if result.Success {
		if result.AlreadyProcessed {
			body["message"] = "payment already processed"
		}
		if result.RequiresReview {
			body["requires_review"] = true
		}
		c.JSON(http.StatusOK, body)
		return
	}

	body["reason"] = result.Reason
	// Only delivery-transient outcomes return non-success: the provider's
	// redelivery clock is the retry schedule. Business rejections (including
	// underpayment, where CanRetry addresses the payer) must return 200 or
	// the provider redelivers the same doomed notification forever.
	switch result.Reason {
	case confirmationdomain.ReasonLockContention, confirmationdomain.ReasonConcurrentUpdate:
		c.JSON(http.StatusServiceUnavailable, body)
		return
	case confirmationdomain.ReasonCurrencyMismatch:
		if result.CanRetry {
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
	}
	if result.CanRenew {
		body["can_renew"] = true
		body["renew_amount"] = result.RenewAmount
		body["renew_notes"] = result.RenewNotes
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) ledgerRailHealth(c *gin.Context) {
	status := s.ledgerRail.Health(c.Request.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"healthy":    status.Healthy,
		"lag_blocks": status.LagBlocks,
		"latency_ms": status.Latency.Milliseconds(),
	})
}

func (s *Server) railError(c *gin.Context, err error) {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "provider temporarily unavailable"})
		return
	}
	var provErr *resilience.ProviderError
	if errors.As(err, &provErr) {
		if provErr.StatusCode == http.StatusNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "reference not found at provider"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": provErr.Message})
		return
	}
	s.serverError(c, err)
}

func (s *Server) serverError(c *gin.Context, err error) {
	ctxlogger.WithContext(c.Request.Context(), s.log).Error("request failed",
		zap.String("path", c.FullPath()),
		zap.Error(err),
	)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func parseLinkID(c *gin.Context) (snowflake.ID, bool) {
	raw, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || raw == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payment link id"})
		return 0, false
	}
	return snowflake.ID(raw), true
}
