package server

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/smallbiznis/railpost/pkg/log/ctxlogger"
	"github.com/smallbiznis/railpost/pkg/tenantctx"
)

const (
	correlationHeader = "X-Correlation-ID"
	orgHeader         = "X-Org-ID"
)

// CorrelationMiddleware propagates the caller's correlation id, minting one
// when absent, so every log line and payment event can be traced back to the
// originating delivery.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader(correlationHeader)
		if cid == "" {
			cid = uuid.NewString()
		}
		ctx := ctxlogger.ContextWithCorrelationID(c.Request.Context(), cid)
		c.Request = c.Request.WithContext(ctx)
		c.Header(correlationHeader, cid)
		c.Next()
	}
}

// TenantMiddleware scopes the request to the calling organization when the
// gateway forwards one.
func TenantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw := c.GetHeader(orgHeader); raw != "" {
			if orgID, err := strconv.ParseInt(raw, 10, 64); err == nil && orgID > 0 {
				c.Request = c.Request.WithContext(tenantctx.WithTenantID(c.Request.Context(), orgID))
			}
		}
		c.Next()
	}
}
