package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/invoicepay/internal/auditcontext"
	"github.com/smallbiznis/invoicepay/internal/orgcontext"
)

// Identity headers are set by the trusted gateway in front of this service.
const (
	HeaderOrg      = "X-Org-ID"
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

// IdentityContext moves the caller identity from headers into the request
// context. Every API call must name a user; only webhooks act as system.
func IdentityContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if userID == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := c.Request.Context()
		if raw := strings.TrimSpace(c.GetHeader(HeaderOrg)); raw != "" {
			orgID, ok := orgcontext.ParseOrgID(raw)
			if !ok {
				AbortWithError(c, newValidationError("org_id", "invalid_organization", "invalid organization"))
				return
			}
			ctx = orgcontext.WithOrgID(ctx, orgID)
		}
		ctx = auditcontext.WithActor(ctx, auditcontext.ActorTypeUser, userID)
		ctx = auditcontext.WithRole(ctx, c.GetHeader(HeaderUserRole))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
