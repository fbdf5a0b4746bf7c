package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	paymentdomain "github.com/smallbiznis/invoicepay/internal/payment/domain"
)

func parseIDParam(c *gin.Context) (snowflake.ID, bool) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || parsed == 0 {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return 0, false
	}
	return parsed, true
}

// parseStatuses reads a comma separated status filter. Values are validated
// by the payment service.
func parseStatuses(value string) []paymentdomain.Status {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	statuses := lo.FilterMap(strings.Split(trimmed, ","), func(part string, _ int) (paymentdomain.Status, bool) {
		part = strings.ToLower(strings.TrimSpace(part))
		return paymentdomain.Status(part), part != ""
	})
	return lo.Uniq(statuses)
}
