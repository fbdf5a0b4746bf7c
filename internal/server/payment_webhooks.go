package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	obslogger "github.com/smallbiznis/invoicepay/internal/observability/logger"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	outcome, err := s.webhookSvc.IngestWebhook(c.Request.Context(), provider, payload, c.Request.Header)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	obslogger.With(c.Request.Context(), s.log).Debug("payment webhook handled", zap.String("provider", provider), zap.String("outcome", string(outcome)))
	c.JSON(http.StatusOK, gin.H{"status": outcome})
}
