package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	historydomain "github.com/smallbiznis/invoicepay/internal/history/domain"
	paymentdomain "github.com/smallbiznis/invoicepay/internal/payment/domain"
	"github.com/smallbiznis/invoicepay/pkg/db/pagination"
)

func (s *Server) ListInvoicePayments(c *gin.Context) {
	invoiceID, ok := parseIDParam(c)
	if !ok {
		return
	}

	payments, err := s.paymentSvc.ListInvoicePayments(c.Request.Context(), paymentdomain.ListPaymentsRequest{
		InvoiceID: invoiceID,
		Statuses:  parseStatuses(c.Query("status")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": payments})
}

func (s *Server) ListInvoiceHistory(c *gin.Context) {
	invoiceID, ok := parseIDParam(c)
	if !ok {
		return
	}

	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	resp, err := s.historySvc.ListForInvoice(c.Request.Context(), historydomain.ListRequest{
		Pagination: page,
		InvoiceID:  invoiceID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Entries, "page_info": resp.PageInfo})
}

type paymentIntentRequest struct {
	Amount  *decimal.Decimal `json:"amount"`
	Gateway string           `json:"gateway" binding:"omitempty,max=32"`
	Method  string           `json:"method" binding:"omitempty,max=64"`
}

func (s *Server) CreatePaymentIntent(c *gin.Context) {
	invoiceID, ok := parseIDParam(c)
	if !ok {
		return
	}

	var req paymentIntentRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, bindError(err))
			return
		}
	}

	intent, err := s.paymentSvc.CreatePaymentIntent(c.Request.Context(), paymentdomain.PaymentIntentRequest{
		InvoiceID: invoiceID,
		Amount:    req.Amount,
		Gateway:   req.Gateway,
		Method:    req.Method,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": intent})
}
