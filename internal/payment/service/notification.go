package service

import (
	"bytes"
	"context"
	"embed"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	invoicedomain "github.com/smallbiznis/invoicepay/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/invoicepay/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/invoicepay/internal/payment/domain"
	"go.uber.org/zap"
)

//go:embed templates/*
var templateFS embed.FS

var (
	thankYouHTML = htmltemplate.Must(htmltemplate.ParseFS(templateFS, "templates/thank_you.html"))
	thankYouText = texttemplate.Must(texttemplate.ParseFS(templateFS, "templates/thank_you.txt"))
)

type thankYouData struct {
	InvoiceNumber string
	CustomerName  string
	Currency      string
	AmountPaid    string
	PaymentAmount string
	PaymentDate   string
	Method        string
	PaymentNumber string
}

// sendThankYou runs after commit. A delivery failure releases the claimed
// flag so a later payment event can retry; it never fails the operation.
func (s *Service) sendThankYou(ctx context.Context, invoice *invoicedomain.Invoice, payment *paymentdomain.Payment) {
	subject, htmlBody, textBody, err := s.renderThankYou(invoice, payment)
	if err == nil {
		err = s.notifier.SendEmail(ctx, []string{invoice.CustomerEmail}, subject, htmlBody, textBody)
	}
	if err == nil {
		s.obsMetrics.RecordNotification(ctx, obsmetrics.OutcomeSuccess)
		return
	}

	s.obsMetrics.RecordNotification(ctx, obsmetrics.OutcomeError)
	s.logger(ctx).Warn("failed to send payment thank-you email",
		zap.String("invoice_id", invoice.ID.String()),
		zap.Error(err),
	)
	if _, releaseErr := s.invoiceRepo.SetThankYouSent(ctx, s.db, invoice.OrgID, invoice.ID, false); releaseErr != nil {
		s.logger(ctx).Warn("failed to release thank-you flag",
			zap.String("invoice_id", invoice.ID.String()),
			zap.Error(releaseErr),
		)
		return
	}
	invoice.ThankYouSent = false
}

func (s *Service) renderThankYou(invoice *invoicedomain.Invoice, payment *paymentdomain.Payment) (string, string, string, error) {
	data := thankYouData{
		InvoiceNumber: invoice.InvoiceNumber,
		CustomerName:  strings.TrimSpace(invoice.CustomerName),
		Currency:      invoice.Currency,
		AmountPaid:    invoice.AmountPaid.StringFixed(2),
		PaymentAmount: payment.Amount.StringFixed(2),
		PaymentDate:   payment.PaymentDate.Format("2 Jan 2006"),
		Method:        payment.Method,
		PaymentNumber: payment.PaymentNumber,
	}

	subjectTmpl, err := texttemplate.New("subject").Parse(s.payments.Get().ThankYouSubject)
	if err != nil {
		return "", "", "", err
	}
	var subject, htmlBody, textBody bytes.Buffer
	if err := subjectTmpl.Execute(&subject, data); err != nil {
		return "", "", "", err
	}
	if err := thankYouHTML.Execute(&htmlBody, data); err != nil {
		return "", "", "", err
	}
	if err := thankYouText.Execute(&textBody, data); err != nil {
		return "", "", "", err
	}
	return strings.TrimSpace(subject.String()), htmlBody.String(), textBody.String(), nil
}
