package email

import "context"

// Provider delivers a message with an HTML body and a plain text alternative.
type Provider interface {
	SendEmail(ctx context.Context, to []string, subject, htmlBody, textBody string) error
}

type NoOpProvider struct{}

func (p *NoOpProvider) SendEmail(ctx context.Context, to []string, subject, htmlBody, textBody string) error {
	return nil
}
