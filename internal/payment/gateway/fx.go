package gateway

import (
	"net/http"
	"strings"

	"github.com/smallbiznis/invoicepay/internal/config"
	"github.com/smallbiznis/invoicepay/internal/payment/domain"
	"github.com/smallbiznis/invoicepay/internal/payment/gateway/razorpay"
	"github.com/smallbiznis/invoicepay/internal/payment/gateway/stripe"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment.gateway",
	fx.Provide(NewRegistryFromConfig),
)

// NewRegistryFromConfig registers every gateway with credentials configured.
func NewRegistryFromConfig(cfg config.Config, log *zap.Logger) domain.GatewayRegistry {
	log = log.Named("payment.gateway")
	httpClient := &http.Client{Timeout: cfg.Gateways.Timeout}

	providers := []Provider{}
	gw := cfg.Gateways
	if strings.TrimSpace(gw.StripeAPIKey) != "" || strings.TrimSpace(gw.StripeWebhookSecret) != "" {
		providers = append(providers, stripe.New(stripe.Config{
			APIKey:        gw.StripeAPIKey,
			WebhookSecret: gw.StripeWebhookSecret,
			BaseURL:       gw.StripeBaseURL,
			HTTPClient:    httpClient,
		}))
	}
	if strings.TrimSpace(gw.RazorpayKeyID) != "" || strings.TrimSpace(gw.RazorpayWebhookSecret) != "" {
		providers = append(providers, razorpay.New(razorpay.Config{
			KeyID:         gw.RazorpayKeyID,
			KeySecret:     gw.RazorpayKeySecret,
			WebhookSecret: gw.RazorpayWebhookSecret,
			BaseURL:       gw.RazorpayBaseURL,
			HTTPClient:    httpClient,
		}))
	}

	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, p.Provider())
	}
	if len(names) == 0 {
		log.Warn("no payment gateways configured; online payments and refunds through gateways are unavailable")
	} else {
		log.Info("payment gateways registered", zap.Strings("providers", names))
	}

	return NewRegistry(providers...)
}
