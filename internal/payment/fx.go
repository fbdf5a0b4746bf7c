package payment

import (
	"github.com/smallbiznis/invoicepay/internal/payment/domain"
	"github.com/smallbiznis/invoicepay/internal/payment/gateway"
	"github.com/smallbiznis/invoicepay/internal/payment/repository"
	paymentservice "github.com/smallbiznis/invoicepay/internal/payment/service"
	"github.com/smallbiznis/invoicepay/internal/payment/webhook"
	"github.com/smallbiznis/invoicepay/internal/providers/email"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	gateway.Module,
	fx.Provide(repository.Provide),
	fx.Provide(func(provider email.Provider) domain.Notifier { return provider }),
	fx.Provide(paymentservice.NewService),
	fx.Provide(webhook.NewService),
)
