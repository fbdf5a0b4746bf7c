package gateway

import (
	"strings"

	"github.com/smallbiznis/invoicepay/internal/payment/domain"
)

// Provider is a gateway that both moves money and receives webhooks.
type Provider interface {
	domain.Gateway
	domain.WebhookAdapter
}

type Registry struct {
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	registry := &Registry{providers: map[string]Provider{}}
	for _, provider := range providers {
		if provider == nil {
			continue
		}
		name := normalize(provider.Provider())
		if name == "" {
			continue
		}
		registry.providers[name] = provider
	}
	return registry
}

func (r *Registry) ProviderExists(provider string) bool {
	if r == nil {
		return false
	}
	_, ok := r.providers[normalize(provider)]
	return ok
}

func (r *Registry) Gateway(provider string) (domain.Gateway, error) {
	if r == nil {
		return nil, domain.ErrInvalidProvider
	}
	p, ok := r.providers[normalize(provider)]
	if !ok {
		return nil, domain.ErrInvalidProvider
	}
	return p, nil
}

func (r *Registry) Webhook(provider string) (domain.WebhookAdapter, error) {
	if r == nil {
		return nil, domain.ErrInvalidProvider
	}
	p, ok := r.providers[normalize(provider)]
	if !ok {
		return nil, domain.ErrInvalidProvider
	}
	return p, nil
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
