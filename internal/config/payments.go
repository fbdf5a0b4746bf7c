package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// PaymentsConfig holds tunables of the payment lifecycle that can change at runtime.
type PaymentsConfig struct {
	GatewayTimeout      time.Duration `mapstructure:"gatewayTimeout"`
	LockWait            time.Duration `mapstructure:"lockWait"`
	LockTTL             time.Duration `mapstructure:"lockTTL"`
	PaymentNumberPrefix string        `mapstructure:"paymentNumberPrefix"`
	ThankYouEnabled     bool          `mapstructure:"thankYouEnabled"`
	ThankYouSubject     string        `mapstructure:"thankYouSubject"`
}

func DefaultPaymentsConfig() PaymentsConfig {
	return PaymentsConfig{
		GatewayTimeout:      15 * time.Second,
		LockWait:            10 * time.Second,
		LockTTL:             30 * time.Second,
		PaymentNumberPrefix: "PAY",
		ThankYouEnabled:     true,
		ThankYouSubject:     "Thank you for your payment - Invoice {{.InvoiceNumber}}",
	}
}

type PaymentsConfigHolder struct {
	current atomic.Value // holds PaymentsConfig
}

// StaticPaymentsConfig returns a holder that never reloads.
func StaticPaymentsConfig(cfg PaymentsConfig) *PaymentsConfigHolder {
	holder := &PaymentsConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewPaymentsConfigHolder() (*PaymentsConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("payments")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/invoicepay/config")
	v.AddConfigPath("/etc/invoicepay")
	v.AddConfigPath(".")

	v.SetEnvPrefix("INVOICEPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPaymentsConfig()
	v.SetDefault("payments.gatewayTimeout", defaults.GatewayTimeout)
	v.SetDefault("payments.lockWait", defaults.LockWait)
	v.SetDefault("payments.lockTTL", defaults.LockTTL)
	v.SetDefault("payments.paymentNumberPrefix", defaults.PaymentNumberPrefix)
	v.SetDefault("payments.thankYouEnabled", defaults.ThankYouEnabled)
	v.SetDefault("payments.thankYouSubject", defaults.ThankYouSubject)

	configFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		configFound = false
	}

	var cfg PaymentsConfig
	if err := v.UnmarshalKey("payments", &cfg); err != nil {
		return nil, err
	}
	if err := validatePaymentsConfig(cfg); err != nil {
		return nil, err
	}

	holder := StaticPaymentsConfig(cfg)
	if !configFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PaymentsConfig
		if err := v.UnmarshalKey("payments", &updated); err != nil {
			log.Printf("[payments-config] reload failed: %v", err)
			return
		}
		if err := validatePaymentsConfig(updated); err != nil {
			log.Printf("[payments-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[payments-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *PaymentsConfigHolder) Get() PaymentsConfig {
	if h == nil {
		return DefaultPaymentsConfig()
	}
	return h.current.Load().(PaymentsConfig)
}

func validatePaymentsConfig(cfg PaymentsConfig) error {
	if cfg.GatewayTimeout <= 0 {
		return errors.New("payments.gatewayTimeout must be positive")
	}
	if cfg.LockWait <= 0 {
		return errors.New("payments.lockWait must be positive")
	}
	if cfg.LockTTL <= 0 {
		return errors.New("payments.lockTTL must be positive")
	}
	if cfg.LockTTL <= cfg.GatewayTimeout {
		return errors.New("payments.lockTTL must exceed payments.gatewayTimeout")
	}
	if strings.TrimSpace(cfg.PaymentNumberPrefix) == "" {
		return errors.New("payments.paymentNumberPrefix cannot be empty")
	}
	if cfg.ThankYouEnabled && strings.TrimSpace(cfg.ThankYouSubject) == "" {
		return errors.New("payments.thankYouSubject cannot be empty when thank-you emails are enabled")
	}
	return nil
}
