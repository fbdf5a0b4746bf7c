package invoicelock

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/invoicepay/internal/config"
	"github.com/smallbiznis/invoicepay/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("invoicelock",
	fx.Provide(NewLocker),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Payments  *config.PaymentsConfigHolder
	Metrics   metrics.Config
	Log       *zap.Logger
}

// NewLocker picks redis when configured so multiple replicas share locks.
func NewLocker(p Params) Locker {
	lockMetrics := metrics.LocksWithConfig(p.Metrics)
	if !p.Config.Redis.Enabled() {
		p.Log.Info("invoice lock using in-process backend")
		return Instrumented(NewLocalLocker(), metrics.LockBackendLocal, lockMetrics)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     p.Config.Redis.Addr,
		Password: p.Config.Redis.Password,
		DB:       p.Config.Redis.DB,
	})
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	p.Log.Info("invoice lock using redis backend", zap.String("addr", p.Config.Redis.Addr))
	return Instrumented(NewRedisLocker(client, p.Payments, p.Log), metrics.LockBackendRedis, lockMetrics)
}
