package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/invoicepay/internal/config"
	historydomain "github.com/smallbiznis/invoicepay/internal/history/domain"
	"github.com/smallbiznis/invoicepay/internal/observability"
	obslogger "github.com/smallbiznis/invoicepay/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/invoicepay/internal/observability/metrics"
	obstracing "github.com/smallbiznis/invoicepay/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/invoicepay/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(log, classifyErrorForLog))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, log *zap.Logger, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Development() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(log, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine     *gin.Engine
	log        *zap.Logger
	paymentSvc paymentdomain.Service
	webhookSvc paymentdomain.WebhookService
	historySvc historydomain.Service
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Log        *zap.Logger
	PaymentSvc paymentdomain.Service
	WebhookSvc paymentdomain.WebhookService
	HistorySvc historydomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		log:        p.Log.Named("http.server"),
		paymentSvc: p.PaymentSvc,
		webhookSvc: p.WebhookSvc,
		historySvc: p.HistorySvc,
	}

	svc.registerAPIRoutes()
	svc.registerWebhookRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")
	api.Use(IdentityContext())

	// -------- Payments --------
	api.POST("/payments", s.CreatePayment)
	api.GET("/payments/:id", s.GetPayment)
	api.PATCH("/payments/:id", s.UpdatePayment)
	api.DELETE("/payments/:id", s.DeletePayment)
	api.POST("/payments/:id/refund", s.RefundPayment)

	// -------- Invoices --------
	api.GET("/invoices/:id/payments", s.ListInvoicePayments)
	api.GET("/invoices/:id/history", s.ListInvoiceHistory)
	api.POST("/invoices/:id/payment-intents", s.CreatePaymentIntent)
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/:provider", s.HandlePaymentWebhook)
}
