package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/carebound/carebound/internal/compliance"
	"github.com/carebound/carebound/internal/config"
	"github.com/carebound/carebound/internal/ledger"
	ledgerdomain "github.com/carebound/carebound/internal/ledger/domain"
	"github.com/carebound/carebound/internal/observability"
	obsmiddleware "github.com/carebound/carebound/internal/observability/logger"
	obsmetrics "github.com/carebound/carebound/internal/observability/metrics"
	obstracing "github.com/carebound/carebound/internal/observability/tracing"
	"github.com/carebound/carebound/internal/payee"
	payeedomain "github.com/carebound/carebound/internal/payee/domain"
	"github.com/carebound/carebound/internal/payout"
	payoutdomain "github.com/carebound/carebound/internal/payout/domain"
	"github.com/carebound/carebound/internal/rail"
	"github.com/carebound/carebound/internal/reconciliation"
	"github.com/carebound/carebound/internal/referral"
	referraldomain "github.com/carebound/carebound/internal/referral/domain"
	"github.com/carebound/carebound/internal/settings"
	"github.com/carebound/carebound/internal/timesheet"
	timesheetdomain "github.com/carebound/carebound/internal/timesheet/domain"
	"github.com/carebound/carebound/internal/webhook"
	webhookdomain "github.com/carebound/carebound/internal/webhook/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	ledger.Module,
	payee.Module,
	compliance.Module,
	referral.Module,
	settings.Module,
	timesheet.Module,
	rail.Module,
	payout.Module,
	webhook.Module,
	reconciliation.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug: obsCfg.Debug(),
		Log:   log,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics, log *zap.Logger) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics, log)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
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
	engine       *gin.Engine
	cfg          config.Config
	genID        *snowflake.Node
	payeeSvc     payeedomain.Service
	timesheetSvc timesheetdomain.Service
	ledgerSvc    ledgerdomain.Service
	referralRepo referraldomain.Repository
	settingsSvc  settings.Service
	batcher      payoutdomain.Batcher
	orchestrator payoutdomain.Orchestrator
	gateway      webhookdomain.Gateway
	reporter     *reconciliation.Reporter
	obsMetrics   *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	GenID        *snowflake.Node
	PayeeSvc     payeedomain.Service
	TimesheetSvc timesheetdomain.Service
	LedgerSvc    ledgerdomain.Service
	ReferralRepo referraldomain.Repository
	SettingsSvc  settings.Service
	Batcher      payoutdomain.Batcher
	Orchestrator payoutdomain.Orchestrator
	Gateway      webhookdomain.Gateway
	Reporter     *reconciliation.Reporter
	ObsMetrics   *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		genID:        p.GenID,
		payeeSvc:     p.PayeeSvc,
		timesheetSvc: p.TimesheetSvc,
		ledgerSvc:    p.LedgerSvc,
		referralRepo: p.ReferralRepo,
		settingsSvc:  p.SettingsSvc,
		batcher:      p.Batcher,
		orchestrator: p.Orchestrator,
		gateway:      p.Gateway,
		reporter:     p.Reporter,
		obsMetrics:   p.ObsMetrics,
	}

	svc.registerWebhookRoutes()
	svc.registerAPIRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/:provider", s.HandleRailWebhook)
}

// registerAPIRoutes exposes the collaborator surface: the booking module
// drives the time-entry lifecycle through these.
func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	api.POST("/time-entries", s.RecordTimeEntry)
	api.GET("/time-entries/:id", s.GetTimeEntry)
	api.POST("/time-entries/:id/clock-out", s.ClockOutTimeEntry)
	api.POST("/time-entries/:id/seal", s.SealTimeEntry)

	api.GET("/referral-codes/:code", s.GetReferralCode)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")

	// -------- Payees --------
	admin.GET("/payees", s.ListPayees)
	admin.POST("/payees", s.CreatePayee)
	admin.GET("/payees/:id", s.GetPayeeByID)
	admin.PATCH("/payees/:id/payout-account", s.UpdatePayeePayoutAccount)
	admin.PATCH("/payees/:id/compliance", s.UpdatePayeeCompliance)
	admin.POST("/payees/:id/suspend", s.SuspendPayee)
	admin.POST("/payees/:id/reinstate", s.ReinstatePayee)

	// -------- Referral codes --------
	admin.POST("/referral-codes", s.CreateReferralCode)

	// -------- Payouts --------
	admin.GET("/payouts", s.ListPayouts)
	admin.GET("/payouts/holds", s.ListPayoutHolds)
	admin.GET("/payouts/:id", s.GetPayoutByID)
	admin.POST("/payouts/:id/cancel", s.CancelPayout)
	admin.POST("/payouts/:id/reverse", s.ReversePayout)

	// -------- Webhook review queue --------
	admin.GET("/webhook-events/review", s.ListWebhookEventsForReview)

	// -------- Reconciliation --------
	admin.GET("/reconciliation", s.ListBalanceSnapshots)
	admin.GET("/reconciliation/:date", s.GetBalanceSnapshot)
	admin.POST("/reconciliation/:date/rebuild", s.RebuildBalanceSnapshot)

	// -------- Ledger --------
	admin.GET("/ledger/balances/:account", s.GetLedgerBalance)

	// -------- Settings --------
	admin.GET("/settings", s.GetSettings)
	admin.PUT("/settings/:key", s.SetSetting)
}
