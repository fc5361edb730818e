package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/railpost/internal/config"
	confirmationdomain "github.com/smallbiznis/railpost/internal/confirmation/domain"
	linkdomain "github.com/smallbiznis/railpost/internal/paymentlink/domain"
	"github.com/smallbiznis/railpost/internal/providers/cardrail"
	"github.com/smallbiznis/railpost/internal/providers/ledgerrail"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(CorrelationMiddleware())
	r.Use(TenantMiddleware())
	return r
}

type Params struct {
	fx.In

	Engine     *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	GenID      *snowflake.Node
	LinkSvc    linkdomain.Service
	ConfirmSvc confirmationdomain.Service
	CardRail   *cardrail.Client
	LedgerRail *ledgerrail.Client
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	log        *zap.Logger
	genID      *snowflake.Node
	linkSvc    linkdomain.Service
	confirmSvc confirmationdomain.Service
	cardRail   *cardrail.Client
	ledgerRail *ledgerrail.Client
}

func NewServer(p Params) *Server {
	s := &Server{
		engine:     p.Engine,
		cfg:        p.Cfg,
		log:        p.Log.Named("http.server"),
		genID:      p.GenID,
		linkSvc:    p.LinkSvc,
		confirmSvc: p.ConfirmSvc,
		cardRail:   p.CardRail,
		ledgerRail: p.LedgerRail,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.health)
	s.engine.GET("/healthz/ledger-rail", s.ledgerRailHealth)

	v1 := s.engine.Group("/v1")
	v1.POST("/payment-links", s.createPaymentLink)
	v1.GET("/payment-links/:id", s.getPaymentLink)
	v1.POST("/payment-links/:id/activate", s.activatePaymentLink)
	v1.POST("/payment-links/:id/cancel", s.cancelPaymentLink)
	v1.POST("/payment-links/:id/verify", s.verifyPayment)
	v1.POST("/webhooks/:provider", s.webhookConfirm)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, engine *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: engine,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
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
