package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	batchdomain "github.com/lotefact/lotefact/internal/batch/domain"
	"github.com/lotefact/lotefact/internal/config"
	invoicedomain "github.com/lotefact/lotefact/internal/invoice/domain"
	issuerdomain "github.com/lotefact/lotefact/internal/issuer/domain"
	receiverdomain "github.com/lotefact/lotefact/internal/receiver/domain"
	workerdomain "github.com/lotefact/lotefact/internal/worker/domain"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin() *gin.Engine {
	return NewEngine()
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server starting", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
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
	engine      *gin.Engine
	batchSvc    batchdomain.Service
	invoiceSvc  invoicedomain.Service
	issuerSvc   issuerdomain.Service
	receiverSvc receiverdomain.Service
	queue       workerdomain.Queue
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	BatchSvc    batchdomain.Service
	InvoiceSvc  invoicedomain.Service
	IssuerSvc   issuerdomain.Service
	ReceiverSvc receiverdomain.Service
	Queue       workerdomain.Queue
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		batchSvc:    p.BatchSvc,
		invoiceSvc:  p.InvoiceSvc,
		issuerSvc:   p.IssuerSvc,
		receiverSvc: p.ReceiverSvc,
		queue:       p.Queue,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1")

	// -------- Batches --------
	api.GET("/batches", s.ListBatches)
	api.GET("/batches/:id", s.GetBatchByID)
	api.POST("/batches/:id/authorize", s.AuthorizeBatch)

	// -------- Invoices --------
	api.GET("/invoices", s.ListInvoices)
	api.GET("/invoices/:id", s.GetInvoiceByID)
	api.POST("/invoices/:id/reset", s.ResetInvoice)

	// -------- Issuers --------
	api.GET("/issuers/:id", s.GetIssuerByID)

	// -------- Receivers --------
	api.GET("/receivers/:id", s.GetReceiverByID)

	// -------- Tasks --------
	api.GET("/tasks/:id", s.GetTaskByID)
}
