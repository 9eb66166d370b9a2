package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dhawalhost/scimbridge/internal/audit"
	"github.com/dhawalhost/scimbridge/internal/connector"
	"github.com/dhawalhost/scimbridge/pkg/database"
	"github.com/dhawalhost/scimbridge/pkg/middleware"
	"github.com/dhawalhost/scimbridge/pkg/observability"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the host API over the configured connectors.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	_ = a.v.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	log := a.logger
	scfg := a.cfg.Server

	shutdownTracer, err := observability.InitTracer(ctx, a.cfg.Tracing, log)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(sctx); err != nil {
			log.Warn("Tracer shutdown failed", zap.Error(err))
		}
	}()

	reg := observability.NewRegistry()
	registry, err := a.registry(reg)
	if err != nil {
		return err
	}
	defer func() {
		if err := registry.Close(); err != nil {
			log.Warn("Closing connectors failed", zap.Error(err))
		}
	}()

	var (
		auditSvc audit.Service
		store    connector.Store
	)
	if a.cfg.Database.DSN != "" {
		db, err := database.NewConnection(ctx, a.cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := audit.EnsureSchema(ctx, db); err != nil {
			return err
		}
		if err := connector.EnsureStoreSchema(ctx, db); err != nil {
			return err
		}
		auditSvc = audit.NewService(audit.NewStore(db))
		store = connector.NewStore(db)
		n, err := connector.RestoreConnectors(ctx, registry, store, log)
		if err != nil {
			return err
		}
		log.Info("Audit journal enabled", zap.Int("restored_connectors", n))
	}

	svc := connector.NewService(registry, connector.ServiceOptions{
		Audit:      auditSvc,
		Store:      store,
		Logger:     log,
		MaxResults: scfg.MaxResults,
	})

	var limiter *middleware.IPRateLimiter
	if scfg.RateLimit > 0 {
		limiter = middleware.NewIPRateLimiter(rate.Limit(scfg.RateLimit), scfg.RateBurst, 0)
		done := make(chan struct{})
		defer close(done)
		go limiter.Run(time.Minute, done)
	}

	router := a.router(reg, limiter)
	api := router.Group("/api/v1", middleware.BearerAuth(scfg.Token))
	connector.NewHTTPHandler(svc, log).RegisterRoutes(api)
	if auditSvc != nil {
		audit.NewHTTPHandler(auditSvc, log).RegisterRoutes(api)
	}

	srv := &http.Server{
		Addr:              scfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server starting", zap.String("addr", scfg.Addr), zap.Int("connectors", len(registry.List())))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down HTTP server")
	sctx, cancel := context.WithTimeout(context.Background(), scfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}

// router builds the engine with its middleware chain and the unauthenticated
// health and metrics routes. A nil limiter disables rate limiting.
func (a *app) router(reg *prometheus.Registry, limiter *middleware.IPRateLimiter) *gin.Engine {
	if !a.cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestID(middleware.RequestIDConfig{}),
		middleware.SecurityHeaders(),
	)
	if origins := a.cfg.Server.CORSOrigins; len(origins) > 0 {
		cc := cors.Config{
			AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
			AllowHeaders:  []string{"Authorization", "Content-Type", middleware.DefaultRequestIDHeader},
			ExposeHeaders: []string{middleware.DefaultRequestIDHeader},
			MaxAge:        12 * time.Hour,
		}
		if len(origins) == 1 && origins[0] == "*" {
			cc.AllowAllOrigins = true
		} else {
			cc.AllowOrigins = origins
		}
		router.Use(cors.New(cc))
	}
	router.Use(
		otelgin.Middleware(a.cfg.Tracing.ServiceName),
		middleware.Metrics(observability.NewMetrics(reg)),
	)
	if limiter != nil {
		router.Use(middleware.RateLimit(limiter))
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(observability.PrometheusHandler(reg)))
	return router
}
