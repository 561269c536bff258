package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hankstore/ebms_backend/config"
	"github.com/hankstore/ebms_backend/middlewares"
	"github.com/hankstore/ebms_backend/models"
	"github.com/hankstore/ebms_backend/obr"
	"github.com/hankstore/ebms_backend/utils"
	"github.com/hankstore/ebms_backend/workflow"
)

const defaultPort = "8080"

func main() {
	port := os.Getenv("EBMS_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()

	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	notifier := obr.NewStatusNotifier()
	declarer := obr.NewDeclarer(db, obr.NewClient(), obr.NewEnvTokenProvider(), notifier)
	queue := obr.NewQueue(db, declarer)

	dispatcher := workflow.NewDeclarationDispatcher(db, queue)
	go dispatcher.Run(sigCtx)

	r := buildRouter(logger, declarer, queue)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	select {
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	case err := <-serverErrCh:
		if err != nil && err != http.ErrServerClosed {
			logger.WithFields(logrus.Fields{"field": "server"}).Error(err)
		}
	}
}

func buildRouter(logger *logrus.Logger, declarer *obr.Declarer, queue *obr.Queue) *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(middlewares.IdentityMiddleware())
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")

	r.Use(cors.New(corsConfig))
	r.Use(requestLogger(logger))
	r.Use(gin.Recovery())

	r.POST("/api/stock/movements", obr.ApplyMovementHandler(declarer))
	r.POST("/api/invoices", obr.CreateInvoiceHandler(declarer))
	r.GET("/api/invoices/:id", obr.GetInvoiceHandler())
	r.POST("/api/invoices/:id/cancel", obr.CancelInvoiceHandler())

	r.GET("/api/declarations/retriable", obr.ListRetriableHandler(queue))
	r.POST("/api/declarations/:kind/:id/retry", obr.RetryHandler(queue))
	r.POST("/api/declarations/retry-batch", obr.RetryBatchHandler(queue))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
	return r
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		ctx := c.Request.Context()
		cid, _ := utils.GetCorrelationIdFromContext(ctx)
		fields := logrus.Fields{
			"status":         c.Writer.Status(),
			"method":         c.Request.Method,
			"path":           c.Request.URL.Path,
			"latency":        latency.String(),
			"correlation_id": cid,
		}
		if actorId, ok := utils.GetActorIdFromContext(ctx); ok {
			fields["actor_id"] = actorId
		}
		if actorName, ok := utils.GetActorNameFromContext(ctx); ok {
			fields["actor_name"] = actorName
		}
		logger.WithFields(fields).Info("request")
	}
}
