package api

import (
	"time"

	"github.com/apk-analysis/apk-toolbench/internal/api/handlers"
	"github.com/apk-analysis/apk-toolbench/internal/config"
	"github.com/apk-analysis/apk-toolbench/internal/middleware"
	"github.com/apk-analysis/apk-toolbench/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Version API 版本
const Version = "1.0.0"

// SetupRouter 注册只读结果 API; promMetrics 和 hub 可为 nil
func SetupRouter(cfg *config.Config, logger *logrus.Logger, results service.ResultsService, promMetrics *middleware.PrometheusMetrics, hub *handlers.EventHub) *gin.Engine {
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(logger))
	r.Use(CORSMiddleware())

	if promMetrics != nil {
		r.Use(promMetrics.HTTPMiddleware())
		r.GET("/metrics/prometheus", promMetrics.Handler())
	}

	if hub != nil {
		r.GET("/ws/events", hub.HandleWebSocket)
	}

	resultsHandler := handlers.NewResultsHandler(results, logger)

	v1 := r.Group("/api")
	{
		v1.GET("/health", func(c *gin.Context) {
			c.JSON(200, gin.H{
				"status":  "ok",
				"version": Version,
			})
		})

		v1.GET("/apks", resultsHandler.ListAPKs)
		v1.GET("/apks/:apk/:tool", resultsHandler.GetReport)
		v1.GET("/apks/:apk/:tool/count", resultsHandler.GetCount)
		v1.GET("/summary", resultsHandler.GetSummary)

		v1.GET("/stats/runtimes/:tool", resultsHandler.GetRuntimes)
		v1.GET("/stats/correlation/:tool", resultsHandler.GetCorrelation)

		v1.GET("/runs", resultsHandler.ListRuns)
	}

	return r
}

// LoggerMiddleware 日志中间件
func LoggerMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.WithFields(logrus.Fields{
			"status":  c.Writer.Status(),
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"latency": time.Since(start).Milliseconds(),
		}).Debug("HTTP Request")
	}
}

// CORSMiddleware CORS 中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
