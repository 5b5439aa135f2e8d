package middleware

import (
	"runtime"
	"strconv"
	"time"

	"github.com/apk-analysis/apk-toolbench/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// PrometheusMetrics Prometheus 指标收集器
type PrometheusMetrics struct {
	logger   *logrus.Logger
	gatherer prometheus.Gatherer

	// HTTP 请求指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 工具执行指标
	toolRunsTotal   *prometheus.CounterVec
	toolRunDuration *prometheus.HistogramVec
	findingsTotal   *prometheus.CounterVec

	// Worker 指标
	workerQueueSize prometheus.Gauge

	// 系统指标
	memoryUsage     prometheus.Gauge
	goroutinesCount prometheus.Gauge

	// 重试指标
	retryAttemptsTotal *prometheus.CounterVec
}

// NewPrometheusMetrics 创建指标收集器; reg 为 nil 时使用独立的 registry
func NewPrometheusMetrics(logger *logrus.Logger, namespace string, reg *prometheus.Registry) *PrometheusMetrics {
	if namespace == "" {
		namespace = "apk_toolbench"
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	pm := &PrometheusMetrics{
		logger:   logger,
		gatherer: reg,

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latencies in seconds",
				Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"method", "path"},
		),

		toolRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_runs_total",
				Help:      "Total number of tool runs by outcome",
			},
			[]string{"tool", "status"}, // completed, timeout, failed, skipped
		),
		toolRunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tool_run_duration_seconds",
				Help:      "Tool run duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 100, 150, 300, 600},
			},
			[]string{"tool", "status"},
		),
		findingsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "findings_total",
				Help:      "Total number of findings counted per tool",
			},
			[]string{"tool"},
		),

		workerQueueSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_queue_size",
				Help:      "Number of APK jobs waiting in the local queue",
			},
		),

		memoryUsage: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "memory_usage_bytes",
				Help:      "Current memory usage in bytes",
			},
		),
		goroutinesCount: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "goroutines_count",
				Help:      "Current number of goroutines",
			},
		),

		retryAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_attempts_total",
				Help:      "Total number of retry attempts",
			},
			[]string{"operation", "attempt"},
		),
	}

	logger.Info("Prometheus metrics initialized")
	return pm
}

// HTTPMiddleware HTTP 请求监控中间件
func (pm *PrometheusMetrics) HTTPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())

		pm.httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		pm.httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler 导出指标
func (pm *PrometheusMetrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(pm.gatherer, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		pm.sampleRuntime()
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// ObserveToolRun 记录一次工具执行
func (pm *PrometheusMetrics) ObserveToolRun(tool domain.Tool, status domain.RunStatus, d time.Duration) {
	pm.toolRunsTotal.WithLabelValues(string(tool), string(status)).Inc()
	if status != domain.RunStatusSkipped {
		pm.toolRunDuration.WithLabelValues(string(tool), string(status)).Observe(d.Seconds())
	}
}

// ObserveFindings 记录计数结果
func (pm *PrometheusMetrics) ObserveFindings(tool domain.Tool, n int) {
	pm.findingsTotal.WithLabelValues(string(tool)).Add(float64(n))
}

// SetWorkerQueueSize 更新本地队列长度
func (pm *PrometheusMetrics) SetWorkerQueueSize(n int) {
	pm.workerQueueSize.Set(float64(n))
}

// RecordRetryAttempt 记录重试尝试; 签名与 retry.Config.OnRetry 一致
func (pm *PrometheusMetrics) RecordRetryAttempt(operation string, attempt int, _ error) {
	pm.retryAttemptsTotal.WithLabelValues(operation, strconv.Itoa(attempt)).Inc()
}

func (pm *PrometheusMetrics) sampleRuntime() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	pm.memoryUsage.Set(float64(ms.Alloc))
	pm.goroutinesCount.Set(float64(runtime.NumGoroutine()))
}
