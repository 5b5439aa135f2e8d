package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/apk-analysis/apk-toolbench/internal/config"
	"github.com/apk-analysis/apk-toolbench/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestMetrics(t *testing.T) *PrometheusMetrics {
	t.Helper()
	return NewPrometheusMetrics(config.NewNopLogger(), "test", nil)
}

func TestHTTPMiddleware(t *testing.T) {
	pm := setupTestMetrics(t)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(pm.HTTPMiddleware())
	router.GET("/api/apks/:apk", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"apk": c.Param("apk")})
	})

	for _, path := range []string{"/api/apks/a.apk", "/api/apks/b.apk", "/nope"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	}

	// 路由模板作为标签, 不按具体 APK 展开
	assert.Equal(t, 2.0, testutil.ToFloat64(pm.httpRequestsTotal.WithLabelValues("GET", "/api/apks/:apk", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.httpRequestsTotal.WithLabelValues("GET", "unmatched", "404")))
}

func TestObserveToolRun(t *testing.T) {
	pm := setupTestMetrics(t)

	pm.ObserveToolRun(domain.ToolAPKiD, domain.RunStatusCompleted, 2*time.Second)
	pm.ObserveToolRun(domain.ToolAPKiD, domain.RunStatusCompleted, 3*time.Second)
	pm.ObserveToolRun(domain.ToolFlowDroid, domain.RunStatusTimeout, 150*time.Second)
	pm.ObserveToolRun(domain.ToolMobSF, domain.RunStatusSkipped, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(pm.toolRunsTotal.WithLabelValues("apkid", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.toolRunsTotal.WithLabelValues("flowdroid", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.toolRunsTotal.WithLabelValues("mobsf", "skipped")))
	assert.Equal(t, 2, testutil.CollectAndCount(pm.toolRunDuration), "skipped runs have no duration")
}

func TestObserveFindingsAndRetries(t *testing.T) {
	pm := setupTestMetrics(t)

	pm.ObserveFindings(domain.ToolMobSF, 12)
	pm.ObserveFindings(domain.ToolMobSF, 3)
	pm.RecordRetryAttempt("mobsf_upload", 1, nil)
	pm.SetWorkerQueueSize(4)

	assert.Equal(t, 15.0, testutil.ToFloat64(pm.findingsTotal.WithLabelValues("mobsf")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.retryAttemptsTotal.WithLabelValues("mobsf_upload", "1")))
	assert.Equal(t, 4.0, testutil.ToFloat64(pm.workerQueueSize))
}

func TestHandler_ExposesMetrics(t *testing.T) {
	pm := setupTestMetrics(t)
	pm.ObserveToolRun(domain.ToolAPKLeaks, domain.RunStatusFailed, time.Second)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/metrics/prometheus", pm.Handler())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics/prometheus", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.True(t, strings.Contains(body, `test_tool_runs_total{status="failed",tool="apkleaks"} 1`))
	assert.Contains(t, body, "test_goroutines_count")
}
