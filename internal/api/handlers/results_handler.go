package handlers

import (
	"errors"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/apk-analysis/apk-toolbench/internal/domain"
	"github.com/apk-analysis/apk-toolbench/internal/findings"
	"github.com/apk-analysis/apk-toolbench/internal/parser"
	"github.com/apk-analysis/apk-toolbench/internal/service"
	"github.com/apk-analysis/apk-toolbench/internal/stats"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ResultsHandler 工具结果查询
type ResultsHandler struct {
	results service.ResultsService
	logger  *logrus.Logger
}

// NewResultsHandler 创建结果处理器
func NewResultsHandler(results service.ResultsService, logger *logrus.Logger) *ResultsHandler {
	return &ResultsHandler{results: results, logger: logger}
}

// ListAPKs GET /api/apks
func (h *ResultsHandler) ListAPKs(c *gin.Context) {
	apks, err := h.results.ListAPKs(c.Request.Context())
	if err != nil {
		h.fail(c, err, "Failed to list APKs")
		return
	}
	c.JSON(http.StatusOK, gin.H{"apks": apks, "total": len(apks)})
}

// GetReport GET /api/apks/:apk/:tool
func (h *ResultsHandler) GetReport(c *gin.Context) {
	tool, apk, ok := h.toolAndAPK(c)
	if !ok {
		return
	}
	report, err := h.results.Report(c.Request.Context(), tool, apk)
	if err != nil {
		h.fail(c, err, "Failed to parse report")
		return
	}
	c.JSON(http.StatusOK, report)
}

// GetCount GET /api/apks/:apk/:tool/count
func (h *ResultsHandler) GetCount(c *gin.Context) {
	tool, apk, ok := h.toolAndAPK(c)
	if !ok {
		return
	}
	count, err := h.results.Count(c.Request.Context(), tool, apk)
	if err != nil {
		h.fail(c, err, "Failed to count findings")
		return
	}
	c.JSON(http.StatusOK, count)
}

// GetSummary GET /api/summary
func (h *ResultsHandler) GetSummary(c *gin.Context) {
	summary, err := h.results.Summary(c.Request.Context())
	if err != nil {
		h.fail(c, err, "Failed to build summary")
		return
	}
	c.JSON(http.StatusOK, summary)
}

// GetRuntimes GET /api/stats/runtimes/:tool
func (h *ResultsHandler) GetRuntimes(c *gin.Context) {
	tool, err := domain.ParseTool(c.Param("tool"))
	if err != nil {
		h.fail(c, err, "")
		return
	}
	dist, err := h.results.RuntimeDistribution(c.Request.Context(), tool)
	if err != nil {
		h.fail(c, err, "Failed to compute runtime distribution")
		return
	}
	c.JSON(http.StatusOK, dist)
}

// GetCorrelation GET /api/stats/correlation/:tool?size=apk|dex
func (h *ResultsHandler) GetCorrelation(c *gin.Context) {
	tool, err := domain.ParseTool(c.Param("tool"))
	if err != nil {
		h.fail(c, err, "")
		return
	}
	measure, err := stats.ParseSizeMeasure(c.DefaultQuery("size", "apk"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	corr, err := h.results.Correlation(c.Request.Context(), tool, measure)
	if err != nil {
		h.fail(c, err, "Failed to compute correlation")
		return
	}
	c.JSON(http.StatusOK, corr)
}

// ListRuns GET /api/runs?status=timeout&limit=100
func (h *ResultsHandler) ListRuns(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	status := domain.RunStatus(c.Query("status"))
	switch status {
	case "", domain.RunStatusCompleted, domain.RunStatusTimeout, domain.RunStatusFailed, domain.RunStatusSkipped:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + strconv.Quote(string(status))})
		return
	}

	runs, err := h.results.Runs(c.Request.Context(), status, limit)
	if err != nil {
		h.fail(c, err, "Failed to list runs")
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "total": len(runs)})
}

// toolAndAPK 校验路径参数; APK 只能是文件名
func (h *ResultsHandler) toolAndAPK(c *gin.Context) (domain.Tool, string, bool) {
	tool, err := domain.ParseTool(c.Param("tool"))
	if err != nil {
		h.fail(c, err, "")
		return "", "", false
	}
	apk := c.Param("apk")
	if apk == "" || apk == "." || apk == ".." || filepath.Base(apk) != apk {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid apk name"})
		return "", "", false
	}
	return tool, apk, true
}

// fail 按错误类型映射状态码
func (h *ResultsHandler) fail(c *gin.Context, err error, msg string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrUnknownTool):
		status = http.StatusBadRequest
	case parser.IsMissing(err), errors.Is(err, service.ErrNoRuntimes):
		status = http.StatusNotFound
	case parser.IsMalformed(err), errors.Is(err, findings.ErrUndefined), errors.Is(err, parser.ErrUnexpectedShape):
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		h.logger.WithError(err).Error(msg)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
