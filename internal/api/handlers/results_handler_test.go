package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/apk-analysis/apk-toolbench/internal/config"
	"github.com/apk-analysis/apk-toolbench/internal/domain"
	"github.com/apk-analysis/apk-toolbench/internal/findings"
	"github.com/apk-analysis/apk-toolbench/internal/parser"
	"github.com/apk-analysis/apk-toolbench/internal/service"
	"github.com/apk-analysis/apk-toolbench/internal/severity"
	"github.com/apk-analysis/apk-toolbench/internal/stats"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockResultsService Mock Service
type MockResultsService struct {
	mock.Mock
}

func (m *MockResultsService) ListAPKs(ctx context.Context) ([]service.APKStatus, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]service.APKStatus), args.Error(1)
}

func (m *MockResultsService) Report(ctx context.Context, tool domain.Tool, apk string) (interface{}, error) {
	args := m.Called(tool, apk)
	return args.Get(0), args.Error(1)
}

func (m *MockResultsService) Count(ctx context.Context, tool domain.Tool, apk string) (findings.Count, error) {
	args := m.Called(tool, apk)
	return args.Get(0).(findings.Count), args.Error(1)
}

func (m *MockResultsService) CountAll(ctx context.Context, tool domain.Tool) ([]findings.Count, error) {
	args := m.Called(tool)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]findings.Count), args.Error(1)
}

func (m *MockResultsService) Summary(ctx context.Context) (*severity.Summary, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*severity.Summary), args.Error(1)
}

func (m *MockResultsService) RuntimeDistribution(ctx context.Context, tool domain.Tool) (*stats.Distribution, error) {
	args := m.Called(tool)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*stats.Distribution), args.Error(1)
}

func (m *MockResultsService) Correlation(ctx context.Context, tool domain.Tool, measure stats.SizeMeasure) (*stats.Correlation, error) {
	args := m.Called(tool, measure)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*stats.Correlation), args.Error(1)
}

func (m *MockResultsService) Runs(ctx context.Context, status domain.RunStatus, limit int) ([]*domain.ToolRun, error) {
	args := m.Called(status, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ToolRun), args.Error(1)
}

// setupTestRouter 设置测试路由
func setupTestRouter(svc service.ResultsService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewResultsHandler(svc, config.NewNopLogger())

	r := gin.New()
	r.GET("/api/apks", h.ListAPKs)
	r.GET("/api/apks/:apk/:tool", h.GetReport)
	r.GET("/api/apks/:apk/:tool/count", h.GetCount)
	r.GET("/api/summary", h.GetSummary)
	r.GET("/api/stats/runtimes/:tool", h.GetRuntimes)
	r.GET("/api/stats/correlation/:tool", h.GetCorrelation)
	r.GET("/api/runs", h.ListRuns)
	return r
}

func get(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestGetReport_StatusMapping(t *testing.T) {
	svc := new(MockResultsService)
	svc.On("Report", domain.ToolAPKiD, "ok.apk").Return(&parser.APKiDReport{APK: "ok.apk"}, nil)
	svc.On("Report", domain.ToolAPKiD, "missing.apk").Return(nil, fmt.Errorf("apkid: %w", parser.ErrMissing))
	svc.On("Report", domain.ToolMobSF, "bad.apk").Return(nil, &parser.MalformedError{Tool: domain.ToolMobSF, Path: "x", Reason: "missing key"})
	r := setupTestRouter(svc)

	w := get(r, "/api/apks/ok.apk/APKiD")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok.apk"`)

	assert.Equal(t, http.StatusNotFound, get(r, "/api/apks/missing.apk/apkid").Code)
	assert.Equal(t, http.StatusUnprocessableEntity, get(r, "/api/apks/bad.apk/mobsf").Code)
	assert.Equal(t, http.StatusBadRequest, get(r, "/api/apks/ok.apk/quark").Code)
	assert.Equal(t, http.StatusBadRequest, get(r, "/api/apks/../apkid").Code)

	svc.AssertExpectations(t)
}

func TestGetCount(t *testing.T) {
	svc := new(MockResultsService)
	svc.On("Count", domain.ToolFlowDroid, "a.apk").Return(findings.Count{Tool: domain.ToolFlowDroid, APK: "a.apk", Value: 2}, nil)
	svc.On("Count", domain.ToolFlowDroid, "odd.apk").Return(findings.Count{}, findings.ErrUndefined)
	r := setupTestRouter(svc)

	w := get(r, "/api/apks/a.apk/flowdroid/count")
	require.Equal(t, http.StatusOK, w.Code)

	var got findings.Count
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 2, got.Value)

	assert.Equal(t, http.StatusUnprocessableEntity, get(r, "/api/apks/odd.apk/flowdroid/count").Code)
}

func TestGetRuntimes(t *testing.T) {
	svc := new(MockResultsService)
	svc.On("RuntimeDistribution", domain.ToolAPKiD).Return(&stats.Distribution{Total: 3, Removed: 1}, nil)
	svc.On("RuntimeDistribution", domain.ToolMobSF).Return(nil, service.ErrNoRuntimes)
	r := setupTestRouter(svc)

	w := get(r, "/api/stats/runtimes/apkid")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"removed":1`)

	assert.Equal(t, http.StatusNotFound, get(r, "/api/stats/runtimes/mobsf").Code)
}

func TestGetCorrelation_SizeMeasure(t *testing.T) {
	svc := new(MockResultsService)
	svc.On("Correlation", domain.ToolMobSF, stats.MeasureDex).Return(&stats.Correlation{Pearson: 0.5, Defined: true}, nil)
	r := setupTestRouter(svc)

	w := get(r, "/api/stats/correlation/mobsf?size=dex")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"pearson":0.5`)

	assert.Equal(t, http.StatusBadRequest, get(r, "/api/stats/correlation/mobsf?size=odex").Code)
	svc.AssertExpectations(t)
}

func TestListRuns(t *testing.T) {
	svc := new(MockResultsService)
	svc.On("Runs", domain.RunStatusTimeout, 100).Return([]*domain.ToolRun{{Tool: "flowdroid", APKName: "a.apk"}}, nil)
	r := setupTestRouter(svc)

	w := get(r, "/api/runs?status=timeout")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":1`)

	assert.Equal(t, http.StatusBadRequest, get(r, "/api/runs?status=queued").Code)
}

func TestGetSummary(t *testing.T) {
	svc := new(MockResultsService)
	svc.On("Summary").Return(&severity.Summary{
		Tools: []domain.Tool{domain.ToolAPKLeaks},
		Flags: map[domain.Tool][]severity.Flag{domain.ToolAPKLeaks: {{APK: "a.apk", Item: "Google_API_Key", Count: 2}}},
	}, nil)
	r := setupTestRouter(svc)

	w := get(r, "/api/summary")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Google_API_Key")
}
