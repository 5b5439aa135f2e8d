package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/apk-analysis/apk-toolbench/internal/domain"
	"github.com/apk-analysis/apk-toolbench/internal/findings"
	"github.com/apk-analysis/apk-toolbench/internal/ledger"
	"github.com/apk-analysis/apk-toolbench/internal/parser"
	"github.com/apk-analysis/apk-toolbench/internal/plotting"
	"github.com/apk-analysis/apk-toolbench/internal/repository"
	"github.com/apk-analysis/apk-toolbench/internal/severity"
	"github.com/apk-analysis/apk-toolbench/internal/stats"
	"github.com/sirupsen/logrus"
)

// ErrNoRuntimes 既没有账本文件也没有数据库记录
var ErrNoRuntimes = errors.New("no runtime records")

// FindingsRecorder 发现数指标
type FindingsRecorder interface {
	ObserveFindings(tool domain.Tool, n int)
}

// APKStatus 一个 APK 各工具输出是否存在
type APKStatus struct {
	Name    string               `json:"name" yaml:"name"`
	Outputs map[domain.Tool]bool `json:"outputs" yaml:"outputs"`
}

// ResultsService 结果查询服务接口
type ResultsService interface {
	// APK 列表及输出状态
	ListAPKs(ctx context.Context) ([]APKStatus, error)

	// 解析后的单个工具报告
	Report(ctx context.Context, tool domain.Tool, apk string) (interface{}, error)

	// 发现计数
	Count(ctx context.Context, tool domain.Tool, apk string) (findings.Count, error)
	CountAll(ctx context.Context, tool domain.Tool) ([]findings.Count, error)

	// 严重性汇总（全部 APK）
	Summary(ctx context.Context) (*severity.Summary, error)

	// 运行时间分布（去除异常值）
	RuntimeDistribution(ctx context.Context, tool domain.Tool) (*stats.Distribution, error)

	// 大小与发现数的相关性
	Correlation(ctx context.Context, tool domain.Tool, measure stats.SizeMeasure) (*stats.Correlation, error)

	// 执行记录
	Runs(ctx context.Context, status domain.RunStatus, limit int) ([]*domain.ToolRun, error)
}

// Options 统计相关设置
type Options struct {
	FenceFactor   float64
	HistogramBins int
	MissingAsZero bool
	Plot          bool
	SummaryTools  []domain.Tool
	Rules         severity.Rules
}

type resultsService struct {
	parser   *parser.Parser
	counter  *findings.Counter
	runs     repository.ToolRunRepository
	opts     Options
	recorder FindingsRecorder
	logger   *logrus.Logger
}

// NewResultsService 创建结果服务; runs 和 recorder 可为 nil
func NewResultsService(p *parser.Parser, counter *findings.Counter, runs repository.ToolRunRepository, opts Options, recorder FindingsRecorder, logger *logrus.Logger) ResultsService {
	if opts.FenceFactor <= 0 {
		opts.FenceFactor = stats.DefaultFenceFactor
	}
	if opts.HistogramBins <= 0 {
		opts.HistogramBins = 20
	}
	return &resultsService{
		parser:   p,
		counter:  counter,
		runs:     runs,
		opts:     opts,
		recorder: recorder,
		logger:   logger,
	}
}

func (s *resultsService) ListAPKs(ctx context.Context) ([]APKStatus, error) {
	layout := s.parser.Layout()
	apks, err := layout.ListAPKs()
	if err != nil {
		return nil, err
	}

	out := make([]APKStatus, 0, len(apks))
	for _, apk := range apks {
		st := APKStatus{Name: apk, Outputs: make(map[domain.Tool]bool)}
		for _, tool := range domain.AllTools() {
			st.Outputs[tool] = layout.HasOutput(tool, apk)
		}
		out = append(out, st)
	}
	return out, nil
}

func (s *resultsService) Report(ctx context.Context, tool domain.Tool, apk string) (interface{}, error) {
	return s.parser.Parse(tool, apk)
}

func (s *resultsService) Count(ctx context.Context, tool domain.Tool, apk string) (findings.Count, error) {
	c, err := s.counter.Count(tool, apk)
	if err == nil && !c.Missing && s.recorder != nil {
		s.recorder.ObserveFindings(tool, c.Value)
	}
	return c, err
}

func (s *resultsService) CountAll(ctx context.Context, tool domain.Tool) ([]findings.Count, error) {
	apks, err := s.parser.Layout().ListAPKs()
	if err != nil {
		return nil, err
	}
	return s.counter.CountAll(tool, apks)
}

func (s *resultsService) Summary(ctx context.Context) (*severity.Summary, error) {
	apks, err := s.parser.Layout().ListAPKs()
	if err != nil {
		return nil, err
	}
	summarizer := severity.NewSummarizer(s.parser, s.opts.Rules, s.opts.SummaryTools, s.logger)
	return summarizer.Summarize(apks)
}

// RuntimeDistribution 优先读取 runtime_<tool>.txt, 不存在时回退到数据库
func (s *resultsService) RuntimeDistribution(ctx context.Context, tool domain.Tool) (*stats.Distribution, error) {
	samples, err := s.runtimeSamples(ctx, tool)
	if err != nil {
		return nil, err
	}

	dist := stats.Distribute(samples, s.opts.FenceFactor, s.opts.HistogramBins)
	s.logger.WithFields(logrus.Fields{
		"tool":    tool,
		"total":   dist.Total,
		"removed": dist.Removed,
	}).Info("Runtime distribution computed")

	if s.opts.Plot && len(dist.Kept) > 0 {
		path := filepath.Join(s.parser.Layout().StatisticsDir(), string(tool)+"_runtimes.png")
		title := fmt.Sprintf("%s runtimes (%d outliers removed)", tool, dist.Removed)
		if err := plotting.Histogram(path, title, "seconds", dist.Kept, s.opts.HistogramBins); err != nil {
			s.logger.WithError(err).WithField("path", path).Warn("Failed to plot runtimes")
		}
	}
	return &dist, nil
}

func (s *resultsService) runtimeSamples(ctx context.Context, tool domain.Tool) ([]float64, error) {
	entries, err := ledger.ReadRuntimes(s.parser.Layout().RuntimeLedgerPath(tool))
	if err == nil {
		samples := make([]float64, len(entries))
		for i, e := range entries {
			samples[i] = e.Seconds
		}
		return samples, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if s.runs == nil {
		return nil, fmt.Errorf("%w for %s", ErrNoRuntimes, tool)
	}

	runs, err := s.runs.FindByTool(ctx, string(tool))
	if err != nil {
		return nil, err
	}
	var samples []float64
	for _, r := range runs {
		if r.Status == domain.RunStatusCompleted {
			samples = append(samples, r.DurationSeconds)
		}
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoRuntimes, tool)
	}
	return samples, nil
}

// Correlation 对每个 APK 取大小和发现数, 按大小去除异常值后计算 Pearson 系数
func (s *resultsService) Correlation(ctx context.Context, tool domain.Tool, measure stats.SizeMeasure) (*stats.Correlation, error) {
	layout := s.parser.Layout()
	apks, err := layout.ListAPKs()
	if err != nil {
		return nil, err
	}

	points := make([]stats.SizePoint, 0, len(apks))
	for _, apk := range apks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		c, err := s.counter.Count(tool, apk)
		if err != nil {
			if errors.Is(err, findings.ErrUndefined) {
				s.logger.WithFields(logrus.Fields{"tool": tool, "apk": apk}).Warn("Finding count undefined, skipping")
				continue
			}
			return nil, fmt.Errorf("count %s findings for %s: %w", tool, apk, err)
		}
		if c.Missing && !s.opts.MissingAsZero {
			continue
		}

		size, err := measure.Measure(layout.APKPath(apk))
		if err != nil {
			return nil, fmt.Errorf("measure %s: %w", apk, err)
		}
		points = append(points, stats.SizePoint{APK: apk, SizeMB: size, Findings: c.Value})
	}

	corr := stats.Correlate(points, s.opts.FenceFactor)
	s.logger.WithFields(logrus.Fields{
		"tool":    tool,
		"size":    measure,
		"points":  len(corr.Points),
		"removed": corr.Removed,
		"pearson": corr.Pearson,
	}).Info("Size correlation computed")

	if s.opts.Plot && len(corr.Points) > 0 {
		path := filepath.Join(layout.StatisticsDir(), fmt.Sprintf("%s_%s_size.png", tool, measure))
		xLabel := fmt.Sprintf("%s size (MB)", measure)
		if err := plotting.Scatter(path, fmt.Sprintf("%s findings vs %s size", tool, measure), xLabel, "findings", corr.Points); err != nil {
			s.logger.WithError(err).WithField("path", path).Warn("Failed to plot correlation")
		}
	}
	return &corr, nil
}

func (s *resultsService) Runs(ctx context.Context, status domain.RunStatus, limit int) ([]*domain.ToolRun, error) {
	if s.runs == nil {
		return []*domain.ToolRun{}, nil
	}
	if status == "" {
		return s.runs.List(ctx, limit)
	}
	return s.runs.ListByStatus(ctx, status, limit)
}
