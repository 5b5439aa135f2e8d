package toolrun

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/apk-analysis/apk-toolbench/internal/domain"
	"github.com/apk-analysis/apk-toolbench/internal/ledger"
	"github.com/apk-analysis/apk-toolbench/internal/workspace"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Recorder 工具执行指标
type Recorder interface {
	ObserveToolRun(tool domain.Tool, status domain.RunStatus, d time.Duration)
}

// Event 单次工具执行的状态变化
type Event struct {
	Type    string           `json:"type"` // tool_started, tool_finished, batch_finished
	BatchID string           `json:"batch_id"`
	Tool    domain.Tool      `json:"tool,omitempty"`
	APK     string           `json:"apk,omitempty"`
	Status  domain.RunStatus `json:"status,omitempty"`
	Seconds float64          `json:"seconds,omitempty"`
	Error   string           `json:"error,omitempty"`
	Time    time.Time        `json:"time"`
}

// EventPublisher 事件发布
type EventPublisher interface {
	Publish(evt Event)
}

const (
	EventToolStarted   = "tool_started"
	EventToolFinished  = "tool_finished"
	EventBatchFinished = "batch_finished"
)

// StepResult 一个 (tool, apk) 的执行结果
type StepResult struct {
	Tool     domain.Tool
	APK      string
	Status   domain.RunStatus
	Duration time.Duration
	Err      error
}

// BatchReport 批处理汇总
type BatchReport struct {
	BatchID   string
	APKs      int
	Completed int
	Timeouts  int
	Failed    int
	Skipped   int
	Duration  time.Duration
	Steps     []StepResult
}

func (r *BatchReport) add(step StepResult) {
	r.Steps = append(r.Steps, step)
	switch step.Status {
	case domain.RunStatusCompleted:
		r.Completed++
	case domain.RunStatusTimeout:
		r.Timeouts++
	case domain.RunStatusFailed:
		r.Failed++
	case domain.RunStatusSkipped:
		r.Skipped++
	}
}

// Runner 顺序执行 APK x 工具
type Runner struct {
	layout    workspace.Layout
	analyzers []Analyzer
	overwrite bool
	logger    *logrus.Logger
	metrics   Recorder
	events    EventPublisher
}

// RunnerOption 可选项
type RunnerOption func(*Runner)

// WithOverwrite 已有输出时仍重新执行
func WithOverwrite(overwrite bool) RunnerOption {
	return func(r *Runner) { r.overwrite = overwrite }
}

// WithRecorder 设置指标记录
func WithRecorder(m Recorder) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithEvents 设置事件发布
func WithEvents(p EventPublisher) RunnerOption {
	return func(r *Runner) { r.events = p }
}

// NewRunner 创建执行器
func NewRunner(layout workspace.Layout, analyzers []Analyzer, logger *logrus.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		layout:    layout,
		analyzers: analyzers,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Layout 工作目录
func (r *Runner) Layout() workspace.Layout {
	return r.layout
}

// NewBatchID 生成批次 ID
func NewBatchID() string {
	return uuid.New().String()
}

// RunBatch 持有工作目录锁, 逐个 APK 执行所有工具, 结束时写出结果
//
// 单个工具超时或失败不会中断批处理; ctx 被取消时停止并写出已有结果
func (r *Runner) RunBatch(ctx context.Context, apks []string, acc *ledger.Accumulator) (*BatchReport, error) {
	lock, err := r.layout.Acquire()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			r.logger.WithError(err).Warn("Failed to release workspace lock")
		}
	}()

	if err := r.layout.EnsureDirs(); err != nil {
		return nil, err
	}

	report := &BatchReport{BatchID: acc.BatchID(), APKs: len(apks)}
	start := time.Now()

	r.logger.WithFields(logrus.Fields{
		"batch_id": report.BatchID,
		"apks":     len(apks),
		"tools":    len(r.analyzers),
	}).Info("Batch started")

	var runErr error
	for i, apk := range apks {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		r.logger.WithFields(logrus.Fields{
			"apk":      apk,
			"progress": fmt.Sprintf("%d/%d", i+1, len(apks)),
		}).Info("Processing APK")

		for _, step := range r.RunAPK(ctx, apk, acc) {
			report.add(step)
		}
	}
	report.Duration = time.Since(start)

	// 取消时也要写出已完成的记录
	flushCtx := context.WithoutCancel(ctx)
	if err := acc.Flush(flushCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("flush ledger: %w", err))
	}

	r.publish(Event{Type: EventBatchFinished, BatchID: report.BatchID, Seconds: ledger.RoundSeconds(report.Duration)})
	r.logger.WithFields(logrus.Fields{
		"batch_id":  report.BatchID,
		"completed": report.Completed,
		"timeouts":  report.Timeouts,
		"failed":    report.Failed,
		"skipped":   report.Skipped,
		"duration":  report.Duration.Round(time.Millisecond),
	}).Info("Batch finished")

	return report, runErr
}

// RunAPK 对一个 APK 执行所有工具; 不持有锁也不写出结果
func (r *Runner) RunAPK(ctx context.Context, apk string, acc *ledger.Accumulator) []StepResult {
	steps := make([]StepResult, 0, len(r.analyzers))
	for _, a := range r.analyzers {
		if ctx.Err() != nil {
			break
		}
		steps = append(steps, r.runStep(ctx, a, apk, acc))
	}
	return steps
}

func (r *Runner) runStep(ctx context.Context, a Analyzer, apk string, acc *ledger.Accumulator) StepResult {
	tool := a.Tool()
	log := r.logger.WithFields(logrus.Fields{"tool": tool, "apk": apk})
	step := StepResult{Tool: tool, APK: apk}

	if !r.overwrite && r.layout.HasOutput(tool, apk) {
		log.Debug("Output exists, skipping")
		step.Status = domain.RunStatusSkipped
		r.finish(acc.BatchID(), step)
		return step
	}

	r.publish(Event{Type: EventToolStarted, BatchID: acc.BatchID(), Tool: tool, APK: apk, Time: time.Now()})

	started := time.Now()
	err := a.Analyze(ctx, apk)
	step.Duration = time.Since(started)
	step.Err = err

	switch {
	case err == nil:
		step.Status = domain.RunStatusCompleted
		acc.RecordRuntime(tool, apk, started, step.Duration)
		log.WithField("seconds", ledger.RoundSeconds(step.Duration)).Info("Tool completed")

	case errors.Is(err, ErrTimeout):
		step.Status = domain.RunStatusTimeout
		acc.RecordTimeout(tool, apk, started, step.Duration)
		r.removeOutput(tool, apk)
		log.Warn("Tool timed out")

	default:
		step.Status = domain.RunStatusFailed
		acc.RecordFailure(tool, apk, started, step.Duration, ExitCode(err), err)
		r.removeOutput(tool, apk)
		log.WithError(err).Error("Tool failed")
	}

	r.finish(acc.BatchID(), step)
	return step
}

func (r *Runner) finish(batchID string, step StepResult) {
	if r.metrics != nil {
		r.metrics.ObserveToolRun(step.Tool, step.Status, step.Duration)
	}
	evt := Event{
		Type:    EventToolFinished,
		BatchID: batchID,
		Tool:    step.Tool,
		APK:     step.APK,
		Status:  step.Status,
		Seconds: ledger.RoundSeconds(step.Duration),
		Time:    time.Now(),
	}
	if step.Err != nil {
		evt.Error = step.Err.Error()
	}
	r.publish(evt)
}

func (r *Runner) publish(evt Event) {
	if r.events == nil {
		return
	}
	if evt.Time.IsZero() {
		evt.Time = time.Now()
	}
	r.events.Publish(evt)
}

// removeOutput 删除不完整的输出, 下次批处理会重新执行
func (r *Runner) removeOutput(tool domain.Tool, apk string) {
	var paths []string
	switch tool {
	case domain.ToolDependencyCheck:
		paths = []string{r.layout.DependencyCheckDir(apk)}
	case domain.ToolMobSF:
		paths = []string{r.layout.OutputPath(tool, apk), r.layout.PDFReportPath(apk)}
	default:
		paths = []string{r.layout.OutputPath(tool, apk)}
	}
	for _, path := range paths {
		if err := os.RemoveAll(path); err != nil {
			r.logger.WithError(err).WithField("path", path).Warn("Failed to remove partial output")
		}
	}
}
