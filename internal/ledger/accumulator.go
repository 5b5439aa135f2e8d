package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/apk-analysis/apk-toolbench/internal/domain"
	"github.com/sirupsen/logrus"
)

// Entry 一次工具执行的结果
type Entry struct {
	BatchID   string
	Tool      domain.Tool
	APK       string
	Status    domain.RunStatus
	Seconds   float64
	ExitCode  int
	Error     string
	StartedAt time.Time
}

// Sink 结果的持久化目标
type Sink interface {
	Write(ctx context.Context, entries []Entry) error
}

type entryKey struct {
	tool domain.Tool
	apk  string
}

// Accumulator 在批处理过程中收集结果, 结束时统一写出
//
// 同一 (tool, apk) 的后一次记录覆盖前一次
type Accumulator struct {
	mu      sync.Mutex
	batchID string
	entries []Entry
	index   map[entryKey]int
	sinks   []Sink
	logger  *logrus.Logger
}

// NewAccumulator 创建结果收集器
func NewAccumulator(batchID string, logger *logrus.Logger, sinks ...Sink) *Accumulator {
	return &Accumulator{
		batchID: batchID,
		index:   make(map[entryKey]int),
		sinks:   sinks,
		logger:  logger,
	}
}

// BatchID 当前批次 ID
func (a *Accumulator) BatchID() string {
	return a.batchID
}

// Record 记录一条结果
func (a *Accumulator) Record(e Entry) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if e.BatchID == "" {
		e.BatchID = a.batchID
	}
	k := entryKey{tool: e.Tool, apk: e.APK}
	if i, ok := a.index[k]; ok {
		a.entries[i] = e
		return
	}
	a.index[k] = len(a.entries)
	a.entries = append(a.entries, e)
}

// RecordRuntime 记录一次成功执行
func (a *Accumulator) RecordRuntime(tool domain.Tool, apk string, started time.Time, d time.Duration) {
	a.Record(Entry{
		Tool:      tool,
		APK:       apk,
		Status:    domain.RunStatusCompleted,
		Seconds:   RoundSeconds(d),
		StartedAt: started,
	})
}

// RecordTimeout 记录一次超时
func (a *Accumulator) RecordTimeout(tool domain.Tool, apk string, started time.Time, d time.Duration) {
	a.Record(Entry{
		Tool:      tool,
		APK:       apk,
		Status:    domain.RunStatusTimeout,
		Seconds:   RoundSeconds(d),
		ExitCode:  -1,
		Error:     "timed out",
		StartedAt: started,
	})
}

// RecordFailure 记录一次非零退出或其他失败
func (a *Accumulator) RecordFailure(tool domain.Tool, apk string, started time.Time, d time.Duration, exitCode int, err error) {
	e := Entry{
		Tool:      tool,
		APK:       apk,
		Status:    domain.RunStatusFailed,
		Seconds:   RoundSeconds(d),
		ExitCode:  exitCode,
		StartedAt: started,
	}
	if err != nil {
		e.Error = err.Error()
	}
	a.Record(e)
}

// Entries 返回已记录结果的副本
func (a *Accumulator) Entries() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Entry(nil), a.entries...)
}

// Len 已记录条数
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// Flush 写入所有 sink; 全部成功后清空
func (a *Accumulator) Flush(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.entries) == 0 {
		return nil
	}

	var errs []error
	for _, sink := range a.sinks {
		if err := sink.Write(ctx, a.entries); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", sink, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	a.logger.WithFields(logrus.Fields{
		"batch_id": a.batchID,
		"entries":  len(a.entries),
		"sinks":    len(a.sinks),
	}).Info("Run ledger flushed")

	a.entries = nil
	a.index = make(map[entryKey]int)
	return nil
}

// RoundSeconds 秒数保留两位小数
func RoundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}
