package app

import (
	"context"
	"time"

	"github.com/apk-analysis/apk-toolbench/internal/config"
	"github.com/apk-analysis/apk-toolbench/internal/queue"
	"github.com/apk-analysis/apk-toolbench/internal/retry"
	"github.com/apk-analysis/apk-toolbench/internal/toolrun"
	"github.com/apk-analysis/apk-toolbench/internal/watcher"
	"github.com/apk-analysis/apk-toolbench/internal/worker"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Pool 创建单 worker 任务池, 每个任务执行完即写出执行账本
func (a *App) Pool(runner *toolrun.Runner) *worker.Pool {
	return worker.NewPool(a.Config.Worker.QueueSize, worker.RunHandler(runner, a.Logger, a.Sinks()...), a.Logger)
}

// Producer 创建任务生产者, 重试次数计入指标
func (a *App) Producer(pub queue.Publisher) *queue.Producer {
	rc := retry.DefaultConfig("publish_job", a.Logger)
	rc.OnRetry = a.Metrics.RecordRetryAttempt
	return queue.NewProducer(pub, rc, a.Logger)
}

// QueueHandler 把队列消息交给任务池, 等待执行结束后再确认
func QueueHandler(pool *worker.Pool) queue.JobHandler {
	return func(ctx context.Context, msg *queue.JobMessage) error {
		return pool.SubmitAndWait(ctx, &worker.Job{
			ID:      msg.JobID,
			BatchID: msg.BatchID,
			APK:     msg.APKName,
		})
	}
}

// WatchHandler 新 APK 到达时发布到队列; producer 为 nil 时直接提交到本地任务池
func (a *App) WatchHandler(producer *queue.Producer, pool *worker.Pool) watcher.Handler {
	return func(ctx context.Context, apk string) error {
		if producer != nil {
			return producer.PublishJob(ctx, queue.NewJob("", a.Layout.APKPath(apk)))
		}
		job := &worker.Job{ID: uuid.New().String(), APK: apk}
		if err := pool.Submit(job); err != nil {
			return err
		}
		a.Metrics.SetWorkerQueueSize(pool.QueueSize())
		return nil
	}
}

// Watcher 监听 apps 目录
func (a *App) Watcher(handler watcher.Handler) (*watcher.APKWatcher, error) {
	var opts []watcher.Option
	if a.Config.Watcher.Debounce > 0 {
		opts = append(opts, watcher.WithDebounce(config.Seconds(a.Config.Watcher.Debounce)))
	}
	return watcher.New(a.Layout.AppsDir, a.Config.Watcher.Pattern, handler, a.Logger, opts...)
}

// ReportQueueSize 定期把本地队列长度写入指标, ctx 结束时返回
func (a *App) ReportQueueSize(ctx context.Context, pool *worker.Pool, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := pool.QueueSize()
			a.Metrics.SetWorkerQueueSize(n)
			if n > 0 {
				a.Logger.WithFields(logrus.Fields{"pending": n}).Debug("Worker queue")
			}
		}
	}
}
