package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/apk-analysis/apk-toolbench/internal/ledger"
	"github.com/apk-analysis/apk-toolbench/internal/toolrun"
	"github.com/sirupsen/logrus"
)

// ErrQueueFull 本地任务队列已满
var ErrQueueFull = errors.New("task queue is full")

// Handler 处理一个 APK
type Handler func(ctx context.Context, job *Job) error

// Job 一个 APK 任务
type Job struct {
	ID       string
	BatchID  string
	APK      string
	resultCh chan error
}

// Pool 单个 worker 的任务池, 任务按提交顺序逐个执行
type Pool struct {
	jobs    chan *Job
	handler Handler
	logger  *logrus.Logger
	wg      sync.WaitGroup
}

// NewPool 创建任务池
func NewPool(queueSize int, handler Handler, logger *logrus.Logger) *Pool {
	if queueSize <= 0 {
		queueSize = 100
	}
	return &Pool{
		jobs:    make(chan *Job, queueSize),
		handler: handler,
		logger:  logger,
	}
}

// Start 启动 worker
func (p *Pool) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.work(ctx)
	p.logger.WithField("queue_size", cap(p.jobs)).Info("Worker pool started")
}

func (p *Pool) work(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Worker shutting down")
			return

		case job, ok := <-p.jobs:
			if !ok {
				return
			}

			log := p.logger.WithFields(logrus.Fields{"job_id": job.ID, "apk": job.APK})
			log.Info("Processing job")

			err := p.handler(ctx, job)
			if err != nil {
				log.WithError(err).Error("Job failed")
			} else {
				log.Info("Job finished")
			}

			if job.resultCh != nil {
				job.resultCh <- err
				close(job.resultCh)
			}
		}
	}
}

// Submit 异步提交
func (p *Pool) Submit(job *Job) error {
	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitAndWait 提交并等待完成
func (p *Pool) SubmitAndWait(ctx context.Context, job *Job) error {
	job.resultCh = make(chan error, 1)

	select {
	case p.jobs <- job:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-job.resultCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop 关闭队列并等待当前任务结束
func (p *Pool) Stop() {
	close(p.jobs)
	p.wg.Wait()
	p.logger.Info("Worker pool stopped")
}

// QueueSize 等待中的任务数
func (p *Pool) QueueSize() int {
	return len(p.jobs)
}

// RunHandler 把任务交给 Runner 执行, 每个任务单独写出执行账本
func RunHandler(runner *toolrun.Runner, logger *logrus.Logger, sinks ...ledger.Sink) Handler {
	return func(ctx context.Context, job *Job) error {
		batchID := job.BatchID
		if batchID == "" {
			batchID = toolrun.NewBatchID()
		}
		acc := ledger.NewAccumulator(batchID, logger, sinks...)
		_, err := runner.RunBatch(ctx, []string{job.APK}, acc)
		return err
	}
}
