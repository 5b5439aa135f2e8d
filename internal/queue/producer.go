package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/apk-analysis/apk-toolbench/internal/retry"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// JobMessage 一个待分析的 APK
type JobMessage struct {
	JobID   string `json:"job_id"`
	BatchID string `json:"batch_id,omitempty"`
	APKName string `json:"apk_name"`
	APKPath string `json:"apk_path"`
}

// NewJob 为 APK 生成任务消息
func NewJob(batchID, apkPath string) *JobMessage {
	return &JobMessage{
		JobID:   uuid.New().String(),
		BatchID: batchID,
		APKName: filepath.Base(apkPath),
		APKPath: apkPath,
	}
}

// Publisher 消息发布
type Publisher interface {
	Publish(ctx context.Context, body []byte) error
	QueueSize() (int, error)
}

// Producer 任务生产者
type Producer struct {
	pub    Publisher
	retry  *retry.Config
	logger *logrus.Logger
}

// NewProducer 创建生产者; 发布失败按 retry 配置重试
func NewProducer(pub Publisher, retryCfg *retry.Config, logger *logrus.Logger) *Producer {
	if retryCfg == nil {
		retryCfg = retry.DefaultConfig("publish_job", logger)
	}
	return &Producer{pub: pub, retry: retryCfg, logger: logger}
}

// PublishJob 发布任务消息
func (p *Producer) PublishJob(ctx context.Context, msg *JobMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	err = retry.Do(ctx, p.retry, func(ctx context.Context) error {
		return p.pub.Publish(ctx, body)
	})
	if err != nil {
		p.logger.WithError(err).WithField("job_id", msg.JobID).Error("Failed to publish job")
		return fmt.Errorf("failed to publish: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"job_id":   msg.JobID,
		"batch_id": msg.BatchID,
		"apk_name": msg.APKName,
	}).Info("Job published to queue")
	return nil
}

// QueueSize 队列长度
func (p *Producer) QueueSize() (int, error) {
	n, err := p.pub.QueueSize()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue size: %w", err)
	}
	return n, nil
}
