package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// JobHandler 处理一个任务; 返回错误时消息被丢弃, 失败已记录在执行账本中
type JobHandler func(ctx context.Context, msg *JobMessage) error

// Consumer 单协程消费者, 逐条处理
type Consumer struct {
	mq      *RabbitMQ
	handler JobHandler
	logger  *logrus.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewConsumer 创建消费者
func NewConsumer(mq *RabbitMQ, handler JobHandler, logger *logrus.Logger) *Consumer {
	return &Consumer{mq: mq, handler: handler, logger: logger}
}

// Start 开始消费并处理重连
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.startLoop(ctx); err != nil {
		return err
	}
	c.mq.StartConnectionWatcher()
	go c.handleReconnect(ctx)
	return nil
}

func (c *Consumer) startLoop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	msgs, err := c.mq.Consume()
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true

	c.wg.Add(1)
	go c.loop(loopCtx, msgs)

	c.logger.Info("Consumer started")
	return nil
}

func (c *Consumer) loop(ctx context.Context, msgs <-chan amqp.Delivery) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-msgs:
			if !ok {
				c.logger.Warn("Delivery channel closed")
				return
			}
			c.process(ctx, d)
		}
	}
}

// process 处理一条消息并确认
func (c *Consumer) process(ctx context.Context, d amqp.Delivery) {
	start := time.Now()

	var msg JobMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		c.logger.WithError(err).Error("Failed to unmarshal job message")
		d.Nack(false, false)
		return
	}

	log := c.logger.WithFields(logrus.Fields{
		"job_id":   msg.JobID,
		"apk_name": msg.APKName,
	})
	log.Info("Processing job")

	if err := c.handler(ctx, &msg); err != nil {
		log.WithError(err).Error("Job failed")
		d.Nack(false, false)
		return
	}

	if err := d.Ack(false); err != nil {
		log.WithError(err).Error("Failed to acknowledge message")
	}
	log.WithField("duration", time.Since(start).Round(time.Millisecond)).Info("Job completed")
}

func (c *Consumer) handleReconnect(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.mq.ReconnectChan():
			c.logger.Warn("Connection lost, restarting consumer")
			c.stopLoop()

			if err := c.mq.Reconnect(ctx); err != nil {
				c.logger.WithError(err).Error("Failed to reconnect, waiting for next signal")
				continue
			}
			if err := c.startLoop(ctx); err != nil {
				c.logger.WithError(err).Error("Failed to restart consumer")
			}
		}
	}
}

func (c *Consumer) stopLoop() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.running = false
	c.mu.Unlock()

	c.wg.Wait()
}

// Stop 等待当前任务结束后停止
func (c *Consumer) Stop() {
	c.logger.Info("Stopping consumer")
	c.stopLoop()
	c.logger.Info("Consumer stopped")
}

// IsRunning 是否正在消费
func (c *Consumer) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
