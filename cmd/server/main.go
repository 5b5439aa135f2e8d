package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apk-analysis/apk-toolbench/internal/api"
	"github.com/apk-analysis/apk-toolbench/internal/api/handlers"
	"github.com/apk-analysis/apk-toolbench/internal/app"
	"github.com/apk-analysis/apk-toolbench/internal/config"
	"github.com/apk-analysis/apk-toolbench/internal/queue"
	"github.com/apk-analysis/apk-toolbench/internal/watcher"
	"github.com/sirupsen/logrus"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// 1. 打印版本信息
	fmt.Printf("APK Tool Bench\n")
	fmt.Printf("Version: %s\n", Version)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n\n", GitCommit)

	// 2. 加载配置
	configPath := "./configs/config.yaml"
	if len(os.Args) > 1 && os.Args[1] == "--config" && len(os.Args) > 2 {
		configPath = os.Args[2]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 3. 初始化日志
	logger := config.InitLogger(&cfg.Log)
	logger.Infof("Starting APK Tool Bench %s", Version)
	logger.Infof("Config loaded from: %s", configPath)

	// 4. 初始化数据库和各组件
	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	if err := a.Layout.EnsureDirs(); err != nil {
		logger.Fatalf("Failed to create output folders: %v", err)
	}
	logger.WithFields(logrus.Fields{
		"root":     a.Layout.Root,
		"apps_dir": a.Layout.AppsDir,
		"tools":    cfg.Tools.Enabled,
	}).Info("Workspace ready")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 5. 事件推送和工具执行器
	hub := handlers.NewEventHub(logger)
	runner, err := a.Runner(hub)
	if err != nil {
		logger.Fatalf("Failed to create tool runner: %v", err)
	}

	// 6. 单 worker 任务池, APK 逐个执行
	pool := a.Pool(runner)
	pool.Start(ctx)
	go a.ReportQueueSize(ctx, pool, 10*time.Second)

	// 7. RabbitMQ 消费者
	var producer *queue.Producer
	var consumer *queue.Consumer
	if cfg.RabbitMQ.Enabled {
		mq, err := queue.NewRabbitMQ(&cfg.RabbitMQ, logger)
		if err != nil {
			logger.Fatalf("Failed to init RabbitMQ: %v", err)
		}
		defer mq.Close()
		logger.WithField("queue", cfg.RabbitMQ.Queue).Info("RabbitMQ connected successfully")

		producer = a.Producer(mq)
		consumer = queue.NewConsumer(mq, app.QueueHandler(pool), logger)
		if err := consumer.Start(ctx); err != nil {
			logger.Fatalf("Failed to start consumer: %v", err)
		}
		logger.Info("Job consumer started")
	} else {
		logger.Info("RabbitMQ disabled, new APKs run on the local worker")
	}

	// 8. 文件监控
	var apkWatcher *watcher.APKWatcher
	if cfg.Watcher.Enabled {
		apkWatcher, err = a.Watcher(a.WatchHandler(producer, pool))
		if err != nil {
			logger.Fatalf("Failed to create file watcher: %v", err)
		}
		apkWatcher.Start(ctx)
		logger.Infof("File watcher started for directory: %s", apkWatcher.Dir())
	}

	// 9. 设置 HTTP Server
	router := api.SetupRouter(cfg, logger, a.Results, a.Metrics, hub)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // 汇总和相关性统计需要重新解析全部输出
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Infof("HTTP server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("HTTP server error: %v", err)
		}
	}()

	// 10. 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down gracefully...")

	// 11. 优雅关闭 (30秒超时)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("HTTP server shutdown error: %v", err)
	}
	if apkWatcher != nil {
		if err := apkWatcher.Stop(); err != nil {
			logger.WithError(err).Warn("Failed to stop file watcher")
		}
	}
	if consumer != nil {
		consumer.Stop()
	}

	// 当前 APK 的执行账本在取消后仍会写出
	cancel()
	pool.Stop()

	logger.Info("Server stopped")
}
