package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/apk-analysis/apk-toolbench/internal/app"
	"github.com/apk-analysis/apk-toolbench/internal/config"
	"github.com/apk-analysis/apk-toolbench/internal/domain"
	"github.com/apk-analysis/apk-toolbench/internal/queue"
	"github.com/apk-analysis/apk-toolbench/internal/toolrun"
)

// 重新发布超时和失败的 APK; 输出已被删除, worker 会重新执行这些工具
func main() {
	configPath := "./configs/config.yaml"
	if len(os.Args) > 1 && os.Args[1] == "--config" && len(os.Args) > 2 {
		configPath = os.Args[2]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := config.InitLogger(&cfg.Log)

	a, err := app.New(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	if a.Runs == nil {
		log.Fatal("database is disabled (database.type: none), nothing to requeue")
	}
	if !cfg.RabbitMQ.Enabled {
		log.Fatal("rabbitmq is disabled in config")
	}

	ctx := context.Background()

	// 按 APK 去重, 一个 APK 只发布一次
	apks := make(map[string][]string)
	for _, status := range []domain.RunStatus{domain.RunStatusTimeout, domain.RunStatusFailed} {
		runs, err := a.Runs.ListByStatus(ctx, status, 0)
		if err != nil {
			log.Fatalf("Failed to query %s runs: %v", status, err)
		}
		for _, run := range runs {
			apks[run.APKName] = append(apks[run.APKName], run.Tool)
		}
	}

	if len(apks) == 0 {
		fmt.Println("没有需要重新执行的 APK")
		return
	}

	names := make([]string, 0, len(apks))
	for name := range apks {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("找到 %d 个需要重新执行的 APK\n", len(names))

	mq, err := queue.NewRabbitMQ(&cfg.RabbitMQ, logger)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer mq.Close()

	producer := a.Producer(mq)
	batchID := toolrun.NewBatchID()

	successCount := 0
	for i, name := range names {
		if _, err := os.Stat(a.Layout.APKPath(name)); err != nil {
			log.Printf("❌ APK %s not found in %s, skipped", name, a.Layout.AppsDir)
			continue
		}

		msg := queue.NewJob(batchID, a.Layout.APKPath(name))
		if err := producer.PublishJob(ctx, msg); err != nil {
			log.Printf("❌ Failed to publish %s: %v", name, err)
			continue
		}

		successCount++
		logger.WithField("tools", apks[name]).Debugf("Requeued %s", name)
		if (i+1)%100 == 0 {
			fmt.Printf("进度: %d/%d\n", i+1, len(names))
		}
	}

	fmt.Printf("\n✅ 成功重新入队 %d/%d 个 APK (batch %s)\n", successCount, len(names), batchID)
}
