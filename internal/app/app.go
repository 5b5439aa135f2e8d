package app

import (
	"fmt"

	"github.com/apk-analysis/apk-toolbench/internal/config"
	"github.com/apk-analysis/apk-toolbench/internal/domain"
	"github.com/apk-analysis/apk-toolbench/internal/findings"
	"github.com/apk-analysis/apk-toolbench/internal/ledger"
	"github.com/apk-analysis/apk-toolbench/internal/middleware"
	"github.com/apk-analysis/apk-toolbench/internal/mobsf"
	"github.com/apk-analysis/apk-toolbench/internal/parser"
	"github.com/apk-analysis/apk-toolbench/internal/repository"
	"github.com/apk-analysis/apk-toolbench/internal/retry"
	"github.com/apk-analysis/apk-toolbench/internal/service"
	"github.com/apk-analysis/apk-toolbench/internal/severity"
	"github.com/apk-analysis/apk-toolbench/internal/toolrun"
	"github.com/apk-analysis/apk-toolbench/internal/workspace"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// MetricsNamespace Prometheus 指标前缀
const MetricsNamespace = "apkbench"

// App 按配置组装好的组件, 命令行和服务端共用
type App struct {
	Config  *config.Config
	Logger  *logrus.Logger
	Layout  workspace.Layout
	Parser  *parser.Parser
	Counter *findings.Counter
	Metrics *middleware.PrometheusMetrics
	DB      *gorm.DB                     // database.type 为 none 时为 nil
	Runs    repository.ToolRunRepository // 同上
	Results service.ResultsService
}

// New 组装组件; 数据库连接失败时返回错误
func New(cfg *config.Config, logger *logrus.Logger) (*App, error) {
	a := &App{
		Config: cfg,
		Logger: logger,
		Layout: workspace.New(cfg.Workspace.Root, cfg.Workspace.AppsDir),
	}
	a.Metrics = middleware.NewPrometheusMetrics(logger, MetricsNamespace, prometheus.NewRegistry())

	sel, err := parser.ParseSelection(cfg.Findings.DependencySelection)
	if err != nil {
		return nil, err
	}
	a.Parser = parser.New(a.Layout, logger,
		parser.WithBulkyMobSFFields(cfg.Tools.MobSF.KeepBulky),
		parser.WithDependencySelection(sel),
	)
	a.Counter = findings.NewCounter(a.Parser, findings.Policy{
		IncludePermissions: cfg.Findings.IncludePermissions,
		ExcludedSections:   cfg.Findings.ExcludedSections,
	}, logger)

	if cfg.Database.Type != "none" {
		db, err := repository.InitDB(&cfg.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		a.DB = db
		a.Runs = repository.NewToolRunRepository(db)
	}

	opts, err := a.statsOptions()
	if err != nil {
		return nil, err
	}
	a.Results = service.NewResultsService(a.Parser, a.Counter, a.Runs, opts, a.Metrics, logger)

	logger.WithFields(logrus.Fields{
		"root":     a.Layout.Root,
		"apps_dir": a.Layout.AppsDir,
		"database": cfg.Database.Type,
	}).Debug("Components initialized")

	return a, nil
}

func (a *App) statsOptions() (service.Options, error) {
	opts := service.Options{
		FenceFactor:   a.Config.Stats.FenceFactor,
		HistogramBins: a.Config.Stats.HistogramBins,
		MissingAsZero: a.Config.Findings.MissingAsZero,
		Plot:          a.Config.Stats.Plot,
	}

	tools, err := domain.ParseTools(a.Config.Findings.SummaryTools)
	if err != nil {
		return opts, fmt.Errorf("findings.summary_tools: %w", err)
	}
	opts.SummaryTools = tools

	if a.Config.Findings.RulesFile != "" {
		rules, err := severity.LoadRules(a.Config.Findings.RulesFile)
		if err != nil {
			return opts, err
		}
		opts.Rules = rules
	}
	return opts, nil
}

// MobSFClient 启用 mobsf 时创建客户端, 重试次数计入指标; 未启用时返回 nil
func (a *App) MobSFClient() (toolrun.MobSFClient, error) {
	tools, err := domain.ParseTools(a.Config.Tools.Enabled)
	if err != nil {
		return nil, fmt.Errorf("tools.enabled: %w", err)
	}
	for _, tool := range tools {
		if tool != domain.ToolMobSF {
			continue
		}
		rc := retry.DefaultConfig("mobsf", a.Logger)
		if a.Config.Tools.MobSF.MaxRetries > 0 {
			rc.MaxAttempts = a.Config.Tools.MobSF.MaxRetries
		}
		rc.OnRetry = a.Metrics.RecordRetryAttempt
		return mobsf.NewClient(&a.Config.Tools.MobSF, a.Logger, mobsf.WithRetry(rc)), nil
	}
	return nil, nil
}

// Runner 创建工具执行器; events 可为 nil
func (a *App) Runner(events toolrun.EventPublisher) (*toolrun.Runner, error) {
	client, err := a.MobSFClient()
	if err != nil {
		return nil, err
	}
	analyzers, err := toolrun.NewAnalyzers(a.Config, a.Layout, toolrun.NewExecutor(a.Logger), client, a.Logger)
	if err != nil {
		return nil, err
	}

	opts := []toolrun.RunnerOption{
		toolrun.WithOverwrite(a.Config.Run.Overwrite),
		toolrun.WithRecorder(a.Metrics),
	}
	if events != nil {
		opts = append(opts, toolrun.WithEvents(events))
	}
	return toolrun.NewRunner(a.Layout, analyzers, a.Logger, opts...), nil
}

// Sinks 执行账本的写出目标: 文本文件, 配置了数据库时再写一份
func (a *App) Sinks() []ledger.Sink {
	sinks := []ledger.Sink{ledger.NewFileSink(a.Layout)}
	if a.Runs != nil {
		sinks = append(sinks, ledger.NewRepoSink(a.Runs))
	}
	return sinks
}

// Close 关闭数据库连接
func (a *App) Close() error {
	if a.DB == nil {
		return nil
	}
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
