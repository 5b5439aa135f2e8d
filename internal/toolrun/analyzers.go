package toolrun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/apk-analysis/apk-toolbench/internal/config"
	"github.com/apk-analysis/apk-toolbench/internal/domain"
	"github.com/apk-analysis/apk-toolbench/internal/mobsf"
	"github.com/apk-analysis/apk-toolbench/internal/workspace"
	"github.com/sirupsen/logrus"
)

// Analyzer 对单个 APK 执行一种工具, 输出写入工作目录
type Analyzer interface {
	Tool() domain.Tool
	Analyze(ctx context.Context, apk string) error
}

// commandAnalyzer 由一条或多条命令组成的工具
type commandAnalyzer struct {
	tool     domain.Tool
	timeout  time.Duration
	runner   CommandRunner
	commands func(apk string) []Command
	prepare  func(apk string) error
	cleanup  func(apk string) // 无论成功与否都在命令结束后调用
}

func (a *commandAnalyzer) Tool() domain.Tool { return a.tool }

// Analyze 依次执行命令, 每条命令单独计时
func (a *commandAnalyzer) Analyze(ctx context.Context, apk string) error {
	if a.prepare != nil {
		if err := a.prepare(apk); err != nil {
			return err
		}
	}
	if a.cleanup != nil {
		defer a.cleanup(apk)
	}
	for _, cmd := range a.commands(apk) {
		if _, err := a.runner.Run(ctx, cmd, a.timeout); err != nil {
			return err
		}
	}
	return nil
}

// NewAPKiDAnalyzer apkid -v <apk>, 标准输出即报告
func NewAPKiDAnalyzer(layout workspace.Layout, cfg config.CommandToolConfig, runner CommandRunner) Analyzer {
	return &commandAnalyzer{
		tool:    domain.ToolAPKiD,
		timeout: config.Seconds(cfg.Timeout),
		runner:  runner,
		commands: func(apk string) []Command {
			return []Command{{
				Name:       cfg.Binary,
				Args:       []string{"-v", layout.APKPath(apk)},
				StdoutPath: layout.OutputPath(domain.ToolAPKiD, apk),
			}}
		},
	}
}

// NewAPKLeaksAnalyzer apkleaks -f <apk> -o <out>
func NewAPKLeaksAnalyzer(layout workspace.Layout, cfg config.CommandToolConfig, runner CommandRunner) Analyzer {
	return &commandAnalyzer{
		tool:    domain.ToolAPKLeaks,
		timeout: config.Seconds(cfg.Timeout),
		runner:  runner,
		commands: func(apk string) []Command {
			return []Command{{
				Name: cfg.Binary,
				Args: []string{"-f", layout.APKPath(apk), "-o", layout.OutputPath(domain.ToolAPKLeaks, apk)},
			}}
		},
	}
}

// NewFlowDroidAnalyzer java -jar <jar> -s <sources_sinks> -a <apk> -p <platforms> -o <out>
func NewFlowDroidAnalyzer(layout workspace.Layout, cfg config.FlowDroidConfig, runner CommandRunner) Analyzer {
	return &commandAnalyzer{
		tool:    domain.ToolFlowDroid,
		timeout: config.Seconds(cfg.Timeout),
		runner:  runner,
		commands: func(apk string) []Command {
			return []Command{{
				Name: cfg.Java,
				Args: []string{
					"-jar", cfg.Jar,
					"-s", cfg.SourcesSinks,
					"-a", layout.APKPath(apk),
					"-p", cfg.Platforms,
					"-o", layout.OutputPath(domain.ToolFlowDroid, apk),
				},
			}}
		},
	}
}

// NewDependencyCheckAnalyzer 先 dex2jar 再对 jar 执行 dependency-check, 每种报告格式一次
func NewDependencyCheckAnalyzer(layout workspace.Layout, cfg config.DependencyCheckConfig, runner CommandRunner) Analyzer {
	formats := normalizeFormats(cfg.Formats)
	return &commandAnalyzer{
		tool:    domain.ToolDependencyCheck,
		timeout: config.Seconds(cfg.Timeout),
		runner:  runner,
		prepare: func(apk string) error {
			if err := os.MkdirAll(filepath.Dir(layout.TempJarPath(apk)), 0o755); err != nil {
				return err
			}
			return os.MkdirAll(layout.DependencyCheckDir(apk), 0o755)
		},
		cleanup: func(apk string) {
			os.Remove(layout.TempJarPath(apk))
		},
		commands: func(apk string) []Command {
			jar := layout.TempJarPath(apk)
			cmds := []Command{{
				Name: cfg.Dex2Jar,
				Args: []string{"--force", layout.APKPath(apk), "-o", jar},
			}}
			for _, f := range formats {
				cmds = append(cmds, Command{
					Name: cfg.Binary,
					Args: []string{"-s", jar, "-f", f, "-o", layout.DependencyCheckDir(apk)},
				})
			}
			return cmds
		},
	}
}

// normalizeFormats 保证 JSON 报告一定生成且排在最前
func normalizeFormats(formats []string) []string {
	out := []string{"JSON"}
	for _, f := range formats {
		f = strings.ToUpper(strings.TrimSpace(f))
		if f == "" || f == "JSON" {
			continue
		}
		out = append(out, f)
	}
	return out
}

// MobSFClient MobSF REST 接口
type MobSFClient interface {
	ScanTimeout() time.Duration
	Upload(ctx context.Context, apkPath string) (*mobsf.UploadResponse, error)
	Scan(ctx context.Context, up *mobsf.UploadResponse) error
	ReportJSON(ctx context.Context, hash string) ([]byte, error)
	DownloadPDF(ctx context.Context, hash string, w io.Writer) error
	DeleteScan(ctx context.Context, hash string) error
}

type mobsfAnalyzer struct {
	layout      workspace.Layout
	client      MobSFClient
	downloadPDF bool
	deleteAfter bool
	logger      *logrus.Logger
}

// NewMobSFAnalyzer 通过 REST 接口上传、扫描并保存 JSON 报告
func NewMobSFAnalyzer(layout workspace.Layout, cfg config.MobSFConfig, client MobSFClient, logger *logrus.Logger) Analyzer {
	return &mobsfAnalyzer{
		layout:      layout,
		client:      client,
		downloadPDF: cfg.DownloadPDF,
		deleteAfter: cfg.DeleteAfter,
		logger:      logger,
	}
}

func (a *mobsfAnalyzer) Tool() domain.Tool { return domain.ToolMobSF }

// Analyze 整个流程共享一个扫描时限, 超时映射为 ErrTimeout
func (a *mobsfAnalyzer) Analyze(ctx context.Context, apk string) error {
	timeout := a.client.ScanTimeout()
	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := a.analyze(scanCtx, apk)
	if err != nil && errors.Is(scanCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("mobsf scan of %s after %s: %w", apk, timeout, ErrTimeout)
	}
	return err
}

func (a *mobsfAnalyzer) analyze(ctx context.Context, apk string) error {
	log := a.logger.WithField("apk", apk)

	up, err := a.client.Upload(ctx, a.layout.APKPath(apk))
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	log.WithField("hash", up.Hash).Debug("Uploaded to MobSF")

	if err := a.client.Scan(ctx, up); err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	report, err := a.client.ReportJSON(ctx, up.Hash)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}
	if err := writeFileAtomic(a.layout.OutputPath(domain.ToolMobSF, apk), report); err != nil {
		return err
	}

	if a.downloadPDF {
		var buf bytes.Buffer
		if err := a.client.DownloadPDF(ctx, up.Hash, &buf); err != nil {
			// JSON 报告已经保存, PDF 只是附带产物
			log.WithError(err).Warn("Failed to download MobSF PDF report")
		} else if err := writeFileAtomic(a.layout.PDFReportPath(apk), buf.Bytes()); err != nil {
			log.WithError(err).Warn("Failed to save MobSF PDF report")
		}
	}

	if a.deleteAfter {
		if err := a.client.DeleteScan(ctx, up.Hash); err != nil {
			log.WithError(err).Warn("Failed to delete MobSF scan")
		}
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// NewAnalyzers 按配置中的启用顺序构造分析器
func NewAnalyzers(cfg *config.Config, layout workspace.Layout, runner CommandRunner, client MobSFClient, logger *logrus.Logger) ([]Analyzer, error) {
	tools, err := domain.ParseTools(cfg.Tools.Enabled)
	if err != nil {
		return nil, err
	}

	analyzers := make([]Analyzer, 0, len(tools))
	for _, tool := range tools {
		switch tool {
		case domain.ToolAPKiD:
			analyzers = append(analyzers, NewAPKiDAnalyzer(layout, cfg.Tools.APKiD, runner))
		case domain.ToolAPKLeaks:
			analyzers = append(analyzers, NewAPKLeaksAnalyzer(layout, cfg.Tools.APKLeaks, runner))
		case domain.ToolFlowDroid:
			analyzers = append(analyzers, NewFlowDroidAnalyzer(layout, cfg.Tools.FlowDroid, runner))
		case domain.ToolDependencyCheck:
			analyzers = append(analyzers, NewDependencyCheckAnalyzer(layout, cfg.Tools.DependencyCheck, runner))
		case domain.ToolMobSF:
			if client == nil {
				return nil, fmt.Errorf("mobsf enabled but no client configured")
			}
			analyzers = append(analyzers, NewMobSFAnalyzer(layout, cfg.Tools.MobSF, client, logger))
		}
	}
	return analyzers, nil
}
