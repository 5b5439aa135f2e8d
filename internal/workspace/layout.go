package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/apk-analysis/apk-toolbench/internal/domain"
)

const (
	runtimesDir    = "runtimes"
	statisticsDir  = "statistics"
	tempJarDir     = "temp_jar"
	timeoutsLedger = "timeouts.txt"

	// DependencyCheckReport dependency-check 固定的 JSON 报告文件名
	DependencyCheckReport = "dependency-check-report.json"
)

// Layout 工作目录布局, 所有输出路径都由 APK 文件名推导
type Layout struct {
	Root    string
	AppsDir string
}

// New 创建布局; appsDir 为相对路径时基于 root
func New(root, appsDir string) Layout {
	if root == "" {
		root = "."
	}
	if appsDir == "" {
		appsDir = "apps"
	}
	if !filepath.IsAbs(appsDir) {
		appsDir = filepath.Join(root, appsDir)
	}
	return Layout{Root: root, AppsDir: appsDir}
}

// BaseName 去掉目录和 .apk 扩展名, 扩展名大小写不敏感
func BaseName(apk string) string {
	name := filepath.Base(apk)
	if ext := filepath.Ext(name); strings.EqualFold(ext, ".apk") {
		return strings.TrimSuffix(name, ext)
	}
	return name
}

// APKPath APK 在 apps 目录中的路径
func (l Layout) APKPath(apk string) string {
	return filepath.Join(l.AppsDir, filepath.Base(apk))
}

// OutputDir 工具输出目录, 例如 apkid_output
func (l Layout) OutputDir(tool domain.Tool) string {
	return filepath.Join(l.Root, string(tool)+"_output")
}

// OutputPath 工具对某个 APK 的输出文件
func (l Layout) OutputPath(tool domain.Tool, apk string) string {
	base := BaseName(apk)
	dir := l.OutputDir(tool)
	switch tool {
	case domain.ToolAPKiD:
		return filepath.Join(dir, base+"_apkid.txt")
	case domain.ToolAPKLeaks:
		return filepath.Join(dir, base+"_apkleaks.txt")
	case domain.ToolFlowDroid:
		return filepath.Join(dir, base+"_flowdroid.xml")
	case domain.ToolMobSF:
		return filepath.Join(dir, base+"_mobsf.json")
	case domain.ToolDependencyCheck:
		return filepath.Join(dir, base, DependencyCheckReport)
	default:
		return filepath.Join(dir, base)
	}
}

// DependencyCheckDir dependency-check 报告目录
func (l Layout) DependencyCheckDir(apk string) string {
	return filepath.Join(l.OutputDir(domain.ToolDependencyCheck), BaseName(apk))
}

// PDFReportPath MobSF PDF 报告
func (l Layout) PDFReportPath(apk string) string {
	return filepath.Join(l.OutputDir(domain.ToolMobSF), BaseName(apk)+"_report.pdf")
}

// TempJarPath dex2jar 中间产物
func (l Layout) TempJarPath(apk string) string {
	return filepath.Join(l.Root, tempJarDir, BaseName(apk)+".jar")
}

// RuntimeLedgerPath runtimes/runtime_<tool>.txt
func (l Layout) RuntimeLedgerPath(tool domain.Tool) string {
	return filepath.Join(l.Root, runtimesDir, "runtime_"+string(tool)+".txt")
}

// TimeoutLedgerPath timeouts.txt
func (l Layout) TimeoutLedgerPath() string {
	return filepath.Join(l.Root, timeoutsLedger)
}

// StatisticsDir 图表输出目录
func (l Layout) StatisticsDir() string {
	return filepath.Join(l.Root, statisticsDir)
}

// HasOutput 判断工具输出是否已存在
func (l Layout) HasOutput(tool domain.Tool, apk string) bool {
	info, err := os.Stat(l.OutputPath(tool, apk))
	return err == nil && !info.IsDir()
}

// EnsureDirs 创建所有输出目录
func (l Layout) EnsureDirs() error {
	dirs := []string{
		l.AppsDir,
		filepath.Join(l.Root, runtimesDir),
		filepath.Join(l.Root, tempJarDir),
		l.StatisticsDir(),
	}
	for _, tool := range domain.AllTools() {
		dirs = append(dirs, l.OutputDir(tool))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// ListAPKs 列出 apps 目录下的 APK 文件名（排序）
func (l Layout) ListAPKs() ([]string, error) {
	entries, err := os.ReadDir(l.AppsDir)
	if err != nil {
		return nil, fmt.Errorf("read apps dir: %w", err)
	}

	var apks []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".apk") {
			continue
		}
		apks = append(apks, e.Name())
	}
	sort.Strings(apks)
	return apks, nil
}
