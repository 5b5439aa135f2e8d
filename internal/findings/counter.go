package findings

import (
	"errors"
	"fmt"

	"github.com/apk-analysis/apk-toolbench/internal/domain"
	"github.com/apk-analysis/apk-toolbench/internal/parser"
	"github.com/sirupsen/logrus"
)

// ErrUndefined 输出存在但无法得出计数, 与 "0 个发现" 不同
var ErrUndefined = errors.New("finding count undefined")

// appsecBuckets 计入总数的 appsec 等级
var appsecBuckets = []string{"high", "warning", "info", "hotspot"}

// Policy 计数策略
type Policy struct {
	IncludePermissions bool     // MobSF 是否计入权限数
	ExcludedSections   []string // APKLeaks 不计入的分组
}

// DefaultPolicy 默认计数策略
func DefaultPolicy() Policy {
	return Policy{
		IncludePermissions: true,
		ExcludedSections:   []string{"LinkFinder"},
	}
}

// Count 某个工具对某个 APK 的发现数
type Count struct {
	Tool    domain.Tool `json:"tool"`
	APK     string      `json:"apk"`
	Value   int         `json:"value"`
	Missing bool        `json:"missing"` // 没有输出, Value 为 0
}

// Counter 发现计数器
type Counter struct {
	parser *parser.Parser
	policy Policy
	logger *logrus.Logger
}

// NewCounter 创建计数器
func NewCounter(p *parser.Parser, policy Policy, logger *logrus.Logger) *Counter {
	return &Counter{parser: p, policy: policy, logger: logger}
}

// Policy 返回当前计数策略
func (c *Counter) Policy() Policy {
	return c.policy
}

// Count 解析输出并按工具策略计数
//
// 输出缺失返回 Missing=true 且无错误; 格式错误和结构异常返回错误
func (c *Counter) Count(tool domain.Tool, apk string) (Count, error) {
	result := Count{Tool: tool, APK: apk}

	var (
		n   int
		err error
	)
	switch tool {
	case domain.ToolAPKiD:
		var r *parser.APKiDReport
		if r, err = c.parser.APKiD(apk); err == nil {
			n = CountAPKiD(r)
		}
	case domain.ToolAPKLeaks:
		var r *parser.APKLeaksReport
		if r, err = c.parser.APKLeaks(apk); err == nil {
			n = CountAPKLeaks(r, c.policy.ExcludedSections)
		}
	case domain.ToolMobSF:
		var r *parser.MobSFReport
		if r, err = c.parser.MobSF(apk); err == nil {
			n, err = CountMobSF(r, c.policy.IncludePermissions)
		}
	case domain.ToolFlowDroid:
		var r *parser.FlowDroidReport
		if r, err = c.parser.FlowDroid(apk); err == nil {
			n, err = CountFlowDroid(r)
		}
	case domain.ToolDependencyCheck:
		var r *parser.DependencyCheckReport
		if r, err = c.parser.DependencyCheck(apk); err == nil {
			n = len(r.Vulnerabilities)
		}
	default:
		c.logger.WithFields(logrus.Fields{"tool": tool, "apk": apk}).Error("Unknown tool for finding count")
		return result, fmt.Errorf("%w: %q", domain.ErrUnknownTool, tool)
	}

	if err != nil {
		if parser.IsMissing(err) {
			result.Missing = true
			return result, nil
		}
		return result, err
	}

	result.Value = n
	return result, nil
}

// CountAll 对一批 APK 计数, 遇到第一个错误即返回
func (c *Counter) CountAll(tool domain.Tool, apks []string) ([]Count, error) {
	counts := make([]Count, 0, len(apks))
	for _, apk := range apks {
		count, err := c.Count(tool, apk)
		if err != nil {
			return nil, fmt.Errorf("count %s findings for %s: %w", tool, apk, err)
		}
		counts = append(counts, count)
	}
	return counts, nil
}

// CountAPKiD 列表按长度计, 标量按 1 计
func CountAPKiD(r *parser.APKiDReport) int {
	n := len(r.AntiVM)
	if r.Compiler != nil {
		n++
	}
	return n
}

// CountAPKLeaks 各分组条目数之和, 排除 excluded 中的分组
func CountAPKLeaks(r *parser.APKLeaksReport, excluded []string) int {
	skip := make(map[string]bool, len(excluded))
	for _, name := range excluded {
		skip[name] = true
	}

	n := 0
	for name, values := range r.Sections {
		if skip[name] {
			continue
		}
		n += len(values)
	}
	return n
}

// CountMobSF trackers + firebase_urls + secrets + emails + appsec 四个等级 [+ permissions]
func CountMobSF(r *parser.MobSFReport, includePermissions bool) (int, error) {
	total, err := r.DetectedTrackers()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUndefined, err)
	}

	fields := []string{"firebase_urls", "secrets", "emails"}
	if includePermissions {
		fields = append(fields, "permissions")
	}
	for _, field := range fields {
		n, err := r.Len(field)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrUndefined, err)
		}
		total += n
	}

	for _, bucket := range appsecBuckets {
		n, err := r.AppsecLen(bucket)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrUndefined, err)
		}
		total += n
	}
	return total, nil
}

// CountFlowDroid Result 个数; 结构异常时返回 ErrUndefined
func CountFlowDroid(r *parser.FlowDroidReport) (int, error) {
	n, err := r.ResultCount()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUndefined, err)
	}
	return n, nil
}
