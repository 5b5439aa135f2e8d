package severity

import (
	"errors"
	"fmt"
	"sort"

	"github.com/apk-analysis/apk-toolbench/internal/domain"
	"github.com/apk-analysis/apk-toolbench/internal/parser"
	"github.com/sirupsen/logrus"
)

// MobSF 和 FlowDroid 的候选条目名
const (
	SignalTrackers   = "trackers"
	SignalSecrets    = "secrets"
	SignalAppsecHigh = "appsec.high"
	SignalResults    = "results"
)

// DefaultTools 默认参与汇总的工具
var DefaultTools = []domain.Tool{domain.ToolAPKiD, domain.ToolMobSF, domain.ToolAPKLeaks, domain.ToolFlowDroid}

// Flag 一个高危标记
type Flag struct {
	APK      string   `json:"apk" yaml:"apk"`
	Item     string   `json:"item" yaml:"item"`
	Count    int      `json:"count,omitempty" yaml:"count,omitempty"`
	Keywords []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
}

// Summary 各工具的高危标记列表
type Summary struct {
	Tools []domain.Tool          `json:"tools" yaml:"tools"`
	Flags map[domain.Tool][]Flag `json:"flags" yaml:"flags"`
}

// Summarizer 重新解析各工具输出并应用规则表
type Summarizer struct {
	parser *parser.Parser
	rules  Rules
	tools  []domain.Tool
	logger *logrus.Logger
}

// NewSummarizer 创建汇总器; tools 为空时使用 DefaultTools
func NewSummarizer(p *parser.Parser, rules Rules, tools []domain.Tool, logger *logrus.Logger) *Summarizer {
	if rules == nil {
		rules = BuiltinRules()
	}
	if len(tools) == 0 {
		tools = DefaultTools
	}
	return &Summarizer{parser: p, rules: rules, tools: tools, logger: logger}
}

// Summarize 按 APK 顺序汇总; 输出缺失时跳过, 格式错误时返回错误
func (s *Summarizer) Summarize(apks []string) (*Summary, error) {
	summary := &Summary{
		Tools: s.tools,
		Flags: make(map[domain.Tool][]Flag, len(s.tools)),
	}
	for _, tool := range s.tools {
		summary.Flags[tool] = []Flag{}
	}

	for _, apk := range apks {
		for _, tool := range s.tools {
			rule, ok := s.rules[tool]
			if !ok {
				continue
			}

			candidates, err := s.candidates(tool, apk)
			if err != nil {
				if parser.IsMissing(err) {
					continue
				}
				if errors.Is(err, parser.ErrUnexpectedShape) && tool == domain.ToolFlowDroid {
					s.logger.WithFields(logrus.Fields{"tool": tool, "apk": apk}).WithError(err).Warn("Skipping undefined result")
					continue
				}
				return nil, fmt.Errorf("summarize %s for %s: %w", tool, apk, err)
			}

			summary.Flags[tool] = append(summary.Flags[tool], Classify(rule, apk, candidates)...)
		}
	}

	for tool, rule := range s.rules {
		if flags, ok := summary.Flags[tool]; ok && rule.SortByCount {
			sort.SliceStable(flags, func(i, j int) bool { return flags[i].Count > flags[j].Count })
		}
	}

	s.logger.WithFields(logrus.Fields{
		"apks":  len(apks),
		"tools": len(s.tools),
	}).Info("Severity summary built")

	return summary, nil
}

func (s *Summarizer) candidates(tool domain.Tool, apk string) ([]Candidate, error) {
	switch tool {
	case domain.ToolAPKiD:
		r, err := s.parser.APKiD(apk)
		if err != nil {
			return nil, err
		}
		var out []Candidate
		for _, key := range r.Keys() {
			out = append(out, Candidate{Item: key, Texts: r.Values(key)})
		}
		return out, nil

	case domain.ToolAPKLeaks:
		r, err := s.parser.APKLeaks(apk)
		if err != nil {
			return nil, err
		}
		var out []Candidate
		for _, name := range r.Order {
			if len(r.Sections[name]) == 0 {
				continue
			}
			out = append(out, Candidate{Item: name, Texts: []string{name}, Count: len(r.Sections[name])})
		}
		return out, nil

	case domain.ToolMobSF:
		r, err := s.parser.MobSF(apk)
		if err != nil {
			return nil, err
		}
		return mobsfCandidates(r)

	case domain.ToolFlowDroid:
		r, err := s.parser.FlowDroid(apk)
		if err != nil {
			return nil, err
		}
		n, err := r.ResultCount()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, nil
		}
		return []Candidate{{Item: SignalResults, Texts: []string{SignalResults}, Count: n}}, nil

	case domain.ToolDependencyCheck:
		r, err := s.parser.DependencyCheck(apk)
		if err != nil {
			return nil, err
		}
		out := make([]Candidate, 0, len(r.Vulnerabilities))
		for _, v := range r.Vulnerabilities {
			out = append(out, Candidate{Item: v.Name, Texts: []string{v.Severity}})
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %q", domain.ErrUnknownTool, tool)
}

func mobsfCandidates(r *parser.MobSFReport) ([]Candidate, error) {
	var out []Candidate

	trackers, err := r.DetectedTrackers()
	if err != nil {
		return nil, err
	}
	if trackers > 0 {
		out = append(out, Candidate{Item: SignalTrackers, Texts: []string{SignalTrackers}, Count: trackers})
	}

	secrets, err := r.Len("secrets")
	if err != nil {
		return nil, err
	}
	if secrets > 0 {
		out = append(out, Candidate{Item: SignalSecrets, Texts: []string{SignalSecrets}, Count: secrets})
	}

	high, err := r.AppsecLen("high")
	if err != nil {
		return nil, err
	}
	if high > 0 {
		out = append(out, Candidate{Item: SignalAppsecHigh, Texts: []string{SignalAppsecHigh}, Count: high})
	}
	return out, nil
}
