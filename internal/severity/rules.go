package severity

import (
	"fmt"
	"os"

	"github.com/apk-analysis/apk-toolbench/internal/domain"
	"gopkg.in/yaml.v3"
)

// Rule 某个工具的高危关键字规则
//
// 关键字按大小写敏感的子串匹配候选条目的文本
type Rule struct {
	Tool        domain.Tool `yaml:"tool" json:"tool"`
	Description string      `yaml:"description" json:"description"`
	Keywords    []string    `yaml:"keywords" json:"keywords"`
	SortByCount bool        `yaml:"sort_by_count" json:"sort_by_count"` // 按发现数降序
}

// Rules 按工具索引的规则表
type Rules map[domain.Tool]Rule

// BuiltinRules 内置规则
func BuiltinRules() Rules {
	return Rules{
		domain.ToolAPKiD: {
			Tool:        domain.ToolAPKiD,
			Description: "anti-tamper and obfuscation tooling",
			Keywords:    []string{"axmlprinter2", "apktool", "suspicious", "link", "obfuscator", "dexlib", "smali"},
		},
		domain.ToolAPKLeaks: {
			Tool:        domain.ToolAPKLeaks,
			Description: "credential-like section names",
			Keywords:    []string{"Key", "Token", "OAuth"},
		},
		domain.ToolMobSF: {
			Tool:        domain.ToolMobSF,
			Description: "trackers, secrets and high appsec findings",
			Keywords:    []string{SignalTrackers, SignalSecrets, SignalAppsecHigh},
		},
		domain.ToolFlowDroid: {
			Tool:        domain.ToolFlowDroid,
			Description: "any taint flow result",
			Keywords:    []string{SignalResults},
			SortByCount: true,
		},
		domain.ToolDependencyCheck: {
			Tool:        domain.ToolDependencyCheck,
			Description: "high and critical CVEs",
			Keywords:    []string{"HIGH", "CRITICAL"},
		},
	}
}

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules 从 YAML 文件加载规则, 覆盖同一工具的内置规则
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}

	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}

	rules := BuiltinRules()
	for _, r := range file.Rules {
		tool, err := domain.ParseTool(string(r.Tool))
		if err != nil {
			return nil, fmt.Errorf("rules: %w", err)
		}
		r.Tool = tool
		rules[tool] = r
	}
	return rules, nil
}
