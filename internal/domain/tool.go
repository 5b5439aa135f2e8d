package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Tool 外部分析工具标识
type Tool string

const (
	ToolAPKiD           Tool = "apkid"
	ToolAPKLeaks        Tool = "apkleaks"
	ToolMobSF           Tool = "mobsf"
	ToolFlowDroid       Tool = "flowdroid"
	ToolDependencyCheck Tool = "dependencycheck"
)

// ErrUnknownTool 未知的工具标识
var ErrUnknownTool = errors.New("unknown tool")

// AllTools 返回全部支持的工具
func AllTools() []Tool {
	return []Tool{ToolAPKiD, ToolAPKLeaks, ToolMobSF, ToolFlowDroid, ToolDependencyCheck}
}

// ParseTool 解析工具名（大小写不敏感）
func ParseTool(s string) (Tool, error) {
	t := Tool(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllTools() {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTool, s)
}

// ParseTools 解析工具列表, 保持顺序并去重
func ParseTools(names []string) ([]Tool, error) {
	seen := make(map[Tool]bool, len(names))
	tools := make([]Tool, 0, len(names))
	for _, name := range names {
		t, err := ParseTool(name)
		if err != nil {
			return nil, err
		}
		if seen[t] {
			continue
		}
		seen[t] = true
		tools = append(tools, t)
	}
	return tools, nil
}

func (t Tool) String() string {
	return string(t)
}
