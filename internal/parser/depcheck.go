package parser

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/apk-analysis/apk-toolbench/internal/domain"
	"github.com/sirupsen/logrus"
)

// SelectionMode 依赖选择方式
type SelectionMode string

const (
	SelectionAll             SelectionMode = "all"
	SelectionFirstVulnerable SelectionMode = "first-vulnerable"
	SelectionIndex           SelectionMode = "index"
)

// Selection 决定从哪些依赖中收集漏洞
type Selection struct {
	Mode  SelectionMode
	Index int
}

func SelectAll() Selection             { return Selection{Mode: SelectionAll} }
func SelectFirstVulnerable() Selection { return Selection{Mode: SelectionFirstVulnerable} }
func SelectIndex(i int) Selection      { return Selection{Mode: SelectionIndex, Index: i} }

// ParseSelection 解析 "all" / "first-vulnerable" / "index:<n>"
func ParseSelection(s string) (Selection, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch {
	case s == "" || s == string(SelectionAll):
		return SelectAll(), nil
	case s == string(SelectionFirstVulnerable):
		return SelectFirstVulnerable(), nil
	case strings.HasPrefix(s, "index:"):
		i, err := strconv.Atoi(strings.TrimPrefix(s, "index:"))
		if err != nil || i < 0 {
			return Selection{}, fmt.Errorf("invalid dependency index in %q", s)
		}
		return SelectIndex(i), nil
	default:
		return Selection{}, fmt.Errorf("unknown dependency selection %q", s)
	}
}

func (s Selection) String() string {
	if s.Mode == SelectionIndex {
		return fmt.Sprintf("index:%d", s.Index)
	}
	return string(s.Mode)
}

// CVSSv3 CVSS v3 评分
type CVSSv3 struct {
	BaseScore    float64 `json:"baseScore"`
	BaseSeverity string  `json:"baseSeverity"`
}

// Vulnerability 单个漏洞
type Vulnerability struct {
	Dependency  string  `json:"dependency,omitempty"`
	Source      string  `json:"source,omitempty"`
	Name        string  `json:"name"`
	Severity    string  `json:"severity"`
	Description string  `json:"description,omitempty"`
	CVSSv3      *CVSSv3 `json:"cvssv3,omitempty"`
}

type dependency struct {
	FileName        string          `json:"fileName"`
	Vulnerabilities []Vulnerability `json:"vulnerabilities"`
}

type dependencyCheckJSON struct {
	Dependencies []dependency `json:"dependencies"`
}

// DependencyCheckReport 按选择策略收集到的漏洞
type DependencyCheckReport struct {
	APK             string          `json:"apk"`
	Selection       string          `json:"selection"`
	Dependencies    int             `json:"dependencies"`
	Vulnerabilities []Vulnerability `json:"vulnerabilities"`
}

// ParseDependencyCheck 解析 dependency-check JSON 报告
//
// 选中的依赖不存在或没有漏洞时返回空列表
func ParseDependencyCheck(data []byte, sel Selection) (*DependencyCheckReport, error) {
	var doc dependencyCheckJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &MalformedError{Tool: domain.ToolDependencyCheck, Reason: "invalid json", Err: err}
	}

	report := &DependencyCheckReport{
		Selection:       sel.String(),
		Dependencies:    len(doc.Dependencies),
		Vulnerabilities: []Vulnerability{},
	}

	collect := func(dep dependency) {
		for _, v := range dep.Vulnerabilities {
			v.Dependency = dep.FileName
			report.Vulnerabilities = append(report.Vulnerabilities, v)
		}
	}

	switch sel.Mode {
	case SelectionIndex:
		if sel.Index < len(doc.Dependencies) {
			collect(doc.Dependencies[sel.Index])
		}
	case SelectionFirstVulnerable:
		for _, dep := range doc.Dependencies {
			if len(dep.Vulnerabilities) > 0 {
				collect(dep)
				break
			}
		}
	default:
		for _, dep := range doc.Dependencies {
			collect(dep)
		}
	}

	return report, nil
}

// DependencyCheck 解析某个 APK 的 dependency-check 报告
func (p *Parser) DependencyCheck(apk string) (*DependencyCheckReport, error) {
	data, path, err := p.readAll(domain.ToolDependencyCheck, apk)
	if err != nil {
		return nil, err
	}

	report, err := ParseDependencyCheck(data, p.selection)
	if err != nil {
		return nil, withPath(err, path)
	}
	report.APK = apk

	p.logger.WithFields(logrus.Fields{
		"apk":             apk,
		"selection":       report.Selection,
		"vulnerabilities": len(report.Vulnerabilities),
	}).Debug("Dependency-check report parsed")

	return report, nil
}
