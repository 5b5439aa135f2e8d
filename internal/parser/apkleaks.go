package parser

import (
	"io"
	"strings"

	"github.com/apk-analysis/apk-toolbench/internal/domain"
	"github.com/sirupsen/logrus"
)

// APKLeaksReport APKLeaks 解析结果, Sections 中每个分组保持原始顺序
type APKLeaksReport struct {
	APK      string              `json:"apk"`
	Sections map[string][]string `json:"sections"`
	Order    []string            `json:"order"`
}

// Section 返回分组内容
func (r *APKLeaksReport) Section(name string) []string {
	return r.Sections[name]
}

// ParseAPKLeaks 解析 "[Section]" 标题加 "- value" 条目的分组文本
//
// 重复出现的标题会清空之前的内容; 分组顺序按首次出现排列
func ParseAPKLeaks(r io.Reader) (*APKLeaksReport, error) {
	report := &APKLeaksReport{Sections: map[string][]string{}}
	current, active := "", false

	scanner := newLineScanner(r)
	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(line, "[") {
			current, active = strings.Trim(line, "[]\r\n"), true
			if _, seen := report.Sections[current]; !seen {
				report.Order = append(report.Order, current)
			}
			report.Sections[current] = []string{}
			continue
		}

		if !active {
			continue
		}

		value := strings.TrimSpace(line)
		value = strings.TrimPrefix(value, "-")
		value = strings.TrimSpace(value)
		if value != "" {
			report.Sections[current] = append(report.Sections[current], value)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &MalformedError{Tool: domain.ToolAPKLeaks, Reason: "read failed", Err: err}
	}

	return report, nil
}

// APKLeaks 解析某个 APK 的 APKLeaks 输出
func (p *Parser) APKLeaks(apk string) (*APKLeaksReport, error) {
	f, path, err := p.open(domain.ToolAPKLeaks, apk)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	report, err := ParseAPKLeaks(f)
	if err != nil {
		return nil, withPath(err, path)
	}
	report.APK = apk

	p.logger.WithFields(logrus.Fields{
		"apk":      apk,
		"sections": len(report.Order),
	}).Debug("APKLeaks output parsed")

	return report, nil
}
