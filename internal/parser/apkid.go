package parser

import (
	"io"
	"strings"

	"github.com/apk-analysis/apk-toolbench/internal/domain"
	"github.com/sirupsen/logrus"
)

const (
	antiVMMarker   = "anti_vm : "
	compilerMarker = "compiler : "
	unitPrefix     = "[*] "
	detectionArrow = "|->"
)

// APKiDUnit 单个代码单元（classes.dex 等）的检测结果
type APKiDUnit struct {
	Name       string              `json:"name"`
	Detections map[string][]string `json:"detections"`
}

// APKiDReport APKiD 解析结果
//
// AntiVM 和 Compiler 取文件中最后一次出现的值; 按代码单元划分的完整结果在 Units 中
type APKiDReport struct {
	APK      string      `json:"apk"`
	AntiVM   []string    `json:"anti_vm,omitempty"`
	Compiler *string     `json:"compiler,omitempty"`
	Units    []APKiDUnit `json:"units,omitempty"`
}

// Keys 返回存在的键, 顺序固定为 anti_vm, compiler
func (r *APKiDReport) Keys() []string {
	var keys []string
	if r.AntiVM != nil {
		keys = append(keys, "anti_vm")
	}
	if r.Compiler != nil {
		keys = append(keys, "compiler")
	}
	return keys
}

// Values 返回某个键下的值, compiler 视为单元素列表
func (r *APKiDReport) Values(key string) []string {
	switch key {
	case "anti_vm":
		return r.AntiVM
	case "compiler":
		if r.Compiler != nil {
			return []string{*r.Compiler}
		}
	}
	return nil
}

// ParseAPKiD 逐行扫描 apkid -v 的输出
func ParseAPKiD(r io.Reader) (*APKiDReport, error) {
	report := &APKiDReport{}
	var unit *APKiDUnit

	scanner := newLineScanner(r)
	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(line, unitPrefix) {
			name := strings.TrimSpace(strings.TrimPrefix(line, unitPrefix))
			if i := strings.LastIndex(name, "!"); i >= 0 {
				name = name[i+1:]
			}
			report.Units = append(report.Units, APKiDUnit{Name: name, Detections: map[string][]string{}})
			unit = &report.Units[len(report.Units)-1]
			continue
		}

		if _, after, ok := strings.Cut(line, antiVMMarker); ok {
			report.AntiVM = strings.Split(strings.TrimSpace(after), ", ")
		}
		if _, after, ok := strings.Cut(line, compilerMarker); ok {
			compiler := strings.TrimSpace(after)
			report.Compiler = &compiler
		}

		if unit != nil {
			if category, values, ok := parseDetection(line); ok {
				unit.Detections[category] = values
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &MalformedError{Tool: domain.ToolAPKiD, Reason: "read failed", Err: err}
	}

	return report, nil
}

// parseDetection 解析 " |-> category : a, b" 形式的行
func parseDetection(line string) (string, []string, bool) {
	_, rest, ok := strings.Cut(line, detectionArrow)
	if !ok {
		return "", nil, false
	}
	category, values, ok := strings.Cut(rest, " : ")
	if !ok {
		return "", nil, false
	}
	category = strings.TrimSpace(category)
	if category == "" {
		return "", nil, false
	}
	return category, strings.Split(strings.TrimSpace(values), ", "), true
}

// APKiD 解析某个 APK 的 APKiD 输出, 文件不存在时返回 ErrMissing
func (p *Parser) APKiD(apk string) (*APKiDReport, error) {
	f, path, err := p.open(domain.ToolAPKiD, apk)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	report, err := ParseAPKiD(f)
	if err != nil {
		return nil, withPath(err, path)
	}
	report.APK = apk

	p.logger.WithFields(logrus.Fields{
		"apk":   apk,
		"keys":  report.Keys(),
		"units": len(report.Units),
	}).Debug("APKiD output parsed")

	return report, nil
}
