package parser

import (
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/apk-analysis/apk-toolbench/internal/domain"
	"github.com/clbanning/mxj/v2"
	"github.com/sirupsen/logrus"
)

const (
	flowDroidRoot = "DataFlowResults"
	// AttrPrefix 属性名前缀, 与子元素区分
	AttrPrefix = "-"
)

// FlowDroidReport FlowDroid XML 的完整树形结构
//
// 属性以 "-" 为前缀, 文本节点为 "#text", 重复元素为列表, 所有值保持字符串
type FlowDroidReport struct {
	APK  string                 `json:"apk"`
	Tree map[string]interface{} `json:"tree"`
}

// ParseFlowDroid 将 XML 无损转换为嵌套 map
func ParseFlowDroid(r io.Reader) (*FlowDroidReport, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &MalformedError{Tool: domain.ToolFlowDroid, Reason: "read failed", Err: err}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &MalformedError{Tool: domain.ToolFlowDroid, Reason: "empty document"}
	}

	m, err := mxj.NewMapXml(data)
	if err != nil {
		return nil, &MalformedError{Tool: domain.ToolFlowDroid, Reason: "invalid xml", Err: err}
	}

	return &FlowDroidReport{Tree: m.Old()}, nil
}

func (r *FlowDroidReport) root() (map[string]interface{}, error) {
	root, ok := r.Tree[flowDroidRoot].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: no %s element", ErrUnexpectedShape, flowDroidRoot)
	}
	return root, nil
}

// ResultCount 返回 Result 元素个数; 没有 Results 时为 0
func (r *FlowDroidReport) ResultCount() (int, error) {
	root, err := r.root()
	if err != nil {
		return 0, err
	}

	results, ok := root["Results"]
	if !ok {
		return 0, nil
	}

	switch v := results.(type) {
	case string:
		// <Results/>
		return 0, nil
	case map[string]interface{}:
		result, ok := v["Result"]
		if !ok {
			return 0, fmt.Errorf("%w: Results without Result", ErrUnexpectedShape)
		}
		return countElements(result)
	default:
		return 0, fmt.Errorf("%w: Results is %T", ErrUnexpectedShape, results)
	}
}

// Results 返回所有 Result 元素（单个元素也包装为列表）
func (r *FlowDroidReport) Results() []map[string]interface{} {
	root, err := r.root()
	if err != nil {
		return nil
	}
	results, ok := root["Results"].(map[string]interface{})
	if !ok {
		return nil
	}
	return asMapList(results["Result"])
}

// TerminationState 根元素的 TerminationState 属性
func (r *FlowDroidReport) TerminationState() string {
	root, err := r.root()
	if err != nil {
		return ""
	}
	s, _ := root[AttrPrefix+"TerminationState"].(string)
	return s
}

// PerformanceEntries 返回 PerformanceData 中的原始字符串值
func (r *FlowDroidReport) PerformanceEntries() map[string]string {
	entries := map[string]string{}
	root, err := r.root()
	if err != nil {
		return entries
	}
	perf, ok := root["PerformanceData"].(map[string]interface{})
	if !ok {
		return entries
	}
	for _, entry := range asMapList(perf["PerformanceEntry"]) {
		name, _ := entry[AttrPrefix+"Name"].(string)
		value, _ := entry[AttrPrefix+"Value"].(string)
		if name != "" {
			entries[name] = value
		}
	}
	return entries
}

// PerformanceValue 将某个性能计数解析为整数
func (r *FlowDroidReport) PerformanceValue(name string) (int64, error) {
	raw, ok := r.PerformanceEntries()[name]
	if !ok {
		return 0, fmt.Errorf("performance entry %q not found", name)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("performance entry %q: %w", name, err)
	}
	return v, nil
}

func countElements(v interface{}) (int, error) {
	switch e := v.(type) {
	case []interface{}:
		return len(e), nil
	case map[string]interface{}, string:
		return 1, nil
	default:
		return 0, fmt.Errorf("%w: element is %T", ErrUnexpectedShape, v)
	}
}

func asMapList(v interface{}) []map[string]interface{} {
	switch e := v.(type) {
	case map[string]interface{}:
		return []map[string]interface{}{e}
	case []interface{}:
		out := make([]map[string]interface{}, 0, len(e))
		for _, item := range e {
			if m, ok := item.(map[string]interface{}); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

// FlowDroid 解析某个 APK 的 FlowDroid 输出; 文件不存在时返回 ErrMissing
func (p *Parser) FlowDroid(apk string) (*FlowDroidReport, error) {
	data, path, err := p.readAll(domain.ToolFlowDroid, apk)
	if err != nil {
		return nil, err
	}

	report, err := ParseFlowDroid(bytes.NewReader(data))
	if err != nil {
		return nil, withPath(err, path)
	}
	report.APK = apk

	p.logger.WithFields(logrus.Fields{
		"apk":         apk,
		"termination": report.TerminationState(),
	}).Debug("FlowDroid output parsed")

	return report, nil
}
