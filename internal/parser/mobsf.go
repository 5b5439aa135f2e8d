package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/apk-analysis/apk-toolbench/internal/domain"
	"github.com/sirupsen/logrus"
)

// MobSFFields MobSF 报告中保留的顶层字段
var MobSFFields = []string{
	"permissions",
	"certificate_analysis",
	"manifest_analysis",
	"code_analysis",
	"niap_analysis",
	"urls",
	"domains",
	"emails",
	"firebase_urls",
	"trackers",
	"secrets",
	"appsec",
}

// BulkyMobSFFields 体积较大, 默认不保留
var BulkyMobSFFields = []string{"strings", "files"}

// MobSFReport 按白名单过滤后的 MobSF 报告, 字段值保持原始 JSON
type MobSFReport struct {
	APK    string                     `json:"apk"`
	Fields map[string]json.RawMessage `json:"fields"`
}

// FilterMobSF 只保留白名单字段; 缺少任一字段视为格式错误
func FilterMobSF(data []byte, keepBulky bool) (*MobSFReport, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &MalformedError{Tool: domain.ToolMobSF, Reason: "invalid json", Err: err}
	}

	fields := MobSFFields
	if keepBulky {
		fields = append(append([]string{}, MobSFFields...), BulkyMobSFFields...)
	}

	report := &MobSFReport{Fields: make(map[string]json.RawMessage, len(fields))}
	for _, key := range fields {
		raw, ok := doc[key]
		if !ok {
			return nil, &MalformedError{Tool: domain.ToolMobSF, Reason: fmt.Sprintf("missing key %q", key)}
		}
		report.Fields[key] = raw
	}
	return report, nil
}

// Keys 返回已保留的字段名（排序）
func (r *MobSFReport) Keys() []string {
	keys := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len 返回字段的元素个数（对象或数组）, null 为 0
func (r *MobSFReport) Len(field string) (int, error) {
	raw, ok := r.Fields[field]
	if !ok {
		return 0, fmt.Errorf("%w: mobsf field %q not present", ErrUnexpectedShape, field)
	}
	n, err := rawLen(raw)
	if err != nil {
		return 0, fmt.Errorf("mobsf field %q: %w", field, err)
	}
	return n, nil
}

// DetectedTrackers trackers.detected_trackers
func (r *MobSFReport) DetectedTrackers() (int, error) {
	var trackers struct {
		Detected *int `json:"detected_trackers"`
	}
	if err := r.decode("trackers", &trackers); err != nil {
		return 0, err
	}
	if trackers.Detected == nil {
		return 0, fmt.Errorf("%w: trackers.detected_trackers missing", ErrUnexpectedShape)
	}
	return *trackers.Detected, nil
}

// AppsecLen 返回 appsec 某个等级（high/warning/info/hotspot）的条目数
func (r *MobSFReport) AppsecLen(bucket string) (int, error) {
	var appsec map[string]json.RawMessage
	if err := r.decode("appsec", &appsec); err != nil {
		return 0, err
	}
	raw, ok := appsec[bucket]
	if !ok {
		return 0, fmt.Errorf("%w: appsec.%s missing", ErrUnexpectedShape, bucket)
	}
	n, err := rawLen(raw)
	if err != nil {
		return 0, fmt.Errorf("appsec.%s: %w", bucket, err)
	}
	return n, nil
}

// AppsecTitles 返回 appsec 某个等级中各条目的 title
func (r *MobSFReport) AppsecTitles(bucket string) ([]string, error) {
	var appsec map[string]json.RawMessage
	if err := r.decode("appsec", &appsec); err != nil {
		return nil, err
	}
	raw, ok := appsec[bucket]
	if !ok {
		return nil, nil
	}
	var items []struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: appsec.%s: %v", ErrUnexpectedShape, bucket, err)
	}
	titles := make([]string, 0, len(items))
	for _, item := range items {
		titles = append(titles, item.Title)
	}
	return titles, nil
}

func (r *MobSFReport) decode(field string, v interface{}) error {
	raw, ok := r.Fields[field]
	if !ok {
		return fmt.Errorf("%w: mobsf field %q not present", ErrUnexpectedShape, field)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: mobsf field %q: %v", ErrUnexpectedShape, field, err)
	}
	return nil
}

func rawLen(raw json.RawMessage) (int, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return 0, nil
	}
	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return 0, err
		}
		return len(items), nil
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return 0, err
		}
		return len(obj), nil
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return 0, err
		}
		return len([]rune(s)), nil
	default:
		return 0, fmt.Errorf("%w: value has no length", ErrUnexpectedShape)
	}
}

// MobSF 解析某个 APK 的 MobSF JSON 报告
func (p *Parser) MobSF(apk string) (*MobSFReport, error) {
	data, path, err := p.readAll(domain.ToolMobSF, apk)
	if err != nil {
		return nil, err
	}

	report, err := FilterMobSF(data, p.keepBulky)
	if err != nil {
		return nil, withPath(err, path)
	}
	report.APK = apk

	p.logger.WithFields(logrus.Fields{
		"apk":    apk,
		"fields": len(report.Fields),
	}).Debug("MobSF report filtered")

	return report, nil
}
