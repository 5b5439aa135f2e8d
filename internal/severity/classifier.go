package severity

import "strings"

// Candidate 待分类的条目
type Candidate struct {
	Item  string   // 被标记的对象, 例如 anti_vm、Google_API_Key、CVE 编号
	Texts []string // 参与匹配的文本
	Count int      // 条目附带的发现数, 用于排序
}

// Match 返回命中的关键字（大小写敏感的子串匹配）
func Match(keywords []string, texts ...string) []string {
	var matched []string
	for _, kw := range keywords {
		for _, text := range texts {
			if strings.Contains(text, kw) {
				matched = append(matched, kw)
				break
			}
		}
	}
	return matched
}

// Classify 对候选条目应用规则, 每个条目最多产出一个标记
func Classify(rule Rule, apk string, candidates []Candidate) []Flag {
	var flags []Flag
	seen := map[string]bool{}
	for _, c := range candidates {
		if seen[c.Item] {
			continue
		}
		matched := Match(rule.Keywords, c.Texts...)
		if len(matched) == 0 {
			continue
		}
		seen[c.Item] = true
		flags = append(flags, Flag{
			APK:      apk,
			Item:     c.Item,
			Count:    c.Count,
			Keywords: matched,
		})
	}
	return flags
}
