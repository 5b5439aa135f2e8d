package ledger

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/apk-analysis/apk-toolbench/internal/domain"
	"github.com/apk-analysis/apk-toolbench/internal/workspace"
)

// RuntimeEntry runtime_<tool>.txt 中的一行
type RuntimeEntry struct {
	APK     string  `json:"apk"`
	Seconds float64 `json:"seconds"`
}

// TimeoutEntry timeouts.txt 中的一行
type TimeoutEntry struct {
	Tool domain.Tool `json:"tool"`
	APK  string      `json:"apk"`
}

// FileSink 把结果合并进文本账本, 同一 APK 只保留一行
type FileSink struct {
	layout workspace.Layout
}

func NewFileSink(layout workspace.Layout) *FileSink {
	return &FileSink{layout: layout}
}

// Write 合并运行时间和超时记录
func (s *FileSink) Write(_ context.Context, entries []Entry) error {
	runtimes := map[domain.Tool][]RuntimeEntry{}
	var timeouts, cleared []TimeoutEntry

	for _, e := range entries {
		switch e.Status {
		case domain.RunStatusCompleted:
			runtimes[e.Tool] = append(runtimes[e.Tool], RuntimeEntry{APK: e.APK, Seconds: e.Seconds})
			cleared = append(cleared, TimeoutEntry{Tool: e.Tool, APK: e.APK})
		case domain.RunStatusTimeout:
			timeouts = append(timeouts, TimeoutEntry{Tool: e.Tool, APK: e.APK})
		}
	}

	for tool, fresh := range runtimes {
		if err := MergeRuntimes(s.layout.RuntimeLedgerPath(tool), fresh); err != nil {
			return err
		}
	}
	if len(timeouts) > 0 || len(cleared) > 0 {
		if err := MergeTimeouts(s.layout.TimeoutLedgerPath(), timeouts, cleared); err != nil {
			return err
		}
	}
	return nil
}

// ReadRuntimes 读取运行时间账本; 同一 APK 多行时取最后一行
func ReadRuntimes(path string) ([]RuntimeEntry, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}

	var entries []RuntimeEntry
	index := map[string]int{}
	for _, line := range lines {
		i := strings.LastIndex(line, ":")
		if i <= 0 {
			continue
		}
		apk := strings.TrimSpace(line[:i])
		secs, err := strconv.ParseFloat(strings.TrimSpace(line[i+1:]), 64)
		if err != nil || apk == "" {
			continue
		}
		if j, ok := index[apk]; ok {
			entries[j].Seconds = secs
			continue
		}
		index[apk] = len(entries)
		entries = append(entries, RuntimeEntry{APK: apk, Seconds: secs})
	}
	return entries, nil
}

// ReadTimeouts 读取超时账本（去重）
func ReadTimeouts(path string) ([]TimeoutEntry, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}

	var entries []TimeoutEntry
	seen := map[TimeoutEntry]bool{}
	for _, line := range lines {
		tool, apk, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		e := TimeoutEntry{Tool: domain.Tool(strings.TrimSpace(tool)), APK: strings.TrimSpace(apk)}
		if e.APK == "" || seen[e] {
			continue
		}
		seen[e] = true
		entries = append(entries, e)
	}
	return entries, nil
}

// MergeRuntimes 合并新的运行时间并整体重写文件
func MergeRuntimes(path string, fresh []RuntimeEntry) error {
	existing, err := ReadRuntimes(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	index := map[string]int{}
	for i, e := range existing {
		index[e.APK] = i
	}
	for _, e := range fresh {
		if i, ok := index[e.APK]; ok {
			existing[i] = e
			continue
		}
		index[e.APK] = len(existing)
		existing = append(existing, e)
	}

	var b strings.Builder
	for _, e := range existing {
		fmt.Fprintf(&b, "%s: %s\n", e.APK, strconv.FormatFloat(e.Seconds, 'f', 2, 64))
	}
	return writeAtomic(path, b.String())
}

// MergeTimeouts 添加新的超时记录, 并移除之后已成功的记录
func MergeTimeouts(path string, added, cleared []TimeoutEntry) error {
	existing, err := ReadTimeouts(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	drop := map[TimeoutEntry]bool{}
	for _, e := range cleared {
		drop[e] = true
	}

	seen := map[TimeoutEntry]bool{}
	var b strings.Builder
	for _, e := range append(existing, added...) {
		if drop[e] || seen[e] {
			continue
		}
		seen[e] = true
		fmt.Fprintf(&b, "%s: %s\n", e.Tool, e.APK)
	}
	return writeAtomic(path, b.String())
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

func writeAtomic(path, content string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
