package parser

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/apk-analysis/apk-toolbench/internal/domain"
	"github.com/apk-analysis/apk-toolbench/internal/workspace"
	"github.com/sirupsen/logrus"
)

// ErrMissing 工具输出不存在（超时、崩溃或尚未执行）, 属于可恢复的"无结果"
var ErrMissing = errors.New("tool output not found")

// ErrUnexpectedShape 输出存在但结构与预期不符
var ErrUnexpectedShape = errors.New("unexpected output shape")

// MalformedError 输出存在但无法解析, 调用方应视为致命错误
type MalformedError struct {
	Tool   domain.Tool
	Path   string
	Reason string
	Err    error
}

func (e *MalformedError) Error() string {
	msg := fmt.Sprintf("malformed %s output", e.Tool)
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedError) Unwrap() error {
	return e.Err
}

// IsMissing 判断是否为输出缺失
func IsMissing(err error) bool {
	return errors.Is(err, ErrMissing)
}

// IsMalformed 判断是否为格式错误
func IsMalformed(err error) bool {
	var me *MalformedError
	return errors.As(err, &me)
}

// Parser 按工作目录布局定位并解析各工具输出, 自身不保存解析状态
type Parser struct {
	layout    workspace.Layout
	logger    *logrus.Logger
	keepBulky bool
	selection Selection
}

// Option 解析器选项
type Option func(*Parser)

// WithBulkyMobSFFields 保留 MobSF 的 strings / files 字段
func WithBulkyMobSFFields(keep bool) Option {
	return func(p *Parser) { p.keepBulky = keep }
}

// WithDependencySelection 设置 dependency-check 依赖选择策略
func WithDependencySelection(sel Selection) Option {
	return func(p *Parser) { p.selection = sel }
}

// New 创建解析器
func New(layout workspace.Layout, logger *logrus.Logger, opts ...Option) *Parser {
	p := &Parser{
		layout:    layout,
		logger:    logger,
		selection: SelectAll(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Layout 返回解析器使用的目录布局
func (p *Parser) Layout() workspace.Layout {
	return p.layout
}

// Parse 按工具分派, 返回对应的报告类型
func (p *Parser) Parse(tool domain.Tool, apk string) (interface{}, error) {
	var (
		record interface{}
		err    error
	)
	switch tool {
	case domain.ToolAPKiD:
		record, err = p.APKiD(apk)
	case domain.ToolAPKLeaks:
		record, err = p.APKLeaks(apk)
	case domain.ToolFlowDroid:
		record, err = p.FlowDroid(apk)
	case domain.ToolMobSF:
		record, err = p.MobSF(apk)
	case domain.ToolDependencyCheck:
		record, err = p.DependencyCheck(apk)
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownTool, tool)
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (p *Parser) open(tool domain.Tool, apk string) (*os.File, string, error) {
	path := p.layout.OutputPath(tool, apk)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			p.logger.WithFields(logrus.Fields{
				"tool": tool,
				"apk":  apk,
				"path": path,
			}).Info("Tool output not found")
			return nil, path, fmt.Errorf("%w: %s output for %s", ErrMissing, tool, apk)
		}
		return nil, path, fmt.Errorf("open %s output: %w", tool, err)
	}
	return f, path, nil
}

func (p *Parser) readAll(tool domain.Tool, apk string) ([]byte, string, error) {
	f, path, err := p.open(tool, apk)
	if err != nil {
		return nil, path, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, path, fmt.Errorf("read %s output: %w", tool, err)
	}
	return data, path, nil
}

// newLineScanner 工具输出的单行可能很长（例如 APKLeaks 的 URL）
func newLineScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	return scanner
}

// withPath 给格式错误补充文件路径
func withPath(err error, path string) error {
	var me *MalformedError
	if errors.As(err, &me) && me.Path == "" {
		me.Path = path
	}
	return err
}
