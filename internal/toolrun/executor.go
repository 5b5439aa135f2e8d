package toolrun

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrTimeout 工具在时限内未结束, 进程已被终止
	ErrTimeout = errors.New("tool timed out")
	// ErrNotFound 工具可执行文件不存在
	ErrNotFound = errors.New("tool binary not found")
)

// ExitError 工具以非零状态退出
type ExitError struct {
	Name   string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with status %d", e.Name, e.Code)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// ExitCode 从错误中取出退出码; 超时为 -1, 未找到为 127
func ExitCode(err error) int {
	var exitErr *ExitError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &exitErr):
		return exitErr.Code
	case errors.Is(err, ErrTimeout):
		return -1
	case errors.Is(err, ErrNotFound):
		return 127
	default:
		return 1
	}
}

// Command 一次外部工具调用
type Command struct {
	Name       string
	Args       []string
	Dir        string
	StdoutPath string // 非空时把标准输出写入该文件
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result 调用结果
type Result struct {
	Duration time.Duration
	ExitCode int
	Stderr   string
}

// CommandRunner 执行外部命令
type CommandRunner interface {
	Run(ctx context.Context, cmd Command, timeout time.Duration) (Result, error)
}

// Executor 基于 os/exec 的 CommandRunner
type Executor struct {
	logger    *logrus.Logger
	waitDelay time.Duration
}

// NewExecutor 创建执行器
func NewExecutor(logger *logrus.Logger) *Executor {
	return &Executor{logger: logger, waitDelay: 5 * time.Second}
}

// Run 执行命令; 超时返回 ErrTimeout, 非零退出返回 *ExitError
func (e *Executor) Run(ctx context.Context, c Command, timeout time.Duration) (Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.WaitDelay = e.waitDelay

	stderr := newTailBuffer(4096)
	cmd.Stderr = stderr

	if c.StdoutPath != "" {
		if err := os.MkdirAll(filepath.Dir(c.StdoutPath), 0o755); err != nil {
			return Result{}, err
		}
		out, err := os.Create(c.StdoutPath)
		if err != nil {
			return Result{}, fmt.Errorf("create stdout file: %w", err)
		}
		defer out.Close()
		cmd.Stdout = out
	} else {
		cmd.Stdout = io.Discard
	}

	log := e.logger.WithFields(logrus.Fields{
		"cmd":     c.Name,
		"timeout": timeout,
	})
	log.WithField("args", c.Args).Debug("Starting tool")

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Duration: time.Since(start),
		Stderr:   strings.TrimSpace(stderr.String()),
	}

	switch {
	case err == nil:
		log.WithField("duration", res.Duration).Debug("Tool finished")
		return res, nil

	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.ExitCode = -1
		return res, fmt.Errorf("%s after %s: %w", c.Name, timeout, ErrTimeout)

	case errors.Is(err, exec.ErrNotFound):
		res.ExitCode = 127
		return res, fmt.Errorf("%s: %w", c.Name, ErrNotFound)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, &ExitError{Name: c.Name, Code: res.ExitCode, Stderr: res.Stderr}
	}

	res.ExitCode = 1
	return res, fmt.Errorf("run %s: %w", c.Name, err)
}

// tailBuffer 只保留最后 n 个字节
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
