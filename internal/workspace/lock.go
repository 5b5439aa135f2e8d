package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const lockFile = ".apkbench.lock"

// ErrLocked 另一个批处理正在使用同一工作目录
var ErrLocked = errors.New("workspace is locked by another run")

// Lock 工作目录独占锁; 持有 flock 的 fd 直到 Release, 进程退出时内核自动释放
type Lock struct {
	file *os.File
}

// Acquire 获取独占锁, 锁文件内容为持有者 pid.
// 上次运行被强制结束留下的锁文件不会阻塞新的运行
func (l Layout) Acquire() (*Lock, error) {
	if err := os.MkdirAll(l.Root, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(l.Root, lockFile)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		owner, _ := os.ReadFile(path)
		f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w (%s, pid %s)", ErrLocked, path, strings.TrimSpace(string(owner)))
		}
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}

	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0); err != nil {
		f.Close()
		return nil, err
	}
	return &Lock{file: f}, nil
}

// Release 释放锁; 锁文件保留, 只清空 pid
func (k *Lock) Release() error {
	if k == nil || k.file == nil {
		return nil
	}
	k.file.Truncate(0)
	err := syscall.Flock(int(k.file.Fd()), syscall.LOCK_UN)
	if cerr := k.file.Close(); err == nil {
		err = cerr
	}
	k.file = nil
	return err
}
