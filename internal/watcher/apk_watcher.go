package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Handler 新 APK 就绪后调用, 参数为文件名
type Handler func(ctx context.Context, apk string) error

// Option 可选项
type Option func(*APKWatcher)

// WithDebounce 同一文件事件合并的时间窗口
func WithDebounce(d time.Duration) Option {
	return func(w *APKWatcher) { w.debounce = d }
}

// WithPollInterval 检查文件大小是否稳定的间隔
func WithPollInterval(d time.Duration) Option {
	return func(w *APKWatcher) { w.poll = d }
}

// APKWatcher 监控 apps 目录中新增的 APK
type APKWatcher struct {
	watcher  *fsnotify.Watcher
	dir      string
	pattern  string
	handler  Handler
	logger   *logrus.Logger
	debounce time.Duration
	poll     time.Duration

	mu      sync.Mutex
	timers  map[string]*time.Timer
	pending map[string]bool

	stopOnce sync.Once
	stop     chan struct{}
}

// New 创建监控器; pattern 形如 "*.apk", 大小写不敏感
func New(dir, pattern string, handler Handler, logger *logrus.Logger, opts ...Option) (*APKWatcher, error) {
	if pattern == "" {
		pattern = "*.apk"
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create watch directory: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to add watch directory: %w", err)
	}

	w := &APKWatcher{
		watcher:  fsw,
		dir:      dir,
		pattern:  strings.ToLower(pattern),
		handler:  handler,
		logger:   logger,
		debounce: 2 * time.Second,
		poll:     500 * time.Millisecond,
		timers:   make(map[string]*time.Timer),
		pending:  make(map[string]bool),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	logger.WithFields(logrus.Fields{
		"dir":     dir,
		"pattern": pattern,
	}).Info("APK watcher created")
	return w, nil
}

// Start 启动事件循环; 已存在的文件不处理
func (w *APKWatcher) Start(ctx context.Context) {
	go w.loop(ctx)
}

// Match 文件名是否匹配
func (w *APKWatcher) Match(name string) bool {
	ok, _ := filepath.Match(w.pattern, strings.ToLower(name))
	return ok
}

func (w *APKWatcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			name := filepath.Base(event.Name)
			if !w.Match(name) {
				continue
			}
			w.logger.WithFields(logrus.Fields{"event": event.Op.String(), "file": name}).Debug("APK event")
			w.schedule(ctx, event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Error("Watcher error")
		}
	}
}

// schedule 防抖: 同一文件在窗口内的多次事件只处理一次
func (w *APKWatcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		if w.pending[path] {
			w.mu.Unlock()
			return
		}
		w.pending[path] = true
		w.mu.Unlock()

		w.handle(ctx, path)

		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
	})
}

func (w *APKWatcher) handle(ctx context.Context, path string) {
	log := w.logger.WithField("file", filepath.Base(path))

	if err := w.waitReady(ctx, path); err != nil {
		log.WithError(err).Warn("APK not ready")
		return
	}
	if err := w.handler(ctx, filepath.Base(path)); err != nil {
		log.WithError(err).Error("Failed to handle APK")
		return
	}
	log.Info("APK handed off")
}

// waitReady 文件大小连续两次相同且非空视为写入完成
func (w *APKWatcher) waitReady(ctx context.Context, path string) error {
	const maxAttempts = 10

	var last int64 = -1
	for i := 0; i < maxAttempts; i++ {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("file does not exist")
			}
			return err
		}
		size := info.Size()
		if size > 0 && size == last {
			return nil
		}
		last = size

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.poll):
		}
	}
	return fmt.Errorf("file not ready after %d attempts", maxAttempts)
}

// Stop 停止监控
func (w *APKWatcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stop)

		w.mu.Lock()
		for _, t := range w.timers {
			t.Stop()
		}
		w.mu.Unlock()

		err = w.watcher.Close()
	})
	return err
}

// Dir 监控目录
func (w *APKWatcher) Dir() string {
	return w.dir
}
