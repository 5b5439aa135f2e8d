package mobsf

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/apk-analysis/apk-toolbench/internal/config"
	"github.com/apk-analysis/apk-toolbench/internal/retry"
	"github.com/sirupsen/logrus"
)

// StatusError MobSF 返回非 2xx 状态码
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("mobsf %s returned status %d: %s", e.Op, e.StatusCode, e.Body)
}

// UploadResponse /api/v1/upload 的响应
type UploadResponse struct {
	Analyzer string `json:"analyzer"`
	Status   string `json:"status"`
	Hash     string `json:"hash"`
	ScanType string `json:"scan_type"`
	FileName string `json:"file_name"`
}

// Client MobSF REST 客户端
type Client struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	scanTimeout time.Duration
	retry       *retry.Config
	logger      *logrus.Logger
}

// Option 客户端选项
type Option func(*Client)

// WithHTTPClient 替换 HTTP 客户端
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetry 替换重试配置
func WithRetry(cfg *retry.Config) Option {
	return func(c *Client) { c.retry = cfg }
}

// NewClient 创建 MobSF 客户端
func NewClient(cfg *config.MobSFConfig, logger *logrus.Logger, opts ...Option) *Client {
	httpTimeout := config.Seconds(cfg.HTTPTimeout)
	if httpTimeout <= 0 {
		httpTimeout = 2 * time.Minute
	}
	scanTimeout := config.Seconds(cfg.Timeout)
	if scanTimeout <= 0 {
		scanTimeout = 10 * time.Minute
	}

	retryCfg := retry.DefaultConfig("mobsf", logger)
	if cfg.MaxRetries > 0 {
		retryCfg.MaxAttempts = cfg.MaxRetries
	}
	retryCfg.InitialInterval = 2 * time.Second

	c := &Client{
		baseURL:     strings.TrimRight(cfg.URL, "/"),
		apiKey:      cfg.APIKey,
		httpClient:  &http.Client{Timeout: httpTimeout},
		scanTimeout: scanTimeout,
		retry:       retryCfg,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ScanTimeout 单次完整扫描的时限
func (c *Client) ScanTimeout() time.Duration {
	return c.scanTimeout
}

// Upload 上传 APK, 返回的 hash 是后续接口的句柄
func (c *Client) Upload(ctx context.Context, apkPath string) (*UploadResponse, error) {
	return retry.DoWithResult(ctx, c.retryFor("upload"), func(ctx context.Context) (*UploadResponse, error) {
		body, contentType, err := multipartFile(apkPath)
		if err != nil {
			return nil, retry.Permanent(err)
		}

		data, err := c.post(ctx, "upload", "/api/v1/upload", body, contentType)
		if err != nil {
			return nil, err
		}

		var resp UploadResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, retry.Permanent(fmt.Errorf("decode upload response: %w", err))
		}
		if resp.Hash == "" {
			return nil, retry.Permanent(fmt.Errorf("upload response has no hash"))
		}
		return &resp, nil
	})
}

// Scan 触发静态扫描, 阻塞到扫描结束
func (c *Client) Scan(ctx context.Context, up *UploadResponse) error {
	form := url.Values{}
	form.Set("hash", up.Hash)
	form.Set("scan_type", up.ScanType)
	form.Set("file_name", up.FileName)

	return retry.Do(ctx, c.retryFor("scan"), func(ctx context.Context) error {
		_, err := c.postForm(ctx, "scan", "/api/v1/scan", form)
		return err
	})
}

// ReportJSON 获取 JSON 报告原文
func (c *Client) ReportJSON(ctx context.Context, hash string) ([]byte, error) {
	return retry.DoWithResult(ctx, c.retryFor("report_json"), func(ctx context.Context) ([]byte, error) {
		data, err := c.postForm(ctx, "report_json", "/api/v1/report_json", hashForm(hash))
		if err != nil {
			return nil, err
		}
		if !json.Valid(data) {
			return nil, retry.Permanent(fmt.Errorf("report_json returned invalid json"))
		}
		return data, nil
	})
}

// DownloadPDF 下载 PDF 报告
func (c *Client) DownloadPDF(ctx context.Context, hash string, w io.Writer) error {
	data, err := retry.DoWithResult(ctx, c.retryFor("download_pdf"), func(ctx context.Context) ([]byte, error) {
		return c.postForm(ctx, "download_pdf", "/api/v1/download_pdf", hashForm(hash))
	})
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// DeleteScan 删除服务端的扫描记录
func (c *Client) DeleteScan(ctx context.Context, hash string) error {
	return retry.Do(ctx, c.retryFor("delete_scan"), func(ctx context.Context) error {
		_, err := c.postForm(ctx, "delete_scan", "/api/v1/delete_scan", hashForm(hash))
		return err
	})
}

func (c *Client) retryFor(op string) *retry.Config {
	cfg := *c.retry
	cfg.Operation = "mobsf." + op
	return &cfg
}

func (c *Client) postForm(ctx context.Context, op, path string, form url.Values) ([]byte, error) {
	return c.post(ctx, op, path, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
}

func (c *Client) post(ctx context.Context, op, path string, body io.Reader, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mobsf %s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("mobsf %s read body: %w", op, err)
	}

	c.logger.WithFields(logrus.Fields{
		"op":       op,
		"status":   resp.StatusCode,
		"bytes":    len(data),
		"duration": time.Since(start),
	}).Debug("MobSF request finished")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{Op: op, StatusCode: resp.StatusCode, Body: truncate(string(data), 512)}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, retry.Retryable(statusErr)
		}
		return nil, retry.Permanent(statusErr)
	}
	return data, nil
}

func hashForm(hash string) url.Values {
	form := url.Values{}
	form.Set("hash", hash)
	return form
}

func multipartFile(path string) (io.Reader, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open apk: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("read apk: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
