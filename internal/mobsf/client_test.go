package mobsf

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/apk-analysis/apk-toolbench/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "test-api-key"

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(&config.MobSFConfig{
		URL:         srv.URL + "/",
		APIKey:      testKey,
		HTTPTimeout: 5,
		MaxRetries:  3,
	}, config.NewNopLogger())
	c.retry.InitialInterval = time.Millisecond
	return c
}

func writeAPK(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "demo.apk")
	require.NoError(t, os.WriteFile(path, []byte("PK\x03\x04fake"), 0o644))
	return path
}

func TestClient_FullScanFlow(t *testing.T) {
	var deleted atomic.Bool

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/upload", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, testKey, r.Header.Get("Authorization"))
		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		assert.Equal(t, "demo.apk", header.Filename)
		w.Write([]byte(`{"analyzer":"static_analyzer","status":"success","hash":"abc123","scan_type":"apk","file_name":"demo.apk"}`))
	})
	mux.HandleFunc("/api/v1/scan", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "abc123", r.PostForm.Get("hash"))
		assert.Equal(t, "apk", r.PostForm.Get("scan_type"))
		assert.Equal(t, "demo.apk", r.PostForm.Get("file_name"))
		w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/api/v1/report_json", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "abc123", r.PostForm.Get("hash"))
		w.Write([]byte(`{"secrets": [], "trackers": {"detected_trackers": 0}}`))
	})
	mux.HandleFunc("/api/v1/download_pdf", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.4 demo"))
	})
	mux.HandleFunc("/api/v1/delete_scan", func(w http.ResponseWriter, r *http.Request) {
		deleted.Store(true)
		w.Write([]byte(`{"deleted":"yes"}`))
	})

	c := newTestClient(t, mux)
	ctx := context.Background()

	up, err := c.Upload(ctx, writeAPK(t))
	require.NoError(t, err)
	assert.Equal(t, "abc123", up.Hash)

	require.NoError(t, c.Scan(ctx, up))

	report, err := c.ReportJSON(ctx, up.Hash)
	require.NoError(t, err)
	assert.JSONEq(t, `{"secrets": [], "trackers": {"detected_trackers": 0}}`, string(report))

	var pdf bytes.Buffer
	require.NoError(t, c.DownloadPDF(ctx, up.Hash, &pdf))
	assert.Equal(t, "%PDF-1.4 demo", pdf.String())

	require.NoError(t, c.DeleteScan(ctx, up.Hash))
	assert.True(t, deleted.Load())
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ok": true}`))
	}))

	data, err := c.ReportJSON(context.Background(), "h")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok": true}`, string(data))
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"Wrong API Key"}`, http.StatusUnauthorized)
	}))

	_, err := c.ReportJSON(context.Background(), "h")
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_UploadWithoutHash(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.Write([]byte(`{"status":"error"}`))
	}))

	_, err := c.Upload(context.Background(), writeAPK(t))
	assert.ErrorContains(t, err, "no hash")
}

func TestClient_UploadMissingFile(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler())
	_, err := c.Upload(context.Background(), filepath.Join(t.TempDir(), "none.apk"))
	assert.ErrorContains(t, err, "open apk")
}

func TestClient_HonorsContextDeadline(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := c.DeleteScan(ctx, "h")
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(&config.MobSFConfig{URL: "http://mobsf:8000"}, config.NewNopLogger())
	assert.Equal(t, 2*time.Minute, c.httpClient.Timeout)
	assert.Equal(t, 10*time.Minute, c.ScanTimeout())
	assert.Equal(t, 3, c.retry.MaxAttempts)
}
