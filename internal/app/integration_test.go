package app_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/apk-analysis/apk-toolbench/internal/api"
	"github.com/apk-analysis/apk-toolbench/internal/api/handlers"
	"github.com/apk-analysis/apk-toolbench/internal/app"
	"github.com/apk-analysis/apk-toolbench/internal/config"
	"github.com/apk-analysis/apk-toolbench/internal/domain"
	"github.com/apk-analysis/apk-toolbench/internal/ledger"
	"github.com/apk-analysis/apk-toolbench/internal/toolrun"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fakeAPKiD = `#!/bin/sh
echo "[+] APKiD 2.1.5 :: from /usr/lib/python3"
echo "[*] $2!classes.dex"
echo " |-> anti_vm : Build.MANUFACTURER check, Build.MODEL check"
echo " |-> compiler : r8"
`

// 名字含 slow 的 APK 模拟超时
const fakeAPKLeaks = `#!/bin/sh
case "$2" in
  *slow*) exec sleep 5 ;;
esac
printf '[Google_API_Key]\n- AIzaSyExample\n[LinkFinder]\n- /api/v1/login\n' > "$4"
`

// setupBench 用脚本代替真实工具, 搭建完整的工作目录和组件
func setupBench(t *testing.T) *app.App {
	t.Helper()
	root := t.TempDir()

	bin := filepath.Join(root, "bin")
	require.NoError(t, os.MkdirAll(bin, 0o755))
	apkid := filepath.Join(bin, "apkid")
	apkleaks := filepath.Join(bin, "apkleaks")
	require.NoError(t, os.WriteFile(apkid, []byte(fakeAPKiD), 0o755))
	require.NoError(t, os.WriteFile(apkleaks, []byte(fakeAPKLeaks), 0o755))

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Workspace.Root = root
	cfg.Tools.Enabled = []string{"apkid", "apkleaks"}
	cfg.Tools.APKiD = config.CommandToolConfig{Binary: apkid, Timeout: 10}
	cfg.Tools.APKLeaks = config.CommandToolConfig{Binary: apkleaks, Timeout: 1}
	cfg.Database.Path = filepath.Join(root, "bench.db")
	cfg.Stats.Plot = false
	cfg.Server.Mode = "debug"

	a, err := app.New(cfg, config.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	require.NoError(t, a.Layout.EnsureDirs())
	for _, name := range []string{"demo.apk", "slow.apk"} {
		require.NoError(t, os.WriteFile(a.Layout.APKPath(name), []byte("PK\x03\x04"), 0o644))
	}
	return a
}

func runBatch(t *testing.T, a *app.App) *toolrun.BatchReport {
	t.Helper()
	runner, err := a.Runner(nil)
	require.NoError(t, err)

	apks, err := a.Layout.ListAPKs()
	require.NoError(t, err)

	acc := ledger.NewAccumulator(toolrun.NewBatchID(), a.Logger, a.Sinks()...)
	report, err := runner.RunBatch(context.Background(), apks, acc)
	require.NoError(t, err)
	return report
}

func TestBench_EndToEnd(t *testing.T) {
	a := setupBench(t)
	ctx := context.Background()

	report := runBatch(t, a)
	assert.Equal(t, 2, report.APKs)
	assert.Equal(t, 3, report.Completed)
	assert.Equal(t, 1, report.Timeouts)
	assert.Equal(t, 0, report.Failed)

	// 超时的输出被删除, 其余输出可以解析
	assert.False(t, a.Layout.HasOutput(domain.ToolAPKLeaks, "slow.apk"))
	count, err := a.Results.Count(ctx, domain.ToolAPKiD, "demo.apk")
	require.NoError(t, err)
	assert.Equal(t, 3, count.Value)

	// 文本账本
	runtimes, err := ledger.ReadRuntimes(a.Layout.RuntimeLedgerPath(domain.ToolAPKLeaks))
	require.NoError(t, err)
	require.Len(t, runtimes, 1)
	assert.Equal(t, "demo.apk", runtimes[0].APK)

	timeouts, err := ledger.ReadTimeouts(a.Layout.TimeoutLedgerPath())
	require.NoError(t, err)
	assert.Equal(t, []ledger.TimeoutEntry{{Tool: domain.ToolAPKLeaks, APK: "slow.apk"}}, timeouts)

	// 数据库账本
	rows, err := a.Runs.ListByStatus(ctx, domain.RunStatusTimeout, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "slow.apk", rows[0].APKName)

	// HTTP API 读取同一份结果
	gin.SetMode(gin.TestMode)
	router := api.SetupRouter(a.Config, a.Logger, a.Results, a.Metrics, handlers.NewEventHub(a.Logger))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/apks/demo.apk/apkleaks/count", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"value":1`)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/runs?status=timeout", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "slow.apk")
}

func TestBench_RerunSkipsExistingOutputs(t *testing.T) {
	a := setupBench(t)

	runBatch(t, a)
	report := runBatch(t, a)

	assert.Equal(t, 3, report.Skipped)
	assert.Equal(t, 1, report.Timeouts, "timed-out step has no output and runs again")
	assert.Equal(t, 0, report.Completed)
}
