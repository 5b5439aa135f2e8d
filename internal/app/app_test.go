package app

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/apk-analysis/apk-toolbench/internal/config"
	"github.com/apk-analysis/apk-toolbench/internal/domain"
	"github.com/apk-analysis/apk-toolbench/internal/queue"
	"github.com/apk-analysis/apk-toolbench/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Workspace.Root = t.TempDir()
	cfg.Database.Type = "none"
	return cfg
}

func TestNew_WithoutDatabase(t *testing.T) {
	cfg := testConfig(t)

	a, err := New(cfg, config.NewNopLogger())
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.DB)
	assert.Nil(t, a.Runs)
	assert.Len(t, a.Sinks(), 1)
	assert.Equal(t, filepath.Join(cfg.Workspace.Root, "apps"), a.Layout.AppsDir)
}

func TestNew_SQLiteAddsRepoSink(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Type = "sqlite"
	cfg.Database.Path = filepath.Join(cfg.Workspace.Root, "bench.db")

	a, err := New(cfg, config.NewNopLogger())
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.Runs)
	assert.Len(t, a.Sinks(), 2)
	_, err = os.Stat(cfg.Database.Path)
	assert.NoError(t, err)
}

func TestNew_InvalidSettings(t *testing.T) {
	cfg := testConfig(t)
	cfg.Findings.DependencySelection = "index:x"
	_, err := New(cfg, config.NewNopLogger())
	assert.Error(t, err)

	cfg = testConfig(t)
	cfg.Findings.SummaryTools = []string{"apkid", "bogus"}
	_, err = New(cfg, config.NewNopLogger())
	assert.ErrorIs(t, err, domain.ErrUnknownTool)

	cfg = testConfig(t)
	cfg.Findings.RulesFile = filepath.Join(cfg.Workspace.Root, "missing.yaml")
	_, err = New(cfg, config.NewNopLogger())
	assert.Error(t, err)
}

func TestMobSFClient_OnlyWhenEnabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Tools.Enabled = []string{"apkid", "flowdroid"}
	a, err := New(cfg, config.NewNopLogger())
	require.NoError(t, err)
	client, err := a.MobSFClient()
	require.NoError(t, err)
	assert.Nil(t, client)

	cfg.Tools.Enabled = []string{"mobsf"}
	client, err = a.MobSFClient()
	require.NoError(t, err)
	assert.NotNil(t, client)

	cfg.Tools.Enabled = []string{"mobsf", "jadx"}
	client, err = a.MobSFClient()
	assert.ErrorIs(t, err, domain.ErrUnknownTool)
	assert.ErrorContains(t, err, "tools.enabled")
	assert.Nil(t, client)
}

func TestRunner_FollowsEnabledTools(t *testing.T) {
	cfg := testConfig(t)
	cfg.Tools.Enabled = []string{"apkleaks", "apkid"}
	a, err := New(cfg, config.NewNopLogger())
	require.NoError(t, err)

	runner, err := a.Runner(nil)
	require.NoError(t, err)
	assert.Equal(t, a.Layout, runner.Layout())

	cfg.Tools.Enabled = []string{"apkid", "nope"}
	_, err = a.Runner(nil)
	assert.ErrorIs(t, err, domain.ErrUnknownTool)
}

type capturePublisher struct {
	bodies [][]byte
}

func (p *capturePublisher) Publish(_ context.Context, body []byte) error {
	p.bodies = append(p.bodies, body)
	return nil
}

func (p *capturePublisher) QueueSize() (int, error) { return len(p.bodies), nil }

func TestQueueHandler_WaitsForPool(t *testing.T) {
	var got *worker.Job
	pool := worker.NewPool(1, func(_ context.Context, job *worker.Job) error {
		got = job
		return errors.New("boom")
	}, config.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	err := QueueHandler(pool)(ctx, &queue.JobMessage{JobID: "j1", BatchID: "b1", APKName: "a.apk"})
	assert.EqualError(t, err, "boom")
	require.NotNil(t, got)
	assert.Equal(t, "j1", got.ID)
	assert.Equal(t, "b1", got.BatchID)
	assert.Equal(t, "a.apk", got.APK)
}

func TestWatchHandler_PublishesWhenQueueEnabled(t *testing.T) {
	a, err := New(testConfig(t), config.NewNopLogger())
	require.NoError(t, err)

	pub := &capturePublisher{}
	require.NoError(t, a.WatchHandler(a.Producer(pub), nil)(context.Background(), "new.apk"))
	require.Len(t, pub.bodies, 1)

	var msg queue.JobMessage
	require.NoError(t, json.Unmarshal(pub.bodies[0], &msg))
	assert.Equal(t, "new.apk", msg.APKName)
	assert.Equal(t, filepath.Join(a.Layout.AppsDir, "new.apk"), msg.APKPath)
}

func TestWatchHandler_SubmitsLocally(t *testing.T) {
	a, err := New(testConfig(t), config.NewNopLogger())
	require.NoError(t, err)

	done := make(chan string, 1)
	pool := worker.NewPool(1, func(_ context.Context, job *worker.Job) error {
		done <- job.APK
		return nil
	}, config.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	require.NoError(t, a.WatchHandler(nil, pool)(ctx, "local.apk"))
	select {
	case apk := <-done:
		assert.Equal(t, "local.apk", apk)
	case <-time.After(2 * time.Second):
		t.Fatal("job not executed")
	}
}
