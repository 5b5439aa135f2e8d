package ledger

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/apk-analysis/apk-toolbench/internal/config"
	"github.com/apk-analysis/apk-toolbench/internal/domain"
	"github.com/apk-analysis/apk-toolbench/internal/repository"
	"github.com/apk-analysis/apk-toolbench/internal/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type mockSink struct {
	mock.Mock
}

func (m *mockSink) Write(ctx context.Context, entries []Entry) error {
	args := m.Called(ctx, entries)
	return args.Error(0)
}

func TestAccumulator_LastRecordWins(t *testing.T) {
	acc := NewAccumulator("batch-1", config.NewNopLogger())
	now := time.Now()

	acc.RecordTimeout(domain.ToolFlowDroid, "a.apk", now, 150*time.Second)
	acc.RecordRuntime(domain.ToolAPKiD, "a.apk", now, 1234*time.Millisecond)
	acc.RecordRuntime(domain.ToolFlowDroid, "a.apk", now, 90*time.Second)

	entries := acc.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, domain.ToolFlowDroid, entries[0].Tool)
	assert.Equal(t, domain.RunStatusCompleted, entries[0].Status)
	assert.Equal(t, 90.0, entries[0].Seconds)
	assert.Equal(t, 1.23, entries[1].Seconds)
	assert.Equal(t, "batch-1", entries[1].BatchID)
}

func TestAccumulator_FlushClearsOnSuccess(t *testing.T) {
	sink := new(mockSink)
	sink.On("Write", mock.Anything, mock.MatchedBy(func(e []Entry) bool { return len(e) == 1 })).Return(nil).Once()

	acc := NewAccumulator("b", config.NewNopLogger(), sink)
	acc.RecordFailure(domain.ToolAPKLeaks, "a.apk", time.Now(), time.Second, 2, errors.New("exit status 2"))

	require.NoError(t, acc.Flush(context.Background()))
	assert.Equal(t, 0, acc.Len())
	require.NoError(t, acc.Flush(context.Background()), "empty flush is a no-op")

	sink.AssertExpectations(t)
}

func TestAccumulator_FlushKeepsEntriesOnError(t *testing.T) {
	sink := new(mockSink)
	sink.On("Write", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	acc := NewAccumulator("b", config.NewNopLogger(), sink)
	acc.RecordRuntime(domain.ToolAPKiD, "a.apk", time.Now(), time.Second)

	err := acc.Flush(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 1, acc.Len())
}

func TestFileSink_RerunDoesNotDuplicate(t *testing.T) {
	layout := workspace.New(t.TempDir(), "")
	sink := NewFileSink(layout)
	ctx := context.Background()

	first := []Entry{
		{Tool: domain.ToolAPKiD, APK: "a.apk", Status: domain.RunStatusCompleted, Seconds: 1.5},
		{Tool: domain.ToolAPKiD, APK: "b.apk", Status: domain.RunStatusCompleted, Seconds: 2},
		{Tool: domain.ToolFlowDroid, APK: "a.apk", Status: domain.RunStatusTimeout},
		{Tool: domain.ToolFlowDroid, APK: "b.apk", Status: domain.RunStatusTimeout},
	}
	require.NoError(t, sink.Write(ctx, first))

	second := []Entry{
		{Tool: domain.ToolAPKiD, APK: "a.apk", Status: domain.RunStatusCompleted, Seconds: 1.75},
		{Tool: domain.ToolFlowDroid, APK: "a.apk", Status: domain.RunStatusCompleted, Seconds: 120},
		{Tool: domain.ToolFlowDroid, APK: "b.apk", Status: domain.RunStatusTimeout},
	}
	require.NoError(t, sink.Write(ctx, second))

	data, err := os.ReadFile(layout.RuntimeLedgerPath(domain.ToolAPKiD))
	require.NoError(t, err)
	assert.Equal(t, "a.apk: 1.75\nb.apk: 2.00\n", string(data))

	timeouts, err := ReadTimeouts(layout.TimeoutLedgerPath())
	require.NoError(t, err)
	assert.Equal(t, []TimeoutEntry{{Tool: domain.ToolFlowDroid, APK: "b.apk"}}, timeouts)

	flow, err := ReadRuntimes(layout.RuntimeLedgerPath(domain.ToolFlowDroid))
	require.NoError(t, err)
	assert.Equal(t, []RuntimeEntry{{APK: "a.apk", Seconds: 120}}, flow)
}

func TestReadRuntimes_LegacyDuplicates(t *testing.T) {
	path := t.TempDir() + "/runtime_apkid.txt"
	content := "a.apk: 1.00\nb.apk: 2.5\ngarbage line\na.apk: 3.25\n\nc:d.apk: 4\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	entries, err := ReadRuntimes(path)
	require.NoError(t, err)
	assert.Equal(t, []RuntimeEntry{
		{APK: "a.apk", Seconds: 3.25},
		{APK: "b.apk", Seconds: 2.5},
		{APK: "c:d.apk", Seconds: 4},
	}, entries)

	_, err = ReadRuntimes(t.TempDir() + "/none.txt")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRepoSink_UpsertsNonSkipped(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, repository.AutoMigrate(db, config.NewNopLogger()))
	repo := repository.NewToolRunRepository(db)

	sink := NewRepoSink(repo)
	entries := []Entry{
		{BatchID: "b1", Tool: domain.ToolMobSF, APK: "a.apk", Status: domain.RunStatusCompleted, Seconds: 33},
		{BatchID: "b1", Tool: domain.ToolAPKiD, APK: "a.apk", Status: domain.RunStatusSkipped},
	}
	require.NoError(t, sink.Write(context.Background(), entries))

	run, err := repo.Find(context.Background(), "mobsf", "a.apk")
	require.NoError(t, err)
	assert.Equal(t, 33.0, run.DurationSeconds)

	_, err = repo.Find(context.Background(), "apkid", "a.apk")
	assert.Error(t, err)
}
