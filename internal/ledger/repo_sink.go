package ledger

import (
	"context"

	"github.com/apk-analysis/apk-toolbench/internal/domain"
	"github.com/apk-analysis/apk-toolbench/internal/repository"
)

// RepoSink 把结果 Upsert 到 tool_runs 表
type RepoSink struct {
	repo repository.ToolRunRepository
}

func NewRepoSink(repo repository.ToolRunRepository) *RepoSink {
	return &RepoSink{repo: repo}
}

func (s *RepoSink) Write(ctx context.Context, entries []Entry) error {
	runs := make([]*domain.ToolRun, 0, len(entries))
	for _, e := range entries {
		if e.Status == domain.RunStatusSkipped {
			continue
		}
		runs = append(runs, &domain.ToolRun{
			BatchID:         e.BatchID,
			Tool:            string(e.Tool),
			APKName:         e.APK,
			Status:          e.Status,
			DurationSeconds: e.Seconds,
			ExitCode:        e.ExitCode,
			ErrorMessage:    e.Error,
			StartedAt:       e.StartedAt,
		})
	}
	return s.repo.UpsertBatch(ctx, runs)
}
