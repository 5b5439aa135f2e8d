package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/apk-analysis/apk-toolbench/internal/ledger"
	"github.com/apk-analysis/apk-toolbench/internal/toolrun"
	"github.com/spf13/cobra"
)

// stepView 单步结果的输出格式
type stepView struct {
	Tool    string  `json:"tool"`
	APK     string  `json:"apk"`
	Status  string  `json:"status"`
	Seconds float64 `json:"seconds"`
	Error   string  `json:"error,omitempty"`
}

// batchView 批处理结果的输出格式
type batchView struct {
	BatchID   string     `json:"batch_id"`
	APKs      int        `json:"apks"`
	Completed int        `json:"completed"`
	Timeouts  int        `json:"timeouts"`
	Failed    int        `json:"failed"`
	Skipped   int        `json:"skipped"`
	Seconds   float64    `json:"seconds"`
	Steps     []stepView `json:"steps"`
}

func newBatchView(r *toolrun.BatchReport) batchView {
	v := batchView{
		BatchID:   r.BatchID,
		APKs:      r.APKs,
		Completed: r.Completed,
		Timeouts:  r.Timeouts,
		Failed:    r.Failed,
		Skipped:   r.Skipped,
		Seconds:   ledger.RoundSeconds(r.Duration),
		Steps:     make([]stepView, 0, len(r.Steps)),
	}
	for _, s := range r.Steps {
		sv := stepView{
			Tool:    string(s.Tool),
			APK:     s.APK,
			Status:  string(s.Status),
			Seconds: ledger.RoundSeconds(s.Duration),
		}
		if s.Err != nil {
			sv.Error = s.Err.Error()
		}
		v.Steps = append(v.Steps, sv)
	}
	return v
}

func newRunCommand(opts *globalOptions) *cobra.Command {
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "run [apk...]",
		Short: "Run every enabled tool over the APKs in the apps directory",
		Long: `Run executes the enabled tools one APK at a time. Existing outputs are kept unless
--overwrite is set. Timeouts and failures are recorded and the batch continues; runtimes
and timeouts are written to the run ledger when the batch ends or is interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.bootstrap()
			if err != nil {
				return err
			}
			defer a.Close()

			if cmd.Flags().Changed("overwrite") {
				a.Config.Run.Overwrite = overwrite
			}

			apks := args
			if len(apks) == 0 {
				if apks, err = a.Layout.ListAPKs(); err != nil {
					return err
				}
			}

			runner, err := a.Runner(nil)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			acc := ledger.NewAccumulator(toolrun.NewBatchID(), a.Logger, a.Sinks()...)
			report, runErr := runner.RunBatch(ctx, apks, acc)
			if report != nil {
				if err := opts.print(cmd.OutOrStdout(), newBatchView(report)); err != nil {
					return err
				}
			}
			return runErr
		},
	}

	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Re-run tools even when their output already exists")
	return cmd
}
