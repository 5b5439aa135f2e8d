package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apk-analysis/apk-toolbench/internal/app"
	"github.com/apk-analysis/apk-toolbench/internal/queue"
	"github.com/apk-analysis/apk-toolbench/internal/toolrun"
	"github.com/apk-analysis/apk-toolbench/internal/worker"
	"github.com/spf13/cobra"
)

// errQueueDisabled rabbitmq.enabled 为 false
var errQueueDisabled = errors.New("rabbitmq is disabled in config")

// enqueueResult enqueue 的输出
type enqueueResult struct {
	BatchID string   `json:"batch_id"`
	Jobs    []string `json:"jobs"`
	Queued  int      `json:"queued"`
}

func newEnqueueCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue [apk...]",
		Short: "Publish APKs as jobs to the RabbitMQ queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.bootstrap()
			if err != nil {
				return err
			}
			defer a.Close()

			if !a.Config.RabbitMQ.Enabled {
				return errQueueDisabled
			}

			apks := args
			if len(apks) == 0 {
				if apks, err = a.Layout.ListAPKs(); err != nil {
					return err
				}
			}

			mq, err := queue.NewRabbitMQ(&a.Config.RabbitMQ, a.Logger)
			if err != nil {
				return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
			}
			defer mq.Close()

			producer := a.Producer(mq)
			result := enqueueResult{BatchID: toolrun.NewBatchID(), Jobs: make([]string, 0, len(apks))}
			for _, apk := range apks {
				msg := queue.NewJob(result.BatchID, a.Layout.APKPath(apk))
				if err := producer.PublishJob(cmd.Context(), msg); err != nil {
					return err
				}
				result.Jobs = append(result.Jobs, msg.JobID)
			}

			if n, err := producer.QueueSize(); err == nil {
				result.Queued = n
			}
			return opts.print(cmd.OutOrStdout(), result)
		},
	}
}

func newWorkerCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume jobs from RabbitMQ and run the tools for each APK",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.bootstrap()
			if err != nil {
				return err
			}
			defer a.Close()

			if !a.Config.RabbitMQ.Enabled {
				return errQueueDisabled
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			runner, err := a.Runner(nil)
			if err != nil {
				return err
			}
			pool := a.Pool(runner)
			pool.Start(ctx)

			mq, err := queue.NewRabbitMQ(&a.Config.RabbitMQ, a.Logger)
			if err != nil {
				return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
			}
			defer mq.Close()

			consumer := queue.NewConsumer(mq, app.QueueHandler(pool), a.Logger)
			if err := consumer.Start(ctx); err != nil {
				return err
			}
			a.Logger.WithField("queue", a.Config.RabbitMQ.Queue).Info("Worker waiting for jobs")

			<-ctx.Done()
			a.Logger.Info("Shutting down worker...")
			consumer.Stop()
			pool.Stop()
			return nil
		},
	}
}

func newWatchCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch the apps directory and analyze new APKs as they arrive",
		Long: `Watch hands every new APK in the apps directory to the RabbitMQ queue when it is
enabled, otherwise to a local worker that runs the tools in arrival order.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.bootstrap()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := a.Layout.EnsureDirs(); err != nil {
				return err
			}

			var (
				producer *queue.Producer
				pool     *worker.Pool
			)
			if a.Config.RabbitMQ.Enabled {
				mq, err := queue.NewRabbitMQ(&a.Config.RabbitMQ, a.Logger)
				if err != nil {
					return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
				}
				defer mq.Close()
				producer = a.Producer(mq)
			} else {
				runner, err := a.Runner(nil)
				if err != nil {
					return err
				}
				pool = a.Pool(runner)
				pool.Start(ctx)
				defer pool.Stop()
				go a.ReportQueueSize(ctx, pool, 10*time.Second)
			}

			w, err := a.Watcher(a.WatchHandler(producer, pool))
			if err != nil {
				return err
			}
			w.Start(ctx)
			a.Logger.WithField("dir", w.Dir()).Info("Watching for new APKs")

			<-ctx.Done()
			return w.Stop()
		},
	}
}
