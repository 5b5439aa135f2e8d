package commands

import (
	"github.com/apk-analysis/apk-toolbench/internal/domain"
	"github.com/apk-analysis/apk-toolbench/internal/stats"
	"github.com/spf13/cobra"
)

func newParseCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "parse <tool> <apk>",
		Short: "Parse one tool output into a structured record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tool, err := domain.ParseTool(args[0])
			if err != nil {
				return err
			}
			a, err := opts.bootstrap()
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.Results.Report(cmd.Context(), tool, args[1])
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), report)
		},
	}
}

func newCountCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "count <tool> [apk]",
		Short: "Count findings for one APK, or for every APK when none is given",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tool, err := domain.ParseTool(args[0])
			if err != nil {
				return err
			}
			a, err := opts.bootstrap()
			if err != nil {
				return err
			}
			defer a.Close()

			if len(args) == 2 {
				count, err := a.Results.Count(cmd.Context(), tool, args[1])
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), count)
			}

			counts, err := a.Results.CountAll(cmd.Context(), tool)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), counts)
		},
	}
}

func newSummarizeCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "summarize",
		Short: "List high-severity findings per tool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.bootstrap()
			if err != nil {
				return err
			}
			defer a.Close()

			summary, err := a.Results.Summary(cmd.Context())
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), summary)
		},
	}
}

func newStatsCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Runtime and size-vs-findings statistics",
	}

	runtimes := &cobra.Command{
		Use:   "runtimes <tool>",
		Short: "Outlier-filtered runtime distribution of a tool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tool, err := domain.ParseTool(args[0])
			if err != nil {
				return err
			}
			a, err := opts.bootstrap()
			if err != nil {
				return err
			}
			defer a.Close()

			dist, err := a.Results.RuntimeDistribution(cmd.Context(), tool)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), dist)
		},
	}

	var size string
	correlation := &cobra.Command{
		Use:   "correlation <tool>",
		Short: "Pearson correlation between APK size and finding count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tool, err := domain.ParseTool(args[0])
			if err != nil {
				return err
			}
			measure, err := stats.ParseSizeMeasure(size)
			if err != nil {
				return err
			}
			a, err := opts.bootstrap()
			if err != nil {
				return err
			}
			defer a.Close()

			corr, err := a.Results.Correlation(cmd.Context(), tool, measure)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), corr)
		},
	}
	correlation.Flags().StringVar(&size, "size", string(stats.MeasureAPK), "Size measure (apk, dex)")

	cmd.AddCommand(runtimes, correlation)
	return cmd
}
