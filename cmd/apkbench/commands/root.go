package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/apk-analysis/apk-toolbench/internal/app"
	"github.com/apk-analysis/apk-toolbench/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// globalOptions 所有子命令共用的参数
type globalOptions struct {
	configPath string
	output     string
	logLevel   string
}

// NewRootCommand 创建 apkbench 根命令
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "apkbench",
		Short: "Run Android analysis tools over a batch of APKs and compare their results",
		Long: `apkbench runs APKiD, APKLeaks, MobSF, FlowDroid and OWASP dependency-check over
the APKs in the apps directory, parses their outputs, counts findings and produces
runtime and size-vs-findings statistics.`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch opts.output {
			case "json", "yaml":
				return nil
			default:
				return fmt.Errorf("unsupported output format %q (json, yaml)", opts.output)
			}
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Configuration file path")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", "json", "Output format (json, yaml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")

	root.AddCommand(
		newRunCommand(opts),
		newParseCommand(opts),
		newCountCommand(opts),
		newSummarizeCommand(opts),
		newStatsCommand(opts),
		newEnqueueCommand(opts),
		newWorkerCommand(opts),
		newWatchCommand(opts),
	)
	return root
}

// loadConfig 读取配置并应用命令行覆盖
func (o *globalOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	return cfg, nil
}

// bootstrap 加载配置并组装组件, 调用方负责 Close
func (o *globalOptions) bootstrap() (*app.App, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(cfg, config.InitLogger(&cfg.Log))
}

// print 按 --output 输出结果
//
// YAML 先经过一次 JSON 编码, 字段名与 JSON 输出一致, 原始 JSON 片段也能正确展开
func (o *globalOptions) print(w io.Writer, v interface{}) error {
	if o.output != "yaml" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return err
	}
	return enc.Close()
}
