package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Tools     ToolsConfig     `mapstructure:"tools"`
	Run       RunConfig       `mapstructure:"run"`
	Findings  FindingsConfig  `mapstructure:"findings"`
	Stats     StatsConfig     `mapstructure:"stats"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	RabbitMQ  RabbitMQConfig  `mapstructure:"rabbitmq"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Watcher   WatcherConfig   `mapstructure:"watcher"`
	Log       LogConfig       `mapstructure:"log"`
}

// WorkspaceConfig 工作目录布局
type WorkspaceConfig struct {
	Root    string `mapstructure:"root"`     // 各工具输出目录所在的根目录
	AppsDir string `mapstructure:"apps_dir"` // 待分析 APK 目录
}

// ToolsConfig 外部分析工具配置
type ToolsConfig struct {
	Enabled         []string              `mapstructure:"enabled"` // 按顺序执行
	APKiD           CommandToolConfig     `mapstructure:"apkid"`
	APKLeaks        CommandToolConfig     `mapstructure:"apkleaks"`
	FlowDroid       FlowDroidConfig       `mapstructure:"flowdroid"`
	DependencyCheck DependencyCheckConfig `mapstructure:"dependencycheck"`
	MobSF           MobSFConfig           `mapstructure:"mobsf"`
}

type CommandToolConfig struct {
	Binary  string `mapstructure:"binary"`
	Timeout int    `mapstructure:"timeout"` // seconds
}

// FlowDroidConfig FlowDroid 命令行配置
type FlowDroidConfig struct {
	Java         string `mapstructure:"java"`
	Jar          string `mapstructure:"jar"`
	SourcesSinks string `mapstructure:"sources_sinks"`
	Platforms    string `mapstructure:"platforms"` // Android SDK platforms 目录
	Timeout      int    `mapstructure:"timeout"`
}

// DependencyCheckConfig dex2jar + OWASP dependency-check
type DependencyCheckConfig struct {
	Dex2Jar string   `mapstructure:"dex2jar"`
	Binary  string   `mapstructure:"binary"`
	Formats []string `mapstructure:"formats"` // JSON 必须存在, HTML 可选
	Timeout int      `mapstructure:"timeout"`
}

// MobSFConfig MobSF 配置
type MobSFConfig struct {
	URL         string `mapstructure:"url"`
	APIKey      string `mapstructure:"api_key"`
	Timeout     int    `mapstructure:"timeout"`      // seconds - 单次扫描总超时
	HTTPTimeout int    `mapstructure:"http_timeout"` // seconds - HTTP 客户端超时
	MaxRetries  int    `mapstructure:"max_retries"`
	DownloadPDF bool   `mapstructure:"download_pdf"`
	DeleteAfter bool   `mapstructure:"delete_after"` // 拿到报告后删除服务端扫描记录
	KeepBulky   bool   `mapstructure:"keep_bulky"`   // 保留 strings / files 字段
}

type RunConfig struct {
	Overwrite bool `mapstructure:"overwrite"` // 已有输出时重新执行
}

// FindingsConfig 计数策略
type FindingsConfig struct {
	IncludePermissions  bool     `mapstructure:"include_permissions"`
	ExcludedSections    []string `mapstructure:"excluded_sections"`
	MissingAsZero       bool     `mapstructure:"missing_as_zero"`
	DependencySelection string   `mapstructure:"dependency_selection"` // all / first-vulnerable / index:<n>
	SummaryTools        []string `mapstructure:"summary_tools"`
	RulesFile           string   `mapstructure:"rules_file"` // 高危规则表, 为空时使用内置规则
}

type StatsConfig struct {
	FenceFactor   float64 `mapstructure:"fence_factor"`
	HistogramBins int     `mapstructure:"histogram_bins"`
	Plot          bool    `mapstructure:"plot"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release
}

type DatabaseConfig struct {
	Type     string `mapstructure:"type"` // mysql, sqlite, none
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"db_name"`
	Path     string `mapstructure:"path"` // sqlite 文件路径
}

type RabbitMQConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	VHost    string `mapstructure:"vhost"`
	Queue    string `mapstructure:"queue"`
}

type WorkerConfig struct {
	QueueSize int `mapstructure:"queue_size"` // 本地任务队列大小
}

type WatcherConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Pattern  string `mapstructure:"pattern"`
	Debounce int    `mapstructure:"debounce"` // seconds
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// Seconds 将秒数配置转换为 Duration
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("workspace.root", ".")
	v.SetDefault("workspace.apps_dir", "apps")

	v.SetDefault("tools.enabled", []string{"apkid", "apkleaks", "mobsf", "flowdroid"})
	v.SetDefault("tools.apkid.binary", "apkid")
	v.SetDefault("tools.apkid.timeout", 60)
	v.SetDefault("tools.apkleaks.binary", "apkleaks")
	v.SetDefault("tools.apkleaks.timeout", 150)
	v.SetDefault("tools.flowdroid.java", "java")
	v.SetDefault("tools.flowdroid.jar", "FlowDroid/soot-infoflow-cmd/target/soot-infoflow-cmd-jar-with-dependencies.jar")
	v.SetDefault("tools.flowdroid.sources_sinks", "FlowDroid/soot-infoflow-android/SourcesAndSinks.txt")
	v.SetDefault("tools.flowdroid.platforms", "Android/Sdk/platforms")
	v.SetDefault("tools.flowdroid.timeout", 150)
	v.SetDefault("tools.dependencycheck.dex2jar", "d2j-dex2jar")
	v.SetDefault("tools.dependencycheck.binary", "dependency-check")
	v.SetDefault("tools.dependencycheck.formats", []string{"JSON", "HTML"})
	v.SetDefault("tools.dependencycheck.timeout", 100)
	v.SetDefault("tools.mobsf.url", "http://127.0.0.1:8000")
	v.SetDefault("tools.mobsf.timeout", 600)
	v.SetDefault("tools.mobsf.http_timeout", 120)
	v.SetDefault("tools.mobsf.max_retries", 3)
	v.SetDefault("tools.mobsf.download_pdf", true)
	v.SetDefault("tools.mobsf.delete_after", true)

	v.SetDefault("findings.include_permissions", true)
	v.SetDefault("findings.excluded_sections", []string{"LinkFinder"})
	v.SetDefault("findings.missing_as_zero", true)
	v.SetDefault("findings.dependency_selection", "all")
	v.SetDefault("findings.summary_tools", []string{"apkid", "mobsf", "apkleaks", "flowdroid"})

	v.SetDefault("stats.fence_factor", 1.5)
	v.SetDefault("stats.histogram_bins", 20)
	v.SetDefault("stats.plot", true)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.path", "./data/toolbench.db")

	v.SetDefault("rabbitmq.host", "localhost")
	v.SetDefault("rabbitmq.port", 5672)
	v.SetDefault("rabbitmq.user", "guest")
	v.SetDefault("rabbitmq.password", "guest")
	v.SetDefault("rabbitmq.vhost", "/")
	v.SetDefault("rabbitmq.queue", "apk_tool_jobs")

	v.SetDefault("worker.queue_size", 100)

	v.SetDefault("watcher.pattern", "*.apk")
	v.SetDefault("watcher.debounce", 2)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load 读取配置文件; path 为空时只使用默认值和环境变量
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// 环境变量覆盖（支持嵌套配置）
	v.SetEnvPrefix("APKBENCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.BindEnv("tools.mobsf.api_key", "APKBENCH_TOOLS_MOBSF_API_KEY", "MOBSF_API_KEY")

	v.BindEnv("rabbitmq.host", "APKBENCH_RABBITMQ_HOST", "RABBITMQ_HOST")
	v.BindEnv("rabbitmq.port", "APKBENCH_RABBITMQ_PORT", "RABBITMQ_PORT")
	v.BindEnv("rabbitmq.user", "APKBENCH_RABBITMQ_USER", "RABBITMQ_USER")
	v.BindEnv("rabbitmq.password", "APKBENCH_RABBITMQ_PASSWORD", "RABBITMQ_PASS")

	v.BindEnv("database.host", "APKBENCH_DATABASE_HOST", "MYSQL_HOST")
	v.BindEnv("database.port", "APKBENCH_DATABASE_PORT", "MYSQL_PORT")
	v.BindEnv("database.user", "APKBENCH_DATABASE_USER", "MYSQL_USER")
	v.BindEnv("database.password", "APKBENCH_DATABASE_PASSWORD", "MYSQL_PASS")
	v.BindEnv("database.db_name", "APKBENCH_DATABASE_DB_NAME", "MYSQL_DB")

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
