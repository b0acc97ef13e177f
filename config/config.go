package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	GitHub   GitHubConfig   `mapstructure:"github"`
	LLM      LLMConfig      `mapstructure:"llm"`
	OSS      OSSConfig      `mapstructure:"oss"`
	Queue    QueueConfig    `mapstructure:"queue"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Report   ReportConfig   `mapstructure:"report"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

// GitHubConfig GitHub API 访问配置
type GitHubConfig struct {
	Token           string `mapstructure:"token"`
	BaseURL         string `mapstructure:"base_url"`
	IncludeArchived bool   `mapstructure:"include_archived"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
}

// LLMConfig 大模型接口配置
type LLMConfig struct {
	BaseURL         string  `mapstructure:"base_url"`
	APIKey          string  `mapstructure:"api_key"`
	Model           string  `mapstructure:"model"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
	TimeoutSeconds  int     `mapstructure:"timeout_seconds"`
	PricePer1KToken float64 `mapstructure:"price_per_1k_token"`
}

type OSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	BucketName      string `mapstructure:"bucket_name"`
	CDNDomain       string `mapstructure:"cdn_domain"`
}

type QueueConfig struct {
	RunQueue   string `mapstructure:"run_queue"`
	MaxWorkers int    `mapstructure:"max_workers"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

// AnalysisConfig 分析流水线参数
type AnalysisConfig struct {
	Clustering ClusteringConfig `mapstructure:"clustering"`
	Impact     ImpactConfig     `mapstructure:"impact"`
	Sampling   SamplingConfig   `mapstructure:"sampling"`
	Scanner    ScannerConfig    `mapstructure:"scanner"`
	Stage1     Stage1Config     `mapstructure:"stage1"`
}

type ClusteringConfig struct {
	MaxTimeGapHours   float64 `mapstructure:"max_time_gap_hours"`
	MinPathOverlap    float64 `mapstructure:"min_path_overlap"`
	MinCommitsPerUnit int     `mapstructure:"min_commits_per_unit"`
	MaxCommitsPerUnit int     `mapstructure:"max_commits_per_unit"`
}

type ImpactConfig struct {
	LocCap        int                `mapstructure:"loc_cap"`
	CoreModuleCap float64            `mapstructure:"core_module_cap"`
	HotfixBonus   float64            `mapstructure:"hotfix_bonus"`
	HotspotWeight float64            `mapstructure:"hotspot_weight"`
	ConfigWeight  float64            `mapstructure:"config_weight"`
	SchemaWeight  float64            `mapstructure:"schema_weight"`
	CriticalPaths map[string]float64 `mapstructure:"critical_paths"`
}

type SamplingConfig struct {
	HeuristicThreshold int `mapstructure:"heuristic_threshold"`
	MaxSamplesPerRepo  int `mapstructure:"max_samples_per_repo"`
	BatchSize          int `mapstructure:"batch_size"`
}

type ScannerConfig struct {
	RepoConcurrency   int `mapstructure:"repo_concurrency"`
	DetailConcurrency int `mapstructure:"detail_concurrency"`
	BatchSize         int `mapstructure:"batch_size"`
	MaxRetries        int `mapstructure:"max_retries"`
}

type Stage1Config struct {
	DelayMs      int `mapstructure:"delay_ms"`
	MaxDiffChars int `mapstructure:"max_diff_chars"`
	MaxDiffLines int `mapstructure:"max_diff_lines"`
}

// ReportConfig 报告归档配置（OSS 未配置时落盘到本地目录）
type ReportConfig struct {
	LocalDir string `mapstructure:"local_dir"`
}

func Load(configPath string) (*Config, error) {
	// 优先尝试读取 config.local.yaml（包含真实密钥，不提交到git）
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")

	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	// 环境变量覆盖
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults 流水线参数默认值，config.yaml 中省略时生效
func setDefaults() {
	viper.SetDefault("analysis.clustering.max_time_gap_hours", 8.0)
	viper.SetDefault("analysis.clustering.min_path_overlap", 0.3)
	viper.SetDefault("analysis.clustering.min_commits_per_unit", 1)
	viper.SetDefault("analysis.clustering.max_commits_per_unit", 50)

	viper.SetDefault("analysis.impact.loc_cap", 500)
	viper.SetDefault("analysis.impact.core_module_cap", 10.0)
	viper.SetDefault("analysis.impact.hotfix_bonus", 3.0)
	viper.SetDefault("analysis.impact.hotspot_weight", 0.5)
	viper.SetDefault("analysis.impact.config_weight", 1.0)
	viper.SetDefault("analysis.impact.schema_weight", 2.0)
	// 默认关键路径权重表，可按组织在配置文件中覆盖
	viper.SetDefault("analysis.impact.critical_paths", map[string]float64{
		"auth":       3.0,
		"payment":    4.0,
		"billing":    4.0,
		"security":   3.0,
		"migrations": 2.0,
		"deploy":     2.0,
	})

	viper.SetDefault("analysis.sampling.heuristic_threshold", 5)
	viper.SetDefault("analysis.sampling.max_samples_per_repo", 5)
	viper.SetDefault("analysis.sampling.batch_size", 5)

	viper.SetDefault("analysis.scanner.repo_concurrency", 5)
	viper.SetDefault("analysis.scanner.detail_concurrency", 10)
	viper.SetDefault("analysis.scanner.batch_size", 100)
	viper.SetDefault("analysis.scanner.max_retries", 3)

	viper.SetDefault("analysis.stage1.delay_ms", 500)
	viper.SetDefault("analysis.stage1.max_diff_chars", 1500)
	viper.SetDefault("analysis.stage1.max_diff_lines", 80)

	viper.SetDefault("llm.max_tokens", 4096)
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("llm.timeout_seconds", 120)
	viper.SetDefault("llm.price_per_1k_token", 0.01)

	viper.SetDefault("github.base_url", "https://api.github.com")
	viper.SetDefault("github.timeout_seconds", 30)

	viper.SetDefault("queue.run_queue", "review_runs")
	viper.SetDefault("queue.max_workers", 2)
}
