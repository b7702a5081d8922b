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
	Engine   EngineConfig   `mapstructure:"engine"`
	Stage    StageConfig    `mapstructure:"stage"`
	Research ResearchConfig `mapstructure:"research"`
	Eval     EvalConfig     `mapstructure:"eval"`
	CORS     CORSConfig     `mapstructure:"cors"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // mysql, sqlite
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	Path         string `mapstructure:"path"` // sqlite 文件路径
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type EngineConfig struct {
	MaxConcurrentJobs int `mapstructure:"max_concurrent_jobs"` // 0 表示不限制
	RetentionMinutes  int `mapstructure:"retention_minutes"`   // 终态任务在内存中保留时间
	JanitorSeconds    int `mapstructure:"janitor_seconds"`     // 过期任务清理间隔
}

type StageConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"` // 单阶段超时
}

type ResearchConfig struct {
	OpenAIAPIKey  string `mapstructure:"openai_api_key"`
	OpenAIBaseURL string `mapstructure:"openai_base_url"` // 留空使用官方地址
	Model         string `mapstructure:"model"`
	TavilyAPIKey  string `mapstructure:"tavily_api_key"`
	TavilyBaseURL string `mapstructure:"tavily_base_url"`
	MaxResults    int    `mapstructure:"max_results"`
}

type EvalConfig struct {
	LogFile string `mapstructure:"log_file"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

func Load(configPath string) (*Config, error) {
	// 优先尝试读取 config.local.yaml（包含真实密钥，不提交到git）
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")

	// 检查 config.local.yaml 是否存在
	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	// 环境变量覆盖
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Stage.TimeoutSeconds <= 0 {
		cfg.Stage.TimeoutSeconds = 120
	}
	if cfg.Engine.RetentionMinutes <= 0 {
		cfg.Engine.RetentionMinutes = 60
	}
	if cfg.Engine.JanitorSeconds <= 0 {
		cfg.Engine.JanitorSeconds = 60
	}
	if cfg.Research.Model == "" {
		cfg.Research.Model = "gpt-4o-mini"
	}
	if cfg.Research.MaxResults <= 0 {
		cfg.Research.MaxResults = 5
	}
	if cfg.Eval.LogFile == "" {
		cfg.Eval.LogFile = "universal_research_evals.jsonl"
	}
}
