package config

import (
	"fmt"
	"log"
	"os"
	"time"
	_ "time/tzdata"

	pkgconfig "mailpilot/pkg/config"
)

// MailboxConfig Gmail OAuth 客户端配置
type MailboxConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	RedirectURL     string `yaml:"redirect_url"`
}

// SyncConfig 同步流水线参数
type SyncConfig struct {
	Timezone         string        `yaml:"timezone"`
	MaxEmailsPerSync int           `yaml:"max_emails_per_sync"`
	MaxSentItems     int           `yaml:"max_sent_items"`
	DefaultSyncDays  int           `yaml:"default_sync_days"`
	ArchiveAfterDays int           `yaml:"archive_after_days"`
	SLAResponseDays  int           `yaml:"sla_response_days"`
	Interval         time.Duration `yaml:"interval"`
	ScheduledUserID  int           `yaml:"scheduled_user_id"`
}

// SummaryConfig 每日简报参数
type SummaryConfig struct {
	BriefingHour int    `yaml:"briefing_hour"`
	KeepDays     int    `yaml:"keep_days"`
	AudioCommand string `yaml:"audio_command"`
	AudioDir     string `yaml:"audio_dir"`
}

type Config struct {
	Env     string                  `yaml:"-"`
	Storage pkgconfig.StorageConfig `yaml:"storage"`
	DB      pkgconfig.DBConfig      `yaml:"db"`
	MQ      pkgconfig.MQConfig      `yaml:"mq"`
	Redis   pkgconfig.RedisConfig   `yaml:"redis"`
	JWT     pkgconfig.JWTConfig     `yaml:"jwt"`
	Server  pkgconfig.ServerConfig  `yaml:"server"`
	LLM     pkgconfig.LLMConfig     `yaml:"llm"`
	Otel    pkgconfig.OtelConfig    `yaml:"otel"`
	Mailbox MailboxConfig           `yaml:"mailbox"`
	Sync    SyncConfig              `yaml:"sync"`
	Summary SummaryConfig           `yaml:"summary"`
}

// Load 读取 CONFIG_ENV 对应的配置；CONFIG_DIR 可覆盖配置目录
func Load() (*Config, error) {
	env := pkgconfig.GetConfigEnv()
	return LoadFrom(env, pkgconfig.GetEnv("CONFIG_DIR", "config"))
}

// MustLoad 启动阶段使用，失败直接退出
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func LoadFrom(env, dir string) (*Config, error) {
	tree, err := pkgconfig.LoadConfig(env, dir)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := pkgconfig.Decode(tree, &cfg); err != nil {
		return nil, err
	}
	cfg.Env = env

	// 环境变量覆盖（生产环境使用）
	pkgconfig.OverrideStorageFromEnv(&cfg.Storage)
	pkgconfig.OverrideDBFromEnv(&cfg.DB)
	pkgconfig.OverrideMQFromEnv(&cfg.MQ)
	pkgconfig.OverrideRedisFromEnv(&cfg.Redis)
	pkgconfig.OverrideJWTFromEnv(&cfg.JWT)
	pkgconfig.OverrideServerFromEnv(&cfg.Server)
	pkgconfig.OverrideLLMFromEnv(&cfg.LLM)
	if tz := os.Getenv("TIMEZONE"); tz != "" {
		cfg.Sync.Timezone = tz
	}

	applyDefaults(&cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "postgres"
	}
	if cfg.Server.Port == "" {
		cfg.Server.Port = ":8080"
	}
	if cfg.JWT.TTL == 0 {
		cfg.JWT.TTL = 24 * time.Hour
	}
	if cfg.LLM.Host == "" {
		cfg.LLM.Host = "http://127.0.0.1:11434"
	}
	if cfg.LLM.TriageModel == "" {
		cfg.LLM.TriageModel = cfg.LLM.Model
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 600 * time.Second
	}
	if cfg.LLM.NumCtx == 0 {
		cfg.LLM.NumCtx = 4096
	}
	if cfg.Sync.Timezone == "" {
		cfg.Sync.Timezone = "Asia/Dubai"
	}
	if cfg.Sync.MaxEmailsPerSync == 0 {
		cfg.Sync.MaxEmailsPerSync = 80
	}
	if cfg.Sync.MaxSentItems == 0 {
		cfg.Sync.MaxSentItems = 50
	}
	if cfg.Sync.DefaultSyncDays == 0 {
		cfg.Sync.DefaultSyncDays = 3
	}
	if cfg.Sync.ArchiveAfterDays == 0 {
		cfg.Sync.ArchiveAfterDays = 2
	}
	if cfg.Sync.SLAResponseDays == 0 {
		cfg.Sync.SLAResponseDays = 4
	}
	if cfg.Summary.KeepDays == 0 {
		cfg.Summary.KeepDays = 7
	}
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported storage driver %q", c.Storage.Driver)
	}
	if c.Storage.Driver == "sqlite" && c.Storage.SQLitePath == "" {
		return fmt.Errorf("storage.sqlite_path is required for the sqlite driver")
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required")
	}
	if _, err := time.LoadLocation(c.Sync.Timezone); err != nil {
		return fmt.Errorf("invalid sync.timezone %q: %w", c.Sync.Timezone, err)
	}
	return nil
}

// Location 返回同步窗口使用的时区
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Sync.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
