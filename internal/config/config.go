package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/keyrelay/internal/logger"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Database   DatabaseConfig   `mapstructure:"database"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Email      EmailConfig      `mapstructure:"email"`
	Automation AutomationConfig `mapstructure:"automation"`
	Alert      AlertConfig      `mapstructure:"alert"`
	Secret     SecretConfig     `mapstructure:"secret"`
	Security   SecurityConfig   `mapstructure:"security"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	LoginRateLimit RateLimitConfig `mapstructure:"login_rate_limit"`
	HookRateLimit  RateLimitConfig `mapstructure:"hook_rate_limit"`
}

// RateLimitConfig 频率限制配置
type RateLimitConfig struct {
	WindowSeconds int `mapstructure:"window_seconds"`
	MaxAttempts   int `mapstructure:"max_attempts"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug / release
}

// Addr 监听地址
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, s.Port)
}

// LogConfig 日志配置
type LogConfig struct {
	Dir        string `mapstructure:"dir"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
	Level      string `mapstructure:"level"`
	Stdout     bool   `mapstructure:"stdout"`
}

// ToLoggerOptions 转换为 logger 配置
func (c LogConfig) ToLoggerOptions() logger.Options {
	return logger.Options{
		Dir:        c.Dir,
		Filename:   c.Filename,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
		Compress:   c.Compress,
		Level:      c.Level,
		Stdout:     c.Stdout,
	}
}

// DatabasePoolConfig 数据库连接池配置
type DatabasePoolConfig struct {
	MaxOpenConns           int `mapstructure:"max_open_conns"`
	MaxIdleConns           int `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeSeconds int `mapstructure:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int `mapstructure:"conn_max_idle_time_seconds"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver      string             `mapstructure:"driver"`        // 数据库驱动（sqlite/postgres）
	DSN         string             `mapstructure:"dsn"`           // 数据库连接串
	SlowQueryMs int                `mapstructure:"slow_query_ms"` // 慢查询阈值
	Pool        DatabasePoolConfig `mapstructure:"pool"`
}

// JWTConfig 管理端 JWT 配置
type JWTConfig struct {
	SecretKey   string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// QueueConfig 异步队列配置
type QueueConfig struct {
	Enabled        bool           `mapstructure:"enabled"`
	Host           string         `mapstructure:"host"`
	Port           int            `mapstructure:"port"`
	Password       string         `mapstructure:"password"`
	DB             int            `mapstructure:"db"`
	Concurrency    int            `mapstructure:"concurrency"`
	Queues         map[string]int `mapstructure:"queues"`
	SubmitMaxRetry int            `mapstructure:"submit_max_retry"`
}

// EmailConfig 邮件服务配置
type EmailConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	FromName string `mapstructure:"from_name"`
	UseTLS   bool   `mapstructure:"use_tls"`
	UseSSL   bool   `mapstructure:"use_ssl"`
}

// AutomationConfig 自动化服务器配置
type AutomationConfig struct {
	Enabled               bool   `mapstructure:"enabled"`
	ServerURL             string `mapstructure:"server_url"`
	SocketURL             string `mapstructure:"socket_url"`
	APIKey                string `mapstructure:"api_key"`
	Room                  string `mapstructure:"room"`
	SubmitTimeoutSeconds  int    `mapstructure:"submit_timeout_seconds"`
	QueryTimeoutSeconds   int    `mapstructure:"query_timeout_seconds"`
	ReconnectSeconds      int    `mapstructure:"reconnect_seconds"`
	MaxReconnectSeconds   int    `mapstructure:"max_reconnect_seconds"`
	RouterWorkers         int    `mapstructure:"router_workers"`
	RouterQueueSize       int    `mapstructure:"router_queue_size"`
	SweepIntervalSeconds  int    `mapstructure:"sweep_interval_seconds"`
	SweepGraceSeconds     int    `mapstructure:"sweep_grace_seconds"`
	SweepPageSize         int    `mapstructure:"sweep_page_size"`
	SweepMaxAgeHours      int    `mapstructure:"sweep_max_age_hours"`
	SweepMaxResultPages   int    `mapstructure:"sweep_max_result_pages"`
	StoreRetryAttempts    int    `mapstructure:"store_retry_attempts"`
	StoreRetryDelayMillis int    `mapstructure:"store_retry_delay_millis"`
	PlayerIDMetaKey       string `mapstructure:"player_id_meta_key"`
	JobRefTTLHours        int    `mapstructure:"job_ref_ttl_hours"`
}

// SubmitTimeout 提交任务超时
func (c AutomationConfig) SubmitTimeout() time.Duration {
	return secondsOr(c.SubmitTimeoutSeconds, 10)
}

// QueryTimeout 诊断查询超时
func (c AutomationConfig) QueryTimeout() time.Duration {
	return secondsOr(c.QueryTimeoutSeconds, 15)
}

// SweepInterval 对账巡检间隔
func (c AutomationConfig) SweepInterval() time.Duration {
	return secondsOr(c.SweepIntervalSeconds, 300)
}

// SweepGrace 运行中台账进入巡检前的等待时间
func (c AutomationConfig) SweepGrace() time.Duration {
	return secondsOr(c.SweepGraceSeconds, 120)
}

// SweepMaxAge 运行中台账的最长存活时间，超过后按失败处理
func (c AutomationConfig) SweepMaxAge() time.Duration {
	if c.SweepMaxAgeHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.SweepMaxAgeHours) * time.Hour
}

// StoreRetryDelay 存储重试间隔
func (c AutomationConfig) StoreRetryDelay() time.Duration {
	if c.StoreRetryDelayMillis <= 0 {
		return 200 * time.Millisecond
	}
	return time.Duration(c.StoreRetryDelayMillis) * time.Millisecond
}

// JobRefTTL 任务引用缓存时长
func (c AutomationConfig) JobRefTTL() time.Duration {
	if c.JobRefTTLHours <= 0 {
		return 72 * time.Hour
	}
	return time.Duration(c.JobRefTTLHours) * time.Hour
}

// AlertConfig 管理员告警配置
type AlertConfig struct {
	Recipients     []string `mapstructure:"recipients"`
	SourceSite     string   `mapstructure:"source_site"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	MaxRetry       int      `mapstructure:"max_retry"`
}

// Timeout 告警发送超时
func (c AlertConfig) Timeout() time.Duration {
	return secondsOr(c.TimeoutSeconds, 10)
}

// SecretConfig 卡密加密配置
type SecretConfig struct {
	EncryptionKey string `mapstructure:"encryption_key"` // 32 字节密钥（hex 或 base64）
	HashKey       string `mapstructure:"hash_key"`
}

func secondsOr(value, fallback int) time.Duration {
	if value <= 0 {
		value = fallback
	}
	return time.Duration(value) * time.Second
}

// Load 从 config.yml 加载配置
func Load() *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./")
	viper.AddConfigPath("../")
	viper.AddConfigPath("./etc")

	setDefaults(viper.GetViper())

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		logger.Warnw("config_file_read_failed",
			"error", err,
			"fallback", "env_or_defaults",
		)
	} else {
		logger.Infow("config_file_loaded", "file", viper.ConfigFileUsed())
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		logger.Errorw("config_unmarshal_failed", "error", err)
		panic(fmt.Errorf("config unmarshal failed: %w", err))
	}

	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("log.dir", "")
	v.SetDefault("log.filename", "keyrelay.log")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)
	v.SetDefault("log.level", "")
	v.SetDefault("log.stdout", true)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./db/keyrelay.db")
	v.SetDefault("database.slow_query_ms", 200)
	v.SetDefault("database.pool.max_open_conns", 1)
	v.SetDefault("database.pool.max_idle_conns", 1)
	v.SetDefault("database.pool.conn_max_lifetime_seconds", 0)
	v.SetDefault("database.pool.conn_max_idle_time_seconds", 0)
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("jwt.expire_hours", 24)
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "kr")
	v.SetDefault("queue.enabled", true)
	v.SetDefault("queue.host", "127.0.0.1")
	v.SetDefault("queue.port", 6379)
	v.SetDefault("queue.password", "")
	v.SetDefault("queue.db", 1)
	v.SetDefault("queue.concurrency", 10)
	v.SetDefault("queue.submit_max_retry", 5)
	v.SetDefault("queue.queues", map[string]int{
		"default":  10,
		"critical": 5,
	})
	v.SetDefault("email.enabled", false)
	v.SetDefault("email.host", "")
	v.SetDefault("email.port", 587)
	v.SetDefault("email.username", "")
	v.SetDefault("email.password", "")
	v.SetDefault("email.from", "")
	v.SetDefault("email.from_name", "keyrelay")
	v.SetDefault("email.use_tls", true)
	v.SetDefault("email.use_ssl", false)
	v.SetDefault("automation.enabled", true)
	v.SetDefault("automation.server_url", "http://127.0.0.1:3000")
	v.SetDefault("automation.socket_url", "")
	v.SetDefault("automation.api_key", "")
	v.SetDefault("automation.room", "automation")
	v.SetDefault("automation.submit_timeout_seconds", 10)
	v.SetDefault("automation.query_timeout_seconds", 15)
	v.SetDefault("automation.reconnect_seconds", 2)
	v.SetDefault("automation.max_reconnect_seconds", 60)
	v.SetDefault("automation.router_workers", 8)
	v.SetDefault("automation.router_queue_size", 64)
	v.SetDefault("automation.sweep_interval_seconds", 300)
	v.SetDefault("automation.sweep_grace_seconds", 120)
	v.SetDefault("automation.sweep_page_size", 50)
	v.SetDefault("automation.sweep_max_age_hours", 24)
	v.SetDefault("automation.sweep_max_result_pages", 10)
	v.SetDefault("automation.store_retry_attempts", 3)
	v.SetDefault("automation.store_retry_delay_millis", 200)
	v.SetDefault("automation.player_id_meta_key", "player_id")
	v.SetDefault("automation.job_ref_ttl_hours", 72)
	v.SetDefault("alert.recipients", []string{})
	v.SetDefault("alert.source_site", "")
	v.SetDefault("alert.timeout_seconds", 10)
	v.SetDefault("alert.max_retry", 3)
	v.SetDefault("secret.encryption_key", "")
	v.SetDefault("secret.hash_key", "")
	v.SetDefault("security.login_rate_limit.window_seconds", 300)
	v.SetDefault("security.login_rate_limit.max_attempts", 5)
	v.SetDefault("security.hook_rate_limit.window_seconds", 60)
	v.SetDefault("security.hook_rate_limit.max_attempts", 600)
}
