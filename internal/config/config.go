package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DatabaseConfig 定义数据库连接配置（支持 MySQL 和 PostgreSQL）
type DatabaseConfig struct {
	Type            string        // 数据库类型: "mysql"、"postgres"，或 "memory"（仅开发）
	DSN             string        // 数据库连接字符串
	MaxOpenConns    int           // 最大打开连接数，默认 25
	MaxIdleConns    int           // 最大空闲连接数，默认 5
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
}

// RedisConfig 定义收件人缓存的 Redis 配置；Address 为空时禁用缓存
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	CacheTTL time.Duration // 收件人缓存条目 TTL，默认 10 分钟
}

// ZMQConfig 定义事件总线端点
type ZMQConfig struct {
	EmailerSub string // 发送端订阅端点，例如 tcp://127.0.0.1:5558
	ReplierPub string // 监控端发布端点
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 彩色输出与详细堆栈
	File        string // 日志文件路径，空串仅输出到 stdout
}

// MonitorConfig 定义回复监控的运行参数
type MonitorConfig struct {
	Backoff     time.Duration // 会话失败后的重连间隔，默认 5s，禁止紧循环
	IdleTimeout time.Duration // IMAP IDLE 保活窗口，默认 29 分钟
}

// SenderConfig 定义发送端的运行参数
type SenderConfig struct {
	Workers   int     // 投递任务协程池大小，默认 16
	QueueSize int     // 任务队列长度，默认 64
	SendRate  float64 // 每秒出站邮件上限，<= 0 不限速
}

// MetricsConfig 定义 Prometheus 指标端点；Addr 为空时禁用
type MetricsConfig struct {
	Addr string
}

// Config 是两个工作进程共享的根配置。
// 启动时一次性加载校验，之后只读。
type Config struct {
	// Domain 公开域名，进入 Message-ID、追踪像素与 In-Reply-To 匹配
	Domain   string
	Database DatabaseConfig
	Redis    RedisConfig
	ZMQ      ZMQConfig
	Log      LogConfig
	Monitor  MonitorConfig
	Sender   SenderConfig
	Metrics  MetricsConfig
}

// Load 从环境变量和 .env 文件加载配置
//
// 环境变量前缀 HUBMAIL_，例如 HUBMAIL_DOMAIN、HUBMAIL_DATABASE_DSN、
// HUBMAIL_ZMQ_EMAILER_SUB、HUBMAIL_ZMQ_REPLIER_PUB。
// 这四项为必填，缺失时返回错误，进程应当直接退出。
func Load() (*Config, error) {
	loadEnvFile()

	viper.SetEnvPrefix("hubmail")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("domain", "")
	viper.SetDefault("database.type", "postgres")
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("redis.address", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.cache_ttl", "10m")
	viper.SetDefault("zmq.emailer_sub", "")
	viper.SetDefault("zmq.replier_pub", "")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
	viper.SetDefault("log.file", "")
	viper.SetDefault("monitor.backoff", "5s")
	viper.SetDefault("monitor.idle_timeout", "29m")
	viper.SetDefault("sender.workers", 16)
	viper.SetDefault("sender.queue_size", 64)
	viper.SetDefault("sender.send_rate", 0.0)
	viper.SetDefault("metrics.addr", "")

	domain := viper.GetString("domain")
	if domain == "" {
		return nil, fmt.Errorf("domain is required (HUBMAIL_DOMAIN)")
	}

	dbType := viper.GetString("database.type")
	switch dbType {
	case "postgres", "mysql", "memory":
	default:
		return nil, fmt.Errorf("unsupported database.type: %q", dbType)
	}
	dsn := viper.GetString("database.dsn")
	if dsn == "" && dbType != "memory" {
		return nil, fmt.Errorf("database.dsn is required (HUBMAIL_DATABASE_DSN)")
	}

	emailerSub := viper.GetString("zmq.emailer_sub")
	if emailerSub == "" {
		return nil, fmt.Errorf("zmq.emailer_sub is required (HUBMAIL_ZMQ_EMAILER_SUB)")
	}
	replierPub := viper.GetString("zmq.replier_pub")
	if replierPub == "" {
		return nil, fmt.Errorf("zmq.replier_pub is required (HUBMAIL_ZMQ_REPLIER_PUB)")
	}

	connMaxLifetime, err := time.ParseDuration(viper.GetString("database.conn_max_lifetime"))
	if err != nil {
		connMaxLifetime = 5 * time.Minute
	}
	cacheTTL, err := time.ParseDuration(viper.GetString("redis.cache_ttl"))
	if err != nil {
		cacheTTL = 10 * time.Minute
	}

	backoff, err := time.ParseDuration(viper.GetString("monitor.backoff"))
	if err != nil || backoff <= 0 {
		backoff = 5 * time.Second
	}
	idleTimeout, err := time.ParseDuration(viper.GetString("monitor.idle_timeout"))
	if err != nil || idleTimeout <= 0 {
		idleTimeout = 29 * time.Minute
	}

	workers := viper.GetInt("sender.workers")
	if workers <= 0 {
		workers = 16
	}
	queueSize := viper.GetInt("sender.queue_size")
	if queueSize <= 0 {
		queueSize = 64
	}

	cfg := &Config{
		Domain: domain,
		Database: DatabaseConfig{
			Type:            dbType,
			DSN:             dsn,
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: connMaxLifetime,
		},
		Redis: RedisConfig{
			Address:  viper.GetString("redis.address"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
			CacheTTL: cacheTTL,
		},
		ZMQ: ZMQConfig{
			EmailerSub: emailerSub,
			ReplierPub: replierPub,
		},
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
			File:        viper.GetString("log.file"),
		},
		Monitor: MonitorConfig{
			Backoff:     backoff,
			IdleTimeout: idleTimeout,
		},
		Sender: SenderConfig{
			Workers:   workers,
			QueueSize: queueSize,
			SendRate:  viper.GetFloat64("sender.send_rate"),
		},
		Metrics: MetricsConfig{
			Addr: viper.GetString("metrics.addr"),
		},
	}

	return cfg, nil
}

// loadEnvFile 尝试加载 .env 文件
//
// 文件不存在时静默失败（.env 是可选的）；
// 已存在的环境变量不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}
	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
