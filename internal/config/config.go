package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig 支持 mysql / postgres / sqlite
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"` // 非空时直接使用，忽略下面的连接参数
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
	LogSQL       bool   `mapstructure:"log_sql"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type KafkaConfig struct {
	Enabled bool             `mapstructure:"enabled"`
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	TransactionApplied string `mapstructure:"transaction_applied"`
}

// LedgerConfig 账本核心配置
type LedgerConfig struct {
	Backend      string          `mapstructure:"backend"` // sql | redis
	CacheEnabled bool            `mapstructure:"cache_enabled"`
	CacheTTL     time.Duration   `mapstructure:"cache_ttl"` // 缓存条目的兜底过期时间
	ApplyRetries int             `mapstructure:"apply_retries"`
	WorkerID     int64           `mapstructure:"worker_id"`
	Accounts     []AccountConfig `mapstructure:"accounts"`
}

// AccountConfig 启动时预置的账户
type AccountConfig struct {
	ID      int64 `mapstructure:"id"`
	Limit   int64 `mapstructure:"limit"`
	Balance int64 `mapstructure:"balance"`
}

type JobsConfig struct {
	OutboxInterval  time.Duration `mapstructure:"outbox_interval"`
	OutboxBatchSize int           `mapstructure:"outbox_batch_size"`
	MaxRetryCount   int           `mapstructure:"max_retry_count"`
	AuditInterval   time.Duration `mapstructure:"audit_interval"`
	AuditBatchSize  int           `mapstructure:"audit_batch_size"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// EnvPrefix 环境变量前缀，例如 BANKLEDGER_DATABASE_DSN
const EnvPrefix = "BANKLEDGER"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	// AutomaticEnv 只对已知的 key 生效，所有可被环境变量覆盖的项都要有默认值
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "root")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "ledger")
	v.SetDefault("database.log_sql", false)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic.transaction_applied", "ledger.transaction.applied")

	v.SetDefault("ledger.backend", "sql")
	v.SetDefault("ledger.cache_enabled", true)
	v.SetDefault("ledger.cache_ttl", 10*time.Minute)
	v.SetDefault("ledger.apply_retries", 3)
	v.SetDefault("ledger.worker_id", 1)

	v.SetDefault("jobs.outbox_interval", 100*time.Millisecond)
	v.SetDefault("jobs.outbox_batch_size", 100)
	v.SetDefault("jobs.max_retry_count", 5)
	v.SetDefault("jobs.audit_interval", time.Minute)
	v.SetDefault("jobs.audit_batch_size", 100)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// LoadConfig 加载配置文件，环境变量优先。configPath 为空时只使用默认值与环境变量。
func LoadConfig(configPath string) (*Config, error) {
	// .env 不存在是正常情况
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查配置取值
func (c *Config) Validate() error {
	switch c.Ledger.Backend {
	case "sql", "redis":
	default:
		return fmt.Errorf("ledger.backend 不支持: %q", c.Ledger.Backend)
	}
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver 不支持: %q", c.Database.Driver)
	}
	if c.Ledger.ApplyRetries < 1 {
		return errors.New("ledger.apply_retries 必须大于 0")
	}
	seen := make(map[int64]bool, len(c.Ledger.Accounts))
	for _, a := range c.Ledger.Accounts {
		if a.ID <= 0 || a.Limit < 0 || a.Balance < -a.Limit {
			return fmt.Errorf("ledger.accounts 配置非法: id=%d limit=%d balance=%d", a.ID, a.Limit, a.Balance)
		}
		if seen[a.ID] {
			return fmt.Errorf("ledger.accounts 重复的账户: id=%d", a.ID)
		}
		seen[a.ID] = true
	}
	return nil
}
