package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Log      LogConfig      `mapstructure:"log"`
	Quest    QuestConfig    `mapstructure:"quest"`
	Reward   RewardConfig   `mapstructure:"reward"`
	Security SecurityConfig `mapstructure:"security"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
}

type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	Debug    bool   `mapstructure:"debug"`
	AdminKey string `mapstructure:"admin_key"`
}

type DatabaseConfig struct {
	Mode        string        `mapstructure:"mode"` // memory | sqlite | mysql | postgres
	SQLitePath  string        `mapstructure:"sqlite_path"`
	MySQLDSN    string        `mapstructure:"mysql_dsn"`
	PostgresDSN string        `mapstructure:"postgres_dsn"`
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLife     time.Duration `mapstructure:"max_life"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	RedisPoolSize   int           `mapstructure:"redis_pool_size"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
	StateTTL        time.Duration `mapstructure:"state_ttl"` // 0 disables the state cache
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type QuestConfig struct {
	DataPath      string        `mapstructure:"data_path"`
	LangPath      string        `mapstructure:"lang_path"`
	DefaultLocale string        `mapstructure:"default_locale"`
	ResetHour     int           `mapstructure:"reset_hour"`
	ResetTimezone string        `mapstructure:"reset_timezone"`
	EventDedupTTL time.Duration `mapstructure:"event_dedup_ttl"`
	FeedLength    int           `mapstructure:"feed_length"`
}

type RewardConfig struct {
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	RetryBatch    int           `mapstructure:"retry_batch"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	BaseBackoff   time.Duration `mapstructure:"base_backoff"`
	MaxBackoff    time.Duration `mapstructure:"max_backoff"`
}

type SecurityConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	JWTTTLH        time.Duration `mapstructure:"jwt_ttl_h"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	// IngestWhitelist lists the game-server addresses (IP or CIDR) allowed to
	// push events. Empty allows any caller with a service token.
	IngestWhitelist []string `mapstructure:"ingest_whitelist"`
	// AllowedOrigins lists the WebSocket/SSE origins that are permitted.
	// An empty slice allows all origins (useful for local development only).
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// Load reads config from the given YAML file path. Every key can be
// overridden from the environment, e.g. QUESTFORGE_SERVER_PORT.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("QUESTFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/quests.db")
	v.SetDefault("database.max_open", 50)
	v.SetDefault("database.max_idle", 10)
	v.SetDefault("database.max_life", "1h")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("cache.state_ttl", "10m")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("quest.data_path", "./data/quests")
	v.SetDefault("quest.lang_path", "./data/lang")
	v.SetDefault("quest.default_locale", "en")
	v.SetDefault("quest.reset_hour", 0)
	v.SetDefault("quest.reset_timezone", "UTC")
	v.SetDefault("quest.event_dedup_ttl", "24h")
	v.SetDefault("quest.feed_length", 50)
	v.SetDefault("reward.retry_interval", "30s")
	v.SetDefault("reward.retry_batch", 100)
	v.SetDefault("reward.max_attempts", 10)
	v.SetDefault("reward.base_backoff", "5s")
	v.SetDefault("reward.max_backoff", "30m")
	v.SetDefault("security.jwt_ttl_h", "72h")
	v.SetDefault("security.rate_limit_rps", 100)
	v.SetDefault("security.rate_limit_burst", 200)
	v.SetDefault("kafka.topic", "quest-notices")
}

// ResetLocation resolves the daily-reset timezone.
func (q QuestConfig) ResetLocation() (*time.Location, error) {
	if q.ResetTimezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(q.ResetTimezone)
}
