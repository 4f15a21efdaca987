package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	SQLite    SQLiteConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Engine    EngineConfig
	Breaker   BreakerConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
	Tracing   TracingConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    int
	WriteTimeout   int
	BodyLimit      int
	AllowedOrigins []string
	Development    bool
}

type SQLiteConfig struct {
	Path string
}

// PostgresConfig points at the operational store. The engine only reads it.
type PostgresConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
}

func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode)
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type EngineConfig struct {
	CriticalAlertLimit int
	ReportCacheTTLSec  int
	AlertTTLHours      int
	SubtaskTimeoutSec  int
	SparklineDays      int
}

func (e EngineConfig) ReportCacheTTL() time.Duration {
	return time.Duration(e.ReportCacheTTLSec) * time.Second
}

func (e EngineConfig) AlertTTL() time.Duration {
	return time.Duration(e.AlertTTLHours) * time.Hour
}

func (e EngineConfig) SubtaskTimeout() time.Duration {
	return time.Duration(e.SubtaskTimeoutSec) * time.Second
}

type BreakerConfig struct {
	FailureThreshold int
	TimeoutSec       int
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

// TracingConfig controls OTLP span export. Spans are still created when
// disabled but go nowhere.
type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	Insecure    bool
	ServiceName string
	SampleRatio float64
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/stockpulse")

	v.SetEnvPrefix("STOCKPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Engine.CriticalAlertLimit <= 0 {
		return nil, fmt.Errorf("engine.criticalAlertLimit must be positive, got %d", config.Engine.CriticalAlertLimit)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)
	v.SetDefault("server.bodyLimit", 1048576)
	v.SetDefault("server.allowedOrigins", []string{})
	v.SetDefault("server.development", false)

	v.SetDefault("sqlite.path", "./data/stockpulse.db")

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "postgres")
	v.SetDefault("postgres.database", "inventory")
	v.SetDefault("postgres.sslMode", "disable")
	v.SetDefault("postgres.maxOpenConns", 10)

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("engine.criticalAlertLimit", 5)
	v.SetDefault("engine.reportCacheTTLSec", 300)
	v.SetDefault("engine.alertTTLHours", 168)
	v.SetDefault("engine.subtaskTimeoutSec", 15)
	v.SetDefault("engine.sparklineDays", 7)

	v.SetDefault("breaker.failureThreshold", 5)
	v.SetDefault("breaker.timeoutSec", 30)

	v.SetDefault("rateLimit.requestsPerMinute", 120)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.serviceName", "stockpulse-health-engine")
	v.SetDefault("tracing.sampleRatio", 1.0)
}
