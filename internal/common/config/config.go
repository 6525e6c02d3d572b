// Package config provides configuration management for the agent runtime.
// It supports loading configuration from environment variables, config
// files, and defaults.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the agent runtime.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	TaskManager TaskManagerConfig `mapstructure:"taskManager"`
	MQ          MQConfig          `mapstructure:"mq"`
	Redis       RedisConfig       `mapstructure:"redis"`
	AgentConfig AgentConfigStore  `mapstructure:"agentConfig"`
	Postgres    PostgresConfig    `mapstructure:"postgres"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Docker      DockerConfig      `mapstructure:"docker"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// TaskManagerConfig holds the environment/configuration knobs that
// govern worker pool sizing, instance reclamation and task defaults.
type TaskManagerConfig struct {
	Workers                   int `mapstructure:"workers"`
	CleanupIntervalSeconds    int `mapstructure:"cleanupIntervalSeconds"`
	InstanceTimeoutSeconds    int `mapstructure:"instanceTimeoutSeconds"`
	MaxHistory                int `mapstructure:"maxHistory"`
	TaskDefaultTimeoutSeconds int `mapstructure:"taskDefaultTimeoutSeconds"`
}

// CleanupInterval returns the janitor tick interval as a time.Duration.
func (t *TaskManagerConfig) CleanupInterval() time.Duration {
	return time.Duration(t.CleanupIntervalSeconds) * time.Second
}

// InstanceTimeout returns the idle-instance reclaim threshold as a time.Duration.
func (t *TaskManagerConfig) InstanceTimeout() time.Duration {
	return time.Duration(t.InstanceTimeoutSeconds) * time.Second
}

// TaskDefaultTimeout returns the default per-task execution timeout.
func (t *TaskManagerConfig) TaskDefaultTimeout() time.Duration {
	return time.Duration(t.TaskDefaultTimeoutSeconds) * time.Second
}

// MQConfig selects and sizes the message queue backend.
type MQConfig struct {
	// Backend is one of "memory", "redis", "amqp".
	Backend         string `mapstructure:"backend"`
	MaxQueueSize    int    `mapstructure:"maxQueueSize"`
	StreamQueueSize int    `mapstructure:"streamQueueSize"`
}

// RedisConfig holds connection settings for the optional Redis Streams
// MQ backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Stream   string `mapstructure:"stream"`
	Group    string `mapstructure:"group"`
}

// AgentConfigStore selects the backend for the agent-configuration
// lookup collaborator.
type AgentConfigStore struct {
	// Driver is one of "memory", "sqlite", "postgres".
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"` // sqlite file path
}

// PostgresConfig holds connection settings for the optional Postgres
// backed agent-configuration store.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

// DSN returns the PostgreSQL connection string.
func (p *PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode,
	)
}

// NATSConfig holds settings for the optional lifecycle event bus.
// An empty URL means use the in-memory event bus instead.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// DockerConfig holds Docker client configuration for the container
// backed reference template.
type DockerConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	APIVersion     string `mapstructure:"apiVersion"`
	DefaultNetwork string `mapstructure:"defaultNetwork"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// detectDefaultLogFormat returns "json" in container/production
// environments and "text" for interactive terminal use.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("AGENTRT_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	v.SetDefault("taskManager.workers", 4)
	v.SetDefault("taskManager.cleanupIntervalSeconds", 60)
	v.SetDefault("taskManager.instanceTimeoutSeconds", 1800)
	v.SetDefault("taskManager.maxHistory", 50)
	v.SetDefault("taskManager.taskDefaultTimeoutSeconds", 120)

	v.SetDefault("mq.backend", "memory")
	v.SetDefault("mq.maxQueueSize", 1000)
	v.SetDefault("mq.streamQueueSize", 64)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stream", "agentrt:tasks")
	v.SetDefault("redis.group", "agentrt-workers")

	v.SetDefault("agentConfig.driver", "memory")
	v.SetDefault("agentConfig.path", "./agentrt.db")

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "agentrt")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.dbName", "agentrt")
	v.SetDefault("postgres.sslMode", "disable")
	v.SetDefault("postgres.maxConns", 25)
	v.SetDefault("postgres.minConns", 5)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "agentrt-client")
	v.SetDefault("nats.maxReconnects", 10)

	v.SetDefault("docker.enabled", false)
	v.SetDefault("docker.host", defaultDockerHost())
	v.SetDefault("docker.apiVersion", "1.41")
	v.SetDefault("docker.defaultNetwork", "agentrt-network")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// defaultDockerHost returns the platform-appropriate Docker socket path.
// Respects DOCKER_HOST as an override, matching standard Docker convention.
func defaultDockerHost() string {
	if host := os.Getenv("DOCKER_HOST"); host != "" {
		return host
	}
	if runtime.GOOS == "windows" {
		return "npipe:////./pipe/docker_engine"
	}
	return "unix:///var/run/docker.sock"
}

// Load reads configuration from environment variables, config file, and
// defaults. Environment variables use the prefix AGENTRT_.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default
// locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("AGENTRT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("taskManager.workers", "AGENTRT_WORKERS")
	_ = v.BindEnv("mq.backend", "AGENTRT_MQ_BACKEND")
	_ = v.BindEnv("logging.level", "AGENTRT_LOG_LEVEL")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/agentrt/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that configuration values are internally consistent.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.TaskManager.Workers <= 0 {
		errs = append(errs, "taskManager.workers must be positive")
	}
	if cfg.TaskManager.CleanupIntervalSeconds <= 0 {
		errs = append(errs, "taskManager.cleanupIntervalSeconds must be positive")
	}
	if cfg.TaskManager.InstanceTimeoutSeconds <= 0 {
		errs = append(errs, "taskManager.instanceTimeoutSeconds must be positive")
	}

	validBackends := map[string]bool{"memory": true, "redis": true, "amqp": true}
	if !validBackends[strings.ToLower(cfg.MQ.Backend)] {
		errs = append(errs, "mq.backend must be one of: memory, redis, amqp")
	}

	validDrivers := map[string]bool{"memory": true, "sqlite": true, "postgres": true}
	if !validDrivers[strings.ToLower(cfg.AgentConfig.Driver)] {
		errs = append(errs, "agentConfig.driver must be one of: memory, sqlite, postgres")
	}
	if strings.ToLower(cfg.AgentConfig.Driver) == "postgres" {
		if cfg.Postgres.User == "" {
			errs = append(errs, "postgres.user is required when agentConfig.driver is postgres")
		}
		if cfg.Postgres.DBName == "" {
			errs = append(errs, "postgres.dbName is required when agentConfig.driver is postgres")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
