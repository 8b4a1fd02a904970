// Package config loads environment configuration through viper, with
// optional .env file support.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const VERSION = "1.4"

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Security    SecurityConfig
	Tracking    TrackingConfig
	Worker      WorkerConfig
	Environment string
	LogLevel    string
	Version     string
}

type ServerConfig struct {
	Port        int
	Host        string
	MetricsPort int
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN renders the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type RedisConfig struct {
	URL string
}

type SecurityConfig struct {
	// SecretKey encrypts stored SMTP credentials and signs nothing
	// else; rotating it invalidates stored credentials.
	SecretKey string
}

type TrackingConfig struct {
	// BaseURL is the public origin tracking pixel and click URLs are
	// built on, e.g. https://track.example.com
	BaseURL string
}

type WorkerConfig struct {
	PoolSize          int
	VisibilitySeconds int
	SweepSeconds      int
	SweepBatch        int
	SchedulerSeconds  int
	ReputationSeconds int
}

// LoadOptions contains options for loading configuration
type LoadOptions struct {
	EnvFile string // Optional environment file to load (e.g., ".env", ".env.test")
}

// Load loads the configuration with default options
func Load() (*Config, error) {
	// Try to load .env file but don't require it
	return LoadWithOptions(LoadOptions{EnvFile: ".env"})
}

// LoadWithOptions loads the configuration with the specified options
func LoadWithOptions(opts LoadOptions) (*Config, error) {
	v := viper.New()

	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("METRICS_PORT", 9090)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "mailqueue")
	v.SetDefault("DB_SSLMODE", "require")
	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("TRACKING_BASE_URL", "http://localhost:8080")
	v.SetDefault("WORKER_POOL_SIZE", 10)
	v.SetDefault("WORKER_VISIBILITY_SECONDS", 300)
	v.SetDefault("WORKER_SWEEP_SECONDS", 60)
	v.SetDefault("WORKER_SWEEP_BATCH", 200)
	v.SetDefault("WORKER_SCHEDULER_SECONDS", 60)
	v.SetDefault("WORKER_REPUTATION_SECONDS", 60)
	v.SetDefault("ENVIRONMENT", "production")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("VERSION", VERSION)

	// Load environment file if specified
	if opts.EnvFile != "" {
		v.SetConfigName(opts.EnvFile)
		v.SetConfigType("env")

		currentPath, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("error getting current directory: %w", err)
		}

		v.AddConfigPath(currentPath)

		if err := v.ReadInConfig(); err != nil {
			// It's okay if config file doesn't exist
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	// Read environment variables
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	secretKey := v.GetString("SECRET_KEY")
	if secretKey == "" {
		return nil, fmt.Errorf("SECRET_KEY is required")
	}

	config := &Config{
		Server: ServerConfig{
			Port:        v.GetInt("SERVER_PORT"),
			Host:        v.GetString("SERVER_HOST"),
			MetricsPort: v.GetInt("METRICS_PORT"),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetInt("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			DBName:   v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
		},
		Redis: RedisConfig{
			URL: v.GetString("REDIS_URL"),
		},
		Security: SecurityConfig{
			SecretKey: secretKey,
		},
		Tracking: TrackingConfig{
			BaseURL: strings.TrimRight(v.GetString("TRACKING_BASE_URL"), "/"),
		},
		Worker: WorkerConfig{
			PoolSize:          v.GetInt("WORKER_POOL_SIZE"),
			VisibilitySeconds: v.GetInt("WORKER_VISIBILITY_SECONDS"),
			SweepSeconds:      v.GetInt("WORKER_SWEEP_SECONDS"),
			SweepBatch:        v.GetInt("WORKER_SWEEP_BATCH"),
			SchedulerSeconds:  v.GetInt("WORKER_SCHEDULER_SECONDS"),
			ReputationSeconds: v.GetInt("WORKER_REPUTATION_SECONDS"),
		},
		Environment: v.GetString("ENVIRONMENT"),
		LogLevel:    v.GetString("LOG_LEVEL"),
		Version:     v.GetString("VERSION"),
	}

	return config, nil
}

// IsDevelopment returns true if the environment is set to development
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
