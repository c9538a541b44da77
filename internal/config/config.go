package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Live     LiveConfig     `yaml:"live"`
	Activity ActivityConfig `yaml:"activity"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `yaml:"port" env:"SERVER_PORT"`
	Interface    string        `yaml:"interface" env:"SERVER_INTERFACE"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT"`
	StaticDir    string        `yaml:"static_dir" env:"SERVER_STATIC_DIR"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	MySQL MySQLConfig `yaml:"mysql"`
	Redis RedisConfig `yaml:"redis"`
}

// MySQLConfig holds MySQL configuration
type MySQLConfig struct {
	Host     string `yaml:"host" env:"MYSQL_HOST"`
	Port     string `yaml:"port" env:"MYSQL_PORT"`
	User     string `yaml:"user" env:"MYSQL_USER"`
	Password string `yaml:"password" env:"MYSQL_PASSWORD"`
	Database string `yaml:"database" env:"MYSQL_DATABASE"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" env:"REDIS_ENABLED"`
	Host     string `yaml:"host" env:"REDIS_HOST"`
	Port     string `yaml:"port" env:"REDIS_PORT"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
}

// LiveConfig holds live-session tuning for the WebSocket layer
type LiveConfig struct {
	// Minimum interval between admitted slider events per session
	SliderAdmitInterval time.Duration `yaml:"slider_admit_interval" env:"LIVE_SLIDER_ADMIT_INTERVAL"`
	// Minimum interval between slider activity broadcasts per session
	ActivityBroadcastInterval time.Duration `yaml:"activity_broadcast_interval" env:"LIVE_ACTIVITY_BROADCAST_INTERVAL"`
	// Minimum interval between slider state-update broadcasts per session
	StateBroadcastInterval time.Duration `yaml:"state_broadcast_interval" env:"LIVE_STATE_BROADCAST_INTERVAL"`
	// Cadence of the ghost-session sweep
	ReconcileInterval time.Duration `yaml:"reconcile_interval" env:"LIVE_RECONCILE_INTERVAL"`
	// Cadence of the unconditional presence re-broadcast
	PresenceRefreshInterval time.Duration `yaml:"presence_refresh_interval" env:"LIVE_PRESENCE_REFRESH_INTERVAL"`
	// Sessions idle longer than this with a dead transport are evicted
	StaleAfter time.Duration `yaml:"stale_after" env:"LIVE_STALE_AFTER"`
	// Number of recent recommendations sent to a newly connected client
	SeedRecommendations int `yaml:"seed_recommendations" env:"LIVE_SEED_RECOMMENDATIONS"`
}

// ActivityConfig holds activity feed configuration
type ActivityConfig struct {
	// Maximum number of retained activity records
	HistorySize int `yaml:"history_size" env:"ACTIVITY_HISTORY_SIZE"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level" env:"LOGGING_LEVEL"`
	IsDev            bool   `yaml:"is_dev" env:"LOGGING_IS_DEV"`
	LogDir           string `yaml:"log_dir" env:"LOGGING_LOG_DIR"`
	MaxAgeDays       int    `yaml:"max_age_days" env:"LOGGING_MAX_AGE_DAYS"`
	MaxSizeMB        int    `yaml:"max_size_mb" env:"LOGGING_MAX_SIZE_MB"`
	MaxBackups       int    `yaml:"max_backups" env:"LOGGING_MAX_BACKUPS"`
	AlsoLogToConsole bool   `yaml:"also_log_to_console" env:"LOGGING_ALSO_LOG_TO_CONSOLE"`
}

// Load loads configuration from YAML file with environment variable overrides
func Load(configFile string) (*Config, error) {
	config := getDefaultConfig()

	if configFile != "" {
		if err := loadFromYAML(config, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config from YAML: %w", err)
		}
	}

	if err := overrideWithEnv(config); err != nil {
		return nil, fmt.Errorf("failed to override with environment variables: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// getDefaultConfig returns a configuration with default values
func getDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "3000",
			Interface:    "0.0.0.0",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
			StaticDir:    "static",
		},
		Database: DatabaseConfig{
			MySQL: MySQLConfig{
				Host:     "localhost",
				Port:     "3306",
				User:     "root",
				Password: "",
				Database: "perception_db",
			},
			Redis: RedisConfig{
				Enabled:  true,
				Host:     "localhost",
				Port:     "6379",
				Password: "",
				DB:       0,
			},
		},
		Live: LiveConfig{
			SliderAdmitInterval:       300 * time.Millisecond,
			ActivityBroadcastInterval: 1 * time.Second,
			StateBroadcastInterval:    2 * time.Second,
			ReconcileInterval:         time.Minute,
			PresenceRefreshInterval:   15 * time.Second,
			StaleAfter:                2 * time.Minute,
			SeedRecommendations:       10,
		},
		Activity: ActivityConfig{
			HistorySize: 50,
		},
		Logging: LoggingConfig{
			Level:            "info",
			IsDev:            true,
			LogDir:           "logs",
			MaxAgeDays:       7,
			MaxSizeMB:        100,
			MaxBackups:       10,
			AlsoLogToConsole: true,
		},
	}
}

// loadFromYAML loads configuration from a YAML file
func loadFromYAML(config *Config, filename string) error {
	data, err := os.ReadFile(filename) // #nosec G304
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return nil
}

// overrideWithEnv overrides configuration values with environment variables
func overrideWithEnv(config *Config) error {
	return overrideStructWithEnv(reflect.ValueOf(config).Elem())
}

// overrideStructWithEnv recursively overrides struct fields with environment variables
func overrideStructWithEnv(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// Skip unexported fields
		if !field.CanSet() {
			continue
		}

		// Handle nested structs
		if field.Kind() == reflect.Struct {
			if err := overrideStructWithEnv(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		envValue := os.Getenv(envTag)
		if envValue == "" {
			continue
		}

		if err := setFieldFromString(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s from env %s: %w", fieldType.Name, envTag, err)
		}
	}

	return nil
}

// setFieldFromString sets a struct field value from a string based on the field type
func setFieldFromString(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid bool value: %s", value)
		}
		field.SetBool(boolVal)
	case reflect.Int:
		intVal, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid int value: %s", value)
		}
		field.SetInt(int64(intVal))
	case reflect.Int64:
		// Handle time.Duration specially
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			duration, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration value: %s", value)
			}
			field.SetInt(int64(duration))
		} else {
			intVal, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid int64 value: %s", value)
			}
			field.SetInt(intVal)
		}
	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks the configuration for correctness
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		return fmt.Errorf("server port must be numeric: %s", c.Server.Port)
	}
	if c.Database.MySQL.Host == "" {
		return fmt.Errorf("mysql host is required")
	}
	if c.Database.MySQL.Database == "" {
		return fmt.Errorf("mysql database name is required")
	}
	if c.Live.SliderAdmitInterval <= 0 {
		return fmt.Errorf("slider admit interval must be positive")
	}
	if c.Live.ActivityBroadcastInterval < c.Live.SliderAdmitInterval {
		return fmt.Errorf("activity broadcast interval must not be shorter than the admit interval")
	}
	if c.Live.StateBroadcastInterval <= 0 {
		return fmt.Errorf("state broadcast interval must be positive")
	}
	if c.Live.ReconcileInterval <= 0 {
		return fmt.Errorf("reconcile interval must be positive")
	}
	if c.Live.PresenceRefreshInterval <= 0 {
		return fmt.Errorf("presence refresh interval must be positive")
	}
	if c.Live.StaleAfter <= 0 {
		return fmt.Errorf("stale threshold must be positive")
	}
	if c.Activity.HistorySize <= 0 {
		return fmt.Errorf("activity history size must be positive")
	}
	return nil
}

// DSN returns the MySQL connection string
func (c *MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// Addr returns the host:port address for Redis
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// ListenAddr returns the interface:port address for the HTTP listener
func (c *ServerConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%s", c.Interface, c.Port)
}
