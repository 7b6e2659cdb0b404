package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	JWT          JWTConfig          `mapstructure:"jwt"`
	DigitalOcean DigitalOceanConfig `mapstructure:"digitalocean"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	Sweeper      SweeperConfig      `mapstructure:"sweeper"`
	Limits       LimitsConfig       `mapstructure:"limits"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type DatabaseConfig struct {
	// Driver is "sqlite3" or "postgres".
	Driver         string `mapstructure:"driver"`
	URL            string `mapstructure:"url"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type JWTConfig struct {
	Secret          string        `mapstructure:"secret"`
	Issuer          string        `mapstructure:"issuer"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
}

type DigitalOceanConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	CatalogTTL time.Duration `mapstructure:"catalog_ttl"`
}

type RateLimitConfig struct {
	ActionsPerMinute int `mapstructure:"actions_per_minute"`
	Burst            int `mapstructure:"burst"`
}

type SweeperConfig struct {
	Schedule             string `mapstructure:"schedule"`
	BalanceCheckSchedule string `mapstructure:"balance_check_schedule"`
	TriggerToken         string `mapstructure:"trigger_token"`
}

// LimitsConfig holds the quota applied to users whose invite carried no preset.
type LimitsConfig struct {
	MaxDroplets     int      `mapstructure:"max_droplets"`
	AllowedSizes    []string `mapstructure:"allowed_sizes"`
	AutoDestroyDays int      `mapstructure:"auto_destroy_days"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.url", "file:data/cloudcompanion.db")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.issuer", "cloudcompanion")
	v.SetDefault("jwt.access_token_ttl", time.Hour)
	v.SetDefault("jwt.refresh_token_ttl", 30*24*time.Hour)
	v.SetDefault("digitalocean.base_url", "https://api.digitalocean.com/")
	v.SetDefault("digitalocean.timeout", 30*time.Second)
	v.SetDefault("digitalocean.catalog_ttl", 5*time.Minute)
	v.SetDefault("rate_limit.actions_per_minute", 120)
	v.SetDefault("rate_limit.burst", 20)
	v.SetDefault("sweeper.schedule", "@hourly")
	v.SetDefault("sweeper.balance_check_schedule", "@daily")
	v.SetDefault("sweeper.trigger_token", "")
	v.SetDefault("limits.max_droplets", 1)
	v.SetDefault("limits.auto_destroy_days", 0)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
