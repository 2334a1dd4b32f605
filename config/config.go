// Package config loads runtime configuration for the authkit commands from
// file, environment and defaults, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the authkit commands.
// Tags use mapstructure for Viper unmarshalling.
type Config struct {
	// IAMBaseURL is the root of the gradeloop IAM API.
	IAMBaseURL string `mapstructure:"IAM_BASE_URL"`

	ListenAddr   string `mapstructure:"LISTEN_ADDR"`
	CookieDomain string `mapstructure:"COOKIE_DOMAIN"`
	Insecure     bool   `mapstructure:"INSECURE"`

	AccessTokenTTL    time.Duration `mapstructure:"ACCESS_TOKEN_TTL"`
	RefreshTokenTTL   time.Duration `mapstructure:"REFRESH_TOKEN_TTL"`
	RefreshThreshold  time.Duration `mapstructure:"REFRESH_THRESHOLD"`
	InactivityTimeout time.Duration `mapstructure:"INACTIVITY_TIMEOUT"`

	// ReplayBackend selects the rotation ledger: memory, redis or mongo.
	ReplayBackend string `mapstructure:"REPLAY_BACKEND"`
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	MongoURI      string `mapstructure:"MONGO_URI"`
	MongoDBName   string `mapstructure:"MONGO_DB_NAME"`

	// AdminUser and AdminPasswordHash (bcrypt) guard the proxy's debug
	// endpoints. Empty AdminPasswordHash disables them.
	AdminUser         string `mapstructure:"ADMIN_USER"`
	AdminPasswordHash string `mapstructure:"ADMIN_PASSWORD_HASH"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogPretty bool   `mapstructure:"LOG_PRETTY"`
}

// Load reads configuration from file, environment variables, and defaults.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("authkit")
	v.SetConfigType("yaml")

	v.AddConfigPath("/etc/gradeloop/")
	v.AddConfigPath("$HOME/.gradeloop")
	v.AddConfigPath(".")

	v.SetEnvPrefix("GL")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("IAM_BASE_URL", "http://localhost:8080/api/v1")
	v.SetDefault("LISTEN_ADDR", ":8443")
	v.SetDefault("COOKIE_DOMAIN", "")
	v.SetDefault("INSECURE", false)
	v.SetDefault("ACCESS_TOKEN_TTL", 15*time.Minute)
	v.SetDefault("REFRESH_TOKEN_TTL", 30*24*time.Hour)
	v.SetDefault("REFRESH_THRESHOLD", 5*time.Minute)
	v.SetDefault("INACTIVITY_TIMEOUT", 30*time.Minute)
	v.SetDefault("REPLAY_BACKEND", "memory")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017/gradeloop_auth")
	v.SetDefault("MONGO_DB_NAME", "gradeloop_auth")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; env and defaults carry it.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}
