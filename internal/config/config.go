package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	ResultCacheCapacity   int
	ResultCacheTTLSeconds int
	FingerprintMode       string
	WorkerCount           int
	ImportLockTTLSeconds  int
	AuthSecret            string
	AccessTokenTTLMinutes int
	LogLevel              string
	LogFormat             string
}

func Load() Config {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		logrus.WithField("module", "config").Debugf(".env file not found, using environment variables: %v", err)
	}

	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGIN", "http://127.0.0.1:3000")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("RESULT_CACHE_CAPACITY", 100)
	v.SetDefault("RESULT_CACHE_TTL_SECONDS", 600)
	v.SetDefault("FINGERPRINT_MODE", "summary")
	v.SetDefault("WORKER_COUNT", 2)
	v.SetDefault("IMPORT_LOCK_TTL_SECONDS", 60)
	v.SetDefault("AUTH_SECRET", "")
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 480)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	return Config{
		Port:                  v.GetString("PORT"),
		AllowedOrigin:         v.GetString("ALLOWED_ORIGIN"),
		DatabaseURL:           strings.TrimSpace(v.GetString("DATABASE_URL")),
		RedisAddr:             strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword:         v.GetString("REDIS_PASSWORD"),
		RedisDB:               v.GetInt("REDIS_DB"),
		ResultCacheCapacity:   atLeast(v.GetInt("RESULT_CACHE_CAPACITY"), 1, 100),
		ResultCacheTTLSeconds: atLeast(v.GetInt("RESULT_CACHE_TTL_SECONDS"), 1, 600),
		FingerprintMode:       strings.ToLower(strings.TrimSpace(v.GetString("FINGERPRINT_MODE"))),
		WorkerCount:           atLeast(v.GetInt("WORKER_COUNT"), 0, 2),
		ImportLockTTLSeconds:  atLeast(v.GetInt("IMPORT_LOCK_TTL_SECONDS"), 1, 60),
		AuthSecret:            strings.TrimSpace(v.GetString("AUTH_SECRET")),
		AccessTokenTTLMinutes: atLeast(v.GetInt("ACCESS_TOKEN_TTL_MINUTES"), 1, 480),
		LogLevel:              v.GetString("LOG_LEVEL"),
		LogFormat:             v.GetString("LOG_FORMAT"),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// NewLogger builds the process logger. Unknown levels fall back to info.
func NewLogger(level string, format string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	if strings.EqualFold(strings.TrimSpace(format), "text") {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	parsed, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
	return logger
}

func atLeast(value int, min int, fallback int) int {
	if value < min {
		return fallback
	}
	return value
}
