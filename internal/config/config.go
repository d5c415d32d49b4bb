package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port                     string
	AllowedOrigin            string
	DatabaseURL              string
	RedisAddr                string
	RedisPassword            string
	RedisDB                  int
	MenuCacheTTLSeconds      int
	AuthSecret               string
	AccessTokenTTLMinutes    int
	AMQPURL                  string
	AMQPExchange             string
	NotifyWorkers            int
	NotifyMaxAttempts        int
	RecurringIntervalMinutes int
	LogLevel                 string
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	cfg := Config{
		Port:                     getEnv("PORT", "8080"),
		AllowedOrigin:            getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:              os.Getenv("DATABASE_URL"),
		RedisAddr:                os.Getenv("REDIS_ADDR"),
		RedisPassword:            os.Getenv("REDIS_PASSWORD"),
		RedisDB:                  redisDB,
		MenuCacheTTLSeconds:      getPositiveInt("MENU_CACHE_TTL_SECONDS", 30),
		AuthSecret:               strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:    getPositiveInt("ACCESS_TOKEN_TTL_MINUTES", 480),
		AMQPURL:                  strings.TrimSpace(os.Getenv("AMQP_URL")),
		AMQPExchange:             getEnv("AMQP_EXCHANGE", "orders_topic"),
		NotifyWorkers:            getPositiveInt("NOTIFY_WORKERS", 4),
		NotifyMaxAttempts:        getPositiveInt("NOTIFY_MAX_ATTEMPTS", 5),
		RecurringIntervalMinutes: getPositiveInt("RECURRING_INTERVAL_MINUTES", 60),
		LogLevel:                 getEnv("LOG_LEVEL", "info"),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getPositiveInt(key string, fallback int) int {
	val, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || val < 1 {
		return fallback
	}
	return val
}
