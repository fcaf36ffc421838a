package config

import (
	"os"
	"strconv"
)

type Config struct {
	LogLevel string
	HTTPPort int

	// StoreBackend selects the document-store adapter: memory, redis or mysql.
	StoreBackend string
	RedisAddr    string

	// RabbitURL enables event publishing when non-empty.
	RabbitURL      string
	RabbitExchange string

	// ServiceFeeMinor is the fixed per-order fee in minor currency units.
	ServiceFeeMinor int64
}

func Load() Config {
	return Config{
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		HTTPPort:        getEnvInt("HTTP_PORT", 8080),
		StoreBackend:    getEnv("STORE_BACKEND", "memory"),
		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		RabbitURL:       getEnv("RABBITMQ_URL", ""),
		RabbitExchange:  getEnv("RABBITMQ_EXCHANGE", "order.exchange"),
		ServiceFeeMinor: int64(getEnvInt("SERVICE_FEE_MINOR", 0)),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
