package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the realtime server settings.
type Config struct {
	Port           string
	RedisURL       string
	DatabaseURL    string
	AMQPURI        string
	AMQPExchange   string
	AMQPQueue      string
	JWTSecret      string
	JWTIssuer      string
	JWKSURL        string
	LogLevel       string
	LogFormat      string
	AllowedOrigins []string
	ConsultRoomTTL time.Duration
}

// ClientConfig holds the settings used by the realtime client SDK and the
// rtclient command.
type ClientConfig struct {
	APIBaseURL        string
	SocketURL         string
	Token             string
	ReconnectDelay    time.Duration
	ReconnectAttempts int
	LogLevel          string
}

func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		RedisURL:       getEnv("REDIS_URL", ""),
		DatabaseURL:    getEnv("DATABASE_URL", "postgres://localhost:5432/eyecare?sslmode=disable"),
		AMQPURI:        getEnv("AMQP_URI", ""),
		AMQPExchange:   getEnv("AMQP_EXCHANGE", "eyecare"),
		AMQPQueue:      getEnv("AMQP_QUEUE", "eyecare-realtime"),
		JWTSecret:      getEnv("JWT_SECRET", ""),
		JWTIssuer:      getEnv("JWT_ISSUER", ""),
		JWKSURL:        getEnv("JWKS_URL", ""),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "text"),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS"),
		ConsultRoomTTL: getEnvDuration("CONSULT_ROOM_TTL", 2*time.Hour),
	}
}

func LoadClient() *ClientConfig {
	return &ClientConfig{
		APIBaseURL:        getEnv("API_BASE_URL", "http://localhost:8080/api"),
		SocketURL:         getEnv("SOCKET_URL", "ws://localhost:8080/ws"),
		Token:             getEnv("AUTH_TOKEN", ""),
		ReconnectDelay:    getEnvDuration("RECONNECT_DELAY", time.Second),
		ReconnectAttempts: getEnvInt("RECONNECT_ATTEMPTS", 5),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvList splits a comma separated variable, dropping empty entries.
func getEnvList(key string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
