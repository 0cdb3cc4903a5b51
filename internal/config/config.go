package config

import (
	"os"
	"strconv"
)

type Config struct {
	Addr string

	// Storage driver: "postgres" or "sqlite".
	DBDriver    string
	PostgresDSN string
	SQLiteDSN   string

	RedisURL      string
	SessionCookie string

	// How long an offline user's last-seen survives in the shared store.
	LastSeenTTLDays int

	AllowedOrigin string
	LogLevel      string
	LogFormat     string
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val != "" {
		return val
	}
	return def
}

func MustLoad() Config {
	lastSeenDays, _ := strconv.Atoi(getenv("LAST_SEEN_TTL_DAYS", "30"))

	cfg := Config{
		Addr:            getenv("HTTP_ADDR", ":8085"),
		DBDriver:        getenv("DB_DRIVER", "sqlite"),
		PostgresDSN:     getenv("POSTGRES_DSN", ""),
		SQLiteDSN:       getenv("SQLITE_DSN", "file:chat.db?_pragma=foreign_keys(ON)"),
		RedisURL:        getenv("REDIS_URL", "redis://localhost:6379/0"),
		SessionCookie:   getenv("SESSION_COOKIE", "sid"),
		LastSeenTTLDays: lastSeenDays,
		AllowedOrigin:   getenv("ALLOWED_ORIGIN", "http://localhost:3000"),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		LogFormat:       getenv("LOG_FORMAT", "text"),
	}
	return cfg
}
