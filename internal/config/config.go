package config

import (
	"fmt"
	"log"
	"os"
	"time"
)

// App holds the runtime configuration loaded from environment variables.
type App struct {
	Env              string
	HTTPPort         string
	MongoURI         string
	MongoDatabase    string
	RedisAddr        string
	JWTIssuer        string
	JWTSigningKey    string
	TokenTTL         time.Duration
	EditWindow       time.Duration
	BroadcastBackend string
	RateLimitPerMin  int
}

// Load returns application config populated from environment variables with sensible defaults.
func Load() App {
	return App{
		Env:              getEnv("APP_ENV", "dev"),
		HTTPPort:         getEnv("HTTP_PORT", "8081"),
		MongoURI:         getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:    getEnv("MONGO_DB", "rollcall"),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		JWTIssuer:        getEnv("JWT_ISSUER", "rollcall"),
		JWTSigningKey:    getEnv("JWT_SIGNING_KEY", "dev-signing-secret-change"),
		TokenTTL:         durationEnv("TOKEN_TTL", 24*time.Hour),
		EditWindow:       durationEnv("ATTENDANCE_EDIT_WINDOW", 24*time.Hour),
		BroadcastBackend: getEnv("BROADCAST_BACKEND", "redis"),
		RateLimitPerMin:  intEnv("RATE_LIMIT_PER_MIN", 120),
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			log.Printf("invalid duration for %s: %v, using fallback %s", key, err, fallback)
			return fallback
		}
		return d
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
		log.Printf("invalid int for %s, using fallback %d", key, fallback)
	}
	return fallback
}
