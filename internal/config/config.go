package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds every knob the api binary needs. Loaded once in main and
// passed down explicitly; nothing reads the environment after startup.
type Config struct {
	HTTPAddr string
	PGDSN    string

	TokenSecret string
	AccessTTL   time.Duration
	RefreshTTL  time.Duration

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	SessionGCInterval  time.Duration
	SessionGCRetention time.Duration

	RateLimitPerSecond int
	RateLimitBurst     int

	AskQuotaLimit  int
	AskQuotaWindow time.Duration
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("invalid duration for %s, using default: %v", key, err)
		return def
	}
	return d
}

func getInt(key string, def int) int {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("invalid int for %s, using default: %v", key, err)
		return def
	}
	return i
}

// Load reads configuration from the environment with development defaults.
func Load() Config {
	return Config{
		HTTPAddr:           getenv("INSIGHT_HTTP_ADDR", ":8080"),
		PGDSN:              getenv("INSIGHT_PG_DSN", ""),
		TokenSecret:        getenv("INSIGHT_TOKEN_SECRET", ""),
		AccessTTL:          getDuration("INSIGHT_ACCESS_TTL", 15*time.Minute),
		RefreshTTL:         getDuration("INSIGHT_REFRESH_TTL", 30*24*time.Hour),
		GoogleClientID:     getenv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getenv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getenv("GOOGLE_REDIRECT_URL", "http://localhost:8080/v1/auth/google/callback"),
		SessionGCInterval:  getDuration("INSIGHT_SESSION_GC_INTERVAL", time.Hour),
		SessionGCRetention: getDuration("INSIGHT_SESSION_GC_RETENTION", 72*time.Hour),
		RateLimitPerSecond: getInt("INSIGHT_RATE_LIMIT_RPS", 20),
		RateLimitBurst:     getInt("INSIGHT_RATE_LIMIT_BURST", 40),
		AskQuotaLimit:      getInt("INSIGHT_ASK_QUOTA_LIMIT", 20),
		AskQuotaWindow:     getDuration("INSIGHT_ASK_QUOTA_WINDOW", 24*time.Hour),
	}
}
