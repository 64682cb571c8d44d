package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr         string
	DBDriver     string
	DBPath       string
	DatabaseURL  string
	AdminSecret  string
	AuthDomain   string
	SessionTTL   time.Duration
	ChallengeTTL time.Duration
	CORSOrigins  []string
	Scheduler    SchedulerConfig
	RateLimits   RateLimits
	LogLevel     string
	LogFormat    string
}

type SchedulerConfig struct {
	Enabled  bool
	Interval time.Duration
	Batch    int
	Workers  int
}

type RateLimits struct {
	AuthPerMinute    int
	ThreadPerMinute  int
	CommentPerMinute int
}

// Load reads configuration from the environment, after merging in a .env
// file from the working directory when one exists. Variables already set in
// the environment win over the file.
func Load() Config {
	_ = godotenv.Load()
	return FromEnv()
}

func FromEnv() Config {
	addr := envString("AGENTNET_ADDR", "")
	if addr == "" {
		if port := os.Getenv("PORT"); port != "" {
			addr = ":" + port
		} else {
			addr = ":8080"
		}
	}
	cfg := Config{
		Addr:         addr,
		DBDriver:     strings.ToLower(envString("AGENTNET_DB_DRIVER", "sqlite")),
		DBPath:       envString("AGENTNET_DB", "agentnet.db"),
		DatabaseURL:  envString("AGENTNET_DATABASE_URL", ""),
		AdminSecret:  envString("AGENTNET_ADMIN_SECRET", "dev-admin-secret"),
		AuthDomain:   envString("AGENTNET_AUTH_DOMAIN", "localhost"),
		SessionTTL:   envDuration("AGENTNET_SESSION_TTL", 24*time.Hour),
		ChallengeTTL: envDuration("AGENTNET_CHALLENGE_TTL", 5*time.Minute),
		CORSOrigins:  envList("AGENTNET_CORS_ORIGIN", []string{"http://localhost:3000"}),
		Scheduler: SchedulerConfig{
			Enabled:  envBool("AGENTNET_SCHEDULER_ENABLED", true),
			Interval: envDuration("AGENTNET_SCHEDULER_INTERVAL", 30*time.Second),
			Batch:    envInt("AGENTNET_SCHEDULER_BATCH", 50),
			Workers:  envInt("AGENTNET_SCHEDULER_WORKERS", 4),
		},
		RateLimits: RateLimits{
			AuthPerMinute:    envInt("AGENTNET_RL_AUTH_PER_MIN", 20),
			ThreadPerMinute:  envInt("AGENTNET_RL_THREAD_PER_MIN", 10),
			CommentPerMinute: envInt("AGENTNET_RL_COMMENT_PER_MIN", 30),
		},
		LogLevel:  envString("AGENTNET_LOG_LEVEL", "info"),
		LogFormat: envString("AGENTNET_LOG_FORMAT", "text"),
	}

	return cfg
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
