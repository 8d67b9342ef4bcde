package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type APIConfig struct {
	Addr            string
	DatabaseURL     string
	SupabaseURL     string
	SupabaseAnonKey string
	DBMaxConns      int32
	RequestTimeout  time.Duration
	RoundCheckEvery time.Duration
	NotifyChannel   string
	MonitorEnabled  bool
	AutoMigrate     bool
	// AllowedOrigins lists the browser origins the monitor websocket accepts.
	// Empty means same-origin only; "*" accepts any origin.
	AllowedOrigins []string
}

// WorkerConfig is what the round clock needs. It never talks to GoTrue, so
// the Supabase auth keys are not required.
type WorkerConfig struct {
	DatabaseURL     string
	DBMaxConns      int32
	RoundCheckEvery time.Duration
	NotifyChannel   string
	RunOnce         bool
}

type CLIConfig struct {
	APIBaseURL string
	DraftsPath string
}

func LoadAPIFromEnv() (APIConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("EMPIRION_API_ADDR", ":8080")
	}

	cfg := APIConfig{
		Addr:            addr,
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SupabaseURL:     strings.TrimRight(strings.TrimSpace(os.Getenv("SUPABASE_URL")), "/"),
		SupabaseAnonKey: strings.TrimSpace(os.Getenv("SUPABASE_ANON_KEY")),
		DBMaxConns:      int32(envIntDefault("EMPIRION_DB_MAX_CONNS", 20)),
		RequestTimeout:  envDurationDefault("EMPIRION_REQUEST_TIMEOUT", 60*time.Second),
		RoundCheckEvery: envDurationDefault("EMPIRION_ROUND_CHECK_EVERY", time.Minute),
		NotifyChannel:   envDefault("EMPIRION_NOTIFY_CHANNEL", "empirion_decisions"),
		MonitorEnabled:  envBoolDefault("EMPIRION_MONITOR_ENABLED", true),
		AutoMigrate:     envBoolDefault("EMPIRION_AUTO_MIGRATE", false),
		AllowedOrigins:  splitList(envDefault("EMPIRION_ALLOWED_ORIGIN", "")),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.SupabaseURL == "" {
		return cfg, fmt.Errorf("SUPABASE_URL is required")
	}
	if cfg.SupabaseAnonKey == "" {
		return cfg, fmt.Errorf("SUPABASE_ANON_KEY is required")
	}
	if cfg.DBMaxConns < 2 {
		cfg.DBMaxConns = 2
	}
	return cfg, nil
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	cfg := WorkerConfig{
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBMaxConns:      int32(envIntDefault("EMPIRION_WORKER_DB_MAX_CONNS", 4)),
		RoundCheckEvery: envDurationDefault("EMPIRION_ROUND_CHECK_EVERY", time.Minute),
		NotifyChannel:   envDefault("EMPIRION_NOTIFY_CHANNEL", "empirion_decisions"),
		RunOnce:         envBoolDefault("EMPIRION_WORKER_RUN_ONCE", false),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.DBMaxConns < 1 {
		cfg.DBMaxConns = 1
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	drafts := strings.TrimSpace(os.Getenv("EMPIRION_DRAFTS_PATH"))
	if drafts == "" {
		if home, err := os.UserHomeDir(); err == nil {
			drafts = filepath.Join(home, ".empirion", "drafts.db")
		} else {
			drafts = "empirion-drafts.db"
		}
	}
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("EMPIRION_API_BASE_URL", "http://localhost:8080"), "/"),
		DraftsPath: drafts,
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// splitList parses a comma separated env value, dropping blanks.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.TrimRight(part, "/"))
		}
	}
	return out
}
