// Package config provides configuration loading and validation.
package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port      string
	Env       string
	LogLevel  string
	LogFormat string

	// CORS
	AllowedOrigins []string

	// API access; an empty token disables the check.
	APIToken string

	// ServerURL is where CLI subcommands reach a running server.
	ServerURL string

	// Rate Limiting
	RateLimitRPM   int
	RateLimitBurst int

	// Paths
	DataDir   string
	LogDir    string
	TempDir   string
	OutputDir string

	// External tools
	YtDlpPath        string
	FFmpegPath       string
	SubConverterPath string
	FetchTimeout     time.Duration
	ProbeTimeout     time.Duration

	// Metadata cache
	MetadataCacheTTL time.Duration

	// Watch scheduler
	WatchEnabled      bool
	WatchPollInterval time.Duration
	WatchBatchSize    int

	// Mirror (S3 compatible)
	MirrorAccountID       string
	MirrorEndpoint        string
	MirrorRegion          string
	MirrorAccessKeyID     string
	MirrorSecretAccessKey string
	MirrorBucket          string
	MirrorPrefix          string
	MirrorMaxAge          time.Duration

	// Cleanup
	CleanupInterval time.Duration
	TempMaxAge      time.Duration
	LogMaxAge       time.Duration
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	dataDir := getEnv("DATA_DIR", "./data")
	port := getEnv("PORT", "8080")

	cfg := &Config{
		// Server
		Port:      port,
		Env:       getEnv("ENV", "development"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		// CORS
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),

		APIToken:  getEnv("API_TOKEN", ""),
		ServerURL: getEnv("SERVER_URL", "http://localhost:"+port),

		// Rate Limiting
		RateLimitRPM:   getEnvInt("RATE_LIMIT_RPM", 120),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 20),

		// Paths
		DataDir:   dataDir,
		LogDir:    getEnv("LOG_DIR", "logs"),
		TempDir:   getEnv("TEMP_DIR", "./tmp"),
		OutputDir: getEnv("OUTPUT_DIR", "yt"),

		// External tools
		YtDlpPath:        getEnv("YTDLP_PATH", "yt-dlp"),
		FFmpegPath:       getEnv("FFMPEG_PATH", ""),
		SubConverterPath: getEnv("SUBCONVERTER_PATH", "ytsubconverter"),
		FetchTimeout:     getEnvDuration("FETCH_TIMEOUT", 6*time.Hour),
		ProbeTimeout:     getEnvDuration("PROBE_TIMEOUT", 5*time.Minute),

		MetadataCacheTTL: getEnvDuration("METADATA_CACHE_TTL", time.Hour),

		// Watch scheduler
		WatchEnabled:      getEnvBool("WATCH_ENABLED", false),
		WatchPollInterval: getEnvDuration("WATCH_POLL_INTERVAL", 120*time.Second),
		WatchBatchSize:    getEnvInt("WATCH_BATCH_SIZE", 3),

		// Mirror
		MirrorAccountID:       getEnv("MIRROR_ACCOUNT_ID", ""),
		MirrorEndpoint:        getEnv("MIRROR_ENDPOINT", ""),
		MirrorRegion:          getEnv("MIRROR_REGION", "auto"),
		MirrorAccessKeyID:     getEnv("MIRROR_ACCESS_KEY_ID", ""),
		MirrorSecretAccessKey: getEnv("MIRROR_SECRET_ACCESS_KEY", ""),
		MirrorBucket:          getEnv("MIRROR_BUCKET", ""),
		MirrorPrefix:          getEnv("MIRROR_PREFIX", ""),
		MirrorMaxAge:          getEnvDuration("MIRROR_MAX_AGE", 0),

		// Cleanup
		CleanupInterval: getEnvDuration("CLEANUP_INTERVAL", 30*time.Minute),
		TempMaxAge:      getEnvDuration("TEMP_MAX_AGE", 24*time.Hour),
		LogMaxAge:       getEnvDuration("LOG_MAX_AGE", 30*24*time.Hour),
	}

	return cfg, nil
}

// JobsFile is the path of the persisted job table.
func (c *Config) JobsFile() string {
	return filepath.Join(c.DataDir, "jobs.json")
}

// WatchlistFile is the path of the watchlist database.
func (c *Config) WatchlistFile() string {
	return filepath.Join(c.DataDir, "watchlist.db")
}

// MirrorEnabled reports whether mirror credentials and a bucket are set.
func (c *Config) MirrorEnabled() bool {
	return c.MirrorBucket != "" && c.MirrorAccessKeyID != "" && c.MirrorSecretAccessKey != ""
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s", "2h") or a bare number of
// seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
