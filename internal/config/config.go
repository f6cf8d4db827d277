package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	DBPath     string
	RawMailDir string
	OutputDir  string

	TMSAPIBaseURL          string
	TMSAPIToken            string
	TMSRateLimitRPS        int
	TMSTimeoutMs           int
	IncrementalLookbackHrs int

	StateTablePath string

	WorkerPoolSize       int
	RunBatchSize         int
	ValidateAfterResolve bool
	ContainerRecentDays  int

	WorkerIntervalSec int
	WorkerAutoExport  bool

	LogLevel string
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		DBPath:     getEnv("DB_PATH", filepath.Join(cwd, "data", "app.db")),
		RawMailDir: getEnv("MAIL_RAW_DIR", filepath.Join(cwd, "data", "raw")),
		OutputDir:  getEnv("OUTPUT_DIR", filepath.Join(cwd, "out")),

		TMSAPIBaseURL:          getEnv("TMS_API_BASE_URL", ""),
		TMSAPIToken:            getEnv("TMS_API_TOKEN", ""),
		TMSRateLimitRPS:        getEnvInt("TMS_RATE_LIMIT_RPS", 5),
		TMSTimeoutMs:           getEnvInt("TMS_TIMEOUT_MS", 30000),
		IncrementalLookbackHrs: getEnvInt("TMS_INCREMENTAL_HOURS", 24),

		StateTablePath: getEnv("STATE_TABLE_PATH", ""),

		WorkerPoolSize:       getEnvInt("WORKER_POOL_SIZE", 4),
		RunBatchSize:         getEnvInt("RUN_BATCH_SIZE", 200),
		ValidateAfterResolve: getEnvBool("VALIDATE_AFTER_RESOLVE", true),
		ContainerRecentDays:  getEnvInt("CONTAINER_RECENT_DAYS", 90),

		WorkerIntervalSec: getEnvInt("WORKER_INTERVAL_SEC", 60),
		WorkerAutoExport:  getEnvBool("WORKER_AUTO_EXPORT", false),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

func (c Config) Require(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("missing required env var: %s", name)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.ToLower(strings.TrimSpace(getEnv(key, "")))
	if value == "" {
		return fallback
	}
	if value == "1" || value == "true" || value == "yes" || value == "on" {
		return true
	}
	if value == "0" || value == "false" || value == "no" || value == "off" {
		return false
	}
	return fallback
}
