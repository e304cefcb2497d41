package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultListenAddr       = ":8080"
	defaultDBPath           = "arbiter.db"
	defaultParticipationBps = 9000
	defaultContentBps       = 9000
	defaultRegistryTimeout  = 5 * time.Second
	defaultSweepInterval    = 30 * time.Second
	defaultOperatorsFile    = "operators.json"

	envListenAddr       = "ARBITER_LISTEN_ADDR"
	envDBPath           = "ARBITER_DB_PATH"
	envLogLevel         = "ARBITER_LOG_LEVEL"
	envParticipationBps = "ARBITER_PARTICIPATION_BPS"
	envContentBps       = "ARBITER_CONTENT_BPS"
	envRegistryURL      = "ARBITER_REGISTRY_URL"
	envRegistryTimeoutS = "ARBITER_REGISTRY_TIMEOUT_S"
	envOperatorsFile    = "ARBITER_OPERATORS_FILE"
	envSweepIntervalS   = "ARBITER_SWEEP_INTERVAL_S"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level

	// Consensus thresholds in basis points (9000 = 90%).
	ParticipationBps int
	ContentBps       int

	// RegistryURL selects the external HTTP operator registry. When empty,
	// the static registry at OperatorsFile is used instead.
	RegistryURL     string
	RegistryTimeout time.Duration
	OperatorsFile   string

	// SweepInterval is how often ready tasks are re-evaluated out-of-band.
	// Zero or negative disables the sweeper.
	SweepInterval time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg := Config{
		ListenAddr:       defaultListenAddr,
		DBPath:           defaultDBPath,
		LogLevel:         slog.LevelInfo,
		ParticipationBps: defaultParticipationBps,
		ContentBps:       defaultContentBps,
		RegistryTimeout:  defaultRegistryTimeout,
		OperatorsFile:    defaultOperatorsFile,
		SweepInterval:    defaultSweepInterval,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := parseBps(os.Getenv(envParticipationBps)); v > 0 {
		cfg.ParticipationBps = v
	}
	if v := parseBps(os.Getenv(envContentBps)); v > 0 {
		cfg.ContentBps = v
	}
	if v := os.Getenv(envRegistryURL); v != "" {
		cfg.RegistryURL = v
	}
	if v := parseSeconds(os.Getenv(envRegistryTimeoutS)); v > 0 {
		cfg.RegistryTimeout = v
	}
	if v := os.Getenv(envOperatorsFile); v != "" {
		cfg.OperatorsFile = v
	}
	if v, ok := parseSecondsSet(os.Getenv(envSweepIntervalS)); ok {
		cfg.SweepInterval = v
	}

	return cfg
}

// parseBps parses a basis-point value, rejecting anything outside (0, 10000].
func parseBps(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 || v > 10000 {
		return 0
	}
	return v
}

func parseSeconds(s string) time.Duration {
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return 0
	}
	return time.Duration(v) * time.Second
}

// parseSecondsSet distinguishes "unset" from an explicit zero, so the sweep
// interval can be disabled with ARBITER_SWEEP_INTERVAL_S=0.
func parseSecondsSet(s string) (time.Duration, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, false
	}
	return time.Duration(v) * time.Second, true
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
