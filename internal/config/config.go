package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenAddr string
	MediaDir   string
	DBPath     string

	WhisperPath     string
	WhisperModel    string
	WhisperLanguage string
	FFmpegPath      string
	ExtractTimeout  time.Duration
	KeepVideo       bool

	// JobTimeout bounds one transcription. Zero disables the limit.
	JobTimeout      time.Duration
	JobTTL          time.Duration
	CleanupInterval time.Duration

	UploadMaxBytes int64
	RateLimitRPS   float64
	CORSOrigins    []string
	LogLevel       string
}

func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:      getEnv("TRANSCRIBEQ_LISTEN_ADDR", ":8080"),
		MediaDir:        getEnv("TRANSCRIBEQ_MEDIA_DIR", "media"),
		DBPath:          getEnv("TRANSCRIBEQ_DB_PATH", "transcribeq.db"),
		WhisperPath:     getEnv("TRANSCRIBEQ_WHISPER_PATH", "whisper-cli"),
		WhisperModel:    getEnv("TRANSCRIBEQ_WHISPER_MODEL", "models/ggml-large-v3.bin"),
		WhisperLanguage: getEnv("TRANSCRIBEQ_WHISPER_LANGUAGE", ""),
		FFmpegPath:      getEnv("TRANSCRIBEQ_FFMPEG_PATH", "ffmpeg"),
		KeepVideo:       getEnv("TRANSCRIBEQ_KEEP_VIDEO", "false") == "true",
		LogLevel:        strings.ToLower(getEnv("TRANSCRIBEQ_LOG_LEVEL", "info")),
	}

	var err error
	cfg.JobTimeout, err = getEnvDuration("TRANSCRIBEQ_JOB_TIMEOUT", 0)
	if err != nil {
		return nil, fmt.Errorf("TRANSCRIBEQ_JOB_TIMEOUT: %w", err)
	}
	if cfg.JobTimeout < 0 {
		return nil, errors.New("TRANSCRIBEQ_JOB_TIMEOUT must be >= 0")
	}

	cfg.ExtractTimeout, err = getEnvDuration("TRANSCRIBEQ_EXTRACT_TIMEOUT", 60*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("TRANSCRIBEQ_EXTRACT_TIMEOUT: %w", err)
	}

	ttl, err := getEnvInt("TRANSCRIBEQ_JOB_TTL_MINUTES", 60)
	if err != nil {
		return nil, fmt.Errorf("TRANSCRIBEQ_JOB_TTL_MINUTES: %w", err)
	}
	if ttl < 1 {
		return nil, errors.New("TRANSCRIBEQ_JOB_TTL_MINUTES must be > 0")
	}
	cfg.JobTTL = time.Duration(ttl) * time.Minute

	interval, err := getEnvInt("TRANSCRIBEQ_CLEANUP_INTERVAL_MINUTES", 60)
	if err != nil {
		return nil, fmt.Errorf("TRANSCRIBEQ_CLEANUP_INTERVAL_MINUTES: %w", err)
	}
	if interval < 1 {
		return nil, errors.New("TRANSCRIBEQ_CLEANUP_INTERVAL_MINUTES must be > 0")
	}
	cfg.CleanupInterval = time.Duration(interval) * time.Minute

	maxMB, err := getEnvInt("TRANSCRIBEQ_UPLOAD_MAX_MB", 512)
	if err != nil {
		return nil, fmt.Errorf("TRANSCRIBEQ_UPLOAD_MAX_MB: %w", err)
	}
	if maxMB < 1 {
		return nil, errors.New("TRANSCRIBEQ_UPLOAD_MAX_MB must be > 0")
	}
	cfg.UploadMaxBytes = int64(maxMB) << 20

	cfg.RateLimitRPS, err = getEnvFloat("TRANSCRIBEQ_RATE_LIMIT_RPS", 0)
	if err != nil {
		return nil, fmt.Errorf("TRANSCRIBEQ_RATE_LIMIT_RPS: %w", err)
	}
	if cfg.RateLimitRPS < 0 {
		return nil, errors.New("TRANSCRIBEQ_RATE_LIMIT_RPS must be >= 0")
	}

	for _, o := range strings.Split(getEnv("TRANSCRIBEQ_CORS_ORIGINS", ""), ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, o)
		}
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("TRANSCRIBEQ_LOG_LEVEL %q must be one of: debug, info, warn, error", cfg.LogLevel)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", v)
	}
	return f, nil
}

// getEnvDuration accepts Go durations ("90s", "2h") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return d, nil
}
