package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv string
	Port   string

	// Model checkout and runtime.
	MuseTalkPath string
	PythonBin    string

	// Assets and transient storage.
	AvatarVideoPath string
	AvatarDir       string
	TempDir         string
	JobsDBPath      string

	// External encoding tools.
	FFmpegPath  string
	FFprobePath string

	// Admission policy.
	MaxInflight    int
	QueueDepth     int
	QueueWait      time.Duration
	RequestTimeout time.Duration

	JobRetention    time.Duration
	RateLimitPerMin int
	MaxAudioBytes   int64

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies
// defaults where needed. Missing required values are startup failures.
func LoadConfig() (*Config, error) {
	tempRoot := getEnv("TEMP_DIR", filepath.Join(os.TempDir(), "lipsync"))

	cfg := &Config{
		AppEnv: getEnv("APP_ENV", "development"),
		Port:   getEnv("PORT", "8080"),

		MuseTalkPath: os.Getenv("MUSETALK_PATH"),
		PythonBin:    getEnv("PYTHON_BIN", "python3"),

		AvatarVideoPath: os.Getenv("AVATAR_VIDEO_PATH"),
		AvatarDir:       os.Getenv("AVATAR_DIR"),
		TempDir:         tempRoot,
		JobsDBPath:      getEnv("JOBS_DB_PATH", filepath.Join(tempRoot, "jobs.db")),

		FFmpegPath:  getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath: getEnv("FFPROBE_PATH", "ffprobe"),

		MaxInflight:    getEnvInt("MAX_INFLIGHT", 1),
		QueueDepth:     getEnvInt("QUEUE_DEPTH", 8),
		QueueWait:      time.Second * time.Duration(getEnvInt("QUEUE_WAIT_SECONDS", 10)),
		RequestTimeout: time.Second * time.Duration(getEnvInt("REQUEST_TIMEOUT_SECONDS", 900)),

		JobRetention:    time.Hour * time.Duration(getEnvInt("JOB_RETENTION_HOURS", 24)),
		RateLimitPerMin: getEnvInt("RATE_LIMIT_PER_MINUTE", 0),
		MaxAudioBytes:   int64(getEnvInt("MAX_AUDIO_MB", 32)) << 20,

		HTTPReadTimeout: time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 60)),
		HTTPIdleTimeout: time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	// The response cannot be written until inference finishes, so the write
	// timeout has to outlive the request deadline.
	defaultWrite := int(cfg.RequestTimeout/time.Second) + 60
	cfg.HTTPWriteTimeout = time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", defaultWrite))

	if cfg.MuseTalkPath == "" {
		return nil, fmt.Errorf("MUSETALK_PATH is required")
	}
	if cfg.AvatarVideoPath == "" {
		return nil, fmt.Errorf("AVATAR_VIDEO_PATH is required")
	}
	if cfg.MaxInflight < 1 {
		return nil, fmt.Errorf("MAX_INFLIGHT must be at least 1")
	}
	if cfg.QueueDepth < 0 {
		return nil, fmt.Errorf("QUEUE_DEPTH must not be negative")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
