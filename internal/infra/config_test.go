package infra

import (
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("MUSETALK_PATH", "/opt/musetalk")
	t.Setenv("AVATAR_VIDEO_PATH", "/opt/assets/avatar.mp4")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "")
	t.Setenv("TEMP_DIR", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.MaxInflight != 1 {
		t.Fatalf("MaxInflight = %d, want 1", cfg.MaxInflight)
	}
	if cfg.QueueDepth != 8 {
		t.Fatalf("QueueDepth = %d, want 8", cfg.QueueDepth)
	}
	if cfg.RequestTimeout != 900*time.Second {
		t.Fatalf("RequestTimeout = %s, want 15m", cfg.RequestTimeout)
	}
	if cfg.PythonBin != "python3" {
		t.Fatalf("PythonBin = %q, want python3", cfg.PythonBin)
	}
	if cfg.MaxAudioBytes != 32<<20 {
		t.Fatalf("MaxAudioBytes = %d, want 32 MiB", cfg.MaxAudioBytes)
	}
}

func TestLoadConfigWriteTimeoutCoversRequestTimeout(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("REQUEST_TIMEOUT_SECONDS", "120")
	t.Setenv("HTTP_WRITE_TIMEOUT_SECONDS", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.HTTPWriteTimeout <= cfg.RequestTimeout {
		t.Fatalf("write timeout %s does not cover request timeout %s",
			cfg.HTTPWriteTimeout, cfg.RequestTimeout)
	}
}

func TestLoadConfigRequiresModelPath(t *testing.T) {
	t.Setenv("MUSETALK_PATH", "")
	t.Setenv("AVATAR_VIDEO_PATH", "/opt/assets/avatar.mp4")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error when MUSETALK_PATH is unset")
	}
}

func TestLoadConfigRequiresAvatarPath(t *testing.T) {
	t.Setenv("MUSETALK_PATH", "/opt/musetalk")
	t.Setenv("AVATAR_VIDEO_PATH", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error when AVATAR_VIDEO_PATH is unset")
	}
}

func TestLoadConfigRejectsZeroInflight(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MAX_INFLIGHT", "0")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error when MAX_INFLIGHT is zero")
	}
}

func TestLoadConfigHonorsOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TEMP_DIR", "/scratch/lipsync")
	t.Setenv("JOBS_DB_PATH", "")
	t.Setenv("MAX_INFLIGHT", "2")
	t.Setenv("QUEUE_WAIT_SECONDS", "3")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.TempDir != "/scratch/lipsync" {
		t.Fatalf("TempDir = %q", cfg.TempDir)
	}
	if cfg.JobsDBPath != "/scratch/lipsync/jobs.db" {
		t.Fatalf("JobsDBPath = %q, want derived from TEMP_DIR", cfg.JobsDBPath)
	}
	if cfg.MaxInflight != 2 {
		t.Fatalf("MaxInflight = %d, want 2", cfg.MaxInflight)
	}
	if cfg.QueueWait != 3*time.Second {
		t.Fatalf("QueueWait = %s, want 3s", cfg.QueueWait)
	}
}
