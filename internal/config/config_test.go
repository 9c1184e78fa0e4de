package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != DefaultConfig().Port {
		t.Fatalf("Port = %q", cfg.Port)
	}
	if cfg.Addr() != "0.0.0.0:"+cfg.Port {
		t.Fatalf("Addr() = %q", cfg.Addr())
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("SESSION_POOL_SIZE", "4")
	t.Setenv("MJPEG_INTERVAL", "100ms")
	t.Setenv("LOG_COLOR", "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9999" || cfg.SessionPoolSize != 4 || cfg.MJPEGInterval != 100*time.Millisecond || cfg.LogColor {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("VIDEO_PATH=/data/lot.mp4\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("VIDEO_PATH") })

	cfg, err := Load(envFile)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.VideoPath != "/data/lot.mp4" {
		t.Fatalf("VideoPath = %q", cfg.VideoPath)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := map[string]string{
		"SESSION_POOL_SIZE": "zero",
		"JPEG_QUALITY":      "101",
		"MJPEG_INTERVAL":    "fast",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(""); err == nil {
				t.Fatalf("expected error for %s=%s", key, value)
			}
		})
	}
}

func TestFlagsOverride(t *testing.T) {
	cfg := DefaultConfig()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg.RegisterFlags(fs)
	if err := fs.Parse([]string{"-port", "7000", "-slots", "lot.json"}); err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "7000" || cfg.SlotsPath != "lot.json" {
		t.Fatalf("flags not applied: %+v", cfg)
	}
}
