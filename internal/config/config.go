// Package config loads runtime settings shared by the streaming server and the demo UI.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config defines the runtime configuration for both front ends.
type Config struct {
	Port            string
	SlotsPath       string
	ModelPath       string
	MetadataPath    string
	RuntimeLibPath  string
	VideoPath       string
	LogLevel        string
	LogColor        bool
	SessionPoolSize int
	MJPEGInterval   time.Duration
	JPEGQuality     int
}

// DefaultConfig returns the defaults for files in the working directory.
func DefaultConfig() Config {
	return Config{
		Port:            "5000",
		SlotsPath:       "carposition.json",
		ModelPath:       "model_final.onnx",
		MetadataPath:    "model_metadata.json",
		VideoPath:       "car_test.mp4",
		LogLevel:        "info",
		LogColor:        true,
		SessionPoolSize: 2,
		MJPEGInterval:   33 * time.Millisecond,
		JPEGQuality:     80,
	}
}

// Load reads envFile (if present) and then the process environment on top of
// DefaultConfig. Existing environment variables win over the file.
func Load(envFile string) (Config, error) {
	cfg := DefaultConfig()

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.SlotsPath = getEnv("SLOTS_PATH", cfg.SlotsPath)
	cfg.ModelPath = getEnv("MODEL_PATH", cfg.ModelPath)
	cfg.MetadataPath = getEnv("MODEL_METADATA_PATH", cfg.MetadataPath)
	cfg.RuntimeLibPath = getEnv("ONNXRUNTIME_LIB", cfg.RuntimeLibPath)
	cfg.VideoPath = getEnv("VIDEO_PATH", cfg.VideoPath)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	var err error
	if cfg.LogColor, err = getEnvBool("LOG_COLOR", cfg.LogColor); err != nil {
		return cfg, err
	}
	if cfg.SessionPoolSize, err = getEnvInt("SESSION_POOL_SIZE", cfg.SessionPoolSize); err != nil {
		return cfg, err
	}
	if cfg.JPEGQuality, err = getEnvInt("JPEG_QUALITY", cfg.JPEGQuality); err != nil {
		return cfg, err
	}
	if v, ok := os.LookupEnv("MJPEG_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("MJPEG_INTERVAL: %w", err)
		}
		cfg.MJPEGInterval = d
	}

	return cfg, cfg.Validate()
}

// RegisterFlags binds command-line flags to cfg so they override env values.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Port, "port", c.Port, "HTTP port")
	fs.StringVar(&c.SlotsPath, "slots", c.SlotsPath, "Parking slot coordinates (JSON)")
	fs.StringVar(&c.ModelPath, "model", c.ModelPath, "ONNX classifier model")
	fs.StringVar(&c.MetadataPath, "metadata", c.MetadataPath, "Classifier metadata (JSON)")
	fs.StringVar(&c.RuntimeLibPath, "onnxruntime-lib", c.RuntimeLibPath, "ONNX Runtime shared library path")
	fs.StringVar(&c.VideoPath, "video", c.VideoPath, "Video file looped by the stream")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (debug, info, warn, error, silent)")
	fs.BoolVar(&c.LogColor, "log-color", c.LogColor, "Enable colored log output")
	fs.IntVar(&c.SessionPoolSize, "sessions", c.SessionPoolSize, "Classifier session pool size")
	fs.DurationVar(&c.MJPEGInterval, "mjpeg-interval", c.MJPEGInterval, "Delay between streamed frames")
	fs.IntVar(&c.JPEGQuality, "jpeg-quality", c.JPEGQuality, "JPEG quality (1-100)")
}

// Validate checks ranges that would otherwise fail deep inside a request.
func (c Config) Validate() error {
	if c.Port == "" {
		return errors.New("port must not be empty")
	}
	if c.SessionPoolSize <= 0 {
		return fmt.Errorf("session pool size must be positive, got %d", c.SessionPoolSize)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("jpeg quality must be within 1-100, got %d", c.JPEGQuality)
	}
	if c.MJPEGInterval < 0 {
		return fmt.Errorf("mjpeg interval must not be negative, got %v", c.MJPEGInterval)
	}
	return nil
}

// Addr returns the listen address for Port on all interfaces.
func (c Config) Addr() string {
	return "0.0.0.0:" + c.Port
}

func getEnv(key string, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
