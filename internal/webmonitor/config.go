package webmonitor

import (
	"time"
)

// Config defines the runtime configuration for the streaming server.
type Config struct {
	Addr              string
	AssetsDir         string // optional override for /assets/ files
	MJPEGInterval     time.Duration
	JPEGQuality       int
	BlankAfter        time.Duration // send a test pattern when no frame arrives for this long
	KeepAliveInterval time.Duration // SSE comment interval
	IdleSleep         time.Duration // broadcaster poll interval with no clients
	HistorySize       int
}

// DefaultConfig returns the streaming server defaults.
func DefaultConfig() Config {
	return Config{
		Addr:              "0.0.0.0:5000",
		MJPEGInterval:     33 * time.Millisecond,
		JPEGQuality:       80,
		BlankAfter:        5 * time.Second,
		KeepAliveInterval: 30 * time.Second,
		IdleSleep:         100 * time.Millisecond,
		HistorySize:       8,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MJPEGInterval <= 0 {
		c.MJPEGInterval = d.MJPEGInterval
	}
	if c.JPEGQuality <= 0 {
		c.JPEGQuality = d.JPEGQuality
	}
	if c.BlankAfter <= 0 {
		c.BlankAfter = d.BlankAfter
	}
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = d.KeepAliveInterval
	}
	if c.IdleSleep <= 0 {
		c.IdleSleep = d.IdleSleep
	}
	if c.HistorySize <= 0 {
		c.HistorySize = d.HistorySize
	}
	return c
}
