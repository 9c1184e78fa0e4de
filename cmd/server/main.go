package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	_ "net/http/pprof" // Enable pprof
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dj-oyu/smart-parking/occupancy-server/internal/analyzer"
	"github.com/dj-oyu/smart-parking/occupancy-server/internal/capture"
	"github.com/dj-oyu/smart-parking/occupancy-server/internal/capture/opencv"
	"github.com/dj-oyu/smart-parking/occupancy-server/internal/classifier/onnx"
	"github.com/dj-oyu/smart-parking/occupancy-server/internal/config"
	"github.com/dj-oyu/smart-parking/occupancy-server/internal/logger"
	"github.com/dj-oyu/smart-parking/occupancy-server/internal/metrics"
	"github.com/dj-oyu/smart-parking/occupancy-server/internal/slots"
	"github.com/dj-oyu/smart-parking/occupancy-server/internal/webmonitor"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	wcfg := webmonitor.DefaultConfig()
	var pprofAddr string

	cfg.RegisterFlags(flag.CommandLine)
	flag.StringVar(&wcfg.AssetsDir, "assets", wcfg.AssetsDir, "Web assets override directory")
	flag.DurationVar(&wcfg.BlankAfter, "blank-after", wcfg.BlankAfter, "Send a test pattern after this long without frames")
	flag.StringVar(&pprofAddr, "pprof", "", "pprof server address (disabled when empty)")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize logger
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, cfg.LogColor)
	defer logger.Sync()

	logger.Info("Main", "Parking occupancy server starting...")
	logger.Info("Main", "Log level: %s", level)

	reg, err := slots.Load(cfg.SlotsPath)
	if err != nil {
		log.Fatalf("Failed to load slots: %v", err)
	}
	logger.Info("Main", "Loaded %d parking slots from %s", reg.Len(), cfg.SlotsPath)

	clf, err := onnx.Open(onnx.Config{
		ModelPath:      cfg.ModelPath,
		MetadataPath:   cfg.MetadataPath,
		RuntimeLibPath: cfg.RuntimeLibPath,
		BatchSize:      reg.Len(),
		PoolSize:       cfg.SessionPoolSize,
	})
	if err != nil {
		log.Fatalf("Failed to load classifier: %v", err)
	}
	defer func() {
		if err := clf.Close(); err != nil {
			logger.Warn("Main", "Classifier close failed: %v", err)
		}
	}()

	m := metrics.New()
	a := analyzer.New(reg, clf, analyzer.WithInferenceObserver(m.ObserveInference))

	loop := openLoop(cfg.VideoPath)
	loop.OnRewind = func() { m.Rewinds.Add(1) }
	defer loop.Close()

	wcfg.Addr = cfg.Addr()
	wcfg.MJPEGInterval = cfg.MJPEGInterval
	wcfg.JPEGQuality = cfg.JPEGQuality

	server := webmonitor.NewServer(wcfg, webmonitor.Deps{
		Loop:     loop,
		Analyzer: a,
		Metrics:  m,
	})

	if pprofAddr != "" {
		go func() {
			logger.Info("Main", "Starting pprof server on %s", pprofAddr)
			if err := http.ListenAndServe(pprofAddr, nil); err != nil {
				logger.Warn("Main", "pprof server error: %v", err)
			}
		}()
	}

	httpServer := &http.Server{
		Addr:    wcfg.Addr,
		Handler: server.Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Main", "Listening on %s", wcfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Main", "Shutting down...")
	case err := <-errCh:
		if err != nil {
			logger.Error("Main", "HTTP server error: %v", err)
		}
	}

	// Streaming handlers only return once the broadcaster closes their channels.
	server.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Main", "Error during shutdown: %v", err)
	}

	logger.Info("Main", "Server stopped")
}

// openLoop returns a loop over path, or an unopened loop when the video cannot be opened.
func openLoop(path string) *capture.Loop {
	dec, err := opencv.OpenFile(path)
	if err != nil {
		logger.Error("Main", "Video capture not available: %v", err)
		return capture.NewLoop(nil)
	}
	logger.Info("Main", "Streaming %s (%d frames)", path, dec.FrameCount())
	return capture.NewLoop(dec)
}
