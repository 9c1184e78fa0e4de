package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dj-oyu/smart-parking/occupancy-server/internal/analyzer"
	"github.com/dj-oyu/smart-parking/occupancy-server/internal/classifier/onnx"
	"github.com/dj-oyu/smart-parking/occupancy-server/internal/config"
	"github.com/dj-oyu/smart-parking/occupancy-server/internal/demo"
	"github.com/dj-oyu/smart-parking/occupancy-server/internal/logger"
	"github.com/dj-oyu/smart-parking/occupancy-server/internal/metrics"
	"github.com/dj-oyu/smart-parking/occupancy-server/internal/slots"
)

const defaultDemoPort = "7860"

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if _, ok := os.LookupEnv("PORT"); !ok {
		cfg.Port = defaultDemoPort
	}

	dcfg := demo.DefaultConfig()

	cfg.RegisterFlags(flag.CommandLine)
	flag.StringVar(&dcfg.AssetsDir, "assets", dcfg.AssetsDir, "Web assets override directory")
	flag.StringVar(&dcfg.TempDir, "upload-dir", dcfg.TempDir, "Directory for temporary video uploads")
	flag.Int64Var(&dcfg.MaxUploadBytes, "max-upload", dcfg.MaxUploadBytes, "Maximum upload size in bytes")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, cfg.LogColor)
	defer logger.Sync()

	reg, err := slots.Load(cfg.SlotsPath)
	if err != nil {
		log.Fatalf("Failed to load slots: %v", err)
	}

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
	dcfg.JPEGQuality = cfg.JPEGQuality
	server := demo.NewServer(dcfg, demo.Deps{
		Analyzer: analyzer.New(reg, clf, analyzer.WithInferenceObserver(m.ObserveInference)),
		Metrics:  m,
	})

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("Main", "Demo listening on %s (%d slots, model %s)", httpServer.Addr, reg.Len(), cfg.ModelPath)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Main", "HTTP server error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Main", "Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Main", "Error during shutdown: %v", err)
	}
}
