// Package onnx runs the slot classifier with ONNX Runtime.
package onnx

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/dj-oyu/smart-parking/occupancy-server/internal/classifier"
	"github.com/dj-oyu/smart-parking/occupancy-server/internal/logger"
)

const (
	DefaultPoolSize = 2
	AcquireTimeout  = 5 * time.Second
)

// ErrPoolClosed is returned by Classify after Close.
var ErrPoolClosed = errors.New("session pool is closed")

// Config selects the model artifact and session layout.
type Config struct {
	ModelPath      string
	MetadataPath   string
	RuntimeLibPath string // optional; empty uses the platform default
	BatchSize      int    // number of slots per frame
	PoolSize       int
}

type session struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func (s *session) destroy() {
	if s.session != nil {
		s.session.Destroy()
	}
	if s.input != nil {
		s.input.Destroy()
	}
	if s.output != nil {
		s.output.Destroy()
	}
}

// Classifier is a pooled ONNX Runtime classifier.
type Classifier struct {
	md       Metadata
	batch    int
	sessions chan *session

	mu     sync.Mutex
	closed bool
}

// Open initializes the runtime environment and builds the session pool.
func Open(cfg Config) (*Classifier, error) {
	md, err := LoadMetadata(cfg.MetadataPath)
	if err != nil {
		return nil, err
	}
	if cfg.BatchSize < 0 {
		return nil, fmt.Errorf("invalid batch size %d", cfg.BatchSize)
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}

	c := &Classifier{
		md:       md,
		batch:    cfg.BatchSize,
		sessions: make(chan *session, cfg.PoolSize),
	}
	// A lot without slots never runs the model.
	if cfg.BatchSize == 0 {
		logger.Warn("Classifier", "No slots configured, ONNX runtime not loaded")
		return c, nil
	}

	if cfg.RuntimeLibPath != "" {
		ort.SetSharedLibraryPath(cfg.RuntimeLibPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	for i := 0; i < cfg.PoolSize; i++ {
		s, err := newSession(cfg.ModelPath, md, cfg.BatchSize)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to initialize session %d: %w", i, err)
		}
		c.sessions <- s
	}

	logger.Info("Classifier", "Loaded %s: batch=%d size=%d classes=%v sessions=%d",
		cfg.ModelPath, cfg.BatchSize, md.ImageSize, md.Classes, cfg.PoolSize)
	return c, nil
}

func newSession(modelPath string, md Metadata, batch int) (*session, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	options.SetIntraOpNumThreads(runtime.NumCPU())

	size := int64(md.ImageSize)
	inputShape := ort.NewShape(int64(batch), size, size, 3)
	outputShape := ort.NewShape(int64(batch), int64(len(md.Classes)))

	input, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}

	s, err := ort.NewAdvancedSession(
		modelPath,
		[]string{md.InputName},
		[]string{md.OutputName},
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{output},
		options,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("error creating session: %w", err)
	}
	return &session{session: s, input: input, output: output}, nil
}

// Metadata returns the loaded model metadata.
func (c *Classifier) Metadata() Metadata {
	return c.md
}

// Input implements classifier.Classifier.
func (c *Classifier) Input() classifier.InputSpec {
	return classifier.InputSpec{
		Size:   c.md.ImageSize,
		BGR:    c.md.BGR(),
		Labels: c.md.LabelMap(),
	}
}

// Classify runs one batch through a pooled session.
func (c *Classifier) Classify(ctx context.Context, batch *classifier.Batch) ([]classifier.Prediction, error) {
	if batch.N == 0 {
		return nil, nil
	}
	if batch.N != c.batch {
		return nil, fmt.Errorf("%w: %d crops, session batch is %d", classifier.ErrShapeMismatch, batch.N, c.batch)
	}
	if err := batch.Validate(c.md.ImageSize); err != nil {
		return nil, err
	}

	s, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer c.release(s)

	copy(s.input.GetData(), batch.Data)
	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	return Decode(s.output.GetData(), batch.N, c.md.Classes)
}

// Decode splits a flat [n, classes] output into arg-max predictions.
func Decode(out []float32, n int, classes []string) ([]classifier.Prediction, error) {
	k := len(classes)
	if len(out) != n*k {
		return nil, fmt.Errorf("%w: output has %d values, want %dx%d", classifier.ErrShapeMismatch, len(out), n, k)
	}
	preds := make([]classifier.Prediction, n)
	for i := range preds {
		row := make([]float32, k)
		copy(row, out[i*k:(i+1)*k])
		idx, p := classifier.ArgMax(row)
		preds[i] = classifier.Prediction{
			Index:       idx,
			Class:       classes[idx],
			Probability: p,
			Scores:      row,
		}
	}
	return preds, nil
}

func (c *Classifier) acquire(ctx context.Context) (*session, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrPoolClosed
	}

	timer := time.NewTimer(AcquireTimeout)
	defer timer.Stop()

	select {
	case s, ok := <-c.sessions:
		if !ok {
			return nil, ErrPoolClosed
		}
		return s, nil
	case <-timer.C:
		return nil, fmt.Errorf("timeout waiting for available session")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Classifier) release(s *session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		s.destroy()
		return
	}
	c.sessions <- s
}

// Close destroys pooled sessions and the runtime environment.
func (c *Classifier) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.sessions)
	c.mu.Unlock()

	for s := range c.sessions {
		s.destroy()
	}
	if c.batch == 0 {
		return nil
	}
	if err := ort.DestroyEnvironment(); err != nil {
		return fmt.Errorf("failed to destroy ONNX environment: %w", err)
	}
	logger.Info("Classifier", "ONNX runtime released")
	return nil
}
