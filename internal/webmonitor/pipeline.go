package webmonitor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"github.com/dj-oyu/smart-parking/occupancy-server/internal/analyzer"
	"github.com/dj-oyu/smart-parking/occupancy-server/internal/capture"
	"github.com/dj-oyu/smart-parking/occupancy-server/internal/metrics"
	"github.com/dj-oyu/smart-parking/occupancy-server/internal/render"
	"github.com/dj-oyu/smart-parking/occupancy-server/pkg/types"
)

// ReadError wraps failures of the capture step so handlers can tell them
// apart from analysis failures.
type ReadError struct {
	Err error
}

func (e *ReadError) Error() string { return "read frame: " + e.Err.Error() }
func (e *ReadError) Unwrap() error { return e.Err }

// Pipeline runs read -> canonicalize -> analyze (-> render -> encode) on the shared loop.
type Pipeline struct {
	loop     *capture.Loop
	analyzer *analyzer.Analyzer
	metrics  *metrics.Metrics
	quality  int
}

// NewPipeline wires the capture loop to the analyzer. m may be nil.
func NewPipeline(loop *capture.Loop, a *analyzer.Analyzer, m *metrics.Metrics, jpegQuality int) *Pipeline {
	return &Pipeline{loop: loop, analyzer: a, metrics: m, quality: jpegQuality}
}

// Loop returns the capture loop.
func (p *Pipeline) Loop() *capture.Loop { return p.loop }

// SlotCount returns the number of analyzed slots.
func (p *Pipeline) SlotCount() int { return p.analyzer.SlotCount() }

func (p *Pipeline) read(ctx context.Context) (image.Image, error) {
	frame, err := p.loop.ReadNext(ctx)
	if err != nil {
		if p.metrics != nil {
			p.metrics.ReadErrors.Add(1)
		}
		return nil, &ReadError{Err: err}
	}
	if p.metrics != nil {
		p.metrics.FramesRead.Add(1)
	}
	return p.analyzer.Canonicalize(frame), nil
}

func (p *Pipeline) analyze(ctx context.Context, frame image.Image) (types.FrameAnalysis, error) {
	a, err := p.analyzer.Analyze(ctx, frame)
	if p.metrics == nil {
		return a, err
	}
	if err != nil {
		p.metrics.AnalysisErrors.Add(1)
		return a, err
	}
	p.metrics.FramesAnalyzed.Add(1)
	p.metrics.UpdateOccupancy(a.Free, a.Occupied)
	return a, nil
}

// Snapshot reads the next frame and analyzes it without rendering.
func (p *Pipeline) Snapshot(ctx context.Context) (types.FrameAnalysis, error) {
	frame, err := p.read(ctx)
	if err != nil {
		return types.FrameAnalysis{}, err
	}
	return p.analyze(ctx, frame)
}

// Annotated reads, analyzes, renders and JPEG-encodes the next frame.
func (p *Pipeline) Annotated(ctx context.Context) ([]byte, types.FrameAnalysis, error) {
	start := time.Now()

	frame, err := p.read(ctx)
	if err != nil {
		return nil, types.FrameAnalysis{}, err
	}
	a, err := p.analyze(ctx, frame)
	if err != nil {
		return nil, a, err
	}

	out := render.Render(frame, a.Results, render.Options{})
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: p.quality}); err != nil {
		return nil, a, fmt.Errorf("encode jpeg: %w", err)
	}

	if p.metrics != nil {
		p.metrics.UpdateProcessLatency(time.Since(start))
	}
	return buf.Bytes(), a, nil
}
