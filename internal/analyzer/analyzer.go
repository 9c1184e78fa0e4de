// Package analyzer turns a frame into per-slot occupancy results.
package analyzer

import (
	"context"
	"fmt"
	"image"
	"runtime"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"

	"github.com/dj-oyu/smart-parking/occupancy-server/internal/classifier"
	"github.com/dj-oyu/smart-parking/occupancy-server/internal/slots"
	"github.com/dj-oyu/smart-parking/occupancy-server/pkg/types"
)

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithInferenceObserver is called with the duration of every Classify call.
func WithInferenceObserver(fn func(time.Duration)) Option {
	return func(a *Analyzer) { a.observe = fn }
}

// Analyzer crops every registered slot, classifies the batch and aggregates the result.
type Analyzer struct {
	registry *slots.Registry
	clf      classifier.Classifier
	input    classifier.InputSpec
	workers  int
	observe  func(time.Duration)
}

// New returns an Analyzer bound to one slot registry and classifier.
func New(registry *slots.Registry, clf classifier.Classifier, opts ...Option) *Analyzer {
	a := &Analyzer{
		registry: registry,
		clf:      clf,
		input:    clf.Input(),
		workers:  runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SlotCount returns the number of slots analyzed per frame.
func (a *Analyzer) SlotCount() int {
	return a.registry.Len()
}

// Canonicalize resizes img to the frame size the slot coordinates assume.
func (a *Analyzer) Canonicalize(img image.Image) image.Image {
	want := a.registry.Bounds()
	if img.Bounds() == want {
		return img
	}
	return imaging.Resize(img, want.Dx(), want.Dy(), imaging.Linear)
}

// Analyze classifies every slot of img with a single classifier call.
func (a *Analyzer) Analyze(ctx context.Context, img image.Image) (types.FrameAnalysis, error) {
	points := a.registry.Slots()
	if len(points) == 0 {
		return types.NewFrameAnalysis([]types.ClassificationResult{}), nil
	}

	batch, err := a.prepare(ctx, img, points)
	if err != nil {
		return types.FrameAnalysis{}, err
	}

	start := time.Now()
	preds, err := a.clf.Classify(ctx, batch)
	if a.observe != nil {
		a.observe(time.Since(start))
	}
	if err != nil {
		return types.FrameAnalysis{}, fmt.Errorf("classify %d slots: %w", len(points), err)
	}
	if len(preds) != len(points) {
		return types.FrameAnalysis{}, fmt.Errorf("%w: %d predictions for %d slots",
			classifier.ErrShapeMismatch, len(preds), len(points))
	}

	results := make([]types.ClassificationResult, len(points))
	for i, p := range preds {
		results[i] = types.ClassificationResult{
			Slot:       points[i],
			Label:      a.input.Labels.Label(p.Class),
			Class:      p.Class,
			Confidence: classifier.ClampConfidence(p.Probability),
		}
	}
	return types.NewFrameAnalysis(results), nil
}

func (a *Analyzer) prepare(ctx context.Context, img image.Image, points []types.Slot) (*classifier.Batch, error) {
	batch := classifier.NewBatch(len(points), a.input.Size)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, s := range points {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			fillCrop(img, s.Rect(), a.input.Size, a.input.BGR, batch.Crop(i))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return batch, nil
}

// fillCrop writes the size x size bilinear resample of rect into dst as HWC
// values in [0,1]. A rect outside img leaves dst zeroed.
func fillCrop(img image.Image, rect image.Rectangle, size int, bgr bool, dst []float32) {
	r := rect.Intersect(img.Bounds())
	if r.Empty() {
		return
	}
	crop := imaging.Resize(imaging.Crop(img, r), size, size, imaging.Linear)

	for y := 0; y < size; y++ {
		row := crop.Pix[y*crop.Stride:]
		for x := 0; x < size; x++ {
			px := row[x*4 : x*4+3]
			o := (y*size + x) * 3
			if bgr {
				dst[o] = float32(px[2]) / 255.0
				dst[o+1] = float32(px[1]) / 255.0
				dst[o+2] = float32(px[0]) / 255.0
			} else {
				dst[o] = float32(px[0]) / 255.0
				dst[o+1] = float32(px[1]) / 255.0
				dst[o+2] = float32(px[2]) / 255.0
			}
		}
	}
}
