// Package classifiertest provides an in-memory classifier for tests.
package classifiertest

import (
	"context"
	"sync"

	"github.com/dj-oyu/smart-parking/occupancy-server/internal/classifier"
)

// Brightness labels a crop "car" when its mean value exceeds Threshold.
type Brightness struct {
	Size      int
	BGR       bool
	Threshold float32
	Err       error // returned by Classify when set

	mu    sync.Mutex
	calls int
	last  *classifier.Batch
}

// NewBrightness returns a classifier using 8x8 crops and a 0.5 threshold.
func NewBrightness() *Brightness {
	return &Brightness{Size: 8, Threshold: 0.5}
}

// Input implements classifier.Classifier.
func (b *Brightness) Input() classifier.InputSpec {
	return classifier.InputSpec{Size: b.Size, BGR: b.BGR, Labels: classifier.DefaultLabelMap}
}

// Classify implements classifier.Classifier.
func (b *Brightness) Classify(ctx context.Context, batch *classifier.Batch) ([]classifier.Prediction, error) {
	b.mu.Lock()
	b.calls++
	b.last = batch
	b.mu.Unlock()

	if b.Err != nil {
		return nil, b.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := batch.Validate(b.Size); err != nil {
		return nil, err
	}

	preds := make([]classifier.Prediction, batch.N)
	for i := range preds {
		var sum float32
		crop := batch.Crop(i)
		for _, v := range crop {
			sum += v
		}
		mean := sum / float32(len(crop))
		if mean > b.Threshold {
			preds[i] = classifier.Prediction{Index: 1, Class: "car", Probability: 0.9, Scores: []float32{0.1, 0.9}}
		} else {
			preds[i] = classifier.Prediction{Index: 0, Class: "no_car", Probability: 0.8, Scores: []float32{0.8, 0.2}}
		}
	}
	return preds, nil
}

// Close implements classifier.Classifier.
func (b *Brightness) Close() error { return nil }

// Calls returns how many times Classify ran.
func (b *Brightness) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// LastBatch returns the most recent batch passed to Classify.
func (b *Brightness) LastBatch() *classifier.Batch {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}
