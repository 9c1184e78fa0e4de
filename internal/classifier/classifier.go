// Package classifier defines the batch image classifier used for slot crops.
package classifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/dj-oyu/smart-parking/occupancy-server/pkg/types"
)

// ErrShapeMismatch is returned when a batch does not match the model input.
var ErrShapeMismatch = errors.New("batch shape mismatch")

// Classifier maps a batch of crops to one prediction per crop.
type Classifier interface {
	Input() InputSpec
	Classify(ctx context.Context, batch *Batch) ([]Prediction, error)
	Close() error
}

// InputSpec tells callers how to pack crops for a classifier.
type InputSpec struct {
	Size   int  // square crop edge in pixels
	BGR    bool // channel order blue-green-red
	Labels LabelMap
}

// Batch holds N crops of Size x Size x 3 values in NHWC order, scaled to [0,1].
type Batch struct {
	N    int
	Size int
	Data []float32
}

// NewBatch allocates a zeroed batch for n crops.
func NewBatch(n, size int) *Batch {
	return &Batch{
		N:    n,
		Size: size,
		Data: make([]float32, n*size*size*3),
	}
}

// CropLen is the number of values per crop.
func (b *Batch) CropLen() int {
	return b.Size * b.Size * 3
}

// Crop returns the slice backing crop i.
func (b *Batch) Crop(i int) []float32 {
	n := b.CropLen()
	return b.Data[i*n : (i+1)*n]
}

// Validate checks the batch against the expected crop size.
func (b *Batch) Validate(size int) error {
	if b.Size != size {
		return fmt.Errorf("%w: crop size %d, model expects %d", ErrShapeMismatch, b.Size, size)
	}
	if len(b.Data) != b.N*b.CropLen() {
		return fmt.Errorf("%w: %d values for %d crops of %dx%dx3", ErrShapeMismatch, len(b.Data), b.N, b.Size, b.Size)
	}
	return nil
}

// Prediction is the arg-max result for one crop.
type Prediction struct {
	Index       int       `json:"index"`
	Class       string    `json:"class"`
	Probability float32   `json:"probability"`
	Scores      []float32 `json:"scores"`
}

// ArgMax returns the index and value of the largest element. Ties keep the first.
func ArgMax(row []float32) (int, float32) {
	if len(row) == 0 {
		return -1, 0
	}
	maxIdx := 0
	maxVal := row[0]
	for i, v := range row[1:] {
		if v > maxVal {
			maxVal = v
			maxIdx = i + 1
		}
	}
	return maxIdx, maxVal
}

// LabelMap turns model class names into occupancy labels.
type LabelMap struct {
	FreeClass string
}

// DefaultLabelMap matches the Keras model's {0: no_car, 1: car} dictionary.
var DefaultLabelMap = LabelMap{FreeClass: "no_car"}

// Label returns LabelFree for the free class and LabelOccupied otherwise.
func (m LabelMap) Label(class string) types.Label {
	if class == m.FreeClass {
		return types.LabelFree
	}
	return types.LabelOccupied
}

// ClampConfidence keeps model output inside [0,1] so non-softmax heads stay valid.
func ClampConfidence(v float32) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return float64(v)
}
