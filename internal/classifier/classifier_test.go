package classifier

import (
	"errors"
	"math"
	"testing"

	"github.com/dj-oyu/smart-parking/occupancy-server/pkg/types"
)

func TestArgMax(t *testing.T) {
	tests := []struct {
		row     []float32
		wantIdx int
		wantVal float32
	}{
		{[]float32{0.1, 0.9}, 1, 0.9},
		{[]float32{0.7, 0.3}, 0, 0.7},
		{[]float32{0.5, 0.5}, 0, 0.5},
		{nil, -1, 0},
	}
	for _, tt := range tests {
		idx, val := ArgMax(tt.row)
		if idx != tt.wantIdx || val != tt.wantVal {
			t.Fatalf("ArgMax(%v) = %d,%v want %d,%v", tt.row, idx, val, tt.wantIdx, tt.wantVal)
		}
	}
}

func TestBatchCropAndValidate(t *testing.T) {
	b := NewBatch(3, 4)
	if len(b.Data) != 3*4*4*3 {
		t.Fatalf("len(Data) = %d", len(b.Data))
	}
	b.Crop(1)[0] = 1
	if b.Data[b.CropLen()] != 1 {
		t.Fatal("Crop(1) does not alias the batch")
	}
	if err := b.Validate(4); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := b.Validate(48); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("Validate(48) = %v", err)
	}
	b.Data = b.Data[:10]
	if err := b.Validate(4); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("truncated Validate = %v", err)
	}
}

func TestLabelMap(t *testing.T) {
	if got := DefaultLabelMap.Label("no_car"); got != types.LabelFree {
		t.Fatalf("no_car -> %v", got)
	}
	if got := DefaultLabelMap.Label("car"); got != types.LabelOccupied {
		t.Fatalf("car -> %v", got)
	}
}

func TestClampConfidence(t *testing.T) {
	nan := float32(math.NaN())
	for in, want := range map[float32]float64{-0.5: 0, 0.25: 0.25, 1.5: 1} {
		if got := ClampConfidence(in); got != want {
			t.Fatalf("ClampConfidence(%v) = %v", in, got)
		}
	}
	if got := ClampConfidence(nan); got != 0 {
		t.Fatalf("ClampConfidence(NaN) = %v", got)
	}
}
