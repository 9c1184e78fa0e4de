package types

import (
	"image"
	"testing"
	"time"
)

func TestNewFrameAnalysisCounts(t *testing.T) {
	tests := []struct {
		name     string
		labels   []Label
		free     int
		occupied int
	}{
		{"empty", nil, 0, 0},
		{"all free", []Label{LabelFree, LabelFree}, 2, 0},
		{"mixed", []Label{LabelFree, LabelOccupied, LabelOccupied}, 1, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := make([]ClassificationResult, len(tt.labels))
			for i, l := range tt.labels {
				results[i] = ClassificationResult{Label: l}
			}
			a := NewFrameAnalysis(results)
			if a.Free != tt.free || a.Occupied != tt.occupied {
				t.Fatalf("free/occupied = %d/%d, want %d/%d", a.Free, a.Occupied, tt.free, tt.occupied)
			}
			if a.Free+a.Occupied != a.Total {
				t.Fatalf("free+occupied = %d, total = %d", a.Free+a.Occupied, a.Total)
			}
		})
	}
}

func TestOccupancyRateZeroSlots(t *testing.T) {
	var a FrameAnalysis
	if got := a.OccupancyRate(); got != 0 {
		t.Fatalf("OccupancyRate() = %v, want 0", got)
	}
}

func TestOccupancyRate(t *testing.T) {
	a := NewFrameAnalysis([]ClassificationResult{
		{Label: LabelOccupied},
		{Label: LabelFree},
		{Label: LabelFree},
		{Label: LabelFree},
	})
	if got := a.OccupancyRate(); got != 25 {
		t.Fatalf("OccupancyRate() = %v, want 25", got)
	}
}

func TestSlotRect(t *testing.T) {
	got := Slot{X: 10, Y: 20}.Rect()
	want := image.Rect(10, 20, 140, 85)
	if got != want {
		t.Fatalf("Rect() = %v, want %v", got, want)
	}
}

func TestNewOccupancyEvent(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	a := NewFrameAnalysis([]ClassificationResult{{Label: LabelOccupied}, {Label: LabelFree}})
	ev := NewOccupancyEvent(7, ts, a)
	if ev.FrameNumber != 7 || ev.Free != 1 || ev.Occupied != 1 || ev.Total != 2 || ev.OccupancyRate != 50 {
		t.Fatalf("unexpected event: %+v", ev)
	}
}
