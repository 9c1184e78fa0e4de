package types

import (
	"image"
	"time"
)

// Canonical frame geometry every slot coordinate is expressed in.
const (
	FrameWidth  = 1280
	FrameHeight = 720

	SlotWidth  = 130
	SlotHeight = 65
)

// FrameBounds is the canonical frame rectangle.
var FrameBounds = image.Rect(0, 0, FrameWidth, FrameHeight)

// Label is the occupancy state of a parking slot.
type Label string

const (
	LabelFree     Label = "free"
	LabelOccupied Label = "occupied"
)

// Slot is the top-left corner of a fixed-size parking space crop.
type Slot struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Rect returns the pixel rectangle covered by the slot.
func (s Slot) Rect() image.Rectangle {
	return image.Rect(s.X, s.Y, s.X+SlotWidth, s.Y+SlotHeight)
}

// ClassificationResult is the classifier verdict for one slot.
type ClassificationResult struct {
	Slot       Slot    `json:"slot"`
	Label      Label   `json:"label"`
	Class      string  `json:"class"`      // Raw model class name (e.g. "no_car")
	Confidence float64 `json:"confidence"` // Probability of Class, in [0,1]
}

// FrameAnalysis aggregates all slot results for a single frame.
type FrameAnalysis struct {
	Results  []ClassificationResult `json:"slots"`
	Total    int                    `json:"total"`
	Free     int                    `json:"free"`
	Occupied int                    `json:"occupied"`
}

// NewFrameAnalysis builds the aggregate counts from per-slot results.
func NewFrameAnalysis(results []ClassificationResult) FrameAnalysis {
	a := FrameAnalysis{
		Results: results,
		Total:   len(results),
	}
	for _, r := range results {
		if r.Label == LabelFree {
			a.Free++
		}
	}
	a.Occupied = a.Total - a.Free
	return a
}

// OccupancyRate returns the occupied share in percent, 0 when there are no slots.
func (a FrameAnalysis) OccupancyRate() float64 {
	if a.Total == 0 {
		return 0
	}
	return float64(a.Occupied) / float64(a.Total) * 100
}

// OccupancyEvent is the per-frame occupancy update pushed to live clients.
type OccupancyEvent struct {
	FrameNumber   uint64    `json:"frame_number"`
	Timestamp     time.Time `json:"timestamp"`
	Free          int       `json:"free"`
	Occupied      int       `json:"occupied"`
	Total         int       `json:"total"`
	OccupancyRate float64   `json:"occupancy_rate"`
}

// NewOccupancyEvent summarizes an analysis for push channels.
func NewOccupancyEvent(frameNumber uint64, ts time.Time, a FrameAnalysis) OccupancyEvent {
	return OccupancyEvent{
		FrameNumber:   frameNumber,
		Timestamp:     ts,
		Free:          a.Free,
		Occupied:      a.Occupied,
		Total:         a.Total,
		OccupancyRate: a.OccupancyRate(),
	}
}
