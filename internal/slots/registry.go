// Package slots loads the fixed list of parking space regions.
package slots

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"

	"github.com/dj-oyu/smart-parking/occupancy-server/pkg/types"
)

// ErrOutOfBounds is returned when a slot rectangle leaves the frame.
var ErrOutOfBounds = errors.New("slot outside frame bounds")

// Registry is the immutable list of slots for one camera view.
type Registry struct {
	slots  []types.Slot
	bounds image.Rectangle
}

// New validates points against bounds and returns a registry.
func New(points []types.Slot, bounds image.Rectangle) (*Registry, error) {
	for i, s := range points {
		if !s.Rect().In(bounds) {
			return nil, fmt.Errorf("slot %d at (%d,%d): %w %v", i, s.X, s.Y, ErrOutOfBounds, bounds)
		}
	}
	cp := make([]types.Slot, len(points))
	copy(cp, points)
	return &Registry{slots: cp, bounds: bounds}, nil
}

// Load reads a JSON slot file validated against the canonical frame.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read slots: %w", err)
	}
	points, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return New(points, types.FrameBounds)
}

// Parse accepts either [[x,y], ...] or [{"x":..,"y":..}, ...].
func Parse(data []byte) ([]types.Slot, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	points := make([]types.Slot, 0, len(raw))
	for i, item := range raw {
		var pair []int
		if err := json.Unmarshal(item, &pair); err == nil {
			if len(pair) != 2 {
				return nil, fmt.Errorf("slot %d: expected [x, y], got %d values", i, len(pair))
			}
			points = append(points, types.Slot{X: pair[0], Y: pair[1]})
			continue
		}

		var obj struct {
			X *int `json:"x"`
			Y *int `json:"y"`
		}
		if err := json.Unmarshal(item, &obj); err != nil || obj.X == nil || obj.Y == nil {
			return nil, fmt.Errorf("slot %d: expected [x, y] or {\"x\":..,\"y\":..}", i)
		}
		points = append(points, types.Slot{X: *obj.X, Y: *obj.Y})
	}
	return points, nil
}

// Slots returns a copy of the slot list in registry order.
func (r *Registry) Slots() []types.Slot {
	cp := make([]types.Slot, len(r.slots))
	copy(cp, r.slots)
	return cp
}

// Len returns the number of slots.
func (r *Registry) Len() int {
	return len(r.slots)
}

// Bounds returns the frame rectangle the slots were validated against.
func (r *Registry) Bounds() image.Rectangle {
	return r.bounds
}
