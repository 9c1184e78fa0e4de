package onnx

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/dj-oyu/smart-parking/occupancy-server/internal/classifier"
)

// Channel orders accepted in metadata.
const (
	ChannelBGR = "bgr"
	ChannelRGB = "rgb"
)

// Metadata describes the exported model's tensors and classes.
type Metadata struct {
	InputName    string   `json:"input_name"`
	OutputName   string   `json:"output_name"`
	Classes      []string `json:"classes"`
	ImageSize    int      `json:"image_size"`
	ChannelOrder string   `json:"channel_order"`
	FreeClass    string   `json:"free_class"`
}

// DefaultMetadata matches the Keras export of the parking model.
func DefaultMetadata() Metadata {
	return Metadata{
		InputName:    "input",
		OutputName:   "output",
		Classes:      []string{"no_car", "car"},
		ImageSize:    48,
		ChannelOrder: ChannelBGR,
		FreeClass:    classifier.DefaultLabelMap.FreeClass,
	}
}

// LoadMetadata reads a metadata JSON file on top of DefaultMetadata.
func LoadMetadata(path string) (Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}
	return ParseMetadata(data)
}

// ParseMetadata decodes and validates metadata. Missing fields keep defaults.
func ParseMetadata(data []byte) (Metadata, error) {
	md := DefaultMetadata()
	if err := json.Unmarshal(data, &md); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	md.ChannelOrder = strings.ToLower(md.ChannelOrder)
	if err := md.Validate(); err != nil {
		return Metadata{}, err
	}
	return md, nil
}

// Validate checks the fields the session layout depends on.
func (m Metadata) Validate() error {
	if len(m.Classes) < 2 {
		return fmt.Errorf("metadata: need at least 2 classes, got %d", len(m.Classes))
	}
	if m.ImageSize <= 0 {
		return fmt.Errorf("metadata: invalid image_size %d", m.ImageSize)
	}
	if m.InputName == "" || m.OutputName == "" {
		return fmt.Errorf("metadata: input_name and output_name are required")
	}
	switch m.ChannelOrder {
	case ChannelBGR, ChannelRGB:
	default:
		return fmt.Errorf("metadata: unknown channel_order %q", m.ChannelOrder)
	}
	found := false
	for _, c := range m.Classes {
		if c == m.FreeClass {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("metadata: free_class %q not in classes %v", m.FreeClass, m.Classes)
	}
	return nil
}

// LabelMap returns the occupancy mapping declared by the metadata.
func (m Metadata) LabelMap() classifier.LabelMap {
	return classifier.LabelMap{FreeClass: m.FreeClass}
}

// BGR reports whether crops must be packed blue-first.
func (m Metadata) BGR() bool {
	return m.ChannelOrder == ChannelBGR
}
