// Package render draws per-slot occupancy overlays onto frames.
package render

import (
	"fmt"
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/dj-oyu/smart-parking/occupancy-server/pkg/types"
)

var font *truetype.Font

func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Overlay colors.
var (
	ColorFree     = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	ColorOccupied = color.RGBA{R: 255, G: 0, B: 0, A: 255}
)

const (
	freeThickness     = 5
	occupiedThickness = 2
	fontSize          = 13
)

// Options controls label text.
type Options struct {
	ShowConfidence bool // "occupied (0.97)" instead of "occupied"
}

// Style returns the outline color, line width and text color for a label.
func Style(l types.Label) (outline color.Color, width float64, text color.Color) {
	if l == types.LabelFree {
		return ColorFree, freeThickness, color.Black
	}
	return ColorOccupied, occupiedThickness, color.White
}

// LabelText is the text drawn in a slot's label box: the model class name
// ("no_car", "car"), or the label when the class is unknown.
func LabelText(r types.ClassificationResult, opts Options) string {
	name := r.Class
	if name == "" {
		name = string(r.Label)
	}
	if opts.ShowConfidence {
		return fmt.Sprintf("%s (%.2f)", name, r.Confidence)
	}
	return name
}

// Render returns an annotated copy of img. img itself is not modified.
func Render(img image.Image, results []types.ClassificationResult, opts Options) *image.RGBA {
	dc := gg.NewContextForImage(img)
	dc.SetFontFace(truetype.NewFace(font, &truetype.Options{Size: fontSize}))

	for _, r := range results {
		outline, width, textColor := Style(r.Label)
		rect := r.Slot.Rect()

		drawRectangleEmpty(dc, rect, outline, width)

		text := LabelText(r, opts)
		tw, th := dc.MeasureString(text)
		baseline := float64(rect.Max.Y - 5)
		x := float64(rect.Min.X)

		dc.SetColor(outline)
		dc.DrawRectangle(x, baseline-th-5, tw+6, th+7)
		dc.Fill()

		dc.SetColor(textColor)
		dc.DrawString(text, x+3, baseline-3)
	}

	return dc.Image().(*image.RGBA)
}

func drawRectangleEmpty(dc *gg.Context, r image.Rectangle, c color.Color, width float64) {
	dc.SetColor(c)
	dc.SetLineWidth(width)
	dc.DrawRectangle(float64(r.Min.X), float64(r.Min.Y), float64(r.Dx()), float64(r.Dy()))
	dc.Stroke()
}
