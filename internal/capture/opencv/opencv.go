// Package opencv decodes video files with OpenCV.
package opencv

import (
	"errors"
	"fmt"
	"image"
	"io"

	"gocv.io/x/gocv"

	"github.com/dj-oyu/smart-parking/occupancy-server/internal/capture"
)

var _ capture.Decoder = (*Decoder)(nil)

// Decoder reads frames from a video file.
type Decoder struct {
	path string
	vc   *gocv.VideoCapture
	mat  gocv.Mat
}

// OpenFile opens path for sequential decoding.
func OpenFile(path string) (*Decoder, error) {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("open video %s: %w", path, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("open video %s: %w", path, capture.ErrUnavailable)
	}
	return &Decoder{path: path, vc: vc, mat: gocv.NewMat()}, nil
}

// Next decodes the next frame. It returns io.EOF at end of stream.
func (d *Decoder) Next() (image.Image, error) {
	if ok := d.vc.Read(&d.mat); !ok || d.mat.Empty() {
		return nil, io.EOF
	}
	img, err := d.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	return img, nil
}

// Rewind seeks back to frame zero.
func (d *Decoder) Rewind() error {
	d.vc.Set(gocv.VideoCapturePosFrames, 0)
	return nil
}

// FrameCount returns the container's reported frame count.
func (d *Decoder) FrameCount() int {
	return int(d.vc.Get(gocv.VideoCaptureFrameCount))
}

// Close releases the frame buffer and the capture handle.
func (d *Decoder) Close() error {
	return errors.Join(d.mat.Close(), d.vc.Close())
}

// FirstFrame opens path, reads one frame and closes it again.
func FirstFrame(path string) (image.Image, error) {
	d, err := OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer d.Close()

	img, err := d.Next()
	if errors.Is(err, io.EOF) {
		return nil, capture.ErrNoFrames
	}
	return img, err
}
