// Package capture owns the looping video source shared by the streaming endpoints.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"
	"sync/atomic"

	"github.com/dj-oyu/smart-parking/occupancy-server/internal/logger"
)

var (
	// ErrClosed is returned by reads after Close.
	ErrClosed = errors.New("capture closed")
	// ErrNoFrames is returned when the source yields nothing even after a rewind.
	ErrNoFrames = errors.New("video has no frames")
	// ErrUnavailable is returned when the source was never opened.
	ErrUnavailable = errors.New("video capture not available")
)

// Decoder is a sequential frame source. Next returns io.EOF at end of stream.
type Decoder interface {
	Next() (image.Image, error)
	Rewind() error
	Close() error
}

// Stats is a snapshot of Loop counters.
type Stats struct {
	FramesRead uint64 `json:"frames_read"`
	Rewinds    uint64 `json:"rewinds"`
	Opened     bool   `json:"opened"`
}

// Loop plays a Decoder forever, rewinding to frame zero at end of stream.
// It is the only owner of the decoder; reads are serialized.
type Loop struct {
	mu     sync.Mutex
	dec    Decoder
	closed bool

	framesRead atomic.Uint64
	rewinds    atomic.Uint64

	// OnRewind is called after each successful rewind.
	OnRewind func()
}

// NewLoop takes ownership of dec. A nil dec yields a Loop that is never opened.
func NewLoop(dec Decoder) *Loop {
	return &Loop{dec: dec}
}

// Opened reports whether the loop has a usable source.
func (l *Loop) Opened() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dec != nil && !l.closed
}

// ReadNext returns the next frame, rewinding once when the stream ends.
func (l *Loop) ReadNext(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrClosed
	}
	if l.dec == nil {
		return nil, ErrUnavailable
	}

	img, err := l.dec.Next()
	if err == nil {
		l.framesRead.Add(1)
		return img, nil
	}
	if !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read frame: %w", err)
	}

	if err := l.dec.Rewind(); err != nil {
		return nil, fmt.Errorf("rewind: %w", err)
	}
	l.rewinds.Add(1)
	if l.OnRewind != nil {
		l.OnRewind()
	}
	logger.Debug("Capture", "End of stream, rewound to frame 0 (rewinds=%d)", l.rewinds.Load())

	img, err = l.dec.Next()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoFrames
	}
	if err != nil {
		return nil, fmt.Errorf("read frame after rewind: %w", err)
	}
	l.framesRead.Add(1)
	return img, nil
}

// Stats returns the current counters.
func (l *Loop) Stats() Stats {
	return Stats{
		FramesRead: l.framesRead.Load(),
		Rewinds:    l.rewinds.Load(),
		Opened:     l.Opened(),
	}
}

// Close releases the decoder once. Failures are logged, not returned.
func (l *Loop) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	l.closed = true
	if l.dec == nil {
		return
	}
	if err := l.dec.Close(); err != nil {
		logger.Warn("Capture", "Failed to release video: %v", err)
		return
	}
	logger.Info("Capture", "Video released after %d frames", l.framesRead.Load())
}
