package demo

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/dj-oyu/smart-parking/occupancy-server/internal/analyzer"
	"github.com/dj-oyu/smart-parking/occupancy-server/internal/capture"
	"github.com/dj-oyu/smart-parking/occupancy-server/internal/classifier/classifiertest"
	"github.com/dj-oyu/smart-parking/occupancy-server/internal/metrics"
	"github.com/dj-oyu/smart-parking/occupancy-server/internal/slots"
	"github.com/dj-oyu/smart-parking/occupancy-server/pkg/types"
)

var testSlots = []types.Slot{{X: 100, Y: 100}, {X: 600, Y: 400}}

// lotFrame has the first slot painted white (occupied) and the rest black.
func lotFrame(bounds image.Rectangle) *image.RGBA {
	img := image.NewRGBA(bounds)
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.Black}, image.Point{}, draw.Src)
	draw.Draw(img, testSlots[0].Rect(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	return img
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type testEnv struct {
	ts      *httptest.Server
	clf     *classifiertest.Brightness
	metrics *metrics.Metrics

	mu    sync.Mutex
	paths []string
}

func (e *testEnv) uploads() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.paths...)
}

func newTestEnv(t *testing.T, firstFrame func(string) (image.Image, error)) *testEnv {
	t.Helper()
	return newTestEnvWithConfig(t, Config{}, firstFrame)
}

func newTestEnvWithConfig(t *testing.T, cfg Config, firstFrame func(string) (image.Image, error)) *testEnv {
	t.Helper()
	cfg.TempDir = t.TempDir()

	reg, err := slots.New(testSlots, types.FrameBounds)
	if err != nil {
		t.Fatal(err)
	}
	env := &testEnv{clf: classifiertest.NewBrightness(), metrics: metrics.New()}

	srv := NewServer(cfg, Deps{
		Analyzer: analyzer.New(reg, env.clf),
		Metrics:  env.metrics,
		FirstFrame: func(path string) (image.Image, error) {
			env.mu.Lock()
			env.paths = append(env.paths, path)
			env.mu.Unlock()
			if _, err := os.Stat(path); err != nil {
				t.Errorf("upload not on disk during decode: %v", err)
			}
			return firstFrame(path)
		},
	})
	env.ts = httptest.NewServer(srv.Handler())
	t.Cleanup(env.ts.Close)
	return env
}

func (e *testEnv) upload(t *testing.T, path, field, filename string, data []byte) (*http.Response, map[string]any) {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if field != "" {
		fw, err := mw.CreateFormFile(field, filename)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Post(e.ts.URL+path, mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, payload
}

func decodeDataURI(t *testing.T, uri string) image.Image {
	t.Helper()
	const prefix = "data:image/jpeg;base64,"
	if !strings.HasPrefix(uri, prefix) {
		t.Fatalf("image = %.40q...", uri)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, prefix))
	if err != nil {
		t.Fatal(err)
	}
	img, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	return img
}

func noVideo(string) (image.Image, error) {
	return nil, errors.New("unexpected call")
}

func TestAnalyzeImage(t *testing.T) {
	env := newTestEnv(t, noVideo)

	resp, got := env.upload(t, "/api/analyze/image", "image", "lot.png", pngBytes(t, lotFrame(types.FrameBounds)))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, got)
	}
	if resp.Header.Get(requestIDHeader) == "" {
		t.Fatal("missing request id header")
	}

	analysis := got["analysis"].(map[string]any)
	if analysis["free"] != float64(1) || analysis["occupied"] != float64(1) || analysis["total"] != float64(2) {
		t.Fatalf("analysis = %v", analysis)
	}
	if analysis["occupancy_rate"] != float64(50) {
		t.Fatalf("occupancy_rate = %v", analysis["occupancy_rate"])
	}
	slotsOut := analysis["slots"].([]any)
	first := slotsOut[0].(map[string]any)
	if conf, _ := first["confidence"].(float64); first["label"] != "occupied" || conf < 0.89 || conf > 0.91 {
		t.Fatalf("slot[0] = %v", first)
	}

	summary := got["summary"].(string)
	for _, want := range []string{"Parking Space Analysis Results", "**Free Spaces:** 1", "**Occupied Spaces:** 1", "**Total Spaces:** 2", "50.0%"} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q:\n%s", want, summary)
		}
	}

	img := decodeDataURI(t, got["image"].(string))
	if img.Bounds().Dx() != types.FrameWidth || img.Bounds().Dy() != types.FrameHeight {
		t.Fatalf("rendered size = %v", img.Bounds())
	}
	if env.clf.Calls() != 1 {
		t.Fatalf("Classify calls = %d", env.clf.Calls())
	}
	if env.metrics.DemoRequests.Load() != 1 {
		t.Fatalf("DemoRequests = %d", env.metrics.DemoRequests.Load())
	}
}

func TestAnalyzeImageResizesToCanonical(t *testing.T) {
	env := newTestEnv(t, noVideo)

	small := image.NewRGBA(image.Rect(0, 0, 640, 360))
	resp, got := env.upload(t, "/api/analyze/image", "image", "small.png", pngBytes(t, small))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	img := decodeDataURI(t, got["image"].(string))
	if img.Bounds() != types.FrameBounds {
		t.Fatalf("rendered bounds = %v", img.Bounds())
	}
}

func TestAnalyzeImageMissing(t *testing.T) {
	env := newTestEnv(t, noVideo)

	resp, got := env.upload(t, "/api/analyze/image", "", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got["summary"] != msgNoImage {
		t.Fatalf("summary = %v", got["summary"])
	}
	if env.clf.Calls() != 0 {
		t.Fatal("classifier must not run without an upload")
	}
}

func TestAnalyzeImageUndecodable(t *testing.T) {
	env := newTestEnv(t, noVideo)

	resp, got := env.upload(t, "/api/analyze/image", "image", "junk.png", []byte("not an image"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if s, _ := got["summary"].(string); !strings.HasPrefix(s, "Could not decode image") {
		t.Fatalf("summary = %v", got["summary"])
	}
}

func TestAnalyzeImageClassifierError(t *testing.T) {
	env := newTestEnv(t, noVideo)
	env.clf.Err = errors.New("session exploded")

	resp, got := env.upload(t, "/api/analyze/image", "image", "lot.png", pngBytes(t, lotFrame(types.FrameBounds)))
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if s, _ := got["error"].(string); !strings.Contains(s, "session exploded") {
		t.Fatalf("error = %v", got["error"])
	}
	if env.metrics.AnalysisErrors.Load() != 1 {
		t.Fatalf("AnalysisErrors = %d", env.metrics.AnalysisErrors.Load())
	}
}

func TestAnalyzeVideo(t *testing.T) {
	env := newTestEnv(t, func(string) (image.Image, error) {
		return lotFrame(types.FrameBounds), nil
	})

	resp, got := env.upload(t, "/api/analyze/video", "video", "clip.mp4", []byte("fake video bytes"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, got)
	}
	summary := got["summary"].(string)
	if !strings.Contains(summary, "Video Analysis Results (First Frame)") {
		t.Fatalf("summary = %q", summary)
	}
	paths := env.uploads()
	if len(paths) != 1 {
		t.Fatalf("FirstFrame calls = %d", len(paths))
	}
	if !strings.HasSuffix(paths[0], ".mp4") {
		t.Fatalf("temp file %q lost its extension", paths[0])
	}
	if _, err := os.Stat(paths[0]); !os.IsNotExist(err) {
		t.Fatalf("temp file not removed: %v", err)
	}
}

func TestAnalyzeVideoUnreadable(t *testing.T) {
	env := newTestEnv(t, func(string) (image.Image, error) {
		return nil, capture.ErrNoFrames
	})

	resp, got := env.upload(t, "/api/analyze/video", "video", "broken.mp4", []byte("garbage"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got["summary"] != msgUnreadVideo {
		t.Fatalf("summary = %v", got["summary"])
	}
	paths := env.uploads()
	if len(paths) != 1 {
		t.Fatalf("FirstFrame calls = %d", len(paths))
	}
	if _, err := os.Stat(paths[0]); !os.IsNotExist(err) {
		t.Fatalf("temp file not removed after failure: %v", err)
	}
}

func TestAnalyzeVideoMissing(t *testing.T) {
	env := newTestEnv(t, noVideo)

	resp, got := env.upload(t, "/api/analyze/video", "", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got["summary"] != msgNoVideo {
		t.Fatalf("summary = %v", got["summary"])
	}
	if len(env.uploads()) != 0 {
		t.Fatal("FirstFrame must not run without an upload")
	}
}

func TestRoutes(t *testing.T) {
	env := newTestEnv(t, noVideo)

	tests := []struct {
		method, path string
		want         int
		contentType  string
	}{
		{http.MethodGet, "/", http.StatusOK, "text/html"},
		{http.MethodGet, "/assets/parking.css", http.StatusOK, "text/css"},
		{http.MethodGet, "/metrics", http.StatusOK, "text/plain"},
		{http.MethodGet, "/api/analyze/image", http.StatusMethodNotAllowed, ""},
		{http.MethodGet, "/missing", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, env.ts.URL+tt.path, nil)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			if tt.contentType != "" && !strings.HasPrefix(resp.Header.Get("Content-Type"), tt.contentType) {
				t.Fatalf("Content-Type = %q", resp.Header.Get("Content-Type"))
			}
		})
	}
}

func TestSummaryZeroSlots(t *testing.T) {
	got := Summary(imageTitle, types.NewFrameAnalysis(nil))
	if !strings.Contains(got, "**Occupancy Rate:** 0.0%") {
		t.Fatalf("summary = %q", got)
	}
	if !strings.Contains(got, "**Total Spaces:** 0") {
		t.Fatalf("summary = %q", got)
	}
}

func TestSummaryRounding(t *testing.T) {
	a := types.NewFrameAnalysis([]types.ClassificationResult{
		{Label: types.LabelOccupied},
		{Label: types.LabelFree},
		{Label: types.LabelFree},
	})
	got := Summary(videoTitle, a)
	if !strings.HasPrefix(got, videoTitle) {
		t.Fatalf("summary = %q", got)
	}
	if !strings.Contains(got, "33.3%") {
		t.Fatalf("summary = %q", got)
	}
}

func TestUploadTooLarge(t *testing.T) {
	tests := []struct {
		path, field string
	}{
		{"/api/analyze/image", "image"},
		{"/api/analyze/video", "video"},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			env := newTestEnvWithConfig(t, Config{MaxUploadBytes: 1024}, noVideo)

			resp, got := env.upload(t, tt.path, tt.field, "big.bin", bytes.Repeat([]byte{0xAB}, 64<<10))
			if resp.StatusCode != http.StatusRequestEntityTooLarge {
				t.Fatalf("status = %d, body = %v", resp.StatusCode, got)
			}
			if s, _ := got["summary"].(string); !strings.Contains(s, "too large") || !strings.Contains(s, "1024") {
				t.Fatalf("summary = %v", got["summary"])
			}
			if env.clf.Calls() != 0 || len(env.uploads()) != 0 {
				t.Fatal("oversized upload must not reach analysis")
			}
		})
	}
}
