// Package demo serves the upload page that analyzes a single image or the
// first frame of an uploaded video.
package demo

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/dj-oyu/smart-parking/occupancy-server/internal/analyzer"
	"github.com/dj-oyu/smart-parking/occupancy-server/internal/capture/opencv"
	"github.com/dj-oyu/smart-parking/occupancy-server/internal/logger"
	"github.com/dj-oyu/smart-parking/occupancy-server/internal/metrics"
	"github.com/dj-oyu/smart-parking/occupancy-server/internal/render"
	"github.com/dj-oyu/smart-parking/occupancy-server/internal/webmonitor"
	"github.com/dj-oyu/smart-parking/occupancy-server/pkg/types"
)

const (
	msgNoImage      = "Please upload an image"
	msgNoVideo      = "Please upload a video file"
	msgUnreadVideo  = "Could not read video file"
	requestIDHeader = "X-Request-ID"
)

// Config holds demo server settings.
type Config struct {
	AssetsDir      string
	JPEGQuality    int
	MaxUploadBytes int64
	TempDir        string // "" uses os.TempDir
}

// DefaultConfig returns the demo defaults.
func DefaultConfig() Config {
	return Config{
		JPEGQuality:    90,
		MaxUploadBytes: 64 << 20,
	}
}

// FirstFrameFunc returns the first decodable frame of the video at path.
type FirstFrameFunc func(path string) (image.Image, error)

// Deps are the components shared by every request.
type Deps struct {
	Analyzer   *analyzer.Analyzer
	Metrics    *metrics.Metrics // optional
	FirstFrame FirstFrameFunc   // nil uses opencv.FirstFrame
}

// Server handles the interactive analysis endpoints.
type Server struct {
	cfg        Config
	analyzer   *analyzer.Analyzer
	metrics    *metrics.Metrics
	firstFrame FirstFrameFunc
}

// AnalysisPayload is the JSON form of a FrameAnalysis.
type AnalysisPayload struct {
	Free          int                          `json:"free"`
	Occupied      int                          `json:"occupied"`
	Total         int                          `json:"total"`
	OccupancyRate float64                      `json:"occupancy_rate"`
	Slots         []types.ClassificationResult `json:"slots"`
}

// Response is returned by both analyze endpoints on success.
type Response struct {
	Image    string          `json:"image"`
	Summary  string          `json:"summary"`
	Analysis AnalysisPayload `json:"analysis"`
}

// NewServer returns a demo server.
func NewServer(cfg Config, deps Deps) *Server {
	def := DefaultConfig()
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = def.JPEGQuality
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = def.MaxUploadBytes
	}
	ff := deps.FirstFrame
	if ff == nil {
		ff = opencv.FirstFrame
	}
	return &Server{
		cfg:        cfg,
		analyzer:   deps.Analyzer,
		metrics:    deps.Metrics,
		firstFrame: ff,
	}
}

// Handler returns the router for the demo.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(requestID)

	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.PathPrefix("/assets/").Handler(http.StripPrefix("/assets/", webmonitor.NewAssetHandler(s.cfg.AssetsDir))).Methods(http.MethodGet)
	r.HandleFunc("/api/analyze/image", s.handleAnalyzeImage).Methods(http.MethodPost)
	r.HandleFunc("/api/analyze/video", s.handleAnalyzeVideo).Methods(http.MethodPost)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
	return r
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleAnalyzeImage(w http.ResponseWriter, r *http.Request) {
	s.countRequest()
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	file, _, err := r.FormFile("image")
	if err != nil {
		s.writeUploadError(w, err, msgNoImage)
		return
	}
	defer file.Close()

	img, format, err := image.Decode(file)
	if err != nil {
		logger.Debug("Demo", "[%s] decode failed: %v", w.Header().Get(requestIDHeader), err)
		writeSummaryError(w, "Could not decode image: "+err.Error())
		return
	}
	logger.Debug("Demo", "[%s] image %s %v", w.Header().Get(requestIDHeader), format, img.Bounds().Size())

	s.respond(w, r, img, imageTitle)
}

func (s *Server) handleAnalyzeVideo(w http.ResponseWriter, r *http.Request) {
	s.countRequest()
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	file, header, err := r.FormFile("video")
	if err != nil {
		s.writeUploadError(w, err, msgNoVideo)
		return
	}
	defer file.Close()

	path, err := s.storeUpload(file, filepath.Ext(header.Filename))
	if err != nil {
		logger.Error("Demo", "[%s] store upload: %v", w.Header().Get(requestIDHeader), err)
		writeJSONWithStatus(w, map[string]string{"error": "Could not store upload"}, http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("Demo", "Failed to remove %s: %v", path, err)
		}
	}()

	frame, err := s.firstFrame(path)
	if err != nil {
		logger.Debug("Demo", "[%s] first frame: %v", w.Header().Get(requestIDHeader), err)
		writeSummaryError(w, msgUnreadVideo)
		return
	}

	s.respond(w, r, frame, videoTitle)
}

func (s *Server) storeUpload(src io.Reader, ext string) (string, error) {
	f, err := os.CreateTemp(s.cfg.TempDir, "parking-upload-*"+ext)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return f.Name(), nil
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, img image.Image, title string) {
	start := time.Now()
	id := w.Header().Get(requestIDHeader)

	frame := s.analyzer.Canonicalize(img)
	a, err := s.analyzer.Analyze(r.Context(), frame)
	if err != nil {
		logger.Error("Demo", "[%s] analysis failed: %v", id, err)
		if s.metrics != nil {
			s.metrics.AnalysisErrors.Add(1)
		}
		writeJSONWithStatus(w, map[string]string{"error": "Analysis failed: " + err.Error()}, http.StatusInternalServerError)
		return
	}
	if s.metrics != nil {
		s.metrics.FramesAnalyzed.Add(1)
	}

	out := render.Render(frame, a.Results, render.Options{ShowConfidence: true})
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: s.cfg.JPEGQuality}); err != nil {
		logger.Error("Demo", "[%s] encode failed: %v", id, err)
		writeJSONWithStatus(w, map[string]string{"error": "Encoding failed: " + err.Error()}, http.StatusInternalServerError)
		return
	}

	logger.Info("Demo", "[%s] free=%d occupied=%d in %v", id, a.Free, a.Occupied, time.Since(start))

	writeJSONWithStatus(w, Response{
		Image:   "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
		Summary: Summary(title, a),
		Analysis: AnalysisPayload{
			Free:          a.Free,
			Occupied:      a.Occupied,
			Total:         a.Total,
			OccupancyRate: a.OccupancyRate(),
			Slots:         a.Results,
		},
	}, http.StatusOK)
}

func (s *Server) countRequest() {
	if s.metrics != nil {
		s.metrics.DemoRequests.Add(1)
	}
}

// writeUploadError reports a FormFile failure: 413 when the body exceeded
// MaxUploadBytes, otherwise 400 with missing.
func (s *Server) writeUploadError(w http.ResponseWriter, err error, missing string) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeJSONWithStatus(w, map[string]string{
			"summary": fmt.Sprintf("Upload too large (limit %d bytes)", tooLarge.Limit),
		}, http.StatusRequestEntityTooLarge)
		return
	}
	writeSummaryError(w, missing)
}

func writeSummaryError(w http.ResponseWriter, msg string) {
	writeJSONWithStatus(w, map[string]string{"summary": msg}, http.StatusBadRequest)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
