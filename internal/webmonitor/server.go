package webmonitor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/protobuf/proto"

	"github.com/dj-oyu/smart-parking/occupancy-server/internal/analyzer"
	"github.com/dj-oyu/smart-parking/occupancy-server/internal/capture"
	"github.com/dj-oyu/smart-parking/occupancy-server/internal/logger"
	"github.com/dj-oyu/smart-parking/occupancy-server/internal/metrics"
)

// Deps are the long-lived components the server is built from.
type Deps struct {
	Loop     *capture.Loop
	Analyzer *analyzer.Analyzer
	Metrics  *metrics.Metrics // optional
}

// Server serves the parking stream and occupancy endpoints.
type Server struct {
	cfg         Config
	monitor     *Monitor
	pipeline    *Pipeline
	metrics     *metrics.Metrics
	broadcaster *FrameBroadcaster
	events      *EventBroadcaster
}

// NewServer returns a configured server with its frame broadcaster running.
func NewServer(cfg Config, deps Deps) *Server {
	cfg = cfg.withDefaults()

	monitor := NewMonitor(cfg.MJPEGInterval, cfg.HistorySize)
	pipeline := NewPipeline(deps.Loop, deps.Analyzer, deps.Metrics, cfg.JPEGQuality)
	events := NewEventBroadcaster(deps.Metrics)
	broadcaster := NewFrameBroadcaster(pipeline, monitor, events, deps.Metrics, cfg)
	broadcaster.Start()

	return &Server{
		cfg:         cfg,
		monitor:     monitor,
		pipeline:    pipeline,
		metrics:     deps.Metrics,
		broadcaster: broadcaster,
		events:      events,
	}
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.Handle("/assets/", http.StripPrefix("/assets/", NewAssetHandler(s.cfg.AssetsDir)))
	mux.HandleFunc("/video_feed", s.handleVideoFeed)
	mux.HandleFunc("/space_count", s.handleSpaceCount)
	mux.HandleFunc("/api/occupancy/stream", s.handleOccupancyStream)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}

	return mux
}

// Close stops the broadcaster and disconnects streaming clients.
func (s *Server) Close() {
	s.broadcaster.Stop()
	s.events.Close()
	logger.Info("WebMonitor", "Broadcasters stopped")
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleVideoFeed(w http.ResponseWriter, r *http.Request) {
	id, frameCh := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(id)
	streamMJPEGFromChannel(r.Context(), w, frameCh, s.cfg.BlankAfter)
}

func (s *Server) handleSpaceCount(w http.ResponseWriter, r *http.Request) {
	if s.metrics != nil {
		s.metrics.SnapshotRequests.Add(1)
	}

	if !s.pipeline.Loop().Opened() {
		s.writeSpaceCount(w, r, SpaceCount{Error: msgCaptureUnavailable})
		return
	}

	analysis, err := s.pipeline.Snapshot(r.Context())
	var readErr *ReadError
	switch {
	case err == nil:
		s.writeSpaceCount(w, r, SpaceCount{Free: analysis.Free, Occupied: analysis.Occupied})
	case errors.Is(err, capture.ErrUnavailable), errors.Is(err, capture.ErrClosed):
		s.writeSpaceCount(w, r, SpaceCount{Error: msgCaptureUnavailable})
	case errors.As(err, &readErr):
		logger.Warn("SpaceCount", "Frame read failed: %v", err)
		s.writeSpaceCount(w, r, SpaceCount{Error: msgReadFailed})
	default:
		logger.Error("SpaceCount", "Analysis failed: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": "Analysis failed: " + err.Error()}, http.StatusInternalServerError)
	}
}

func (s *Server) writeSpaceCount(w http.ResponseWriter, r *http.Request, sc SpaceCount) {
	if !wantsProtobuf(r) {
		writeJSON(w, sc)
		return
	}

	msg, err := spaceCountStruct(sc)
	if err == nil {
		var data []byte
		if data, err = proto.Marshal(msg); err == nil {
			w.Header().Set("Content-Type", "application/protobuf")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(data)
			return
		}
	}
	logger.Error("SpaceCount", "Protobuf marshal error: %v", err)
	writeJSON(w, sc)
}

func (s *Server) handleOccupancyStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.events.Subscribe()
	defer s.events.Unsubscribe(id)

	streamEventsFromChannel(r.Context(), w, eventCh, wantsProtobuf(r), s.cfg.KeepAliveInterval)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Status())
}

// Status builds the /api/status payload.
func (s *Server) Status() StatusPayload {
	snap := s.monitor.Snapshot()
	loopStats := s.pipeline.Loop().Stats()

	return StatusPayload{
		Monitor: MonitorStats{
			FramesAnalyzed: snap.FramesAnalyzed,
			FramesRead:     loopStats.FramesRead,
			Rewinds:        loopStats.Rewinds,
			CurrentFPS:     snap.CurrentFPS,
			TargetFPS:      snap.TargetFPS,
			StreamClients:  s.broadcaster.ClientCount(),
			EventClients:   s.events.ClientCount(),
			SlotCount:      s.pipeline.SlotCount(),
			CaptureOpened:  loopStats.Opened,
			UptimeSeconds:  snap.Uptime.Seconds(),
		},
		LatestAnalysis: snap.Latest,
		LatestEvent:    snap.LatestEvent,
		History:        snap.History,
		Timestamp:      float64(time.Now().Unix()),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if !s.pipeline.Loop().Opened() {
		status = "degraded"
	}
	writeJSONWithStatus(w, map[string]any{
		"status":         status,
		"capture_opened": s.pipeline.Loop().Opened(),
		"slots":          s.pipeline.SlotCount(),
	}, http.StatusOK)
}

func wantsProtobuf(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
