package webmonitor

import "github.com/dj-oyu/smart-parking/occupancy-server/pkg/types"

// SpaceCount is the /space_count payload.
type SpaceCount struct {
	Free     int    `json:"free"`
	Occupied int    `json:"occupied"`
	Error    string `json:"error,omitempty"`
}

// Error messages reported in SpaceCount.Error.
const (
	msgCaptureUnavailable = "Video capture not available"
	msgReadFailed         = "Failed to read frame"
)

// MonitorStats summarizes the streaming pipeline for /api/status.
type MonitorStats struct {
	FramesAnalyzed uint64  `json:"frames_analyzed"`
	FramesRead     uint64  `json:"frames_read"`
	Rewinds        uint64  `json:"rewinds"`
	CurrentFPS     float64 `json:"current_fps"`
	TargetFPS      float64 `json:"target_fps"`
	StreamClients  int     `json:"stream_clients"`
	EventClients   int     `json:"event_clients"`
	SlotCount      int     `json:"slot_count"`
	CaptureOpened  bool    `json:"capture_opened"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
}

// StatusPayload is the /api/status response.
type StatusPayload struct {
	Monitor        MonitorStats           `json:"monitor"`
	LatestAnalysis *types.FrameAnalysis   `json:"latest_analysis"`
	LatestEvent    *types.OccupancyEvent  `json:"latest_event"`
	History        []types.OccupancyEvent `json:"history"`
	Timestamp      float64                `json:"timestamp"`
}
