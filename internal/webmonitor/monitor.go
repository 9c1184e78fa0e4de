package webmonitor

import (
	"sync"
	"time"

	"github.com/dj-oyu/smart-parking/occupancy-server/pkg/types"
)

// Monitor keeps the latest analysis and a short history of occupancy changes.
type Monitor struct {
	startTime   time.Time
	targetFPS   float64
	historySize int
	now         func() time.Time

	mu           sync.Mutex
	frameCounter uint64
	latest       *types.FrameAnalysis
	latestEvent  *types.OccupancyEvent
	history      []types.OccupancyEvent

	windowStart  time.Time
	windowFrames int
	currentFPS   float64
}

// NewMonitor creates a Monitor for a stream paced at interval.
func NewMonitor(interval time.Duration, historySize int) *Monitor {
	var target float64
	if interval > 0 {
		target = float64(time.Second) / float64(interval)
	}
	now := time.Now()
	return &Monitor{
		startTime:   now,
		targetFPS:   target,
		historySize: historySize,
		now:         time.Now,
		windowStart: now,
	}
}

// UpdateAnalysis records a new frame analysis and returns its event.
func (m *Monitor) UpdateAnalysis(a types.FrameAnalysis) types.OccupancyEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.frameCounter++
	event := types.NewOccupancyEvent(m.frameCounter, now, a)

	changed := m.latestEvent == nil ||
		m.latestEvent.Free != event.Free ||
		m.latestEvent.Occupied != event.Occupied
	if changed {
		m.history = append([]types.OccupancyEvent{event}, m.history...)
		if len(m.history) > m.historySize {
			m.history = m.history[:m.historySize]
		}
	}

	m.latest = &a
	m.latestEvent = &event

	m.windowFrames++
	if elapsed := now.Sub(m.windowStart); elapsed >= time.Second {
		m.currentFPS = float64(m.windowFrames) / elapsed.Seconds()
		m.windowStart = now
		m.windowFrames = 0
	}
	return event
}

// MonitorSnapshot is a consistent copy of the monitor state.
type MonitorSnapshot struct {
	FramesAnalyzed uint64
	CurrentFPS     float64
	TargetFPS      float64
	Uptime         time.Duration
	Latest         *types.FrameAnalysis
	LatestEvent    *types.OccupancyEvent
	History        []types.OccupancyEvent
}

// Snapshot returns the current monitor state.
func (m *Monitor) Snapshot() MonitorSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	historyCopy := make([]types.OccupancyEvent, len(m.history))
	copy(historyCopy, m.history)

	s := MonitorSnapshot{
		FramesAnalyzed: m.frameCounter,
		CurrentFPS:     m.currentFPS,
		TargetFPS:      m.targetFPS,
		Uptime:         m.now().Sub(m.startTime),
		History:        historyCopy,
	}
	if m.latest != nil {
		latest := *m.latest
		s.Latest = &latest
	}
	if m.latestEvent != nil {
		ev := *m.latestEvent
		s.LatestEvent = &ev
	}
	return s
}
