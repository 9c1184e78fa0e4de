package webmonitor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/smart-parking/occupancy-server/internal/capture"
	"github.com/dj-oyu/smart-parking/occupancy-server/internal/logger"
	"github.com/dj-oyu/smart-parking/occupancy-server/internal/metrics"
	"github.com/dj-oyu/smart-parking/occupancy-server/pkg/types"
)

// FrameBroadcaster manages fanout of annotated JPEG frames to multiple clients.
type FrameBroadcaster struct {
	mu        sync.Mutex
	clients   map[int]chan []byte
	nextID    int
	pipeline  *Pipeline
	monitor   *Monitor
	events    *EventBroadcaster
	metrics   *metrics.Metrics
	interval  time.Duration
	idleSleep time.Duration
	stop      chan struct{}
	done      chan struct{}
	started   bool
	stopped   bool
	skipCount  int  // Count of cycles skipped when no clients
	sourceDown bool // Video source reported unavailable or closed
}

// NewFrameBroadcaster creates a broadcaster that runs the pipeline and fans out frames.
func NewFrameBroadcaster(pipeline *Pipeline, monitor *Monitor, events *EventBroadcaster, m *metrics.Metrics, cfg Config) *FrameBroadcaster {
	return &FrameBroadcaster{
		clients:   make(map[int]chan []byte),
		pipeline:  pipeline,
		monitor:   monitor,
		events:    events,
		metrics:   m,
		interval:  cfg.MJPEGInterval,
		idleSleep: cfg.IdleSleep,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Subscribe adds a new client and returns a channel for receiving frames.
func (fb *FrameBroadcaster) Subscribe() (int, <-chan []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	id := fb.nextID
	fb.nextID++
	ch := make(chan []byte, 2) // Buffer 2 frames to avoid blocking
	if fb.stopped {
		close(ch)
		return id, ch
	}
	fb.clients[id] = ch
	if fb.metrics != nil {
		fb.metrics.StreamClients.Add(1)
		fb.metrics.TotalClients.Add(1)
	}

	logger.Debug("FrameBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(fb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (fb *FrameBroadcaster) Unsubscribe(id int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if ch, ok := fb.clients[id]; ok {
		close(ch)
		delete(fb.clients, id)
		if fb.metrics != nil {
			fb.metrics.StreamClients.Add(-1)
		}
		logger.Debug("FrameBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(fb.clients))

		if len(fb.clients) == 0 {
			logger.Info("FrameBroadcaster", "No clients remaining - frame generation will be skipped")
		}
	}
}

// ClientCount returns the number of subscribed clients.
func (fb *FrameBroadcaster) ClientCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.clients)
}

// Start begins the frame generation and broadcast loop.
func (fb *FrameBroadcaster) Start() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.started || fb.stopped {
		return
	}
	fb.started = true
	go fb.run()
}

// Stop halts the broadcaster, waits for the loop to exit and disconnects clients.
func (fb *FrameBroadcaster) Stop() {
	fb.mu.Lock()
	if fb.stopped {
		fb.mu.Unlock()
		return
	}
	close(fb.stop)
	fb.stopped = true
	started := fb.started
	fb.mu.Unlock()

	if started {
		<-fb.done
	}

	fb.mu.Lock()
	for id, ch := range fb.clients {
		close(ch)
		delete(fb.clients, id)
		if fb.metrics != nil {
			fb.metrics.StreamClients.Add(-1)
		}
	}
	fb.mu.Unlock()
}

func (fb *FrameBroadcaster) run() {
	defer close(fb.done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-fb.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(fb.interval)
	defer ticker.Stop()

	for {
		select {
		case <-fb.stop:
			return
		default:
		}

		clientCount := fb.ClientCount() + fb.events.ClientCount()
		if clientCount == 0 {
			// No clients - sleep instead of reading the video
			fb.skipCount++
			if fb.skipCount%50 == 0 {
				logger.Debug("FrameBroadcaster", "No clients connected, sleeping (idle for %d cycles)", fb.skipCount)
			}
			select {
			case <-fb.stop:
				return
			case <-time.After(fb.idleSleep):
			}
			continue
		}
		fb.skipCount = 0

		jpegData, analysis, err := fb.pipeline.Annotated(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			fb.logPipelineError(err)
		} else {
			if fb.sourceDown {
				logger.Info("FrameBroadcaster", "Video source available again")
				fb.sourceDown = false
			}
			event := fb.monitor.UpdateAnalysis(analysis)
			fb.events.Publish(event)
			fb.broadcast(jpegData)
		}

		select {
		case <-fb.stop:
			return
		case <-ticker.C:
		}
	}
}

func (fb *FrameBroadcaster) logPipelineError(err error) {
	var readErr *ReadError
	switch {
	case errors.Is(err, capture.ErrUnavailable), errors.Is(err, capture.ErrClosed):
		if !fb.sourceDown {
			logger.Warn("FrameBroadcaster", "Video source unavailable: %v", err)
			fb.sourceDown = true
		}
	case errors.As(err, &readErr):
		logger.Warn("FrameBroadcaster", "Frame read failed: %v", err)
	default:
		logger.Error("FrameBroadcaster", "Frame analysis failed: %v", err)
	}
}

func (fb *FrameBroadcaster) broadcast(data []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	for _, ch := range fb.clients {
		select {
		case ch <- data:
			if fb.metrics != nil {
				fb.metrics.FramesStreamed.Add(1)
			}
		default:
			// Client too slow, skip this frame for this client
			if fb.metrics != nil {
				fb.metrics.FramesDropped.Add(1)
			}
		}
	}
}

// SerializedEvent holds pre-serialized data in both formats.
// This avoids redundant serialization when broadcasting to multiple clients.
type SerializedEvent struct {
	Event        types.OccupancyEvent
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // Pre-serialized Protobuf (base64 encoded for SSE)
}

// EventBroadcaster fans occupancy events out to SSE and WebSocket clients.
type EventBroadcaster struct {
	mu      sync.Mutex
	clients map[int]chan *SerializedEvent
	nextID  int
	metrics *metrics.Metrics
	closed  bool
}

// NewEventBroadcaster creates an empty event broadcaster. m may be nil.
func NewEventBroadcaster(m *metrics.Metrics) *EventBroadcaster {
	return &EventBroadcaster{
		clients: make(map[int]chan *SerializedEvent),
		metrics: m,
	}
}

// Subscribe adds a new client and returns a channel for receiving events.
func (eb *EventBroadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	id := eb.nextID
	eb.nextID++
	ch := make(chan *SerializedEvent, 2) // Buffer 2 events to avoid blocking
	if eb.closed {
		close(ch)
		return id, ch
	}
	eb.clients[id] = ch
	if eb.metrics != nil {
		eb.metrics.EventClients.Add(1)
		eb.metrics.TotalClients.Add(1)
	}

	logger.Debug("EventBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(eb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (eb *EventBroadcaster) Unsubscribe(id int) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if ch, ok := eb.clients[id]; ok {
		close(ch)
		delete(eb.clients, id)
		if eb.metrics != nil {
			eb.metrics.EventClients.Add(-1)
		}
		logger.Debug("EventBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(eb.clients))
	}
}

// ClientCount returns the number of subscribed clients.
func (eb *EventBroadcaster) ClientCount() int {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	return len(eb.clients)
}

// Publish serializes ev once and sends it to every client. Slow clients skip it.
func (eb *EventBroadcaster) Publish(ev types.OccupancyEvent) {
	if eb.ClientCount() == 0 {
		return
	}
	event, err := serializeEvent(ev)
	if err != nil {
		logger.Error("EventBroadcaster", "Serialize error: %v", err)
		return
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()
	for _, ch := range eb.clients {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close disconnects every client. Later subscribers receive a closed channel.
func (eb *EventBroadcaster) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		return
	}
	eb.closed = true
	for id, ch := range eb.clients {
		close(ch)
		delete(eb.clients, id)
		if eb.metrics != nil {
			eb.metrics.EventClients.Add(-1)
		}
	}
}

func serializeEvent(ev types.OccupancyEvent) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}

	pbEvent, err := eventStruct(ev)
	if err != nil {
		return nil, err
	}
	pbData, err := proto.Marshal(pbEvent)
	if err != nil {
		return nil, err
	}

	return &SerializedEvent{
		Event:        ev,
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}

func eventStruct(ev types.OccupancyEvent) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"frame_number":   ev.FrameNumber,
		"timestamp":      float64(ev.Timestamp.UnixNano()) / 1e9,
		"free":           ev.Free,
		"occupied":       ev.Occupied,
		"total":          ev.Total,
		"occupancy_rate": ev.OccupancyRate,
	})
}

func spaceCountStruct(sc SpaceCount) (*structpb.Struct, error) {
	fields := map[string]any{
		"free":     sc.Free,
		"occupied": sc.Occupied,
	}
	if sc.Error != "" {
		fields["error"] = sc.Error
	}
	return structpb.NewStruct(fields)
}
