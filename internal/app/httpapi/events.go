package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/storyloft/studio_layer/internal/app/domain/job"
	"github.com/storyloft/studio_layer/internal/app/system"
	"github.com/storyloft/studio_layer/internal/middleware"
	"github.com/storyloft/studio_layer/pkg/logger"
)

var _ system.Service = (*EventHub)(nil)

const (
	writeWait      = 10 * time.Second
	clientQueueLen = 16
)

// jobEvent is the wire format pushed to websocket clients.
type jobEvent struct {
	Type      string    `json:"type"`
	JobID     string    `json:"job_id"`
	ProjectID string    `json:"project_id"`
	AssetID   string    `json:"asset_id"`
	VersionID string    `json:"version_id"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status"`
	Output    string    `json:"output,omitempty"`
	Error     string    `json:"error,omitempty"`
	Time      time.Time `json:"time"`
}

type client struct {
	userID string
	send   chan jobEvent
}

// EventHub fans generation job transitions out to connected websocket
// clients. Each client only receives events for its own jobs.
type EventHub struct {
	log      *logger.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]bool
	running bool
}

// NewEventHub constructs the hub.
func NewEventHub(log *logger.Logger) *EventHub {
	if log == nil {
		log = logger.NewDefault("events")
	}
	return &EventHub{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]bool),
	}
}

func (h *EventHub) Name() string { return "event-hub" }

func (h *EventHub) Start(_ context.Context) error {
	h.mu.Lock()
	h.running = true
	h.mu.Unlock()
	return nil
}

func (h *EventHub) Stop(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = false
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	return nil
}

// PublishJob implements generation.Publisher. Slow clients are skipped
// rather than blocking the job pipeline.
func (h *EventHub) PublishJob(j job.Job) {
	event := jobEvent{
		Type:      "job",
		JobID:     j.ID,
		ProjectID: j.ProjectID,
		AssetID:   j.AssetID,
		VersionID: j.VersionID,
		Kind:      string(j.Kind),
		Status:    string(j.Status),
		Output:    j.Output,
		Error:     j.Error,
		Time:      time.Now().UTC(),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.userID != j.OwnerID {
			continue
		}
		select {
		case c.send <- event:
		default:
			h.log.WithField("user_id", c.userID).Warn("dropping event for slow client")
		}
	}
}

// ServeHTTP upgrades the request and streams the caller's job events.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &client{userID: userID, send: make(chan jobEvent, clientQueueLen)}

	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = true
	h.mu.Unlock()

	go h.writeLoop(conn, c)
	h.readLoop(conn, c)
}

func (h *EventHub) writeLoop(conn *websocket.Conn, c *client) {
	defer conn.Close()
	for event := range c.send {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.CloseMessage, nil)
}

// readLoop drains client frames until the connection drops, then removes the
// client from the hub.
func (h *EventHub) readLoop(conn *websocket.Conn, c *client) {
	defer func() {
		h.mu.Lock()
		if h.clients[c] {
			delete(h.clients, c)
			close(c.send)
		}
		h.mu.Unlock()
		conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
