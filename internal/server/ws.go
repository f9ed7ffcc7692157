package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ayusman/pulselab/internal/session"
)

const (
	clientBuffer = 16
	writeTimeout = 2 * time.Second
)

// DefaultSampleInterval is used by RunSamples for a non-positive interval.
const DefaultSampleInterval = 250 * time.Millisecond

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// Message is one websocket frame sent to label clients.
type Message struct {
	Type    string          `json:"type"`
	Labels  *session.Labels `json:"labels,omitempty"`
	Samples []float64       `json:"samples,omitempty"`
}

// Message types.
const (
	MessageLabels  = "labels"
	MessageSamples = "samples"
)

// SampleSource provides the live normalized sample view.
type SampleSource interface {
	Normalized() []float64
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub is a session.Sink that broadcasts label changes to websocket clients.
type Hub struct {
	logger *zap.SugaredLogger

	mu      sync.RWMutex
	clients map[*client]struct{}
	labels  session.Labels
}

// NewHub creates a Hub with no clients.
func NewHub(logger *zap.SugaredLogger) *Hub {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Hub{
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

func (h *Hub) SetTimeRemaining(text string) {
	h.update(func(l *session.Labels) { l.TimeRemaining = text })
}

func (h *Hub) SetStatus(text string) {
	h.update(func(l *session.Labels) { l.Status = text })
}

func (h *Hub) SetRate(text string) {
	h.update(func(l *session.Labels) { l.Rate = text })
}

func (h *Hub) ShowHeartRateControls(show bool) {
	h.update(func(l *session.Labels) { l.Controls = show })
}

// Labels returns the labels last broadcast.
func (h *Hub) Labels() session.Labels {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.labels
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) update(fn func(*session.Labels)) {
	h.mu.Lock()
	fn(&h.labels)
	labels := h.labels
	h.mu.Unlock()

	h.broadcast(Message{Type: MessageLabels, Labels: &labels})
}

func (h *Hub) broadcast(msg Message) {
	b, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warnw("encoding websocket message", "type", msg.Type, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
			h.logger.Debugw("websocket client behind, message dropped", "type", msg.Type)
		}
	}
}

// RunSamples broadcasts the live sample view every interval until ctx is
// cancelled. Nothing is sent while the view is empty or nobody listens.
func (h *Hub) RunSamples(ctx context.Context, src SampleSource, clk clock.Clock, interval time.Duration) {
	if clk == nil {
		clk = clock.New()
	}
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	ticker := clk.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if h.Clients() == 0 {
				continue
			}
			if values := src.Normalized(); len(values) > 0 {
				h.broadcast(Message{Type: MessageSamples, Samples: values})
			}
		}
	}
}

// ServeHTTP handles WebSocket upgrade requests. A new client first receives
// the current labels.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}

	h.mu.Lock()
	labels := h.labels
	if b, err := json.Marshal(Message{Type: MessageLabels, Labels: &labels}); err == nil {
		c.send <- b
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(c)

	// Keep connection alive by reading messages
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	delete(h.clients, c)
	close(c.send)
	h.mu.Unlock()
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()
	for b := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
			h.logger.Debugw("websocket write failed", "error", err)
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
