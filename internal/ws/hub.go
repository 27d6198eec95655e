// Package ws serves the live preview, diagnostics feed and health endpoint
// over HTTP.
package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	diag "github.com/coreman2200/tcp-led-stream/internal/diagnostics"
	"github.com/coreman2200/tcp-led-stream/internal/frame"
	"github.com/coreman2200/tcp-led-stream/internal/metrics"
	"github.com/coreman2200/tcp-led-stream/internal/pixel"
)

const (
	sendQueue    = 8
	writeTimeout = 200 * time.Millisecond
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans committed frames and diagnostics out to websocket viewers. Sends
// never block the caller; a viewer that falls behind loses messages.
type Hub struct {
	mu          sync.RWMutex
	layout      frame.Layout
	mode        string
	stats       func() metrics.Snapshot
	gap         time.Duration
	lastEmit    time.Time
	frameID     uint64
	startTime   time.Time
	clients     map[*client]bool
	diagClients map[*client]bool
	log         zerolog.Logger

	upgrader websocket.Upgrader
}

// NewHub builds a hub for layout. previewFPS caps preview broadcasts; zero or
// less sends every committed frame. stats may be nil.
func NewHub(layout frame.Layout, mode string, previewFPS int, stats func() metrics.Snapshot, logger zerolog.Logger) *Hub {
	h := &Hub{
		layout:      layout,
		mode:        mode,
		stats:       stats,
		startTime:   time.Now(),
		clients:     map[*client]bool{},
		diagClients: map[*client]bool{},
		log:         logger.With().Str("component", "ws").Logger(),
		upgrader:    websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
	if previewFPS > 0 {
		h.gap = time.Second / time.Duration(previewFPS)
	}
	return h
}

type previewFrame struct {
	T       int64  `json:"t"`
	FrameID uint64 `json:"frame_id"`
	Seq     uint64 `json:"seq"`
	RGB     []byte `json:"rgb"`
}

// FrameCommitted broadcasts f as flat RGB unless the preview rate was
// exceeded. It reports whether the frame was sent.
func (h *Hub) FrameCommitted(f frame.Frame, now time.Time) bool {
	h.mu.Lock()
	if !h.lastEmit.IsZero() && now.Sub(h.lastEmit) < h.gap {
		h.mu.Unlock()
		return false
	}
	h.lastEmit = now
	h.frameID++
	id := h.frameID
	h.mu.Unlock()

	rgb := make([]byte, 0, f.Pixels()*3)
	for _, light := range f.Lights {
		rgb = append(rgb, pixel.Encode(pixel.RGB, light)...)
	}
	b, err := json.Marshal(previewFrame{T: now.UnixNano(), FrameID: id, Seq: f.Seq, RGB: rgb})
	if err != nil {
		return false
	}
	h.broadcast(h.clients, b)
	return true
}

// Diagnostic pushes d to every /diag viewer.
func (h *Hub) Diagnostic(d diag.Diagnostic) {
	b, err := json.Marshal(d)
	if err != nil {
		return
	}
	h.broadcast(h.diagClients, b)
}

// HandleFramesWS streams preview frames, starting with the light topology.
func (h *Hub) HandleFramesWS(w http.ResponseWriter, r *http.Request) {
	hello, _ := json.Marshal(h.topology())
	h.attach(w, r, h.clients, hello)
}

func (h *Hub) HandleDiagWS(w http.ResponseWriter, r *http.Request) {
	h.attach(w, r, h.diagClients, nil)
}

func (h *Hub) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	resp := map[string]any{
		"frame_id":   h.frameID,
		"uptime_s":   time.Since(h.startTime).Seconds(),
		"mode":       h.mode,
		"format":     h.layout.Format().String(),
		"frame_size": h.layout.FrameSize(),
		"pixels":     h.layout.TotalPixels(),
	}
	h.mu.RUnlock()
	if h.stats != nil {
		s := h.stats()
		resp["connected"] = s.Connected
		resp["fps"] = s.FrameRate
		resp["bytes_received"] = s.BytesReceived
		resp["frames"] = s.Frames
		resp["overlaps"] = s.Overlaps
		resp["connects"] = s.Connects
		resp["disconnects"] = s.Disconnects
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

type topologyLight struct {
	Name   string `json:"name"`
	Pixels int    `json:"pixels"`
	Offset int    `json:"offset"`
}

func (h *Hub) topology() map[string]any {
	var lights []topologyLight
	for _, t := range h.layout.Targets() {
		lights = append(lights, topologyLight{Name: t.Name, Pixels: t.Pixels, Offset: t.Offset})
	}
	return map[string]any{
		"type":       "topology",
		"format":     h.layout.Format().String(),
		"frame_size": h.layout.FrameSize(),
		"lights":     lights,
	}
}

func (h *Hub) attach(w http.ResponseWriter, r *http.Request, set map[*client]bool, hello []byte) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendQueue)}
	if hello != nil {
		c.send <- hello
	}
	h.mu.Lock()
	set[c] = true
	h.mu.Unlock()

	go h.writePump(c)
	go func() {
		defer h.detach(c, set)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) detach(c *client, set map[*client]bool) {
	h.mu.Lock()
	if set[c] {
		delete(set, c)
		close(c.send)
	}
	h.mu.Unlock()
	_ = c.conn.Close()
}

func (h *Hub) writePump(c *client) {
	for b := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
			h.log.Debug().Err(err).Msg("write ws")
		}
	}
}

func (h *Hub) broadcast(set map[*client]bool, b []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range set {
		select {
		case c.send <- b:
		default:
		}
	}
}
