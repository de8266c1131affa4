package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/atlasmap-sc/heatmap/internal/metrics"
	"github.com/atlasmap-sc/heatmap/internal/ordering"
	"github.com/atlasmap-sc/heatmap/internal/queue"
	"github.com/atlasmap-sc/heatmap/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64

	// Payloads sent as JSON strings carry escaping overhead on the wire.
	frameOverhead = 4096
)

var errTooManyPayloads = errors.New("too many payloads")

// Event is a message pushed to connected hosts.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Message is a request received from a host.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Enqueuer accepts raw dataset payloads.
type Enqueuer interface {
	Enqueue(payload []byte)
}

type client struct {
	conn *websocket.Conn
	send chan Event
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// HubConfig bounds what hosts may send over the socket.
type HubConfig struct {
	MaxPayloadBytes int64         // <= 0 disables the size check
	Limiter         *rate.Limiter // shared with POST /api/data; nil disables limiting
	AllowedOrigins  []string      // "*" admits any origin
	Metrics         *metrics.Metrics
}

// Hub bridges the controller to host applications over WebSocket. It is a
// session listener: every state change is broadcast to all clients.
type Hub struct {
	session  *session.Controller
	queue    Enqueuer
	cfg      HubConfig
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHub creates a hub that applies host requests to ctrl and forwards
// payloads to q.
func NewHub(ctrl *session.Controller, q Enqueuer, cfg HubConfig) *Hub {
	h := &Hub{
		session: ctrl,
		queue:   q,
		cfg:     cfg,
		clients: make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

// checkOrigin admits same-host pages, configured origins and clients that
// send no Origin header at all.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// Clients returns the number of connected hosts.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the connection and serves it until the peer goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Hub] upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan Event, sendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	log.Printf("[Hub] client connected from %s", r.RemoteAddr)

	// New hosts start from the current state.
	if snap := h.session.Snapshot(); snap.HasData() {
		h.sendTo(c, Event{Type: "datasetReady", Data: snap})
	}
	h.sendTo(c, Event{Type: "availableDatasets", Data: h.session.AvailableDatasets()})

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
		log.Printf("[Hub] client disconnected")
	}()

	if h.cfg.MaxPayloadBytes > 0 {
		c.conn.SetReadLimit(2*h.cfg.MaxPayloadBytes + frameOverhead)
	}
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				log.Printf("[Hub] closing client: frame exceeds read limit")
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[Hub] read error: %v", err)
			}
			return
		}
		if err := h.handle(msg); err != nil {
			h.sendTo(c, Event{Type: "error", Data: map[string]string{
				"request": msg.Type,
				"error":   err.Error(),
			}})
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handle applies one host request to the controller.
func (h *Hub) handle(msg Message) error {
	switch msg.Type {
	case "setData":
		if h.cfg.Limiter != nil && !h.cfg.Limiter.Allow() {
			h.cfg.Metrics.QueueEvent("rate_limited")
			return errTooManyPayloads
		}
		payload, err := payloadBytes(msg.Data)
		if err != nil {
			return err
		}
		if limit := h.cfg.MaxPayloadBytes; limit > 0 && int64(len(payload)) > limit {
			return fmt.Errorf("payload exceeds %d bytes", limit)
		}
		h.queue.Enqueue(payload)
		return nil

	case "setSelection":
		var flags flagList
		if err := json.Unmarshal(msg.Data, &flags); err != nil {
			return fmt.Errorf("invalid selection: %w", err)
		}
		return h.session.SetSelection(flags)

	case "setHighlight":
		var item int
		if err := json.Unmarshal(msg.Data, &item); err != nil {
			return fmt.Errorf("invalid highlight: %w", err)
		}
		return h.session.SetHighlight(item)

	case "addAvailableData":
		var name string
		if err := json.Unmarshal(msg.Data, &name); err != nil {
			return fmt.Errorf("invalid dataset name: %w", err)
		}
		added, err := h.session.AddAvailableDataset(name)
		if err != nil {
			return err
		}
		if added {
			h.broadcast(Event{Type: "availableDatasets", Data: h.session.AvailableDatasets()})
		}
		return nil

	case "setMarkerSelection":
		var flags flagList
		if err := json.Unmarshal(msg.Data, &flags); err != nil {
			return fmt.Errorf("invalid marker selection: %w", err)
		}
		// Ignored once a dataset is loaded.
		h.session.InitMarkerSelection(flags)
		return nil

	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
}

// payloadBytes accepts a payload sent either as a JSON document or as a
// string holding one.
func payloadBytes(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, errors.New("empty payload")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("invalid payload string: %w", err)
		}
		if s == "" {
			return nil, errors.New("empty payload")
		}
		return []byte(s), nil
	}
	return []byte(raw), nil
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

func (h *Hub) sendTo(c *client, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- ev:
	default:
		delete(h.clients, c)
		c.close()
	}
}

// broadcast drops clients whose send buffer is full.
func (h *Hub) broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			log.Printf("[Hub] dropping slow client")
			delete(h.clients, c)
			c.close()
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}

func (h *Hub) OnDatasetReady(s session.Snapshot) {
	h.broadcast(Event{Type: "datasetReady", Data: s})
}

func (h *Hub) OnSelectionChanged(sel []bool) {
	h.broadcast(Event{Type: "selectionChanged", Data: sel})
}

func (h *Hub) OnOrderingChanged(p ordering.Permutation) {
	h.broadcast(Event{Type: "orderingChanged", Data: p})
}

func (h *Hub) OnHighlightChanged(item int) {
	h.broadcast(Event{Type: "highlightChanged", Data: item})
}

func (h *Hub) OnMergeRequested(item int) {
	h.broadcast(Event{Type: "mergeRequested", Data: item})
}

func (h *Hub) OnRenameRequested(item int, name string) {
	h.broadcast(Event{Type: "renameRequested", Data: map[string]any{"item": item, "name": name}})
}

func (h *Hub) OnDatasetRequested(name string) {
	h.broadcast(Event{Type: "datasetRequested", Data: name})
}

// QueueResult reports the outcome of a queued payload to every host.
func (h *Hub) QueueResult(res queue.Result) {
	data := map[string]any{
		"generation":  res.Generation,
		"outcome":     res.Outcome.String(),
		"duration_ms": res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		data["error"] = res.Err.Error()
	}
	h.broadcast(Event{Type: "queueResult", Data: data})
}

// flagList decodes a list of booleans also given as 0/1 numbers.
type flagList []bool

func (f *flagList) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make([]bool, len(raw))
	for i, v := range raw {
		var flag bool
		if err := json.Unmarshal(v, &flag); err == nil {
			out[i] = flag
			continue
		}
		var n float64
		if err := json.Unmarshal(v, &n); err != nil {
			return fmt.Errorf("flag %d: expected boolean or number", i)
		}
		out[i] = n != 0
	}
	*f = out
	return nil
}
