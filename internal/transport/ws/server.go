// Package ws streams engine alerts to dashboard clients over websocket.
package ws

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"dupeguard.ai/internal/engine/alerts"
	"dupeguard.ai/internal/metrics"
)

const ProtocolVersion = "1"

// SubscribeMsg must be the first frame a client sends. It may be resent to
// change the filter.
type SubscribeMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	Kinds           []alerts.Kind `json:"kinds,omitempty"`
	MaxQueue        int           `json:"max_queue,omitempty"`
}

// WelcomeMsg answers a valid subscribe.
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
}

// AlertMsg wraps one alert on the wire.
type AlertMsg struct {
	Type  string       `json:"type"`
	Alert alerts.Alert `json:"alert"`
}

type client struct {
	id    string
	out   chan []byte
	kinds atomic.Value // map[alerts.Kind]bool; nil map means all kinds
}

func (c *client) wants(k alerts.Kind) bool {
	m, _ := c.kinds.Load().(map[alerts.Kind]bool)
	return len(m) == 0 || m[k]
}

func (c *client) setKinds(ks []alerts.Kind) {
	m := make(map[alerts.Kind]bool, len(ks))
	for _, k := range ks {
		m[k] = true
	}
	c.kinds.Store(m)
}

// Hub is an alerts.Sink fanning out to connected clients. Publish never
// blocks: a client whose queue is full loses the frame.
type Hub struct {
	log zerolog.Logger

	mu      sync.RWMutex
	clients map[string]*client

	nextID   atomic.Uint64
	upgrader websocket.Upgrader
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log:     log,
		clients: map[string]*client{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // loopback only, see Handler
		},
	}
}

func (h *Hub) Publish(a alerts.Alert) {
	b, err := json.Marshal(AlertMsg{Type: "ALERT", Alert: a})
	if err != nil {
		h.log.Error().Err(err).Msg("encode alert")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if !c.wants(a.Kind) {
			continue
		}
		select {
		case c.out <- b:
		default:
			metrics.WSDropped.Inc()
		}
	}
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WSClients.Set(float64(n))
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	delete(h.clients, id)
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WSClients.Set(float64(n))
}

func (h *Hub) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		conn, err := h.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, ok := decodeSubscribe(msg)
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		c := &client{
			id:  "S" + strconv.FormatUint(h.nextID.Add(1), 10),
			out: make(chan []byte, clampQueue(sub.MaxQueue)),
		}
		c.setKinds(sub.Kinds)
		if err := writeJSON(conn, WelcomeMsg{Type: "WELCOME", ProtocolVersion: ProtocolVersion, SessionID: c.id}); err != nil {
			return
		}
		h.add(c)
		defer h.remove(c.id)
		h.log.Debug().Str("session", c.id).Str("remote", r.RemoteAddr).Msg("alert stream attached")

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-c.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if sub, ok := decodeSubscribe(msg); ok {
				c.setKinds(sub.Kinds)
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func decodeSubscribe(msg []byte) (SubscribeMsg, bool) {
	var sub SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, false
	}
	return sub, sub.Type == "SUBSCRIBE" && sub.ProtocolVersion == ProtocolVersion
}

func clampQueue(n int) int {
	if n <= 0 {
		return 64
	}
	if n > 1024 {
		return 1024
	}
	return n
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
