// Package hub owns the set of live WebSocket subscribers and fans prediction
// events out to them. The live set is the only mutable state shared across
// goroutines: all membership changes go through one mutex, and broadcasts
// iterate a snapshot of the set so concurrent registrations can never corrupt
// a delivery sweep. A connection that fails a send is pruned after the sweep
// completes; failure of one subscriber never delays or aborts delivery to
// the others, and never surfaces to the prediction caller.
package hub

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	defaultSendTimeout = 5 * time.Second
	readLimit          = 64 * 1024
)

// MetricsTracker is the metrics surface the hub reports to.
type MetricsTracker interface {
	ClientCountSet(int)
	ConnectionOpenedInc()
	BroadcastInc()
	DeliveryInc()
	DeliveryFailureInc()
}

// Client is one live subscriber connection. The write mutex serializes
// broadcast frames with control frames on the same connection.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func NewClient(conn *websocket.Conn) *Client {
	return &Client{conn: conn}
}

func (c *Client) send(payload []byte, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub is the connection broadcaster.
type Hub struct {
	mu      sync.Mutex
	clients map[*Client]struct{}

	sendTimeout time.Duration
	upgrader    websocket.Upgrader
	metrics     MetricsTracker
}

// New creates a hub. sendTimeout bounds how long one slow subscriber may
// stall its own delivery; a timed-out send counts as a failure and the
// connection is pruned. checkOrigin follows the gateway's CORS policy.
func New(sendTimeout time.Duration, checkOrigin func(r *http.Request) bool, m MetricsTracker) *Hub {
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	return &Hub{
		clients:     make(map[*Client]struct{}),
		sendTimeout: sendTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		metrics: m,
	}
}

// Register adds a connection to the live set. Safe to call concurrently with
// broadcasts; a connection registered while a broadcast is in flight may
// miss that broadcast but receives all later ones.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.metrics.ClientCountSet(n)
	log.Debug().Int("clients", n).Msg("subscriber registered")
}

// Unregister removes a connection if present. Calling it for an absent
// connection is a no-op, so disconnect handling and failure pruning can
// race without harm.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, present := h.clients[c]
	if present {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if present {
		h.metrics.ClientCountSet(n)
		log.Debug().Int("clients", n).Msg("subscriber unregistered")
	}
}

// Len returns the current live-set size.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// BroadcastJSON delivers v to every connection in the live set at call time.
// Deliveries are attempted independently; failed connections are collected
// during the sweep and pruned afterwards (failure-then-prune), never removed
// mid-iteration. Errors are absorbed here by design.
func (h *Hub) BroadcastJSON(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("broadcast payload marshal failed")
		return
	}

	// Snapshot under the lock, deliver outside it.
	h.mu.Lock()
	snapshot := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		snapshot = append(snapshot, c)
	}
	h.mu.Unlock()

	h.metrics.BroadcastInc()

	var failed []*Client
	for _, c := range snapshot {
		if err := c.send(payload, h.sendTimeout); err != nil {
			log.Warn().Err(err).Msg("subscriber delivery failed, pruning connection")
			h.metrics.DeliveryFailureInc()
			failed = append(failed, c)
			continue
		}
		h.metrics.DeliveryInc()
	}

	for _, c := range failed {
		h.Unregister(c)
		c.conn.Close()
	}
}

// ServeWS upgrades the request, registers the connection and runs its read
// loop until the peer disconnects. Inbound payloads are discarded: the loop
// exists only to keep the connection open and to observe the disconnect.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	h.metrics.ConnectionOpenedInc()

	c := NewClient(conn)
	h.Register(c)
	h.readLoop(c)
}

func (h *Hub) readLoop(c *Client) {
	defer func() {
		h.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("subscriber connection closed unexpectedly")
			}
			return
		}
		// Content is irrelevant; any inbound frame just proves liveness.
	}
}
