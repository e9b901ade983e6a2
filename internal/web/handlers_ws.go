package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"wificonf/internal/repository"
)

const (
	// backlogSize is how many recent events a client can ask to replay.
	backlogSize = 64
	// clientQueue must hold a full replay plus some headroom.
	clientQueue  = backlogSize + 64
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// streamedEvent is an encoded event with the fields subscribers filter on.
type streamedEvent struct {
	typ     string
	profile int
	data    []byte
}

// subscription selects the events a WebSocket client receives. Empty sets
// match everything.
type subscription struct {
	types map[string]bool
	ids   map[int]bool
}

func (s subscription) matches(ev streamedEvent) bool {
	if s.types != nil && !s.types[ev.typ] {
		return false
	}
	if s.ids != nil && (ev.profile < 0 || !s.ids[ev.profile]) {
		return false
	}
	return true
}

type wsClient struct {
	conn *websocket.Conn
	sub  subscription
	send chan []byte
}

// WSHub fans repository events out to WebSocket subscribers and keeps a
// short backlog for clients that join late. Broadcast never blocks, so it
// may run on the repository loop.
type WSHub struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	backlog []streamedEvent
	next    int
	stopped bool
}

// NewWSHub creates an empty hub.
func NewWSHub(logger *slog.Logger) *WSHub {
	return &WSHub{
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
		backlog: make([]streamedEvent, 0, backlogSize),
	}
}

// Broadcast encodes ev once and queues it for every matching client. A
// client whose queue is full is dropped.
func (h *WSHub) Broadcast(ev repository.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("ws marshal", "err", err, "type", ev.Type)
		return
	}
	se := streamedEvent{typ: ev.Type, profile: -1, data: data}
	if ev.Profile != nil {
		se.profile = ev.Profile.ID
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.remember(se)
	for c := range h.clients {
		if !c.sub.matches(se) {
			continue
		}
		select {
		case c.send <- se.data:
		default:
			h.drop(c)
			h.logger.Warn("ws subscriber dropped, queue full", "type", se.typ)
		}
	}
}

// remember stores se in the backlog ring. Callers hold mu.
func (h *WSHub) remember(se streamedEvent) {
	if len(h.backlog) < backlogSize {
		h.backlog = append(h.backlog, se)
		return
	}
	h.backlog[h.next] = se
	h.next = (h.next + 1) % backlogSize
}

// recent returns the backlog oldest first. Callers hold mu.
func (h *WSHub) recent() []streamedEvent {
	if len(h.backlog) < backlogSize {
		return h.backlog
	}
	return append(append([]streamedEvent(nil), h.backlog[h.next:]...), h.backlog[:h.next]...)
}

// subscribe adds c, first queueing the matching backlog when replay is set.
// It reports false once the hub has stopped.
func (h *WSHub) subscribe(c *wsClient, replay bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return false
	}
	if replay {
		for _, se := range h.recent() {
			if c.sub.matches(se) {
				c.send <- se.data
			}
		}
	}
	h.clients[c] = struct{}{}
	h.logger.Debug("ws subscriber added", "total", len(h.clients), "replay", replay)
	return true
}

func (h *WSHub) unsubscribe(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drop(c)
}

// drop removes c and closes its queue. Callers hold mu.
func (h *WSHub) drop(c *wsClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

// Clients returns the number of subscribers.
func (h *WSHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Stop closes every subscriber. Later subscriptions are refused.
func (h *WSHub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.stopped = true
	for c := range h.clients {
		h.drop(c)
	}
}

// parseSubscription reads the "types" and "ids" query parameters, both
// comma separated. Ids that are not numbers are ignored.
func parseSubscription(r *http.Request) subscription {
	var sub subscription
	q := r.URL.Query()
	for _, t := range splitList(q.Get("types")) {
		if sub.types == nil {
			sub.types = make(map[string]bool)
		}
		sub.types[t] = true
	}
	for _, raw := range splitList(q.Get("ids")) {
		id, err := strconv.Atoi(raw)
		if err != nil || id < 0 {
			continue
		}
		if sub.ids == nil {
			sub.ids = make(map[int]bool)
		}
		sub.ids[id] = true
	}
	return sub
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if len(s.allowedOrigins) > 0 {
		opts.OriginPatterns = s.allowedOrigins
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Error("ws accept", "err", err)
		return
	}
	conn.SetReadLimit(4096)

	client := &wsClient{
		conn: conn,
		sub:  parseSubscription(r),
		send: make(chan []byte, clientQueue),
	}
	replay, _ := strconv.ParseBool(r.URL.Query().Get("replay"))
	if !s.wsHub.subscribe(client, replay) {
		conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	// CloseRead discards client frames and cancels ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())
	defer conn.Close(websocket.StatusNormalClosure, "")
	defer s.wsHub.unsubscribe(client)
	s.wsWritePump(ctx, client)
}

// wsWritePump delivers queued events and pings idle connections until the
// queue closes or the connection fails.
func (s *Server) wsWritePump(ctx context.Context, client *wsClient) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-client.send:
			if !ok {
				client.conn.Close(websocket.StatusGoingAway, "server shutdown")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := client.conn.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := client.conn.Ping(pctx)
			cancel()
			if err != nil {
				s.logger.Debug("ws ping failed", "err", err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
