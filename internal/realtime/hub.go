package realtime

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/opentreehole/treehole/pkg/logger"
	"github.com/opentreehole/treehole/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // 1 MiB

	defaultBufferSize = 64
	maxHeldEvents     = 4 * defaultBufferSize
)

// ErrConnectionClosed is returned when sending to a connection that has gone away.
var ErrConnectionClosed = errors.New("realtime: connection closed")

// Hub fans broadcast events out to the websocket connections of each group.
type Hub struct {
	mu       sync.RWMutex
	groups   map[string]map[*connection]struct{}
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewHub constructs a realtime hub.
func NewHub() *Hub {
	return &Hub{
		groups: make(map[string]map[*connection]struct{}),
		log:    logger.WithModule("realtime"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				originHost := hostWithoutPort(origin)
				requestHost := hostWithoutPort(r.Host)
				return originHost == requestHost || isLoopback(originHost)
			},
		},
	}
}

// Serve upgrades the request to a WebSocket, joins the session's channel and
// blocks until the connection closes. Broadcasts are held while the session's
// Open replays history and released afterwards without duplicates.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, session Session) {
	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	group := session.Channel().Group()
	client := newConnection(h, socket, group)
	h.subscribe(client)
	metrics.RealtimeConnections.Inc()
	defer metrics.RealtimeConnections.Dec()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go client.writeLoop()

	if err := session.Open(ctx, client); err != nil {
		h.log.Warn("session open failed", zap.String("group", group), zap.Error(err))
		client.close()
		return
	}
	client.release()

	client.readLoop(ctx, session)
}

// Publish implements Publisher for in-process delivery.
func (h *Hub) Publish(_ context.Context, channel Channel, payload any) error {
	event, err := NewEvent(payload)
	if err != nil {
		return err
	}
	h.Deliver(channel.Group(), event)
	return nil
}

// Deliver hands an encoded event to every local connection in group.
func (h *Hub) Deliver(group string, event Event) {
	if group == "" {
		return
	}

	h.mu.RLock()
	targets := make([]*connection, 0, len(h.groups[group]))
	for client := range h.groups[group] {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		client.enqueue(event)
	}
}

// Subscribers returns the number of local connections in channel's group.
func (h *Hub) Subscribers(channel Channel) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[channel.Group()])
}

func (h *Hub) subscribe(client *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.groups[client.group] == nil {
		h.groups[client.group] = make(map[*connection]struct{})
	}
	h.groups[client.group][client] = struct{}{}
}

func (h *Hub) unregister(client *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := h.groups[client.group]
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.groups, client.group)
	}
}

type connection struct {
	hub    *Hub
	socket *websocket.Conn
	group  string
	send   chan Event
	done   chan struct{}
	once   sync.Once

	mu      sync.Mutex
	holding bool
	held    []Event
	sent    map[string]struct{}
}

func newConnection(hub *Hub, socket *websocket.Conn, group string) *connection {
	return &connection{
		hub:     hub,
		socket:  socket,
		group:   group,
		send:    make(chan Event, defaultBufferSize),
		done:    make(chan struct{}),
		holding: true,
		sent:    make(map[string]struct{}),
	}
}

// Send writes payload to this connection, waiting for buffer space.
func (c *connection) Send(payload any) error {
	event, err := NewEvent(payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.holding && event.Key != "" {
		c.sent[event.Key] = struct{}{}
	}
	c.mu.Unlock()

	select {
	case c.send <- event:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	}
}

// enqueue delivers a broadcast without blocking; slow consumers are dropped.
func (c *connection) enqueue(event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.holding {
		if len(c.held) >= maxHeldEvents {
			c.hub.log.Warn("dropping connection with overflowing catch-up buffer", zap.String("group", c.group))
			go c.close()
			return
		}
		c.held = append(c.held, event)
		return
	}
	c.push(event)
}

// release flushes held broadcasts, skipping those already sent during Open.
func (c *connection) release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	held := c.held
	c.held = nil
	c.holding = false
	for _, event := range held {
		if _, replayed := c.sent[event.Key]; event.Key != "" && replayed {
			continue
		}
		c.push(event)
	}
	c.sent = nil
}

// push must be called with c.mu held.
func (c *connection) push(event Event) {
	select {
	case <-c.done:
	case c.send <- event:
	default:
		c.hub.log.Warn("dropping backpressure client", zap.String("group", c.group))
		go c.close()
	}
}

func (c *connection) readLoop(ctx context.Context, session Session) {
	defer c.close()

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("unexpected close", zap.String("group", c.group), zap.Error(err))
			}
			return
		}
		if len(frame) == 0 {
			continue
		}

		if err := session.Handle(ctx, c, frame); err != nil {
			if errors.Is(err, ErrConnectionClosed) {
				return
			}
			c.hub.log.Warn("session handler failed", zap.String("group", c.group), zap.Error(err))
		}
	}
}

func (c *connection) writeLoop() {
	defer c.close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case event := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.TextMessage, event.Data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.socket.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *connection) close() {
	c.once.Do(func() {
		c.hub.unregister(c)
		close(c.done)
		_ = c.socket.Close()
	})
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}

	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		parsed, err := http.NewRequest(http.MethodGet, host, nil)
		if err == nil {
			return hostWithoutPort(parsed.URL.Host)
		}
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	ip := net.ParseIP(host)
	if ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}
