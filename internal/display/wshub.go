package display

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"voicescope/internal/domain"
)

const (
	wsWriteTimeout = 2 * time.Second
	wsPongWait     = 30 * time.Second
	wsPingInterval = 20 * time.Second
)

// Hub broadcasts displays to websocket viewers. Each viewer has a one-slot
// mailbox, so a slow viewer skips displays instead of blocking the loop.
type Hub struct {
	upgrader websocket.Upgrader
	log      *slog.Logger
	initial  func() domain.Display

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

type wsClient struct {
	conn    *websocket.Conn
	mailbox chan domain.Display
	done    chan struct{}
	once    sync.Once
}

// NewHub creates a hub. initial, if set, supplies the display sent to a
// viewer right after it connects.
func NewHub(log *slog.Logger, initial func() domain.Display) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log:     log,
		initial: initial,
		clients: make(map[*wsClient]struct{}),
	}
}

// Render queues display for every viewer, replacing anything unsent.
func (h *Hub) Render(display domain.Display) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.offer(display)
	}
}

// Clients returns the number of connected viewers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams displays until the viewer
// goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "err", err)
		return
	}

	c := &wsClient{
		conn:    conn,
		mailbox: make(chan domain.Display, 1),
		done:    make(chan struct{}),
	}
	if h.initial != nil {
		c.offer(h.initial())
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.log.Debug("display viewer connected", "remote", r.RemoteAddr)

	go c.readLoop()
	c.writeLoop()

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	_ = conn.Close()
	h.log.Debug("display viewer disconnected", "remote", r.RemoteAddr)
}

// Close disconnects every viewer.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		c.close()
	}
}

func (c *wsClient) offer(display domain.Display) {
	for {
		select {
		case c.mailbox <- display:
			return
		default:
		}
		select {
		case <-c.mailbox:
		default:
		}
	}
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.done) })
}

// readLoop discards viewer messages and notices disconnects.
func (c *wsClient) readLoop() {
	defer c.close()
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsClient) writeLoop() {
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(wsWriteTimeout))
			return
		case display := <-c.mailbox:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteJSON(display); err != nil {
				return
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}
