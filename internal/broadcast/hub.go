package broadcast

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Hub delivers scans to the websocket connections watching each scanner session.
type Hub struct {
	broadcaster Broadcaster
	upgrader    websocket.Upgrader

	mu    sync.Mutex
	conns map[string]map[*websocket.Conn]struct{}
}

// NewHub creates a hub over a broadcaster.
func NewHub(b Broadcaster) *Hub {
	return &Hub{
		broadcaster: b,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(map[string]map[*websocket.Conn]struct{}),
	}
}

// Run subscribes to the broadcaster and dispatches scans until ctx ends.
func (h *Hub) Run(ctx context.Context) error {
	scans, err := h.broadcaster.Subscribe(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case scan, ok := <-scans:
			if !ok {
				return nil
			}
			h.dispatch(scan)
		case <-ctx.Done():
			return nil
		}
	}
}

func (h *Hub) dispatch(scan Scan) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns[scan.SessionToken] {
		if err := conn.WriteJSON(scan); err != nil {
			conn.Close()
			delete(h.conns[scan.SessionToken], conn)
		}
	}
}

// Publish forwards a scan to the backend for fanout.
func (h *Hub) Publish(ctx context.Context, scan Scan) error {
	return h.broadcaster.Publish(ctx, scan)
}

// ServeWS upgrades the request and registers it under the session token.
// The connection receives every scan for that session until it closes.
func (h *Hub) ServeWS(c *gin.Context) {
	token := c.Query("session")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session token required"})
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("broadcast: upgrade: %v", err)
		return
	}

	h.mu.Lock()
	if h.conns[token] == nil {
		h.conns[token] = make(map[*websocket.Conn]struct{})
	}
	h.conns[token][conn] = struct{}{}
	h.mu.Unlock()

	// read loop only to detect close
	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.conns[token], conn)
			h.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
