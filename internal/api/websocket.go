package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/webble-core/internal/auth"
	"github.com/nerrad567/webble-core/internal/bridges/ble"
	"github.com/nerrad567/webble-core/internal/infrastructure/config"
	"github.com/nerrad567/webble-core/internal/infrastructure/logging"
)

// Frame types written to the page.
const (
	FrameResponse = "response"
	FrameEvent    = "event"

	// wsSendBufferSize is the per-page outbound frame buffer.
	wsSendBufferSize = 256

	reasonMalformedFrame = "malformed request"
)

var (
	errPageClosed   = errors.New("api: page connection closed")
	errSendOverflow = errors.New("api: page send buffer full")
)

// InboundFrame is a request from the page.
type InboundFrame struct {
	Key  string         `json:"key"`
	Data map[string]any `json:"data,omitempty"`
}

// OutboundFrame is a response or event written to the page.
type OutboundFrame struct {
	Type    string `json:"type"`
	Key     string `json:"key,omitempty"`
	OK      *bool  `json:"ok,omitempty"`
	Value   any    `json:"value,omitempty"`
	Error   string `json:"error,omitempty"`
	Event   string `json:"event,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// Hub tracks open page connections by page ID.
type Hub struct {
	logger  *logging.Logger
	clients map[string]*PageClient
	mu      sync.RWMutex
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware and the page token.
		return true
	},
}

// NewHub creates an empty hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[string]*PageClient),
	}
}

// Run blocks until ctx is cancelled, then disconnects every page.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a page. It fails if the page already has a connection.
func (h *Hub) Register(client *PageClient) bool {
	h.mu.Lock()
	if _, exists := h.clients[client.pageID]; exists {
		h.mu.Unlock()
		return false
	}
	h.clients[client.pageID] = client
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug("page connected", "page_id", client.pageID, "pages", count)
	return true
}

// Unregister removes a page. Only the caller that removes the entry closes
// the send channel.
func (h *Hub) Unregister(client *PageClient) bool {
	h.mu.Lock()
	current, existed := h.clients[client.pageID]
	existed = existed && current == client
	if existed {
		delete(h.clients, client.pageID)
	}
	h.mu.Unlock()

	if existed {
		client.closeSend()
		h.logger.Debug("page disconnected", "page_id", client.pageID, "pages", h.ClientCount())
	}
	return existed
}

// Get returns the connection for a page.
func (h *Hub) Get(pageID string) (*PageClient, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[pageID]
	return c, ok
}

// ClientCount returns the number of connected pages.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*PageClient)
	h.mu.Unlock()

	for _, client := range clients {
		client.closeSend()
		if client.conn != nil {
			client.conn.Close()
		}
	}
}

// PageClient is one page's transport. It implements ble.Page.
type PageClient struct {
	pageID string
	conn   *websocket.Conn
	send   chan []byte

	closeMu sync.RWMutex
	closed  bool
}

// newPageClient creates a client with an open send buffer.
func newPageClient(pageID string, conn *websocket.Conn) *PageClient {
	return &PageClient{
		pageID: pageID,
		conn:   conn,
		send:   make(chan []byte, wsSendBufferSize),
	}
}

// ID implements ble.Page.
func (c *PageClient) ID() string { return c.pageID }

// Reply implements ble.Page.
func (c *PageClient) Reply(r ble.Reply) error {
	ok := r.OK
	frame := OutboundFrame{Type: FrameResponse, Key: r.Key, OK: &ok}
	if r.OK {
		frame.Value = r.Value
	} else {
		frame.Error = r.Error
	}
	return c.sendFrame(frame)
}

// Emit implements ble.Page.
func (c *PageClient) Emit(event string, payload any) error {
	return c.sendFrame(OutboundFrame{Type: FrameEvent, Event: event, Payload: payload})
}

func (c *PageClient) sendFrame(frame OutboundFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return c.trySend(data)
}

// trySend queues data without blocking.
func (c *PageClient) trySend(data []byte) error {
	c.closeMu.RLock()
	defer c.closeMu.RUnlock()
	if c.closed {
		return errPageClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errSendOverflow
	}
}

func (c *PageClient) closeSend() {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// handleWebSocket authenticates the page token and upgrades the connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeUnauthorized(w, "token query parameter is required")
		return
	}
	claims, err := auth.ParsePageToken(token, s.secCfg.JWT.Secret)
	if err != nil {
		writeUnauthorized(w, "invalid or expired page token")
		return
	}
	// A token bound to an origin is only usable from that origin.
	if claims.Origin != "" && r.Header.Get("Origin") != claims.Origin {
		s.logger.Warn("page token used from another origin",
			"page_id", claims.PageID(), "origin", r.Header.Get("Origin"), "token_origin", claims.Origin)
		writeError(w, http.StatusForbidden, ErrCodeOriginMismatch, "origin does not match page token")
		return
	}
	pageID := claims.PageID()
	if _, exists := s.hub.Get(pageID); exists {
		writeError(w, http.StatusConflict, ErrCodePageConnected, "page already connected")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := newPageClient(pageID, conn)
	if !s.hub.Register(client) {
		//nolint:errcheck // Best-effort close frame
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "page already connected"))
		conn.Close()
		return
	}
	if s.metrics != nil {
		s.metrics.PageConnected()
	}
	s.logger.Info("page connected", "page_id", pageID, "origin", claims.Origin)

	go s.writePump(client)
	go s.readPump(client)
}

// readPump reads frames until the connection closes, then tears the page
// down in the engine.
func (s *Server) readPump(c *PageClient) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		if s.hub.Unregister(c) {
			s.engine.TeardownPage(c.pageID)
			if s.metrics != nil {
				s.metrics.PageDisconnected()
			}
			if s.limiter != nil {
				s.limiter.Remove(c.pageID)
			}
			s.logger.Info("page disconnected", "page_id", c.pageID)
		}
		c.conn.Close()
	}()

	cfg := s.wsCfg
	if cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	}
	deadline := readDeadline(cfg)
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read error", "page_id", c.pageID, "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(deadline))
		s.handleFrame(ctx, c, message)
	}
}

// writePump drains the send buffer and keeps the connection alive with pings.
func (s *Server) writePump(c *PageClient) {
	ticker := time.NewTicker(pingInterval(s.wsCfg))
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	writeWait := time.Duration(s.wsCfg.PongTimeout) * time.Second
	if writeWait <= 0 {
		writeWait = defaultPongTimeout
	}

	for {
		select {
		case message, ok := <-c.send:
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleFrame turns one inbound frame into a transaction and submits it.
func (s *Server) handleFrame(ctx context.Context, c *PageClient, data []byte) {
	var frame InboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.Reply(ble.Reply{Error: reasonMalformedFrame}) //nolint:errcheck // page may be gone
		return
	}

	key, err := ble.ParseKey(frame.Key)
	if err != nil {
		c.Reply(ble.Reply{Key: frame.Key, Error: reasonMalformedFrame}) //nolint:errcheck // page may be gone
		return
	}

	txn := ble.NewTransaction(key, frame.Data, c)

	if s.limiter != nil && !s.limiter.Allow(c.pageID) {
		if s.metrics != nil {
			s.metrics.RateLimited()
		}
		s.logger.Warn("page request rate limited", "page_id", c.pageID, "key", frame.Key)
		txn.ResolveAsFailure(ble.ReasonRateLimited) //nolint:errcheck // fresh transaction
		return
	}

	if err := s.engine.Submit(ctx, txn); err != nil {
		s.logger.Warn("submitting page request failed", "page_id", c.pageID, "key", frame.Key, "error", err)
		txn.Abandon()
	}
}

const (
	defaultPingInterval = 30 * time.Second
	defaultPongTimeout  = 10 * time.Second
)

func pingInterval(cfg config.WebSocketConfig) time.Duration {
	if cfg.PingInterval <= 0 {
		return defaultPingInterval
	}
	return time.Duration(cfg.PingInterval) * time.Second
}

func readDeadline(cfg config.WebSocketConfig) time.Duration {
	pong := time.Duration(cfg.PongTimeout) * time.Second
	if pong <= 0 {
		pong = defaultPongTimeout
	}
	return pingInterval(cfg) + pong
}
