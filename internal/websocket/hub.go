package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// DefaultMaxMessageSize is the frame size limit in both directions.
	DefaultMaxMessageSize = 4 * 1024 * 1024
)

var (
	// ErrConnectionClosed is returned when writing to a closed client.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrMessageTooLarge is returned for outbound frames over the size limit.
	ErrMessageTooLarge = errors.New("message exceeds size limit")
)

// HubConfig holds transport settings
type HubConfig struct {
	MaxMessageSize int64
	// AllowedOrigins restricts the Origin header. Empty allows any origin.
	AllowedOrigins []string
}

// Hub upgrades HTTP requests and pumps frames between sockets and the bridge.
type Hub struct {
	bridge         *Bridge
	upgrader       websocket.Upgrader
	maxMessageSize int64
	logger         *zap.Logger

	// ctx scopes every recognition stream; cancelled after shutdown.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a new WebSocket hub
func NewHub(bridge *Bridge, config HubConfig, logger *zap.Logger) *Hub {
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	ctx, cancel := context.WithCancel(context.Background())

	allowed := make(map[string]bool, len(config.AllowedOrigins))
	for _, origin := range config.AllowedOrigins {
		allowed[origin] = true
	}

	return &Hub{
		bridge: bridge,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				return allowed[r.Header.Get("Origin")]
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		maxMessageSize: config.MaxMessageSize,
		logger:         logger,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Shutdown finalizes all open sessions, then cancels remaining streams.
func (h *Hub) Shutdown(ctx context.Context) error {
	defer h.cancel()
	return h.bridge.FinalizeAll(ctx, ReasonShutdown)
}

// WriteData is one outbound websocket message.
type WriteData struct {
	// MessageType is the type of the websocket message.
	// Expect websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// Client is a middleman between the websocket connection and the bridge.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages. Closed by Close.
	send chan WriteData

	// done is closed when the write pump exits.
	done chan struct{}

	id        string
	principal string
	logger    *zap.Logger

	mu     sync.Mutex
	closed bool
}

// HandleWebSocket upgrades the request and opens a recognition session for
// it. principal names the authenticated caller.
func (h *Hub) HandleWebSocket(c echo.Context, principal string) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	id := uuid.NewString()
	client := &Client{
		hub:       h,
		conn:      conn,
		send:      make(chan WriteData, 16),
		done:      make(chan struct{}),
		id:        id,
		principal: principal,
		logger: h.logger.With(
			zap.String("connectionID", id),
			zap.String("principal", principal)),
	}
	client.logger.Info("WebSocket connected", zap.String("remoteAddr", c.RealIP()))

	if err := h.bridge.OnOpen(h.ctx, client); err != nil {
		client.reject(err)
		return nil
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()

	return nil
}

// ID implements session.Connection
func (c *Client) ID() string {
	return c.id
}

// SendText queues a text frame for the write pump.
func (c *Client) SendText(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}
	if int64(len(text)) > c.hub.maxMessageSize {
		return ErrMessageTooLarge
	}
	select {
	case c.send <- WriteData{Type: websocket.TextMessage, Payload: []byte(text)}:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	}
}

// Close asks the write pump to flush queued frames, send a close frame and
// close the socket. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
	return nil
}

// reject reports an establishment failure and closes the socket. Called
// before the pumps start, so it writes directly.
func (c *Client) reject(cause error) {
	c.logger.Warn("Rejecting connection", zap.Error(cause))

	payload, _ := json.Marshal(CreateErrorMessage(string(KindEstablishment), "recognition backend unavailable"))
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.logger.Debug("Failed to write rejection", zap.Error(err))
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "recognition unavailable"),
		time.Now().Add(writeWait))
	c.conn.Close()
}

// readPump delivers frames to the bridge in arrival order.
func (c *Client) readPump() {
	var cause error
	defer func() {
		c.hub.bridge.OnClose(c, cause)
		c.Close()
	}()

	c.conn.SetReadLimit(c.hub.maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			cause = err
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				c.logger.Warn("Frame exceeds size limit",
					zap.Int64("maxMessageSize", c.hub.maxMessageSize),
					zap.String("kind", string(KindMalformedFrame)))
			case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				c.logger.Warn("WebSocket error",
					zap.String("kind", string(KindTransport)),
					zap.Error(err))
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			c.hub.bridge.OnBinaryFrame(c, message)
		case websocket.TextMessage:
			c.hub.bridge.OnTextFrame(c, message)
		}
	}
}

// writePump pumps messages from the bridge to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(c.done)
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
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
