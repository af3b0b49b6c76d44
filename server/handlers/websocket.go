package handlers

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/san-kum/cricket-hawkeye/server/middleware"
	"github.com/san-kum/cricket-hawkeye/server/processor"
	"github.com/san-kum/cricket-hawkeye/server/render"
	"github.com/san-kum/cricket-hawkeye/server/session"
	"go.uber.org/zap"
)

const (
	pongWait     = 60 * time.Second
	pingPeriod   = 54 * time.Second
	writeWait    = 10 * time.Second
	sendBuffer   = 32
	maxClientMsg = 64 * 1024
)

type WebSocketHandler struct {
	sessions *session.Manager
	analyzer *processor.Analyzer
	renderer *render.Renderer
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// ClientMessage is what the browser sends: "time" with the video's current
// time in seconds, "analyze", or "ping".
type ClientMessage struct {
	Type      string   `json:"type"`
	Seconds   *float64 `json:"seconds,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

type ServerMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// FramePayload carries the playback frame and the scene it displays.
type FramePayload struct {
	Frame int         `json:"frame"`
	Scene render.View `json:"scene"`
}

func NewWebSocketHandler(sessions *session.Manager, analyzer *processor.Analyzer, renderer *render.Renderer, allowedOrigins []string, logger *zap.Logger) *WebSocketHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if renderer == nil {
		renderer = render.NewRenderer()
	}
	return &WebSocketHandler{
		sessions: sessions,
		analyzer: analyzer,
		renderer: renderer,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || middleware.OriginAllowed(allowedOrigins, origin)
			},
		},
	}
}

// wsClient is one connection watching one session. Only writePump writes
// to conn.
type wsClient struct {
	id     string
	conn   *websocket.Conn
	sess   *session.Session
	out    chan ServerMessage
	done   chan struct{}
	once   sync.Once
	logger *zap.Logger

	// pubMu orders publishes: a view is checked and queued under it.
	pubMu   sync.Mutex
	last    session.View
	hasLast bool

	mu      sync.Mutex
	dropped int
}

func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	sess, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket connection", zap.Error(err))
		return
	}
	client := &wsClient{
		id:     uuid.NewString(),
		conn:   conn,
		sess:   sess,
		out:    make(chan ServerMessage, sendBuffer),
		done:   make(chan struct{}),
		logger: h.logger.With(zap.String("session_id", sess.ID()), zap.String("client_ip", c.ClientIP())),
	}
	defer client.close()
	client.logger.Info("WebSocket client connected")

	unwatch, err := sess.Watch(client.id, func(v session.View) { h.publish(client, v) })
	if err != nil {
		client.logger.Error("Failed to watch session", zap.Error(err))
		return
	}
	defer unwatch()

	conn.SetReadLimit(maxClientMsg)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	go h.writePump(client, ticker)

	h.publish(client, sess.View())

	for {
		select {
		case <-client.done:
			return
		default:
			var message ClientMessage
			if err := conn.ReadJSON(&message); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					client.logger.Warn("WebSocket error", zap.Error(err))
				}
				client.close()
				client.logger.Info("WebSocket client disconnected")
				return
			}
			h.handleMessage(client, &message)
		}
	}
}

func (h *WebSocketHandler) handleMessage(client *wsClient, message *ClientMessage) {
	switch message.Type {
	case "time":
		if message.Seconds == nil {
			client.sendError("time message needs seconds")
			return
		}
		if _, err := client.sess.UpdatePlayback(*message.Seconds); err != nil {
			if errors.Is(err, session.ErrNoVideo) {
				client.sendError("no video loaded")
				return
			}
			client.logger.Debug("Playback update dropped", zap.Error(err))
		}
	case "analyze":
		started, err := h.analyzer.Trigger(client.sess)
		if err != nil {
			client.sendError("analysis queue full, try again later")
			return
		}
		if !started {
			client.send(ServerMessage{Type: "state", Data: client.sess.View()})
		}
	case "ping":
		client.send(ServerMessage{Type: "pong", Data: map[string]any{"timestamp": time.Now().Unix()}})
	default:
		client.logger.Warn("Unknown message type received", zap.String("type", message.Type))
		client.sendError("Unknown message type: " + message.Type)
	}
}

// publish turns a session change into messages. A change of frame alone
// is a "frame" message; anything else is a "state" message followed by
// the frame it now displays. Views no newer than the last one sent are
// dropped.
func (h *WebSocketHandler) publish(client *wsClient, v session.View) {
	client.pubMu.Lock()
	defer client.pubMu.Unlock()

	if client.hasLast && v.Version <= client.last.Version {
		return
	}
	frameOnly := client.hasLast && sameState(client.last, v)
	unchanged := frameOnly && client.last.Frame == v.Frame
	client.last = v
	client.hasLast = true
	if unchanged {
		return
	}

	if !frameOnly {
		client.send(ServerMessage{Type: "state", Data: v})
	}
	client.send(ServerMessage{Type: "frame", Data: FramePayload{
		Frame: v.Frame,
		Scene: h.renderer.BuildView(v.RenderInput(), h.renderer.Camera()),
	}})
}

func sameState(a, b session.View) bool {
	return a.Generation == b.Generation && a.Analyzing == b.Analyzing && a.Result == b.Result
}

func (h *WebSocketHandler) writePump(client *wsClient, ticker *time.Ticker) {
	for {
		select {
		case msg := <-client.out:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteJSON(msg); err != nil {
				client.logger.Error("Failed to send WebSocket message", zap.Error(err))
				client.close()
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				client.logger.Error("Failed to send ping", zap.Error(err))
				client.close()
				return
			}
		case <-client.done:
			return
		}
	}
}

// send queues msg without blocking. A slow client loses messages rather
// than stalling the session.
func (c *wsClient) send(msg ServerMessage) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.out <- msg:
	default:
		c.mu.Lock()
		c.dropped++
		dropped := c.dropped
		c.mu.Unlock()
		c.logger.Debug("WebSocket send buffer full, message dropped",
			zap.String("type", msg.Type),
			zap.Int("dropped", dropped))
	}
}

func (c *wsClient) sendError(errorMsg string) {
	c.send(ServerMessage{Type: "error", Data: map[string]any{
		"message":   errorMsg,
		"timestamp": time.Now().Unix(),
	}})
}

// close stops writePump and unblocks the reader.
func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}
