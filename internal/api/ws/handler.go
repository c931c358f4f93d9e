package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/GriffinCanCode/AgentOS/capcore/internal/kernel"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	DefaultInterval = time.Second
	MinInterval     = 100 * time.Millisecond
	writeTimeout    = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Source is the kernel view the stream publishes.
type Source interface {
	BootID() string
	Snapshot() kernel.Snapshot
}

// Message is a client request.
type Message struct {
	Type       string `json:"type"`
	IntervalMS int    `json:"interval_ms,omitempty"`
}

// Handler streams kernel snapshots over WebSocket connections
type Handler struct {
	source Source
	logger *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(source Source, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{source: source, logger: logger}
}

// conn serializes writes; gorilla allows one concurrent writer.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(v)
}

func (c *conn) sendError(msg string) error {
	return c.send(gin.H{"type": "error", "message": msg})
}

// HandleConnection handles the WebSocket upgrade and the message loop.
//
// Clients send {"type":"snapshot"} for a single snapshot,
// {"type":"subscribe","interval_ms":N} for periodic ones and
// {"type":"unsubscribe"} to stop them.
func (h *Handler) HandleConnection(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	cn := &conn{ws: ws}
	sub := &subscription{}
	defer sub.stop()

	if err := cn.send(gin.H{"type": "system", "boot_id": h.source.BootID()}); err != nil {
		return
	}

	for {
		var msg Message
		if err := ws.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}

		switch msg.Type {
		case "ping":
			err = cn.send(gin.H{"type": "pong"})
		case "snapshot":
			err = cn.send(gin.H{"type": "snapshot", "data": h.source.Snapshot()})
		case "subscribe":
			interval := time.Duration(msg.IntervalMS) * time.Millisecond
			if interval == 0 {
				interval = DefaultInterval
			}
			if interval < MinInterval {
				interval = MinInterval
			}
			if err = cn.send(gin.H{"type": "subscribed", "interval_ms": interval.Milliseconds()}); err == nil {
				sub.start(ctx, interval, func() error {
					return cn.send(gin.H{"type": "snapshot", "data": h.source.Snapshot()})
				})
			}
		case "unsubscribe":
			sub.stop()
			err = cn.send(gin.H{"type": "unsubscribed"})
		default:
			err = cn.sendError("unknown message type")
		}
		if err != nil {
			h.logger.Debug("WebSocket write failed", zap.Error(err))
			return
		}
	}
}

// subscription runs at most one publishing loop per connection.
type subscription struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *subscription) start(ctx context.Context, interval time.Duration, publish func() error) {
	s.stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if publish() != nil {
					return
				}
			}
		}
	}(s.done)
}

func (s *subscription) stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}
