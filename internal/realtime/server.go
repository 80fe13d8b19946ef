package realtime

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ServerOptions tunes per-connection behaviour.
type ServerOptions struct {
	SendBufferSize int
	PingInterval   time.Duration
	PongWait       time.Duration
}

// Server upgrades HTTP requests on the order channel path and wires the
// resulting connections into the hub.
type Server struct {
	hub      *Hub
	opts     ServerOptions
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewServer creates a websocket endpoint bound to hub.
func NewServer(hub *Hub, opts ServerOptions, log *zap.Logger) *Server {
	if opts.SendBufferSize <= 0 {
		opts.SendBufferSize = 16
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.PongWait <= opts.PingInterval {
		opts.PongWait = 2 * opts.PingInterval
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Server{
		hub:  hub,
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The channel is public: knowing an order id is enough to follow it.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

// ServeWS handles GET on the order channel path.
func (s *Server) ServeWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		s.log.Warn("websocket upgrade failed", zap.String("ip", c.ClientIP()), zap.Error(err))
		return
	}

	client := newClient(conn, s.opts.SendBufferSize)
	s.log.Debug("websocket connected", zap.String("client", client.ID), zap.String("ip", c.ClientIP()))

	go client.writePump(s.opts.PingInterval, s.log)
	go client.readPump(s.hub, s.opts.PongWait, s.log)
}
