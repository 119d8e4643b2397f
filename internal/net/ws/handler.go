package ws

import (
	"log"
	nethttp "net/http"

	"github.com/gorilla/websocket"

	"vitals/server"
	"vitals/server/internal/telemetry"
)

const maxMessageBytes = 4096

type HandlerConfig struct {
	Logger telemetry.Logger
}

// Handler upgrades observer connections and runs their read loop.
type Handler struct {
	hub      *server.Hub
	logger   telemetry.Logger
	upgrader websocket.Upgrader
}

func NewHandler(hub *server.Hub, cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.WrapLogger(log.Default())
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *nethttp.Request) bool {
			return true
		},
	}

	return &Handler{
		hub:      hub,
		logger:   logger,
		upgrader: upgrader,
	}
}

// Handle subscribes the connection to hub broadcasts. The hub writes the
// initial keyframe; afterwards the observer may only ask for keyframes and
// send heartbeats.
func (h *Handler) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade failed: %v", err)
		return
	}
	conn.SetReadLimit(maxMessageBytes)

	sub, err := h.hub.Subscribe(conn)
	if err != nil {
		h.logger.Printf("failed to subscribe observer: %v", err)
		conn.Close()
		return
	}

	s := &session{hub: h.hub, sub: sub, conn: conn, logger: h.logger}
	s.run()
}
