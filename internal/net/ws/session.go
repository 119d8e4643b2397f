package ws

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"vitals/server"
	"vitals/server/internal/net/proto"
	"vitals/server/internal/telemetry"
)

// subscription is the hub's handle for one observer.
type subscription interface {
	ID() string
	WriteMessage(messageType int, data []byte) error
}

type session struct {
	hub    *server.Hub
	sub    subscription
	conn   *websocket.Conn
	logger telemetry.Logger
}

// run reads observer messages until the connection fails, then
// unsubscribes.
func (s *session) run() {
	id := s.sub.ID()
	defer s.hub.Unsubscribe(id)

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Printf("observer %s read failed: %v", id, err)
			}
			return
		}

		msg, err := proto.DecodeClientMessage(payload)
		if err != nil {
			s.logger.Printf("discarding malformed message from %s: %v", id, err)
			continue
		}

		switch msg.Type {
		case proto.TypeHeartbeatIn:
			if err := s.heartbeat(msg.SentAt); err != nil {
				s.logger.Printf("failed to ack heartbeat for %s: %v", id, err)
				return
			}
		case proto.TypeKeyframeReq:
			var sequence uint64
			if msg.KeyframeSeq != nil {
				sequence = *msg.KeyframeSeq
			}
			if err := s.hub.HandleKeyframeRequest(id, sequence); err != nil {
				s.logger.Printf("failed to answer keyframe request from %s: %v", id, err)
				return
			}
		default:
			s.logger.Printf("unknown message type %q from %s", msg.Type, id)
		}
	}
}

func (s *session) heartbeat(clientTime int64) error {
	now := time.Now()
	ack := proto.Heartbeat{
		Ver:        server.ProtocolVersion,
		Type:       proto.TypeHeartbeat,
		ServerTime: now.UnixMilli(),
		ClientTime: clientTime,
	}
	if clientTime > 0 {
		if rtt := now.UnixMilli() - clientTime; rtt > 0 {
			ack.RTTMillis = rtt
		}
	}
	data, err := json.Marshal(ack)
	if err != nil {
		return err
	}
	return s.sub.WriteMessage(websocket.TextMessage, data)
}
