package server

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"vitals/server/internal/net/proto"
	"vitals/server/internal/replication"
)

// Conn is the part of *websocket.Conn the hub writes to.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type subscriber struct {
	id          string
	conn        Conn
	mu          sync.Mutex
	connectedAt time.Time
	sent        atomic.Uint64
}

func (s *subscriber) ID() string {
	return s.id
}

// WriteMessage serializes writes; gorilla connections allow one writer.
func (s *subscriber) WriteMessage(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	if err := s.conn.WriteMessage(messageType, data); err != nil {
		return err
	}
	s.sent.Add(1)
	return nil
}

func (s *subscriber) writeJSON(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.WriteMessage(websocket.TextMessage, data)
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.Close()
}

// Subscribe registers an observer and sends it a keyframe of the current
// state before any patch can reach it.
func (h *Hub) Subscribe(conn Conn) (*subscriber, error) {
	h.broadcastMu.Lock()
	defer h.broadcastMu.Unlock()

	sub := &subscriber{
		id:          fmt.Sprintf("%s-%d", observerIDPrefix, h.nextObserver.Add(1)),
		conn:        conn,
		connectedAt: h.now(),
	}
	if err := sub.writeJSON(proto.NewKeyframe(h.freshKeyframe())); err != nil {
		return nil, fmt.Errorf("send initial keyframe: %w", err)
	}

	h.mu.Lock()
	h.subscribers[sub.id] = sub
	h.mu.Unlock()
	return sub, nil
}

// Unsubscribe drops an observer and closes its connection.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subscribers[id]
	if ok {
		delete(h.subscribers, id)
	}
	h.mu.Unlock()
	if ok {
		sub.close()
	}
}

// HandleKeyframeRequest answers a resync request. Sequence zero asks for the
// current state; anything else is served from the keyframe buffer or refused
// with an expired nack.
func (h *Hub) HandleKeyframeRequest(observerID string, sequence uint64) error {
	h.broadcastMu.Lock()
	defer h.broadcastMu.Unlock()

	h.mu.Lock()
	sub, ok := h.subscribers[observerID]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown observer %s", observerID)
	}

	if sequence == 0 {
		h.telemetry.RecordKeyframeRequest(true)
		return sub.writeJSON(proto.NewKeyframe(h.freshKeyframe()))
	}
	frame, found := h.journal.KeyframeBySequence(sequence)
	h.telemetry.RecordKeyframeRequest(found)
	if !found {
		return sub.writeJSON(proto.NewKeyframeNack(sequence, proto.NackExpired))
	}
	return sub.writeJSON(proto.NewKeyframe(frame))
}

// freshKeyframe captures the live state under the latest recorded sequence.
// Patches still pending carry higher versions, so replicas keep them.
func (h *Hub) freshKeyframe() replication.Keyframe {
	h.mu.Lock()
	defer h.mu.Unlock()
	return replication.Keyframe{
		Tick:       h.currentTick(),
		Sequence:   h.keyframeSeq,
		Actors:     h.snapshotsLocked(),
		RecordedAt: h.now(),
	}
}
