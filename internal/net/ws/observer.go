package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"vitals/server/internal/net/proto"
	"vitals/server/internal/replication"
	"vitals/server/internal/telemetry"
)

// ObserverConfig tunes a client-side observer.
type ObserverConfig struct {
	Logger telemetry.Logger
	// HeartbeatInterval enables periodic heartbeats when positive.
	HeartbeatInterval time.Duration
	// OnUpdate runs after every message that changed the mirror.
	OnUpdate func()
}

// Observer follows a hub over websocket and keeps a replication.Mirror in
// sync with it.
type Observer struct {
	conn   *websocket.Conn
	mirror *replication.Mirror
	cfg    ObserverConfig
	logger telemetry.Logger

	writeMu     sync.Mutex
	keyframeSeq atomic.Uint64
	rttMillis   atomic.Int64
	resyncs     atomic.Uint64
}

// Dial connects to a hub websocket endpoint.
func Dial(ctx context.Context, url string, mirror *replication.Mirror, cfg ObserverConfig) (*Observer, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.WrapLogger(log.Default())
	}
	if mirror == nil {
		mirror = replication.NewMirror(nil)
	}
	return &Observer{conn: conn, mirror: mirror, cfg: cfg, logger: logger}, nil
}

func (o *Observer) Mirror() *replication.Mirror {
	return o.mirror
}

// KeyframeSeq is the sequence of the last keyframe applied.
func (o *Observer) KeyframeSeq() uint64 {
	return o.keyframeSeq.Load()
}

// RTT is the round trip measured by the last heartbeat ack.
func (o *Observer) RTT() time.Duration {
	return time.Duration(o.rttMillis.Load()) * time.Millisecond
}

// Resyncs counts keyframes requested after a rejected patch or a nack.
func (o *Observer) Resyncs() uint64 {
	return o.resyncs.Load()
}

// Run reads messages until ctx is cancelled or the connection fails. A
// cancelled context is not reported as an error.
func (o *Observer) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-runCtx.Done()
		o.conn.Close()
	}()
	if o.cfg.HeartbeatInterval > 0 {
		go o.heartbeatLoop(runCtx)
	}

	for {
		_, payload, err := o.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
				return nil
			}
			return err
		}
		if err := o.handle(ctx, payload); err != nil {
			return err
		}
	}
}

func (o *Observer) handle(ctx context.Context, payload []byte) error {
	msg, err := proto.DecodeServerMessage(payload)
	if err != nil {
		o.logger.Printf("discarding malformed message: %v", err)
		return nil
	}
	switch m := msg.(type) {
	case proto.Keyframe:
		o.mirror.ApplyKeyframe(ctx, m.Actors)
		o.keyframeSeq.Store(m.Sequence)
		o.notify()
	case proto.State:
		if err := o.mirror.ApplyPatches(ctx, m.Patches); err != nil {
			o.logger.Printf("patch rejected, requesting keyframe: %v", err)
			return o.resync()
		}
		o.notify()
	case proto.KeyframeNack:
		o.logger.Printf("keyframe %d unavailable (%s), requesting latest", m.Sequence, m.Reason)
		return o.resync()
	case proto.Heartbeat:
		o.rttMillis.Store(m.RTTMillis)
	}
	return nil
}

func (o *Observer) resync() error {
	o.resyncs.Add(1)
	return o.RequestKeyframe(0)
}

func (o *Observer) notify() {
	if o.cfg.OnUpdate != nil {
		o.cfg.OnUpdate()
	}
}

// RequestKeyframe asks for a buffered keyframe, or the current state when
// sequence is zero.
func (o *Observer) RequestKeyframe(sequence uint64) error {
	return o.send(proto.KeyframeRequest(sequence))
}

// Heartbeat sends a heartbeat stamped with the local time.
func (o *Observer) Heartbeat() error {
	return o.send(proto.ClientMessage{
		Ver:    proto.Version,
		Type:   proto.TypeHeartbeatIn,
		SentAt: time.Now().UnixMilli(),
	})
}

func (o *Observer) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.Heartbeat(); err != nil {
				o.logger.Printf("heartbeat failed: %v", err)
				return
			}
		}
	}
}

func (o *Observer) send(msg proto.ClientMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	o.writeMu.Lock()
	defer o.writeMu.Unlock()
	if err := o.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}
	return o.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame and closes the connection.
func (o *Observer) Close() error {
	o.writeMu.Lock()
	o.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	o.writeMu.Unlock()
	return o.conn.Close()
}
