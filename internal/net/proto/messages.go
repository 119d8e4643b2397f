// Package proto defines the websocket messages exchanged with observers.
package proto

import (
	"encoding/json"
	"fmt"

	"vitals/server/internal/replication"
)

const (
	// Version tracks the wire-protocol revision expected by clients.
	Version = 1

	TypeState        = "state"
	TypeKeyframe     = "keyframe"
	TypeKeyframeNack = "keyframeNack"
	TypeHeartbeat    = "heartbeat"
)

// Client message type identifiers.
const (
	TypeKeyframeReq = "keyframeRequest"
	TypeHeartbeatIn = "heartbeat"
)

// Nack reasons.
const (
	NackExpired = "expired"
)

// State carries the patches committed since the previous broadcast.
type State struct {
	Ver         int                 `json:"ver"`
	Type        string              `json:"type"`
	Patches     []replication.Patch `json:"patches"`
	Tick        uint64              `json:"t"`
	KeyframeSeq uint64              `json:"keyframeSeq"`
	ServerTime  int64               `json:"serverTime"`
}

// Keyframe carries full actor snapshots. It is sent on subscribe and on
// request.
type Keyframe struct {
	Ver      int                    `json:"ver"`
	Type     string                 `json:"type"`
	Sequence uint64                 `json:"sequence"`
	Tick     uint64                 `json:"t"`
	Actors   []replication.Snapshot `json:"actors"`
}

type KeyframeNack struct {
	Ver      int    `json:"ver"`
	Type     string `json:"type"`
	Sequence uint64 `json:"sequence"`
	Reason   string `json:"reason"`
}

type Heartbeat struct {
	Ver        int    `json:"ver"`
	Type       string `json:"type"`
	ServerTime int64  `json:"serverTime"`
	ClientTime int64  `json:"clientTime"`
	RTTMillis  int64  `json:"rtt"`
}

// ClientMessage is anything an observer sends. A zero KeyframeSeq requests
// the latest keyframe.
type ClientMessage struct {
	Ver         int     `json:"ver,omitempty"`
	Type        string  `json:"type"`
	SentAt      int64   `json:"sentAt,omitempty"`
	KeyframeSeq *uint64 `json:"keyframeSeq,omitempty"`
}

func NewState(tick, keyframeSeq uint64, patches []replication.Patch, serverTime int64) State {
	if patches == nil {
		patches = []replication.Patch{}
	}
	return State{
		Ver:         Version,
		Type:        TypeState,
		Patches:     patches,
		Tick:        tick,
		KeyframeSeq: keyframeSeq,
		ServerTime:  serverTime,
	}
}

func NewKeyframe(frame replication.Keyframe) Keyframe {
	actors := frame.Actors
	if actors == nil {
		actors = []replication.Snapshot{}
	}
	return Keyframe{
		Ver:      Version,
		Type:     TypeKeyframe,
		Sequence: frame.Sequence,
		Tick:     frame.Tick,
		Actors:   actors,
	}
}

func NewKeyframeNack(sequence uint64, reason string) KeyframeNack {
	return KeyframeNack{Ver: Version, Type: TypeKeyframeNack, Sequence: sequence, Reason: reason}
}

// KeyframeRequest builds the client message asking for a keyframe.
func KeyframeRequest(sequence uint64) ClientMessage {
	seq := sequence
	return ClientMessage{Ver: Version, Type: TypeKeyframeReq, KeyframeSeq: &seq}
}

// DecodeServerMessage parses an outbound message into State, Keyframe,
// KeyframeNack or Heartbeat based on its type field.
func DecodeServerMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	switch envelope.Type {
	case TypeState:
		var msg State
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode state: %w", err)
		}
		return msg, nil
	case TypeKeyframe:
		var msg Keyframe
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode keyframe: %w", err)
		}
		return msg, nil
	case TypeKeyframeNack:
		var msg KeyframeNack
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode keyframe nack: %w", err)
		}
		return msg, nil
	case TypeHeartbeat:
		var msg Heartbeat
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode heartbeat: %w", err)
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("unknown message type %q", envelope.Type)
	}
}

// DecodeClientMessage parses an inbound observer message.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, err
	}
	if msg.Type == "" {
		return ClientMessage{}, fmt.Errorf("missing message type")
	}
	return msg, nil
}
