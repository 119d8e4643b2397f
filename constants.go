package server

import "time"

const (
	ProtocolVersion         = 1
	writeWait               = 10 * time.Second
	tickRate                = 15 // ticks per second
	defaultKeyframeInterval = 30
	defaultKeyframeCapacity = 8
	defaultKeyframeMaxAge   = 10 * time.Second
	defaultDeathTicks       = 3 * tickRate
	actorIDPrefix           = "actor"
	observerIDPrefix        = "observer"
)
