// Package lifecycle tracks per-actor feature initialization stages so a
// feature can wait for a sibling to reach a stage before advancing itself.
package lifecycle

import (
	"fmt"
	"sync"

	"vitals/server/internal/events"
)

// Stage is ordered; features only move forward.
type Stage uint8

const (
	None Stage = iota
	Spawned
	DataAvailable
	DataInitialized
	GameplayReady
)

func (s Stage) String() string {
	switch s {
	case None:
		return "None"
	case Spawned:
		return "Spawned"
	case DataAvailable:
		return "DataAvailable"
	case DataInitialized:
		return "DataInitialized"
	case GameplayReady:
		return "GameplayReady"
	default:
		return fmt.Sprintf("Stage(%d)", uint8(s))
	}
}

// Feature names a participant in an actor's initialization.
type Feature string

const (
	FeatureAbilitySystem Feature = "AbilitySystem"
	FeatureHealth        Feature = "Health"
)

// Change is delivered to subscribers after a feature advances.
type Change struct {
	Actor   string
	Feature Feature
	Stage   Stage
}

type key struct {
	actor   string
	feature Feature
}

// Manager is safe for concurrent use. Subscribers run synchronously on the
// goroutine that called Advance, after the manager lock is released.
type Manager struct {
	mu      sync.Mutex
	stages  map[key]Stage
	signals map[key]*events.Signal[Change]
}

func NewManager() *Manager {
	return &Manager{
		stages:  make(map[key]Stage),
		signals: make(map[key]*events.Signal[Change]),
	}
}

// Register places feature at Spawned. Registering twice keeps the current stage.
func (m *Manager) Register(actor string, feature Feature) {
	m.mu.Lock()
	k := key{actor, feature}
	_, exists := m.stages[k]
	if !exists {
		m.stages[k] = Spawned
	}
	m.mu.Unlock()
	if !exists {
		m.notify(Change{Actor: actor, Feature: feature, Stage: Spawned})
	}
}

// Advance moves feature to stage. It fails for unregistered features and for
// stages at or behind the current one.
func (m *Manager) Advance(actor string, feature Feature, stage Stage) bool {
	m.mu.Lock()
	k := key{actor, feature}
	current, ok := m.stages[k]
	if !ok || stage <= current || stage > GameplayReady {
		m.mu.Unlock()
		return false
	}
	m.stages[k] = stage
	m.mu.Unlock()
	m.notify(Change{Actor: actor, Feature: feature, Stage: stage})
	return true
}

// Stage returns None for unregistered features.
func (m *Manager) Stage(actor string, feature Feature) Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stages[key{actor, feature}]
}

func (m *Manager) HasReached(actor string, feature Feature, stage Stage) bool {
	return m.Stage(actor, feature) >= stage
}

// Subscribe observes changes to one feature of one actor. An empty feature
// observes every feature of the actor.
func (m *Manager) Subscribe(actor string, feature Feature, fn func(Change)) events.Subscription {
	m.mu.Lock()
	k := key{actor, feature}
	sig, ok := m.signals[k]
	if !ok {
		sig = &events.Signal[Change]{}
		m.signals[k] = sig
	}
	m.mu.Unlock()
	return sig.Subscribe(fn)
}

// SubscribeAndCall subscribes and immediately reports the current stage when
// the feature is already registered.
func (m *Manager) SubscribeAndCall(actor string, feature Feature, fn func(Change)) events.Subscription {
	sub := m.Subscribe(actor, feature, fn)
	if stage := m.Stage(actor, feature); stage > None && fn != nil {
		fn(Change{Actor: actor, Feature: feature, Stage: stage})
	}
	return sub
}

// Unregister forgets every feature and subscriber of actor.
func (m *Manager) Unregister(actor string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.stages {
		if k.actor == actor {
			delete(m.stages, k)
		}
	}
	for k := range m.signals {
		if k.actor == actor {
			delete(m.signals, k)
		}
	}
}

func (m *Manager) notify(change Change) {
	m.mu.Lock()
	specific := m.signals[key{change.Actor, change.Feature}]
	wildcard := m.signals[key{change.Actor, ""}]
	m.mu.Unlock()
	if specific != nil {
		specific.Emit(change)
	}
	if wildcard != nil {
		wildcard.Emit(change)
	}
}
