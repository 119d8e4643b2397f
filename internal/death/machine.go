package death

import (
	"context"

	"vitals/server/internal/events"
	"vitals/server/internal/tags"
	"vitals/server/logging"
	healthlog "vitals/server/logging/health"
)

// Event is broadcast on every transition, authoritative or replayed.
type Event struct {
	ActorID  string
	State    State
	Replayed bool
}

// Config wires a machine to its actor.
type Config struct {
	ActorID   string
	Authority bool
	// Tags receives the Status.Death.* loose tags. Only the authority writes them.
	Tags      *tags.Container
	Publisher logging.Publisher
	Tick      func() uint64
	// ForceSync pushes the new state to observers immediately.
	ForceSync func(State)
}

// Machine owns the death state of one actor. It is not safe for concurrent use;
// callers serialize access the same way they serialize attribute writes.
type Machine struct {
	cfg   Config
	state State

	Started  events.Signal[Event]
	Finished events.Signal[Event]
}

// NewMachine returns a machine in NotDead.
func NewMachine(cfg Config) *Machine {
	if cfg.Publisher == nil {
		cfg.Publisher = logging.NopPublisher()
	}
	return &Machine{cfg: cfg}
}

func (m *Machine) State() State {
	if m == nil {
		return NotDead
	}
	return m.state
}

func (m *Machine) Authority() bool {
	return m != nil && m.cfg.Authority
}

// IsDeadOrDying reports whether death has started.
func (m *Machine) IsDeadOrDying() bool {
	return m.State() > NotDead
}

// Start moves NotDead to DeathStarted. It is a no-op off the authority or
// when the state has already advanced.
func (m *Machine) Start(ctx context.Context) bool {
	if m == nil || !m.cfg.Authority || m.state != NotDead {
		return false
	}
	m.state = DeathStarted
	m.handleStart(ctx, false)
	m.forceSync()
	return true
}

// Finish moves DeathStarted to DeathFinished under the same rules as Start.
func (m *Machine) Finish(ctx context.Context) bool {
	if m == nil || !m.cfg.Authority || m.state != DeathStarted {
		return false
	}
	m.state = DeathFinished
	m.handleFinish(ctx, false)
	m.forceSync()
	return true
}

// OnReplicated applies a state received from the authority. The local state is
// treated as the old value; a received state behind it is rejected so local
// prediction never regresses. Returns the resulting local state.
func (m *Machine) OnReplicated(ctx context.Context, received State) State {
	if m == nil {
		return NotDead
	}
	local := m.state
	payload := healthlog.DeathReplayPayload{Local: local.String(), Received: received.String()}
	if !received.Valid() {
		payload.Reached = local.String()
		healthlog.DeathReplayInvalid(ctx, m.cfg.Publisher, m.tick(), logging.ActorRef(m.cfg.ActorID), payload)
		return local
	}
	if received < local {
		payload.Reached = local.String()
		healthlog.DeathReplayRejected(ctx, m.cfg.Publisher, m.tick(), logging.ActorRef(m.cfg.ActorID), payload)
		return local
	}
	for step := local + 1; step <= received; step++ {
		if m.state != step-1 {
			// A listener moved the state while we were replaying.
			payload.Reached = m.state.String()
			healthlog.DeathReplayInvalid(ctx, m.cfg.Publisher, m.tick(), logging.ActorRef(m.cfg.ActorID), payload)
			return m.state
		}
		m.state = step
		switch step {
		case DeathStarted:
			m.handleStart(ctx, true)
		case DeathFinished:
			m.handleFinish(ctx, true)
		}
	}
	return m.state
}

// Restore sets the state without side effects, for actors loaded from storage.
func (m *Machine) Restore(state State) {
	if m == nil || !state.Valid() {
		return
	}
	m.state = state
	m.syncTags()
}

// ClearTags drops the death status tags, used when the owner is unbound.
func (m *Machine) ClearTags() {
	if m == nil || !m.cfg.Authority || m.cfg.Tags == nil {
		return
	}
	m.cfg.Tags.SetCount(tags.StatusDeathDying, 0)
	m.cfg.Tags.SetCount(tags.StatusDeathDead, 0)
}

func (m *Machine) handleStart(ctx context.Context, replayed bool) {
	if m.cfg.Authority && m.cfg.Tags != nil {
		m.cfg.Tags.SetCount(tags.StatusDeathDying, 1)
	}
	healthlog.DeathStarted(ctx, m.cfg.Publisher, m.tick(), logging.ActorRef(m.cfg.ActorID), healthlog.DeathPayload{
		Authority: m.cfg.Authority,
		Replayed:  replayed,
	})
	m.Started.Emit(Event{ActorID: m.cfg.ActorID, State: DeathStarted, Replayed: replayed})
}

func (m *Machine) handleFinish(ctx context.Context, replayed bool) {
	if m.cfg.Authority && m.cfg.Tags != nil {
		m.cfg.Tags.SetCount(tags.StatusDeathDead, 1)
	}
	healthlog.DeathFinished(ctx, m.cfg.Publisher, m.tick(), logging.ActorRef(m.cfg.ActorID), healthlog.DeathPayload{
		Authority: m.cfg.Authority,
		Replayed:  replayed,
	})
	m.Finished.Emit(Event{ActorID: m.cfg.ActorID, State: DeathFinished, Replayed: replayed})
}

func (m *Machine) syncTags() {
	if !m.cfg.Authority || m.cfg.Tags == nil {
		return
	}
	dying, dead := 0, 0
	if m.state >= DeathStarted {
		dying = 1
	}
	if m.state >= DeathFinished {
		dead = 1
	}
	m.cfg.Tags.SetCount(tags.StatusDeathDying, dying)
	m.cfg.Tags.SetCount(tags.StatusDeathDead, dead)
}

func (m *Machine) forceSync() {
	if m.cfg.ForceSync != nil {
		m.cfg.ForceSync(m.state)
	}
}

func (m *Machine) tick() uint64 {
	if m.cfg.Tick == nil {
		return 0
	}
	return m.cfg.Tick()
}
