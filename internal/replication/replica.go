package replication

import (
	"context"
	"fmt"

	"vitals/server/attributes"
	"vitals/server/internal/death"
	"vitals/server/internal/events"
	"vitals/server/logging"
)

// FieldChange is fired by a replica for every replicated attribute whose
// value moved.
type FieldChange struct {
	ActorID   string
	Attribute attributes.ID
	Old       float64
	New       float64
}

// Replica is an observer's read-only copy of one actor. Writes come only from
// snapshots and patches; death changes go through a non-authoritative
// machine so skipped transitions still replay.
type Replica struct {
	actorID  string
	version  uint64
	values   [attributes.Count]float64
	known    [attributes.Count]bool
	template string
	machine  *death.Machine

	Changed         events.Signal[FieldChange]
	TemplateChanged events.Signal[string]
}

// NewReplica builds an empty replica.
func NewReplica(actorID string, pub logging.Publisher) *Replica {
	return &Replica{
		actorID: actorID,
		machine: death.NewMachine(death.Config{ActorID: actorID, Publisher: pub}),
	}
}

func (r *Replica) ActorID() string { return r.actorID }
func (r *Replica) Version() uint64 { return r.version }
func (r *Replica) Template() string { return r.template }

// Death exposes the replayed death machine for Started/Finished listeners.
func (r *Replica) Death() *death.Machine {
	return r.machine
}

func (r *Replica) Get(id attributes.ID) float64 {
	if id >= attributes.Count {
		return 0
	}
	return r.values[id]
}

// Has reports whether the attribute has been received.
func (r *Replica) Has(id attributes.ID) bool {
	return id < attributes.Count && r.known[id]
}

// ApplySnapshot replaces the replica state. Snapshots older than the replica
// are ignored. Callbacks fire in attribute order, then the death replay.
func (r *Replica) ApplySnapshot(ctx context.Context, snap Snapshot) bool {
	if snap.Version < r.version {
		return false
	}
	r.version = snap.Version
	for _, id := range attributes.Replicated() {
		value, ok := snap.Attributes[id.String()]
		if !ok {
			continue
		}
		r.set(id, value)
	}
	r.setTemplate(snap.Template)
	r.machine.OnReplicated(ctx, snap.DeathState)
	return true
}

// ApplyPatch applies one patch. Patches at or below the replica version are
// dropped and reported as not applied.
func (r *Replica) ApplyPatch(ctx context.Context, patch Patch) (bool, error) {
	if patch.EntityID != r.actorID {
		return false, fmt.Errorf("apply patch: entity %q sent to replica %q", patch.EntityID, r.actorID)
	}
	if patch.Version <= r.version {
		return false, nil
	}
	switch patch.Kind {
	case PatchAttribute:
		payload, ok := payloadAsAttribute(patch.Payload)
		if !ok {
			return false, fmt.Errorf("apply patch: unexpected payload %T for %q", patch.Payload, patch.Kind)
		}
		id, ok := attributes.Parse(payload.Attribute)
		if !ok || !attributes.IsReplicated(id) {
			return false, fmt.Errorf("apply patch: unknown attribute %q", payload.Attribute)
		}
		r.version = patch.Version
		r.set(id, payload.Value)
	case PatchDeathState:
		payload, ok := payloadAsDeathState(patch.Payload)
		if !ok {
			return false, fmt.Errorf("apply patch: unexpected payload %T for %q", patch.Payload, patch.Kind)
		}
		r.version = patch.Version
		r.machine.OnReplicated(ctx, payload.State)
	case PatchTemplate:
		payload, ok := payloadAsTemplate(patch.Payload)
		if !ok {
			return false, fmt.Errorf("apply patch: unexpected payload %T for %q", patch.Payload, patch.Kind)
		}
		r.version = patch.Version
		r.setTemplate(payload.Template)
	default:
		return false, fmt.Errorf("apply patch: unsupported patch kind %q", patch.Kind)
	}
	return true, nil
}

// Snapshot reports the replica state in wire form.
func (r *Replica) Snapshot() Snapshot {
	values := make(map[string]float64)
	for _, id := range attributes.Replicated() {
		if r.known[id] {
			values[id.String()] = r.values[id]
		}
	}
	return Snapshot{
		ActorID:    r.actorID,
		Version:    r.version,
		Attributes: values,
		DeathState: r.machine.State(),
		Template:   r.template,
	}
}

// TotalHealth mirrors the authoritative getter.
func (r *Replica) TotalHealth() float64 {
	return r.values[attributes.Health] + r.values[attributes.Shield] + r.values[attributes.ExtraHealth]
}

// TotalMaxHealth mirrors the authoritative getter.
func (r *Replica) TotalMaxHealth() float64 {
	return r.values[attributes.MaxHealth] + r.values[attributes.MaxShield] + r.values[attributes.ExtraHealth]
}

func (r *Replica) set(id attributes.ID, value float64) {
	old := r.values[id]
	first := !r.known[id]
	r.values[id] = value
	r.known[id] = true
	if first || old != value {
		r.Changed.Emit(FieldChange{ActorID: r.actorID, Attribute: id, Old: old, New: value})
	}
}

func (r *Replica) setTemplate(name string) {
	if name == "" || name == r.template {
		return
	}
	r.template = name
	r.TemplateChanged.Emit(name)
}
