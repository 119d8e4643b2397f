// Package replication carries authoritative health state to observers:
// full snapshots, per-field patches staged in a journal, and observer-side
// replicas that replay them.
package replication

import (
	"encoding/json"
	"fmt"

	"vitals/server/attributes"
	"vitals/server/internal/death"
)

// PatchKind identifies the type of diff entry.
type PatchKind string

const (
	// PatchAttribute updates one replicated attribute.
	PatchAttribute PatchKind = "attribute"
	// PatchDeathState updates the death state.
	PatchDeathState PatchKind = "death_state"
	// PatchTemplate records the template assigned to an actor.
	PatchTemplate PatchKind = "template"
	// PatchActorRemoved signals that an actor is gone.
	PatchActorRemoved PatchKind = "actor_removed"
)

// Patch is a diff entry for one actor. Version increases per actor so
// observers can drop anything older than what they already hold.
type Patch struct {
	Kind     PatchKind `json:"kind"`
	EntityID string    `json:"entityId"`
	Version  uint64    `json:"version"`
	Payload  any       `json:"payload,omitempty"`
}

// AttributePayload carries a replicated attribute value.
type AttributePayload struct {
	Attribute string  `json:"attribute"`
	Value     float64 `json:"value"`
}

// DeathStatePayload carries the authoritative death state.
type DeathStatePayload struct {
	State death.State `json:"state"`
}

// TemplatePayload carries the template name.
type TemplatePayload struct {
	Template string `json:"template"`
}

// UnmarshalJSON decodes the payload into the struct matching Kind so replay
// code sees the same types the server produced.
func (p *Patch) UnmarshalJSON(data []byte) error {
	var raw struct {
		Kind     PatchKind       `json:"kind"`
		EntityID string          `json:"entityId"`
		Version  uint64          `json:"version"`
		Payload  json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.Kind = raw.Kind
	p.EntityID = raw.EntityID
	p.Version = raw.Version
	p.Payload = nil

	var target any
	switch raw.Kind {
	case PatchAttribute:
		target = &AttributePayload{}
	case PatchDeathState:
		target = &DeathStatePayload{}
	case PatchTemplate:
		target = &TemplatePayload{}
	case PatchActorRemoved:
		return nil
	default:
		return fmt.Errorf("replication: unknown patch kind %q", raw.Kind)
	}
	if len(raw.Payload) == 0 {
		return fmt.Errorf("replication: missing payload for %q", raw.Kind)
	}
	if err := json.Unmarshal(raw.Payload, target); err != nil {
		return fmt.Errorf("replication: decode %q payload: %w", raw.Kind, err)
	}
	switch v := target.(type) {
	case *AttributePayload:
		p.Payload = *v
	case *DeathStatePayload:
		p.Payload = *v
	case *TemplatePayload:
		p.Payload = *v
	}
	return nil
}

// Snapshot is the full replicated state of one actor.
type Snapshot struct {
	ActorID    string             `json:"actorId"`
	Version    uint64             `json:"version"`
	Attributes map[string]float64 `json:"attributes"`
	DeathState death.State        `json:"deathState"`
	Template   string             `json:"template,omitempty"`
}

// Clone deep-copies the attribute map.
func (s Snapshot) Clone() Snapshot {
	cloned := s
	if s.Attributes != nil {
		cloned.Attributes = make(map[string]float64, len(s.Attributes))
		for k, v := range s.Attributes {
			cloned.Attributes[k] = v
		}
	}
	return cloned
}

// AttributeSnapshot converts the attribute map for attributes.Set.Restore.
func (s Snapshot) AttributeSnapshot() attributes.Snapshot {
	return attributes.Snapshot{Values: s.Clone().Attributes}
}

func payloadAsAttribute(value any) (AttributePayload, bool) {
	switch v := value.(type) {
	case AttributePayload:
		return v, true
	case *AttributePayload:
		if v == nil {
			return AttributePayload{}, false
		}
		return *v, true
	default:
		return AttributePayload{}, false
	}
}

func payloadAsDeathState(value any) (DeathStatePayload, bool) {
	switch v := value.(type) {
	case DeathStatePayload:
		return v, true
	case *DeathStatePayload:
		if v == nil {
			return DeathStatePayload{}, false
		}
		return *v, true
	default:
		return DeathStatePayload{}, false
	}
}

func payloadAsTemplate(value any) (TemplatePayload, bool) {
	switch v := value.(type) {
	case TemplatePayload:
		return v, true
	case *TemplatePayload:
		if v == nil {
			return TemplatePayload{}, false
		}
		return *v, true
	default:
		return TemplatePayload{}, false
	}
}
