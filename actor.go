package server

import (
	"context"
	"slices"

	"vitals/server/attributes"
	"vitals/server/internal/death"
	"vitals/server/internal/events"
	"vitals/server/internal/health"
	"vitals/server/internal/replication"
	"vitals/server/internal/tags"
)

// actor is a health-bearing entity owned by the hub. Every method runs with
// the hub lock held.
type actor struct {
	id        string
	hub       *Hub
	tags      *tags.Container
	set       *health.AttributeSet
	component *health.Component
	template  string
	version   uint64
	abilities []tags.Tag

	deathStartedTick uint64
	subs             events.Group
}

func (a *actor) ActorID() string            { return a.id }
func (a *actor) HasAuthority() bool         { return true }
func (a *actor) OwnedTags() *tags.Container { return a.tags }
func (a *actor) HealthSet() *health.AttributeSet {
	return a.set
}

// CancelAbilities drops every active ability not matching one of ignore.
func (a *actor) CancelAbilities(ignore ...tags.Tag) {
	kept := a.abilities[:0]
	for _, ability := range a.abilities {
		if slices.ContainsFunc(ignore, ability.Matches) {
			kept = append(kept, ability)
			continue
		}
		a.hub.telemetry.RecordAbilityCanceled()
	}
	a.abilities = kept
}

// bind forwards component and death signals into the replication journal.
func (a *actor) bind() {
	for _, id := range attributes.Replicated() {
		a.subs.Add(a.component.AttributeChanged(id).Subscribe(func(change health.AttributeChange) {
			a.hub.appendLocked(a, replication.PatchAttribute, replication.AttributePayload{
				Attribute: change.Attribute.String(),
				Value:     change.New,
			})
		}))
	}
	a.subs.Add(a.component.Death().Started.Subscribe(func(event death.Event) {
		a.deathStartedTick = a.hub.currentTick()
	}))
}

func (a *actor) close() {
	a.subs.Close()
	a.component.Close()
}

// endDeath is called by the tick loop once the dying period is over.
func (a *actor) endDeath(ctx context.Context) bool {
	if ability := a.component.DeathAbility(); ability.Active() {
		ability.End(ctx)
		return a.component.DeathState() == death.DeathFinished
	}
	return a.component.FinishDeath(ctx)
}

func (a *actor) snapshot() replication.Snapshot {
	return replication.Snapshot{
		ActorID:    a.id,
		Version:    a.version,
		Attributes: a.component.Snapshot().Values,
		DeathState: a.component.DeathState(),
		Template:   a.template,
	}
}

func (a *actor) view() ActorView {
	abilities := make([]string, 0, len(a.abilities))
	for _, ability := range a.abilities {
		abilities = append(abilities, string(ability))
	}
	return ActorView{
		ID:             a.id,
		Template:       a.template,
		Version:        a.version,
		Initialized:    a.component.Initialized(),
		Attributes:     a.component.Snapshot().Values,
		TotalHealth:    a.component.TotalHealth(),
		TotalMaxHealth: a.component.TotalMaxHealth(),
		DeathState:     a.component.DeathState(),
		Tags:           a.tags.Strings(),
		Abilities:      abilities,
		DamageHistory:  a.component.DamageHistory(),
	}
}
