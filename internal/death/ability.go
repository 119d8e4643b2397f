package death

import (
	"context"

	"vitals/server/internal/tags"
)

// Canceler cancels the owner's running abilities except those carrying one of
// the ignore tags.
type Canceler interface {
	CancelAbilities(ignore ...tags.Tag)
}

// AbilityConfig tunes the death ability.
type AbilityConfig struct {
	// AutoStart begins death as soon as the ability activates. Disable it when
	// something upstream decides when death starts.
	AutoStart bool
	Canceler  Canceler
}

// Ability is granted to actors with a health component and activated by the
// out-of-health event. Once active it cannot be cancelled, and ending it always
// tries to finish death.
type Ability struct {
	machine *Machine
	cfg     AbilityConfig
	active  bool
}

func NewAbility(machine *Machine, cfg AbilityConfig) *Ability {
	return &Ability{machine: machine, cfg: cfg}
}

// TriggerTag is the event that activates the ability.
func (a *Ability) TriggerTag() tags.Tag {
	return tags.EventOutOfHealth
}

func (a *Ability) Active() bool {
	return a != nil && a.active
}

// CanBeCanceled is false for the whole time the ability runs.
func (a *Ability) CanBeCanceled() bool {
	return a != nil && !a.active
}

// Activate runs the ability. Re-activation while active is ignored.
func (a *Ability) Activate(ctx context.Context) bool {
	if a == nil || a.active {
		return false
	}
	a.active = true
	if a.cfg.Canceler != nil {
		a.cfg.Canceler.CancelAbilities(tags.AbilityIgnoreDeath, tags.AbilityDeath)
	}
	if a.cfg.AutoStart {
		a.StartDeath(ctx)
	}
	return true
}

// StartDeath begins death if it has not started yet.
func (a *Ability) StartDeath(ctx context.Context) bool {
	if a == nil || a.machine.State() != NotDead {
		return false
	}
	return a.machine.Start(ctx)
}

// FinishDeath completes death if it is in progress.
func (a *Ability) FinishDeath(ctx context.Context) bool {
	if a == nil || a.machine.State() != DeathStarted {
		return false
	}
	return a.machine.Finish(ctx)
}

// End finishes death, which does nothing if death never started.
func (a *Ability) End(ctx context.Context) {
	if a == nil || !a.active {
		return
	}
	a.FinishDeath(ctx)
	a.active = false
}
