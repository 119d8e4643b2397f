// Package health holds the attribute hooks that turn meta attributes into pool
// changes and the component that exposes them to the rest of the server.
package health

import (
	"math"

	"vitals/server/attributes"
	"vitals/server/internal/effect"
	"vitals/server/internal/events"
	"vitals/server/internal/tags"
)

// AttributeChange reports a committed value change.
type AttributeChange struct {
	Attribute  attributes.ID
	Old        float64
	New        float64
	Instigator string
}

// Execution describes an effect once it has been applied to the pools.
type Execution struct {
	Spec       effect.Spec
	TargetTags *tags.Container
	Magnitude  float64
}

// Result summarises what Execute did.
type Result struct {
	Executed    bool
	Attribute   attributes.ID
	Magnitude   float64
	OutOfHealth bool
}

// AttributeSet wraps the raw attribute values with the pre and post execution
// hooks. It is not safe for concurrent use.
type AttributeSet struct {
	values      *attributes.Set
	outOfHealth bool

	Changed     events.Signal[AttributeChange]
	Damaged     events.Signal[Execution]
	Healed      events.Signal[Execution]
	OutOfHealth events.Signal[Execution]
}

func NewAttributeSet() *AttributeSet {
	return &AttributeSet{values: attributes.NewSet()}
}

// Values exposes the underlying set for snapshots.
func (s *AttributeSet) Values() *attributes.Set {
	if s == nil {
		return nil
	}
	return s.values
}

func (s *AttributeSet) Get(id attributes.ID) float64 {
	if s == nil {
		return 0
	}
	return s.values.Get(id)
}

// IsOutOfHealth reports the edge flag used to fire OutOfHealth once per drop.
func (s *AttributeSet) IsOutOfHealth() bool {
	return s != nil && s.outOfHealth
}

// SetBase performs an administrative write. The value is clamped first and the
// follow-up rules run after the commit.
func (s *AttributeSet) SetBase(id attributes.ID, value float64, instigator string) bool {
	if s == nil || attributes.IsMeta(id) {
		return false
	}
	return s.write(id, value, instigator)
}

// Restore loads a snapshot without firing change signals and re-derives the
// out-of-health flag.
func (s *AttributeSet) Restore(snapshot attributes.Snapshot) {
	if s == nil {
		return
	}
	s.values.Restore(snapshot)
	s.outOfHealth = s.values.Get(attributes.Health) <= 0
}

// Execute runs the pre hook, applies the modification and runs the post hook.
func (s *AttributeSet) Execute(spec effect.Spec, targetTags *tags.Container) Result {
	result := Result{Attribute: spec.Attribute}
	if s == nil || spec.Validate() != nil || math.IsNaN(spec.Magnitude) || math.IsInf(spec.Magnitude, 0) {
		return result
	}
	if !s.PreExecute(&spec, targetTags) {
		return result
	}
	instigator := spec.Context.Instigator
	switch {
	case attributes.IsMeta(spec.Attribute):
		s.values.SetCurrent(spec.Attribute, s.values.Get(spec.Attribute)+spec.Magnitude)
	case spec.Op == effect.OpOverride:
		s.write(spec.Attribute, spec.Magnitude, instigator)
	default:
		s.write(spec.Attribute, s.values.GetBase(spec.Attribute)+spec.Magnitude, instigator)
	}
	result.Executed = true
	result.Magnitude = spec.Magnitude
	result.OutOfHealth = s.PostExecute(spec, targetTags)
	return result
}

// PreExecute screens incoming damage. Immune targets take nothing unless the
// damage is self-destruct; otherwise the magnitude is scaled by resistance.
// Returning false aborts the execution.
func (s *AttributeSet) PreExecute(spec *effect.Spec, targetTags *tags.Container) bool {
	if spec.Attribute != attributes.Damage || spec.Magnitude <= 0 {
		return true
	}
	selfDestruct := spec.DynamicTags.HasExact(tags.DamageTypeSelfDestruct) ||
		spec.SourceTags.HasExact(tags.DamageTypeSelfDestruct)
	if targetTags.Has(tags.FlagDamageImmunity) && !selfDestruct {
		spec.Magnitude = 0
		return false
	}
	spec.Magnitude *= 1 - s.values.Get(attributes.DamageResistance)
	return true
}

// PostExecute distributes meta attributes into the pools and reports whether
// this execution took health to zero.
func (s *AttributeSet) PostExecute(spec effect.Spec, targetTags *tags.Container) bool {
	exec := Execution{Spec: spec, TargetTags: targetTags, Magnitude: spec.Magnitude}
	instigator := spec.Context.Instigator

	switch spec.Attribute {
	case attributes.Damage:
		amount := s.values.Get(attributes.Damage)
		if amount > 0 {
			s.distributeDamage(amount, instigator)
			s.Damaged.Emit(exec)
		}
		s.values.SetCurrent(attributes.Damage, 0)
	case attributes.Healing:
		amount := s.values.Get(attributes.Healing)
		if amount > 0 {
			s.distributeHeal(amount, instigator)
			s.Healed.Emit(exec)
		}
		s.values.SetCurrent(attributes.Healing, 0)
	case attributes.HealingShield:
		amount := s.values.Get(attributes.HealingShield)
		if amount > 0 {
			shield := s.values.Get(attributes.Shield)
			s.write(attributes.Shield, math.Min(s.values.Get(attributes.MaxShield), shield+amount), instigator)
			s.Healed.Emit(exec)
		}
		s.values.SetCurrent(attributes.HealingShield, 0)
	case attributes.Health, attributes.Shield:
		s.write(spec.Attribute, s.values.Get(spec.Attribute), instigator)
	}

	zero := s.values.Get(attributes.Health) <= 0
	fired := zero && !s.outOfHealth
	s.outOfHealth = zero
	if fired {
		s.OutOfHealth.Emit(exec)
	}
	return fired
}

// distributeDamage drains ExtraHealth, then Shield, then Health. Each pass
// subtracts the whole pool value from the remainder, so at most three passes run.
func (s *AttributeSet) distributeDamage(remaining float64, instigator string) {
	for pass := 0; pass < 3 && remaining > 0; pass++ {
		if pool := s.values.Get(attributes.ExtraHealth); pool > 0 {
			s.write(attributes.ExtraHealth, math.Max(0, pool-remaining), instigator)
			remaining -= pool
			continue
		}
		if pool := s.values.Get(attributes.Shield); pool > 0 {
			s.write(attributes.Shield, math.Max(0, pool-remaining), instigator)
			remaining -= pool
			continue
		}
		if pool := s.values.Get(attributes.Health); pool > 0 {
			s.write(attributes.Health, math.Max(s.values.Get(attributes.MinHealth), pool-remaining), instigator)
		}
		return
	}
}

// distributeHeal tops up Health and spills the rest into Shield. Whatever does
// not fit is discarded.
func (s *AttributeSet) distributeHeal(remaining float64, instigator string) {
	for pass := 0; pass < 2 && remaining > 0; pass++ {
		health, maxHealth := s.values.Get(attributes.Health), s.values.Get(attributes.MaxHealth)
		if room := maxHealth - health; room > 0 {
			s.write(attributes.Health, math.Min(maxHealth, health+remaining), instigator)
			remaining -= room
			continue
		}
		shield, maxShield := s.values.Get(attributes.Shield), s.values.Get(attributes.MaxShield)
		if room := maxShield - shield; room > 0 {
			s.write(attributes.Shield, math.Min(maxShield, shield+remaining), instigator)
		}
		return
	}
}

func (s *AttributeSet) write(id attributes.ID, value float64, instigator string) bool {
	old, updated, changed := s.values.SetBase(id, value)
	if !changed {
		return false
	}
	s.Changed.Emit(AttributeChange{Attribute: id, Old: old, New: updated, Instigator: instigator})
	s.postChange(id, instigator)
	return true
}

// postChange keeps dependent pools inside their bounds with real writes, so
// observers see the override instead of a clamp on read.
func (s *AttributeSet) postChange(id attributes.ID, instigator string) {
	switch id {
	case attributes.MaxHealth:
		maxHealth := s.values.Get(attributes.MaxHealth)
		if s.values.Get(attributes.MinHealth) > maxHealth {
			s.write(attributes.MinHealth, maxHealth, instigator)
		}
		if s.values.Get(attributes.Health) > maxHealth {
			s.write(attributes.Health, maxHealth, instigator)
		}
	case attributes.MinHealth:
		if minHealth := s.values.Get(attributes.MinHealth); s.values.Get(attributes.Health) < minHealth {
			s.write(attributes.Health, minHealth, instigator)
		}
	case attributes.MaxShield:
		if maxShield := s.values.Get(attributes.MaxShield); s.values.Get(attributes.Shield) > maxShield {
			s.write(attributes.Shield, maxShield, instigator)
		}
	}
	if s.outOfHealth && s.values.Get(attributes.Health) > 0 {
		s.outOfHealth = false
	}
}
