// Package execution computes damage and heal magnitudes from the source's
// combat attributes and turns them into meta attribute effects.
package execution

import (
	"math"

	"vitals/server/attributes"
	"vitals/server/internal/effect"
	"vitals/server/internal/tags"
)

// Params carries what an execution may read.
type Params struct {
	Source     *attributes.Set
	SourceTags *tags.Container
	TargetTags *tags.Container
	Context    effect.Context
}

// Modifier adjusts a magnitude before it is emitted.
type Modifier interface {
	Modify(base float64, params Params) (float64, error)
}

// ModifierFunc adapts a function to Modifier.
type ModifierFunc func(base float64, params Params) (float64, error)

func (f ModifierFunc) Modify(base float64, params Params) (float64, error) {
	return f(base, params)
}

// Scale multiplies the magnitude by a constant factor.
func Scale(factor float64) Modifier {
	return ModifierFunc(func(base float64, _ Params) (float64, error) {
		return base * factor, nil
	})
}

// Kind selects which combat attribute is captured and which meta attribute
// receives the result.
type Kind uint8

const (
	KindDamage Kind = iota
	KindHeal
	KindHealShield
)

func (k Kind) String() string {
	switch k {
	case KindDamage:
		return "damage"
	case KindHeal:
		return "heal"
	case KindHealShield:
		return "healShield"
	default:
		return "unknown"
	}
}

// ParseKind accepts the String form.
func ParseKind(raw string) (Kind, bool) {
	for _, k := range []Kind{KindDamage, KindHeal, KindHealShield} {
		if k.String() == raw {
			return k, true
		}
	}
	return KindDamage, false
}

func (k Kind) captured() attributes.ID {
	switch k {
	case KindHeal:
		return attributes.BaseHeal
	case KindHealShield:
		return attributes.BaseHealShield
	default:
		return attributes.BaseDamage
	}
}

func (k Kind) output() attributes.ID {
	switch k {
	case KindHeal:
		return attributes.Healing
	case KindHealShield:
		return attributes.HealingShield
	default:
		return attributes.Damage
	}
}

// Execution is a configured damage or heal calculation.
type Execution struct {
	kind      Kind
	modifiers []Modifier
}

func Damage(modifiers ...Modifier) *Execution {
	return &Execution{kind: KindDamage, modifiers: modifiers}
}

func Heal(modifiers ...Modifier) *Execution {
	return &Execution{kind: KindHeal, modifiers: modifiers}
}

func HealShield(modifiers ...Modifier) *Execution {
	return &Execution{kind: KindHealShield, modifiers: modifiers}
}

// New builds an execution for kind.
func New(kind Kind, modifiers ...Modifier) *Execution {
	return &Execution{kind: kind, modifiers: modifiers}
}

func (e *Execution) Kind() Kind {
	return e.kind
}

// Execute captures the base magnitude from the source and runs the modifier
// chain. It returns false when there is nothing to apply.
func (e *Execution) Execute(params Params) (effect.Spec, bool, error) {
	magnitude := params.Source.Get(e.kind.captured())
	for _, modifier := range e.modifiers {
		if modifier == nil {
			continue
		}
		next, err := modifier.Modify(magnitude, params)
		if err != nil {
			return effect.Spec{}, false, err
		}
		magnitude = next
	}
	if math.IsNaN(magnitude) || math.IsInf(magnitude, 0) {
		return effect.Spec{}, false, nil
	}
	if e.kind != KindDamage {
		magnitude = math.Max(0, magnitude)
	}
	if magnitude <= 0 {
		return effect.Spec{}, false, nil
	}
	return effect.Spec{
		Attribute:  e.kind.output(),
		Op:         effect.OpAdd,
		Magnitude:  magnitude,
		SourceTags: params.SourceTags.Clone(),
		TargetTags: params.TargetTags.Clone(),
		Context:    params.Context,
	}, true, nil
}
