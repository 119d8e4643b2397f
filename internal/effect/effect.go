// Package effect describes a computed gameplay effect as delivered to the
// health model: a single attribute modification plus its tags and context.
package effect

import (
	"fmt"

	"vitals/server/attributes"
	"vitals/server/internal/tags"
)

// Op selects how the magnitude combines with the attribute.
type Op string

const (
	OpAdd      Op = "add"
	OpOverride Op = "override"
)

// Context identifies who applied the effect. Instigator owns the source
// ability; Causer is the physical thing that dealt it (a projectile, a trap).
type Context struct {
	Instigator string `json:"instigator,omitempty"`
	Causer     string `json:"causer,omitempty"`
	EffectName string `json:"effect,omitempty"`
}

// Spec is a single modification. Meta attributes always use OpAdd.
type Spec struct {
	Attribute   attributes.ID
	Op          Op
	Magnitude   float64
	SourceTags  *tags.Container
	TargetTags  *tags.Container
	DynamicTags *tags.Container
	Context     Context
}

// Validate checks that the spec names a writable attribute.
func (s Spec) Validate() error {
	if s.Attribute >= attributes.Count {
		return fmt.Errorf("effect: unknown attribute %d", s.Attribute)
	}
	switch s.Op {
	case OpAdd:
	case OpOverride:
		if attributes.IsMeta(s.Attribute) {
			return fmt.Errorf("effect: override not allowed on meta attribute %s", s.Attribute)
		}
	default:
		return fmt.Errorf("effect: unknown op %q", s.Op)
	}
	return nil
}

// AllSourceTags merges the source tags with the dynamic tags granted at
// application time.
func (s Spec) AllSourceTags() *tags.Container {
	merged := s.SourceTags.Clone()
	for _, name := range s.DynamicTags.Strings() {
		merged.Add(tags.Tag(name))
	}
	return merged
}

// Damage builds a damage meta spec.
func Damage(amount float64, ctx Context, source ...tags.Tag) Spec {
	return Spec{Attribute: attributes.Damage, Op: OpAdd, Magnitude: amount, SourceTags: tags.NewContainer(source...), Context: ctx}
}

// Heal builds a heal meta spec.
func Heal(amount float64, ctx Context) Spec {
	return Spec{Attribute: attributes.Healing, Op: OpAdd, Magnitude: amount, Context: ctx}
}

// HealShield builds a shield-only heal meta spec.
func HealShield(amount float64, ctx Context) Spec {
	return Spec{Attribute: attributes.HealingShield, Op: OpAdd, Magnitude: amount, Context: ctx}
}

// Request is the wire form of a Spec used by HTTP and websocket commands.
type Request struct {
	Attribute  string   `json:"attribute"`
	Op         Op       `json:"op,omitempty"`
	Magnitude  float64  `json:"magnitude"`
	SourceTags []string `json:"sourceTags,omitempty"`
	TargetTags []string `json:"targetTags,omitempty"`
	Instigator string   `json:"instigator,omitempty"`
	Causer     string   `json:"causer,omitempty"`
	Effect     string   `json:"effect,omitempty"`
}

// Spec converts the request, defaulting Op to add.
func (r Request) Spec() (Spec, error) {
	id, ok := attributes.Parse(r.Attribute)
	if !ok {
		return Spec{}, fmt.Errorf("effect: unknown attribute %q", r.Attribute)
	}
	op := r.Op
	if op == "" {
		op = OpAdd
	}
	spec := Spec{
		Attribute:  id,
		Op:         op,
		Magnitude:  r.Magnitude,
		SourceTags: tags.FromStrings(r.SourceTags),
		TargetTags: tags.FromStrings(r.TargetTags),
		Context: Context{
			Instigator: r.Instigator,
			Causer:     r.Causer,
			EffectName: r.Effect,
		},
	}
	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}
	return spec, nil
}
