package attributes

import (
	"math"
	"strings"
)

// ID enumerates the attributes tracked for a health-bearing actor.
type ID uint8

const (
	Health ID = iota
	MinHealth
	MaxHealth
	ExtraHealth
	Shield
	MaxShield
	DamageResistance

	// Meta attributes carry a magnitude into a distribution routine and are
	// reset to zero right after.
	Damage
	Healing
	HealingShield

	// Combat attributes live on the source of an effect.
	BaseDamage
	BaseHeal
	BaseHealShield

	Count
)

var names = [Count]string{
	Health:           "health",
	MinHealth:        "minHealth",
	MaxHealth:        "maxHealth",
	ExtraHealth:      "extraHealth",
	Shield:           "shield",
	MaxShield:        "maxShield",
	DamageResistance: "damageResistance",
	Damage:           "damage",
	Healing:          "healing",
	HealingShield:    "healingShield",
	BaseDamage:       "baseDamage",
	BaseHeal:         "baseHeal",
	BaseHealShield:   "baseHealShield",
}

// String returns the wire name of the attribute.
func (id ID) String() string {
	if id >= Count {
		return "unknown"
	}
	return names[id]
}

// Parse resolves a wire name (case-insensitive) into an attribute ID.
func Parse(name string) (ID, bool) {
	trimmed := strings.TrimSpace(name)
	for id := ID(0); id < Count; id++ {
		if strings.EqualFold(names[id], trimmed) {
			return id, true
		}
	}
	return Count, false
}

// IsMeta reports whether the attribute is transient and never persisted.
func IsMeta(id ID) bool {
	return id == Damage || id == Healing || id == HealingShield
}

// IsReplicated reports whether the attribute is pushed to observers.
func IsReplicated(id ID) bool {
	return id < Count && !IsMeta(id)
}

// Replicated lists replicated attributes in ID order.
func Replicated() []ID {
	ids := make([]ID, 0, Count)
	for id := ID(0); id < Count; id++ {
		if IsReplicated(id) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Value holds the base and current value of a single attribute.
type Value struct {
	Base    float64
	Current float64
}

// ValueSet stores a fixed vector of attribute values.
type ValueSet [Count]Value

// Set owns the attribute values for one actor and enforces the clamp policy
// on every write.
type Set struct {
	values  ValueSet
	version uint64
}

// NewSet constructs a set seeded with the minimum legal values.
func NewSet() *Set {
	s := &Set{}
	s.values[MaxHealth] = Value{Base: 1, Current: 1}
	return s
}

// Get returns the current value for the attribute.
func (s *Set) Get(id ID) float64 {
	if s == nil || id >= Count {
		return 0
	}
	return s.values[id].Current
}

// GetBase returns the base value for the attribute.
func (s *Set) GetBase(id ID) float64 {
	if s == nil || id >= Count {
		return 0
	}
	return s.values[id].Base
}

// SetBase clamps and writes both the base and current value. It returns the
// previous current value, the stored value, and whether anything changed.
func (s *Set) SetBase(id ID, value float64) (float64, float64, bool) {
	if s == nil || id >= Count || !finite(value) {
		return s.Get(id), s.Get(id), false
	}
	value = s.Clamp(id, value)
	old := s.values[id]
	if old.Base == value && old.Current == value {
		return old.Current, value, false
	}
	s.values[id] = Value{Base: value, Current: value}
	s.version++
	return old.Current, value, true
}

// SetCurrent clamps and writes the current value only.
func (s *Set) SetCurrent(id ID, value float64) (float64, float64, bool) {
	if s == nil || id >= Count || !finite(value) {
		return s.Get(id), s.Get(id), false
	}
	value = s.Clamp(id, value)
	old := s.values[id].Current
	if old == value {
		return old, value, false
	}
	s.values[id].Current = value
	s.version++
	return old, value, true
}

// Clamp applies the attribute's clamp rule against the set's current bounds.
func (s *Set) Clamp(id ID, value float64) float64 {
	switch id {
	case Health:
		return clamp(value, s.Get(MinHealth), s.Get(MaxHealth))
	case MaxHealth:
		return math.Max(value, 1)
	case MinHealth:
		return clamp(value, 0, s.Get(MaxHealth))
	case ExtraHealth:
		return math.Max(value, 0)
	case Shield:
		return clamp(value, 0, s.Get(MaxShield))
	case MaxShield:
		return math.Max(value, 0)
	default:
		return value
	}
}

// Values returns a copy of the stored values.
func (s *Set) Values() ValueSet {
	if s == nil {
		return ValueSet{}
	}
	return s.values
}

// Version increments on every committed write.
func (s *Set) Version() uint64 {
	if s == nil {
		return 0
	}
	return s.version
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
