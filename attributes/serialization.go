package attributes

// Snapshot captures the replicated current values keyed by wire name.
type Snapshot struct {
	Values  map[string]float64
	Version uint64
}

// Snapshot returns the current replicated values.
func (s *Set) Snapshot() Snapshot {
	values := make(map[string]float64, Count)
	for _, id := range Replicated() {
		values[id.String()] = s.Get(id)
	}
	return Snapshot{Values: values, Version: s.Version()}
}

// Restore writes snapshot values into the set. Capacities are written first so
// pools clamp against the restored bounds. Unknown names are ignored.
func (s *Set) Restore(snapshot Snapshot) {
	if s == nil {
		return
	}
	for _, id := range restoreOrder {
		value, ok := snapshot.Values[id.String()]
		if !ok {
			continue
		}
		s.SetBase(id, value)
	}
	if snapshot.Version > s.version {
		s.version = snapshot.Version
	}
}

var restoreOrder = []ID{
	MaxHealth,
	MinHealth,
	Health,
	ExtraHealth,
	MaxShield,
	Shield,
	DamageResistance,
	BaseDamage,
	BaseHeal,
	BaseHealShield,
}
