package attributes

// DefaultTemplateName identifies the template applied when none is configured.
const DefaultTemplateName = "default"

// Template captures the default pool values applied to a freshly initialised
// actor.
type Template struct {
	Name        string  `yaml:"-" json:"name"`
	MaxHealth   float64 `yaml:"maxHealth" json:"maxHealth"`
	MinHealth   float64 `yaml:"minHealth" json:"minHealth"`
	Health      float64 `yaml:"health" json:"health"`
	ExtraHealth float64 `yaml:"extraHealth" json:"extraHealth"`
	MaxShield   float64 `yaml:"maxShield" json:"maxShield"`
	Shield      float64 `yaml:"shield" json:"shield"`
}

// DefaultTemplate returns the built-in template.
func DefaultTemplate() Template {
	return Template{
		Name:      DefaultTemplateName,
		MaxHealth: 100,
		MinHealth: 0,
		Health:    100,
		MaxShield: 50,
		Shield:    50,
	}
}

// Assignments lists the writes a template performs, in application order.
// Capacities go first so the pools clamp against the new bounds.
func (t Template) Assignments() []Assignment {
	return []Assignment{
		{ID: MaxHealth, Value: t.MaxHealth},
		{ID: MinHealth, Value: t.MinHealth},
		{ID: Health, Value: t.Health},
		{ID: ExtraHealth, Value: t.ExtraHealth},
		{ID: MaxShield, Value: t.MaxShield},
		{ID: Shield, Value: t.Shield},
	}
}

// Assignment is a single attribute write.
type Assignment struct {
	ID    ID
	Value float64
}
