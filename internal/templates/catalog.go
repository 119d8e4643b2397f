// Package templates loads named health templates from YAML.
package templates

import (
	"errors"
	"fmt"
	"math"
	"os"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"vitals/server/attributes"
)

// File is the on-disk layout:
//
//	default: soldier
//	templates:
//	  soldier: {maxHealth: 100, health: 100, maxShield: 50, shield: 50}
type File struct {
	Default   string                         `yaml:"default"`
	Templates map[string]attributes.Template `yaml:"templates"`
}

// Catalog is a concurrency-safe set of templates with a default.
type Catalog struct {
	mu        sync.RWMutex
	templates map[string]attributes.Template
	def       string
}

// NewCatalog returns a catalog holding only the built-in default template.
func NewCatalog() *Catalog {
	def := attributes.DefaultTemplate()
	return &Catalog{
		templates: map[string]attributes.Template{def.Name: def},
		def:       def.Name,
	}
}

// Load reads and validates a template file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template file %s: %w", path, err)
	}
	catalog, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid template file %s: %w", path, err)
	}
	return catalog, nil
}

// Parse decodes a template document. The built-in default template is added
// when the document does not define one with the same name.
func Parse(data []byte) (*Catalog, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse template YAML: %w", err)
	}
	catalog := NewCatalog()
	for name, tmpl := range file.Templates {
		tmpl.Name = name
		if err := Validate(tmpl); err != nil {
			return nil, fmt.Errorf("template %q: %w", name, err)
		}
		catalog.templates[name] = tmpl
	}
	if file.Default != "" {
		if _, ok := catalog.templates[file.Default]; !ok {
			return nil, fmt.Errorf("default template %q is not defined", file.Default)
		}
		catalog.def = file.Default
	}
	return catalog, nil
}

// Validate checks that a template satisfies the attribute bounds as written,
// rather than relying on clamping to fix it up.
func Validate(t attributes.Template) error {
	if t.Name == "" {
		return errors.New("name is required")
	}
	for _, v := range []float64{t.MaxHealth, t.MinHealth, t.Health, t.ExtraHealth, t.MaxShield, t.Shield} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("values must be finite")
		}
	}
	switch {
	case t.MaxHealth < 1:
		return fmt.Errorf("maxHealth %.2f must be at least 1", t.MaxHealth)
	case t.MinHealth < 0 || t.MinHealth > t.MaxHealth:
		return fmt.Errorf("minHealth %.2f must be within [0, maxHealth]", t.MinHealth)
	case t.Health < t.MinHealth || t.Health > t.MaxHealth:
		return fmt.Errorf("health %.2f must be within [minHealth, maxHealth]", t.Health)
	case t.ExtraHealth < 0:
		return fmt.Errorf("extraHealth %.2f must not be negative", t.ExtraHealth)
	case t.MaxShield < 0:
		return fmt.Errorf("maxShield %.2f must not be negative", t.MaxShield)
	case t.Shield < 0 || t.Shield > t.MaxShield:
		return fmt.Errorf("shield %.2f must be within [0, maxShield]", t.Shield)
	}
	return nil
}

// Lookup returns the named template.
func (c *Catalog) Lookup(name string) (attributes.Template, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.templates[name]
	return t, ok
}

// Resolve returns the named template, or the default for an empty name.
func (c *Catalog) Resolve(name string) (attributes.Template, error) {
	if name == "" {
		return c.Default(), nil
	}
	t, ok := c.Lookup(name)
	if !ok {
		return attributes.Template{}, fmt.Errorf("unknown template %q", name)
	}
	return t, nil
}

func (c *Catalog) Default() attributes.Template {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.templates[c.def]
}

// Names lists template names in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.templates))
	for name := range c.templates {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Replace swaps in the contents of next, used by hot reload. It returns the
// names whose definition changed or disappeared.
func (c *Catalog) Replace(next *Catalog) []string {
	next.mu.RLock()
	incoming := make(map[string]attributes.Template, len(next.templates))
	for name, t := range next.templates {
		incoming[name] = t
	}
	def := next.def
	next.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	var changed []string
	for name, old := range c.templates {
		if updated, ok := incoming[name]; !ok || updated != old {
			changed = append(changed, name)
		}
	}
	slices.Sort(changed)
	c.templates = incoming
	c.def = def
	return changed
}
