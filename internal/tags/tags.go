// Package tags implements hierarchical gameplay tags and a counted container.
package tags

import (
	"slices"
	"strings"
)

// Tag is a dot-separated hierarchical name such as "Damage.Type.Fire".
type Tag string

const (
	StatusDeath            Tag = "Status.Death"
	StatusDeathDying       Tag = "Status.Death.Dying"
	StatusDeathDead        Tag = "Status.Death.Dead"
	FlagDamageImmunity     Tag = "Flag.DamageImmunity"
	DamageType             Tag = "Damage.Type"
	DamageTypeSelfDestruct Tag = "Damage.Type.SelfDestruct"
	EventOutOfHealth       Tag = "Event.OutOfHealth"
	AbilityDeath           Tag = "Ability.Type.Death"
	AbilityIgnoreDeath     Tag = "Ability.Behavior.ActiveIgnoreDeath"
)

// Matches reports whether t equals parent or sits below it in the hierarchy.
func (t Tag) Matches(parent Tag) bool {
	if t == parent {
		return true
	}
	return parent != "" && strings.HasPrefix(string(t), string(parent)+".")
}

// Container stores tags with reference counts. Loose tags added several times
// need to be removed the same number of times.
type Container struct {
	counts map[Tag]int
}

// NewContainer builds a container holding every tag once.
func NewContainer(initial ...Tag) *Container {
	c := &Container{}
	for _, tag := range initial {
		c.Add(tag)
	}
	return c
}

// FromStrings parses raw names, skipping blanks.
func FromStrings(raw []string) *Container {
	c := &Container{}
	for _, name := range raw {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		c.Add(Tag(name))
	}
	return c
}

// Add increments the count for tag.
func (c *Container) Add(tag Tag) {
	if c == nil || tag == "" {
		return
	}
	if c.counts == nil {
		c.counts = make(map[Tag]int)
	}
	c.counts[tag]++
}

// Remove decrements the count for tag and drops it at zero.
func (c *Container) Remove(tag Tag) {
	if c == nil || c.counts == nil {
		return
	}
	count, ok := c.counts[tag]
	if !ok {
		return
	}
	if count <= 1 {
		delete(c.counts, tag)
		return
	}
	c.counts[tag] = count - 1
}

// SetCount forces the count for tag; zero or less removes it.
func (c *Container) SetCount(tag Tag, count int) {
	if c == nil || tag == "" {
		return
	}
	if count <= 0 {
		if c.counts != nil {
			delete(c.counts, tag)
		}
		return
	}
	if c.counts == nil {
		c.counts = make(map[Tag]int)
	}
	c.counts[tag] = count
}

// Count returns the exact count for tag.
func (c *Container) Count(tag Tag) int {
	if c == nil {
		return 0
	}
	return c.counts[tag]
}

// HasExact reports whether tag itself is present.
func (c *Container) HasExact(tag Tag) bool {
	return c.Count(tag) > 0
}

// Has reports whether tag or any child of it is present.
func (c *Container) Has(tag Tag) bool {
	if c == nil {
		return false
	}
	for held := range c.counts {
		if held.Matches(tag) {
			return true
		}
	}
	return false
}

// HasAny reports whether any of the given tags matches.
func (c *Container) HasAny(tags ...Tag) bool {
	for _, tag := range tags {
		if c.Has(tag) {
			return true
		}
	}
	return false
}

// Len returns the number of distinct tags.
func (c *Container) Len() int {
	if c == nil {
		return 0
	}
	return len(c.counts)
}

// Clone copies the container.
func (c *Container) Clone() *Container {
	cloned := &Container{}
	if c == nil || len(c.counts) == 0 {
		return cloned
	}
	cloned.counts = make(map[Tag]int, len(c.counts))
	for tag, count := range c.counts {
		cloned.counts[tag] = count
	}
	return cloned
}

// Strings lists the distinct tags in sorted order.
func (c *Container) Strings() []string {
	if c == nil || len(c.counts) == 0 {
		return nil
	}
	out := make([]string, 0, len(c.counts))
	for tag := range c.counts {
		out = append(out, string(tag))
	}
	slices.Sort(out)
	return out
}
