package health

import (
	"context"
	"errors"

	"vitals/server/attributes"
	"vitals/server/internal/death"
	"vitals/server/internal/effect"
	"vitals/server/internal/events"
	"vitals/server/internal/lifecycle"
	"vitals/server/internal/tags"
	"vitals/server/logging"
	healthlog "vitals/server/logging/health"
)

// ErrNotAuthority is returned by operations reserved for the authoritative side.
var ErrNotAuthority = errors.New("health: operation requires authority")

// Owner is the actor a component binds to. HealthSet may return nil when the
// owner has no attribute container yet.
type Owner interface {
	ActorID() string
	HasAuthority() bool
	OwnedTags() *tags.Container
	HealthSet() *AttributeSet
}

// DamageMessage is broadcast after damage reaches the pools.
type DamageMessage struct {
	ActorID    string
	Instigator string
	Causer     string
	SourceTags []string
	TargetTags []string
	Damage     float64
}

// HealMessage is broadcast after a heal reaches the pools.
type HealMessage struct {
	ActorID    string
	Instigator string
	Causer     string
	SourceTags []string
	TargetTags []string
	Heal       float64
	ShieldOnly bool
}

// OutOfHealthMessage is broadcast when health first reaches zero.
type OutOfHealthMessage struct {
	ActorID    string
	Instigator string
	Causer     string
	Assister   string
	SourceTags []string
	TargetTags []string
	Damage     float64
}

// Config wires a component to the server.
type Config struct {
	Publisher logging.Publisher
	Tick      func() uint64
	Lifecycle *lifecycle.Manager
	// ForceSync pushes the death state to observers right after a transition.
	ForceSync func(death.State)
	// AutoStartDeath makes the death ability start death on activation.
	AutoStartDeath bool
}

// Component exposes an owner's health pools, death state and damage history.
// Callers serialize access; the server does this under its hub lock.
type Component struct {
	owner    Owner
	cfg      Config
	set      *AttributeSet
	template *attributes.Template
	machine  *death.Machine
	ability  *death.Ability
	history  causerHistory

	ready      bool
	setSubs    events.Group
	initSubs   events.Group
	attrSignal [attributes.Count]events.Signal[AttributeChange]

	Damaged     events.Signal[DamageMessage]
	Healed      events.Signal[HealMessage]
	OutOfHealth events.Signal[OutOfHealthMessage]
}

// NewComponent builds an unbound component. Call Register (with a lifecycle
// manager) or InitializeWithOwner to bind it.
func NewComponent(owner Owner, cfg Config) *Component {
	if cfg.Publisher == nil {
		cfg.Publisher = logging.NopPublisher()
	}
	c := &Component{owner: owner, cfg: cfg}
	var ownedTags *tags.Container
	authority := false
	actorID := ""
	if owner != nil {
		ownedTags = owner.OwnedTags()
		authority = owner.HasAuthority()
		actorID = owner.ActorID()
	}
	c.machine = death.NewMachine(death.Config{
		ActorID:   actorID,
		Authority: authority,
		Tags:      ownedTags,
		Publisher: cfg.Publisher,
		Tick:      cfg.Tick,
		ForceSync: cfg.ForceSync,
	})
	return c
}

func (c *Component) ActorID() string {
	if c.owner == nil {
		return ""
	}
	return c.owner.ActorID()
}

func (c *Component) authority() bool {
	return c.owner != nil && c.owner.HasAuthority()
}

// Register joins the lifecycle chain as the Health feature and waits for the
// owner's ability system to reach DataInitialized.
func (c *Component) Register(ctx context.Context) {
	manager := c.cfg.Lifecycle
	if manager == nil || c.owner == nil {
		return
	}
	actor := c.owner.ActorID()
	manager.Register(actor, lifecycle.FeatureHealth)
	c.initSubs.Add(manager.SubscribeAndCall(actor, lifecycle.FeatureAbilitySystem, func(change lifecycle.Change) {
		if change.Stage >= lifecycle.DataInitialized {
			c.checkDefaultInitialization(ctx)
		}
	}))
	c.checkDefaultInitialization(ctx)
}

// checkDefaultInitialization walks the Health feature forward as far as its
// prerequisites allow.
func (c *Component) checkDefaultInitialization(ctx context.Context) {
	manager := c.cfg.Lifecycle
	if manager == nil || c.owner == nil {
		return
	}
	actor := c.owner.ActorID()
	for {
		switch manager.Stage(actor, lifecycle.FeatureHealth) {
		case lifecycle.Spawned:
			manager.Advance(actor, lifecycle.FeatureHealth, lifecycle.DataAvailable)
		case lifecycle.DataAvailable:
			if c.template == nil || !manager.HasReached(actor, lifecycle.FeatureAbilitySystem, lifecycle.DataInitialized) {
				return
			}
			if !c.InitializeWithOwner(ctx) {
				return
			}
			manager.Advance(actor, lifecycle.FeatureHealth, lifecycle.DataInitialized)
		case lifecycle.DataInitialized:
			manager.Advance(actor, lifecycle.FeatureHealth, lifecycle.GameplayReady)
		default:
			return
		}
	}
}

// InitializeWithOwner binds to the owner's attribute set, grants the death
// ability and applies the template when one is set.
func (c *Component) InitializeWithOwner(ctx context.Context) bool {
	if c.owner == nil {
		healthlog.InitFailed(ctx, c.cfg.Publisher, c.tick(), logging.ActorRef(""), healthlog.FailurePayload{
			Operation: "initialize",
			Reason:    "no owner",
		})
		return false
	}
	set := c.owner.HealthSet()
	if c.set != nil {
		if c.set == set {
			return true
		}
		c.Uninitialize()
	}
	if set == nil {
		healthlog.InitFailed(ctx, c.cfg.Publisher, c.tick(), c.ref(), healthlog.FailurePayload{
			Operation: "initialize",
			Reason:    "owner has no health attribute set",
		})
		return false
	}
	c.set = set
	c.setSubs.Add(set.Changed.Subscribe(func(change AttributeChange) {
		if change.Attribute < attributes.Count {
			c.attrSignal[change.Attribute].Emit(change)
		}
	}))
	var canceler death.Canceler
	if cancel, ok := c.owner.(death.Canceler); ok {
		canceler = cancel
	}
	c.ability = death.NewAbility(c.machine, death.AbilityConfig{AutoStart: c.cfg.AutoStartDeath, Canceler: canceler})
	c.ready = true
	if c.template != nil {
		c.ApplyTemplate(ctx)
	}
	return true
}

// Uninitialize drops the owner binding and the death status tags.
func (c *Component) Uninitialize() {
	c.machine.ClearTags()
	c.setSubs.Close()
	c.set = nil
	c.ability = nil
	c.ready = false
}

// Close releases every subscription, including the lifecycle ones.
func (c *Component) Close() {
	c.Uninitialize()
	c.initSubs.Close()
}

func (c *Component) Initialized() bool {
	return c.ready
}

// Template returns the template currently assigned, if any.
func (c *Component) Template() (attributes.Template, bool) {
	if c.template == nil {
		return attributes.Template{}, false
	}
	return *c.template, true
}

// SetTemplate assigns a template. An initialized component applies it
// immediately; otherwise it unblocks initialization.
func (c *Component) SetTemplate(ctx context.Context, t attributes.Template) error {
	if !c.authority() {
		return ErrNotAuthority
	}
	if c.template != nil && *c.template == t {
		return nil
	}
	assigned := t
	c.template = &assigned
	if c.ready {
		c.ApplyTemplate(ctx)
		return nil
	}
	c.checkDefaultInitialization(ctx)
	return nil
}

// AssignTemplate stores a template without applying it, used when restoring
// persisted actors whose pools come from storage.
func (c *Component) AssignTemplate(t attributes.Template) {
	assigned := t
	c.template = &assigned
}

// ApplyTemplate writes the template values and rebroadcasts every pool.
func (c *Component) ApplyTemplate(ctx context.Context) bool {
	if c.set == nil {
		c.missing(ctx, "apply_template")
		return false
	}
	if c.template == nil {
		return false
	}
	for _, assignment := range c.template.Assignments() {
		c.set.SetBase(assignment.ID, assignment.Value, "")
	}
	c.machine.ClearTags()
	for _, id := range []attributes.ID{
		attributes.Health, attributes.MaxHealth, attributes.MinHealth,
		attributes.ExtraHealth, attributes.Shield, attributes.MaxShield,
	} {
		value := c.set.Get(id)
		c.attrSignal[id].Emit(AttributeChange{Attribute: id, Old: value, New: value})
	}
	healthlog.TemplateApplied(ctx, c.cfg.Publisher, c.tick(), c.ref(), healthlog.TemplateAppliedPayload{
		Template:  c.template.Name,
		Authority: c.authority(),
	})
	return true
}

// ApplyEffect executes spec against the owner's pools and dispatches the
// resulting messages, damage history updates and death ability activation.
func (c *Component) ApplyEffect(ctx context.Context, spec effect.Spec) Result {
	if c.set == nil {
		c.missing(ctx, "apply_effect")
		return Result{Attribute: spec.Attribute}
	}
	var targetTags *tags.Container
	if c.owner != nil {
		targetTags = c.owner.OwnedTags()
	}
	if spec.TargetTags != nil {
		merged := targetTags.Clone()
		for _, name := range spec.TargetTags.Strings() {
			merged.Add(tags.Tag(name))
		}
		targetTags = merged
	}
	healthBefore := c.set.Get(attributes.Health)
	result := c.set.Execute(spec, targetTags)
	if !result.Executed {
		return result
	}

	sourceTags := spec.AllSourceTags().Strings()
	targetNames := targetTags.Strings()
	causer := causerOf(spec.Context)

	if result.Magnitude > 0 {
		c.dispatch(ctx, spec, result, causer, sourceTags, targetNames)
	}

	// direct writes to Health can also cross zero; report the health they removed
	if result.OutOfHealth {
		lethal := result.Magnitude
		if spec.Attribute != attributes.Damage {
			lethal = max(healthBefore-c.set.Get(attributes.Health), 0)
		}
		c.handleOutOfHealth(ctx, spec, lethal, sourceTags, targetNames)
	}
	return result
}

func (c *Component) dispatch(ctx context.Context, spec effect.Spec, result Result, causer string, sourceTags, targetNames []string) {
	switch spec.Attribute {
	case attributes.Damage:
		c.history.add(causer, result.Magnitude)
		healthlog.Damaged(ctx, c.cfg.Publisher, c.tick(), c.ref(), healthlog.DamagedPayload{
			Instigator:  spec.Context.Instigator,
			Causer:      spec.Context.Causer,
			Amount:      result.Magnitude,
			Health:      c.set.Get(attributes.Health),
			Shield:      c.set.Get(attributes.Shield),
			ExtraHealth: c.set.Get(attributes.ExtraHealth),
		})
		c.Damaged.Emit(DamageMessage{
			ActorID:    c.ActorID(),
			Instigator: spec.Context.Instigator,
			Causer:     spec.Context.Causer,
			SourceTags: sourceTags,
			TargetTags: targetNames,
			Damage:     result.Magnitude,
		})
	case attributes.Healing, attributes.HealingShield:
		c.history.clear()
		shieldOnly := spec.Attribute == attributes.HealingShield
		healthlog.Healed(ctx, c.cfg.Publisher, c.tick(), c.ref(), healthlog.HealedPayload{
			Instigator: spec.Context.Instigator,
			Causer:     spec.Context.Causer,
			Amount:     result.Magnitude,
			ShieldOnly: shieldOnly,
			Health:     c.set.Get(attributes.Health),
			Shield:     c.set.Get(attributes.Shield),
		})
		c.Healed.Emit(HealMessage{
			ActorID:    c.ActorID(),
			Instigator: spec.Context.Instigator,
			Causer:     spec.Context.Causer,
			SourceTags: sourceTags,
			TargetTags: targetNames,
			Heal:       result.Magnitude,
			ShieldOnly: shieldOnly,
		})
	}
}

func (c *Component) handleOutOfHealth(ctx context.Context, spec effect.Spec, magnitude float64, sourceTags, targetTags []string) {
	msg := OutOfHealthMessage{
		ActorID:    c.ActorID(),
		Instigator: spec.Context.Instigator,
		Causer:     spec.Context.Causer,
		Assister:   c.history.topAssist(causerOf(spec.Context)),
		SourceTags: sourceTags,
		TargetTags: targetTags,
		Damage:     magnitude,
	}
	healthlog.OutOfHealth(ctx, c.cfg.Publisher, c.tick(), c.ref(), healthlog.OutOfHealthPayload{
		Instigator: msg.Instigator,
		Causer:     msg.Causer,
		Assister:   msg.Assister,
		Damage:     msg.Damage,
		SourceTags: msg.SourceTags,
		TargetTags: msg.TargetTags,
	})
	c.OutOfHealth.Emit(msg)
	if c.authority() && c.ability != nil {
		c.ability.Activate(ctx)
	}
}

// AttributeChanged returns the change signal for one attribute.
func (c *Component) AttributeChanged(id attributes.ID) *events.Signal[AttributeChange] {
	if id >= attributes.Count {
		return nil
	}
	return &c.attrSignal[id]
}

// Restore loads persisted pools and death state without side effects.
func (c *Component) Restore(values attributes.Snapshot, state death.State) {
	if c.set != nil {
		c.set.Restore(values)
	}
	c.machine.Restore(state)
}

func (c *Component) Death() *death.Machine {
	return c.machine
}

func (c *Component) DeathAbility() *death.Ability {
	return c.ability
}

func (c *Component) DeathState() death.State {
	return c.machine.State()
}

func (c *Component) IsDeadOrDying() bool {
	return c.machine.IsDeadOrDying()
}

// StartDeath begins death on the authority.
func (c *Component) StartDeath(ctx context.Context) bool {
	return c.machine.Start(ctx)
}

// FinishDeath completes death on the authority.
func (c *Component) FinishDeath(ctx context.Context) bool {
	return c.machine.Finish(ctx)
}

// TopAssist returns the largest damage contributor other than finalCauser.
func (c *Component) TopAssist(finalCauser string) string {
	return c.history.topAssist(finalCauser)
}

// DamageHistory returns a copy of the accumulated damage per causer.
func (c *Component) DamageHistory() map[string]float64 {
	return c.history.snapshot()
}

func (c *Component) Health() float64      { return c.set.Get(attributes.Health) }
func (c *Component) MaxHealth() float64   { return c.set.Get(attributes.MaxHealth) }
func (c *Component) MinHealth() float64   { return c.set.Get(attributes.MinHealth) }
func (c *Component) ExtraHealth() float64 { return c.set.Get(attributes.ExtraHealth) }
func (c *Component) Shield() float64      { return c.set.Get(attributes.Shield) }
func (c *Component) MaxShield() float64   { return c.set.Get(attributes.MaxShield) }

// TotalHealth is Health + Shield + ExtraHealth, or zero when unbound.
func (c *Component) TotalHealth() float64 {
	if c.set == nil {
		return 0
	}
	return attributes.TotalHealth(c.set.Values())
}

// TotalMaxHealth is MaxHealth + MaxShield + ExtraHealth, or zero when unbound.
func (c *Component) TotalMaxHealth() float64 {
	if c.set == nil {
		return 0
	}
	return attributes.TotalMaxHealth(c.set.Values())
}

// Snapshot returns the replicated values, or an empty snapshot when unbound.
func (c *Component) Snapshot() attributes.Snapshot {
	if c.set == nil {
		return attributes.Snapshot{Values: map[string]float64{}}
	}
	return c.set.Values().Snapshot()
}

func (c *Component) missing(ctx context.Context, op string) {
	healthlog.AttributeMissing(ctx, c.cfg.Publisher, c.tick(), c.ref(), healthlog.FailurePayload{
		Operation: op,
		Reason:    "component is not bound to an attribute set",
	})
}

func (c *Component) ref() logging.EntityRef {
	return logging.ActorRef(c.ActorID())
}

func (c *Component) tick() uint64 {
	if c.cfg.Tick == nil {
		return 0
	}
	return c.cfg.Tick()
}

func causerOf(ctx effect.Context) string {
	if ctx.Causer != "" {
		return ctx.Causer
	}
	return ctx.Instigator
}
