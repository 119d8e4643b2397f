package health

import (
	"context"
	"testing"

	"vitals/server/attributes"
	"vitals/server/internal/death"
	"vitals/server/internal/effect"
	"vitals/server/internal/lifecycle"
	"vitals/server/internal/tags"
	healthlog "vitals/server/logging/health"
	"vitals/server/logging/sinks"
)

type testOwner struct {
	id        string
	authority bool
	tags      *tags.Container
	set       *AttributeSet
	cancelled int
}

func (o *testOwner) ActorID() string             { return o.id }
func (o *testOwner) HasAuthority() bool          { return o.authority }
func (o *testOwner) OwnedTags() *tags.Container  { return o.tags }
func (o *testOwner) HealthSet() *AttributeSet    { return o.set }
func (o *testOwner) CancelAbilities(...tags.Tag) { o.cancelled++ }

func newTestComponent(t *testing.T, cfg Config) (*Component, *testOwner) {
	t.Helper()
	owner := &testOwner{id: "hero", authority: true, tags: tags.NewContainer(), set: NewAttributeSet()}
	c := NewComponent(owner, cfg)
	if err := c.SetTemplate(context.Background(), attributes.DefaultTemplate()); err != nil {
		t.Fatalf("set template: %v", err)
	}
	if !c.InitializeWithOwner(context.Background()) {
		t.Fatalf("expected initialization to succeed")
	}
	return c, owner
}

func TestComponentAppliesTemplateOnInitialize(t *testing.T) {
	mem := sinks.NewMemorySink()
	c, _ := newTestComponent(t, Config{Publisher: mem})

	if c.Health() != 100 || c.Shield() != 50 || c.MaxShield() != 50 {
		t.Fatalf("expected default pools, got health=%.2f shield=%.2f", c.Health(), c.Shield())
	}
	if c.TotalHealth() != 150 || c.TotalMaxHealth() != 150 {
		t.Fatalf("expected totals 150/150, got %.2f/%.2f", c.TotalHealth(), c.TotalMaxHealth())
	}
	if len(mem.EventsOfType(healthlog.EventTemplateApplied)) != 1 {
		t.Fatalf("expected one template applied event")
	}
}

func TestComponentUnboundReturnsZeroAndLogs(t *testing.T) {
	mem := sinks.NewMemorySink()
	owner := &testOwner{id: "ghost", authority: true, tags: tags.NewContainer()}
	c := NewComponent(owner, Config{Publisher: mem})

	if c.InitializeWithOwner(context.Background()) {
		t.Fatalf("expected initialization without attribute set to fail")
	}
	if c.Health() != 0 || c.TotalHealth() != 0 {
		t.Fatalf("expected zero sentinels, got %.2f/%.2f", c.Health(), c.TotalHealth())
	}
	if c.ApplyEffect(context.Background(), effect.Damage(10, effect.Context{})).Executed {
		t.Fatalf("expected effect on unbound component to be skipped")
	}
	if len(mem.EventsOfType(healthlog.EventInitFailed)) != 1 {
		t.Fatalf("expected init failure event")
	}
	if len(mem.EventsOfType(healthlog.EventAttributeMissing)) != 1 {
		t.Fatalf("expected attribute missing event")
	}
}

func TestComponentSetTemplateRequiresAuthority(t *testing.T) {
	owner := &testOwner{id: "proxy", tags: tags.NewContainer(), set: NewAttributeSet()}
	c := NewComponent(owner, Config{})
	if err := c.SetTemplate(context.Background(), attributes.DefaultTemplate()); err != ErrNotAuthority {
		t.Fatalf("expected ErrNotAuthority, got %v", err)
	}
}

func TestComponentPerAttributeSignals(t *testing.T) {
	c, _ := newTestComponent(t, Config{})
	var got []AttributeChange
	c.AttributeChanged(attributes.Shield).Subscribe(func(change AttributeChange) { got = append(got, change) })

	c.ApplyEffect(context.Background(), effect.Damage(20, effect.Context{Instigator: "boss"}))

	if len(got) != 1 || got[0].Old != 50 || got[0].New != 30 || got[0].Instigator != "boss" {
		t.Fatalf("expected shield change 50 -> 30 by boss, got %+v", got)
	}
}

func TestComponentAssistExcludesFinalCauser(t *testing.T) {
	c, _ := newTestComponent(t, Config{})
	ctx := context.Background()
	var msg OutOfHealthMessage
	c.OutOfHealth.Subscribe(func(m OutOfHealthMessage) { msg = m })

	c.ApplyEffect(ctx, effect.Damage(40, effect.Context{Causer: "wolf"}))
	c.ApplyEffect(ctx, effect.Damage(40, effect.Context{Causer: "bear"}))
	c.ApplyEffect(ctx, effect.Damage(50, effect.Context{Causer: "wolf"}))
	c.ApplyEffect(ctx, effect.Damage(30, effect.Context{Causer: "bear"}))

	if msg.ActorID != "hero" || msg.Causer != "bear" {
		t.Fatalf("expected bear to land the final blow on hero, got %+v", msg)
	}
	if msg.Assister != "wolf" {
		t.Fatalf("expected wolf as assister, got %q", msg.Assister)
	}
}

func TestComponentHealClearsHistory(t *testing.T) {
	c, _ := newTestComponent(t, Config{})
	ctx := context.Background()
	c.ApplyEffect(ctx, effect.Damage(30, effect.Context{Causer: "wolf"}))
	c.ApplyEffect(ctx, effect.Heal(5, effect.Context{}))

	if history := c.DamageHistory(); len(history) != 0 {
		t.Fatalf("expected heal to clear history, got %v", history)
	}
	if c.TopAssist("") != "" {
		t.Fatalf("expected no assister after heal")
	}
}

func TestComponentOutOfHealthActivatesDeathAbility(t *testing.T) {
	ctx := context.Background()
	var pushed []death.State
	c, owner := newTestComponent(t, Config{
		AutoStartDeath: true,
		ForceSync:      func(s death.State) { pushed = append(pushed, s) },
	})

	c.ApplyEffect(ctx, effect.Damage(500, effect.Context{Causer: "trap"}))

	if c.DeathState() != death.DeathStarted {
		t.Fatalf("expected death started, got %s", c.DeathState())
	}
	if !owner.tags.HasExact(tags.StatusDeathDying) {
		t.Fatalf("expected dying tag on owner")
	}
	if owner.cancelled != 1 {
		t.Fatalf("expected other abilities cancelled once, got %d", owner.cancelled)
	}
	c.DeathAbility().End(ctx)
	if c.DeathState() != death.DeathFinished || !c.IsDeadOrDying() {
		t.Fatalf("expected death finished, got %s", c.DeathState())
	}
	if len(pushed) != 2 {
		t.Fatalf("expected two forced syncs, got %v", pushed)
	}
}

func TestComponentDirectHealthWritesReachOutOfHealth(t *testing.T) {
	cases := []struct {
		name      string
		op        effect.Op
		magnitude float64
	}{
		{"add", effect.OpAdd, -500},
		{"override", effect.OpOverride, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			c, _ := newTestComponent(t, Config{AutoStartDeath: true})
			var fired []OutOfHealthMessage
			c.OutOfHealth.Subscribe(func(m OutOfHealthMessage) { fired = append(fired, m) })

			lethal := effect.Spec{
				Attribute: attributes.Health,
				Op:        tc.op,
				Magnitude: tc.magnitude,
				Context:   effect.Context{Instigator: "gm", Causer: "console"},
			}
			result := c.ApplyEffect(ctx, lethal)
			if !result.Executed || !result.OutOfHealth {
				t.Fatalf("expected executed lethal write, got %+v", result)
			}
			if c.Health() != 0 {
				t.Fatalf("expected health 0, got %.2f", c.Health())
			}
			if len(fired) != 1 {
				t.Fatalf("expected one out of health message, got %d", len(fired))
			}
			if fired[0].Causer != "console" || fired[0].Damage != 100 {
				t.Fatalf("expected causer console and 100 damage, got %+v", fired[0])
			}
			if c.DeathState() != death.DeathStarted {
				t.Fatalf("expected death started, got %s", c.DeathState())
			}

			c.ApplyEffect(ctx, lethal)
			c.ApplyEffect(ctx, effect.Damage(10, effect.Context{Causer: "trap"}))
			if len(fired) != 1 {
				t.Fatalf("expected no repeat while health stays at 0, got %d", len(fired))
			}

			c.ApplyEffect(ctx, effect.Spec{Attribute: attributes.Health, Op: effect.OpOverride, Magnitude: 40})
			c.ApplyEffect(ctx, lethal)
			if len(fired) != 2 {
				t.Fatalf("expected a second message after health recovered, got %d", len(fired))
			}
		})
	}
}

func TestComponentLifecycleWaitsForAbilitySystem(t *testing.T) {
	ctx := context.Background()
	manager := lifecycle.NewManager()
	owner := &testOwner{id: "late", authority: true, tags: tags.NewContainer(), set: NewAttributeSet()}
	c := NewComponent(owner, Config{Lifecycle: manager})
	manager.Register("late", lifecycle.FeatureAbilitySystem)
	c.Register(ctx)
	c.SetTemplate(ctx, attributes.DefaultTemplate())

	if c.Initialized() {
		t.Fatalf("expected component to wait for the ability system")
	}
	if got := manager.Stage("late", lifecycle.FeatureHealth); got != lifecycle.DataAvailable {
		t.Fatalf("expected health at DataAvailable, got %s", got)
	}

	manager.Advance("late", lifecycle.FeatureAbilitySystem, lifecycle.DataInitialized)

	if !c.Initialized() || c.Health() != 100 {
		t.Fatalf("expected initialization once prerequisites are met, health=%.2f", c.Health())
	}
	if got := manager.Stage("late", lifecycle.FeatureHealth); got != lifecycle.GameplayReady {
		t.Fatalf("expected health at GameplayReady, got %s", got)
	}
}
