package server

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"vitals/server/attributes"
	"vitals/server/internal/death"
	"vitals/server/internal/effect"
	"vitals/server/internal/net/proto"
	"vitals/server/internal/replication"
	"vitals/server/internal/telemetry"
	"vitals/server/internal/templates"
	healthlog "vitals/server/logging/health"
	"vitals/server/logging/sinks"
)

type fakeConn struct {
	mu       sync.Mutex
	messages [][]byte
	fail     bool
	closed   bool
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("broken pipe")
	}
	c.messages = append(c.messages, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) decoded(t *testing.T) []any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, 0, len(c.messages))
	for _, data := range c.messages {
		msg, err := proto.DecodeServerMessage(data)
		if err != nil {
			t.Fatalf("failed to decode %s: %v", data, err)
		}
		out = append(out, msg)
	}
	return out
}

type memoryStore struct {
	mu    sync.Mutex
	snaps map[string]replication.Snapshot
	saves int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{snaps: make(map[string]replication.Snapshot)}
}

func (s *memoryStore) SaveAll(_ context.Context, snaps []replication.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	for _, snap := range snaps {
		s.snaps[snap.ActorID] = snap.Clone()
	}
	return nil
}

func (s *memoryStore) List(context.Context) ([]replication.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]replication.Snapshot, 0, len(s.snaps))
	for _, snap := range s.snaps {
		out = append(out, snap.Clone())
	}
	return out, nil
}

func (s *memoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snaps, id)
	return nil
}

func newTestHub(t *testing.T, mutate func(*HubConfig)) (*Hub, *sinks.MemorySink) {
	t.Helper()
	cfg := DefaultHubConfig()
	cfg.Logger = telemetry.WrapLogger(log.New(io.Discard, "", 0))
	cfg.DeathDurationTicks = 2
	cfg.KeyframeInterval = 1
	if mutate != nil {
		mutate(&cfg)
	}
	sink := sinks.NewMemorySink()
	return NewHub(cfg, sink), sink
}

func spawn(t *testing.T, hub *Hub, req SpawnRequest) ActorView {
	t.Helper()
	view, err := hub.SpawnActor(context.Background(), req)
	if err != nil {
		t.Fatalf("failed to spawn actor: %v", err)
	}
	return view
}

func damage(t *testing.T, hub *Hub, id string, amount float64) EffectResult {
	t.Helper()
	out, err := hub.ApplyEffect(context.Background(), id, effect.Request{
		Attribute:  "damage",
		Magnitude:  amount,
		Instigator: "attacker",
	})
	if err != nil {
		t.Fatalf("failed to apply damage: %v", err)
	}
	return out
}

func TestSpawnActorAppliesDefaultTemplate(t *testing.T) {
	hub, sink := newTestHub(t, nil)
	view := spawn(t, hub, SpawnRequest{ID: "hero"})

	if !view.Initialized {
		t.Fatalf("expected actor to be initialized")
	}
	if view.Template != attributes.DefaultTemplateName {
		t.Fatalf("expected default template, got %q", view.Template)
	}
	if view.Attributes["health"] != 100 || view.Attributes["shield"] != 50 {
		t.Fatalf("unexpected pools: %+v", view.Attributes)
	}
	if view.TotalHealth != 150 || view.TotalMaxHealth != 150 {
		t.Fatalf("expected totals of 150, got %v/%v", view.TotalHealth, view.TotalMaxHealth)
	}
	if len(sink.EventsOfType(healthlog.EventTemplateApplied)) != 1 {
		t.Fatalf("expected one template applied event")
	}
}

func TestSpawnActorGeneratesIDs(t *testing.T) {
	hub, _ := newTestHub(t, nil)
	first := spawn(t, hub, SpawnRequest{})
	second := spawn(t, hub, SpawnRequest{})
	if first.ID == "" || first.ID == second.ID {
		t.Fatalf("expected distinct generated ids, got %q and %q", first.ID, second.ID)
	}
}

func TestSpawnActorRejectsInvalidRequests(t *testing.T) {
	hub, _ := newTestHub(t, nil)
	spawn(t, hub, SpawnRequest{ID: "hero"})

	cases := []struct {
		name string
		req  SpawnRequest
		want error
	}{
		{"duplicate", SpawnRequest{ID: "hero"}, ErrActorExists},
		{"unknown template", SpawnRequest{ID: "a", Template: "dragon"}, ErrInvalidRequest},
		{"pool override", SpawnRequest{ID: "b", Attributes: map[string]float64{"health": 5}}, ErrInvalidRequest},
		{"unknown attribute", SpawnRequest{ID: "c", Attributes: map[string]float64{"mana": 5}}, ErrInvalidRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := hub.SpawnActor(context.Background(), tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if got := len(hub.Actors()); got != 1 {
		t.Fatalf("expected failed spawns to leave one actor, got %d", got)
	}
}

func TestApplyEffectDrainsShieldBeforeHealth(t *testing.T) {
	hub, sink := newTestHub(t, nil)
	spawn(t, hub, SpawnRequest{ID: "hero"})

	out := damage(t, hub, "hero", 120)
	if !out.Executed || out.OutOfHealth {
		t.Fatalf("expected non-lethal executed damage, got %+v", out)
	}
	if out.Actor.Attributes["shield"] != 0 || out.Actor.Attributes["health"] != 30 {
		t.Fatalf("unexpected pools after damage: %+v", out.Actor.Attributes)
	}
	if out.Actor.DamageHistory["attacker"] != 120 {
		t.Fatalf("expected damage history for attacker, got %+v", out.Actor.DamageHistory)
	}
	if len(sink.EventsOfType(healthlog.EventDamaged)) != 1 {
		t.Fatalf("expected one damaged event")
	}
}

func TestApplyEffectRejectsUnknownActorAndAttribute(t *testing.T) {
	hub, _ := newTestHub(t, nil)
	if _, err := hub.ApplyEffect(context.Background(), "ghost", effect.Request{Attribute: "damage", Magnitude: 1}); !errors.Is(err, ErrUnknownActor) {
		t.Fatalf("expected ErrUnknownActor, got %v", err)
	}
	spawn(t, hub, SpawnRequest{ID: "hero"})
	if _, err := hub.ApplyEffect(context.Background(), "hero", effect.Request{Attribute: "mana", Magnitude: 1}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if got := hub.Diagnostics().Telemetry.EffectsRejected; got != 1 {
		t.Fatalf("expected one rejected effect, got %d", got)
	}
}

func TestLethalDamageStartsAndTickFinishesDeath(t *testing.T) {
	hub, sink := newTestHub(t, nil)
	spawn(t, hub, SpawnRequest{ID: "hero", Abilities: []string{"Ability.Type.Attack", "Ability.Type.Death"}})

	out := damage(t, hub, "hero", 500)
	if !out.OutOfHealth {
		t.Fatalf("expected lethal damage to report out of health")
	}
	if out.Actor.DeathState != death.DeathStarted {
		t.Fatalf("expected death to start, got %v", out.Actor.DeathState)
	}
	if len(out.Actor.Abilities) != 1 || out.Actor.Abilities[0] != "Ability.Type.Death" {
		t.Fatalf("expected only the death ability to survive, got %v", out.Actor.Abilities)
	}

	hub.Advance(context.Background())
	if view, _ := hub.Actor("hero"); view.DeathState != death.DeathStarted {
		t.Fatalf("expected death to still be in progress after one tick")
	}
	hub.Advance(context.Background())
	view, _ := hub.Actor("hero")
	if view.DeathState != death.DeathFinished {
		t.Fatalf("expected death to finish after the dying period, got %v", view.DeathState)
	}
	if len(sink.EventsOfType(healthlog.EventDeathFinished)) != 1 {
		t.Fatalf("expected one death finished event")
	}
	snapshot := hub.Diagnostics().Telemetry
	if snapshot.OutOfHealth != 1 || snapshot.DeathsFinished != 1 || snapshot.AbilitiesCanceled != 1 {
		t.Fatalf("unexpected telemetry: %+v", snapshot)
	}
}

func TestManualDeathWithoutAutoStart(t *testing.T) {
	hub, _ := newTestHub(t, func(cfg *HubConfig) {
		cfg.AutoStartDeath = false
		cfg.DeathDurationTicks = 0
	})
	spawn(t, hub, SpawnRequest{ID: "hero"})
	damage(t, hub, "hero", 500)

	if view, _ := hub.Actor("hero"); view.DeathState != death.NotDead {
		t.Fatalf("expected death to wait for an explicit start")
	}
	ctx := context.Background()
	if changed, err := hub.FinishDeath(ctx, "hero"); err != nil || changed {
		t.Fatalf("expected finish before start to be a no-op, got %v %v", changed, err)
	}
	if changed, err := hub.StartDeath(ctx, "hero"); err != nil || !changed {
		t.Fatalf("expected start to change state, got %v %v", changed, err)
	}
	if changed, _ := hub.StartDeath(ctx, "hero"); changed {
		t.Fatalf("expected second start to be ignored")
	}
	for i := 0; i < 5; i++ {
		hub.Advance(ctx)
	}
	if view, _ := hub.Actor("hero"); view.DeathState != death.DeathStarted {
		t.Fatalf("expected a zero dying period to leave death running")
	}
	if changed, _ := hub.FinishDeath(ctx, "hero"); !changed {
		t.Fatalf("expected finish to change state")
	}
	if _, err := hub.StartDeath(ctx, "ghost"); !errors.Is(err, ErrUnknownActor) {
		t.Fatalf("expected ErrUnknownActor, got %v", err)
	}
}

func TestApplyExecutionUsesSourceCombatAttributes(t *testing.T) {
	hub, _ := newTestHub(t, nil)
	spawn(t, hub, SpawnRequest{ID: "archer", Attributes: map[string]float64{"baseDamage": 40, "baseHeal": 25}})
	spawn(t, hub, SpawnRequest{ID: "target", Attributes: map[string]float64{"damageResistance": 0.5}})
	ctx := context.Background()

	out, err := hub.ApplyExecution(ctx, "target", ExecutionRequest{Kind: "damage", Source: "archer"})
	if err != nil {
		t.Fatalf("failed to apply execution: %v", err)
	}
	if out.Magnitude != 20 || out.Actor.Attributes["shield"] != 30 {
		t.Fatalf("expected resisted damage of 20, got %+v", out)
	}

	out, err = hub.ApplyExecution(ctx, "target", ExecutionRequest{Kind: "heal", Source: "archer"})
	if err != nil {
		t.Fatalf("failed to apply heal: %v", err)
	}
	if out.Actor.Attributes["shield"] != 50 {
		t.Fatalf("expected heal to spill into the shield, got %+v", out.Actor.Attributes)
	}

	out, err = hub.ApplyExecution(ctx, "archer", ExecutionRequest{Kind: "healShield", Source: "target"})
	if err != nil {
		t.Fatalf("failed to apply shield heal: %v", err)
	}
	if out.Executed {
		t.Fatalf("expected a zero magnitude execution to do nothing")
	}

	if _, err := hub.ApplyExecution(ctx, "target", ExecutionRequest{Kind: "poison", Source: "archer"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if _, err := hub.ApplyExecution(ctx, "target", ExecutionRequest{Kind: "damage", Source: "ghost"}); !errors.Is(err, ErrUnknownActor) {
		t.Fatalf("expected ErrUnknownActor, got %v", err)
	}
}

func TestSubscribeSendsKeyframeThenPatches(t *testing.T) {
	hub, _ := newTestHub(t, func(cfg *HubConfig) { cfg.KeyframeInterval = 0 })
	spawn(t, hub, SpawnRequest{ID: "hero"})
	hub.Advance(context.Background())

	conn := &fakeConn{}
	sub, err := hub.Subscribe(conn)
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}
	damage(t, hub, "hero", 10)
	hub.Advance(context.Background())

	messages := conn.decoded(t)
	if len(messages) != 2 {
		t.Fatalf("expected keyframe and state, got %d messages", len(messages))
	}
	keyframe, ok := messages[0].(proto.Keyframe)
	if !ok {
		t.Fatalf("expected first message to be a keyframe, got %T", messages[0])
	}
	state, ok := messages[1].(proto.State)
	if !ok {
		t.Fatalf("expected second message to be state, got %T", messages[1])
	}

	mirror := replication.NewMirror(nil)
	mirror.ApplySnapshots(context.Background(), keyframe.Actors)
	if err := mirror.ApplyPatches(context.Background(), state.Patches); err != nil {
		t.Fatalf("failed to apply patches: %v", err)
	}
	replica, ok := mirror.Replica("hero")
	if !ok {
		t.Fatalf("expected replica for hero")
	}
	if replica.Get(attributes.Shield) != 40 {
		t.Fatalf("expected replicated shield of 40, got %v", replica.Get(attributes.Shield))
	}
	if replica.Version() != hub.Snapshots()[0].Version {
		t.Fatalf("expected replica version %d, got %d", hub.Snapshots()[0].Version, replica.Version())
	}
	if diag := hub.Diagnostics(); len(diag.Observers) != 1 || diag.Observers[0].ID != sub.ID() {
		t.Fatalf("expected observer in diagnostics, got %+v", diag.Observers)
	}
}

func TestDeathTransitionFlushesImmediately(t *testing.T) {
	hub, _ := newTestHub(t, nil)
	spawn(t, hub, SpawnRequest{ID: "hero"})
	conn := &fakeConn{}
	if _, err := hub.Subscribe(conn); err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}

	damage(t, hub, "hero", 500)

	messages := conn.decoded(t)
	if len(messages) != 2 {
		t.Fatalf("expected a forced state flush without a tick, got %d messages", len(messages))
	}
	state := messages[1].(proto.State)
	found := false
	for _, patch := range state.Patches {
		if patch.Kind == replication.PatchDeathState {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a death state patch in %+v", state.Patches)
	}
}

func TestKeyframeRequests(t *testing.T) {
	hub, _ := newTestHub(t, nil)
	spawn(t, hub, SpawnRequest{ID: "hero"})
	hub.Advance(context.Background())

	conn := &fakeConn{}
	sub, err := hub.Subscribe(conn)
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}
	if err := hub.HandleKeyframeRequest(sub.ID(), 1); err != nil {
		t.Fatalf("failed to handle request: %v", err)
	}
	if err := hub.HandleKeyframeRequest(sub.ID(), 99); err != nil {
		t.Fatalf("failed to handle request: %v", err)
	}
	if err := hub.HandleKeyframeRequest("observer-404", 0); err == nil {
		t.Fatalf("expected unknown observer to fail")
	}

	messages := conn.decoded(t)
	if len(messages) != 3 {
		t.Fatalf("expected three messages, got %d", len(messages))
	}
	if frame, ok := messages[1].(proto.Keyframe); !ok || frame.Sequence != 1 {
		t.Fatalf("expected buffered keyframe 1, got %+v", messages[1])
	}
	nack, ok := messages[2].(proto.KeyframeNack)
	if !ok || nack.Sequence != 99 || nack.Reason != proto.NackExpired {
		t.Fatalf("expected expired nack, got %+v", messages[2])
	}
	if got := hub.Diagnostics().Telemetry.KeyframeNacks; got != 1 {
		t.Fatalf("expected one nack recorded, got %d", got)
	}
}

func TestBrokenObserverIsDropped(t *testing.T) {
	hub, _ := newTestHub(t, nil)
	spawn(t, hub, SpawnRequest{ID: "hero"})
	conn := &fakeConn{}
	if _, err := hub.Subscribe(conn); err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}
	conn.mu.Lock()
	conn.fail = true
	conn.mu.Unlock()

	damage(t, hub, "hero", 5)
	hub.Advance(context.Background())

	if observers := hub.Diagnostics().Observers; len(observers) != 0 {
		t.Fatalf("expected failed observer to be removed, got %+v", observers)
	}
	if !conn.closed {
		t.Fatalf("expected connection to be closed")
	}
}

func TestRemoveActorBroadcastsRemoval(t *testing.T) {
	store := newMemoryStore()
	hub, _ := newTestHub(t, func(cfg *HubConfig) { cfg.Store = store })
	spawn(t, hub, SpawnRequest{ID: "hero"})
	hub.Advance(context.Background())
	if _, ok := store.snaps["hero"]; !ok {
		t.Fatalf("expected keyframe to be persisted")
	}

	conn := &fakeConn{}
	if _, err := hub.Subscribe(conn); err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}
	if err := hub.RemoveActor(context.Background(), "hero"); err != nil {
		t.Fatalf("failed to remove actor: %v", err)
	}
	if err := hub.RemoveActor(context.Background(), "hero"); !errors.Is(err, ErrUnknownActor) {
		t.Fatalf("expected ErrUnknownActor, got %v", err)
	}

	messages := conn.decoded(t)
	state, ok := messages[len(messages)-1].(proto.State)
	if !ok || len(state.Patches) != 1 || state.Patches[0].Kind != replication.PatchActorRemoved {
		t.Fatalf("expected a single removal patch, got %+v", messages[len(messages)-1])
	}
	if _, ok := store.snaps["hero"]; ok {
		t.Fatalf("expected snapshot to be deleted")
	}
}

func TestRestoreFromStore(t *testing.T) {
	store := newMemoryStore()
	store.snaps["hero"] = replication.Snapshot{
		ActorID:    "hero",
		Version:    42,
		Attributes: map[string]float64{"health": 10, "maxHealth": 100, "shield": 0, "maxShield": 50},
		DeathState: death.DeathStarted,
		Template:   attributes.DefaultTemplateName,
	}
	hub, _ := newTestHub(t, func(cfg *HubConfig) { cfg.Store = store })

	restored, err := hub.RestoreFromStore(context.Background())
	if err != nil {
		t.Fatalf("failed to restore: %v", err)
	}
	if restored != 1 {
		t.Fatalf("expected one restored actor, got %d", restored)
	}
	view, ok := hub.Actor("hero")
	if !ok {
		t.Fatalf("expected hero to exist")
	}
	if view.Attributes["health"] != 10 || view.Attributes["shield"] != 0 {
		t.Fatalf("expected persisted pools, got %+v", view.Attributes)
	}
	if view.DeathState != death.DeathStarted || view.Version < 42 {
		t.Fatalf("expected persisted death state and version, got %+v", view)
	}
	if pending := hub.Diagnostics().PendingPatches; pending != 0 {
		t.Fatalf("expected restore to leave no pending patches, got %d", pending)
	}
}

func TestReloadTemplatesReappliesChangedTemplates(t *testing.T) {
	catalog, err := templates.Parse([]byte(`
templates:
  default:
    maxHealth: 100
    health: 100
  tank:
    maxHealth: 300
    health: 300
`))
	if err != nil {
		t.Fatalf("failed to parse catalog: %v", err)
	}
	hub, _ := newTestHub(t, func(cfg *HubConfig) { cfg.Catalog = catalog })
	spawn(t, hub, SpawnRequest{ID: "tank", Template: "tank"})
	spawn(t, hub, SpawnRequest{ID: "grunt"})
	damage(t, hub, "tank", 50)

	next, err := templates.Parse([]byte(`
templates:
  default:
    maxHealth: 100
    health: 100
  tank:
    maxHealth: 400
    health: 400
`))
	if err != nil {
		t.Fatalf("failed to parse catalog: %v", err)
	}
	changed := hub.ReloadTemplates(context.Background(), next)
	if len(changed) != 1 || changed[0] != "tank" {
		t.Fatalf("expected only tank to change, got %v", changed)
	}
	view, _ := hub.Actor("tank")
	if view.Attributes["maxHealth"] != 400 || view.Attributes["health"] != 400 {
		t.Fatalf("expected tank to be reset to the new template, got %+v", view.Attributes)
	}

	if _, err := hub.SetTemplate(context.Background(), "grunt", "tank"); err != nil {
		t.Fatalf("failed to set template: %v", err)
	}
	if view, _ := hub.Actor("grunt"); view.Template != "tank" || view.Attributes["health"] != 400 {
		t.Fatalf("expected grunt to use tank, got %+v", view)
	}
	if _, err := hub.SetTemplate(context.Background(), "grunt", "dragon"); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestCloseDisconnectsObserversAndPersists(t *testing.T) {
	store := newMemoryStore()
	hub, _ := newTestHub(t, func(cfg *HubConfig) { cfg.Store = store })
	spawn(t, hub, SpawnRequest{ID: "hero"})
	conn := &fakeConn{}
	if _, err := hub.Subscribe(conn); err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}

	hub.Close(context.Background())

	if !conn.closed {
		t.Fatalf("expected observer connection to be closed")
	}
	if _, ok := store.snaps["hero"]; !ok {
		t.Fatalf("expected final snapshot to be persisted")
	}
}
