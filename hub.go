package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"vitals/server/attributes"
	"vitals/server/internal/death"
	"vitals/server/internal/effect"
	"vitals/server/internal/execution"
	"vitals/server/internal/health"
	"vitals/server/internal/lifecycle"
	"vitals/server/internal/net/proto"
	"vitals/server/internal/observability"
	"vitals/server/internal/replication"
	"vitals/server/internal/tags"
	"vitals/server/internal/telemetry"
	"vitals/server/internal/templates"
	"vitals/server/logging"
)

var (
	ErrUnknownActor   = errors.New("unknown actor")
	ErrActorExists    = errors.New("actor already exists")
	ErrInvalidRequest = errors.New("invalid request")
)

// SnapshotStore persists keyframe snapshots between restarts.
type SnapshotStore interface {
	SaveAll(ctx context.Context, snaps []replication.Snapshot) error
	List(ctx context.Context) ([]replication.Snapshot, error)
	Delete(ctx context.Context, actorID string) error
}

type HubConfig struct {
	Logger             telemetry.Logger
	Metrics            telemetry.Metrics
	KeyframeInterval   int
	KeyframeCapacity   int
	KeyframeMaxAge     time.Duration
	DeathDurationTicks int
	AutoStartDeath     bool
	Catalog            *templates.Catalog
	// DamageModifiers run on every damage execution, in order.
	DamageModifiers []execution.Modifier
	Store           SnapshotStore
	Tracer          trace.Tracer
	Clock           func() time.Time
}

func DefaultHubConfig() HubConfig {
	return HubConfig{
		KeyframeInterval:   defaultKeyframeInterval,
		KeyframeCapacity:   defaultKeyframeCapacity,
		KeyframeMaxAge:     defaultKeyframeMaxAge,
		DeathDurationTicks: defaultDeathTicks,
		AutoStartDeath:     true,
	}
}

// Hub owns every actor, the replication journal and the observer
// connections. All actor state is guarded by mu; broadcastMu serializes
// draining the journal with sending it so observers see patches in version
// order.
type Hub struct {
	mu          sync.Mutex
	broadcastMu sync.Mutex

	cfg        HubConfig
	publisher  logging.Publisher
	logger     telemetry.Logger
	lifecycle  *lifecycle.Manager
	catalog    *templates.Catalog
	executions map[execution.Kind]*execution.Execution
	journal    *replication.Journal
	telemetry  *telemetryCounters
	tracer     trace.Tracer
	now        func() time.Time

	actors      map[string]*actor
	subscribers map[string]*subscriber
	keyframeSeq uint64

	tick         atomic.Uint64
	nextActor    atomic.Uint64
	nextObserver atomic.Uint64
	forceFlush   atomic.Bool
}

// NewHub builds a hub publishing domain events into pub.
func NewHub(cfg HubConfig, pub logging.Publisher) *Hub {
	if pub == nil {
		pub = logging.NopPublisher()
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.WrapLogger(log.Default())
	}
	if cfg.Catalog == nil {
		cfg.Catalog = templates.NewCatalog()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.Tracer()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	h := &Hub{
		cfg:         cfg,
		publisher:   tracePublisher(pub),
		logger:      cfg.Logger,
		lifecycle:   lifecycle.NewManager(),
		catalog:     cfg.Catalog,
		journal:     replication.NewJournal(cfg.KeyframeCapacity, cfg.KeyframeMaxAge),
		telemetry:   newTelemetryCounters(cfg.Metrics),
		tracer:      cfg.Tracer,
		now:         cfg.Clock,
		actors:      make(map[string]*actor),
		subscribers: make(map[string]*subscriber),
	}
	h.journal.AttachTelemetry(h.telemetry)
	h.executions = map[execution.Kind]*execution.Execution{
		execution.KindDamage:     execution.Damage(cfg.DamageModifiers...),
		execution.KindHeal:       execution.Heal(),
		execution.KindHealShield: execution.HealShield(),
	}
	return h
}

// tracePublisher stamps the active trace id onto every event.
func tracePublisher(next logging.Publisher) logging.Publisher {
	return logging.PublisherFunc(func(ctx context.Context, event logging.Event) {
		if event.TraceID == "" {
			event.TraceID = observability.TraceID(ctx)
		}
		next.Publish(ctx, event)
	})
}

func (h *Hub) currentTick() uint64 {
	return h.tick.Load()
}

func (h *Hub) Catalog() *templates.Catalog {
	return h.catalog
}

// SpawnActor creates an actor, initializes its health component through the
// lifecycle barrier and applies its template.
func (h *Hub) SpawnActor(ctx context.Context, req SpawnRequest) (ActorView, error) {
	ctx, span := h.tracer.Start(ctx, "hub.SpawnActor", trace.WithAttributes(attribute.String("actor.template", req.Template)))
	defer span.End()

	tmpl, err := h.catalog.Resolve(req.Template)
	if err != nil {
		return ActorView{}, h.fail(span, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
	}
	overrides, err := parseOverrides(req.Attributes)
	if err != nil {
		return ActorView{}, h.fail(span, err)
	}
	abilities := make([]tags.Tag, 0, len(req.Abilities))
	for _, name := range req.Abilities {
		abilities = append(abilities, tags.Tag(name))
	}

	h.mu.Lock()
	a, err := h.spawnLocked(ctx, req.ID, tmpl, req.Tags, abilities)
	if err != nil {
		h.mu.Unlock()
		return ActorView{}, h.fail(span, err)
	}
	for _, o := range overrides {
		a.set.SetBase(o.ID, o.Value, "")
	}
	view := a.view()
	h.mu.Unlock()

	span.SetAttributes(attribute.String("actor.id", view.ID))
	h.flushIfForced()
	return view, nil
}

func (h *Hub) spawnLocked(ctx context.Context, id string, tmpl attributes.Template, tagNames []string, abilities []tags.Tag) (*actor, error) {
	if id == "" {
		for {
			id = fmt.Sprintf("%s-%d", actorIDPrefix, h.nextActor.Add(1))
			if _, exists := h.actors[id]; !exists {
				break
			}
		}
	} else if _, exists := h.actors[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrActorExists, id)
	}

	a := &actor{
		id:        id,
		hub:       h,
		tags:      tags.FromStrings(tagNames),
		set:       health.NewAttributeSet(),
		abilities: abilities,
	}
	a.component = health.NewComponent(a, health.Config{
		Publisher: h.publisher,
		Tick:      h.currentTick,
		Lifecycle: h.lifecycle,
		ForceSync: func(state death.State) {
			h.deathSyncedLocked(a, state)
		},
		AutoStartDeath: h.cfg.AutoStartDeath,
	})
	a.bind()
	a.subs.Add(a.component.OutOfHealth.Subscribe(func(health.OutOfHealthMessage) {
		h.telemetry.RecordOutOfHealth()
	}))
	h.actors[id] = a

	a.component.Register(ctx)
	if err := a.component.SetTemplate(ctx, tmpl); err != nil {
		h.removeLocked(a)
		return nil, err
	}
	h.setTemplateNameLocked(a, tmpl.Name)

	// The ability system is ready as soon as the actor exists; advancing it
	// releases the health component's initialization.
	h.lifecycle.Register(id, lifecycle.FeatureAbilitySystem)
	for _, stage := range []lifecycle.Stage{lifecycle.DataAvailable, lifecycle.DataInitialized, lifecycle.GameplayReady} {
		h.lifecycle.Advance(id, lifecycle.FeatureAbilitySystem, stage)
	}
	if !a.component.Initialized() {
		h.removeLocked(a)
		return nil, fmt.Errorf("health component for %s failed to initialize", id)
	}
	return a, nil
}

type override struct {
	ID    attributes.ID
	Value float64
}

// parseOverrides accepts the combat and resistance attributes only.
func parseOverrides(raw map[string]float64) ([]override, error) {
	overrides := make([]override, 0, len(raw))
	for name, value := range raw {
		id, ok := attributes.Parse(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown attribute %q", ErrInvalidRequest, name)
		}
		switch id {
		case attributes.DamageResistance, attributes.BaseDamage, attributes.BaseHeal, attributes.BaseHealShield:
		default:
			return nil, fmt.Errorf("%w: attribute %s is set by the template", ErrInvalidRequest, id)
		}
		overrides = append(overrides, override{ID: id, Value: value})
	}
	slices.SortFunc(overrides, func(a, b override) int { return int(a.ID) - int(b.ID) })
	return overrides, nil
}

// RemoveActor destroys an actor and tells observers it is gone.
func (h *Hub) RemoveActor(ctx context.Context, id string) error {
	h.mu.Lock()
	a, ok := h.actors[id]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownActor, id)
	}
	h.removeLocked(a)
	h.journal.AppendPatch(replication.Patch{
		Kind:     replication.PatchActorRemoved,
		EntityID: id,
		Version:  a.version + 1,
	})
	h.mu.Unlock()

	h.forceFlush.Store(true)
	h.flushIfForced()

	if h.cfg.Store != nil {
		if err := h.cfg.Store.Delete(ctx, id); err != nil {
			h.telemetry.RecordPersistFailure()
			h.logger.Printf("failed to delete snapshot for %s: %v", id, err)
		}
	}
	return nil
}

func (h *Hub) removeLocked(a *actor) {
	delete(h.actors, a.id)
	a.close()
	h.lifecycle.Unregister(a.id)
	h.journal.PurgeEntity(a.id)
}

// ApplyEffect runs an effect request against one actor.
func (h *Hub) ApplyEffect(ctx context.Context, id string, req effect.Request) (EffectResult, error) {
	ctx, span := h.tracer.Start(ctx, "hub.ApplyEffect", trace.WithAttributes(
		attribute.String("actor.id", id),
		attribute.String("effect.attribute", req.Attribute),
		attribute.Float64("effect.magnitude", req.Magnitude),
	))
	defer span.End()

	spec, err := req.Spec()
	if err != nil {
		h.telemetry.RecordEffect(false)
		return EffectResult{}, h.fail(span, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
	}

	h.mu.Lock()
	a, ok := h.actors[id]
	if !ok {
		h.mu.Unlock()
		return EffectResult{}, h.fail(span, fmt.Errorf("%w: %s", ErrUnknownActor, id))
	}
	out := h.applyLocked(ctx, a, spec)
	h.mu.Unlock()

	span.SetAttributes(
		attribute.Bool("effect.executed", out.Executed),
		attribute.Bool("effect.out_of_health", out.OutOfHealth),
	)
	h.flushIfForced()
	return out, nil
}

// ApplyExecution computes an effect from the source actor's combat
// attributes and applies it to the target.
func (h *Hub) ApplyExecution(ctx context.Context, targetID string, req ExecutionRequest) (EffectResult, error) {
	ctx, span := h.tracer.Start(ctx, "hub.ApplyExecution", trace.WithAttributes(
		attribute.String("actor.id", targetID),
		attribute.String("execution.kind", req.Kind),
		attribute.String("execution.source", req.Source),
	))
	defer span.End()

	kind, ok := execution.ParseKind(req.Kind)
	if !ok {
		return EffectResult{}, h.fail(span, fmt.Errorf("%w: unknown execution kind %q", ErrInvalidRequest, req.Kind))
	}

	h.mu.Lock()
	target, ok := h.actors[targetID]
	if !ok {
		h.mu.Unlock()
		return EffectResult{}, h.fail(span, fmt.Errorf("%w: %s", ErrUnknownActor, targetID))
	}
	source, ok := h.actors[req.Source]
	if !ok {
		h.mu.Unlock()
		return EffectResult{}, h.fail(span, fmt.Errorf("%w: source %s", ErrUnknownActor, req.Source))
	}

	sourceTags := source.tags.Clone()
	for _, name := range req.SourceTags {
		sourceTags.Add(tags.Tag(name))
	}
	targetTags := target.tags.Clone()
	for _, name := range req.TargetTags {
		targetTags.Add(tags.Tag(name))
	}
	causer := req.Causer
	if causer == "" {
		causer = source.id
	}
	spec, produced, err := h.executions[kind].Execute(execution.Params{
		Source:     source.set.Values(),
		SourceTags: sourceTags,
		TargetTags: targetTags,
		Context:    effect.Context{Instigator: source.id, Causer: causer, EffectName: req.Effect},
	})
	if err != nil {
		h.mu.Unlock()
		h.telemetry.RecordEffect(false)
		return EffectResult{}, h.fail(span, fmt.Errorf("execution %s: %w", kind, err))
	}
	if !produced {
		view := target.view()
		h.mu.Unlock()
		h.telemetry.RecordEffect(false)
		return EffectResult{Attribute: kind.String(), Actor: view}, nil
	}
	out := h.applyLocked(ctx, target, spec)
	h.mu.Unlock()

	span.SetAttributes(attribute.Float64("effect.magnitude", out.Magnitude))
	h.flushIfForced()
	return out, nil
}

func (h *Hub) applyLocked(ctx context.Context, a *actor, spec effect.Spec) EffectResult {
	result := a.component.ApplyEffect(ctx, spec)
	h.telemetry.RecordEffect(result.Executed)
	return EffectResult{
		Executed:    result.Executed,
		Attribute:   result.Attribute.String(),
		Magnitude:   result.Magnitude,
		OutOfHealth: result.OutOfHealth,
		Actor:       a.view(),
	}
}

// StartDeath begins death for an actor. It reports whether the state changed.
func (h *Hub) StartDeath(ctx context.Context, id string) (bool, error) {
	h.mu.Lock()
	a, ok := h.actors[id]
	if !ok {
		h.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrUnknownActor, id)
	}
	var changed bool
	if ability := a.component.DeathAbility(); ability.Active() {
		changed = ability.StartDeath(ctx)
	} else {
		changed = a.component.StartDeath(ctx)
	}
	h.mu.Unlock()
	h.flushIfForced()
	return changed, nil
}

// FinishDeath completes death for an actor that is dying.
func (h *Hub) FinishDeath(ctx context.Context, id string) (bool, error) {
	h.mu.Lock()
	a, ok := h.actors[id]
	if !ok {
		h.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrUnknownActor, id)
	}
	changed := a.endDeath(ctx)
	h.mu.Unlock()
	h.flushIfForced()
	return changed, nil
}

// SetTemplate assigns a catalog template to an actor and applies it.
func (h *Hub) SetTemplate(ctx context.Context, id, name string) (ActorView, error) {
	tmpl, err := h.catalog.Resolve(name)
	if err != nil {
		return ActorView{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	h.mu.Lock()
	a, ok := h.actors[id]
	if !ok {
		h.mu.Unlock()
		return ActorView{}, fmt.Errorf("%w: %s", ErrUnknownActor, id)
	}
	if err := a.component.SetTemplate(ctx, tmpl); err != nil {
		h.mu.Unlock()
		return ActorView{}, err
	}
	h.setTemplateNameLocked(a, tmpl.Name)
	view := a.view()
	h.mu.Unlock()
	h.flushIfForced()
	return view, nil
}

// ReloadTemplates swaps in a freshly loaded catalog and reapplies every
// template whose definition changed to the actors using it.
func (h *Hub) ReloadTemplates(ctx context.Context, next *templates.Catalog) []string {
	changed := h.catalog.Replace(next)
	if len(changed) == 0 {
		return nil
	}
	h.mu.Lock()
	for _, id := range h.sortedIDsLocked() {
		a := h.actors[id]
		if !slices.Contains(changed, a.template) {
			continue
		}
		tmpl, ok := h.catalog.Lookup(a.template)
		if !ok {
			h.logger.Printf("template %q was removed; %s keeps its current pools", a.template, id)
			continue
		}
		if err := a.component.SetTemplate(ctx, tmpl); err != nil {
			h.logger.Printf("failed to reapply template %q to %s: %v", tmpl.Name, id, err)
		}
	}
	h.mu.Unlock()
	h.forceFlush.Store(true)
	h.flushIfForced()
	return changed
}

func (h *Hub) setTemplateNameLocked(a *actor, name string) {
	if a.template == name {
		return
	}
	a.template = name
	h.appendLocked(a, replication.PatchTemplate, replication.TemplatePayload{Template: name})
}

// appendLocked stamps the next per-actor version onto a patch.
func (h *Hub) appendLocked(a *actor, kind replication.PatchKind, payload any) {
	a.version++
	h.journal.AppendPatch(replication.Patch{
		Kind:     kind,
		EntityID: a.id,
		Version:  a.version,
		Payload:  payload,
	})
}

// deathSyncedLocked is the force-sync hook of every death machine.
func (h *Hub) deathSyncedLocked(a *actor, state death.State) {
	h.appendLocked(a, replication.PatchDeathState, replication.DeathStatePayload{State: state})
	if state == death.DeathFinished {
		h.telemetry.RecordDeathFinished()
	}
	h.forceFlush.Store(true)
}

func (h *Hub) Actor(id string) (ActorView, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	a, ok := h.actors[id]
	if !ok {
		return ActorView{}, false
	}
	return a.view(), true
}

// Actors lists every actor ordered by id.
func (h *Hub) Actors() []ActorView {
	h.mu.Lock()
	defer h.mu.Unlock()
	views := make([]ActorView, 0, len(h.actors))
	for _, id := range h.sortedIDsLocked() {
		views = append(views, h.actors[id].view())
	}
	return views
}

// Snapshots returns the replicated state of every actor ordered by id.
func (h *Hub) Snapshots() []replication.Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotsLocked()
}

func (h *Hub) snapshotsLocked() []replication.Snapshot {
	snaps := make([]replication.Snapshot, 0, len(h.actors))
	for _, id := range h.sortedIDsLocked() {
		snaps = append(snaps, h.actors[id].snapshot())
	}
	return snaps
}

func (h *Hub) sortedIDsLocked() []string {
	ids := make([]string, 0, len(h.actors))
	for id := range h.actors {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Advance runs one tick: finishes deaths whose dying period elapsed, flushes
// the journal to observers and records a keyframe when one is due.
func (h *Hub) Advance(ctx context.Context) {
	start := time.Now()
	tick := h.tick.Add(1)

	h.broadcastMu.Lock()
	h.mu.Lock()
	if duration := h.cfg.DeathDurationTicks; duration > 0 {
		for _, id := range h.sortedIDsLocked() {
			a := h.actors[id]
			if a.component.DeathState() != death.DeathStarted {
				continue
			}
			if tick-a.deathStartedTick >= uint64(duration) {
				a.endDeath(ctx)
			}
		}
	}
	patches := h.journal.DrainPatches()
	var frame *replication.Keyframe
	if interval := h.cfg.KeyframeInterval; interval > 0 && tick%uint64(interval) == 0 {
		h.keyframeSeq++
		recorded := replication.Keyframe{
			Tick:       tick,
			Sequence:   h.keyframeSeq,
			Actors:     h.snapshotsLocked(),
			RecordedAt: h.now(),
		}
		result := h.journal.RecordKeyframe(recorded)
		h.telemetry.RecordKeyframeJournal(result.Size, result.OldestSequence, result.NewestSequence)
		frame = &recorded
	}
	keyframeSeq := h.keyframeSeq
	h.mu.Unlock()
	h.sendState(tick, keyframeSeq, patches)
	h.broadcastMu.Unlock()

	if frame != nil {
		h.persist(ctx, frame.Actors)
	}
	h.telemetry.RecordTickDuration(time.Since(start))
}

// RunSimulation drives the fixed-rate tick loop until ctx is done.
func (h *Hub) RunSimulation(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second / tickRate
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Advance(ctx)
		}
	}
}

// flushIfForced pushes pending patches right away after a death transition
// or removal instead of waiting for the next tick.
func (h *Hub) flushIfForced() {
	if !h.forceFlush.Swap(false) {
		return
	}
	h.broadcastMu.Lock()
	defer h.broadcastMu.Unlock()
	h.mu.Lock()
	patches := h.journal.DrainPatches()
	keyframeSeq := h.keyframeSeq
	h.mu.Unlock()
	h.sendState(h.currentTick(), keyframeSeq, patches)
}

// sendState must be called with broadcastMu held.
func (h *Hub) sendState(tick, keyframeSeq uint64, patches []replication.Patch) {
	if len(patches) == 0 {
		return
	}
	data, err := json.Marshal(proto.NewState(tick, keyframeSeq, patches, h.now().UnixMilli()))
	if err != nil {
		h.logger.Printf("failed to marshal state message: %v", err)
		h.journal.RestorePatches(patches)
		return
	}

	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		if err := sub.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Printf("failed to send update to %s: %v", sub.id, err)
			h.Unsubscribe(sub.id)
			continue
		}
		h.telemetry.RecordBroadcast(len(data), len(patches))
	}
}

func (h *Hub) persist(ctx context.Context, snaps []replication.Snapshot) {
	if h.cfg.Store == nil || len(snaps) == 0 {
		return
	}
	if err := h.cfg.Store.SaveAll(ctx, snaps); err != nil {
		h.telemetry.RecordPersistFailure()
		h.logger.Printf("failed to persist %d snapshots: %v", len(snaps), err)
	}
}

// RestoreFromStore recreates persisted actors. Pools and death state come
// from the snapshot; loose tags other than the death status are not stored.
func (h *Hub) RestoreFromStore(ctx context.Context) (int, error) {
	if h.cfg.Store == nil {
		return 0, nil
	}
	snaps, err := h.cfg.Store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list snapshots: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	restored := 0
	for _, snap := range snaps {
		if _, exists := h.actors[snap.ActorID]; exists {
			continue
		}
		tmpl, err := h.catalog.Resolve(snap.Template)
		if err != nil {
			h.logger.Printf("restoring %s with the default template: %v", snap.ActorID, err)
			tmpl = h.catalog.Default()
		}
		a, err := h.spawnLocked(ctx, snap.ActorID, tmpl, nil, nil)
		if err != nil {
			h.logger.Printf("failed to restore %s: %v", snap.ActorID, err)
			continue
		}
		a.component.Restore(snap.AttributeSnapshot(), snap.DeathState)
		if snap.DeathState == death.DeathStarted {
			a.deathStartedTick = h.currentTick()
		}
		if snap.Version > a.version {
			a.version = snap.Version
		}
		// observers join with a keyframe, so spawn-time patches are noise
		h.journal.PurgeEntity(a.id)
		restored++
	}
	return restored, nil
}

// Diagnostics summarizes the hub for GET /diagnostics.
func (h *Hub) Diagnostics() Diagnostics {
	h.mu.Lock()
	observers := make([]diagnosticsObserver, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		observers = append(observers, diagnosticsObserver{
			ID:          sub.id,
			ConnectedAt: sub.connectedAt.UnixMilli(),
			Sent:        sub.sent.Load(),
		})
	}
	actors := len(h.actors)
	h.mu.Unlock()
	slices.SortFunc(observers, func(a, b diagnosticsObserver) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})

	size, oldest, newest := h.journal.KeyframeWindow()
	h.telemetry.RecordKeyframeJournal(size, oldest, newest)
	diag := Diagnostics{
		Ver:            ProtocolVersion,
		Tick:           h.currentTick(),
		Actors:         actors,
		Observers:      observers,
		Templates:      h.catalog.Names(),
		PendingPatches: len(h.journal.SnapshotPatches()),
		Telemetry:      h.telemetry.Snapshot(),
	}
	if snapshotter, ok := h.cfg.Metrics.(interface{ Snapshot() map[string]uint64 }); ok {
		diag.Metrics = snapshotter.Snapshot()
	}
	return diag
}

// Close disconnects every observer and persists a final set of snapshots.
func (h *Hub) Close(ctx context.Context) {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subscribers))
	for id, sub := range h.subscribers {
		subs = append(subs, sub)
		delete(h.subscribers, id)
	}
	snaps := h.snapshotsLocked()
	h.mu.Unlock()
	for _, sub := range subs {
		sub.close()
	}
	h.persist(ctx, snaps)
}

func (h *Hub) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
