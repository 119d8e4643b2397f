package health

import (
	"context"

	"vitals/server/logging"
)

const (
	// EventDamaged is emitted when a damage execution consumes pool value.
	EventDamaged logging.EventType = "health.damaged"
	// EventHealed is emitted when a heal execution restores pool value.
	EventHealed logging.EventType = "health.healed"
	// EventOutOfHealth is emitted when health first drops to zero.
	EventOutOfHealth logging.EventType = "health.out_of_health"
	// EventTemplateApplied is emitted when a health template seeds the pools.
	EventTemplateApplied logging.EventType = "health.template_applied"
	// EventInitFailed is emitted when a component cannot bind to its owner.
	EventInitFailed logging.EventType = "health.init_failed"
	// EventAttributeMissing is emitted when an operation runs without an attribute set.
	EventAttributeMissing logging.EventType = "health.attribute_missing"

	// EventDeathStarted is emitted when an actor enters DeathStarted.
	EventDeathStarted logging.EventType = "death.started"
	// EventDeathFinished is emitted when an actor enters DeathFinished.
	EventDeathFinished logging.EventType = "death.finished"
	// EventDeathReplayRejected is emitted when an observer refuses to regress a predicted state.
	EventDeathReplayRejected logging.EventType = "death.replay_rejected"
	// EventDeathReplayInvalid is emitted when a replicated delta cannot be decomposed.
	EventDeathReplayInvalid logging.EventType = "death.replay_invalid"
)

// DamagedPayload captures a single damage application.
type DamagedPayload struct {
	Instigator  string  `json:"instigator,omitempty"`
	Causer      string  `json:"causer,omitempty"`
	Amount      float64 `json:"amount"`
	Health      float64 `json:"health"`
	Shield      float64 `json:"shield"`
	ExtraHealth float64 `json:"extraHealth"`
}

// HealedPayload captures a single heal application.
type HealedPayload struct {
	Instigator string  `json:"instigator,omitempty"`
	Causer     string  `json:"causer,omitempty"`
	Amount     float64 `json:"amount"`
	ShieldOnly bool    `json:"shieldOnly,omitempty"`
	Health     float64 `json:"health"`
	Shield     float64 `json:"shield"`
}

// OutOfHealthPayload mirrors the out-of-health signal.
type OutOfHealthPayload struct {
	Instigator string   `json:"instigator,omitempty"`
	Causer     string   `json:"causer,omitempty"`
	Assister   string   `json:"assister,omitempty"`
	Damage     float64  `json:"damage"`
	SourceTags []string `json:"sourceTags,omitempty"`
	TargetTags []string `json:"targetTags,omitempty"`
}

// TemplateAppliedPayload names the template that was applied.
type TemplateAppliedPayload struct {
	Template  string `json:"template"`
	Authority bool   `json:"authority"`
}

// FailurePayload describes why an operation was skipped.
type FailurePayload struct {
	Operation string `json:"operation"`
	Reason    string `json:"reason"`
}

// DeathPayload describes a death transition.
type DeathPayload struct {
	Authority bool `json:"authority"`
	Replayed  bool `json:"replayed,omitempty"`
}

// DeathReplayPayload describes a replicated death delta that could not be applied as-is.
type DeathReplayPayload struct {
	Local    string `json:"local"`
	Received string `json:"received"`
	Reached  string `json:"reached,omitempty"`
}

// Damaged publishes a damage application event.
func Damaged(ctx context.Context, pub logging.Publisher, tick uint64, target logging.EntityRef, payload DamagedPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventDamaged,
		Tick:     tick,
		Actor:    logging.ActorRef(payload.Causer),
		Targets:  []logging.EntityRef{target},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryHealth,
		Payload:  payload,
	})
}

// Healed publishes a heal application event.
func Healed(ctx context.Context, pub logging.Publisher, tick uint64, target logging.EntityRef, payload HealedPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventHealed,
		Tick:     tick,
		Actor:    logging.ActorRef(payload.Causer),
		Targets:  []logging.EntityRef{target},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryHealth,
		Payload:  payload,
	})
}

// OutOfHealth publishes the out-of-health signal for the target.
func OutOfHealth(ctx context.Context, pub logging.Publisher, tick uint64, target logging.EntityRef, payload OutOfHealthPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventOutOfHealth,
		Tick:     tick,
		Actor:    logging.ActorRef(payload.Causer),
		Targets:  []logging.EntityRef{target},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryHealth,
		Payload:  payload,
	})
}

// TemplateApplied publishes a template application.
func TemplateApplied(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload TemplateAppliedPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventTemplateApplied,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryHealth,
		Payload:  payload,
	})
}

// InitFailed reports a component that could not bind to its owner.
func InitFailed(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload FailurePayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventInitFailed,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityError,
		Category: logging.CategoryHealth,
		Payload:  payload,
	})
}

// AttributeMissing reports an operation skipped for lack of an attribute set.
func AttributeMissing(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload FailurePayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventAttributeMissing,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityError,
		Category: logging.CategoryHealth,
		Payload:  payload,
	})
}

// DeathStarted publishes the DeathStarted transition.
func DeathStarted(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload DeathPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventDeathStarted,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryDeath,
		Payload:  payload,
	})
}

// DeathFinished publishes the DeathFinished transition.
func DeathFinished(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload DeathPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventDeathFinished,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryDeath,
		Payload:  payload,
	})
}

// DeathReplayRejected reports a replicated update that would regress local state.
func DeathReplayRejected(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload DeathReplayPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventDeathReplayRejected,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryDeath,
		Payload:  payload,
	})
}

// DeathReplayInvalid reports a replicated update that could not be fully replayed.
func DeathReplayInvalid(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload DeathReplayPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventDeathReplayInvalid,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityError,
		Category: logging.CategoryDeath,
		Payload:  payload,
	})
}

func publish(ctx context.Context, pub logging.Publisher, event logging.Event) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, event)
}
