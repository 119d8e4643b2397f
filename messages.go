package server

import "vitals/server/internal/death"

// ActorView is the JSON form of an actor returned by the HTTP API.
type ActorView struct {
	ID             string             `json:"id"`
	Template       string             `json:"template,omitempty"`
	Version        uint64             `json:"version"`
	Initialized    bool               `json:"initialized"`
	Attributes     map[string]float64 `json:"attributes"`
	TotalHealth    float64            `json:"totalHealth"`
	TotalMaxHealth float64            `json:"totalMaxHealth"`
	DeathState     death.State        `json:"deathState"`
	Tags           []string           `json:"tags,omitempty"`
	Abilities      []string           `json:"abilities,omitempty"`
	DamageHistory  map[string]float64 `json:"damageHistory,omitempty"`
}

// SpawnRequest creates an actor. Attributes may only set the combat and
// resistance attributes; pools come from the template.
type SpawnRequest struct {
	ID         string             `json:"id,omitempty"`
	Template   string             `json:"template,omitempty"`
	Tags       []string           `json:"tags,omitempty"`
	Abilities  []string           `json:"abilities,omitempty"`
	Attributes map[string]float64 `json:"attributes,omitempty"`
}

// ExecutionRequest computes an effect from a source actor's combat attributes.
type ExecutionRequest struct {
	Kind       string   `json:"kind"`
	Source     string   `json:"source"`
	SourceTags []string `json:"sourceTags,omitempty"`
	TargetTags []string `json:"targetTags,omitempty"`
	Causer     string   `json:"causer,omitempty"`
	Effect     string   `json:"effect,omitempty"`
}

// EffectResult reports what an applied effect did.
type EffectResult struct {
	Executed    bool      `json:"executed"`
	Attribute   string    `json:"attribute"`
	Magnitude   float64   `json:"magnitude"`
	OutOfHealth bool      `json:"outOfHealth"`
	Actor       ActorView `json:"actor"`
}

type diagnosticsObserver struct {
	ID          string `json:"id"`
	ConnectedAt int64  `json:"connectedAt"`
	Sent        uint64 `json:"sent"`
}

// Diagnostics is served by GET /diagnostics.
type Diagnostics struct {
	Ver            int                   `json:"ver"`
	Tick           uint64                `json:"tick"`
	Actors         int                   `json:"actors"`
	Observers      []diagnosticsObserver `json:"observers"`
	Templates      []string              `json:"templates"`
	PendingPatches int                   `json:"pendingPatches"`
	Telemetry      telemetrySnapshot     `json:"telemetry"`
	Metrics        map[string]uint64     `json:"metrics,omitempty"`
}
