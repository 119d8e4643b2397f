package replication

import (
	"context"
	"encoding/json"
	"testing"

	"vitals/server/attributes"
	"vitals/server/internal/death"
)

func TestReplicaSnapshotFiresCallbacksInAttributeOrder(t *testing.T) {
	r := NewReplica("a", nil)
	var order []attributes.ID
	r.Changed.Subscribe(func(c FieldChange) { order = append(order, c.Attribute) })
	deathSeen := false
	r.Death().Started.Subscribe(func(death.Event) {
		if len(order) == 0 {
			t.Fatalf("expected attribute callbacks before death replay")
		}
		deathSeen = true
	})

	r.ApplySnapshot(context.Background(), Snapshot{
		ActorID:    "a",
		Version:    4,
		Attributes: map[string]float64{"shield": 10, "health": 0, "maxHealth": 100},
		DeathState: death.DeathStarted,
	})

	want := []attributes.ID{attributes.Health, attributes.MaxHealth, attributes.Shield}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
	if !deathSeen {
		t.Fatalf("expected death started replay")
	}
}

func TestReplicaReplaysSkippedDeathTransition(t *testing.T) {
	r := NewReplica("a", nil)
	var seen []death.State
	r.Death().Started.Subscribe(func(e death.Event) { seen = append(seen, e.State) })
	r.Death().Finished.Subscribe(func(e death.Event) { seen = append(seen, e.State) })

	applied, err := r.ApplyPatch(context.Background(), Patch{
		Kind:     PatchDeathState,
		EntityID: "a",
		Version:  1,
		Payload:  DeathStatePayload{State: death.DeathFinished},
	})
	if err != nil || !applied {
		t.Fatalf("expected patch applied, got applied=%v err=%v", applied, err)
	}
	if len(seen) != 2 || seen[0] != death.DeathStarted || seen[1] != death.DeathFinished {
		t.Fatalf("expected started then finished, got %v", seen)
	}
}

func TestReplicaDropsStaleUpdates(t *testing.T) {
	ctx := context.Background()
	r := NewReplica("a", nil)
	r.ApplyPatch(ctx, Patch{Kind: PatchAttribute, EntityID: "a", Version: 5, Payload: AttributePayload{Attribute: "health", Value: 40}})

	applied, err := r.ApplyPatch(ctx, Patch{Kind: PatchAttribute, EntityID: "a", Version: 5, Payload: AttributePayload{Attribute: "health", Value: 90}})
	if err != nil || applied {
		t.Fatalf("expected duplicate version to be dropped, got applied=%v err=%v", applied, err)
	}
	if r.ApplySnapshot(ctx, Snapshot{ActorID: "a", Version: 2, Attributes: map[string]float64{"health": 100}}) {
		t.Fatalf("expected older snapshot to be ignored")
	}
	if got := r.Get(attributes.Health); got != 40 {
		t.Fatalf("expected health 40, got %.2f", got)
	}
}

func TestReplicaRejectsUnknownAttribute(t *testing.T) {
	r := NewReplica("a", nil)
	_, err := r.ApplyPatch(context.Background(), Patch{Kind: PatchAttribute, EntityID: "a", Version: 1, Payload: AttributePayload{Attribute: "damage", Value: 4}})
	if err == nil {
		t.Fatalf("expected meta attribute patch to be rejected")
	}
}

func TestPatchJSONDecodesTypedPayloads(t *testing.T) {
	raw := []byte(`[
		{"kind":"attribute","entityId":"a","version":1,"payload":{"attribute":"shield","value":12}},
		{"kind":"death_state","entityId":"a","version":2,"payload":{"state":"DeathStarted"}},
		{"kind":"template","entityId":"a","version":3,"payload":{"template":"tank"}},
		{"kind":"actor_removed","entityId":"a","version":4}
	]`)
	var patches []Patch
	if err := json.Unmarshal(raw, &patches); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := patches[0].Payload.(AttributePayload); !ok {
		t.Fatalf("expected AttributePayload, got %T", patches[0].Payload)
	}
	if p, ok := patches[1].Payload.(DeathStatePayload); !ok || p.State != death.DeathStarted {
		t.Fatalf("expected DeathStarted payload, got %#v", patches[1].Payload)
	}
	if p, ok := patches[2].Payload.(TemplatePayload); !ok || p.Template != "tank" {
		t.Fatalf("expected tank template, got %#v", patches[2].Payload)
	}
	if patches[3].Payload != nil {
		t.Fatalf("expected removal without payload")
	}

	if err := json.Unmarshal([]byte(`{"kind":"bogus","entityId":"a"}`), &Patch{}); err == nil {
		t.Fatalf("expected unknown kind to fail")
	}
}

func TestMirrorAppliesAndRemoves(t *testing.T) {
	ctx := context.Background()
	m := NewMirror(nil)
	var removed []string
	m.Removed.Subscribe(func(id string) { removed = append(removed, id) })

	m.ApplySnapshots(ctx, []Snapshot{
		{ActorID: "b", Version: 1, Attributes: map[string]float64{"health": 10}},
		{ActorID: "a", Version: 1, Attributes: map[string]float64{"health": 20}},
	})
	err := m.ApplyPatches(ctx, []Patch{
		{Kind: PatchAttribute, EntityID: "a", Version: 2, Payload: AttributePayload{Attribute: "health", Value: 5}},
		{Kind: PatchActorRemoved, EntityID: "b", Version: 2},
	})
	if err != nil {
		t.Fatalf("apply patches: %v", err)
	}

	snaps := m.Snapshots()
	if len(snaps) != 1 || snaps[0].ActorID != "a" || snaps[0].Attributes["health"] != 5 {
		t.Fatalf("expected only a with health 5, got %+v", snaps)
	}
	if len(removed) != 1 || removed[0] != "b" {
		t.Fatalf("expected b removed, got %v", removed)
	}
	if err := m.ApplyPatches(ctx, []Patch{{Kind: PatchAttribute}}); err == nil {
		t.Fatalf("expected patch without entity to fail")
	}
}

func TestMirrorKeyframeDropsMissingReplicas(t *testing.T) {
	ctx := context.Background()
	m := NewMirror(nil)
	m.ApplySnapshots(ctx, []Snapshot{
		{ActorID: "a", Version: 1, Attributes: map[string]float64{"health": 20}},
		{ActorID: "b", Version: 1, Attributes: map[string]float64{"health": 10}},
	})

	m.ApplyKeyframe(ctx, []Snapshot{
		{ActorID: "a", Version: 3, Attributes: map[string]float64{"health": 15}},
	})

	snaps := m.Snapshots()
	if len(snaps) != 1 || snaps[0].ActorID != "a" || snaps[0].Attributes["health"] != 15 {
		t.Fatalf("expected only a with health 15, got %+v", snaps)
	}
}
