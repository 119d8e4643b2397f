package lifecycle

import "testing"

func TestAdvanceIsMonotonic(t *testing.T) {
	m := NewManager()
	if m.Advance("a", FeatureHealth, DataAvailable) {
		t.Fatalf("expected advance on unregistered feature to fail")
	}
	m.Register("a", FeatureHealth)
	if !m.Advance("a", FeatureHealth, DataInitialized) {
		t.Fatalf("expected forward advance to succeed")
	}
	if m.Advance("a", FeatureHealth, DataAvailable) {
		t.Fatalf("expected backward advance to fail")
	}
	if !m.HasReached("a", FeatureHealth, DataAvailable) {
		t.Fatalf("expected DataInitialized to satisfy DataAvailable")
	}
	if m.HasReached("a", FeatureHealth, GameplayReady) {
		t.Fatalf("expected GameplayReady to be unreached")
	}
}

func TestSubscribersNotifiedInOrder(t *testing.T) {
	m := NewManager()
	var seen []string
	m.Subscribe("a", FeatureAbilitySystem, func(c Change) { seen = append(seen, "first:"+c.Stage.String()) })
	m.Subscribe("a", "", func(c Change) { seen = append(seen, "any:"+string(c.Feature)) })
	m.Subscribe("a", FeatureAbilitySystem, func(c Change) { seen = append(seen, "second:"+c.Stage.String()) })

	m.Register("a", FeatureAbilitySystem)
	m.Advance("a", FeatureAbilitySystem, DataInitialized)

	want := []string{
		"first:Spawned", "second:Spawned", "any:AbilitySystem",
		"first:DataInitialized", "second:DataInitialized", "any:AbilitySystem",
	}
	if len(seen) != len(want) {
		t.Fatalf("expected %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, seen)
		}
	}
}

func TestSubscribeAndCallReportsCurrentStage(t *testing.T) {
	m := NewManager()
	m.Register("a", FeatureAbilitySystem)
	m.Advance("a", FeatureAbilitySystem, DataInitialized)

	var got Stage
	sub := m.SubscribeAndCall("a", FeatureAbilitySystem, func(c Change) { got = c.Stage })
	if got != DataInitialized {
		t.Fatalf("expected immediate DataInitialized, got %s", got)
	}
	sub.Unsubscribe()
	m.Advance("a", FeatureAbilitySystem, GameplayReady)
	if got != DataInitialized {
		t.Fatalf("expected no callback after unsubscribe, got %s", got)
	}

	m.Unregister("a")
	if m.Stage("a", FeatureAbilitySystem) != None {
		t.Fatalf("expected unregister to forget the feature")
	}
}
