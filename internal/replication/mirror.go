package replication

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"vitals/server/internal/events"
	"vitals/server/logging"
)

// Mirror keeps a replica per actor. It is safe for concurrent use; replica
// callbacks run with the mirror lock held, so listeners must not call back
// into the mirror.
type Mirror struct {
	mu        sync.Mutex
	replicas  map[string]*Replica
	publisher logging.Publisher

	Added   events.Signal[*Replica]
	Removed events.Signal[string]
}

func NewMirror(pub logging.Publisher) *Mirror {
	if pub == nil {
		pub = logging.NopPublisher()
	}
	return &Mirror{replicas: make(map[string]*Replica), publisher: pub}
}

// ApplySnapshots upserts a replica per snapshot.
func (m *Mirror) ApplySnapshots(ctx context.Context, snaps []Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, snap := range snaps {
		if snap.ActorID == "" {
			continue
		}
		m.replicaLocked(snap.ActorID).ApplySnapshot(ctx, snap)
	}
}

// ApplyKeyframe makes the mirror match a full keyframe. Replicas missing from
// the keyframe are dropped.
func (m *Mirror) ApplyKeyframe(ctx context.Context, snaps []Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	present := make(map[string]struct{}, len(snaps))
	for _, snap := range snaps {
		if snap.ActorID == "" {
			continue
		}
		present[snap.ActorID] = struct{}{}
		m.replicaLocked(snap.ActorID).ApplySnapshot(ctx, snap)
	}
	for id := range m.replicas {
		if _, ok := present[id]; !ok {
			delete(m.replicas, id)
			m.Removed.Emit(id)
		}
	}
}

// ApplyPatches replays patches in order. Patches for unknown actors create the
// replica on the fly; removal patches drop it. The first error stops the batch.
func (m *Mirror) ApplyPatches(ctx context.Context, patches []Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, patch := range patches {
		if patch.EntityID == "" {
			return fmt.Errorf("apply patches: missing entity id for kind %q", patch.Kind)
		}
		if patch.Kind == PatchActorRemoved {
			if _, ok := m.replicas[patch.EntityID]; ok {
				delete(m.replicas, patch.EntityID)
				m.Removed.Emit(patch.EntityID)
			}
			continue
		}
		if _, err := m.replicaLocked(patch.EntityID).ApplyPatch(ctx, patch); err != nil {
			return err
		}
	}
	return nil
}

// Replica returns the replica for id.
func (m *Mirror) Replica(id string) (*Replica, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.replicas[id]
	return r, ok
}

// Snapshots lists every replica's state ordered by actor ID.
func (m *Mirror) Snapshots() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.replicas))
	for id := range m.replicas {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.replicas[id].Snapshot())
	}
	return out
}

// Len returns the number of replicas.
func (m *Mirror) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.replicas)
}

func (m *Mirror) replicaLocked(id string) *Replica {
	r, ok := m.replicas[id]
	if ok {
		return r
	}
	r = NewReplica(id, m.publisher)
	m.replicas[id] = r
	m.Added.Emit(r)
	return r
}
