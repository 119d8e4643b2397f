package replication

import (
	"sync"
	"time"
)

// Telemetry receives journal drop notifications.
type Telemetry interface {
	RecordJournalDrop(metric string)
}

const metricJournalMissingEntity = "journal_missing_entity"

// Journal accumulates patches generated during a tick and keeps a rolling
// buffer of recent keyframes for observers that join late.
type Journal struct {
	mu        sync.RWMutex
	patches   []Patch
	keyframes []Keyframe
	maxFrames int
	maxAge    time.Duration
	telemetry Telemetry
}

// Keyframe is a full snapshot of every actor at a tick.
type Keyframe struct {
	Tick       uint64     `json:"tick"`
	Sequence   uint64     `json:"sequence"`
	Actors     []Snapshot `json:"actors"`
	RecordedAt time.Time  `json:"recordedAt"`
}

type KeyframeEviction struct {
	Sequence uint64
	Tick     uint64
	Reason   string
}

type KeyframeRecordResult struct {
	Size           int
	OldestSequence uint64
	NewestSequence uint64
	Evicted        []KeyframeEviction
}

// NewJournal constructs a journal retaining up to keyframeCapacity keyframes
// no older than maxAge. Zero maxAge disables age eviction.
func NewJournal(keyframeCapacity int, maxAge time.Duration) *Journal {
	if keyframeCapacity < 0 {
		keyframeCapacity = 0
	}
	if maxAge < 0 {
		maxAge = 0
	}
	return &Journal{
		patches:   make([]Patch, 0),
		keyframes: make([]Keyframe, 0, keyframeCapacity),
		maxFrames: keyframeCapacity,
		maxAge:    maxAge,
	}
}

func (j *Journal) AttachTelemetry(t Telemetry) {
	j.mu.Lock()
	j.telemetry = t
	j.mu.Unlock()
}

// AppendPatch records a patch for the current tick.
func (j *Journal) AppendPatch(p Patch) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if p.EntityID == "" {
		if j.telemetry != nil {
			j.telemetry.RecordJournalDrop(metricJournalMissingEntity)
		}
		return
	}
	j.patches = append(j.patches, p)
}

// PurgeEntity drops staged patches for entityID. The actor_removed patch is
// kept so observers still learn about the removal.
func (j *Journal) PurgeEntity(entityID string) {
	if entityID == "" {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.patches) == 0 {
		return
	}
	filtered := j.patches[:0]
	for _, patch := range j.patches {
		if patch.EntityID == entityID && patch.Kind != PatchActorRemoved {
			continue
		}
		filtered = append(filtered, patch)
	}
	j.patches = filtered
}

// DrainPatches returns all staged patches and clears the buffer.
func (j *Journal) DrainPatches() []Patch {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.patches) == 0 {
		return nil
	}
	drained := make([]Patch, len(j.patches))
	copy(drained, j.patches)
	j.patches = j.patches[:0]
	return drained
}

// SnapshotPatches returns a copy of the staged patches without clearing them.
func (j *Journal) SnapshotPatches() []Patch {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if len(j.patches) == 0 {
		return nil
	}
	snapshot := make([]Patch, len(j.patches))
	copy(snapshot, j.patches)
	return snapshot
}

// RestorePatches prepends p back into the journal, used when a drained batch
// could not be encoded and sent.
func (j *Journal) RestorePatches(p []Patch) {
	if len(p) == 0 {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	restored := make([]Patch, 0, len(p)+len(j.patches))
	restored = append(restored, p...)
	restored = append(restored, j.patches...)
	j.patches = restored
}

// RecordKeyframe stores a keyframe, evicting by age and then by count.
func (j *Journal) RecordKeyframe(frame Keyframe) KeyframeRecordResult {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.maxFrames == 0 {
		j.keyframes = j.keyframes[:0]
		return KeyframeRecordResult{}
	}

	if frame.RecordedAt.IsZero() {
		frame.RecordedAt = time.Now()
	}
	frame.Actors = cloneSnapshots(frame.Actors)
	j.keyframes = append(j.keyframes, frame)

	var evicted []KeyframeEviction
	if j.maxAge > 0 {
		cutoff := frame.RecordedAt.Add(-j.maxAge)
		idx := 0
		for idx < len(j.keyframes) && j.keyframes[idx].RecordedAt.Before(cutoff) {
			evicted = append(evicted, KeyframeEviction{
				Sequence: j.keyframes[idx].Sequence,
				Tick:     j.keyframes[idx].Tick,
				Reason:   "expired",
			})
			idx++
		}
		if idx > 0 {
			j.keyframes = append(j.keyframes[:0], j.keyframes[idx:]...)
		}
	}

	if len(j.keyframes) > j.maxFrames {
		overflow := len(j.keyframes) - j.maxFrames
		for _, old := range j.keyframes[:overflow] {
			evicted = append(evicted, KeyframeEviction{Sequence: old.Sequence, Tick: old.Tick, Reason: "count"})
		}
		j.keyframes = append(j.keyframes[:0], j.keyframes[overflow:]...)
	}

	result := KeyframeRecordResult{Size: len(j.keyframes), Evicted: evicted}
	if result.Size > 0 {
		result.OldestSequence = j.keyframes[0].Sequence
		result.NewestSequence = j.keyframes[result.Size-1].Sequence
	}
	return result
}

// Keyframes returns the buffer in chronological order.
func (j *Journal) Keyframes() []Keyframe {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if len(j.keyframes) == 0 {
		return nil
	}
	frames := make([]Keyframe, len(j.keyframes))
	copy(frames, j.keyframes)
	return frames
}

// LatestKeyframe returns the newest keyframe.
func (j *Journal) LatestKeyframe() (Keyframe, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if len(j.keyframes) == 0 {
		return Keyframe{}, false
	}
	return j.keyframes[len(j.keyframes)-1], true
}

// KeyframeBySequence returns the keyframe matching sequence.
func (j *Journal) KeyframeBySequence(sequence uint64) (Keyframe, bool) {
	if sequence == 0 {
		return Keyframe{}, false
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	for _, frame := range j.keyframes {
		if frame.Sequence == sequence {
			return frame, true
		}
	}
	return Keyframe{}, false
}

// KeyframeWindow reports the current retention window.
func (j *Journal) KeyframeWindow() (size int, oldest, newest uint64) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	size = len(j.keyframes)
	if size == 0 {
		return size, 0, 0
	}
	return size, j.keyframes[0].Sequence, j.keyframes[size-1].Sequence
}

func cloneSnapshots(in []Snapshot) []Snapshot {
	if len(in) == 0 {
		return nil
	}
	out := make([]Snapshot, len(in))
	for i, s := range in {
		out[i] = s.Clone()
	}
	return out
}
