package server

import (
	"sync/atomic"
	"time"

	"vitals/server/internal/telemetry"
)

type telemetryCounters struct {
	bytesSent           atomic.Uint64
	patchesSent         atomic.Uint64
	tickDurationMillis  atomic.Int64
	effectsApplied      atomic.Uint64
	effectsRejected     atomic.Uint64
	outOfHealth         atomic.Uint64
	deathsFinished      atomic.Uint64
	abilitiesCanceled   atomic.Uint64
	keyframeJournalSize atomic.Uint64
	keyframeOldest      atomic.Uint64
	keyframeNewest      atomic.Uint64
	keyframeRequests    atomic.Uint64
	keyframeNacks       atomic.Uint64
	journalDrops        atomic.Uint64
	persistFailures     atomic.Uint64
	metrics             telemetry.Metrics
}

type telemetrySnapshot struct {
	BytesSent           uint64 `json:"bytesSent"`
	PatchesSent         uint64 `json:"patchesSent"`
	TickDuration        int64  `json:"tickDurationMillis"`
	EffectsApplied      uint64 `json:"effectsApplied"`
	EffectsRejected     uint64 `json:"effectsRejected"`
	OutOfHealth         uint64 `json:"outOfHealth"`
	DeathsFinished      uint64 `json:"deathsFinished"`
	AbilitiesCanceled   uint64 `json:"abilitiesCanceled"`
	KeyframeJournalSize uint64 `json:"keyframeJournalSize"`
	KeyframeOldest      uint64 `json:"keyframeOldestSequence"`
	KeyframeNewest      uint64 `json:"keyframeNewestSequence"`
	KeyframeRequests    uint64 `json:"keyframeRequests"`
	KeyframeNacks       uint64 `json:"keyframeNacks"`
	JournalDrops        uint64 `json:"journalDrops"`
	PersistFailures     uint64 `json:"persistFailures"`
}

func newTelemetryCounters(metrics telemetry.Metrics) *telemetryCounters {
	return &telemetryCounters{metrics: metrics}
}

func (t *telemetryCounters) add(key string, delta uint64) {
	if t.metrics != nil {
		t.metrics.Add(key, delta)
	}
}

func (t *telemetryCounters) RecordBroadcast(bytes, patches int) {
	if bytes < 0 {
		bytes = 0
	}
	if patches < 0 {
		patches = 0
	}
	t.bytesSent.Add(uint64(bytes))
	t.patchesSent.Add(uint64(patches))
	t.add("broadcast_bytes", uint64(bytes))
}

func (t *telemetryCounters) RecordTickDuration(duration time.Duration) {
	millis := duration.Milliseconds()
	if millis < 0 {
		millis = 0
	}
	t.tickDurationMillis.Store(millis)
	if t.metrics != nil {
		t.metrics.Store("tick_duration_ms", uint64(millis))
	}
}

func (t *telemetryCounters) RecordEffect(executed bool) {
	if executed {
		t.effectsApplied.Add(1)
		t.add("effects_applied", 1)
		return
	}
	t.effectsRejected.Add(1)
	t.add("effects_rejected", 1)
}

func (t *telemetryCounters) RecordOutOfHealth() {
	t.outOfHealth.Add(1)
	t.add("out_of_health", 1)
}

func (t *telemetryCounters) RecordDeathFinished() {
	t.deathsFinished.Add(1)
	t.add("deaths_finished", 1)
}

func (t *telemetryCounters) RecordAbilityCanceled() {
	t.abilitiesCanceled.Add(1)
}

func (t *telemetryCounters) RecordKeyframeJournal(size int, oldest, newest uint64) {
	if size < 0 {
		size = 0
	}
	t.keyframeJournalSize.Store(uint64(size))
	t.keyframeOldest.Store(oldest)
	t.keyframeNewest.Store(newest)
}

func (t *telemetryCounters) RecordKeyframeRequest(success bool) {
	t.keyframeRequests.Add(1)
	if !success {
		t.keyframeNacks.Add(1)
	}
}

// RecordJournalDrop implements replication.Telemetry.
func (t *telemetryCounters) RecordJournalDrop(metric string) {
	t.journalDrops.Add(1)
	t.add(metric, 1)
}

func (t *telemetryCounters) RecordPersistFailure() {
	t.persistFailures.Add(1)
	t.add("persist_failures", 1)
}

func (t *telemetryCounters) Snapshot() telemetrySnapshot {
	return telemetrySnapshot{
		BytesSent:           t.bytesSent.Load(),
		PatchesSent:         t.patchesSent.Load(),
		TickDuration:        t.tickDurationMillis.Load(),
		EffectsApplied:      t.effectsApplied.Load(),
		EffectsRejected:     t.effectsRejected.Load(),
		OutOfHealth:         t.outOfHealth.Load(),
		DeathsFinished:      t.deathsFinished.Load(),
		AbilitiesCanceled:   t.abilitiesCanceled.Load(),
		KeyframeJournalSize: t.keyframeJournalSize.Load(),
		KeyframeOldest:      t.keyframeOldest.Load(),
		KeyframeNewest:      t.keyframeNewest.Load(),
		KeyframeRequests:    t.keyframeRequests.Load(),
		KeyframeNacks:       t.keyframeNacks.Load(),
		JournalDrops:        t.journalDrops.Load(),
		PersistFailures:     t.persistFailures.Load(),
	}
}
