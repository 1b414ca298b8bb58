package metrics

import "sync/atomic"

// engineStats holds run counters for the automation engine. Kept simple and
// thread-safe for use from change-feed callbacks and exposition.
type engineStats struct {
	eventsSeen     uint64
	runsDispatched uint64
	runsCompleted  uint64
	runsFailed     uint64
	matchesSkipped uint64
}

var eng engineStats

// IncEventSeen counts one change-feed event delivered to the engine.
func IncEventSeen() { atomic.AddUint64(&eng.eventsSeen, 1) }

// IncRunDispatched counts one run whose conditions matched and whose pipeline
// was started.
func IncRunDispatched() { atomic.AddUint64(&eng.runsDispatched, 1) }

// IncRunCompleted counts one run that resolved with all actions successful.
func IncRunCompleted() { atomic.AddUint64(&eng.runsCompleted, 1) }

// IncRunFailed counts one run that resolved with at least one failure.
func IncRunFailed() { atomic.AddUint64(&eng.runsFailed, 1) }

// IncMatchSkipped counts one event that reached an automation but did not
// satisfy its conditions.
func IncMatchSkipped() { atomic.AddUint64(&eng.matchesSkipped, 1) }

// EngineSnapshot returns a copy of the current counters.
func EngineSnapshot() map[string]uint64 {
	return map[string]uint64{
		"events_seen":     atomic.LoadUint64(&eng.eventsSeen),
		"runs_dispatched": atomic.LoadUint64(&eng.runsDispatched),
		"runs_completed":  atomic.LoadUint64(&eng.runsCompleted),
		"runs_failed":     atomic.LoadUint64(&eng.runsFailed),
		"matches_skipped": atomic.LoadUint64(&eng.matchesSkipped),
	}
}
