package alert

import (
	"github.com/rs/zerolog"
)

// EventKind names a latch transition.
type EventKind int

const (
	FloorTripped EventKind = iota
	FloorRecovered
	CeilingTripped
	CeilingRecovered
)

// String renders the transition for logs.
func (k EventKind) String() string {
	switch k {
	case FloorTripped:
		return "floor_tripped"
	case FloorRecovered:
		return "floor_recovered"
	case CeilingTripped:
		return "ceiling_tripped"
	case CeilingRecovered:
		return "ceiling_recovered"
	default:
		return "unknown"
	}
}

// Event is one notification decision. Broadcast events use the global
// thresholds and shared latch; individual events use the recipient's own.
type Event struct {
	RecipientID int64
	Kind        EventKind
	Threshold   float64
	Broadcast   bool
}

// Target is one individual recipient as seen this cycle. Inactive
// targets are skipped but keep their latch; targets absent from the
// evaluation lose their latch entirely.
type Target struct {
	ID      int64
	Floor   float64
	Ceiling float64
	Expiry  int64
	Active  bool
}

// Broadcast is the pooled audience sharing the global thresholds and a
// single latch pair.
type Broadcast struct {
	IDs     []int64
	Floor   float64
	Ceiling float64
}

// Input is everything one evaluation needs.
type Input struct {
	RateMPS     float64
	Individuals []Target
	Broadcast   Broadcast
}

// fingerprint captures the configuration a latch was built under. New
// thresholds or a renewed expiry invalidate the latch so a recipient
// never receives a recovery for an alert from before the change.
type fingerprint struct {
	floor   float64
	ceiling float64
	expiry  int64
}

type latch struct {
	floorTripped   bool
	ceilingTripped bool
	fp             fingerprint
}

// Engine is the hysteresis state machine. Evaluate is decision-only: it
// mutates latch state and returns the notifications to send, but
// performs no IO, which keeps the transitions testable without a
// network. The engine is not safe for concurrent use; the poll cycle is
// its single caller.
type Engine struct {
	logger    zerolog.Logger
	latches   map[int64]*latch
	broadcast latch
}

// NewEngine constructs an alert engine with all latches clear. Latch
// state is process-local: after a restart the current condition is
// re-announced once, which is accepted behaviour.
func NewEngine(logger zerolog.Logger) *Engine {
	return &Engine{
		logger:  logger.With().Str("component", "alert_engine").Logger(),
		latches: make(map[int64]*latch),
	}
}

// Evaluate runs one cycle: individual recipients first, each against its
// own thresholds, then the broadcast pool against the global pair. At
// most one trip event fires per latch until the matching recovery
// clears it.
func (e *Engine) Evaluate(in Input) []Event {
	var events []Event

	seen := make(map[int64]struct{}, len(in.Individuals))
	for _, t := range in.Individuals {
		seen[t.ID] = struct{}{}

		if !t.Active {
			// Lapsed: leave the latch stale. A renewal changes the
			// fingerprint and clears it on the next active cycle.
			continue
		}

		st, ok := e.latches[t.ID]
		fp := fingerprint{floor: t.Floor, ceiling: t.Ceiling, expiry: t.Expiry}
		if !ok {
			st = &latch{fp: fp}
			e.latches[t.ID] = st
		} else if st.fp != fp {
			e.logger.Debug().Int64("recipient", t.ID).Msg("recipient configuration changed, clearing latches")
			st.floorTripped = false
			st.ceilingTripped = false
			st.fp = fp
		}

		events = append(events, transitions(st, in.RateMPS, t.Floor, t.Ceiling, t.ID, false)...)
	}

	// A recipient that disappeared has unsubscribed; its latch goes too.
	for id := range e.latches {
		if _, ok := seen[id]; !ok {
			delete(e.latches, id)
		}
	}

	if len(in.Broadcast.IDs) > 0 {
		fp := fingerprint{floor: in.Broadcast.Floor, ceiling: in.Broadcast.Ceiling}
		if e.broadcast.fp != fp {
			e.broadcast.floorTripped = false
			e.broadcast.ceilingTripped = false
			e.broadcast.fp = fp
		}

		for _, ev := range transitions(&e.broadcast, in.RateMPS, in.Broadcast.Floor, in.Broadcast.Ceiling, 0, true) {
			for _, id := range in.Broadcast.IDs {
				ev.RecipientID = id
				events = append(events, ev)
			}
		}
	}

	return events
}

// transitions applies both latch state machines to one rate sample.
// Floor trips strictly below and recovers at or above; the ceiling is
// symmetric with strictly above and at or below.
func transitions(st *latch, rate, floor, ceiling float64, id int64, broadcast bool) []Event {
	var events []Event

	switch {
	case rate < floor && !st.floorTripped:
		st.floorTripped = true
		events = append(events, Event{RecipientID: id, Kind: FloorTripped, Threshold: floor, Broadcast: broadcast})
	case rate >= floor && st.floorTripped:
		st.floorTripped = false
		events = append(events, Event{RecipientID: id, Kind: FloorRecovered, Threshold: floor, Broadcast: broadcast})
	}

	switch {
	case rate > ceiling && !st.ceilingTripped:
		st.ceilingTripped = true
		events = append(events, Event{RecipientID: id, Kind: CeilingTripped, Threshold: ceiling, Broadcast: broadcast})
	case rate <= ceiling && st.ceilingTripped:
		st.ceilingTripped = false
		events = append(events, Event{RecipientID: id, Kind: CeilingRecovered, Threshold: ceiling, Broadcast: broadcast})
	}

	return events
}
