package agent

import (
	"github.com/harun/kosmo/pkg/errclass"
	"github.com/harun/kosmo/pkg/trace"
	"github.com/rs/zerolog"
)

// State is a state of the agent loop
type State string

const (
	StateIdle      State = "idle"
	StateReasoning State = "reasoning"
	StateActing    State = "acting"
	StateObserving State = "observing"
	StateConcluded State = "concluded"
	StateAborted   State = "aborted"
)

// Event describes one state transition. Step and Record are copies; changing
// them has no effect on the query.
//
// Every reasoning pass is entered exactly once. The first pass and passes
// after an observation are entered with a nil Step. A pass that ends in a
// thought or in a failed reasoning step moves REASONING to REASONING with that
// step attached, and the same event enters the next pass.
type Event struct {
	QueryID   string
	SessionID string
	From      State
	To        State
	// Step is the step the transition belongs to, nil when entering reasoning
	// from IDLE or OBSERVING.
	Step *trace.Step
	// Record is set when the transition follows a classified failure.
	Record *errclass.Record
	// Answer is set on the terminal transition.
	Answer string
}

// Listener receives state transitions. It is called synchronously on the
// query goroutine; a panicking listener is logged and ignored.
type Listener func(Event)

func notify(listener Listener, logger zerolog.Logger, event Event) {
	if listener == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Warn().Interface("panic", r).Str("to", string(event.To)).Msg("Progress listener panicked")
		}
	}()
	listener(event)
}
