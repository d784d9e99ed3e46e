package tryon

import (
	"fmt"

	"github.com/rs/zerolog"

	"lehengaTryOn/internal/events"
)

// State is a step of the per-request state machine.
type State string

const (
	StateIdle                    State = "idle"
	StateIntaking                State = "intaking"
	StateSynthesizingInstruction State = "synthesizing_instruction"
	StateSynthesizingImage       State = "synthesizing_image"
	StateDelivering              State = "delivering"
	StateDone                    State = "done"
	StateFailed                  State = "failed"
)

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool { return s == StateDone || s == StateFailed }

// forward lists the only non-failure transitions. Done straight from instruction
// synthesis is the skipped path.
var forward = map[State][]State{
	StateIdle:                    {StateIntaking},
	StateIntaking:                {StateSynthesizingInstruction},
	StateSynthesizingInstruction: {StateSynthesizingImage, StateDone},
	StateSynthesizingImage:       {StateDelivering},
	StateDelivering:              {StateDone},
}

func allowed(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return from != StateIdle
	}
	for _, next := range forward[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition is reported to observers on every state change.
type Transition struct {
	RequestID string
	From      State
	To        State
	Skipped   bool
	Err       *StageError
}

// Observer receives transitions. Implementations must not block.
type Observer interface {
	Observe(Transition)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Transition)

// Observe calls f.
func (f ObserverFunc) Observe(t Transition) { f(t) }

// BrokerObserver republishes transitions as progress events.
func BrokerObserver(b *events.Broker) Observer {
	return ObserverFunc(func(t Transition) {
		evt := events.Event{RequestID: t.RequestID, State: string(t.To)}
		switch {
		case t.Err != nil:
			evt.Kind = string(t.Err.Kind)
			evt.Message = t.Err.Message()
		case t.Skipped:
			evt.Kind = string(KindImageSkipped)
			evt.Message = skippedMessage
		}
		b.Publish(evt)
	})
}

type tracker struct {
	requestID string
	state     State
	trail     []State
	observer  Observer
	logger    zerolog.Logger
}

func newTracker(requestID string, observer Observer, logger zerolog.Logger) *tracker {
	return &tracker{
		requestID: requestID,
		state:     StateIdle,
		trail:     []State{StateIdle},
		observer:  observer,
		logger:    logger,
	}
}

func (t *tracker) advance(to State) {
	t.move(Transition{To: to})
}

func (t *tracker) skip() {
	t.move(Transition{To: StateDone, Skipped: true})
}

func (t *tracker) fail(err *StageError) {
	t.move(Transition{To: StateFailed, Err: err})
}

func (t *tracker) move(tr Transition) {
	if !allowed(t.state, tr.To) {
		panic(fmt.Sprintf("tryon: illegal transition %s -> %s", t.state, tr.To))
	}
	tr.RequestID = t.requestID
	tr.From = t.state
	t.state = tr.To
	t.trail = append(t.trail, tr.To)

	evt := t.logger.Info()
	if tr.Err != nil {
		evt = t.logger.Warn().Str("kind", string(tr.Err.Kind)).Bool("timeout", tr.Err.Timeout).Err(tr.Err.Err)
	}
	evt.Str("from", string(tr.From)).
		Str("state", string(tr.To)).
		Bool("skipped", tr.Skipped).
		Msg("tryon transition")

	if t.observer != nil {
		t.observer.Observe(tr)
	}
}
