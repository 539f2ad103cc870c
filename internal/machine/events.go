package machine

import "github.com/fernspielapparat/fernspielapparat/internal/sense"

// Event is something observable that happened to the evaluator. Events are
// delivered to responders in emission order.
type Event interface {
	event()
}

// Start is emitted when a phonebook begins evaluating, both on first load
// and after a reset or replacement.
type Start struct {
	// Initial is the id of the entered initial state.
	Initial string
}

// Transition is emitted when the evaluator moves between states.
type Transition struct {
	Reason   Reason
	From, To string
}

// Finish is emitted once a terminal state's actuators have naturally
// completed. The evaluator then halts until reset or replaced.
type Finish struct {
	// Terminal is the id of the reached terminal state.
	Terminal string
}

func (Start) event()      {}
func (Transition) event() {}
func (Finish) event()     {}

// ReasonKind discriminates transition reasons.
type ReasonKind int

const (
	// ReasonDial is input from the dial, the hook, the keyboard, or a
	// remote dial command.
	ReasonDial ReasonKind = iota

	// ReasonEnd is the completion of all non-looping sounds.
	ReasonEnd

	// ReasonTimeout is elapsed time since state entry.
	ReasonTimeout
)

// Reason is the trigger of a [Transition].
type Reason struct {
	Kind ReasonKind

	// Dial is the wire form of the input for [ReasonDial]: "0".."9", "p"
	// or "h".
	Dial string

	// Seconds is the configured timeout for [ReasonTimeout].
	Seconds float64
}

// DialReason is the reason for an input-triggered transition.
func DialReason(in sense.Input) Reason {
	return Reason{Kind: ReasonDial, Dial: in.String()}
}

// EndReason is the reason for a completion-triggered transition.
func EndReason() Reason {
	return Reason{Kind: ReasonEnd}
}

// TimeoutReason is the reason for a timeout-triggered transition.
func TimeoutReason(seconds float64) Reason {
	return Reason{Kind: ReasonTimeout, Seconds: seconds}
}
