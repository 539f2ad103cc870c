// Package machine evaluates a compiled phonebook in real time.
//
// The evaluator is single-threaded and owns all mutable story state:
// current state, entry timestamp and completion bookkeeping. Inputs reach
// it through the tick loop, actuator activity is polled, never awaited, and
// at most one transition happens per tick.
package machine

import (
	"log/slog"
	"time"

	"github.com/fernspielapparat/fernspielapparat/internal/book"
	"github.com/fernspielapparat/fernspielapparat/internal/sense"
)

// Actuators is the scheduler the evaluator drives. Implemented by
// [github.com/fernspielapparat/fernspielapparat/internal/act.Actuators].
type Actuators interface {
	// Transition cancels the previous state's acts and activates the
	// given state's.
	Transition(st *book.State) error

	// Update advances active acts. Called once per tick.
	Update() error

	// Done reports whether every non-looping act completed.
	Done() bool

	// Reset cancels all activity and clears playback progress.
	Reset() error
}

// Machine interprets one phonebook at a time.
type Machine struct {
	book *book.Book
	acts Actuators
	emit func(Event)

	current   *book.State
	enteredAt time.Time

	// completionSeen latches the end signal: end fires at most once per
	// state entry.
	completionSeen bool

	// finishSeen latches the finish event of a terminal state.
	finishSeen bool
}

// New creates an evaluator for b. No state is entered yet; call
// [Machine.Start] to begin evaluation. emit receives events synchronously
// on the tick thread and must not block.
func New(b *book.Book, acts Actuators, emit func(Event)) *Machine {
	if emit == nil {
		emit = func(Event) {}
	}
	return &Machine{
		book: b,
		acts: acts,
		emit: emit,
	}
}

// Start enters the initial state and emits [Start]. Previously active
// actuators are cancelled first, so no audio of an earlier run overlaps the
// fresh start.
func (m *Machine) Start(now time.Time) {
	if err := m.acts.Reset(); err != nil {
		slog.Warn("failed to reset actuators, continuing", "err", err)
	}
	m.enter(m.book.State(m.book.Initial()), now)
	m.emit(Start{Initial: m.current.ID})
}

// Reset starts the current phonebook over from its initial state.
func (m *Machine) Reset(now time.Time) {
	m.Start(now)
}

// Swap atomically replaces the phonebook and starts evaluating the new one
// from its initial state. The previous book is returned so the caller can
// release its resources; the swap is never observable half-applied because
// the evaluator holds the only reference.
func (m *Machine) Swap(b *book.Book, now time.Time) (previous *book.Book) {
	previous = m.book
	m.book = b
	m.Start(now)
	return previous
}

// Book returns the currently evaluated phonebook.
func (m *Machine) Book() *book.Book {
	return m.book
}

// Terminal reports whether evaluation has halted in a terminal state.
func (m *Machine) Terminal() bool {
	return m.current != nil && m.current.Terminal
}

// CurrentState returns the id of the current state, or "" before Start.
func (m *Machine) CurrentState() string {
	if m.current == nil {
		return ""
	}
	return m.current.ID
}

// Tick advances the evaluator by at most one transition. Checks run in
// fixed order: explicit inputs win over the end signal, which wins over the
// timeout. Among the drained inputs, the first with a matching transition
// is taken and the rest are consumed.
func (m *Machine) Tick(now time.Time, inputs []sense.Event) {
	if m.current == nil {
		return
	}

	if err := m.acts.Update(); err != nil {
		slog.Warn("actuator update failed", "state", m.current.ID, "err", err)
	}

	if m.current.Terminal {
		// Halted: only the finish event is still outstanding, waiting for
		// the terminal state's actuators to complete naturally.
		if !m.finishSeen && m.acts.Done() {
			m.finishSeen = true
			m.emit(Finish{Terminal: m.current.ID})
		}
		return
	}

	for _, ev := range inputs {
		target, ok := m.current.Inputs[ev.Input]
		if !ok {
			continue
		}
		m.transition(target, DialReason(ev.Input), now)
		return
	}

	if !m.completionSeen && m.acts.Done() {
		m.completionSeen = true
		if m.current.End != "" {
			m.transition(m.current.End, EndReason(), now)
			return
		}
	}

	if t := m.current.Timeout; t != nil && now.Sub(m.enteredAt) >= t.After {
		m.transition(t.To, TimeoutReason(t.Seconds), now)
	}
}

func (m *Machine) transition(target string, reason Reason, now time.Time) {
	next := m.book.State(target)
	if next == nil {
		// Unreachable for compiled books, which validate all targets.
		slog.Error("transition to unknown state ignored", "from", m.current.ID, "to", target)
		return
	}

	from := m.current.ID
	m.enter(next, now)
	m.emit(Transition{Reason: reason, From: from, To: next.ID})
}

// enter makes st current: the previous state's acts are cancelled by the
// scheduler before the new state's acts start, and completion bookkeeping
// resets.
func (m *Machine) enter(st *book.State, now time.Time) {
	m.current = st
	m.enteredAt = now
	m.completionSeen = false
	m.finishSeen = false

	if err := m.acts.Transition(st); err != nil {
		// Actuator errors never propagate as transitions; completion
		// still fires through the scheduler.
		slog.Warn("actuator transition failed", "state", st.ID, "err", err)
	}

	slog.Debug("entered state", "state", st.ID, "terminal", st.Terminal)
}
