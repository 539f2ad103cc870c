package book

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/fernspielapparat/fernspielapparat/internal/sense"
)

// Book is a compiled phonebook. It is immutable after [Compile]; the
// evaluator owns a Book for the duration of a run and replacement installs a
// new Book by reference swap.
type Book struct {
	initial string
	states  map[string]*State
	order   []string

	// tempDir holds media decoded from data URIs, removed by Close.
	tempDir string
}

// State is a compiled node of the story graph.
type State struct {
	// ID is the state id from the spec, unique within the book.
	ID string

	// Name is the display name, defaulting to ID.
	Name string

	// Sounds are resolved in declaration order, inline speech last.
	Sounds []*Sound

	// Ring requests the hardware bell for this long on entry.
	Ring time.Duration

	// Lights are forwarded to the light sink on entry.
	Lights map[string]int

	// Terminal marks a state that halts evaluation until reset.
	Terminal bool

	// Inputs maps dial and hook inputs to target state ids.
	Inputs map[sense.Input]string

	// End is the target taken when all non-looping sounds completed, empty
	// when undefined.
	End string

	// Timeout is nil when the state has no timeout transition.
	Timeout *Timeout

	// Custom holds user-defined reason keys against target state ids.
	Custom map[string]string
}

// Timeout is a compiled timeout transition.
type Timeout struct {
	// After is the duration since state entry.
	After time.Duration

	// Seconds preserves the spec value for event reporting.
	Seconds float64

	// To is the target state id.
	To string
}

// Sound is a compiled playable unit.
type Sound struct {
	// ID is the sound id from the spec; synthetic for inline speech.
	ID string

	// File is the resolved media path. Empty for speech sounds.
	File string

	// Speech is the text to synthesize. Empty for file sounds.
	Speech string

	// Loop repeats the sound until cancelled and excludes it from
	// completion.
	Loop bool

	// Volume scales playback, 1.0 by default.
	Volume float64

	// StartOffset skips into the sound on first entry.
	StartOffset time.Duration

	// Backoff rewinds this far on re-entry. Zero means rewind to the start
	// offset.
	Backoff time.Duration
}

// anyStateID is the pseudo-state whose transitions are merged into every
// state's table.
const anyStateID = "any"

// terminalStateID marks a state terminal by convention when used as its id.
const terminalStateID = "terminal"

// Compile validates a spec and resolves it into an immutable [Book]. Every
// transition target must reference a declared state and dial keys must be
// single digits; all violations are reported in one joined error.
func Compile(spec *Spec) (*Book, error) {
	if len(spec.States) == 0 {
		return nil, errors.New("phonebook declares no states")
	}

	order := make([]string, 0, len(spec.States))
	for id := range spec.States {
		order = append(order, id)
	}
	slices.Sort(order)

	initial := spec.Initial
	if initial == "" {
		initial = order[0]
	}

	var errs []error
	if _, ok := spec.States[initial]; !ok {
		errs = append(errs, fmt.Errorf("initial state %q is undefined", initial))
	}
	if spec.Terminal != "" {
		if _, ok := spec.States[spec.Terminal]; !ok {
			errs = append(errs, fmt.Errorf("terminal state %q is undefined", spec.Terminal))
		}
	}

	anyTable := spec.Transitions[anyStateID]

	states := make(map[string]*State, len(spec.States))
	for _, id := range order {
		st, err := compileState(spec, id, mergeWithAny(spec.Transitions[id], anyTable))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		states[id] = st
	}

	// Targets may only reference declared states.
	for _, id := range order {
		st := states[id]
		if st == nil {
			continue
		}
		for input, target := range st.Inputs {
			if _, ok := spec.States[target]; !ok {
				errs = append(errs, fmt.Errorf("state %q: transition on %q mentions unknown state %q", id, input, target))
			}
		}
		if st.End != "" {
			if _, ok := spec.States[st.End]; !ok {
				errs = append(errs, fmt.Errorf("state %q: end transition mentions unknown state %q", id, st.End))
			}
		}
		if st.Timeout != nil {
			if _, ok := spec.States[st.Timeout.To]; !ok {
				errs = append(errs, fmt.Errorf("state %q: timeout transition mentions unknown state %q", id, st.Timeout.To))
			}
		}
		for reason, target := range st.Custom {
			if _, ok := spec.States[target]; !ok {
				errs = append(errs, fmt.Errorf("state %q: transition %q mentions unknown state %q", id, reason, target))
			}
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	return &Book{
		initial: initial,
		states:  states,
		order:   order,
	}, nil
}

func compileState(spec *Spec, id string, table *TransitionSpec) (*State, error) {
	ss := spec.States[id]
	if ss == nil {
		ss = &StateSpec{}
	}

	name := ss.Name
	if name == "" {
		name = id
	}

	st := &State{
		ID:     id,
		Name:   name,
		Lights: ss.Lights,
		Inputs: make(map[sense.Input]string),
		End:    table.End,
		Custom: table.Custom,
	}

	if ss.Ring < 0 {
		return nil, fmt.Errorf("state %q: negative ring time %v", id, ss.Ring)
	}
	st.Ring = secondsToDuration(ss.Ring)

	var errs []error
	for _, soundID := range ss.Sounds {
		ref, ok := spec.Sounds[soundID]
		if !ok {
			errs = append(errs, fmt.Errorf("state %q references unknown sound %q", id, soundID))
			continue
		}
		snd, err := compileSound(soundID, ref)
		if err != nil {
			errs = append(errs, fmt.Errorf("state %q: %w", id, err))
			continue
		}
		st.Sounds = append(st.Sounds, snd)
	}

	// Inline speech behaves like a trailing non-looping speech sound.
	if ss.Speech != "" {
		st.Sounds = append(st.Sounds, &Sound{
			ID:     id + "/speech",
			Speech: ss.Speech,
			Volume: 1.0,
		})
	}

	for digit, target := range table.Dial {
		if len(digit) != 1 || digit[0] < '0' || digit[0] > '9' {
			errs = append(errs, fmt.Errorf("state %q: dial key %q is not a digit in range 0-9", id, digit))
			continue
		}
		in, err := sense.Digit(int(digit[0] - '0'))
		if err != nil {
			errs = append(errs, fmt.Errorf("state %q: %w", id, err))
			continue
		}
		st.Inputs[in] = target
	}
	if table.PickUp != "" {
		st.Inputs[sense.PickUp] = table.PickUp
	}
	if table.HangUp != "" {
		st.Inputs[sense.HangUp] = table.HangUp
	}

	if table.Timeout != nil {
		if table.Timeout.Seconds < 0 {
			errs = append(errs, fmt.Errorf("state %q: negative timeout %v", id, table.Timeout.Seconds))
		} else {
			st.Timeout = &Timeout{
				After:   secondsToDuration(table.Timeout.Seconds),
				Seconds: table.Timeout.Seconds,
				To:      table.Timeout.To,
			}
		}
	}

	// Terminal by explicit marker, by convention id, or by the absence of
	// any outgoing transition.
	st.Terminal = ss.Terminal ||
		spec.Terminal == id ||
		id == terminalStateID ||
		!st.hasOutgoing()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *State) hasOutgoing() bool {
	return len(s.Inputs) > 0 || s.End != "" || s.Timeout != nil || len(s.Custom) > 0
}

func compileSound(id string, spec *SoundSpec) (*Sound, error) {
	if spec == nil {
		return nil, fmt.Errorf("sound %q is empty", id)
	}
	if spec.File != "" && spec.Speech != "" {
		return nil, fmt.Errorf("sound %q declares both file and speech, exactly one is allowed", id)
	}
	if spec.File == "" && spec.Speech == "" {
		return nil, fmt.Errorf("sound %q declares neither file nor speech", id)
	}
	if spec.StartOffset < 0 {
		return nil, fmt.Errorf("sound %q: negative start offset %v", id, spec.StartOffset)
	}

	volume := 1.0
	if spec.Volume != nil {
		volume = *spec.Volume
		if volume < 0 {
			return nil, fmt.Errorf("sound %q: negative volume %v", id, volume)
		}
	}

	var backoff time.Duration
	if spec.Backoff != nil {
		if *spec.Backoff < 0 {
			return nil, fmt.Errorf("sound %q: negative backoff %v", id, *spec.Backoff)
		}
		backoff = secondsToDuration(*spec.Backoff)
	}

	return &Sound{
		ID:          id,
		File:        spec.File,
		Speech:      spec.Speech,
		Loop:        spec.Loop,
		Volume:      volume,
		StartOffset: secondsToDuration(spec.StartOffset),
		Backoff:     backoff,
	}, nil
}

// mergeWithAny overlays the pseudo-state "any" table under a state's own
// table. State-specific entries win.
func mergeWithAny(base, any *TransitionSpec) *TransitionSpec {
	if base == nil {
		base = &TransitionSpec{}
	}
	if any == nil {
		return base
	}

	merged := &TransitionSpec{
		End:     base.End,
		Timeout: base.Timeout,
		PickUp:  base.PickUp,
		HangUp:  base.HangUp,
	}
	if merged.End == "" {
		merged.End = any.End
	}
	if merged.Timeout == nil {
		merged.Timeout = any.Timeout
	}
	if merged.PickUp == "" {
		merged.PickUp = any.PickUp
	}
	if merged.HangUp == "" {
		merged.HangUp = any.HangUp
	}

	if len(base.Dial) > 0 || len(any.Dial) > 0 {
		merged.Dial = make(map[string]string, len(base.Dial)+len(any.Dial))
		for k, v := range any.Dial {
			merged.Dial[k] = v
		}
		for k, v := range base.Dial {
			merged.Dial[k] = v
		}
	}
	if len(base.Custom) > 0 || len(any.Custom) > 0 {
		merged.Custom = make(map[string]string, len(base.Custom)+len(any.Custom))
		for k, v := range any.Custom {
			merged.Custom[k] = v
		}
		for k, v := range base.Custom {
			merged.Custom[k] = v
		}
	}
	return merged
}

func secondsToDuration(s float64) time.Duration {
	// ms precision is enough for story timing.
	return time.Duration(s*1000) * time.Millisecond
}

// Initial returns the id of the state the story starts in.
func (b *Book) Initial() string {
	return b.initial
}

// State returns the state with the given id, or nil when undefined.
func (b *Book) State(id string) *State {
	return b.states[id]
}

// StateIDs returns all state ids in lexicographic order.
func (b *Book) StateIDs() []string {
	return slices.Clone(b.order)
}

// Len returns the number of states.
func (b *Book) Len() int {
	return len(b.states)
}

// Close removes media decoded from data URIs at load time. Safe to call on
// books without decoded media and more than once.
func (b *Book) Close() error {
	if b.tempDir == "" {
		return nil
	}
	dir := b.tempDir
	b.tempDir = ""
	return os.RemoveAll(dir)
}

// Passive is the built-in book evaluated when the runtime is started for
// remote control only: a single silent state that never finishes, waiting
// for a phonebook upload.
func Passive() *Book {
	id := "passive"
	return &Book{
		initial: id,
		order:   []string{id},
		states: map[string]*State{
			id: {
				ID:     id,
				Name:   id,
				Inputs: map[sense.Input]string{},
				// A self-transition keeps the state from counting as
				// terminal, so evaluation idles instead of finishing.
				Custom: map[string]string{"noop": id},
			},
		},
	}
}
