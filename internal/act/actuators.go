package act

import (
	"errors"
	"sync"
	"time"

	"github.com/fernspielapparat/fernspielapparat/internal/act/sound"
	"github.com/fernspielapparat/fernspielapparat/internal/book"
)

// Actuators schedules the acts demanded by the current state: on state
// entry it cancels everything still active from the previous state and
// activates the new set in parallel. It owns no state across transitions
// other than the active handle set.
//
// Actuators implements [sound.RingSink], so <ring> markers in synthesized
// speech turn into bell acts at the right playback offsets.
type Actuators struct {
	player *sound.Player
	ringer Ringer
	lights LightSink

	// mu guards active: the tick thread transitions and updates, while
	// speech ring cues arrive from playback workers.
	mu     sync.Mutex
	active []Act
}

// New creates the scheduler. Attach the playback backend with
// [Actuators.AttachPlayer] before the first transition; the two are created
// in two steps because the player delivers ring cues back to the scheduler.
func New(ringer Ringer, lights LightSink) *Actuators {
	if ringer == nil {
		ringer = NopRinger{}
	}
	if lights == nil {
		lights = NopLights{}
	}
	return &Actuators{
		ringer: ringer,
		lights: lights,
	}
}

// AttachPlayer wires the playback backend.
func (a *Actuators) AttachPlayer(player *sound.Player) {
	a.player = player
}

// Transition cancels every still-active act, then activates the acts of the
// next state: the audio group, the bell, and the light levels.
func (a *Actuators) Transition(st *book.State) error {
	err := a.cancelActive()

	var next []Act
	if len(st.Sounds) > 0 && a.player != nil {
		next = append(next, NewAudio(a.player, st.Sounds))
	}
	if st.Ring > 0 {
		next = append(next, NewRing(a.ringer, st.Ring))
	}
	if len(st.Lights) > 0 {
		next = append(next, NewLights(a.lights, st.Lights))
	}

	a.mu.Lock()
	a.active = next
	a.mu.Unlock()
	return err
}

// Update advances every active act. Act errors are collected, never
// propagated as transitions.
func (a *Actuators) Update() error {
	a.mu.Lock()
	active := make([]Act, len(a.active))
	copy(active, a.active)
	a.mu.Unlock()

	var errs []error
	for _, act := range active {
		if err := act.Update(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Done reports whether every active act has completed. A state without acts
// is immediately done.
func (a *Actuators) Done() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, act := range a.active {
		if !act.Done() {
			return false
		}
	}
	return true
}

// Reset cancels all activity and forgets playback progress, so the next
// entered state starts its sounds from the beginning.
func (a *Actuators) Reset() error {
	err := a.cancelActive()
	if a.player != nil {
		a.player.ResetProgress()
	}
	return err
}

// RequestRing implements [sound.RingSink]: a bell cue from a speech marker
// joins the active acts of the current state.
func (a *Actuators) RequestRing(duration time.Duration) {
	ring := NewRing(a.ringer, duration)
	a.mu.Lock()
	a.active = append(a.active, ring)
	a.mu.Unlock()
}

func (a *Actuators) cancelActive() error {
	a.mu.Lock()
	active := a.active
	a.active = nil
	a.mu.Unlock()

	var errs []error
	for _, act := range active {
		if err := act.Cancel(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
