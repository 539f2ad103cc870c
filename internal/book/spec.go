// Package book loads phonebooks from YAML and compiles them into the
// immutable form the evaluator runs.
//
// A phonebook describes a finite-state interactive story: states with sounds
// and light levels, and transitions between them triggered by dial input,
// sound completion, or timeouts. The YAML spec types in this file mirror the
// on-disk format; [Compile] turns a validated [Spec] into a [Book].
package book

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Spec is the top-level YAML document of a phonebook.
type Spec struct {
	// Initial names the state the story starts in. When empty, the
	// lexicographically first state id is used.
	Initial string `yaml:"initial"`

	// Terminal optionally marks a state as terminal by id, in addition to
	// the conventional "terminal" id and states without outgoing
	// transitions.
	Terminal string `yaml:"terminal"`

	// States maps state ids to their specification. A nil value is a state
	// with no sounds and no lights.
	States map[string]*StateSpec `yaml:"states"`

	// Sounds maps sound ids to their specification.
	Sounds map[string]*SoundSpec `yaml:"sounds"`

	// Transitions maps source state ids to their outgoing transitions. The
	// pseudo-state id "any" supplies defaults merged into every state's
	// table, with state-specific entries winning.
	Transitions map[string]*TransitionSpec `yaml:"transitions"`
}

// StateSpec describes a single state of the story.
type StateSpec struct {
	// Name is an optional display name, defaulting to the state id.
	Name string `yaml:"name"`

	// Sounds lists ids of sounds to play on entry, order-preserving.
	Sounds []string `yaml:"sounds"`

	// Speech is inline text spoken on entry, as an alternative to
	// referenced sounds. It may contain the same markers as sound speech.
	Speech string `yaml:"speech"`

	// Ring requests the hardware bell for this many seconds on entry.
	Ring float64 `yaml:"ring"`

	// Lights maps light names to levels in range 0..100. The levels are
	// opaque to the runtime and forwarded to the light sink as-is.
	Lights map[string]int `yaml:"lights"`

	// Terminal explicitly marks this state terminal.
	Terminal bool `yaml:"terminal"`
}

// SoundSpec describes a playable unit: a media file or a speech string,
// never both.
type SoundSpec struct {
	// File is a path to a media file, relative to the phonebook file, or a
	// data URI decoded at load time.
	File string `yaml:"file"`

	// Speech is text for the speech synthesizer. It may embed <ring>
	// markers, *emphasis* and dot sequences for pauses.
	Speech string `yaml:"speech"`

	// Loop repeats the sound until the state is left.
	Loop bool `yaml:"loop"`

	// Volume scales playback volume, 1.0 when unset.
	Volume *float64 `yaml:"volume"`

	// StartOffset skips this many seconds into the sound on first entry.
	StartOffset float64 `yaml:"start_offset"`

	// Backoff rewinds playback this many seconds when the sound is
	// re-entered while still loaded. When unset, re-entry rewinds to the
	// start offset.
	Backoff *float64 `yaml:"backoff"`
}

// TimeoutSpec is a transition taken once a number of seconds have elapsed
// since state entry.
type TimeoutSpec struct {
	Seconds float64 `yaml:"seconds"`
	To      string  `yaml:"to"`
}

// TransitionSpec is the outgoing transition table of one state.
//
// Beyond the well-known trigger keys, arbitrary reason keys mapping to a
// target state id are accepted and reserved for user-defined events.
type TransitionSpec struct {
	// End is taken when all non-looping sounds of the state have completed
	// for the first time since entry.
	End string

	// Timeout is taken once Timeout.Seconds have elapsed since entry.
	Timeout *TimeoutSpec

	// Dial maps dialed digits "0".."9" to target states.
	Dial map[string]string

	// PickUp and HangUp are taken on the corresponding hook events.
	PickUp string
	HangUp string

	// Custom holds user-defined reason keys against target states.
	Custom map[string]string
}

// UnmarshalYAML decodes a transition table, accepting the well-known trigger
// keys and collecting everything else into Custom. A hand-rolled decoder is
// used because digit keys under dial may be written unquoted and because
// arbitrary reason keys must not be rejected.
func (t *TransitionSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("transition table must be a mapping, got %s", nodeKind(node))
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		switch key.Value {
		case "end":
			if err := value.Decode(&t.End); err != nil {
				return fmt.Errorf("end: %w", err)
			}
		case "timeout":
			t.Timeout = &TimeoutSpec{}
			if err := value.Decode(t.Timeout); err != nil {
				return fmt.Errorf("timeout: %w", err)
			}
		case "dial":
			dial, err := decodeStringMap(value)
			if err != nil {
				return fmt.Errorf("dial: %w", err)
			}
			t.Dial = dial
		case "pick_up":
			if err := value.Decode(&t.PickUp); err != nil {
				return fmt.Errorf("pick_up: %w", err)
			}
		case "hang_up":
			if err := value.Decode(&t.HangUp); err != nil {
				return fmt.Errorf("hang_up: %w", err)
			}
		default:
			var target string
			if err := value.Decode(&target); err != nil {
				return fmt.Errorf("transition %q: %w", key.Value, err)
			}
			if t.Custom == nil {
				t.Custom = make(map[string]string)
			}
			t.Custom[key.Value] = target
		}
	}
	return nil
}

// decodeStringMap reads a YAML mapping into a string map using the raw key
// scalars, so that unquoted digits like `0:` keep their textual form.
func decodeStringMap(node *yaml.Node) (map[string]string, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("expected a mapping, got %s", nodeKind(node))
	}
	m := make(map[string]string, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var target string
		if err := node.Content[i+1].Decode(&target); err != nil {
			return nil, fmt.Errorf("target of %q: %w", node.Content[i].Value, err)
		}
		m[node.Content[i].Value] = target
	}
	return m, nil
}

func nodeKind(node *yaml.Node) string {
	switch node.Kind {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "unknown"
	}
}
