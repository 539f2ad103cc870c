package speech_test

import (
	"testing"
	"time"

	"github.com/fernspielapparat/fernspielapparat/internal/speech"
)

func TestParsePlainText(t *testing.T) {
	t.Parallel()

	script := speech.Parse("Hello there.")
	segs := script.Segments()
	if len(segs) != 1 {
		t.Fatalf("got %d segments, want 1: %+v", len(segs), segs)
	}
	if segs[0].Kind != speech.Text || segs[0].Text != "Hello there." {
		t.Errorf("unexpected segment: %+v", segs[0])
	}
	if got, want := script.SynthText(), "Hello there."; got != want {
		t.Errorf("SynthText() = %q, want %q", got, want)
	}
}

func TestRingMarkerBecomesCue(t *testing.T) {
	t.Parallel()

	script := speech.Parse("Listen<ring>now")

	if got, want := script.SynthText(), "Listennow"; got != want {
		t.Errorf("SynthText() = %q, want %q", got, want)
	}

	cues := script.Rings()
	if len(cues) != 1 {
		t.Fatalf("got %d cues, want 1", len(cues))
	}
	// "Listen" is six characters of preceding speech.
	if got, want := cues[0].Offset, 6*speech.PerCharacter; got != want {
		t.Errorf("cue offset = %v, want %v", got, want)
	}
	if got, want := cues[0].Duration, speech.RingGap; got != want {
		t.Errorf("cue duration = %v, want %v", got, want)
	}
}

func TestDotSequencesPause(t *testing.T) {
	t.Parallel()

	script := speech.Parse("Three.. Two... One.")

	var pauses []time.Duration
	for _, seg := range script.Segments() {
		if seg.Kind == speech.Pause {
			pauses = append(pauses, seg.Gap)
		}
	}
	want := []time.Duration{1 * speech.PauseUnit, 2 * speech.PauseUnit}
	if len(pauses) != len(want) {
		t.Fatalf("got %d pauses, want %d", len(pauses), len(want))
	}
	for i := range want {
		if pauses[i] != want[i] {
			t.Errorf("pause %d = %v, want %v", i, pauses[i], want[i])
		}
	}

	// The trailing single dot is an ordinary sentence end, not a pause.
	if got, want := script.SynthText(), "Three. Two. One."; got != want {
		t.Errorf("SynthText() = %q, want %q", got, want)
	}
}

func TestEmphasisMarks(t *testing.T) {
	t.Parallel()

	script := speech.Parse("a *very* important call")

	var emphasized string
	for _, seg := range script.Segments() {
		if seg.Kind == speech.Text && seg.Emphasis {
			emphasized += seg.Text
		}
	}
	if emphasized != "very" {
		t.Errorf("emphasized text = %q, want %q", emphasized, "very")
	}
	if got, want := script.SynthText(), "a very important call"; got != want {
		t.Errorf("SynthText() = %q, want %q", got, want)
	}
}

func TestEstimatedDurationCombinesTextAndGaps(t *testing.T) {
	t.Parallel()

	script := speech.Parse("abc..<ring>")

	// "abc." is four characters, one extra dot pauses one unit, then the
	// ring gap.
	want := 4*speech.PerCharacter + speech.PauseUnit + speech.RingGap
	if got := script.EstimatedDuration(); got != want {
		t.Errorf("EstimatedDuration() = %v, want %v", got, want)
	}
}

func TestRingOffsetSkipsPrecedingGaps(t *testing.T) {
	t.Parallel()

	script := speech.Parse("ab..<ring>")

	cues := script.Rings()
	if len(cues) != 1 {
		t.Fatalf("got %d cues, want 1", len(cues))
	}
	// "ab." is three characters plus one pause unit for the extra dot.
	want := 3*speech.PerCharacter + speech.PauseUnit
	if cues[0].Offset != want {
		t.Errorf("cue offset = %v, want %v", cues[0].Offset, want)
	}
}
