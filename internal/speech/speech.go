// Package speech parses the marker syntax embedded in phonebook speech text
// and estimates speaking durations.
//
// Supported markers:
//
//   - <ring>        request one bell ring at this playback position
//   - *emphasized*  volume/prosody hint for the enclosed words
//   - .. ... ....   dot sequences beyond a sentence end pause playback,
//     one pause unit per extra dot
//
// Markers are extracted before synthesis so that bell timing does not depend
// on text-to-speech latency: ring cues fire at offsets estimated from the
// preceding text and gaps. The synthesized audio itself carries no silence
// for rings or pauses; their gaps count only towards those estimates.
package speech

import (
	"strings"
	"time"
)

const (
	// PerCharacter is the speaking time heuristic used when the actual
	// duration of synthesized audio is unknown, e.g. when substituting
	// silence for a missing synthesizer.
	PerCharacter = 80 * time.Millisecond

	// PauseUnit is the silence represented by one pause dot.
	PauseUnit = 500 * time.Millisecond

	// RingGap is the gap a <ring> marker adds to estimated offsets and
	// durations, matching the requested bell duration.
	RingGap = time.Second

	ringMarker = "<ring>"
)

// SegmentKind discriminates the parts of a parsed script.
type SegmentKind int

const (
	// Text is a run of speakable words.
	Text SegmentKind = iota

	// Pause is a silent gap from a dot sequence.
	Pause

	// Ring is a bell request with a matching silent gap.
	Ring
)

// Segment is one part of a parsed script.
type Segment struct {
	Kind SegmentKind

	// Text of the segment, empty for Pause and Ring.
	Text string

	// Emphasis marks text enclosed in asterisks.
	Emphasis bool

	// Gap is the silence of a Pause or Ring segment.
	Gap time.Duration
}

// RingCue is a bell request at an estimated offset into the speech.
type RingCue struct {
	// Offset from playback start, estimated with [PerCharacter].
	Offset time.Duration

	// Duration of the requested ring.
	Duration time.Duration
}

// Script is speech text broken into speakable segments and cues.
type Script struct {
	segments []Segment
}

// Parse breaks text into segments. It never fails: malformed markers are
// treated as plain text.
func Parse(text string) Script {
	var (
		segments []Segment
		plain    strings.Builder
		emphasis bool
	)

	flush := func() {
		if plain.Len() == 0 {
			return
		}
		segments = append(segments, Segment{
			Kind:     Text,
			Text:     plain.String(),
			Emphasis: emphasis,
		})
		plain.Reset()
	}

	for i := 0; i < len(text); {
		switch {
		case strings.HasPrefix(text[i:], ringMarker):
			flush()
			segments = append(segments, Segment{Kind: Ring, Gap: RingGap})
			i += len(ringMarker)

		case text[i] == '.':
			dots := 0
			for i+dots < len(text) && text[i+dots] == '.' {
				dots++
			}
			// A single dot is an ordinary sentence end. Every extra dot
			// pauses for one unit.
			plain.WriteByte('.')
			if dots > 1 {
				flush()
				segments = append(segments, Segment{
					Kind: Pause,
					Gap:  time.Duration(dots-1) * PauseUnit,
				})
			}
			i += dots

		case text[i] == '*':
			flush()
			emphasis = !emphasis
			i++

		default:
			plain.WriteByte(text[i])
			i++
		}
	}
	flush()

	return Script{segments: segments}
}

// Segments returns the parsed segments in order.
func (s Script) Segments() []Segment {
	return s.segments
}

// SynthText returns the text handed to the synthesizer, with all markers
// removed. Each dot sequence is reduced to a single sentence-ending dot, so
// the synthesizer keeps natural sentence pacing but sees no pause gap.
func (s Script) SynthText() string {
	var b strings.Builder
	for _, seg := range s.segments {
		if seg.Kind == Text {
			b.WriteString(seg.Text)
		}
	}
	return b.String()
}

// Rings returns the bell cues with offsets estimated from the preceding
// text and gaps.
func (s Script) Rings() []RingCue {
	var (
		cues   []RingCue
		offset time.Duration
	)
	for _, seg := range s.segments {
		switch seg.Kind {
		case Text:
			offset += estimate(seg.Text)
		case Pause:
			offset += seg.Gap
		case Ring:
			cues = append(cues, RingCue{Offset: offset, Duration: seg.Gap})
			offset += seg.Gap
		}
	}
	return cues
}

// EstimatedDuration returns the heuristic total duration of the script,
// used to substitute silence when no synthesizer is available.
func (s Script) EstimatedDuration() time.Duration {
	var total time.Duration
	for _, seg := range s.segments {
		switch seg.Kind {
		case Text:
			total += estimate(seg.Text)
		case Pause, Ring:
			total += seg.Gap
		}
	}
	return total
}

func estimate(text string) time.Duration {
	return time.Duration(len(text)) * PerCharacter
}
