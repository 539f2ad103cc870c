package serve

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/fernspielapparat/fernspielapparat/internal/machine"
)

// stateSummary describes a state in the fernspielctl event protocol.
type stateSummary struct {
	ID string `yaml:"id"`
}

type startEvent struct {
	Type    string       `yaml:"type"`
	Initial stateSummary `yaml:"initial"`
}

type transitionEvent struct {
	Type   string       `yaml:"type"`
	Reason any          `yaml:"reason"`
	From   stateSummary `yaml:"from"`
	To     stateSummary `yaml:"to"`
}

type finishEvent struct {
	Type     string       `yaml:"type"`
	Terminal stateSummary `yaml:"terminal"`
}

// encodeEvent renders an evaluator event as a fernspielctl text frame.
func encodeEvent(ev machine.Event) ([]byte, error) {
	var doc any
	switch e := ev.(type) {
	case machine.Start:
		doc = startEvent{Type: "start", Initial: stateSummary{ID: e.Initial}}
	case machine.Finish:
		doc = finishEvent{Type: "finish", Terminal: stateSummary{ID: e.Terminal}}
	case machine.Transition:
		doc = transitionEvent{
			Type:   "transition",
			Reason: encodeReason(e.Reason),
			From:   stateSummary{ID: e.From},
			To:     stateSummary{ID: e.To},
		}
	default:
		return nil, fmt.Errorf("unknown event type %T", ev)
	}
	return yaml.Marshal(doc)
}

// encodeReason renders a transition reason: the scalar "end", or a single
// key object like {dial: "0"} or {timeout: 2.5}.
func encodeReason(r machine.Reason) any {
	switch r.Kind {
	case machine.ReasonEnd:
		return "end"
	case machine.ReasonDial:
		return map[string]string{"dial": r.Dial}
	case machine.ReasonTimeout:
		return map[string]float64{"timeout": r.Seconds}
	default:
		return nil
	}
}
