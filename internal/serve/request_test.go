package serve

import (
	"errors"
	"strings"
	"testing"

	"github.com/fernspielapparat/fernspielapparat/internal/machine"
	"github.com/fernspielapparat/fernspielapparat/internal/sense"
)

func TestDecodeRunWithNestedObject(t *testing.T) {
	t.Parallel()

	req, err := decodeRequest([]byte(`
invoke: run
with:
  initial: lonelystate
  states:
    lonelystate:
`))
	if err != nil {
		t.Fatalf("decodeRequest: %v", err)
	}
	if req.Run == nil {
		t.Fatal("run request without compiled book")
	}
	defer req.Run.Close()
	if got, want := req.Run.Initial(), "lonelystate"; got != want {
		t.Errorf("initial = %q, want %q", got, want)
	}
}

func TestDecodeRunWithNestedDocumentString(t *testing.T) {
	t.Parallel()

	req, err := decodeRequest([]byte(`
invoke: run
with: |
  states:
    a:
    b:
  transitions:
    a: {end: b}
`))
	if err != nil {
		t.Fatalf("decodeRequest: %v", err)
	}
	if req.Run == nil {
		t.Fatal("run request without compiled book")
	}
	defer req.Run.Close()
	if got := req.Run.Len(); got != 2 {
		t.Errorf("book has %d states, want 2", got)
	}
}

func TestDecodeDial(t *testing.T) {
	t.Parallel()

	req, err := decodeRequest([]byte(`{invoke: dial, with: "01hp"}`))
	if err != nil {
		t.Fatalf("decodeRequest: %v", err)
	}
	zero, _ := sense.Digit(0)
	one, _ := sense.Digit(1)
	want := []sense.Input{zero, one, sense.HangUp, sense.PickUp}
	if len(req.Dial) != len(want) {
		t.Fatalf("got %d inputs, want %d", len(req.Dial), len(want))
	}
	for i := range want {
		if req.Dial[i] != want[i] {
			t.Errorf("input %d = %v, want %v", i, req.Dial[i], want[i])
		}
	}
}

func TestDecodeReset(t *testing.T) {
	t.Parallel()

	req, err := decodeRequest([]byte(`{invoke: reset}`))
	if err != nil {
		t.Fatalf("decodeRequest: %v", err)
	}
	if !req.Reset {
		t.Error("reset flag not set")
	}
}

func TestDecodeStoresUUID(t *testing.T) {
	t.Parallel()

	req, err := decodeRequest([]byte(`{invoke: reset, uuid: 8c4d4d55-5a77-4a70-9aaa-3a0a81the000}`))
	if err == nil {
		t.Error("expected malformed uuid to fail")
	}

	req, err = decodeRequest([]byte(`{invoke: reset, uuid: 8c4d4d55-5a77-4a70-9aaa-3a0a81010000}`))
	if err != nil {
		t.Fatalf("decodeRequest: %v", err)
	}
	if req.UUID.String() != "8c4d4d55-5a77-4a70-9aaa-3a0a81010000" {
		t.Errorf("uuid = %s", req.UUID)
	}
}

func TestDecodeRejectsProtocolViolations(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		frame string
	}{
		{name: "unknown root key", frame: `{invoke: reset, extra: 1}`},
		{name: "unknown invocation", frame: `{invoke: explode}`},
		{name: "dial with bad character", frame: `{invoke: dial, with: "5x"}`},
		{name: "empty dial", frame: `{invoke: dial, with: ""}`},
		{name: "run without book", frame: `{invoke: run}`},
		{name: "run with invalid book", frame: `{invoke: run, with: {states: {a:}, transitions: {a: {end: nowhere}}}}`},
		{name: "not yaml at all", frame: `{{{{`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := decodeRequest([]byte(tc.frame))
			if err == nil {
				t.Fatal("expected decode to fail")
			}
			if !errors.Is(err, ErrProtocol) {
				t.Errorf("error %v is not ErrProtocol", err)
			}
		})
	}
}

func TestEncodeStartEvent(t *testing.T) {
	t.Parallel()

	frame, err := encodeEvent(machine.Start{Initial: "announcement"})
	if err != nil {
		t.Fatalf("encodeEvent: %v", err)
	}
	got := string(frame)
	for _, want := range []string{"type: start", "initial:", "id: announcement"} {
		if !strings.Contains(got, want) {
			t.Errorf("frame missing %q:\n%s", want, got)
		}
	}
}

func TestEncodeTransitionReasons(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		reason machine.Reason
		want   string
	}{
		{name: "end", reason: machine.EndReason(), want: "reason: end"},
		{name: "dial", reason: machine.DialReason(sense.PickUp), want: "dial: p"},
		{name: "timeout", reason: machine.TimeoutReason(2.5), want: "timeout: 2.5"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			frame, err := encodeEvent(machine.Transition{
				Reason: tc.reason,
				From:   "a",
				To:     "b",
			})
			if err != nil {
				t.Fatalf("encodeEvent: %v", err)
			}
			got := string(frame)
			if !strings.Contains(got, tc.want) {
				t.Errorf("frame missing %q:\n%s", tc.want, got)
			}
			for _, part := range []string{"type: transition", "from:", "to:"} {
				if !strings.Contains(got, part) {
					t.Errorf("frame missing %q:\n%s", part, got)
				}
			}
		})
	}
}

func TestEncodeFinishEvent(t *testing.T) {
	t.Parallel()

	frame, err := encodeEvent(machine.Finish{Terminal: "destruction"})
	if err != nil {
		t.Fatalf("encodeEvent: %v", err)
	}
	got := string(frame)
	for _, want := range []string{"type: finish", "terminal:", "id: destruction"} {
		if !strings.Contains(got, want) {
			t.Errorf("frame missing %q:\n%s", want, got)
		}
	}
}
