package phone

import (
	"errors"
	"testing"

	"github.com/fernspielapparat/fernspielapparat/internal/sense"
)

func TestDecodeInput(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		b    byte
		want sense.Input
		err  error
	}{
		{name: "digit zero", b: 0, want: 0},
		{name: "digit nine", b: 9, want: 9},
		{name: "hang up", b: byteHangUp, want: sense.HangUp},
		{name: "pick up", b: bytePickUp, want: sense.PickUp},
		{name: "empty buffer", b: emptyBuffer, err: sense.ErrNoInput},
		{name: "glitch byte", b: 42, err: sense.ErrNoInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := decodeInput(tc.b)
			if tc.err != nil {
				if !errors.Is(err, tc.err) {
					t.Fatalf("decodeInput(%d) error = %v, want %v", tc.b, err, tc.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeInput(%d): %v", tc.b, err)
			}
			if got != tc.want {
				t.Errorf("decodeInput(%d) = %v, want %v", tc.b, got, tc.want)
			}
		})
	}
}
