package demo_test

import (
	"testing"

	"github.com/fernspielapparat/fernspielapparat/internal/demo"
)

func TestDemoBookCompiles(t *testing.T) {
	t.Parallel()

	b, err := demo.Book()
	if err != nil {
		t.Fatalf("embedded demo book failed to compile: %v", err)
	}
	defer b.Close()

	if got, want := b.Initial(), "ringing"; got != want {
		t.Errorf("Initial() = %q, want %q", got, want)
	}
	// An exhibit book loops forever; no state may be terminal.
	for _, id := range b.StateIDs() {
		if b.State(id).Terminal {
			t.Errorf("demo state %q is terminal", id)
		}
	}
}
