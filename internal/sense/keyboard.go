package sense

import (
	"io"
	"sync"
)

// Keyboard is the development fallback for the rotary dial. It reads single
// bytes from an input stream (normally stdin) in a background goroutine and
// translates them into dial inputs:
//
//   - '0'..'9'      dial digits
//   - newline, 'p', 't'  pick-up
//   - escape, 'h', 'r'   hang-up
//
// Any other byte is ignored.
type Keyboard struct {
	mu      sync.Mutex
	pending []Input
	failed  error
}

// NewKeyboard starts reading from r in the background. The reader goroutine
// exits when r reports an error or EOF.
func NewKeyboard(r io.Reader) *Keyboard {
	k := &Keyboard{}
	go k.read(r)
	return k
}

// Poll implements [Sense].
func (k *Keyboard) Poll() (Input, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if len(k.pending) == 0 {
		if k.failed != nil {
			return 0, k.failed
		}
		return 0, ErrNoInput
	}
	in := k.pending[0]
	k.pending = k.pending[1:]
	return in, nil
}

func (k *Keyboard) read(r io.Reader) {
	var buf [1]byte
	for {
		n, err := r.Read(buf[:])
		if n == 1 {
			if in, ok := parseKey(buf[0]); ok {
				k.mu.Lock()
				k.pending = append(k.pending, in)
				k.mu.Unlock()
			}
		}
		if err != nil {
			k.mu.Lock()
			if err == io.EOF {
				// A closed terminal is not fatal for the runtime, the
				// keyboard just stops producing input.
				k.failed = ErrNoInput
			} else {
				k.failed = err
			}
			k.mu.Unlock()
			return
		}
	}
}

func parseKey(b byte) (Input, bool) {
	switch {
	case b >= '0' && b <= '9':
		return Input(b - '0'), true
	case b == '\n' || b == '\r' || b == 'p' || b == 't':
		return PickUp, true
	case b == 0x1b || b == 'h' || b == 'r':
		return HangUp, true
	default:
		return 0, false
	}
}
