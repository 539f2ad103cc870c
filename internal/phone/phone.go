// Package phone talks to the retrofitted telephone hardware over I2C: it
// polls the rotary dial and hook switch and drives the bell.
//
// The wire protocol is a tiny register scheme on the phone's
// microcontroller: reading register 3 pops the next input byte, reading
// register 1 starts the bell and register 0 stops it. Transient bus errors
// are retried with exponential backoff before the operation is reported
// failed.
package phone

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/fernspielapparat/fernspielapparat/internal/sense"
)

const (
	// regInput pops the next pending input byte.
	regInput = 3

	// regStartRing and regStopRing control the bell.
	regStartRing = 1
	regStopRing  = 0

	// emptyBuffer is sent when the phone has no pending input.
	emptyBuffer = 0xff

	// Input byte values beyond the dial digits 0..9.
	byteHangUp = 11
	bytePickUp = 12

	// maxTries bounds the retries of a single I2C transaction.
	maxTries = 8

	// txTimeout bounds one poll or ring transaction including retries.
	txTimeout = 50 * time.Millisecond
)

// Phone is a connected telephone peripheral. The I2C bus is shared between
// dial polling and the bell; a single mutex serializes transactions.
type Phone struct {
	mu  sync.Mutex
	bus i2c.BusCloser
	dev *i2c.Dev
}

// Connect opens the I2C bus with the given registry name (e.g. "1" or
// "/dev/i2c-1") and attaches to the phone at addr. An error means no
// hardware is available and the runtime falls back to the keyboard.
func Connect(busName string, addr uint16) (*Phone, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("phone: init host drivers: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("phone: open i2c bus %q: %w", busName, err)
	}
	return &Phone{
		bus: bus,
		dev: &i2c.Dev{Addr: addr, Bus: bus},
	}, nil
}

// Poll implements [sense.Sense]: it pops the next input byte from the
// phone and decodes it. Returns [sense.ErrNoInput] when the phone's send
// buffer is empty.
func (p *Phone) Poll() (sense.Input, error) {
	b, err := p.readRegister(regInput)
	if err != nil {
		return 0, fmt.Errorf("phone: poll: %w", err)
	}
	return decodeInput(b)
}

// Ring starts the hardware bell. The caller is responsible for stopping it
// with [Phone.Unring]; the actuator layer additionally enforces a safety
// cap on ring duration.
func (p *Phone) Ring() error {
	if _, err := p.readRegister(regStartRing); err != nil {
		return fmt.Errorf("phone: start ring: %w", err)
	}
	return nil
}

// Unring stops the hardware bell.
func (p *Phone) Unring() error {
	if _, err := p.readRegister(regStopRing); err != nil {
		return fmt.Errorf("phone: stop ring: %w", err)
	}
	return nil
}

// Close releases the I2C bus. The bell is stopped first so a shutdown
// mid-ring does not leave it sounding.
func (p *Phone) Close() error {
	unringErr := p.Unring()
	if err := p.bus.Close(); err != nil {
		return fmt.Errorf("phone: close i2c bus: %w", err)
	}
	return unringErr
}

// readRegister performs one retried I2C read transaction. The mutex is held
// for the duration of the transaction only.
func (p *Phone) readRegister(reg byte) (byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), txTimeout)
	defer cancel()

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = time.Millisecond
	expo.MaxInterval = 10 * time.Millisecond

	return backoff.Retry(ctx, func() (byte, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		var buf [1]byte
		if err := p.dev.Tx([]byte{reg}, buf[:]); err != nil {
			return 0, err
		}
		return buf[0], nil
	}, backoff.WithBackOff(expo), backoff.WithMaxTries(maxTries))
}

func decodeInput(b byte) (sense.Input, error) {
	switch {
	case b <= 9:
		return sense.Digit(int(b))
	case b == byteHangUp:
		return sense.HangUp, nil
	case b == bytePickUp:
		return sense.PickUp, nil
	case b == emptyBuffer:
		return 0, sense.ErrNoInput
	default:
		// Unknown bytes are glitches, not fatal: report as no input so
		// polling continues.
		slog.Debug("phone sent unknown input byte", "byte", b)
		return 0, sense.ErrNoInput
	}
}
