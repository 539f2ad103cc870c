package serve

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/fernspielapparat/fernspielapparat/internal/book"
	"github.com/fernspielapparat/fernspielapparat/internal/sense"
)

// ErrProtocol reports a malformed fernspielctl frame. The offending
// connection is closed orderly; the server keeps running.
var ErrProtocol = errors.New("malformed fernspielctl request")

// Request is a decoded command from a remote client.
type Request struct {
	// Run, when non-nil, replaces the active phonebook.
	Run *book.Book

	// Dial holds synthetic inputs to push into the multiplexer, in order.
	Dial []sense.Input

	// Reset starts the active phonebook over from its initial state.
	Reset bool

	// UUID identifies the request when the client sent one. Stored, not
	// currently used.
	UUID uuid.UUID
}

// envelope is the root object of every fernspielctl frame. Unknown root
// keys fail strict decoding, which closes the connection.
type envelope struct {
	Invoke string    `yaml:"invoke"`
	With   yaml.Node `yaml:"with"`
	UUID   string    `yaml:"uuid"`
}

// decodeRequest parses a single text frame.
func decodeRequest(data []byte) (Request, error) {
	var env envelope
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&env); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	var req Request
	if env.UUID != "" {
		id, err := uuid.Parse(env.UUID)
		if err != nil {
			return Request{}, fmt.Errorf("%w: uuid: %v", ErrProtocol, err)
		}
		req.UUID = id
	}

	switch env.Invoke {
	case "run":
		b, err := decodeBook(&env.With)
		if err != nil {
			return Request{}, err
		}
		req.Run = b
	case "dial":
		inputs, err := decodeDial(&env.With)
		if err != nil {
			return Request{}, err
		}
		req.Dial = inputs
	case "reset":
		req.Reset = true
	default:
		return Request{}, fmt.Errorf("%w: unknown invocation %q", ErrProtocol, env.Invoke)
	}
	return req, nil
}

// decodeBook compiles the phonebook carried by a run request. The payload
// is either a nested YAML object or a string holding a whole phonebook
// document.
func decodeBook(with *yaml.Node) (*book.Book, error) {
	if with.Kind == 0 {
		return nil, fmt.Errorf("%w: run request without a phonebook", ErrProtocol)
	}

	var source []byte
	if with.Kind == yaml.ScalarNode {
		var doc string
		if err := with.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		source = []byte(doc)
	} else {
		// Re-encode the nested object so the book loader's strict
		// decoding applies to remote phonebooks too.
		var err error
		source, err = yaml.Marshal(with)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
		}
	}

	b, err := book.LoadFromReader(bytes.NewReader(source), ".")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return b, nil
}

// decodeDial parses the dial string of a dial request: one or more of the
// characters 0-9, h and p, pushed as inputs in order.
func decodeDial(with *yaml.Node) ([]sense.Input, error) {
	var dial string
	if err := with.Decode(&dial); err != nil {
		return nil, fmt.Errorf("%w: dial: %v", ErrProtocol, err)
	}
	if dial == "" {
		return nil, fmt.Errorf("%w: empty dial request", ErrProtocol)
	}

	inputs := make([]sense.Input, 0, len(dial))
	for i := 0; i < len(dial); i++ {
		in, err := sense.ParseInput(dial[i])
		if err != nil {
			return nil, fmt.Errorf("%w: dial: %v", ErrProtocol, err)
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}
