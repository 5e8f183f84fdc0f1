// Package wire holds the JSON messages exchanged between peers over the chat
// data channel and between clients and the rendezvous service.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/roomvoice/internal/crypto"
)

const (
	TypeHello = "hello"
	TypeChat  = "chat"
)

var (
	ErrMalformed   = errors.New("malformed envelope")
	ErrUnknownType = errors.New("unknown envelope type")
)

// Bytes is encoded as an array of integers 0-255, the form browsers produce
// with Array.from(Uint8Array).
type Bytes []byte

func (b Bytes) MarshalJSON() ([]byte, error) {
	ints := make([]int, len(b))
	for i, v := range b {
		ints[i] = int(v)
	}
	return json.Marshal(ints)
}

func (b *Bytes) UnmarshalJSON(data []byte) error {
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return err
	}
	out := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return fmt.Errorf("byte value %d out of range", v)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}

// Envelope is the tagged variant carried on the chat data channel.
type Envelope struct {
	Type string `json:"type"`
	Nick string `json:"nick,omitempty"`
	IV   Bytes  `json:"iv,omitempty"`
	Data Bytes  `json:"data,omitempty"`
}

func EncodeHello(nick string) ([]byte, error) {
	return json.Marshal(Envelope{Type: TypeHello, Nick: nick})
}

func EncodeChat(s crypto.Sealed) ([]byte, error) {
	return json.Marshal(Envelope{Type: TypeChat, IV: s.Nonce[:], Data: s.Ciphertext})
}

// Decode parses and validates one envelope. Callers drop anything that
// returns an error.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch env.Type {
	case TypeHello:
		return env, nil
	case TypeChat:
		if len(env.IV) != crypto.NonceSize {
			return Envelope{}, fmt.Errorf("%w: iv length %d", ErrMalformed, len(env.IV))
		}
		if len(env.Data) < crypto.TagSize {
			return Envelope{}, fmt.Errorf("%w: data length %d", ErrMalformed, len(env.Data))
		}
		return env, nil
	case "":
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}
