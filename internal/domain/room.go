package domain

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// Namespace prefixes discovery topics and salts key derivation.
// Every client in a room must agree on it.
const Namespace = "dedsec"

// RoomCode is the shared secret of a room, already trimmed.
type RoomCode string

func NewRoomCode(raw string) (RoomCode, error) {
	code := strings.TrimSpace(raw)
	if code == "" {
		return "", ErrEmptyRoomCode
	}
	return RoomCode(code), nil
}

// Topic is case-folded; the key input is not. Codes differing only by case
// meet on discovery but cannot read each other's chat.
func (c RoomCode) Topic() Topic {
	return Topic(Namespace + ":" + strings.ToLower(strings.TrimSpace(string(c))))
}

// Topic is the rendezvous identifier handed to the transport layer.
type Topic string

func (t Topic) Bytes() []byte { return []byte(t) }

// InfoHash is what leaves the machine: trackers never see the room code.
func (t Topic) InfoHash() string {
	sum := sha1.Sum(t.Bytes())
	return hex.EncodeToString(sum[:])
}
