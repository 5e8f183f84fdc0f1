// Package crypto derives the room key from a room code and seals chat text
// with AES-256-GCM.
//
// Parameters are fixed so that every client derives the same key from the
// same code without a handshake:
//   - PBKDF2-HMAC-SHA256, 100,000 iterations
//   - salt: the bytes of domain.Namespace
//   - 32-byte key, 12-byte random nonce per message
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/dkeye/roomvoice/internal/domain"
	"golang.org/x/crypto/pbkdf2"
)

const (
	PBKDF2Iterations = 100000
	KeySize          = 32
	NonceSize        = 12
	TagSize          = 16
)

// Key is a derived room key. It is safe for concurrent use.
type Key struct {
	raw  [KeySize]byte
	aead cipher.AEAD
}

// DeriveKey turns a room code into the room key. The code is trimmed but
// never case-folded.
func DeriveKey(roomCode string) (*Key, error) {
	code := strings.TrimSpace(roomCode)
	if code == "" {
		return nil, domain.ErrEmptyRoomCode
	}

	derived := pbkdf2.Key([]byte(code), []byte(domain.Namespace), PBKDF2Iterations, KeySize, sha256.New)
	k := &Key{}
	copy(k.raw[:], derived)
	wipe(derived)

	block, err := aes.NewCipher(k.raw[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrKeyDerivation, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrKeyDerivation, err)
	}
	if aead.NonceSize() != NonceSize {
		return nil, fmt.Errorf("%w: unexpected nonce size %d", domain.ErrKeyDerivation, aead.NonceSize())
	}
	k.aead = aead
	return k, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
