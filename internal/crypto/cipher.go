package crypto

import (
	"crypto/rand"
	"fmt"

	"github.com/dkeye/roomvoice/internal/domain"
)

// Sealed is one encrypted chat message: the nonce travels with the ciphertext.
type Sealed struct {
	Nonce      [NonceSize]byte
	Ciphertext []byte // ciphertext || tag
}

// Seal encrypts plaintext under a fresh random nonce. A nonce is never reused.
func (k *Key) Seal(plaintext string) (Sealed, error) {
	var s Sealed
	if _, err := rand.Read(s.Nonce[:]); err != nil {
		return Sealed{}, fmt.Errorf("failed to generate nonce: %w", err)
	}
	s.Ciphertext = k.aead.Seal(nil, s.Nonce[:], []byte(plaintext), nil)
	return s, nil
}

// Open decrypts a sealed message. Any failure, including a wrong key, is
// reported as domain.ErrAuthentication and yields no plaintext.
func (k *Key) Open(nonce, ciphertext []byte) (string, error) {
	if len(nonce) != NonceSize {
		return "", fmt.Errorf("%w: nonce length %d", domain.ErrAuthentication, len(nonce))
	}
	if len(ciphertext) < TagSize {
		return "", fmt.Errorf("%w: ciphertext too short", domain.ErrAuthentication)
	}
	plain, err := k.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrAuthentication, err)
	}
	return string(plain), nil
}
