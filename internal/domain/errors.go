package domain

import "errors"

var (
	// ErrMicrophoneUnavailable: no capture device or no permission. The session goes receive-only.
	ErrMicrophoneUnavailable = errors.New("microphone unavailable")
	// ErrKeyDerivation is fatal to join.
	ErrKeyDerivation = errors.New("key derivation failed")
	// ErrAuthentication drops one message; the session continues.
	ErrAuthentication = errors.New("message authentication failed")
	// ErrTransportUnavailable is fatal to join.
	ErrTransportUnavailable = errors.New("transport unavailable")
	// ErrSend is per peer; other peers still receive.
	ErrSend = errors.New("send failed")
	// ErrTeardown is swallowed during leave.
	ErrTeardown = errors.New("teardown failed")

	ErrEmptyRoomCode = errors.New("room code empty")
	ErrNoSession     = errors.New("no active session")
)
