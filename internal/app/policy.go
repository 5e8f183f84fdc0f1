package app

import "github.com/dkeye/roomvoice/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

// Policy decides what happens to a rendezvous client whose send queue is full.
type Policy interface {
	OnBackPressure(swarm core.SwarmService, sid core.SessionID) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(core.SwarmService, core.SessionID) BackpressureAction {
	return KickMember
}

// LenientPolicy drops the frame and keeps the client.
type LenientPolicy struct{}

func (LenientPolicy) OnBackPressure(core.SwarmService, core.SessionID) BackpressureAction {
	return DropFrame
}
