package core

import (
	"sync"
)

type swarmManager struct {
	mu     sync.RWMutex
	swarms map[string]SwarmService
}

func NewSwarmManager() SwarmManager {
	return &swarmManager{swarms: make(map[string]SwarmService)}
}

func (m *swarmManager) GetOrCreate(infoHash string) SwarmService {
	m.mu.RLock()
	s, ok := m.swarms[infoHash]
	m.mu.RUnlock()
	if ok {
		return s
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok = m.swarms[infoHash]; ok {
		return s
	}
	s = NewSwarmService(infoHash)
	m.swarms[infoHash] = s
	return s
}

func (m *swarmManager) Get(infoHash string) (SwarmService, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.swarms[infoHash]
	return s, ok
}

func (m *swarmManager) List() []SwarmInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SwarmInfo, 0, len(m.swarms))
	for h, s := range m.swarms {
		out = append(out, SwarmInfo{InfoHash: h, MemberCount: s.MemberCount()})
	}
	return out
}

func (m *swarmManager) Release(infoHash string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.swarms[infoHash]; ok && s.MemberCount() == 0 {
		delete(m.swarms, infoHash)
	}
}
