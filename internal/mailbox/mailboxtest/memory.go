// Package mailboxtest provides an in-process mailbox for tests.
package mailboxtest

import (
	"context"
	"sync"
)

// Memory is an in-process mailbox slot store. It counts writes that land on
// an occupied slot, which a correct single-worker producer never causes.
type Memory struct {
	mu         sync.Mutex
	values     map[string]string
	writes     []string
	overwrites int
	clears     int
}

// NewMemory returns an empty Memory.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

func (m *Memory) Write(_ context.Context, id, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = make(map[string]string)
	}
	if _, ok := m.values[id]; ok {
		m.overwrites++
	}
	m.values[id] = value
	m.writes = append(m.writes, value)
	return nil
}

func (m *Memory) Read(_ context.Context, id string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[id]
	return v, ok, nil
}

func (m *Memory) Clear(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, id)
	m.clears++
	return nil
}

// Writes returns every value written so far, in order.
func (m *Memory) Writes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.writes...)
}

// Overwrites returns how many writes replaced an unconsumed value.
func (m *Memory) Overwrites() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.overwrites
}

// Clears returns how many times Clear was called.
func (m *Memory) Clears() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clears
}
