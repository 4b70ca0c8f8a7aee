// Package devicebridge declares the device-actuator collaborator the
// HCFGAC variant of the Simple Executor (C5) mirrors robot device fields
// to. The actual actuator service (home automation hub, tablet display
// driver, etc.) is an external collaborator; this package only fixes the
// interface and a fire-and-forget in-process fake for tests.
package devicebridge

import (
	"context"
	"sync"
)

// Service mirrors a single device field change to the physical actuator.
// Calls are fire-and-forget from the executor's perspective: the executor
// calls these methods inline from its beacon handler (see §5), so
// implementations must not block the caller.
type Service interface {
	SetSwitch(ctx context.Context, index int, on bool)
	SetBlinds(ctx context.Context, percent uint8)
	SetDimmer(ctx context.Context, percent uint8)
	SetTabletDisplayMap(ctx context.Context, shown bool)
}

// Memory is an in-process Service recording the last value set for each
// field, for use by tests and by a standalone run with no real hub
// attached.
type Memory struct {
	mu       sync.Mutex
	switches map[int]bool
	blinds   uint8
	dimmer   uint8
	tablet   bool
}

// NewMemory constructs an empty Memory bridge.
func NewMemory() *Memory {
	return &Memory{switches: make(map[int]bool)}
}

func (m *Memory) SetSwitch(_ context.Context, index int, on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.switches[index] = on
}

func (m *Memory) SetBlinds(_ context.Context, percent uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blinds = percent
}

func (m *Memory) SetDimmer(_ context.Context, percent uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dimmer = percent
}

func (m *Memory) SetTabletDisplayMap(_ context.Context, shown bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tablet = shown
}

// Switch reports the last value recorded for the given switch index.
func (m *Memory) Switch(index int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.switches[index]
}

// Blinds, Dimmer and TabletDisplayMap report the last recorded value.
func (m *Memory) Blinds() uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blinds
}

func (m *Memory) Dimmer() uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dimmer
}

func (m *Memory) TabletDisplayMap() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tablet
}
