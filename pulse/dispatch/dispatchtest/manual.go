// Package dispatchtest provides a substrate that tests fire by hand.
package dispatchtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/teranos/pulsejobs/pulse/dispatch"
)

// Manual records armed wake-ups and fires them only when told to
type Manual struct {
	mu      sync.Mutex
	armed   map[string]time.Time
	deliver dispatch.Deliver

	// FailNext makes the next n Arm/Disarm calls fail with Err
	FailNext int
	Err      error

	Arms    int
	Disarms int
}

// NewManual creates an empty manual substrate
func NewManual() *Manual {
	return &Manual{armed: make(map[string]time.Time)}
}

func (m *Manual) fail() error {
	if m.FailNext > 0 {
		m.FailNext--
		return m.Err
	}
	return nil
}

// Arm implements dispatch.Substrate
func (m *Manual) Arm(ctx context.Context, jobID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return err
	}
	m.Arms++
	m.armed[jobID] = at
	return nil
}

// Disarm implements dispatch.Substrate
func (m *Manual) Disarm(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return err
	}
	m.Disarms++
	delete(m.armed, jobID)
	return nil
}

// ArmedAt implements dispatch.Inspector
func (m *Manual) ArmedAt(ctx context.Context, jobID string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.armed[jobID]
	return at, ok, nil
}

// Start implements dispatch.Substrate
func (m *Manual) Start(deliver dispatch.Deliver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliver = deliver
	return nil
}

// Stop implements dispatch.Substrate
func (m *Manual) Stop() {}

// Armed returns the wake-up time for jobID
func (m *Manual) Armed(jobID string) (time.Time, bool) {
	at, ok, _ := m.ArmedAt(context.Background(), jobID)
	return at, ok
}

// Count returns the number of armed wake-ups
func (m *Manual) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.armed)
}

// Fire consumes jobID's wake-up and delivers it. Returns false if none was armed.
func (m *Manual) Fire(jobID string) bool {
	m.mu.Lock()
	_, ok := m.armed[jobID]
	delete(m.armed, jobID)
	deliver := m.deliver
	m.mu.Unlock()

	if !ok {
		return false
	}
	if deliver != nil {
		deliver(jobID)
	}
	return true
}

// FireDue fires every wake-up at or before now, earliest first
func (m *Manual) FireDue(now time.Time) []string {
	m.mu.Lock()
	var due []string
	for id, at := range m.armed {
		if !at.After(now) {
			due = append(due, id)
		}
	}
	sort.Slice(due, func(i, j int) bool { return m.armed[due[i]].Before(m.armed[due[j]]) })
	m.mu.Unlock()

	for _, id := range due {
		m.Fire(id)
	}
	return due
}

// Deliver simulates a duplicate or stale delivery without consuming anything
func (m *Manual) Deliver(jobID string) {
	m.mu.Lock()
	deliver := m.deliver
	m.mu.Unlock()
	if deliver != nil {
		deliver(jobID)
	}
}
