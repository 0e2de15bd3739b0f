package dispatch

import (
	"context"
	"sync"
	"time"
)

// Timers fires wake-ups from in-process timers.
// Wake-ups live only as long as the process; reconciliation re-arms them on start.
type Timers struct {
	mu      sync.Mutex
	entries map[string]*timerEntry
	deliver Deliver
	started bool
	now     func() time.Time
}

type timerEntry struct {
	at    time.Time
	timer *time.Timer
}

// NewTimers creates an in-process substrate
func NewTimers() *Timers {
	return NewTimersWithClock(time.Now)
}

// NewTimersWithClock creates an in-process substrate with a custom clock
func NewTimersWithClock(now func() time.Time) *Timers {
	return &Timers{
		entries: make(map[string]*timerEntry),
		now:     now,
	}
}

// Arm implements Substrate
func (t *Timers) Arm(ctx context.Context, jobID string, at time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.entries[jobID]; ok && existing.timer != nil {
		existing.timer.Stop()
	}
	entry := &timerEntry{at: at}
	t.entries[jobID] = entry
	if t.started {
		t.schedule(jobID, entry)
	}
	return nil
}

// Disarm implements Substrate
func (t *Timers) Disarm(ctx context.Context, jobID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.entries[jobID]; ok {
		if existing.timer != nil {
			existing.timer.Stop()
		}
		delete(t.entries, jobID)
	}
	return nil
}

// ArmedAt implements Inspector
func (t *Timers) ArmedAt(ctx context.Context, jobID string) (time.Time, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[jobID]
	if !ok {
		return time.Time{}, false, nil
	}
	return entry.at, true, nil
}

// Start implements Substrate. Wake-ups armed before Start are scheduled now.
func (t *Timers) Start(deliver Deliver) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.deliver = deliver
	t.started = true
	for jobID, entry := range t.entries {
		t.schedule(jobID, entry)
	}
	return nil
}

// Stop implements Substrate. Pending timers are stopped but kept, so a later Start resumes them.
func (t *Timers) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.started = false
	for _, entry := range t.entries {
		if entry.timer != nil {
			entry.timer.Stop()
			entry.timer = nil
		}
	}
}

// schedule must be called with mu held
func (t *Timers) schedule(jobID string, entry *timerEntry) {
	entry.timer = time.AfterFunc(entry.at.Sub(t.now()), func() {
		t.fire(jobID, entry)
	})
}

func (t *Timers) fire(jobID string, entry *timerEntry) {
	t.mu.Lock()
	// A replaced or disarmed entry must not deliver
	if current, ok := t.entries[jobID]; !ok || current != entry || !t.started {
		t.mu.Unlock()
		return
	}
	delete(t.entries, jobID)
	deliver := t.deliver
	t.mu.Unlock()

	deliver(jobID)
}
