package progress

import (
	"sync"
	"time"

	v1 "github.com/finsight/finsight/pkg/api/v1"
)

// Tracker maintains an ordered, monotonically growing list of progress log
// entries for one session and recomputes per-entry duration labels on a
// one-second ticker while processing is active. The ticker stops when
// processing stops or the tracker is closed.
type Tracker struct {
	mu         sync.Mutex
	logs       []v1.ProgressLog
	processing bool
	stop       chan struct{} // closes the current ticker goroutine
	closed     bool

	onUpdate func(labels []string)
	interval time.Duration
	now      func() time.Time
}

// NewTracker creates a tracker. onUpdate is invoked with freshly computed
// duration labels whenever an entry is appended and on every tick while
// processing; it may be nil.
func NewTracker(onUpdate func(labels []string)) *Tracker {
	return &Tracker{
		onUpdate: onUpdate,
		interval: time.Second,
		now:      time.Now,
	}
}

// Append adds an entry to the end of the list. Entries are immutable once
// received.
func (t *Tracker) Append(entry v1.ProgressLog) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.logs = append(t.logs, entry)
	t.mu.Unlock()

	t.notify()
}

// Logs returns a copy of the current entries.
func (t *Tracker) Logs() []v1.ProgressLog {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]v1.ProgressLog, len(t.logs))
	copy(out, t.logs)
	return out
}

// Labels returns the current duration label for each entry.
func (t *Tracker) Labels() []string {
	t.mu.Lock()
	logs := make([]v1.ProgressLog, len(t.logs))
	copy(logs, t.logs)
	processing := t.processing
	now := t.now()
	t.mu.Unlock()

	return EntryDurations(logs, processing, now)
}

// Clear drops all entries. The list only shrinks on this explicit call.
func (t *Tracker) Clear() {
	t.mu.Lock()
	t.logs = nil
	t.mu.Unlock()

	t.notify()
}

// SetProcessing toggles the live elapsed-time updates for the last entry.
func (t *Tracker) SetProcessing(active bool) {
	t.mu.Lock()
	if t.closed || t.processing == active {
		t.mu.Unlock()
		return
	}
	t.processing = active

	if active {
		stop := make(chan struct{})
		t.stop = stop
		interval := t.interval
		t.mu.Unlock()

		go t.run(stop, interval)
	} else {
		if t.stop != nil {
			close(t.stop)
			t.stop = nil
		}
		t.mu.Unlock()
	}

	t.notify()
}

// Close stops the ticker and rejects further appends.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.processing = false
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
	t.mu.Unlock()
}

func (t *Tracker) run(stop chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.notify()
		}
	}
}

func (t *Tracker) notify() {
	if t.onUpdate == nil {
		return
	}
	t.onUpdate(t.Labels())
}
