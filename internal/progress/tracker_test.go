package progress

import (
	"sync"
	"testing"
	"time"

	v1 "github.com/finsight/finsight/pkg/api/v1"
)

// labelRecorder collects onUpdate invocations for assertions
type labelRecorder struct {
	mu      sync.Mutex
	updates [][]string
}

func (r *labelRecorder) record(labels []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := make([]string, len(labels))
	copy(copied, labels)
	r.updates = append(r.updates, copied)
}

func (r *labelRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

func (r *labelRecorder) last() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.updates) == 0 {
		return nil
	}
	return r.updates[len(r.updates)-1]
}

func TestTracker_AppendNotifies(t *testing.T) {
	rec := &labelRecorder{}
	tracker := NewTracker(rec.record)
	defer tracker.Close()

	tracker.Append(v1.ProgressLog{
		Level:     v1.LogLevelInfo,
		Message:   "loading data",
		Timestamp: v1.NewTimestamp(time.Now()),
	})

	if rec.count() != 1 {
		t.Fatalf("expected 1 update, got %d", rec.count())
	}
	if got := len(tracker.Logs()); got != 1 {
		t.Errorf("expected 1 entry, got %d", got)
	}
}

func TestTracker_TickerUpdatesWhileProcessing(t *testing.T) {
	rec := &labelRecorder{}
	tracker := NewTracker(rec.record)
	tracker.interval = 10 * time.Millisecond
	defer tracker.Close()

	tracker.Append(v1.ProgressLog{
		Level:     v1.LogLevelInfo,
		Message:   "running analysis",
		Timestamp: v1.NewTimestamp(time.Now().Add(-5 * time.Second)),
	})
	tracker.SetProcessing(true)

	deadline := time.Now().Add(2 * time.Second)
	baseline := rec.count()
	for rec.count() < baseline+2 {
		if time.Now().After(deadline) {
			t.Fatal("ticker never fired")
		}
		time.Sleep(5 * time.Millisecond)
	}

	labels := rec.last()
	if len(labels) != 1 {
		t.Fatalf("expected 1 label, got %d", len(labels))
	}
	if labels[0] == "" || labels[0] == UnknownDuration {
		t.Errorf("expected live elapsed label, got %q", labels[0])
	}
}

func TestTracker_StopsWhenProcessingEnds(t *testing.T) {
	rec := &labelRecorder{}
	tracker := NewTracker(rec.record)
	tracker.interval = 10 * time.Millisecond
	defer tracker.Close()

	tracker.SetProcessing(true)
	time.Sleep(30 * time.Millisecond)
	tracker.SetProcessing(false)

	// Let any in-flight tick drain, then verify the count stays put
	time.Sleep(30 * time.Millisecond)
	stopped := rec.count()
	time.Sleep(50 * time.Millisecond)
	if rec.count() != stopped {
		t.Errorf("updates continued after processing stopped: %d -> %d", stopped, rec.count())
	}
}

func TestTracker_ClearDropsEntries(t *testing.T) {
	tracker := NewTracker(nil)
	defer tracker.Close()

	tracker.Append(v1.ProgressLog{Level: v1.LogLevelInfo, Timestamp: v1.NewTimestamp(time.Now())})
	tracker.Append(v1.ProgressLog{Level: v1.LogLevelSuccess, Timestamp: v1.NewTimestamp(time.Now())})
	tracker.Clear()

	if got := len(tracker.Logs()); got != 0 {
		t.Errorf("expected no entries after clear, got %d", got)
	}
}

func TestTracker_CloseRejectsAppends(t *testing.T) {
	tracker := NewTracker(nil)
	tracker.Close()

	tracker.Append(v1.ProgressLog{Level: v1.LogLevelInfo})
	if got := len(tracker.Logs()); got != 0 {
		t.Errorf("expected append after close to be dropped, got %d entries", got)
	}

	// Close is idempotent
	tracker.Close()
}
