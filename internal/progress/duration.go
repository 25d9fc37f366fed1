// Package progress implements the progress-log model helpers: per-entry
// duration computation and the live elapsed-time tracker.
package progress

import (
	"fmt"
	"time"

	v1 "github.com/finsight/finsight/pkg/api/v1"
)

// UnknownDuration is the sentinel label for entries whose timestamps cannot
// be parsed. Bad timestamps degrade to this label, never to an error.
const UnknownDuration = "unknown"

// EntryDurations computes a human-readable duration label for each log entry.
//
// An entry followed by another entry gets the whole-second difference between
// the two timestamps, clamped to zero. The final entry gets the live elapsed
// time since its own timestamp while processing is active, and no label once
// processing has stopped.
func EntryDurations(logs []v1.ProgressLog, processing bool, now time.Time) []string {
	labels := make([]string, len(logs))
	for i := range logs {
		labels[i] = entryDuration(logs, i, processing, now)
	}
	return labels
}

func entryDuration(logs []v1.ProgressLog, i int, processing bool, now time.Time) string {
	entry := logs[i]
	if !entry.Timestamp.Valid() {
		return UnknownDuration
	}

	if i+1 < len(logs) {
		next := logs[i+1]
		if !next.Timestamp.Valid() {
			return UnknownDuration
		}
		return formatSeconds(next.Timestamp.Time().Sub(entry.Timestamp.Time()))
	}

	if processing {
		return formatSeconds(now.Sub(entry.Timestamp.Time()))
	}
	return ""
}

// formatSeconds renders a duration as whole seconds, clamped to zero.
func formatSeconds(d time.Duration) string {
	secs := int64(d / time.Second)
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("%ds", secs)
}
