// Package api provides HTTP handlers for the progress relay API.
package api

import (
	v1 "github.com/finsight/finsight/pkg/api/v1"
)

// PublishResponse acknowledges a published progress event. Publishing
// succeeds whether or not any subscriber is connected.
type PublishResponse struct {
	Success bool `json:"success"`
}

// LogEntryResponse is a stored progress log entry with its computed duration
// label.
type LogEntryResponse struct {
	v1.ProgressLog
	Duration string `json:"duration,omitempty"`
}

// LogsResponse lists a session's stored progress history
type LogsResponse struct {
	SessionID string              `json:"session_id"`
	Logs      []*LogEntryResponse `json:"logs"`
	Total     int                 `json:"total"`
}

// SessionsResponse lists sessions with stored history
type SessionsResponse struct {
	Sessions []string `json:"sessions"`
	Total    int      `json:"total"`
}
