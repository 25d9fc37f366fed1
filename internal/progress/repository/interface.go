// Package repository provides storage for per-session progress log history.
package repository

import (
	"context"

	v1 "github.com/finsight/finsight/pkg/api/v1"
)

// Repository defines the interface for progress log storage operations.
// Entries for a session are ordered by arrival and grow monotonically;
// Clear is the only way a session's list shrinks.
type Repository interface {
	// Append stores an entry at the end of a session's log list
	Append(ctx context.Context, sessionID string, entry *v1.ProgressLog) error

	// List returns all entries for a session in arrival order
	List(ctx context.Context, sessionID string) ([]*v1.ProgressLog, error)

	// Clear removes all entries for a session
	Clear(ctx context.Context, sessionID string) error

	// Sessions returns the identifiers of all sessions with stored entries
	Sessions(ctx context.Context) ([]string, error)

	// Close closes the repository (for database connections)
	Close() error
}
