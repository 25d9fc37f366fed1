package repository

import (
	"context"
	"sync"

	"github.com/google/uuid"

	v1 "github.com/finsight/finsight/pkg/api/v1"
)

// MemoryRepository provides in-memory progress log storage
type MemoryRepository struct {
	logs map[string][]*v1.ProgressLog
	mu   sync.RWMutex
}

// Ensure MemoryRepository implements Repository interface
var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates a new in-memory progress log repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		logs: make(map[string][]*v1.ProgressLog),
	}
}

// Close is a no-op for in-memory repository
func (r *MemoryRepository) Close() error {
	return nil
}

// Append stores an entry at the end of a session's log list
func (r *MemoryRepository) Append(ctx context.Context, sessionID string, entry *v1.ProgressLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	stored := *entry
	r.logs[sessionID] = append(r.logs[sessionID], &stored)
	return nil
}

// List returns all entries for a session in arrival order
func (r *MemoryRepository) List(ctx context.Context, sessionID string) ([]*v1.ProgressLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.logs[sessionID]
	result := make([]*v1.ProgressLog, len(entries))
	for i, e := range entries {
		copied := *e
		result[i] = &copied
	}
	return result, nil
}

// Clear removes all entries for a session
func (r *MemoryRepository) Clear(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.logs, sessionID)
	return nil
}

// Sessions returns the identifiers of all sessions with stored entries
func (r *MemoryRepository) Sessions(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]string, 0, len(r.logs))
	for sessionID := range r.logs {
		result = append(result, sessionID)
	}
	return result, nil
}
