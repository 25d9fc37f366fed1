// Package relay implements the progress-event relay: the upstream SSE
// pass-through, the session subscriber registry, and the broadcast service
// that ties them to the event bus.
package relay

import (
	"sync"

	"go.uber.org/zap"

	"github.com/finsight/finsight/internal/common/logger"
)

// subscriberBuffer is the per-subscriber channel capacity. A subscriber that
// falls this far behind starts dropping messages rather than blocking the
// publisher.
const subscriberBuffer = 64

// Subscriber receives broadcast messages for one session.
type Subscriber struct {
	sessionID string
	ch        chan []byte
	closeOnce sync.Once
}

// SessionID returns the session this subscriber is attached to.
func (s *Subscriber) SessionID() string {
	return s.sessionID
}

// C returns the channel on which broadcast messages are delivered. The
// channel is closed when the subscriber is removed from the registry.
func (s *Subscriber) C() <-chan []byte {
	return s.ch
}

func (s *Subscriber) close() {
	s.closeOnce.Do(func() { close(s.ch) })
}

// Registry tracks the live subscribers of each session. It is owned by a
// single relay service instance: subscribers are inserted on subscribe and
// removed on disconnect, so entries never outlive their connections.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]map[*Subscriber]struct{}
	logger   *logger.Logger
}

// NewRegistry creates an empty session registry
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]map[*Subscriber]struct{}),
		logger:   log,
	}
}

// Subscribe registers a new subscriber for a session.
func (r *Registry) Subscribe(sessionID string) *Subscriber {
	sub := &Subscriber{
		sessionID: sessionID,
		ch:        make(chan []byte, subscriberBuffer),
	}

	r.mu.Lock()
	subs, ok := r.sessions[sessionID]
	if !ok {
		subs = make(map[*Subscriber]struct{})
		r.sessions[sessionID] = subs
	}
	subs[sub] = struct{}{}
	count := len(subs)
	r.mu.Unlock()

	r.logger.Debug("subscriber registered",
		zap.String("session_id", sessionID),
		zap.Int("subscribers", count))
	return sub
}

// Unsubscribe removes a subscriber and closes its channel. Safe to call more
// than once. The channel is closed while holding the write lock so it can
// never race a send in Publish, which holds the read lock.
func (r *Registry) Unsubscribe(sub *Subscriber) {
	r.mu.Lock()
	if subs, ok := r.sessions[sub.sessionID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(r.sessions, sub.sessionID)
		}
	}
	sub.close()
	r.mu.Unlock()

	r.logger.Debug("subscriber removed", zap.String("session_id", sub.sessionID))
}

// Publish delivers a message to every subscriber of a session and returns
// the number of subscribers that received it. Slow subscribers are skipped.
// Sends happen under the read lock; channels are only closed under the write
// lock, so a send cannot hit a closed channel.
func (r *Registry) Publish(sessionID string, msg []byte) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for sub := range r.sessions[sessionID] {
		select {
		case sub.ch <- msg:
			delivered++
		default:
			r.logger.Warn("subscriber buffer full, dropping message",
				zap.String("session_id", sessionID))
		}
	}
	return delivered
}

// Count returns the number of live subscribers for a session.
func (r *Registry) Count(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[sessionID])
}

// Close removes every subscriber, closing their channels.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, subs := range r.sessions {
		for sub := range subs {
			sub.close()
		}
	}
	r.sessions = make(map[string]map[*Subscriber]struct{})
}
